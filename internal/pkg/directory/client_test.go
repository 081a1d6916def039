package directory

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anicoll/smart-canopy/internal/pkg/model"
)

func TestFetchDevices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/devices", r.URL.Path)
		_, _ = w.Write([]byte(`[
			{"id":"rec-1","deviceKey":"canopy-1","deviceName":"Patio","createdAt":"2024-01-01T00:00:00Z"},
			{"id":"rec-2","deviceKey":"","deviceName":""},
			{"id":"","deviceKey":""},
			{"id":"rec-4","deviceKey":"bad/key","deviceName":"Broken"}
		]`))
	}))
	defer srv.Close()

	creds := &model.Credentials{Username: "u", Password: "p"}
	c := NewClient(srv.URL+"/", WithBroker("tcp://broker:1883", creds))
	devices, err := c.FetchDevices(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []model.DeviceDescriptor{
		{ID: "canopy-1", DisplayName: "Patio", Endpoint: "tcp://broker:1883", Credentials: creds},
		{ID: "rec-2", DisplayName: "unknown", Endpoint: "tcp://broker:1883", Credentials: creds},
	}, devices)
}

func TestFetchDevicesStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "directory down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).FetchDevices(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "status 502")
	assert.ErrorContains(t, err, "directory down")
}

func TestFetchTelemetry(t *testing.T) {
	tests := map[string]struct {
		kind        string
		minutes     int
		body        string
		wantMinutes string
		want        []Point
		wantErr     error
	}{
		"temperature": {
			kind:        "temperature",
			minutes:     15,
			body:        `[{"time":"2024-05-01T10:00:00Z","value":21.5}]`,
			wantMinutes: "15",
			want:        []Point{{Time: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), Value: 21.5}},
		},
		"default window": {
			kind:        "humidity",
			body:        `null`,
			wantMinutes: "1000",
			want:        []Point{},
		},
		"unknown kind": {
			kind:    "pressure",
			wantErr: ErrUnknownKind,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/telemetries/"+tc.kind, r.URL.Path)
				assert.Equal(t, "canopy-1", r.URL.Query().Get("deviceKey"))
				assert.Equal(t, tc.wantMinutes, r.URL.Query().Get("minutes"))
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			points, err := NewClient(srv.URL).FetchTelemetry(context.Background(), tc.kind, "canopy-1", tc.minutes)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, points)
		})
	}
}

type mockSource struct {
	FetchDevicesFunc func(ctx context.Context) ([]model.DeviceDescriptor, error)
}

func (m *mockSource) FetchDevices(ctx context.Context) ([]model.DeviceDescriptor, error) {
	return m.FetchDevicesFunc(ctx)
}

type mockSink struct {
	mu      sync.Mutex
	updates [][]model.DeviceDescriptor
}

func (m *mockSink) UpdateDevices(devices []model.DeviceDescriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, devices)
}

func (m *mockSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.updates)
}

func TestRefresh(t *testing.T) {
	sink := &mockSink{}
	r := NewRefresher(&mockSource{FetchDevicesFunc: func(context.Context) ([]model.DeviceDescriptor, error) {
		return []model.DeviceDescriptor{{ID: "canopy-1"}}, nil
	}}, sink)

	require.NoError(t, r.Refresh(context.Background()))
	assert.Equal(t, 1, sink.count())
}

func TestRefreshFailureLeavesDevices(t *testing.T) {
	sink := &mockSink{}
	boom := errors.New("boom")
	r := NewRefresher(&mockSource{FetchDevicesFunc: func(context.Context) ([]model.DeviceDescriptor, error) {
		return nil, boom
	}}, sink)

	assert.ErrorIs(t, r.Refresh(context.Background()), boom)
	assert.Zero(t, sink.count())
}

func TestRunRefreshesOnStartAndStops(t *testing.T) {
	sink := &mockSink{}
	r := NewRefresher(&mockSource{FetchDevicesFunc: func(context.Context) ([]model.DeviceDescriptor, error) {
		return nil, nil
	}}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, "@every 1h") }()

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunBadSchedule(t *testing.T) {
	r := NewRefresher(&mockSource{}, &mockSink{})
	err := r.Run(context.Background(), "not a schedule")
	assert.ErrorContains(t, err, "device refresh schedule")
}
