package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/anicoll/smart-canopy/internal/pkg/model"
	"github.com/anicoll/smart-canopy/internal/pkg/session"
)

type fakeRelay struct {
	frames chan Frame
	auth   chan string
	header chan string
	conns  chan *websocket.Conn
}

func newFakeRelay(t *testing.T) (*fakeRelay, string) {
	t.Helper()
	r := &fakeRelay{
		frames: make(chan Frame, 8),
		auth:   make(chan string, 1),
		header: make(chan string, 1),
		conns:  make(chan *websocket.Conn, 1),
	}
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.auth <- req.Header.Get("Authorization")
		r.header <- req.Header.Get(SessionHeader)
		ws, err := up.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		r.conns <- ws
		for {
			var f Frame
			if err := ws.ReadJSON(&f); err != nil {
				return
			}
			r.frames <- f
		}
	}))
	t.Cleanup(srv.Close)
	return r, srv.URL
}

func (r *fakeRelay) frame(t *testing.T) Frame {
	t.Helper()
	select {
	case f := <-r.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}
	return Frame{}
}

func TestRelayRoundTrip(t *testing.T) {
	relay, url := newFakeRelay(t)
	msgs := make(chan string, 4)
	lost := make(chan error, 1)

	tr, err := New(session.Endpoint{
		URL:         url,
		Credentials: &model.Credentials{Username: "u", Password: "p"},
	}, session.Handlers{
		OnMessage:        func(topic string, payload []byte) { msgs <- topic + " " + string(payload) },
		OnConnectionLost: func(err error) { lost <- err },
	})
	require.NoError(t, err)
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close()

	assert.Equal(t, "Basic dTpw", <-relay.auth)
	assert.NotEmpty(t, <-relay.header)
	ws := <-relay.conns

	require.NoError(t, tr.Subscribe("devices/d1/telemetry"))
	f := relay.frame(t)
	assert.Equal(t, FrameSubscribe, f.Type)
	assert.Equal(t, "devices/d1/telemetry", f.Topic)

	require.NoError(t, tr.Publish("devices/d1/command/mode", []byte(`{"deviceKey":"d1","mode":"AUTO"}`), session.PublishOptions{Retain: true}))
	f = relay.frame(t)
	assert.Equal(t, FramePublish, f.Type)
	assert.True(t, f.Retain)
	assert.JSONEq(t, `{"deviceKey":"d1","mode":"AUTO"}`, string(f.Payload))

	require.NoError(t, ws.WriteJSON(map[string]any{"type": "pong"}))
	require.NoError(t, ws.WriteJSON(Frame{Type: FrameMessage, Topic: "devices/d1/telemetry", Payload: json.RawMessage(`{"temperature":21}`)}))
	assert.Equal(t, `devices/d1/telemetry {"temperature":21}`, <-msgs)

	require.NoError(t, ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	select {
	case err := <-lost:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("connection lost not reported")
	}
	assert.ErrorIs(t, tr.Subscribe("x"), ErrNotDialled)
}

func TestRelayLogsConnected(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	_, url := newFakeRelay(t)
	tr, err := New(session.Endpoint{URL: url}, session.Handlers{})
	require.NoError(t, err)
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close()

	entries := logs.FilterMessage("connected to relay").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "ws"+url[len("http"):], entries[0].ContextMap()["url"])
	assert.Equal(t, "relay", entries[0].ContextMap()["component"])
}

func TestRelayRejectsNonJSONPublish(t *testing.T) {
	tr, err := New(session.Endpoint{URL: "ws://relay.local/ws"}, session.Handlers{})
	require.NoError(t, err)
	assert.Error(t, tr.Publish("t", []byte("not json"), session.PublishOptions{}))
}

func TestNewURL(t *testing.T) {
	tests := map[string]struct {
		in      string
		want    string
		wantErr bool
	}{
		"ws":    {in: "ws://relay/ws", want: "ws://relay/ws"},
		"http":  {in: "http://relay/ws", want: "ws://relay/ws"},
		"https": {in: "https://relay/ws", want: "wss://relay/ws"},
		"tcp":   {in: "tcp://relay:1883", wantErr: true},
		"bad":   {in: "://", wantErr: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			tr, err := New(session.Endpoint{URL: tc.in}, session.Handlers{})
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, tr.endpoint.URL)
		})
	}
}

func TestConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	tr, err := New(session.Endpoint{URL: srv.URL}, session.Handlers{})
	require.NoError(t, err)
	assert.ErrorContains(t, tr.Connect(context.Background()), "relay connect")
}
