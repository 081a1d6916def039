package mqtt

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anicoll/smart-canopy/internal/pkg/model"
	"github.com/anicoll/smart-canopy/internal/pkg/session"
)

type mockMessage struct {
	paho_mqtt.Message
	topic   string
	payload []byte
}

func (m mockMessage) Topic() string   { return m.topic }
func (m mockMessage) Payload() []byte { return m.payload }

func TestConnect(t *testing.T) {
	tests := map[string]struct {
		token   *MockToken
		cancel  bool
		wantErr error
	}{
		"success":   {token: CompletedToken(nil)},
		"refused":   {token: CompletedToken(errors.New("not authorized")), wantErr: errors.New("mqtt connect: not authorized")},
		"cancelled": {token: PendingToken(), cancel: true, wantErr: context.Canceled},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			client := &MockClient{ConnectFunc: func() paho_mqtt.Token { return tc.token }}
			svc := New(client, session.Handlers{})

			ctx, cancel := context.WithCancel(context.Background())
			if tc.cancel {
				cancel()
			} else {
				defer cancel()
			}
			err := svc.Connect(ctx)
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			if errors.Is(tc.wantErr, context.Canceled) {
				assert.ErrorIs(t, err, context.Canceled)
				return
			}
			assert.EqualError(t, err, tc.wantErr.Error())
		})
	}
}

func TestSubscribeForwardsMessages(t *testing.T) {
	var got []string
	client := &MockClient{
		SubscribeFunc: func(topic string, qos byte, cb paho_mqtt.MessageHandler) paho_mqtt.Token {
			assert.Equal(t, "devices/d1/telemetry", topic)
			assert.Equal(t, byte(0), qos)
			cb(nil, mockMessage{topic: topic, payload: []byte(`{"temperature":1}`)})
			return CompletedToken(nil)
		},
	}
	svc := New(client, session.Handlers{
		OnMessage: func(topic string, payload []byte) {
			got = append(got, topic+" "+string(payload))
		},
	})

	require.NoError(t, svc.Subscribe("devices/d1/telemetry"))
	assert.Equal(t, []string{`devices/d1/telemetry {"temperature":1}`}, got)
}

func TestPublish(t *testing.T) {
	var retained bool
	var body []byte
	client := &MockClient{
		PublishFunc: func(topic string, qos byte, r bool, payload interface{}) paho_mqtt.Token {
			retained = r
			body = payload.([]byte)
			return CompletedToken(nil)
		},
	}
	svc := New(client, session.Handlers{})

	require.NoError(t, svc.Publish("devices/d1/command/mode", []byte(`{"mode":"AUTO"}`), session.PublishOptions{Retain: true}))
	assert.True(t, retained)
	assert.Equal(t, `{"mode":"AUTO"}`, string(body))
}

func TestPublishTimeout(t *testing.T) {
	client := &MockClient{
		PublishFunc: func(string, byte, bool, interface{}) paho_mqtt.Token { return PendingToken() },
	}
	svc := New(client, session.Handlers{})
	svc.timeout = 10 * time.Millisecond

	err := svc.Publish("t", nil, session.PublishOptions{})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestClose(t *testing.T) {
	var quiesce uint
	client := &MockClient{DisconnectFunc: func(q uint) { quiesce = q }}
	svc := New(client, session.Handlers{})

	assert.NoError(t, svc.Close())
	assert.Equal(t, uint(250), quiesce)
}

func TestClientOptions(t *testing.T) {
	lost := make(chan error, 1)
	opts, err := ClientOptions(session.Endpoint{
		URL:         "tcp://broker.local:1883",
		Credentials: &model.Credentials{Username: "canopy", Password: "secret"},
	}, session.Handlers{OnConnectionLost: func(err error) { lost <- err }}, DefaultClientName)
	require.NoError(t, err)

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "broker.local:1883", opts.Servers[0].Host)
	assert.Equal(t, "canopy", opts.Username)
	assert.Equal(t, "secret", opts.Password)
	assert.False(t, opts.AutoReconnect)
	assert.True(t, opts.CleanSession)
	assert.Contains(t, opts.ClientID, "smart-canopy-web-client-")

	opts.OnConnectionLost(nil, errors.New("EOF"))
	assert.EqualError(t, <-lost, "EOF")
}

func TestClientOptionsRejectsBadURL(t *testing.T) {
	for _, u := range []string{"", "broker.local", "://x"} {
		_, err := ClientOptions(session.Endpoint{URL: u}, session.Handlers{}, DefaultClientName)
		assert.Error(t, err, u)
	}
}

func TestClientID(t *testing.T) {
	tests := map[string]struct {
		name       string
		wantPrefix string
	}{
		"default":     {name: DefaultClientName, wantPrefix: "smart-canopy-web-client-"},
		"custom":      {name: "Greenhouse North", wantPrefix: "greenhouse-north-"},
		"punctuation": {name: "  Patio / Deck #2 ", wantPrefix: "patio-deck-2-"},
		"empty":       {name: "", wantPrefix: "smart-canopy-web-client-"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			id := ClientID(tc.name)
			assert.True(t, strings.HasPrefix(id, tc.wantPrefix), id)
			assert.Len(t, id, len(tc.wantPrefix)+8)
		})
	}
	assert.NotEqual(t, ClientID("a"), ClientID("a"))
}
