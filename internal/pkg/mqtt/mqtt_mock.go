package mqtt

import (
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MockClient overrides the paho calls the transport makes; anything else
// panics through the nil embedded interface.
type MockClient struct {
	paho_mqtt.Client

	ConnectFunc    func() paho_mqtt.Token
	SubscribeFunc  func(topic string, qos byte, callback paho_mqtt.MessageHandler) paho_mqtt.Token
	PublishFunc    func(topic string, qos byte, retained bool, payload interface{}) paho_mqtt.Token
	DisconnectFunc func(quiesce uint)
}

func (m *MockClient) Connect() paho_mqtt.Token {
	return m.ConnectFunc()
}

func (m *MockClient) Subscribe(topic string, qos byte, callback paho_mqtt.MessageHandler) paho_mqtt.Token {
	return m.SubscribeFunc(topic, qos, callback)
}

func (m *MockClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho_mqtt.Token {
	return m.PublishFunc(topic, qos, retained, payload)
}

func (m *MockClient) Disconnect(quiesce uint) {
	if m.DisconnectFunc != nil {
		m.DisconnectFunc(quiesce)
	}
}

// MockToken completes when done is closed.
type MockToken struct {
	done chan struct{}
	err  error
}

func CompletedToken(err error) *MockToken {
	t := &MockToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func PendingToken() *MockToken {
	return &MockToken{done: make(chan struct{})}
}

func (t *MockToken) Complete(err error) {
	t.err = err
	close(t.done)
}

func (t *MockToken) Wait() bool {
	<-t.done
	return true
}

func (t *MockToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *MockToken) Done() <-chan struct{} {
	return t.done
}

func (t *MockToken) Error() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}
