package session

import (
	"context"

	"github.com/anicoll/smart-canopy/internal/pkg/model"
)

// Endpoint identifies the broker or relay a session talks to.
type Endpoint struct {
	URL         string
	Credentials *model.Credentials
}

type PublishOptions struct {
	QoS    byte
	Retain bool
}

// Handlers are installed by the session on every transport it dials.
type Handlers struct {
	OnMessage        func(topic string, payload []byte)
	OnConnectionLost func(err error)
}

// Transport is the capability set every broker/relay client provides.
type Transport interface {
	// Connect blocks until the link is up, fails, or ctx is done.
	Connect(ctx context.Context) error
	Subscribe(topic string) error
	Publish(topic string, payload []byte, opts PublishOptions) error
	Close() error
}

// Dialer builds an unconnected transport handle.
type Dialer func(ep Endpoint, h Handlers) (Transport, error)
