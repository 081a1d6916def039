package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"github.com/anicoll/smart-canopy/internal/pkg/session"
)

const (
	DefaultClientName = "Smart Canopy web client"
	defaultTimeout    = 5 * time.Second
	disconnectQuiet   = 250
)

var ErrTimeout = errors.New("mqtt operation timed out")

type service struct {
	client   paho_mqtt.Client
	handlers session.Handlers
	timeout  time.Duration
	logger   *zap.Logger
}

// New wraps an already configured paho client. Messages for every topic
// subscribed through it are forwarded to h.OnMessage.
func New(client paho_mqtt.Client, h session.Handlers) *service {
	return &service{
		client:   client,
		handlers: h,
		timeout:  defaultTimeout,
		logger:   zap.L().With(zap.String("component", "mqtt")),
	}
}

// ClientID derives a broker client id from a human readable name. A random
// suffix keeps two dashboards from kicking each other off the broker.
func ClientID(name string) string {
	base := slug.Make(name)
	if base == "" {
		base = slug.Make(DefaultClientName)
	}
	return fmt.Sprintf("%s-%s", base, uuid.NewString()[:8])
}

// ClientOptions configures a paho client for a single session attempt.
// Reconnection is owned by the session controller, never by paho.
func ClientOptions(ep session.Endpoint, h session.Handlers, name string) (*paho_mqtt.ClientOptions, error) {
	u, err := url.Parse(ep.URL)
	if err != nil {
		return nil, fmt.Errorf("broker url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("broker url %q: missing scheme or host", ep.URL)
	}

	opts := paho_mqtt.NewClientOptions()
	opts.AddBroker(ep.URL)
	opts.SetClientID(ClientID(name))
	if ep.Credentials != nil {
		opts.SetUsername(ep.Credentials.Username)
		opts.SetPassword(ep.Credentials.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetConnectionLostHandler(func(_ paho_mqtt.Client, err error) {
		if h.OnConnectionLost != nil {
			h.OnConnectionLost(err)
		}
	})
	return opts, nil
}

// Dialer returns a session.Dialer producing paho-backed transports that
// identify themselves to the broker as name.
func Dialer(name string) session.Dialer {
	return func(ep session.Endpoint, h session.Handlers) (session.Transport, error) {
		opts, err := ClientOptions(ep, h, name)
		if err != nil {
			return nil, err
		}
		return New(paho_mqtt.NewClient(opts), h), nil
	}
}

func (s *service) Connect(ctx context.Context) error {
	token := s.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
		s.logger.Info("connected to broker")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *service) Subscribe(topic string) error {
	token := s.client.Subscribe(topic, 0, func(_ paho_mqtt.Client, msg paho_mqtt.Message) {
		if s.handlers.OnMessage != nil {
			s.handlers.OnMessage(msg.Topic(), msg.Payload())
		}
	})
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("subscribe %s: %w", topic, ErrTimeout)
	}
	return token.Error()
}

func (s *service) Publish(topic string, payload []byte, opts session.PublishOptions) error {
	token := s.client.Publish(topic, opts.QoS, opts.Retain, payload)
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("publish %s: %w", topic, ErrTimeout)
	}
	return token.Error()
}

func (s *service) Close() error {
	s.client.Disconnect(disconnectQuiet)
	return nil
}
