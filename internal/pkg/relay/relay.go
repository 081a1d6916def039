// Package relay implements session.Transport over a WebSocket relay that
// forwards broker topics as JSON frames.
package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/anicoll/smart-canopy/internal/pkg/session"
	"github.com/anicoll/smart-canopy/pkg/sockets"
)

const (
	FrameSubscribe = "subscribe"
	FramePublish   = "publish"
	FrameMessage   = "message"

	SessionHeader    = "X-Canopy-Session"
	pingInterval     = 25 * time.Second
	handshakeTimeout = 10 * time.Second
)

var ErrNotDialled = errors.New("relay not connected")

// Frame is the unit exchanged with the relay in both directions.
type Frame struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Retain  bool            `json:"retain,omitempty"`
}

type service struct {
	endpoint  session.Endpoint
	handlers  session.Handlers
	sessionID string
	conn      *sockets.Conn
	logger    *zap.Logger
}

func Dialer() session.Dialer {
	return func(ep session.Endpoint, h session.Handlers) (session.Transport, error) {
		return New(ep, h)
	}
}

func New(ep session.Endpoint, h session.Handlers) (*service, error) {
	u, err := url.Parse(ep.URL)
	if err != nil {
		return nil, fmt.Errorf("relay url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("relay url %q: unsupported scheme", ep.URL)
	}
	ep.URL = u.String()

	s := &service{
		endpoint:  ep,
		handlers:  h,
		sessionID: uuid.NewString(),
	}
	s.logger = zap.L().With(zap.String("component", "relay"), zap.String("session_id", s.sessionID))
	s.conn = sockets.New(
		sockets.WithPingInterval(pingInterval),
		sockets.WithHandshakeTimeout(handshakeTimeout),
		sockets.OnConnected(func(sockets.Connection) {
			s.logger.Info("connected to relay", zap.String("url", s.endpoint.URL))
		}),
		sockets.OnMessage(func(b []byte, _ sockets.Connection) { s.onFrame(b) }),
		sockets.OnClose(func(err error) {
			if h.OnConnectionLost != nil {
				h.OnConnectionLost(err)
			}
		}),
	)
	return s, nil
}

func (s *service) Connect(ctx context.Context) error {
	header := http.Header{}
	header.Set(SessionHeader, s.sessionID)
	if c := s.endpoint.Credentials; c != nil {
		token := base64.StdEncoding.EncodeToString([]byte(c.Username + ":" + c.Password))
		header.Set("Authorization", "Basic "+token)
	}
	if err := s.conn.Dial(ctx, s.endpoint.URL, header); err != nil {
		return fmt.Errorf("relay connect: %w", err)
	}
	return nil
}

func (s *service) onFrame(b []byte) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		s.logger.Debug("dropping undecodable frame", zap.Error(err))
		return
	}
	if f.Type != FrameMessage {
		return
	}
	if s.handlers.OnMessage != nil {
		s.handlers.OnMessage(f.Topic, f.Payload)
	}
}

func (s *service) send(f Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if err := s.conn.Send(b); err != nil {
		if errors.Is(err, sockets.ErrClosed) {
			return ErrNotDialled
		}
		return err
	}
	return nil
}

func (s *service) Subscribe(topic string) error {
	return s.send(Frame{Type: FrameSubscribe, Topic: topic})
}

func (s *service) Publish(topic string, payload []byte, opts session.PublishOptions) error {
	if !json.Valid(payload) {
		return fmt.Errorf("publish %s: payload is not json", topic)
	}
	return s.send(Frame{Type: FramePublish, Topic: topic, Payload: payload, Retain: opts.Retain})
}

func (s *service) Close() error {
	return s.conn.Close()
}
