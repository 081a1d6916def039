// Package sessiontest provides an in-memory transport for exercising code
// built on session.Session.
package sessiontest

import (
	"context"
	"errors"
	"sync"

	"github.com/anicoll/smart-canopy/internal/pkg/session"
)

type Published struct {
	Topic   string
	Payload []byte
	Opts    session.PublishOptions
}

// Transport is a controllable session.Transport. Connect succeeds immediately
// unless Hold is set, in which case it waits for Release or the context.
type Transport struct {
	Endpoint session.Endpoint

	mu         sync.Mutex
	handlers   session.Handlers
	hold       bool
	result     chan error
	connected  bool
	closed     int
	subscribed []string
	published  []Published

	SubscribeFunc func(topic string) error
	PublishFunc   func(topic string, payload []byte, opts session.PublishOptions) error
}

func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	hold := t.hold
	result := t.result
	t.mu.Unlock()

	if hold {
		select {
		case err := <-result:
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	return nil
}

func (t *Transport) Subscribe(topic string) error {
	if t.SubscribeFunc != nil {
		if err := t.SubscribeFunc(topic); err != nil {
			return err
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribed = append(t.subscribed, topic)
	return nil
}

func (t *Transport) Publish(topic string, payload []byte, opts session.PublishOptions) error {
	if t.PublishFunc != nil {
		if err := t.PublishFunc(topic, payload, opts); err != nil {
			return err
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.published = append(t.published, Published{Topic: topic, Payload: payload, Opts: opts})
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed++
	t.connected = false
	return nil
}

// Release completes a held Connect with err.
func (t *Transport) Release(err error) {
	t.result <- err
}

// Deliver simulates an inbound message from the broker.
func (t *Transport) Deliver(topic string, payload []byte) {
	t.mu.Lock()
	h := t.handlers
	t.mu.Unlock()
	h.OnMessage(topic, payload)
}

// Drop simulates the broker link going away. A nil err is a clean close.
func (t *Transport) Drop(err error) {
	t.mu.Lock()
	h := t.handlers
	t.mu.Unlock()
	h.OnConnectionLost(err)
}

func (t *Transport) Closed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) Subscribed() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.subscribed...)
}

func (t *Transport) Published() []Published {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Published(nil), t.published...)
}

// Dialer records every transport it hands out.
type Dialer struct {
	// Hold makes new transports block in Connect until released.
	Hold bool
	// Err, when set, is returned instead of a transport.
	Err error

	mu         sync.Mutex
	transports []*Transport
}

var ErrDial = errors.New("dial failed")

func (d *Dialer) Dial(ep session.Endpoint, h session.Handlers) (session.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	t := &Transport{
		Endpoint: ep,
		handlers: h,
		hold:     d.Hold,
		result:   make(chan error, 1),
	}
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *Dialer) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transports)
}

// Last returns the most recent transport, or nil.
func (d *Dialer) Last() *Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

func (d *Dialer) Transport(i int) *Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transports[i]
}
