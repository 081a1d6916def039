package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/anicoll/smart-canopy/internal/pkg/clock"
)

const DefaultConnectTimeout = 5 * time.Second

var (
	ErrConnectTimeout = errors.New("connection timeout")
	ErrNotConnected   = errors.New("session not connected")
)

type State int

const (
	Idle State = iota
	Opening
	Open
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Opening:
		return "opening"
	case Open:
		return "open"
	}
	return "unknown"
}

// Session owns at most one transport handle at a time. Each Open starts a new
// generation; every event carries the generation it belongs to. Events are
// delivered to the sink from a per-generation goroutine, never from inside a
// Session method.
type Session struct {
	mu             sync.Mutex
	dial           Dialer
	sink           func(Event)
	clock          clock.Clock
	connectTimeout time.Duration
	logger         *zap.Logger
	gen            uint64
	cur            *attempt
}

type attempt struct {
	gen       uint64
	ctx       context.Context
	cancel    context.CancelFunc
	transport Transport
	dialErr   error
	open      bool
	pending   []string
	timer     clock.Timer

	qmu   sync.Mutex
	queue []Event
	done  bool
	wake  chan struct{}
}

func WithClock(c clock.Clock) func(*Session) {
	return func(s *Session) {
		s.clock = c
	}
}

func WithConnectTimeout(d time.Duration) func(*Session) {
	return func(s *Session) {
		if d > 0 {
			s.connectTimeout = d
		}
	}
}

func WithLogger(l *zap.Logger) func(*Session) {
	return func(s *Session) {
		s.logger = l
	}
}

func New(dial Dialer, sink func(Event), opts ...func(*Session)) *Session {
	s := &Session{
		dial:           dial,
		sink:           sink,
		clock:          clock.Real(),
		connectTimeout: DefaultConnectTimeout,
		logger:         zap.L(),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With(zap.String("component", "session"))
	return s
}

// Open starts connecting to ep. It returns the generation of the attempt and
// whether a new attempt was started; an attempt already opening or open is
// left alone.
func (s *Session) Open(ep Endpoint) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur != nil {
		return s.cur.gen, false
	}

	s.gen++
	a := &attempt{
		gen:  s.gen,
		wake: make(chan struct{}, 1),
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.transport, a.dialErr = s.dial(ep, Handlers{
		OnMessage: func(topic string, payload []byte) {
			s.message(a, topic, payload)
		},
		OnConnectionLost: func(err error) {
			s.lost(a, err)
		},
	})
	if a.dialErr == nil {
		a.timer = s.clock.AfterFunc(s.connectTimeout, func() {
			s.fail(a, ErrConnectTimeout)
		})
	}
	a.push(Event{Kind: EventConnecting, Generation: a.gen})
	s.cur = a

	s.logger.Info("opening session", zap.Uint64("generation", a.gen), zap.String("endpoint", ep.URL))
	go s.pump(a)
	go s.connect(a)
	return a.gen, true
}

func (s *Session) connect(a *attempt) {
	err := a.dialErr
	if err == nil {
		err = a.transport.Connect(a.ctx)
	}

	s.mu.Lock()
	if s.cur != a {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.detachLocked(a)
		a.finish(Event{Kind: EventError, Generation: a.gen, Err: err})
		s.mu.Unlock()
		s.closeTransport(a)
		return
	}
	a.timer.Stop()
	a.open = true
	pending := a.pending
	a.pending = nil
	a.push(Event{Kind: EventConnected, Generation: a.gen})
	s.mu.Unlock()

	for _, topic := range pending {
		if err := a.transport.Subscribe(topic); err != nil {
			s.fail(a, fmt.Errorf("subscribe %s: %w", topic, err))
			return
		}
	}
}

func (s *Session) message(a *attempt, topic string, payload []byte) {
	body := make([]byte, len(payload))
	copy(body, payload)
	a.push(Event{
		Kind:       EventMessage,
		Generation: a.gen,
		Topic:      topic,
		Payload:    body,
		ReceivedAt: s.clock.Now(),
	})
}

func (s *Session) fail(a *attempt, err error) {
	s.mu.Lock()
	if s.cur != a {
		s.mu.Unlock()
		return
	}
	s.detachLocked(a)
	a.finish(Event{Kind: EventError, Generation: a.gen, Err: err})
	s.mu.Unlock()

	s.logger.Warn("session failed", zap.Uint64("generation", a.gen), zap.Error(err))
	s.closeTransport(a)
}

func (s *Session) lost(a *attempt, err error) {
	s.mu.Lock()
	if s.cur != a {
		s.mu.Unlock()
		return
	}
	s.detachLocked(a)
	if err != nil {
		a.finish(Event{Kind: EventError, Generation: a.gen, Err: err})
	} else {
		a.finish(Event{Kind: EventClosed, Generation: a.gen, Reason: "closed by remote"})
	}
	s.mu.Unlock()

	s.logger.Warn("connection lost", zap.Uint64("generation", a.gen), zap.Error(err))
	s.closeTransport(a)
}

// Subscribe is buffered while the attempt is still opening.
func (s *Session) Subscribe(topic string) error {
	s.mu.Lock()
	a := s.cur
	if a == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if !a.open {
		a.pending = append(a.pending, topic)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return a.transport.Subscribe(topic)
}

// Publish sends on the open attempt of generation gen. It fails with
// ErrNotConnected once gen has been closed or superseded.
func (s *Session) Publish(gen uint64, topic string, payload []byte, opts PublishOptions) error {
	s.mu.Lock()
	a := s.cur
	if a == nil || !a.open || a.gen != gen {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.mu.Unlock()
	return a.transport.Publish(topic, payload, opts)
}

// Close tears down the current attempt, if any. No event is emitted for a
// caller-initiated close and queued events of the attempt are discarded.
func (s *Session) Close() error {
	s.mu.Lock()
	a := s.cur
	if a == nil {
		s.mu.Unlock()
		return nil
	}
	s.detachLocked(a)
	a.discard()
	s.mu.Unlock()

	s.logger.Info("closing session", zap.Uint64("generation", a.gen))
	return s.closeTransport(a)
}

func (s *Session) State() (uint64, State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.cur == nil:
		return s.gen, Idle
	case s.cur.open:
		return s.cur.gen, Open
	default:
		return s.cur.gen, Opening
	}
}

func (s *Session) detachLocked(a *attempt) {
	s.cur = nil
	a.cancel()
	if a.timer != nil {
		a.timer.Stop()
	}
}

func (s *Session) closeTransport(a *attempt) error {
	if a.transport == nil {
		return nil
	}
	if err := a.transport.Close(); err != nil {
		s.logger.Debug("closing transport", zap.Uint64("generation", a.gen), zap.Error(err))
		return err
	}
	return nil
}

func (s *Session) pump(a *attempt) {
	for {
		ev, ok := a.pop()
		if !ok {
			return
		}
		if s.sink != nil {
			s.sink(ev)
		}
		if ev.terminal() {
			return
		}
	}
}

func (a *attempt) push(ev Event) bool {
	a.qmu.Lock()
	defer a.qmu.Unlock()
	if a.done {
		return false
	}
	a.queue = append(a.queue, ev)
	a.signal()
	return true
}

// finish queues the terminal event and refuses anything after it.
func (a *attempt) finish(ev Event) {
	a.qmu.Lock()
	defer a.qmu.Unlock()
	if a.done {
		return
	}
	a.queue = append(a.queue, ev)
	a.done = true
	a.signal()
}

func (a *attempt) discard() {
	a.qmu.Lock()
	defer a.qmu.Unlock()
	a.queue = nil
	a.done = true
	a.signal()
}

func (a *attempt) signal() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *attempt) pop() (Event, bool) {
	for {
		a.qmu.Lock()
		if len(a.queue) > 0 {
			ev := a.queue[0]
			a.queue = a.queue[1:]
			a.qmu.Unlock()
			return ev, true
		}
		if a.done {
			a.qmu.Unlock()
			return Event{}, false
		}
		a.qmu.Unlock()
		<-a.wake
	}
}
