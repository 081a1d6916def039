// Package liveness derives device liveness from session lifecycle events and
// telemetry arrival times. It owns no timers; the caller drives Check from
// its watchdog tick.
package liveness

import (
	"sync"
	"time"
)

type Phase int

const (
	// Inactive: no open transport.
	Inactive Phase = iota
	// Awaiting: transport open, no message seen since connect.
	Awaiting
	Live
	// Stale: messages stopped arriving for longer than the window, or never
	// arrived within it after connect.
	Stale
)

func (p Phase) String() string {
	switch p {
	case Inactive:
		return "inactive"
	case Awaiting:
		return "awaiting"
	case Live:
		return "live"
	case Stale:
		return "stale"
	}
	return "unknown"
}

type Verdict int

const (
	Fresh Verdict = iota
	// WentStale is reported once per live period.
	WentStale
	// Silent is reported once when nothing arrived within the window after connect.
	Silent
)

// Status is the device-facing view of the tracker. LastMessageAt survives
// staleness and reconnects until Reset.
type Status struct {
	DeviceLive    bool
	Awaiting      bool
	LastMessageAt *time.Time
}

type Tracker struct {
	mu          sync.Mutex
	window      time.Duration
	phase       Phase
	connectedAt time.Time
	lastMessage *time.Time
}

func New(window time.Duration) *Tracker {
	return &Tracker{window: window}
}

func (t *Tracker) Window() time.Duration {
	return t.window
}

// Connecting marks a new attempt. Device state from earlier attempts is kept
// until the transport reports its outcome.
func (t *Tracker) Connecting() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase = Inactive
}

func (t *Tracker) Connected(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase = Awaiting
	t.connectedAt = now
}

// Observe records an accepted message and reports whether the device became
// live as a result.
func (t *Tracker) Observe(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.phase == Inactive {
		return false
	}
	ts := now
	t.lastMessage = &ts
	wasLive := t.phase == Live
	t.phase = Live
	return !wasLive
}

func (t *Tracker) Check(now time.Time) Verdict {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.phase {
	case Live:
		if now.Sub(*t.lastMessage) > t.window {
			t.phase = Stale
			return WentStale
		}
	case Awaiting:
		if now.Sub(t.connectedAt) > t.window {
			t.phase = Stale
			return Silent
		}
	}
	return Fresh
}

// Reset forgets the device, including when it was last seen.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase = Inactive
	t.lastMessage = nil
	t.connectedAt = time.Time{}
}

func (t *Tracker) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := Status{
		DeviceLive: t.phase == Live,
		Awaiting:   t.phase == Awaiting,
	}
	if t.lastMessage != nil {
		ts := *t.lastMessage
		st.LastMessageAt = &ts
	}
	return st
}
