package session

import "time"

type EventKind int

const (
	EventConnecting EventKind = iota
	EventConnected
	EventMessage
	EventError
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventConnecting:
		return "connecting"
	case EventConnected:
		return "connected"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	}
	return "unknown"
}

type Event struct {
	Kind       EventKind
	Generation uint64
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
	Err        error
	Reason     string
}

func (e Event) terminal() bool {
	return e.Kind == EventError || e.Kind == EventClosed
}
