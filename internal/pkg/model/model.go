package model

import (
	"time"
)

type Credentials struct {
	Username string `json:"-"`
	Password string `json:"-"`
}

// DeviceDescriptor is what the device directory knows about a device.
type DeviceDescriptor struct {
	ID          string       `json:"id"`
	DisplayName string       `json:"displayName"`
	Endpoint    string       `json:"endpoint"`
	Credentials *Credentials `json:"-"`
}

// DeviceRuntimeStatus is the liveness of a single device as derived from telemetry.
type DeviceRuntimeStatus struct {
	IsConnected       bool       `json:"isConnected"`
	LastSeenAt        *time.Time `json:"lastSeenAt"`
	AwaitingTelemetry bool       `json:"awaitingTelemetry"`
}

// SessionStatus describes the broker/relay link, independent of any device.
type SessionStatus struct {
	IsConnected     bool       `json:"isConnected"`
	IsConnecting    bool       `json:"isConnecting"`
	ConnectionError string     `json:"connectionError,omitempty"`
	LastConnectedAt *time.Time `json:"lastConnectedAt"`
}

// Reading is a decoded, possibly partial, telemetry message. Nil fields were
// absent from the payload.
type Reading struct {
	DeviceKey   string
	Temperature *float64
	Humidity    *float64
	Light       *float64
	RainState   *RainState
	ServoState  *ServoState
	Mode        *Mode
}

type TelemetrySnapshot struct {
	Temperature *float64   `json:"temperature"`
	Humidity    *float64   `json:"humidity"`
	Light       *float64   `json:"light"`
	RainState   RainState  `json:"rainState"`
	ServoState  ServoState `json:"servoState"`
	Mode        Mode       `json:"mode"`
}

func EmptySnapshot() TelemetrySnapshot {
	return TelemetrySnapshot{
		RainState:  RainUnknown,
		ServoState: ServoUnknown,
		Mode:       ModeUnknown,
	}
}

// Merge applies the fields present in r, leaving the others untouched.
func (ts TelemetrySnapshot) Merge(r Reading) TelemetrySnapshot {
	if r.Temperature != nil {
		ts.Temperature = floatPtr(*r.Temperature)
	}
	if r.Humidity != nil {
		ts.Humidity = floatPtr(*r.Humidity)
	}
	if r.Light != nil {
		ts.Light = floatPtr(*r.Light)
	}
	if r.RainState != nil {
		ts.RainState = *r.RainState
	}
	if r.ServoState != nil {
		ts.ServoState = *r.ServoState
	}
	if r.Mode != nil {
		ts.Mode = *r.Mode
	}
	return ts
}

// Empty reports whether no sensor field holds data.
func (ts TelemetrySnapshot) Empty() bool {
	return ts == EmptySnapshot()
}

func floatPtr(v float64) *float64 {
	return &v
}
