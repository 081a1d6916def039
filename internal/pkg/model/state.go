package model

import (
	"maps"
	"slices"
	"time"
)

// State is the single record handed to the rendering layer.
type State struct {
	SelectedDeviceID string                         `json:"selectedDeviceId"`
	Devices          []DeviceDescriptor             `json:"devices"`
	Statuses         map[string]DeviceRuntimeStatus `json:"statuses"`
	Session          SessionStatus                  `json:"session"`
	Telemetry        TelemetrySnapshot              `json:"telemetry"`
}

func NewState() State {
	return State{
		Devices:   []DeviceDescriptor{},
		Statuses:  map[string]DeviceRuntimeStatus{},
		Telemetry: EmptySnapshot(),
	}
}

// Clone returns a deep copy that shares no memory with s.
func (s State) Clone() State {
	out := s
	out.Devices = slices.Clone(s.Devices)
	if out.Devices == nil {
		out.Devices = []DeviceDescriptor{}
	}
	for i, d := range out.Devices {
		if d.Credentials != nil {
			c := *d.Credentials
			out.Devices[i].Credentials = &c
		}
	}
	out.Statuses = maps.Clone(s.Statuses)
	if out.Statuses == nil {
		out.Statuses = map[string]DeviceRuntimeStatus{}
	}
	for id, st := range out.Statuses {
		st.LastSeenAt = timePtr(st.LastSeenAt)
		out.Statuses[id] = st
	}
	out.Session.LastConnectedAt = timePtr(s.Session.LastConnectedAt)
	out.Telemetry.Temperature = clonePtr(s.Telemetry.Temperature)
	out.Telemetry.Humidity = clonePtr(s.Telemetry.Humidity)
	out.Telemetry.Light = clonePtr(s.Telemetry.Light)
	return out
}

// Device looks up a descriptor by id.
func (s State) Device(id string) (DeviceDescriptor, bool) {
	for _, d := range s.Devices {
		if d.ID == id {
			return d, true
		}
	}
	return DeviceDescriptor{}, false
}

func timePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func clonePtr(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
