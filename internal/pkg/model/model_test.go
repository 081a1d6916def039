package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotMerge(t *testing.T) {
	temp := 20.0
	hum := 50.0
	rain := RainDry

	snap := EmptySnapshot()
	assert.True(t, snap.Empty())

	snap = snap.Merge(Reading{Temperature: &temp})
	snap = snap.Merge(Reading{Humidity: &hum})

	assert.Equal(t, 20.0, *snap.Temperature)
	assert.Equal(t, 50.0, *snap.Humidity)
	assert.Nil(t, snap.Light)
	assert.Equal(t, RainUnknown, snap.RainState)
	assert.Equal(t, ServoUnknown, snap.ServoState)
	assert.Equal(t, ModeUnknown, snap.Mode)

	snap = snap.Merge(Reading{RainState: &rain})
	assert.Equal(t, RainDry, snap.RainState)
	assert.Equal(t, 20.0, *snap.Temperature)

	// merged values must not alias the reading
	temp = 99
	assert.Equal(t, 20.0, *snap.Temperature)
	assert.False(t, snap.Empty())
}

func TestParseEnums(t *testing.T) {
	tests := map[string]struct {
		in    string
		rain  RainState
		servo ServoState
		mode  Mode
	}{
		"exact":      {in: "RAIN", rain: RainRain, servo: ServoUnknown, mode: ModeUnknown},
		"lowercase":  {in: "dry", rain: RainUnknown, servo: ServoUnknown, mode: ModeUnknown},
		"servo":      {in: "CLOSED", rain: RainUnknown, servo: ServoClosed, mode: ModeUnknown},
		"mode":       {in: "MANUAL", rain: RainUnknown, servo: ServoUnknown, mode: ModeManual},
		"empty":      {in: "", rain: RainUnknown, servo: ServoUnknown, mode: ModeUnknown},
		"unknown id": {in: "UNKNOWN", rain: RainUnknown, servo: ServoUnknown, mode: ModeUnknown},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.rain, ParseRainState(tc.in))
			assert.Equal(t, tc.servo, ParseServoState(tc.in))
			assert.Equal(t, tc.mode, ParseMode(tc.in))
		})
	}
}

func TestServoCommandState(t *testing.T) {
	assert.Equal(t, ServoOpen, ServoCommandOpen.State())
	assert.Equal(t, ServoClosed, ServoCommandClose.State())
	assert.Equal(t, ServoUnknown, ServoCommand("CLOSED").State())
	assert.False(t, ServoCommand("CLOSED").Valid())
	assert.False(t, ModeUnknown.Valid())
}

func TestStateClone(t *testing.T) {
	now := time.Now()
	temp := 21.5
	s := NewState()
	s.SelectedDeviceID = "d1"
	s.Devices = []DeviceDescriptor{{ID: "d1", Credentials: &Credentials{Username: "u"}}}
	s.Statuses["d1"] = DeviceRuntimeStatus{IsConnected: true, LastSeenAt: &now}
	s.Session.LastConnectedAt = &now
	s.Telemetry.Temperature = &temp

	c := s.Clone()
	c.Devices[0].Credentials.Username = "x"
	c.Statuses["d2"] = DeviceRuntimeStatus{}
	*c.Statuses["d1"].LastSeenAt = now.Add(time.Hour)
	*c.Telemetry.Temperature = 0

	assert.Equal(t, "u", s.Devices[0].Credentials.Username)
	assert.Len(t, s.Statuses, 1)
	assert.Equal(t, now, *s.Statuses["d1"].LastSeenAt)
	assert.Equal(t, 21.5, *s.Telemetry.Temperature)

	d, ok := s.Device("d1")
	assert.True(t, ok)
	assert.Equal(t, "d1", d.ID)
}
