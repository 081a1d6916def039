package topics

import (
	"errors"
	"strings"
)

const DefaultPrefix = "devices"

var ErrInvalidDeviceID = errors.New("invalid device id")

type Topics struct {
	Telemetry    string
	CommandMode  string
	CommandServo string
}

// Scheme maps device ids to the channels used by publishers and subscribers.
type Scheme struct {
	Prefix string
}

func (s Scheme) prefix() string {
	if s.Prefix == "" {
		return DefaultPrefix
	}
	return strings.TrimSuffix(s.Prefix, "/")
}

func (s Scheme) For(deviceID string) Topics {
	base := s.prefix() + "/" + deviceID
	return Topics{
		Telemetry:    base + "/telemetry",
		CommandMode:  base + "/command/mode",
		CommandServo: base + "/command/servo",
	}
}

// DeviceFromTelemetry recovers the device id from a telemetry topic.
func (s Scheme) DeviceFromTelemetry(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, s.prefix()+"/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/telemetry")
	if !ok || Validate(id) != nil {
		return "", false
	}
	return id, true
}

// Validate rejects ids that would collide with another device's topics.
func Validate(deviceID string) error {
	if deviceID == "" {
		return ErrInvalidDeviceID
	}
	if strings.ContainsAny(deviceID, "/+#") {
		return ErrInvalidDeviceID
	}
	return nil
}
