package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/anicoll/smart-canopy/internal/pkg/model"
)

var ErrMalformed = errors.New("malformed telemetry payload")

const (
	fieldDeviceKey   = "deviceKey"
	fieldSensorData  = "sensorData"
	fieldTemperature = "temperature"
	fieldHumidity    = "humidity"
	fieldLight       = "light"
	fieldRain        = "rainStatus"
	fieldServo       = "servoStatus"
	fieldMode        = "mode"
)

// Decode parses a telemetry payload, either the bare sensor object or the
// relay envelope {deviceKey, sensorData}. Every field is optional.
func Decode(payload []byte) (model.Reading, error) {
	obj, err := object(payload)
	if err != nil {
		return model.Reading{}, err
	}

	var reading model.Reading
	if raw, ok := obj[fieldDeviceKey]; ok {
		var key string
		if json.Unmarshal(raw, &key) == nil {
			reading.DeviceKey = key
		}
	}

	if raw, ok := obj[fieldSensorData]; ok {
		if isNull(raw) {
			return reading, nil
		}
		inner, err := object(raw)
		if err != nil {
			return model.Reading{}, fmt.Errorf("%s: %w", fieldSensorData, err)
		}
		obj = inner
	}

	reading.Temperature = number(obj[fieldTemperature])
	reading.Humidity = number(obj[fieldHumidity])
	reading.Light = number(obj[fieldLight])

	if v, ok := enum(obj[fieldRain]); ok {
		rs := model.ParseRainState(v)
		reading.RainState = &rs
	}
	if v, ok := enum(obj[fieldServo]); ok {
		ss := model.ParseServoState(v)
		reading.ServoState = &ss
	}
	if v, ok := enum(obj[fieldMode]); ok {
		m := model.ParseMode(v)
		reading.Mode = &m
	}
	return reading, nil
}

func object(raw []byte) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrMalformed
	}
	obj := map[string]json.RawMessage{}
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, err.Error())
	}
	return obj, nil
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

// number accepts JSON numbers and numeric strings. Anything else counts as absent.
func number(raw json.RawMessage) *float64 {
	if raw == nil || isNull(raw) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// enum reports a present field. Non-string values are present but unknown.
func enum(raw json.RawMessage) (string, bool) {
	if raw == nil || isNull(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", true
	}
	return s, true
}
