package telemetry

import (
	"encoding/json"

	"github.com/anicoll/smart-canopy/internal/pkg/model"
)

type ModeCommand struct {
	DeviceKey string     `json:"deviceKey"`
	Mode      model.Mode `json:"mode"`
}

type ServoCommand struct {
	DeviceKey string             `json:"deviceKey"`
	Cmd       model.ServoCommand `json:"cmd"`
}

func EncodeModeCommand(deviceID string, mode model.Mode) ([]byte, error) {
	return json.Marshal(ModeCommand{DeviceKey: deviceID, Mode: mode})
}

func EncodeServoCommand(deviceID string, cmd model.ServoCommand) ([]byte, error) {
	return json.Marshal(ServoCommand{DeviceKey: deviceID, Cmd: cmd})
}
