package cmd

import (
	"context"

	"github.com/anicoll/smart-canopy/internal/pkg/directory"
	"github.com/anicoll/smart-canopy/internal/pkg/model"
)

// CanopyController defines what serve expects from the session controller.
type CanopyController interface {
	State() model.State
	Subscribe() (<-chan model.State, func())
	SetSelectedDevice(id string) error
	Connect()
	Disconnect()
	PublishMode(mode model.Mode) (bool, error)
	PublishServo(cmd model.ServoCommand) (bool, error)
	UpdateDevices(devices []model.DeviceDescriptor)
	Close()
}

// Directory is the device registry and telemetry history service.
type Directory interface {
	FetchDevices(ctx context.Context) ([]model.DeviceDescriptor, error)
	FetchTelemetry(ctx context.Context, kind, deviceKey string, minutes int) ([]directory.Point, error)
}
