package cmd

import (
	"github.com/anicoll/smart-canopy/internal/pkg/model"
)

// MockCanopyController is a mock implementation of the CanopyController interface.
type MockCanopyController struct {
	StateFunc             func() model.State
	SubscribeFunc         func() (<-chan model.State, func())
	SetSelectedDeviceFunc func(id string) error
	ConnectFunc           func()
	DisconnectFunc        func()
	PublishModeFunc       func(mode model.Mode) (bool, error)
	PublishServoFunc      func(cmd model.ServoCommand) (bool, error)
	UpdateDevicesFunc     func(devices []model.DeviceDescriptor)
	CloseFunc             func()
}

func (m *MockCanopyController) State() model.State {
	if m.StateFunc != nil {
		return m.StateFunc()
	}
	return model.NewState()
}

func (m *MockCanopyController) Subscribe() (<-chan model.State, func()) {
	if m.SubscribeFunc != nil {
		return m.SubscribeFunc()
	}
	ch := make(chan model.State, 1)
	ch <- model.NewState()
	return ch, func() {}
}

func (m *MockCanopyController) SetSelectedDevice(id string) error {
	if m.SetSelectedDeviceFunc != nil {
		return m.SetSelectedDeviceFunc(id)
	}
	return nil
}

func (m *MockCanopyController) Connect() {
	if m.ConnectFunc != nil {
		m.ConnectFunc()
	}
}

func (m *MockCanopyController) Disconnect() {
	if m.DisconnectFunc != nil {
		m.DisconnectFunc()
	}
}

func (m *MockCanopyController) PublishMode(mode model.Mode) (bool, error) {
	if m.PublishModeFunc != nil {
		return m.PublishModeFunc(mode)
	}
	return false, nil
}

func (m *MockCanopyController) PublishServo(cmd model.ServoCommand) (bool, error) {
	if m.PublishServoFunc != nil {
		return m.PublishServoFunc(cmd)
	}
	return false, nil
}

func (m *MockCanopyController) UpdateDevices(devices []model.DeviceDescriptor) {
	if m.UpdateDevicesFunc != nil {
		m.UpdateDevicesFunc(devices)
	}
}

func (m *MockCanopyController) Close() {
	if m.CloseFunc != nil {
		m.CloseFunc()
	}
}
