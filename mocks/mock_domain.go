package mocks

import (
	"context"

	"github.com/resident-x/fireboard2mqtt/internal/domain"
	"github.com/stretchr/testify/mock"
)

// MockDeviceSource is a mock type for the domain.DeviceSource type.
type MockDeviceSource struct {
	mock.Mock
}

// NewMockDeviceSource creates a new instance of MockDeviceSource. It registers
// a cleanup function to assert the mocks expectations.
func NewMockDeviceSource(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockDeviceSource {
	m := &MockDeviceSource{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

func (m *MockDeviceSource) ListDevices(ctx context.Context) ([]domain.Device, error) {
	args := m.Called(ctx)
	devices, _ := args.Get(0).([]domain.Device)
	return devices, args.Error(1)
}

func (m *MockDeviceSource) GetDriveLog(ctx context.Context, uuid string) (*domain.DriveLog, error) {
	args := m.Called(ctx, uuid)
	driveLog, _ := args.Get(0).(*domain.DriveLog)
	return driveLog, args.Error(1)
}

// MockMessageSink is a mock type for the domain.MessageSink type.
type MockMessageSink struct {
	mock.Mock
}

// NewMockMessageSink creates a new instance of MockMessageSink. It registers
// a cleanup function to assert the mocks expectations.
func NewMockMessageSink(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockMessageSink {
	m := &MockMessageSink{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

func (m *MockMessageSink) Send(ctx context.Context, action domain.Action) error {
	return m.Called(ctx, action).Error(0)
}

// MockTransport is a mock type for the pubsub.Transport type.
type MockTransport struct {
	mock.Mock
}

// NewMockTransport creates a new instance of MockTransport. It registers a
// cleanup function to assert the mocks expectations.
func NewMockTransport(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockTransport {
	m := &MockTransport{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

func (m *MockTransport) Connect(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockTransport) Execute(ctx context.Context, action domain.Action) error {
	return m.Called(ctx, action).Error(0)
}

func (m *MockTransport) Close() error {
	return m.Called().Error(0)
}
