package availability

import (
	"errors"
	"testing"
	"time"

	"github.com/resident-x/fireboard2mqtt/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestDeviceOnline(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		device   domain.Device
		expected bool
	}{
		{
			name: "latest reading wins over stale log",
			device: domain.Device{
				LatestTemps: []domain.Temperature{{Temp: 200}},
				DeviceLog:   domain.DeviceLog{Date: now.Add(-2 * time.Hour)},
			},
			expected: true,
		},
		{
			name:     "fresh log without readings",
			device:   domain.Device{DeviceLog: domain.DeviceLog{Date: now.Add(-4*time.Minute - 59*time.Second)}},
			expected: true,
		},
		{
			name:     "log exactly at window edge",
			device:   domain.Device{DeviceLog: domain.DeviceLog{Date: now.Add(-5 * time.Minute)}},
			expected: false,
		},
		{
			name:     "stale log without readings",
			device:   domain.Device{DeviceLog: domain.DeviceLog{Date: now.Add(-time.Hour)}},
			expected: false,
		},
		{
			name:     "never logged",
			device:   domain.Device{},
			expected: false,
		},
		{
			name:     "log slightly in the future",
			device:   domain.Device{DeviceLog: domain.DeviceLog{Date: now.Add(30 * time.Second)}},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DeviceOnline(&tt.device, now, DefaultFreshnessWindow))
		})
	}
}

func TestDeviceOnlineCustomWindow(t *testing.T) {
	now := time.Now()
	d := domain.Device{DeviceLog: domain.DeviceLog{Date: now.Add(-8 * time.Minute)}}

	assert.False(t, DeviceOnline(&d, now, DefaultFreshnessWindow))
	assert.True(t, DeviceOnline(&d, now, 10*time.Minute))
}

func TestChannelOnline(t *testing.T) {
	assert.True(t, ChannelOnline(&domain.Channel{Number: 1, LastTemplog: &domain.Temperature{Temp: 0}}))
	assert.False(t, ChannelOnline(&domain.Channel{Number: 2}))
}

func TestDrive(t *testing.T) {
	assert.Equal(t, DriveUnchanged, Drive(nil, errors.New("boom")))
	assert.Equal(t, DriveUnchanged, Drive(&domain.DriveLog{}, errors.New("boom")))
	assert.Equal(t, DriveOffline, Drive(nil, nil))
	assert.Equal(t, DriveOnline, Drive(&domain.DriveLog{}, nil))
}

func TestPayloads(t *testing.T) {
	assert.Equal(t, "online", Payload(true))
	assert.Equal(t, "offline", Payload(false))
	assert.Equal(t, "on", Switch(true))
	assert.Equal(t, "off", Switch(false))
}
