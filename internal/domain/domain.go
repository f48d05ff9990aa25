// Package domain provides core domain models and interfaces for the fireboard2mqtt bridge.
package domain

import (
	"context"
	"time"
)

// DegreeType is the temperature unit a device is configured to report in.
type DegreeType int

const (
	Celsius    DegreeType = 1
	Fahrenheit DegreeType = 2
)

// Unit returns the unit of measurement string used on the wire.
func (d DegreeType) Unit() string {
	if d == Celsius {
		return "°C"
	}
	return "°F"
}

// DriveMode is the derived operating mode of a device's drive (fan) subsystem.
type DriveMode int

const (
	DriveModeOff DriveMode = iota
	DriveModeManual
	DriveModeAuto
)

// String returns the payload token for the mode.
func (m DriveMode) String() string {
	switch m {
	case DriveModeAuto:
		return "auto"
	case DriveModeManual:
		return "manual"
	default:
		return "off"
	}
}

// DriveModeOptions lists every mode token in declaration order.
func DriveModeOptions() []string {
	return []string{DriveModeOff.String(), DriveModeManual.String(), DriveModeAuto.String()}
}

// DeriveDriveMode computes the mode from the setpoint and drive percentage.
// The remote modetype field is not trusted.
func DeriveDriveMode(setpoint, drivePercent float64) DriveMode {
	switch {
	case setpoint >= 100:
		return DriveModeAuto
	case drivePercent > 0:
		return DriveModeManual
	default:
		return DriveModeOff
	}
}

// Temperature is a single temperature reading.
type Temperature struct {
	Temp float64 `json:"temp"`
}

// Channel is a probe input on a device.
type Channel struct {
	Number      int          `json:"channel"`
	Label       string       `json:"channel_label"`
	LastTemplog *Temperature `json:"last_templog"`
}

// DeviceLog is the latest telemetry log reported by a device.
type DeviceLog struct {
	Date            time.Time `json:"date"`
	MacNIC          string    `json:"macNIC"`
	OnboardTemp     float64   `json:"onboardTemp"`
	BatteryFraction float64   `json:"vBattPer"`
}

// Device is a thermometer as returned by the remote device source.
type Device struct {
	ID           int           `json:"id"`
	UUID         string        `json:"uuid"`
	Title        string        `json:"title"`
	HardwareID   string        `json:"hardware_id"`
	Version      string        `json:"version"`
	ChannelCount int           `json:"channel_count"`
	DegreeType   DegreeType    `json:"degreetype"`
	Model        string        `json:"model"`
	Channels     []Channel     `json:"channels"`
	LatestTemps  []Temperature `json:"latest_temps"`
	DeviceLog    DeviceLog     `json:"device_log"`
}

// DriveLog is the realtime state of a device's drive subsystem.
type DriveLog struct {
	ModeType     string  `json:"modetype"`
	Setpoint     float64 `json:"setpoint"`
	LidPaused    bool    `json:"lidpaused"`
	TiedChannel  int     `json:"tiedchannel"`
	DrivePercent float64 `json:"driveper"`
}

// Mode derives the drive mode for this log.
func (l *DriveLog) Mode() DriveMode {
	return DeriveDriveMode(l.Setpoint, l.DrivePercent)
}

// DeviceSource defines the interface for the remote device API.
type DeviceSource interface {
	// ListDevices returns every device visible to the account
	ListDevices(ctx context.Context) ([]Device, error)

	// GetDriveLog returns the realtime drive log for a device, or nil when the device has none
	GetDriveLog(ctx context.Context, deviceUUID string) (*DriveLog, error)
}

// MessageSink defines the interface for the ordered outbound command stream.
type MessageSink interface {
	// Send enqueues an action, blocking while the queue is full
	Send(ctx context.Context, action Action) error
}
