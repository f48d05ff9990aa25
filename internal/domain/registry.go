package domain

import (
	"sort"
	"sync"
	"time"
)

// ChannelStatus is the last published state of a channel.
type ChannelStatus struct {
	Number      int      `json:"channel"`
	Label       string   `json:"label"`
	Online      bool     `json:"online"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// DriveStatus is the last published state of a drive subsystem.
type DriveStatus struct {
	Online      bool    `json:"online"`
	Mode        string  `json:"mode,omitempty"`
	Percent     int     `json:"percent"`
	Setpoint    float64 `json:"setpoint"`
	LidPaused   bool    `json:"lidPaused"`
	TiedChannel int     `json:"tiedChannel"`
}

// DeviceStatus is a snapshot of what the bridge last published for a device.
type DeviceStatus struct {
	HardwareID string          `json:"hardwareId"`
	UUID       string          `json:"uuid"`
	Title      string          `json:"title"`
	Model      string          `json:"model"`
	Version    string          `json:"version"`
	Unit       string          `json:"unit"`
	Online     bool            `json:"online"`
	Battery    *int            `json:"battery,omitempty"`
	Channels   []ChannelStatus `json:"channels"`
	Drive      *DriveStatus    `json:"drive,omitempty"`
	LastLog    time.Time       `json:"lastLog"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// Registry keeps the latest known status of every device.
type Registry interface {
	// Update stores the status of a device, replacing any previous snapshot
	Update(status DeviceStatus)

	// Get retrieves the status of one device by hardware id
	Get(hardwareID string) (*DeviceStatus, bool)

	// All returns every device sorted by hardware id
	All() []*DeviceStatus
}

// DeviceRegistry implements the Registry interface.
type DeviceRegistry struct {
	devices map[string]*DeviceStatus
	mutex   sync.RWMutex
}

// NewDeviceRegistry creates a new device registry.
func NewDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{
		devices: make(map[string]*DeviceStatus),
	}
}

// Update stores a copy of status keyed by its hardware id.
func (r *DeviceRegistry) Update(status DeviceStatus) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	s := status
	r.devices[status.HardwareID] = &s
}

// Get retrieves the status of a device.
func (r *DeviceRegistry) Get(hardwareID string) (*DeviceStatus, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	status, exists := r.devices[hardwareID]
	if !exists {
		return nil, false
	}

	s := *status
	return &s, true
}

// All returns every device sorted by hardware id.
func (r *DeviceRegistry) All() []*DeviceStatus {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	devices := make([]*DeviceStatus, 0, len(r.devices))
	for _, status := range r.devices {
		s := *status
		devices = append(devices, &s)
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].HardwareID < devices[j].HardwareID
	})

	return devices
}
