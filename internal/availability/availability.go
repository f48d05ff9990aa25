// Package availability decides which devices, channels and drives are online.
package availability

import (
	"time"

	"github.com/resident-x/fireboard2mqtt/internal/domain"
)

// Payload tokens.
const (
	Online  = "online"
	Offline = "offline"
	On      = "on"
	Off     = "off"
)

// DefaultFreshnessWindow is how old a device log may be while still counting as online.
const DefaultFreshnessWindow = 5 * time.Minute

// Payload returns the availability token for online.
func Payload(online bool) string {
	if online {
		return Online
	}
	return Offline
}

// Switch returns the on/off token for a binary state.
func Switch(on bool) string {
	if on {
		return On
	}
	return Off
}

// DeviceOnline reports whether a device is online at now. A device with any
// current temperature reading is online; otherwise its log must be younger than window.
func DeviceOnline(d *domain.Device, now time.Time, window time.Duration) bool {
	if len(d.LatestTemps) > 0 {
		return true
	}
	if d.DeviceLog.Date.IsZero() {
		return false
	}
	return now.Sub(d.DeviceLog.Date) < window
}

// ChannelOnline reports whether a channel has ever reported a reading.
func ChannelOnline(c *domain.Channel) bool {
	return c.LastTemplog != nil
}

// DriveState is the three-valued drive availability signal.
type DriveState int

const (
	// DriveUnchanged means the drive log could not be fetched; nothing is published.
	DriveUnchanged DriveState = iota
	DriveOnline
	DriveOffline
)

// Drive maps the outcome of a drive log fetch to a DriveState.
func Drive(log *domain.DriveLog, fetchErr error) DriveState {
	switch {
	case fetchErr != nil:
		return DriveUnchanged
	case log == nil:
		return DriveOffline
	default:
		return DriveOnline
	}
}
