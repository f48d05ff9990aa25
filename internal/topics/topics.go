// Package topics maps devices and channels onto the bridge's MQTT topic tree.
package topics

import (
	"strconv"
	"strings"
)

// Namer builds every topic the bridge publishes to. All methods are pure
// string concatenation of the configured prefixes and identifiers.
type Namer struct {
	base      string
	discovery string
}

// New creates a Namer for the given base and discovery prefixes.
// Trailing slashes on the prefixes are dropped.
func New(baseTopic, discoveryTopic string) Namer {
	return Namer{
		base:      strings.TrimRight(baseTopic, "/"),
		discovery: strings.TrimRight(discoveryTopic, "/"),
	}
}

// Base returns the base topic prefix.
func (n Namer) Base() string { return n.base }

// Discovery returns the discovery topic prefix.
func (n Namer) Discovery() string { return n.discovery }

// identifierEscaper keeps a device identifier inside a single topic level.
// '%' is escaped first so escaped and unescaped ids cannot collide.
var identifierEscaper = strings.NewReplacer(
	"%", "%25",
	"/", "%2F",
	"+", "%2B",
	"#", "%23",
)

// EscapeIdentifier returns id as a single topic level. Ordinary hardware ids
// are returned unchanged.
func EscapeIdentifier(id string) string {
	if !strings.ContainsAny(id, "%/+#") {
		return id
	}
	return identifierEscaper.Replace(id)
}

// BridgeAvailability is the bridge's own availability topic, also used as the last will.
func (n Namer) BridgeAvailability() string {
	return n.base + "/bridge/availability"
}

// Device is the root topic of one device.
func (n Namer) Device(id string) string {
	return n.base + "/" + EscapeIdentifier(id)
}

func (n Namer) DeviceAvailability(id string) string {
	return n.Device(id) + "/availability"
}

func (n Namer) Battery(id string) string {
	return n.Device(id) + "/battery"
}

// Channel is the root topic of a channel. Channel numbers are used verbatim.
func (n Namer) Channel(id string, channel int) string {
	return n.Device(id) + "/channel_" + strconv.Itoa(channel)
}

func (n Namer) ChannelState(id string, channel int) string {
	return n.Channel(id, channel) + "/state"
}

func (n Namer) ChannelAvailability(id string, channel int) string {
	return n.Channel(id, channel) + "/availability"
}

func (n Namer) Drive(id string) string {
	return n.Device(id) + "/drive"
}

func (n Namer) DriveState(id string) string {
	return n.Drive(id) + "/state"
}

func (n Namer) DriveMode(id string) string {
	return n.Drive(id) + "/mode"
}

func (n Namer) DriveSetpoint(id string) string {
	return n.Drive(id) + "/setpoint"
}

func (n Namer) DriveLidPaused(id string) string {
	return n.Drive(id) + "/lidpaused"
}

func (n Namer) DriveAttributes(id string) string {
	return n.Drive(id) + "/attributes"
}

func (n Namer) DriveAvailability(id string) string {
	return n.Drive(id) + "/availability"
}

func (n Namer) DriveSetpointAvailability(id string) string {
	return n.Drive(id) + "/setpoint_availability"
}

func (n Namer) sensorDiscovery(id, object string) string {
	return n.discovery + "/sensor/" + EscapeIdentifier(id) + "/" + object + "/config"
}

func (n Namer) BatteryDiscovery(id string) string {
	return n.sensorDiscovery(id, "battery")
}

func (n Namer) ChannelDiscovery(id string, channel int) string {
	return n.sensorDiscovery(id, "channel_"+strconv.Itoa(channel))
}

func (n Namer) DriveDiscovery(id string) string {
	return n.sensorDiscovery(id, "drive")
}

func (n Namer) DriveModeDiscovery(id string) string {
	return n.sensorDiscovery(id, "drivemode")
}

func (n Namer) DriveSetpointDiscovery(id string) string {
	return n.sensorDiscovery(id, "drive_setpoint")
}

func (n Namer) DriveLidPausedDiscovery(id string) string {
	return n.discovery + "/binary_sensor/" + EscapeIdentifier(id) + "/drive_lidpaused/config"
}
