// Package homeassistant provides MQTT auto-discovery support for Home Assistant integration.
package homeassistant

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/resident-x/fireboard2mqtt/internal/availability"
	"github.com/resident-x/fireboard2mqtt/internal/domain"
	"github.com/resident-x/fireboard2mqtt/internal/topics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

//go:embed layouts/fireboard_entities.yaml
var fireboardEntitiesYAML []byte

// Entity keys in the layout file.
const (
	EntityBattery        = "battery"
	EntityChannel        = "channel"
	EntityDrive          = "drive"
	EntityDriveMode      = "drive_mode"
	EntityDriveSetpoint  = "drive_setpoint"
	EntityDriveLidPaused = "drive_lidpaused"
)

var requiredEntities = []string{
	EntityBattery,
	EntityChannel,
	EntityDrive,
	EntityDriveMode,
	EntityDriveSetpoint,
	EntityDriveLidPaused,
}

// Component names.
const (
	ComponentSensor       = "sensor"
	ComponentBinarySensor = "binary_sensor"
)

// DefaultExpireAfter is the expire_after applied to channel and drive sensors, in seconds.
const DefaultExpireAfter = 600

// Config holds the Home Assistant auto-discovery configuration.
type Config struct {
	DriveEnabled bool
	ExpireAfter  int
}

// EntityConfig is the static presentation of one entity from the layouts YAML.
type EntityConfig struct {
	Component         string `yaml:"component"`
	Name              string `yaml:"name,omitempty"`
	DeviceClass       string `yaml:"device_class,omitempty"`
	UnitOfMeasurement string `yaml:"unit_of_measurement,omitempty"`
	TemperatureUnit   bool   `yaml:"temperature_unit,omitempty"`
	StateClass        string `yaml:"state_class,omitempty"`
	Icon              string `yaml:"icon,omitempty"`
	Precision         *int   `yaml:"suggested_display_precision,omitempty"`
	Expires           bool   `yaml:"expires,omitempty"`
	Attributes        bool   `yaml:"attributes,omitempty"`
}

// LayoutConfig represents the full entity layout.
type LayoutConfig struct {
	Version          string                  `yaml:"version"`
	Description      string                  `yaml:"description"`
	Manufacturer     string                  `yaml:"manufacturer"`
	ConfigurationURL string                  `yaml:"configuration_url"`
	Entities         map[string]EntityConfig `yaml:"entities"`
}

// AvailabilityEntry is one element of a discovery availability list.
type AvailabilityEntry struct {
	Topic               string `json:"topic"`
	PayloadAvailable    string `json:"payload_available"`
	PayloadNotAvailable string `json:"payload_not_available"`
}

// DiscoveryMessage represents a Home Assistant MQTT discovery message for a
// sensor or binary sensor. Optional fields are omitted when empty.
type DiscoveryMessage struct {
	Component                  string              `json:"-"`
	UniqueID                   string              `json:"unique_id"`
	ObjectID                   string              `json:"object_id"`
	Name                       string              `json:"name,omitempty"`
	Availability               []AvailabilityEntry `json:"availability"`
	AvailabilityMode           string              `json:"availability_mode,omitempty"`
	DeviceClass                string              `json:"device_class,omitempty"`
	Options                    []string            `json:"options,omitempty"`
	EnabledByDefault           bool                `json:"enabled_by_default"`
	Encoding                   string              `json:"encoding"`
	SuggestedDisplayPrecision  *int                `json:"suggested_display_precision,omitempty"`
	QoS                        domain.QoS          `json:"qos"`
	StateClass                 string              `json:"state_class,omitempty"`
	JSONAttributesTopic        string              `json:"json_attributes_topic,omitempty"`
	Icon                       string              `json:"icon,omitempty"`
	StateTopic                 string              `json:"state_topic"`
	UnitOfMeasurement          string              `json:"unit_of_measurement,omitempty"`
	SuggestedUnitOfMeasurement string              `json:"suggested_unit_of_measurement,omitempty"`
	PayloadOn                  string              `json:"payload_on,omitempty"`
	PayloadOff                 string              `json:"payload_off,omitempty"`
	Device                     *DeviceInfo         `json:"device,omitempty"`
	ExpireAfter                int                 `json:"expire_after,omitempty"`
}

// Payload encodes the message as discovery JSON.
func (m *DiscoveryMessage) Payload() ([]byte, error) {
	return json.Marshal(m)
}

// DeviceInfo represents device information for Home Assistant.
type DeviceInfo struct {
	ConfigurationURL string      `json:"configuration_url,omitempty"`
	Connections      [][2]string `json:"connections,omitempty"`
	Identifiers      []string    `json:"identifiers,omitempty"`
	Manufacturer     string      `json:"manufacturer,omitempty"`
	Model            string      `json:"model,omitempty"`
	Name             string      `json:"name,omitempty"`
	SerialNumber     string      `json:"serial_number,omitempty"`
	SwVersion        string      `json:"sw_version,omitempty"`
}

// Document pairs a discovery message with the topic it is published on.
type Document struct {
	Topic   string
	Message DiscoveryMessage
}

// AutoDiscovery builds the discovery documents for devices.
type AutoDiscovery struct {
	config       Config
	layoutConfig *LayoutConfig
	namer        topics.Namer
	logger       zerolog.Logger
}

// New creates a new Home Assistant auto-discovery instance.
func New(config Config, namer topics.Namer) (*AutoDiscovery, error) {
	if config.ExpireAfter < 0 {
		return nil, fmt.Errorf("expire_after must not be negative, got %d", config.ExpireAfter)
	}

	ad := &AutoDiscovery{
		config: config,
		namer:  namer,
		logger: log.With().Str("component", "homeassistant").Logger(),
	}

	if err := ad.loadLayoutConfig(fireboardEntitiesYAML); err != nil {
		return nil, fmt.Errorf("failed to load layout config: %w", err)
	}

	return ad, nil
}

// loadLayoutConfig parses the entity layout and checks every entity is present.
func (ad *AutoDiscovery) loadLayoutConfig(data []byte) error {
	var config LayoutConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to unmarshal Home Assistant entities config: %w", err)
	}

	missing := lo.Filter(requiredEntities, func(key string, _ int) bool {
		_, ok := config.Entities[key]
		return !ok
	})
	if len(missing) > 0 {
		return fmt.Errorf("layout is missing entities: %v", missing)
	}

	ad.layoutConfig = &config
	ad.logger.Debug().
		Str("version", config.Version).
		Int("entity_count", len(config.Entities)).
		Msg("Home Assistant layout configuration loaded from YAML")

	return nil
}

// Build returns every discovery document for a device in publish order:
// battery, one per channel, then the drive entities when drive support is enabled.
func (ad *AutoDiscovery) Build(d *domain.Device) []Document {
	id := d.HardwareID
	device := ad.deviceInfo(d)

	bridge := ad.availabilityEntry(ad.namer.BridgeAvailability())
	deviceAvail := ad.availabilityEntry(ad.namer.DeviceAvailability(id))

	docs := make([]Document, 0, 2+len(d.Channels)+4)

	battery := ad.message(EntityBattery, d, device)
	battery.UniqueID = id + "_battery"
	battery.StateTopic = ad.namer.Battery(id)
	battery.Availability = []AvailabilityEntry{bridge, deviceAvail}
	docs = append(docs, ad.document(ad.namer.BatteryDiscovery(id), battery))

	for _, ch := range d.Channels {
		msg := ad.message(EntityChannel, d, device)
		msg.UniqueID = id + "_channel_" + strconv.Itoa(ch.Number)
		msg.Name = ch.Label
		if msg.Name == "" {
			msg.Name = "Channel " + strconv.Itoa(ch.Number)
		}
		msg.StateTopic = ad.namer.ChannelState(id, ch.Number)
		msg.Availability = []AvailabilityEntry{
			bridge,
			deviceAvail,
			ad.availabilityEntry(ad.namer.ChannelAvailability(id, ch.Number)),
		}
		docs = append(docs, ad.document(ad.namer.ChannelDiscovery(id, ch.Number), msg))
	}

	if !ad.config.DriveEnabled {
		return docs
	}

	driveID := id + "_drive"
	driveAvail := ad.availabilityEntry(ad.namer.DriveAvailability(id))

	drive := ad.message(EntityDrive, d, device)
	drive.UniqueID = driveID
	drive.StateTopic = ad.namer.DriveState(id)
	drive.Availability = []AvailabilityEntry{bridge, deviceAvail, driveAvail}
	docs = append(docs, ad.document(ad.namer.DriveDiscovery(id), drive))

	mode := ad.message(EntityDriveMode, d, device)
	mode.UniqueID = driveID + "_mode"
	mode.StateTopic = ad.namer.DriveMode(id)
	mode.Options = domain.DriveModeOptions()
	mode.Availability = []AvailabilityEntry{bridge, deviceAvail, driveAvail}
	docs = append(docs, ad.document(ad.namer.DriveModeDiscovery(id), mode))

	setpoint := ad.message(EntityDriveSetpoint, d, device)
	setpoint.UniqueID = driveID + "_setpoint"
	setpoint.StateTopic = ad.namer.DriveSetpoint(id)
	setpoint.Availability = []AvailabilityEntry{
		bridge,
		deviceAvail,
		driveAvail,
		ad.availabilityEntry(ad.namer.DriveSetpointAvailability(id)),
	}
	docs = append(docs, ad.document(ad.namer.DriveSetpointDiscovery(id), setpoint))

	lid := ad.message(EntityDriveLidPaused, d, device)
	lid.UniqueID = driveID + "_lidpaused"
	lid.StateTopic = ad.namer.DriveLidPaused(id)
	lid.PayloadOn = availability.On
	lid.PayloadOff = availability.Off
	lid.Availability = []AvailabilityEntry{bridge, deviceAvail, driveAvail}
	docs = append(docs, ad.document(ad.namer.DriveLidPausedDiscovery(id), lid))

	return docs
}

// message fills a discovery message from the layout entry for key.
func (ad *AutoDiscovery) message(key string, d *domain.Device, device *DeviceInfo) DiscoveryMessage {
	entity := ad.layoutConfig.Entities[key]

	msg := DiscoveryMessage{
		Component:                 entity.Component,
		Name:                      entity.Name,
		AvailabilityMode:          "all",
		DeviceClass:               entity.DeviceClass,
		EnabledByDefault:          true,
		Encoding:                  "utf-8",
		SuggestedDisplayPrecision: entity.Precision,
		QoS:                       domain.AtMostOnce,
		StateClass:                entity.StateClass,
		Icon:                      entity.Icon,
		UnitOfMeasurement:         entity.UnitOfMeasurement,
		Device:                    device,
	}

	if entity.TemperatureUnit {
		msg.UnitOfMeasurement = d.DegreeType.Unit()
		msg.SuggestedUnitOfMeasurement = d.DegreeType.Unit()
	}
	if entity.Expires {
		msg.ExpireAfter = ad.config.ExpireAfter
	}
	if entity.Attributes {
		msg.JSONAttributesTopic = ad.namer.DriveAttributes(d.HardwareID)
	}

	return msg
}

func (ad *AutoDiscovery) document(topic string, msg DiscoveryMessage) Document {
	msg.ObjectID = msg.UniqueID
	return Document{Topic: topic, Message: msg}
}

func (ad *AutoDiscovery) availabilityEntry(topic string) AvailabilityEntry {
	return AvailabilityEntry{
		Topic:               topic,
		PayloadAvailable:    availability.Online,
		PayloadNotAvailable: availability.Offline,
	}
}

// deviceInfo builds the parent device envelope shared by all entities of a device.
func (ad *AutoDiscovery) deviceInfo(d *domain.Device) *DeviceInfo {
	info := &DeviceInfo{
		Manufacturer: ad.layoutConfig.Manufacturer,
		Model:        d.Model,
		Name:         d.Title,
		SerialNumber: d.HardwareID,
		SwVersion:    d.Version,
	}

	identifiers := []string{d.HardwareID, d.UUID}
	if d.ID != 0 {
		info.ConfigurationURL = fmt.Sprintf(ad.layoutConfig.ConfigurationURL, d.ID)
		identifiers = append([]string{strconv.Itoa(d.ID)}, identifiers...)
	}
	info.Identifiers = lo.Uniq(lo.Compact(identifiers))

	if d.DeviceLog.MacNIC != "" {
		info.Connections = [][2]string{{"mac", d.DeviceLog.MacNIC}}
	}

	return info
}
