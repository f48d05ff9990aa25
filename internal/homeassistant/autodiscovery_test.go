package homeassistant

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/resident-x/fireboard2mqtt/internal/domain"
	"github.com/resident-x/fireboard2mqtt/internal/topics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDevice() *domain.Device {
	return &domain.Device{
		ID:         4242,
		UUID:       "uuid-1",
		Title:      "Smoker",
		HardwareID: "FBX1",
		Version:    "2.0.1",
		DegreeType: domain.Celsius,
		Model:      "FBX2D",
		Channels: []domain.Channel{
			{Number: 1, Label: "Pit", LastTemplog: &domain.Temperature{Temp: 110}},
			{Number: 2, Label: ""},
		},
		DeviceLog: domain.DeviceLog{Date: time.Now(), MacNIC: "aa:bb", BatteryFraction: 0.5},
	}
}

func newTestDiscovery(t *testing.T, driveEnabled bool) *AutoDiscovery {
	t.Helper()
	ad, err := New(Config{DriveEnabled: driveEnabled, ExpireAfter: DefaultExpireAfter}, topics.New("fb", "homeassistant"))
	require.NoError(t, err)
	return ad
}

func TestNew(t *testing.T) {
	ad := newTestDiscovery(t, false)

	require.NotNil(t, ad.layoutConfig)
	assert.Equal(t, "Fireboard Labs", ad.layoutConfig.Manufacturer)
	for _, key := range requiredEntities {
		assert.Contains(t, ad.layoutConfig.Entities, key)
	}
}

func TestNewRejectsNegativeExpireAfter(t *testing.T) {
	_, err := New(Config{ExpireAfter: -1}, topics.New("fb", "ha"))
	assert.Error(t, err)
}

func TestLoadLayoutConfigMissingEntity(t *testing.T) {
	ad := &AutoDiscovery{}
	err := ad.loadLayoutConfig([]byte("entities:\n  battery:\n    component: sensor\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel")
}

func TestBuildWithoutDrive(t *testing.T) {
	ad := newTestDiscovery(t, false)
	docs := ad.Build(testDevice())

	require.Len(t, docs, 3)
	assert.Equal(t, "homeassistant/sensor/FBX1/battery/config", docs[0].Topic)
	assert.Equal(t, "homeassistant/sensor/FBX1/channel_1/config", docs[1].Topic)
	assert.Equal(t, "homeassistant/sensor/FBX1/channel_2/config", docs[2].Topic)
}

func TestBuildWithDrive(t *testing.T) {
	ad := newTestDiscovery(t, true)
	docs := ad.Build(testDevice())

	require.Len(t, docs, 7)
	topicsOut := make([]string, 0, len(docs))
	for _, doc := range docs {
		topicsOut = append(topicsOut, doc.Topic)
	}
	assert.Equal(t, []string{
		"homeassistant/sensor/FBX1/battery/config",
		"homeassistant/sensor/FBX1/channel_1/config",
		"homeassistant/sensor/FBX1/channel_2/config",
		"homeassistant/sensor/FBX1/drive/config",
		"homeassistant/sensor/FBX1/drivemode/config",
		"homeassistant/sensor/FBX1/drive_setpoint/config",
		"homeassistant/binary_sensor/FBX1/drive_lidpaused/config",
	}, topicsOut)

	assert.Equal(t, "FBX1_drive", docs[3].Message.UniqueID)
	assert.Equal(t, "FBX1_drive_mode", docs[4].Message.UniqueID)
	assert.Equal(t, "FBX1_drive_setpoint", docs[5].Message.UniqueID)
	assert.Equal(t, "FBX1_drive_lidpaused", docs[6].Message.UniqueID)
	assert.Equal(t, ComponentBinarySensor, docs[6].Message.Component)
}

func TestBatteryDocument(t *testing.T) {
	ad := newTestDiscovery(t, false)
	msg := ad.Build(testDevice())[0].Message

	assert.Equal(t, "FBX1_battery", msg.UniqueID)
	assert.Equal(t, msg.UniqueID, msg.ObjectID)
	assert.Equal(t, "Battery", msg.Name)
	assert.Equal(t, "battery", msg.DeviceClass)
	assert.Equal(t, "%", msg.UnitOfMeasurement)
	assert.Equal(t, "fb/FBX1/battery", msg.StateTopic)
	assert.Equal(t, domain.AtMostOnce, msg.QoS)
	assert.Zero(t, msg.ExpireAfter)
	require.Len(t, msg.Availability, 2)
	assert.Equal(t, "fb/bridge/availability", msg.Availability[0].Topic)
	assert.Equal(t, "fb/FBX1/availability", msg.Availability[1].Topic)
}

func TestChannelDocument(t *testing.T) {
	ad := newTestDiscovery(t, false)
	docs := ad.Build(testDevice())

	pit := docs[1].Message
	assert.Equal(t, "FBX1_channel_1", pit.UniqueID)
	assert.Equal(t, "Pit", pit.Name)
	assert.Equal(t, "temperature", pit.DeviceClass)
	assert.Equal(t, "°C", pit.UnitOfMeasurement)
	assert.Equal(t, "°C", pit.SuggestedUnitOfMeasurement)
	assert.Equal(t, "fb/FBX1/channel_1/state", pit.StateTopic)
	assert.Equal(t, DefaultExpireAfter, pit.ExpireAfter)
	require.Len(t, pit.Availability, 3)
	assert.Equal(t, "fb/FBX1/channel_1/availability", pit.Availability[2].Topic)

	assert.Equal(t, "Channel 2", docs[2].Message.Name)
}

func TestTemperatureUnitIsPerDevice(t *testing.T) {
	ad := newTestDiscovery(t, true)

	celsius := testDevice()
	fahrenheit := testDevice()
	fahrenheit.HardwareID = "FBX2"
	fahrenheit.DegreeType = domain.Fahrenheit

	assert.Equal(t, "°C", ad.Build(celsius)[1].Message.UnitOfMeasurement)
	assert.Equal(t, "°F", ad.Build(fahrenheit)[1].Message.UnitOfMeasurement)
	assert.Equal(t, "°F", ad.Build(fahrenheit)[5].Message.UnitOfMeasurement)
}

func TestDriveDocuments(t *testing.T) {
	ad := newTestDiscovery(t, true)
	docs := ad.Build(testDevice())

	drive := docs[3].Message
	assert.Equal(t, "mdi:fan", drive.Icon)
	assert.Equal(t, "%", drive.UnitOfMeasurement)
	assert.Equal(t, "fb/FBX1/drive/attributes", drive.JSONAttributesTopic)
	assert.Equal(t, DefaultExpireAfter, drive.ExpireAfter)
	require.Len(t, drive.Availability, 3)
	assert.Equal(t, "fb/FBX1/drive/availability", drive.Availability[2].Topic)

	mode := docs[4].Message
	assert.Equal(t, "enum", mode.DeviceClass)
	assert.Equal(t, []string{"off", "manual", "auto"}, mode.Options)
	assert.Empty(t, mode.StateClass)
	assert.Equal(t, "fb/FBX1/drive/mode", mode.StateTopic)

	setpoint := docs[5].Message
	assert.Equal(t, "mdi:thermometer-auto", setpoint.Icon)
	require.Len(t, setpoint.Availability, 4)
	assert.Equal(t, "fb/FBX1/drive/setpoint_availability", setpoint.Availability[3].Topic)

	lid := docs[6].Message
	assert.Equal(t, "on", lid.PayloadOn)
	assert.Equal(t, "off", lid.PayloadOff)
	assert.Equal(t, "fb/FBX1/drive/lidpaused", lid.StateTopic)
}

func TestDeviceEnvelope(t *testing.T) {
	ad := newTestDiscovery(t, false)
	device := ad.Build(testDevice())[0].Message.Device

	require.NotNil(t, device)
	assert.Equal(t, "https://fireboard.io/devices/4242/edit/", device.ConfigurationURL)
	assert.Equal(t, [][2]string{{"mac", "aa:bb"}}, device.Connections)
	assert.Equal(t, []string{"4242", "FBX1", "uuid-1"}, device.Identifiers)
	assert.Equal(t, "Fireboard Labs", device.Manufacturer)
	assert.Equal(t, "FBX2D", device.Model)
	assert.Equal(t, "Smoker", device.Name)
	assert.Equal(t, "FBX1", device.SerialNumber)
	assert.Equal(t, "2.0.1", device.SwVersion)
}

func TestDeviceEnvelopeOmitsUnknownFields(t *testing.T) {
	ad := newTestDiscovery(t, false)
	d := testDevice()
	d.ID = 0
	d.UUID = ""
	d.DeviceLog.MacNIC = ""

	payload, err := ad.Build(d)[0].Message.Payload()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	device := decoded["device"].(map[string]interface{})
	assert.NotContains(t, device, "configuration_url")
	assert.NotContains(t, device, "connections")
	assert.Equal(t, []interface{}{"FBX1"}, device["identifiers"])
}

func TestPayloadOmitsAbsentFields(t *testing.T) {
	ad := newTestDiscovery(t, true)
	docs := ad.Build(testDevice())

	payload, err := docs[0].Message.Payload()
	require.NoError(t, err)

	var battery map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &battery))

	assert.Equal(t, "FBX1_battery", battery["unique_id"])
	assert.Equal(t, "FBX1_battery", battery["object_id"])
	assert.Equal(t, true, battery["enabled_by_default"])
	assert.Equal(t, "utf-8", battery["encoding"])
	assert.Equal(t, float64(0), battery["qos"])
	assert.Equal(t, "all", battery["availability_mode"])
	for _, key := range []string{"icon", "options", "expire_after", "json_attributes_topic", "payload_on", "suggested_display_precision", "component"} {
		assert.NotContains(t, battery, key)
	}

	payload, err = docs[6].Message.Payload()
	require.NoError(t, err)
	var lid map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &lid))
	assert.NotContains(t, lid, "state_class")
	assert.NotContains(t, lid, "unit_of_measurement")
}

func TestBuildIsIdempotent(t *testing.T) {
	ad := newTestDiscovery(t, true)
	d := testDevice()

	first := ad.Build(d)
	second := ad.Build(d)
	require.Equal(t, len(first), len(second))
	for i := range first {
		a, err := first[i].Message.Payload()
		require.NoError(t, err)
		b, err := second[i].Message.Payload()
		require.NoError(t, err)
		assert.Equal(t, string(a), string(b))
	}
}
