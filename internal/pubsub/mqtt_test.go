package pubsub

import (
	"context"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/resident-x/fireboard2mqtt/internal/config"
	"github.com/resident-x/fireboard2mqtt/internal/domain"
	"github.com/resident-x/fireboard2mqtt/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeMessage is the minimal mqtt.Message delivered to subscription callbacks.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.MQTT.Username = "user"
	cfg.MQTT.Password = "pass"
	return cfg
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func TestNewTransportSelection(t *testing.T) {
	cfg := testConfig()

	cfg.MQTT.Enabled = false
	assert.IsType(t, &NoopTransport{}, NewTransport(cfg, "fb/bridge/availability"))

	cfg.MQTT.Enabled = true
	cfg.MQTT.ProtocolVersion = 3
	assert.IsType(t, &MQTTTransport{}, NewTransport(cfg, "fb/bridge/availability"))

	cfg.MQTT.ProtocolVersion = 5
	assert.IsType(t, &MQTT5Transport{}, NewTransport(cfg, "fb/bridge/availability"))
}

func TestNoopTransport(t *testing.T) {
	transport := NewNoopTransport()
	ctx := context.Background()

	assert.NoError(t, transport.Connect(ctx))
	assert.NoError(t, transport.Execute(ctx, domain.Publish("a/b", domain.AtLeastOnce, true, []byte("x"))))
	assert.NoError(t, transport.Close())
}

func TestNewMQTTTransport(t *testing.T) {
	cfg := testConfig()
	transport := NewMQTTTransport(cfg, "fb/bridge/availability")

	assert.Equal(t, cfg, transport.config)
	assert.Equal(t, "fb/bridge/availability", transport.willTopic)
	assert.Nil(t, transport.client)
}

func TestCreateMQTTClientRejectsBadURL(t *testing.T) {
	cfg := testConfig()
	cfg.MQTT.URL = "http://broker"

	err := NewMQTTTransport(cfg, "fb/bridge/availability").Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create MQTT client")
}

func TestMQTTTransport_Connect_Successful(t *testing.T) {
	mockClient := mocks.NewMockClient(t)
	mockToken := mocks.NewMockToken(t)

	mockClient.On("Connect").Return(mockToken)
	mockToken.On("Done").Return(closedChan())
	mockToken.On("Error").Return(nil)

	transport := NewMQTTTransportWithClient(testConfig(), mockClient)
	assert.NoError(t, transport.Connect(context.Background()))
}

func TestMQTTTransport_Connect_Error(t *testing.T) {
	mockClient := mocks.NewMockClient(t)
	mockToken := mocks.NewMockToken(t)

	mockClient.On("Connect").Return(mockToken)
	mockToken.On("Done").Return(closedChan())
	mockToken.On("Error").Return(assert.AnError)

	transport := NewMQTTTransportWithClient(testConfig(), mockClient)
	err := transport.Connect(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "failed to connect to MQTT broker")
}

func TestMQTTTransport_Connect_Timeout(t *testing.T) {
	cfg := testConfig()
	cfg.MQTT.ConnectTimeout = 50 * time.Millisecond

	mockClient := mocks.NewMockClient(t)
	mockToken := mocks.NewMockToken(t)

	mockClient.On("Connect").Return(mockToken)
	mockToken.On("Done").Return(make(chan struct{}))

	transport := NewMQTTTransportWithClient(cfg, mockClient)
	err := transport.Connect(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestMQTTTransport_Execute_NotConnected(t *testing.T) {
	transport := NewMQTTTransport(testConfig(), "")
	err := transport.Execute(context.Background(), domain.Publish("a", domain.AtMostOnce, false, nil))
	assert.Error(t, err)
}

func TestMQTTTransport_Publish_Successful(t *testing.T) {
	mockClient := mocks.NewMockClient(t)
	mockToken := mocks.NewMockToken(t)

	mockClient.On("Publish", "fb/abc/availability", byte(1), true, []byte("online")).Return(mockToken)
	mockToken.On("Done").Return(closedChan())
	mockToken.On("Error").Return(nil)

	transport := NewMQTTTransportWithClient(testConfig(), mockClient)
	err := transport.Execute(context.Background(),
		domain.Publish("fb/abc/availability", domain.AtLeastOnce, true, []byte("online")))
	assert.NoError(t, err)
}

func TestMQTTTransport_Publish_Error(t *testing.T) {
	mockClient := mocks.NewMockClient(t)
	mockToken := mocks.NewMockToken(t)

	mockClient.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(mockToken)
	mockToken.On("Done").Return(closedChan())
	mockToken.On("Error").Return(assert.AnError)

	transport := NewMQTTTransportWithClient(testConfig(), mockClient)
	err := transport.Execute(context.Background(), domain.Publish("a", domain.AtMostOnce, false, []byte("1")))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to publish")
	assert.ErrorIs(t, err, assert.AnError)
}

func TestMQTTTransport_Publish_ContextCancelled(t *testing.T) {
	mockClient := mocks.NewMockClient(t)
	mockToken := mocks.NewMockToken(t)

	mockClient.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(mockToken)
	mockToken.On("Done").Return(make(chan struct{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	transport := NewMQTTTransportWithClient(testConfig(), mockClient)
	err := transport.Execute(ctx, domain.Publish("a", domain.AtMostOnce, false, nil))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish timeout")
}

func TestMQTTTransport_SubscribeDeliversMessages(t *testing.T) {
	mockClient := mocks.NewMockClient(t)
	mockToken := mocks.NewMockToken(t)

	var callback mqtt.MessageHandler
	mockClient.On("Subscribe", "homeassistant/status", byte(1), mock.Anything).
		Run(func(args mock.Arguments) { callback = args.Get(2).(mqtt.MessageHandler) }).
		Return(mockToken)
	mockToken.On("Done").Return(closedChan())
	mockToken.On("Error").Return(nil)

	transport := NewMQTTTransportWithClient(testConfig(), mockClient)

	var gotTopic, gotPayload string
	transport.SetMessageHandler(func(topic string, payload []byte) {
		gotTopic, gotPayload = topic, string(payload)
	})

	require.NoError(t, transport.Execute(context.Background(),
		domain.Subscribe("homeassistant/status", domain.AtLeastOnce)))
	require.NotNil(t, callback)

	callback(mockClient, &fakeMessage{topic: "homeassistant/status", payload: []byte("online")})
	assert.Equal(t, "homeassistant/status", gotTopic)
	assert.Equal(t, "online", gotPayload)
}

func TestMQTTTransport_Unsubscribe(t *testing.T) {
	mockClient := mocks.NewMockClient(t)
	mockToken := mocks.NewMockToken(t)

	mockClient.On("Unsubscribe", []string{"homeassistant/status"}).Return(mockToken)
	mockToken.On("Done").Return(closedChan())
	mockToken.On("Error").Return(nil)

	transport := NewMQTTTransportWithClient(testConfig(), mockClient)
	assert.NoError(t, transport.Execute(context.Background(), domain.Unsubscribe("homeassistant/status")))
}

func TestMQTTTransport_UnknownAction(t *testing.T) {
	transport := NewMQTTTransportWithClient(testConfig(), mocks.NewMockClient(t))
	err := transport.Execute(context.Background(), domain.Action{Kind: domain.ActionKind(99), Topic: "a"})
	assert.Error(t, err)
}

func TestMQTTTransport_Close(t *testing.T) {
	t.Run("not connected", func(t *testing.T) {
		assert.NoError(t, NewMQTTTransport(testConfig(), "").Close())
	})

	t.Run("connected", func(t *testing.T) {
		mockClient := mocks.NewMockClient(t)
		mockClient.On("IsConnected").Return(true)
		mockClient.On("Disconnect", uint(250)).Return()

		transport := NewMQTTTransportWithClient(testConfig(), mockClient)
		assert.NoError(t, transport.Close())
	})
}

func TestToPahoProperties(t *testing.T) {
	assert.Nil(t, toPahoProperties(nil))

	expiry := uint32(30)
	props := toPahoProperties(&domain.PublishProperties{
		ContentType:   "application/json",
		MessageExpiry: &expiry,
		User:          map[string]string{"source": "fireboard", "device": "FB1"},
	})

	require.NotNil(t, props)
	assert.Equal(t, "application/json", props.ContentType)
	assert.Equal(t, &expiry, props.MessageExpiry)
	require.Len(t, props.User, 2)
	assert.Equal(t, "device", props.User[0].Key)
	assert.Equal(t, "FB1", props.User[0].Value)
	assert.Equal(t, "source", props.User[1].Key)
}

func TestMQTT5Transport_NotConnected(t *testing.T) {
	transport := NewMQTT5Transport(testConfig(), "fb/bridge/availability")

	assert.Error(t, transport.Execute(context.Background(), domain.Publish("a", domain.AtMostOnce, false, nil)))
	assert.NoError(t, transport.Close())
}

func TestMQTT5TransportClientConfig(t *testing.T) {
	cfg := testConfig()
	cfg.MQTT.ClientID = "bridge-5"
	transport := NewMQTT5Transport(cfg, "fb/bridge/availability")

	broker, err := cfg.BrokerURL()
	require.NoError(t, err)

	cc := transport.clientConfig(broker)
	assert.Equal(t, "bridge-5", cc.ClientConfig.ClientID)
	assert.Equal(t, "user", cc.ConnectUsername)
	assert.Equal(t, []byte("pass"), cc.ConnectPassword)
	require.NotNil(t, cc.WillMessage)
	assert.Equal(t, "fb/bridge/availability", cc.WillMessage.Topic)
	assert.Equal(t, []byte("offline"), cc.WillMessage.Payload)
	assert.True(t, cc.WillMessage.Retain)
	assert.Equal(t, byte(1), cc.WillMessage.QoS)
	assert.Nil(t, cc.TlsCfg)
}
