package pubsub

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/resident-x/fireboard2mqtt/internal/availability"
	"github.com/resident-x/fireboard2mqtt/internal/config"
	"github.com/resident-x/fireboard2mqtt/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const executeTimeout = 5 * time.Second

// MessageHandler receives messages for subscribed topics.
type MessageHandler func(topic string, payload []byte)

// NewTransport picks the transport for the configuration: a no-op when MQTT
// is disabled, otherwise MQTT 5 or MQTT 3.1.1 by protocol version.
func NewTransport(cfg *config.Config, willTopic string) Transport {
	switch {
	case !cfg.MQTT.Enabled:
		return NewNoopTransport()
	case cfg.MQTT.ProtocolVersion == 5:
		return NewMQTT5Transport(cfg, willTopic)
	default:
		return NewMQTTTransport(cfg, willTopic)
	}
}

// NoopTransport is a no-operation implementation of the Transport interface.
type NoopTransport struct {
	logger zerolog.Logger
}

// NewNoopTransport creates a new no-operation transport.
func NewNoopTransport() *NoopTransport {
	return &NoopTransport{logger: log.With().Str("component", "mqtt").Logger()}
}

// Connect is a no-op for the NoopTransport.
func (t *NoopTransport) Connect(_ context.Context) error {
	return nil
}

// Execute only logs the action.
func (t *NoopTransport) Execute(_ context.Context, action domain.Action) error {
	t.logger.Debug().
		Str("kind", action.Kind.String()).
		Str("topic", action.Topic).
		Bytes("payload", action.Payload).
		Msg("MQTT disabled, dropping action")
	return nil
}

// Close is a no-op for the NoopTransport.
func (t *NoopTransport) Close() error {
	return nil
}

// MQTTTransport implements Transport for MQTT 3.1.1. Publish properties are
// an MQTT 5 feature and are ignored.
type MQTTTransport struct {
	config        *config.Config
	client        mqtt.Client
	willTopic     string
	logger        zerolog.Logger
	clientFactory func(*MQTTTransport) (mqtt.Client, error) // Factory function for creating MQTT clients (testable)
	onMessage     MessageHandler
}

// NewMQTTTransport creates a new MQTT 3.1.1 transport. The broker keeps an
// "offline" last will on willTopic.
func NewMQTTTransport(cfg *config.Config, willTopic string) *MQTTTransport {
	t := &MQTTTransport{
		config:        cfg,
		willTopic:     willTopic,
		logger:        log.With().Str("component", "mqtt").Logger(),
		clientFactory: createMQTTClient,
	}
	t.onMessage = t.logMessage
	return t
}

// NewMQTTTransportWithClient creates a new MQTT transport with a custom client (for testing).
func NewMQTTTransportWithClient(cfg *config.Config, client mqtt.Client) *MQTTTransport {
	t := NewMQTTTransport(cfg, "")
	t.client = client
	return t
}

// SetMessageHandler replaces the handler for messages on subscribed topics.
func (t *MQTTTransport) SetMessageHandler(h MessageHandler) {
	t.onMessage = h
}

// createMQTTClient is the default factory function for creating MQTT clients.
func createMQTTClient(t *MQTTTransport) (mqtt.Client, error) {
	broker, err := t.config.BrokerURL()
	if err != nil {
		return nil, err
	}

	opts := mqtt.NewClientOptions().
		AddBroker(broker.String()).
		SetClientID(t.config.MQTT.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(t.config.MQTT.ConnectTimeout).
		SetWriteTimeout(executeTimeout).
		SetKeepAlive(30 * time.Second).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetOnConnectHandler(func(mqtt.Client) {
			t.logger.Info().Str("broker", broker.String()).Msg("MQTT connection established")
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			t.logger.Warn().Err(err).Msg("MQTT connection lost")
		})

	if t.willTopic != "" {
		opts.SetWill(t.willTopic, availability.Offline, byte(domain.AtLeastOnce), true)
	}

	// Set credentials if provided
	if t.config.MQTT.Username != "" {
		opts.SetUsername(t.config.MQTT.Username)
		opts.SetPassword(t.config.MQTT.Password)
	}

	if broker.Scheme == "ssl" {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	return mqtt.NewClient(opts), nil
}

// Connect establishes a connection to the MQTT broker.
func (t *MQTTTransport) Connect(ctx context.Context) error {
	// Create client if not already set (for testing)
	if t.client == nil {
		client, err := t.clientFactory(t)
		if err != nil {
			return fmt.Errorf("failed to create MQTT client: %w", err)
		}
		t.client = client
	}

	timeout := t.config.MQTT.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	connToken := t.client.Connect()

	// Wait for connection or context timeout
	select {
	case <-connectCtx.Done():
		return fmt.Errorf("failed to connect to MQTT broker: timeout after %s", timeout)
	case <-connToken.Done():
		if connToken.Error() != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", connToken.Error())
		}
	}

	return nil
}

// Execute performs one action and waits for the broker to acknowledge it.
func (t *MQTTTransport) Execute(ctx context.Context, action domain.Action) error {
	if t.client == nil {
		return errors.New("mqtt transport is not connected")
	}

	var token mqtt.Token
	switch action.Kind {
	case domain.ActionPublish:
		token = t.client.Publish(action.Topic, byte(action.QoS), action.Retain, action.Payload)
	case domain.ActionSubscribe:
		token = t.client.Subscribe(action.Topic, byte(action.QoS), func(_ mqtt.Client, msg mqtt.Message) {
			t.onMessage(msg.Topic(), msg.Payload())
		})
	case domain.ActionUnsubscribe:
		token = t.client.Unsubscribe(action.Topic)
	default:
		return fmt.Errorf("unsupported action kind %s", action.Kind)
	}

	execCtx, cancel := context.WithTimeout(ctx, executeTimeout)
	defer cancel()

	// Wait for the broker or context timeout
	select {
	case <-execCtx.Done():
		return fmt.Errorf("%s timeout after %s", action.Kind, executeTimeout)
	case <-token.Done():
		if token.Error() != nil {
			return fmt.Errorf("failed to %s: %w", action.Kind, token.Error())
		}
	}

	t.logger.Trace().
		Str("kind", action.Kind.String()).
		Str("topic", action.Topic).
		Bool("retain", action.Retain).
		Msg("MQTT action done")
	return nil
}

func (t *MQTTTransport) logMessage(topic string, payload []byte) {
	t.logger.Debug().Str("topic", topic).Bytes("payload", payload).Msg("MQTT message received")
}

// Close terminates the connection to the MQTT broker.
func (t *MQTTTransport) Close() error {
	if t.client != nil && t.client.IsConnected() {
		t.client.Disconnect(250) // Disconnect with 250ms timeout
	}
	return nil
}
