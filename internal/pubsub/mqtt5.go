package pubsub

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/resident-x/fireboard2mqtt/internal/availability"
	"github.com/resident-x/fireboard2mqtt/internal/config"
	"github.com/resident-x/fireboard2mqtt/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// MQTT5Transport implements Transport for MQTT 5 using autopaho, which keeps
// the connection up in the background. Publish properties are forwarded.
type MQTT5Transport struct {
	config    *config.Config
	willTopic string
	logger    zerolog.Logger
	onMessage MessageHandler

	cm     *autopaho.ConnectionManager
	cancel context.CancelFunc
}

// NewMQTT5Transport creates a new MQTT 5 transport with an "offline" last will on willTopic.
func NewMQTT5Transport(cfg *config.Config, willTopic string) *MQTT5Transport {
	t := &MQTT5Transport{
		config:    cfg,
		willTopic: willTopic,
		logger:    log.With().Str("component", "mqtt5").Logger(),
	}
	t.onMessage = func(topic string, payload []byte) {
		t.logger.Debug().Str("topic", topic).Bytes("payload", payload).Msg("MQTT message received")
	}
	return t
}

// SetMessageHandler replaces the handler for messages on subscribed topics.
func (t *MQTT5Transport) SetMessageHandler(h MessageHandler) {
	t.onMessage = h
}

func (t *MQTT5Transport) clientConfig(broker *url.URL) autopaho.ClientConfig {
	cfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{broker},
		KeepAlive:       30,
		ConnectUsername: t.config.MQTT.Username,
		ConnectPassword: []byte(t.config.MQTT.Password),
		OnConnectionUp: func(_ *autopaho.ConnectionManager, _ *paho.Connack) {
			t.logger.Info().Str("broker", broker.String()).Msg("MQTT connection established")
		},
		OnConnectError: func(err error) {
			t.logger.Warn().Err(err).Msg("MQTT connection error")
		},
		ClientConfig: paho.ClientConfig{
			ClientID: t.config.MQTT.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					t.onMessage(pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
			OnClientError: func(err error) {
				t.logger.Warn().Err(err).Msg("MQTT client error")
			},
		},
	}

	if t.willTopic != "" {
		cfg.WillMessage = &paho.WillMessage{
			Topic:   t.willTopic,
			Payload: []byte(availability.Offline),
			QoS:     byte(domain.AtLeastOnce),
			Retain:  true,
		}
	}

	if broker.Scheme == "ssl" {
		cfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return cfg
}

// Connect starts the connection manager and waits for the first connection.
func (t *MQTT5Transport) Connect(ctx context.Context) error {
	broker, err := t.config.BrokerURL()
	if err != nil {
		return fmt.Errorf("failed to create MQTT client: %w", err)
	}

	// The connection manager lives until Close, not until ctx is done.
	lifetime, cancel := context.WithCancel(context.Background())

	cm, err := autopaho.NewConnection(lifetime, t.clientConfig(broker))
	if err != nil {
		cancel()
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	timeout := t.config.MQTT.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	connectCtx, connectCancel := context.WithTimeout(ctx, timeout)
	defer connectCancel()

	if err := cm.AwaitConnection(connectCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	t.cm = cm
	t.cancel = cancel
	return nil
}

// Execute performs one action and waits for the broker to acknowledge it.
func (t *MQTT5Transport) Execute(ctx context.Context, action domain.Action) error {
	if t.cm == nil {
		return errors.New("mqtt transport is not connected")
	}

	execCtx, cancel := context.WithTimeout(ctx, executeTimeout)
	defer cancel()

	var err error
	switch action.Kind {
	case domain.ActionPublish:
		_, err = t.cm.Publish(execCtx, &paho.Publish{
			Topic:      action.Topic,
			QoS:        byte(action.QoS),
			Retain:     action.Retain,
			Payload:    action.Payload,
			Properties: toPahoProperties(action.Properties),
		})
	case domain.ActionSubscribe:
		_, err = t.cm.Subscribe(execCtx, &paho.Subscribe{
			Subscriptions: []paho.SubscribeOptions{{Topic: action.Topic, QoS: byte(action.QoS)}},
		})
	case domain.ActionUnsubscribe:
		_, err = t.cm.Unsubscribe(execCtx, &paho.Unsubscribe{Topics: []string{action.Topic}})
	default:
		return fmt.Errorf("unsupported action kind %s", action.Kind)
	}
	if err != nil {
		return fmt.Errorf("failed to %s: %w", action.Kind, err)
	}
	return nil
}

// Close disconnects cleanly, which suppresses the last will.
func (t *MQTT5Transport) Close() error {
	if t.cm == nil {
		return nil
	}
	defer t.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), executeTimeout)
	defer cancel()
	return t.cm.Disconnect(ctx)
}

// toPahoProperties converts publish properties. User properties are sorted by
// key so the wire order is stable.
func toPahoProperties(p *domain.PublishProperties) *paho.PublishProperties {
	if p == nil {
		return nil
	}

	props := &paho.PublishProperties{
		ContentType:   p.ContentType,
		MessageExpiry: p.MessageExpiry,
	}

	keys := lo.Keys(p.User)
	sort.Strings(keys)
	for _, k := range keys {
		props.User = append(props.User, paho.UserProperty{Key: k, Value: p.User[k]})
	}

	return props
}
