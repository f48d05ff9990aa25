package domain

import "fmt"

// QoS is an MQTT quality-of-service level.
type QoS byte

const (
	AtMostOnce  QoS = 0
	AtLeastOnce QoS = 1
)

// ActionKind identifies the command carried by an Action.
type ActionKind int

const (
	ActionPublish ActionKind = iota
	ActionSubscribe
	ActionUnsubscribe
)

func (k ActionKind) String() string {
	switch k {
	case ActionPublish:
		return "publish"
	case ActionSubscribe:
		return "subscribe"
	case ActionUnsubscribe:
		return "unsubscribe"
	default:
		return fmt.Sprintf("ActionKind(%d)", int(k))
	}
}

// PublishProperties are optional MQTT v5 publish properties.
// Transports that speak MQTT 3.1.1 ignore them.
type PublishProperties struct {
	ContentType   string
	MessageExpiry *uint32
	User          map[string]string
}

// Action is a single command for the message sink. A publish action is an
// outbound message; ownership of Payload passes to the sink once sent.
type Action struct {
	Kind       ActionKind
	Topic      string
	QoS        QoS
	Retain     bool
	Payload    []byte
	Properties *PublishProperties
}

// Publish builds a publish action.
func Publish(topic string, qos QoS, retain bool, payload []byte) Action {
	return Action{
		Kind:    ActionPublish,
		Topic:   topic,
		QoS:     qos,
		Retain:  retain,
		Payload: payload,
	}
}

// Subscribe builds a subscribe action.
func Subscribe(topic string, qos QoS) Action {
	return Action{Kind: ActionSubscribe, Topic: topic, QoS: qos}
}

// Unsubscribe builds an unsubscribe action.
func Unsubscribe(topic string) Action {
	return Action{Kind: ActionUnsubscribe, Topic: topic}
}

// WithProperties returns a copy of a with the given publish properties.
func (a Action) WithProperties(props *PublishProperties) Action {
	a.Properties = props
	return a
}
