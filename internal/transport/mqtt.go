package transport

import (
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/relabs-tech/cycle_tracker/internal/wire"
)

// disconnectQuiesceMs is how long Disconnect waits for in-flight work.
const disconnectQuiesceMs = 250

// MQTTPublisher publishes each packet to <prefix>/<kind> with QoS 0, not
// retained.
type MQTTPublisher struct {
	broker string
	prefix string
	client mqtt.Client
}

// ClientID returns base with a short random suffix so several tools can
// share one broker.
func ClientID(base string) string {
	return fmt.Sprintf("%s-%s", base, uuid.NewString()[:8])
}

func connect(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, &Error{Op: "connect", Addr: broker, Err: token.Error()}
	}
	return client, nil
}

// DialMQTT connects to broker.
func DialMQTT(broker, clientID, prefix string) (*MQTTPublisher, error) {
	client, err := connect(broker, clientID)
	if err != nil {
		return nil, err
	}
	return &MQTTPublisher{broker: broker, prefix: strings.TrimSuffix(prefix, "/"), client: client}, nil
}

// Topic returns the topic a packet of kind is published on.
func (m *MQTTPublisher) Topic(kind string) string {
	return m.prefix + "/" + kind
}

// Publish encodes p and publishes it, waiting for the client to accept it.
func (m *MQTTPublisher) Publish(p wire.Packet) error {
	b, err := wire.Marshal(p)
	if err != nil {
		return &Error{Op: "publish", Addr: m.broker, Err: err}
	}
	token := m.client.Publish(m.Topic(p.Kind()), 0, false, b)
	token.Wait()
	if token.Error() != nil {
		return &Error{Op: "publish", Addr: m.broker, Err: token.Error()}
	}
	return nil
}

// Close disconnects from the broker.
func (m *MQTTPublisher) Close() error {
	m.client.Disconnect(disconnectQuiesceMs)
	return nil
}

// MQTTSubscriber delivers messages on <prefix>/# to a Handler-like callback.
type MQTTSubscriber struct {
	broker string
	client mqtt.Client
}

// SubscribeMQTT connects to broker and subscribes to every packet topic
// under prefix. h receives the payload and the topic.
func SubscribeMQTT(broker, clientID, prefix string, h func(payload []byte, topic string)) (*MQTTSubscriber, error) {
	client, err := connect(broker, clientID)
	if err != nil {
		return nil, err
	}

	topic := strings.TrimSuffix(prefix, "/") + "/#"
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		h(msg.Payload(), msg.Topic())
	})
	token.Wait()
	if token.Error() != nil {
		client.Disconnect(disconnectQuiesceMs)
		return nil, &Error{Op: "subscribe", Addr: broker, Err: token.Error()}
	}
	return &MQTTSubscriber{broker: broker, client: client}, nil
}

// Close disconnects from the broker.
func (s *MQTTSubscriber) Close() error {
	s.client.Disconnect(disconnectQuiesceMs)
	return nil
}
