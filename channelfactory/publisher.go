package channelfactory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"fkreview/model"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DerivedChannelTopic is appended to the configured topic prefix.
const DerivedChannelTopic = "derived-channels"

// Publisher announces newly derived channels.
type Publisher interface {
	PublishDerivedChannel(ctx context.Context, ch model.Channel) error
}

// NopPublisher drops every channel.
type NopPublisher struct{}

func (NopPublisher) PublishDerivedChannel(context.Context, model.Channel) error { return nil }

// Publish sends ch through p and logs failures; publishing never blocks
// derived channel creation.
func Publish(ctx context.Context, p Publisher, ch model.Channel) {
	if p == nil {
		return
	}
	if err := p.PublishDerivedChannel(ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("ChannelFactory: error publishing channel %s: %v", ch.Name, err)
	}
}

// MQTTOptions configures the MQTT publisher.
type MQTTOptions struct {
	Broker      string
	TopicPrefix string
	ClientID    string
	QoS         byte
}

// MQTTPublisher publishes derived channels as JSON to
// <prefix>/derived-channels.
//
// Thread Safety:
//   - The paho client serializes outgoing messages; PublishDerivedChannel
//     may be called from any worker goroutine.
type MQTTPublisher struct {
	client mqtt.Client
	topic  string
	qos    byte
}

// Purpose: Connect to the broker and return a ready publisher.
// Key aspects: Auto-reconnect with a 1 minute ceiling; connection state
// changes are logged.
// Upstream: main startup when mqtt.enabled is set.
// Downstream: paho client.
func NewMQTTPublisher(opts MQTTOptions) (*MQTTPublisher, error) {
	broker := strings.TrimSpace(opts.Broker)
	if broker == "" {
		return nil, errors.New("channelfactory: mqtt broker is required")
	}
	clientID := strings.TrimSpace(opts.ClientID)
	if clientID == "" {
		clientID = fmt.Sprintf("fkreview-%d", time.Now().Unix())
	}

	co := mqtt.NewClientOptions()
	co.AddBroker(broker)
	co.SetClientID(clientID)
	co.SetKeepAlive(60 * time.Second)
	co.SetPingTimeout(10 * time.Second)
	co.SetConnectTimeout(10 * time.Second)
	co.SetAutoReconnect(true)
	co.SetMaxReconnectInterval(1 * time.Minute)
	co.SetOnConnectHandler(func(mqtt.Client) {
		log.Printf("ChannelFactory: connected to MQTT broker %s", broker)
	})
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("ChannelFactory: MQTT connection lost: %v", err)
	})

	client := mqtt.NewClient(co)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("channelfactory: connect to %s: %w", broker, token.Error())
	}
	return &MQTTPublisher{
		client: client,
		topic:  topicFor(opts.TopicPrefix),
		qos:    opts.QoS,
	}, nil
}

func topicFor(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return DerivedChannelTopic
	}
	return prefix + "/" + DerivedChannelTopic
}

// PublishDerivedChannel sends ch and waits for the broker or ctx.
func (p *MQTTPublisher) PublishDerivedChannel(ctx context.Context, ch model.Channel) error {
	payload, err := hashJSON.Marshal(ch)
	if err != nil {
		return fmt.Errorf("channelfactory: encode channel: %w", err)
	}
	token := p.client.Publish(p.topic, p.qos, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects, allowing in-flight messages 250ms to drain.
func (p *MQTTPublisher) Close() {
	if p == nil || p.client == nil {
		return
	}
	p.client.Disconnect(250)
}
