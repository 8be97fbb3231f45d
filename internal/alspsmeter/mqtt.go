package alspsmeter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ztkent/alsps-meter/epl8802"
)

// MQTTConfig holds the broker connection settings.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// NewMQTTClient connects to the broker, reconnecting automatically after a loss.
func NewMQTTClient(config MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		l.WithField("broker", config.Broker).Info("MQTT connection established")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		l.WithError(err).Warn("MQTT connection lost")
	})
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return client, nil
}

// Publisher forwards recorded readings to <prefix>/light and <prefix>/proximity.
type Publisher struct {
	client      mqtt.Client
	topicPrefix string

	Records chan Record
}

func NewPublisher(client mqtt.Client, topicPrefix string) *Publisher {
	return &Publisher{
		client:      client,
		topicPrefix: topicPrefix,
		Records:     make(chan Record, 64),
	}
}

// Enqueue hands a record to the publish loop. Records are dropped while the
// queue is full so a slow broker never stalls the recorder.
func (p *Publisher) Enqueue(rec Record) {
	select {
	case p.Records <- rec:
	default:
		l.WithField("channel", rec.Channel).Debug("MQTT queue full, dropping reading")
	}
}

// Start publishes queued records until ctx is done or the queue is closed.
func (p *Publisher) Start(ctx context.Context) {
	l.Info("MQTT publisher starting")
	for {
		select {
		case <-ctx.Done():
			l.Info("MQTT publisher stopping")
			return
		case rec, ok := <-p.Records:
			if !ok {
				return
			}
			if err := p.publish(rec); err != nil {
				l.WithError(err).Warn("Failed to publish reading")
			}
		}
	}
}

func (p *Publisher) publish(rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}
	token := p.client.Publish(p.Topic(rec.Channel), 1, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish reading: %w", token.Error())
	}
	return nil
}

// Topic returns the topic readings of ch are published on.
func (p *Publisher) Topic(ch epl8802.Channel) string {
	if ch == epl8802.Proximity {
		return p.topicPrefix + "/proximity"
	}
	return p.topicPrefix + "/light"
}
