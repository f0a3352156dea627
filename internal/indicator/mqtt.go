package indicator

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var newMQTTClientFn = mqtt.NewClient

type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
	// PublishTimeout bounds how long Set waits for the broker; zero means 2s.
	PublishTimeout time.Duration
}

type mqttMessage struct {
	State string `json:"state"`
	At    string `json:"at"`
}

// MQTTSink publishes each state as a retained JSON message so a dashboard
// joining late still sees the current state.
type MQTTSink struct {
	client  mqtt.Client
	topic   string
	timeout time.Duration
}

func NewMQTTSink(cfg MQTTConfig) (*MQTTSink, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("indicator: mqtt broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("indicator: mqtt topic is required")
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true)

	client := newMQTTClientFn(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("indicator: mqtt connect %s: %w", cfg.Broker, token.Error())
	}
	log.Printf("indicator: mqtt connected broker=%s topic=%s", cfg.Broker, cfg.Topic)
	return &MQTTSink{client: client, topic: cfg.Topic, timeout: cfg.PublishTimeout}, nil
}

func (m *MQTTSink) Set(s State) {
	payload, err := json.Marshal(mqttMessage{State: s.String(), At: time.Now().UTC().Format(time.RFC3339Nano)})
	if err != nil {
		log.Printf("indicator: mqtt marshal error: %v", err)
		return
	}
	token := m.client.Publish(m.topic, 0, true, payload)
	if !token.WaitTimeout(m.timeout) {
		log.Printf("indicator: mqtt publish timed out state=%s", s)
		return
	}
	if err := token.Error(); err != nil {
		log.Printf("indicator: mqtt publish error state=%s: %v", s, err)
	}
}

func (m *MQTTSink) Close() {
	m.client.Disconnect(250)
}
