package forward

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

var ErrTimeout = errors.New("mqtt operation timed out")

type MQTTConfig struct {
	Broker   string
	ClientID string
	// Timeout bounds connect, publish and subscribe waits.
	Timeout time.Duration
	QoS     byte
}

// MQTTPublisher publishes to an MQTT broker and can subscribe an outbound
// topic onto the session's upstream queue.
type MQTTPublisher struct {
	client  mqtt.Client
	qos     byte
	timeout time.Duration
	log     zerolog.Logger
}

// DialMQTT connects to cfg.Broker. paho reconnects on its own after the
// first successful connect.
func DialMQTT(cfg MQTTConfig, log zerolog.Logger) (*MQTTPublisher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(cfg.Timeout)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("mqtt connection lost")
	})

	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, err)
	}
	log.Info().Str("broker", cfg.Broker).Str("client_id", cfg.ClientID).Msg("mqtt connected")
	return NewMQTTPublisher(c, cfg.QoS, cfg.Timeout, log), nil
}

// NewMQTTPublisher wraps an already connected client.
func NewMQTTPublisher(c mqtt.Client, qos byte, timeout time.Duration, log zerolog.Logger) *MQTTPublisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MQTTPublisher{client: c, qos: qos, timeout: timeout, log: log}
}

func (p *MQTTPublisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, p.qos, false, payload)
	if !token.WaitTimeout(p.timeout) {
		return ErrTimeout
	}
	return token.Error()
}

// SubscribeOutbound pushes every sentence received on topic to push. A
// message may carry several CRLF separated sentences.
func (p *MQTTPublisher) SubscribeOutbound(topic string, push func(string) bool) error {
	token := p.client.Subscribe(topic, p.qos, func(_ mqtt.Client, msg mqtt.Message) {
		for _, line := range splitSentences(string(msg.Payload())) {
			if !push(line) {
				p.log.Warn().Str("topic", msg.Topic()).Str("sentence", line).Msg("upstream channel full, outbound sentence dropped")
			}
		}
	})
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("subscribe %s: %w", topic, ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}

func splitSentences(payload string) []string {
	var out []string
	for _, line := range strings.FieldsFunc(payload, func(r rune) bool { return r == '\r' || r == '\n' }) {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
