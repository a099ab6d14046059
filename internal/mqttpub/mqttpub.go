// Package mqttpub publishes stimulation pulses to an MQTT broker so that
// other lab equipment can follow the stimulation timeline.
package mqttpub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/tracking.stimulator/internal/host"
	"github.com/banshee-data/tracking.stimulator/internal/monitoring"
	"github.com/banshee-data/tracking.stimulator/internal/tracking"
)

var logf = monitoring.Tagged("mqtt")

const (
	DefaultTopic   = "tracking/pulses"
	publishTimeout = 2 * time.Second
	connectTimeout = 5 * time.Second
)

// Client is the subset of mqtt.Client the publisher needs.
type Client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Config configures a Publisher.
type Config struct {
	Broker   string // e.g. tcp://localhost:1883
	Topic    string
	ClientID string
	QoS      byte
}

// Message is the JSON payload of one TTL edge.
type Message struct {
	Session      string `json:"session,omitempty"`
	Recording    bool   `json:"recording"`
	SourceID     int    `json:"source_id,omitempty"`
	Region       int    `json:"region"`
	Channel      int    `json:"channel"`
	State        bool   `json:"state"`
	SampleNumber int64  `json:"sample_number"`
	// SoftwareMs is milliseconds since acquisition start.
	SoftwareMs float64 `json:"software_ms"`
}

// Stats counts publisher activity.
type Stats struct {
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
	Connected bool   `json:"connected"`
}

// Publisher is a host.EventSink that publishes TTL edges.
type Publisher struct {
	cfg    Config
	client Client

	mu        sync.Mutex
	published uint64
	errors    uint64
}

// New wraps an already connected client.
func New(cfg Config, client Client) *Publisher {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	return &Publisher{cfg: cfg, client: client}
}

// Connect dials the broker with auto-reconnect enabled and returns a
// publisher on it.
func Connect(ctx context.Context, cfg Config) (*Publisher, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("tracker-%d", time.Now().UnixNano())
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		logf("connected to %s as %s", cfg.Broker, cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logf("connection to %s lost, reconnecting: %v", cfg.Broker, err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, ctx.Err()
	case <-time.After(connectTimeout):
		// ConnectRetry keeps trying in the background; publishing fails
		// until it succeeds.
		logf("broker %s not reachable yet, continuing", cfg.Broker)
		return New(cfg, client), nil
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return New(cfg, client), nil
}

// HandleBatch publishes each TTL edge of b.
func (p *Publisher) HandleBatch(ctx context.Context, b host.Batch) error {
	for _, e := range b.Events {
		if e.Kind != tracking.EventTTL {
			continue
		}
		msg := Message{
			Session:      b.Session,
			Recording:    b.Recording,
			SourceID:     e.SourceID,
			Region:       e.Region,
			Channel:      e.Channel,
			State:        e.State,
			SampleNumber: e.SampleNumber,
		}
		if b.SampleRate > 0 {
			msg.SoftwareMs = float64(e.SampleNumber) * 1000 / b.SampleRate
		}
		if err := p.publish(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, msg Message) error {
	if !p.client.IsConnected() {
		p.countError()
		return fmt.Errorf("mqtt not connected")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		p.countError()
		return fmt.Errorf("failed to marshal pulse: %w", err)
	}

	token := p.client.Publish(p.cfg.Topic, p.cfg.QoS, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		p.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		p.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	p.mu.Lock()
	p.published++
	p.mu.Unlock()
	return nil
}

func (p *Publisher) countError() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
}

func (p *Publisher) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Published: p.published, Errors: p.errors, Connected: p.client.IsConnected()}
}

// Close disconnects, allowing in-flight messages 250ms to drain.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
