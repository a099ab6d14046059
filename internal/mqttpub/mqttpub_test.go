package mqttpub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/tracking.stimulator/internal/host"
	"github.com/banshee-data/tracking.stimulator/internal/tracking"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	mu           sync.Mutex
	connected    bool
	err          error
	messages     []published
	disconnected bool
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic, qos, payload.([]byte)})
	return newToken(c.err)
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func pulseBatch() host.Batch {
	b := tracking.Block{FirstSample: 3000, NumSamples: 1024, SampleRate: 30000}
	b.Events = append(b.Events, tracking.Event{Kind: tracking.EventPosition, SampleNumber: 3000, SourceID: 1})
	b.AddTTL(0, 1, true, 2)
	b.Events[len(b.Events)-1].SourceID = 1
	b.AddTTL(1500, 1, false, 2)
	return host.Batch{Block: b, Recording: true, Session: "s-1"}
}

func TestHandleBatchPublishesTTLEdges(t *testing.T) {
	client := &fakeClient{connected: true}
	p := New(Config{QoS: 1}, client)

	require.NoError(t, p.HandleBatch(context.Background(), pulseBatch()))
	require.Len(t, client.messages, 2)
	assert.Equal(t, DefaultTopic, client.messages[0].topic)
	assert.Equal(t, byte(1), client.messages[0].qos)

	var first, second Message
	require.NoError(t, json.Unmarshal(client.messages[0].payload, &first))
	require.NoError(t, json.Unmarshal(client.messages[1].payload, &second))
	assert.Equal(t, Message{
		Session: "s-1", Recording: true, SourceID: 1, Region: 2, Channel: 1, State: true,
		SampleNumber: 3000, SoftwareMs: 100,
	}, first)
	assert.False(t, second.State)
	assert.Equal(t, int64(4500), second.SampleNumber)
	assert.Equal(t, 150.0, second.SoftwareMs)

	assert.Equal(t, Stats{Published: 2, Connected: true}, p.Stats())
}

func TestHandleBatchErrors(t *testing.T) {
	client := &fakeClient{}
	p := New(Config{Topic: "lab/ttl"}, client)

	err := p.HandleBatch(context.Background(), pulseBatch())
	assert.ErrorContains(t, err, "not connected")
	assert.Empty(t, client.messages)

	client.connected = true
	client.err = errors.New("broker full")
	err = p.HandleBatch(context.Background(), pulseBatch())
	assert.ErrorContains(t, err, "broker full")
	assert.Equal(t, "lab/ttl", client.messages[0].topic)
	assert.Equal(t, uint64(2), p.Stats().Errors)
}

func TestClose(t *testing.T) {
	client := &fakeClient{connected: true}
	New(Config{}, client).Close()
	assert.True(t, client.disconnected)
}
