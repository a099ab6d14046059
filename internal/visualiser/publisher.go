// Package visualiser streams tracker events to remote viewers over gRPC.
//
// Messages are google.protobuf.Struct values so that viewers in any
// language can decode them without generated stubs. Each event carries a
// "kind" of "position" or "ttl" plus the fields of tracking.Event.
package visualiser

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/tracking.stimulator/internal/host"
	"github.com/banshee-data/tracking.stimulator/internal/monitoring"
	"github.com/banshee-data/tracking.stimulator/internal/tracking"
)

var logf = monitoring.Tagged("visualiser")

const (
	eventQueueSize  = 256
	clientQueueSize = 64
)

// Config holds configuration for the gRPC publisher.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50051")
	ListenAddr string

	// MaxClients caps concurrent streaming clients.
	MaxClients int

	StatsInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:    "localhost:50051",
		MaxClients:    8,
		StatsInterval: 30 * time.Second,
	}
}

// StatusFunc returns a JSON-marshalable snapshot served by GetStatus.
type StatusFunc func() interface{}

// Publisher manages the gRPC server and event broadcasting.
type Publisher struct {
	config   Config
	server   *grpc.Server
	listener net.Listener
	status   StatusFunc

	eventCh   chan *structpb.Struct
	clients   map[string]*clientStream
	clientsMu sync.RWMutex
	nextID    atomic.Uint64

	published   atomic.Uint64
	dropped     atomic.Uint64
	clientCount atomic.Int32

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type clientStream struct {
	id     string
	filter filter
	ch     chan *structpb.Struct
}

// NewPublisher creates a publisher. status may be nil.
func NewPublisher(cfg Config, status StatusFunc) *Publisher {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultConfig().MaxClients
	}
	p := &Publisher{
		config:  cfg,
		status:  status,
		eventCh: make(chan *structpb.Struct, eventQueueSize),
		clients: make(map[string]*clientStream),
		stopCh:  make(chan struct{}),
	}
	p.server = grpc.NewServer()
	p.server.RegisterService(&serviceDesc, p)
	return p
}

// Start listens on the configured address and serves in the background.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis)
}

// Serve serves on an existing listener in the background.
func (p *Publisher) Serve(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("publisher already running")
	}
	p.listener = lis

	p.wg.Add(1)
	go p.broadcastLoop()

	if p.config.StatsInterval > 0 {
		p.wg.Add(1)
		go p.statsLoop()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		logf("gRPC server listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			logf("gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, nil before Start.
func (p *Publisher) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Stop gracefully stops the gRPC server. Open streams are ended.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	p.server.GracefulStop()
	p.wg.Wait()
	logf("gRPC server stopped")
}

// Publish queues one event for every connected client. Events are dropped
// when the queue is full.
func (p *Publisher) Publish(e tracking.Event) {
	if !p.running.Load() {
		return
	}
	msg, err := eventToStruct(e)
	if err != nil {
		logf("encode %s: %v", e, err)
		return
	}
	select {
	case p.eventCh <- msg:
		p.published.Add(1)
	default:
		p.dropped.Add(1)
	}
}

// HandleBatch publishes every event of a processed block. It makes
// Publisher a host.EventSink.
func (p *Publisher) HandleBatch(_ context.Context, b host.Batch) error {
	for _, e := range b.Events {
		p.Publish(e)
	}
	return nil
}

func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case msg := <-p.eventCh:
			p.clientsMu.RLock()
			for _, c := range p.clients {
				if !c.filter.match(msg) {
					continue
				}
				select {
				case c.ch <- msg:
				default:
					p.dropped.Add(1)
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

func (p *Publisher) statsLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.config.StatsInterval)
	defer ticker.Stop()
	var last uint64
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			n := p.published.Load()
			if n != last {
				logf("stats: events=%d dropped=%d clients=%d", n-last, p.dropped.Load(), p.clientCount.Load())
				last = n
			}
		}
	}
}

func (p *Publisher) addClient(f filter) (*clientStream, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if len(p.clients) >= p.config.MaxClients {
		return nil, fmt.Errorf("client limit %d reached", p.config.MaxClients)
	}
	c := &clientStream{
		id:     fmt.Sprintf("grpc-%d", p.nextID.Add(1)),
		filter: f,
		ch:     make(chan *structpb.Struct, clientQueueSize),
	}
	p.clients[c.id] = c
	p.clientCount.Add(1)
	logf("client connected: %s (total: %d)", c.id, len(p.clients))
	return c, nil
}

func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if _, ok := p.clients[id]; ok {
		delete(p.clients, id)
		p.clientCount.Add(-1)
		logf("client disconnected: %s (remaining: %d)", id, len(p.clients))
	}
}

// Stats contains publisher statistics.
type Stats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Clients   int32  `json:"clients"`
	Running   bool   `json:"running"`
}

func (p *Publisher) Stats() Stats {
	return Stats{
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
		Clients:   p.clientCount.Load(),
		Running:   p.running.Load(),
	}
}
