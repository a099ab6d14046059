package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/tracking.stimulator/internal/monitoring"
)

// DropCounter records datagrams the forwarder could not queue.
type DropCounter interface {
	AddDropped()
}

// Forwarder copies raw tracker datagrams to a second UDP address so another
// consumer can observe the same feed. Forwarding never blocks the listener.
type Forwarder struct {
	conn        net.Conn
	channel     chan []byte
	stats       DropCounter
	logInterval time.Duration
	address     string

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// NewForwarder dials the destination host:port.
func NewForwarder(host string, port int, stats DropCounter, logInterval time.Duration) (*Forwarder, error) {
	address := net.JoinHostPort(host, fmt.Sprint(port))
	raddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve forward address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection: %w", err)
	}
	return newForwarder(conn, address, stats, logInterval), nil
}

func newForwarder(conn net.Conn, address string, stats DropCounter, logInterval time.Duration) *Forwarder {
	if logInterval <= 0 {
		logInterval = time.Minute
	}
	return &Forwarder{
		conn:        conn,
		channel:     make(chan []byte, 1000),
		stats:       stats,
		logInterval: logInterval,
		address:     address,
		done:        make(chan struct{}),
	}
}

// Address returns the destination host:port.
func (f *Forwarder) Address() string { return f.address }

// Start runs the send loop until ctx is cancelled or Close is called. Only
// the first call starts a loop so datagrams stay in order.
func (f *Forwarder) Start(ctx context.Context) {
	f.startOnce.Do(func() { f.start(ctx) })
}

func (f *Forwarder) start(ctx context.Context) {
	go func() {
		failed := 0
		var lastErr error
		ticker := time.NewTicker(f.logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-f.done:
				return
			case pkt := <-f.channel:
				if _, err := f.conn.Write(pkt); err != nil {
					failed++
					lastErr = err
				}
			case <-ticker.C:
				if failed > 0 {
					monitoring.Logf("[osc] failed to forward %d datagrams to %s (latest: %v)", failed, f.address, lastErr)
					failed = 0
					lastErr = nil
				}
			}
		}
	}()
	monitoring.Logf("[osc] forwarding datagrams to %s", f.address)
}

// ForwardAsync queues a copy of pkt. When the queue is full the datagram is
// dropped and counted.
func (f *Forwarder) ForwardAsync(pkt []byte) {
	cp := make([]byte, len(pkt))
	copy(cp, pkt)
	select {
	case <-f.done:
		return
	default:
	}
	select {
	case f.channel <- cp:
	default:
		if f.stats != nil {
			f.stats.AddDropped()
		}
	}
}

// Close stops the send loop and closes the connection.
func (f *Forwarder) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		err = f.conn.Close()
	})
	return err
}
