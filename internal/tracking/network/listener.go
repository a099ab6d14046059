package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/tracking.stimulator/internal/monitoring"
	"github.com/banshee-data/tracking.stimulator/internal/tracking"
)

const (
	// DefaultBindHost keeps tracker traffic on the loopback interface.
	DefaultBindHost    = "127.0.0.1"
	DefaultStopTimeout = 2 * time.Second
	// BufferSize bounds a single datagram.
	BufferSize = 4096

	readPollInterval = 100 * time.Millisecond
)

var (
	ErrBind          = errors.New("failed to bind UDP port")
	ErrStopTimeout   = errors.New("listener did not stop in time")
	ErrNotBound      = errors.New("listener is not bound")
	ErrAlreadyActive = errors.New("listener already started")
)

// State is the lifecycle of a Listener.
type State int32

const (
	StateCreated State = iota
	StateBound
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateBound:
		return "bound"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Handler receives every position parsed from a matching datagram, on the
// listener goroutine.
type Handler func(pos tracking.Position)

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	BindHost    string
	Port        int
	Address     string
	RcvBuf      int
	LogInterval time.Duration
	StopTimeout time.Duration

	Factory   UDPSocketFactory
	Stats     *DatagramStats
	// Forwarder receives a copy of every datagram. It may be shared by many
	// listeners; its owner starts and closes it.
	Forwarder *Forwarder
}

// Listener owns one UDP socket and the goroutine that reads it.
type Listener struct {
	cfg     ListenerConfig
	handler Handler
	stats   *DatagramStats

	mu     sync.Mutex
	state  State
	conn   UDPSocket
	cancel context.CancelFunc
	done   chan struct{}
}

// NewListener binds the UDP socket synchronously. A bind failure is returned
// to the caller and no listener is created.
func NewListener(cfg ListenerConfig, handler Handler) (*Listener, error) {
	if cfg.BindHost == "" {
		cfg.BindHost = DefaultBindHost
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.LogInterval <= 0 {
		cfg.LogInterval = time.Minute
	}
	if cfg.Factory == nil {
		cfg.Factory = RealUDPSocketFactory{}
	}
	if cfg.Stats == nil {
		cfg.Stats = NewDatagramStats()
	}
	if handler == nil {
		handler = func(tracking.Position) {}
	}

	l := &Listener{cfg: cfg, handler: handler, stats: cfg.Stats, state: StateCreated}

	ip := net.ParseIP(cfg.BindHost)
	if ip == nil {
		return nil, fmt.Errorf("%w %d: invalid bind host %q", ErrBind, cfg.Port, cfg.BindHost)
	}
	conn, err := cfg.Factory.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: cfg.Port})
	if err != nil {
		return nil, fmt.Errorf("%w %d: %v", ErrBind, cfg.Port, err)
	}
	if cfg.RcvBuf > 0 {
		if err := conn.SetReadBuffer(cfg.RcvBuf); err != nil {
			monitoring.Logf("[osc] warning: failed to set receive buffer to %d on port %d: %v", cfg.RcvBuf, cfg.Port, err)
		}
	}
	l.conn = conn
	l.state = StateBound
	return l, nil
}

// Port returns the configured port.
func (l *Listener) Port() int { return l.cfg.Port }

// Address returns the subscription address pattern.
func (l *Listener) Address() string { return l.cfg.Address }

// Stats returns the listener's counters.
func (l *Listener) Stats() *DatagramStats { return l.stats }

// State returns the current lifecycle state.
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Start launches the receive goroutine. It returns once the goroutine is
// running; ctx cancellation stops it like Stop does.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case StateBound:
	case StateRunning:
		return ErrAlreadyActive
	default:
		return fmt.Errorf("%w (state %s)", ErrNotBound, l.state)
	}

	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.state = StateRunning

	go l.logStats(ctx)
	go l.run(ctx, l.conn, l.done)

	monitoring.Logf("[osc] listening on %s:%d for %q", l.cfg.BindHost, l.cfg.Port, l.cfg.Address)
	return nil
}

// Stop breaks the blocking read by closing the socket and waits for the
// receive goroutine to exit, bounded by the configured stop timeout. The
// socket is released only after the goroutine has exited or timed out.
func (l *Listener) Stop() error {
	l.mu.Lock()
	switch l.state {
	case StateStopped, StateFailed, StateCreated:
		if l.cancel != nil {
			l.cancel()
		}
		l.mu.Unlock()
		return nil
	case StateBound:
		l.state = StateStopped
		conn := l.conn
		l.mu.Unlock()
		return conn.Close()
	case StateStopping:
		l.mu.Unlock()
		return ErrStopTimeout
	}
	l.state = StateStopping
	cancel, done, conn := l.cancel, l.done, l.conn
	l.mu.Unlock()

	cancel()
	closeErr := conn.Close()

	select {
	case <-done:
	case <-time.After(l.cfg.StopTimeout):
		monitoring.Logf("[osc] listener on port %d did not exit within %v", l.cfg.Port, l.cfg.StopTimeout)
		return ErrStopTimeout
	}

	l.mu.Lock()
	l.state = StateStopped
	l.mu.Unlock()
	if closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
		return closeErr
	}
	return nil
}

func (l *Listener) run(ctx context.Context, conn UDPSocket, done chan struct{}) {
	defer close(done)
	buf := make([]byte, BufferSize)

	for {
		if ctx.Err() != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readPollInterval))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, net.ErrClosed) {
				l.mu.Lock()
				l.state = StateFailed
				l.mu.Unlock()
				monitoring.Logf("[osc] socket on port %d closed unexpectedly", l.cfg.Port)
				return
			}
			monitoring.Logf("[osc] read error on port %d: %v", l.cfg.Port, err)
			continue
		}
		l.handleDatagram(buf[:n])
	}
}

func (l *Listener) handleDatagram(data []byte) {
	l.stats.AddDatagram(len(data))
	if l.cfg.Forwarder != nil {
		l.cfg.Forwarder.ForwardAsync(data)
	}

	positions, err := ParseDatagram(data, l.cfg.Address)
	l.stats.AddSamples(len(positions))
	for _, pos := range positions {
		l.handler(pos)
	}

	switch {
	case err == nil:
	case IsProtocolError(err):
		l.stats.AddMalformed()
		monitoring.Logf("[osc] dropped datagram on port %d: %v", l.cfg.Port, err)
	case errors.Is(err, ErrAddressMismatch):
		l.stats.AddMismatch()
	}
}

func (l *Listener) logStats(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.LogInterval)
	defer ticker.Stop()
	label := fmt.Sprintf("port %d %s", l.cfg.Port, l.cfg.Address)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.stats.LogStats(label)
		}
	}
}
