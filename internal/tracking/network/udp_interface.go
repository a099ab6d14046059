package network

import (
	"net"
	"sync"
	"time"
)

// UDPSocket defines the socket operations the listener needs.
// This abstraction enables unit testing without real network connections.
type UDPSocket interface {
	// ReadFromUDP reads a UDP packet from the socket.
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)

	// SetReadBuffer sets the size of the operating system's receive buffer.
	SetReadBuffer(bytes int) error

	// SetReadDeadline sets the deadline for future Read calls.
	SetReadDeadline(t time.Time) error

	// Close closes the socket and unblocks any pending read.
	Close() error

	// LocalAddr returns the local network address.
	LocalAddr() net.Addr
}

// UDPSocketFactory creates UDP sockets.
type UDPSocketFactory interface {
	ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error)
}

// RealUDPSocketFactory implements UDPSocketFactory using net.ListenUDP.
// *net.UDPConn already satisfies UDPSocket.
type RealUDPSocketFactory struct{}

// ListenUDP binds a UDP socket.
func (RealUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// timeoutError satisfies net.Error with Timeout() == true.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// MockUDPPacket is one datagram delivered by MockUDPSocket.
type MockUDPPacket struct {
	Data []byte
	Addr *net.UDPAddr
}

// MockUDPSocket is an in-memory UDPSocket. Reads block until a packet is
// injected, the read deadline passes, or the socket is closed.
type MockUDPSocket struct {
	packets chan MockUDPPacket
	closed  chan struct{}

	mu             sync.Mutex
	closeOnce      sync.Once
	deadline       time.Time
	readBufferSize int
	local          *net.UDPAddr
}

// NewMockUDPSocket creates a mock bound to port on loopback.
func NewMockUDPSocket(port int) *MockUDPSocket {
	return &MockUDPSocket{
		packets: make(chan MockUDPPacket, 64),
		closed:  make(chan struct{}),
		local:   &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port},
	}
}

// Inject queues a datagram for the next read.
func (m *MockUDPSocket) Inject(data []byte) {
	m.packets <- MockUDPPacket{Data: data, Addr: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}}
}

func (m *MockUDPSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	m.mu.Lock()
	deadline := m.deadline
	m.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d < 0 {
			d = 0
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-m.closed:
		return 0, nil, net.ErrClosed
	default:
	}

	select {
	case pkt := <-m.packets:
		return copy(b, pkt.Data), pkt.Addr, nil
	case <-m.closed:
		return 0, nil, net.ErrClosed
	case <-timeout:
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: timeoutError{}}
	}
}

func (m *MockUDPSocket) SetReadBuffer(bytes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readBufferSize = bytes
	return nil
}

// ReadBufferSize returns the last value passed to SetReadBuffer.
func (m *MockUDPSocket) ReadBufferSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readBufferSize
}

func (m *MockUDPSocket) SetReadDeadline(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadline = t
	return nil
}

func (m *MockUDPSocket) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

// Closed reports whether Close has been called.
func (m *MockUDPSocket) Closed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

func (m *MockUDPSocket) LocalAddr() net.Addr { return m.local }

// MockUDPSocketFactory hands out mock sockets keyed by port and can be told
// to fail binds.
type MockUDPSocketFactory struct {
	mu      sync.Mutex
	sockets map[int]*MockUDPSocket
	// FailPorts makes ListenUDP fail for the listed ports.
	FailPorts map[int]error
	// FailNext fails the next binds in order, whatever their port.
	FailNext  []error
	Calls     []*net.UDPAddr
}

// NewMockUDPSocketFactory creates an empty factory.
func NewMockUDPSocketFactory() *MockUDPSocketFactory {
	return &MockUDPSocketFactory{
		sockets:   make(map[int]*MockUDPSocket),
		FailPorts: make(map[int]error),
	}
}

func (f *MockUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, laddr)
	if len(f.FailNext) > 0 {
		err := f.FailNext[0]
		f.FailNext = f.FailNext[1:]
		return nil, err
	}
	if err, ok := f.FailPorts[laddr.Port]; ok {
		return nil, err
	}
	s := NewMockUDPSocket(laddr.Port)
	f.sockets[laddr.Port] = s
	return s, nil
}

// Socket returns the most recent socket bound on port.
func (f *MockUDPSocketFactory) Socket(port int) *MockUDPSocket {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sockets[port]
}
