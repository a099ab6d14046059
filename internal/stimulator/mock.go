package stimulator

import (
	"bytes"
	"errors"
	"sync"
)

var errPortClosed = errors.New("serial port closed")

// MockPort is an in-memory Port. Reads block until data is added or the port
// is closed. With Echo set, every written line is acknowledged with
// "OK <line>" the way the firmware does.
type MockPort struct {
	mu sync.Mutex

	readBuf  bytes.Buffer
	writeBuf bytes.Buffer
	partial  []byte
	closed   bool
	cond     *sync.Cond

	// WriteError is returned by the next Write call if set.
	WriteError error
	Echo       bool
}

func NewMockPort() *MockPort {
	p := &MockPort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *MockPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.closed && p.readBuf.Len() == 0 {
		p.cond.Wait()
	}
	if p.closed {
		return 0, errPortClosed
	}
	return p.readBuf.Read(b)
}

func (p *MockPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errPortClosed
	}
	if p.WriteError != nil {
		err := p.WriteError
		p.WriteError = nil
		return 0, err
	}
	p.writeBuf.Write(b)
	if p.Echo {
		p.partial = append(p.partial, b...)
		for {
			i := bytes.IndexByte(p.partial, '\n')
			if i < 0 {
				break
			}
			p.readBuf.WriteString("OK ")
			p.readBuf.Write(p.partial[:i+1])
			p.partial = p.partial[i+1:]
		}
		p.cond.Broadcast()
	}
	return len(b), nil
}

func (p *MockPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
	return nil
}

// AddReadData queues data for subsequent Read calls.
func (p *MockPort) AddReadData(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readBuf.Write(data)
	p.cond.Broadcast()
}

// Written returns everything written to the port so far.
func (p *MockPort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeBuf.String()
}

func (p *MockPort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
