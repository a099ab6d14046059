package node

import (
	"errors"
	"fmt"
	"sort"

	"github.com/banshee-data/tracking.stimulator/internal/tracking"
	"github.com/banshee-data/tracking.stimulator/internal/tracking/network"
)

const (
	MaxSources     = 10
	DefaultPort    = 27020
	DefaultAddress = "/red"
	MinPort        = 1024
	MaxPort        = 49151
)

var (
	ErrTooManySources = errors.New("maximum number of sources reached")
	ErrInvalidPort    = errors.New("port out of range")
	ErrSourceNotFound = errors.New("source not found")
)

// SourceConfig describes a source to add. Port 0 auto-assigns; an empty
// Address uses DefaultAddress; an empty Color picks the next unused colour.
type SourceConfig struct {
	Name    string `json:"name"`
	Port    int    `json:"port"`
	Address string `json:"address"`
	Color   string `json:"color,omitempty"`
}

// Source is one tracker feed. It is only reachable through the node's
// arena; callers hold ids, never *Source.
type Source struct {
	id      int
	name    string
	port    int
	address string
	color   tracking.Color

	queue    *tracking.Queue
	listener *network.Listener
	stats    *network.DatagramStats

	last          tracking.Position
	lastTimestamp int64
	hasPosition   bool
	inside        bool
}

// SourceInfo is a copy of a source's state for display and persistence.
type SourceInfo struct {
	ID          int                   `json:"id"`
	Name        string                `json:"name"`
	Port        int                   `json:"port"`
	Address     string                `json:"address"`
	Color       tracking.Color        `json:"color"`
	Listening   bool                  `json:"listening"`
	HasPosition bool                  `json:"has_position"`
	Position    tracking.Position     `json:"position"`
	Timestamp   int64                 `json:"timestamp"`
	Inside      bool                  `json:"inside"`
	Queued      int                   `json:"queued"`
	Overruns    uint64                `json:"overruns"`
	Stats       network.StatsSnapshot `json:"stats"`
}

func (s *Source) info() SourceInfo {
	info := SourceInfo{
		ID:          s.id,
		Name:        s.name,
		Port:        s.port,
		Address:     s.address,
		Color:       s.color,
		Listening:   s.listener != nil && s.listener.State() == network.StateRunning,
		HasPosition: s.hasPosition,
		Position:    s.last,
		Timestamp:   s.lastTimestamp,
		Inside:      s.inside,
		Queued:      s.queue.Len(),
		Overruns:    s.queue.Overruns(),
	}
	if s.stats != nil {
		info.Stats = s.stats.Snapshot()
	}
	return info
}

// AddSource binds a listener for cfg and registers the source. On any
// failure nothing is registered and all allocated resources are released.
func (n *Node) AddSource(cfg SourceConfig) (int, error) {
	n.ctl.Lock()
	defer n.ctl.Unlock()

	n.mu.Lock()
	if len(n.sources) >= MaxSources {
		n.mu.Unlock()
		return 0, ErrTooManySources
	}
	port := cfg.Port
	if port == 0 {
		port = n.nextPortLocked()
	}
	used := make([]tracking.Color, 0, len(n.sources))
	for _, s := range n.sources {
		used = append(used, s.color)
	}
	n.mu.Unlock()

	if port < MinPort || port > MaxPort {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	address := cfg.Address
	if address == "" {
		address = DefaultAddress
	}
	color := tracking.NextUnusedColor(used)
	if cfg.Color != "" {
		color, _ = tracking.ParseColor(cfg.Color)
	}

	s := &Source{
		name:    cfg.Name,
		port:    port,
		address: address,
		color:   color,
	}
	if err := n.bind(s, port, address); err != nil {
		return 0, err
	}

	n.mu.Lock()
	s.id = n.nextID
	n.nextID++
	if s.name == "" {
		s.name = fmt.Sprintf("Tracker %d", s.id)
	}
	n.sources[s.id] = s
	n.order = append(n.order, s.id)
	n.mu.Unlock()

	n.logf("added source %d %q on port %d address %s", s.id, s.name, port, address)
	return s.id, nil
}

// nextPortLocked returns max(existing ports)+1, or the default port when
// there are no sources.
func (n *Node) nextPortLocked() int {
	if len(n.sources) == 0 {
		return n.opts.DefaultPort
	}
	highest := 0
	for _, s := range n.sources {
		if s.port > highest {
			highest = s.port
		}
	}
	return highest + 1
}

// bind creates a fresh queue and listener for s and starts the listener if
// the node is configured. s is updated only on success.
func (n *Node) bind(s *Source, port int, address string) error {
	queue := tracking.NewQueue()
	stats := network.NewDatagramStats()

	lcfg := n.opts.Listener
	lcfg.Port = port
	lcfg.Address = address
	lcfg.Stats = stats

	handler := func(pos tracking.Position) {
		queue.Push(tracking.Sample{Timestamp: n.sw.SoftwareTimestamp(), Position: pos})
	}
	l, err := network.NewListener(lcfg, handler)
	if err != nil {
		n.status.Printf("failed to bind port %d", port)
		return err
	}
	if n.ctx != nil {
		if err := l.Start(n.ctx); err != nil {
			l.Stop()
			n.status.Printf("failed to start listener on port %d", port)
			return err
		}
	}

	n.mu.Lock()
	s.queue = queue
	s.stats = stats
	s.listener = l
	s.port = port
	s.address = address
	n.mu.Unlock()
	return nil
}

// RemoveSource stops the source's listener and then removes it. If the
// listener does not stop in time the source stays registered.
func (n *Node) RemoveSource(id int) error {
	n.ctl.Lock()
	defer n.ctl.Unlock()

	n.mu.Lock()
	s, ok := n.sources[id]
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrSourceNotFound, id)
	}

	if s.listener != nil {
		if err := s.listener.Stop(); err != nil {
			return fmt.Errorf("stop listener for source %d: %w", id, err)
		}
	}

	n.mu.Lock()
	delete(n.sources, id)
	for i, v := range n.order {
		if v == id {
			n.order = append(n.order[:i], n.order[i+1:]...)
			break
		}
	}
	n.mu.Unlock()

	n.cfgMu.Lock()
	if n.stimSource == id {
		n.stimSource = -1
	}
	n.cfgMu.Unlock()

	n.logf("removed source %d", id)
	return nil
}

// SetPort rebinds the source on a new port.
func (n *Node) SetPort(id, port int) error {
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	return n.rebind(id, port, "")
}

// SetAddress rebinds the source with a new subscription address.
func (n *Node) SetAddress(id int, address string) error {
	if address == "" {
		address = DefaultAddress
	}
	return n.rebind(id, 0, address)
}

// rebind replaces the listener and queue of a source. A live socket cannot
// change port or address, so the pair is recreated. When the port changes
// the new socket is bound before the old one is released so a failed bind
// leaves the source untouched. On the same port the old socket has to go
// first; if the new bind then fails the old address is bound again.
func (n *Node) rebind(id, port int, address string) error {
	n.ctl.Lock()
	defer n.ctl.Unlock()

	n.mu.Lock()
	s, ok := n.sources[id]
	var oldPort int
	var oldAddress string
	if ok {
		oldPort, oldAddress = s.port, s.address
	}
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrSourceNotFound, id)
	}
	if port == 0 {
		port = oldPort
	}
	if address == "" {
		address = oldAddress
	}
	if port == oldPort && address == oldAddress && s.listener != nil {
		return nil
	}

	old := s.listener
	if port != oldPort {
		if err := n.bind(s, port, address); err != nil {
			return err
		}
		if old != nil {
			if err := old.Stop(); err != nil {
				n.logf("source %d: stopping old listener on port %d: %v", id, oldPort, err)
			}
		}
		return nil
	}

	if old != nil {
		if err := old.Stop(); err != nil {
			return fmt.Errorf("stop listener for source %d: %w", id, err)
		}
		n.mu.Lock()
		s.listener = nil
		n.mu.Unlock()
	}
	if err := n.bind(s, port, address); err != nil {
		if rerr := n.bind(s, oldPort, oldAddress); rerr != nil {
			n.status.Printf("source %d has no listener: %v", id, rerr)
		}
		return err
	}
	return nil
}

// SetColor changes the display colour of a source.
func (n *Node) SetColor(id int, color tracking.Color) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, ok := n.sources[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrSourceNotFound, id)
	}
	if !color.Valid() {
		color = tracking.Red
	}
	s.color = color
	return nil
}

// SetName renames a source.
func (n *Node) SetName(id int, name string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, ok := n.sources[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrSourceNotFound, id)
	}
	s.name = name
	return nil
}

// Port returns the source's port, or 0 for an unknown id.
func (n *Node) Port(id int) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if s, ok := n.sources[id]; ok {
		return s.port
	}
	return 0
}

// Address returns the source's address, or "" for an unknown id.
func (n *Node) Address(id int) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if s, ok := n.sources[id]; ok {
		return s.address
	}
	return ""
}

// Color returns the source's colour, or Red for an unknown id.
func (n *Node) Color(id int) tracking.Color {
	n.mu.Lock()
	defer n.mu.Unlock()
	if s, ok := n.sources[id]; ok {
		return s.color
	}
	return tracking.Red
}

// Source returns a copy of one source's state.
func (n *Node) Source(id int) (SourceInfo, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, ok := n.sources[id]
	if !ok {
		return SourceInfo{}, false
	}
	return s.info(), true
}

// Sources returns copies of all sources in insertion order.
func (n *Node) Sources() []SourceInfo {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]SourceInfo, 0, len(n.order))
	for _, id := range n.order {
		out = append(out, n.sources[id].info())
	}
	return out
}

// NumSources returns the number of registered sources.
func (n *Node) NumSources() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sources)
}

// Ports returns the ports in use, ascending.
func (n *Node) Ports() []int {
	n.mu.Lock()
	defer n.mu.Unlock()
	ports := make([]int, 0, len(n.sources))
	for _, s := range n.sources {
		ports = append(ports, s.port)
	}
	sort.Ints(ports)
	return ports
}

func (n *Node) snapshotSources() []*Source {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*Source, 0, len(n.order))
	for _, id := range n.order {
		out = append(out, n.sources[id])
	}
	return out
}
