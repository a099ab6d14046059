// Package node coordinates tracking sources and the trigger engine for one
// processing stream. The host calls Process once per block on a single
// goroutine; every other method is a control call and may run concurrently
// with it.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/tracking.stimulator/internal/monitoring"
	"github.com/banshee-data/tracking.stimulator/internal/timeutil"
	"github.com/banshee-data/tracking.stimulator/internal/tracking"
	"github.com/banshee-data/tracking.stimulator/internal/tracking/network"
)

// Processor is what a host drives: configure once, process every block,
// shut down at exit.
type Processor interface {
	Configure(ctx context.Context) error
	Process(b *tracking.Block) error
	Shutdown() error
}

var _ Processor = (*Node)(nil)

// Options configures a Node.
type Options struct {
	// Listener is the template for every source listener. Port, Address
	// and Stats are filled per source.
	Listener network.ListenerConfig

	// Software is the acquisition clock shared with the host. Listener
	// goroutines stamp samples with it.
	Software *timeutil.SoftwareClock
	// Clock supplies wall time for acquisition/recording start records.
	Clock timeutil.Clock

	Engine *tracking.Engine
	Status StatusFunc

	// DefaultPort is used for the first auto-assigned source.
	DefaultPort int
}

// Node is the processing coordinator: an arena of sources indexed by stable
// integer id plus the stimulation state for the selected source.
type Node struct {
	opts   Options
	clock  timeutil.Clock
	sw     *timeutil.SoftwareClock
	status *statusLog

	// ctl serialises control operations that bind or stop sockets so the
	// arena lock is never held across them.
	ctl sync.Mutex
	ctx context.Context

	// mu guards the arena and per-source display state.
	mu      sync.Mutex
	sources map[int]*Source
	order   []int
	nextID  int

	regions *tracking.RegionSet

	cfgMu       sync.RWMutex
	trigger     tracking.TriggerConfig
	stimEnabled bool
	stimSource  int

	// engine, saturated and pulseOwner are owned by the Process goroutine.
	engine     *tracking.Engine
	saturated  bool
	pulseOwner pulseOwner

	positionUpdated atomic.Bool
	// resetEngine asks the Process goroutine to reset engine state.
	resetEngine atomic.Bool

	life lifecycle
}

// New creates a node with no sources.
func New(opts Options) *Node {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Software == nil {
		opts.Software = timeutil.NewSoftwareClock(opts.Clock)
	}
	if opts.Engine == nil {
		opts.Engine = tracking.NewEngine()
	}
	if opts.DefaultPort == 0 {
		opts.DefaultPort = DefaultPort
	}
	return &Node{
		opts:       opts,
		clock:      opts.Clock,
		sw:         opts.Software,
		status:     newStatusLog(opts.Status),
		sources:    make(map[int]*Source),
		nextID:     1,
		regions:    tracking.NewRegionSet(),
		trigger:    tracking.DefaultTriggerConfig(),
		stimSource: -1,
		engine:     opts.Engine,
	}
}

// Configure starts the listeners of every source added so far. Sources
// added afterwards start immediately. Listener goroutines stop when ctx is
// cancelled or on Shutdown.
func (n *Node) Configure(ctx context.Context) error {
	n.ctl.Lock()
	defer n.ctl.Unlock()
	if n.ctx != nil {
		return errors.New("node already configured")
	}
	n.ctx = ctx

	var errs []error
	for _, s := range n.snapshotSources() {
		if s.listener == nil {
			continue
		}
		if err := s.listener.Start(ctx); err != nil {
			errs = append(errs, fmt.Errorf("source %d: %w", s.id, err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown stops every listener. Sources stay registered.
func (n *Node) Shutdown() error {
	n.ctl.Lock()
	defer n.ctl.Unlock()

	var errs []error
	for _, s := range n.snapshotSources() {
		if s.listener == nil {
			continue
		}
		if err := s.listener.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("source %d: %w", s.id, err))
		}
	}
	n.ctx = nil
	return errors.Join(errs...)
}

// Regions returns the stimulation regions. Edits are visible from the next
// processing block.
func (n *Node) Regions() *tracking.RegionSet {
	return n.regions
}

// SoftwareClock returns the clock listeners use for sample timestamps.
func (n *Node) SoftwareClock() *timeutil.SoftwareClock {
	return n.sw
}

// TriggerConfig returns the current stimulation settings.
func (n *Node) TriggerConfig() tracking.TriggerConfig {
	n.cfgMu.RLock()
	defer n.cfgMu.RUnlock()
	return n.trigger
}

// SetTriggerConfig validates and applies cfg.
func (n *Node) SetTriggerConfig(cfg tracking.TriggerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	n.cfgMu.Lock()
	n.trigger = cfg
	n.cfgMu.Unlock()
	return nil
}

// SetStimulationEnabled turns closed-loop triggering on or off globally.
func (n *Node) SetStimulationEnabled(enabled bool) {
	n.cfgMu.Lock()
	n.stimEnabled = enabled
	n.cfgMu.Unlock()
}

func (n *Node) StimulationEnabled() bool {
	n.cfgMu.RLock()
	defer n.cfgMu.RUnlock()
	return n.stimEnabled
}

// SetStimulationSource selects the source whose position drives the trigger
// engine. -1 clears the selection.
func (n *Node) SetStimulationSource(id int) error {
	if id >= 0 {
		n.mu.Lock()
		_, ok := n.sources[id]
		n.mu.Unlock()
		if !ok {
			return fmt.Errorf("%w: %d", ErrSourceNotFound, id)
		}
	} else {
		id = -1
	}
	n.cfgMu.Lock()
	changed := n.stimSource != id
	n.stimSource = id
	n.cfgMu.Unlock()
	if changed {
		n.resetEngine.Store(true)
	}
	return nil
}

// StimulationSource returns the selected source id or -1.
func (n *Node) StimulationSource() int {
	n.cfgMu.RLock()
	defer n.cfgMu.RUnlock()
	return n.stimSource
}

// ConsumePositionUpdate reports whether any source position changed since
// the previous call and clears the flag.
func (n *Node) ConsumePositionUpdate() bool {
	return n.positionUpdated.Swap(false)
}

// StatusMessages returns the most recent status messages, oldest first.
func (n *Node) StatusMessages() []StatusMessage {
	return n.status.Messages()
}

func (n *Node) logf(format string, args ...interface{}) {
	monitoring.Logf("[node] "+format, args...)
}

func (n *Node) now() time.Time {
	return n.clock.Now()
}
