// Package host drives a tracking processor the way an acquisition host
// would: fixed-size blocks at the sample-rate cadence while acquisition is
// running, with the emitted events fanned out to sinks off the processing
// goroutine.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/tracking.stimulator/internal/monitoring"
	"github.com/banshee-data/tracking.stimulator/internal/timeutil"
	"github.com/banshee-data/tracking.stimulator/internal/tracking"
	"github.com/banshee-data/tracking.stimulator/internal/tracking/node"
)

const (
	DefaultSampleRate = 30000.0
	DefaultBlockSize  = 1024

	sinkQueueSize = 256
)

var logf = monitoring.Tagged("host")

// Lifecycle is implemented by processors that track acquisition and
// recording state.
type Lifecycle interface {
	StartAcquisition()
	StopAcquisition()
	StartRecording()
	StopRecording()
}

// Batch is one processed block handed to sinks. Sinks own the copy.
type Batch struct {
	tracking.Block
	Recording bool
	// Session is the recording session id, empty when not recording.
	Session string
}

// EventSink consumes processed blocks. HandleBatch runs on the sink's own
// goroutine, never on the processing goroutine.
type EventSink interface {
	HandleBatch(ctx context.Context, b Batch) error
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, b Batch) error

func (f SinkFunc) HandleBatch(ctx context.Context, b Batch) error { return f(ctx, b) }

// SessionHooks are notified when recording starts and stops. StartSession
// returns the id stamped on subsequent batches.
type SessionHooks interface {
	StartSession(ctx context.Context, kind string) (string, error)
	StopSession(ctx context.Context, id string) error
}

// Config configures a Runner.
type Config struct {
	SampleRate float64
	BlockSize  int
	Clock      timeutil.Clock
	Software   *timeutil.SoftwareClock
	Sessions   SessionHooks
}

// Stats counts runner activity.
type Stats struct {
	Blocks      int64 `json:"blocks"`
	Events      int64 `json:"events"`
	SinkDrops   int64 `json:"sink_drops"`
	SinkErrors  int64 `json:"sink_errors"`
	ProcessErrs int64 `json:"process_errors"`
	NextSample  int64 `json:"next_sample"`
}

type sink struct {
	name string
	s    EventSink
	ch   chan Batch
}

// Runner calls Process on a fixed cadence.
type Runner struct {
	cfg  Config
	proc node.Processor

	mu        sync.Mutex
	sinks     []*sink
	acquiring bool
	recording bool
	session   string
	next      int64
	stats     Stats
	ctx       context.Context
}

// NewRunner creates a runner for proc.
func NewRunner(proc node.Processor, cfg Config) *Runner {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Software == nil {
		cfg.Software = timeutil.NewSoftwareClock(cfg.Clock)
	}
	return &Runner{cfg: cfg, proc: proc}
}

// BlockDuration is the wall time one block represents.
func (r *Runner) BlockDuration() time.Duration {
	return time.Duration(float64(r.cfg.BlockSize) / r.cfg.SampleRate * float64(time.Second))
}

// SampleRate returns the configured rate in Hz.
func (r *Runner) SampleRate() float64 { return r.cfg.SampleRate }

// AddSink registers a sink. Must be called before Run.
func (r *Runner) AddSink(name string, s EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, &sink{name: name, s: s, ch: make(chan Batch, sinkQueueSize)})
}

// Run configures the processor and drives it until ctx is cancelled, then
// shuts it down.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.proc.Configure(ctx); err != nil {
		return fmt.Errorf("configure processor: %w", err)
	}

	r.mu.Lock()
	r.ctx = ctx
	sinks := append([]*sink(nil), r.sinks...)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sinks {
		wg.Add(1)
		go func(s *sink) {
			defer wg.Done()
			r.drain(ctx, s)
		}(s)
	}

	ticker := r.cfg.Clock.NewTicker(r.BlockDuration())
	logf("running at %.0f Hz, %d samples per block (%v)", r.cfg.SampleRate, r.cfg.BlockSize, r.BlockDuration())

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C():
			r.Step()
		}
	}
	ticker.Stop()
	if r.Recording() {
		r.StopRecording()
	}
	wg.Wait()

	if err := r.proc.Shutdown(); err != nil {
		runErr = fmt.Errorf("shutdown processor: %w", err)
	}
	if runErr == nil && !errors.Is(ctx.Err(), context.Canceled) {
		runErr = ctx.Err()
	}
	return runErr
}

// Step processes one block if acquisition is running. Run calls it on every
// tick; tests call it directly.
func (r *Runner) Step() bool {
	r.mu.Lock()
	if !r.acquiring {
		r.mu.Unlock()
		return false
	}
	b := &tracking.Block{
		FirstSample: r.next,
		NumSamples:  r.cfg.BlockSize,
		SampleRate:  r.cfg.SampleRate,
	}
	r.next += int64(r.cfg.BlockSize)
	recording, session := r.recording, r.session
	r.mu.Unlock()

	if err := r.proc.Process(b); err != nil {
		r.count(func(s *Stats) { s.ProcessErrs++ })
		logf("process block at sample %d: %v", b.FirstSample, err)
	}
	r.count(func(s *Stats) {
		s.Blocks++
		s.Events += int64(len(b.Events))
	})
	if len(b.Events) > 0 {
		r.dispatch(Batch{Block: *b, Recording: recording, Session: session})
	}
	return true
}

func (r *Runner) dispatch(b Batch) {
	r.mu.Lock()
	sinks := r.sinks
	r.mu.Unlock()
	for _, s := range sinks {
		select {
		case s.ch <- b:
		default:
			r.count(func(st *Stats) { st.SinkDrops++ })
		}
	}
}

func (r *Runner) drain(ctx context.Context, s *sink) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-s.ch:
			if err := s.s.HandleBatch(ctx, b); err != nil {
				r.count(func(st *Stats) { st.SinkErrors++ })
				logf("sink %s: %v", s.name, err)
			}
		}
	}
}

func (r *Runner) count(f func(*Stats)) {
	r.mu.Lock()
	f(&r.stats)
	r.mu.Unlock()
}

// Stats returns a copy of the counters.
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.stats
	st.NextSample = r.next
	return st
}

// StartAcquisition restarts the software clock and sample numbering, then
// notifies the processor.
func (r *Runner) StartAcquisition() {
	r.mu.Lock()
	r.acquiring = true
	r.next = 0
	r.mu.Unlock()
	r.cfg.Software.Restart()
	if lc, ok := r.proc.(Lifecycle); ok {
		lc.StartAcquisition()
	}
	logf("acquisition started")
}

// StopAcquisition stops block processing. An active recording stops too.
func (r *Runner) StopAcquisition() {
	if r.Recording() {
		r.StopRecording()
	}
	r.mu.Lock()
	r.acquiring = false
	r.mu.Unlock()
	if lc, ok := r.proc.(Lifecycle); ok {
		lc.StopAcquisition()
	}
	logf("acquisition stopped")
}

// StartRecording starts acquisition if needed and opens a session.
func (r *Runner) StartRecording() error {
	if !r.Acquiring() {
		r.StartAcquisition()
	}
	var id string
	if r.cfg.Sessions != nil {
		var err error
		id, err = r.cfg.Sessions.StartSession(r.context(), "recording")
		if err != nil {
			return fmt.Errorf("start session: %w", err)
		}
	}
	r.mu.Lock()
	r.recording = true
	r.session = id
	r.mu.Unlock()
	if lc, ok := r.proc.(Lifecycle); ok {
		lc.StartRecording()
	}
	logf("recording started (session %s)", id)
	return nil
}

// StopRecording closes the current session.
func (r *Runner) StopRecording() {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return
	}
	id := r.session
	r.recording = false
	r.session = ""
	r.mu.Unlock()

	if r.cfg.Sessions != nil && id != "" {
		if err := r.cfg.Sessions.StopSession(context.WithoutCancel(r.context()), id); err != nil {
			logf("stop session %s: %v", id, err)
		}
	}
	if lc, ok := r.proc.(Lifecycle); ok {
		lc.StopRecording()
	}
	logf("recording stopped")
}

func (r *Runner) Acquiring() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.acquiring
}

func (r *Runner) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Session returns the active recording session id.
func (r *Runner) Session() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

func (r *Runner) context() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx != nil {
		return r.ctx
	}
	return context.Background()
}
