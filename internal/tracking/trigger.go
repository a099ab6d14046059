package tracking

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

// Mode selects how the trigger engine decides to fire while a position is
// inside a region.
type Mode int

const (
	// ModeUniform fires as a discretised Poisson process at the base
	// frequency.
	ModeUniform Mode = iota
	// ModeGaussian modulates the frequency by distance from the region
	// centre.
	ModeGaussian
	// ModeTTL fires once on entry.
	ModeTTL
)

func (m Mode) String() string {
	switch m {
	case ModeUniform:
		return "uniform"
	case ModeGaussian:
		return "gaussian"
	case ModeTTL:
		return "ttl"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts "uniform"/"uni", "gaussian"/"gauss" and "ttl".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "uniform", "uni":
		return ModeUniform, nil
	case "gaussian", "gauss":
		return ModeGaussian, nil
	case "ttl":
		return ModeTTL, nil
	}
	return ModeUniform, fmt.Errorf("unknown stimulation mode %q", s)
}

func (m Mode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Mode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// TriggerConfig is the stimulation configuration read once per block.
type TriggerConfig struct {
	Mode            Mode    `json:"mode"`
	Frequency       float64 `json:"frequency_hz"`
	SDFraction      float64 `json:"sd_fraction"`
	PulseDurationMs int     `json:"pulse_duration_ms"`
	OutputChannel   int     `json:"output_channel"`
}

// DefaultTriggerConfig returns the settings a fresh node starts with.
func DefaultTriggerConfig() TriggerConfig {
	return TriggerConfig{
		Mode:            ModeUniform,
		Frequency:       2,
		SDFraction:      0.5,
		PulseDurationMs: 50,
		OutputChannel:   0,
	}
}

// Validate checks the value ranges of the configuration.
func (c TriggerConfig) Validate() error {
	if !(c.Frequency > 0) || math.IsInf(c.Frequency, 0) {
		return fmt.Errorf("frequency must be positive, got %v", c.Frequency)
	}
	if !(c.SDFraction > 0 && c.SDFraction <= 1) {
		return fmt.Errorf("sd fraction must be in (0, 1], got %v", c.SDFraction)
	}
	if c.PulseDurationMs < 0 {
		return fmt.Errorf("pulse duration must be non-negative, got %d", c.PulseDurationMs)
	}
	if c.OutputChannel < 0 {
		return fmt.Errorf("output channel must be non-negative, got %d", c.OutputChannel)
	}
	if c.Mode < ModeUniform || c.Mode > ModeTTL {
		return fmt.Errorf("invalid mode %d", int(c.Mode))
	}
	return nil
}

// ModulatedFrequency returns the firing frequency for a position at distance
// from the centre of a region of the given radius. Uniform and TTL modes
// return the base frequency unchanged.
func (c TriggerConfig) ModulatedFrequency(distance, radius float64) float64 {
	if c.Mode != ModeGaussian || radius <= 0 {
		return c.Frequency
	}
	if c.SDFraction >= 1 {
		return c.Frequency
	}
	k := -1 / math.Log(c.SDFraction)
	d := distance / radius
	return c.Frequency * math.Exp(-(d*d)/k)
}

// Evaluation reports what the engine decided for one block.
type Evaluation struct {
	Region      int
	Fired       bool
	Probability float64
	// Saturated is set when the configured frequency exceeds what the
	// block rate can express (probability > 1).
	Saturated bool
}

// Engine decides, once per processing block, whether to emit a stimulation
// pulse for one data stream. It is not safe for concurrent use; the
// processing goroutine owns it.
type Engine struct {
	draw func() float64

	inside     bool
	ttlLatched bool

	lastSample int64
	hasLast    bool

	pendingOff  int64
	pendingChan int
	pendingReg  int
	hasPending  bool
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithDraw replaces the uniform [0,1) source, for deterministic tests.
func WithDraw(draw func() float64) EngineOption {
	return func(e *Engine) { e.draw = draw }
}

// WithSeed seeds the default uniform source.
func WithSeed(seed uint64) EngineOption {
	return func(e *Engine) { e.draw = uniformDraw(seed) }
}

func uniformDraw(seed uint64) func() float64 {
	u := distuv.Uniform{Min: 0, Max: 1, Src: rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)}
	return u.Rand
}

// NewEngine creates an engine seeded from the wall clock unless overridden.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{draw: uniformDraw(uint64(time.Now().UnixNano()))}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Inside reports whether the last evaluated position was inside a region.
func (e *Engine) Inside() bool {
	return e.inside
}

// PendingOff returns the absolute sample number of the scheduled pulse-off.
func (e *Engine) PendingOff() (sample int64, ok bool) {
	return e.pendingOff, e.hasPending
}

// Reset clears region, latch, timing and pending pulse state.
func (e *Engine) Reset() {
	e.inside = false
	e.ttlLatched = false
	e.hasLast = false
	e.hasPending = false
}

// FlushPending emits the scheduled pulse-off if its sample falls within (or
// before) this block. Targets already in the past are emitted at offset 0.
func (e *Engine) FlushPending(b *Block) bool {
	if !e.hasPending {
		return false
	}
	end := b.FirstSample + int64(b.NumSamples)
	if e.pendingOff >= end {
		return false
	}
	offset := e.pendingOff - b.FirstSample
	if offset < 0 {
		offset = 0
	}
	b.AddTTL(offset, e.pendingChan, false, e.pendingReg)
	e.hasPending = false
	return true
}

// CancelPending emits any scheduled pulse-off at the start of b, even if it
// was not yet due, so the output never stays high after a reset.
func (e *Engine) CancelPending(b *Block) bool {
	if !e.hasPending {
		return false
	}
	b.AddTTL(0, e.pendingChan, false, e.pendingReg)
	e.hasPending = false
	return true
}

// Evaluate runs one block of the trigger state machine for a position at
// (x, y). regions and cfg are snapshots taken at block start.
func (e *Engine) Evaluate(b *Block, cfg TriggerConfig, regions []Region, x, y float64) Evaluation {
	elapsed := b.Duration()
	if e.hasLast && b.SampleRate > 0 && b.FirstSample > e.lastSample {
		elapsed = float64(b.FirstSample-e.lastSample) / b.SampleRate
	}
	e.lastSample = b.FirstSample
	e.hasLast = true

	idx := FirstMatchingRegion(regions, x, y)
	ev := Evaluation{Region: idx}
	if idx < 0 {
		e.inside = false
		e.ttlLatched = false
		return ev
	}
	e.inside = true

	switch cfg.Mode {
	case ModeTTL:
		if !e.ttlLatched {
			e.ttlLatched = true
			ev.Fired = true
			ev.Probability = 1
		}
	case ModeUniform, ModeGaussian:
		r := regions[idx]
		freq := cfg.ModulatedFrequency(r.Distance(x, y), r.Radius)
		if freq <= 0 {
			return ev
		}
		interval := 1 / freq
		ev.Probability = elapsed / interval
		ev.Saturated = ev.Probability > 1
		if e.draw() < ev.Probability {
			ev.Fired = true
		}
	}

	if ev.Fired {
		e.fire(b, cfg, idx)
	}
	return ev
}

// fire emits the ON edge at the block start and the OFF edge either in this
// block or as the single pending pulse-off. A new firing overwrites any
// pending off so overlapping pulses coalesce.
func (e *Engine) fire(b *Block, cfg TriggerConfig, region int) {
	b.AddTTL(0, cfg.OutputChannel, true, region)

	durationSamples := int64(0)
	if b.SampleRate > 0 {
		durationSamples = int64(float64(cfg.PulseDurationMs) * b.SampleRate / 1000)
	}
	if durationSamples < int64(b.NumSamples) {
		b.AddTTL(durationSamples, cfg.OutputChannel, false, region)
		e.hasPending = false
		return
	}
	e.pendingOff = b.FirstSample + durationSamples
	e.pendingChan = cfg.OutputChannel
	e.pendingReg = region
	e.hasPending = true
}
