package timeutil

import (
	"sync"
	"time"
)

// SoftwareClock is the acquisition-time oracle. Listener goroutines stamp
// incoming positions with it and the host derives block sample numbers from
// it, so both sides agree on one monotonic timeline regardless of sender or
// wall-clock adjustments.
type SoftwareClock struct {
	clock Clock

	mu     sync.Mutex
	origin time.Time
}

// NewSoftwareClock starts a software clock at the current time of clock.
func NewSoftwareClock(clock Clock) *SoftwareClock {
	if clock == nil {
		clock = RealClock{}
	}
	return &SoftwareClock{clock: clock, origin: clock.Now()}
}

// Restart moves the origin to now. Called when acquisition starts.
func (s *SoftwareClock) Restart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.origin = s.clock.Now()
}

// Origin returns the time of the last Restart.
func (s *SoftwareClock) Origin() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.origin
}

// Elapsed returns the duration since the origin. Real clocks carry a
// monotonic reading, so this never goes backwards.
func (s *SoftwareClock) Elapsed() time.Duration {
	s.mu.Lock()
	origin := s.origin
	s.mu.Unlock()
	d := s.clock.Since(origin)
	if d < 0 {
		return 0
	}
	return d
}

// SoftwareTimestamp returns milliseconds since the origin.
func (s *SoftwareClock) SoftwareTimestamp() int64 {
	return s.Elapsed().Milliseconds()
}

// SampleNumber converts the elapsed time into a sample index at rate Hz.
func (s *SoftwareClock) SampleNumber(rate float64) int64 {
	return int64(s.Elapsed().Seconds() * rate)
}
