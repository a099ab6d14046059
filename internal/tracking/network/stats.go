package network

import (
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/tracking.stimulator/internal/monitoring"
)

// DatagramStats counts what a listener received between log intervals.
type DatagramStats struct {
	mu         sync.Mutex
	datagrams  int64
	bytes      int64
	samples    int64
	mismatched int64
	malformed  int64
	forwardErr int64
	lastReset  time.Time

	// totals are never reset and back the status endpoint
	totalSamples   int64
	totalMalformed int64
}

// StatsSnapshot is a copy of the counters.
type StatsSnapshot struct {
	Datagrams      int64         `json:"datagrams"`
	Bytes          int64         `json:"bytes"`
	Samples        int64         `json:"samples"`
	Mismatched     int64         `json:"mismatched"`
	Malformed      int64         `json:"malformed"`
	Dropped        int64         `json:"dropped"`
	Interval       time.Duration `json:"interval"`
	TotalSamples   int64         `json:"total_samples"`
	TotalMalformed int64         `json:"total_malformed"`
}

func NewDatagramStats() *DatagramStats {
	return &DatagramStats{lastReset: time.Now()}
}

func (s *DatagramStats) AddDatagram(bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datagrams++
	s.bytes += int64(bytes)
}

func (s *DatagramStats) AddSamples(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples += int64(n)
	s.totalSamples += int64(n)
}

func (s *DatagramStats) AddMismatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mismatched++
}

func (s *DatagramStats) AddMalformed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.malformed++
	s.totalMalformed++
}

// AddDropped counts datagrams the forwarder could not queue.
func (s *DatagramStats) AddDropped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forwardErr++
}

// Snapshot returns the counters without resetting them.
func (s *DatagramStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(time.Now())
}

func (s *DatagramStats) snapshotLocked(now time.Time) StatsSnapshot {
	return StatsSnapshot{
		Datagrams:      s.datagrams,
		Bytes:          s.bytes,
		Samples:        s.samples,
		Mismatched:     s.mismatched,
		Malformed:      s.malformed,
		Dropped:        s.forwardErr,
		Interval:       now.Sub(s.lastReset),
		TotalSamples:   s.totalSamples,
		TotalMalformed: s.totalMalformed,
	}
}

// GetAndReset returns the interval counters and starts a new interval.
func (s *DatagramStats) GetAndReset() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	snap := s.snapshotLocked(now)
	s.datagrams, s.bytes, s.samples = 0, 0, 0
	s.mismatched, s.malformed, s.forwardErr = 0, 0, 0
	s.lastReset = now
	return snap
}

// LogStats logs per-second rates for the elapsed interval. Quiet intervals
// are not logged.
func (s *DatagramStats) LogStats(label string) {
	snap := s.GetAndReset()
	if snap.Datagrams == 0 && snap.Dropped == 0 {
		return
	}
	secs := snap.Interval.Seconds()
	if secs <= 0 {
		secs = 1
	}
	msg := fmt.Sprintf("[osc] %s stats (/sec): %.1f datagrams, %.1f samples, %.1f KB",
		label, float64(snap.Datagrams)/secs, float64(snap.Samples)/secs, float64(snap.Bytes)/secs/1024)
	if snap.Mismatched > 0 {
		msg += fmt.Sprintf(", %d other address", snap.Mismatched)
	}
	if snap.Malformed > 0 {
		msg += fmt.Sprintf(", %d malformed", snap.Malformed)
	}
	if snap.Dropped > 0 {
		msg += fmt.Sprintf(", %d dropped on forward", snap.Dropped)
	}
	monitoring.Logf("%s", msg)
}
