package monitor

import (
	"sort"
	"sync"

	"github.com/banshee-data/tracking.stimulator/internal/tracking"
)

// DefaultHistoryLen is the number of positions kept per source.
const DefaultHistoryLen = 600

// Trail is the recent path of one source, oldest first.
type Trail struct {
	SourceID int
	Name     string
	Color    tracking.Color
	Points   []tracking.Position
}

// History keeps the most recent positions of every source that has
// reported, plus the sample numbers of recent pulse onsets.
type History struct {
	mu     sync.Mutex
	limit  int
	trails map[int]*Trail
	pulses []int64
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLen
	}
	return &History{limit: limit, trails: make(map[int]*Trail)}
}

// Record appends the position events and pulse onsets of a block.
func (h *History) Record(events []tracking.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range events {
		switch e.Kind {
		case tracking.EventPosition:
			t, ok := h.trails[e.SourceID]
			if !ok {
				t = &Trail{SourceID: e.SourceID}
				h.trails[e.SourceID] = t
			}
			t.Name, t.Color = e.Source, e.Color
			t.Points = append(t.Points, e.Position)
			if len(t.Points) > h.limit {
				t.Points = append(t.Points[:0], t.Points[len(t.Points)-h.limit:]...)
			}
		case tracking.EventTTL:
			if e.State {
				h.pulses = append(h.pulses, e.SampleNumber)
				if len(h.pulses) > h.limit {
					h.pulses = append(h.pulses[:0], h.pulses[len(h.pulses)-h.limit:]...)
				}
			}
		}
	}
}

// Trails returns copies of every trail ordered by source id.
func (h *History) Trails() []Trail {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Trail, 0, len(h.trails))
	for _, t := range h.trails {
		cp := *t
		cp.Points = append([]tracking.Position(nil), t.Points...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

// Pulses returns the sample numbers of recent pulse onsets.
func (h *History) Pulses() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int64(nil), h.pulses...)
}

// Forget drops the trail of a removed source.
func (h *History) Forget(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.trails, id)
}

// Reset clears everything.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.trails = make(map[int]*Trail)
	h.pulses = nil
}
