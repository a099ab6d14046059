package tracking

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// MaxRegions bounds the number of stimulation regions.
const MaxRegions = 9

var (
	ErrTooManyRegions = errors.New("maximum number of regions reached")
	ErrInvalidRegion  = errors.New("invalid region")
)

// Region is a circular stimulation zone in normalised source-image
// coordinates. Disabled regions never match.
type Region struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Radius  float64 `json:"radius"`
	Enabled bool    `json:"enabled"`
}

// Distance returns the Euclidean distance from (x, y) to the region centre.
func (r Region) Distance(x, y float64) float64 {
	return math.Hypot(x-r.X, y-r.Y)
}

// Contains reports whether (x, y) lies on or inside an enabled region.
func (r Region) Contains(x, y float64) bool {
	return r.Enabled && r.Distance(x, y) <= r.Radius
}

func (r Region) validate() error {
	if !(r.Radius > 0) || math.IsInf(r.Radius, 0) {
		return fmt.Errorf("%w: radius must be positive, got %v", ErrInvalidRegion, r.Radius)
	}
	if math.IsNaN(r.X) || math.IsNaN(r.Y) {
		return fmt.Errorf("%w: centre is NaN", ErrInvalidRegion)
	}
	return nil
}

// FirstMatchingRegion returns the lowest index of an enabled region
// containing (x, y), or -1. Overlaps resolve to the lowest index.
func FirstMatchingRegion(regions []Region, x, y float64) int {
	for i, r := range regions {
		if r.Contains(x, y) {
			return i
		}
	}
	return -1
}

// RegionSet is the ordered, bounded list of regions edited from the control
// side and read by the processing block through Snapshot.
type RegionSet struct {
	mu       sync.RWMutex
	regions  []Region
	selected int
}

// NewRegionSet returns an empty set with no selection.
func NewRegionSet() *RegionSet {
	return &RegionSet{selected: -1}
}

// Add appends a region and selects it, returning its index.
func (s *RegionSet) Add(r Region) (int, error) {
	if err := r.validate(); err != nil {
		return -1, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.regions) >= MaxRegions {
		return -1, ErrTooManyRegions
	}
	s.regions = append(s.regions, r)
	s.selected = len(s.regions) - 1
	return s.selected, nil
}

// Edit replaces region i.
func (s *RegionSet) Edit(i int, r Region) error {
	if err := r.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.regions) {
		return fmt.Errorf("%w: index %d", ErrInvalidRegion, i)
	}
	s.regions[i] = r
	return nil
}

// SetEnabled toggles region i. Bad indices are ignored.
func (s *RegionSet) SetEnabled(i int, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.regions) {
		return
	}
	s.regions[i].Enabled = enabled
}

// Delete removes region i, shifting later regions down.
func (s *RegionSet) Delete(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.regions) {
		return fmt.Errorf("%w: index %d", ErrInvalidRegion, i)
	}
	s.regions = append(s.regions[:i], s.regions[i+1:]...)
	switch {
	case s.selected == i:
		s.selected = -1
	case s.selected > i:
		s.selected--
	}
	return nil
}

// Clear removes every region.
func (s *RegionSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regions = nil
	s.selected = -1
}

// Select marks region i as selected; -1 clears the selection.
func (s *RegionSet) Select(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < -1 || i >= len(s.regions) {
		return
	}
	s.selected = i
}

// Selected returns the selected index or -1.
func (s *RegionSet) Selected() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// Len returns the number of regions.
func (s *RegionSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.regions)
}

// Get returns region i; ok is false for bad indices.
func (s *RegionSet) Get(i int) (r Region, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.regions) {
		return Region{}, false
	}
	return s.regions[i], true
}

// Snapshot returns a copy of the regions in configured order.
func (s *RegionSet) Snapshot() []Region {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Region, len(s.regions))
	copy(out, s.regions)
	return out
}

// Replace swaps in a full list of regions, e.g. when restoring settings.
func (s *RegionSet) Replace(regions []Region) error {
	if len(regions) > MaxRegions {
		return ErrTooManyRegions
	}
	for i, r := range regions {
		if err := r.validate(); err != nil {
			return fmt.Errorf("region %d: %w", i, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regions = append([]Region(nil), regions...)
	s.selected = -1
	return nil
}

// PositionWithinRegions returns the index of the first enabled region
// containing (x, y), or -1.
func (s *RegionSet) PositionWithinRegions(x, y float64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return FirstMatchingRegion(s.regions, x, y)
}

// Distance returns the distance from (x, y) to the centre of region i, or
// -1 when i is out of range.
func (s *RegionSet) Distance(i int, x, y float64) float64 {
	r, ok := s.Get(i)
	if !ok {
		return -1
	}
	return r.Distance(x, y)
}
