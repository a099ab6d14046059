package tracking

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstMatchingRegion(t *testing.T) {
	regions := []Region{
		{X: 0.2, Y: 0.2, Radius: 0.1, Enabled: true},
		{X: 0.5, Y: 0.5, Radius: 0.3, Enabled: true},
		{X: 0.5, Y: 0.5, Radius: 0.1, Enabled: true},
		{X: 0.9, Y: 0.9, Radius: 0.2, Enabled: false},
	}

	tests := []struct {
		name string
		x, y float64
		want int
	}{
		{"inside first", 0.2, 0.25, 0},
		{"on the boundary", 0.3, 0.2, 0},
		{"overlap resolves to lowest index", 0.5, 0.5, 1},
		{"disabled region never matches", 0.9, 0.9, -1},
		{"outside everything", 0.0, 1.0, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FirstMatchingRegion(regions, tt.x, tt.y))
		})
	}
}

func TestRegionSet_AddEditDelete(t *testing.T) {
	s := NewRegionSet()
	assert.Equal(t, -1, s.Selected())

	for i := 0; i < MaxRegions; i++ {
		idx, err := s.Add(Region{X: float64(i) / 10, Y: 0.5, Radius: 0.05, Enabled: true})
		require.NoError(t, err)
		assert.Equal(t, i, idx)
		assert.Equal(t, i, s.Selected())
	}
	_, err := s.Add(Region{X: 0.5, Y: 0.5, Radius: 0.1, Enabled: true})
	assert.True(t, errors.Is(err, ErrTooManyRegions))

	require.NoError(t, s.Edit(2, Region{X: 0.25, Y: 0.75, Radius: 0.2, Enabled: false}))
	r, ok := s.Get(2)
	require.True(t, ok)
	assert.Equal(t, Region{X: 0.25, Y: 0.75, Radius: 0.2, Enabled: false}, r)

	s.Select(4)
	require.NoError(t, s.Delete(2))
	assert.Equal(t, MaxRegions-1, s.Len())
	assert.Equal(t, 3, s.Selected(), "selection after the deleted index shifts down")

	require.NoError(t, s.Delete(3))
	assert.Equal(t, -1, s.Selected(), "deleting the selected region clears the selection")

	assert.Error(t, s.Delete(42))
	assert.Error(t, s.Edit(-1, Region{Radius: 1}))
}

func TestRegionSet_RejectsInvalid(t *testing.T) {
	s := NewRegionSet()
	_, err := s.Add(Region{X: 0.5, Y: 0.5, Radius: 0})
	assert.True(t, errors.Is(err, ErrInvalidRegion))
	_, err = s.Add(Region{X: 0.5, Y: 0.5, Radius: -0.1})
	assert.True(t, errors.Is(err, ErrInvalidRegion))
	assert.Equal(t, 0, s.Len())
}

func TestRegionSet_SnapshotIsACopy(t *testing.T) {
	s := NewRegionSet()
	_, err := s.Add(Region{X: 0.5, Y: 0.5, Radius: 0.1, Enabled: true})
	require.NoError(t, err)

	snap := s.Snapshot()
	snap[0].Radius = 0.9

	got, _ := s.Get(0)
	assert.Equal(t, 0.1, got.Radius)
}

func TestRegionSet_PositionWithinAndDistance(t *testing.T) {
	s := NewRegionSet()
	_, _ = s.Add(Region{X: 0.5, Y: 0.5, Radius: 0.2, Enabled: true})
	_, _ = s.Add(Region{X: 0.1, Y: 0.1, Radius: 0.05, Enabled: true})

	assert.Equal(t, 0, s.PositionWithinRegions(0.6, 0.5))
	assert.Equal(t, 1, s.PositionWithinRegions(0.1, 0.12))
	assert.Equal(t, -1, s.PositionWithinRegions(0.9, 0.9))

	s.SetEnabled(0, false)
	assert.Equal(t, -1, s.PositionWithinRegions(0.6, 0.5))

	assert.InDelta(t, 0.5, s.Distance(0, 0.8, 0.9), 1e-9)
	assert.Equal(t, -1.0, s.Distance(7, 0, 0))
}

func TestRegionSet_Replace(t *testing.T) {
	s := NewRegionSet()
	want := []Region{
		{X: 0.1, Y: 0.2, Radius: 0.3, Enabled: true},
		{X: 0.4, Y: 0.5, Radius: 0.6, Enabled: false},
	}
	require.NoError(t, s.Replace(want))
	if diff := cmp.Diff(want, s.Snapshot()); diff != "" {
		t.Errorf("Snapshot() mismatch (-want +got):\n%s", diff)
	}

	tooMany := make([]Region, MaxRegions+1)
	for i := range tooMany {
		tooMany[i] = Region{Radius: 0.1}
	}
	assert.True(t, errors.Is(s.Replace(tooMany), ErrTooManyRegions))
	assert.Error(t, s.Replace([]Region{{Radius: 0}}))
	assert.Equal(t, 2, s.Len(), "failed replace leaves the set untouched")
}
