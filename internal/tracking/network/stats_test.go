package network

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/tracking.stimulator/internal/monitoring"
)

func TestDatagramStats_GetAndReset(t *testing.T) {
	s := NewDatagramStats()
	s.AddDatagram(32)
	s.AddDatagram(32)
	s.AddSamples(2)
	s.AddMalformed()
	s.AddMismatch()
	s.AddDropped()

	snap := s.GetAndReset()
	assert.Equal(t, int64(2), snap.Datagrams)
	assert.Equal(t, int64(64), snap.Bytes)
	assert.Equal(t, int64(2), snap.Samples)
	assert.Equal(t, int64(1), snap.Malformed)
	assert.Equal(t, int64(1), snap.Mismatched)
	assert.Equal(t, int64(1), snap.Dropped)

	after := s.Snapshot()
	assert.Zero(t, after.Datagrams)
	assert.Zero(t, after.Malformed)
	assert.Equal(t, int64(2), after.TotalSamples)
	assert.Equal(t, int64(1), after.TotalMalformed)
}

func TestDatagramStats_LogStats(t *testing.T) {
	defer monitoring.SetLogger(nil)
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	s := NewDatagramStats()
	s.LogStats("port 27020 /red")
	assert.Empty(t, lines, "quiet interval should not log")

	s.AddDatagram(40)
	s.AddMalformed()
	s.LogStats("port 27020 /red")
	if assert.Len(t, lines, 1) {
		assert.True(t, strings.HasPrefix(lines[0], "[osc] port 27020 /red stats"), lines[0])
		assert.Contains(t, lines[0], "1 malformed")
	}
}
