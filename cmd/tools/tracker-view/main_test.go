package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestFilterRequest(t *testing.T) {
	req, err := filterRequest("ttl, position,", 3)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"kinds":     []interface{}{"ttl", "position"},
		"source_id": float64(3),
	}, req.AsMap())

	req, err = filterRequest("", 0)
	require.NoError(t, err)
	assert.Empty(t, req.AsMap())
}

func TestFormatEvent(t *testing.T) {
	ev, err := structpb.NewStruct(map[string]interface{}{
		"kind":          "ttl",
		"sample_number": 2048,
		"channel":       1,
		"state":         true,
		"region":        0,
	})
	require.NoError(t, err)
	assert.Equal(t, "ttl      sample_number=2048 channel=1 state=true region=0", formatEvent(ev))
}
