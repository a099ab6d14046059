package main

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tracking.stimulator/internal/db"
	"github.com/banshee-data/tracking.stimulator/internal/tracking"
	"github.com/banshee-data/tracking.stimulator/internal/tracking/node"
)

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, "config/tracker.defaults.json", *configPath)
	assert.Equal(t, "info", *logLevel)
	assert.False(t, *autoStart)
	assert.False(t, *ignoreSaved)
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		l, err := newLogger(level)
		require.NoError(t, err, level)
		assert.NotNil(t, l)
	}
	_, err := newLogger("loud")
	assert.Error(t, err)
}

func TestDefaultsFileSettings(t *testing.T) {
	cfg, err := loadConfig("../../config/tracker.defaults.json")
	require.NoError(t, err)

	want := db.Settings{
		Sources: []node.SourceConfig{{Name: "Tracker 1", Port: 27020, Address: "/red", Color: "red"}},
		Regions: []tracking.Region{{X: 0.5, Y: 0.5, Radius: 0.15, Enabled: true}},
		Trigger: tracking.DefaultTriggerConfig(),
	}
	if diff := cmp.Diff(want, fileSettings(cfg)); diff != "" {
		t.Errorf("settings mismatch (-want +got):\n%s", diff)
	}
}

func TestEmptyConfigPath(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	s := fileSettings(cfg)
	assert.Empty(t, s.Sources)
	assert.Equal(t, -1, s.StimulationSource)
	assert.Equal(t, ":8080", cfg.GetHTTPListen())
}

func TestApplyFlags(t *testing.T) {
	defer func(l, d string) { *listen, *dbPath = l, d }(*listen, *dbPath)
	*listen = "127.0.0.1:9000"
	*dbPath = "/tmp/other.db"

	cfg, err := loadConfig("")
	require.NoError(t, err)
	applyFlags(cfg)
	assert.Equal(t, "127.0.0.1:9000", cfg.GetHTTPListen())
	assert.Equal(t, "/tmp/other.db", cfg.GetDBPath())
	assert.Equal(t, "", cfg.GetSerialPort())
	assert.Equal(t, "", cfg.GetGRPCListen())
}

func TestNewForwarderRejectsBadAddress(t *testing.T) {
	_, err := newForwarder("no-port", 0)
	assert.Error(t, err)
	_, err = newForwarder("127.0.0.1:http", 0)
	assert.Error(t, err)

	fwd, err := newForwarder("127.0.0.1:27999", 0)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:27999", fwd.Address())
	assert.NoError(t, fwd.Close())
}
