package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/tracking.stimulator/internal/tracking"
	"github.com/banshee-data/tracking.stimulator/internal/tracking/node"
)

// DefaultConfigPath is the checked-in example configuration.
const DefaultConfigPath = "config/tracker.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config is the root of the tracker configuration file. Every section is
// optional; Get* methods supply defaults for anything omitted.
type Config struct {
	Sources     []node.SourceConfig `json:"sources,omitempty"`
	Regions     []tracking.Region   `json:"regions,omitempty"`
	Stimulation *StimulationConfig  `json:"stimulation,omitempty"`
	Host        *HostConfig         `json:"host,omitempty"`
	Listener    *ListenerConfig     `json:"listener,omitempty"`
	Outputs     *OutputsConfig      `json:"outputs,omitempty"`
}

// StimulationConfig holds the global trigger settings.
type StimulationConfig struct {
	Enabled         *bool    `json:"enabled,omitempty"`
	Mode            *string  `json:"mode,omitempty"` // uniform, gaussian or ttl
	FrequencyHz     *float64 `json:"frequency_hz,omitempty"`
	SDFraction      *float64 `json:"sd_fraction,omitempty"`
	PulseDurationMs *int     `json:"pulse_duration_ms,omitempty"`
	OutputChannel   *int     `json:"output_channel,omitempty"`
	// SourceIndex selects a source by its position in Sources.
	SourceIndex *int `json:"source_index,omitempty"`
}

// HostConfig sets the emulated acquisition cadence.
type HostConfig struct {
	SampleRate *float64 `json:"sample_rate,omitempty"`
	BlockSize  *int     `json:"block_size,omitempty"`
}

// ListenerConfig applies to every source listener.
type ListenerConfig struct {
	BindHost    *string `json:"bind_host,omitempty"`
	RcvBuf      *int    `json:"rcv_buf,omitempty"`
	StopTimeout *string `json:"stop_timeout,omitempty"` // duration string like "2s"
	LogInterval *string `json:"log_interval,omitempty"`
	// ForwardAddr, when set, mirrors every datagram to host:port.
	ForwardAddr *string `json:"forward_addr,omitempty"`
}

// OutputsConfig names the downstream consumers. Empty strings disable them.
type OutputsConfig struct {
	SerialPort *string `json:"serial_port,omitempty"`
	SerialBaud *int    `json:"serial_baud,omitempty"`
	MQTTBroker *string `json:"mqtt_broker,omitempty"`
	MQTTTopic  *string `json:"mqtt_topic,omitempty"`
	GRPCListen *string `json:"grpc_listen,omitempty"`
	HTTPListen *string `json:"http_listen,omitempty"`
	DBPath     *string `json:"db_path,omitempty"`
}

// Load reads and validates a JSON configuration file.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that are set.
func (c *Config) Validate() error {
	if len(c.Sources) > node.MaxSources {
		return fmt.Errorf("at most %d sources are supported, got %d", node.MaxSources, len(c.Sources))
	}
	for i, s := range c.Sources {
		if s.Port != 0 && (s.Port < node.MinPort || s.Port > node.MaxPort) {
			return fmt.Errorf("sources[%d].port must be between %d and %d, got %d", i, node.MinPort, node.MaxPort, s.Port)
		}
		if s.Color != "" {
			if _, ok := tracking.ParseColor(s.Color); !ok {
				return fmt.Errorf("sources[%d].color %q is not a known colour", i, s.Color)
			}
		}
	}

	if len(c.Regions) > tracking.MaxRegions {
		return fmt.Errorf("at most %d regions are supported, got %d", tracking.MaxRegions, len(c.Regions))
	}
	if err := tracking.NewRegionSet().Replace(c.Regions); err != nil {
		return fmt.Errorf("regions: %w", err)
	}

	if s := c.Stimulation; s != nil {
		if s.Mode != nil {
			if _, err := tracking.ParseMode(*s.Mode); err != nil {
				return err
			}
		}
		if err := c.GetTriggerConfig().Validate(); err != nil {
			return fmt.Errorf("stimulation: %w", err)
		}
		if s.SourceIndex != nil && (*s.SourceIndex < -1 || *s.SourceIndex >= len(c.Sources)) {
			return fmt.Errorf("stimulation.source_index %d does not name a configured source", *s.SourceIndex)
		}
	}

	if h := c.Host; h != nil {
		if h.SampleRate != nil && *h.SampleRate <= 0 {
			return fmt.Errorf("host.sample_rate must be positive, got %f", *h.SampleRate)
		}
		if h.BlockSize != nil && *h.BlockSize <= 0 {
			return fmt.Errorf("host.block_size must be positive, got %d", *h.BlockSize)
		}
	}

	if l := c.Listener; l != nil {
		for name, v := range map[string]*string{"stop_timeout": l.StopTimeout, "log_interval": l.LogInterval} {
			if v != nil && *v != "" {
				if _, err := time.ParseDuration(*v); err != nil {
					return fmt.Errorf("invalid listener.%s '%s': %w", name, *v, err)
				}
			}
		}
	}
	return nil
}

// GetTriggerConfig merges the stimulation section over the defaults.
func (c *Config) GetTriggerConfig() tracking.TriggerConfig {
	cfg := tracking.DefaultTriggerConfig()
	s := c.Stimulation
	if s == nil {
		return cfg
	}
	if s.Mode != nil {
		if m, err := tracking.ParseMode(*s.Mode); err == nil {
			cfg.Mode = m
		}
	}
	if s.FrequencyHz != nil {
		cfg.Frequency = *s.FrequencyHz
	}
	if s.SDFraction != nil {
		cfg.SDFraction = *s.SDFraction
	}
	if s.PulseDurationMs != nil {
		cfg.PulseDurationMs = *s.PulseDurationMs
	}
	if s.OutputChannel != nil {
		cfg.OutputChannel = *s.OutputChannel
	}
	return cfg
}

// GetStimulationEnabled defaults to false.
func (c *Config) GetStimulationEnabled() bool {
	if c.Stimulation == nil || c.Stimulation.Enabled == nil {
		return false
	}
	return *c.Stimulation.Enabled
}

// GetStimulationSourceIndex returns the configured index, or 0 when any
// source is configured and -1 otherwise.
func (c *Config) GetStimulationSourceIndex() int {
	if c.Stimulation != nil && c.Stimulation.SourceIndex != nil {
		return *c.Stimulation.SourceIndex
	}
	if len(c.Sources) > 0 {
		return 0
	}
	return -1
}

// GetSampleRate returns the host sample rate in Hz.
func (c *Config) GetSampleRate() float64 {
	if c.Host == nil || c.Host.SampleRate == nil {
		return 30000
	}
	return *c.Host.SampleRate
}

// GetBlockSize returns samples per processing block.
func (c *Config) GetBlockSize() int {
	if c.Host == nil || c.Host.BlockSize == nil {
		return 1024
	}
	return *c.Host.BlockSize
}

func (c *Config) GetBindHost() string {
	if c.Listener == nil || c.Listener.BindHost == nil || *c.Listener.BindHost == "" {
		return "127.0.0.1"
	}
	return *c.Listener.BindHost
}

func (c *Config) GetRcvBuf() int {
	if c.Listener == nil || c.Listener.RcvBuf == nil {
		return 1 << 20
	}
	return *c.Listener.RcvBuf
}

// GetStopTimeout bounds how long a listener stop waits for its goroutine.
func (c *Config) GetStopTimeout() time.Duration {
	return parseDuration(c.Listener, func(l *ListenerConfig) *string { return l.StopTimeout }, 2*time.Second)
}

// GetLogInterval is the period of listener statistics logging.
func (c *Config) GetLogInterval() time.Duration {
	return parseDuration(c.Listener, func(l *ListenerConfig) *string { return l.LogInterval }, time.Minute)
}

func (c *Config) GetForwardAddr() string {
	if c.Listener == nil || c.Listener.ForwardAddr == nil {
		return ""
	}
	return *c.Listener.ForwardAddr
}

func parseDuration(l *ListenerConfig, field func(*ListenerConfig) *string, def time.Duration) time.Duration {
	if l == nil {
		return def
	}
	v := field(l)
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

func (c *Config) output(field func(*OutputsConfig) *string, def string) string {
	if c.Outputs == nil {
		return def
	}
	if v := field(c.Outputs); v != nil {
		return *v
	}
	return def
}

func (c *Config) GetSerialPort() string {
	return c.output(func(o *OutputsConfig) *string { return o.SerialPort }, "")
}

func (c *Config) GetSerialBaud() int {
	if c.Outputs == nil || c.Outputs.SerialBaud == nil {
		return 115200
	}
	return *c.Outputs.SerialBaud
}

func (c *Config) GetMQTTBroker() string {
	return c.output(func(o *OutputsConfig) *string { return o.MQTTBroker }, "")
}

func (c *Config) GetMQTTTopic() string {
	return c.output(func(o *OutputsConfig) *string { return o.MQTTTopic }, "tracking/pulses")
}

func (c *Config) GetGRPCListen() string {
	return c.output(func(o *OutputsConfig) *string { return o.GRPCListen }, "")
}

func (c *Config) GetHTTPListen() string {
	return c.output(func(o *OutputsConfig) *string { return o.HTTPListen }, ":8080")
}

func (c *Config) GetDBPath() string {
	return c.output(func(o *OutputsConfig) *string { return o.DBPath }, "tracker.db")
}
