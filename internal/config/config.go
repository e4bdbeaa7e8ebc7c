// Package config loads run settings from YAML.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ehrlich-b/go-fdpstat/internal/constants"
	"github.com/ehrlich-b/go-fdpstat/internal/nvme"
	"github.com/ehrlich-b/go-fdpstat/internal/queue"
)

// Backends accepted in the backend field
const (
	BackendIOUring = "io_uring"
	BackendEmu     = "emu"
)

// Config is the complete set of run settings. Zero values are filled in
// from defaults by Normalize.
type Config struct {
	Backend    string           `yaml:"backend"`
	Queues     int              `yaml:"queues"`
	QueueDepth int              `yaml:"queue_depth"`
	BufferSize int              `yaml:"buffer_size"`
	Select     *uint16          `yaml:"select,omitempty"` // nil selects the default
	Opcodes    map[string]uint8 `yaml:"opcodes,omitempty"`
	Emu        EmuConfig        `yaml:"emu"`
	Log        LogConfig        `yaml:"log"`
	Textfile   string           `yaml:"textfile,omitempty"` // Prometheus textfile collector output
}

// EmuConfig configures the emulated FDP namespace
type EmuConfig struct {
	Handles *int   `yaml:"handles,omitempty"`
	NSID    uint32 `yaml:"nsid,omitempty"`
	Seed    int64  `yaml:"seed,omitempty"`
	Order   string `yaml:"order,omitempty"` // fifo, lifo or random
}

// LogConfig selects log verbosity and encoding
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"` // text or json
}

// Default returns the settings used when no config file is given
func Default() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills unset fields with defaults and lower-cases enums
func (c *Config) Normalize() {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.Backend == "" {
		c.Backend = constants.DefaultBackend
	}
	if c.Queues == 0 {
		c.Queues = constants.DefaultQueueCount
	}
	if c.QueueDepth == 0 {
		c.QueueDepth = constants.DefaultQueueDepth
	}
	if c.BufferSize == 0 {
		c.BufferSize = constants.DefaultBufferSize
	}
	if c.Select == nil {
		sel := uint16(constants.DefaultSelect)
		c.Select = &sel
	}
	if len(c.Opcodes) == 0 {
		c.Opcodes = queue.DefaultOpcodeTable()
	}
	if c.Emu.Handles == nil {
		h := constants.DefaultEmuHandles
		c.Emu.Handles = &h
	}
	if c.Emu.NSID == 0 {
		c.Emu.NSID = constants.DefaultEmuNSID
	}
	c.Emu.Order = strings.ToLower(c.Emu.Order)
	if c.Emu.Order == "" {
		c.Emu.Order = "fifo"
	}
	c.Log.Level = strings.ToLower(c.Log.Level)
	if c.Log.Level == "" {
		c.Log.Level = "warn"
	}
	c.Log.Format = strings.ToLower(c.Log.Format)
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks ranges and enums. Call after Normalize.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendIOUring, BackendEmu:
	default:
		return fmt.Errorf("backend %q must be %q or %q", c.Backend, BackendIOUring, BackendEmu)
	}
	if c.Queues < 1 || c.Queues > constants.MaxQueues {
		return fmt.Errorf("queues %d out of range [1,%d]", c.Queues, constants.MaxQueues)
	}
	if c.QueueDepth < 1 || c.QueueDepth > constants.MaxQueueDepth {
		return fmt.Errorf("queue_depth %d out of range [1,%d]", c.QueueDepth, constants.MaxQueueDepth)
	}
	if c.BufferSize < nvme.RuhStatusSize {
		return fmt.Errorf("buffer_size %d is smaller than the RUH status response (%d bytes)", c.BufferSize, nvme.RuhStatusSize)
	}
	for _, mode := range []string{queue.ModeReset, queue.ModeReadOnly} {
		if _, ok := c.Opcodes[mode]; !ok {
			return fmt.Errorf("opcodes: mode %q is required", mode)
		}
	}
	if c.Emu.Handles != nil && *c.Emu.Handles < 0 {
		return fmt.Errorf("emu.handles must be >= 0")
	}
	switch c.Emu.Order {
	case "fifo", "lifo", "random":
	default:
		return fmt.Errorf("emu.order %q must be fifo, lifo or random", c.Emu.Order)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q must be debug, info, warn or error", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q must be text or json", c.Log.Format)
	}
	return nil
}

// LoadFromFile loads, normalizes and validates a YAML config file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	config.Normalize()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}
