// Package config handles configuration loading and validation for oscmap.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/oscmap/oscmap/internal/keyframe"
	"github.com/oscmap/oscmap/internal/listener"
)

// ListenConfig holds the OSC UDP listener settings.
type ListenConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	ReadTimeout string `yaml:"read_timeout"` // Duration string, e.g. "100ms"
	ReadBuffer  string `yaml:"read_buffer"`  // Size string, e.g. "1MB"
}

// KeyframeConfig selects where auto-keyed values are recorded.
type KeyframeConfig struct {
	Backend string `yaml:"backend"` // memory or badger
	Dir     string `yaml:"dir"`     // badger data directory
}

// AdminConfig holds configuration for the admin HTTP interface.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// TracingConfig controls the runtime flight recorder served at /debug/trace.
type TracingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Buffer  string `yaml:"buffer"` // Size string, e.g. "10MB"
}

// ControlConfig holds configuration for the local control socket.
type ControlConfig struct {
	Socket string `yaml:"socket"`
}

// Config is the daemon configuration.
type Config struct {
	Listen       ListenConfig   `yaml:"listen"`
	QueueSize    int            `yaml:"queue_size"`
	TickInterval string         `yaml:"tick_interval"` // Duration string, e.g. "10ms"
	AutoKey      bool           `yaml:"auto_key"`
	Autostart    bool           `yaml:"autostart"`
	MappingsFile string         `yaml:"mappings_file"`
	SceneFile    string         `yaml:"scene_file"`
	Keyframes    KeyframeConfig `yaml:"keyframes"`
	Admin        AdminConfig    `yaml:"admin"`
	Control      ControlConfig  `yaml:"control"`
	Tracing      TracingConfig  `yaml:"tracing"`
	LogFormat    string         `yaml:"log_format"` // console or json
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return expandHome("~/.oscmap/config.yaml")
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{
			Host:        "0.0.0.0",
			Port:        9000,
			ReadTimeout: "100ms",
			ReadBuffer:  "1MB",
		},
		QueueSize:    65536,
		TickInterval: "10ms",
		Autostart:    true,
		MappingsFile: expandHome("~/.oscmap/mappings.yaml"),
		Keyframes: KeyframeConfig{
			Backend: keyframe.BackendMemory,
			Dir:     expandHome("~/.oscmap/keyframes"),
		},
		Admin: AdminConfig{
			Enabled: true,
			Listen:  "127.0.0.1:9091",
		},
		Control: ControlConfig{
			Socket: "/tmp/oscmap.sock",
		},
		Tracing: TracingConfig{
			Buffer: "10MB",
		},
		LogFormat: "console",
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	// Apply defaults for values explicitly blanked in the file
	def := Default()
	if cfg.Listen.Host == "" {
		cfg.Listen.Host = def.Listen.Host
	}
	if cfg.Listen.ReadTimeout == "" {
		cfg.Listen.ReadTimeout = def.Listen.ReadTimeout
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.TickInterval == "" {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.Keyframes.Backend == "" {
		cfg.Keyframes.Backend = def.Keyframes.Backend
	}
	if cfg.Keyframes.Dir == "" {
		cfg.Keyframes.Dir = def.Keyframes.Dir
	}
	if cfg.Admin.Listen == "" {
		cfg.Admin.Listen = def.Admin.Listen
	}
	if cfg.Control.Socket == "" {
		cfg.Control.Socket = def.Control.Socket
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = def.LogFormat
	}

	// Expand home directory in paths
	cfg.MappingsFile = expandHome(cfg.MappingsFile)
	cfg.SceneFile = expandHome(cfg.SceneFile)
	cfg.Keyframes.Dir = expandHome(cfg.Keyframes.Dir)
	cfg.Control.Socket = expandHome(cfg.Control.Socket)

	return cfg, nil
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(homeDir, path[2:])
		}
	}
	return path
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port must be between 0 and 65535")
	}
	if d, err := time.ParseDuration(c.Listen.ReadTimeout); err != nil || d <= 0 {
		return fmt.Errorf("invalid listen.read_timeout %q", c.Listen.ReadTimeout)
	}
	if c.Listen.ReadBuffer != "" {
		if _, err := humanize.ParseBytes(c.Listen.ReadBuffer); err != nil {
			return fmt.Errorf("invalid listen.read_buffer: %w", err)
		}
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be positive")
	}
	if d, err := time.ParseDuration(c.TickInterval); err != nil || d <= 0 {
		return fmt.Errorf("invalid tick_interval %q", c.TickInterval)
	}
	switch c.Keyframes.Backend {
	case keyframe.BackendMemory:
	case keyframe.BackendBadger:
		if c.Keyframes.Dir == "" {
			return fmt.Errorf("keyframes.dir is required for the badger backend")
		}
	default:
		return fmt.Errorf("keyframes.backend must be %q or %q", keyframe.BackendMemory, keyframe.BackendBadger)
	}
	if c.Admin.Enabled {
		if _, _, err := net.SplitHostPort(c.Admin.Listen); err != nil {
			return fmt.Errorf("invalid admin.listen: %w", err)
		}
	}
	if c.Control.Socket == "" {
		return fmt.Errorf("control.socket is required")
	}
	if c.Tracing.Buffer != "" {
		if _, err := humanize.ParseBytes(c.Tracing.Buffer); err != nil {
			return fmt.Errorf("invalid tracing.buffer: %w", err)
		}
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log_format must be console or json")
	}
	return nil
}

// ReadTimeout returns the parsed listener read timeout.
func (c *Config) ReadTimeout() time.Duration {
	d, err := time.ParseDuration(c.Listen.ReadTimeout)
	if err != nil {
		return listener.DefaultReadTimeout
	}
	return d
}

// Tick returns the parsed dispatch tick interval.
func (c *Config) Tick() time.Duration {
	d, err := time.ParseDuration(c.TickInterval)
	if err != nil || d <= 0 {
		return 10 * time.Millisecond
	}
	return d
}

// ReadBufferBytes returns the parsed socket receive buffer size, 0 if unset.
func (c *Config) ReadBufferBytes() int {
	if c.Listen.ReadBuffer == "" {
		return 0
	}
	n, err := humanize.ParseBytes(c.Listen.ReadBuffer)
	if err != nil {
		return 0
	}
	return int(n)
}

// TraceBufferBytes returns the parsed flight recorder size, 0 for the default.
func (c *Config) TraceBufferBytes() uint64 {
	n, err := humanize.ParseBytes(c.Tracing.Buffer)
	if err != nil {
		return 0
	}
	return n
}

// ListenerConfig converts the listen section for the listener package.
func (c *Config) ListenerConfig() listener.Config {
	return listener.Config{
		Host:        c.Listen.Host,
		Port:        c.Listen.Port,
		ReadTimeout: c.ReadTimeout(),
		ReadBuffer:  c.ReadBufferBytes(),
	}
}
