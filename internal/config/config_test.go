package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oscmap/oscmap/testutil"
)

func TestLoad(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	content := `
listen:
  host: 127.0.0.1
  port: 9100
  read_timeout: 50ms
  read_buffer: 4MiB
queue_size: 1024
tick_interval: 16ms
auto_key: true
autostart: false
mappings_file: /etc/oscmap/mappings.yaml
keyframes:
  backend: badger
  dir: /var/lib/oscmap/keyframes
admin:
  enabled: false
tracing:
  enabled: true
  buffer: 2MB
log_format: json
`
	path := testutil.TempFile(t, dir, "config.yaml", content)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1", cfg.Listen.Host)
	assert.Equal(t, 9100, cfg.Listen.Port)
	assert.Equal(t, 50*time.Millisecond, cfg.ReadTimeout())
	assert.Equal(t, 4*1024*1024, cfg.ReadBufferBytes())
	assert.Equal(t, 1024, cfg.QueueSize)
	assert.Equal(t, 16*time.Millisecond, cfg.Tick())
	assert.True(t, cfg.AutoKey)
	assert.False(t, cfg.Autostart)
	assert.Equal(t, "/etc/oscmap/mappings.yaml", cfg.MappingsFile)
	assert.Equal(t, "badger", cfg.Keyframes.Backend)
	assert.False(t, cfg.Admin.Enabled)
	assert.Equal(t, "127.0.0.1:9091", cfg.Admin.Listen, "unset fields keep defaults")
	assert.Equal(t, "json", cfg.LogFormat)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, uint64(2*1000*1000), cfg.TraceBufferBytes())

	lc := cfg.ListenerConfig()
	assert.Equal(t, "127.0.0.1:9100", lc.Addr())
	assert.Equal(t, 50*time.Millisecond, lc.ReadTimeout)
}

func TestLoad_Defaults(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	path := testutil.TempFile(t, dir, "config.yaml", "listen:\n  port: 8000\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "0.0.0.0", cfg.Listen.Host)
	assert.Equal(t, 8000, cfg.Listen.Port)
	assert.Equal(t, 65536, cfg.QueueSize)
	assert.Equal(t, 10*time.Millisecond, cfg.Tick())
	assert.Equal(t, 1000*1000, cfg.ReadBufferBytes())
	assert.True(t, cfg.Autostart)
	assert.False(t, cfg.AutoKey)
	assert.Equal(t, "memory", cfg.Keyframes.Backend)
	assert.True(t, cfg.Admin.Enabled)
	assert.Equal(t, "/tmp/oscmap.sock", cfg.Control.Socket)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, uint64(10*1000*1000), cfg.TraceBufferBytes())
}

func TestLoad_ExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	path := testutil.TempFile(t, dir, "config.yaml", "mappings_file: ~/maps.yaml\nscene_file: ~/scene.yaml\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "maps.yaml"), cfg.MappingsFile)
	assert.Equal(t, filepath.Join(home, "scene.yaml"), cfg.SceneFile)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	path := testutil.TempFile(t, dir, "config.yaml", "listen: [invalid yaml\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"port too large", func(c *Config) { c.Listen.Port = 70000 }},
		{"bad read timeout", func(c *Config) { c.Listen.ReadTimeout = "soon" }},
		{"zero read timeout", func(c *Config) { c.Listen.ReadTimeout = "0s" }},
		{"bad read buffer", func(c *Config) { c.Listen.ReadBuffer = "lots" }},
		{"zero queue", func(c *Config) { c.QueueSize = 0 }},
		{"bad tick", func(c *Config) { c.TickInterval = "-1ms" }},
		{"unknown backend", func(c *Config) { c.Keyframes.Backend = "tape" }},
		{"badger without dir", func(c *Config) {
			c.Keyframes.Backend = "badger"
			c.Keyframes.Dir = ""
		}},
		{"bad admin listen", func(c *Config) { c.Admin.Listen = "9091" }},
		{"no control socket", func(c *Config) { c.Control.Socket = "" }},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }},
		{"bad trace buffer", func(c *Config) { c.Tracing.Buffer = "big" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_AdminDisabledSkipsListen(t *testing.T) {
	cfg := Default()
	cfg.Admin.Enabled = false
	cfg.Admin.Listen = "garbage"
	assert.NoError(t, cfg.Validate())
}
