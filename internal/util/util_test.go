package util

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "4", cfg.Timeout)
	assert.Equal(t, "128", cfg.TTL)
	assert.Equal(t, "1", cfg.Interval)
	assert.Equal(t, "32", cfg.PacketSize)
	assert.Equal(t, "24", cfg.Prefix)
	assert.Equal(t, 2*time.Second, cfg.ARPWindow)
	assert.Equal(t, time.Second, cfg.PortTimeout)
	assert.Equal(t, "netscan.log", filepath.Base(cfg.LogFile))
	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad level", func(c *Config) { c.LogLevel = "loud" }},
		{"zero arp window", func(c *Config) { c.ARPWindow = 0 }},
		{"negative port timeout", func(c *Config) { c.PortTimeout = -time.Second }},
		{"bad metrics addr", func(c *Config) { c.MetricsAddr = "nope" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zap.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zap.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zap.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zap.InfoLevel, ParseLevel("whatever"))
}

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "netscan.log")

	logger := NewLogger(zap.InfoLevel, path)
	logger.Info("hello", zap.String("k", "v"))
	logger.Debug("hidden")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"hello"`)
	assert.NotContains(t, string(data), "hidden")
}
