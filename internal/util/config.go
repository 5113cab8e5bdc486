// Package util provides configuration and logging for netscan.
package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	DataDir  string `mapstructure:"data_dir"`
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn warning error"`
	LogFile  string `mapstructure:"log_file"`

	// Network
	Interface        string `mapstructure:"interface"`
	DNSServer        string `mapstructure:"dns_server" validate:"omitempty,hostname_port|ip"`
	ICMPUnprivileged bool   `mapstructure:"icmp_unprivileged"`

	// Scan form defaults, validated together with the user's input.
	Timeout    string `mapstructure:"timeout"`
	TTL        string `mapstructure:"ttl"`
	Interval   string `mapstructure:"interval"`
	PacketSize string `mapstructure:"packet_size"`
	Prefix     string `mapstructure:"prefix"`

	// Per-probe reply windows
	ARPWindow   time.Duration `mapstructure:"arp_window" validate:"gt=0"`
	PortTimeout time.Duration `mapstructure:"port_timeout" validate:"gt=0"`

	// Metrics endpoint, e.g. ":9108". Empty disables it.
	MetricsAddr string `mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".netscan")

	return &Config{
		DataDir:  dataDir,
		LogLevel: "info",
		LogFile:  filepath.Join(dataDir, "netscan.log"),

		Timeout:    "4",
		TTL:        "128",
		Interval:   "1",
		PacketSize: "32",
		Prefix:     "24",

		ARPWindow:   2 * time.Second,
		PortTimeout: time.Second,
	}
}

// LoadConfig loads configuration from file and environment.
func LoadConfig(cfgFile string) (*Config, error) {
	cfg := DefaultConfig()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(cfg.DataDir)
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("NETSCAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("data_dir", cfg.DataDir)
	viper.SetDefault("log_level", cfg.LogLevel)
	viper.SetDefault("log_file", cfg.LogFile)
	viper.SetDefault("interface", cfg.Interface)
	viper.SetDefault("dns_server", cfg.DNSServer)
	viper.SetDefault("icmp_unprivileged", cfg.ICMPUnprivileged)
	viper.SetDefault("timeout", cfg.Timeout)
	viper.SetDefault("ttl", cfg.TTL)
	viper.SetDefault("interval", cfg.Interval)
	viper.SetDefault("packet_size", cfg.PacketSize)
	viper.SetDefault("prefix", cfg.Prefix)
	viper.SetDefault("arp_window", cfg.ARPWindow)
	viper.SetDefault("port_timeout", cfg.PortTimeout)
	viper.SetDefault("metrics_addr", cfg.MetricsAddr)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// EnsureDir ensures a directory exists.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
