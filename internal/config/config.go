// Package config loads tickq command configuration from a file, the
// environment (TICKQ_*) and command-line flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Query-farm/tickq/tickq"
	"github.com/spf13/viper"
)

// Config holds all configuration of the tickq commands.
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	Request   RequestConfig   `mapstructure:"request"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServiceConfig locates the service.
type ServiceConfig struct {
	Address    string `mapstructure:"address"`
	Embedded   bool   `mapstructure:"embedded"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
}

// RequestConfig holds request defaults.
type RequestConfig struct {
	TimeZone    string `mapstructure:"time_zone"`
	Separator   string `mapstructure:"separator"`
	InputSorted bool   `mapstructure:"input_sorted"`
	Streaming   bool   `mapstructure:"streaming"`
}

// CatalogConfig points at a describe document. Empty means the built-in
// functions.
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// TelemetryConfig enables OpenTelemetry stdout exporters.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Address:    "127.0.0.1:3090",
			TimeoutSec: 300,
		},
		Request: RequestConfig{
			TimeZone:  tickq.DefaultTimeZone,
			Separator: tickq.DefaultSeparator,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "tickq",
		},
	}
}

// Load reads configuration from configPath (or the usual locations when
// empty) and the environment.
func Load(configPath string) (*Config, error) {
	return LoadViper(viper.New(), configPath)
}

// LoadViper is Load on a caller-supplied viper instance, typically one with
// command-line flags bound to it.
func LoadViper(v *viper.Viper, configPath string) (*Config, error) {
	cfg := defaultConfig()
	v.SetDefault("service.address", cfg.Service.Address)
	v.SetDefault("service.embedded", cfg.Service.Embedded)
	v.SetDefault("service.timeout_sec", cfg.Service.TimeoutSec)
	v.SetDefault("request.time_zone", cfg.Request.TimeZone)
	v.SetDefault("request.separator", cfg.Request.Separator)
	v.SetDefault("request.input_sorted", cfg.Request.InputSorted)
	v.SetDefault("request.streaming", cfg.Request.Streaming)
	v.SetDefault("catalog.path", cfg.Catalog.Path)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.output", cfg.Log.Output)
	v.SetDefault("telemetry.enabled", cfg.Telemetry.Enabled)
	v.SetDefault("telemetry.service_name", cfg.Telemetry.ServiceName)

	v.SetEnvPrefix("TICKQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("tickq")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.tickq")
		v.AddConfigPath("/etc/tickq")
		_ = v.ReadInConfig()
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that configuration values are sensible.
func (c *Config) Validate() error {
	if c.Service.Address == "" && !c.Service.Embedded {
		return fmt.Errorf("service.address is required")
	}
	if c.Service.TimeoutSec < 0 {
		return fmt.Errorf("invalid timeout_sec: %d", c.Service.TimeoutSec)
	}
	if len(c.Request.Separator) != 1 || strings.ContainsAny(c.Request.Separator, "\r\n") {
		return fmt.Errorf("separator must be a single character other than a line break, got %q", c.Request.Separator)
	}
	if c.Request.TimeZone != "" {
		if _, err := time.LoadLocation(c.Request.TimeZone); err != nil {
			return fmt.Errorf("invalid time_zone %q: %w", c.Request.TimeZone, err)
		}
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	return nil
}

// Timeout returns the per-batch timeout, zero for none.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Service.TimeoutSec) * time.Second
}

// ClientConfig returns the tickq client configuration.
func (c *Config) ClientConfig() tickq.Config {
	return tickq.Config{
		Service:     c.Service.Address,
		TimeZone:    c.Request.TimeZone,
		Separator:   c.Request.Separator,
		InputSorted: c.Request.InputSorted,
		Streaming:   c.Request.Streaming,
	}
}
