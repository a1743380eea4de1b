// Package config loads the runtime settings of a canapp process from TOML.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/notnil/canapp/canbus"
	"github.com/notnil/canapp/internal/logging"
	"github.com/notnil/canapp/keys"
	"github.com/notnil/canapp/timer"
)

// DefaultDevice is used when no CAN interface is configured or discovered.
const DefaultDevice = "vcan0"

// maxDeviceName is IFNAMSIZ less the terminator.
const maxDeviceName = 15

type Config struct {
	// Device is the CAN network interface. Empty means discover the first
	// CAN interface on the host.
	Device string

	IdleInterval      time.Duration
	BusPollInterval   time.Duration
	TimerPollInterval time.Duration
	KeyPollInterval   time.Duration

	LogLevel    string
	TraceFrames bool
	// MetricsAddr enables the prometheus endpoint when set.
	MetricsAddr string
	// Filter restricts which received frames reach the application, in
	// canbus.ParseFilter syntax.
	Filter string
}

func Default() Config {
	return Config{
		IdleInterval:      50 * time.Millisecond,
		BusPollInterval:   canbus.DefaultPollInterval,
		TimerPollInterval: timer.DefaultPollInterval,
		KeyPollInterval:   keys.DefaultPollInterval,
		LogLevel:          "info",
	}
}

type fileConfig struct {
	Device            string `toml:"device"`
	IdleInterval      string `toml:"idle_interval"`
	BusPollInterval   string `toml:"bus_poll_interval"`
	TimerPollInterval string `toml:"timer_poll_interval"`
	KeyPollInterval   string `toml:"key_poll_interval"`
	LogLevel          string `toml:"log_level"`
	TraceFrames       bool   `toml:"trace_frames"`
	MetricsAddr       string `toml:"metrics_addr"`
	Filter            string `toml:"filter"`
}

// Load reads path and overlays every key it defines on Default.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load canapp config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("load canapp config: unknown keys %s", strings.Join(keys, ", "))
	}

	if meta.IsDefined("device") {
		cfg.Device = strings.TrimSpace(raw.Device)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"idle_interval", raw.IdleInterval, &cfg.IdleInterval},
		{"bus_poll_interval", raw.BusPollInterval, &cfg.BusPollInterval},
		{"timer_poll_interval", raw.TimerPollInterval, &cfg.TimerPollInterval},
		{"key_poll_interval", raw.KeyPollInterval, &cfg.KeyPollInterval},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("trace_frames") {
		cfg.TraceFrames = raw.TraceFrames
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("filter") {
		cfg.Filter = strings.TrimSpace(raw.Filter)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting in c.
func (c Config) Validate() error {
	var errs []error
	if len(c.Device) > maxDeviceName {
		errs = append(errs, fmt.Errorf("device %q longer than %d bytes", c.Device, maxDeviceName))
	}
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"idle_interval", c.IdleInterval},
		{"bus_poll_interval", c.BusPollInterval},
		{"timer_poll_interval", c.TimerPollInterval},
		{"key_poll_interval", c.KeyPollInterval},
	} {
		if d.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", d.name, d.v))
		}
	}
	if c.LogLevel != "" {
		if _, ok := logging.ParseLevel(c.LogLevel); !ok {
			errs = append(errs, fmt.Errorf("unknown log_level %q", c.LogLevel))
		}
	}
	if _, err := canbus.ParseFilter(c.Filter); err != nil {
		errs = append(errs, fmt.Errorf("filter: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid canapp config: %w", err)
	}
	return nil
}
