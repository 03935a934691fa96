// Package config loads the sensorpoll configuration from a TOML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/luhtfiimanal/go-sensor-termio/driver"
)

// Config is the on-disk configuration. Zero fields fall back to Default.
type Config struct {
	Device          string `toml:"device"`
	Mode            string `toml:"mode"`
	PollIntervalMS  int    `toml:"poll_interval_ms"`
	CycleDeadlineMS int    `toml:"cycle_deadline_ms"`

	// StorePath enables the SQLite outcome history when set.
	StorePath string `toml:"store_path"`
	// Listen enables the HTTP live feed when set, e.g. "127.0.0.1:9039".
	Listen string `toml:"listen"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Mode:            driver.NonBlocking.String(),
		PollIntervalMS:  int(driver.DefaultPollInterval / time.Millisecond),
		CycleDeadlineMS: int(driver.DefaultCycleDeadline / time.Millisecond),
		LogLevel:        "info",
		LogFormat:       "console",
	}
}

// Load reads path on top of Default. Unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	md, err := toml.Decode(string(b), &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return Config{}, fmt.Errorf("config: %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// Validate checks the configuration. It does not modify it.
func (c Config) Validate() error {
	var errs []error
	if c.Device == "" {
		errs = append(errs, errors.New("device path is required"))
	}
	if _, err := c.DriverConfig(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogLevel) {
	case "trace", "debug", "info", "warn", "error", "disabled":
	default:
		errs = append(errs, fmt.Errorf("log_level %q: expected trace, debug, info, warn, error or disabled", c.LogLevel))
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q: expected console or json", c.LogFormat))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// DriverConfig converts the timing fields for driver.New.
func (c Config) DriverConfig() (driver.Config, error) {
	mode, err := driver.ParseMode(c.Mode)
	if err != nil {
		return driver.Config{}, err
	}
	if c.PollIntervalMS <= 0 {
		return driver.Config{}, fmt.Errorf("poll_interval_ms must be > 0, got %d", c.PollIntervalMS)
	}
	if c.CycleDeadlineMS < c.PollIntervalMS {
		return driver.Config{}, fmt.Errorf("cycle_deadline_ms (%d) must be >= poll_interval_ms (%d)",
			c.CycleDeadlineMS, c.PollIntervalMS)
	}
	dc := driver.Config{
		Mode:          mode,
		PollInterval:  time.Duration(c.PollIntervalMS) * time.Millisecond,
		CycleDeadline: time.Duration(c.CycleDeadlineMS) * time.Millisecond,
	}
	return dc, dc.Validate()
}
