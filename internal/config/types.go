package config

import "time"

// Config is the full on-disk configuration of the flowd process.
type Config struct {
	Logging   Logging   `json:"logging"`
	Storage   Storage   `json:"storage"`
	Scheduler Scheduler `json:"scheduler"`

	// Seed optionally points at a YAML file of flows and schedules to
	// upsert into the store at startup.
	Seed string `json:"seed,omitempty"`
}

type Logging struct {
	Level   string      `json:"level,omitempty"`
	Console bool        `json:"console,omitempty"`
	File    LoggingFile `json:"file,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

type Storage struct {
	Driver string `json:"driver,omitempty"` // sqlite | postgres | memory
	Path   string `json:"path,omitempty"`   // sqlite file path
	DSN    string `json:"dsn,omitempty"`    // postgres connection string

	// BusyTimeout is a Go duration string, sqlite only.
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type Scheduler struct {
	Enabled                bool   `json:"enabled"`
	Timezone               string `json:"timezone,omitempty"` // IANA TZ, e.g. "Asia/Jakarta"
	MaxConsecutiveFailures int    `json:"max_consecutive_failures,omitempty"`
}

// Default returns the configuration used when a block is absent.
func Default() *Config {
	return &Config{
		Logging: Logging{Level: "INFO", Console: true},
		Storage: Storage{Driver: "sqlite", Path: "./data/flow.db"},
		Scheduler: Scheduler{
			Enabled:                true,
			MaxConsecutiveFailures: 3,
		},
	}
}

// ParseDurationField parses an optional Go duration string from the
// config, rejecting negatives. Empty means zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	return parseDuration(path, raw)
}
