package config

// Config is the root of the shiftsync config file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "30s", "15m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Host      HostConfig      `json:"host,omitempty"`
	Sync      SyncConfig      `json:"sync"`
	Metrics   MetricsConfig   `json:"metrics,omitempty"`
	Platform  PlatformConfig  `json:"platform"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Alerts  LoggingAlerts `json:"alerts,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlerts controls the alert sink (stalled workflows, dead-lettered
// records, exhausted lease retries).
type LoggingAlerts struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig controls the state store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/shiftsync.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// SchedulerConfig controls the orchestration health scheduler.
//
// Defaults (when fields are omitted/zero):
//   - tick: "0 * * * * *" (every wall-clock minute)
//   - hung_threshold: "30m"
//   - frequencies: employees 60m, shifts 15m, openshifts 15m, timeoff 30m, availability 60m
type SchedulerConfig struct {
	Enabled       bool              `json:"enabled"`
	Tick          string            `json:"tick,omitempty"`
	Timezone      string            `json:"timezone,omitempty"` // IANA TZ used for the tick schedule
	HungThreshold string            `json:"hung_threshold,omitempty"`
	Frequencies   map[string]string `json:"frequencies,omitempty"`
}

// HostConfig controls the in-process orchestration host.
//
// Defaults: workers 4, queue_size 256, instance_timeout "0s" (disabled).
type HostConfig struct {
	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	InstanceTimeout string `json:"instance_timeout,omitempty"`
}

// SyncConfig controls reconciliation cycles.
//
// AbortOnZero is keyed by entity kind (shifts, openshifts, timeoff, availability).
// MaxItemFailures of 0 keeps retrying failed records forever.
type SyncConfig struct {
	AbortOnZero           map[string]bool `json:"abort_on_zero,omitempty"`
	MaxDelta              int             `json:"max_delta,omitempty"`
	MaxItemFailures       int             `json:"max_item_failures,omitempty"`
	LeaseDuration         string          `json:"lease_duration,omitempty"`
	ConflictRetryCount    int             `json:"conflict_retry_count,omitempty"`
	ConflictRetryInterval string          `json:"conflict_retry_interval,omitempty"`
	ApplyRatePerSec       int             `json:"apply_rate_per_sec,omitempty"`
	WeeksAhead            int             `json:"weeks_ahead,omitempty"`
	WeeksBehind           int             `json:"weeks_behind,omitempty"`
	WeekStart             string          `json:"week_start,omitempty"`
}

// MetricsConfig controls the optional Prometheus endpoint.
//
// Prefer binding to localhost (default "127.0.0.1:9464").
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Path    string `json:"path,omitempty"`
}

// PlatformConfig selects the source/destination clients.
//
// Only the "memory" driver ships with this repo; it is seeded from Fixture.
type PlatformConfig struct {
	Driver  string `json:"driver"`
	Fixture string `json:"fixture,omitempty"`
}
