package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	logx "shiftsync/pkg/logx"
)

// Workflow type names recognized under scheduler.frequencies.
var WorkflowTypes = []string{"employees", "shifts", "openshifts", "timeoff", "availability"}

// Entity kinds recognized under sync.abort_on_zero.
var EntityKinds = []string{"shifts", "openshifts", "timeoff", "availability"}

var defaultFrequencies = map[string]time.Duration{
	"employees":    60 * time.Minute,
	"shifts":       15 * time.Minute,
	"openshifts":   15 * time.Minute,
	"timeoff":      30 * time.Minute,
	"availability": 60 * time.Minute,
}

const (
	DefaultTick                  = "0 * * * * *"
	DefaultHungThreshold         = 30 * time.Minute
	DefaultWorkers               = 4
	DefaultQueueSize             = 256
	DefaultMaxDelta              = 100
	DefaultLeaseDuration         = 30 * time.Second
	DefaultConflictRetryCount    = 5
	DefaultConflictRetryInterval = 2 * time.Second
	DefaultWeeksAhead            = 3
	DefaultMetricsAddr           = "127.0.0.1:9464"
	DefaultMetricsPath           = "/metrics"
	DefaultBusyTimeout           = 5 * time.Second
)

// Settings is the parsed, defaulted view of Config consumed by the rest of
// the service.
type Settings struct {
	Logging   logx.Config
	Storage   StorageSettings
	Scheduler SchedulerSettings
	Host      HostSettings
	Sync      SyncSettings
	Metrics   MetricsConfig
	Platform  PlatformConfig
}

type StorageSettings struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration
}

type SchedulerSettings struct {
	Enabled       bool
	Tick          string
	Location      *time.Location
	HungThreshold time.Duration
	Frequencies   map[string]time.Duration
}

// Frequency returns the configured frequency for a workflow type.
func (s SchedulerSettings) Frequency(workflowType string) time.Duration {
	if d, ok := s.Frequencies[workflowType]; ok && d > 0 {
		return d
	}
	if d, ok := defaultFrequencies[workflowType]; ok {
		return d
	}
	return 15 * time.Minute
}

type HostSettings struct {
	Workers         int
	QueueSize       int
	InstanceTimeout time.Duration
}

type SyncSettings struct {
	AbortOnZero           map[string]bool
	MaxDelta              int
	MaxItemFailures       int
	LeaseDuration         time.Duration
	ConflictRetryCount    int
	ConflictRetryInterval time.Duration
	ApplyRatePerSec       int
	WeeksAhead            int
	WeeksBehind           int
	WeekStart             time.Weekday
}

// Resolve validates cfg and fills defaults. All problems are reported at once.
func Resolve(cfg *Config) (Settings, error) {
	if cfg == nil {
		return Settings{}, errors.New("config is nil")
	}
	var errs []error
	fail := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var s Settings

	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		fail(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if lvl := strings.TrimSpace(cfg.Logging.Alerts.MinLevel); lvl != "" && !logx.ValidLevel(lvl) {
		fail(fmt.Errorf("logging.alerts.min_level: unknown level %q", cfg.Logging.Alerts.MinLevel))
	}
	s.Logging = logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
		Alerts: logx.AlertConfig{
			Enabled:    cfg.Logging.Alerts.Enabled,
			Path:       cfg.Logging.Alerts.Path,
			MinLevel:   cfg.Logging.Alerts.MinLevel,
			RatePerSec: cfg.Logging.Alerts.RatePerSec,
		},
	}

	// storage
	s.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if s.Storage.Driver == "" {
		s.Storage.Driver = "memory"
	}
	s.Storage.Path = strings.TrimSpace(cfg.Storage.Path)
	switch s.Storage.Driver {
	case "memory":
	case "sqlite":
		if s.Storage.Path == "" {
			fail(errors.New("storage.path: required for sqlite driver"))
		}
	default:
		fail(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	var err error
	s.Storage.BusyTimeout, err = ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, DefaultBusyTimeout)
	fail(err)

	// scheduler
	s.Scheduler.Enabled = cfg.Scheduler.Enabled
	s.Scheduler.Tick = strings.TrimSpace(cfg.Scheduler.Tick)
	if s.Scheduler.Tick == "" {
		s.Scheduler.Tick = DefaultTick
	}
	s.Scheduler.Location = time.Local
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		loc, lerr := time.LoadLocation(tz)
		if lerr != nil {
			fail(fmt.Errorf("scheduler.timezone: %w", lerr))
		} else {
			s.Scheduler.Location = loc
		}
	}
	s.Scheduler.HungThreshold, err = ParseDurationOrDefault("scheduler.hung_threshold", cfg.Scheduler.HungThreshold, DefaultHungThreshold)
	fail(err)
	s.Scheduler.Frequencies = make(map[string]time.Duration, len(defaultFrequencies))
	for k, v := range defaultFrequencies {
		s.Scheduler.Frequencies[k] = v
	}
	for k, raw := range cfg.Scheduler.Frequencies {
		name := strings.ToLower(strings.TrimSpace(k))
		if _, ok := defaultFrequencies[name]; !ok {
			fail(fmt.Errorf("scheduler.frequencies: unknown workflow type %q", k))
			continue
		}
		d, ferr := ParseDurationOrDefault("scheduler.frequencies."+name, raw, defaultFrequencies[name])
		if ferr != nil {
			fail(ferr)
			continue
		}
		if d < time.Minute {
			fail(fmt.Errorf("scheduler.frequencies.%s: must be at least 1m", name))
			continue
		}
		s.Scheduler.Frequencies[name] = d
	}

	// host
	s.Host.Workers = cfg.Host.Workers
	if s.Host.Workers <= 0 {
		s.Host.Workers = DefaultWorkers
	}
	s.Host.QueueSize = cfg.Host.QueueSize
	if s.Host.QueueSize <= 0 {
		s.Host.QueueSize = DefaultQueueSize
	}
	s.Host.InstanceTimeout, err = ParseDurationField("host.instance_timeout", cfg.Host.InstanceTimeout)
	fail(err)

	// sync
	s.Sync.AbortOnZero = map[string]bool{"shifts": true, "openshifts": true, "timeoff": true, "availability": false}
	for k, v := range cfg.Sync.AbortOnZero {
		name := strings.ToLower(strings.TrimSpace(k))
		if !slices.Contains(EntityKinds, name) {
			fail(fmt.Errorf("sync.abort_on_zero: unknown entity kind %q", k))
			continue
		}
		s.Sync.AbortOnZero[name] = v
	}
	s.Sync.MaxDelta = cfg.Sync.MaxDelta
	if s.Sync.MaxDelta <= 0 {
		s.Sync.MaxDelta = DefaultMaxDelta
	}
	if cfg.Sync.MaxItemFailures < 0 {
		fail(errors.New("sync.max_item_failures: must be >= 0"))
	}
	s.Sync.MaxItemFailures = max(0, cfg.Sync.MaxItemFailures)
	s.Sync.LeaseDuration, err = ParseDurationOrDefault("sync.lease_duration", cfg.Sync.LeaseDuration, DefaultLeaseDuration)
	fail(err)
	if s.Sync.LeaseDuration > 0 && (s.Sync.LeaseDuration < 15*time.Second || s.Sync.LeaseDuration > 60*time.Second) {
		fail(fmt.Errorf("sync.lease_duration: %s outside 15s..60s", s.Sync.LeaseDuration))
	}
	s.Sync.ConflictRetryCount = cfg.Sync.ConflictRetryCount
	if s.Sync.ConflictRetryCount <= 0 {
		s.Sync.ConflictRetryCount = DefaultConflictRetryCount
	}
	s.Sync.ConflictRetryInterval, err = ParseDurationOrDefault("sync.conflict_retry_interval", cfg.Sync.ConflictRetryInterval, DefaultConflictRetryInterval)
	fail(err)
	s.Sync.ApplyRatePerSec = max(0, cfg.Sync.ApplyRatePerSec)
	s.Sync.WeeksAhead = cfg.Sync.WeeksAhead
	if s.Sync.WeeksAhead <= 0 {
		s.Sync.WeeksAhead = DefaultWeeksAhead
	}
	if cfg.Sync.WeeksBehind < 0 {
		fail(errors.New("sync.weeks_behind: must be >= 0"))
	}
	s.Sync.WeeksBehind = max(0, cfg.Sync.WeeksBehind)
	s.Sync.WeekStart, err = ParseWeekday("sync.week_start", cfg.Sync.WeekStart)
	fail(err)

	// metrics
	s.Metrics = cfg.Metrics
	if strings.TrimSpace(s.Metrics.Addr) == "" {
		s.Metrics.Addr = DefaultMetricsAddr
	}
	if strings.TrimSpace(s.Metrics.Path) == "" {
		s.Metrics.Path = DefaultMetricsPath
	}
	if !strings.HasPrefix(s.Metrics.Path, "/") {
		fail(fmt.Errorf("metrics.path: must start with '/' (got %q)", cfg.Metrics.Path))
	}

	// platform
	s.Platform = cfg.Platform
	s.Platform.Driver = strings.ToLower(strings.TrimSpace(s.Platform.Driver))
	if s.Platform.Driver == "" {
		s.Platform.Driver = "memory"
	}
	if s.Platform.Driver != "memory" {
		fail(fmt.Errorf("platform.driver: unknown driver %q", cfg.Platform.Driver))
	}

	if len(errs) > 0 {
		return Settings{}, errors.Join(errs...)
	}
	return s, nil
}

// Validate is a ConfigManager validator that rejects configs Resolve cannot accept.
func Validate(_ context.Context, cfg *Config) error {
	_, err := Resolve(cfg)
	return err
}
