package config

import (
	"reflect"
	"sort"
	"strings"

	logx "shiftsync/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) structured attrs for logging, and (3) the changed sections that only
// take effect after a restart (storage, host, platform).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	restart := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 20)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alerts_enabled", newCfg.Logging.Alerts.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.tick", strings.TrimSpace(newCfg.Scheduler.Tick)),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.hung_threshold", strings.TrimSpace(newCfg.Scheduler.HungThreshold)),
			logx.Int("scheduler.frequency_overrides", len(newCfg.Scheduler.Frequencies)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Sync, newCfg.Sync) {
		changed = append(changed, "sync")
		attrs = append(attrs,
			logx.Int("sync.max_delta", newCfg.Sync.MaxDelta),
			logx.Int("sync.max_item_failures", newCfg.Sync.MaxItemFailures),
			logx.String("sync.lease_duration", strings.TrimSpace(newCfg.Sync.LeaseDuration)),
			logx.Int("sync.conflict_retry_count", newCfg.Sync.ConflictRetryCount),
			logx.Int("sync.apply_rate_per_sec", newCfg.Sync.ApplyRatePerSec),
		)
	}

	if oldCfg.Host != newCfg.Host {
		changed = append(changed, "host")
		restart = append(restart, "host")
		attrs = append(attrs,
			logx.Int("host.workers", newCfg.Host.Workers),
			logx.Int("host.queue_size", newCfg.Host.QueueSize),
		)
	}

	if strings.TrimSpace(oldCfg.Storage.Driver) != strings.TrimSpace(newCfg.Storage.Driver) ||
		strings.TrimSpace(oldCfg.Storage.Path) != strings.TrimSpace(newCfg.Storage.Path) ||
		strings.TrimSpace(oldCfg.Storage.BusyTimeout) != strings.TrimSpace(newCfg.Storage.BusyTimeout) {
		changed = append(changed, "storage")
		restart = append(restart, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}

	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", strings.TrimSpace(newCfg.Metrics.Addr)),
		)
	}

	if oldCfg.Platform != newCfg.Platform {
		changed = append(changed, "platform")
		restart = append(restart, "platform")
		attrs = append(attrs, logx.String("platform.driver", strings.TrimSpace(newCfg.Platform.Driver)))
	}

	sort.Strings(changed)
	sort.Strings(restart)
	return changed, attrs, restart
}
