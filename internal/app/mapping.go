package app

import (
	"fmt"
	"time"

	"shiftsync/internal/config"
	"shiftsync/internal/health"
	"shiftsync/internal/orchestration"
	"shiftsync/internal/platform/memory"
	"shiftsync/internal/schedule"
	"shiftsync/internal/storage"
	"shiftsync/internal/workflow"
)

func mapStorage(s config.StorageSettings) storage.Config {
	return storage.Config{Driver: s.Driver, Path: s.Path, BusyTimeout: s.BusyTimeout}
}

func mapHost(s config.HostSettings) orchestration.Config {
	return orchestration.Config{
		Workers:         s.Workers,
		QueueSize:       s.QueueSize,
		InstanceTimeout: s.InstanceTimeout,
	}
}

func mapScheduler(s config.SchedulerSettings) health.Config {
	freq := make(map[schedule.WorkflowType]time.Duration, len(schedule.WorkflowTypes))
	for _, w := range schedule.WorkflowTypes {
		freq[w] = s.Frequency(string(w))
	}
	return health.Config{
		Enabled:       s.Enabled,
		Tick:          s.Tick,
		Location:      s.Location,
		HungThreshold: s.HungThreshold,
		Frequencies:   freq,
	}
}

func mapSync(s config.SyncSettings) workflow.Options {
	abort := make(map[schedule.EntityKind]bool, len(s.AbortOnZero))
	for k, v := range s.AbortOnZero {
		abort[schedule.EntityKind(k)] = v
	}
	return workflow.Options{
		AbortOnZero:           abort,
		MaxDelta:              s.MaxDelta,
		MaxItemFailures:       s.MaxItemFailures,
		LeaseDuration:         s.LeaseDuration,
		ConflictRetryCount:    s.ConflictRetryCount,
		ConflictRetryInterval: s.ConflictRetryInterval,
		ApplyRatePerSec:       s.ApplyRatePerSec,
		WeeksBehind:           s.WeeksBehind,
		WeeksAhead:            s.WeeksAhead,
		WeekStart:             s.WeekStart,
	}
}

// openPlatform builds the source/destination clients. Only the in-memory
// driver exists; an empty fixture starts it blank.
func openPlatform(c config.PlatformConfig) (*memory.Platform, error) {
	switch c.Driver {
	case "", "memory":
		if c.Fixture == "" {
			return memory.New(), nil
		}
		return memory.Load(c.Fixture)
	default:
		return nil, fmt.Errorf("unknown platform driver: %s", c.Driver)
	}
}
