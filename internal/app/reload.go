package app

import (
	"context"
	"strings"
	"time"

	"shiftsync/internal/config"
	"shiftsync/internal/eventbus"
	logx "shiftsync/pkg/logx"
)

// reloadLoop applies committed configs until ctx is done.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// coalesce bursts: only the newest config matters
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(ctx, last, cfg)
			last = cfg
		}
	}
}

// applyConfig pushes the live-reloadable sections to their components.
// Sections that need a restart are only logged.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	s, err := config.Resolve(next)
	if err != nil {
		a.log.Warn("invalid config; keeping previous", logx.Err(err))
		return
	}

	for _, sec := range sections {
		switch sec {
		case "logging":
			a.logs.Apply(s.Logging)
		case "scheduler":
			if err := a.sched.Apply(mapScheduler(s.Scheduler)); err != nil {
				a.log.Warn("scheduler config not applied", logx.Err(err))
			}
		case "sync":
			a.flows.Apply(mapSync(s.Sync))
		case "metrics":
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.server.Reconfigure(stopCtx, s.Metrics)
			cancel()
		}
	}
	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	a.mu.Lock()
	a.settings = s
	a.mu.Unlock()

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Time: time.Now(), Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
