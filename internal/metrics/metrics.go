// Package metrics exports reconciliation and orchestration counters in the
// Prometheus text format.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"shiftsync/internal/eventbus"
	"shiftsync/internal/reconcile"
	"shiftsync/internal/runtime/supervisor"
)

const namespace = "shiftsync"

// Registry holds every collector. It implements reconcile.Recorder.
type Registry struct {
	reg *prometheus.Registry

	cycles        *prometheus.CounterVec
	records       *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec
	deferred      *prometheus.CounterVec
	instances     *prometheus.CounterVec
	instanceTime  *prometheus.HistogramVec
	ticks         prometheus.Counter
	tickActions   *prometheus.CounterVec
	tickDuration  prometheus.Histogram
	configReloads prometheus.Counter
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Reconciliation cycles by entity kind and outcome.",
		}, []string{"kind", "outcome"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Records applied by entity kind and result bucket.",
		}, []string{"kind", "bucket"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of reconciliation cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"kind"}),
		deferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deferred_records_total",
			Help:      "Changes left for a later cycle by the delta cap.",
		}, []string{"kind"}),
		instances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instance_events_total",
			Help:      "Workflow instance lifecycle events.",
		}, []string{"workflow", "event"}),
		instanceTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "instance_duration_seconds",
			Help:      "Duration of finished workflow instances.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 4, 8),
		}, []string{"workflow"}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_ticks_total",
			Help:      "Health scheduler ticks completed.",
		}),
		tickActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_actions_total",
			Help:      "Actions taken by the health scheduler.",
		}, []string{"action"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_tick_duration_seconds",
			Help:      "Duration of health scheduler ticks.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}),
		configReloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_reloads_total",
			Help:      "Configuration reloads applied.",
		}),
	}
	r.reg.MustRegister(
		r.cycles, r.records, r.cycleDuration, r.deferred,
		r.instances, r.instanceTime,
		r.ticks, r.tickActions, r.tickDuration, r.configReloads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Gatherer exposes the registry to the HTTP handler and to tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// ObserveCycle implements reconcile.Recorder.
func (r *Registry) ObserveCycle(res reconcile.Result) {
	r.cycles.WithLabelValues(res.Kind, cycleOutcome(res)).Inc()
	r.cycleDuration.WithLabelValues(res.Kind).Observe(res.Duration.Seconds())
	for bucket, n := range map[string]int{
		"created":       res.Created,
		"updated":       res.Updated,
		"deleted":       res.Deleted,
		"skipped":       res.Skipped,
		"failed":        res.Failed,
		"dead_lettered": res.DeadLettered,
	} {
		if n > 0 {
			r.records.WithLabelValues(res.Kind, bucket).Add(float64(n))
		}
	}
	if res.Deferred > 0 {
		r.deferred.WithLabelValues(res.Kind).Add(float64(res.Deferred))
	}
}

func cycleOutcome(res reconcile.Result) string {
	switch {
	case res.Err != nil:
		return "error"
	case res.Aborted != nil:
		return "aborted_" + res.AbortReason()
	case res.HasChanges() || res.Skipped+res.Failed > 0:
		return "applied"
	default:
		return "unchanged"
	}
}

// Consume folds bus events into counters until ctx is done.
func (r *Registry) Consume(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			r.observe(e)
		}
	}
}

func (r *Registry) observe(e eventbus.Event) {
	switch d := e.Data.(type) {
	case eventbus.InstanceData:
		r.instances.WithLabelValues(d.Workflow, e.Type).Inc()
		switch e.Type {
		case eventbus.InstanceCompleted, eventbus.InstanceFailed, eventbus.InstanceTerminated:
			r.instanceTime.WithLabelValues(d.Workflow).Observe(d.Duration.Seconds())
		}
	case eventbus.TickData:
		r.ticks.Inc()
		r.tickDuration.Observe(d.Duration.Seconds())
		r.tickActions.WithLabelValues("started").Add(float64(d.Started))
		r.tickActions.WithLabelValues("terminated").Add(float64(d.Terminated))
		r.tickActions.WithLabelValues("deferred").Add(float64(d.Deferred))
		r.tickActions.WithLabelValues("rejected").Add(float64(d.Rejected))
	default:
		if e.Type == eventbus.ConfigReloaded {
			r.configReloads.Inc()
		}
	}
}

// WatchRuntime exports bus drops and supervisor restart counts.
func (r *Registry) WatchRuntime(bus eventbus.Bus, sup *supervisor.Supervisor) {
	r.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "eventbus_dropped_total",
		Help:      "Events dropped because a subscriber buffer was full.",
	}, func() float64 { return float64(bus.Dropped()) }))
	r.reg.MustRegister(&supervisorCollector{sup: sup, desc: prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "goroutine", "restarts_total"),
		"Restarts of supervised goroutines.",
		[]string{"name"}, nil,
	)})
}

type supervisorCollector struct {
	sup  *supervisor.Supervisor
	desc *prometheus.Desc
}

func (c *supervisorCollector) Describe(ch chan<- *prometheus.Desc) { ch <- c.desc }

func (c *supervisorCollector) Collect(ch chan<- prometheus.Metric) {
	for _, st := range c.sup.Stats() {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(st.Restarts), st.Name)
	}
}
