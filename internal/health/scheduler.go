// Package health drives the per-(workflow type, team) state machines: on
// every tick it (re)starts due workflows, terminates stalled ones and leaves
// healthy ones alone.
package health

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"shiftsync/internal/eventbus"
	"shiftsync/internal/orchestration"
	"shiftsync/internal/schedule"
	logx "shiftsync/pkg/logx"
)

// Connections is the slice of the connection store the scheduler needs.
type Connections interface {
	ListEnabled(ctx context.Context) ([]schedule.Connection, error)
	Stamp(ctx context.Context, team string, w schedule.WorkflowType, t time.Time) error
}

type Config struct {
	Enabled bool
	// Tick is a cron spec; seconds are optional.
	Tick          string
	Location      *time.Location
	HungThreshold time.Duration
	Frequencies   map[schedule.WorkflowType]time.Duration
}

func (c Config) frequency(w schedule.WorkflowType) time.Duration {
	if f := c.Frequencies[w]; f > 0 {
		return f
	}
	return 15 * time.Minute
}

// TickReport summarizes one tick.
type TickReport struct {
	Connections int
	Due         int
	Started     int
	Terminated  int
	Healthy     int
	Stuck       int
	Deferred    int
	Rejected    int
	SubPasses   int
	Duration    time.Duration
}

type Scheduler struct {
	conns Connections
	rt    orchestration.Runtime
	bus   eventbus.Bus
	log   logx.Logger

	parser cron.Parser

	mu  sync.Mutex
	cfg Config
	c   *cron.Cron
	ctx context.Context
}

func New(cfg Config, conns Connections, rt orchestration.Runtime, bus eventbus.Bus, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.New()
	}
	return &Scheduler{
		cfg:    cfg,
		conns:  conns,
		rt:     rt,
		bus:    bus,
		log:    log.With(logx.String("comp", "health")),
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// pair is one (connection, workflow type) state machine.
type pair struct {
	conn     schedule.Connection
	workflow schedule.WorkflowType
	retried  bool
}

// outcome of evaluating one pair.
type outcome int

const (
	outHealthy outcome = iota
	outStarted
	outTerminated
	outStuck
	outRetry
	outRejected
)

// Tick evaluates every enabled connection once. The roster refresh
// (employees) is evaluated first; a team whose roster refresh was due this
// tick, or is still in flight, has its other workflow types deferred.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (TickReport, error) {
	started := time.Now()
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	var rep TickReport
	conns, err := s.conns.ListEnabled(ctx)
	if err != nil {
		return rep, fmt.Errorf("list connections: %w", err)
	}
	rep.Connections = len(conns)

	gate := &rosterGate{rt: s.rt, state: map[string]bool{}}
	for _, w := range schedule.WorkflowTypes {
		var pool []pair
		for _, c := range conns {
			if !c.Due(w, now, cfg.frequency(w)) {
				continue
			}
			rep.Due++
			if w != schedule.WorkflowEmployees {
				blocked, err := gate.blocked(ctx, c.TeamID)
				if err != nil {
					s.log.Warn("roster status unavailable; deferring team", logx.String("team", c.TeamID), logx.Err(err))
				}
				if blocked || err != nil {
					rep.Deferred++
					continue
				}
			}
			pool = append(pool, pair{conn: c, workflow: w})
		}
		s.drain(ctx, cfg, now, w, pool, len(conns), gate, &rep)
		if ctx.Err() != nil {
			break
		}
	}

	rep.Duration = time.Since(started)
	s.bus.Publish(eventbus.Event{Type: eventbus.TickCompleted, Data: eventbus.TickData{
		Connections: rep.Connections,
		Started:     rep.Started,
		Terminated:  rep.Terminated,
		Deferred:    rep.Deferred,
		Rejected:    rep.Rejected,
		Duration:    rep.Duration,
	}})
	if rep.Started+rep.Terminated+rep.Deferred+rep.Rejected > 0 {
		s.log.Info("tick",
			logx.Int("connections", rep.Connections),
			logx.Int("due", rep.Due),
			logx.Int("started", rep.Started),
			logx.Int("terminated", rep.Terminated),
			logx.Int("deferred", rep.Deferred),
			logx.Int("rejected", rep.Rejected),
			logx.Duration("took", rep.Duration),
		)
	}
	return rep, ctx.Err()
}

// drain works through pool in sub-passes of a bounded batch size. Pairs
// that could not be started for a transient reason are re-queued once.
func (s *Scheduler) drain(ctx context.Context, cfg Config, now time.Time, w schedule.WorkflowType, pool []pair, total int, gate *rosterGate, rep *TickReport) {
	if len(pool) == 0 {
		return
	}
	batch := max(1, total/max(1, int(cfg.frequency(w)/time.Minute)))

	for len(pool) > 0 && ctx.Err() == nil {
		n := min(batch, len(pool))
		cur := pool[:n]
		pool = pool[n:]
		rep.SubPasses++

		results := make([]outcome, n)
		var wg sync.WaitGroup
		for i, p := range cur {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = s.evaluate(ctx, cfg, now, p)
			}()
		}
		wg.Wait()

		for i, out := range results {
			p := cur[i]
			switch out {
			case outStarted:
				rep.Started++
			case outTerminated:
				rep.Terminated++
			case outHealthy:
				rep.Healthy++
			case outStuck:
				rep.Stuck++
			case outRetry:
				if !p.retried {
					p.retried = true
					pool = append(pool, p)
					continue
				}
				rep.Rejected++
			case outRejected:
				rep.Rejected++
			}
			// whatever happened to the roster refresh, the team waits for the next tick
			if w == schedule.WorkflowEmployees {
				gate.set(p.conn.TeamID, true)
			}
		}
	}
}

// evaluate applies the state machine to one pair.
func (s *Scheduler) evaluate(ctx context.Context, cfg Config, now time.Time, p pair) outcome {
	id := schedule.InstanceID(p.workflow, p.conn.TeamID)
	log := s.log.With(logx.String("instance", id))

	st, ok, err := s.rt.GetStatus(ctx, id)
	if err != nil {
		log.Warn("status query failed", logx.Err(err))
		return outRetry
	}
	if ok {
		hung := st.LastUpdated.Before(now.Add(-cfg.HungThreshold))
		switch {
		case st.Runtime == orchestration.Running && hung:
			err := s.rt.Terminate(ctx, id, fmt.Sprintf("no progress since %s", st.LastUpdated.Format(time.RFC3339)))
			if err != nil {
				log.Warn("terminating stalled instance failed", logx.Err(err), logx.Alert())
				return outRejected
			}
			log.Warn("stalled instance terminated; restart on next tick",
				logx.Time("last_updated", st.LastUpdated),
				logx.Duration("hung_threshold", cfg.HungThreshold),
				logx.Alert(),
			)
			return outTerminated
		case st.Runtime == orchestration.Running:
			return outHealthy
		case !st.Runtime.Terminal():
			if hung {
				log.Warn("instance stuck", logx.String("status", st.Runtime.String()), logx.Time("last_updated", st.LastUpdated))
				return outStuck
			}
			return outHealthy
		}
	}

	err = s.rt.StartNew(ctx, p.workflow, id, orchestration.Input{TeamID: p.conn.TeamID})
	switch {
	case err == nil:
	case errors.Is(err, orchestration.ErrQueueFull):
		log.Warn("instance not started: queue full", logx.Err(err))
		return outRetry
	default:
		log.Warn("instance not started", logx.Err(err))
		return outRejected
	}
	if err := s.conns.Stamp(ctx, p.conn.TeamID, p.workflow, now); err != nil {
		log.Warn("failed to record last execution", logx.Err(err))
	}
	log.Debug("instance started")
	return outStarted
}

// rosterGate remembers, per team, whether the roster refresh is in flight.
type rosterGate struct {
	rt    orchestration.Runtime
	mu    sync.Mutex
	state map[string]bool
}

func (g *rosterGate) set(team string, blocked bool) {
	g.mu.Lock()
	g.state[team] = blocked
	g.mu.Unlock()
}

func (g *rosterGate) blocked(ctx context.Context, team string) (bool, error) {
	g.mu.Lock()
	b, ok := g.state[team]
	g.mu.Unlock()
	if ok {
		return b, nil
	}
	st, found, err := g.rt.GetStatus(ctx, schedule.InstanceID(schedule.WorkflowEmployees, team))
	if err != nil {
		return false, err
	}
	b = found && (st.Runtime == orchestration.Pending || st.Runtime == orchestration.Running)
	g.set(team, b)
	return b, nil
}

// Start triggers Tick on the cron schedule. Ticks never overlap. A disabled
// scheduler is started later by Apply once enabled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	if s.c != nil || !s.cfg.Enabled {
		return nil
	}
	return s.startLocked()
}

func (s *Scheduler) startLocked() error {
	loc := s.cfg.Location
	if loc == nil {
		loc = time.Local
	}
	spec := strings.TrimSpace(s.cfg.Tick)
	if spec == "" {
		spec = "0 * * * * *"
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("tick %q: %w", spec, err)
	}
	clog := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	ctx := s.ctx
	c.Schedule(sched, cron.FuncJob(func() {
		if _, err := s.Tick(ctx, time.Now().In(loc)); err != nil && ctx.Err() == nil {
			s.log.Error("tick failed", logx.Err(err))
		}
	}))
	c.Start()
	s.c = c
	s.log.Info("scheduler started", logx.String("tick", spec), logx.String("tz", loc.String()))
	return nil
}

// Stop halts triggering and waits for a running tick, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.ctx = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// Apply swaps the configuration, restarting the trigger when the tick spec,
// time zone or enabled flag changed.
func (s *Scheduler) Apply(cfg Config) error {
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	c := s.c
	restart := c != nil && (prev.Tick != cfg.Tick || prev.Location.String() != cfg.Location.String() || !cfg.Enabled)
	if restart {
		s.c = nil
	}
	start := s.ctx != nil && cfg.Enabled && (restart || c == nil)
	s.mu.Unlock()

	if restart {
		<-c.Stop().Done()
	}
	if start {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.c == nil {
			return s.startLocked()
		}
	}
	return nil
}

// cronLogger routes cron's internal logging to logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
