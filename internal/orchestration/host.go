package orchestration

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"shiftsync/internal/eventbus"
	"shiftsync/internal/schedule"
	"shiftsync/internal/state"
	rtsup "shiftsync/internal/runtime/supervisor"
	logx "shiftsync/pkg/logx"
)

// InstanceTable holds one Status per instance id.
const InstanceTable = "instances"

// WorkflowFunc is the body of a workflow type.
type WorkflowFunc func(ctx context.Context, in Input) error

type Config struct {
	Workers   int
	QueueSize int
	// InstanceTimeout bounds a single execution; 0 means unbounded.
	InstanceTimeout time.Duration
}

// Host is an in-process Runtime: a bounded queue drained by a supervised
// worker pool. Status lives in a state table so it outlives the process.
// Records a previous host left Pending or Running are canceled on Start.
type Host struct {
	table state.Table[Status]
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time

	mu        sync.Mutex
	cfg       Config
	workflows map[schedule.WorkflowType]WorkflowFunc
	queue     chan job
	sup       *rtsup.Supervisor
	running   map[string]*execution

	// statusMu serializes read-modify-write of status records.
	statusMu sync.Mutex

	inflight atomic.Int64
}

type job struct {
	instanceID  string
	executionID string
	workflow    schedule.WorkflowType
	input       Input
}

type execution struct {
	id         string
	cancel     context.CancelFunc
	terminated atomic.Bool
}

func NewHost(table state.Table[Status], bus eventbus.Bus, cfg Config, log logx.Logger) *Host {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.New()
	}
	return &Host{
		table:     table,
		bus:       bus,
		log:       log.With(logx.String("comp", "host")),
		now:       time.Now,
		cfg:       cfg,
		workflows: map[schedule.WorkflowType]WorkflowFunc{},
		running:   map[string]*execution{},
	}
}

// Register binds a workflow function to its type. Call before Start.
func (h *Host) Register(w schedule.WorkflowType, fn WorkflowFunc) {
	h.mu.Lock()
	h.workflows[w] = fn
	h.mu.Unlock()
}

// Start launches the worker pool. It is idempotent. Pending or Running
// records left by an earlier host on the same store are marked Canceled
// first, so the scheduler restarts them.
func (h *Host) Start(ctx context.Context) {
	h.mu.Lock()
	started := h.sup != nil
	h.mu.Unlock()
	if started {
		return
	}
	h.abandon(ctx, "host restarted")

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sup != nil {
		return
	}
	h.queue = make(chan job, h.cfg.QueueSize)
	h.sup = rtsup.New(ctx, rtsup.WithLogger(h.log))
	queue := h.queue
	for i := range h.cfg.Workers {
		h.sup.GoRestart(fmt.Sprintf("host.worker.%d", i), func(c context.Context) error {
			h.worker(c, queue)
			return c.Err()
		})
	}
	h.log.Info("orchestration host started", logx.Int("workers", h.cfg.Workers), logx.Int("queue", h.cfg.QueueSize))
}

// Stop cancels running instances and waits for the workers. Instances still
// queued or running afterwards are recorded as Canceled.
func (h *Host) Stop(ctx context.Context) error {
	h.mu.Lock()
	sup := h.sup
	h.sup = nil
	h.queue = nil
	h.mu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	h.inflight.Store(0)
	h.abandon(context.WithoutCancel(ctx), "host stopped")
	h.log.Info("orchestration host stopped")
	return err
}

// abandon marks every Pending or Running record Canceled. Call only while no
// worker of this host is executing; a late worker then leaves the record as is.
func (h *Host) abandon(ctx context.Context, reason string) {
	h.statusMu.Lock()
	defer h.statusMu.Unlock()

	entries, err := h.table.List(ctx)
	if err != nil {
		h.log.Warn("instance recovery skipped", logx.Err(err))
		return
	}
	n := 0
	for _, e := range entries {
		st := e.Value
		if st.Runtime != Pending && st.Runtime != Running {
			continue
		}
		st.Runtime = Canceled
		st.Reason = reason
		st.LastUpdated = h.now()
		if err := h.table.Set(ctx, e.Key, st); err != nil {
			h.log.Warn("instance recovery failed", logx.String("instance", e.Key), logx.Err(err))
			continue
		}
		n++
	}
	if n > 0 {
		h.log.Info("abandoned instances canceled", logx.Int("count", n), logx.String("reason", reason))
	}
}

// Supervisor exposes the worker supervisor for metrics; nil while stopped.
func (h *Host) Supervisor() *rtsup.Supervisor {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sup
}

// StartNew records a Pending execution and queues it without blocking.
func (h *Host) StartNew(ctx context.Context, w schedule.WorkflowType, instanceID string, in Input) error {
	h.mu.Lock()
	_, known := h.workflows[w]
	queue := h.queue
	h.mu.Unlock()
	if !known {
		return fmt.Errorf("%s: %w", w, ErrUnknownWorkflow)
	}
	if queue == nil {
		return ErrStopped
	}

	h.statusMu.Lock()
	defer h.statusMu.Unlock()

	cur, ok, err := h.table.Get(ctx, instanceID)
	if err != nil {
		return err
	}
	if ok && (cur.Runtime == Pending || cur.Runtime == Running) {
		return fmt.Errorf("%s: %w", instanceID, ErrInstanceActive)
	}

	now := h.now()
	st := Status{
		InstanceID:  instanceID,
		Workflow:    w,
		ExecutionID: uuid.NewString(),
		Runtime:     Pending,
		Input:       in,
		CreatedAt:   now,
		LastUpdated: now,
	}
	if err := h.table.Set(ctx, instanceID, st); err != nil {
		return err
	}

	h.inflight.Add(1)
	select {
	case queue <- job{instanceID: instanceID, executionID: st.ExecutionID, workflow: w, input: in}:
		return nil
	default:
		h.inflight.Add(-1)
		st.Runtime = Failed
		st.Reason = ErrQueueFull.Error()
		if err := h.table.Set(ctx, instanceID, st); err != nil {
			h.log.Warn("failed to record rejected instance", logx.String("instance", instanceID), logx.Err(err))
		}
		h.publish(eventbus.InstanceRejected, st, 0, ErrQueueFull)
		return fmt.Errorf("%s: %w", instanceID, ErrQueueFull)
	}
}

func (h *Host) GetStatus(ctx context.Context, instanceID string) (Status, bool, error) {
	return h.table.Get(ctx, instanceID)
}

// Terminate cancels a running instance and records Terminated. Terminal
// instances are left as they are.
func (h *Host) Terminate(ctx context.Context, instanceID, reason string) error {
	h.statusMu.Lock()
	defer h.statusMu.Unlock()

	st, ok, err := h.table.Get(ctx, instanceID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", instanceID, state.ErrNotFound)
	}
	switch {
	case st.Runtime.Terminal():
		return nil
	case st.Runtime != Running:
		return fmt.Errorf("%s is %s: %w", instanceID, st.Runtime, ErrNotTerminable)
	}

	h.mu.Lock()
	ex := h.running[instanceID]
	h.mu.Unlock()
	if ex != nil && ex.id == st.ExecutionID {
		ex.terminated.Store(true)
		ex.cancel()
	}

	started := st.CreatedAt
	st.Runtime = Terminated
	st.Reason = reason
	st.LastUpdated = h.now()
	if err := h.table.Set(ctx, instanceID, st); err != nil {
		return err
	}
	h.publish(eventbus.InstanceTerminated, st, st.LastUpdated.Sub(started), nil)
	return nil
}

// Idle waits until no instance is queued or running.
func (h *Host) Idle(ctx context.Context) error {
	t := time.NewTicker(20 * time.Millisecond)
	defer t.Stop()
	for h.inflight.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

func (h *Host) worker(ctx context.Context, queue <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-queue:
			h.execute(ctx, j)
			h.inflight.Add(-1)
		}
	}
}

type instanceKey struct{}

type instanceRef struct {
	host        *Host
	instanceID  string
	executionID string
}

// Heartbeat refreshes the LastUpdated timestamp of the instance running
// under ctx. It is a no-op outside a workflow.
func Heartbeat(ctx context.Context) error {
	ref, ok := ctx.Value(instanceKey{}).(instanceRef)
	if !ok {
		return nil
	}
	return ref.host.update(context.WithoutCancel(ctx), ref.instanceID, ref.executionID, func(st *Status) bool {
		if st.Runtime != Running {
			return false
		}
		st.LastUpdated = ref.host.now()
		return true
	})
}

// update applies fn to the record if it still belongs to executionID.
func (h *Host) update(ctx context.Context, instanceID, executionID string, fn func(*Status) bool) error {
	h.statusMu.Lock()
	defer h.statusMu.Unlock()
	st, ok, err := h.table.Get(ctx, instanceID)
	if err != nil || !ok || st.ExecutionID != executionID {
		return err
	}
	if !fn(&st) {
		return nil
	}
	return h.table.Set(ctx, instanceID, st)
}

func (h *Host) execute(parent context.Context, j job) {
	h.mu.Lock()
	fn := h.workflows[j.workflow]
	timeout := h.cfg.InstanceTimeout
	h.mu.Unlock()

	log := h.log.With(logx.String("instance", j.instanceID), logx.String("execution", j.executionID))
	bg := context.WithoutCancel(parent)

	var started bool
	err := h.update(bg, j.instanceID, j.executionID, func(st *Status) bool {
		if st.Runtime != Pending {
			return false
		}
		started = true
		st.Runtime = Running
		st.LastUpdated = h.now()
		return true
	})
	if err != nil || !started {
		if err != nil {
			log.Warn("instance could not be marked running", logx.Err(err))
		}
		return
	}

	ctx, cancel := context.WithCancel(parent)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
	}
	defer cancel()
	ex := &execution{id: j.executionID, cancel: cancel}
	h.mu.Lock()
	h.running[j.instanceID] = ex
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		if h.running[j.instanceID] == ex {
			delete(h.running, j.instanceID)
		}
		h.mu.Unlock()
	}()

	ctx = context.WithValue(ctx, instanceKey{}, instanceRef{host: h, instanceID: j.instanceID, executionID: j.executionID})
	begin := h.now()
	h.publish(eventbus.InstanceStarted, Status{InstanceID: j.instanceID, Workflow: j.workflow, Input: j.input}, 0, nil)
	log.Debug("instance running")

	runErr := runWorkflow(ctx, fn, j.input)

	if ex.terminated.Load() {
		log.Info("instance terminated", logx.Err(runErr))
		return
	}
	final := Completed
	switch {
	case runErr == nil:
	case parent.Err() != nil:
		final = Canceled
	default:
		final = Failed
	}

	var st Status
	_ = h.update(bg, j.instanceID, j.executionID, func(s *Status) bool {
		if s.Runtime != Running {
			return false
		}
		s.Runtime = final
		s.LastUpdated = h.now()
		if runErr != nil {
			s.Reason = runErr.Error()
		}
		st = *s
		return true
	})
	if st.InstanceID == "" {
		return
	}

	dur := h.now().Sub(begin)
	switch final {
	case Completed:
		log.Info("instance completed", logx.Duration("took", dur))
		h.publish(eventbus.InstanceCompleted, st, dur, nil)
	default:
		log.Warn("instance ended", logx.String("status", final.String()), logx.Duration("took", dur), logx.Err(runErr))
		h.publish(eventbus.InstanceFailed, st, dur, runErr)
	}
}

func runWorkflow(ctx context.Context, fn WorkflowFunc, in Input) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx, in)
}

func (h *Host) publish(typ string, st Status, dur time.Duration, err error) {
	d := eventbus.InstanceData{
		InstanceID: st.InstanceID,
		Workflow:   string(st.Workflow),
		Team:       st.Input.TeamID,
		Duration:   dur,
	}
	if err != nil {
		d.Err = err.Error()
	}
	h.bus.Publish(eventbus.Event{Type: typ, Data: d})
}
