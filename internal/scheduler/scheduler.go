// Package scheduler implements C8: the tick-driven task scheduler that
// owns the set of Scheduled Tasks, admits due tasks through a per-task
// circuit breaker, rate limiter and memory ceiling, and dispatches
// admitted tasks to a bounded worker pool. Grounded on
// original_source/python/scheduler/task_scheduler.py, adapted onto a
// ticker/context/worker-pool shape the way the teacher's cron.Cron
// scheduler is structured.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cheolwanpark/meows-archive/collector/internal/cronexpr"
	"github.com/cheolwanpark/meows-archive/collector/internal/statestore"
	"github.com/robfig/cron/v3"
)

// circuitBreakerThreshold and circuitBreakerCooldown implement the
// "opens after 3 failures within 15 minutes" rule from the glossary.
const (
	circuitBreakerThreshold = 3
	circuitBreakerCooldown  = 15 * time.Minute
	rateLimiterMinGap       = 60 * time.Second
	stuckTaskThreshold       = 2 * time.Hour
	resourceWarnDeltaMB      = 50
)

// Executor runs a single Scheduled Task to completion and returns its
// Task Result. internal/executor.Executor satisfies this; tests supply
// a fake so the tick/admission logic can be exercised without real
// network or filesystem work.
type Executor interface {
	ExecuteTask(ctx context.Context, task *statestore.Task) *statestore.TaskResult
}

// Config controls the scheduler's timing and resource policy. Zero
// values are replaced by the spec's defaults in setDefaults.
type Config struct {
	CheckInterval      time.Duration
	MaxConcurrentTasks int
	MaxMemoryMB        int
	EnableMonitoring   bool
	ShutdownTimeout    time.Duration
	Logger             *log.Logger

	// now and memoryMB are injected in tests; production code leaves
	// them nil and gets time.Now / a runtime.MemStats based sampler.
	now      func() time.Time
	memoryMB func() int
}

func (c *Config) setDefaults() {
	if c.CheckInterval < time.Second {
		c.CheckInterval = 30 * time.Second
	}
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = 5
	}
	if c.MaxMemoryMB < 50 {
		c.MaxMemoryMB = 500
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.memoryMB == nil {
		c.memoryMB = currentMemoryMB
	}
}

// Scheduler owns the live task set and its admission state. The task
// map, running set, circuit-breaker maps and rate-limiter map are all
// guarded by one mutex, held only for O(1) bookkeeping — never across
// a task execution or a blocking call, per spec.md §5.
type Scheduler struct {
	cfg   Config
	store *statestore.Store
	exec  Executor

	mu            sync.Mutex
	tasks         map[string]*statestore.Task
	running       map[string]struct{}
	cbFailures    map[string]int
	cbLastFailure map[string]time.Time
	rlLastAdmit   map[string]time.Time

	sem        chan struct{}
	wg         sync.WaitGroup
	shutdownCh chan struct{}
	shutdownOnce sync.Once
	started    bool

	// jobs caches one cron.Job per task id, chain-wrapped with
	// cron.SkipIfStillRunning and cron.Recover so an overrunning task
	// never double-admits through this second guard and a panicking
	// worker can't take the tick loop down with it. The wrappers keep
	// per-job state (SkipIfStillRunning's mutex), so the same *cron.Job
	// must be reused across ticks rather than rebuilt each time.
	jobs map[string]cron.Job
}

// New constructs a Scheduler. Call LoadFromStore to populate the task
// set from persisted state before Start.
func New(store *statestore.Store, exec Executor, cfg Config) *Scheduler {
	cfg.setDefaults()
	return &Scheduler{
		cfg:           cfg,
		store:         store,
		exec:          exec,
		tasks:         make(map[string]*statestore.Task),
		running:       make(map[string]struct{}),
		cbFailures:    make(map[string]int),
		cbLastFailure: make(map[string]time.Time),
		rlLastAdmit:   make(map[string]time.Time),
		sem:           make(chan struct{}, cfg.MaxConcurrentTasks),
		shutdownCh:    make(chan struct{}),
		jobs:          make(map[string]cron.Job),
	}
}

// jobFor returns the cached chain-wrapped cron.Job for t, building one on
// first use. Caller must not hold s.mu.
func (s *Scheduler) jobFor(t *statestore.Task) cron.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[t.ID]; ok {
		return j
	}
	logger := cron.PrintfLogger(s.cfg.Logger)
	chain := cron.NewChain(cron.SkipIfStillRunning(logger), cron.Recover(logger))
	j := chain.Then(cron.FuncJob(func() { s.executeOnce(context.Background(), t) }))
	s.jobs[t.ID] = j
	return j
}

// LoadFromStore populates the in-memory task set from the state store,
// for use at startup.
func (s *Scheduler) LoadFromStore(ctx context.Context) error {
	tasks, err := s.store.LoadAllTasks(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tasks {
		s.tasks[t.ID] = t
	}
	return nil
}

// AddTask validates task's cron expression, computes its next run, and
// adds it to the live set, persisting it. Replacing an existing id logs
// a warning and replaces in place.
func (s *Scheduler) AddTask(ctx context.Context, task *statestore.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	expr, err := cronexpr.Parse(task.CronExpr)
	if err != nil {
		return err
	}
	next, err := expr.NextExecution(s.cfg.now())
	if err != nil {
		return err
	}
	task.NextRun = &next

	s.mu.Lock()
	if _, exists := s.tasks[task.ID]; exists {
		s.cfg.Logger.Printf("scheduler: task %q already exists, replacing", task.ID)
		// Drop the cached job so jobFor rebuilds its closure over the
		// replacement task pointer instead of running stale state.
		delete(s.jobs, task.ID)
	}
	s.tasks[task.ID] = task
	s.mu.Unlock()

	if err := s.store.SaveTask(ctx, task); err != nil {
		return err
	}
	s.cfg.Logger.Printf("scheduler: added task %q (%s), next run %s", task.Name, task.ID, task.NextRun.Format(time.RFC3339))
	return nil
}

// RemoveTask deletes a task from the live set and persisted store. A
// task that is currently running is not interrupted; it simply will
// not be rescheduled.
func (s *Scheduler) RemoveTask(ctx context.Context, id string) error {
	s.mu.Lock()
	_, ok := s.tasks[id]
	if ok {
		delete(s.tasks, id)
		delete(s.jobs, id)
	}
	_, isRunning := s.running[id]
	s.mu.Unlock()

	if !ok {
		return nil
	}
	if isRunning {
		s.cfg.Logger.Printf("scheduler: task %q removed while still running, will not be rescheduled", id)
	}
	return s.store.DeleteTask(ctx, id)
}

// GetTask returns a snapshot of a task by id.
func (s *Scheduler) GetTask(id string) (*statestore.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok
}

// GetAllTasks returns a snapshot slice of all live tasks.
func (s *Scheduler) GetAllTasks() []*statestore.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*statestore.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out
}

// SetTaskEnabled enables or disables a task in place, persisting the
// change.
func (s *Scheduler) SetTaskEnabled(ctx context.Context, id string, enabled bool) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if ok {
		t.Enabled = enabled
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.store.SaveTask(ctx, t)
}

// Start launches the tick loop and, if enabled, the resource/stuck-task
// monitor loop as background goroutines.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go s.tickLoop()
	if s.cfg.EnableMonitoring {
		go s.monitorLoop()
	}
	s.cfg.Logger.Printf("scheduler: started, check interval %s, %d max concurrent tasks", s.cfg.CheckInterval, s.cfg.MaxConcurrentTasks)
}

// Stop sets the shutdown flag, waits up to the configured shutdown
// timeout for in-flight workers to finish, and logs any stragglers.
// Cancellation is cooperative throughout: no in-flight task execution
// is interrupted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	s.shutdownOnce.Do(func() { close(s.shutdownCh) })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cfg.Logger.Printf("scheduler: stopped gracefully")
	case <-time.After(s.cfg.ShutdownTimeout):
		s.mu.Lock()
		stragglers := len(s.running)
		s.mu.Unlock()
		s.cfg.Logger.Printf("scheduler: shutdown timeout elapsed with %d task(s) still running", stragglers)
	}
}

func (s *Scheduler) tickLoop() {
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.shutdownCh:
			return
		case <-ticker.C:
			s.tick(context.Background())
		}
	}
}

func (s *Scheduler) monitorLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.shutdownCh:
			return
		case <-ticker.C:
			s.sampleResources()
			s.checkStuckTasks()
		}
	}
}

// tick snapshots due, enabled, non-running tasks and attempts to admit
// each one. Admission decisions (circuit breaker, rate limit, memory)
// are taken outside the map lock so a blocked or slow decision never
// stalls the tick loop.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.cfg.now()

	s.mu.Lock()
	var due []*statestore.Task
	for id, t := range s.tasks {
		if !t.Enabled || t.NextRun == nil || t.NextRun.After(now) {
			continue
		}
		if _, running := s.running[id]; running {
			continue
		}
		due = append(due, t)
	}
	s.mu.Unlock()

	for _, t := range due {
		s.admit(ctx, t, now)
	}
}

func (s *Scheduler) admit(ctx context.Context, t *statestore.Task, now time.Time) {
	if s.isCircuitOpen(t.ID, now) {
		s.cfg.Logger.Printf("scheduler: circuit breaker open for task %q, skipping", t.Name)
		return
	}
	if s.isRateLimited(t.ID, now) {
		return
	}
	if mem := s.cfg.memoryMB(); float64(mem) > 0.9*float64(s.cfg.MaxMemoryMB) {
		s.cfg.Logger.Printf("scheduler: memory usage %dMB high, deferring task %q", mem, t.Name)
		return
	}

	select {
	case s.sem <- struct{}{}:
	default:
		s.cfg.Logger.Printf("scheduler: worker pool full, deferring task %q", t.Name)
		return
	}

	s.mu.Lock()
	s.running[t.ID] = struct{}{}
	s.rlLastAdmit[t.ID] = now
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runTask(ctx, t)
}

// runTask runs one admitted task through its cached, chain-wrapped
// cron.Job (SkipIfStillRunning + Recover) and releases the worker slot
// once it returns, panic or not.
func (s *Scheduler) runTask(ctx context.Context, t *statestore.Task) {
	defer func() {
		<-s.sem
		s.mu.Lock()
		delete(s.running, t.ID)
		s.mu.Unlock()
		s.wg.Done()
	}()

	s.jobFor(t).Run()
}

// executeOnce runs the task, folds the outcome back into its state and
// the circuit breaker, then recomputes next_run. A panic inside
// ExecuteTask is recovered here (logged with its stack trace) and turned
// into a failed Task Result rather than left running forever; the
// enclosing cron.Job's Recover wrapper is a second line of defense in
// case this recover somehow doesn't fire first.
func (s *Scheduler) executeOnce(ctx context.Context, t *statestore.Task) {
	startMem := s.cfg.memoryMB()
	started := s.cfg.now()

	s.mu.Lock()
	t.LastRun = &started
	t.LastResult = &statestore.TaskResult{TaskID: t.ID, Status: statestore.StatusRunning, StartedAt: started}
	s.mu.Unlock()

	result := s.executeRecovered(ctx, t, started)

	duration := s.cfg.now().Sub(started)
	if delta := s.cfg.memoryMB() - startMem; delta > resourceWarnDeltaMB {
		s.cfg.Logger.Printf("scheduler: task %q used %dMB additional memory, duration %s", t.Name, delta, duration)
	}

	s.mu.Lock()
	t.LastResult = result
	if result.Status == statestore.StatusCompleted {
		s.recordSuccessLocked(t.ID)
	} else {
		s.recordFailureLocked(t.ID, s.cfg.now())
	}
	s.rescheduleLocked(t, s.cfg.now())
	s.mu.Unlock()

	if err := s.store.SaveTask(ctx, t); err != nil {
		s.cfg.Logger.Printf("scheduler: failed to persist task %q after run: %v", t.Name, err)
	}
}

func (s *Scheduler) executeRecovered(ctx context.Context, t *statestore.Task, started time.Time) (result *statestore.TaskResult) {
	defer func() {
		if r := recover(); r != nil {
			s.cfg.Logger.Printf("scheduler: task %q panicked: %v\n%s", t.Name, r, debug.Stack())
			completed := s.cfg.now()
			errMsg := fmt.Sprintf("panic: %v", r)
			result = &statestore.TaskResult{
				TaskID: t.ID, Status: statestore.StatusFailed, StartedAt: started,
				CompletedAt: &completed, Error: &errMsg,
			}
		}
	}()
	return s.exec.ExecuteTask(ctx, t)
}

// rescheduleLocked recomputes next_run from the cron expression unless
// the circuit breaker is now open, in which case next_run is cleared.
// A cron expression that fails to re-parse disables the task. Caller
// must hold s.mu.
func (s *Scheduler) rescheduleLocked(t *statestore.Task, now time.Time) {
	if !t.Enabled || s.isCircuitOpenLocked(t.ID, now) {
		t.NextRun = nil
		return
	}
	expr, err := cronexpr.Parse(t.CronExpr)
	if err != nil {
		s.cfg.Logger.Printf("scheduler: failed to reschedule task %q: %v, disabling", t.Name, err)
		t.Enabled = false
		t.NextRun = nil
		return
	}
	next, err := expr.NextExecution(now)
	if err != nil {
		s.cfg.Logger.Printf("scheduler: failed to compute next run for task %q: %v, disabling", t.Name, err)
		t.Enabled = false
		t.NextRun = nil
		return
	}
	t.NextRun = &next
}

func (s *Scheduler) isCircuitOpen(id string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isCircuitOpenLocked(id, now)
}

// isCircuitOpenLocked resets the failure counter once the cooldown has
// elapsed, matching task_scheduler.py's lazy reset. Caller must hold s.mu.
func (s *Scheduler) isCircuitOpenLocked(id string, now time.Time) bool {
	failures := s.cbFailures[id]
	if failures < circuitBreakerThreshold {
		return false
	}
	last, ok := s.cbLastFailure[id]
	if ok && now.Sub(last) < circuitBreakerCooldown {
		return true
	}
	s.cbFailures[id] = 0
	return false
}

func (s *Scheduler) recordFailureLocked(id string, now time.Time) {
	s.cbFailures[id]++
	s.cbLastFailure[id] = now
}

func (s *Scheduler) recordSuccessLocked(id string) {
	s.cbFailures[id] = 0
}

func (s *Scheduler) isRateLimited(id string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.rlLastAdmit[id]
	return ok && now.Sub(last) < rateLimiterMinGap
}

// checkStuckTasks logs (never kills) any task whose last known result
// is still "running" well past a reasonable ceiling — the scheduler's
// cooperative cancellation model means a truly stuck executor goroutine
// can only be observed, not reclaimed.
func (s *Scheduler) checkStuckTasks() {
	now := s.cfg.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.LastRun == nil || t.LastResult == nil {
			continue
		}
		if t.LastResult.Status != statestore.StatusRunning {
			continue
		}
		if now.Sub(*t.LastRun) > stuckTaskThreshold {
			s.cfg.Logger.Printf("scheduler: task %q appears stuck (running since %s)", t.Name, t.LastRun.Format(time.RFC3339))
		}
	}
}

func (s *Scheduler) sampleResources() {
	mem := s.cfg.memoryMB()
	if mem > s.cfg.MaxMemoryMB {
		s.cfg.Logger.Printf("scheduler: memory usage %dMB exceeds limit %dMB, forcing GC", mem, s.cfg.MaxMemoryMB)
		runtime.GC()
	}
}

// currentMemoryMB approximates resident memory usage from Go's own
// heap statistics — the nearest portable substitute for the source's
// psutil.Process().memory_info().rss sampling.
func currentMemoryMB() int {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return int(m.Sys / 1024 / 1024)
}
