package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cheolwanpark/meows-archive/collector/internal/statestore"
)

// fakeExecutor returns canned results from a queue, keyed by call order,
// and counts how many times ExecuteTask was invoked.
type fakeExecutor struct {
	mu      sync.Mutex
	results []*statestore.TaskResult
	calls   int
}

func (f *fakeExecutor) ExecuteTask(ctx context.Context, task *statestore.Task) *statestore.TaskResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.results) {
		return f.results[i]
	}
	completed := time.Now().UTC()
	return &statestore.TaskResult{TaskID: task.ID, Status: statestore.StatusCompleted, StartedAt: completed, CompletedAt: &completed}
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestScheduler(t *testing.T, exec Executor, clock *time.Time) (*Scheduler, *statestore.Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := statestore.Open(filepath.Join(dir, "state.db"), statestore.Config{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := Config{
		CheckInterval: time.Second, MaxConcurrentTasks: 2, MaxMemoryMB: 500,
		now: func() time.Time { return *clock }, memoryMB: func() int { return 10 },
	}
	s := New(store, exec, cfg)
	return s, store
}

func failedResult(taskID string) *statestore.TaskResult {
	now := time.Now().UTC()
	errMsg := "simulated failure"
	return &statestore.TaskResult{TaskID: taskID, Status: statestore.StatusFailed, StartedAt: now, CompletedAt: &now, Error: &errMsg}
}

func baseTestTask() *statestore.Task {
	return &statestore.Task{
		ID: "task-1", Name: "every minute", CronExpr: "* * * * *", Subreddits: []string{"golang"},
		Enabled: true, MaxPostsPerSubreddit: 5, RetryCount: 3, RetryDelaySeconds: 1, TimeoutSeconds: 30,
	}
}

// waitForRunCount polls until the executor has recorded at least n calls
// or the deadline passes.
func waitForRunCount(t *testing.T, exec *fakeExecutor, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if exec.callCount() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d executor calls, got %d", n, exec.callCount())
}

// TestCircuitBreakerOpensAfterThreeFailures matches spec.md §8 scenario
// 3: after 3 consecutive failures within a minute, a 4th tick within 15
// minutes must not admit the task; its next_run stays nil until the
// cooldown elapses, at which point a success resets the breaker.
func TestCircuitBreakerOpensAfterThreeFailures(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	exec := &fakeExecutor{results: []*statestore.TaskResult{
		failedResult("task-1"), failedResult("task-1"), failedResult("task-1"),
	}}
	s, _ := newTestScheduler(t, exec, &clock)

	ctx := context.Background()
	task := baseTestTask()
	if err := s.AddTask(ctx, task); err != nil {
		t.Fatalf("add task: %v", err)
	}

	for i := 0; i < 3; i++ {
		clock = clock.Add(2 * time.Minute)
		task.NextRun = &clock
		s.tick(ctx)
		waitForRunCount(t, exec, i+1)
	}

	got, _ := s.GetTask(task.ID)
	if got.LastResult.Status != statestore.StatusFailed {
		t.Fatalf("expected last result failed, got %+v", got.LastResult)
	}
	if got.NextRun != nil {
		t.Fatalf("expected next_run nil while circuit breaker is open, got %v", got.NextRun)
	}

	// 4th tick within the 15-minute cooldown must not admit the task.
	clock = clock.Add(2 * time.Minute)
	s.mu.Lock()
	task.NextRun = &clock
	s.mu.Unlock()
	s.tick(ctx)
	time.Sleep(20 * time.Millisecond)
	if exec.callCount() != 3 {
		t.Fatalf("expected circuit breaker to block 4th execution, got %d calls", exec.callCount())
	}

	// After the 15-minute cooldown, one success resets the breaker.
	clock = clock.Add(16 * time.Minute)
	s.mu.Lock()
	task.NextRun = &clock
	s.mu.Unlock()
	s.tick(ctx)
	waitForRunCount(t, exec, 4)

	got, _ = s.GetTask(task.ID)
	if got.LastResult.Status != statestore.StatusCompleted {
		t.Fatalf("expected completed result after cooldown, got %+v", got.LastResult)
	}
	if got.NextRun == nil {
		t.Fatalf("expected scheduling to resume after circuit breaker reset")
	}
}

func TestRateLimiterSkipsSecondAdmitWithinWindow(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	exec := &fakeExecutor{}
	s, _ := newTestScheduler(t, exec, &clock)
	ctx := context.Background()

	task := baseTestTask()
	if err := s.AddTask(ctx, task); err != nil {
		t.Fatalf("add task: %v", err)
	}

	clock = clock.Add(time.Minute)
	s.mu.Lock()
	task.NextRun = &clock
	s.mu.Unlock()
	s.tick(ctx)
	waitForRunCount(t, exec, 1)

	// Recomputed next_run lands a minute later, but the rate limiter's
	// 60s minimum gap should still suppress an admit fired immediately.
	s.mu.Lock()
	task.NextRun = &clock
	s.mu.Unlock()
	s.tick(ctx)
	time.Sleep(20 * time.Millisecond)
	if exec.callCount() != 1 {
		t.Fatalf("expected rate limiter to suppress immediate re-admit, got %d calls", exec.callCount())
	}
}

func TestAddTaskRejectsInvalidCron(t *testing.T) {
	clock := time.Now()
	s, _ := newTestScheduler(t, &fakeExecutor{}, &clock)
	task := baseTestTask()
	task.CronExpr = "not a cron"
	if err := s.AddTask(context.Background(), task); err == nil {
		t.Fatal("expected invalid cron expression to be rejected")
	}
}

func TestRemoveTaskDeletesFromLiveSetAndStore(t *testing.T) {
	clock := time.Now()
	s, store := newTestScheduler(t, &fakeExecutor{}, &clock)
	ctx := context.Background()
	task := baseTestTask()
	if err := s.AddTask(ctx, task); err != nil {
		t.Fatalf("add task: %v", err)
	}

	if err := s.RemoveTask(ctx, task.ID); err != nil {
		t.Fatalf("remove task: %v", err)
	}
	if _, ok := s.GetTask(task.ID); ok {
		t.Fatal("expected task to be gone from live set")
	}
	loaded, err := store.LoadTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("load task: %v", err)
	}
	if loaded != nil {
		t.Fatal("expected task to be gone from store")
	}
}

func TestStopWaitsForRunningWorkers(t *testing.T) {
	clock := time.Now()
	started := make(chan struct{})
	release := make(chan struct{})
	exec := blockingExecutor{started: started, release: release}
	s, _ := newTestScheduler(t, exec, &clock)
	ctx := context.Background()

	task := baseTestTask()
	if err := s.AddTask(ctx, task); err != nil {
		t.Fatalf("add task: %v", err)
	}
	s.mu.Lock()
	task.NextRun = &clock
	s.mu.Unlock()

	s.Start()
	s.tick(ctx)
	<-started

	stopDone := make(chan struct{})
	go func() {
		s.Stop()
		close(stopDone)
	}()

	select {
	case <-stopDone:
		t.Fatal("Stop returned before the running worker finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after worker completed")
	}
}

type blockingExecutor struct {
	started chan struct{}
	release chan struct{}
}

func (b blockingExecutor) ExecuteTask(ctx context.Context, task *statestore.Task) *statestore.TaskResult {
	close(b.started)
	<-b.release
	now := time.Now().UTC()
	return &statestore.TaskResult{TaskID: task.ID, Status: statestore.StatusCompleted, StartedAt: now, CompletedAt: &now}
}

type panickingExecutor struct{}

func (panickingExecutor) ExecuteTask(ctx context.Context, task *statestore.Task) *statestore.TaskResult {
	panic("boom")
}

// TestPanicInWorkerIsRecoveredAsFailed matches spec.md §7's propagation
// policy: a panic in a worker must not take the tick loop down, and the
// task's result must land as failed rather than stuck at running.
func TestPanicInWorkerIsRecoveredAsFailed(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s, _ := newTestScheduler(t, panickingExecutor{}, &clock)
	ctx := context.Background()

	task := baseTestTask()
	if err := s.AddTask(ctx, task); err != nil {
		t.Fatalf("add task: %v", err)
	}
	clock = clock.Add(time.Minute)
	s.mu.Lock()
	task.NextRun = &clock
	s.mu.Unlock()

	s.tick(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		status := task.LastResult
		s.mu.Unlock()
		if status != nil && status.Status == statestore.StatusFailed {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected panicking task to land as failed")
}
