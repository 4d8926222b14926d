package task

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carscope/carscope/internal/search"
)

// Broadcaster publishes task events to subscribers. Defined at the
// consumer side; the realtime dispatcher provides the implementation.
type Broadcaster interface {
	BroadcastTaskStart(taskID, message string)
	BroadcastProgressUpdate(taskID string, pct float64, message, step string, extra map[string]any)
	BroadcastSearchResults(taskID string, cars []search.Listing, duration time.Duration, message string)
	BroadcastError(taskID, errMessage string, details map[string]any)
	BroadcastTaskComplete(taskID, message string, result map[string]any)
	BroadcastSystemNotification(kind, title, message, level string, data map[string]any)
	QueueDepth() int
}

// ConnectionCounter reports the number of live client connections,
// used for system status broadcasts.
type ConnectionCounter interface {
	ActiveCount() int
}

// Orchestrator owns the task table and drives each task's pipeline:
// parse query, fan out to sources, score and rank, finalize. Exactly
// one goroutine per running task mutates that task's state.
type Orchestrator struct {
	mu          sync.RWMutex
	tasks       map[string]*Task
	cancelFuncs map[string]context.CancelFunc

	runner      search.Runner
	broadcaster Broadcaster
	conns       ConnectionCounter
	taskTimeout time.Duration
}

// NewOrchestrator creates an Orchestrator. taskTimeout bounds a whole
// pipeline run; zero means 10 minutes.
func NewOrchestrator(runner search.Runner, broadcaster Broadcaster, conns ConnectionCounter, taskTimeout time.Duration) *Orchestrator {
	if taskTimeout <= 0 {
		taskTimeout = 10 * time.Minute
	}
	return &Orchestrator{
		tasks:       make(map[string]*Task),
		cancelFuncs: make(map[string]context.CancelFunc),
		runner:      runner,
		broadcaster: broadcaster,
		conns:       conns,
		taskTimeout: taskTimeout,
	}
}

// StartSearch creates a pending task, announces it, and launches the
// pipeline in its own goroutine. Returns the task id immediately; the
// caller never waits for completion.
func (o *Orchestrator) StartSearch(req search.Request, clientIP string) string {
	t := newTask(uuid.NewString(), req, clientIP)

	o.mu.Lock()
	o.tasks[t.ID] = t
	o.mu.Unlock()

	o.broadcaster.BroadcastTaskStart(t.ID, fmt.Sprintf("starting search: %s", req.Query))

	// The pipeline outlives the originating HTTP request.
	ctx, cancel := context.WithTimeout(context.Background(), o.taskTimeout)
	o.mu.Lock()
	o.cancelFuncs[t.ID] = cancel
	o.mu.Unlock()

	go o.run(ctx, cancel, t)

	slog.Info("search task started",
		"task_id", t.ID,
		"query", req.Query)
	return t.ID
}

// ReportProgress records a task's progress and forwards it to the
// task's subscribers. Pipeline stages call this through their report
// callback; percentages are caller-supplied and not checked for
// monotonicity.
func (o *Orchestrator) ReportProgress(taskID string, pct float64, message, step string, extra map[string]any) {
	o.mu.RLock()
	t, ok := o.tasks[taskID]
	o.mu.RUnlock()
	if ok {
		t.setProgress(pct)
	}
	o.broadcaster.BroadcastProgressUpdate(taskID, pct, message, step, extra)
}

// run executes the pipeline stages in order, checking for cooperative
// cancellation at each stage boundary. A running stage is never
// interrupted mid-flight; the flag takes effect when it returns.
func (o *Orchestrator) run(ctx context.Context, cancel context.CancelFunc, t *Task) {
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("search task panicked",
				"task_id", t.ID,
				"panic", r)
			t.setError(fmt.Sprintf("internal panic: %v", r))
			t.setStatus(StatusFailed)
			o.broadcaster.BroadcastError(t.ID, fmt.Sprintf("internal panic: %v", r), nil)
		}
	}()

	started := time.Now()
	query := t.Request.Query

	if !t.setStatus(StatusInProgress) {
		// Cancelled before the run began.
		return
	}

	report := func(pct float64, message, step string, extra map[string]any) {
		o.ReportProgress(t.ID, pct, message, step, extra)
	}

	report(10, "parsing query", "parsing_query", nil)
	parsed, err := o.runner.ParseQuery(ctx, query, report)
	if err != nil {
		o.fail(t, err)
		return
	}
	if o.cancelled(t) {
		return
	}

	report(30, "searching sources", "searching_sources", nil)
	cars, err := o.runner.SearchSources(ctx, parsed, report)
	if err != nil {
		o.fail(t, err)
		return
	}
	if o.cancelled(t) {
		return
	}

	report(80, "analyzing results", "analyzing_results", nil)
	ranked, err := o.runner.AnalyzeResults(ctx, cars, query, report)
	if err != nil {
		o.fail(t, err)
		return
	}
	if o.cancelled(t) {
		return
	}

	duration := time.Since(started)
	if err := o.runner.Finalize(ctx, t.ID, query, ranked, duration, report); err != nil {
		o.fail(t, err)
		return
	}

	report(100, "search complete", "completed", nil)
	o.broadcaster.BroadcastSearchResults(t.ID, ranked, duration, "search complete")

	result := map[string]any{"total_cars": len(ranked)}
	t.setResult(result)
	t.setStatus(StatusCompleted)
	o.broadcaster.BroadcastTaskComplete(t.ID, "search task complete", result)

	slog.Info("search task completed",
		"task_id", t.ID,
		"results", len(ranked),
		"duration", duration)
}

func (o *Orchestrator) fail(t *Task, err error) {
	if o.cancelled(t) {
		// A stage aborted because the task was cancelled underneath
		// it; the cancellation broadcast already went out.
		return
	}
	t.setError(err.Error())
	t.setStatus(StatusFailed)
	o.broadcaster.BroadcastError(t.ID, fmt.Sprintf("search failed: %v", err), nil)
	slog.Warn("search task failed",
		"task_id", t.ID,
		"error", err)
}

func (o *Orchestrator) cancelled(t *Task) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Status == StatusCancelled
}

// GetTaskStatus returns a snapshot of the task, or false for unknown ids.
func (o *Orchestrator) GetTaskStatus(taskID string) (Snapshot, bool) {
	o.mu.RLock()
	t, ok := o.tasks[taskID]
	o.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return t.Snapshot(), true
}

// TaskDone returns a channel closed when the task reaches a terminal
// state, or false for unknown ids. Long-polling callers select on it.
func (o *Orchestrator) TaskDone(taskID string) (<-chan struct{}, bool) {
	o.mu.RLock()
	t, ok := o.tasks[taskID]
	o.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return t.Done(), true
}

// CancelTask requests cooperative cancellation. The status flips to
// cancelled immediately and subscribers are notified, but a stage
// already in flight keeps running until it returns. Returns false for
// unknown ids or tasks already in a terminal state.
func (o *Orchestrator) CancelTask(taskID string) bool {
	o.mu.RLock()
	t, ok := o.tasks[taskID]
	cancel := o.cancelFuncs[taskID]
	o.mu.RUnlock()
	if !ok {
		return false
	}

	if !t.setStatus(StatusCancelled) {
		return false
	}
	if cancel != nil {
		cancel()
	}

	o.broadcaster.BroadcastError(taskID, "task cancelled", nil)
	slog.Info("search task cancelled", "task_id", taskID)
	return true
}

// ListActiveTasks returns a snapshot of the whole task table, newest
// first.
func (o *Orchestrator) ListActiveTasks() []Snapshot {
	o.mu.RLock()
	snaps := make([]Snapshot, 0, len(o.tasks))
	for _, t := range o.tasks {
		snaps = append(snaps, t.Snapshot())
	}
	o.mu.RUnlock()

	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
	})
	return snaps
}

// RunningCount returns the number of tasks currently in progress.
func (o *Orchestrator) RunningCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	count := 0
	for _, t := range o.tasks {
		t.mu.RLock()
		if t.Status == StatusInProgress {
			count++
		}
		t.mu.RUnlock()
	}
	return count
}

// CleanupCompleted evicts terminal tasks whose terminal timestamp is
// older than maxAge and returns how many were removed. Running tasks
// are never touched.
func (o *Orchestrator) CleanupCompleted(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	o.mu.Lock()
	defer o.mu.Unlock()

	removed := 0
	for id, t := range o.tasks {
		at := t.terminalAt()
		if at.IsZero() || at.After(cutoff) {
			continue
		}
		delete(o.tasks, id)
		delete(o.cancelFuncs, id)
		removed++
	}

	if removed > 0 {
		slog.Info("cleaned up finished tasks", "count", removed)
	}
	return removed
}

// BroadcastSystemStatus emits one system notification with the live
// connection count, running task count and dispatcher queue depth.
func (o *Orchestrator) BroadcastSystemStatus() {
	activeConns := 0
	if o.conns != nil {
		activeConns = o.conns.ActiveCount()
	}
	running := o.RunningCount()
	queueDepth := o.broadcaster.QueueDepth()

	o.broadcaster.BroadcastSystemNotification(
		"system_status",
		"System status",
		fmt.Sprintf("connections: %d, running tasks: %d, queue depth: %d",
			activeConns, running, queueDepth),
		"info",
		map[string]any{
			"active_connections": activeConns,
			"active_tasks":       running,
			"queue_size":         queueDepth,
			"timestamp":          time.Now().Format(time.RFC3339),
		})
}
