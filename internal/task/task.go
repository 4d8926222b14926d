package task

import (
	"sync"
	"time"

	"github.com/carscope/carscope/internal/search"
)

// Status represents the lifecycle state of a search task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether s is a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Task is one multi-stage background search run. All mutation happens
// on the orchestrator's worker goroutine for the task; readers take
// snapshots.
type Task struct {
	mu sync.RWMutex

	ID       string
	Status   Status
	Progress float64
	Request  search.Request
	ClientIP string

	Result       map[string]any
	ErrorMessage string

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	FailedAt    time.Time
	CancelledAt time.Time

	done chan struct{}
}

func newTask(id string, req search.Request, clientIP string) *Task {
	return &Task{
		ID:        id,
		Status:    StatusPending,
		Request:   req,
		ClientIP:  clientIP,
		CreatedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// Done returns a channel closed when the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// IsTerminal reports whether the task has reached a final state.
func (t *Task) IsTerminal() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Status.IsTerminal()
}

// setStatus advances the task's state. Transitions out of a terminal
// state are refused: a finished task is never revived.
func (t *Task) setStatus(s Status) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Status.IsTerminal() {
		return false
	}

	t.Status = s
	now := time.Now()
	switch s {
	case StatusInProgress:
		t.StartedAt = now
	case StatusCompleted:
		t.CompletedAt = now
	case StatusFailed:
		t.FailedAt = now
	case StatusCancelled:
		t.CancelledAt = now
	}

	if s.IsTerminal() {
		select {
		case <-t.done:
		default:
			close(t.done)
		}
	}
	return true
}

func (t *Task) setProgress(pct float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Progress = pct
}

func (t *Task) setResult(result map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Result = result
}

func (t *Task) setError(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ErrorMessage = msg
}

// terminalAt returns the timestamp at which the task reached its
// terminal state, or the zero time if it has not.
func (t *Task) terminalAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	switch t.Status {
	case StatusCompleted:
		return t.CompletedAt
	case StatusFailed:
		return t.FailedAt
	case StatusCancelled:
		return t.CancelledAt
	}
	return time.Time{}
}

// Snapshot is a read-consistent copy of a task's state.
type Snapshot struct {
	ID           string         `json:"task_id"`
	Status       Status         `json:"status"`
	Progress     float64        `json:"progress_percentage"`
	Query        string         `json:"query"`
	ClientIP     string         `json:"client_ip,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    time.Time      `json:"started_at,omitzero"`
	CompletedAt  time.Time      `json:"completed_at,omitzero"`
	FailedAt     time.Time      `json:"failed_at,omitzero"`
	CancelledAt  time.Time      `json:"cancelled_at,omitzero"`
}

// Snapshot returns a copy of the task's current state.
func (t *Task) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return Snapshot{
		ID:           t.ID,
		Status:       t.Status,
		Progress:     t.Progress,
		Query:        t.Request.Query,
		ClientIP:     t.ClientIP,
		Result:       t.Result,
		ErrorMessage: t.ErrorMessage,
		CreatedAt:    t.CreatedAt,
		StartedAt:    t.StartedAt,
		CompletedAt:  t.CompletedAt,
		FailedAt:     t.FailedAt,
		CancelledAt:  t.CancelledAt,
	}
}
