package realtime

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/carscope/carscope/internal/protocol"
	"github.com/carscope/carscope/internal/search"
)

// item is one queued envelope plus its routing key. Exactly one of
// taskID/sessionID is set for scoped events; both empty means full
// broadcast.
type item struct {
	msg       protocol.Message
	taskID    string
	sessionID string
}

// Dispatcher decouples event producers from socket delivery: producers
// enqueue onto an unbounded FIFO and a single consumer goroutine drains
// it through the Registry. Enqueueing never blocks and never fails; the
// queue is deliberately unbounded so a slow socket cannot stall a task
// pipeline.
type Dispatcher struct {
	reg *Registry

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []item
	running  bool
	stopping bool
	done     chan struct{}
}

// NewDispatcher creates a Dispatcher delivering through reg.
func NewDispatcher(reg *Registry) *Dispatcher {
	d := &Dispatcher{reg: reg}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Start launches the consumer loop. Calling Start on a running
// dispatcher is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true
	d.stopping = false
	d.done = make(chan struct{})
	go d.consume()
	slog.Info("broadcast dispatcher started")
}

// Stop signals the consumer to exit after draining the queue and waits
// for it. Idempotent.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.stopping = true
	done := d.done
	d.cond.Broadcast()
	d.mu.Unlock()

	<-done
	slog.Info("broadcast dispatcher stopped")
}

// QueueDepth returns the number of envelopes waiting for delivery.
func (d *Dispatcher) QueueDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Running reports whether the consumer loop is active.
func (d *Dispatcher) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *Dispatcher) enqueue(it item) {
	d.mu.Lock()
	d.queue = append(d.queue, it)
	d.cond.Signal()
	d.mu.Unlock()
}

func (d *Dispatcher) consume() {
	defer func() {
		d.mu.Lock()
		d.running = false
		close(d.done)
		d.mu.Unlock()
	}()

	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.stopping {
			d.cond.Wait()
		}
		if len(d.queue) == 0 && d.stopping {
			d.mu.Unlock()
			return
		}
		it := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.deliver(it)
	}
}

// deliver routes one envelope. A bad envelope must never stop the
// consumer loop.
func (d *Dispatcher) deliver(it item) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("dispatcher delivery panicked",
				"type", string(it.msg.Type),
				"panic", r)
		}
	}()

	switch {
	case isTaskScoped(it.msg.Type) && it.taskID != "":
		d.reg.BroadcastToTask(it.taskID, it.msg)
	case isSessionScoped(it.msg.Type) && it.sessionID != "":
		d.reg.BroadcastToSession(it.sessionID, it.msg)
	default:
		// System notifications and anything unrecognized go to
		// every client.
		d.reg.Broadcast(it.msg)
	}
}

func isTaskScoped(t protocol.MessageType) bool {
	switch t {
	case protocol.TypeSearchProgress, protocol.TypeSearchResults,
		protocol.TypeSearchError, protocol.TypeSearchComplete,
		protocol.TypeTaskStart, protocol.TypeTaskProgress,
		protocol.TypeTaskComplete, protocol.TypeTaskError:
		return true
	}
	return false
}

func isSessionScoped(t protocol.MessageType) bool {
	return t == protocol.TypeConversationMessage || t == protocol.TypeConversationResponse
}

// BroadcastProgressUpdate enqueues a search_progress event for the
// task's subscribers. extra may carry total_sources, completed_sources
// and cars_found counters.
func (d *Dispatcher) BroadcastProgressUpdate(taskID string, pct float64, message, step string, extra map[string]any) {
	payload := protocol.SearchProgressPayload{
		TaskID:             taskID,
		ProgressPercentage: pct,
		CurrentStep:        step,
		Message:            message,
		TotalSources:       intFrom(extra, "total_sources"),
		CompletedSources:   intFrom(extra, "completed_sources"),
		CarsFound:          intFrom(extra, "cars_found"),
	}
	d.enqueue(item{
		msg:    protocol.New(protocol.TypeSearchProgress).WithData(payload),
		taskID: taskID,
	})
}

// BroadcastSearchResults enqueues the final listing set for the task's
// subscribers.
func (d *Dispatcher) BroadcastSearchResults(taskID string, cars []search.Listing, duration time.Duration, message string) {
	payload := protocol.SearchResultsPayload{
		TaskID:         taskID,
		Cars:           cars,
		TotalCount:     len(cars),
		SearchDuration: duration.Seconds(),
		Message:        message,
	}
	d.enqueue(item{
		msg:    protocol.New(protocol.TypeSearchResults).WithData(payload),
		taskID: taskID,
	})
}

// BroadcastError enqueues a task_error event for the task's subscribers.
func (d *Dispatcher) BroadcastError(taskID, errMessage string, details map[string]any) {
	payload := protocol.TaskStatusPayload{
		TaskID:  taskID,
		Status:  "failed",
		Message: errMessage,
		Error:   errMessage,
		Result:  details,
	}
	d.enqueue(item{
		msg:    protocol.New(protocol.TypeTaskError).WithData(payload),
		taskID: taskID,
	})
}

// BroadcastTaskStart enqueues a task_start event.
func (d *Dispatcher) BroadcastTaskStart(taskID, message string) {
	zero := 0.0
	payload := protocol.TaskStatusPayload{
		TaskID:   taskID,
		Status:   "started",
		Progress: &zero,
		Message:  message,
	}
	d.enqueue(item{
		msg:    protocol.New(protocol.TypeTaskStart).WithData(payload),
		taskID: taskID,
	})
}

// BroadcastTaskComplete enqueues a task_complete event with the final
// result summary.
func (d *Dispatcher) BroadcastTaskComplete(taskID, message string, result map[string]any) {
	full := 100.0
	payload := protocol.TaskStatusPayload{
		TaskID:   taskID,
		Status:   "completed",
		Progress: &full,
		Message:  message,
		Result:   result,
	}
	d.enqueue(item{
		msg:    protocol.New(protocol.TypeTaskComplete).WithData(payload),
		taskID: taskID,
	})
}

// BroadcastSystemNotification enqueues a system_notification for every
// connected client. level is one of info, warning, error, success.
func (d *Dispatcher) BroadcastSystemNotification(kind, title, message, level string, data map[string]any) {
	if level == "" {
		level = "info"
	}
	payload := protocol.SystemNotificationPayload{
		NotificationType: kind,
		Title:            title,
		Message:          message,
		Level:            level,
		Timestamp:        time.Now(),
		Data:             data,
	}
	d.enqueue(item{
		msg: protocol.New(protocol.TypeSystemNotification).WithData(payload),
	})
}

// BroadcastConversationMessage enqueues one conversation turn for the
// session's subscribers.
func (d *Dispatcher) BroadcastConversationMessage(sessionID, message string, isUser bool, metadata map[string]any) {
	payload := protocol.ConversationPayload{
		SessionID: sessionID,
		Message:   message,
		IsUser:    isUser,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
	d.enqueue(item{
		msg:       protocol.New(protocol.TypeConversationMessage).WithData(payload),
		sessionID: sessionID,
	})
}

func intFrom(extra map[string]any, key string) int {
	if extra == nil {
		return 0
	}
	switch v := extra[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		var n int
		_, _ = fmt.Sscanf(v, "%d", &n)
		return n
	}
	return 0
}
