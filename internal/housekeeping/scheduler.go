// Package housekeeping runs the periodic maintenance jobs: connection
// ping sweeps, finished-task eviction, database retention and system
// status broadcasts.
package housekeeping

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Pinger sweeps live connections with an application-level ping.
type Pinger interface {
	PingAll() int
}

// TaskJanitor evicts finished tasks and reports system status.
type TaskJanitor interface {
	CleanupCompleted(maxAge time.Duration) int
	BroadcastSystemStatus()
}

// StoreJanitor trims persisted rows past their retention window.
type StoreJanitor interface {
	Cleanup(retention time.Duration) (int64, error)
}

// Options configures the scheduler's intervals.
type Options struct {
	PingInterval    time.Duration
	CleanupInterval time.Duration
	TaskMaxAge      time.Duration
	StoreRetention  time.Duration
}

// Scheduler drives the maintenance jobs on cron intervals.
type Scheduler struct {
	cron  *cron.Cron
	ping  Pinger
	tasks TaskJanitor
	store StoreJanitor // nil disables retention
	opts  Options
}

// NewScheduler creates a Scheduler. st may be nil when persistence is
// disabled.
func NewScheduler(ping Pinger, tasks TaskJanitor, st StoreJanitor, opts Options) *Scheduler {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = time.Hour
	}
	if opts.TaskMaxAge <= 0 {
		opts.TaskMaxAge = 24 * time.Hour
	}
	return &Scheduler{
		cron:  cron.New(),
		ping:  ping,
		tasks: tasks,
		store: st,
		opts:  opts,
	}
}

// Start registers the jobs and launches the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("@every "+s.opts.PingInterval.String(), s.pingSweep); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("@every "+s.opts.CleanupInterval.String(), s.cleanup); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("@every "+s.opts.PingInterval.String(), s.tasks.BroadcastSystemStatus); err != nil {
		return err
	}

	s.cron.Start()
	slog.Info("housekeeping started",
		"ping_interval", s.opts.PingInterval,
		"cleanup_interval", s.opts.CleanupInterval)
	return nil
}

// Stop halts the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("housekeeping stopped")
}

func (s *Scheduler) pingSweep() {
	sent := s.ping.PingAll()
	if sent > 0 {
		slog.Debug("ping sweep", "sent", sent)
	}
}

func (s *Scheduler) cleanup() {
	if n := s.tasks.CleanupCompleted(s.opts.TaskMaxAge); n > 0 {
		slog.Info("evicted finished tasks", "count", n)
	}

	if s.store == nil || s.opts.StoreRetention <= 0 {
		return
	}
	rows, err := s.store.Cleanup(s.opts.StoreRetention)
	if err != nil {
		slog.Error("store cleanup failed", "error", err)
		return
	}
	if rows > 0 {
		slog.Info("trimmed persisted rows", "rows", rows)
	}
}
