package ruleset

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs a reload job on a cron schedule.
//
// Schedules use standard five-field cron syntax or descriptors:
//   - "@every 5m"   every five minutes
//   - "0 * * * *"   hourly
type Scheduler struct {
	schedule string
	job      func(ctx context.Context) (int, error)
	cron     *cron.Cron
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewScheduler creates a scheduler. job returns the number of rules it
// loaded.
func NewScheduler(schedule string, job func(ctx context.Context) (int, error)) *Scheduler {
	return &Scheduler{
		schedule: schedule,
		job:      job,
		cron:     cron.New(),
		logger:   slog.Default().With("component", "ruleset.scheduler"),
	}
}

// Start schedules the job. An empty schedule is a no-op. The scheduler
// stops when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("reload schedule not configured, skipping scheduler")
		return nil
	}
	if s.running {
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}
	if _, err := s.cron.AddFunc(s.schedule, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule reload: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("reload scheduler started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	start := time.Now()
	n, err := s.job(ctx)
	if err != nil {
		s.logger.Error("scheduled reload failed", "error", err)
		return
	}
	s.logger.Debug("scheduled reload completed",
		"rules_loaded", n,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Stop halts the schedule and waits for a running job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("reload scheduler stopped")
}

// IsRunning reports whether the schedule is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled reload, or nil when not running.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
