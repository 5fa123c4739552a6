package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rdeforest/ClodWeave/internal/coordinator"
	"github.com/rdeforest/ClodWeave/internal/schedule"
	"github.com/rdeforest/ClodWeave/internal/store"
)

const EventExecuted = "schedule_executed"

// Executor runs a hosted coordinator.
type Executor interface {
	Execute(ctx context.Context, coordinatorID string, req coordinator.Request) (*coordinator.Result, error)
}

// Store is the slice of the store the scheduler needs.
type Store interface {
	GetDueSchedules(now time.Time) ([]store.ScheduledRun, error)
	UpdateScheduleRun(id, lastStatus, lastError string, nextRunAt *time.Time) error
	UpdateScheduleStatus(id, status string) error
}

type EventPublisher interface {
	PublishScheduleEvent(scheduleID, eventType string, data map[string]any)
}

type Scheduler struct {
	store  Store
	exec   Executor
	events EventPublisher
	now    func() time.Time

	mu           sync.Mutex
	pollInterval time.Duration
	reloadCh     chan struct{}
}

func New(s Store, exec Executor, events EventPublisher, pollInterval time.Duration) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	return &Scheduler{
		store:        s,
		exec:         exec,
		events:       events,
		now:          time.Now,
		pollInterval: pollInterval,
		reloadCh:     make(chan struct{}, 1),
	}
}

// UpdateConfig changes the poll interval and resets the run loop's ticker.
func (s *Scheduler) UpdateConfig(pollInterval time.Duration) {
	if pollInterval <= 0 {
		return
	}
	s.mu.Lock()
	s.pollInterval = pollInterval
	s.mu.Unlock()
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pollInterval
}

// Start polls for due schedules until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval())
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.interval())

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-s.reloadCh:
			ticker.Reset(s.interval())
			slog.Info("scheduler config reloaded", "poll_interval", s.interval())
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll executes every schedule that is due.
func (s *Scheduler) Poll(ctx context.Context) {
	due, err := s.store.GetDueSchedules(s.now())
	if err != nil {
		slog.Error("failed to get due schedules", "error", err)
		return
	}
	for _, run := range due {
		s.execute(ctx, run)
	}
}

func (s *Scheduler) execute(ctx context.Context, run store.ScheduledRun) {
	slog.Info("executing scheduled run", "id", run.ID, "name", run.Name, "coordinator", run.Coordinator)

	res, err := s.exec.Execute(ctx, run.Coordinator, coordinator.Request{
		Mode:   run.Mode,
		Method: run.Method,
		Params: run.Params,
	})

	status, lastError := "success", ""
	if err != nil {
		status, lastError = "error", err.Error()
		slog.Error("scheduled run failed", "id", run.ID, "error", err)
	}

	next := schedule.Next(run.Schedule, s.now())
	if err := s.store.UpdateScheduleRun(run.ID, status, lastError, next); err != nil {
		slog.Error("failed to update schedule", "id", run.ID, "error", err)
	}

	data := map[string]any{
		"name":        run.Name,
		"coordinator": run.Coordinator,
		"status":      status,
	}
	if res != nil {
		data["run_id"] = res.RunID
	}
	if lastError != "" {
		data["error"] = lastError
	}
	if s.events != nil {
		s.events.PublishScheduleEvent(run.ID, EventExecuted, data)
	}

	if next == nil {
		slog.Info("no next run, completing schedule", "id", run.ID, "name", run.Name)
		if err := s.store.UpdateScheduleStatus(run.ID, store.ScheduleCompleted); err != nil {
			slog.Error("failed to complete schedule", "id", run.ID, "error", err)
		}
	}
}
