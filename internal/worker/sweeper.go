package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"campuslib/internal/circulation"
	"campuslib/internal/reservation"
)

// Task is one periodic sweep. Run returns how many records it acted on.
type Task struct {
	Name string
	Run  func(ctx context.Context) (int, error)
}

// LendingTasks are the sweeps of the lending engine: expiring unclaimed
// reservations, reminding holders of due loans and chasing overdue ones.
func LendingTasks(loans circulation.Service, reservations reservation.Service) []Task {
	return []Task{
		{Name: "expire_reservations", Run: reservations.ExpireStale},
		{Name: "due_reminders", Run: loans.SendDueReminders},
		{Name: "overdue_notices", Run: loans.NotifyOverdue},
	}
}

// TaskResult is the outcome of one task in a sweep.
type TaskResult struct {
	Task  string `json:"task"`
	Count int    `json:"count"`
	Error string `json:"error,omitempty"`
}

// Sweeper runs its tasks every interval.
type Sweeper struct {
	tasks    []Task
	interval time.Duration
	logger   *zap.Logger
}

func NewSweeper(interval time.Duration, logger *zap.Logger, tasks ...Task) *Sweeper {
	return &Sweeper{tasks: tasks, interval: interval, logger: logger.Named("sweeper")}
}

// RunOnce runs every task in order. A failing task does not stop the others.
func (s *Sweeper) RunOnce(ctx context.Context) ([]TaskResult, error) {
	results := make([]TaskResult, 0, len(s.tasks))
	var errs []error
	for _, task := range s.tasks {
		n, err := task.Run(ctx)
		res := TaskResult{Task: task.Name, Count: n}
		if err != nil {
			res.Error = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", task.Name, err))
			s.logger.Error("sweep task failed", zap.String("task", task.Name), zap.Error(err))
		} else if n > 0 {
			s.logger.Info("sweep task done", zap.String("task", task.Name), zap.Int("count", n))
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// Start sweeps every interval until ctx is done. A non-positive interval
// disables the sweeper.
func (s *Sweeper) Start(ctx context.Context) error {
	if s.interval <= 0 {
		s.logger.Info("sweeper disabled")
		return nil
	}
	s.logger.Info("starting sweeper", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// Failures are logged per task and retried on the next tick.
			_, _ = s.RunOnce(ctx)
		}
	}
}
