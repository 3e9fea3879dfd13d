package ledgercheck

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Scheduler triggers one check per day at a fixed UTC minute.
type Scheduler struct {
	runner *Runner
	hour   int
	minute int
	logger *zap.Logger
}

// NewScheduler constructs a Scheduler. dailyAt is "HH:MM" in UTC.
func NewScheduler(runner *Runner, dailyAt string, logger *zap.Logger) (*Scheduler, error) {
	hour, minute, err := parseDailyAt(dailyAt)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{runner: runner, hour: hour, minute: minute, logger: logger}, nil
}

// Start runs the scheduler loop until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.runner == nil {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !s.shouldRun(now.UTC()) {
				continue
			}
			if _, err := s.runner.Run(ctx); err != nil {
				s.logger.Error("scheduled ledger check failed", zap.Error(err))
			}
		}
	}
}

func (s *Scheduler) shouldRun(now time.Time) bool {
	return now.Hour() == s.hour && now.Minute() == s.minute
}

func parseDailyAt(value string) (int, int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}
