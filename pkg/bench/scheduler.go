package bench

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler reruns a benchmark on a standard five-field cron expression.
type Scheduler struct {
	schedule cron.Schedule
	expr     string
	run      func(context.Context)
	logger   zerolog.Logger
}

// NewScheduler parses the cron expression and binds it to a run function.
func NewScheduler(expr string, run func(context.Context), logger zerolog.Logger) (*Scheduler, error) {
	if run == nil {
		return nil, fmt.Errorf("run function is required")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	return &Scheduler{
		schedule: schedule,
		expr:     expr,
		run:      run,
		logger:   logger.With().Str("component", "bench_scheduler").Logger(),
	}, nil
}

// NextRun returns the next scheduled time after now.
func (s *Scheduler) NextRun(now time.Time) time.Time {
	return s.schedule.Next(now)
}

// Start blocks, invoking the run function at each scheduled time until the
// context is cancelled. Runs execute back to back, never overlapping: a run
// that outlasts its slot delays the next one.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().Str("expr", s.expr).Time("next_run", s.NextRun(time.Now())).Msg("Benchmark schedule active")

	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info().Msg("Benchmark schedule stopped")
			return
		case <-timer.C:
		}

		s.logger.Info().Time("scheduled_for", next).Msg("Scheduled benchmark starting")
		s.run(ctx)
	}
}
