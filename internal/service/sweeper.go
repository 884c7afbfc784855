package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gocron "github.com/go-co-op/gocron/v2"

	"github.com/CZERTAINLY/jobcast/internal/model"
)

// Sweeper evicts expired jobs periodically.
type Sweeper struct {
	scheduler gocron.Scheduler
}

// NewSweeper schedules sweep according to cfg. A nil cfg sweeps every
// model.DefaultSweep. Cron takes precedence over duration.
func NewSweeper(ctx context.Context, cfg *model.Sweep, sweep func()) (*Sweeper, error) {
	var job gocron.JobDefinition
	switch {
	case cfg != nil && cfg.Cron != "":
		if _, err := model.ParseCron(cfg.Cron); err != nil {
			return nil, fmt.Errorf("parsing service.sweep.cron: %w", err)
		}
		job = gocron.CronJob(cfg.Cron, false)
		slog.DebugContext(ctx, "sweeping", "cron", cfg.Cron)
	default:
		d, err := cfg.Interval()
		if err != nil {
			return nil, fmt.Errorf("parsing service.sweep.duration: %w", err)
		}
		job = gocron.DurationJob(d)
		slog.DebugContext(ctx, "sweeping", "every", d.String())
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		job,
		gocron.NewTask(sweep),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	return &Sweeper{scheduler: s}, nil
}

// SweepRegistry is a sweep func evicting from r and reporting the count to
// evicted, which may be nil.
func SweepRegistry(ctx context.Context, r *Registry, evicted func(n int)) func() {
	return func() {
		n := r.Sweep()
		if n == 0 {
			return
		}
		slog.DebugContext(ctx, "evicted terminated jobs", "count", n)
		if evicted != nil {
			evicted(n)
		}
	}
}

func (s *Sweeper) Start() {
	s.scheduler.Start()
}

// Shutdown stops the schedule and waits for a sweep in progress.
func (s *Sweeper) Shutdown() error {
	return s.scheduler.Shutdown()
}

// NextRun returns when the next sweep happens.
func (s *Sweeper) NextRun() (time.Time, error) {
	jobs := s.scheduler.Jobs()
	if len(jobs) == 0 {
		return time.Time{}, fmt.Errorf("no sweep scheduled")
	}
	return jobs[0].NextRun()
}
