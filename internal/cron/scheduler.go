// Package cron provides a periodic scheduler that runs the task skills
// unattended on cron expressions from config.
package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/taskdesk/internal/bus"
	"github.com/basket/taskdesk/internal/persistence"
	"github.com/basket/taskdesk/internal/skills"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Config holds the dependencies for the skill scheduler. Empty
// expressions disable the corresponding schedule.
type Config struct {
	Store    *persistence.Store
	Logger   *slog.Logger
	Bus      *bus.Bus      // may be nil
	Interval time.Duration // tick interval; defaults to 1 minute if zero

	PrioritizeExpr string
	CleanupExpr    string
	BriefExpr      string

	// CleanupDays is the age threshold handed to the cleanup skill.
	CleanupDays int

	// Notify receives the rendered daily brief; nil means no delivery.
	Notify func(ctx context.Context, brief string)
}

type entry struct {
	name    string
	expr    string
	nextRun time.Time
	run     func(ctx context.Context, now time.Time)
}

// Scheduler periodically checks each configured schedule and runs the
// skill when its next-run time has passed.
type Scheduler struct {
	logger   *slog.Logger
	interval time.Duration
	entries  []*entry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler from the given config. Invalid cron
// expressions surface as an error here rather than silently never firing.
func NewScheduler(cfg Config) (*Scheduler, error) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		logger:   logger,
		interval: interval,
	}

	publish := func(skill string, affected int, summary string) {
		if cfg.Bus == nil {
			return
		}
		cfg.Bus.Publish(bus.TopicSkillCompleted, bus.SkillEvent{
			Skill:    skill,
			Affected: affected,
			Summary:  summary,
		})
	}

	specs := []struct {
		name string
		expr string
		run  func(ctx context.Context, now time.Time)
	}{
		{
			name: "prioritize",
			expr: cfg.PrioritizeExpr,
			run: func(ctx context.Context, now time.Time) {
				updated, err := skills.Prioritize(ctx, cfg.Store, now)
				if err != nil {
					logger.Error("cron: prioritize failed", "error", err)
					return
				}
				logger.Info("cron: prioritize ran", "updated", updated)
				publish("prioritize", updated, "")
			},
		},
		{
			name: "cleanup",
			expr: cfg.CleanupExpr,
			run: func(ctx context.Context, now time.Time) {
				deleted, err := skills.Cleanup(ctx, cfg.Store, cfg.CleanupDays, now)
				if err != nil {
					logger.Error("cron: cleanup failed", "error", err)
					return
				}
				logger.Info("cron: cleanup ran", "deleted", deleted, "days_old", cfg.CleanupDays)
				publish("cleanup", deleted, "")
			},
		},
		{
			name: "brief",
			expr: cfg.BriefExpr,
			run: func(ctx context.Context, now time.Time) {
				brief, err := skills.DailyBrief(ctx, cfg.Store, now)
				if err != nil {
					logger.Error("cron: daily brief failed", "error", err)
					return
				}
				logger.Info("cron: daily brief ran")
				publish("brief", 0, brief)
				if cfg.Notify != nil {
					cfg.Notify(ctx, brief)
				}
			},
		},
	}

	now := time.Now()
	for _, spec := range specs {
		if spec.expr == "" {
			continue
		}
		next, err := NextRunTime(spec.expr, now)
		if err != nil {
			return nil, err
		}
		s.entries = append(s.entries, &entry{
			name:    spec.name,
			expr:    spec.expr,
			nextRun: next,
			run:     spec.run,
		})
	}
	return s, nil
}

// Start begins the scheduler loop. It runs in a background goroutine
// and respects the provided context for shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("skill scheduler started", "interval", s.interval, "schedules", len(s.entries))
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("skill scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, time.Now())
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	for _, e := range s.entries {
		if now.Before(e.nextRun) {
			continue
		}
		e.run(ctx, now.UTC())
		next, err := NextRunTime(e.expr, now)
		if err != nil {
			// Parse succeeded at construction; this should not happen.
			s.logger.Error("cron: failed to compute next run time", "schedule", e.name, "error", err)
			continue
		}
		e.nextRun = next
		s.logger.Info("cron: schedule fired", "schedule", e.name, "next_run_at", next)
	}
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
