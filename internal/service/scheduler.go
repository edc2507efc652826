package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	gocron "github.com/go-co-op/gocron/v2"
	"github.com/go-viper/mapstructure/v2"

	"github.com/CZERTAINLY/diskbench-bridge/internal/model"
	"github.com/CZERTAINLY/diskbench-bridge/internal/registry"
)

// Scheduler starts the configured request periodically. A tick while a
// benchmark is running is skipped.
type Scheduler struct {
	scheduler gocron.Scheduler
	o         *Orchestrator
	params    map[string]any
}

func NewScheduler(ctx context.Context, cfgp *model.Schedule, o *Orchestrator) (*Scheduler, error) {
	if cfgp == nil {
		return nil, errors.New("schedule is nil")
	}
	cfg := *cfgp

	var job gocron.JobDefinition
	switch {
	case cfg.Cron != "":
		interval, err := model.ParseCron(cfg.Cron)
		if err != nil {
			return nil, fmt.Errorf("parsing schedule.cron: %w", err)
		}
		job = gocron.CronJob(cfg.Cron, false)
		slog.DebugContext(ctx, "successfully parsed", "cron", cfg.Cron, "interval", interval.String())
	case cfg.Duration != "":
		d, err := model.ParseISODuration(cfg.Duration)
		if err != nil {
			return nil, fmt.Errorf("parsing schedule.duration: %w", err)
		}
		job = gocron.DurationJob(d)
		slog.DebugContext(ctx, "successfully parsed", "duration", d.String())
	default:
		return nil, errors.New("both cron and duration are empty")
	}

	var params map[string]any
	if err := mapstructure.Decode(cfg.Request, &params); err != nil {
		return nil, fmt.Errorf("encoding schedule.request: %w", err)
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	sched := &Scheduler{scheduler: s, o: o, params: params}
	_, err = s.NewJob(
		job,
		gocron.NewTask(func() { sched.tick(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	return sched, nil
}

func (s *Scheduler) tick(ctx context.Context) {
	resp := s.o.StartTest(ctx, s.params)
	switch {
	case resp.Success:
		slog.InfoContext(ctx, "scheduled benchmark started", "run_id", resp.RunID)
	case resp.Error == registry.ErrAlreadyRunning.Error():
		slog.InfoContext(ctx, "skipping scheduled benchmark: already running", "details", resp.ErrorDetails)
	default:
		slog.ErrorContext(ctx, "scheduled benchmark rejected", "error", resp.Error, "retryable", resp.Retryable)
	}
}

// Do runs the scheduler until ctx is cancelled.
func (s *Scheduler) Do(ctx context.Context) error {
	slog.DebugContext(ctx, "starting a scheduler")
	s.scheduler.Start()
	<-ctx.Done()
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("shutting down gocron: %w", err)
	}
	return nil
}
