package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"recurrent/internal/core"
	"recurrent/internal/log"
	"recurrent/internal/storage"

	"golang.org/x/sync/errgroup"
)

// SchedulerConfig controls the periodic generation loop.
type SchedulerConfig struct {
	Interval    time.Duration
	Concurrency int
}

// RunReport summarizes one scheduler pass.
type RunReport struct {
	Today       core.Day
	Checked     int
	Due         int
	Occurrences int
	Failed      int
	Duration    time.Duration
}

// Scheduler extends every active template up to its horizon, on a ticker or
// on demand. Runs are idempotent and may overlap with user writes.
type Scheduler struct {
	templates storage.TemplateRepository
	gen       *Generator
	cfg       SchedulerConfig
	opts      Options
	logger    *log.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(templates storage.TemplateRepository, gen *Generator, cfg SchedulerConfig, opts Options) *Scheduler {
	opts = opts.withDefaults()
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Scheduler{
		templates: templates,
		gen:       gen,
		cfg:       cfg,
		opts:      opts,
		logger:    opts.Logger.WithComponent(log.ComponentScheduler),
	}
}

// RunOnce generates every active template whose next run date falls within
// its horizon. Per-template failures are logged and counted, not returned;
// they are retried on the next pass.
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) (RunReport, error) {
	start := time.Now()
	report := RunReport{Today: core.NormalizeIn(now, s.opts.Location)}

	templates, err := s.templates.ListTemplates(ctx, storage.TemplateFilter{Status: core.StatusActive})
	if err != nil {
		return report, fmt.Errorf("list active templates: %w", err)
	}
	report.Checked = len(templates)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for _, t := range templates {
		horizon := s.opts.horizon(report.Today, t.Interval)
		next, ok := t.NextRunDate()
		if !ok || next.After(horizon) {
			continue
		}
		report.Due++

		g.Go(func() error {
			res, err := s.gen.Generate(gctx, t.ID, horizon)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				report.Occurrences += len(res.Created)
			case core.IsStateConflict(err), errors.Is(err, core.ErrNotFound):
				// Paused, stopped or deleted since the listing.
				s.logger.DebugContext(gctx, "Template changed during run, skipping",
					log.FieldTemplateID, t.ID,
					log.FieldError, err)
			default:
				report.Failed++
				s.logger.ErrorContext(gctx, "Failed to generate occurrences",
					log.FieldTemplateID, t.ID,
					log.FieldHorizon, horizon.String(),
					log.FieldErrorType, log.ErrorTypeOf(err),
					log.FieldError, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(start)
	s.logger.InfoContext(ctx, "Scheduler run complete",
		"today", report.Today.String(),
		"checked", report.Checked,
		"due", report.Due,
		log.FieldGenerated, report.Occurrences,
		"failed", report.Failed,
		log.FieldDuration, report.Duration.Milliseconds())

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// Start runs a pass immediately, then one per interval until Stop is called
// or ctx is cancelled. Calling Start on a running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	s.logger.InfoContext(ctx, "Scheduler started",
		"interval", s.cfg.Interval.String(),
		"concurrency", s.cfg.Concurrency,
		"horizon_cycles", s.opts.HorizonCycles)
	go s.loop(ctx, s.done)
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.run(ctx, s.opts.Now())

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.run(ctx, s.opts.Now())
		}
	}
}

func (s *Scheduler) run(ctx context.Context, now time.Time) {
	if _, err := s.RunOnce(ctx, now); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.ErrorContext(ctx, "Scheduler run failed", log.FieldError, err)
	}
}

// Stop cancels the loop and waits for the current pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("Scheduler stopped")
}
