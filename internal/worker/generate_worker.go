package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"recurrent/internal/amqp"
	"recurrent/internal/core"
	"recurrent/internal/log"
	"recurrent/internal/services"
)

// GenerateWorker answers generate.requested events from the queue. An event
// naming a template extends that template; an empty one runs a full
// scheduler pass.
type GenerateWorker struct {
	generator *services.Generator
	scheduler *services.Scheduler
	loc       *time.Location
	now       func() time.Time
	logger    *log.Logger
}

func NewGenerateWorker(engine *services.Engine, loc *time.Location, now func() time.Time, logger *log.Logger) *GenerateWorker {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &GenerateWorker{
		generator: engine.Generator,
		scheduler: engine.Scheduler,
		loc:       loc,
		now:       now,
		logger:    logger.WithComponent(log.ComponentWorker),
	}
}

// EventTypes lists the events the worker consumes.
func (w *GenerateWorker) EventTypes() []amqp.EventType {
	return []amqp.EventType{amqp.EventGenerateRequested}
}

// HandleEvent processes one delivery. A returned error requeues it, so
// requests that can never succeed (unknown or inactive templates, bad dates)
// are logged and acknowledged instead.
func (w *GenerateWorker) HandleEvent(ctx context.Context, event *amqp.Event) error {
	if event.Type != amqp.EventGenerateRequested {
		w.logger.WarnContext(ctx, "Ignoring unexpected event", "type", event.Type)
		return nil
	}

	if strings.TrimSpace(event.TemplateID) == "" {
		report, err := w.scheduler.RunOnce(ctx, w.now())
		if err != nil {
			return fmt.Errorf("run scheduler: %w", err)
		}
		w.logger.InfoContext(ctx, "Processed generate request",
			"checked", report.Checked,
			"due", report.Due,
			"occurrences", report.Occurrences,
			"failed", report.Failed)
		return nil
	}

	horizon := core.NormalizeIn(w.now(), w.loc)
	if event.Date != "" {
		d, err := core.ParseDay(event.Date, w.loc)
		if err != nil {
			w.logger.WarnContext(ctx, "Dropping generate request with invalid date",
				log.FieldTemplateID, event.TemplateID,
				"date", event.Date,
				log.FieldError, err)
			return nil
		}
		horizon = d
	}

	res, err := w.generator.GenerateThrough(ctx, event.TemplateID, horizon)
	switch {
	case errors.Is(err, core.ErrNotFound), core.IsStateConflict(err):
		w.logger.WarnContext(ctx, "Dropping generate request",
			log.FieldTemplateID, event.TemplateID,
			log.FieldError, err)
		return nil
	case err != nil:
		return fmt.Errorf("generate template %s: %w", event.TemplateID, err)
	}

	w.logger.InfoContext(ctx, "Processed generate request",
		log.FieldTemplateID, event.TemplateID,
		"through", horizon.String(),
		"occurrences", len(res.Created))
	return nil
}
