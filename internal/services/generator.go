package services

import (
	"context"
	"errors"
	"fmt"

	"recurrent/internal/amqp"
	"recurrent/internal/core"
	"recurrent/internal/log"
	"recurrent/internal/storage"
)

// GenerateResult describes one generation pass over a template.
type GenerateResult struct {
	// Template is the template as committed, with the advanced watermark.
	Template core.Template
	Created  []core.Occurrence
	// Walked counts the schedule slots visited, Skipped those that already
	// held an occurrence or a tombstone.
	Walked  int
	Skipped int
}

// Generator materializes the occurrences of a template up to a horizon.
type Generator struct {
	store  storage.Store
	locks  *KeyedMutex
	opts   Options
	logger *log.Logger
}

func NewGenerator(store storage.Store, locks *KeyedMutex, opts Options) *Generator {
	opts = opts.withDefaults()
	return &Generator{
		store:  store,
		locks:  locks,
		opts:   opts,
		logger: opts.Logger.WithComponent(log.ComponentGenerator),
	}
}

// Generate extends the template's occurrences through horizon. Slots that
// already hold an occurrence or a tombstone are skipped, so repeated calls
// with the same or a larger horizon never duplicate rows. Inserts and the
// watermark commit together; persistence errors roll back and are returned as
// *core.GenerationFailure.
func (g *Generator) Generate(ctx context.Context, templateID string, horizon core.Day) (GenerateResult, error) {
	return g.generate(ctx, templateID, func(core.Template) core.Day { return horizon })
}

// GenerateThrough is Generate for externally requested dates: through is
// capped at the template's policy horizon (HorizonCycles after today), so a
// far-future request never pre-generates an open-ended series.
func (g *Generator) GenerateThrough(ctx context.Context, templateID string, through core.Day) (GenerateResult, error) {
	return g.generate(ctx, templateID, func(t core.Template) core.Day {
		return core.MinDay(through, g.Horizon(t.Interval, g.opts.today()))
	})
}

// Horizon is the last day the engine materializes for interval as of today.
func (g *Generator) Horizon(interval core.Interval, today core.Day) core.Day {
	return g.opts.horizon(today, interval)
}

func (g *Generator) generate(ctx context.Context, templateID string, horizonFor func(core.Template) core.Day) (GenerateResult, error) {
	unlock := g.locks.Lock(templateID)
	defer unlock()

	var (
		res     GenerateResult
		horizon core.Day
	)
	err := g.store.InTx(ctx, func(repo storage.Repository) error {
		t, err := repo.GetTemplate(ctx, templateID)
		if err != nil {
			return fmt.Errorf("get template: %w", err)
		}
		if t.Status != core.StatusActive {
			return &core.StateConflictError{TemplateID: t.ID, Status: t.Status, Op: log.OpGenerate}
		}
		horizon = horizonFor(t)
		res, err = g.generateIn(ctx, repo, t, horizon)
		return err
	})
	if err != nil {
		if errors.Is(err, core.ErrNotFound) || core.IsStateConflict(err) {
			return GenerateResult{}, err
		}
		g.logger.ErrorContext(ctx, "Generation failed, batch rolled back",
			log.FieldTemplateID, templateID,
			log.FieldHorizon, horizon.String(),
			log.FieldError, err)
		return GenerateResult{}, &core.GenerationFailure{TemplateID: templateID, Err: err}
	}

	g.report(ctx, res, horizon)
	return res, nil
}

// generateIn walks the schedule of t from max(anchor, watermark+1) through
// min(horizon, end date) using repo. The caller holds the template lock and
// owns the transaction.
func (g *Generator) generateIn(ctx context.Context, repo storage.Repository, t core.Template, horizon core.Day) (GenerateResult, error) {
	res := GenerateResult{Template: t}

	start := core.MaxDay(t.AnchorDate, t.LastGeneratedThrough.Next())
	limit := t.Limit(horizon)
	if limit.Before(start) {
		return res, nil
	}

	sched := t.Schedule()
	slot, n := sched.FirstOnOrAfter(start)
	if n < 0 {
		return res, fmt.Errorf("unknown interval %q", t.Interval)
	}

	now := g.opts.Now()
	var last core.Day
	for !slot.After(limit) {
		res.Walked++
		last = slot

		taken, err := slotTaken(ctx, repo, t.ID, slot)
		if err != nil {
			return res, err
		}
		if taken {
			res.Skipped++
		} else {
			occ := core.NewOccurrence(g.opts.NewID(), t, slot, now)
			inserted, err := repo.InsertOccurrence(ctx, occ)
			if err != nil {
				return res, fmt.Errorf("insert occurrence %s: %w", slot, err)
			}
			if inserted {
				res.Created = append(res.Created, occ)
			} else {
				res.Skipped++
			}
		}

		n++
		slot = sched.Nth(n)
	}

	if res.Walked == 0 {
		return res, nil
	}

	t.LastGeneratedThrough = last
	t.ExecutionCount += len(res.Created)
	t.UpdatedAt = now
	if err := repo.UpdateTemplate(ctx, t); err != nil {
		return res, fmt.Errorf("advance watermark: %w", err)
	}
	res.Template = t
	return res, nil
}

// report logs a committed pass and announces new occurrences.
func (g *Generator) report(ctx context.Context, res GenerateResult, horizon core.Day) {
	if res.Walked == 0 {
		g.logger.DebugContext(ctx, "Nothing to generate",
			log.FieldTemplateID, res.Template.ID,
			log.FieldWatermark, res.Template.LastGeneratedThrough.String(),
			log.FieldHorizon, horizon.String())
		return
	}

	g.logger.InfoContext(ctx, "Generated occurrences",
		log.FieldTemplateID, res.Template.ID,
		log.FieldGenerated, len(res.Created),
		log.FieldSkipped, res.Skipped,
		log.FieldWatermark, res.Template.LastGeneratedThrough.String(),
		log.FieldHorizon, horizon.String())

	// The watermark moved even when every walked slot was taken, so listeners
	// holding the projection still need the event.
	event := amqp.NewEvent(amqp.EventOccurrencesGenerated, res.Template.ID)
	event.Count = len(res.Created)
	for _, o := range res.Created {
		event.OccurrenceIDs = append(event.OccurrenceIDs, o.ID)
	}
	g.opts.publish(ctx, event)
}

func slotTaken(ctx context.Context, repo storage.Repository, templateID string, slot core.Day) (bool, error) {
	exists, err := repo.OccurrenceExists(ctx, templateID, slot)
	if err != nil {
		return false, fmt.Errorf("check occurrence %s: %w", slot, err)
	}
	if exists {
		return true, nil
	}
	tombstoned, err := repo.HasTombstone(ctx, templateID, slot)
	if err != nil {
		return false, fmt.Errorf("check tombstone %s: %w", slot, err)
	}
	return tombstoned, nil
}
