package services

import (
	"context"
	"fmt"

	"recurrent/internal/amqp"
	"recurrent/internal/core"
	"recurrent/internal/log"
	"recurrent/internal/storage"
)

// StopResult is the outcome of truncating a series.
type StopResult struct {
	Template core.Template
	Deleted  int
}

// SplitResult is the outcome of an apply-to-future edit. Successor is zero
// when the cutoff lies past the end of the series and nothing was split.
type SplitResult struct {
	Previous  core.Template
	Successor core.Template
	// Carried is the occurrence at the cutoff, moved to the successor.
	Carried    *core.Occurrence
	Deleted    int
	Generation GenerateResult
}

// Split reports whether a successor template was created.
func (r SplitResult) Split() bool {
	return r.Successor.ID != ""
}

// Resolver applies scoped deletes and edits to a series without touching the
// history before the acted-on occurrence.
type Resolver struct {
	store  storage.Store
	locks  *KeyedMutex
	gen    *Generator
	opts   Options
	logger *log.Logger
}

func NewResolver(store storage.Store, locks *KeyedMutex, gen *Generator, opts Options) *Resolver {
	opts = opts.withDefaults()
	return &Resolver{
		store:  store,
		locks:  locks,
		gen:    gen,
		opts:   opts,
		logger: opts.Logger.WithComponent(log.ComponentResolver),
	}
}

// DeleteOccurrence removes one occurrence. Recurring occurrences leave a
// tombstone on their slot so generation never recreates them; the template
// and its watermark are untouched.
func (r *Resolver) DeleteOccurrence(ctx context.Context, occurrenceID string) (core.Occurrence, error) {
	occ, err := r.store.GetOccurrence(ctx, occurrenceID)
	if err != nil {
		return core.Occurrence{}, fmt.Errorf("get occurrence: %w", err)
	}

	if !occ.IsRecurring() {
		if err := r.store.DeleteOccurrence(ctx, occ.ID); err != nil {
			return core.Occurrence{}, fmt.Errorf("delete occurrence: %w", err)
		}
		r.publishOccurrenceDeleted(ctx, occ)
		return occ, nil
	}

	templateID := *occ.TemplateID
	unlock := r.locks.Lock(templateID)
	defer unlock()

	err = r.store.InTx(ctx, func(repo storage.Repository) error {
		// Re-read under the lock: a concurrent stop may have removed it.
		current, err := repo.GetOccurrence(ctx, occurrenceID)
		if err != nil {
			return fmt.Errorf("get occurrence: %w", err)
		}
		occ = current
		if err := repo.DeleteOccurrence(ctx, occ.ID); err != nil {
			return fmt.Errorf("delete occurrence: %w", err)
		}
		return repo.InsertTombstone(ctx, core.Tombstone{
			TemplateID:   templateID,
			ScheduledFor: occ.ScheduledFor,
			Reason:       core.TombstoneDeleted,
			CreatedAt:    r.opts.Now(),
		})
	})
	if err != nil {
		return core.Occurrence{}, err
	}

	r.logger.InfoContext(ctx, "Deleted occurrence",
		log.FieldTemplateID, templateID,
		log.FieldOccurrenceID, occ.ID,
		log.FieldSlot, occ.ScheduledFor.String())
	r.publishOccurrenceDeleted(ctx, occ)
	return occ, nil
}

// SkipDate tombstones one slot of a series, deleting its occurrence if it was
// already generated. Days that are not slots of the series, or lie past its
// end date, are ignored and reported as false.
func (r *Resolver) SkipDate(ctx context.Context, templateID string, day core.Day) (bool, error) {
	unlock := r.locks.Lock(templateID)
	defer unlock()

	skipped := false
	err := r.store.InTx(ctx, func(repo storage.Repository) error {
		t, err := repo.GetTemplate(ctx, templateID)
		if err != nil {
			return fmt.Errorf("get template: %w", err)
		}
		if t.Status == core.StatusStopped {
			return &core.StateConflictError{TemplateID: t.ID, Status: t.Status, Op: log.OpSkip}
		}
		if !t.Schedule().Contains(day) || (t.EndDate != nil && day.After(*t.EndDate)) {
			return nil
		}

		existing, err := occurrenceAt(ctx, repo, t.ID, day)
		if err != nil {
			return err
		}
		if existing != nil {
			if err := repo.DeleteOccurrence(ctx, existing.ID); err != nil {
				return fmt.Errorf("delete occurrence: %w", err)
			}
		}
		if err := repo.InsertTombstone(ctx, core.Tombstone{
			TemplateID:   t.ID,
			ScheduledFor: day,
			Reason:       core.TombstoneSkipped,
			CreatedAt:    r.opts.Now(),
		}); err != nil {
			return fmt.Errorf("insert tombstone: %w", err)
		}
		skipped = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if !skipped {
		r.logger.DebugContext(ctx, "Date is not a slot of the series, nothing to skip",
			log.FieldTemplateID, templateID,
			log.FieldSlot, day.String())
		return false, nil
	}

	r.logger.InfoContext(ctx, "Skipped date", log.FieldTemplateID, templateID, log.FieldSlot, day.String())
	event := amqp.NewEvent(amqp.EventDateSkipped, templateID)
	event.Date = day.String()
	r.opts.publish(ctx, event)
	return true, nil
}

// StopFuture ends a series the day before cutoff: the end date is pulled in,
// occurrences after the boundary are deleted and the template is stopped.
// Occurrences up to the boundary are kept.
func (r *Resolver) StopFuture(ctx context.Context, templateID string, cutoff core.Day) (StopResult, error) {
	unlock := r.locks.Lock(templateID)
	defer unlock()

	var res StopResult
	err := r.store.InTx(ctx, func(repo storage.Repository) error {
		t, err := repo.GetTemplate(ctx, templateID)
		if err != nil {
			return fmt.Errorf("get template: %w", err)
		}
		res, err = r.stopFutureIn(ctx, repo, t, cutoff)
		return err
	})
	if err != nil {
		return StopResult{}, err
	}

	r.logger.InfoContext(ctx, "Stopped series",
		log.FieldTemplateID, templateID,
		log.FieldCutoff, cutoff.String(),
		log.FieldDeleted, res.Deleted)
	event := amqp.NewEvent(amqp.EventTemplateStopped, templateID)
	event.Date = cutoff.String()
	event.Count = res.Deleted
	r.opts.publish(ctx, event)
	return res, nil
}

func (r *Resolver) stopFutureIn(ctx context.Context, repo storage.Repository, t core.Template, cutoff core.Day) (StopResult, error) {
	boundary := cutoff.Prev()

	if t.EndDate == nil || boundary.Before(*t.EndDate) {
		// A cutoff on or before the anchor empties the series; the end date
		// cannot precede the anchor, so it is left as is.
		if !boundary.Before(t.AnchorDate) {
			end := boundary
			t.EndDate = &end
		}
	}
	if t.LastGeneratedThrough.After(boundary) {
		t.LastGeneratedThrough = boundary
	} else if cutoff.After(t.LastGeneratedThrough.Next()) {
		r.logger.DebugContext(ctx, "Cutoff beyond generated range, no occurrences to delete",
			log.FieldTemplateID, t.ID,
			log.FieldCutoff, cutoff.String(),
			log.FieldWatermark, t.LastGeneratedThrough.String())
	}

	deleted, err := repo.DeleteOccurrencesAfter(ctx, t.ID, boundary)
	if err != nil {
		return StopResult{}, fmt.Errorf("delete future occurrences: %w", err)
	}

	t.Status = core.StatusStopped
	t.UpdatedAt = r.opts.Now()
	if err := repo.UpdateTemplate(ctx, t); err != nil {
		return StopResult{}, fmt.Errorf("update template: %w", err)
	}
	return StopResult{Template: t, Deleted: deleted}, nil
}

// DeleteSeries removes a template with all its occurrences and tombstones.
func (r *Resolver) DeleteSeries(ctx context.Context, templateID string) (int, error) {
	unlock := r.locks.Lock(templateID)
	defer unlock()

	var deleted int
	err := r.store.InTx(ctx, func(repo storage.Repository) error {
		if _, err := repo.GetTemplate(ctx, templateID); err != nil {
			return fmt.Errorf("get template: %w", err)
		}
		var err error
		if deleted, err = repo.DeleteOccurrencesByTemplate(ctx, templateID); err != nil {
			return fmt.Errorf("delete occurrences: %w", err)
		}
		if err := repo.DeleteTombstones(ctx, templateID); err != nil {
			return fmt.Errorf("delete tombstones: %w", err)
		}
		if err := repo.DeleteTemplate(ctx, templateID); err != nil {
			return fmt.Errorf("delete template: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.logger.InfoContext(ctx, "Deleted series", log.FieldTemplateID, templateID, log.FieldDeleted, deleted)
	event := amqp.NewEvent(amqp.EventTemplateDeleted, templateID)
	event.Count = deleted
	r.opts.publish(ctx, event)
	return deleted, nil
}

// SplitAt truncates a series before cutoff and continues it with a successor
// template carrying the patched fields. cutoff is moved to the first slot on
// or after it. The occurrence at that slot, if generated, becomes the
// successor's first occurrence with edit applied on top. Both templates
// commit together, then the successor is generated up to the horizon.
func (r *Resolver) SplitAt(ctx context.Context, templateID string, cutoff core.Day, patch core.TemplatePatch, edit *core.OccurrencePatch) (SplitResult, error) {
	unlock := r.locks.Lock(templateID)
	defer unlock()

	var (
		res     SplitResult
		horizon core.Day
	)
	err := r.store.InTx(ctx, func(repo storage.Repository) error {
		res = SplitResult{}
		old, err := repo.GetTemplate(ctx, templateID)
		if err != nil {
			return fmt.Errorf("get template: %w", err)
		}
		res.Previous = old
		if old.Status == core.StatusStopped {
			return &core.StateConflictError{TemplateID: old.ID, Status: old.Status, Op: log.OpSplit}
		}
		if cutoff.Before(old.AnchorDate) {
			r.logger.DebugContext(ctx, "Cutoff before the start of the series, nothing to split",
				log.FieldTemplateID, old.ID,
				log.FieldCutoff, cutoff.String())
			return nil
		}

		slot, n := old.Schedule().FirstOnOrAfter(cutoff)
		if n < 0 || (old.EndDate != nil && slot.After(*old.EndDate)) {
			return nil
		}

		now := r.opts.Now()
		successor := patch.Apply(old)
		successor.ID = r.opts.NewID()
		successor.AnchorDate = slot
		successor.LastGeneratedThrough = slot.Prev()
		successor.ExecutionCount = 0
		successor.SplitFrom = &old.ID
		successor.CreatedAt = now
		successor.UpdatedAt = now
		successor.DayOfMonth = 0
		if successor.Interval == core.Monthly && old.Interval == core.Monthly {
			successor.DayOfMonth = old.DayOfMonth
			if successor.DayOfMonth == 0 {
				successor.DayOfMonth = old.AnchorDate.Day()
			}
		} else if successor.Interval == core.Monthly {
			successor.DayOfMonth = slot.Day()
		}
		if err := successor.Validate(); err != nil {
			return err
		}

		carried, err := occurrenceAt(ctx, repo, old.ID, slot)
		if err != nil {
			return err
		}
		tombstones, err := repo.ListTombstones(ctx, old.ID)
		if err != nil {
			return fmt.Errorf("list tombstones: %w", err)
		}

		stopped, err := r.stopFutureIn(ctx, repo, old, slot)
		if err != nil {
			return err
		}
		res.Previous = stopped.Template
		res.Deleted = stopped.Deleted

		if err := repo.InsertTemplate(ctx, successor); err != nil {
			return fmt.Errorf("insert successor: %w", err)
		}

		sched := successor.Schedule()
		for _, ts := range tombstones {
			if ts.ScheduledFor.Before(slot) || !sched.Contains(ts.ScheduledFor) {
				continue
			}
			ts.TemplateID = successor.ID
			if err := repo.InsertTombstone(ctx, ts); err != nil {
				return fmt.Errorf("carry tombstone: %w", err)
			}
		}

		if carried != nil {
			moved := core.NewOccurrence(carried.ID, successor, slot, carried.GeneratedAt)
			moved.Date = carried.Date
			if edit != nil {
				moved = edit.Apply(moved)
			}
			moved.UpdatedAt = now
			if err := moved.Validate(); err != nil {
				return err
			}
			if _, err := repo.InsertOccurrence(ctx, moved); err != nil {
				return fmt.Errorf("move occurrence to successor: %w", err)
			}
			successor.LastGeneratedThrough = slot
			successor.ExecutionCount = 1
			if err := repo.UpdateTemplate(ctx, successor); err != nil {
				return fmt.Errorf("update successor: %w", err)
			}
			res.Carried = &moved
		}

		res.Successor = successor
		if successor.Status != core.StatusActive {
			return nil
		}
		// Never materialize less than the old series already showed.
		horizon = core.MaxDay(r.opts.horizon(r.opts.today(), successor.Interval), core.MaxDay(old.LastGeneratedThrough, slot))
		gen, err := r.gen.generateIn(ctx, repo, successor, horizon)
		if err != nil {
			return err
		}
		res.Generation = gen
		res.Successor = gen.Template
		return nil
	})
	if err != nil {
		return SplitResult{}, err
	}

	if !res.Split() {
		r.logger.DebugContext(ctx, "Cutoff past the end of the series, nothing to split",
			log.FieldTemplateID, templateID,
			log.FieldCutoff, cutoff.String())
		return res, nil
	}

	r.logger.InfoContext(ctx, "Split series",
		log.FieldTemplateID, templateID,
		log.FieldSuccessorID, res.Successor.ID,
		log.FieldCutoff, res.Successor.AnchorDate.String(),
		log.FieldDeleted, res.Deleted)
	event := amqp.NewEvent(amqp.EventTemplateSplit, templateID)
	event.SuccessorID = res.Successor.ID
	event.Date = res.Successor.AnchorDate.String()
	r.opts.publish(ctx, event)
	if res.Generation.Walked > 0 {
		r.gen.report(ctx, res.Generation, horizon)
	}
	return res, nil
}

func (r *Resolver) publishOccurrenceDeleted(ctx context.Context, occ core.Occurrence) {
	var templateID string
	if occ.TemplateID != nil {
		templateID = *occ.TemplateID
	}
	event := amqp.NewEvent(amqp.EventOccurrenceDeleted, templateID)
	event.OccurrenceIDs = []string{occ.ID}
	event.Date = occ.ScheduledFor.String()
	r.opts.publish(ctx, event)
}

// occurrenceAt returns the occurrence generated for a slot, or nil.
func occurrenceAt(ctx context.Context, repo storage.Repository, templateID string, slot core.Day) (*core.Occurrence, error) {
	occs, err := repo.ListOccurrences(ctx, storage.OccurrenceFilter{TemplateID: templateID})
	if err != nil {
		return nil, fmt.Errorf("list occurrences: %w", err)
	}
	for i := range occs {
		if occs[i].ScheduledFor.Equal(slot) {
			return &occs[i], nil
		}
	}
	return nil, nil
}
