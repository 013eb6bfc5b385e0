package services

import (
	"context"
	"fmt"
	"strings"

	"recurrent/internal/amqp"
	"recurrent/internal/core"
	"recurrent/internal/log"
	"recurrent/internal/storage"

	"github.com/shopspring/decimal"
)

// Scope selects how much of a series an edit applies to.
type Scope string

const (
	ScopeSingle Scope = "single"
	ScopeFuture Scope = "future"
)

const maxPreviewCount = 60

// Upcoming is a projected, not yet generated, occurrence of a template.
type Upcoming struct {
	Date      core.Day
	Amount    decimal.Decimal
	Estimated bool
}

// TemplateService owns the lifecycle of recurring templates:
// active <-> paused, and active|paused -> stopped, which is terminal.
type TemplateService struct {
	store    storage.Store
	locks    *KeyedMutex
	gen      *Generator
	resolver *Resolver
	opts     Options
	logger   *log.Logger
}

func NewTemplateService(store storage.Store, locks *KeyedMutex, gen *Generator, resolver *Resolver, opts Options) *TemplateService {
	opts = opts.withDefaults()
	return &TemplateService{
		store:    store,
		locks:    locks,
		gen:      gen,
		resolver: resolver,
		opts:     opts,
		logger:   opts.Logger.WithComponent(log.ComponentTemplate),
	}
}

// Create validates and stores a new active template, then generates its
// occurrences up to the horizon, or at least through the anchor, in the same
// transaction.
func (s *TemplateService) Create(ctx context.Context, draft core.TemplateDraft) (core.Template, []core.Occurrence, error) {
	if err := draft.Validate(); err != nil {
		return core.Template{}, nil, err
	}

	anchor := draft.Anchor(s.opts.AnchorPolicy)
	now := s.opts.Now()
	t := core.Template{
		ID:                   s.opts.NewID(),
		Kind:                 draft.Kind,
		Amount:               draft.Amount,
		CategoryID:           draft.CategoryID,
		Description:          strings.TrimSpace(draft.Description),
		Notes:                strings.TrimSpace(draft.Notes),
		Interval:             draft.Interval,
		AnchorDate:           anchor,
		EndDate:              draft.EndDate,
		Status:               core.StatusActive,
		LastGeneratedThrough: anchor.Prev(),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if t.Interval == core.Monthly {
		t.DayOfMonth = anchor.Day()
	}
	if t.CategoryID != nil && strings.TrimSpace(*t.CategoryID) == "" {
		t.CategoryID = nil
	}
	if err := t.Validate(); err != nil {
		return core.Template{}, nil, err
	}

	unlock := s.locks.Lock(t.ID)
	defer unlock()

	horizon := core.MaxDay(s.opts.horizon(s.opts.today(), t.Interval), anchor)
	var res GenerateResult
	err := s.store.InTx(ctx, func(repo storage.Repository) error {
		if err := repo.InsertTemplate(ctx, t); err != nil {
			return fmt.Errorf("insert template: %w", err)
		}
		var err error
		res, err = s.gen.generateIn(ctx, repo, t, horizon)
		return err
	})
	if err != nil {
		return core.Template{}, nil, fmt.Errorf("create template: %w", err)
	}

	s.logger.InfoContext(ctx, "Created template",
		log.NewFields().WithOperation(log.OpCreate).WithTemplate(res.Template).ToSlice()...)
	s.opts.publish(ctx, amqp.NewEvent(amqp.EventTemplateCreated, t.ID))
	s.gen.report(ctx, res, horizon)
	return res.Template, res.Created, nil
}

// Pause suspends generation. Pausing a paused template is a no-op.
func (s *TemplateService) Pause(ctx context.Context, id string) (core.Template, error) {
	t, changed, err := s.transition(ctx, id, log.OpPause, func(t *core.Template) (bool, error) {
		switch t.Status {
		case core.StatusActive:
			t.Status = core.StatusPaused
			return true, nil
		case core.StatusPaused:
			return false, nil
		default:
			return false, &core.StateConflictError{TemplateID: t.ID, Status: t.Status, Op: log.OpPause}
		}
	}, nil)
	if err != nil {
		return core.Template{}, err
	}
	if changed {
		s.logger.InfoContext(ctx, "Paused template", log.FieldTemplateID, id)
		s.opts.publish(ctx, amqp.NewEvent(amqp.EventTemplatePaused, id))
	}
	return t, nil
}

// Resume reactivates a paused template. Generation restarts from today: the
// paused span is not backfilled. Resuming an active template is a no-op.
func (s *TemplateService) Resume(ctx context.Context, id string) (core.Template, []core.Occurrence, error) {
	today := s.opts.today()
	var (
		res     GenerateResult
		horizon core.Day
	)
	t, changed, err := s.transition(ctx, id, log.OpResume, func(t *core.Template) (bool, error) {
		switch t.Status {
		case core.StatusPaused:
			t.Status = core.StatusActive
			t.LastGeneratedThrough = core.MaxDay(t.LastGeneratedThrough, today.Prev())
			if t.EndDate != nil && t.LastGeneratedThrough.After(*t.EndDate) {
				t.LastGeneratedThrough = *t.EndDate
			}
			return true, nil
		case core.StatusActive:
			return false, nil
		default:
			return false, &core.StateConflictError{TemplateID: t.ID, Status: t.Status, Op: log.OpResume}
		}
	}, func(repo storage.Repository, t core.Template) (core.Template, error) {
		horizon = s.opts.horizon(today, t.Interval)
		var err error
		res, err = s.gen.generateIn(ctx, repo, t, horizon)
		return res.Template, err
	})
	if err != nil {
		return core.Template{}, nil, err
	}
	if changed {
		s.logger.InfoContext(ctx, "Resumed template",
			log.FieldTemplateID, id,
			log.FieldWatermark, t.LastGeneratedThrough.String())
		s.opts.publish(ctx, amqp.NewEvent(amqp.EventTemplateResumed, id))
		s.gen.report(ctx, res, horizon)
	}
	return t, res.Created, nil
}

// transition applies a status change under the template lock. after runs in
// the same transaction once the change is stored, only when it changed.
func (s *TemplateService) transition(
	ctx context.Context,
	id, op string,
	change func(*core.Template) (bool, error),
	after func(storage.Repository, core.Template) (core.Template, error),
) (core.Template, bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	var (
		t       core.Template
		changed bool
	)
	err := s.store.InTx(ctx, func(repo storage.Repository) error {
		var err error
		t, err = repo.GetTemplate(ctx, id)
		if err != nil {
			return fmt.Errorf("get template: %w", err)
		}
		if changed, err = change(&t); err != nil || !changed {
			return err
		}
		t.UpdatedAt = s.opts.Now()
		if err := repo.UpdateTemplate(ctx, t); err != nil {
			return fmt.Errorf("%s template: %w", op, err)
		}
		if after != nil {
			t, err = after(repo, t)
		}
		return err
	})
	if err != nil {
		return core.Template{}, false, err
	}
	return t, changed, nil
}

// Stop ends the series the day before from. A zero from stops it today.
func (s *TemplateService) Stop(ctx context.Context, id string, from core.Day) (StopResult, error) {
	if from.IsZero() {
		from = s.opts.today()
	}
	return s.resolver.StopFuture(ctx, id, from)
}

// Edit changes the fields of a template. Only ScopeFuture is accepted: the
// series is split at its next ungenerated date so history keeps old values.
// Single edits address occurrences, not templates.
func (s *TemplateService) Edit(ctx context.Context, id string, patch core.TemplatePatch, scope Scope) (SplitResult, error) {
	if scope != ScopeFuture {
		return SplitResult{}, core.NewValidationError("scope", fmt.Sprintf("template edits require scope %q", ScopeFuture))
	}
	if patch.IsEmpty() {
		return SplitResult{}, core.NewValidationError("patch", "nothing to change")
	}

	t, err := s.Get(ctx, id)
	if err != nil {
		return SplitResult{}, err
	}
	if t.Status == core.StatusStopped {
		return SplitResult{Previous: t}, &core.StateConflictError{TemplateID: t.ID, Status: t.Status, Op: log.OpSplit}
	}
	next, ok := t.NextRunDate()
	if !ok {
		return SplitResult{Previous: t}, nil
	}
	return s.resolver.SplitAt(ctx, id, next, patch, nil)
}

func (s *TemplateService) Get(ctx context.Context, id string) (core.Template, error) {
	t, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return core.Template{}, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

func (s *TemplateService) List(ctx context.Context, filter storage.TemplateFilter) ([]core.Template, error) {
	templates, err := s.store.ListTemplates(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return templates, nil
}

// Preview projects the next count dates of an active template after its
// watermark, skipping tombstoned slots and stopping at the end date.
func (s *TemplateService) Preview(ctx context.Context, id string, count int) ([]Upcoming, error) {
	if count < 1 || count > maxPreviewCount {
		return nil, core.NewValidationError("count", fmt.Sprintf("count must be between 1 and %d", maxPreviewCount))
	}
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != core.StatusActive {
		return []Upcoming{}, nil
	}

	tombstones, err := s.store.ListTombstones(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list tombstones: %w", err)
	}
	skip := make(map[string]bool, len(tombstones))
	for _, ts := range tombstones {
		skip[ts.ScheduledFor.String()] = true
	}

	sched := t.Schedule()
	slot, n := sched.FirstOnOrAfter(core.MaxDay(t.AnchorDate, t.LastGeneratedThrough.Next()))
	out := make([]Upcoming, 0, count)
	for n >= 0 && len(out) < count {
		if t.EndDate != nil && slot.After(*t.EndDate) {
			break
		}
		if !skip[slot.String()] {
			out = append(out, Upcoming{Date: slot, Amount: t.Amount, Estimated: true})
		}
		n++
		slot = sched.Nth(n)
	}
	return out, nil
}
