package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"recurrent/internal/amqp"
	"recurrent/internal/cache"
	"recurrent/internal/core"
	"recurrent/internal/log"
	"recurrent/internal/storage"

	"github.com/shopspring/decimal"
)

// TransactionPayload is a transaction as submitted by a client. When
// IsRecurring is set it declares a template; otherwise a one-off transaction.
type TransactionPayload struct {
	Amount          decimal.Decimal
	CategoryID      *string
	Description     string
	Notes           string
	Date            core.Day
	IsRecurring     bool
	Interval        core.Interval
	CustomStartDate *core.Day
	EndDate         *core.Day
}

// CreateResult holds either a standalone occurrence or a new template with the
// occurrences generated for it.
type CreateResult struct {
	Occurrence  *core.Occurrence
	Template    *core.Template
	Occurrences []core.Occurrence
}

type UpdateResult struct {
	Occurrence core.Occurrence
	Split      *SplitResult
}

type DeleteResult struct {
	Occurrence core.Occurrence
	Stopped    *StopResult
}

// RecurringView is the read projection of a template.
type RecurringView struct {
	Template       core.Template
	NextRunDate    *core.Day
	ExecutionCount int
	// Stale is set when an active template's next run date is older than the
	// staleness threshold, meaning generation has been failing.
	Stale bool
}

// TransactionService is the entry point for transaction management. It routes
// recurring work to the template service and resolver.
type TransactionService struct {
	store      storage.Store
	templates  *TemplateService
	resolver   *Resolver
	projection cache.Cache[[]RecurringView]
	opts       Options
	logger     *log.Logger
}

func NewTransactionService(store storage.Store, templates *TemplateService, resolver *Resolver, projection cache.Cache[[]RecurringView], opts Options) *TransactionService {
	opts = opts.withDefaults()
	return &TransactionService{
		store:      store,
		templates:  templates,
		resolver:   resolver,
		projection: projection,
		opts:       opts,
		logger:     opts.Logger.WithComponent(log.ComponentTemplate),
	}
}

func (s *TransactionService) CreateTransaction(ctx context.Context, kind core.Kind, p TransactionPayload) (CreateResult, error) {
	if p.IsRecurring {
		t, occs, err := s.templates.Create(ctx, core.TemplateDraft{
			Kind:            kind,
			Amount:          p.Amount,
			CategoryID:      p.CategoryID,
			Description:     p.Description,
			Notes:           p.Notes,
			Interval:        p.Interval,
			TransactionDate: p.Date,
			CustomStartDate: p.CustomStartDate,
			EndDate:         p.EndDate,
		})
		if err != nil {
			return CreateResult{}, err
		}
		return CreateResult{Template: &t, Occurrences: occs}, nil
	}

	now := s.opts.Now()
	occ := core.Occurrence{
		ID:           s.opts.NewID(),
		ScheduledFor: p.Date,
		Date:         p.Date,
		Kind:         kind,
		Amount:       p.Amount,
		CategoryID:   p.CategoryID,
		Description:  strings.TrimSpace(p.Description),
		Notes:        strings.TrimSpace(p.Notes),
		GeneratedAt:  now,
		UpdatedAt:    now,
	}
	if err := occ.Validate(); err != nil {
		return CreateResult{}, err
	}
	if _, err := s.store.InsertOccurrence(ctx, occ); err != nil {
		return CreateResult{}, fmt.Errorf("save transaction: %w", err)
	}

	s.logger.InfoContext(ctx, "Created transaction",
		log.NewFields().WithOperation(log.OpCreate).WithOccurrence(occ).ToSlice()...)
	return CreateResult{Occurrence: &occ}, nil
}

// UpdateTransaction edits one occurrence. With applyToFuture the series is
// split at the occurrence's slot: it keeps the edit and becomes the first
// occurrence of the successor template.
func (s *TransactionService) UpdateTransaction(ctx context.Context, kind core.Kind, id string, patch core.OccurrencePatch, applyToFuture bool) (UpdateResult, error) {
	occ, err := s.occurrence(ctx, kind, id)
	if err != nil {
		return UpdateResult{}, err
	}

	if applyToFuture && occ.IsRecurring() {
		split, err := s.resolver.SplitAt(ctx, *occ.TemplateID, occ.ScheduledFor, patch.ToTemplatePatch(), &patch)
		if err != nil {
			return UpdateResult{}, err
		}
		res := UpdateResult{Occurrence: occ, Split: &split}
		if split.Carried != nil {
			res.Occurrence = *split.Carried
		}
		return res, nil
	}

	if occ.IsRecurring() {
		unlock := s.resolver.locks.Lock(*occ.TemplateID)
		defer unlock()
		// Re-read under the lock.
		if occ, err = s.occurrence(ctx, kind, id); err != nil {
			return UpdateResult{}, err
		}
	}

	updated := patch.Apply(occ)
	updated.UpdatedAt = s.opts.Now()
	if err := updated.Validate(); err != nil {
		return UpdateResult{}, err
	}
	if err := s.store.UpdateOccurrence(ctx, updated); err != nil {
		return UpdateResult{}, fmt.Errorf("update transaction: %w", err)
	}

	s.logger.InfoContext(ctx, "Updated transaction",
		log.NewFields().WithOperation(log.OpUpdate).WithOccurrence(updated).ToSlice()...)
	if updated.IsRecurring() {
		event := amqp.NewEvent(amqp.EventOccurrenceUpdated, *updated.TemplateID)
		event.OccurrenceIDs = []string{updated.ID}
		s.opts.publish(ctx, event)
	}
	return UpdateResult{Occurrence: updated}, nil
}

// DeleteTransaction deletes one occurrence, or with deleteFuture stops its
// series from the occurrence's slot on.
func (s *TransactionService) DeleteTransaction(ctx context.Context, kind core.Kind, id string, deleteFuture bool) (DeleteResult, error) {
	occ, err := s.occurrence(ctx, kind, id)
	if err != nil {
		return DeleteResult{}, err
	}

	if deleteFuture && occ.IsRecurring() {
		stopped, err := s.resolver.StopFuture(ctx, *occ.TemplateID, occ.ScheduledFor)
		if err != nil {
			return DeleteResult{}, err
		}
		return DeleteResult{Occurrence: occ, Stopped: &stopped}, nil
	}

	deleted, err := s.resolver.DeleteOccurrence(ctx, occ.ID)
	if err != nil {
		return DeleteResult{}, err
	}
	return DeleteResult{Occurrence: deleted}, nil
}

// GetRecurringTransactions lists templates with their computed fields. Results
// are cached per filter and day until the next write.
func (s *TransactionService) GetRecurringTransactions(ctx context.Context, filter storage.TemplateFilter) ([]RecurringView, error) {
	today := s.opts.today()
	key := fmt.Sprintf("%s|%s|%s", today, filter.Status, filter.Kind)
	if s.projection != nil {
		if views, ok := s.projection.Get(key); ok {
			return views, nil
		}
	}

	templates, err := s.templates.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	staleBefore := s.staleBefore()
	views := make([]RecurringView, 0, len(templates))
	for _, t := range templates {
		views = append(views, project(t, staleBefore, s.opts.StaleAfter))
	}

	if s.projection != nil {
		s.projection.Set(key, views)
	}
	return views, nil
}

// GetRecurringTransaction returns the projection of one template, bypassing
// the cache.
func (s *TransactionService) GetRecurringTransaction(ctx context.Context, id string) (RecurringView, error) {
	t, err := s.templates.Get(ctx, id)
	if err != nil {
		return RecurringView{}, err
	}
	return project(t, s.staleBefore(), s.opts.StaleAfter), nil
}

func (s *TransactionService) staleBefore() core.Day {
	return core.NormalizeIn(s.opts.Now().Add(-s.opts.StaleAfter), s.opts.Location)
}

func project(t core.Template, staleBefore core.Day, staleAfter time.Duration) RecurringView {
	v := RecurringView{Template: t, ExecutionCount: t.ExecutionCount}
	if next, ok := t.NextRunDate(); ok {
		v.NextRunDate = &next
		v.Stale = staleAfter > 0 && t.Status == core.StatusActive && next.Before(staleBefore)
	}
	return v
}

func (s *TransactionService) ListOccurrences(ctx context.Context, filter storage.OccurrenceFilter) ([]core.Occurrence, error) {
	occs, err := s.store.ListOccurrences(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return occs, nil
}

// Invalidate drops every cached projection.
func (s *TransactionService) Invalidate() {
	if s.projection != nil {
		s.projection.Purge()
	}
}

func (s *TransactionService) occurrence(ctx context.Context, kind core.Kind, id string) (core.Occurrence, error) {
	occ, err := s.store.GetOccurrence(ctx, id)
	if err != nil {
		return core.Occurrence{}, fmt.Errorf("get transaction: %w", err)
	}
	if kind != "" && occ.Kind != kind {
		return core.Occurrence{}, fmt.Errorf("get transaction: %s %s: %w", kind, id, core.ErrNotFound)
	}
	return occ, nil
}
