package storage

import (
	"context"

	"recurrent/internal/core"
)

// Ports implemented by the SQLite repository and the in-memory store.
type (
	// TemplateFilter selects templates. Zero fields match everything.
	TemplateFilter struct {
		Status core.Status
		Kind   core.Kind
	}

	// OccurrenceFilter selects occurrences by template and effective date.
	// A zero From or Through leaves that side of the range open.
	OccurrenceFilter struct {
		TemplateID string
		Kind       core.Kind
		From       core.Day
		Through    core.Day
	}

	TemplateRepository interface {
		GetTemplate(ctx context.Context, id string) (core.Template, error)
		ListTemplates(ctx context.Context, f TemplateFilter) ([]core.Template, error)
		InsertTemplate(ctx context.Context, t core.Template) error
		UpdateTemplate(ctx context.Context, t core.Template) error
		DeleteTemplate(ctx context.Context, id string) error
	}

	OccurrenceRepository interface {
		GetOccurrence(ctx context.Context, id string) (core.Occurrence, error)
		// OccurrenceExists reports whether the slot of a template is materialized.
		OccurrenceExists(ctx context.Context, templateID string, slot core.Day) (bool, error)
		ListOccurrences(ctx context.Context, f OccurrenceFilter) ([]core.Occurrence, error)
		// InsertOccurrence returns false without error when the template slot
		// already holds a row.
		InsertOccurrence(ctx context.Context, o core.Occurrence) (bool, error)
		UpdateOccurrence(ctx context.Context, o core.Occurrence) error
		DeleteOccurrence(ctx context.Context, id string) error
		// DeleteOccurrencesAfter removes rows of a template whose slot is after boundary.
		DeleteOccurrencesAfter(ctx context.Context, templateID string, boundary core.Day) (int, error)
		DeleteOccurrencesByTemplate(ctx context.Context, templateID string) (int, error)
	}

	TombstoneRepository interface {
		HasTombstone(ctx context.Context, templateID string, slot core.Day) (bool, error)
		ListTombstones(ctx context.Context, templateID string) ([]core.Tombstone, error)
		// InsertTombstone is idempotent on (template, slot).
		InsertTombstone(ctx context.Context, ts core.Tombstone) error
		DeleteTombstones(ctx context.Context, templateID string) error
	}

	// Repository is the full set of reads and writes the engine performs.
	Repository interface {
		TemplateRepository
		OccurrenceRepository
		TombstoneRepository
	}

	// Store is a Repository that can run a group of writes atomically.
	Store interface {
		Repository
		// InTx runs fn against a transactional view. Writes become visible
		// only if fn returns nil.
		InTx(ctx context.Context, fn func(Repository) error) error
		Ping(ctx context.Context) error
		Close() error
	}
)
