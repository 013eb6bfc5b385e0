package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"recurrent/internal/core"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// sqliteDSNOptions keeps writers from failing immediately while another
// connection holds the write lock.
const sqliteDSNOptions = "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	loc     *time.Location
}

// NewSQLiteRepository opens (creating if needed) the database at dbPath and
// applies pending migrations. Stored dates are interpreted in loc.
func NewSQLiteRepository(dbPath string, loc *time.Location) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}

	// Run migrations
	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+sqliteDSNOptions)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection serializes writers; the per-template locks in the
	// services layer keep contention low.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo := &SQLiteRepository{
		db:      db,
		queries: New(db),
		loc:     loc,
	}

	return repo, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// InTx implements Store. Nested calls reuse the outer transaction.
func (r *SQLiteRepository) InTx(ctx context.Context, fn func(Repository) error) (err error) {
	if _, nested := r.queries.db.(*sql.Tx); nested {
		return fn(r)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	txRepo := &SQLiteRepository{db: r.db, queries: r.queries.WithTx(tx), loc: r.loc}
	if err := fn(txRepo); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.ErrorContext(ctx, "Transaction rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetTemplate(ctx context.Context, id string) (core.Template, error) {
	row, err := r.queries.GetTemplate(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Template{}, fmt.Errorf("template %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Template{}, fmt.Errorf("get template: %w", err)
	}
	return r.toTemplate(row)
}

func (r *SQLiteRepository) ListTemplates(ctx context.Context, f TemplateFilter) ([]core.Template, error) {
	rows, err := r.queries.ListTemplates(ctx, ListTemplatesParams{
		Status: string(f.Status),
		Kind:   string(f.Kind),
	})
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	templates := make([]core.Template, 0, len(rows))
	for _, row := range rows {
		t, err := r.toTemplate(row)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, nil
}

func (r *SQLiteRepository) InsertTemplate(ctx context.Context, t core.Template) error {
	if err := r.queries.CreateTemplate(ctx, fromTemplate(t)); err != nil {
		return fmt.Errorf("create template: %w", err)
	}

	slog.DebugContext(ctx, "Template saved to SQLite",
		"template_id", t.ID,
		"interval", t.Interval,
		"anchor_date", t.AnchorDate.String())
	return nil
}

func (r *SQLiteRepository) UpdateTemplate(ctx context.Context, t core.Template) error {
	n, err := r.queries.UpdateTemplate(ctx, fromTemplate(t))
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("template %s: %w", t.ID, core.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) DeleteTemplate(ctx context.Context, id string) error {
	n, err := r.queries.DeleteTemplate(ctx, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("template %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) GetOccurrence(ctx context.Context, id string) (core.Occurrence, error) {
	row, err := r.queries.GetOccurrence(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Occurrence{}, fmt.Errorf("occurrence %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Occurrence{}, fmt.Errorf("get occurrence: %w", err)
	}
	return r.toOccurrence(row)
}

func (r *SQLiteRepository) OccurrenceExists(ctx context.Context, templateID string, slot core.Day) (bool, error) {
	exists, err := r.queries.OccurrenceExists(ctx, SlotParams{TemplateID: templateID, ScheduledFor: slot.String()})
	if err != nil {
		return false, fmt.Errorf("check occurrence: %w", err)
	}
	return exists == 1, nil
}

func (r *SQLiteRepository) ListOccurrences(ctx context.Context, f OccurrenceFilter) ([]core.Occurrence, error) {
	rows, err := r.queries.ListOccurrences(ctx, ListOccurrencesParams{
		TemplateID: f.TemplateID,
		Kind:       string(f.Kind),
		FromDate:   f.From.String(),
		ToDate:     f.Through.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("list occurrences: %w", err)
	}

	occurrences := make([]core.Occurrence, 0, len(rows))
	for _, row := range rows {
		o, err := r.toOccurrence(row)
		if err != nil {
			return nil, err
		}
		occurrences = append(occurrences, o)
	}
	return occurrences, nil
}

func (r *SQLiteRepository) InsertOccurrence(ctx context.Context, o core.Occurrence) (bool, error) {
	n, err := r.queries.CreateOccurrence(ctx, fromOccurrence(o))
	if err != nil {
		return false, fmt.Errorf("create occurrence: %w", err)
	}
	return n == 1, nil
}

func (r *SQLiteRepository) UpdateOccurrence(ctx context.Context, o core.Occurrence) error {
	n, err := r.queries.UpdateOccurrence(ctx, fromOccurrence(o))
	if err != nil {
		return fmt.Errorf("update occurrence: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("occurrence %s: %w", o.ID, core.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) DeleteOccurrence(ctx context.Context, id string) error {
	n, err := r.queries.DeleteOccurrence(ctx, id)
	if err != nil {
		return fmt.Errorf("delete occurrence: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("occurrence %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) DeleteOccurrencesAfter(ctx context.Context, templateID string, boundary core.Day) (int, error) {
	n, err := r.queries.DeleteOccurrencesAfter(ctx, SlotParams{TemplateID: templateID, ScheduledFor: boundary.String()})
	if err != nil {
		return 0, fmt.Errorf("delete occurrences after %s: %w", boundary, err)
	}
	return int(n), nil
}

func (r *SQLiteRepository) DeleteOccurrencesByTemplate(ctx context.Context, templateID string) (int, error) {
	n, err := r.queries.DeleteOccurrencesByTemplate(ctx, templateID)
	if err != nil {
		return 0, fmt.Errorf("delete occurrences by template: %w", err)
	}
	return int(n), nil
}

func (r *SQLiteRepository) HasTombstone(ctx context.Context, templateID string, slot core.Day) (bool, error) {
	exists, err := r.queries.TombstoneExists(ctx, SlotParams{TemplateID: templateID, ScheduledFor: slot.String()})
	if err != nil {
		return false, fmt.Errorf("check tombstone: %w", err)
	}
	return exists == 1, nil
}

func (r *SQLiteRepository) ListTombstones(ctx context.Context, templateID string) ([]core.Tombstone, error) {
	rows, err := r.queries.ListTombstones(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("list tombstones: %w", err)
	}

	out := make([]core.Tombstone, 0, len(rows))
	for _, row := range rows {
		slot, err := core.ParseDay(row.ScheduledFor, r.loc)
		if err != nil {
			return nil, err
		}
		out = append(out, core.Tombstone{
			TemplateID:   row.TemplateID,
			ScheduledFor: slot,
			Reason:       core.TombstoneReason(row.Reason),
			CreatedAt:    parseTimestamp(row.CreatedAt),
		})
	}
	return out, nil
}

func (r *SQLiteRepository) InsertTombstone(ctx context.Context, ts core.Tombstone) error {
	err := r.queries.CreateTombstone(ctx, OccurrenceTombstone{
		TemplateID:   ts.TemplateID,
		ScheduledFor: ts.ScheduledFor.String(),
		Reason:       string(ts.Reason),
		CreatedAt:    formatTimestamp(ts.CreatedAt),
	})
	if err != nil {
		return fmt.Errorf("create tombstone: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteTombstones(ctx context.Context, templateID string) error {
	if err := r.queries.DeleteTombstones(ctx, templateID); err != nil {
		return fmt.Errorf("delete tombstones: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) toTemplate(row RecurringTemplate) (core.Template, error) {
	amount, err := decimal.NewFromString(row.Amount)
	if err != nil {
		return core.Template{}, fmt.Errorf("template %s amount: %w", row.ID, err)
	}
	anchor, err := core.ParseDay(row.AnchorDate, r.loc)
	if err != nil {
		return core.Template{}, fmt.Errorf("template %s anchor: %w", row.ID, err)
	}
	watermark, err := core.ParseDay(row.LastGeneratedThrough, r.loc)
	if err != nil {
		return core.Template{}, fmt.Errorf("template %s watermark: %w", row.ID, err)
	}
	end, err := r.parseNullDay(row.EndDate)
	if err != nil {
		return core.Template{}, fmt.Errorf("template %s end date: %w", row.ID, err)
	}

	return core.Template{
		ID:                   row.ID,
		Kind:                 core.Kind(row.Kind),
		Amount:               amount,
		CategoryID:           nullString(row.CategoryID),
		Description:          row.Description,
		Notes:                row.Notes,
		Interval:             core.Interval(row.IntervalUnit),
		AnchorDate:           anchor,
		DayOfMonth:           int(row.DayOfMonth),
		EndDate:              end,
		Status:               core.Status(row.Status),
		LastGeneratedThrough: watermark,
		ExecutionCount:       int(row.ExecutionCount),
		SplitFrom:            nullString(row.SplitFrom),
		CreatedAt:            parseTimestamp(row.CreatedAt),
		UpdatedAt:            parseTimestamp(row.UpdatedAt),
	}, nil
}

func fromTemplate(t core.Template) RecurringTemplate {
	return RecurringTemplate{
		ID:                   t.ID,
		Kind:                 string(t.Kind),
		Amount:               t.Amount.String(),
		CategoryID:           toNullString(t.CategoryID),
		Description:          t.Description,
		Notes:                t.Notes,
		IntervalUnit:         string(t.Interval),
		AnchorDate:           t.AnchorDate.String(),
		DayOfMonth:           int64(t.DayOfMonth),
		EndDate:              toNullDay(t.EndDate),
		Status:               string(t.Status),
		LastGeneratedThrough: t.LastGeneratedThrough.String(),
		ExecutionCount:       int64(t.ExecutionCount),
		SplitFrom:            toNullString(t.SplitFrom),
		CreatedAt:            formatTimestamp(t.CreatedAt),
		UpdatedAt:            formatTimestamp(t.UpdatedAt),
	}
}

func (r *SQLiteRepository) toOccurrence(row TransactionOccurrence) (core.Occurrence, error) {
	amount, err := decimal.NewFromString(row.Amount)
	if err != nil {
		return core.Occurrence{}, fmt.Errorf("occurrence %s amount: %w", row.ID, err)
	}
	slot, err := core.ParseDay(row.ScheduledFor, r.loc)
	if err != nil {
		return core.Occurrence{}, fmt.Errorf("occurrence %s slot: %w", row.ID, err)
	}
	date, err := core.ParseDay(row.Date, r.loc)
	if err != nil {
		return core.Occurrence{}, fmt.Errorf("occurrence %s date: %w", row.ID, err)
	}

	return core.Occurrence{
		ID:           row.ID,
		TemplateID:   nullString(row.TemplateID),
		ScheduledFor: slot,
		Date:         date,
		Kind:         core.Kind(row.Kind),
		Amount:       amount,
		CategoryID:   nullString(row.CategoryID),
		Description:  row.Description,
		Notes:        row.Notes,
		GeneratedAt:  parseTimestamp(row.GeneratedAt),
		UpdatedAt:    parseTimestamp(row.UpdatedAt),
	}, nil
}

func fromOccurrence(o core.Occurrence) TransactionOccurrence {
	slot := o.ScheduledFor
	if slot.IsZero() {
		slot = o.Date
	}
	return TransactionOccurrence{
		ID:           o.ID,
		TemplateID:   toNullString(o.TemplateID),
		ScheduledFor: slot.String(),
		Date:         o.Date.String(),
		Kind:         string(o.Kind),
		Amount:       o.Amount.String(),
		CategoryID:   toNullString(o.CategoryID),
		Description:  o.Description,
		Notes:        o.Notes,
		GeneratedAt:  formatTimestamp(o.GeneratedAt),
		UpdatedAt:    formatTimestamp(o.UpdatedAt),
	}
}

func (r *SQLiteRepository) parseNullDay(ns sql.NullString) (*core.Day, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	d, err := core.ParseDay(ns.String, r.loc)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func toNullDay(d *core.Day) sql.NullString {
	if d == nil || d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
