package storage

import (
	"context"
)

const templateColumns = `id, kind, amount, category_id, description, notes, interval_unit, anchor_date,
    day_of_month, end_date, status, last_generated_through, execution_count, split_from, created_at, updated_at`

const occurrenceColumns = `id, template_id, scheduled_for, date, kind, amount, category_id, description, notes,
    generated_at, updated_at`

const createTemplate = `-- name: CreateTemplate :exec
INSERT INTO recurring_templates (` + templateColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

func (q *Queries) CreateTemplate(ctx context.Context, arg RecurringTemplate) error {
	_, err := q.db.ExecContext(ctx, createTemplate,
		arg.ID,
		arg.Kind,
		arg.Amount,
		arg.CategoryID,
		arg.Description,
		arg.Notes,
		arg.IntervalUnit,
		arg.AnchorDate,
		arg.DayOfMonth,
		arg.EndDate,
		arg.Status,
		arg.LastGeneratedThrough,
		arg.ExecutionCount,
		arg.SplitFrom,
		arg.CreatedAt,
		arg.UpdatedAt,
	)
	return err
}

const getTemplate = `-- name: GetTemplate :one
SELECT ` + templateColumns + `
FROM recurring_templates
WHERE id = ?
`

func (q *Queries) GetTemplate(ctx context.Context, id string) (RecurringTemplate, error) {
	row := q.db.QueryRowContext(ctx, getTemplate, id)
	return scanTemplate(row)
}

const listTemplates = `-- name: ListTemplates :many
SELECT ` + templateColumns + `
FROM recurring_templates
WHERE (?1 = '' OR status = ?1)
  AND (?2 = '' OR kind = ?2)
ORDER BY created_at, id
`

type ListTemplatesParams struct {
	Status string
	Kind   string
}

func (q *Queries) ListTemplates(ctx context.Context, arg ListTemplatesParams) ([]RecurringTemplate, error) {
	rows, err := q.db.QueryContext(ctx, listTemplates, arg.Status, arg.Kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []RecurringTemplate
	for rows.Next() {
		i, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const updateTemplate = `-- name: UpdateTemplate :execrows
UPDATE recurring_templates
SET kind = ?,
    amount = ?,
    category_id = ?,
    description = ?,
    notes = ?,
    interval_unit = ?,
    anchor_date = ?,
    day_of_month = ?,
    end_date = ?,
    status = ?,
    last_generated_through = ?,
    execution_count = ?,
    split_from = ?,
    updated_at = ?
WHERE id = ?
`

func (q *Queries) UpdateTemplate(ctx context.Context, arg RecurringTemplate) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateTemplate,
		arg.Kind,
		arg.Amount,
		arg.CategoryID,
		arg.Description,
		arg.Notes,
		arg.IntervalUnit,
		arg.AnchorDate,
		arg.DayOfMonth,
		arg.EndDate,
		arg.Status,
		arg.LastGeneratedThrough,
		arg.ExecutionCount,
		arg.SplitFrom,
		arg.UpdatedAt,
		arg.ID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteTemplate = `-- name: DeleteTemplate :execrows
DELETE FROM recurring_templates
WHERE id = ?
`

func (q *Queries) DeleteTemplate(ctx context.Context, id string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteTemplate, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const createOccurrence = `-- name: CreateOccurrence :execrows
INSERT INTO transaction_occurrences (` + occurrenceColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (template_id, scheduled_for) DO NOTHING
`

func (q *Queries) CreateOccurrence(ctx context.Context, arg TransactionOccurrence) (int64, error) {
	result, err := q.db.ExecContext(ctx, createOccurrence,
		arg.ID,
		arg.TemplateID,
		arg.ScheduledFor,
		arg.Date,
		arg.Kind,
		arg.Amount,
		arg.CategoryID,
		arg.Description,
		arg.Notes,
		arg.GeneratedAt,
		arg.UpdatedAt,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const getOccurrence = `-- name: GetOccurrence :one
SELECT ` + occurrenceColumns + `
FROM transaction_occurrences
WHERE id = ?
`

func (q *Queries) GetOccurrence(ctx context.Context, id string) (TransactionOccurrence, error) {
	row := q.db.QueryRowContext(ctx, getOccurrence, id)
	return scanOccurrence(row)
}

const occurrenceExists = `-- name: OccurrenceExists :one
SELECT EXISTS (
    SELECT 1 FROM transaction_occurrences
    WHERE template_id = ? AND scheduled_for = ?
)
`

type SlotParams struct {
	TemplateID   string
	ScheduledFor string
}

func (q *Queries) OccurrenceExists(ctx context.Context, arg SlotParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, occurrenceExists, arg.TemplateID, arg.ScheduledFor)
	var exists int64
	err := row.Scan(&exists)
	return exists, err
}

const listOccurrences = `-- name: ListOccurrences :many
SELECT ` + occurrenceColumns + `
FROM transaction_occurrences
WHERE (?1 = '' OR template_id = ?1)
  AND (?2 = '' OR kind = ?2)
  AND (?3 = '' OR date >= ?3)
  AND (?4 = '' OR date <= ?4)
ORDER BY date, scheduled_for, id
`

type ListOccurrencesParams struct {
	TemplateID string
	Kind       string
	FromDate   string
	ToDate     string
}

func (q *Queries) ListOccurrences(ctx context.Context, arg ListOccurrencesParams) ([]TransactionOccurrence, error) {
	rows, err := q.db.QueryContext(ctx, listOccurrences,
		arg.TemplateID,
		arg.Kind,
		arg.FromDate,
		arg.ToDate,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []TransactionOccurrence
	for rows.Next() {
		i, err := scanOccurrence(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const updateOccurrence = `-- name: UpdateOccurrence :execrows
UPDATE transaction_occurrences
SET date = ?,
    kind = ?,
    amount = ?,
    category_id = ?,
    description = ?,
    notes = ?,
    updated_at = ?
WHERE id = ?
`

func (q *Queries) UpdateOccurrence(ctx context.Context, arg TransactionOccurrence) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateOccurrence,
		arg.Date,
		arg.Kind,
		arg.Amount,
		arg.CategoryID,
		arg.Description,
		arg.Notes,
		arg.UpdatedAt,
		arg.ID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteOccurrence = `-- name: DeleteOccurrence :execrows
DELETE FROM transaction_occurrences
WHERE id = ?
`

func (q *Queries) DeleteOccurrence(ctx context.Context, id string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteOccurrence, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteOccurrencesAfter = `-- name: DeleteOccurrencesAfter :execrows
DELETE FROM transaction_occurrences
WHERE template_id = ? AND scheduled_for > ?
`

func (q *Queries) DeleteOccurrencesAfter(ctx context.Context, arg SlotParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteOccurrencesAfter, arg.TemplateID, arg.ScheduledFor)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteOccurrencesByTemplate = `-- name: DeleteOccurrencesByTemplate :execrows
DELETE FROM transaction_occurrences
WHERE template_id = ?
`

func (q *Queries) DeleteOccurrencesByTemplate(ctx context.Context, templateID string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteOccurrencesByTemplate, templateID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const createTombstone = `-- name: CreateTombstone :exec
INSERT INTO occurrence_tombstones (template_id, scheduled_for, reason, created_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (template_id, scheduled_for) DO NOTHING
`

func (q *Queries) CreateTombstone(ctx context.Context, arg OccurrenceTombstone) error {
	_, err := q.db.ExecContext(ctx, createTombstone,
		arg.TemplateID,
		arg.ScheduledFor,
		arg.Reason,
		arg.CreatedAt,
	)
	return err
}

const tombstoneExists = `-- name: TombstoneExists :one
SELECT EXISTS (
    SELECT 1 FROM occurrence_tombstones
    WHERE template_id = ? AND scheduled_for = ?
)
`

func (q *Queries) TombstoneExists(ctx context.Context, arg SlotParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, tombstoneExists, arg.TemplateID, arg.ScheduledFor)
	var exists int64
	err := row.Scan(&exists)
	return exists, err
}

const listTombstones = `-- name: ListTombstones :many
SELECT template_id, scheduled_for, reason, created_at
FROM occurrence_tombstones
WHERE template_id = ?
ORDER BY scheduled_for
`

func (q *Queries) ListTombstones(ctx context.Context, templateID string) ([]OccurrenceTombstone, error) {
	rows, err := q.db.QueryContext(ctx, listTombstones, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OccurrenceTombstone
	for rows.Next() {
		var i OccurrenceTombstone
		if err := rows.Scan(
			&i.TemplateID,
			&i.ScheduledFor,
			&i.Reason,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteTombstones = `-- name: DeleteTombstones :exec
DELETE FROM occurrence_tombstones
WHERE template_id = ?
`

func (q *Queries) DeleteTombstones(ctx context.Context, templateID string) error {
	_, err := q.db.ExecContext(ctx, deleteTombstones, templateID)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTemplate(row rowScanner) (RecurringTemplate, error) {
	var i RecurringTemplate
	err := row.Scan(
		&i.ID,
		&i.Kind,
		&i.Amount,
		&i.CategoryID,
		&i.Description,
		&i.Notes,
		&i.IntervalUnit,
		&i.AnchorDate,
		&i.DayOfMonth,
		&i.EndDate,
		&i.Status,
		&i.LastGeneratedThrough,
		&i.ExecutionCount,
		&i.SplitFrom,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

func scanOccurrence(row rowScanner) (TransactionOccurrence, error) {
	var i TransactionOccurrence
	err := row.Scan(
		&i.ID,
		&i.TemplateID,
		&i.ScheduledFor,
		&i.Date,
		&i.Kind,
		&i.Amount,
		&i.CategoryID,
		&i.Description,
		&i.Notes,
		&i.GeneratedAt,
		&i.UpdatedAt,
	)
	return i, err
}
