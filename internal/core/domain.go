package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Income  Kind = "income"
	Expense Kind = "expense"

	StatusActive  Status = "active"
	StatusPaused  Status = "paused"
	StatusStopped Status = "stopped"

	TombstoneDeleted TombstoneReason = "deleted"
	TombstoneSkipped TombstoneReason = "skipped"

	// AnchorFirstOfMonth anchors monthly templates on the first day of the
	// transaction's month unless a custom start date is given.
	AnchorFirstOfMonth AnchorPolicy = "first_of_month"
	// AnchorTransactionDate anchors every template on the transaction date.
	AnchorTransactionDate AnchorPolicy = "transaction_date"

	maxDescriptionLen = 200
)

type (
	Kind            string
	Status          string
	TombstoneReason string
	AnchorPolicy    string

	// Template is a recurring rule. LastGeneratedThrough is the watermark: every
	// slot of the schedule up to it has been materialized or tombstoned.
	Template struct {
		ID                   string
		Kind                 Kind
		Amount               decimal.Decimal
		CategoryID           *string
		Description          string
		Notes                string
		Interval             Interval
		AnchorDate           Day
		DayOfMonth           int
		EndDate              *Day
		Status               Status
		LastGeneratedThrough Day
		ExecutionCount       int
		SplitFrom            *string
		CreatedAt            time.Time
		UpdatedAt            time.Time
	}

	// Occurrence is one dated transaction. Recurring occurrences snapshot the
	// template fields at generation time; TemplateID is nil for standalone ones.
	Occurrence struct {
		ID           string
		TemplateID   *string
		ScheduledFor Day
		Date         Day
		Kind         Kind
		Amount       decimal.Decimal
		CategoryID   *string
		Description  string
		Notes        string
		GeneratedAt  time.Time
		UpdatedAt    time.Time
	}

	// Tombstone marks a slot of a series that must never be generated again.
	Tombstone struct {
		TemplateID   string
		ScheduledFor Day
		Reason       TombstoneReason
		CreatedAt    time.Time
	}

	// TemplateDraft is the input for creating a template.
	TemplateDraft struct {
		Kind            Kind
		Amount          decimal.Decimal
		CategoryID      *string
		Description     string
		Notes           string
		Interval        Interval
		TransactionDate Day
		CustomStartDate *Day
		EndDate         *Day
	}

	// TemplatePatch holds the fields an edit may change. Nil fields are kept.
	TemplatePatch struct {
		Kind        *Kind
		Amount      *decimal.Decimal
		CategoryID  *string
		Description *string
		Notes       *string
		Interval    *Interval
		EndDate     *Day
		ClearEnd    bool
	}

	// OccurrencePatch holds the fields a single-occurrence edit may change.
	OccurrencePatch struct {
		Amount      *decimal.Decimal
		CategoryID  *string
		Description *string
		Notes       *string
		Date        *Day
	}
)

func (k Kind) Validate() error {
	switch k {
	case Income, Expense:
		return nil
	default:
		return &ValidationError{Field: "kind", Reason: ErrInvalidKind.Error(), Err: ErrInvalidKind}
	}
}

func (p AnchorPolicy) IsValid() bool {
	return p == AnchorFirstOfMonth || p == AnchorTransactionDate
}

// Anchor resolves the anchor date of a draft under the given policy.
func (d TemplateDraft) Anchor(policy AnchorPolicy) Day {
	if d.CustomStartDate != nil && !d.CustomStartDate.IsZero() {
		return *d.CustomStartDate
	}
	if d.Interval == Monthly && policy != AnchorTransactionDate {
		return d.TransactionDate.FirstOfMonth()
	}
	return d.TransactionDate
}

func (d TemplateDraft) Validate() error {
	if err := d.Kind.Validate(); err != nil {
		return err
	}
	if err := validateAmount(d.Amount); err != nil {
		return err
	}
	if err := d.Interval.Validate(); err != nil {
		return err
	}
	if err := validateDescription(d.Description); err != nil {
		return err
	}
	if d.TransactionDate.IsZero() && (d.CustomStartDate == nil || d.CustomStartDate.IsZero()) {
		return NewValidationError("date", "transaction date is required")
	}
	return nil
}

// Schedule returns the template's date sequence.
func (t Template) Schedule() Schedule {
	return Schedule{Anchor: t.AnchorDate, Interval: t.Interval, DayOfMonth: t.DayOfMonth}
}

// Limit returns the last day generation may reach for the given horizon.
func (t Template) Limit(horizon Day) Day {
	if t.EndDate != nil && t.EndDate.Before(horizon) {
		return *t.EndDate
	}
	return horizon
}

// NextRunDate returns the first schedule date after the watermark, or false
// when the series has ended.
func (t Template) NextRunDate() (Day, bool) {
	if t.Status == StatusStopped {
		return Day{}, false
	}
	next, _ := t.Schedule().FirstOnOrAfter(MaxDay(t.AnchorDate, t.LastGeneratedThrough.Next()))
	if next.IsZero() || (t.EndDate != nil && next.After(*t.EndDate)) {
		return Day{}, false
	}
	return next, true
}

func (t Template) Validate() error {
	if err := t.Kind.Validate(); err != nil {
		return err
	}
	if err := validateAmount(t.Amount); err != nil {
		return err
	}
	if err := t.Interval.Validate(); err != nil {
		return err
	}
	if err := validateDescription(t.Description); err != nil {
		return err
	}
	if t.AnchorDate.IsZero() {
		return NewValidationError("anchor_date", "anchor date is required")
	}
	if t.DayOfMonth < 0 || t.DayOfMonth > 31 {
		return NewValidationError("day_of_month", "day of month must be between 1 and 31")
	}
	if t.EndDate != nil && t.EndDate.Before(t.AnchorDate) {
		return &ValidationError{Field: "end_date", Reason: ErrEndBeforeAnchor.Error(), Err: ErrEndBeforeAnchor}
	}
	switch t.Status {
	case StatusActive, StatusPaused, StatusStopped:
	default:
		return NewValidationError("status", "unknown status "+string(t.Status))
	}
	return nil
}

// Apply returns a copy of t with the patch applied. Identity, lifecycle and
// watermark fields are never touched.
func (p TemplatePatch) Apply(t Template) Template {
	out := t
	if p.Kind != nil {
		out.Kind = *p.Kind
	}
	if p.Amount != nil {
		out.Amount = *p.Amount
	}
	if p.CategoryID != nil {
		out.CategoryID = normalizeCategory(p.CategoryID)
	}
	if p.Description != nil {
		out.Description = strings.TrimSpace(*p.Description)
	}
	if p.Notes != nil {
		out.Notes = strings.TrimSpace(*p.Notes)
	}
	if p.Interval != nil {
		out.Interval = *p.Interval
	}
	if p.ClearEnd {
		out.EndDate = nil
	}
	if p.EndDate != nil {
		end := *p.EndDate
		out.EndDate = &end
	}
	return out
}

// IsEmpty reports whether the patch changes nothing.
func (p TemplatePatch) IsEmpty() bool {
	return p.Kind == nil && p.Amount == nil && p.CategoryID == nil && p.Description == nil &&
		p.Notes == nil && p.Interval == nil && p.EndDate == nil && !p.ClearEnd
}

// Apply returns a copy of o with the patch applied. The slot is never changed.
func (p OccurrencePatch) Apply(o Occurrence) Occurrence {
	out := o
	if p.Amount != nil {
		out.Amount = *p.Amount
	}
	if p.CategoryID != nil {
		out.CategoryID = normalizeCategory(p.CategoryID)
	}
	if p.Description != nil {
		out.Description = strings.TrimSpace(*p.Description)
	}
	if p.Notes != nil {
		out.Notes = strings.TrimSpace(*p.Notes)
	}
	if p.Date != nil {
		out.Date = *p.Date
	}
	return out
}

// ToTemplatePatch converts the value fields of an occurrence edit into the
// equivalent template edit, used when an edit is applied to the future.
func (p OccurrencePatch) ToTemplatePatch() TemplatePatch {
	return TemplatePatch{
		Amount:      p.Amount,
		CategoryID:  p.CategoryID,
		Description: p.Description,
		Notes:       p.Notes,
	}
}

func (o Occurrence) Validate() error {
	if err := o.Kind.Validate(); err != nil {
		return err
	}
	if err := validateAmount(o.Amount); err != nil {
		return err
	}
	if err := validateDescription(o.Description); err != nil {
		return err
	}
	if o.Date.IsZero() {
		return NewValidationError("date", "date is required")
	}
	return nil
}

// IsRecurring reports whether the occurrence belongs to a template.
func (o Occurrence) IsRecurring() bool {
	return o.TemplateID != nil && *o.TemplateID != ""
}

// NewOccurrence snapshots t for the given slot.
func NewOccurrence(id string, t Template, slot Day, now time.Time) Occurrence {
	templateID := t.ID
	return Occurrence{
		ID:           id,
		TemplateID:   &templateID,
		ScheduledFor: slot,
		Date:         slot,
		Kind:         t.Kind,
		Amount:       t.Amount,
		CategoryID:   t.CategoryID,
		Description:  t.Description,
		Notes:        t.Notes,
		GeneratedAt:  now,
		UpdatedAt:    now,
	}
}

func validateAmount(a decimal.Decimal) error {
	if !a.IsPositive() {
		return &ValidationError{Field: "amount", Reason: ErrInvalidAmount.Error(), Err: ErrInvalidAmount}
	}
	return nil
}

func validateDescription(s string) error {
	if len(s) > maxDescriptionLen {
		return NewValidationError("description", "description too long (max 200 characters)")
	}
	return nil
}

func normalizeCategory(c *string) *string {
	if c == nil {
		return nil
	}
	v := strings.TrimSpace(*c)
	if v == "" {
		return nil
	}
	return &v
}
