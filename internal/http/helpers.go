package http

import (
	"time"

	"recurrent/internal/core"
	"recurrent/internal/services"

	"github.com/shopspring/decimal"
)

// Wire representations. Days are YYYY-MM-DD strings and amounts are decimal
// strings so no precision is lost in transit.

type templateJSON struct {
	ID                   string          `json:"id"`
	Kind                 core.Kind       `json:"kind"`
	Amount               decimal.Decimal `json:"amount"`
	CategoryID           *string         `json:"categoryId,omitempty"`
	Description          string          `json:"description"`
	Notes                string          `json:"notes,omitempty"`
	Interval             core.Interval   `json:"interval"`
	AnchorDate           string          `json:"anchorDate"`
	EndDate              *string         `json:"endDate,omitempty"`
	Status               core.Status     `json:"status"`
	LastGeneratedThrough string          `json:"lastGeneratedThrough"`
	ExecutionCount       int             `json:"executionCount"`
	SplitFrom            *string         `json:"splitFrom,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
}

type recurringJSON struct {
	templateJSON
	NextRunDate *string `json:"nextRunDate"`
	Stale       bool    `json:"stale"`
}

type occurrenceJSON struct {
	ID           string          `json:"id"`
	TemplateID   *string         `json:"templateId,omitempty"`
	ScheduledFor string          `json:"scheduledFor"`
	Date         string          `json:"date"`
	Kind         core.Kind       `json:"kind"`
	Amount       decimal.Decimal `json:"amount"`
	CategoryID   *string         `json:"categoryId,omitempty"`
	Description  string          `json:"description"`
	Notes        string          `json:"notes,omitempty"`
	IsRecurring  bool            `json:"isRecurring"`
	GeneratedAt  time.Time       `json:"generatedAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

type upcomingJSON struct {
	Date      string          `json:"date"`
	Amount    decimal.Decimal `json:"amount"`
	Estimated bool            `json:"estimated"`
}

type stopJSON struct {
	Template templateJSON `json:"template"`
	Deleted  int          `json:"deleted"`
}

type splitJSON struct {
	Split     bool             `json:"split"`
	Previous  templateJSON     `json:"previous"`
	Successor *templateJSON    `json:"successor,omitempty"`
	Carried   *occurrenceJSON  `json:"carried,omitempty"`
	Deleted   int              `json:"deleted"`
	Generated []occurrenceJSON `json:"generated"`
}

type runReportJSON struct {
	Today       string `json:"today"`
	Checked     int    `json:"checked"`
	Due         int    `json:"due"`
	Occurrences int    `json:"occurrences"`
	Failed      int    `json:"failed"`
	DurationMs  int64  `json:"durationMs"`
}

func toTemplateJSON(t core.Template) templateJSON {
	return templateJSON{
		ID:                   t.ID,
		Kind:                 t.Kind,
		Amount:               t.Amount,
		CategoryID:           t.CategoryID,
		Description:          t.Description,
		Notes:                t.Notes,
		Interval:             t.Interval,
		AnchorDate:           t.AnchorDate.String(),
		EndDate:              dayPtr(t.EndDate),
		Status:               t.Status,
		LastGeneratedThrough: t.LastGeneratedThrough.String(),
		ExecutionCount:       t.ExecutionCount,
		SplitFrom:            t.SplitFrom,
		CreatedAt:            t.CreatedAt,
		UpdatedAt:            t.UpdatedAt,
	}
}

func toRecurringJSON(v services.RecurringView) recurringJSON {
	out := recurringJSON{templateJSON: toTemplateJSON(v.Template), Stale: v.Stale}
	out.ExecutionCount = v.ExecutionCount
	out.NextRunDate = dayPtr(v.NextRunDate)
	return out
}

func toOccurrenceJSON(o core.Occurrence) occurrenceJSON {
	return occurrenceJSON{
		ID:           o.ID,
		TemplateID:   o.TemplateID,
		ScheduledFor: o.ScheduledFor.String(),
		Date:         o.Date.String(),
		Kind:         o.Kind,
		Amount:       o.Amount,
		CategoryID:   o.CategoryID,
		Description:  o.Description,
		Notes:        o.Notes,
		IsRecurring:  o.IsRecurring(),
		GeneratedAt:  o.GeneratedAt,
		UpdatedAt:    o.UpdatedAt,
	}
}

func toOccurrencesJSON(occs []core.Occurrence) []occurrenceJSON {
	out := make([]occurrenceJSON, 0, len(occs))
	for _, o := range occs {
		out = append(out, toOccurrenceJSON(o))
	}
	return out
}

func toStopJSON(r services.StopResult) stopJSON {
	return stopJSON{Template: toTemplateJSON(r.Template), Deleted: r.Deleted}
}

func toSplitJSON(r services.SplitResult) splitJSON {
	out := splitJSON{
		Split:     r.Split(),
		Previous:  toTemplateJSON(r.Previous),
		Deleted:   r.Deleted,
		Generated: toOccurrencesJSON(r.Generation.Created),
	}
	if r.Split() {
		succ := toTemplateJSON(r.Successor)
		out.Successor = &succ
	}
	if r.Carried != nil {
		c := toOccurrenceJSON(*r.Carried)
		out.Carried = &c
	}
	return out
}

func toRunReportJSON(r services.RunReport) runReportJSON {
	return runReportJSON{
		Today:       r.Today.String(),
		Checked:     r.Checked,
		Due:         r.Due,
		Occurrences: r.Occurrences,
		Failed:      r.Failed,
		DurationMs:  r.Duration.Milliseconds(),
	}
}

func dayPtr(d *core.Day) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}
