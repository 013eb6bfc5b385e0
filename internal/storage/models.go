package storage

import (
	"database/sql"
)

type RecurringTemplate struct {
	ID                   string
	Kind                 string
	Amount               string
	CategoryID           sql.NullString
	Description          string
	Notes                string
	IntervalUnit         string
	AnchorDate           string
	DayOfMonth           int64
	EndDate              sql.NullString
	Status               string
	LastGeneratedThrough string
	ExecutionCount       int64
	SplitFrom            sql.NullString
	CreatedAt            string
	UpdatedAt            string
}

type TransactionOccurrence struct {
	ID           string
	TemplateID   sql.NullString
	ScheduledFor string
	Date         string
	Kind         string
	Amount       string
	CategoryID   sql.NullString
	Description  string
	Notes        string
	GeneratedAt  string
	UpdatedAt    string
}

type OccurrenceTombstone struct {
	TemplateID   string
	ScheduledFor string
	Reason       string
	CreatedAt    string
}
