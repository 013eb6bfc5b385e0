package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"recurrent/internal/core"
	"recurrent/internal/services"
	"recurrent/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 20 // 1MB

// errBadRequest marks malformed input that never reached the engine.
var errBadRequest = errors.New("bad request")

// amountField accepts an amount as a JSON number or string ("12,50" included).
type amountField struct {
	raw string
}

func (a *amountField) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		a.raw = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("amount must be a number or string")
	}
	a.raw = n.String()
	return nil
}

func (a *amountField) parse() (decimal.Decimal, error) {
	return core.ParseAmount(a.raw)
}

// transactionRequest is the body of POST /api/transactions/{kind}.
type transactionRequest struct {
	Amount          amountField `json:"amount"`
	CategoryID      *string     `json:"categoryId"`
	Description     string      `json:"description"`
	Notes           string      `json:"notes"`
	Date            string      `json:"date"`
	IsRecurring     bool        `json:"isRecurring"`
	Interval        string      `json:"interval"`
	CustomStartDate string      `json:"customStartDate"`
	EndDate         string      `json:"endDate"`
}

// toPayload validates the wire fields. An empty date means today.
func (req transactionRequest) toPayload(loc *time.Location, today core.Day) (services.TransactionPayload, error) {
	amount, err := req.Amount.parse()
	if err != nil {
		return services.TransactionPayload{}, err
	}
	date := today
	if d, err := parseOptionalDay("date", req.Date, loc); err != nil {
		return services.TransactionPayload{}, err
	} else if d != nil {
		date = *d
	}

	p := services.TransactionPayload{
		Amount:      amount,
		CategoryID:  sanitizePtr(req.CategoryID),
		Description: sanitizeInput(req.Description),
		Notes:       sanitizeInput(req.Notes),
		Date:        date,
		IsRecurring: req.IsRecurring,
	}
	if !req.IsRecurring {
		return p, nil
	}

	p.Interval = core.Interval(strings.ToLower(strings.TrimSpace(req.Interval)))
	if p.CustomStartDate, err = parseOptionalDay("customStartDate", req.CustomStartDate, loc); err != nil {
		return services.TransactionPayload{}, err
	}
	if p.EndDate, err = parseOptionalDay("endDate", req.EndDate, loc); err != nil {
		return services.TransactionPayload{}, err
	}
	return p, nil
}

// updateRequest is the body of PUT /api/transactions/{kind}/{id}. Absent
// fields are left unchanged.
type updateRequest struct {
	Amount      *amountField `json:"amount"`
	CategoryID  *string      `json:"categoryId"`
	Description *string      `json:"description"`
	Notes       *string      `json:"notes"`
	Date        *string      `json:"date"`
}

func (req updateRequest) toPatch(loc *time.Location) (core.OccurrencePatch, error) {
	var p core.OccurrencePatch
	if req.Amount != nil {
		amount, err := req.Amount.parse()
		if err != nil {
			return core.OccurrencePatch{}, err
		}
		p.Amount = &amount
	}
	p.CategoryID = sanitizePtr(req.CategoryID)
	p.Description = sanitizePtr(req.Description)
	p.Notes = sanitizePtr(req.Notes)
	if req.Date != nil {
		d, err := parseRequiredDay("date", *req.Date, loc)
		if err != nil {
			return core.OccurrencePatch{}, err
		}
		p.Date = &d
	}
	return p, nil
}

// templateEditRequest is the body of PATCH /api/recurring/{id}.
type templateEditRequest struct {
	Scope       string       `json:"scope"`
	Kind        *string      `json:"kind"`
	Amount      *amountField `json:"amount"`
	CategoryID  *string      `json:"categoryId"`
	Description *string      `json:"description"`
	Notes       *string      `json:"notes"`
	Interval    *string      `json:"interval"`
	EndDate     *string      `json:"endDate"`
	ClearEnd    bool         `json:"clearEndDate"`
}

func (req templateEditRequest) toPatch(loc *time.Location) (services.Scope, core.TemplatePatch, error) {
	scope := services.ScopeFuture
	if s := strings.TrimSpace(req.Scope); s != "" {
		scope = services.Scope(strings.ToLower(s))
	}

	var p core.TemplatePatch
	if req.Kind != nil {
		k := core.Kind(strings.ToLower(strings.TrimSpace(*req.Kind)))
		if err := k.Validate(); err != nil {
			return "", core.TemplatePatch{}, err
		}
		p.Kind = &k
	}
	if req.Amount != nil {
		amount, err := req.Amount.parse()
		if err != nil {
			return "", core.TemplatePatch{}, err
		}
		p.Amount = &amount
	}
	p.CategoryID = sanitizePtr(req.CategoryID)
	p.Description = sanitizePtr(req.Description)
	p.Notes = sanitizePtr(req.Notes)
	if req.Interval != nil {
		i := core.Interval(strings.ToLower(strings.TrimSpace(*req.Interval)))
		if err := i.Validate(); err != nil {
			return "", core.TemplatePatch{}, err
		}
		p.Interval = &i
	}
	if req.EndDate != nil {
		d, err := parseRequiredDay("endDate", *req.EndDate, loc)
		if err != nil {
			return "", core.TemplatePatch{}, err
		}
		p.EndDate = &d
	}
	p.ClearEnd = req.ClearEnd
	return scope, p, nil
}

// decodeJSON reads a single JSON object from the body, rejecting unknown
// fields and trailing data.
func decodeJSON(r *http.Request, w http.ResponseWriter, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", errBadRequest)
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: request body must hold a single JSON object", errBadRequest)
	}
	return nil
}

// parseKind reads the {kind} path segment.
func parseKind(r *http.Request) (core.Kind, error) {
	k := core.Kind(strings.ToLower(chi.URLParam(r, "kind")))
	if err := k.Validate(); err != nil {
		return "", err
	}
	return k, nil
}

// parseBoolQuery reads an optional boolean query parameter.
func parseBoolQuery(q url.Values, key string) (bool, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, core.NewValidationError(key, "must be true or false")
	}
	return b, nil
}

// parseIntQuery reads an optional integer query parameter.
func parseIntQuery(q url.Values, key string, def int) (int, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, core.NewValidationError(key, "must be an integer")
	}
	return n, nil
}

func parseOptionalDay(field, v string, loc *time.Location) (*core.Day, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	d, err := parseRequiredDay(field, v, loc)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func parseRequiredDay(field, v string, loc *time.Location) (core.Day, error) {
	d, err := core.ParseDay(strings.TrimSpace(v), loc)
	if err != nil {
		return core.Day{}, &core.ValidationError{Field: field, Reason: "must be a date formatted YYYY-MM-DD", Err: err}
	}
	return d, nil
}

// parseOccurrenceFilter reads the query of GET /api/transactions.
func parseOccurrenceFilter(q url.Values, loc *time.Location) (storage.OccurrenceFilter, error) {
	f := storage.OccurrenceFilter{TemplateID: strings.TrimSpace(q.Get("templateId"))}
	if k := strings.TrimSpace(q.Get("kind")); k != "" {
		f.Kind = core.Kind(strings.ToLower(k))
		if err := f.Kind.Validate(); err != nil {
			return storage.OccurrenceFilter{}, err
		}
	}
	from, err := parseOptionalDay("from", q.Get("from"), loc)
	if err != nil {
		return storage.OccurrenceFilter{}, err
	}
	to, err := parseOptionalDay("to", q.Get("to"), loc)
	if err != nil {
		return storage.OccurrenceFilter{}, err
	}
	if from != nil {
		f.From = *from
	}
	if to != nil {
		f.Through = *to
	}
	if from != nil && to != nil && to.Before(*from) {
		return storage.OccurrenceFilter{}, core.NewValidationError("to", "must not be before from")
	}
	return f, nil
}

// parseTemplateFilter reads the query of GET /api/recurring.
func parseTemplateFilter(q url.Values) (storage.TemplateFilter, error) {
	var f storage.TemplateFilter
	switch s := core.Status(strings.ToLower(strings.TrimSpace(q.Get("status")))); s {
	case "", core.StatusActive, core.StatusPaused, core.StatusStopped:
		f.Status = s
	default:
		return storage.TemplateFilter{}, core.NewValidationError("status", "must be active, paused or stopped")
	}
	if k := strings.TrimSpace(q.Get("kind")); k != "" {
		f.Kind = core.Kind(strings.ToLower(k))
		if err := f.Kind.Validate(); err != nil {
			return storage.TemplateFilter{}, err
		}
	}
	return f, nil
}

// sanitizeInput removes control characters except tab, newline and carriage
// return, and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

func sanitizePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := sanitizeInput(*s)
	return &v
}
