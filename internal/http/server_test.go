package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"recurrent/internal/cache"
	"recurrent/internal/core"
	"recurrent/internal/log"
	"recurrent/internal/services"
	"recurrent/internal/storage/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(day string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = mustTime(day)
}

func mustTime(day string) time.Time {
	t, err := time.Parse(core.DayLayout, day)
	if err != nil {
		panic(err)
	}
	return t.Add(9 * time.Hour)
}

type downStore struct{}

func (downStore) Ping(context.Context) error { return errors.New("database is locked") }

type apiEnv struct {
	srv   *Server
	clock *fakeClock
}

func newAPI(t *testing.T, today string, mutate ...func(*Options)) *apiEnv {
	t.Helper()
	clock := &fakeClock{now: mustTime(today)}
	store := memory.New()
	engine := services.NewEngine(store,
		cache.NewLRUCache[[]services.RecurringView](16, time.Minute),
		services.SchedulerConfig{Interval: time.Hour, Concurrency: 2},
		services.Options{
			HorizonCycles: 1,
			StaleAfter:    72 * time.Hour,
			Now:           clock.Now,
			Logger:        log.Discard(),
		})

	opts := Options{
		Engine: engine,
		Store:  store,
		Now:    clock.Now,
		Logger: log.Discard(),
	}
	for _, m := range mutate {
		m(&opts)
	}
	srv := NewServer(":0", opts)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &apiEnv{srv: srv, clock: clock}
}

// do sends a request. A string body is sent verbatim, anything else as JSON.
func (e *apiEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	switch b := body.(type) {
	case nil:
		req = httptest.NewRequest(method, path, nil)
	case string:
		req = httptest.NewRequest(method, path, strings.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), "body: %s", rr.Body.String())
	return v
}

// createWeekly declares a weekly expense starting on start and returns the
// template with its generated occurrences.
func (e *apiEnv) createWeekly(t *testing.T, start string) createTransactionResponse {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/api/transactions/expense", map[string]any{
		"amount":      "50",
		"description": "Gym",
		"date":        start,
		"isRecurring": true,
		"interval":    "weekly",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	res := decode[createTransactionResponse](t, rr)
	require.NotNil(t, res.Template)
	return res
}

func scheduledDates(occs []occurrenceJSON) []string {
	out := make([]string, 0, len(occs))
	for _, o := range occs {
		out = append(out, o.ScheduledFor)
	}
	return out
}

func TestHealthAndReady(t *testing.T) {
	api := newAPI(t, "2024-01-15")

	rr := api.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decode[map[string]any](t, rr)["status"])
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = api.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	down := newAPI(t, "2024-01-15", func(o *Options) { o.Store = downStore{} })
	rr = down.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "not_ready", decode[map[string]any](t, rr)["status"])
}

func TestRequestIDIsPropagated(t *testing.T) {
	api := newAPI(t, "2024-01-15")
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr := httptest.NewRecorder()
	api.srv.Handler.ServeHTTP(rr, req)
	assert.Equal(t, "abc-123", rr.Header().Get("X-Request-ID"))
}

func TestCreateTransaction(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       any
		wantStatus int
		wantField  string
	}{
		{
			name:       "standalone expense",
			path:       "/api/transactions/expense",
			body:       map[string]any{"amount": "12,50", "description": "Lunch", "date": "2024-01-10"},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "numeric amount defaults to today",
			path:       "/api/transactions/income",
			body:       map[string]any{"amount": 1200, "description": "Salary"},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "unknown kind",
			path:       "/api/transactions/gift",
			body:       map[string]any{"amount": "10", "description": "x"},
			wantStatus: http.StatusUnprocessableEntity,
			wantField:  "kind",
		},
		{
			name:       "zero amount",
			path:       "/api/transactions/expense",
			body:       map[string]any{"amount": "0", "description": "x"},
			wantStatus: http.StatusUnprocessableEntity,
			wantField:  "amount",
		},
		{
			name:       "bad date",
			path:       "/api/transactions/expense",
			body:       map[string]any{"amount": "10", "description": "x", "date": "10/01/2024"},
			wantStatus: http.StatusUnprocessableEntity,
			wantField:  "date",
		},
		{
			name:       "unknown interval",
			path:       "/api/transactions/expense",
			body:       map[string]any{"amount": "10", "description": "x", "isRecurring": true, "interval": "yearly"},
			wantStatus: http.StatusUnprocessableEntity,
			wantField:  "interval",
		},
		{
			name:       "malformed json",
			path:       "/api/transactions/expense",
			body:       `{"amount": `,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown field",
			path:       "/api/transactions/expense",
			body:       `{"amount": "10", "description": "x", "currency": "EUR"}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newAPI(t, "2024-01-15")
			rr := api.do(t, http.MethodPost, tt.path, tt.body)
			require.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())

			if tt.wantStatus == http.StatusCreated {
				res := decode[createTransactionResponse](t, rr)
				require.NotNil(t, res.Transaction)
				assert.Nil(t, res.Template)
				assert.False(t, res.Transaction.IsRecurring)
				return
			}
			body := decode[errorBody](t, rr)
			assert.NotEmpty(t, body.Error.Message)
			if tt.wantField != "" {
				assert.Equal(t, tt.wantField, body.Error.Field)
			}
		})
	}
}

func TestCreateTransaction_StandaloneFields(t *testing.T) {
	api := newAPI(t, "2024-01-15")
	rr := api.do(t, http.MethodPost, "/api/transactions/expense", map[string]any{
		"amount": "12,50", "description": "  Lunch\x07 ", "date": "2024-01-10",
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	res := decode[createTransactionResponse](t, rr)
	assert.Equal(t, "12.5", res.Transaction.Amount.String())
	assert.Equal(t, "Lunch", res.Transaction.Description)
	assert.Equal(t, "2024-01-10", res.Transaction.Date)
	assert.Nil(t, res.Transaction.TemplateID)
}

func TestCreateTransaction_RejectsNonJSON(t *testing.T) {
	api := newAPI(t, "2024-01-15")
	req := httptest.NewRequest(http.MethodPost, "/api/transactions/expense", strings.NewReader("amount=10"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	api.srv.Handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
}

func TestCreateRecurringGeneratesThroughHorizon(t *testing.T) {
	api := newAPI(t, "2024-01-15")
	res := api.createWeekly(t, "2024-01-01")

	assert.Equal(t, core.StatusActive, res.Template.Status)
	assert.Equal(t, "2024-01-01", res.Template.AnchorDate)
	assert.Equal(t, "2024-01-22", res.Template.LastGeneratedThrough)
	assert.Equal(t, []string{"2024-01-01", "2024-01-08", "2024-01-15", "2024-01-22"}, scheduledDates(res.Occurrences))
	for _, o := range res.Occurrences {
		assert.True(t, o.IsRecurring)
		assert.Equal(t, res.Template.ID, *o.TemplateID)
	}
}

func TestListRecurring(t *testing.T) {
	api := newAPI(t, "2024-01-15")
	created := api.createWeekly(t, "2024-01-01")

	rr := api.do(t, http.MethodGet, "/api/recurring", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[map[string][]recurringJSON](t, rr)["recurring"]
	require.Len(t, list, 1)
	assert.Equal(t, created.Template.ID, list[0].ID)
	require.NotNil(t, list[0].NextRunDate)
	assert.Equal(t, "2024-01-29", *list[0].NextRunDate)
	assert.Equal(t, 4, list[0].ExecutionCount)
	assert.False(t, list[0].Stale)

	rr = api.do(t, http.MethodGet, "/api/recurring?status=paused", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[map[string][]recurringJSON](t, rr)["recurring"])

	rr = api.do(t, http.MethodGet, "/api/recurring?status=archived", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = api.do(t, http.MethodGet, "/api/recurring/"+created.Template.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Gym", decode[recurringJSON](t, rr).Description)

	rr = api.do(t, http.MethodGet, "/api/recurring/missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListRecurring_FlagsStaleTemplates(t *testing.T) {
	api := newAPI(t, "2024-01-15")
	api.createWeekly(t, "2024-01-01")

	// Nothing generated for a week past the next run date.
	api.clock.Set("2024-02-05")
	rr := api.do(t, http.MethodGet, "/api/recurring", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[map[string][]recurringJSON](t, rr)["recurring"]
	require.Len(t, list, 1)
	assert.True(t, list[0].Stale)
}

func TestLifecycleEndpoints(t *testing.T) {
	api := newAPI(t, "2024-01-15")
	id := api.createWeekly(t, "2024-01-01").Template.ID
	base := "/api/recurring/" + id

	rr := api.do(t, http.MethodPost, base+"/pause", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, core.StatusPaused, decode[map[string]templateJSON](t, rr)["template"].Status)

	rr = api.do(t, http.MethodPost, base+"/resume", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = api.do(t, http.MethodPost, base+"/stop", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	stopped := decode[stopJSON](t, rr)
	assert.Equal(t, core.StatusStopped, stopped.Template.Status)
	require.NotNil(t, stopped.Template.EndDate)
	assert.Equal(t, "2024-01-14", *stopped.Template.EndDate)
	assert.Equal(t, 2, stopped.Deleted)

	rr = api.do(t, http.MethodPost, base+"/resume", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, log.ErrorTypeConflict, decode[errorBody](t, rr).Error.Code)

	rr = api.do(t, http.MethodPost, "/api/recurring/missing/pause", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStopFromDate(t *testing.T) {
	api := newAPI(t, "2024-01-15")
	id := api.createWeekly(t, "2024-01-01").Template.ID

	rr := api.do(t, http.MethodPost, "/api/recurring/"+id+"/stop?from=2024-01-08", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, 3, decode[stopJSON](t, rr).Deleted)

	rr = api.do(t, http.MethodPost, "/api/recurring/"+id+"/stop?from=yesterday", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestUpdateTransaction(t *testing.T) {
	api := newAPI(t, "2024-01-15")
	created := api.createWeekly(t, "2024-01-01")
	oldID := created.Template.ID
	jan15 := created.Occurrences[2]
	require.Equal(t, "2024-01-15", jan15.ScheduledFor)

	t.Run("single occurrence keeps its slot", func(t *testing.T) {
		rr := api.do(t, http.MethodPut, "/api/transactions/expense/"+created.Occurrences[0].ID,
			map[string]any{"amount": "55", "date": "2024-01-02"})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		res := decode[updateTransactionResponse](t, rr)
		assert.Nil(t, res.Split)
		assert.Equal(t, "55", res.Transaction.Amount.String())
		assert.Equal(t, "2024-01-02", res.Transaction.Date)
		assert.Equal(t, "2024-01-01", res.Transaction.ScheduledFor)
	})

	t.Run("kind mismatch is not found", func(t *testing.T) {
		rr := api.do(t, http.MethodPut, "/api/transactions/income/"+jan15.ID, map[string]any{"amount": "1"})
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("apply to future splits the series", func(t *testing.T) {
		rr := api.do(t, http.MethodPut, "/api/transactions/expense/"+jan15.ID+"?applyToFuture=true",
			map[string]any{"amount": "75"})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		res := decode[updateTransactionResponse](t, rr)
		require.NotNil(t, res.Split)
		require.True(t, res.Split.Split)
		require.NotNil(t, res.Split.Successor)

		succ := res.Split.Successor
		assert.Equal(t, "75", succ.Amount.String())
		assert.Equal(t, "2024-01-15", succ.AnchorDate)
		require.NotNil(t, succ.SplitFrom)
		assert.Equal(t, oldID, *succ.SplitFrom)
		assert.Equal(t, jan15.ID, res.Transaction.ID)
		assert.Equal(t, "75", res.Transaction.Amount.String())
		assert.Equal(t, core.StatusStopped, res.Split.Previous.Status)

		rr = api.do(t, http.MethodGet, "/api/transactions?templateId="+oldID, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		old := decode[map[string][]occurrenceJSON](t, rr)["transactions"]
		assert.Equal(t, []string{"2024-01-01", "2024-01-08"}, scheduledDates(old))

		rr = api.do(t, http.MethodGet, "/api/transactions?templateId="+succ.ID, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		next := decode[map[string][]occurrenceJSON](t, rr)["transactions"]
		assert.Equal(t, []string{"2024-01-15", "2024-01-22"}, scheduledDates(next))
	})

	t.Run("bad flag", func(t *testing.T) {
		rr := api.do(t, http.MethodPut, "/api/transactions/expense/"+jan15.ID+"?applyToFuture=maybe",
			map[string]any{"amount": "75"})
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	})
}

func TestDeleteTransaction(t *testing.T) {
	tests := []struct {
		name         string
		deleteFuture bool
		wantLeft     []string
	}{
		{name: "single occurrence", wantLeft: []string{"2024-01-01", "2024-01-15", "2024-01-22"}},
		{name: "this and future", deleteFuture: true, wantLeft: []string{"2024-01-01"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newAPI(t, "2024-01-15")
			created := api.createWeekly(t, "2024-01-01")
			jan8 := created.Occurrences[1]

			path := "/api/transactions/expense/" + jan8.ID
			if tt.deleteFuture {
				path += "?deleteFuture=true"
			}
			rr := api.do(t, http.MethodDelete, path, nil)
			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
			res := decode[deleteTransactionResponse](t, rr)
			assert.Equal(t, jan8.ID, res.Transaction.ID)
			assert.Equal(t, tt.deleteFuture, res.Stopped != nil)

			rr = api.do(t, http.MethodGet, "/api/transactions?templateId="+created.Template.ID, nil)
			left := decode[map[string][]occurrenceJSON](t, rr)["transactions"]
			assert.Equal(t, tt.wantLeft, scheduledDates(left))

			// A deleted slot is never generated again.
			api.clock.Set("2024-01-29")
			rr = api.do(t, http.MethodPost, "/api/recurring/generate", nil)
			require.Equal(t, http.StatusOK, rr.Code)
			rr = api.do(t, http.MethodGet, "/api/transactions?templateId="+created.Template.ID+"&to=2024-01-22", nil)
			left = decode[map[string][]occurrenceJSON](t, rr)["transactions"]
			assert.Equal(t, tt.wantLeft, scheduledDates(left))
		})
	}
}

func TestListTransactionsFilters(t *testing.T) {
	api := newAPI(t, "2024-01-15")
	api.createWeekly(t, "2024-01-01")
	api.do(t, http.MethodPost, "/api/transactions/income", map[string]any{"amount": "10", "description": "Refund", "date": "2024-01-09"})

	rr := api.do(t, http.MethodGet, "/api/transactions?from=2024-01-08&to=2024-01-15", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	got := decode[map[string][]occurrenceJSON](t, rr)["transactions"]
	assert.Equal(t, []string{"2024-01-08", "2024-01-09", "2024-01-15"}, scheduledDates(got))

	rr = api.do(t, http.MethodGet, "/api/transactions?kind=income", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[map[string][]occurrenceJSON](t, rr)["transactions"], 1)

	rr = api.do(t, http.MethodGet, "/api/transactions?from=2024-01-15&to=2024-01-08", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestSkipAndUpcoming(t *testing.T) {
	api := newAPI(t, "2024-01-15")
	id := api.createWeekly(t, "2024-01-01").Template.ID
	base := "/api/recurring/" + id

	rr := api.do(t, http.MethodPost, base+"/skip?date=2024-01-29", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, true, decode[map[string]any](t, rr)["skipped"])

	rr = api.do(t, http.MethodPost, base+"/skip?date=2024-01-30", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, false, decode[map[string]any](t, rr)["skipped"])

	rr = api.do(t, http.MethodPost, base+"/skip", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = api.do(t, http.MethodGet, base+"/upcoming?count=2", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	upcoming := decode[map[string][]upcomingJSON](t, rr)["upcoming"]
	require.Len(t, upcoming, 2)
	assert.Equal(t, "2024-02-05", upcoming[0].Date)
	assert.Equal(t, "2024-02-12", upcoming[1].Date)
	assert.True(t, upcoming[0].Estimated)

	rr = api.do(t, http.MethodGet, base+"/upcoming?count=0", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	rr = api.do(t, http.MethodGet, base+"/upcoming?count=many", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestEditRecurring(t *testing.T) {
	api := newAPI(t, "2024-01-15")
	id := api.createWeekly(t, "2024-01-01").Template.ID

	rr := api.do(t, http.MethodPatch, "/api/recurring/"+id, map[string]any{"scope": "single", "amount": "80"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = api.do(t, http.MethodPatch, "/api/recurring/"+id, map[string]any{})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = api.do(t, http.MethodPatch, "/api/recurring/"+id, map[string]any{"amount": "80"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	res := decode[splitJSON](t, rr)
	require.True(t, res.Split)
	assert.Equal(t, "80", res.Successor.Amount.String())
	// The split happens at the next ungenerated date.
	assert.Equal(t, "2024-01-29", res.Successor.AnchorDate)

	stopped := api.createWeekly(t, "2024-01-01").Template.ID
	rr = api.do(t, http.MethodPost, "/api/recurring/"+stopped+"/stop", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	rr = api.do(t, http.MethodPatch, "/api/recurring/"+stopped, map[string]any{"amount": "80"})
	assert.Equal(t, http.StatusConflict, rr.Code, rr.Body.String())
}

func TestDeleteRecurring(t *testing.T) {
	api := newAPI(t, "2024-01-15")
	id := api.createWeekly(t, "2024-01-01").Template.ID

	rr := api.do(t, http.MethodDelete, "/api/recurring/"+id, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.EqualValues(t, 4, decode[map[string]any](t, rr)["deleted"])

	rr = api.do(t, http.MethodGet, "/api/recurring/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = api.do(t, http.MethodDelete, "/api/recurring/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGenerate(t *testing.T) {
	api := newAPI(t, "2024-01-15")
	id := api.createWeekly(t, "2024-01-01").Template.ID

	api.clock.Set("2024-01-29")
	rr := api.do(t, http.MethodPost, "/api/recurring/generate", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	report := decode[runReportJSON](t, rr)
	assert.Equal(t, "2024-01-29", report.Today)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Due)
	assert.Equal(t, 2, report.Occurrences)

	// Idempotent.
	rr = api.do(t, http.MethodPost, "/api/recurring/generate", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 0, decode[runReportJSON](t, rr).Occurrences)

	api.clock.Set("2024-02-12")
	rr = api.do(t, http.MethodPost, "/api/recurring/generate?templateId="+id+"&through=2024-02-19", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	single := decode[map[string]json.RawMessage](t, rr)
	var generated []occurrenceJSON
	require.NoError(t, json.Unmarshal(single["generated"], &generated))
	assert.Equal(t, []string{"2024-02-12", "2024-02-19"}, scheduledDates(generated))

	// A far-future date stops at the horizon, one cycle after today.
	rr = api.do(t, http.MethodPost, "/api/recurring/generate?templateId="+id+"&through=2030-01-01", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	single = decode[map[string]json.RawMessage](t, rr)
	generated = nil
	require.NoError(t, json.Unmarshal(single["generated"], &generated))
	assert.Empty(t, generated)
	var tpl templateJSON
	require.NoError(t, json.Unmarshal(single["template"], &tpl))
	assert.Equal(t, "2024-02-19", tpl.LastGeneratedThrough)

	rr = api.do(t, http.MethodPost, "/api/recurring/generate?templateId=missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	api.do(t, http.MethodPost, "/api/recurring/"+id+"/pause", nil)
	rr = api.do(t, http.MethodPost, "/api/recurring/generate?templateId="+id, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestRateLimitAppliesToWrites(t *testing.T) {
	api := newAPI(t, "2024-01-15", func(o *Options) { o.RateLimitPerMinute = 1 })
	body := map[string]any{"amount": "10", "description": "Coffee"}

	rr := api.do(t, http.MethodPost, "/api/transactions/expense", body)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = api.do(t, http.MethodPost, "/api/transactions/expense", body)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))

	rr = api.do(t, http.MethodGet, "/api/transactions", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestUnknownRouteAndMethod(t *testing.T) {
	api := newAPI(t, "2024-01-15")

	rr := api.do(t, http.MethodGet, "/api/nothing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, log.ErrorTypeNotFound, decode[errorBody](t, rr).Error.Code)

	rr = api.do(t, http.MethodPut, "/api/recurring", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestShutdownIsIdempotent(t *testing.T) {
	api := newAPI(t, "2024-01-15", func(o *Options) { o.RateLimitPerMinute = 10 })
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, api.srv.Shutdown(ctx))
	assert.NoError(t, api.srv.Shutdown(ctx))
}
