package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"recurrent/internal/amqp"
	"recurrent/internal/cache"
	"recurrent/internal/core"
	"recurrent/internal/log"
	"recurrent/internal/storage"
	"recurrent/internal/storage/memory"

	"github.com/shopspring/decimal"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(day core.Day) *testClock {
	return &testClock{now: time.Date(day.Year(), day.Month(), day.Day(), 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(day core.Day) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = time.Date(day.Year(), day.Month(), day.Day(), 9, 0, 0, 0, time.UTC)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*amqp.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e *amqp.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []amqp.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]amqp.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type testEnv struct {
	store     storage.Store
	engine    *Engine
	clock     *testClock
	publisher *recordingPublisher
}

func newTestEnv(t *testing.T, today core.Day, mutate ...func(*Options)) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, memory.New(), today, mutate...)
}

func newTestEnvWithStore(t *testing.T, store storage.Store, today core.Day, mutate ...func(*Options)) *testEnv {
	t.Helper()
	clock := newClock(today)
	pub := &recordingPublisher{}

	var mu sync.Mutex
	seq := 0
	opts := Options{
		HorizonCycles: 1,
		AnchorPolicy:  core.AnchorFirstOfMonth,
		StaleAfter:    72 * time.Hour,
		Now:           clock.Now,
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("id-%03d", seq)
		},
		Publisher: pub,
		Logger:    log.Discard(),
	}
	for _, m := range mutate {
		m(&opts)
	}
	projection := cache.NewLRUCache[[]RecurringView](16, time.Minute)
	engine := NewEngine(store, projection, SchedulerConfig{Interval: time.Hour, Concurrency: 4}, opts)
	return &testEnv{store: store, engine: engine, clock: clock, publisher: pub}
}

// seed stores an active template whose watermark sits the day before anchor.
func (e *testEnv) seed(t *testing.T, id string, interval core.Interval, anchor core.Day, end *core.Day) core.Template {
	t.Helper()
	tpl := core.Template{
		ID:                   id,
		Kind:                 core.Expense,
		Amount:               decimal.NewFromInt(50),
		Description:          "seeded " + id,
		Interval:             interval,
		AnchorDate:           anchor,
		EndDate:              end,
		Status:               core.StatusActive,
		LastGeneratedThrough: anchor.Prev(),
		CreatedAt:            e.clock.Now(),
		UpdatedAt:            e.clock.Now(),
	}
	if interval == core.Monthly {
		tpl.DayOfMonth = anchor.Day()
	}
	if err := e.store.InsertTemplate(context.Background(), tpl); err != nil {
		t.Fatalf("seed template: %v", err)
	}
	return tpl
}

func (e *testEnv) template(t *testing.T, id string) core.Template {
	t.Helper()
	tpl, err := e.store.GetTemplate(context.Background(), id)
	if err != nil {
		t.Fatalf("get template %s: %v", id, err)
	}
	return tpl
}

func (e *testEnv) occurrences(t *testing.T, templateID string) []core.Occurrence {
	t.Helper()
	occs, err := e.store.ListOccurrences(context.Background(), storage.OccurrenceFilter{TemplateID: templateID})
	if err != nil {
		t.Fatalf("list occurrences: %v", err)
	}
	return occs
}

func slots(occs []core.Occurrence) []string {
	out := make([]string, 0, len(occs))
	for _, o := range occs {
		out = append(out, o.ScheduledFor.String())
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func day(y int, m time.Month, d int) core.Day {
	return core.NewDay(y, m, d)
}

func ptr[T any](v T) *T {
	return &v
}

// failingStore fails the nth InsertOccurrence inside a transaction.
type failingStore struct {
	storage.Store
	failOn int
}

func (s *failingStore) InTx(ctx context.Context, fn func(storage.Repository) error) error {
	return s.Store.InTx(ctx, func(r storage.Repository) error {
		return fn(&failingRepo{Repository: r, left: s.failOn})
	})
}

type failingRepo struct {
	storage.Repository
	left int
}

var errDiskFull = errors.New("disk full")

func (r *failingRepo) InsertOccurrence(ctx context.Context, o core.Occurrence) (bool, error) {
	r.left--
	if r.left <= 0 {
		return false, errDiskFull
	}
	return r.Repository.InsertOccurrence(ctx, o)
}

func decimalFromInt(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

var templateFilterAll = storage.TemplateFilter{}
