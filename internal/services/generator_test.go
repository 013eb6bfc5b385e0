package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"recurrent/internal/amqp"
	"recurrent/internal/core"
	"recurrent/internal/storage"
	"recurrent/internal/storage/memory"
)

func TestGenerateScenarios(t *testing.T) {
	tests := []struct {
		name          string
		interval      core.Interval
		anchor        core.Day
		end           *core.Day
		horizon       core.Day
		want          []string
		wantWatermark string
	}{
		{
			name:          "daily through horizon",
			interval:      core.Daily,
			anchor:        day(2024, 1, 1),
			horizon:       day(2024, 1, 5),
			want:          []string{"2024-01-01", "2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05"},
			wantWatermark: "2024-01-05",
		},
		{
			name:          "monthly on the 31st clamps without sticking",
			interval:      core.Monthly,
			anchor:        day(2024, 1, 31),
			horizon:       day(2024, 4, 30),
			want:          []string{"2024-01-31", "2024-02-29", "2024-03-31", "2024-04-30"},
			wantWatermark: "2024-04-30",
		},
		{
			name:          "weekly stops at end date inside horizon",
			interval:      core.Weekly,
			anchor:        day(2024, 1, 1),
			end:           ptr(day(2024, 1, 20)),
			horizon:       day(2024, 2, 1),
			want:          []string{"2024-01-01", "2024-01-08", "2024-01-15"},
			wantWatermark: "2024-01-15",
		},
		{
			name:          "horizon before anchor generates nothing",
			interval:      core.Daily,
			anchor:        day(2024, 3, 1),
			horizon:       day(2024, 2, 1),
			want:          []string{},
			wantWatermark: "2024-02-29",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, day(2024, 1, 1))
			env.seed(t, "tpl", tt.interval, tt.anchor, tt.end)

			res, err := env.engine.Generator.Generate(context.Background(), "tpl", tt.horizon)
			if err != nil {
				t.Fatalf("Generate() error = %v", err)
			}

			got := slots(env.occurrences(t, "tpl"))
			if !equalStrings(got, tt.want) {
				t.Errorf("occurrences = %v, want %v", got, tt.want)
			}
			if len(res.Created) != len(tt.want) {
				t.Errorf("Created = %d, want %d", len(res.Created), len(tt.want))
			}

			tpl := env.template(t, "tpl")
			if tpl.LastGeneratedThrough.String() != tt.wantWatermark {
				t.Errorf("watermark = %s, want %s", tpl.LastGeneratedThrough, tt.wantWatermark)
			}
			if tpl.ExecutionCount != len(tt.want) {
				t.Errorf("ExecutionCount = %d, want %d", tpl.ExecutionCount, len(tt.want))
			}
		})
	}
}

func TestGenerateSnapshotsTemplateFields(t *testing.T) {
	env := newTestEnv(t, day(2024, 1, 1))
	env.seed(t, "tpl", core.Daily, day(2024, 1, 1), nil)

	if _, err := env.engine.Generator.Generate(context.Background(), "tpl", day(2024, 1, 1)); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	occs := env.occurrences(t, "tpl")
	if len(occs) != 1 {
		t.Fatalf("expected 1 occurrence, got %d", len(occs))
	}
	o := occs[0]
	if o.Kind != core.Expense || !o.Amount.Equal(decimalFromInt(50)) || o.Description != "seeded tpl" {
		t.Errorf("occurrence does not snapshot the template: %+v", o)
	}
	if !o.Date.Equal(o.ScheduledFor) {
		t.Errorf("Date = %s, want slot %s", o.Date, o.ScheduledFor)
	}
	if o.Date.Hour() != 12 {
		t.Errorf("occurrence date not noon anchored: %v", o.Date.Time)
	}
}

func TestGenerateIsIdempotent(t *testing.T) {
	env := newTestEnv(t, day(2024, 1, 1))
	env.seed(t, "tpl", core.Daily, day(2024, 1, 1), nil)
	ctx := context.Background()

	first, err := env.engine.Generator.Generate(ctx, "tpl", day(2024, 1, 5))
	if err != nil {
		t.Fatalf("first Generate() error = %v", err)
	}
	second, err := env.engine.Generator.Generate(ctx, "tpl", day(2024, 1, 5))
	if err != nil {
		t.Fatalf("second Generate() error = %v", err)
	}
	if len(first.Created) != 5 || len(second.Created) != 0 {
		t.Fatalf("Created = %d then %d, want 5 then 0", len(first.Created), len(second.Created))
	}

	// Rewind the watermark so the generator walks slots that already exist.
	tpl := env.template(t, "tpl")
	tpl.LastGeneratedThrough = day(2023, 12, 31)
	if err := env.store.UpdateTemplate(ctx, tpl); err != nil {
		t.Fatalf("rewind watermark: %v", err)
	}
	third, err := env.engine.Generator.Generate(ctx, "tpl", day(2024, 1, 7))
	if err != nil {
		t.Fatalf("third Generate() error = %v", err)
	}
	if len(third.Created) != 2 || third.Skipped != 5 {
		t.Errorf("third run Created = %d Skipped = %d, want 2 and 5", len(third.Created), third.Skipped)
	}
	if got := len(env.occurrences(t, "tpl")); got != 7 {
		t.Errorf("occurrences = %d, want 7", got)
	}
}

func TestGenerateWatermarkIsMonotonic(t *testing.T) {
	env := newTestEnv(t, day(2024, 1, 1))
	env.seed(t, "tpl", core.Daily, day(2024, 1, 1), nil)
	ctx := context.Background()

	var last core.Day
	for _, horizon := range []core.Day{day(2024, 1, 5), day(2024, 1, 3), day(2024, 1, 5), day(2024, 1, 10), day(2023, 12, 1)} {
		if _, err := env.engine.Generator.Generate(ctx, "tpl", horizon); err != nil {
			t.Fatalf("Generate(%s) error = %v", horizon, err)
		}
		wm := env.template(t, "tpl").LastGeneratedThrough
		if !last.IsZero() && wm.Before(last) {
			t.Fatalf("watermark went back from %s to %s at horizon %s", last, wm, horizon)
		}
		last = wm
	}
	if last.String() != "2024-01-10" {
		t.Errorf("final watermark = %s, want 2024-01-10", last)
	}
}

func TestGenerateDoesNotRecreateTombstonedSlots(t *testing.T) {
	env := newTestEnv(t, day(2024, 1, 1))
	env.seed(t, "tpl", core.Daily, day(2024, 1, 1), nil)
	ctx := context.Background()

	if _, err := env.engine.Generator.Generate(ctx, "tpl", day(2024, 1, 5)); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	var jan3 string
	for _, o := range env.occurrences(t, "tpl") {
		if o.ScheduledFor.String() == "2024-01-03" {
			jan3 = o.ID
		}
	}
	if _, err := env.engine.Resolver.DeleteOccurrence(ctx, jan3); err != nil {
		t.Fatalf("DeleteOccurrence() error = %v", err)
	}

	tpl := env.template(t, "tpl")
	if tpl.LastGeneratedThrough.String() != "2024-01-05" {
		t.Errorf("single delete moved the watermark to %s", tpl.LastGeneratedThrough)
	}

	// Even with the watermark rewound, the tombstone keeps the slot empty.
	tpl.LastGeneratedThrough = day(2023, 12, 31)
	if err := env.store.UpdateTemplate(ctx, tpl); err != nil {
		t.Fatalf("rewind watermark: %v", err)
	}
	if _, err := env.engine.Generator.Generate(ctx, "tpl", day(2024, 1, 6)); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	want := []string{"2024-01-01", "2024-01-02", "2024-01-04", "2024-01-05", "2024-01-06"}
	if got := slots(env.occurrences(t, "tpl")); !equalStrings(got, want) {
		t.Errorf("occurrences = %v, want %v", got, want)
	}
}

func TestGenerateRejectsInactiveTemplates(t *testing.T) {
	for _, status := range []core.Status{core.StatusPaused, core.StatusStopped} {
		t.Run(string(status), func(t *testing.T) {
			env := newTestEnv(t, day(2024, 1, 1))
			tpl := env.seed(t, "tpl", core.Daily, day(2024, 1, 1), nil)
			tpl.Status = status
			if err := env.store.UpdateTemplate(context.Background(), tpl); err != nil {
				t.Fatalf("update: %v", err)
			}

			_, err := env.engine.Generator.Generate(context.Background(), "tpl", day(2024, 1, 5))
			var conflict *core.StateConflictError
			if !errors.As(err, &conflict) {
				t.Fatalf("Generate() error = %v, want StateConflictError", err)
			}
			if conflict.Status != status || conflict.Op != "generate" {
				t.Errorf("conflict = %+v", conflict)
			}
			if got := len(env.occurrences(t, "tpl")); got != 0 {
				t.Errorf("wrote %d occurrences for a %s template", got, status)
			}
		})
	}
}

func TestGenerateUnknownTemplate(t *testing.T) {
	env := newTestEnv(t, day(2024, 1, 1))
	_, err := env.engine.Generator.Generate(context.Background(), "missing", day(2024, 1, 5))
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("Generate() error = %v, want ErrNotFound", err)
	}
}

func TestGenerateRollsBackOnFailure(t *testing.T) {
	store := &failingStore{Store: memory.New(), failOn: 3}
	env := newTestEnvWithStore(t, store, day(2024, 1, 1))
	env.seed(t, "tpl", core.Daily, day(2024, 1, 1), nil)

	_, err := env.engine.Generator.Generate(context.Background(), "tpl", day(2024, 1, 5))
	if !core.IsGenerationFailure(err) {
		t.Fatalf("Generate() error = %v, want GenerationFailure", err)
	}
	if !errors.Is(err, errDiskFull) {
		t.Errorf("GenerationFailure does not unwrap to the cause: %v", err)
	}

	if got := len(env.occurrences(t, "tpl")); got != 0 {
		t.Errorf("partial batch committed: %d occurrences", got)
	}
	tpl := env.template(t, "tpl")
	if tpl.LastGeneratedThrough.String() != "2023-12-31" || tpl.ExecutionCount != 0 {
		t.Errorf("watermark advanced after failure: %s (count %d)", tpl.LastGeneratedThrough, tpl.ExecutionCount)
	}
}

func TestGenerateConcurrentCallsDoNotDuplicate(t *testing.T) {
	env := newTestEnv(t, day(2024, 1, 1))
	env.seed(t, "tpl", core.Daily, day(2024, 1, 1), nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.engine.Generator.Generate(context.Background(), "tpl", day(2024, 1, 10)); err != nil {
				t.Errorf("Generate() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := len(env.occurrences(t, "tpl")); got != 10 {
		t.Errorf("occurrences = %d, want 10", got)
	}
	if tpl := env.template(t, "tpl"); tpl.ExecutionCount != 10 {
		t.Errorf("ExecutionCount = %d, want 10", tpl.ExecutionCount)
	}
	if env.engine.Locks.Len() != 0 {
		t.Errorf("locks leaked: %d", env.engine.Locks.Len())
	}
}

func TestGeneratePublishesCreatedOccurrences(t *testing.T) {
	env := newTestEnv(t, day(2024, 1, 1))
	env.seed(t, "tpl", core.Weekly, day(2024, 1, 1), nil)

	if _, err := env.engine.Generator.Generate(context.Background(), "tpl", day(2024, 1, 15)); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if _, err := env.engine.Generator.Generate(context.Background(), "tpl", day(2024, 1, 15)); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	env.publisher.mu.Lock()
	defer env.publisher.mu.Unlock()
	if len(env.publisher.events) != 1 {
		t.Fatalf("events = %d, want 1 (no event for an empty pass)", len(env.publisher.events))
	}
	e := env.publisher.events[0]
	if e.Type != amqp.EventOccurrencesGenerated || e.Count != 3 || len(e.OccurrenceIDs) != 3 {
		t.Errorf("event = %+v", e)
	}
}

func TestGenerateUsesLocationOfAnchor(t *testing.T) {
	rome, err := time.LoadLocation("Europe/Rome")
	if err != nil {
		t.Skip("tzdata not available")
	}
	env := newTestEnv(t, day(2024, 3, 1))
	// Spans the DST change on 2024-03-31.
	env.seed(t, "tpl", core.Daily, core.NewDayIn(2024, 3, 30, rome), nil)

	if _, err := env.engine.Generator.Generate(context.Background(), "tpl", core.NewDayIn(2024, 4, 1, rome)); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	want := []string{"2024-03-30", "2024-03-31", "2024-04-01"}
	if got := slots(env.occurrences(t, "tpl")); !equalStrings(got, want) {
		t.Errorf("occurrences = %v, want %v", got, want)
	}
}

func TestGenerateThroughCapsAtPolicyHorizon(t *testing.T) {
	ctx := context.Background()

	t.Run("far future request", func(t *testing.T) {
		env := newTestEnv(t, day(2024, 1, 1))
		env.seed(t, "tpl", core.Weekly, day(2024, 1, 1), nil)

		res, err := env.engine.Generator.GenerateThrough(ctx, "tpl", day(2124, 1, 1))
		if err != nil {
			t.Fatalf("GenerateThrough() error = %v", err)
		}
		want := []string{"2024-01-01", "2024-01-08"}
		if got := slots(res.Created); !equalStrings(got, want) {
			t.Errorf("created = %v, want %v (one cycle after today)", got, want)
		}
		if tpl := env.template(t, "tpl"); tpl.LastGeneratedThrough.String() != "2024-01-08" {
			t.Errorf("watermark = %s, want 2024-01-08", tpl.LastGeneratedThrough)
		}
	})

	t.Run("request inside the horizon", func(t *testing.T) {
		env := newTestEnv(t, day(2024, 1, 1))
		env.seed(t, "tpl", core.Daily, day(2024, 1, 1), nil)

		res, err := env.engine.Generator.GenerateThrough(ctx, "tpl", day(2024, 1, 1))
		if err != nil {
			t.Fatalf("GenerateThrough() error = %v", err)
		}
		if got := slots(res.Created); !equalStrings(got, []string{"2024-01-01"}) {
			t.Errorf("created = %v, want only 2024-01-01", got)
		}
	})

	env := newTestEnv(t, day(2024, 1, 1))
	if got := env.engine.Generator.Horizon(core.Monthly, day(2024, 1, 31)); got.String() != "2024-02-29" {
		t.Errorf("Horizon(monthly) = %s, want 2024-02-29", got)
	}
}

func TestGenerateOverTakenSlotsRefreshesProjection(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, day(2024, 1, 1))
	env.seed(t, "tpl", core.Weekly, day(2024, 1, 1), nil)

	if _, err := env.engine.Generator.Generate(ctx, "tpl", day(2024, 1, 1)); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if _, err := env.engine.Resolver.SkipDate(ctx, "tpl", day(2024, 1, 8)); err != nil {
		t.Fatalf("SkipDate() error = %v", err)
	}
	views, err := env.engine.Transactions.GetRecurringTransactions(ctx, storage.TemplateFilter{})
	if err != nil {
		t.Fatalf("GetRecurringTransactions() error = %v", err)
	}
	if len(views) != 1 || views[0].NextRunDate == nil || views[0].NextRunDate.String() != "2024-01-08" {
		t.Fatalf("views before = %+v", views)
	}

	// Only the tombstoned slot is walked: nothing is created, the watermark moves.
	res, err := env.engine.Generator.Generate(ctx, "tpl", day(2024, 1, 8))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(res.Created) != 0 || res.Walked != 1 {
		t.Fatalf("result = created %d walked %d, want 0 and 1", len(res.Created), res.Walked)
	}

	got := env.publisher.types()
	if len(got) == 0 || got[len(got)-1] != amqp.EventOccurrencesGenerated {
		t.Errorf("events = %v, want a trailing %s", got, amqp.EventOccurrencesGenerated)
	}

	views, err = env.engine.Transactions.GetRecurringTransactions(ctx, storage.TemplateFilter{})
	if err != nil {
		t.Fatalf("GetRecurringTransactions() error = %v", err)
	}
	if views[0].NextRunDate == nil || views[0].NextRunDate.String() != "2024-01-15" {
		t.Errorf("NextRunDate = %v, want 2024-01-15 after the watermark moved", views[0].NextRunDate)
	}
}
