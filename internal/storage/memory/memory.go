// Package memory provides an in-process storage.Store for development and
// tests. Transactions run against a private copy of the data that replaces
// the live copy only when the transaction succeeds.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	"recurrent/internal/core"
	"recurrent/internal/storage"
)

type slotKey struct {
	templateID string
	day        string
}

type state struct {
	templates   map[string]core.Template
	occurrences map[string]core.Occurrence
	slots       map[slotKey]string
	tombstones  map[slotKey]core.Tombstone
}

func newState() *state {
	return &state{
		templates:   map[string]core.Template{},
		occurrences: map[string]core.Occurrence{},
		slots:       map[slotKey]string{},
		tombstones:  map[slotKey]core.Tombstone{},
	}
}

func (st *state) clone() *state {
	return &state{
		templates:   maps.Clone(st.templates),
		occurrences: maps.Clone(st.occurrences),
		slots:       maps.Clone(st.slots),
		tombstones:  maps.Clone(st.tombstones),
	}
}

// Store is a storage.Store kept entirely in memory.
type Store struct {
	writeMu sync.Mutex // serializes transactions
	mu      sync.RWMutex
	st      *state
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: newState()}
}

// InTx runs fn against a snapshot and publishes it only if fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(storage.Repository) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	snapshot := s.st.clone()
	s.mu.RUnlock()

	if err := fn(&view{st: snapshot}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.mu.Lock()
	s.st = snapshot
	s.mu.Unlock()
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error                { return nil }

func (s *Store) read() *view {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// The published state is never mutated in place, so reading it after
	// releasing the lock is safe.
	return &view{st: s.st}
}

func (s *Store) write(ctx context.Context, fn func(*view) error) error {
	return s.InTx(ctx, func(r storage.Repository) error { return fn(r.(*view)) })
}

func (s *Store) GetTemplate(ctx context.Context, id string) (core.Template, error) {
	return s.read().GetTemplate(ctx, id)
}

func (s *Store) ListTemplates(ctx context.Context, f storage.TemplateFilter) ([]core.Template, error) {
	return s.read().ListTemplates(ctx, f)
}

func (s *Store) InsertTemplate(ctx context.Context, t core.Template) error {
	return s.write(ctx, func(v *view) error { return v.InsertTemplate(ctx, t) })
}

func (s *Store) UpdateTemplate(ctx context.Context, t core.Template) error {
	return s.write(ctx, func(v *view) error { return v.UpdateTemplate(ctx, t) })
}

func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	return s.write(ctx, func(v *view) error { return v.DeleteTemplate(ctx, id) })
}

func (s *Store) GetOccurrence(ctx context.Context, id string) (core.Occurrence, error) {
	return s.read().GetOccurrence(ctx, id)
}

func (s *Store) OccurrenceExists(ctx context.Context, templateID string, slot core.Day) (bool, error) {
	return s.read().OccurrenceExists(ctx, templateID, slot)
}

func (s *Store) ListOccurrences(ctx context.Context, f storage.OccurrenceFilter) ([]core.Occurrence, error) {
	return s.read().ListOccurrences(ctx, f)
}

func (s *Store) InsertOccurrence(ctx context.Context, o core.Occurrence) (bool, error) {
	var inserted bool
	err := s.write(ctx, func(v *view) error {
		var err error
		inserted, err = v.InsertOccurrence(ctx, o)
		return err
	})
	return inserted, err
}

func (s *Store) UpdateOccurrence(ctx context.Context, o core.Occurrence) error {
	return s.write(ctx, func(v *view) error { return v.UpdateOccurrence(ctx, o) })
}

func (s *Store) DeleteOccurrence(ctx context.Context, id string) error {
	return s.write(ctx, func(v *view) error { return v.DeleteOccurrence(ctx, id) })
}

func (s *Store) DeleteOccurrencesAfter(ctx context.Context, templateID string, boundary core.Day) (int, error) {
	var n int
	err := s.write(ctx, func(v *view) error {
		var err error
		n, err = v.DeleteOccurrencesAfter(ctx, templateID, boundary)
		return err
	})
	return n, err
}

func (s *Store) DeleteOccurrencesByTemplate(ctx context.Context, templateID string) (int, error) {
	var n int
	err := s.write(ctx, func(v *view) error {
		var err error
		n, err = v.DeleteOccurrencesByTemplate(ctx, templateID)
		return err
	})
	return n, err
}

func (s *Store) HasTombstone(ctx context.Context, templateID string, slot core.Day) (bool, error) {
	return s.read().HasTombstone(ctx, templateID, slot)
}

func (s *Store) ListTombstones(ctx context.Context, templateID string) ([]core.Tombstone, error) {
	return s.read().ListTombstones(ctx, templateID)
}

func (s *Store) InsertTombstone(ctx context.Context, ts core.Tombstone) error {
	return s.write(ctx, func(v *view) error { return v.InsertTombstone(ctx, ts) })
}

func (s *Store) DeleteTombstones(ctx context.Context, templateID string) error {
	return s.write(ctx, func(v *view) error { return v.DeleteTombstones(ctx, templateID) })
}

// view implements storage.Repository over one state. It does no locking.
type view struct {
	st *state
}

func (v *view) GetTemplate(_ context.Context, id string) (core.Template, error) {
	t, ok := v.st.templates[id]
	if !ok {
		return core.Template{}, fmt.Errorf("template %s: %w", id, core.ErrNotFound)
	}
	return t, nil
}

func (v *view) ListTemplates(_ context.Context, f storage.TemplateFilter) ([]core.Template, error) {
	out := make([]core.Template, 0, len(v.st.templates))
	for _, t := range v.st.templates {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.Kind != "" && t.Kind != f.Kind {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *view) InsertTemplate(_ context.Context, t core.Template) error {
	if _, ok := v.st.templates[t.ID]; ok {
		return fmt.Errorf("create template: duplicate id %s", t.ID)
	}
	v.st.templates[t.ID] = t
	return nil
}

func (v *view) UpdateTemplate(_ context.Context, t core.Template) error {
	if _, ok := v.st.templates[t.ID]; !ok {
		return fmt.Errorf("template %s: %w", t.ID, core.ErrNotFound)
	}
	v.st.templates[t.ID] = t
	return nil
}

func (v *view) DeleteTemplate(_ context.Context, id string) error {
	if _, ok := v.st.templates[id]; !ok {
		return fmt.Errorf("template %s: %w", id, core.ErrNotFound)
	}
	delete(v.st.templates, id)
	return nil
}

func (v *view) GetOccurrence(_ context.Context, id string) (core.Occurrence, error) {
	o, ok := v.st.occurrences[id]
	if !ok {
		return core.Occurrence{}, fmt.Errorf("occurrence %s: %w", id, core.ErrNotFound)
	}
	return o, nil
}

func (v *view) OccurrenceExists(_ context.Context, templateID string, slot core.Day) (bool, error) {
	_, ok := v.st.slots[slotKey{templateID, slot.String()}]
	return ok, nil
}

func (v *view) ListOccurrences(_ context.Context, f storage.OccurrenceFilter) ([]core.Occurrence, error) {
	out := make([]core.Occurrence, 0)
	for _, o := range v.st.occurrences {
		if f.TemplateID != "" && (o.TemplateID == nil || *o.TemplateID != f.TemplateID) {
			continue
		}
		if f.Kind != "" && o.Kind != f.Kind {
			continue
		}
		if !f.From.IsZero() && o.Date.Before(f.From) {
			continue
		}
		if !f.Through.IsZero() && o.Date.After(f.Through) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Date.Compare(out[j].Date); c != 0 {
			return c < 0
		}
		if c := out[i].ScheduledFor.Compare(out[j].ScheduledFor); c != 0 {
			return c < 0
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *view) InsertOccurrence(_ context.Context, o core.Occurrence) (bool, error) {
	if _, ok := v.st.occurrences[o.ID]; ok {
		return false, fmt.Errorf("create occurrence: duplicate id %s", o.ID)
	}
	if o.ScheduledFor.IsZero() {
		o.ScheduledFor = o.Date
	}
	if o.IsRecurring() {
		key := slotKey{*o.TemplateID, o.ScheduledFor.String()}
		if _, taken := v.st.slots[key]; taken {
			return false, nil
		}
		v.st.slots[key] = o.ID
	}
	v.st.occurrences[o.ID] = o
	return true, nil
}

func (v *view) UpdateOccurrence(_ context.Context, o core.Occurrence) error {
	cur, ok := v.st.occurrences[o.ID]
	if !ok {
		return fmt.Errorf("occurrence %s: %w", o.ID, core.ErrNotFound)
	}
	// Identity and slot are fixed once stored.
	o.TemplateID = cur.TemplateID
	o.ScheduledFor = cur.ScheduledFor
	o.GeneratedAt = cur.GeneratedAt
	v.st.occurrences[o.ID] = o
	return nil
}

func (v *view) DeleteOccurrence(_ context.Context, id string) error {
	o, ok := v.st.occurrences[id]
	if !ok {
		return fmt.Errorf("occurrence %s: %w", id, core.ErrNotFound)
	}
	v.remove(o)
	return nil
}

func (v *view) DeleteOccurrencesAfter(_ context.Context, templateID string, boundary core.Day) (int, error) {
	n := 0
	for _, o := range v.st.occurrences {
		if o.TemplateID != nil && *o.TemplateID == templateID && o.ScheduledFor.After(boundary) {
			v.remove(o)
			n++
		}
	}
	return n, nil
}

func (v *view) DeleteOccurrencesByTemplate(_ context.Context, templateID string) (int, error) {
	n := 0
	for _, o := range v.st.occurrences {
		if o.TemplateID != nil && *o.TemplateID == templateID {
			v.remove(o)
			n++
		}
	}
	return n, nil
}

func (v *view) remove(o core.Occurrence) {
	delete(v.st.occurrences, o.ID)
	if o.IsRecurring() {
		delete(v.st.slots, slotKey{*o.TemplateID, o.ScheduledFor.String()})
	}
}

func (v *view) HasTombstone(_ context.Context, templateID string, slot core.Day) (bool, error) {
	_, ok := v.st.tombstones[slotKey{templateID, slot.String()}]
	return ok, nil
}

func (v *view) ListTombstones(_ context.Context, templateID string) ([]core.Tombstone, error) {
	out := make([]core.Tombstone, 0)
	for k, ts := range v.st.tombstones {
		if k.templateID == templateID {
			out = append(out, ts)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	return out, nil
}

func (v *view) InsertTombstone(_ context.Context, ts core.Tombstone) error {
	key := slotKey{ts.TemplateID, ts.ScheduledFor.String()}
	if _, ok := v.st.tombstones[key]; ok {
		return nil
	}
	v.st.tombstones[key] = ts
	return nil
}

func (v *view) DeleteTombstones(_ context.Context, templateID string) error {
	for k := range v.st.tombstones {
		if k.templateID == templateID {
			delete(v.st.tombstones, k)
		}
	}
	return nil
}
