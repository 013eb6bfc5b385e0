package core

import (
	"fmt"
	"time"
)

// DayLayout is the storage and wire format of a calendar day.
const DayLayout = "2006-01-02"

// Day is a calendar day anchored at 12:00 in its location. Comparisons only look
// at the year, month and day so two Days in different locations compare by date.
type Day struct {
	time.Time
}

// Normalize anchors t to noon of its calendar day in t's own location.
func Normalize(t time.Time) Day {
	y, m, d := t.Date()
	return Day{Time: time.Date(y, m, d, 12, 0, 0, 0, t.Location())}
}

// NormalizeIn converts t to loc before anchoring it, so an instant late in the
// evening UTC lands on the calendar day the user sees locally.
func NormalizeIn(t time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.UTC
	}
	return Normalize(t.In(loc))
}

// NewDay creates a Day from year, month, day at noon UTC.
func NewDay(year int, month time.Month, day int) Day {
	return NewDayIn(year, month, day, time.UTC)
}

// NewDayIn creates a Day from year, month, day at noon in loc.
func NewDayIn(year int, month time.Month, day int, loc *time.Location) Day {
	if loc == nil {
		loc = time.UTC
	}
	return Normalize(time.Date(year, month, day, 0, 0, 0, 0, loc))
}

// ParseDay parses a YYYY-MM-DD string into a Day in loc.
func ParseDay(s string, loc *time.Location) (Day, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DayLayout, s, loc)
	if err != nil {
		return Day{}, fmt.Errorf("parse day %q: %w", s, err)
	}
	return Normalize(t), nil
}

// String returns the day as YYYY-MM-DD.
func (d Day) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DayLayout)
}

// Compare returns -1, 0 or +1 comparing calendar dates only.
func (d Day) Compare(o Day) int {
	dy, dm, dd := d.Date()
	oy, om, od := o.Date()
	switch {
	case dy != oy:
		return sign(dy - oy)
	case dm != om:
		return sign(int(dm) - int(om))
	default:
		return sign(dd - od)
	}
}

func (d Day) Before(o Day) bool { return d.Compare(o) < 0 }
func (d Day) After(o Day) bool  { return d.Compare(o) > 0 }
func (d Day) Equal(o Day) bool  { return d.Compare(o) == 0 }

// AddDays returns the day n calendar days later, still anchored at noon.
func (d Day) AddDays(n int) Day {
	return Normalize(d.AddDate(0, 0, n))
}

// Next returns the following calendar day.
func (d Day) Next() Day { return d.AddDays(1) }

// Prev returns the preceding calendar day.
func (d Day) Prev() Day { return d.AddDays(-1) }

// FirstOfMonth returns the first day of d's month.
func (d Day) FirstOfMonth() Day {
	return NewDayIn(d.Year(), d.Month(), 1, d.Location())
}

// DaysUntil returns the number of calendar days from d to o (negative if o is earlier).
func (d Day) DaysUntil(o Day) int {
	a := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(o.Year(), o.Month(), o.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// MaxDay returns the later of two days.
func MaxDay(a, b Day) Day {
	if a.After(b) {
		return a
	}
	return b
}

// MinDay returns the earlier of two days.
func MinDay(a, b Day) Day {
	if a.Before(b) {
		return a
	}
	return b
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	default:
		return 0
	}
}
