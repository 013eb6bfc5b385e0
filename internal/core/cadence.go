// Package core provides the domain types of the recurring transaction engine.
//
// This file implements the Strategy Pattern for interval arithmetic. Each
// interval (daily, weekly, monthly) has its own cadence that knows how to
// compute the n-th date of a series and where a given day falls in it.
package core

import (
	"fmt"
	"time"
)

const (
	Daily   Interval = "daily"
	Weekly  Interval = "weekly"
	Monthly Interval = "monthly"
)

// Interval is the repetition unit of a template.
type Interval string

// Validate returns a ValidationError for unknown intervals.
func (i Interval) Validate() error {
	if _, ok := cadences[i]; !ok {
		return NewValidationError("interval", fmt.Sprintf("unknown interval %q", string(i)))
	}
	return nil
}

// Cadence is the strategy interface for a repetition interval.
type Cadence interface {
	// Step returns the n-th date (n >= 0) of a series anchored at anchor.
	// dayOfMonth is only meaningful for month based cadences.
	Step(anchor Day, dayOfMonth, n int) Day

	// IndexOnOrAfter returns the smallest n such that Step(anchor, dayOfMonth, n)
	// is not before day.
	IndexOnOrAfter(anchor Day, dayOfMonth int, day Day) int
}

// DailyCadence advances one calendar day per step.
type DailyCadence struct{}

func (DailyCadence) Step(anchor Day, _ int, n int) Day {
	return anchor.AddDays(n)
}

func (DailyCadence) IndexOnOrAfter(anchor Day, _ int, day Day) int {
	if !day.After(anchor) {
		return 0
	}
	return anchor.DaysUntil(day)
}

// WeeklyCadence advances seven calendar days per step.
type WeeklyCadence struct{}

func (WeeklyCadence) Step(anchor Day, _ int, n int) Day {
	return anchor.AddDays(7 * n)
}

func (WeeklyCadence) IndexOnOrAfter(anchor Day, _ int, day Day) int {
	if !day.After(anchor) {
		return 0
	}
	return (anchor.DaysUntil(day) + 6) / 7
}

// MonthlyCadence advances one calendar month per step. When dayOfMonth does
// not exist in the target month the date clamps to the month's last day; the
// clamp is recomputed for every step so it never carries into later months.
type MonthlyCadence struct{}

func (MonthlyCadence) Step(anchor Day, dayOfMonth, n int) Day {
	if dayOfMonth < 1 {
		dayOfMonth = anchor.Day()
	}
	// Day 1 of the target month never overflows, so time.Date normalizes
	// year rollover for us.
	first := time.Date(anchor.Year(), anchor.Month()+time.Month(n), 1, 12, 0, 0, 0, anchor.Location())
	day := dayOfMonth
	if last := DaysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return NewDayIn(first.Year(), first.Month(), day, anchor.Location())
}

func (c MonthlyCadence) IndexOnOrAfter(anchor Day, dayOfMonth int, day Day) int {
	if !day.After(anchor) {
		return 0
	}
	months := (day.Year()-anchor.Year())*12 + int(day.Month()) - int(anchor.Month())
	if months < 0 {
		return 0
	}
	if c.Step(anchor, dayOfMonth, months).Before(day) {
		return months + 1
	}
	return months
}

// cadences maps intervals to their strategies.
var cadences = map[Interval]Cadence{
	Daily:   DailyCadence{},
	Weekly:  WeeklyCadence{},
	Monthly: MonthlyCadence{},
}

// GetCadence returns the cadence for an interval.
func GetCadence(interval Interval) (Cadence, error) {
	c, ok := cadences[interval]
	if !ok {
		return nil, fmt.Errorf("unknown interval: %s", interval)
	}
	return c, nil
}

// Advance returns d moved forward by steps intervals. Monthly steps clamp d's
// day-of-month to the target month's length.
func Advance(d Day, interval Interval, steps int) (Day, error) {
	c, err := GetCadence(interval)
	if err != nil {
		return Day{}, err
	}
	return c.Step(d, d.Day(), steps), nil
}

// Schedule is the date sequence of a template: Anchor, then one step per
// Interval. Every date is computed from Anchor directly.
type Schedule struct {
	Anchor     Day
	Interval   Interval
	DayOfMonth int
}

// Nth returns the n-th date of the schedule (0 is the anchor).
func (s Schedule) Nth(n int) Day {
	c, err := GetCadence(s.Interval)
	if err != nil {
		return Day{}
	}
	return c.Step(s.Anchor, s.dayOfMonth(), n)
}

// FirstOnOrAfter returns the first date of the schedule that is not before day,
// together with its index.
func (s Schedule) FirstOnOrAfter(day Day) (Day, int) {
	c, err := GetCadence(s.Interval)
	if err != nil {
		return Day{}, -1
	}
	n := c.IndexOnOrAfter(s.Anchor, s.dayOfMonth(), day)
	return c.Step(s.Anchor, s.dayOfMonth(), n), n
}

// Contains reports whether day is one of the schedule's dates.
func (s Schedule) Contains(day Day) bool {
	d, n := s.FirstOnOrAfter(day)
	return n >= 0 && d.Equal(day)
}

// Between returns the schedule's dates in [from, through], in order.
func (s Schedule) Between(from, through Day) []Day {
	if through.Before(from) {
		return nil
	}
	d, n := s.FirstOnOrAfter(from)
	if n < 0 {
		return nil
	}
	var out []Day
	for !d.After(through) {
		out = append(out, d)
		n++
		d = s.Nth(n)
	}
	return out
}

func (s Schedule) dayOfMonth() int {
	if s.DayOfMonth > 0 {
		return s.DayOfMonth
	}
	return s.Anchor.Day()
}
