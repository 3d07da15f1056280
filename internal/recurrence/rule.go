// Package recurrence evaluates recurrence rules for recurring transactions
// and transfers.
//
// A Rule is a tagged variant: weekly on a weekday every N weeks, monthly on a
// day of the month, or monthly on the nth weekday of the month. The anchor
// (weekday, day of month, nth weekday) is derived from the start date when
// the rule is built and only changes through Rebase.
//
// Occurrences are calendar days at midnight UTC. Day-of-month anchors that
// do not exist in a shorter month are clamped to that month's last day, so a
// rule anchored on the 31st yields Jan 31, Feb 29 (or 28), Mar 31, Apr 30.
// A negative day counts back from the month's end, -1 being the last day.
// A start date in the fifth week of its month anchors on the last weekday of
// the month, which always exists. An explicit fifth (or fifth-from-last)
// weekday falls back to the last (or first) such weekday in months that
// have only four.
//
// Rules are serialized to RFC 5545 RRULE text at the storage boundary only;
// see Parse and Rule.String.
package recurrence

import (
	"errors"
	"fmt"
	"time"
)

const (
	Weekly              Kind = "weekly"
	MonthlyByDay        Kind = "monthly_by_day"
	MonthlyByNthWeekday Kind = "monthly_by_nth_weekday"
)

// LastWeek is the Nth value meaning "last such weekday of the month".
const LastWeek = -1

// ErrMalformedRule is wrapped by every parse and validation failure.
var ErrMalformedRule = errors.New("malformed recurrence rule")

type (
	Kind string

	Rule struct {
		Kind Kind

		// Interval is in weeks for Weekly and in months otherwise.
		Interval int

		Weekday time.Weekday // Weekly, MonthlyByNthWeekday
		Day     int          // MonthlyByDay, 1-31 or -31 to -1
		Nth     int          // MonthlyByNthWeekday, 1-5 or -5 to -1

		// Start is the first day the rule may produce an occurrence.
		Start time.Time

		// Until bounds the rule inclusively. Zero means unbounded.
		Until time.Time

		// Count bounds the number of occurrences. Zero means unbounded.
		Count int
	}
)

// NewWeekly returns a rule repeating every intervalWeeks weeks on start's weekday.
func NewWeekly(start time.Time, intervalWeeks int) Rule {
	start = day(start)
	return Rule{Kind: Weekly, Interval: intervalWeeks, Weekday: start.Weekday(), Start: start}
}

// NewMonthlyByDay returns a rule repeating every intervalMonths months on
// start's day of the month.
func NewMonthlyByDay(start time.Time, intervalMonths int) Rule {
	start = day(start)
	return Rule{Kind: MonthlyByDay, Interval: intervalMonths, Day: start.Day(), Start: start}
}

// NewMonthlyByNthWeekday returns a rule repeating every intervalMonths
// months on the same nth weekday as start (e.g. third Wednesday).
func NewMonthlyByNthWeekday(start time.Time, intervalMonths int) Rule {
	start = day(start)
	return Rule{
		Kind:     MonthlyByNthWeekday,
		Interval: intervalMonths,
		Weekday:  start.Weekday(),
		Nth:      nthOf(start),
		Start:    start,
	}
}

// Rebase returns a copy of r anchored on a new start date. Interval and
// bounds are kept.
func (r Rule) Rebase(start time.Time) Rule {
	var rebased Rule
	switch r.Kind {
	case Weekly:
		rebased = NewWeekly(start, r.Interval)
	case MonthlyByDay:
		rebased = NewMonthlyByDay(start, r.Interval)
	case MonthlyByNthWeekday:
		rebased = NewMonthlyByNthWeekday(start, r.Interval)
	default:
		rebased = r
		rebased.Start = day(start)
	}
	rebased.Until = r.Until
	rebased.Count = r.Count
	return rebased
}

// Validate reports whether r can be evaluated.
func (r Rule) Validate() error {
	if r.Interval < 1 {
		return fmt.Errorf("%w: interval must be at least 1, got %d", ErrMalformedRule, r.Interval)
	}
	if r.Start.IsZero() {
		return fmt.Errorf("%w: missing start date", ErrMalformedRule)
	}
	if r.Count < 0 {
		return fmt.Errorf("%w: negative count %d", ErrMalformedRule, r.Count)
	}
	if r.Count > 0 && !r.Until.IsZero() {
		return fmt.Errorf("%w: count and until are mutually exclusive", ErrMalformedRule)
	}

	switch r.Kind {
	case Weekly:
		return validWeekday(r.Weekday)
	case MonthlyByDay:
		if r.Day == 0 || r.Day < -31 || r.Day > 31 {
			return fmt.Errorf("%w: day of month %d out of range", ErrMalformedRule, r.Day)
		}
		return nil
	case MonthlyByNthWeekday:
		if r.Nth == 0 || r.Nth < -5 || r.Nth > 5 {
			return fmt.Errorf("%w: weekday position %d out of range", ErrMalformedRule, r.Nth)
		}
		return validWeekday(r.Weekday)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedRule, r.Kind)
	}
}

func validWeekday(wd time.Weekday) error {
	if wd < time.Sunday || wd > time.Saturday {
		return fmt.Errorf("%w: weekday %d out of range", ErrMalformedRule, wd)
	}
	return nil
}

// day truncates t to midnight UTC of its calendar day.
func day(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// nthOf returns the position of t's weekday within its month, mapping the
// fifth week to LastWeek.
func nthOf(t time.Time) int {
	n := (t.Day()-1)/7 + 1
	if n > 4 {
		return LastWeek
	}
	return n
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
