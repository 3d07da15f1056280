package recurrence

import "time"

// Stepper is the strategy for walking one kind of rule. Each kind lays its
// candidate dates out as a sequence indexed from the period containing the
// rule's start; candidates increase strictly with the index.
type Stepper interface {
	// Occurrence returns the k-th candidate date, k >= 0.
	Occurrence(r Rule, k int) time.Time

	// Index returns a lower bound on the smallest k whose candidate is on
	// or after ref. ref is never before r.Start.
	Index(r Rule, ref time.Time) int
}

type weeklyStepper struct{}

func (weeklyStepper) first(r Rule) time.Time {
	offset := (int(r.Weekday) - int(r.Start.Weekday()) + 7) % 7
	return r.Start.AddDate(0, 0, offset)
}

func (s weeklyStepper) Occurrence(r Rule, k int) time.Time {
	return s.first(r).AddDate(0, 0, 7*r.Interval*k)
}

func (s weeklyStepper) Index(r Rule, ref time.Time) int {
	first := s.first(r)
	if !ref.After(first) {
		return 0
	}
	days := int(ref.Sub(first) / (24 * time.Hour))
	return days / (7 * r.Interval)
}

// monthStepper walks rules that produce one date per active month.
type monthStepper struct {
	dateIn func(r Rule, year int, month time.Month) time.Time
}

func (s monthStepper) Occurrence(r Rule, k int) time.Time {
	// time.Date normalizes the month overflow into following years.
	m := time.Date(r.Start.Year(), r.Start.Month()+time.Month(r.Interval*k), 1, 0, 0, 0, 0, time.UTC)
	return s.dateIn(r, m.Year(), m.Month())
}

func (monthStepper) Index(r Rule, ref time.Time) int {
	months := (ref.Year()-r.Start.Year())*12 + int(ref.Month()) - int(r.Start.Month())
	if months <= 0 {
		return 0
	}
	return months / r.Interval
}

// clampedDay keeps the day inside the month: positive days past the end
// land on the last day, negative days before the start land on the first.
func clampedDay(r Rule, year int, month time.Month) time.Time {
	n := daysIn(year, month)
	d := min(r.Day, n)
	if r.Day < 0 {
		d = max(n+r.Day+1, 1)
	}
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

// nthWeekday counts from the first (Nth > 0) or last (Nth < 0) such weekday
// of the month. A fifth position the month lacks stays on the fourth.
func nthWeekday(r Rule, year int, month time.Month) time.Time {
	if r.Nth < 0 {
		last := time.Date(year, month, daysIn(year, month), 0, 0, 0, 0, time.UTC)
		back := (int(last.Weekday()) - int(r.Weekday) + 7) % 7
		d := last.AddDate(0, 0, -back)
		for n := -1; n > r.Nth; n-- {
			prev := d.AddDate(0, 0, -7)
			if prev.Month() != month {
				break
			}
			d = prev
		}
		return d
	}
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(r.Weekday) - int(first.Weekday()) + 7) % 7
	d := first.AddDate(0, 0, offset)
	for n := 1; n < r.Nth; n++ {
		next := d.AddDate(0, 0, 7)
		if next.Month() != month {
			break
		}
		d = next
	}
	return d
}

// steppers maps rule kinds to their strategies.
var steppers = map[Kind]Stepper{
	Weekly:              weeklyStepper{},
	MonthlyByDay:        monthStepper{dateIn: clampedDay},
	MonthlyByNthWeekday: monthStepper{dateIn: nthWeekday},
}

// StepperFor returns the strategy for a rule kind.
func StepperFor(kind Kind) (Stepper, bool) {
	s, ok := steppers[kind]
	return s, ok
}
