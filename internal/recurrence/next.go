package recurrence

import "time"

// maxScan bounds the forward walk from a Stepper's index estimate. Every
// stepper's estimate is at most two candidates short.
const maxScan = 8

// Next returns the earliest occurrence on or after ref. The boolean is false
// when the rule has no further occurrences or is invalid.
func (r Rule) Next(ref time.Time) (time.Time, bool) {
	if r.Validate() != nil {
		return time.Time{}, false
	}
	stepper, ok := StepperFor(r.Kind)
	if !ok {
		return time.Time{}, false
	}

	ref = ref.UTC()
	if ref.Before(r.Start) {
		ref = r.Start
	}

	// The first candidate may precede Start when the anchor was given
	// explicitly rather than derived from Start.
	first := 0
	if stepper.Occurrence(r, 0).Before(r.Start) {
		first = 1
	}

	k := max(stepper.Index(r, ref), first)
	for i := 0; i < maxScan; i, k = i+1, k+1 {
		t := stepper.Occurrence(r, k)
		if t.Before(ref) {
			continue
		}
		if r.Count > 0 && k-first >= r.Count {
			return time.Time{}, false
		}
		if !r.Until.IsZero() && t.After(r.Until) {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}

// After returns the earliest occurrence strictly after ref.
func (r Rule) After(ref time.Time) (time.Time, bool) {
	return r.Next(ref.Add(time.Nanosecond))
}

// Occurrences lists up to limit occurrences on or after from.
func (r Rule) Occurrences(from time.Time, limit int) []time.Time {
	var out []time.Time
	t, ok := r.Next(from)
	for ok && len(out) < limit {
		out = append(out, t)
		t, ok = r.After(t)
	}
	return out
}
