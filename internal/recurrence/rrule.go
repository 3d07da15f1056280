package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	rruleDateTime = "20060102T150405Z"
	rruleDate     = "20060102"
)

var weekdayCodes = map[string]time.Weekday{
	"SU": time.Sunday,
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
}

var weekdayNames = [...]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// rruleParts holds the raw RRULE properties before they are resolved into a Rule.
type rruleParts struct {
	freq       string
	interval   int
	byDay      string
	byDayNth   int
	bySetPos   int
	byMonthDay int
	count      int
	until      time.Time
}

// Parse decodes RRULE text into a Rule. The text is either a bare property
// list ("FREQ=WEEKLY;BYDAY=MO"), an "RRULE:" line, or a DTSTART line followed
// by an RRULE line. defaultStart is used when no DTSTART is present, and
// anchors missing from the text are derived from the effective start.
//
// Only the time-of-day-free subset this package evaluates is accepted;
// anything else is reported as ErrMalformedRule.
func Parse(text string, defaultStart time.Time) (Rule, error) {
	var (
		start    = day(defaultStart)
		ruleLine string
	)

	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		switch {
		case line == "":
		case strings.HasPrefix(upper, "DTSTART"):
			idx := strings.LastIndexByte(line, ':')
			if idx < 0 {
				return Rule{}, fmt.Errorf("%w: DTSTART without value", ErrMalformedRule)
			}
			t, err := parseRRuleDate(line[idx+1:])
			if err != nil {
				return Rule{}, fmt.Errorf("%w: DTSTART: %v", ErrMalformedRule, err)
			}
			start = t
		case strings.HasPrefix(upper, "RRULE:"):
			if ruleLine != "" {
				return Rule{}, fmt.Errorf("%w: multiple RRULE lines", ErrMalformedRule)
			}
			ruleLine = line[len("RRULE:"):]
		case strings.Contains(upper, "FREQ="):
			if ruleLine != "" {
				return Rule{}, fmt.Errorf("%w: multiple RRULE lines", ErrMalformedRule)
			}
			ruleLine = line
		default:
			return Rule{}, fmt.Errorf("%w: unsupported line %q", ErrMalformedRule, line)
		}
	}

	if ruleLine == "" {
		return Rule{}, fmt.Errorf("%w: missing RRULE", ErrMalformedRule)
	}
	if start.IsZero() {
		return Rule{}, fmt.Errorf("%w: missing start date", ErrMalformedRule)
	}

	parts, err := parseParts(ruleLine)
	if err != nil {
		return Rule{}, err
	}
	r, err := parts.resolve(start)
	if err != nil {
		return Rule{}, err
	}
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	return r, nil
}

func parseParts(line string) (rruleParts, error) {
	p := rruleParts{interval: 1}
	seen := map[string]bool{}

	for _, part := range strings.Split(line, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return p, fmt.Errorf("%w: property %q has no value", ErrMalformedRule, part)
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		value = strings.ToUpper(strings.TrimSpace(value))
		if seen[key] {
			return p, fmt.Errorf("%w: duplicate %s", ErrMalformedRule, key)
		}
		seen[key] = true

		var err error
		switch key {
		case "FREQ":
			p.freq = value
		case "INTERVAL":
			p.interval, err = positiveInt(value)
		case "BYDAY":
			p.byDayNth, p.byDay, err = parseByDay(value)
		case "BYSETPOS":
			p.bySetPos, err = nonZeroInt(value)
		case "BYMONTHDAY":
			p.byMonthDay, err = nonZeroInt(value)
		case "COUNT":
			p.count, err = positiveInt(value)
		case "UNTIL":
			p.until, err = parseRRuleDate(value)
		case "WKST":
			if _, ok := weekdayCodes[value]; !ok {
				err = fmt.Errorf("unknown weekday %q", value)
			}
		default:
			err = fmt.Errorf("unsupported property")
		}
		if err != nil {
			return p, fmt.Errorf("%w: %s=%s: %v", ErrMalformedRule, key, value, err)
		}
	}

	if p.freq == "" {
		return p, fmt.Errorf("%w: missing FREQ", ErrMalformedRule)
	}
	return p, nil
}

// resolve turns the raw properties into a Rule anchored on start.
func (p rruleParts) resolve(start time.Time) (Rule, error) {
	var r Rule
	switch p.freq {
	case "WEEKLY":
		if p.byMonthDay != 0 || p.bySetPos != 0 || p.byDayNth != 0 {
			return Rule{}, fmt.Errorf("%w: weekly rules take a plain BYDAY only", ErrMalformedRule)
		}
		r = NewWeekly(start, p.interval)
		if p.byDay != "" {
			r.Weekday = weekdayCodes[p.byDay]
		}

	case "MONTHLY":
		switch {
		case p.byMonthDay != 0 && p.byDay != "":
			return Rule{}, fmt.Errorf("%w: BYMONTHDAY and BYDAY are mutually exclusive", ErrMalformedRule)
		case p.byMonthDay != 0:
			if p.bySetPos != 0 {
				return Rule{}, fmt.Errorf("%w: BYSETPOS requires BYDAY", ErrMalformedRule)
			}
			r = NewMonthlyByDay(start, p.interval)
			r.Day = p.byMonthDay
		case p.byDay != "":
			nth := p.byDayNth
			if nth != 0 && p.bySetPos != 0 {
				return Rule{}, fmt.Errorf("%w: ordinal BYDAY with BYSETPOS", ErrMalformedRule)
			}
			if nth == 0 {
				nth = p.bySetPos
			}
			if nth == 0 {
				return Rule{}, fmt.Errorf("%w: monthly BYDAY needs a position", ErrMalformedRule)
			}
			r = NewMonthlyByNthWeekday(start, p.interval)
			r.Weekday = weekdayCodes[p.byDay]
			r.Nth = nth
		default:
			if p.bySetPos != 0 {
				return Rule{}, fmt.Errorf("%w: BYSETPOS requires BYDAY", ErrMalformedRule)
			}
			r = NewMonthlyByDay(start, p.interval)
		}

	default:
		return Rule{}, fmt.Errorf("%w: unsupported FREQ %q", ErrMalformedRule, p.freq)
	}

	r.Count = p.count
	r.Until = p.until
	return r, nil
}

// parseByDay parses a single BYDAY token such as "MO", "3WE" or "-1FR".
func parseByDay(value string) (int, string, error) {
	if strings.Contains(value, ",") {
		return 0, "", fmt.Errorf("multiple weekdays are not supported")
	}
	if len(value) < 2 {
		return 0, "", fmt.Errorf("invalid weekday %q", value)
	}
	code := value[len(value)-2:]
	if _, ok := weekdayCodes[code]; !ok {
		return 0, "", fmt.Errorf("invalid weekday %q", code)
	}
	prefix := value[:len(value)-2]
	if prefix == "" {
		return 0, code, nil
	}
	nth, err := strconv.Atoi(strings.TrimPrefix(prefix, "+"))
	if err != nil || nth == 0 {
		return 0, "", fmt.Errorf("invalid weekday position %q", prefix)
	}
	return nth, code, nil
}

func nonZeroInt(value string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(value, "+"))
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("must not be zero")
	}
	return n, nil
}

func positiveInt(value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("must be positive")
	}
	return n, nil
}

// parseRRuleDate accepts DATE and DATE-TIME values and keeps the calendar
// day only. Values carrying a TZID are read in their own wall clock.
func parseRRuleDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if len(value) < len(rruleDate) {
		return time.Time{}, fmt.Errorf("invalid date %q", value)
	}
	if strings.HasSuffix(value, "Z") {
		t, err := time.Parse(rruleDateTime, value)
		if err != nil {
			return time.Time{}, err
		}
		return day(t), nil
	}
	t, err := time.ParseInLocation(rruleDate, value[:len(rruleDate)], time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

// String encodes r as a DTSTART line followed by an RRULE line.
func (r Rule) String() string {
	parts := make([]string, 0, 4)
	switch r.Kind {
	case Weekly:
		parts = append(parts, "FREQ=WEEKLY")
	default:
		parts = append(parts, "FREQ=MONTHLY")
	}
	if r.Interval > 1 {
		parts = append(parts, "INTERVAL="+strconv.Itoa(r.Interval))
	}
	switch r.Kind {
	case Weekly:
		parts = append(parts, "BYDAY="+weekdayName(r.Weekday))
	case MonthlyByDay:
		parts = append(parts, "BYMONTHDAY="+strconv.Itoa(r.Day))
	case MonthlyByNthWeekday:
		parts = append(parts, "BYDAY="+strconv.Itoa(r.Nth)+weekdayName(r.Weekday))
	}
	if r.Count > 0 {
		parts = append(parts, "COUNT="+strconv.Itoa(r.Count))
	}
	if !r.Until.IsZero() {
		parts = append(parts, "UNTIL="+r.Until.UTC().Format(rruleDateTime))
	}

	var b strings.Builder
	if !r.Start.IsZero() {
		b.WriteString("DTSTART:")
		b.WriteString(r.Start.UTC().Format(rruleDateTime))
		b.WriteString("\n")
	}
	b.WriteString("RRULE:")
	b.WriteString(strings.Join(parts, ";"))
	return b.String()
}

func weekdayName(wd time.Weekday) string {
	if wd < time.Sunday || wd > time.Saturday {
		return "??"
	}
	return weekdayNames[wd]
}
