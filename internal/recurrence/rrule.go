package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Freq int

const (
	FreqDaily Freq = iota
	FreqWeekly
	FreqMonthly
	FreqYearly
)

var freqFromName = map[string]Freq{
	"DAILY":   FreqDaily,
	"WEEKLY":  FreqWeekly,
	"MONTHLY": FreqMonthly,
	"YEARLY":  FreqYearly,
}

// Rule is a parsed RRULE subset: FREQ, INTERVAL, BYDAY, BYMONTHDAY, COUNT,
// UNTIL.
type Rule struct {
	Freq       Freq
	Interval   int            // default 1
	ByDay      []time.Weekday // WEEKLY: which days (empty = same weekday as start)
	ByMonthDay int            // MONTHLY: day of month (0 = same as start)
	Count      int            // max occurrences (0 = unlimited)
	Until      *time.Time     // stop after this date (nil = no limit)
}

// ParseRule parses an RRULE string like "FREQ=WEEKLY;BYDAY=MO,WE;INTERVAL=2".
func ParseRule(s string) (Rule, error) {
	if s == "" {
		return Rule{}, fmt.Errorf("empty rule")
	}

	r := Rule{Interval: 1}
	var hasFreq bool

	for _, part := range strings.Split(s, ";") {
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return Rule{}, fmt.Errorf("invalid rule part: %q", part)
		}

		switch key {
		case "FREQ":
			f, ok := freqFromName[val]
			if !ok {
				return Rule{}, fmt.Errorf("unknown frequency: %q", val)
			}
			r.Freq = f
			hasFreq = true

		case "INTERVAL":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return Rule{}, fmt.Errorf("invalid interval: %q", val)
			}
			r.Interval = n

		case "BYDAY":
			for _, d := range strings.Split(val, ",") {
				wd, ok := weekdayNames[strings.TrimSpace(d)]
				if !ok {
					return Rule{}, fmt.Errorf("unknown day: %q", d)
				}
				r.ByDay = append(r.ByDay, wd)
			}

		case "BYMONTHDAY":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 || n > 31 {
				return Rule{}, fmt.Errorf("invalid BYMONTHDAY: %q", val)
			}
			r.ByMonthDay = n

		case "COUNT":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return Rule{}, fmt.Errorf("invalid count: %q", val)
			}
			r.Count = n

		case "UNTIL":
			t, err := time.Parse("20060102T150405Z", val)
			if err != nil {
				t, err = time.Parse("20060102", val)
				if err != nil {
					return Rule{}, fmt.Errorf("invalid UNTIL: %q", val)
				}
			}
			r.Until = &t

		default:
			return Rule{}, fmt.Errorf("unsupported rule key: %q", key)
		}
	}

	if !hasFreq {
		return Rule{}, fmt.Errorf("FREQ is required")
	}

	return r, nil
}

// DueOn reports whether the rule has an occurrence on date when started at
// start. Both must be local midnights. COUNT and UNTIL bound the enumeration.
func (r Rule) DueOn(date, start time.Time) bool {
	if date.Before(start) {
		return false
	}
	if r.Until != nil && date.After(startOfDay(*r.Until)) {
		return false
	}

	// Enumerate occurrence dates from start; stop once past date. Bounded so
	// a degenerate rule cannot spin forever.
	const maxIterations = 10000
	count := 0
	for i, d := 0, start; i < maxIterations; i++ {
		occs := r.datesInPeriod(d, start)
		for _, occ := range occs {
			if occ.Before(start) {
				continue
			}
			count++
			if r.Count > 0 && count > r.Count {
				return false
			}
			if occ.Equal(date) {
				return true
			}
			if occ.After(date) {
				return false
			}
		}
		d = r.nextPeriod(d)
		if d.After(date) {
			return false
		}
	}
	return false
}

// datesInPeriod lists the occurrence dates inside the period beginning at d.
func (r Rule) datesInPeriod(d, start time.Time) []time.Time {
	switch r.Freq {
	case FreqDaily:
		return []time.Time{d}
	case FreqWeekly:
		days := r.ByDay
		if len(days) == 0 {
			days = []time.Weekday{start.Weekday()}
		}
		monday := weekStart(d)
		var dates []time.Time
		for i := 0; i < 7; i++ {
			day := monday.AddDate(0, 0, i)
			for _, wd := range days {
				if day.Weekday() == wd {
					dates = append(dates, day)
				}
			}
		}
		return dates
	case FreqMonthly:
		dom := r.ByMonthDay
		if dom == 0 {
			dom = start.Day()
		}
		date := time.Date(d.Year(), d.Month(), dom, 0, 0, 0, 0, d.Location())
		if date.Month() != d.Month() {
			// Month too short for this day; no occurrence.
			return nil
		}
		return []time.Time{date}
	case FreqYearly:
		return []time.Time{time.Date(d.Year(), start.Month(), start.Day(), 0, 0, 0, 0, d.Location())}
	}
	return nil
}

func (r Rule) nextPeriod(d time.Time) time.Time {
	switch r.Freq {
	case FreqDaily:
		return d.AddDate(0, 0, r.Interval)
	case FreqWeekly:
		return weekStart(d).AddDate(0, 0, 7*r.Interval)
	case FreqMonthly:
		return time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, d.Location()).AddDate(0, r.Interval, 0)
	case FreqYearly:
		return time.Date(d.Year(), 1, 1, 0, 0, 0, 0, d.Location()).AddDate(r.Interval, 0, 0)
	}
	return d
}

// weekStart returns the Monday midnight at or before t.
func weekStart(t time.Time) time.Time {
	t = startOfDay(t)
	offset := (int(t.Weekday()) - int(time.Monday) + 7) % 7
	return t.AddDate(0, 0, -offset)
}
