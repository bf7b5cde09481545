// Package recurrence parses schedule descriptors and decides whether a
// template is due on a given calendar date.
//
// Descriptor forms:
//
//	""                      one-off; never due via the sweep
//	"daily"                 due every day
//	"weekly:MO,TH"          due on the listed weekdays
//	"every:3@2026-01-10"    due every N days counted from the anchor date
//	"rule:FREQ=WEEKLY;..."  RRULE subset, creation date as implicit start
//	"cron:0 9 * * 1"        5-field cron; due on dates the schedule fires
package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Kind int

const (
	OneOff Kind = iota
	Daily
	Weekly
	EveryN
	RuleBased
	CronBased
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

var weekdayNames = map[string]time.Weekday{
	"SU": time.Sunday,
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
}

// Schedule is a parsed descriptor.
type Schedule struct {
	Kind     Kind
	Weekdays []time.Weekday
	N        int
	Anchor   time.Time // local midnight; zero = use creation date
	Rule     Rule
	Cron     cron.Schedule
}

// Parse parses a schedule descriptor. Dates inside descriptors are
// interpreted in loc.
func Parse(descriptor string, loc *time.Location) (Schedule, error) {
	descriptor = strings.TrimSpace(descriptor)
	if descriptor == "" {
		return Schedule{Kind: OneOff}, nil
	}
	if descriptor == "daily" {
		return Schedule{Kind: Daily}, nil
	}

	if rest, ok := strings.CutPrefix(descriptor, "weekly:"); ok {
		var days []time.Weekday
		for _, name := range strings.Split(rest, ",") {
			wd, ok := weekdayNames[strings.ToUpper(strings.TrimSpace(name))]
			if !ok {
				return Schedule{}, fmt.Errorf("unknown weekday %q", name)
			}
			days = append(days, wd)
		}
		if len(days) == 0 {
			return Schedule{}, fmt.Errorf("weekly descriptor needs at least one weekday")
		}
		return Schedule{Kind: Weekly, Weekdays: days}, nil
	}

	if rest, ok := strings.CutPrefix(descriptor, "every:"); ok {
		nPart, anchorPart, hasAnchor := strings.Cut(rest, "@")
		n, err := strconv.Atoi(nPart)
		if err != nil || n < 1 {
			return Schedule{}, fmt.Errorf("invalid interval %q", nPart)
		}
		s := Schedule{Kind: EveryN, N: n}
		if hasAnchor {
			anchor, err := time.ParseInLocation("2006-01-02", anchorPart, loc)
			if err != nil {
				return Schedule{}, fmt.Errorf("invalid anchor date %q", anchorPart)
			}
			s.Anchor = anchor
		}
		return s, nil
	}

	if rest, ok := strings.CutPrefix(descriptor, "rule:"); ok {
		rule, err := ParseRule(rest)
		if err != nil {
			return Schedule{}, fmt.Errorf("parse rule: %w", err)
		}
		return Schedule{Kind: RuleBased, Rule: rule}, nil
	}

	if rest, ok := strings.CutPrefix(descriptor, "cron:"); ok {
		sched, err := cronParser.Parse(rest)
		if err != nil {
			return Schedule{}, fmt.Errorf("parse cron: %w", err)
		}
		return Schedule{Kind: CronBased, Cron: sched}, nil
	}

	return Schedule{}, fmt.Errorf("unknown schedule descriptor %q", descriptor)
}

// DueOn reports whether the schedule fires on the calendar date. date must
// be local midnight; created is the template's creation time, the implicit
// start when the descriptor gives none.
func (s Schedule) DueOn(date, created time.Time) bool {
	switch s.Kind {
	case OneOff:
		return false
	case Daily:
		return true
	case Weekly:
		for _, wd := range s.Weekdays {
			if date.Weekday() == wd {
				return true
			}
		}
		return false
	case EveryN:
		anchor := s.Anchor
		if anchor.IsZero() {
			anchor = startOfDay(created)
		}
		days := daysBetween(anchor, date)
		return days >= 0 && days%s.N == 0
	case RuleBased:
		return s.Rule.DueOn(date, startOfDay(created))
	case CronBased:
		dayStart := date
		dayEnd := date.AddDate(0, 0, 1)
		next := s.Cron.Next(dayStart.Add(-time.Second))
		return !next.Before(dayStart) && next.Before(dayEnd)
	}
	return false
}

// AtTimeOfDay returns the instant on t's calendar day at the "HH:MM" clock
// time, interpreted in loc.
func AtTimeOfDay(t time.Time, hhmm string, loc *time.Location) (time.Time, error) {
	parsed, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time of day %q", hhmm)
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), parsed.Hour(), parsed.Minute(), 0, 0, loc), nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// daysBetween counts calendar days from a to b, negative when b precedes a.
func daysBetween(a, b time.Time) int {
	a = startOfDay(a)
	b = startOfDay(b)
	return int(b.Sub(a).Hours() / 24)
}
