// Package scheduler runs recurring background jobs on interval, daily, and
// weekly triggers.
package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Trigger decides when a job next fires.
type Trigger interface {
	// Next returns the first fire time strictly after now.
	Next(now time.Time) time.Time
	String() string
}

// IntervalTrigger fires every fixed duration.
type IntervalTrigger struct {
	Every time.Duration
}

func (t IntervalTrigger) Next(now time.Time) time.Time {
	return now.Add(t.Every)
}

func (t IntervalTrigger) String() string {
	return "interval:" + t.Every.String()
}

// DailyTrigger fires once a day at a fixed UTC wall time.
type DailyTrigger struct {
	Hour, Minute int
}

func (t DailyTrigger) Next(now time.Time) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), t.Hour, t.Minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (t DailyTrigger) String() string {
	return fmt.Sprintf("daily:%02d:%02d", t.Hour, t.Minute)
}

// WeeklyTrigger fires once a week on a fixed weekday at a UTC wall time.
type WeeklyTrigger struct {
	Day          time.Weekday
	Hour, Minute int
}

func (t WeeklyTrigger) Next(now time.Time) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), t.Hour, t.Minute, 0, 0, time.UTC)
	days := (int(t.Day) - int(now.Weekday()) + 7) % 7
	next = next.AddDate(0, 0, days)
	if !next.After(now) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

func (t WeeklyTrigger) String() string {
	return fmt.Sprintf("weekly:%s:%02d:%02d", strings.ToLower(t.Day.String()[:3]), t.Hour, t.Minute)
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// ParseTrigger parses the textual trigger forms:
//
//	interval:<duration>     e.g. interval:5m
//	daily:HH:MM             e.g. daily:06:00
//	weekly:<dow>:HH:MM      e.g. weekly:sun:02:00
func ParseTrigger(s string) (Trigger, error) {
	kind, rest, ok := strings.Cut(s, ":")
	if !ok {
		return nil, fmt.Errorf("invalid trigger %q", s)
	}
	switch kind {
	case "interval":
		d, err := time.ParseDuration(rest)
		if err != nil {
			return nil, fmt.Errorf("invalid trigger %q: %w", s, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("invalid trigger %q: interval must be positive", s)
		}
		return IntervalTrigger{Every: d}, nil
	case "daily":
		hour, minute, err := parseWallTime(rest)
		if err != nil {
			return nil, fmt.Errorf("invalid trigger %q: %w", s, err)
		}
		return DailyTrigger{Hour: hour, Minute: minute}, nil
	case "weekly":
		day, wall, ok := strings.Cut(rest, ":")
		if !ok {
			return nil, fmt.Errorf("invalid trigger %q", s)
		}
		weekday, ok := weekdays[strings.ToLower(day)]
		if !ok {
			return nil, fmt.Errorf("invalid trigger %q: unknown weekday %q", s, day)
		}
		hour, minute, err := parseWallTime(wall)
		if err != nil {
			return nil, fmt.Errorf("invalid trigger %q: %w", s, err)
		}
		return WeeklyTrigger{Day: weekday, Hour: hour, Minute: minute}, nil
	default:
		return nil, fmt.Errorf("invalid trigger %q: unknown kind %q", s, kind)
	}
}

func parseWallTime(s string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	hour, err = strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour %q", h)
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute %q", m)
	}
	return hour, minute, nil
}
