package batch

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	cronv3 "github.com/robfig/cron/v3"
)

// Schedule is either a fixed interval or a cron expression evaluated in a
// timezone.
type Schedule struct {
	Spec     string
	interval time.Duration
	cron     cronv3.Schedule
	loc      *time.Location
}

// ParseSchedule accepts a number of seconds, a Go duration ("6h") or a cron
// expression with optional seconds field and descriptors ("@daily").
func ParseSchedule(raw, timezone string) (Schedule, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Schedule{}, errors.New("batch schedule is required")
	}
	if iv, ok, err := parseInterval(raw); ok {
		if err != nil {
			return Schedule{}, err
		}
		return Schedule{Spec: raw, interval: iv, loc: time.UTC}, nil
	}

	loc := time.UTC
	if tz := strings.TrimSpace(timezone); tz != "" {
		nextLoc, err := time.LoadLocation(tz)
		if err != nil {
			return Schedule{}, fmt.Errorf("invalid batch timezone=%q", timezone)
		}
		loc = nextLoc
	}
	parser := cronv3.NewParser(cronv3.SecondOptional | cronv3.Minute | cronv3.Hour | cronv3.Dom | cronv3.Month | cronv3.Dow | cronv3.Descriptor)
	schedule, err := parser.Parse(raw)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	return Schedule{Spec: raw, cron: schedule, loc: loc}, nil
}

func parseInterval(raw string) (time.Duration, bool, error) {
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs <= 0 {
			return 0, true, errors.New("batch interval must be greater than 0")
		}
		return time.Duration(secs) * time.Second, true, nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, nil
	}
	if parsed <= 0 {
		return 0, true, errors.New("batch interval must be greater than 0")
	}
	return parsed, true, nil
}

// next returns the upcoming run time and, when current is already in the
// past, the missed run that is now due.
func (s Schedule) next(current *string, now time.Time) (time.Time, *time.Time) {
	if s.cron == nil {
		return resolveIntervalNextRunAt(current, s.interval, now)
	}
	return resolveExpressionNextRunAt(current, s.cron, s.loc, now)
}

func resolveIntervalNextRunAt(current *string, interval time.Duration, now time.Time) (time.Time, *time.Time) {
	next := now.Add(interval)
	if current == nil {
		return next, nil
	}

	parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(*current))
	if err != nil {
		return next, nil
	}
	if parsed.After(now) {
		return parsed, nil
	}

	dueAt := parsed
	for !parsed.After(now) {
		parsed = parsed.Add(interval)
	}
	return parsed, &dueAt
}

func resolveExpressionNextRunAt(current *string, schedule cronv3.Schedule, loc *time.Location, now time.Time) (time.Time, *time.Time) {
	nowInLoc := now.In(loc)
	next := schedule.Next(nowInLoc).UTC()
	if current == nil {
		return next, nil
	}

	parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(*current))
	if err != nil {
		return next, nil
	}
	if parsed.After(now) {
		return parsed, nil
	}

	dueAt := parsed
	cursor := parsed.In(loc)
	for i := 0; i < 2048 && !cursor.After(nowInLoc); i++ {
		nextCursor := schedule.Next(cursor)
		if !nextCursor.After(cursor) {
			return schedule.Next(nowInLoc).UTC(), &dueAt
		}
		cursor = nextCursor
	}
	if !cursor.After(nowInLoc) {
		cursor = schedule.Next(nowInLoc)
	}
	return cursor.UTC(), &dueAt
}

func misfireExceeded(dueAt *time.Time, grace time.Duration, now time.Time) bool {
	if dueAt == nil || grace <= 0 {
		return false
	}
	return now.Sub(dueAt.UTC()) > grace
}
