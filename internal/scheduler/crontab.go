package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Leo-Lynt/flow-api/internal/flow"
)

var (
	ErrUnknownScheduleType = errors.New("unknown schedule type")
	ErrUnknownIntervalUnit = errors.New("unknown interval unit")
)

// specParser accepts standard 5-field expressions plus @descriptors.
// Shared by trigger registration and next-run computation so the two
// always agree.
var specParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// TriggerSpec derives the cron-syntax trigger expression for a schedule
// definition. Pure; fails for an unrecognized schedule type or interval
// unit and for malformed type-specific fields.
func TriggerSpec(s *flow.Schedule) (string, error) {
	switch s.Type {
	case flow.ScheduleCron:
		expr := strings.TrimSpace(s.CronExpr)
		if expr == "" {
			return "", errors.New("cron schedule requires an expression")
		}
		return expr, nil

	case flow.ScheduleInterval:
		if s.IntervalValue <= 0 {
			return "", fmt.Errorf("interval value must be > 0, got %d", s.IntervalValue)
		}
		switch s.IntervalUnit {
		case flow.IntervalMinutes:
			return fmt.Sprintf("*/%d * * * *", s.IntervalValue), nil
		case flow.IntervalHours:
			return fmt.Sprintf("0 */%d * * *", s.IntervalValue), nil
		case flow.IntervalDays:
			// Calendar day-of-month modulo, not a true elapsed-day
			// interval: after the 28th/30th/31st the step resets with
			// the new month.
			return fmt.Sprintf("0 0 */%d * *", s.IntervalValue), nil
		default:
			return "", fmt.Errorf("%w: %q", ErrUnknownIntervalUnit, s.IntervalUnit)
		}

	case flow.ScheduleDaily:
		h, m, err := parseHHMM(s.TimeOfDay)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d %d * * *", m, h), nil

	case flow.ScheduleWeekly:
		h, m, err := parseHHMM(s.TimeOfDay)
		if err != nil {
			return "", err
		}
		if len(s.DaysOfWeek) == 0 {
			return "", errors.New("weekly schedule requires at least one weekday")
		}
		days := make([]string, 0, len(s.DaysOfWeek))
		for _, d := range s.DaysOfWeek {
			if d < 0 || d > 6 {
				return "", fmt.Errorf("invalid weekday %d, expected 0-6", d)
			}
			days = append(days, strconv.Itoa(d))
		}
		return fmt.Sprintf("%d %d * * %s", m, h, strings.Join(days, ",")), nil

	case flow.ScheduleMonthly:
		h, m, err := parseHHMM(s.TimeOfDay)
		if err != nil {
			return "", err
		}
		if s.DayOfMonth < 1 || s.DayOfMonth > 31 {
			return "", fmt.Errorf("invalid day of month %d, expected 1-31", s.DayOfMonth)
		}
		return fmt.Sprintf("%d %d %d * *", m, h, s.DayOfMonth), nil

	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownScheduleType, s.Type)
	}
}

// NextExecution returns the next instant strictly after now that matches
// the schedule's pattern, evaluated in loc. A nil loc falls back to the
// schedule's own timezone; callers that apply a default timezone to the
// trigger must pass the same resolved location here so the persisted
// next-run and the live trigger agree. Deterministic for a given
// (schedule, now, loc) triple.
func NextExecution(s *flow.Schedule, now time.Time, loc *time.Location) (time.Time, error) {
	spec, err := TriggerSpec(s)
	if err != nil {
		return time.Time{}, err
	}
	sched, err := specParser.Parse(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse trigger spec %q: %w", spec, err)
	}
	if loc == nil {
		loc = s.Location()
	}
	return sched.Next(now.In(loc)), nil
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
