package storage

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser always parses a 6-field expression (seconds first); NextRun
// prepends a literal "0 " to a 5-field expression before calling it, so
// both forms are accepted the way cron.ParseStandard treats @every
// and crontab syntax uniformly through one parser.
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NextRun computes the next fire time for sched strictly after from,
// returning nil if the schedule is exhausted or malformed in a way that
// should be treated as "never fires" rather than an error.
func NextRun(sched Schedule, from time.Time) (*time.Time, error) {
	switch sched.Kind {
	case ScheduleOnce:
		if sched.RunAt.After(from) {
			t := sched.RunAt
			return &t, nil
		}
		return nil, nil

	case ScheduleInterval:
		return nextInterval(sched, from)

	case ScheduleCron:
		return nextCron(sched, from)

	default:
		return nil, fmt.Errorf("unknown schedule kind %q", sched.Kind)
	}
}

func nextInterval(sched Schedule, from time.Time) (*time.Time, error) {
	if sched.IntervalMs <= 0 {
		return nil, nil
	}
	start := from
	if sched.StartAt != nil {
		start = *sched.StartAt
	}
	if start.After(from) {
		t := start
		return &t, nil
	}

	interval := time.Duration(sched.IntervalMs) * time.Millisecond
	elapsed := from.Sub(start)
	nextCount := elapsed/interval + 1

	next, ok := addSaturating(start, interval, nextCount)
	if !ok {
		return nil, nil
	}
	return &next, nil
}

// addSaturating computes start + interval*count, reporting ok=false
// instead of wrapping or panicking on int64 nanosecond overflow.
func addSaturating(start time.Time, interval time.Duration, count int64) (time.Time, bool) {
	if count <= 0 {
		return start, true
	}
	if interval != 0 && count > math.MaxInt64/int64(interval) {
		return time.Time{}, false
	}
	total := interval * time.Duration(count)
	if total < 0 {
		return time.Time{}, false
	}
	return start.Add(total), true
}

func nextCron(sched Schedule, from time.Time) (*time.Time, error) {
	loc := time.UTC
	if sched.Timezone != "" {
		l, err := time.LoadLocation(sched.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", sched.Timezone, err)
		}
		loc = l
	}

	expr := sched.Expression
	if len(strings.Fields(expr)) == 5 {
		expr = "0 " + expr
	}
	parsed, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", sched.Expression, err)
	}

	next := parsed.Next(from.In(loc))
	if next.IsZero() {
		return nil, nil
	}
	return &next, nil
}

// ShouldRun reports whether a task due-check should fire right now.
func ShouldRun(status BackgroundAgentStatus, nextRunAt *time.Time, now time.Time) bool {
	return status == StatusActive && nextRunAt != nil && !now.Before(*nextRunAt)
}

// NeedsHealing reports whether a's next_run_at is missing, or stale
// relative to its last_run_at (meaning a recompute-and-persist pass is
// needed before due-checking it — self-healing after a restart mid-run).
func NeedsHealing(a *BackgroundAgent) bool {
	if a.Status != StatusActive {
		return false
	}
	if a.NextRunAt == nil {
		return true
	}
	return a.LastRunAt != nil && a.NextRunAt.Before(*a.LastRunAt)
}
