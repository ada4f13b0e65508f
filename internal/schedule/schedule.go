// Package schedule computes the next execution time of a recurring job.
//
// Expressions are either one of the named aliases (@yearly, @annually,
// @monthly, @weekly, @daily, @hourly) or a standard 5-field cron expression
// (minute hour day-of-month month day-of-week) with lists, ranges, steps and
// wildcards. Parsing and matching is delegated to robfig/cron.
package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"jobloop/internal/errs"
)

// Spec is the static schedule configuration of a recurring job type.
type Spec struct {
	// Expression is a 5-field cron expression or an alias.
	Expression string
	// Timezone is an optional IANA zone the expression is evaluated in.
	// Empty means the zone of the "now" passed to Next.
	Timezone string
	// Disabled pauses the job permanently; Next returns no time.
	Disabled bool
}

// Cron returns an enabled Spec for expr.
func Cron(expr string) Spec { return Spec{Expression: expr} }

var aliases = map[string]string{
	"yearly":   "0 0 1 1 *",
	"annually": "0 0 1 1 *",
	"monthly":  "0 0 1 * *",
	"weekly":   "0 0 * * 0",
	"daily":    "0 0 * * *",
	"hourly":   "0 * * * *",
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Normalize expands aliases and collapses whitespace.
// "@daily" and "daily" both become "0 0 * * *".
func Normalize(expr string) string {
	s := strings.Join(strings.Fields(expr), " ")
	if s == "" {
		return ""
	}
	key := strings.ToLower(strings.TrimPrefix(s, "@"))
	if v, ok := aliases[key]; ok {
		return v
	}
	return s
}

// Parse validates expr and returns the compiled schedule.
func Parse(expr string) (cron.Schedule, error) {
	norm := Normalize(expr)
	if norm == "" {
		return nil, errs.Configuration("schedule.parse", errs.ErrMissingSchedule)
	}
	if strings.HasPrefix(norm, "@") {
		return nil, errs.Configuration("schedule.parse", fmt.Errorf("unknown alias %q", expr))
	}
	sched, err := parser.Parse(norm)
	if err != nil {
		return nil, errs.Configuration("schedule.parse", fmt.Errorf("invalid cron %q: %w", expr, err))
	}
	return sched, nil
}

// Location resolves the schedule's timezone; empty means fallback.
func (s Spec) Location(fallback *time.Location) (*time.Location, error) {
	tz := strings.TrimSpace(s.Timezone)
	if tz == "" {
		if fallback == nil {
			return time.Local, nil
		}
		return fallback, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, errs.Configuration("schedule.location", fmt.Errorf("invalid timezone %q: %w", tz, err))
	}
	return loc, nil
}

// Validate checks the schedule without computing a time. Disabled schedules still
// need an expression.
func (s Spec) Validate() error {
	if _, err := Parse(s.Expression); err != nil {
		return err
	}
	_, err := s.Location(nil)
	return err
}

var errNeverMatches = errors.New("expression never matches")

// Next returns the earliest instant strictly after now matching s.
//
// ok is false when s is disabled. A schedule without an expression fails
// with a configuration error. The result is expressed in now's location.
func Next(s Spec, now time.Time) (next time.Time, ok bool, err error) {
	if s.Disabled {
		return time.Time{}, false, nil
	}
	sched, err := Parse(s.Expression)
	if err != nil {
		return time.Time{}, false, err
	}
	loc, err := s.Location(now.Location())
	if err != nil {
		return time.Time{}, false, err
	}
	// The zone is passed explicitly through the time value; robfig/cron evaluates
	// fields in t's location when the parser was built without CRON_TZ.
	t := sched.Next(now.In(loc))
	if t.IsZero() {
		return time.Time{}, false, errs.Configuration("schedule.next", fmt.Errorf("%w: %q", errNeverMatches, s.Expression))
	}
	return t.In(now.Location()), true, nil
}
