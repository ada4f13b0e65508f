// Package job defines what a job is: the lifecycle interfaces a job
// implementation satisfies, the Definition that describes a job type, and the
// Registry the scheduler and workers resolve job names against.
package job

import (
	"context"
	"time"

	"jobloop/internal/schedule"
)

// Job is the core of every job type.
type Job interface {
	Execute(ctx context.Context, args Args) error
}

// SetUpper runs before Execute. A failing SetUp aborts the run.
type SetUpper interface {
	SetUp(ctx context.Context) error
}

// TearDowner always runs after Execute, whatever the outcome.
type TearDowner interface {
	TearDown(ctx context.Context)
}

// ExceptionHandler is consulted when Execute fails. Returning true marks the
// error as handled and the run as complete.
type ExceptionHandler interface {
	Exception(ctx context.Context, err error) bool
}

// Func adapts a plain function into a Job.
type Func func(ctx context.Context, args Args) error

func (f Func) Execute(ctx context.Context, args Args) error { return f(ctx, args) }

// DefaultQueue is used when a definition or an enqueue request names none.
const DefaultQueue = "default"

// Definition describes a job type.
//
// A definition with a Schedule is recurring: the registrar keeps exactly one
// pending delayed entry for it and every run reschedules the next one.
type Definition struct {
	// Name is the stable identity used in the backend ("class" in payloads).
	Name string
	// Queue is where recurring runs are enqueued. Defaults to "default".
	Queue string
	// Schedule makes the job recurring when non-nil.
	Schedule *schedule.Spec
	// Timeout bounds Execute through its context. 0 means no deadline.
	Timeout time.Duration
	// Description is shown by the CLI.
	Description string
	// New returns a fresh job value for each run.
	New func() Job
}

func (d Definition) Recurring() bool { return d.Schedule != nil }

func (d Definition) QueueName() string {
	if d.Queue == "" {
		return DefaultQueue
	}
	return d.Queue
}

// NextRun computes the next execution instant for a recurring definition.
// ok is false for one-shot and disabled definitions.
func (d Definition) NextRun(now time.Time) (time.Time, bool, error) {
	if d.Schedule == nil {
		return time.Time{}, false, nil
	}
	return schedule.Next(*d.Schedule, now)
}
