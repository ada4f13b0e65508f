// Package lifecycle performs one job instance:
//
//	SetUp -> Execute -> Exception (on failure) -> TearDown -> reschedule
//
// Execute is contained: panics and returned errors become execution errors,
// the Exception hook may mark them handled, and TearDown runs whatever
// happened. Recurring jobs are rescheduled after every attempt.
package lifecycle

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"jobloop/internal/errs"
	"jobloop/internal/job"
	"jobloop/pkg/logx"
)

// Rescheduler places the next entry of a recurring job.
type Rescheduler interface {
	Reschedule(ctx context.Context, def job.Definition, now time.Time) (time.Time, bool, error)
}

// PanicError is the execution error produced by a panicking job.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Outcome classifies a finished run.
type Outcome int

const (
	Succeeded Outcome = iota
	// Handled means Execute failed and the Exception hook accepted the error.
	Handled
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Handled:
		return "handled"
	default:
		return "failed"
	}
}

// Result describes one Perform call.
type Result struct {
	Outcome  Outcome
	Err      error
	Started  time.Time
	Duration time.Duration
	// NextRun is set when a recurring job was rescheduled.
	NextRun time.Time
}

type Runner struct {
	reg   *job.Registry
	resch Rescheduler
	log   logx.Logger
	now   func() time.Time
}

type Option func(*Runner)

func WithLogger(l logx.Logger) Option { return func(r *Runner) { r.log = l } }

// WithClock replaces time.Now; reschedules are computed from it.
func WithClock(now func() time.Time) Option { return func(r *Runner) { r.now = now } }

// NewRunner builds a runner. resch may be nil when nothing recurs.
func NewRunner(reg *job.Registry, resch Rescheduler, opts ...Option) *Runner {
	r := &Runner{reg: reg, resch: resch, log: logx.Nop(), now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Perform runs in. The returned error is nil for Succeeded and Handled
// outcomes; Result.Err keeps the handled error for logging.
//
// An unknown class is a configuration error and nothing runs. A failing
// SetUp skips Execute and TearDown but still reschedules recurring jobs so
// they do not drop out of the schedule.
func (r *Runner) Perform(ctx context.Context, in job.Instance) (res Result, err error) {
	def, err := r.reg.Resolve(in.Class)
	if err != nil {
		return Result{Outcome: Failed, Err: err}, err
	}

	res.Started = r.now()
	defer func() {
		res.Duration = r.now().Sub(res.Started)
		if next, ok := r.finalize(ctx, def); ok {
			res.NextRun = next
		}
	}()

	j := def.New()
	if j == nil {
		err = errs.Configuration("job.new", fmt.Errorf("job %q: constructor returned nil", def.Name))
		return Result{Outcome: Failed, Err: err, Started: res.Started}, err
	}

	if su, ok := j.(job.SetUpper); ok {
		if err := su.SetUp(ctx); err != nil {
			err = fmt.Errorf("set up %s: %w", def.Name, err)
			return Result{Outcome: Failed, Err: err, Started: res.Started}, err
		}
	}

	if td, ok := j.(job.TearDowner); ok {
		defer r.tearDown(ctx, def, td)
	}

	execErr := r.execute(ctx, def, j, in.Args)
	if execErr == nil {
		return Result{Outcome: Succeeded, Started: res.Started}, nil
	}
	if eh, ok := j.(job.ExceptionHandler); ok && handled(ctx, eh, execErr) {
		return Result{Outcome: Handled, Err: execErr, Started: res.Started}, nil
	}
	return Result{Outcome: Failed, Err: execErr, Started: res.Started}, execErr
}

// execute runs Execute, turning panics into execution errors.
func (r *Runner) execute(ctx context.Context, def job.Definition, j job.Job, args job.Args) (err error) {
	runCtx := ctx
	if def.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, def.Timeout)
		defer cancel()
	}

	defer func() {
		if v := recover(); v != nil {
			err = errs.Execution(def.Name, &PanicError{Value: v, Stack: debug.Stack()})
		}
	}()
	if err := j.Execute(runCtx, args); err != nil {
		return errs.Execution(def.Name, err)
	}
	return nil
}

// tearDown must not let a panic replace the execute outcome.
func (r *Runner) tearDown(ctx context.Context, def job.Definition, td job.TearDowner) {
	defer func() {
		if v := recover(); v != nil {
			r.log.Error("job.teardown_panic",
				logx.String("class", def.Name),
				logx.Any("panic", v),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()
	td.TearDown(ctx)
}

// handled asks the hook; a panicking hook counts as unhandled.
func handled(ctx context.Context, eh job.ExceptionHandler, err error) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return eh.Exception(ctx, err)
}

func (r *Runner) finalize(ctx context.Context, def job.Definition) (time.Time, bool) {
	if r.resch == nil || !def.Recurring() {
		return time.Time{}, false
	}
	// Shutdown must not cost the next entry.
	rctx := context.WithoutCancel(ctx)
	next, ok, err := r.resch.Reschedule(rctx, def, r.now())
	if err != nil {
		r.log.Error("entry.reschedule_failed", logx.String("class", def.Name), logx.Err(err))
		return time.Time{}, false
	}
	return next, ok
}
