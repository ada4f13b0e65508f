// Package registrar keeps the delayed store in step with the registered
// recurring jobs: exactly one pending entry per enabled recurring job.
package registrar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"jobloop/internal/errs"
	"jobloop/internal/job"
	"jobloop/internal/metrics"
	"jobloop/internal/store"
	"jobloop/pkg/logx"
)

type Registrar struct {
	reg     *job.Registry
	store   store.DelayedStore
	log     logx.Logger
	metrics *metrics.Metrics
}

type Option func(*Registrar)

func WithLogger(l logx.Logger) Option { return func(r *Registrar) { r.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(r *Registrar) { r.metrics = m } }

func New(reg *job.Registry, st store.DelayedStore, opts ...Option) *Registrar {
	r := &Registrar{reg: reg, store: st, log: logx.Nop()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Reschedule replaces any pending entry of def with one at its next run after
// now. ok is false for one-shot and disabled definitions, which are left alone.
func (r *Registrar) Reschedule(ctx context.Context, def job.Definition, now time.Time) (next time.Time, ok bool, err error) {
	next, ok, err = def.NextRun(now)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	queue := def.QueueName()
	if _, err := r.store.RemoveAll(ctx, queue, def.Name, job.Args{}); err != nil {
		return time.Time{}, false, fmt.Errorf("reschedule %s: %w", def.Name, err)
	}
	e := store.NewEntry(next, queue, def.Name, job.Args{})
	if err := r.store.Insert(ctx, e); err != nil {
		return time.Time{}, false, fmt.Errorf("reschedule %s: %w", def.Name, err)
	}
	r.metrics.EntryScheduled(def.Name)
	r.log.Info("entry.scheduled",
		logx.String("queue", queue),
		logx.String("class", def.Name),
		logx.Time("run_at", next),
	)
	return next, true, nil
}

// Populate reschedules every recurring job, or only the named ones. It keeps
// going past per-job failures and returns how many entries were written
// together with the joined errors. Calling it twice with the same now leaves
// the store unchanged.
func (r *Registrar) Populate(ctx context.Context, now time.Time, names ...string) (int, error) {
	defs, err := r.selectDefs(names)
	if err != nil {
		return 0, err
	}

	var (
		count    int
		failures []error
	)
	for _, def := range defs {
		if err := ctx.Err(); err != nil {
			failures = append(failures, err)
			break
		}
		_, ok, err := r.Reschedule(ctx, def, now)
		if err != nil {
			r.log.Error("entry.schedule_failed", logx.String("class", def.Name), logx.Err(err))
			failures = append(failures, err)
			continue
		}
		if ok {
			count++
		}
	}
	r.log.Info("populate.done", logx.Int("scheduled", count), logx.Int("failed", len(failures)))
	return count, errors.Join(failures...)
}

func (r *Registrar) selectDefs(names []string) ([]job.Definition, error) {
	if len(names) == 0 {
		return r.reg.Recurring(), nil
	}
	out := make([]job.Definition, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		def, err := r.reg.Resolve(n)
		if err != nil {
			return nil, err
		}
		if !def.Recurring() {
			return nil, errs.Configuration("populate", fmt.Errorf("job %q is not recurring", n))
		}
		out = append(out, def)
	}
	return out, nil
}
