package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"jobloop/internal/errs"
	"jobloop/internal/job"
	"jobloop/internal/lifecycle"
	"jobloop/internal/metrics"
	"jobloop/internal/store"
	"jobloop/pkg/logx"
)

// Performer runs one job instance through its lifecycle.
type Performer interface {
	Perform(ctx context.Context, in job.Instance) (lifecycle.Result, error)
}

// QueueWorker polls its queues in priority order and performs one job at a
// time. An empty poll or a backend error sleeps for the fixed interval.
type QueueWorker struct {
	spec     Spec
	queue    store.ReadyQueue
	runner   Performer
	log      logx.Logger
	out      io.Writer
	metrics  *metrics.Metrics
	throttle *logx.Throttle
}

type Option func(*QueueWorker)

func WithLogger(l logx.Logger) Option { return func(w *QueueWorker) { w.log = l } }

// WithBanner sets where the start banner goes. nil disables it.
func WithBanner(out io.Writer) Option { return func(w *QueueWorker) { w.out = out } }

func WithMetrics(m *metrics.Metrics) Option { return func(w *QueueWorker) { w.metrics = m } }

func NewQueueWorker(spec Spec, q store.ReadyQueue, runner Performer, opts ...Option) (*QueueWorker, error) {
	if spec.Interval == 0 {
		spec.Interval = DefaultInterval
	}
	if err := spec.validate(); err != nil {
		return nil, errs.Configuration("worker", err)
	}
	w := &QueueWorker{
		spec:     spec,
		queue:    q,
		runner:   runner,
		log:      logx.Nop(),
		throttle: logx.NewThrottle(time.Minute),
	}
	for _, o := range opts {
		o(w)
	}
	w.log = w.log.With(logx.Int("worker", spec.ID))
	return w, nil
}

func (w *QueueWorker) Spec() Spec { return w.spec }

// Run polls until ctx is canceled.
func (w *QueueWorker) Run(ctx context.Context) error {
	if w.spec.LogLevel != LogNone && w.out != nil {
		fmt.Fprintf(w.out, "*** Starting worker %d - processing queue(s) '%s' with an interval of %s.\n",
			w.spec.ID, strings.Join(w.spec.Queues, "', '"), formatInterval(w.spec.Interval))
	}
	w.metrics.WorkerStarted()
	defer w.metrics.WorkerStopped()

	for ctx.Err() == nil {
		worked, err := w.Work(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.metrics.BackendError("worker")
			w.throttle.Warn(w.log, "backend.unavailable", logx.String("component", "worker"), logx.Err(err))
		} else {
			w.throttle.Reset()
		}
		if worked {
			continue
		}
		if !sleep(ctx, w.spec.Interval) {
			break
		}
	}
	if w.spec.LogLevel != LogNone {
		w.log.Info("worker.stopped")
	}
	return nil
}

// Work pops and performs at most one job. It reports whether a job was found.
// Only backend errors are returned; job failures are logged and contained.
func (w *QueueWorker) Work(ctx context.Context) (bool, error) {
	queues, err := w.queues(ctx)
	if err != nil {
		return false, err
	}
	if len(queues) == 0 {
		return false, nil
	}
	in, ok, err := w.queue.Pop(ctx, queues)
	if err != nil || !ok {
		return false, err
	}
	w.perform(ctx, in)
	return true, nil
}

func (w *QueueWorker) queues(ctx context.Context) ([]string, error) {
	if len(w.spec.Queues) != 1 || w.spec.Queues[0] != AllQueues {
		return w.spec.Queues, nil
	}
	return w.queue.Queues(ctx)
}

func (w *QueueWorker) perform(ctx context.Context, in job.Instance) {
	l := w.log.With(logx.String("class", in.Class), logx.String("queue", in.Queue), logx.String("id", in.ID))
	switch w.spec.LogLevel {
	case LogVerbose:
		l.Info("job.started", logx.String("args", in.Args.String()))
	case LogNormal:
		l.Info("job.started")
	}

	res, err := w.runner.Perform(ctx, in)
	w.metrics.JobDone(in.Queue, in.Class, res.Outcome.String(), res.Duration)

	if err != nil {
		fields := []logx.Field{logx.Err(err), logx.Duration("dur", res.Duration), logx.String("args", in.Args.String())}
		var pe *lifecycle.PanicError
		if errors.As(err, &pe) {
			fields = append(fields, logx.Stack(string(pe.Stack)))
		}
		l.Error("job.failed", fields...)
		return
	}

	var fields []logx.Field
	if w.spec.LogLevel == LogVerbose {
		fields = append(fields, logx.Duration("dur", res.Duration), logx.String("args", in.Args.String()))
		if !res.NextRun.IsZero() {
			fields = append(fields, logx.Time("next_run", res.NextRun))
		}
	}
	switch {
	case w.spec.LogLevel == LogNone:
	case res.Outcome == lifecycle.Handled:
		l.Info("job.handled", append(fields, logx.Err(res.Err))...)
	default:
		l.Info("job.completed", fields...)
	}
}

// sleep waits d or until ctx is done. It reports whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
