// Package poller promotes due delayed entries into their ready queues.
package poller

import (
	"context"
	"fmt"
	"io"
	"time"

	"jobloop/internal/errs"
	"jobloop/internal/metrics"
	"jobloop/internal/store"
	"jobloop/pkg/logx"
)

// Populator resyncs recurring jobs into the delayed store.
type Populator interface {
	Populate(ctx context.Context, now time.Time, names ...string) (int, error)
}

// Spec configures the poller loop.
type Spec struct {
	Interval time.Duration
	// Verbose logs every promoted entry; otherwise only totals are logged.
	Logging bool
	Verbose bool
}

type Poller struct {
	spec     Spec
	delayed  store.DelayedStore
	ready    store.ReadyQueue
	pop      Populator
	log      logx.Logger
	out      io.Writer
	metrics  *metrics.Metrics
	now      func() time.Time
	throttle *logx.Throttle
}

type Option func(*Poller)

func WithLogger(l logx.Logger) Option { return func(p *Poller) { p.log = l } }

func WithBanner(out io.Writer) Option { return func(p *Poller) { p.out = out } }

func WithMetrics(m *metrics.Metrics) Option { return func(p *Poller) { p.metrics = m } }

func WithClock(now func() time.Time) Option { return func(p *Poller) { p.now = now } }

// New builds a poller. pop may be nil to skip the startup populate.
func New(spec Spec, delayed store.DelayedStore, ready store.ReadyQueue, pop Populator, opts ...Option) (*Poller, error) {
	if spec.Interval == 0 {
		spec.Interval = 5 * time.Second
	}
	if spec.Interval < 0 {
		return nil, errs.Configuration("poller", fmt.Errorf("interval must be positive, got %s", spec.Interval))
	}
	p := &Poller{
		spec:     spec,
		delayed:  delayed,
		ready:    ready,
		pop:      pop,
		log:      logx.Nop(),
		now:      time.Now,
		throttle: logx.NewThrottle(time.Minute),
	}
	for _, o := range opts {
		o(p)
	}
	p.log = p.log.With(logx.String("comp", "scheduler"))
	return p, nil
}

// Run populates once, then promotes due entries every interval until ctx is
// canceled. Errors never stop the loop.
func (p *Poller) Run(ctx context.Context) error {
	if p.pop != nil {
		if _, err := p.pop.Populate(ctx, p.now()); err != nil {
			p.log.Error("populate.failed", logx.Err(err))
		}
	}
	if (p.spec.Logging || p.spec.Verbose) && p.out != nil {
		fmt.Fprintf(p.out, "*** Starting scheduler worker with an interval of %gs.\n", p.spec.Interval.Seconds())
	}

	t := time.NewTicker(p.spec.Interval)
	defer t.Stop()
	for {
		if _, err := p.Tick(ctx); err != nil && ctx.Err() == nil {
			p.metrics.BackendError("scheduler")
			p.throttle.Warn(p.log, "backend.unavailable", logx.String("component", "scheduler"), logx.Err(err))
		} else if err == nil {
			p.throttle.Reset()
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// Tick promotes every entry due at the current clock and returns how many
// reached a ready queue. An entry whose push fails is put back so it is
// retried on the next tick.
func (p *Poller) Tick(ctx context.Context) (int, error) {
	now := p.now()
	due, err := p.delayed.PopDue(ctx, now)
	promoted := 0
	perQueue := map[string]int{}
	for i, e := range due {
		if perr := p.ready.Push(ctx, e.Instance()); perr != nil {
			p.restore(ctx, due[i:])
			if err == nil {
				err = perr
			}
			break
		}
		promoted++
		perQueue[e.Queue]++
		if p.spec.Verbose {
			p.log.Info("entry.promoted",
				logx.String("queue", e.Queue),
				logx.String("class", e.Class),
				logx.Time("run_at", e.RunAt),
			)
		}
	}
	for q, n := range perQueue {
		p.metrics.EntriesPromoted(q, n)
	}
	if promoted > 0 && p.spec.Logging && !p.spec.Verbose {
		p.log.Info("entries.promoted", logx.Int("count", promoted))
	}
	return promoted, err
}

func (p *Poller) restore(ctx context.Context, entries []store.Entry) {
	rctx := context.WithoutCancel(ctx)
	for _, e := range entries {
		if err := p.delayed.Insert(rctx, e); err != nil {
			p.log.Error("entry.lost",
				logx.String("queue", e.Queue),
				logx.String("class", e.Class),
				logx.Time("run_at", e.RunAt),
				logx.Err(err),
			)
		}
	}
}
