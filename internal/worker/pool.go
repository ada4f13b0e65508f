package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"jobloop/internal/errs"
	"jobloop/internal/runtime/supervisor"
	"jobloop/pkg/logx"
)

// Unit is one running worker.
type Unit interface {
	Run(ctx context.Context) error
}

// Factory builds the unit with the given id.
type Factory func(id int) (Unit, error)

// Pool runs count units with ids 0..count-1. Units 0..count-2 are detached
// (goroutines, or child processes when a launcher is set); unit count-1 runs
// on the caller's goroutine, so Run blocks until the pool is terminated.
type Pool struct {
	count       int
	factory     Factory
	launcher    *ProcessLauncher
	log         logx.Logger
	stopTimeout time.Duration
}

type PoolOption func(*Pool)

func WithPoolLogger(l logx.Logger) PoolOption { return func(p *Pool) { p.log = l } }

// WithProcesses isolates detached units in child processes.
func WithProcesses(l *ProcessLauncher) PoolOption { return func(p *Pool) { p.launcher = l } }

// WithStopTimeout bounds how long Run waits for detached units at shutdown.
func WithStopTimeout(d time.Duration) PoolOption { return func(p *Pool) { p.stopTimeout = d } }

func NewPool(count int, factory Factory, opts ...PoolOption) (*Pool, error) {
	if count < 1 {
		return nil, errs.Configuration("worker.pool", fmt.Errorf("count must be at least 1, got %d", count))
	}
	if factory == nil {
		return nil, errs.Configuration("worker.pool", errors.New("factory is required"))
	}
	p := &Pool{count: count, factory: factory, log: logx.Nop(), stopTimeout: 10 * time.Second}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Run spawns the pool and blocks. Any unit that cannot be created or started
// fails the whole call with a resource error and nothing keeps running.
//
// A crash of one unit ends that unit only; the foreground crash is returned
// once the remaining units have stopped.
func (p *Pool) Run(ctx context.Context) error {
	sup := supervisor.New(ctx, supervisor.WithLogger(p.log))
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), p.stopTimeout)
		defer cancel()
		if err := sup.Stop(stopCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			p.log.Warn("worker.pool_stopped", logx.Err(err))
		}
	}()

	fgID := p.count - 1
	fg, err := p.build(fgID)
	if err != nil {
		return err
	}
	if err := p.startDetached(sup); err != nil {
		sup.Cancel()
		return err
	}

	err = p.runForeground(sup.Context(), fg)
	if err == nil || ctx.Err() != nil || p.count == 1 {
		return err
	}
	p.log.Error("worker.crashed", logx.Int("worker", fgID), logx.Err(err))
	// Keep serving with the remaining units.
	if werr := sup.Wait(ctx); werr != nil && !errors.Is(werr, context.Canceled) {
		p.log.Warn("worker.pool_stopped", logx.Err(werr))
	}
	return err
}

func (p *Pool) build(id int) (Unit, error) {
	u, err := p.factory(id)
	if err != nil {
		return nil, errs.Resource("worker.spawn", fmt.Errorf("worker %d: %w", id, err))
	}
	return u, nil
}

func (p *Pool) startDetached(sup *supervisor.Supervisor) error {
	detached := p.count - 1
	if p.launcher != nil {
		return p.launcher.startAll(sup, detached)
	}
	units := make([]Unit, 0, detached)
	for id := 0; id < detached; id++ {
		u, err := p.build(id)
		if err != nil {
			return err
		}
		units = append(units, u)
	}
	for id, u := range units {
		sup.Go(unitName(id), u.Run)
	}
	return nil
}

func (p *Pool) runForeground(ctx context.Context, u Unit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("unit panicked",
				logx.String("unit", unitName(p.count-1)),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
			err = fmt.Errorf("panic in %s: %v", unitName(p.count-1), r)
		}
	}()
	if err := u.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func unitName(id int) string { return fmt.Sprintf("worker-%d", id) }
