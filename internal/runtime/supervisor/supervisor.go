// Package supervisor runs named long-lived units (worker loops, the
// scheduler poller, listeners) on a shared context. A panicking unit is
// recorded and ends; the others keep running unless cancel-on-error is set.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"jobloop/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	active   atomic.Int64
	errOnce  sync.Once
	firstErr atomic.Value
	wg       sync.WaitGroup
	doneOnce sync.Once
	doneCh   chan struct{}

	mu    sync.Mutex
	units map[string]*unitStats
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels every unit once any unit fails or panics.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

// UnitStats is a best-effort view of one named unit, for diagnostics.
type UnitStats struct {
	Name      string
	Running   bool
	Panics    int
	StartedAt time.Time
	StoppedAt time.Time
	LastErr   string
}

type unitStats struct {
	running   bool
	panics    int
	startedAt time.Time
	stoppedAt time.Time
	lastErr   string
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		log:    logx.Nop(),
		doneCh: make(chan struct{}),
		units:  map[string]*unitStats{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel signals every unit to stop without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Active is the number of units currently running.
func (s *Supervisor) Active() int64 { return s.active.Load() }

// Err returns the first unit failure, if any.
func (s *Supervisor) Err() error {
	if err, ok := s.firstErr.Load().(error); ok {
		return err
	}
	return nil
}

// Go starts fn as a unit. Returning context.Canceled is a clean stop. A panic
// is logged with its stack and recorded as the unit's error.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.active.Add(1)
	s.wg.Add(1)
	s.noteStart(name)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)

		err := s.run(name, fn)
		s.noteStop(name, err)
		if err == nil {
			s.log.Debug("unit stopped", logx.String("unit", name))
			return
		}
		s.setErr(err)
		if s.cancelOnErr {
			s.cancel()
		}
	}()
}

func (s *Supervisor) run(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.notePanic(name)
			s.log.Error("unit panicked",
				logx.String("unit", name),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
			err = fmt.Errorf("panic in %s: %v", name, r)
		}
	}()
	s.log.Debug("unit started", logx.String("unit", name))
	if err := fn(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Stop cancels all units and waits for them, bounded by ctx.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every unit has returned or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		return s.Err()
	}
}

// Snapshot lists units, running first, then by name.
func (s *Supervisor) Snapshot() []UnitStats {
	s.mu.Lock()
	out := make([]UnitStats, 0, len(s.units))
	for name, u := range s.units {
		out = append(out, UnitStats{
			Name:      name,
			Running:   u.running,
			Panics:    u.panics,
			StartedAt: u.startedAt,
			StoppedAt: u.stoppedAt,
			LastErr:   u.lastErr,
		})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Running != out[j].Running {
			return out[i].Running
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (s *Supervisor) unit(name string) *unitStats {
	u := s.units[name]
	if u == nil {
		u = &unitStats{}
		s.units[name] = u
	}
	return u
}

func (s *Supervisor) noteStart(name string) {
	s.mu.Lock()
	u := s.unit(name)
	u.running = true
	u.startedAt = time.Now()
	s.mu.Unlock()
}

func (s *Supervisor) noteStop(name string, err error) {
	s.mu.Lock()
	u := s.unit(name)
	u.running = false
	u.stoppedAt = time.Now()
	if err != nil {
		u.lastErr = err.Error()
	}
	s.mu.Unlock()
}

func (s *Supervisor) notePanic(name string) {
	s.mu.Lock()
	s.unit(name).panics++
	s.mu.Unlock()
}

func (s *Supervisor) setErr(err error) {
	s.errOnce.Do(func() { s.firstErr.Store(err) })
}
