// Package app builds the job components on top of the resolved settings and
// the configured backend.
package app

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"jobloop/internal/config"
	"jobloop/internal/errs"
	"jobloop/internal/job"
	"jobloop/internal/lifecycle"
	"jobloop/internal/metrics"
	"jobloop/internal/poller"
	"jobloop/internal/registrar"
	"jobloop/internal/store"
	"jobloop/internal/worker"
	"jobloop/pkg/logx"
)

type Options struct {
	// ConfigPath is optional; empty means defaults and environment only.
	ConfigPath string
	// Env defaults to os.Getenv.
	Env config.Env
	// Override applies command-line flags on top of the resolved settings.
	Override func(*config.Settings) error
	// Definitions returns the job types the binary provides.
	Definitions func(log logx.Logger) []job.Definition

	// Out receives worker and scheduler banners. Defaults to stdout.
	Out io.Writer
	// Logger replaces the configured log service (tests).
	Logger logx.Logger
	// Backend replaces the configured driver (tests). App does not close it.
	Backend store.Backend
	// Offline skips the backend for commands that only read the registry.
	Offline bool
	// Now replaces the wall clock (tests).
	Now func() time.Time
}

type App struct {
	cfgm     *config.Manager
	env      config.Env
	settings config.Settings
	fileBack config.Backend

	logs *logx.Service
	log  logx.Logger
	out  io.Writer

	backend     store.Backend
	ownsBackend bool
	registry    *job.Registry
	registrar   *registrar.Registrar
	runner      *lifecycle.Runner
	metrics     *metrics.Metrics
	now         func() time.Time
}

// New loads configuration and opens the backend. Close releases both.
func New(ctx context.Context, opts Options) (*App, error) {
	env := opts.Env
	if env == nil {
		env = os.Getenv
	}
	cfgm := config.NewManager(opts.ConfigPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, errs.Configuration("config.load", err)
	}
	s, err := config.Resolve(cfg, env)
	if err != nil {
		return nil, err
	}
	fileBack := s.Backend
	if opts.Override != nil {
		if err := opts.Override(&s); err != nil {
			return nil, err
		}
	}
	if err := s.Validate(); err != nil {
		return nil, errs.Configuration("config", err)
	}

	a := &App{
		cfgm:     cfgm,
		env:      env,
		settings: s,
		fileBack: fileBack,
		out:      opts.Out,
		metrics:  metrics.New(),
	}
	if a.out == nil {
		a.out = os.Stdout
	}
	if !opts.Logger.IsZero() {
		a.log = opts.Logger
	} else {
		a.logs, a.log = logx.New(s.Logging)
	}
	cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	wall := opts.Now
	if wall == nil {
		wall = time.Now
	}
	loc := s.Scheduler.Location
	a.now = func() time.Time { return wall().In(loc) }

	a.registry = job.NewRegistry()
	if opts.Definitions != nil {
		if err := a.registry.Register(opts.Definitions(a.log)...); err != nil {
			a.closeLogs()
			return nil, err
		}
	}

	switch {
	case opts.Offline:
		return a, nil
	case opts.Backend != nil:
		a.backend = opts.Backend
	default:
		b, err := openBackend(ctx, s.Backend, a.log.With(logx.String("comp", "store")))
		if err != nil {
			a.closeLogs()
			return nil, err
		}
		a.backend, a.ownsBackend = b, true
		a.log.Debug("backend.opened", logx.String("driver", s.Backend.Driver))
	}

	a.registrar = registrar.New(a.registry, a.backend,
		registrar.WithLogger(a.log.With(logx.String("comp", "registrar"))),
		registrar.WithMetrics(a.metrics),
	)
	a.runner = lifecycle.NewRunner(a.registry, a.registrar,
		lifecycle.WithLogger(a.log.With(logx.String("comp", "lifecycle"))),
		lifecycle.WithClock(a.now),
	)
	return a, nil
}

func (a *App) closeLogs() {
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

func (a *App) Close() error {
	var err error
	if a.ownsBackend && a.backend != nil {
		err = a.backend.Close()
	}
	a.closeLogs()
	return err
}

func (a *App) Settings() config.Settings       { return a.settings }
func (a *App) Logger() logx.Logger             { return a.log }
func (a *App) Registry() *job.Registry         { return a.registry }
func (a *App) Registrar() *registrar.Registrar { return a.registrar }
func (a *App) Runner() *lifecycle.Runner       { return a.runner }
func (a *App) Backend() store.Backend          { return a.backend }
func (a *App) Metrics() *metrics.Metrics       { return a.metrics }

// Now is the current time in the scheduler's timezone.
func (a *App) Now() time.Time { return a.now() }

// NewQueueWorker builds worker id from the worker settings.
func (a *App) NewQueueWorker(id int) (*worker.QueueWorker, error) {
	w := a.settings.Worker
	return worker.NewQueueWorker(worker.Spec{
		ID:       id,
		Queues:   w.Queues,
		Interval: w.Interval,
		LogLevel: worker.LogLevelFrom(w.Logging, w.Verbose),
	}, a.backend, a.runner,
		worker.WithLogger(a.log.With(logx.String("comp", "worker"))),
		worker.WithBanner(a.out),
		worker.WithMetrics(a.metrics),
	)
}

// NewPool builds the worker pool. A non-nil launcher isolates detached units
// in child processes.
func (a *App) NewPool(launcher *worker.ProcessLauncher) (*worker.Pool, error) {
	opts := []worker.PoolOption{worker.WithPoolLogger(a.log.With(logx.String("comp", "pool")))}
	if launcher != nil {
		if launcher.Log.IsZero() {
			launcher.Log = a.log.With(logx.String("comp", "pool"))
		}
		opts = append(opts, worker.WithProcesses(launcher))
	}
	return worker.NewPool(a.settings.Worker.Count, func(id int) (worker.Unit, error) {
		return a.NewQueueWorker(id)
	}, opts...)
}

func (a *App) NewPoller() (*poller.Poller, error) {
	s := a.settings.Scheduler
	return poller.New(poller.Spec{
		Interval: s.Interval,
		Logging:  s.Logging,
		Verbose:  s.Verbose,
	}, a.backend, a.backend, a.registrar,
		poller.WithLogger(a.log),
		poller.WithBanner(a.out),
		poller.WithMetrics(a.metrics),
		poller.WithClock(a.now),
	)
}

// isStop reports whether err only says the process was asked to stop.
func isStop(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}
