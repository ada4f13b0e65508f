package app

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobloop/internal/config"
	"jobloop/internal/errs"
	"jobloop/internal/job"
	"jobloop/internal/schedule"
	"jobloop/internal/store/memstore"
	"jobloop/pkg/logx"
)

func defs(logx.Logger) []job.Definition {
	noop := func() job.Job { return job.Func(func(context.Context, job.Args) error { return nil }) }
	return []job.Definition{
		{Name: "Ping", Schedule: &schedule.Spec{Expression: "*/15 * * * *"}, New: noop},
	}
}

func memoryEnv(extra map[string]string) config.Env {
	return func(k string) string { return extra[k] }
}

func newTestApp(t *testing.T, opts Options) *App {
	t.Helper()
	if opts.Env == nil {
		opts.Env = memoryEnv(nil)
	}
	if opts.Override == nil {
		opts.Override = func(s *config.Settings) error {
			s.Backend.Driver = "memory"
			return nil
		}
	}
	if opts.Definitions == nil {
		opts.Definitions = defs
	}
	opts.Logger = logx.Nop()
	if opts.Out == nil {
		opts.Out = &bytes.Buffer{}
	}
	a, err := New(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestNewWiresComponents(t *testing.T) {
	a := newTestApp(t, Options{})
	assert.Equal(t, "memory", a.Settings().Backend.Driver)
	assert.Equal(t, 1, a.Registry().Len())

	n, err := a.Registrar().Populate(context.Background(), a.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := a.Backend().Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Ping", pending[0].Class)
}

func TestClockUsesSchedulerTimezone(t *testing.T) {
	wall := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	a := newTestApp(t, Options{
		Now: func() time.Time { return wall },
		Override: func(s *config.Settings) error {
			s.Backend.Driver = "memory"
			s.Scheduler.Location = tokyo
			return nil
		},
	})
	assert.Equal(t, "Asia/Tokyo", a.Now().Location().String())
	assert.True(t, a.Now().Equal(wall))
}

func TestNewRejectsInvalidOverrides(t *testing.T) {
	_, err := New(context.Background(), Options{
		Env:    memoryEnv(nil),
		Logger: logx.Nop(),
		Override: func(s *config.Settings) error {
			s.Backend.Driver = "memory"
			s.Worker.Count = 0
			return nil
		},
	})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindConfiguration))
}

func TestNewRejectsBadConfigFile(t *testing.T) {
	_, err := New(context.Background(), Options{
		ConfigPath: filepath.Join(t.TempDir(), "missing.json"),
		Env:        memoryEnv(nil),
		Logger:     logx.Nop(),
	})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindConfiguration))
}

func TestNewRejectsDuplicateDefinitions(t *testing.T) {
	_, err := New(context.Background(), Options{
		Env:    memoryEnv(nil),
		Logger: logx.Nop(),
		Override: func(s *config.Settings) error {
			s.Backend.Driver = "memory"
			return nil
		},
		Definitions: func(l logx.Logger) []job.Definition { return append(defs(l), defs(l)...) },
	})
	require.Error(t, err)
}

func TestSqliteDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")
	a := newTestApp(t, Options{Override: func(s *config.Settings) error {
		s.Backend.Driver = "sqlite"
		s.Backend.Path = path
		return nil
	}})
	require.NoError(t, a.Backend().Ping(context.Background()))
	assert.FileExists(t, path)
}

func TestOpenBackendUnknownDriver(t *testing.T) {
	_, err := openBackend(context.Background(), config.Backend{Driver: "mongo"}, logx.Nop())
	assert.True(t, errs.Is(err, errs.KindConfiguration))
}

func TestInjectedBackendIsNotClosed(t *testing.T) {
	mem := memstore.New()
	a, err := New(context.Background(), Options{Env: memoryEnv(nil), Logger: logx.Nop(), Backend: mem})
	require.NoError(t, err)
	assert.Same(t, mem, a.Backend())
	assert.False(t, a.ownsBackend)
	require.NoError(t, a.Close())
}

func TestServeStopsCleanly(t *testing.T) {
	a := newTestApp(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())

	ran := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- a.Serve(ctx, "test", func(ctx context.Context) error {
			close(ran)
			<-ctx.Done()
			return ctx.Err()
		})
	}()
	<-ran
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestServeReturnsBodyError(t *testing.T) {
	a := newTestApp(t, Options{})
	boom := errs.Resource("worker.spawn", assert.AnError)
	err := a.Serve(context.Background(), "test", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestServeStartsMetrics(t *testing.T) {
	a := newTestApp(t, Options{Override: func(s *config.Settings) error {
		s.Backend.Driver = "memory"
		s.Metrics = config.MetricsConfig{Enabled: true, Addr: "127.0.0.1:0"}
		return nil
	}})
	err := a.Serve(context.Background(), "test", func(context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestPoolAndPollerUseSettings(t *testing.T) {
	a := newTestApp(t, Options{Override: func(s *config.Settings) error {
		s.Backend.Driver = "memory"
		s.Worker.Count = 3
		s.Worker.Queues = []string{"high", "default"}
		return nil
	}})
	w, err := a.NewQueueWorker(2)
	require.NoError(t, err)
	assert.Equal(t, []string{"high", "default"}, w.Spec().Queues)
	assert.Equal(t, 2, w.Spec().ID)

	_, err = a.NewPool(nil)
	require.NoError(t, err)
	_, err = a.NewPoller()
	require.NoError(t, err)
}

func TestOfflineSkipsBackend(t *testing.T) {
	a, err := New(context.Background(), Options{
		Env:         memoryEnv(map[string]string{"REDIS_BACKEND": "127.0.0.1:1"}),
		Logger:      logx.Nop(),
		Offline:     true,
		Definitions: defs,
	})
	require.NoError(t, err)
	assert.Nil(t, a.Backend())
	assert.Equal(t, 1, a.Registry().Len())
	require.NoError(t, a.Close())
}
