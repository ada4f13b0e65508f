package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobloop/internal/errs"
)

func envMap(m map[string]string) Env {
	return func(k string) string { return m[k] }
}

func TestResolveDefaults(t *testing.T) {
	s, err := Resolve(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "redis", s.Backend.Driver)
	assert.Equal(t, "127.0.0.1:6379", s.Backend.Addr)
	assert.Equal(t, 2, s.Backend.Database)
	assert.Equal(t, []string{"default"}, s.Worker.Queues)
	assert.Equal(t, 1, s.Worker.Count)
	assert.Equal(t, 5*time.Second, s.Worker.Interval)
	assert.Equal(t, 5*time.Second, s.Scheduler.Interval)
	assert.False(t, s.Worker.Logging)
}

func TestResolveEnv(t *testing.T) {
	s, err := Resolve(nil, envMap(map[string]string{
		"REDIS_BACKEND":  "redis.local:6380",
		"REDIS_DATABASE": "4",
		"QUEUE":          "high, default",
		"COUNT":          "3",
		"INTERVAL":       "2",
		"VVERBOSE":       "1",
	}))
	require.NoError(t, err)
	assert.Equal(t, "redis.local:6380", s.Backend.Addr)
	assert.Equal(t, 4, s.Backend.Database)
	assert.Equal(t, []string{"high", "default"}, s.Worker.Queues)
	assert.Equal(t, 3, s.Worker.Count)
	assert.Equal(t, 2*time.Second, s.Worker.Interval)
	assert.True(t, s.Worker.Logging)
	assert.True(t, s.Worker.Verbose)
	assert.True(t, s.Scheduler.Verbose)
}

func TestFileOverridesEnv(t *testing.T) {
	db := 7
	off := false
	cfg := &Config{
		Backend:   BackendConfig{Database: &db},
		Worker:    WorkerConfig{Queue: "reports", Interval: "250ms", Logging: &off},
		Scheduler: SchedulerConfig{Timezone: "Asia/Tokyo"},
	}
	s, err := Resolve(cfg, envMap(map[string]string{"REDIS_DATABASE": "4", "QUEUE": "x", "LOGGING": "yes"}))
	require.NoError(t, err)
	assert.Equal(t, 7, s.Backend.Database)
	assert.Equal(t, []string{"reports"}, s.Worker.Queues)
	assert.Equal(t, 250*time.Millisecond, s.Worker.Interval)
	assert.False(t, s.Worker.Logging)
	assert.True(t, s.Scheduler.Logging)
	assert.Equal(t, "Asia/Tokyo", s.Scheduler.Location.String())
}

func TestResolveRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
		env  map[string]string
	}{
		{"bad db env", nil, map[string]string{"REDIS_DATABASE": "two"}},
		{"zero count", nil, map[string]string{"COUNT": "0"}},
		{"bad interval", nil, map[string]string{"INTERVAL": "soon"}},
		{"driver", &Config{Backend: BackendConfig{Driver: "mongo"}}, nil},
		{"timezone", &Config{Scheduler: SchedulerConfig{Timezone: "Mars/Olympus"}}, nil},
		{"negative interval", &Config{Worker: WorkerConfig{Interval: "-1"}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.cfg, envMap(tt.env))
			require.Error(t, err)
			assert.True(t, errs.Is(err, errs.KindConfiguration))
		})
	}
}

func TestParseInterval(t *testing.T) {
	d, err := ParseInterval("x", "5", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)

	d, err = ParseInterval("x", "", time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	d, err = ParseInterval("x", "1m30s", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	_, err = ParseInterval("x", "0s", time.Second)
	assert.Error(t, err)
}

func TestParseQueues(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, ParseQueues(" a, ,b,"))
	assert.Nil(t, ParseQueues(" , "))
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestManagerParsesJSONAndYAML(t *testing.T) {
	dir := t.TempDir()

	jp := filepath.Join(dir, "jobloop.json")
	writeFile(t, jp, `{"backend":{"driver":"sqlite","path":"/tmp/x.db"},"worker":{"count":2}}`)
	cfg, err := NewManager(jp).Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Backend.Driver)
	assert.Equal(t, 2, cfg.Worker.Count)

	yp := filepath.Join(dir, "jobloop.yaml")
	writeFile(t, yp, "backend:\n  database: 3\nscheduler:\n  interval: 10s\n")
	cfg, err = NewManager(yp).Load()
	require.NoError(t, err)
	require.NotNil(t, cfg.Backend.Database)
	assert.Equal(t, 3, *cfg.Backend.Database)
	assert.Equal(t, "10s", cfg.Scheduler.Interval)

	empty := filepath.Join(dir, "empty.yml")
	writeFile(t, empty, "")
	_, err = NewManager(empty).Load()
	require.NoError(t, err)
}

func TestManagerIsStrict(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"unknown.json":  `{"backend":{"driver":"redis","colour":"red"}}`,
		"trailing.json": `{} {}`,
		"broken.yaml":   "backend: [",
	} {
		p := filepath.Join(dir, name)
		writeFile(t, p, body)
		_, err := NewManager(p).Parse()
		assert.Error(t, err, name)
	}
}

func TestManagerWithoutFile(t *testing.T) {
	m := NewManager("")
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, &Config{}, cfg)
	assert.NoError(t, m.Watch(context.Background()))
}

func TestWatchPublishesChanges(t *testing.T) {
	p := filepath.Join(t.TempDir(), "jobloop.json")
	writeFile(t, p, `{"logging":{"level":"info"}}`)

	m := NewManager(p)
	m.debounce = 10 * time.Millisecond
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	var got *Config
	require.Eventually(t, func() bool {
		writeFile(t, p, `{"logging":{"level":"debug"}}`)
		select {
		case got = <-ch:
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, "debug", got.Logging.Level)
	assert.Equal(t, "debug", m.Get().Logging.Level)
}
