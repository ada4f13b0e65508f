package cli

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobloop/internal/app"
	"jobloop/internal/config"
	"jobloop/internal/errs"
	"jobloop/internal/job"
	"jobloop/internal/schedule"
	"jobloop/internal/store"
	"jobloop/internal/store/memstore"
	"jobloop/pkg/logx"
)

var at1007 = time.Date(2024, 3, 1, 10, 7, 0, 0, time.UTC)

type harness struct {
	mem *memstore.Store
	now time.Time
	ran chan job.Args
}

func newHarness() *harness {
	return &harness{mem: memstore.New(), now: at1007, ran: make(chan job.Args, 8)}
}

func (h *harness) defs(logx.Logger) []job.Definition {
	noop := func() job.Job { return job.Func(func(context.Context, job.Args) error { return nil }) }
	return []job.Definition{
		{Name: "Ping", Schedule: &schedule.Spec{Expression: "*/15 * * * *"}, New: noop},
		{Name: "Nightly", Queue: "reports", Schedule: &schedule.Spec{Expression: "@daily"}, New: noop},
		{Name: "Paused", Schedule: &schedule.Spec{Expression: "* * * * *", Disabled: true}, New: noop},
		{Name: "Cleanup", New: func() job.Job {
			return job.Func(func(_ context.Context, args job.Args) error {
				h.ran <- args
				return nil
			})
		}},
	}
}

func (h *harness) run(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRoot(app.Options{
		Definitions: h.defs,
		Env:         func(string) string { return "" },
		Logger:      logx.Nop(),
		Backend:     h.mem,
		Now:         func() time.Time { return h.now },
		Override: func(s *config.Settings) error {
			s.Scheduler.Location = time.UTC
			return nil
		},
	})
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestCommandTree(t *testing.T) {
	root := NewRoot(app.Options{})
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, n := range []string{"show", "populate", "enqueue", "unschedule", "worker", "scheduler-worker", "run"} {
		assert.True(t, names[n], n)
	}
	flag := root.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "c", flag.Shorthand)

	worker, _, err := root.Find([]string{"worker"})
	require.NoError(t, err)
	assert.Equal(t, "l", worker.Flags().Lookup("logging").Shorthand)
	assert.Equal(t, "v", worker.Flags().Lookup("verbose").Shorthand)
	assert.True(t, worker.Flags().Lookup("worker-id").Hidden)
}

func TestShow(t *testing.T) {
	h := newHarness()
	out, err := h.run(t, context.Background(), "show")
	require.NoError(t, err)

	row := func(name, date, eta string) string { return fmt.Sprintf("%-7s  %-31s  %s", name, date, eta) }
	want := []string{
		row("Name", "Next Execution Time", "ETA"),
		row("Cleanup", "Non recurring job.", "-"),
		"Nightly  Sat, 02 Mar 2024 00:00:00 +0000  0d 13h 53m 0s",
		row("Paused", "Disabled", "-"),
		"Ping     Fri, 01 Mar 2024 10:15:00 +0000  0d 0h 8m 0s",
	}
	assert.Equal(t, strings.Join(want, "\n")+"\n", out)
}

func TestFormatETA(t *testing.T) {
	assert.Equal(t, "0d 0h 0m 0s", formatETA(0))
	assert.Equal(t, "0d 0h 0m 0s", formatETA(-time.Minute))
	assert.Equal(t, "2d 3h 4m 5s", formatETA(51*time.Hour+4*time.Minute+5*time.Second))
}

func TestPopulateEndToEnd(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	out, err := h.run(t, ctx, "populate")
	require.NoError(t, err)
	assert.Equal(t, "A total number of 2 jobs were enqueued.\n", out)

	_, err = h.run(t, ctx, "populate")
	require.NoError(t, err)

	pending, err := h.mem.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, store.NewEntry(time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC), "default", "Ping", job.Args{}), pending[0])
	assert.Equal(t, "Nightly", pending[1].Class)
	assert.Equal(t, "reports", pending[1].Queue)

	due, err := h.mem.PopDue(ctx, time.Date(2024, 3, 1, 10, 16, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "Ping", due[0].Class)

	pending, err = h.mem.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Nightly", pending[0].Class)
}

func TestPopulateByName(t *testing.T) {
	h := newHarness()
	out, err := h.run(t, context.Background(), "populate", "Ping")
	require.NoError(t, err)
	assert.Contains(t, out, "1 jobs")

	_, err = h.run(t, context.Background(), "populate", "Cleanup")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindConfiguration))
}

func TestEnqueueCleanupToReports(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	out, err := h.run(t, ctx, "enqueue", "Cleanup", "--args", `["a","b"]`, "--queue", "reports")
	require.NoError(t, err)
	assert.Equal(t, "Enqueued job 'Cleanup' in queue 'reports'.\n", out)

	pending, err := h.mem.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	in, ok, err := h.mem.Pop(ctx, []string{"reports"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Cleanup", in.Class)
	assert.Equal(t, "reports", in.Queue)
	assert.Equal(t, job.Args{"a", "b"}, in.Args)
}

func TestEnqueueDefaultsToDefinitionQueue(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	_, err := h.run(t, ctx, "enqueue", "Nightly")
	require.NoError(t, err)
	n, err := h.mem.Len(ctx, "reports")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = h.run(t, ctx, "enqueue", "Cleanup")
	require.NoError(t, err)
	n, err = h.mem.Len(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestEnqueueRejectsBadInput(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	for name, args := range map[string][]string{
		"unknown job": {"enqueue", "Nope"},
		"object args": {"enqueue", "Cleanup", "--args", `{"a":1}`},
		"broken args": {"enqueue", "Cleanup", "--args", `[1`},
		"empty queue": {"enqueue", "Cleanup", "--queue", ""},
		"bad at":      {"enqueue", "Cleanup", "--at", "tomorrow"},
		"unschedule":  {"unschedule", "Nope"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := h.run(t, ctx, args...)
			require.Error(t, err)
			assert.True(t, errs.Is(err, errs.KindConfiguration), err.Error())
		})
	}

	_, err := h.run(t, ctx, "enqueue")
	assert.Error(t, err)

	queues, err := h.mem.Queues(ctx)
	require.NoError(t, err)
	assert.Empty(t, queues)
}

func TestEnqueueAtAndUnschedule(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	_, err := h.run(t, ctx, "enqueue", "Cleanup", "--args", `["x"]`, "--at", "2024-03-01T12:00:00Z")
	require.NoError(t, err)
	_, err = h.run(t, ctx, "enqueue", "Cleanup", "--args", `["x"]`, "--at", "2024-03-01T13:00:00Z")
	require.NoError(t, err)

	pending, err := h.mem.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), pending[0].RunAt)

	out, err := h.run(t, ctx, "unschedule", "Cleanup", "--args", `["x"]`, "--at", "2024-03-01T12:00:00Z")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 1 entries")

	_, err = h.run(t, ctx, "populate")
	require.NoError(t, err)
	out, err = h.run(t, ctx, "unschedule", "Cleanup", "--args", `["x"]`)
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 1 entries")

	pending, err = h.mem.Pending(ctx)
	require.NoError(t, err)
	for _, e := range pending {
		assert.NotEqual(t, "Cleanup", e.Class)
	}
}

func TestWorkerRejectsBadCount(t *testing.T) {
	h := newHarness()
	_, err := h.run(t, context.Background(), "worker", "--count", "0")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindConfiguration))

	_, err = h.run(t, context.Background(), "scheduler-worker", "--interval", "never")
	require.Error(t, err)
}

func TestRunPromotesAndExecutes(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := h.run(t, ctx, "enqueue", "Cleanup", "--args", `["due"]`, "--at", "2024-03-01T10:00:00Z")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := h.run(t, ctx, "run", "--interval", "20ms", "--count", "2")
		done <- err
	}()

	select {
	case args := <-h.ran:
		assert.Equal(t, job.Args{"due"}, args)
	case <-time.After(5 * time.Second):
		t.Fatal("job never ran")
	}
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}

	pending, err := h.mem.Pending(context.Background())
	require.NoError(t, err)
	classes := []string{}
	for _, e := range pending {
		classes = append(classes, e.Class)
	}
	assert.ElementsMatch(t, []string{"Ping", "Nightly"}, classes)
}

func TestChildArgs(t *testing.T) {
	args := childArgs([]string{"worker", "--isolate", "--count", "3", "--worker-id", "9", "-c", "x.yaml", "--isolate=true", "--worker-id=4"})
	assert.Equal(t, []string{"worker", "--count", "3", "-c", "x.yaml", "--worker-id=1"}, args(1))
	assert.Equal(t, []string{"worker", "--count", "3", "-c", "x.yaml", "--worker-id=0"}, args(0))
}
