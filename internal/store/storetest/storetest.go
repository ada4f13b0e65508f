// Package storetest is the behavioural suite every store.Backend must pass.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobloop/internal/job"
	"jobloop/internal/store"
)

// Factory returns an empty backend. Cleanup is the factory's job.
type Factory func(t *testing.T) store.Backend

var base = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

// Run executes the suite against backends produced by newBackend.
func Run(t *testing.T, newBackend Factory) {
	t.Run("PopDueOrdersAndRemoves", func(t *testing.T) { testPopDue(t, newBackend(t)) })
	t.Run("PopDueBoundaryInclusive", func(t *testing.T) { testBoundary(t, newBackend(t)) })
	t.Run("PopDueNeverEarly", func(t *testing.T) { testNeverEarly(t, newBackend(t)) })
	t.Run("RemoveExact", func(t *testing.T) { testRemoveExact(t, newBackend(t)) })
	t.Run("RemoveAll", func(t *testing.T) { testRemoveAll(t, newBackend(t)) })
	t.Run("ArgsDistinguishIdentity", func(t *testing.T) { testArgsIdentity(t, newBackend(t)) })
	t.Run("ReadyQueueFIFO", func(t *testing.T) { testFIFO(t, newBackend(t)) })
	t.Run("ReadyQueuePriority", func(t *testing.T) { testPriority(t, newBackend(t)) })
	t.Run("ConcurrentPopDueDeliversOnce", func(t *testing.T) { testConcurrentPop(t, newBackend(t)) })
}

func entry(offset time.Duration, class string, args ...any) store.Entry {
	return store.NewEntry(base.Add(offset), job.DefaultQueue, class, job.Args(args))
}

func classes(es []store.Entry) []string {
	out := make([]string, 0, len(es))
	for _, e := range es {
		out = append(out, e.Class)
	}
	return out
}

func testPopDue(t *testing.T, b store.Backend) {
	ctx := context.Background()
	require.NoError(t, b.Insert(ctx, entry(2*time.Minute, "C")))
	require.NoError(t, b.Insert(ctx, entry(0, "A")))
	require.NoError(t, b.Insert(ctx, entry(time.Minute, "B")))
	require.NoError(t, b.Insert(ctx, entry(time.Hour, "Later")))

	pending, err := b.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "Later"}, classes(pending))

	due, err := b.PopDue(ctx, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, classes(due))
	assert.True(t, due[0].RunAt.Equal(base))

	again, err := b.PopDue(ctx, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, again)

	pending, err = b.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Later"}, classes(pending))
}

func testBoundary(t *testing.T, b store.Backend) {
	ctx := context.Background()
	require.NoError(t, b.Insert(ctx, entry(15*time.Minute, "Ping")))

	due, err := b.PopDue(ctx, base.Add(15*time.Minute-time.Second))
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = b.PopDue(ctx, base.Add(15*time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "Ping", due[0].Class)
	assert.Equal(t, job.DefaultQueue, due[0].Queue)
}

func testNeverEarly(t *testing.T, b store.Backend) {
	ctx := context.Background()
	at := base.Add(15*time.Minute + 900*time.Millisecond)
	require.NoError(t, b.Insert(ctx, store.NewEntry(at, job.DefaultQueue, "Ping", nil)))

	due, err := b.PopDue(ctx, base.Add(15*time.Minute+100*time.Millisecond))
	require.NoError(t, err)
	assert.Empty(t, due)

	n, err := b.RemoveExact(ctx, store.Entry{RunAt: at, Queue: job.DefaultQueue, Class: "Ping", Args: job.Args{}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, b.Insert(ctx, store.NewEntry(at, job.DefaultQueue, "Ping", nil)))
	due, err = b.PopDue(ctx, base.Add(16*time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.True(t, due[0].RunAt.After(at))
}

func testRemoveExact(t *testing.T, b store.Backend) {
	ctx := context.Background()
	require.NoError(t, b.Insert(ctx, entry(time.Minute, "Ping")))
	require.NoError(t, b.Insert(ctx, entry(2*time.Minute, "Ping")))

	n, err := b.RemoveExact(ctx, entry(3*time.Minute, "Ping"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = b.RemoveExact(ctx, entry(time.Minute, "Ping"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := b.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].RunAt.Equal(base.Add(2*time.Minute)))
}

func testRemoveAll(t *testing.T, b store.Backend) {
	ctx := context.Background()
	require.NoError(t, b.Insert(ctx, entry(time.Minute, "Ping")))
	require.NoError(t, b.Insert(ctx, entry(2*time.Minute, "Ping")))
	require.NoError(t, b.Insert(ctx, entry(2*time.Minute, "Other")))

	n, err := b.RemoveAll(ctx, job.DefaultQueue, "Ping", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = b.RemoveAll(ctx, job.DefaultQueue, "Ping", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	pending, err := b.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Other"}, classes(pending))
}

func testArgsIdentity(t *testing.T, b store.Backend) {
	ctx := context.Background()
	require.NoError(t, b.Insert(ctx, entry(time.Minute, "Cleanup", "a")))
	require.NoError(t, b.Insert(ctx, entry(time.Minute, "Cleanup", "b")))
	require.NoError(t, b.Insert(ctx, store.NewEntry(base.Add(time.Minute), "reports", "Cleanup", job.Args{"a"})))

	n, err := b.RemoveAll(ctx, job.DefaultQueue, "Cleanup", job.Args{"a"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	due, err := b.PopDue(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 2)
	got := map[string]string{}
	for _, e := range due {
		got[e.Queue] = e.Args.Str(0)
	}
	assert.Equal(t, map[string]string{job.DefaultQueue: "b", "reports": "a"}, got)
}

func testFIFO(t *testing.T, b store.Backend) {
	ctx := context.Background()
	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, b.Push(ctx, job.Instance{ID: id, Class: "Echo", Queue: "default", Args: job.Args{id}}))
	}
	n, err := b.Len(ctx, "default")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	for _, want := range []string{"1", "2", "3"} {
		in, ok, err := b.Pop(ctx, []string{"default"})
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, in.ID)
		assert.Equal(t, "default", in.Queue)
		assert.Equal(t, "Echo", in.Class)
		assert.Equal(t, want, in.Args.Str(0))
	}
	_, ok, err := b.Pop(ctx, []string{"default"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func testPriority(t *testing.T, b store.Backend) {
	ctx := context.Background()
	require.NoError(t, b.Push(ctx, job.Instance{ID: "low", Class: "Echo", Queue: "low"}))
	require.NoError(t, b.Push(ctx, job.Instance{ID: "high", Class: "Echo", Queue: "high"}))

	qs, err := b.Queues(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"high", "low"}, qs)

	in, ok, err := b.Pop(ctx, []string{"missing", "low", "high"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "low", in.ID)

	in, ok, err = b.Pop(ctx, []string{"missing", "low", "high"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "high", in.ID)
}

func testConcurrentPop(t *testing.T, b store.Backend) {
	ctx := context.Background()
	const n = 20
	for i := 0; i < n; i++ {
		require.NoError(t, b.Insert(ctx, entry(time.Duration(i)*time.Second, "Echo", i)))
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			due, err := b.PopDue(ctx, base.Add(time.Hour))
			assert.NoError(t, err)
			mu.Lock()
			for _, e := range due {
				seen[e.Args.Str(0)]++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for k, c := range seen {
		assert.Equal(t, 1, c, "entry %s delivered %d times", k, c)
	}
}
