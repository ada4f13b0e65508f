package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobloop/internal/errs"
	"jobloop/internal/job"
	"jobloop/internal/store"
	"jobloop/internal/store/storetest"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client), mr
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Backend {
		s, _ := newTestStore(t)
		return s
	})
}

func TestResqueKeyLayout(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC)
	ts := "1709288100"

	require.NoError(t, s.Insert(ctx, store.NewEntry(at, "default", "Ping", nil)))

	item := `{"class":"Ping","args":[[]],"queue":"default"}`
	members, err := mr.ZMembers("resque:delayed_queue_schedule")
	require.NoError(t, err)
	assert.Equal(t, []string{ts}, members)

	list, err := mr.List("resque:delayed:" + ts)
	require.NoError(t, err)
	assert.Equal(t, []string{item}, list)

	set, err := mr.SMembers("resque:timestamps:" + item)
	require.NoError(t, err)
	assert.Equal(t, []string{"delayed:" + ts}, set)

	due, err := s.PopDue(ctx, at)
	require.NoError(t, err)
	require.Len(t, due, 1)

	assert.False(t, mr.Exists("resque:delayed:"+ts))
	assert.False(t, mr.Exists("resque:delayed_queue_schedule"))
	assert.False(t, mr.Exists("resque:timestamps:"+item))
}

func TestPushRegistersQueue(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Push(ctx, job.Instance{ID: "abc", Class: "Cleanup", Queue: "reports", Args: job.Args{"a"}}))

	assert.True(t, mr.Exists("resque:queue:reports"))
	ok, err := mr.SIsMember("resque:queues", "reports")
	require.NoError(t, err)
	assert.True(t, ok)

	list, err := mr.List("resque:queue:reports")
	require.NoError(t, err)
	assert.Equal(t, []string{`{"class":"Cleanup","args":[["a"]],"id":"abc"}`}, list)
}

func TestPushAssignsID(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Push(ctx, job.Instance{Class: "Echo"}))

	in, ok, err := s.Pop(ctx, []string{"default"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, in.ID, 32)
}

func TestNamespace(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()
	s := New(client, WithNamespace("jobs"))

	require.NoError(t, s.Push(context.Background(), job.Instance{ID: "1", Class: "Echo", Queue: "q"}))
	assert.True(t, mr.Exists("jobs:queue:q"))
}

func TestForeignPayloadIsDroppedNotFatal(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	_, err := mr.Lpush("resque:queue:default", "garbage")
	require.NoError(t, err)

	_, ok, err := s.Pop(ctx, []string{"default"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBackendErrorKind(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	defer client.Close()
	s := New(client)

	_, _, err := s.Pop(context.Background(), []string{"default"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindBackend))
}

func TestOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := Open(context.Background(), Config{Addr: mr.Addr(), Namespace: "x"})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "x:", s.k.ns)

	s2, err := Open(context.Background(), Config{Addr: "redis://" + mr.Addr() + "/0"})
	require.NoError(t, err)
	require.NoError(t, s2.Close())

	_, err = Open(context.Background(), Config{Addr: "127.0.0.1:6379", Database: -1})
	assert.True(t, errs.Is(err, errs.KindConfiguration))
}
