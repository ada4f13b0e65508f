package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobloop/internal/errs"
	"jobloop/internal/job"
	"jobloop/internal/store"
	"jobloop/internal/store/storetest"
	"jobloop/pkg/logx"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "data", "jobs.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Backend { return openTemp(t) })
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), Config{}, logx.Nop())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindConfiguration))
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC)

	s, err := Open(ctx, Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, store.NewEntry(at, "default", "Ping", nil)))
	require.NoError(t, s.Push(ctx, job.Instance{ID: "1", Class: "Echo", Queue: "reports"}))
	require.NoError(t, s.Close())

	s, err = Open(ctx, Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	defer s.Close()

	pending, err := s.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].RunAt.Equal(at))

	qs, err := s.Queues(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"reports"}, qs)
}
