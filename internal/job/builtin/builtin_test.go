package builtin

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobloop/internal/job"
	"jobloop/pkg/logx"
)

func TestDefinitionsRegister(t *testing.T) {
	reg := job.NewRegistry()
	require.NoError(t, reg.Register(Definitions(logx.Nop())...))

	ping, ok := reg.Lookup("Ping")
	require.True(t, ok)
	assert.True(t, ping.Recurring())

	at := time.Date(2024, 3, 1, 10, 7, 0, 0, time.UTC)
	next, ok, err := ping.NextRun(at)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC), next)

	echo, ok := reg.Lookup("Echo")
	require.True(t, ok)
	assert.False(t, echo.Recurring())
}

func TestEchoLogsArgs(t *testing.T) {
	var buf bytes.Buffer
	defs := Definitions(logx.NewWriter(&buf, "info"))
	echo := defs[1].New()

	require.NoError(t, echo.Execute(context.Background(), job.Args{"hello", 3}))
	assert.Contains(t, buf.String(), "echo")
	assert.Contains(t, buf.String(), "hello")
}

func TestPingHonoursCancellation(t *testing.T) {
	p := Definitions(logx.Nop())[0].New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Execute(ctx, nil), context.Canceled)
}
