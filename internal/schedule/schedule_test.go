package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobloop/internal/errs"
)

func at(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return v
}

func TestNextDisabledReturnsNone(t *testing.T) {
	t.Parallel()
	now := at(t, "2024-03-01T10:07:00Z")
	for _, expr := range []string{"*/15 * * * *", "@daily", "", "not a cron"} {
		next, ok, err := Next(Spec{Expression: expr, Disabled: true}, now)
		require.NoError(t, err, expr)
		assert.False(t, ok, expr)
		assert.True(t, next.IsZero(), expr)
	}
}

func TestNextMissingExpression(t *testing.T) {
	t.Parallel()
	_, _, err := Next(Spec{}, time.Now())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindConfiguration))
	assert.ErrorIs(t, err, errs.ErrMissingSchedule)

	_, _, err = Next(Spec{Expression: "   "}, time.Now())
	assert.ErrorIs(t, err, errs.ErrMissingSchedule)
}

func TestNextEveryFifteenMinutes(t *testing.T) {
	t.Parallel()
	next, ok, err := Next(Cron("*/15 * * * *"), at(t, "2024-03-01T10:07:00Z"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, at(t, "2024-03-01T10:15:00Z"), next)
}

func TestNextIsStrictlyAfterNow(t *testing.T) {
	t.Parallel()
	next, ok, err := Next(Cron("*/15 * * * *"), at(t, "2024-03-01T10:15:00Z"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, at(t, "2024-03-01T10:30:00Z"), next)
}

func TestDailyAliasMatchesCron(t *testing.T) {
	t.Parallel()
	cases := []string{
		"2024-03-01T10:07:00Z",
		"2024-03-01T00:00:00Z",
		"2024-12-31T23:59:59Z",
		"2024-02-28T23:30:00Z",
	}
	for _, c := range cases {
		now := at(t, c)
		a, okA, errA := Next(Cron("@daily"), now)
		b, okB, errB := Next(Cron("0 0 * * *"), now)
		require.NoError(t, errA)
		require.NoError(t, errB)
		assert.True(t, okA && okB)
		assert.Equal(t, b, a, c)
	}
}

func TestAliases(t *testing.T) {
	t.Parallel()
	now := at(t, "2024-03-13T10:07:00Z") // Wednesday
	tests := []struct {
		expr string
		want string
	}{
		{"@yearly", "2025-01-01T00:00:00Z"},
		{"@annually", "2025-01-01T00:00:00Z"},
		{"@monthly", "2024-04-01T00:00:00Z"},
		{"@weekly", "2024-03-17T00:00:00Z"},
		{"@daily", "2024-03-14T00:00:00Z"},
		{"@hourly", "2024-03-13T11:00:00Z"},
		{"hourly", "2024-03-13T11:00:00Z"},
	}
	for _, tt := range tests {
		next, ok, err := Next(Cron(tt.expr), now)
		require.NoError(t, err, tt.expr)
		require.True(t, ok, tt.expr)
		assert.Equal(t, at(t, tt.want), next, tt.expr)
	}
}

func TestCronFieldSyntax(t *testing.T) {
	t.Parallel()
	now := at(t, "2024-03-13T10:07:00Z")
	tests := []struct {
		expr string
		want string
	}{
		{"0,15,30,45 * * * *", "2024-03-13T10:15:00Z"},
		{"5-10 * * * *", "2024-03-13T10:08:00Z"},
		{"0 9-17/4 * * *", "2024-03-13T13:00:00Z"},
		{"30 2 1 * *", "2024-04-01T02:30:00Z"},
		{"0 0 * * 1-5", "2024-03-14T00:00:00Z"},
	}
	for _, tt := range tests {
		next, _, err := Next(Cron(tt.expr), now)
		require.NoError(t, err, tt.expr)
		assert.Equal(t, at(t, tt.want), next, tt.expr)
	}
}

func TestInvalidExpressions(t *testing.T) {
	t.Parallel()
	for _, expr := range []string{"@fortnightly", "* * *", "61 * * * *", "0 0 30 2 *"} {
		_, _, err := Next(Cron(expr), time.Now())
		require.Error(t, err, expr)
		assert.True(t, errs.Is(err, errs.KindConfiguration), expr)
	}
}

func TestTimezoneIsExplicit(t *testing.T) {
	t.Parallel()
	before := time.Local
	now := at(t, "2024-03-01T10:07:00Z")

	// 09:00 in Tokyo (UTC+9) is 00:00 UTC the next day.
	next, ok, err := Next(Spec{Expression: "0 9 * * *", Timezone: "Asia/Tokyo"}, now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, at(t, "2024-03-02T00:00:00Z"), next)
	assert.Equal(t, time.UTC, next.Location())
	assert.Same(t, before, time.Local)

	_, _, err = Next(Spec{Expression: "0 9 * * *", Timezone: "Mars/Olympus"}, now)
	assert.True(t, errs.Is(err, errs.KindConfiguration))
}

func TestValidate(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Cron("@weekly").Validate())
	assert.Error(t, Spec{Disabled: true}.Validate())
	assert.Error(t, Spec{Expression: "* * * * *", Timezone: "Nope/Nope"}.Validate())
}
