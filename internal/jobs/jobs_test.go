package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type purgerFunc func(ctx context.Context) (int64, error)

func (f purgerFunc) PurgeExpiredResets(ctx context.Context) (int64, error) { return f(ctx) }

func TestPurgeResetsLogsClearedCount(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)
	s := New(logger)

	calls := 0
	task := PurgeResets(purgerFunc(func(ctx context.Context) (int64, error) {
		calls++
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return 3, nil
	}), logger)
	require.NoError(t, s.Add(PurgeResetTokens, "@every 15m", task))
	require.NoError(t, s.RunNow(PurgeResetTokens))

	assert.Equal(t, 1, calls)
	entries := logs.FilterMessage("expired reset tokens cleared").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(3), entries[0].ContextMap()["count"])
}

func TestFailedJobIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := New(zap.New(core))

	require.NoError(t, s.Add("broken", "@hourly", func(context.Context) error { return errors.New("db down") }))
	require.NoError(t, s.RunNow("broken"))

	entries := logs.FilterMessage("job failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "broken", entries[0].ContextMap()["job"])
}

func TestAddRejectsBadSpecAndDuplicates(t *testing.T) {
	s := New(nil)
	assert.Error(t, s.Add("x", "not a spec", func(context.Context) error { return nil }))
	require.NoError(t, s.Add("y", "@daily", func(context.Context) error { return nil }))
	assert.Error(t, s.Add("y", "@daily", func(context.Context) error { return nil }))
	assert.Error(t, s.RunNow("missing"))
}

func TestStartStop(t *testing.T) {
	s := New(nil)
	s.Start()
	s.Stop(context.Background())
}
