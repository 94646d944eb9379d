package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/aegis/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RegisterValidation(t *testing.T) {
	s := New(logging.NoOpLogger{})
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Every("monitor", time.Minute, noop))
	assert.ErrorIs(t, s.Every("monitor", time.Minute, noop), ErrDuplicateTask)
	assert.ErrorIs(t, s.Every("fast", 10*time.Millisecond, noop), ErrInvalidInterval)
	assert.Equal(t, []string{"monitor"}, s.Tasks())

	s.Remove("monitor")
	assert.Empty(t, s.Tasks())
	assert.ErrorIs(t, s.Trigger("monitor"), ErrUnknownTask)
}

func TestScheduler_TriggerRunsOnce(t *testing.T) {
	s := New(nil)
	var n atomic.Int32
	require.NoError(t, s.Every("count", time.Hour, func(context.Context) error {
		n.Add(1)
		return errors.New("logged, not returned")
	}))

	require.NoError(t, s.Trigger("count"))
	assert.Equal(t, int32(1), n.Load())
}

func TestScheduler_FiresAndStops(t *testing.T) {
	s := New(logging.NoOpLogger{})
	var n atomic.Int32
	var lastCtx atomic.Value
	require.NoError(t, s.Every("tick", time.Second, func(ctx context.Context) error {
		lastCtx.Store(ctx)
		n.Add(1)
		return nil
	}))

	s.Start(context.Background())
	assert.Eventually(t, func() bool { return n.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx), "second stop is a no-op")

	taskCtx := lastCtx.Load().(context.Context)
	assert.Error(t, taskCtx.Err(), "task context is cancelled on stop")

	before := n.Load()
	require.NoError(t, s.Trigger("tick"), "trigger after stop is ignored")
	assert.Equal(t, before, n.Load())
}
