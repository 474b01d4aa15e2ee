package bench

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScheduler(t *testing.T) {
	noop := func(context.Context) {}

	t.Run("should accept a five field expression", func(t *testing.T) {
		s, err := NewScheduler("*/5 * * * *", noop, zerolog.Nop())
		require.NoError(t, err)
		assert.NotNil(t, s)
	})

	t.Run("should reject an invalid expression", func(t *testing.T) {
		_, err := NewScheduler("not a schedule", noop, zerolog.Nop())
		assert.ErrorContains(t, err, "invalid cron expression")
	})

	t.Run("should require a run function", func(t *testing.T) {
		_, err := NewScheduler("*/5 * * * *", nil, zerolog.Nop())
		assert.ErrorContains(t, err, "run function is required")
	})
}

func TestSchedulerNextRun(t *testing.T) {
	s, err := NewScheduler("*/5 * * * *", func(context.Context) {}, zerolog.Nop())
	require.NoError(t, err)

	now := time.Now()
	next := s.NextRun(now)

	assert.True(t, next.After(now))
	assert.LessOrEqual(t, next.Sub(now), 5*time.Minute)
	assert.Zero(t, next.Minute()%5)
	assert.Zero(t, next.Second())
}

func TestSchedulerStart(t *testing.T) {
	t.Run("should stop on context cancellation without running", func(t *testing.T) {
		var runs atomic.Int32
		s, err := NewScheduler("*/5 * * * *", func(context.Context) { runs.Add(1) }, zerolog.Nop())
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		done := make(chan struct{})
		go func() {
			s.Start(ctx)
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("scheduler did not stop after cancellation")
		}
		assert.Zero(t, runs.Load())
	})
}
