package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRunsOnStartAndPeriodically(t *testing.T) {
	s := New(Options{Interval: 20 * time.Millisecond, RunOnStart: true}, zerolog.Nop())

	var ticks atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, time.Time) error {
			if ticks.Add(1) == 2 {
				return errors.New("tick errors do not stop the loop")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSchedulerStopsDuringStartupDelay(t *testing.T) {
	s := New(Options{Interval: time.Hour, StartupDelay: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Run(ctx, func(context.Context, time.Time) error {
		t.Fatal("tick must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNextTickAlignment(t *testing.T) {
	s := New(Options{Interval: 5 * time.Minute, AlignToStart: true}, zerolog.Nop())
	now := time.Date(2026, 5, 1, 10, 7, 30, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 5, 1, 10, 10, 0, 0, time.UTC), s.nextTick(now))

	onBoundary := time.Date(2026, 5, 1, 10, 10, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 5, 1, 10, 15, 0, 0, time.UTC), s.nextTick(onBoundary))

	free := New(Options{Interval: 5 * time.Minute}, zerolog.Nop())
	assert.Equal(t, now.Add(5*time.Minute), free.nextTick(now))
}

func TestNewPanicsOnZeroInterval(t *testing.T) {
	assert.Panics(t, func() { New(Options{}, zerolog.Nop()) })
}
