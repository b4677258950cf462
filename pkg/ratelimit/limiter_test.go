package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_SpacesCalls(t *testing.T) {
	l := New(20 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Wait(ctx))
	require.NoError(t, l.Wait(ctx))
	require.NoError(t, l.Wait(ctx))

	// Two enforced gaps after the free first call.
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestLimiter_ZeroDelayNeverBlocks(t *testing.T) {
	l := New(0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(ctx))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiter_ContextCancellation(t *testing.T) {
	l := New(time.Hour)
	ctx := context.Background()

	// First call is free, the second would block for an hour.
	require.NoError(t, l.Wait(ctx))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, l.Wait(cancelled), context.Canceled)
}

func TestLimiter_NilSafe(t *testing.T) {
	var l *Limiter
	assert.NoError(t, l.Wait(context.Background()))
}
