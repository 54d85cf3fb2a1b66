package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLimiterAllowBurst(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.001, DefaultBurst: 2})
	require.True(t, l.Allow("story-a"))
	require.True(t, l.Allow("story-a"))
	require.False(t, l.Allow("story-a"))
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.001, DefaultBurst: 1})
	require.True(t, l.Allow("a"))
	require.False(t, l.Allow("a"))
	require.True(t, l.Allow("b"))
	require.Equal(t, 2, l.Len())
}

func TestLimiterForgetResetsBucket(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.001, DefaultBurst: 1})
	require.True(t, l.Allow("a"))
	require.False(t, l.Allow("a"))
	l.Forget("a")
	require.Zero(t, l.Len())
	require.True(t, l.Allow("a"))
}

func TestLimiterUnlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("a"))
	}

	var nilLimiter *Limiter
	require.True(t, nilLimiter.Allow("a"))
	nilLimiter.Forget("a")
}
