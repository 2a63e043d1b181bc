package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestAcquireEnforcesMinInterval(t *testing.T) {
	cfg := Config{Capacity: 5, RefillPerSecond: 100, MinInterval: 50 * time.Millisecond}
	rl := New(cfg, cfg, DefaultClassifier, zerolog.Nop())

	ctx := context.Background()
	require.NoError(t, rl.Acquire(ctx, "get-asset"))
	start := time.Now()
	require.NoError(t, rl.Acquire(ctx, "get-asset"))
	elapsed := time.Since(start)
	require.GreaterOrEqual(t, elapsed, 40*time.Millisecond, "second acquire should wait out the min interval")
}

func TestAcquireDeadlineMiss(t *testing.T) {
	cfg := Config{Capacity: 1, RefillPerSecond: 0.1, MinInterval: time.Second}
	rl := New(cfg, cfg, DefaultClassifier, zerolog.Nop())

	ctx := context.Background()
	require.NoError(t, rl.Acquire(ctx, "get-asset"))

	shortCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := rl.Acquire(shortCtx, "get-asset")
	require.Error(t, err)
}

func TestClassifierDefaultsUnknownToQuery(t *testing.T) {
	require.Equal(t, KindQuery, DefaultClassifier("get-chart"))
	require.Equal(t, KindQuery, DefaultClassifier("something-unknown"))
	require.Equal(t, KindOrder, DefaultClassifier("place-buy"))
	require.Equal(t, KindOrder, DefaultClassifier("cancel"))
}

func TestStatsAccumulate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinInterval = 0
	rl := New(cfg, cfg, DefaultClassifier, zerolog.Nop())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, rl.Acquire(ctx, "get-asset"))
	}
	stats := rl.StatsFor(KindQuery)
	require.Equal(t, int64(3), stats.Requests)
}
