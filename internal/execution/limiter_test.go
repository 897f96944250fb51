package execution_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/liquidator/internal/execution"
)

func limiterConfig(burst, daily, monthly int) execution.LimiterConfig {
	return execution.LimiterConfig{
		BurstPerSecond: burst,
		DailyLimit:     daily,
		MonthlyLimit:   monthly,
		BaseBackoff:    time.Second,
		MaxBackoff:     time.Hour,
	}
}

func TestLimiter_BurstBlocksUntilWindowClears(t *testing.T) {
	start := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := newFakeClock(start)
	l := execution.NewLimiter(limiterConfig(3, 1000, 100000), clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(ctx))
	}
	assert.Empty(t, clock.Slept(), "first B calls must not wait")

	require.NoError(t, l.Acquire(ctx))
	assert.Equal(t, []time.Duration{time.Second}, clock.Slept())
	assert.Equal(t, start.Add(time.Second), clock.Now())

	st := l.Stats()
	assert.Equal(t, 1, st.InWindow)
	assert.Equal(t, 4, st.Daily)
}

func TestLimiter_WindowSlides(t *testing.T) {
	clock := newFakeClock(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))
	l := execution.NewLimiter(limiterConfig(2, 1000, 100000), clock)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx))
	clock.Advance(600 * time.Millisecond)
	require.NoError(t, l.Acquire(ctx))

	// Third call waits only for the first grant to age out.
	require.NoError(t, l.Acquire(ctx))
	assert.Equal(t, []time.Duration{400 * time.Millisecond}, clock.Slept())
}

func TestLimiter_DailyCounterResetsAtDayBoundary(t *testing.T) {
	clock := newFakeClock(time.Date(2024, 3, 10, 23, 59, 59, 0, time.UTC))
	l := execution.NewLimiter(limiterConfig(10, 1000, 100000), clock)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx))
	require.NoError(t, l.Acquire(ctx))
	assert.Equal(t, 2, l.Stats().Daily)

	clock.Advance(2 * time.Second)
	assert.Equal(t, 0, l.Stats().Daily)
	assert.Equal(t, 2, l.Stats().Monthly, "monthly survives a day boundary")

	require.NoError(t, l.Acquire(ctx))
	assert.Equal(t, 1, l.Stats().Daily)
}

func TestLimiter_MonthlyCounterResetsAtMonthBoundary(t *testing.T) {
	clock := newFakeClock(time.Date(2024, 3, 31, 23, 59, 59, 0, time.UTC))
	l := execution.NewLimiter(limiterConfig(10, 1000, 100000), clock)

	require.NoError(t, l.Acquire(context.Background()))
	clock.Advance(2 * time.Second)
	assert.Equal(t, 0, l.Stats().Monthly)
}

func TestLimiter_DailyCapBacksOffInsteadOfFailing(t *testing.T) {
	clock := newFakeClock(time.Date(2024, 3, 10, 22, 45, 0, 0, time.UTC))
	cfg := limiterConfig(10, 2, 100000)
	cfg.BaseBackoff = 30 * time.Minute
	l := execution.NewLimiter(cfg, clock)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx))
	require.NoError(t, l.Acquire(ctx))

	// Cap hit: sleeps 30m, then 60m, crossing midnight, then passes.
	require.NoError(t, l.Acquire(ctx))
	assert.Equal(t, []time.Duration{30 * time.Minute, time.Hour}, clock.Slept())
	assert.Equal(t, 1, l.Stats().Daily)
}

func TestLimiter_AdaptiveThrottleAboveThreshold(t *testing.T) {
	clock := newFakeClock(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))
	cfg := limiterConfig(100, 10, 100000)
	cfg.ThrottleDelay = 100 * time.Millisecond
	l := execution.NewLimiter(cfg, clock)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		require.NoError(t, l.Acquire(ctx))
	}
	assert.Empty(t, clock.Slept(), "no throttling below 75%")

	require.NoError(t, l.Acquire(ctx)) // 8/10 = 80%
	slept := clock.Slept()
	require.Len(t, slept, 1)
	assert.Equal(t, 80*time.Millisecond, slept[0])

	require.NoError(t, l.Acquire(ctx)) // 9/10 = 90%
	slept = clock.Slept()
	require.Len(t, slept, 2)
	assert.Equal(t, 180*time.Millisecond, slept[1])
}

func TestLimiter_AcquireHonorsContext(t *testing.T) {
	clock := newFakeClock(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))
	l := execution.NewLimiter(limiterConfig(1, 1000, 100000), clock)

	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Acquire(ctx), context.Canceled)
}
