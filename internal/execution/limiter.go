package execution

// limiter.go: relay request budget.
//
// Three caps are enforced before every relay call:
//   - burst: at most BurstPerSecond calls inside any sliding 1s window
//   - daily: calls since 00:00 UTC
//   - monthly: calls since the first of the month, UTC
//
// A breach never fails the call. The caller sleeps and re-checks in a loop:
// burst breaches wait exactly until the oldest call leaves the window, cap
// breaches wait a doubling backoff. Once usage passes 75% (90%) of the daily
// or monthly cap every granted call also pays a proportional throttle sleep.

import (
	"context"
	"sync"
	"time"
)

// LimiterConfig sizes the relay budget.
type LimiterConfig struct {
	BurstPerSecond int
	DailyLimit     int
	MonthlyLimit   int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	ThrottleDelay  time.Duration // unit of adaptive throttling
}

// DefaultLimiterConfig matches the relay's public tier.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		BurstPerSecond: 5,
		DailyLimit:     100_000,
		MonthlyLimit:   2_500_000,
		BaseBackoff:    500 * time.Millisecond,
		MaxBackoff:     time.Minute,
		ThrottleDelay:  200 * time.Millisecond,
	}
}

// Limiter holds the process-wide relay budget. Check-and-increment happens
// under one lock so two callers never both pass the same boundary.
type Limiter struct {
	cfg   LimiterConfig
	clock Clock

	mu         sync.Mutex
	window     []time.Time // grants inside the last second, oldest first
	daily      int
	monthly    int
	dayStart   time.Time
	monthStart time.Time
	backoff    time.Duration
}

// NewLimiter creates a limiter. A nil clock uses the wall clock.
func NewLimiter(cfg LimiterConfig, clock Clock) *Limiter {
	if clock == nil {
		clock = SystemClock
	}
	if cfg.BurstPerSecond <= 0 {
		cfg.BurstPerSecond = 1
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = cfg.BaseBackoff
	}
	now := clock.Now()
	return &Limiter{
		cfg:        cfg,
		clock:      clock,
		window:     make([]time.Time, 0, cfg.BurstPerSecond),
		dayStart:   startOfDay(now),
		monthStart: startOfMonth(now),
		backoff:    cfg.BaseBackoff,
	}
}

// Acquire blocks until a call may proceed, or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		wait, throttle, ok := l.tryAcquire()
		if ok {
			if throttle > 0 {
				return l.clock.Sleep(ctx, throttle)
			}
			return ctx.Err()
		}
		if err := l.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (l *Limiter) tryAcquire() (wait, throttle time.Duration, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.rollover(now)

	cutoff := now.Add(-time.Second)
	i := 0
	for i < len(l.window) && !l.window[i].After(cutoff) {
		i++
	}
	l.window = l.window[i:]

	if len(l.window) >= l.cfg.BurstPerSecond {
		return l.window[0].Add(time.Second).Sub(now), 0, false
	}

	if l.overCap() {
		wait = l.backoff
		l.backoff *= 2
		if l.backoff > l.cfg.MaxBackoff {
			l.backoff = l.cfg.MaxBackoff
		}
		return wait, 0, false
	}

	l.window = append(l.window, now)
	l.daily++
	l.monthly++
	l.backoff = l.cfg.BaseBackoff
	return 0, l.throttleDelay(), true
}

func (l *Limiter) overCap() bool {
	if l.cfg.DailyLimit > 0 && l.daily >= l.cfg.DailyLimit {
		return true
	}
	return l.cfg.MonthlyLimit > 0 && l.monthly >= l.cfg.MonthlyLimit
}

func (l *Limiter) rollover(now time.Time) {
	if day := startOfDay(now); day.After(l.dayStart) {
		l.dayStart = day
		l.daily = 0
	}
	if month := startOfMonth(now); month.After(l.monthStart) {
		l.monthStart = month
		l.monthly = 0
	}
}

func (l *Limiter) throttleDelay() time.Duration {
	if l.cfg.ThrottleDelay <= 0 {
		return 0
	}
	usage := 0.0
	if l.cfg.DailyLimit > 0 {
		usage = float64(l.daily) / float64(l.cfg.DailyLimit)
	}
	if l.cfg.MonthlyLimit > 0 {
		usage = max(usage, float64(l.monthly)/float64(l.cfg.MonthlyLimit))
	}
	switch {
	case usage >= 0.90:
		return time.Duration(float64(2*l.cfg.ThrottleDelay) * usage)
	case usage >= 0.75:
		return time.Duration(float64(l.cfg.ThrottleDelay) * usage)
	default:
		return 0
	}
}

// LimiterStats is a read-only view of the budget.
type LimiterStats struct {
	InWindow int
	Daily    int
	Monthly  int
	Backoff  time.Duration
}

// Stats returns current usage after applying any pending day/month rollover.
func (l *Limiter) Stats() LimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover(l.clock.Now())
	return LimiterStats{
		InWindow: len(l.window),
		Daily:    l.daily,
		Monthly:  l.monthly,
		Backoff:  l.backoff,
	}
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func startOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
