package execution

import (
	"sync"
	"time"

	"github.com/alejandrodnm/liquidator/internal/domain"
)

// BreakerConfig tunes the relay circuit breaker.
type BreakerConfig struct {
	MinRequests    int     // calls observed before the ratio is judged
	ErrorThreshold float64 // open when errors/total exceeds this
	Cooldown       time.Duration
}

// DefaultBreakerConfig opens above 10% errors over at least 100 calls.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MinRequests:    100,
		ErrorThreshold: 0.10,
		Cooldown:       30 * time.Second,
	}
}

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker stops relay calls once the error ratio crosses the threshold.
// After Cooldown it resets its counters and lets exactly one probe through;
// the probe's outcome closes or re-opens it.
type Breaker struct {
	cfg   BreakerConfig
	clock Clock

	mu        sync.Mutex
	state     breakerState
	total     int
	errors    int
	trippedAt time.Time
	probing   bool
}

// NewBreaker creates a closed breaker. A nil clock uses the wall clock.
func NewBreaker(cfg BreakerConfig, clock Clock) *Breaker {
	if clock == nil {
		clock = SystemClock
	}
	if cfg.MinRequests <= 0 {
		cfg.MinRequests = 100
	}
	return &Breaker{cfg: cfg, clock: clock}
}

// Allow returns domain.ErrCircuitOpen when the call must fail fast.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerOpen:
		if b.clock.Now().Sub(b.trippedAt) < b.cfg.Cooldown {
			return domain.ErrCircuitOpen
		}
		b.state = breakerHalfOpen
		b.total, b.errors = 0, 0
		b.probing = true
		return nil
	case breakerHalfOpen:
		if b.probing {
			return domain.ErrCircuitOpen
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

// Record reports the outcome of a call previously admitted by Allow.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerOpen:
		return
	case breakerHalfOpen:
		b.probing = false
		if err != nil {
			b.trip()
			return
		}
		b.state = breakerClosed
		return
	}

	b.total++
	if err != nil {
		b.errors++
	}
	if b.total >= b.cfg.MinRequests && float64(b.errors)/float64(b.total) > b.cfg.ErrorThreshold {
		b.trip()
	}
}

// Release gives back an admission that never reached the network. A pending
// probe is freed without deciding the breaker's state.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == breakerHalfOpen {
		b.probing = false
	}
}

func (b *Breaker) trip() {
	b.state = breakerOpen
	b.trippedAt = b.clock.Now()
	b.total, b.errors = 0, 0
}

// State returns "closed", "open" or "half-open".
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}

// Counts returns the calls and errors observed since the last reset.
func (b *Breaker) Counts() (total, errors int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total, b.errors
}
