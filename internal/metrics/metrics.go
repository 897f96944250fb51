package metrics

// metrics.go: process-wide liquidation tallies.
//
// The aggregate is created once in main and passed by pointer to whoever
// updates it. Counters are atomics; per-mint profit sits behind a mutex.
// Every update is mirrored into Prometheus collectors when a registerer is
// supplied, so /metrics and Snapshot() always agree.

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "liquidator"

// Metrics is the liquidation tally shared by the orchestrator pipeline.
type Metrics struct {
	obligationsScanned   atomic.Int64
	obligationsUnhealthy atomic.Int64
	indeterminate        atomic.Int64
	attempts             atomic.Int64
	successes            atomic.Int64
	failures             atomic.Int64
	conversions          atomic.Int64
	marketErrors         atomic.Int64
	cooldowns            atomic.Int64
	epochs               atomic.Int64

	mu     sync.Mutex
	profit map[string]int64 // symbol → base units

	prom *promCollectors
}

type promCollectors struct {
	scanned      prometheus.Counter
	unhealthy    prometheus.Counter
	attempts     prometheus.Counter
	successes    prometheus.Counter
	failures     prometheus.Counter
	conversions  prometheus.Counter
	marketErrors prometheus.Counter
	cooldowns    prometheus.Counter
	profit       *prometheus.CounterVec
	losses       *prometheus.CounterVec
}

// New creates an aggregate. A nil registerer keeps it in-memory only.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{profit: make(map[string]int64)}
	if reg == nil {
		return m
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		})
	}
	p := &promCollectors{
		scanned:      counter("obligations_scanned_total", "Obligations evaluated."),
		unhealthy:    counter("obligations_unhealthy_total", "Obligations found liquidatable."),
		attempts:     counter("liquidation_attempts_total", "Flash-loan liquidations submitted."),
		successes:    counter("liquidation_successes_total", "Flash-loan liquidations that landed."),
		failures:     counter("liquidation_failures_total", "Obligation pipelines that failed."),
		conversions:  counter("profit_conversions_total", "Profit conversions that landed."),
		marketErrors: counter("market_errors_total", "Market passes that raised an error."),
		cooldowns:    counter("cooldowns_total", "Consecutive-error cooldowns entered."),
		profit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profit_base_units_total",
			Help:      "Realized profit per token, in base units.",
		}, []string{"symbol"}),
		losses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loss_base_units_total",
			Help:      "Realized losses per token, in base units.",
		}, []string{"symbol"}),
	}
	reg.MustRegister(
		p.scanned, p.unhealthy, p.attempts, p.successes, p.failures,
		p.conversions, p.marketErrors, p.cooldowns, p.profit, p.losses,
	)
	m.prom = p
	return m
}

func (m *Metrics) ObligationScanned() {
	m.obligationsScanned.Add(1)
	if m.prom != nil {
		m.prom.scanned.Inc()
	}
}

func (m *Metrics) ObligationUnhealthy() {
	m.obligationsUnhealthy.Add(1)
	if m.prom != nil {
		m.prom.unhealthy.Inc()
	}
}

func (m *Metrics) Indeterminate() { m.indeterminate.Add(1) }

func (m *Metrics) AttemptStarted() {
	m.attempts.Add(1)
	if m.prom != nil {
		m.prom.attempts.Inc()
	}
}

// AttemptLanded records a landed liquidation and its measured profit.
func (m *Metrics) AttemptLanded(symbol string, profit int64) {
	m.successes.Add(1)
	m.mu.Lock()
	m.profit[symbol] += profit
	m.mu.Unlock()
	if m.prom == nil {
		return
	}
	m.prom.successes.Inc()
	if profit >= 0 {
		m.prom.profit.WithLabelValues(symbol).Add(float64(profit))
	} else {
		m.prom.losses.WithLabelValues(symbol).Add(float64(-profit))
	}
}

func (m *Metrics) PipelineFailed() {
	m.failures.Add(1)
	if m.prom != nil {
		m.prom.failures.Inc()
	}
}

func (m *Metrics) ConversionLanded() {
	m.conversions.Add(1)
	if m.prom != nil {
		m.prom.conversions.Inc()
	}
}

func (m *Metrics) MarketError() {
	m.marketErrors.Add(1)
	if m.prom != nil {
		m.prom.marketErrors.Inc()
	}
}

func (m *Metrics) Cooldown() {
	m.cooldowns.Add(1)
	if m.prom != nil {
		m.prom.cooldowns.Inc()
	}
}

func (m *Metrics) EpochCompleted() { m.epochs.Add(1) }

// ProfitEntry is realized profit for one token.
type ProfitEntry struct {
	Symbol    string
	BaseUnits int64
}

// Snapshot is a point-in-time copy of the tally.
type Snapshot struct {
	Epochs               int64
	ObligationsScanned   int64
	ObligationsUnhealthy int64
	Indeterminate        int64
	Attempts             int64
	Successes            int64
	Failures             int64
	Conversions          int64
	MarketErrors         int64
	Cooldowns            int64
	Profit               []ProfitEntry // sorted by symbol
}

// Snapshot reads all counters. Individual counters are consistent; the set as
// a whole is not taken under one lock.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		Epochs:               m.epochs.Load(),
		ObligationsScanned:   m.obligationsScanned.Load(),
		ObligationsUnhealthy: m.obligationsUnhealthy.Load(),
		Indeterminate:        m.indeterminate.Load(),
		Attempts:             m.attempts.Load(),
		Successes:            m.successes.Load(),
		Failures:             m.failures.Load(),
		Conversions:          m.conversions.Load(),
		MarketErrors:         m.marketErrors.Load(),
		Cooldowns:            m.cooldowns.Load(),
	}

	m.mu.Lock()
	s.Profit = make([]ProfitEntry, 0, len(m.profit))
	for sym, v := range m.profit {
		s.Profit = append(s.Profit, ProfitEntry{Symbol: sym, BaseUnits: v})
	}
	m.mu.Unlock()

	sort.Slice(s.Profit, func(i, j int) bool { return s.Profit[i].Symbol < s.Profit[j].Symbol })
	return s
}
