package oracle

// aggregator.go: per-token price resolution.
//
// Order, first success wins:
//   1. cache, if younger than the staleness threshold
//   2. primary oracle, only while trading and within the confidence limit
//   3. secondary oracle, retried, decoded per owning program version
//   4. static table for pegged symbols
// Successes are written through to the cache with their source tag.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/liquidator/internal/domain"
	"github.com/alejandrodnm/liquidator/internal/execution"
	"github.com/alejandrodnm/liquidator/internal/ports"
)

// Config tunes the aggregator.
type Config struct {
	CacheTTL            time.Duration
	StalenessThreshold  time.Duration
	MaxConfidenceBps    decimal.Decimal
	SecondaryRetries    int
	SecondaryRetryDelay time.Duration
	StaticPrices        map[string]decimal.Decimal // symbol → USD
}

// DefaultStaticPrices covers the pegged stablecoins.
func DefaultStaticPrices() map[string]decimal.Decimal {
	one := decimal.NewFromInt(1)
	return map[string]decimal.Decimal{
		"USDC": one,
		"USDT": one,
		"UXD":  one,
		"USDH": one,
		"PAI":  one,
	}
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		CacheTTL:            time.Minute,
		StalenessThreshold:  30 * time.Second,
		MaxConfidenceBps:    decimal.NewFromInt(200),
		SecondaryRetries:    3,
		SecondaryRetryDelay: 250 * time.Millisecond,
		StaticPrices:        DefaultStaticPrices(),
	}
}

// Aggregator resolves reserve prices with caching and fallback.
type Aggregator struct {
	cfg    Config
	reader ports.AccountReader
	cache  *Cache
	clock  execution.Clock
}

// New creates an aggregator. A nil clock uses the wall clock; it drives both
// cache ages and the delay between secondary retries.
func New(cfg Config, reader ports.AccountReader, clock execution.Clock) *Aggregator {
	if clock == nil {
		clock = execution.SystemClock
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}
	if cfg.StalenessThreshold <= 0 || cfg.StalenessThreshold > cfg.CacheTTL {
		cfg.StalenessThreshold = cfg.CacheTTL
	}
	if cfg.SecondaryRetries <= 0 {
		cfg.SecondaryRetries = 1
	}
	return &Aggregator{
		cfg:    cfg,
		reader: reader,
		cache:  NewCache(cfg.CacheTTL, clock.Now),
		clock:  clock,
	}
}

// Cache exposes the price cache.
func (a *Aggregator) Cache() *Cache { return a.cache }

// ResolvePrice returns the reserve's price, or false when no source has one.
// Callers must then exclude the token from valuation.
func (a *Aggregator) ResolvePrice(ctx context.Context, r domain.Reserve) (domain.TokenOracleData, bool) {
	if cached, ok := a.cache.Get(r.Symbol, r.Address, a.cfg.StalenessThreshold); ok {
		return cached, true
	}

	base := domain.TokenOracleData{
		Symbol:   r.Symbol,
		Mint:     r.LiquidityMint,
		Reserve:  r.Address,
		Decimals: r.Decimals,
	}

	if !r.PrimaryOracle.IsZero() {
		price, conf, err := a.fromPrimary(ctx, r.PrimaryOracle)
		if err == nil {
			base.Price = price
			base.Confidence = decimal.NullDecimal{Decimal: conf, Valid: true}
			return a.store(base, domain.SourcePrimary), true
		}
		slog.Debug("oracle: primary rejected", "symbol", r.Symbol, "oracle", r.PrimaryOracle, "err", err)
	}

	if !r.SecondaryOracle.IsZero() {
		price, err := a.fromSecondary(ctx, r.SecondaryOracle)
		if err == nil {
			base.Price = price
			return a.store(base, domain.SourceSecondary), true
		}
		slog.Debug("oracle: secondary failed", "symbol", r.Symbol, "oracle", r.SecondaryOracle, "err", err)
	}

	if price, ok := a.cfg.StaticPrices[r.Symbol]; ok {
		base.Price = price
		return a.store(base, domain.SourceFallback), true
	}

	return domain.TokenOracleData{}, false
}

func (a *Aggregator) store(d domain.TokenOracleData, src domain.PriceSource) domain.TokenOracleData {
	d.Source = src
	d.FetchedAt = a.clock.Now()
	a.cache.Put(d)
	return d
}

func (a *Aggregator) fromPrimary(ctx context.Context, feed solana.PublicKey) (decimal.Decimal, decimal.Decimal, error) {
	acc, err := a.reader.GetAccountInfo(ctx, feed)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	p, err := decodePythPrice(acc.Data)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if p.Status != pythStatusTrading {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w (status %d)", errNotTrading, p.Status)
	}
	if !p.Price.IsPositive() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("non-positive price %s", p.Price)
	}
	if bps := p.confidenceBps(); bps.GreaterThan(a.cfg.MaxConfidenceBps) {
		slog.Warn("oracle: primary confidence too wide",
			"oracle", feed,
			"confidence_bps", bps.StringFixed(2),
			"max_bps", a.cfg.MaxConfidenceBps.String(),
		)
		return decimal.Zero, decimal.Zero, fmt.Errorf("confidence %s bps above limit", bps.StringFixed(2))
	}
	return p.Price, p.Confidence, nil
}

func (a *Aggregator) fromSecondary(ctx context.Context, feed solana.PublicKey) (decimal.Decimal, error) {
	var lastErr error
	for attempt := 1; attempt <= a.cfg.SecondaryRetries; attempt++ {
		price, err := a.readSecondary(ctx, feed)
		if err == nil {
			return price, nil
		}
		lastErr = err
		if attempt == a.cfg.SecondaryRetries {
			break
		}
		if err := a.clock.Sleep(ctx, a.cfg.SecondaryRetryDelay); err != nil {
			return decimal.Zero, err
		}
	}
	return decimal.Zero, lastErr
}

func (a *Aggregator) readSecondary(ctx context.Context, feed solana.PublicKey) (decimal.Decimal, error) {
	acc, err := a.reader.GetAccountInfo(ctx, feed)
	if err != nil {
		return decimal.Zero, err
	}
	price, err := decodeSwitchboard(acc.Owner, acc.Data)
	if err != nil {
		return decimal.Zero, err
	}
	if !price.IsPositive() {
		return decimal.Zero, errors.New("switchboard: zero price")
	}
	return price, nil
}

// ResolveMarketPrices resolves every reserve concurrently and returns the
// subset that resolved, keyed by reserve address. Failures are counted and
// logged, never waited on beyond their own resolution.
func (a *Aggregator) ResolveMarketPrices(ctx context.Context, m domain.Market) domain.PriceMap {
	out := make(domain.PriceMap, len(m.Reserves))
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		missing []string
	)
	for _, r := range m.Reserves {
		wg.Add(1)
		go func(r domain.Reserve) {
			defer wg.Done()
			d, ok := a.ResolvePrice(ctx, r)
			mu.Lock()
			defer mu.Unlock()
			if !ok {
				missing = append(missing, r.Symbol)
				return
			}
			out[r.Address] = d
		}(r)
	}
	wg.Wait()

	if len(missing) > 0 {
		slog.Warn("oracle: unresolved prices",
			"market", m.Address,
			"failed", len(missing),
			"resolved", len(out),
			"symbols", missing,
		)
	}
	return out
}
