package orchestrator

// orchestrator.go: the epoch loop.
//
// Each epoch fetches market metadata once, then for every market:
//   FetchMarketData → BatchObligations → PerObligationLoop → Unwrap → Throttle
// A market pass that returns an error bumps a consecutive-error counter; on
// reaching ErrorThreshold the loop sleeps Cooldown and starts counting again.
// Per-obligation failures never reach this level.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/liquidator/internal/domain"
	"github.com/alejandrodnm/liquidator/internal/execution"
	"github.com/alejandrodnm/liquidator/internal/health"
	"github.com/alejandrodnm/liquidator/internal/liquidation"
	"github.com/alejandrodnm/liquidator/internal/metrics"
	"github.com/alejandrodnm/liquidator/internal/ports"
)

// Config tunes the orchestrator.
type Config struct {
	BatchSize          int
	MaxPasses          int // liquidation passes per obligation and epoch
	LiquidationRetries int
	RetryDelay         time.Duration
	CloseFactorPct     uint8 // share of a borrow repaid per pass
	ErrorThreshold     int   // consecutive market errors before a cooldown
	Cooldown           time.Duration
	Throttle           time.Duration // pause between markets
	EpochDelay         time.Duration // pause between epochs
	MaxEpochs          int           // 0 runs until ctx is done
	MinSOLBalance      uint64        // lamports
	ConvertSymbol      string        // reserve asset profit is converted into
	MinConvertUSD      decimal.Decimal
	MissingPrice       health.MissingPricePolicy
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:          3,
		MaxPasses:          10,
		LiquidationRetries: 3,
		RetryDelay:         2 * time.Second,
		CloseFactorPct:     20,
		ErrorThreshold:     5,
		Cooldown:           5 * time.Minute,
		Throttle:           time.Second,
		EpochDelay:         5 * time.Second,
		MinSOLBalance:      100_000_000, // 0.1 SOL
		ConvertSymbol:      "USDC",
		MinConvertUSD:      decimal.NewFromInt(1),
		MissingPrice:       health.SkipObligation,
	}
}

// PriceResolver resolves the oracle prices of a market.
type PriceResolver interface {
	ResolveMarketPrices(ctx context.Context, m domain.Market) domain.PriceMap
}

// Liquidator executes one flash-loan liquidation.
type Liquidator interface {
	Liquidate(ctx context.Context, req domain.LiquidationRequest) (domain.LiquidationResult, error)
	Wallet() solana.PublicKey
}

// Converter moves profit into the reserve asset and unwraps SOL.
type Converter interface {
	Convert(ctx context.Context, from, to solana.PublicKey, amount uint64) (liquidation.Conversion, error)
	UnwrapSOL(ctx context.Context) (uint64, error)
}

// Deps are the collaborators of the orchestrator. Store and Reporter may be nil.
type Deps struct {
	Markets    ports.MarketProvider
	Chain      ports.ChainClient
	Codec      ports.ProtocolCodec
	Prices     PriceResolver
	Liquidator Liquidator
	Converter  Converter
	Store      ports.AttemptStore
	Reporter   ports.Reporter
	Metrics    *metrics.Metrics
	Clock      execution.Clock
}

// Orchestrator drives the scan epochs.
type Orchestrator struct {
	cfg Config
	Deps

	consecutiveErrors int
}

// New creates an orchestrator. A nil clock uses the wall clock and nil
// metrics an in-memory aggregate.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.MaxPasses < 1 {
		cfg.MaxPasses = 1
	}
	if cfg.LiquidationRetries < 1 {
		cfg.LiquidationRetries = 1
	}
	if cfg.CloseFactorPct == 0 || cfg.CloseFactorPct > 100 {
		cfg.CloseFactorPct = 20
	}
	if cfg.MissingPrice == "" {
		cfg.MissingPrice = health.SkipObligation
	}
	if deps.Clock == nil {
		deps.Clock = execution.SystemClock
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(nil)
	}
	return &Orchestrator{cfg: cfg, Deps: deps}
}

// CheckFunds fails with domain.ErrInsufficientFunds when the wallet holds
// less than the configured minimum.
func (o *Orchestrator) CheckFunds(ctx context.Context) error {
	bal, err := o.Chain.GetBalance(ctx, o.Liquidator.Wallet())
	if err != nil {
		return fmt.Errorf("orchestrator.CheckFunds: %w", err)
	}
	if bal < o.cfg.MinSOLBalance {
		return fmt.Errorf("orchestrator.CheckFunds: wallet %s holds %d lamports, need %d: %w",
			o.Liquidator.Wallet(), bal, o.cfg.MinSOLBalance, domain.ErrInsufficientFunds)
	}
	return nil
}

// Startup runs the checks that must pass before the first epoch: the wallet
// funds guard and one market metadata fetch. Either failure is fatal to the
// caller; later epochs absorb the same failures as market errors.
func (o *Orchestrator) Startup(ctx context.Context) error {
	if err := o.CheckFunds(ctx); err != nil {
		return fmt.Errorf("orchestrator.Startup: %w", err)
	}
	markets, err := o.Markets.FetchMarkets(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator.Startup: fetch markets: %w", err)
	}
	slog.Info("market metadata loaded", "markets", len(markets))
	return nil
}

// Run executes epochs until ctx is done or MaxEpochs is reached.
func (o *Orchestrator) Run(ctx context.Context) error {
	slog.Info("orchestrator starting",
		"batch_size", o.cfg.BatchSize,
		"missing_price_policy", o.cfg.MissingPrice,
		"max_epochs", o.cfg.MaxEpochs,
	)

	for epoch := 1; ; epoch++ {
		summary := o.RunEpoch(ctx, epoch)
		if ctx.Err() != nil {
			slog.Info("orchestrator stopped", "epoch", epoch)
			return nil
		}
		o.finishEpoch(ctx, summary)

		if o.cfg.MaxEpochs > 0 && epoch >= o.cfg.MaxEpochs {
			return nil
		}
		if err := o.Clock.Sleep(ctx, o.cfg.EpochDelay); err != nil {
			slog.Info("orchestrator stopped", "epoch", epoch)
			return nil
		}
	}
}

// RunEpoch makes one pass over every market.
func (o *Orchestrator) RunEpoch(ctx context.Context, epoch int) (summary domain.EpochSummary) {
	start := o.Clock.Now()
	summary = domain.EpochSummary{Epoch: epoch, StartedAt: start}
	defer func() { summary.Duration = o.Clock.Now().Sub(start) }()

	if err := o.CheckFunds(ctx); err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			slog.Warn("liquidation paused for this epoch", "epoch", epoch, "err", err)
		} else {
			slog.Error("funds check failed", "epoch", epoch, "err", err)
			o.marketFailed(ctx, err)
		}
		summary.Skipped = true
		return summary
	}

	markets, err := o.Markets.FetchMarkets(ctx)
	if err != nil {
		slog.Error("fetch markets failed", "epoch", epoch, "err", err)
		o.marketFailed(ctx, err)
		return summary
	}
	summary.Markets = len(markets)

	var tally epochTally
	for i, m := range markets {
		if ctx.Err() != nil {
			break
		}
		if err := o.scanMarket(ctx, m, &tally); err != nil {
			slog.Error("market pass failed", "market", m.Address, "name", m.Name, "err", err)
			o.marketFailed(ctx, err)
		} else {
			o.consecutiveErrors = 0
		}

		o.unwrap(ctx)
		if i < len(markets)-1 && o.cfg.Throttle > 0 {
			if err := o.Clock.Sleep(ctx, o.cfg.Throttle); err != nil {
				break
			}
		}
	}

	summary.Obligations = int(tally.obligations.Load())
	summary.Unhealthy = int(tally.unhealthy.Load())
	summary.Attempts = int(tally.attempts.Load())
	summary.Successes = int(tally.successes.Load())
	return summary
}

// marketFailed counts a market-level error and cools down at the threshold.
func (o *Orchestrator) marketFailed(ctx context.Context, err error) {
	o.Metrics.MarketError()
	o.consecutiveErrors++
	if o.cfg.ErrorThreshold <= 0 || o.consecutiveErrors < o.cfg.ErrorThreshold {
		return
	}
	slog.Warn("too many consecutive market errors, cooling down",
		"errors", o.consecutiveErrors,
		"cooldown", o.cfg.Cooldown,
		"last_err", err,
	)
	o.Metrics.Cooldown()
	o.consecutiveErrors = 0
	_ = o.Clock.Sleep(ctx, o.cfg.Cooldown)
}

func (o *Orchestrator) unwrap(ctx context.Context) {
	if o.Converter == nil {
		return
	}
	if _, err := o.Converter.UnwrapSOL(ctx); err != nil {
		slog.Warn("unwrap SOL failed", "err", err)
	}
}

func (o *Orchestrator) finishEpoch(ctx context.Context, s domain.EpochSummary) {
	o.Metrics.EpochCompleted()
	if o.Store != nil {
		if err := o.Store.SaveEpoch(ctx, s); err != nil {
			slog.Warn("storage error", "err", err)
		}
	}
	if o.Reporter != nil {
		if err := o.Reporter.Report(ctx, s.Epoch, o.Metrics.Snapshot()); err != nil {
			slog.Warn("reporter error", "err", err)
		}
	}
	slog.Info("epoch complete",
		"epoch", s.Epoch,
		"markets", s.Markets,
		"obligations", s.Obligations,
		"unhealthy", s.Unhealthy,
		"liquidations", s.Successes,
		"skipped", s.Skipped,
		"duration", s.Duration.Round(time.Millisecond),
	)
}

// epochTally is shared by the obligation pipelines of one epoch.
type epochTally struct {
	obligations atomic.Int64
	unhealthy   atomic.Int64
	attempts    atomic.Int64
	successes   atomic.Int64
}
