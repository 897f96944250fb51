package orchestrator

// pipeline.go: per-obligation liquidation loop.
//
//   evaluate → healthy? stop → select tokens → liquidate (bounded retry)
//   → convert residual → re-fetch → repeat
// One call may not restore health: the protocol caps the repay size per
// liquidation, so the loop runs until the obligation is healthy, the
// re-fetch fails, selection is indeterminate or MaxPasses is reached.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/liquidator/internal/domain"
	"github.com/alejandrodnm/liquidator/internal/health"
	"github.com/alejandrodnm/liquidator/internal/liquidation"
)

// processObligation only returns an error under the abort-scan policy.
// Everything else is logged, counted and absorbed here.
func (o *Orchestrator) processObligation(
	ctx context.Context,
	m domain.Market,
	reserves map[solana.PublicKey]domain.Reserve,
	prices domain.PriceMap,
	ob domain.Obligation,
	tally *epochTally,
) error {
	o.Metrics.ObligationScanned()
	tally.obligations.Add(1)

	for pass := 1; pass <= o.cfg.MaxPasses; pass++ {
		if ctx.Err() != nil {
			return nil
		}

		stats, err := health.Evaluate(ob, reserves, prices, o.cfg.MissingPrice)
		if err != nil {
			var missing *health.MissingPriceError
			if errors.As(err, &missing) {
				if missing.Policy == health.AbortScan {
					return fmt.Errorf("obligation %s: %w: %w", ob.Address, errAbortScan, err)
				}
				slog.Debug("obligation skipped, missing price", "obligation", ob.Address, "reserve", missing.Reserve)
				return nil
			}
			o.fail(ob, pass, err)
			return nil
		}
		if !stats.Liquidatable() {
			if pass > 1 {
				slog.Info("obligation healthy again", "obligation", ob.Address, "passes", pass-1)
			}
			return nil
		}
		if pass == 1 {
			o.Metrics.ObligationUnhealthy()
			tally.unhealthy.Add(1)
		}

		sel, err := health.SelectTokens(stats)
		if err != nil {
			o.Metrics.Indeterminate()
			slog.Warn("obligation indeterminate", "obligation", ob.Address, "err", err)
			return nil
		}

		req := domain.LiquidationRequest{
			Market:          m,
			Obligation:      ob,
			RepayReserve:    reserves[sel.Repay.Reserve],
			WithdrawReserve: reserves[sel.Withdraw.Reserve],
			Amount:          repayAmount(sel.Repay.AmountOwed, o.cfg.CloseFactorPct),
		}
		slog.Info("liquidating",
			"obligation", ob.Address,
			"pass", pass,
			"borrowed_value", stats.BorrowedValue.StringFixed(2),
			"unhealthy_value", stats.UnhealthyBorrowValue.StringFixed(2),
			"repay", req.RepayReserve.Symbol,
			"withdraw", req.WithdrawReserve.Symbol,
			"amount", req.Amount,
		)

		tally.attempts.Add(1)
		res, err := o.liquidateWithRetry(ctx, req, pass)
		if err != nil {
			o.fail(ob, pass, err)
			return nil
		}
		tally.successes.Add(1)
		o.Metrics.AttemptLanded(req.RepayReserve.Symbol, res.Profit)
		slog.Info("liquidation landed",
			"obligation", ob.Address,
			"pass", pass,
			"sig", res.Signature,
			"bundle", res.BundleID,
			"profit", res.Profit,
			"residual", res.Residual,
		)

		o.convertResidual(ctx, m, req.WithdrawReserve, res.Residual, prices)

		fresh, err := o.refetch(ctx, ob)
		if err != nil {
			slog.Warn("obligation re-fetch failed, stopping", "obligation", ob.Address, "err", err)
			return nil
		}
		ob = fresh
	}

	slog.Warn("obligation still unhealthy after max passes", "obligation", ob.Address, "passes", o.cfg.MaxPasses)
	return nil
}

// liquidateWithRetry retries retryable composer failures with a fixed delay.
// Every try is recorded as an attempt.
func (o *Orchestrator) liquidateWithRetry(ctx context.Context, req domain.LiquidationRequest, pass int) (domain.LiquidationResult, error) {
	var lastErr error
	for try := 1; try <= o.cfg.LiquidationRetries; try++ {
		o.Metrics.AttemptStarted()
		started := o.Clock.Now()
		res, err := o.Liquidator.Liquidate(ctx, req)
		o.record(ctx, req, pass, started, res, err)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if !liquidation.Retryable(err) || try == o.cfg.LiquidationRetries {
			break
		}
		slog.Debug("liquidation retry", "obligation", req.Obligation.Address, "try", try, "err", err)
		if err := o.Clock.Sleep(ctx, o.cfg.RetryDelay); err != nil {
			return domain.LiquidationResult{}, err
		}
	}
	return domain.LiquidationResult{}, lastErr
}

// convertResidual swaps leftover collateral into the reserve asset when it is
// worth at least MinConvertUSD.
func (o *Orchestrator) convertResidual(ctx context.Context, m domain.Market, withdraw domain.Reserve, residual uint64, prices domain.PriceMap) {
	if o.Converter == nil || residual == 0 {
		return
	}
	target, ok := m.ReserveBySymbol(o.cfg.ConvertSymbol)
	if !ok || target.LiquidityMint.Equals(withdraw.LiquidityMint) {
		return
	}
	price, ok := prices[withdraw.Address]
	if !ok {
		return
	}
	value := decimal.NewFromUint64(residual).Div(withdraw.Scale()).Mul(price.Price)
	if value.LessThan(o.cfg.MinConvertUSD) {
		return
	}

	if _, err := o.Converter.Convert(ctx, withdraw.LiquidityMint, target.LiquidityMint, residual); err != nil {
		slog.Warn("profit conversion failed",
			"from", withdraw.Symbol,
			"to", target.Symbol,
			"amount", residual,
			"err", err,
		)
		return
	}
	o.Metrics.ConversionLanded()
}

// record persists one try. Storage failures are logged, never returned.
func (o *Orchestrator) record(ctx context.Context, req domain.LiquidationRequest, pass int, started time.Time, res domain.LiquidationResult, err error) {
	if o.Store == nil {
		return
	}
	a := domain.LiquidationAttempt{
		Market:          req.Market.Address,
		Obligation:      req.Obligation.Address,
		Pass:            pass,
		RepayReserve:    req.RepayReserve.Address,
		RepaySymbol:     req.RepayReserve.Symbol,
		WithdrawReserve: req.WithdrawReserve.Address,
		WithdrawSymbol:  req.WithdrawReserve.Symbol,
		Amount:          req.Amount,
		FlashAmount:     res.FlashAmount,
		Profit:          res.Profit,
		StartedAt:       started,
		Duration:        o.Clock.Now().Sub(started),
	}
	if res.Signature != (solana.Signature{}) {
		a.Signature = res.Signature.String()
	}
	if err != nil {
		a.Error = err.Error()
	}
	if err := o.Store.SaveAttempt(ctx, a); err != nil {
		slog.Warn("storage error", "obligation", a.Obligation, "err", err)
	}
}

func (o *Orchestrator) fail(ob domain.Obligation, pass int, err error) {
	o.Metrics.PipelineFailed()
	lerr := &domain.LiquidationError{Obligation: ob.Address, Pass: pass, Err: err}
	slog.Error("obligation pipeline failed", "obligation", ob.Address, "pass", pass, "err", lerr)
}

// repayAmount is the share of owed repaid in one pass. Dust is repaid in full.
func repayAmount(owed uint64, closeFactorPct uint8) uint64 {
	if owed <= 2 {
		return owed
	}
	amount := owed / 100 * uint64(closeFactorPct)
	amount += owed % 100 * uint64(closeFactorPct) / 100
	return max(amount, 1)
}
