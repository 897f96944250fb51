package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/liquidator/internal/domain"
)

// scanMarket refreshes one market's reserves, prices and obligations, then
// runs the obligation pipelines in batches of BatchSize.
func (o *Orchestrator) scanMarket(ctx context.Context, m domain.Market, tally *epochTally) error {
	m, err := o.loadReserves(ctx, m)
	if err != nil {
		return fmt.Errorf("orchestrator.scanMarket: %w", err)
	}
	prices := o.Prices.ResolveMarketPrices(ctx, m)

	obligations, err := o.loadObligations(ctx, m)
	if err != nil {
		return fmt.Errorf("orchestrator.scanMarket: %w", err)
	}
	slog.Debug("market loaded",
		"market", m.Address,
		"name", m.Name,
		"reserves", len(m.Reserves),
		"prices", len(prices),
		"obligations", len(obligations),
	)

	reserves := m.ReserveMap()
	for start := 0; start < len(obligations); start += o.cfg.BatchSize {
		end := min(start+o.cfg.BatchSize, len(obligations))

		var g errgroup.Group
		for _, ob := range obligations[start:end] {
			g.Go(func() error {
				return o.processObligation(ctx, m, reserves, prices, ob, tally)
			})
		}
		// Only the abort-scan policy surfaces an error here.
		if err := g.Wait(); err != nil {
			return fmt.Errorf("orchestrator.scanMarket: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	return nil
}

// loadReserves overlays on-chain reserve state on the static metadata.
// Reserves that are missing or fail to decode are dropped.
func (o *Orchestrator) loadReserves(ctx context.Context, m domain.Market) (domain.Market, error) {
	addrs := make([]solana.PublicKey, len(m.Reserves))
	for i, r := range m.Reserves {
		addrs[i] = r.Address
	}
	infos, err := o.Chain.GetMultipleAccounts(ctx, addrs)
	if err != nil {
		return m, fmt.Errorf("load reserves: %w", err)
	}
	if len(infos) != len(addrs) {
		return m, fmt.Errorf("load reserves: asked %d accounts, got %d: %w", len(addrs), len(infos), domain.ErrRPC)
	}

	out := m
	out.Reserves = make([]domain.Reserve, 0, len(m.Reserves))
	for i, info := range infos {
		base := m.Reserves[i]
		if info == nil {
			slog.Warn("reserve account missing", "reserve", base.Address, "symbol", base.Symbol)
			continue
		}
		r, err := o.Codec.DecodeReserve(base, info.Data)
		if err != nil {
			slog.Warn("reserve decode failed", "reserve", base.Address, "symbol", base.Symbol, "err", err)
			continue
		}
		out.Reserves = append(out.Reserves, r)
	}
	if len(out.Reserves) == 0 {
		return m, fmt.Errorf("load reserves: none of %d decoded", len(addrs))
	}
	return out, nil
}

// loadObligations lists every obligation of the market.
func (o *Orchestrator) loadObligations(ctx context.Context, m domain.Market) ([]domain.Obligation, error) {
	accounts, err := o.Chain.GetProgramAccounts(ctx, o.Codec.ProgramID(), o.Codec.ObligationFilter(m.Address))
	if err != nil {
		return nil, fmt.Errorf("load obligations: %w", err)
	}
	out := make([]domain.Obligation, 0, len(accounts))
	skipped := 0
	for _, acc := range accounts {
		ob, err := o.Codec.DecodeObligation(acc.Address, acc.Data)
		if err != nil {
			skipped++
			continue
		}
		if len(ob.Borrows) == 0 {
			continue
		}
		out = append(out, ob)
	}
	if skipped > 0 {
		slog.Debug("obligations skipped", "market", m.Address, "undecodable", skipped)
	}
	return out, nil
}

// refetch re-reads an obligation after a liquidation changed it.
func (o *Orchestrator) refetch(ctx context.Context, ob domain.Obligation) (domain.Obligation, error) {
	info, err := o.Chain.GetAccountInfo(ctx, ob.Address)
	if err != nil {
		return domain.Obligation{}, fmt.Errorf("refetch %s: %w", ob.Address, err)
	}
	fresh, err := o.Codec.DecodeObligation(ob.Address, info.Data)
	if err != nil {
		return domain.Obligation{}, fmt.Errorf("refetch %s: %w", ob.Address, err)
	}
	return fresh, nil
}

var errAbortScan = errors.New("scan aborted")
