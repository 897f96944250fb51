package liquidation

// convert.go: opportunistic profit conversion.
//
// After a liquidation lands, whatever collateral is left over is swapped into
// a reserve asset. This is a plain transaction of its own, not part of the
// atomic liquidation: a failed conversion leaves the tokens where they are.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"

	"github.com/alejandrodnm/liquidator/internal/domain"
	"github.com/alejandrodnm/liquidator/internal/ports"
)

// ConvertConfig tunes conversions.
type ConvertConfig struct {
	SlippageBps    uint16
	ComputeUnits   uint32
	PriorityFee    uint64
	ConfirmTimeout time.Duration
}

// DefaultConvertConfig returns production defaults.
func DefaultConvertConfig() ConvertConfig {
	return ConvertConfig{
		SlippageBps:    50,
		ComputeUnits:   400_000,
		ConfirmTimeout: 60 * time.Second,
	}
}

// Conversion is a landed swap.
type Conversion struct {
	Signature solana.Signature
	InAmount  uint64
	OutAmount uint64 // quoted
}

// Converter swaps wallet balances between tokens.
type Converter struct {
	cfg    ConvertConfig
	exec   Executor
	swap   ports.SwapRouter
	signer signer
}

func NewConverter(cfg ConvertConfig, exec Executor, swap ports.SwapRouter, key solana.PrivateKey) *Converter {
	if cfg.ComputeUnits == 0 {
		cfg.ComputeUnits = 400_000
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 60 * time.Second
	}
	return &Converter{cfg: cfg, exec: exec, swap: swap, signer: newSigner(key)}
}

// Convert swaps exactly amount of from into to. The destination account is
// created when missing.
func (c *Converter) Convert(ctx context.Context, from, to solana.PublicKey, amount uint64) (Conversion, error) {
	if amount == 0 || from.Equals(to) {
		return Conversion{}, fmt.Errorf("liquidation.Convert: nothing to convert (%d %s → %s): %w", amount, from, to, domain.ErrSwap)
	}

	quote, err := c.swap.Quote(ctx, ports.QuoteRequest{
		InputMint:   from,
		OutputMint:  to,
		Amount:      amount,
		Mode:        ports.SwapExactIn,
		SlippageBps: c.cfg.SlippageBps,
	})
	if err != nil {
		return Conversion{}, fmt.Errorf("liquidation.Convert: quote: %w", err)
	}
	swapIxs, err := c.swap.SwapInstructions(ctx, quote, c.signer.wallet)
	if err != nil {
		return Conversion{}, fmt.Errorf("liquidation.Convert: swap instructions: %w", err)
	}

	dest, err := ensureATA(ctx, c.exec, c.signer.wallet, to)
	if err != nil {
		return Conversion{}, fmt.Errorf("liquidation.Convert: %w", err)
	}

	ixs := computeBudget(c.cfg.ComputeUnits, c.cfg.PriorityFee)
	if dest.Create != nil {
		ixs = append(ixs, dest.Create)
	}
	ixs = append(ixs, swapIxs.Setup...)
	ixs = append(ixs, swapIxs.Swap)
	ixs = append(ixs, swapIxs.Cleanup...)

	lookup, err := loadLookupTables(ctx, c.exec, swapIxs.LookupTables)
	if err != nil {
		return Conversion{}, fmt.Errorf("liquidation.Convert: %w", err)
	}
	sig, err := c.send(ctx, ixs, lookup)
	if err != nil {
		return Conversion{}, fmt.Errorf("liquidation.Convert: %w", err)
	}

	slog.Info("liquidation: profit converted",
		"from", from,
		"to", to,
		"in", quote.InAmount,
		"out", quote.OutAmount,
		"sig", sig,
	)
	return Conversion{Signature: sig, InAmount: quote.InAmount, OutAmount: quote.OutAmount}, nil
}

// UnwrapSOL closes the wallet's wrapped-SOL account when it holds a balance,
// returning the lamports to the wallet. It returns the amount unwrapped.
func (c *Converter) UnwrapSOL(ctx context.Context) (uint64, error) {
	acc, err := ensureATA(ctx, c.exec, c.signer.wallet, solana.WrappedSol)
	if err != nil {
		return 0, fmt.Errorf("liquidation.UnwrapSOL: %w", err)
	}
	if acc.Create != nil {
		return 0, nil
	}
	bal, err := acc.balance(ctx, c.exec)
	if err != nil {
		return 0, fmt.Errorf("liquidation.UnwrapSOL: balance: %w", err)
	}
	if bal == 0 {
		return 0, nil
	}

	ixs := []solana.Instruction{
		token.NewCloseAccountInstruction(acc.Address, c.signer.wallet, c.signer.wallet, nil).Build(),
	}
	sig, err := c.send(ctx, ixs, nil)
	if err != nil {
		return 0, fmt.Errorf("liquidation.UnwrapSOL: %w", err)
	}
	slog.Info("liquidation: unwrapped SOL", "lamports", bal, "sig", sig)
	return bal, nil
}

// send compiles, simulates, sends and confirms a plain transaction.
func (c *Converter) send(ctx context.Context, ixs []solana.Instruction, lookup map[solana.PublicKey]solana.PublicKeySlice) (solana.Signature, error) {
	tx, err := compile(ctx, c.exec, c.signer, ixs, lookup)
	if err != nil {
		return solana.Signature{}, err
	}
	if err := simulate(ctx, c.exec, tx); err != nil {
		return solana.Signature{}, err
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return solana.Signature{}, fmt.Errorf("serialize: %w", err)
	}
	sig, err := c.exec.SendRawTransaction(ctx, raw)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send: %w", err)
	}
	if err := c.exec.ConfirmTransaction(ctx, sig, c.cfg.ConfirmTimeout); err != nil {
		return sig, fmt.Errorf("confirm: %w", err)
	}
	return sig, nil
}
