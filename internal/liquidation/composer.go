package liquidation

// composer.go: atomic flash-loan liquidation.
//
// One transaction, in this order:
//   compute budget, missing ATA creates,
//   refresh every reserve the obligation touches, refresh obligation,
//   flash borrow (amount × buffer) of the repay token,
//   liquidate and redeem,
//   swap seized collateral back into the repay token (exact out),
//   flash repay, relay tip.
// The swap route is resolved while composing: no route means nothing is sent.
// Profit is measured, not estimated: the repay-token balance is read before
// composing and again after the transaction lands.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/liquidator/internal/domain"
	"github.com/alejandrodnm/liquidator/internal/ports"
)

// Config tunes the composer.
type Config struct {
	FlashBuffer    decimal.Decimal // flash amount = amount × FlashBuffer
	SlippageBps    uint16
	ComputeUnits   uint32
	PriorityFee    uint64 // micro-lamports per compute unit
	TipLamports    uint64
	UseBundle      bool // submit through the relay as a one-transaction bundle
	ConfirmTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		FlashBuffer:    decimal.NewFromFloat(1.3),
		SlippageBps:    100,
		ComputeUnits:   1_400_000,
		TipLamports:    10_000,
		UseBundle:      true,
		ConfirmTimeout: 60 * time.Second,
	}
}

// Composer builds, simulates and submits flash-loan liquidations.
type Composer struct {
	cfg    Config
	exec   Executor
	ixs    ports.InstructionBuilder
	swap   ports.SwapRouter
	signer signer
}

// NewComposer wires a composer. key signs every transaction.
func NewComposer(cfg Config, exec Executor, ixs ports.InstructionBuilder, swap ports.SwapRouter, key solana.PrivateKey) *Composer {
	if cfg.FlashBuffer.LessThan(decimal.NewFromInt(1)) {
		cfg.FlashBuffer = decimal.NewFromFloat(1.3)
	}
	if cfg.ComputeUnits == 0 {
		cfg.ComputeUnits = 1_400_000
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 60 * time.Second
	}
	return &Composer{cfg: cfg, exec: exec, ixs: ixs, swap: swap, signer: newSigner(key)}
}

// Wallet is the liquidator's address.
func (c *Composer) Wallet() solana.PublicKey { return c.signer.wallet }

// FlashAmount applies the buffer to amount, rounded up and capped by the
// reserve's available liquidity when known.
func (c *Composer) FlashAmount(amount uint64, r domain.Reserve) uint64 {
	flash := domain.BaseUnits(decimal.NewFromUint64(amount).Mul(c.cfg.FlashBuffer).Ceil())
	if avail := r.State.AvailableAmount; avail > 0 && flash > avail {
		flash = avail
	}
	return flash
}

// Liquidate repays req.Amount of the obligation's debt with a flash loan and
// returns the landed signature and the measured profit. A landing with
// negative profit is logged, not failed.
func (c *Composer) Liquidate(ctx context.Context, req domain.LiquidationRequest) (domain.LiquidationResult, error) {
	if req.Amount == 0 {
		return domain.LiquidationResult{}, fmt.Errorf("liquidation.Liquidate: zero amount: %w", domain.ErrTransaction)
	}
	wallet := c.signer.wallet
	repay, withdraw := req.RepayReserve, req.WithdrawReserve

	repayATA, err := ensureATA(ctx, c.exec, wallet, repay.LiquidityMint)
	if err != nil {
		return domain.LiquidationResult{}, fmt.Errorf("liquidation.Liquidate: %w", err)
	}
	collateralATA, err := ensureATA(ctx, c.exec, wallet, withdraw.CollateralMint)
	if err != nil {
		return domain.LiquidationResult{}, fmt.Errorf("liquidation.Liquidate: %w", err)
	}
	withdrawATA := repayATA
	if !withdraw.LiquidityMint.Equals(repay.LiquidityMint) {
		if withdrawATA, err = ensureATA(ctx, c.exec, wallet, withdraw.LiquidityMint); err != nil {
			return domain.LiquidationResult{}, fmt.Errorf("liquidation.Liquidate: %w", err)
		}
	}

	preRepay, err := repayATA.balance(ctx, c.exec)
	if err != nil {
		return domain.LiquidationResult{}, fmt.Errorf("liquidation.Liquidate: repay pre-balance: %w", err)
	}
	preWithdraw, err := withdrawATA.balance(ctx, c.exec)
	if err != nil {
		return domain.LiquidationResult{}, fmt.Errorf("liquidation.Liquidate: withdraw pre-balance: %w", err)
	}

	flash := c.FlashAmount(req.Amount, repay)
	if flash < req.Amount {
		return domain.LiquidationResult{}, fmt.Errorf("liquidation.Liquidate: reserve %s holds %d, need %d: %w",
			repay.Symbol, flash, req.Amount, domain.ErrInsufficientFunds)
	}
	fee := repay.FlashLoanFee(flash)

	// Compute budget, then ATA creates.
	ixs := computeBudget(c.cfg.ComputeUnits, c.cfg.PriorityFee)
	created := make(map[solana.PublicKey]bool, 3)
	for _, acc := range []tokenAccount{repayATA, collateralATA, withdrawATA} {
		if acc.Create != nil && !created[acc.Address] {
			created[acc.Address] = true
			ixs = append(ixs, acc.Create)
		}
	}

	refresh, err := c.refreshInstructions(req.Market, req.Obligation)
	if err != nil {
		return domain.LiquidationResult{}, fmt.Errorf("liquidation.Liquidate: %w", err)
	}
	ixs = append(ixs, refresh...)

	borrowIndex := len(ixs)
	if borrowIndex > 255 {
		return domain.LiquidationResult{}, fmt.Errorf("liquidation.Liquidate: flash borrow at index %d: %w", borrowIndex, domain.ErrTransaction)
	}
	ixs = append(ixs,
		c.ixs.FlashBorrow(req.Market, repay, flash, repayATA.Address),
		c.ixs.LiquidateAndRedeem(req.Market, req.Obligation, repay, withdraw, req.Amount, ports.FlashLiquidationAccounts{
			Wallet:             wallet,
			RepayLiquidity:     repayATA.Address,
			WithdrawCollateral: collateralATA.Address,
			WithdrawLiquidity:  withdrawATA.Address,
		}),
	)

	var tables []solana.PublicKey
	if !req.Market.LookupTable.IsZero() {
		tables = append(tables, req.Market.LookupTable)
	}
	if !withdraw.LiquidityMint.Equals(repay.LiquidityMint) {
		// The debt repaid plus the flash fee must come back from the swap.
		swapIxs, err := c.swapBack(ctx, withdraw.LiquidityMint, repay.LiquidityMint, req.Amount+fee)
		if err != nil {
			return domain.LiquidationResult{}, fmt.Errorf("liquidation.Liquidate: %w", err)
		}
		ixs = append(ixs, swapIxs.Setup...)
		ixs = append(ixs, swapIxs.Swap)
		ixs = append(ixs, swapIxs.Cleanup...)
		tables = append(tables, swapIxs.LookupTables...)
	}

	ixs = append(ixs, c.ixs.FlashRepay(req.Market, repay, flash, uint8(borrowIndex), repayATA.Address, wallet))
	if c.cfg.UseBundle && c.cfg.TipLamports > 0 {
		ixs = append(ixs, system.NewTransferInstruction(c.cfg.TipLamports, wallet, c.exec.RandomTipAccount()).Build())
	}

	lookup, err := loadLookupTables(ctx, c.exec, tables)
	if err != nil {
		return domain.LiquidationResult{}, fmt.Errorf("liquidation.Liquidate: %w", err)
	}
	tx, err := compile(ctx, c.exec, c.signer, ixs, lookup)
	if err != nil {
		return domain.LiquidationResult{}, fmt.Errorf("liquidation.Liquidate: %w", err)
	}
	if err := simulate(ctx, c.exec, tx); err != nil {
		return domain.LiquidationResult{}, fmt.Errorf("liquidation.Liquidate: %w", err)
	}

	res := domain.LiquidationResult{Signature: tx.Signatures[0], FlashAmount: flash}
	if res.BundleID, err = c.submit(ctx, tx); err != nil {
		return res, fmt.Errorf("liquidation.Liquidate: %w", err)
	}

	postRepay, err := c.exec.GetTokenBalance(ctx, repayATA.Address)
	if err != nil {
		return res, fmt.Errorf("liquidation.Liquidate: repay post-balance: %w", err)
	}
	res.Profit = int64(postRepay) - int64(preRepay)
	if withdrawATA.Address != repayATA.Address {
		postWithdraw, err := c.exec.GetTokenBalance(ctx, withdrawATA.Address)
		if err != nil {
			slog.Warn("liquidation: withdraw post-balance unavailable", "account", withdrawATA.Address, "err", err)
		} else if postWithdraw > preWithdraw {
			res.Residual = postWithdraw - preWithdraw
		}
	}

	if res.Profit < 0 {
		slog.Warn("liquidation: landed at a loss",
			"obligation", req.Obligation.Address,
			"sig", res.Signature,
			"repay", repay.Symbol,
			"profit", res.Profit,
		)
	}
	return res, nil
}

// refreshInstructions refreshes each distinct reserve of o, then o itself.
func (c *Composer) refreshInstructions(m domain.Market, o domain.Obligation) ([]solana.Instruction, error) {
	addrs := o.ReserveAddresses()
	out := make([]solana.Instruction, 0, len(addrs)+1)
	for _, addr := range addrs {
		r, ok := m.Reserve(addr)
		if !ok {
			return nil, fmt.Errorf("reserve %s not in market %s", addr, m.Address)
		}
		out = append(out, c.ixs.RefreshReserve(r))
	}
	return append(out, c.ixs.RefreshObligation(o)), nil
}

// swapBack quotes an exact-out route delivering out units of outMint.
func (c *Composer) swapBack(ctx context.Context, inMint, outMint solana.PublicKey, out uint64) (ports.SwapInstructions, error) {
	quote, err := c.swap.Quote(ctx, ports.QuoteRequest{
		InputMint:   inMint,
		OutputMint:  outMint,
		Amount:      out,
		Mode:        ports.SwapExactOut,
		SlippageBps: c.cfg.SlippageBps,
	})
	if err != nil {
		return ports.SwapInstructions{}, fmt.Errorf("quote: %w", err)
	}
	ixs, err := c.swap.SwapInstructions(ctx, quote, c.signer.wallet)
	if err != nil {
		return ports.SwapInstructions{}, fmt.Errorf("swap instructions: %w", err)
	}
	return ixs, nil
}

// submit sends tx and waits for it to land. Bundles return their id.
func (c *Composer) submit(ctx context.Context, tx *solana.Transaction) (string, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("serialize: %w", err)
	}

	if c.cfg.UseBundle {
		id, err := c.exec.SendBundle(ctx, [][]byte{raw})
		if err != nil {
			return "", fmt.Errorf("send bundle: %w", err)
		}
		if _, err := c.exec.WaitForBundle(ctx, id, c.cfg.ConfirmTimeout); err != nil {
			return id, fmt.Errorf("wait bundle: %w", err)
		}
		return id, nil
	}

	sig, err := c.exec.SendRawTransaction(ctx, raw)
	if err != nil {
		return "", fmt.Errorf("send: %w", err)
	}
	if err := c.exec.ConfirmTransaction(ctx, sig, c.cfg.ConfirmTimeout); err != nil {
		return "", fmt.Errorf("confirm: %w", err)
	}
	return "", nil
}

// Retryable reports failures the orchestrator may retry with a fresh
// blockhash: simulation or on-chain failures and landing deadlines.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, domain.ErrTransaction) ||
		errors.Is(err, domain.ErrTimeout) ||
		errors.Is(err, domain.ErrBundleFailed)
}
