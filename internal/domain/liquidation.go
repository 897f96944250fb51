package domain

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// LiquidationRequest is the input of one flash-loan liquidation.
type LiquidationRequest struct {
	Market          Market
	Obligation      Obligation
	RepayReserve    Reserve
	WithdrawReserve Reserve
	Amount          uint64 // repay-token base units
}

// LiquidationResult is what landed on chain. Profit is the measured change in
// the repay-token account balance and may be negative. Residual is the
// withdraw-token liquidity left over after the swap.
type LiquidationResult struct {
	Signature   solana.Signature
	BundleID    string
	FlashAmount uint64
	Profit      int64
	Residual    uint64
}

// LiquidationAttempt records one pass through an obligation's liquidation
// loop. It is logged and persisted, then discarded.
type LiquidationAttempt struct {
	ID              string
	Market          solana.PublicKey
	Obligation      solana.PublicKey
	Pass            int
	RepayReserve    solana.PublicKey
	RepaySymbol     string
	WithdrawReserve solana.PublicKey
	WithdrawSymbol  string
	Amount          uint64
	FlashAmount     uint64
	Signature       string
	Profit          int64
	Error           string
	StartedAt       time.Time
	Duration        time.Duration
}

// Succeeded reports whether the attempt landed on chain.
func (a LiquidationAttempt) Succeeded() bool {
	return a.Error == "" && a.Signature != ""
}

// EpochSummary is the outcome of one pass over every market.
type EpochSummary struct {
	Epoch       int
	StartedAt   time.Time
	Duration    time.Duration
	Markets     int
	Obligations int
	Unhealthy   int
	Attempts    int
	Successes   int
	Skipped     bool // liquidation skipped, e.g. wallet below the minimum balance
}
