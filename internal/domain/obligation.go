package domain

import (
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// Obligation is a borrower position as decoded from chain. It is a read-only
// snapshot and must be re-fetched after any action that mutates it.
type Obligation struct {
	Address        solana.PublicKey
	Owner          solana.PublicKey
	LendingMarket  solana.PublicKey
	LastUpdateSlot uint64
	Deposits       []ObligationDeposit
	Borrows        []ObligationBorrow
}

// ObligationDeposit is collateral posted into a reserve, in collateral tokens.
type ObligationDeposit struct {
	Reserve         solana.PublicKey
	DepositedAmount uint64
	MarketValue     decimal.Decimal // as last refreshed on chain
}

// ObligationBorrow is debt owed to a reserve.
type ObligationBorrow struct {
	Reserve                  solana.PublicKey
	CumulativeBorrowRateWads decimal.Decimal
	BorrowedAmountWads       decimal.Decimal
	MarketValue              decimal.Decimal // as last refreshed on chain
}

// ReserveAddresses returns every distinct reserve referenced by the
// obligation: deposits first, then borrows, in order of first appearance.
func (o Obligation) ReserveAddresses() []solana.PublicKey {
	seen := make(map[solana.PublicKey]bool, len(o.Deposits)+len(o.Borrows))
	out := make([]solana.PublicKey, 0, len(o.Deposits)+len(o.Borrows))
	add := func(pk solana.PublicKey) {
		if !seen[pk] {
			seen[pk] = true
			out = append(out, pk)
		}
	}
	for _, d := range o.Deposits {
		add(d.Reserve)
	}
	for _, b := range o.Borrows {
		add(b.Reserve)
	}
	return out
}

// DepositReserves lists deposit reserves in on-chain order.
func (o Obligation) DepositReserves() []solana.PublicKey {
	out := make([]solana.PublicKey, len(o.Deposits))
	for i, d := range o.Deposits {
		out[i] = d.Reserve
	}
	return out
}

// BorrowReserves lists borrow reserves in on-chain order.
func (o Obligation) BorrowReserves() []solana.PublicKey {
	out := make([]solana.PublicKey, len(o.Borrows))
	for i, b := range o.Borrows {
		out[i] = b.Reserve
	}
	return out
}

// Deposit is an evaluated collateral position valued at oracle prices.
type Deposit struct {
	Reserve     solana.PublicKey
	Symbol      string
	Mint        solana.PublicKey
	Amount      uint64 // collateral tokens
	MarketValue decimal.Decimal
}

// Borrow is an evaluated debt position valued at oracle prices.
type Borrow struct {
	Reserve      solana.PublicKey
	Symbol       string
	Mint         solana.PublicKey
	AmountOwed   uint64 // liquidity base units including accrued interest, rounded up
	MarketValue  decimal.Decimal
	BorrowWeight decimal.Decimal
}

// ObligationStats is the health evaluation of an obligation snapshot.
type ObligationStats struct {
	DepositedValue       decimal.Decimal
	BorrowedValue        decimal.Decimal // weighted by borrow weight
	AllowedBorrowValue   decimal.Decimal
	UnhealthyBorrowValue decimal.Decimal
	UtilizationRatio     decimal.Decimal // percent of deposited value
	Deposits             []Deposit
	Borrows              []Borrow
}

// Liquidatable reports whether the weighted borrowed value strictly exceeds
// the unhealthy threshold. Equality is healthy.
func (s ObligationStats) Liquidatable() bool {
	return s.BorrowedValue.GreaterThan(s.UnhealthyBorrowValue)
}
