package domain

import (
	"math"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// WAD is the fixed-point scale used by the lending protocol for rates and
// interest-bearing amounts.
var WAD = decimal.New(1, 18)

// Market is a lending market and its ordered reserves. Snapshots are immutable
// once fetched and are rebuilt every epoch.
type Market struct {
	Address     solana.PublicKey
	Authority   solana.PublicKey
	Name        string
	IsPrimary   bool
	LookupTable solana.PublicKey // zero when the market publishes none
	Reserves    []Reserve
}

// Reserve returns the reserve at the given address.
func (m Market) Reserve(addr solana.PublicKey) (Reserve, bool) {
	for _, r := range m.Reserves {
		if r.Address.Equals(addr) {
			return r, true
		}
	}
	return Reserve{}, false
}

// ReserveBySymbol returns the first reserve whose liquidity token has the given symbol.
func (m Market) ReserveBySymbol(symbol string) (Reserve, bool) {
	for _, r := range m.Reserves {
		if r.Symbol == symbol {
			return r, true
		}
	}
	return Reserve{}, false
}

// ReserveMap indexes the market's reserves by address.
func (m Market) ReserveMap() map[solana.PublicKey]Reserve {
	out := make(map[solana.PublicKey]Reserve, len(m.Reserves))
	for _, r := range m.Reserves {
		out[r.Address] = r
	}
	return out
}

// Reserve is a protocol-managed pool for a single asset. The static part comes
// from the market config service, Config and State from the on-chain account.
type Reserve struct {
	Address          solana.PublicKey
	Symbol           string
	LiquidityMint    solana.PublicKey
	Decimals         uint8
	CollateralMint   solana.PublicKey
	LiquiditySupply  solana.PublicKey
	CollateralSupply solana.PublicKey
	FeeReceiver      solana.PublicKey
	PrimaryOracle    solana.PublicKey
	SecondaryOracle  solana.PublicKey

	Config ReserveConfig
	State  ReserveState
}

// ReserveConfig holds the risk parameters of a reserve.
type ReserveConfig struct {
	LoanToValueRatio       uint8 // percent
	LiquidationThreshold   uint8 // percent
	LiquidationBonus       uint8 // percent
	ProtocolLiquidationFee uint8 // deci-percent
	FlashLoanFeeWad        uint64
	BorrowWeight           decimal.Decimal // 1 + added_borrow_weight_bps / 10_000
}

// ReserveState is the mutable liquidity snapshot read from chain per scan.
type ReserveState struct {
	LastUpdateSlot           uint64
	AvailableAmount          uint64
	BorrowedAmountWads       decimal.Decimal
	CumulativeBorrowRateWads decimal.Decimal
	CollateralMintSupply     uint64
}

// Scale returns 10^decimals for converting base units to whole tokens.
func (r Reserve) Scale() decimal.Decimal {
	return decimal.New(1, int32(r.Decimals))
}

// TotalLiquidity is available liquidity plus outstanding borrows with accrued
// interest, in base units.
func (r Reserve) TotalLiquidity() decimal.Decimal {
	borrowed := r.State.BorrowedAmountWads.Div(WAD)
	return decimal.NewFromUint64(r.State.AvailableAmount).Add(borrowed)
}

// CollateralExchangeRate is collateral tokens minted per unit of liquidity.
// It is 1 until any collateral has been minted.
func (r Reserve) CollateralExchangeRate() decimal.Decimal {
	if r.State.CollateralMintSupply == 0 {
		return decimal.NewFromInt(1)
	}
	liquidity := r.TotalLiquidity()
	if liquidity.IsZero() {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromUint64(r.State.CollateralMintSupply).Div(liquidity)
}

// BorrowWeight returns the configured borrow weight, defaulting to 1.
func (r Reserve) BorrowWeight() decimal.Decimal {
	if r.Config.BorrowWeight.IsZero() {
		return decimal.NewFromInt(1)
	}
	return r.Config.BorrowWeight
}

// FlashLoanFee returns the fee owed on a flash loan of amount base units,
// rounded up.
func (r Reserve) FlashLoanFee(amount uint64) uint64 {
	if r.Config.FlashLoanFeeWad == 0 {
		return 0
	}
	fee := decimal.NewFromUint64(amount).
		Mul(decimal.NewFromUint64(r.Config.FlashLoanFeeWad)).
		Div(WAD).
		Ceil()
	return BaseUnits(fee)
}

// BaseUnits truncates d to a token amount. Negative values give 0 and values
// beyond the uint64 range saturate.
func BaseUnits(d decimal.Decimal) uint64 {
	if d.Sign() <= 0 {
		return 0
	}
	n := d.BigInt()
	if !n.IsUint64() {
		return math.MaxUint64
	}
	return n.Uint64()
}
