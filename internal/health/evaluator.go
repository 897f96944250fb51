// Package health values obligations at oracle prices and picks the tokens a
// liquidation repays and withdraws. Everything here is pure computation.
package health

import (
	"bytes"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/liquidator/internal/domain"
)

// MissingPricePolicy decides what happens when a reserve referenced by an
// obligation has no resolved price.
type MissingPricePolicy string

const (
	// SkipObligation leaves the obligation untouched this epoch.
	SkipObligation MissingPricePolicy = "skip-obligation"
	// ZeroValue values the unpriced position at zero. Unpriced collateral then
	// makes the obligation look less healthy, unpriced debt more healthy.
	ZeroValue MissingPricePolicy = "zero-value"
	// AbortScan abandons the whole market pass.
	AbortScan MissingPricePolicy = "abort-scan"
)

// ParseMissingPricePolicy validates a configured policy name.
func ParseMissingPricePolicy(s string) (MissingPricePolicy, error) {
	switch p := MissingPricePolicy(s); p {
	case SkipObligation, ZeroValue, AbortScan:
		return p, nil
	case "":
		return SkipObligation, nil
	default:
		return "", fmt.Errorf("unknown missing price policy %q: %w", s, domain.ErrConfiguration)
	}
}

// MissingPriceError reports a reserve with no price. Under AbortScan the
// caller must stop the market pass.
type MissingPriceError struct {
	Reserve solana.PublicKey
	Policy  MissingPricePolicy
}

func (e *MissingPriceError) Error() string {
	return fmt.Sprintf("no price for reserve %s (policy %s)", e.Reserve, e.Policy)
}

func (e *MissingPriceError) Unwrap() error { return domain.ErrPriceNotFound }

var hundred = decimal.NewFromInt(100)

// Evaluate values every deposit and borrow of ob. Deposits are converted
// from collateral tokens at the reserve exchange rate; borrows accrue
// interest up to the reserve's cumulative borrow rate and are weighted.
func Evaluate(ob domain.Obligation, reserves map[solana.PublicKey]domain.Reserve, prices domain.PriceMap, policy MissingPricePolicy) (domain.ObligationStats, error) {
	stats := domain.ObligationStats{
		DepositedValue:       decimal.Zero,
		BorrowedValue:        decimal.Zero,
		AllowedBorrowValue:   decimal.Zero,
		UnhealthyBorrowValue: decimal.Zero,
		UtilizationRatio:     decimal.Zero,
		Deposits:             make([]domain.Deposit, 0, len(ob.Deposits)),
		Borrows:              make([]domain.Borrow, 0, len(ob.Borrows)),
	}

	for _, dep := range ob.Deposits {
		r, ok := reserves[dep.Reserve]
		if !ok {
			return stats, fmt.Errorf("health.Evaluate: deposit reserve %s not in market", dep.Reserve)
		}
		price, err := priceFor(r, prices, policy)
		if err != nil {
			return stats, err
		}

		liquidity := decimal.NewFromUint64(dep.DepositedAmount).Div(r.CollateralExchangeRate())
		value := liquidity.Mul(price).Div(r.Scale())

		stats.DepositedValue = stats.DepositedValue.Add(value)
		stats.AllowedBorrowValue = stats.AllowedBorrowValue.Add(value.Mul(pct(r.Config.LoanToValueRatio)))
		stats.UnhealthyBorrowValue = stats.UnhealthyBorrowValue.Add(value.Mul(pct(r.Config.LiquidationThreshold)))
		stats.Deposits = append(stats.Deposits, domain.Deposit{
			Reserve:     r.Address,
			Symbol:      r.Symbol,
			Mint:        r.LiquidityMint,
			Amount:      dep.DepositedAmount,
			MarketValue: value,
		})
	}

	for _, bor := range ob.Borrows {
		r, ok := reserves[bor.Reserve]
		if !ok {
			return stats, fmt.Errorf("health.Evaluate: borrow reserve %s not in market", bor.Reserve)
		}
		price, err := priceFor(r, prices, policy)
		if err != nil {
			return stats, err
		}

		owedWads := BorrowedAmountWithInterest(r.State.CumulativeBorrowRateWads, bor.CumulativeBorrowRateWads, bor.BorrowedAmountWads)
		owed := owedWads.Div(domain.WAD)
		value := owed.Mul(price).Div(r.Scale())
		weight := r.BorrowWeight()

		stats.BorrowedValue = stats.BorrowedValue.Add(value.Mul(weight))
		stats.Borrows = append(stats.Borrows, domain.Borrow{
			Reserve:      r.Address,
			Symbol:       r.Symbol,
			Mint:         r.LiquidityMint,
			AmountOwed:   domain.BaseUnits(owed.Ceil()),
			MarketValue:  value,
			BorrowWeight: weight,
		})
	}

	if stats.DepositedValue.IsPositive() {
		stats.UtilizationRatio = stats.BorrowedValue.Div(stats.DepositedValue).Mul(hundred)
	}
	return stats, nil
}

// BorrowedAmountWithInterest scales a borrow recorded at obligationRate up to
// the reserve's current cumulative rate.
func BorrowedAmountWithInterest(reserveRate, obligationRate, borrowedWads decimal.Decimal) decimal.Decimal {
	switch obligationRate.Cmp(reserveRate) {
	case 1:
		// Obligation refreshed after the snapshot; never scale down.
		return borrowedWads
	case 0:
		return borrowedWads
	}
	if obligationRate.IsZero() {
		return borrowedWads
	}
	return borrowedWads.Mul(reserveRate).Div(obligationRate)
}

func priceFor(r domain.Reserve, prices domain.PriceMap, policy MissingPricePolicy) (decimal.Decimal, error) {
	if p, ok := prices[r.Address]; ok {
		return p.Price, nil
	}
	if policy == ZeroValue {
		return decimal.Zero, nil
	}
	return decimal.Zero, &MissingPriceError{Reserve: r.Address, Policy: policy}
}

func pct(v uint8) decimal.Decimal {
	return decimal.New(int64(v), -2)
}

// Selection is the repay/withdraw pair chosen for a liquidation.
type Selection struct {
	Repay    domain.Borrow
	Withdraw domain.Deposit
}

// SelectTokens picks the borrow with the highest borrow weight (ties go to the
// byte-wise larger reserve address) and the deposit with the highest market
// value (ties go to the first one seen). Returns domain.ErrIndeterminate when
// either side is empty.
func SelectTokens(stats domain.ObligationStats) (Selection, error) {
	if len(stats.Borrows) == 0 || len(stats.Deposits) == 0 {
		return Selection{}, fmt.Errorf("health.SelectTokens: %d borrows, %d deposits: %w",
			len(stats.Borrows), len(stats.Deposits), domain.ErrIndeterminate)
	}

	repay := stats.Borrows[0]
	for _, b := range stats.Borrows[1:] {
		switch b.BorrowWeight.Cmp(repay.BorrowWeight) {
		case 1:
			repay = b
		case 0:
			if bytes.Compare(b.Reserve[:], repay.Reserve[:]) > 0 {
				repay = b
			}
		}
	}

	withdraw := stats.Deposits[0]
	for _, d := range stats.Deposits[1:] {
		if d.MarketValue.GreaterThan(withdraw.MarketValue) {
			withdraw = d
		}
	}

	return Selection{Repay: repay, Withdraw: withdraw}, nil
}
