package domain_test

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/alejandrodnm/liquidator/internal/domain"
)

func TestBaseUnits(t *testing.T) {
	assert.Equal(t, uint64(0), domain.BaseUnits(decimal.NewFromInt(-5)))
	assert.Equal(t, uint64(12), domain.BaseUnits(decimal.RequireFromString("12.9")))
	assert.Equal(t, uint64(math.MaxUint64), domain.BaseUnits(decimal.NewFromUint64(math.MaxUint64)))
	assert.Equal(t, uint64(math.MaxUint64), domain.BaseUnits(decimal.NewFromUint64(math.MaxUint64).Mul(decimal.NewFromInt(2))))
}

func TestReserve_AmountsAboveInt64StayPositive(t *testing.T) {
	huge := uint64(math.MaxInt64) + 10
	r := domain.Reserve{State: domain.ReserveState{
		AvailableAmount:      huge,
		CollateralMintSupply: huge,
	}}

	assert.True(t, r.TotalLiquidity().Equal(decimal.NewFromUint64(huge)))
	assert.True(t, r.CollateralExchangeRate().Equal(decimal.NewFromInt(1)))
}

func TestReserve_FlashLoanFee(t *testing.T) {
	r := domain.Reserve{Config: domain.ReserveConfig{FlashLoanFeeWad: 3_000_000_000_000_000}} // 0.3%
	assert.Equal(t, uint64(3), r.FlashLoanFee(1000))
	assert.Equal(t, uint64(1), r.FlashLoanFee(1), "rounded up")

	huge := uint64(math.MaxInt64) + 1000
	assert.Equal(t, uint64(27670116110564331), r.FlashLoanFee(huge))
	assert.Zero(t, domain.Reserve{}.FlashLoanFee(1000))
}
