package solend

import (
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/liquidator/internal/domain"
)

// --- builders ---

func pk(b byte) solana.PublicKey {
	var k solana.PublicKey
	k[0] = b
	k[31] = b
	return k
}

func putU128(buf []byte, off int, v *big.Int) {
	b := v.FillBytes(make([]byte, 16)) // big-endian
	for i := 0; i < 16; i++ {
		buf[off+i] = b[15-i]
	}
}

func wadInt(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic(s)
	}
	return v.Mul(v, new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

type testDeposit struct {
	reserve solana.PublicKey
	amount  uint64
	value   string
}

type testBorrow struct {
	reserve solana.PublicKey
	rate    string
	amount  string
	value   string
}

func encodeObligation(market, owner solana.PublicKey, deps []testDeposit, bors []testBorrow) []byte {
	data := make([]byte, ObligationSize)
	data[0] = layoutVersion
	binary.LittleEndian.PutUint64(data[obLastUpdate:], 777)
	copy(data[obLendingMarket:], market[:])
	copy(data[obOwner:], owner[:])
	data[obDepositsLen] = byte(len(deps))
	data[obBorrowsLen] = byte(len(bors))

	off := obEntries
	for _, d := range deps {
		copy(data[off:], d.reserve[:])
		binary.LittleEndian.PutUint64(data[off+32:], d.amount)
		putU128(data, off+40, wadInt(d.value))
		off += depositEntrySize
	}
	for _, b := range bors {
		copy(data[off:], b.reserve[:])
		putU128(data, off+32, wadInt(b.rate))
		putU128(data, off+48, wadInt(b.amount))
		putU128(data, off+64, wadInt(b.value))
		off += borrowEntrySize
	}
	return data
}

func encodeReserve(mint solana.PublicKey, decimals uint8, ltv, threshold uint8, addedWeightBps uint64) []byte {
	data := make([]byte, ReserveSize)
	data[0] = layoutVersion
	binary.LittleEndian.PutUint64(data[rsLastUpdate:], 555)
	copy(data[rsLiquidityMint:], mint[:])
	data[rsDecimals] = decimals
	supply, pyth, sb := pk(20), pk(21), pk(22)
	copy(data[rsLiquiditySupply:], supply[:])
	copy(data[rsPyth:], pyth[:])
	copy(data[rsSwitchboard:], sb[:])
	binary.LittleEndian.PutUint64(data[rsAvailable:], 1_000_000)
	putU128(data, rsBorrowedWads, wadInt("500000"))
	putU128(data, rsCumulativeRate, wadInt("2"))
	cmint, csupply, fee := pk(23), pk(24), pk(25)
	copy(data[rsCollateralMint:], cmint[:])
	binary.LittleEndian.PutUint64(data[rsMintSupply:], 3_000_000)
	copy(data[rsCollateralSupply:], csupply[:])
	data[rsLTV] = ltv
	data[rsLiquidationBonus] = 5
	data[rsLiquidationThresh] = threshold
	binary.LittleEndian.PutUint64(data[rsFlashLoanFeeWad:], 3_000_000_000_000_000) // 0.3%
	copy(data[rsFeeReceiver:], fee[:])
	data[rsProtocolLiqFee] = 20
	binary.LittleEndian.PutUint64(data[rsAddedBorrowWeight:], addedWeightBps)
	return data
}

// --- obligations ---

func TestDecodeObligation(t *testing.T) {
	c := NewCodec(pk(99))
	data := encodeObligation(pk(1), pk(2),
		[]testDeposit{{reserve: pk(10), amount: 42, value: "12"}},
		[]testBorrow{
			{reserve: pk(11), rate: "1", amount: "7", value: "7"},
			{reserve: pk(12), rate: "3", amount: "1", value: "2"},
		},
	)

	ob, err := c.DecodeObligation(pk(50), data)
	require.NoError(t, err)

	assert.Equal(t, pk(50), ob.Address)
	assert.Equal(t, pk(1), ob.LendingMarket)
	assert.Equal(t, pk(2), ob.Owner)
	assert.Equal(t, uint64(777), ob.LastUpdateSlot)

	require.Len(t, ob.Deposits, 1)
	assert.Equal(t, pk(10), ob.Deposits[0].Reserve)
	assert.Equal(t, uint64(42), ob.Deposits[0].DepositedAmount)
	assert.True(t, decimal.NewFromInt(12).Equal(ob.Deposits[0].MarketValue))

	require.Len(t, ob.Borrows, 2)
	assert.Equal(t, pk(12), ob.Borrows[1].Reserve)
	assert.True(t, decimal.NewFromInt(3).Mul(domain.WAD).Equal(ob.Borrows[1].CumulativeBorrowRateWads))
	assert.True(t, decimal.NewFromInt(7).Mul(domain.WAD).Equal(ob.Borrows[0].BorrowedAmountWads))
	assert.True(t, decimal.NewFromInt(2).Equal(ob.Borrows[1].MarketValue))
}

func TestDecodeObligation_Rejects(t *testing.T) {
	c := NewCodec(pk(99))

	_, err := c.DecodeObligation(pk(50), make([]byte, 10))
	assert.Error(t, err, "short")

	data := encodeObligation(pk(1), pk(2), nil, nil)
	data[0] = 0
	_, err = c.DecodeObligation(pk(50), data)
	assert.Error(t, err, "version")

	data = encodeObligation(pk(1), pk(2), nil, nil)
	data[obDepositsLen] = 13 // 13 × 88 > 1096
	_, err = c.DecodeObligation(pk(50), data)
	assert.Error(t, err, "overflow")
}

func TestObligationFilter(t *testing.T) {
	c := NewCodec(pk(99))
	f := c.ObligationFilter(pk(1))

	assert.Equal(t, uint64(ObligationSize), f.DataSize)
	assert.Equal(t, uint64(10), f.MemcmpOffset)
	assert.Equal(t, pk(1).Bytes(), f.MemcmpBytes)
	assert.Equal(t, pk(99), c.ProgramID())

	// the memcmp window is where the encoder writes the market
	data := encodeObligation(pk(1), pk(2), nil, nil)
	assert.Equal(t, f.MemcmpBytes, data[f.MemcmpOffset:f.MemcmpOffset+32])
}

// --- reserves ---

func TestDecodeReserve(t *testing.T) {
	c := NewCodec(pk(99))
	base := domain.Reserve{Address: pk(3), Symbol: "SOL"}

	r, err := c.DecodeReserve(base, encodeReserve(pk(4), 9, 75, 80, 2_500))
	require.NoError(t, err)

	assert.Equal(t, pk(3), r.Address)
	assert.Equal(t, "SOL", r.Symbol)
	assert.Equal(t, pk(4), r.LiquidityMint)
	assert.Equal(t, uint8(9), r.Decimals)
	assert.Equal(t, pk(20), r.LiquiditySupply)
	assert.Equal(t, pk(21), r.PrimaryOracle)
	assert.Equal(t, pk(22), r.SecondaryOracle)
	assert.Equal(t, pk(23), r.CollateralMint)
	assert.Equal(t, pk(24), r.CollateralSupply)
	assert.Equal(t, pk(25), r.FeeReceiver)

	assert.Equal(t, uint8(75), r.Config.LoanToValueRatio)
	assert.Equal(t, uint8(80), r.Config.LiquidationThreshold)
	assert.Equal(t, uint8(5), r.Config.LiquidationBonus)
	assert.Equal(t, uint8(20), r.Config.ProtocolLiquidationFee)
	assert.True(t, decimal.RequireFromString("1.25").Equal(r.Config.BorrowWeight))
	assert.Equal(t, uint64(3), r.FlashLoanFee(1_000))

	assert.Equal(t, uint64(555), r.State.LastUpdateSlot)
	assert.Equal(t, uint64(1_000_000), r.State.AvailableAmount)
	assert.Equal(t, uint64(3_000_000), r.State.CollateralMintSupply)
	// 3M cTokens over 1.5M liquidity
	assert.True(t, decimal.NewFromInt(2).Equal(r.CollateralExchangeRate()), r.CollateralExchangeRate().String())
}

func TestDecodeReserve_NoAddedWeightIsOne(t *testing.T) {
	r, err := NewCodec(pk(99)).DecodeReserve(domain.Reserve{}, encodeReserve(pk(4), 6, 0, 0, 0))
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1).Equal(r.BorrowWeight()))
}

func TestDecodeReserve_Rejects(t *testing.T) {
	c := NewCodec(pk(99))

	_, err := c.DecodeReserve(domain.Reserve{}, make([]byte, 100))
	assert.Error(t, err)

	_, err = c.DecodeReserve(domain.Reserve{}, encodeReserve(pk(4), 6, 90, 80, 0))
	assert.Error(t, err, "ltv above threshold")
}

func TestU128At_HighBits(t *testing.T) {
	buf := make([]byte, 16)
	v := new(big.Int).Lsh(big.NewInt(1), 100)
	putU128(buf, 0, v)
	assert.Equal(t, v.String(), u128At(buf, 0).String())
}
