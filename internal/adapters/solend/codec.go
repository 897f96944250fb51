package solend

// codec.go: lending-protocol account decoding.
//
// Only the fields the liquidator consumes are read. Offsets are fixed by the
// on-chain program and live nowhere else in the module.
//
// Obligation (1300 bytes):
//   0 version | 1 last update slot u64 + stale u8 | 10 lending market | 42 owner
//   74 deposited, 90 borrowed, 106 allowed, 122 unhealthy (u128 wads)
//   202 deposits len u8 | 203 borrows len u8 | 204 flat entries (deposits first)
//   deposit 88: reserve, amount u64, market value u128, padding
//   borrow 112: reserve, cumulative rate u128, borrowed wads u128, market value u128, padding
//
// Reserve (619 bytes):
//   42 liquidity mint | 74 decimals | 75 supply | 107 pyth | 139 switchboard
//   171 available u64 | 179 borrowed wads u128 | 195 cumulative rate u128
//   227 collateral mint | 259 mint supply u64 | 267 collateral supply
//   299 config: 300 LTV, 301 bonus, 302 threshold, 314 flash fee wad u64,
//   339 fee receiver, 371 protocol liquidation fee, 373 added borrow weight bps u64

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/liquidator/internal/domain"
	"github.com/alejandrodnm/liquidator/internal/ports"
)

const (
	layoutVersion = 1

	ObligationSize = 1300
	ReserveSize    = 619

	obLastUpdate    = 1
	obLendingMarket = 10
	obOwner         = 42
	obDepositsLen   = 202
	obBorrowsLen    = 203
	obEntries       = 204
	obEntriesSize   = ObligationSize - obEntries

	depositEntrySize = 88
	borrowEntrySize  = 112

	rsLastUpdate        = 1
	rsLiquidityMint     = 42
	rsDecimals          = 74
	rsLiquiditySupply   = 75
	rsPyth              = 107
	rsSwitchboard       = 139
	rsAvailable         = 171
	rsBorrowedWads      = 179
	rsCumulativeRate    = 195
	rsCollateralMint    = 227
	rsMintSupply        = 259
	rsCollateralSupply  = 267
	rsLTV               = 300
	rsLiquidationBonus  = 301
	rsLiquidationThresh = 302
	rsFlashLoanFeeWad   = 314
	rsFeeReceiver       = 339
	rsProtocolLiqFee    = 371
	rsAddedBorrowWeight = 373
)

// Codec implements ports.ProtocolCodec for the lending program.
type Codec struct {
	program solana.PublicKey
}

var _ ports.ProtocolCodec = (*Codec)(nil)

// NewCodec returns a codec for the given program id.
func NewCodec(program solana.PublicKey) *Codec {
	return &Codec{program: program}
}

func (c *Codec) ProgramID() solana.PublicKey { return c.program }

// ObligationFilter matches obligation-sized accounts owned by market.
func (c *Codec) ObligationFilter(market solana.PublicKey) ports.ProgramAccountFilter {
	return ports.ProgramAccountFilter{
		DataSize:     ObligationSize,
		MemcmpOffset: obLendingMarket,
		MemcmpBytes:  market.Bytes(),
	}
}

// DecodeObligation parses an obligation account.
func (c *Codec) DecodeObligation(addr solana.PublicKey, data []byte) (domain.Obligation, error) {
	if len(data) != ObligationSize {
		return domain.Obligation{}, fmt.Errorf("solend.DecodeObligation: %s: %d bytes, want %d", addr, len(data), ObligationSize)
	}
	if data[0] != layoutVersion {
		return domain.Obligation{}, fmt.Errorf("solend.DecodeObligation: %s: version %d", addr, data[0])
	}

	nDeposits, nBorrows := int(data[obDepositsLen]), int(data[obBorrowsLen])
	if nDeposits*depositEntrySize+nBorrows*borrowEntrySize > obEntriesSize {
		return domain.Obligation{}, fmt.Errorf("solend.DecodeObligation: %s: %d deposits and %d borrows overflow the account",
			addr, nDeposits, nBorrows)
	}

	ob := domain.Obligation{
		Address:        addr,
		LastUpdateSlot: binary.LittleEndian.Uint64(data[obLastUpdate:]),
		LendingMarket:  pubkeyAt(data, obLendingMarket),
		Owner:          pubkeyAt(data, obOwner),
		Deposits:       make([]domain.ObligationDeposit, 0, nDeposits),
		Borrows:        make([]domain.ObligationBorrow, 0, nBorrows),
	}

	off := obEntries
	for i := 0; i < nDeposits; i++ {
		ob.Deposits = append(ob.Deposits, domain.ObligationDeposit{
			Reserve:         pubkeyAt(data, off),
			DepositedAmount: binary.LittleEndian.Uint64(data[off+32:]),
			MarketValue:     wadAt(data, off+40),
		})
		off += depositEntrySize
	}
	for i := 0; i < nBorrows; i++ {
		ob.Borrows = append(ob.Borrows, domain.ObligationBorrow{
			Reserve:                  pubkeyAt(data, off),
			CumulativeBorrowRateWads: u128At(data, off+32),
			BorrowedAmountWads:       u128At(data, off+48),
			MarketValue:              wadAt(data, off+64),
		})
		off += borrowEntrySize
	}
	return ob, nil
}

// DecodeReserve overlays on-chain addresses, risk config and liquidity state
// onto the metadata from the market config service.
func (c *Codec) DecodeReserve(base domain.Reserve, data []byte) (domain.Reserve, error) {
	if len(data) != ReserveSize {
		return base, fmt.Errorf("solend.DecodeReserve: %s: %d bytes, want %d", base.Address, len(data), ReserveSize)
	}
	if data[0] != layoutVersion {
		return base, fmt.Errorf("solend.DecodeReserve: %s: version %d", base.Address, data[0])
	}

	r := base
	r.LiquidityMint = pubkeyAt(data, rsLiquidityMint)
	r.Decimals = data[rsDecimals]
	r.LiquiditySupply = pubkeyAt(data, rsLiquiditySupply)
	r.PrimaryOracle = pubkeyAt(data, rsPyth)
	r.SecondaryOracle = pubkeyAt(data, rsSwitchboard)
	r.CollateralMint = pubkeyAt(data, rsCollateralMint)
	r.CollateralSupply = pubkeyAt(data, rsCollateralSupply)
	r.FeeReceiver = pubkeyAt(data, rsFeeReceiver)

	r.Config = domain.ReserveConfig{
		LoanToValueRatio:       data[rsLTV],
		LiquidationBonus:       data[rsLiquidationBonus],
		LiquidationThreshold:   data[rsLiquidationThresh],
		ProtocolLiquidationFee: data[rsProtocolLiqFee],
		FlashLoanFeeWad:        binary.LittleEndian.Uint64(data[rsFlashLoanFeeWad:]),
		BorrowWeight:           borrowWeight(binary.LittleEndian.Uint64(data[rsAddedBorrowWeight:])),
	}
	r.State = domain.ReserveState{
		LastUpdateSlot:           binary.LittleEndian.Uint64(data[rsLastUpdate:]),
		AvailableAmount:          binary.LittleEndian.Uint64(data[rsAvailable:]),
		BorrowedAmountWads:       u128At(data, rsBorrowedWads),
		CumulativeBorrowRateWads: u128At(data, rsCumulativeRate),
		CollateralMintSupply:     binary.LittleEndian.Uint64(data[rsMintSupply:]),
	}

	if r.Config.LiquidationThreshold > 100 || r.Config.LoanToValueRatio > r.Config.LiquidationThreshold {
		return base, fmt.Errorf("solend.DecodeReserve: %s: ltv %d%% threshold %d%%",
			base.Address, r.Config.LoanToValueRatio, r.Config.LiquidationThreshold)
	}
	return r, nil
}

func borrowWeight(addedBps uint64) decimal.Decimal {
	return decimal.NewFromInt(1).Add(decimal.NewFromUint64(addedBps).Shift(-4))
}

func pubkeyAt(data []byte, off int) solana.PublicKey {
	return solana.PublicKeyFromBytes(data[off : off+32])
}

// u128At reads an unsigned little-endian 128-bit integer.
func u128At(data []byte, off int) decimal.Decimal {
	lo := binary.LittleEndian.Uint64(data[off:])
	hi := binary.LittleEndian.Uint64(data[off+8:])
	v := new(big.Int).SetUint64(hi)
	v.Lsh(v, 64)
	v.Or(v, new(big.Int).SetUint64(lo))
	return decimal.NewFromBigInt(v, 0)
}

// wadAt reads a u128 wad and scales it down to a plain decimal.
func wadAt(data []byte, off int) decimal.Decimal {
	return u128At(data, off).Div(domain.WAD)
}
