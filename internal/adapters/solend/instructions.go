package solend

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"

	"github.com/alejandrodnm/liquidator/internal/domain"
	"github.com/alejandrodnm/liquidator/internal/ports"
)

// Instruction tags of the lending program.
const (
	tagRefreshReserve     uint8 = 3
	tagRefreshObligation  uint8 = 7
	tagLiquidateAndRedeem uint8 = 15
	tagFlashBorrow        uint8 = 19
	tagFlashRepay         uint8 = 20
)

// Instructions implements ports.InstructionBuilder.
type Instructions struct {
	program solana.PublicKey
}

var _ ports.InstructionBuilder = (*Instructions)(nil)

// NewInstructions returns a builder targeting program.
func NewInstructions(program solana.PublicKey) *Instructions {
	return &Instructions{program: program}
}

// RefreshReserve updates interest and the oracle price of r. Both oracles are
// passed; the program picks whichever is valid.
func (b *Instructions) RefreshReserve(r domain.Reserve) solana.Instruction {
	return solana.NewInstruction(b.program, solana.AccountMetaSlice{
		writable(r.Address),
		readonly(r.PrimaryOracle),
		readonly(r.SecondaryOracle),
	}, []byte{tagRefreshReserve})
}

// RefreshObligation revalues o. Every deposit reserve, then every borrow
// reserve, must have been refreshed earlier in the same transaction.
func (b *Instructions) RefreshObligation(o domain.Obligation) solana.Instruction {
	accounts := solana.AccountMetaSlice{writable(o.Address)}
	for _, pk := range o.DepositReserves() {
		accounts = append(accounts, readonly(pk))
	}
	for _, pk := range o.BorrowReserves() {
		accounts = append(accounts, readonly(pk))
	}
	return solana.NewInstruction(b.program, accounts, []byte{tagRefreshObligation})
}

func (b *Instructions) FlashBorrow(m domain.Market, r domain.Reserve, amount uint64, destination solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(b.program, solana.AccountMetaSlice{
		writable(r.LiquiditySupply),
		writable(destination),
		writable(r.Address),
		readonly(m.Address),
		readonly(m.Authority),
		readonly(solana.SysVarInstructionsPubkey),
		readonly(solana.TokenProgramID),
	}, amountData(tagFlashBorrow, amount))
}

// FlashRepay returns amount plus fee to the reserve. borrowIndex is the
// position of the matching FlashBorrow inside the transaction.
func (b *Instructions) FlashRepay(m domain.Market, r domain.Reserve, amount uint64, borrowIndex uint8, source, wallet solana.PublicKey) solana.Instruction {
	data := append(amountData(tagFlashRepay, amount), borrowIndex)
	return solana.NewInstruction(b.program, solana.AccountMetaSlice{
		writable(source),
		writable(r.LiquiditySupply),
		writable(r.FeeReceiver),
		writable(r.FeeReceiver), // host fee receiver
		writable(r.Address),
		readonly(m.Address),
		signer(wallet),
		readonly(solana.SysVarInstructionsPubkey),
		readonly(solana.TokenProgramID),
	}, data)
}

// LiquidateAndRedeem repays amount of o's debt in repay and redeems the
// seized collateral of withdraw straight into liquidity tokens.
func (b *Instructions) LiquidateAndRedeem(m domain.Market, o domain.Obligation, repay, withdraw domain.Reserve, amount uint64, acc ports.FlashLiquidationAccounts) solana.Instruction {
	return solana.NewInstruction(b.program, solana.AccountMetaSlice{
		writable(acc.RepayLiquidity),
		writable(acc.WithdrawCollateral),
		writable(acc.WithdrawLiquidity),
		writable(repay.Address),
		writable(repay.LiquiditySupply),
		writable(withdraw.Address),
		writable(withdraw.CollateralMint),
		writable(withdraw.CollateralSupply),
		writable(withdraw.LiquiditySupply),
		writable(withdraw.FeeReceiver),
		writable(o.Address),
		readonly(m.Address),
		readonly(m.Authority),
		signer(acc.Wallet),
		readonly(solana.TokenProgramID),
	}, amountData(tagLiquidateAndRedeem, amount))
}

func amountData(tag uint8, amount uint64) []byte {
	data := make([]byte, 9, 10)
	data[0] = tag
	binary.LittleEndian.PutUint64(data[1:], amount)
	return data
}

func writable(pk solana.PublicKey) *solana.AccountMeta { return solana.NewAccountMeta(pk, true, false) }
func readonly(pk solana.PublicKey) *solana.AccountMeta { return solana.NewAccountMeta(pk, false, false) }
func signer(pk solana.PublicKey) *solana.AccountMeta   { return solana.NewAccountMeta(pk, true, true) }
