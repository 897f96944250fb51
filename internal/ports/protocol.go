package ports

import (
	"github.com/gagliardetto/solana-go"

	"github.com/alejandrodnm/liquidator/internal/domain"
)

// ProtocolCodec decodes lending-protocol accounts. Binary layouts are owned
// by the implementation.
type ProtocolCodec interface {
	DecodeObligation(addr solana.PublicKey, data []byte) (domain.Obligation, error)

	// DecodeReserve fills Config and State of base from the account data.
	DecodeReserve(base domain.Reserve, data []byte) (domain.Reserve, error)

	// ObligationFilter selects the obligations of one lending market.
	ObligationFilter(market solana.PublicKey) ProgramAccountFilter

	ProgramID() solana.PublicKey
}

// FlashLiquidationAccounts are the wallet accounts a liquidation touches.
type FlashLiquidationAccounts struct {
	Wallet             solana.PublicKey
	RepayLiquidity     solana.PublicKey // wallet ATA of the repay mint
	WithdrawCollateral solana.PublicKey // wallet ATA of the withdraw cToken mint
	WithdrawLiquidity  solana.PublicKey // wallet ATA of the withdraw liquidity mint
}

// InstructionBuilder builds lending-protocol instructions.
type InstructionBuilder interface {
	RefreshReserve(r domain.Reserve) solana.Instruction
	RefreshObligation(o domain.Obligation) solana.Instruction
	FlashBorrow(m domain.Market, r domain.Reserve, amount uint64, destination solana.PublicKey) solana.Instruction

	// FlashRepay references the index of the matching FlashBorrow in the transaction.
	FlashRepay(m domain.Market, r domain.Reserve, amount uint64, borrowIndex uint8, source, wallet solana.PublicKey) solana.Instruction

	LiquidateAndRedeem(m domain.Market, o domain.Obligation, repay, withdraw domain.Reserve, amount uint64, acc FlashLiquidationAccounts) solana.Instruction
}
