package ports

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// SwapMode selects which side of a quote is fixed.
type SwapMode string

const (
	SwapExactIn  SwapMode = "ExactIn"
	SwapExactOut SwapMode = "ExactOut"
)

// QuoteRequest asks the DEX aggregator for a route.
type QuoteRequest struct {
	InputMint   solana.PublicKey
	OutputMint  solana.PublicKey
	Amount      uint64
	Mode        SwapMode
	SlippageBps uint16
}

// Quote is an opaque aggregator route plus the amounts it commits to.
type Quote struct {
	InputMint      solana.PublicKey
	OutputMint     solana.PublicKey
	InAmount       uint64
	OutAmount      uint64
	OtherAmount    uint64 // min out (ExactIn) or max in (ExactOut) after slippage
	PriceImpactPct float64
	Raw            []byte // original response, passed back verbatim
}

// SwapInstructions is the instruction set that executes a quote.
type SwapInstructions struct {
	Setup        []solana.Instruction
	Swap         solana.Instruction
	Cleanup      []solana.Instruction
	LookupTables []solana.PublicKey
}

// SwapRouter is the DEX aggregator. It is a black box that returns routes and
// instructions; the routing algorithm is not ours.
type SwapRouter interface {
	// Quote returns domain.ErrSwap when no route exists.
	Quote(ctx context.Context, req QuoteRequest) (Quote, error)

	SwapInstructions(ctx context.Context, quote Quote, user solana.PublicKey) (SwapInstructions, error)
}
