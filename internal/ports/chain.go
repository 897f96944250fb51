package ports

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/alejandrodnm/liquidator/internal/domain"
)

// AccountReader reads raw account state from chain.
type AccountReader interface {
	// GetAccountInfo returns domain.ErrAccountNotFound when the account does not exist.
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (domain.AccountInfo, error)

	// GetMultipleAccounts returns one entry per requested key; missing accounts are nil.
	GetMultipleAccounts(ctx context.Context, accounts []solana.PublicKey) ([]*domain.AccountInfo, error)
}

// ProgramAccountFilter narrows a getProgramAccounts scan.
type ProgramAccountFilter struct {
	DataSize     uint64
	MemcmpOffset uint64
	MemcmpBytes  []byte
}

// ChainClient is the capability surface of a regular chain-RPC endpoint.
// The resilient execution client implements it too and decorates an inner one.
type ChainClient interface {
	AccountReader

	GetLatestBlockhash(ctx context.Context) (domain.Blockhash, error)

	// GetBalance returns the native balance in lamports.
	GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error)

	// GetTokenBalance returns the raw amount held by a token account.
	GetTokenBalance(ctx context.Context, tokenAccount solana.PublicKey) (uint64, error)

	GetProgramAccounts(ctx context.Context, program solana.PublicKey, filter ProgramAccountFilter) ([]domain.AccountInfo, error)

	SimulateTransaction(ctx context.Context, tx *solana.Transaction) (domain.SimulationResult, error)

	SendRawTransaction(ctx context.Context, raw []byte) (solana.Signature, error)

	GetSignatureStatus(ctx context.Context, sig solana.Signature) (*domain.SignatureStatus, error)
}
