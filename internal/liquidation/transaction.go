package liquidation

// transaction.go: shared transaction plumbing for the composer and the
// profit converter.
//
// Both flows follow the same path:
//   - ensure the wallet's token accounts exist (create instructions are
//     prepended only for the missing ones)
//   - resolve address lookup tables
//   - compile against a fresh blockhash, sign, simulate
// A failed simulation never reaches a send.

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"

	"github.com/alejandrodnm/liquidator/internal/domain"
	"github.com/alejandrodnm/liquidator/internal/ports"
)

// Executor is the part of the resilient execution client the composer needs.
type Executor interface {
	ports.ChainClient

	ConfirmTransaction(ctx context.Context, sig solana.Signature, timeout time.Duration) error
	SendBundle(ctx context.Context, txs [][]byte) (string, error)
	WaitForBundle(ctx context.Context, bundleID string, timeout time.Duration) (domain.BundleState, error)
	RandomTipAccount() solana.PublicKey
}

// Lookup-table account layout: a 56-byte header followed by packed addresses.
const (
	lookupTableHeaderSize = 56
	lookupTableDeactivate = 4 // u64 deactivation slot
)

// signer wraps the wallet key. The key is read-only after load, so one signer
// is shared by every obligation pipeline.
type signer struct {
	key    solana.PrivateKey
	wallet solana.PublicKey
}

func newSigner(key solana.PrivateKey) signer {
	return signer{key: key, wallet: key.PublicKey()}
}

// tokenAccount is a wallet ATA plus the instruction creating it, when missing.
type tokenAccount struct {
	Address solana.PublicKey
	Mint    solana.PublicKey
	Create  solana.Instruction // nil when the account already exists
}

// ensureATA derives the wallet's associated token account for mint and
// checks whether it exists on chain.
func ensureATA(ctx context.Context, exec Executor, wallet, mint solana.PublicKey) (tokenAccount, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(wallet, mint)
	if err != nil {
		return tokenAccount{}, fmt.Errorf("derive ata for %s: %w", mint, err)
	}
	acc := tokenAccount{Address: ata, Mint: mint}

	_, err = exec.GetAccountInfo(ctx, ata)
	switch {
	case err == nil:
		return acc, nil
	case errors.Is(err, domain.ErrAccountNotFound):
		acc.Create = associatedtokenaccount.NewCreateInstruction(wallet, wallet, mint).Build()
		return acc, nil
	default:
		return tokenAccount{}, fmt.Errorf("lookup ata %s: %w", ata, err)
	}
}

// balance returns the raw token balance, zero for an account not created yet.
func (a tokenAccount) balance(ctx context.Context, exec Executor) (uint64, error) {
	if a.Create != nil {
		return 0, nil
	}
	bal, err := exec.GetTokenBalance(ctx, a.Address)
	if errors.Is(err, domain.ErrAccountNotFound) {
		return 0, nil
	}
	return bal, err
}

// computeBudget returns the unit limit and, when set, the priority fee.
func computeBudget(units uint32, microLamports uint64) []solana.Instruction {
	out := []solana.Instruction{computebudget.NewSetComputeUnitLimitInstruction(units).Build()}
	if microLamports > 0 {
		out = append(out, computebudget.NewSetComputeUnitPriceInstruction(microLamports).Build())
	}
	return out
}

// loadLookupTables fetches and decodes the given tables. Missing or
// deactivated tables are skipped with a warning; the transaction then carries
// those addresses inline.
func loadLookupTables(ctx context.Context, exec Executor, addrs []solana.PublicKey) (map[solana.PublicKey]solana.PublicKeySlice, error) {
	addrs = distinct(addrs)
	if len(addrs) == 0 {
		return nil, nil
	}
	infos, err := exec.GetMultipleAccounts(ctx, addrs)
	if err != nil {
		return nil, fmt.Errorf("fetch lookup tables: %w", err)
	}

	tables := make(map[solana.PublicKey]solana.PublicKeySlice, len(addrs))
	for i, info := range infos {
		if info == nil {
			slog.Warn("liquidation: lookup table not found", "table", addrs[i])
			continue
		}
		keys, err := decodeLookupTable(info.Data)
		if err != nil {
			slog.Warn("liquidation: skipping lookup table", "table", addrs[i], "err", err)
			continue
		}
		tables[addrs[i]] = keys
	}
	return tables, nil
}

func decodeLookupTable(data []byte) (solana.PublicKeySlice, error) {
	if len(data) < lookupTableHeaderSize {
		return nil, fmt.Errorf("lookup table: %d bytes, header needs %d", len(data), lookupTableHeaderSize)
	}
	if binary.LittleEndian.Uint64(data[lookupTableDeactivate:]) != ^uint64(0) {
		return nil, errors.New("lookup table: deactivated")
	}
	body := data[lookupTableHeaderSize:]
	if len(body)%solana.PublicKeyLength != 0 {
		return nil, fmt.Errorf("lookup table: %d trailing bytes", len(body)%solana.PublicKeyLength)
	}
	out := make(solana.PublicKeySlice, 0, len(body)/solana.PublicKeyLength)
	for off := 0; off < len(body); off += solana.PublicKeyLength {
		out = append(out, solana.PublicKeyFromBytes(body[off:off+solana.PublicKeyLength]))
	}
	return out, nil
}

// compile builds and signs a transaction paid by the wallet.
func compile(ctx context.Context, exec Executor, s signer, ixs []solana.Instruction, tables map[solana.PublicKey]solana.PublicKeySlice) (*solana.Transaction, error) {
	bh, err := exec.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("blockhash: %w", err)
	}

	opts := []solana.TransactionOption{solana.TransactionPayer(s.wallet)}
	if len(tables) > 0 {
		opts = append(opts, solana.TransactionAddressTables(tables))
	}
	tx, err := solana.NewTransaction(ixs, bh.Hash, opts...)
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}
	if _, err := tx.Sign(func(pk solana.PublicKey) *solana.PrivateKey {
		if pk.Equals(s.wallet) {
			return &s.key
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return tx, nil
}

// simulate dry-runs tx and fails with domain.ErrTransaction on an execution error.
func simulate(ctx context.Context, exec Executor, tx *solana.Transaction) error {
	res, err := exec.SimulateTransaction(ctx, tx)
	if err != nil {
		return fmt.Errorf("simulate: %w", err)
	}
	if res.Failed() {
		slog.Debug("liquidation: simulation logs", "logs", res.Logs)
		return fmt.Errorf("simulate: %w: %v", domain.ErrTransaction, res.Err)
	}
	return nil
}

func distinct(keys []solana.PublicKey) []solana.PublicKey {
	seen := make(map[solana.PublicKey]bool, len(keys))
	out := keys[:0:0]
	for _, k := range keys {
		if k.IsZero() || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
