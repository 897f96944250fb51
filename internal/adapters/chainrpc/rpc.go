package chainrpc

// rpc.go: regular chain-RPC endpoint.
//
// Thin adapter over solana-go's JSON-RPC client. Transport failures and node
// error payloads are tagged domain.ErrRPC so the execution client retries
// them; a missing account is domain.ErrAccountNotFound and is never retried.
// Requests are paced by a token bucket sized to the provider's public limits.

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"golang.org/x/time/rate"

	"github.com/alejandrodnm/liquidator/internal/domain"
	"github.com/alejandrodnm/liquidator/internal/ports"
)

const (
	defaultRatePerSec = 40
	defaultBurst      = 10

	// getMultipleAccounts accepts at most this many keys per call.
	maxMultipleAccounts = 100

	// JSON-RPC "invalid params"; the node answers it for unknown token accounts.
	invalidParamsCode = -32602
)

// Client implements ports.ChainClient.
type Client struct {
	rpc        *rpc.Client
	limiter    *rate.Limiter
	commitment rpc.CommitmentType
}

var _ ports.ChainClient = (*Client)(nil)

// New connects to endpoint. ratePerSec <= 0 uses the default pacing.
func New(endpoint string, ratePerSec int) *Client {
	if ratePerSec <= 0 {
		ratePerSec = defaultRatePerSec
	}
	return &Client{
		rpc:        rpc.New(endpoint),
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), defaultBurst),
		commitment: rpc.CommitmentConfirmed,
	}
}

func (c *Client) wait(ctx context.Context, op string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("chainrpc.%s: rate limiter: %w", op, err)
	}
	return nil
}

// rpcErr tags err as a transient RPC failure unless ctx ended it.
func rpcErr(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("chainrpc.%s: %w", op, ctx.Err())
	}
	return fmt.Errorf("chainrpc.%s: %w: %w", op, domain.ErrRPC, err)
}

func (c *Client) GetLatestBlockhash(ctx context.Context) (domain.Blockhash, error) {
	if err := c.wait(ctx, "GetLatestBlockhash"); err != nil {
		return domain.Blockhash{}, err
	}
	out, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return domain.Blockhash{}, rpcErr(ctx, "GetLatestBlockhash", err)
	}
	return domain.Blockhash{
		Hash:                 out.Value.Blockhash,
		LastValidBlockHeight: out.Value.LastValidBlockHeight,
	}, nil
}

func (c *Client) GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	if err := c.wait(ctx, "GetBalance"); err != nil {
		return 0, err
	}
	out, err := c.rpc.GetBalance(ctx, account, c.commitment)
	if err != nil {
		return 0, rpcErr(ctx, "GetBalance", err)
	}
	return out.Value, nil
}

// GetTokenBalance returns domain.ErrAccountNotFound for a token account that
// does not exist.
func (c *Client) GetTokenBalance(ctx context.Context, tokenAccount solana.PublicKey) (uint64, error) {
	if err := c.wait(ctx, "GetTokenBalance"); err != nil {
		return 0, err
	}
	out, err := c.rpc.GetTokenAccountBalance(ctx, tokenAccount, c.commitment)
	if err != nil {
		if isMissingAccount(err) {
			return 0, fmt.Errorf("chainrpc.GetTokenBalance: %s: %w", tokenAccount, domain.ErrAccountNotFound)
		}
		return 0, rpcErr(ctx, "GetTokenBalance", err)
	}
	if out.Value == nil {
		return 0, fmt.Errorf("chainrpc.GetTokenBalance: %s: %w", tokenAccount, domain.ErrAccountNotFound)
	}
	amount, err := strconv.ParseUint(out.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("chainrpc.GetTokenBalance: parse amount %q: %w", out.Value.Amount, err)
	}
	return amount, nil
}

func (c *Client) GetAccountInfo(ctx context.Context, account solana.PublicKey) (domain.AccountInfo, error) {
	if err := c.wait(ctx, "GetAccountInfo"); err != nil {
		return domain.AccountInfo{}, err
	}
	out, err := c.rpc.GetAccountInfoWithOpts(ctx, account, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: c.commitment,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return domain.AccountInfo{}, fmt.Errorf("chainrpc.GetAccountInfo: %s: %w", account, domain.ErrAccountNotFound)
	}
	if err != nil {
		return domain.AccountInfo{}, rpcErr(ctx, "GetAccountInfo", err)
	}
	return toAccountInfo(account, out.Value), nil
}

// GetMultipleAccounts splits keys into chunks the node accepts.
func (c *Client) GetMultipleAccounts(ctx context.Context, accounts []solana.PublicKey) ([]*domain.AccountInfo, error) {
	out := make([]*domain.AccountInfo, 0, len(accounts))
	for start := 0; start < len(accounts); start += maxMultipleAccounts {
		chunk := accounts[start:min(start+maxMultipleAccounts, len(accounts))]
		if err := c.wait(ctx, "GetMultipleAccounts"); err != nil {
			return nil, err
		}
		res, err := c.rpc.GetMultipleAccountsWithOpts(ctx, chunk, &rpc.GetMultipleAccountsOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: c.commitment,
		})
		if err != nil {
			return nil, rpcErr(ctx, "GetMultipleAccounts", err)
		}
		if len(res.Value) != len(chunk) {
			return nil, fmt.Errorf("chainrpc.GetMultipleAccounts: %w: asked %d accounts, got %d",
				domain.ErrRPC, len(chunk), len(res.Value))
		}
		for i, acc := range res.Value {
			if acc == nil {
				out = append(out, nil)
				continue
			}
			info := toAccountInfo(chunk[i], acc)
			out = append(out, &info)
		}
	}
	return out, nil
}

func (c *Client) GetProgramAccounts(ctx context.Context, program solana.PublicKey, filter ports.ProgramAccountFilter) ([]domain.AccountInfo, error) {
	if err := c.wait(ctx, "GetProgramAccounts"); err != nil {
		return nil, err
	}
	var filters []rpc.RPCFilter
	if filter.DataSize > 0 {
		filters = append(filters, rpc.RPCFilter{DataSize: filter.DataSize})
	}
	if len(filter.MemcmpBytes) > 0 {
		filters = append(filters, rpc.RPCFilter{Memcmp: &rpc.RPCFilterMemcmp{
			Offset: filter.MemcmpOffset,
			Bytes:  solana.Base58(filter.MemcmpBytes),
		}})
	}

	res, err := c.rpc.GetProgramAccountsWithOpts(ctx, program, &rpc.GetProgramAccountsOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: c.commitment,
		Filters:    filters,
	})
	if err != nil {
		return nil, rpcErr(ctx, "GetProgramAccounts", err)
	}
	out := make([]domain.AccountInfo, 0, len(res))
	for _, keyed := range res {
		if keyed == nil || keyed.Account == nil {
			continue
		}
		out = append(out, toAccountInfo(keyed.Pubkey, keyed.Account))
	}
	return out, nil
}

// SimulateTransaction runs tx against the current bank without signature
// checks. A program failure is reported in the result, not as an error.
func (c *Client) SimulateTransaction(ctx context.Context, tx *solana.Transaction) (domain.SimulationResult, error) {
	if err := c.wait(ctx, "SimulateTransaction"); err != nil {
		return domain.SimulationResult{}, err
	}
	out, err := c.rpc.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
		SigVerify:  false,
		Commitment: c.commitment,
	})
	if err != nil {
		return domain.SimulationResult{}, rpcErr(ctx, "SimulateTransaction", err)
	}
	if out.Value == nil {
		return domain.SimulationResult{}, fmt.Errorf("chainrpc.SimulateTransaction: %w: empty result", domain.ErrRPC)
	}
	res := domain.SimulationResult{Err: out.Value.Err, Logs: out.Value.Logs}
	if out.Value.UnitsConsumed != nil {
		res.UnitsConsumed = *out.Value.UnitsConsumed
	}
	return res, nil
}

// SendRawTransaction skips preflight: every transaction was simulated first.
func (c *Client) SendRawTransaction(ctx context.Context, raw []byte) (solana.Signature, error) {
	if err := c.wait(ctx, "SendRawTransaction"); err != nil {
		return solana.Signature{}, err
	}
	sig, err := c.rpc.SendRawTransactionWithOpts(ctx, raw, rpc.TransactionOpts{
		SkipPreflight:       true,
		PreflightCommitment: c.commitment,
	})
	if err != nil {
		return solana.Signature{}, rpcErr(ctx, "SendRawTransaction", err)
	}
	return sig, nil
}

// GetSignatureStatus returns nil when the node has not seen sig.
func (c *Client) GetSignatureStatus(ctx context.Context, sig solana.Signature) (*domain.SignatureStatus, error) {
	if err := c.wait(ctx, "GetSignatureStatus"); err != nil {
		return nil, err
	}
	out, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
	if err != nil {
		return nil, rpcErr(ctx, "GetSignatureStatus", err)
	}
	if len(out.Value) == 0 || out.Value[0] == nil {
		return nil, nil
	}
	st := out.Value[0]
	return &domain.SignatureStatus{
		Slot:               st.Slot,
		ConfirmationStatus: string(st.ConfirmationStatus),
		Err:                st.Err,
	}, nil
}

func toAccountInfo(addr solana.PublicKey, acc *rpc.Account) domain.AccountInfo {
	info := domain.AccountInfo{Address: addr}
	if acc == nil {
		return info
	}
	info.Owner = acc.Owner
	info.Lamports = acc.Lamports
	if acc.Data != nil {
		info.Data = acc.Data.GetBinary()
	}
	return info
}

// isMissingAccount matches the node's "could not find account" error for
// token balance lookups.
func isMissingAccount(err error) bool {
	var rerr *jsonrpc.RPCError
	if errors.As(err, &rerr) {
		return rerr.Code == invalidParamsCode
	}
	return false
}
