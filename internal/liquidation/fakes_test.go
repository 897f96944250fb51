package liquidation_test

import (
	"context"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/alejandrodnm/liquidator/internal/domain"
	"github.com/alejandrodnm/liquidator/internal/ports"
)

// --- fakes ---

var sentSig = solana.Signature{1, 2, 3}

type fakeExec struct {
	mu        sync.Mutex
	accounts  map[solana.PublicKey]bool
	balances  map[solana.PublicKey]uint64
	afterSend map[solana.PublicKey]uint64 // applied when a transaction is sent
	simErr    any
	simulated []*solana.Transaction
	sentRaw   [][]byte
	bundles   [][][]byte
	confirmed []solana.Signature
	tip       solana.PublicKey
}

func newFakeExec() *fakeExec {
	return &fakeExec{
		accounts:  make(map[solana.PublicKey]bool),
		balances:  make(map[solana.PublicKey]uint64),
		afterSend: make(map[solana.PublicKey]uint64),
		tip:       key(0xEE),
	}
}

func (f *fakeExec) setAccount(pk solana.PublicKey, balance uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[pk] = true
	f.balances[pk] = balance
}

func (f *fakeExec) landed() {
	for pk, bal := range f.afterSend {
		f.accounts[pk] = true
		f.balances[pk] = bal
	}
}

func (f *fakeExec) GetAccountInfo(_ context.Context, account solana.PublicKey) (domain.AccountInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.accounts[account] {
		return domain.AccountInfo{}, domain.ErrAccountNotFound
	}
	return domain.AccountInfo{Address: account, Owner: solana.TokenProgramID}, nil
}

func (f *fakeExec) GetMultipleAccounts(_ context.Context, accounts []solana.PublicKey) ([]*domain.AccountInfo, error) {
	return make([]*domain.AccountInfo, len(accounts)), nil
}

func (f *fakeExec) GetLatestBlockhash(context.Context) (domain.Blockhash, error) {
	return domain.Blockhash{Hash: solana.Hash(key(0xAB)), LastValidBlockHeight: 100}, nil
}

func (f *fakeExec) GetBalance(context.Context, solana.PublicKey) (uint64, error) { return 0, nil }

func (f *fakeExec) GetTokenBalance(_ context.Context, account solana.PublicKey) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.accounts[account] {
		return 0, domain.ErrAccountNotFound
	}
	return f.balances[account], nil
}

func (f *fakeExec) GetProgramAccounts(context.Context, solana.PublicKey, ports.ProgramAccountFilter) ([]domain.AccountInfo, error) {
	return nil, nil
}

func (f *fakeExec) SimulateTransaction(_ context.Context, tx *solana.Transaction) (domain.SimulationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simulated = append(f.simulated, tx)
	return domain.SimulationResult{Err: f.simErr, Logs: []string{"Program log: test"}}, nil
}

func (f *fakeExec) SendRawTransaction(_ context.Context, raw []byte) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentRaw = append(f.sentRaw, raw)
	f.landed()
	return sentSig, nil
}

func (f *fakeExec) GetSignatureStatus(context.Context, solana.Signature) (*domain.SignatureStatus, error) {
	return &domain.SignatureStatus{ConfirmationStatus: "confirmed"}, nil
}

func (f *fakeExec) ConfirmTransaction(_ context.Context, sig solana.Signature, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed = append(f.confirmed, sig)
	return nil
}

func (f *fakeExec) SendBundle(_ context.Context, txs [][]byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bundles = append(f.bundles, txs)
	f.landed()
	return "bundle-1", nil
}

func (f *fakeExec) WaitForBundle(_ context.Context, id string, _ time.Duration) (domain.BundleState, error) {
	return domain.BundleState{ID: id, Status: domain.BundleLanded, LandedSlot: 7}, nil
}

func (f *fakeExec) RandomTipAccount() solana.PublicKey { return f.tip }

func (f *fakeExec) sends() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sentRaw) + len(f.bundles)
}

type fakeRouter struct {
	mu       sync.Mutex
	quoteErr error
	requests []ports.QuoteRequest
	program  solana.PublicKey
}

func (r *fakeRouter) Quote(_ context.Context, req ports.QuoteRequest) (ports.Quote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	if r.quoteErr != nil {
		return ports.Quote{}, r.quoteErr
	}
	in, out := req.Amount, req.Amount
	if req.Mode == ports.SwapExactOut {
		in = req.Amount * 2
	} else {
		out = req.Amount / 2
	}
	return ports.Quote{InputMint: req.InputMint, OutputMint: req.OutputMint, InAmount: in, OutAmount: out, Raw: []byte(`{}`)}, nil
}

func (r *fakeRouter) SwapInstructions(_ context.Context, _ ports.Quote, user solana.PublicKey) (ports.SwapInstructions, error) {
	return ports.SwapInstructions{
		Swap: solana.NewInstruction(r.program, solana.AccountMetaSlice{
			solana.NewAccountMeta(user, false, true),
		}, []byte{0xE5}),
	}, nil
}

func (r *fakeRouter) lastRequest() ports.QuoteRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests[len(r.requests)-1]
}
