package execution_test

import (
	"context"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/alejandrodnm/liquidator/internal/domain"
	"github.com/alejandrodnm/liquidator/internal/ports"
)

// --- fakes ---

type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.slept = append(c.slept, d)
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.slept...)
}

type fakeRPC struct {
	mu           sync.Mutex
	calls        map[string]int
	blockhash    domain.Blockhash
	blockhashErr error
	balance      uint64
	balanceErrs  []error // consumed one per call
	sendErr      error
	sent         [][]byte
}

func newFakeRPC() *fakeRPC { return &fakeRPC{calls: make(map[string]int)} }

func (f *fakeRPC) count(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

func (f *fakeRPC) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeRPC) GetAccountInfo(_ context.Context, account solana.PublicKey) (domain.AccountInfo, error) {
	f.count("GetAccountInfo")
	return domain.AccountInfo{}, domain.ErrAccountNotFound
}

func (f *fakeRPC) GetMultipleAccounts(_ context.Context, accounts []solana.PublicKey) ([]*domain.AccountInfo, error) {
	f.count("GetMultipleAccounts")
	return make([]*domain.AccountInfo, len(accounts)), nil
}

func (f *fakeRPC) GetLatestBlockhash(context.Context) (domain.Blockhash, error) {
	f.count("GetLatestBlockhash")
	return f.blockhash, f.blockhashErr
}

func (f *fakeRPC) GetBalance(context.Context, solana.PublicKey) (uint64, error) {
	f.count("GetBalance")
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.balanceErrs) > 0 {
		err := f.balanceErrs[0]
		f.balanceErrs = f.balanceErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	return f.balance, nil
}

func (f *fakeRPC) GetTokenBalance(context.Context, solana.PublicKey) (uint64, error) {
	f.count("GetTokenBalance")
	return 0, nil
}

func (f *fakeRPC) GetProgramAccounts(context.Context, solana.PublicKey, ports.ProgramAccountFilter) ([]domain.AccountInfo, error) {
	f.count("GetProgramAccounts")
	return nil, nil
}

func (f *fakeRPC) SimulateTransaction(context.Context, *solana.Transaction) (domain.SimulationResult, error) {
	f.count("SimulateTransaction")
	return domain.SimulationResult{}, nil
}

func (f *fakeRPC) SendRawTransaction(_ context.Context, raw []byte) (solana.Signature, error) {
	f.count("SendRawTransaction")
	f.mu.Lock()
	f.sent = append(f.sent, raw)
	f.mu.Unlock()
	return solana.Signature{1}, f.sendErr
}

func (f *fakeRPC) GetSignatureStatus(context.Context, solana.Signature) (*domain.SignatureStatus, error) {
	f.count("GetSignatureStatus")
	return &domain.SignatureStatus{ConfirmationStatus: "confirmed"}, nil
}

type fakeRelay struct {
	mu        sync.Mutex
	calls     map[string]int
	statuses  []domain.BundleStatus // served in order, last one repeats
	plainSend bool
	sendErr   error
	blockhash domain.Blockhash
}

func newFakeRelay() *fakeRelay { return &fakeRelay{calls: make(map[string]int)} }

func (f *fakeRelay) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeRelay) SendBundle(_ context.Context, txs [][]byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["SendBundle"]++
	return "bundle-1", f.sendErr
}

func (f *fakeRelay) GetBundleStatus(_ context.Context, id string) (domain.BundleState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["GetBundleStatus"]++
	if len(f.statuses) == 0 {
		return domain.BundleState{ID: id}, nil
	}
	st := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return domain.BundleState{ID: id, Status: st, LandedSlot: 42}, nil
}

func (f *fakeRelay) SendTransaction(context.Context, []byte) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["SendTransaction"]++
	return solana.Signature{2}, f.sendErr
}

func (f *fakeRelay) SupportsPlainSend() bool { return f.plainSend }

func (f *fakeRelay) GetLatestBlockhash(context.Context) (domain.Blockhash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["GetLatestBlockhash"]++
	return f.blockhash, nil
}
