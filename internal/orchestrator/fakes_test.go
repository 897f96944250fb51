package orchestrator_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/liquidator/internal/domain"
	"github.com/alejandrodnm/liquidator/internal/liquidation"
	"github.com/alejandrodnm/liquidator/internal/metrics"
	"github.com/alejandrodnm/liquidator/internal/ports"
)

// --- fakes ---

var program = key(0x50)

type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

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

func (c *fakeClock) Slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.slept...)
}

type fakeMarkets struct {
	mu      sync.Mutex
	markets []domain.Market
	err     error
	calls   int
}

func (f *fakeMarkets) FetchMarkets(context.Context) ([]domain.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.markets, f.err
}

// fakeChain holds decoded obligations by address; fakeCodec hands them back.
type fakeChain struct {
	mu          sync.Mutex
	balance     uint64
	obligations map[solana.PublicKey]domain.Obligation
	order       []solana.PublicKey
	reservesErr error
	refetchErr  error
}

func newFakeChain() *fakeChain {
	return &fakeChain{balance: 1_000_000_000, obligations: make(map[solana.PublicKey]domain.Obligation)}
}

func (f *fakeChain) put(ob domain.Obligation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.obligations[ob.Address]; !ok {
		f.order = append(f.order, ob.Address)
	}
	f.obligations[ob.Address] = ob
}

func (f *fakeChain) get(addr solana.PublicKey) (domain.Obligation, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ob, ok := f.obligations[addr]
	return ob, ok
}

func (f *fakeChain) GetAccountInfo(_ context.Context, account solana.PublicKey) (domain.AccountInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refetchErr != nil {
		return domain.AccountInfo{}, f.refetchErr
	}
	if _, ok := f.obligations[account]; !ok {
		return domain.AccountInfo{}, domain.ErrAccountNotFound
	}
	return domain.AccountInfo{Address: account, Owner: program}, nil
}

func (f *fakeChain) GetMultipleAccounts(_ context.Context, accounts []solana.PublicKey) ([]*domain.AccountInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reservesErr != nil {
		return nil, f.reservesErr
	}
	out := make([]*domain.AccountInfo, len(accounts))
	for i, a := range accounts {
		out[i] = &domain.AccountInfo{Address: a, Owner: program}
	}
	return out, nil
}

func (f *fakeChain) GetProgramAccounts(_ context.Context, _ solana.PublicKey, filter ports.ProgramAccountFilter) ([]domain.AccountInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	market := solana.PublicKeyFromBytes(filter.MemcmpBytes)
	var out []domain.AccountInfo
	for _, addr := range f.order {
		if f.obligations[addr].LendingMarket.Equals(market) {
			out = append(out, domain.AccountInfo{Address: addr, Owner: program})
		}
	}
	return out, nil
}

func (f *fakeChain) GetLatestBlockhash(context.Context) (domain.Blockhash, error) {
	return domain.Blockhash{}, nil
}

func (f *fakeChain) GetBalance(context.Context, solana.PublicKey) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeChain) GetTokenBalance(context.Context, solana.PublicKey) (uint64, error) { return 0, nil }

func (f *fakeChain) SimulateTransaction(context.Context, *solana.Transaction) (domain.SimulationResult, error) {
	return domain.SimulationResult{}, nil
}

func (f *fakeChain) SendRawTransaction(context.Context, []byte) (solana.Signature, error) {
	return solana.Signature{}, errors.New("not used")
}

func (f *fakeChain) GetSignatureStatus(context.Context, solana.Signature) (*domain.SignatureStatus, error) {
	return nil, nil
}

type fakeCodec struct {
	chain    *fakeChain
	reserves map[solana.PublicKey]domain.Reserve // on-chain part by address
}

func (c *fakeCodec) DecodeObligation(addr solana.PublicKey, _ []byte) (domain.Obligation, error) {
	ob, ok := c.chain.get(addr)
	if !ok {
		return domain.Obligation{}, errors.New("unknown obligation")
	}
	return ob, nil
}

func (c *fakeCodec) DecodeReserve(base domain.Reserve, _ []byte) (domain.Reserve, error) {
	onchain, ok := c.reserves[base.Address]
	if !ok {
		return base, errors.New("unknown reserve")
	}
	base.Config, base.State = onchain.Config, onchain.State
	return base, nil
}

func (c *fakeCodec) ObligationFilter(market solana.PublicKey) ports.ProgramAccountFilter {
	return ports.ProgramAccountFilter{DataSize: 1300, MemcmpOffset: 10, MemcmpBytes: market.Bytes()}
}

func (c *fakeCodec) ProgramID() solana.PublicKey { return program }

type fakePrices struct {
	prices domain.PriceMap
}

func (f *fakePrices) ResolveMarketPrices(context.Context, domain.Market) domain.PriceMap {
	return f.prices
}

type fakeLiquidator struct {
	mu       sync.Mutex
	requests []domain.LiquidationRequest
	errs     []error // consumed one per call
	result   domain.LiquidationResult
	onLand   func(req domain.LiquidationRequest)
}

func (f *fakeLiquidator) Liquidate(_ context.Context, req domain.LiquidationRequest) (domain.LiquidationResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	onLand := f.onLand
	f.mu.Unlock()

	if err != nil {
		return domain.LiquidationResult{}, err
	}
	if onLand != nil {
		onLand(req)
	}
	return f.result, nil
}

func (f *fakeLiquidator) Wallet() solana.PublicKey { return key(0xAA) }

func (f *fakeLiquidator) Requests() []domain.LiquidationRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.LiquidationRequest(nil), f.requests...)
}

type conversion struct {
	from, to solana.PublicKey
	amount   uint64
}

type fakeConverter struct {
	mu          sync.Mutex
	conversions []conversion
	unwraps     int
}

func (f *fakeConverter) Convert(_ context.Context, from, to solana.PublicKey, amount uint64) (liquidation.Conversion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversions = append(f.conversions, conversion{from, to, amount})
	return liquidation.Conversion{InAmount: amount}, nil
}

func (f *fakeConverter) UnwrapSOL(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unwraps++
	return 0, nil
}

type fakeReporter struct {
	mu     sync.Mutex
	epochs []int
	last   metrics.Snapshot
}

func (f *fakeReporter) Report(_ context.Context, epoch int, snap metrics.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.epochs = append(f.epochs, epoch)
	f.last = snap
	return nil
}

// --- fixtures ---

func key(b byte) solana.PublicKey {
	var k solana.PublicKey
	k[0] = b
	return k
}

func wads(v int64) decimal.Decimal {
	return decimal.NewFromInt(v).Mul(domain.WAD)
}
