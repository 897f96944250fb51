package solend

// markets.go: market metadata from the protocol's config service.
//
// The service returns every market with its static reserve wiring. Records
// are validated here so the rest of the module only sees complete reserves:
// a reserve missing a required address is dropped with a warning, a market
// with no usable reserve is dropped entirely.

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/time/rate"

	"github.com/alejandrodnm/liquidator/internal/domain"
	"github.com/alejandrodnm/liquidator/internal/ports"
)

const (
	productionMarketsURL = "https://api.solend.fi/v1/markets/configs?scope=all&deployment=production"
	devMarketsURL        = "https://api.solend.fi/v1/markets/configs?scope=all&deployment=devnet"

	defaultMarketAttempts = 10
	defaultMarketBackoff  = time.Second
)

// MarketsURL returns the config endpoint for a deployment mode.
func MarketsURL(mode string) string {
	if mode == "dev" {
		return devMarketsURL
	}
	return productionMarketsURL
}

type marketJSON struct {
	Name               string        `json:"name"`
	IsPrimary          bool          `json:"isPrimary"`
	Address            string        `json:"address"`
	AuthorityAddress   string        `json:"authorityAddress"`
	LookupTableAddress string        `json:"lookupTableAddress"`
	Reserves           []reserveJSON `json:"reserves"`
}

type reserveJSON struct {
	Address                     string `json:"address"`
	PythOracle                  string `json:"pythOracle"`
	SwitchboardOracle           string `json:"switchboardOracle"`
	CollateralMintAddress       string `json:"collateralMintAddress"`
	CollateralSupplyAddress     string `json:"collateralSupplyAddress"`
	LiquidityAddress            string `json:"liquidityAddress"`
	LiquidityFeeReceiverAddress string `json:"liquidityFeeReceiverAddress"`
	LiquidityToken              struct {
		Mint     string `json:"mint"`
		Symbol   string `json:"symbol"`
		Decimals uint8  `json:"decimals"`
	} `json:"liquidityToken"`
}

// MarketClient implements ports.MarketProvider over HTTP.
type MarketClient struct {
	http     *http.Client
	url      string
	limiter  *rate.Limiter
	attempts int
	backoff  time.Duration
}

var _ ports.MarketProvider = (*MarketClient)(nil)

// NewMarketClient fetches from url, retrying up to attempts times with a
// linearly growing delay (attempt × backoff). Zero values take defaults.
func NewMarketClient(url string, attempts int, backoff time.Duration) *MarketClient {
	if attempts <= 0 {
		attempts = defaultMarketAttempts
	}
	if backoff <= 0 {
		backoff = defaultMarketBackoff
	}
	return &MarketClient{
		http:     &http.Client{Timeout: 15 * time.Second},
		url:      url,
		limiter:  rate.NewLimiter(2, 1),
		attempts: attempts,
		backoff:  backoff,
	}
}

// FetchMarkets downloads and validates every market.
func (c *MarketClient) FetchMarkets(ctx context.Context) ([]domain.Market, error) {
	var raw []marketJSON
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("solend.FetchMarkets: rate limiter: %w", err)
		}
		raw, lastErr = c.fetch(ctx)
		if lastErr == nil {
			break
		}
		if attempt == c.attempts {
			break
		}
		wait := time.Duration(attempt) * c.backoff
		slog.Warn("solend: market config fetch failed", "attempt", attempt, "retry_in", wait, "err", lastErr)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, fmt.Errorf("solend.FetchMarkets: %w", ctx.Err())
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("solend.FetchMarkets: %d attempts: %w", c.attempts, lastErr)
	}

	markets := make([]domain.Market, 0, len(raw))
	for _, mj := range raw {
		m, err := toMarket(mj)
		if err != nil {
			slog.Warn("solend: skipping market", "name", mj.Name, "address", mj.Address, "err", err)
			continue
		}
		markets = append(markets, m)
	}
	if len(markets) == 0 {
		return nil, fmt.Errorf("solend.FetchMarkets: no valid markets in %d records", len(raw))
	}
	return markets, nil
}

func (c *MarketClient) fetch(ctx context.Context) ([]marketJSON, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	var out []marketJSON
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

func toMarket(mj marketJSON) (domain.Market, error) {
	addr, err := solana.PublicKeyFromBase58(mj.Address)
	if err != nil {
		return domain.Market{}, fmt.Errorf("address: %w", err)
	}
	authority, err := solana.PublicKeyFromBase58(mj.AuthorityAddress)
	if err != nil {
		return domain.Market{}, fmt.Errorf("authority: %w", err)
	}
	m := domain.Market{
		Address:   addr,
		Authority: authority,
		Name:      mj.Name,
		IsPrimary: mj.IsPrimary,
		Reserves:  make([]domain.Reserve, 0, len(mj.Reserves)),
	}
	if mj.LookupTableAddress != "" {
		if lut, err := solana.PublicKeyFromBase58(mj.LookupTableAddress); err == nil {
			m.LookupTable = lut
		}
	}

	for _, rj := range mj.Reserves {
		r, err := toReserve(rj)
		if err != nil {
			slog.Warn("solend: skipping reserve",
				"market", mj.Name,
				"symbol", rj.LiquidityToken.Symbol,
				"reserve", rj.Address,
				"err", err,
			)
			continue
		}
		m.Reserves = append(m.Reserves, r)
	}
	if len(m.Reserves) == 0 {
		return domain.Market{}, fmt.Errorf("no valid reserves")
	}
	return m, nil
}

func toReserve(rj reserveJSON) (domain.Reserve, error) {
	r := domain.Reserve{
		Symbol:   rj.LiquidityToken.Symbol,
		Decimals: rj.LiquidityToken.Decimals,
	}
	if r.Symbol == "" {
		return r, fmt.Errorf("missing symbol")
	}

	fields := []struct {
		name string
		val  string
		dst  *solana.PublicKey
	}{
		{"address", rj.Address, &r.Address},
		{"liquidityToken.mint", rj.LiquidityToken.Mint, &r.LiquidityMint},
		{"collateralMintAddress", rj.CollateralMintAddress, &r.CollateralMint},
		{"collateralSupplyAddress", rj.CollateralSupplyAddress, &r.CollateralSupply},
		{"liquidityAddress", rj.LiquidityAddress, &r.LiquiditySupply},
		{"liquidityFeeReceiverAddress", rj.LiquidityFeeReceiverAddress, &r.FeeReceiver},
	}
	for _, f := range fields {
		pk, err := solana.PublicKeyFromBase58(f.val)
		if err != nil {
			return r, fmt.Errorf("%s %q: %w", f.name, f.val, err)
		}
		*f.dst = pk
	}

	// Oracles are optional; a reserve may be priced by either one alone.
	if pk, err := solana.PublicKeyFromBase58(rj.PythOracle); err == nil {
		r.PrimaryOracle = pk
	}
	if pk, err := solana.PublicKeyFromBase58(rj.SwitchboardOracle); err == nil {
		r.SecondaryOracle = pk
	}
	return r, nil
}
