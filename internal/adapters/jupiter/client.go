package jupiter

// client.go: DEX aggregator HTTP client.
//
// Quotes come from GET /quote, executable instructions from POST
// /swap-instructions. The quote response is kept verbatim and echoed back,
// the aggregator signs its own route data. A missing route is domain.ErrSwap,
// an expired request deadline is domain.ErrTimeout.

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/time/rate"

	"github.com/alejandrodnm/liquidator/internal/domain"
	"github.com/alejandrodnm/liquidator/internal/ports"
)

// DefaultBaseURL is the public v6 API.
const DefaultBaseURL = "https://quote-api.jup.ag/v6"

const (
	// Public tier: 60 requests per minute.
	ratePerSec = 1
	rateBurst  = 5

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Client implements ports.SwapRouter.
type Client struct {
	http    *http.Client
	base    string
	limiter *rate.Limiter
	wait    time.Duration
}

var _ ports.SwapRouter = (*Client)(nil)

// NewClient creates a client for baseURL (DefaultBaseURL when empty).
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http:    &http.Client{Timeout: 10 * time.Second},
		base:    baseURL,
		limiter: rate.NewLimiter(ratePerSec, rateBurst),
		wait:    baseRetryWait,
	}
}

// WithRetryWait overrides the base backoff between retries.
func (c *Client) WithRetryWait(d time.Duration) *Client {
	c.wait = d
	return c
}

type quoteJSON struct {
	InputMint            string `json:"inputMint"`
	OutputMint           string `json:"outputMint"`
	InAmount             string `json:"inAmount"`
	OutAmount            string `json:"outAmount"`
	OtherAmountThreshold string `json:"otherAmountThreshold"`
	PriceImpactPct       string `json:"priceImpactPct"`
}

type apiError struct {
	Error     string `json:"error"`
	ErrorCode string `json:"errorCode"`
}

// Quote asks for the best route for req.
func (c *Client) Quote(ctx context.Context, req ports.QuoteRequest) (ports.Quote, error) {
	mode := req.Mode
	if mode == "" {
		mode = ports.SwapExactIn
	}
	q := url.Values{}
	q.Set("inputMint", req.InputMint.String())
	q.Set("outputMint", req.OutputMint.String())
	q.Set("amount", strconv.FormatUint(req.Amount, 10))
	q.Set("swapMode", string(mode))
	q.Set("slippageBps", strconv.Itoa(int(req.SlippageBps)))

	raw, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/quote?"+q.Encode(), nil)
	})
	if err != nil {
		return ports.Quote{}, fmt.Errorf("jupiter.Quote: %s -> %s: %w", req.InputMint, req.OutputMint, err)
	}

	var qj quoteJSON
	if err := json.Unmarshal(raw, &qj); err != nil {
		return ports.Quote{}, fmt.Errorf("jupiter.Quote: decode: %w", err)
	}
	out := ports.Quote{
		InputMint:  req.InputMint,
		OutputMint: req.OutputMint,
		Raw:        raw,
	}
	if out.InAmount, err = strconv.ParseUint(qj.InAmount, 10, 64); err != nil {
		return ports.Quote{}, fmt.Errorf("jupiter.Quote: inAmount %q: %w", qj.InAmount, err)
	}
	if out.OutAmount, err = strconv.ParseUint(qj.OutAmount, 10, 64); err != nil {
		return ports.Quote{}, fmt.Errorf("jupiter.Quote: outAmount %q: %w", qj.OutAmount, err)
	}
	out.OtherAmount, _ = strconv.ParseUint(qj.OtherAmountThreshold, 10, 64)
	out.PriceImpactPct, _ = strconv.ParseFloat(qj.PriceImpactPct, 64)
	return out, nil
}

type accountJSON struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"isSigner"`
	IsWritable bool   `json:"isWritable"`
}

type instructionJSON struct {
	ProgramID string        `json:"programId"`
	Accounts  []accountJSON `json:"accounts"`
	Data      string        `json:"data"`
}

type swapInstructionsJSON struct {
	SetupInstructions           []instructionJSON `json:"setupInstructions"`
	SwapInstruction             *instructionJSON  `json:"swapInstruction"`
	CleanupInstruction          *instructionJSON  `json:"cleanupInstruction"`
	AddressLookupTableAddresses []string          `json:"addressLookupTableAddresses"`
}

// SwapInstructions returns the instructions executing quote for user. The
// aggregator's own compute-budget instructions are dropped: the caller sets
// the transaction budget.
func (c *Client) SwapInstructions(ctx context.Context, quote ports.Quote, user solana.PublicKey) (ports.SwapInstructions, error) {
	body, err := json.Marshal(map[string]any{
		"quoteResponse":    json.RawMessage(quote.Raw),
		"userPublicKey":    user.String(),
		"wrapAndUnwrapSol": false,
	})
	if err != nil {
		return ports.SwapInstructions{}, fmt.Errorf("jupiter.SwapInstructions: marshal: %w", err)
	}

	raw, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/swap-instructions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return ports.SwapInstructions{}, fmt.Errorf("jupiter.SwapInstructions: %w", err)
	}

	var sj swapInstructionsJSON
	if err := json.Unmarshal(raw, &sj); err != nil {
		return ports.SwapInstructions{}, fmt.Errorf("jupiter.SwapInstructions: decode: %w", err)
	}
	if sj.SwapInstruction == nil {
		return ports.SwapInstructions{}, fmt.Errorf("jupiter.SwapInstructions: %w: no swap instruction", domain.ErrSwap)
	}

	var out ports.SwapInstructions
	for _, ij := range sj.SetupInstructions {
		ix, err := toInstruction(ij)
		if err != nil {
			return ports.SwapInstructions{}, fmt.Errorf("jupiter.SwapInstructions: setup: %w", err)
		}
		out.Setup = append(out.Setup, ix)
	}
	if out.Swap, err = toInstruction(*sj.SwapInstruction); err != nil {
		return ports.SwapInstructions{}, fmt.Errorf("jupiter.SwapInstructions: swap: %w", err)
	}
	if sj.CleanupInstruction != nil {
		ix, err := toInstruction(*sj.CleanupInstruction)
		if err != nil {
			return ports.SwapInstructions{}, fmt.Errorf("jupiter.SwapInstructions: cleanup: %w", err)
		}
		out.Cleanup = append(out.Cleanup, ix)
	}
	for _, s := range sj.AddressLookupTableAddresses {
		pk, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			return ports.SwapInstructions{}, fmt.Errorf("jupiter.SwapInstructions: lookup table %q: %w", s, err)
		}
		out.LookupTables = append(out.LookupTables, pk)
	}
	return out, nil
}

func toInstruction(ij instructionJSON) (solana.Instruction, error) {
	program, err := solana.PublicKeyFromBase58(ij.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("program id %q: %w", ij.ProgramID, err)
	}
	accounts := make(solana.AccountMetaSlice, 0, len(ij.Accounts))
	for _, a := range ij.Accounts {
		pk, err := solana.PublicKeyFromBase58(a.Pubkey)
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", a.Pubkey, err)
		}
		accounts = append(accounts, solana.NewAccountMeta(pk, a.IsWritable, a.IsSigner))
	}
	data, err := base64.StdEncoding.DecodeString(ij.Data)
	if err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}
	return solana.NewInstruction(program, accounts, data), nil
}

// doWithRetry runs the request with rate limiting and exponential backoff on
// 429/5xx. A 4xx carrying a route error becomes domain.ErrSwap.
func (c *Client) doWithRetry(ctx context.Context, build func() (*http.Request, error)) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, deadline(ctx, fmt.Errorf("rate limiter: %w", err))
		}
		req, err := build()
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, deadline(ctx, err)
			}
			lastErr = err
			c.sleep(ctx, attempt)
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			c.sleep(ctx, attempt)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			slog.Warn("jupiter: rate limited", "attempt", attempt+1)
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			c.sleep(ctx, attempt)
			continue
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error %d", resp.StatusCode)
			c.sleep(ctx, attempt)
			continue
		case resp.StatusCode >= 400:
			var ae apiError
			_ = json.Unmarshal(body, &ae)
			if ae.ErrorCode != "" || ae.Error != "" {
				return nil, fmt.Errorf("%w: %s %s", domain.ErrSwap, ae.ErrorCode, ae.Error)
			}
			return nil, fmt.Errorf("%w: client error %d: %s", domain.ErrSwap, resp.StatusCode, string(body))
		}
		return body, nil
	}
	return nil, fmt.Errorf("%w: exhausted %d retries: %w", domain.ErrSwap, maxRetries, lastErr)
}

// deadline tags an expired context as domain.ErrTimeout.
func deadline(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	return err
}

func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * c.wait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
