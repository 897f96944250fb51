package execution

// client.go: resilient execution client.
//
// Client decorates a regular chain-RPC client and a private bundle relay
// behind the same ports.ChainClient surface. Relay calls go through the
// limiter and the circuit breaker; every call gets bounded sequential retries
// with exponential backoff. Which transport serves which call is decided at
// construction, not by overriding methods.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/alejandrodnm/liquidator/internal/domain"
	"github.com/alejandrodnm/liquidator/internal/ports"
)

// blockhashValidityBuffer extends the validity of a relay-served blockhash,
// which may trail the regular endpoint.
const blockhashValidityBuffer = 150

// RetryPolicy bounds the attempts per call.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy tries up to 3 times: 500ms, 1s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}
}

// Delay returns the backoff before the attempt following attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// Config assembles the client.
type Config struct {
	Limiter      LimiterConfig
	Breaker      BreakerConfig
	Retry        RetryPolicy
	PollInterval time.Duration
	TipAccounts  []solana.PublicKey // empty uses DefaultTipAccounts
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Limiter:      DefaultLimiterConfig(),
		Breaker:      DefaultBreakerConfig(),
		Retry:        DefaultRetryPolicy(),
		PollInterval: time.Second,
	}
}

// Client implements ports.ChainClient plus relay bundle operations.
type Client struct {
	rpc     ports.ChainClient
	relay   ports.BundleRelay
	limiter *Limiter
	breaker *Breaker
	retry   RetryPolicy
	poll    time.Duration
	tips    []solana.PublicKey
	clock   Clock
}

var _ ports.ChainClient = (*Client)(nil)

// New wraps rpc and relay. A nil clock uses the wall clock.
func New(cfg Config, rpc ports.ChainClient, relay ports.BundleRelay, clock Clock) *Client {
	if clock == nil {
		clock = SystemClock
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	tips := cfg.TipAccounts
	if len(tips) == 0 {
		tips = DefaultTipAccounts()
	}
	return &Client{
		rpc:     rpc,
		relay:   relay,
		limiter: NewLimiter(cfg.Limiter, clock),
		breaker: NewBreaker(cfg.Breaker, clock),
		retry:   cfg.Retry,
		poll:    cfg.PollInterval,
		tips:    tips,
		clock:   clock,
	}
}

// Limiter exposes the relay budget for reporting.
func (c *Client) Limiter() *Limiter { return c.limiter }

// Breaker exposes the relay breaker for reporting.
func (c *Client) Breaker() *Breaker { return c.breaker }

// call runs fn with sequential retries. Relay calls pass through the breaker
// and then the limiter on every attempt; an open breaker fails before any
// budget is spent. The attempt counter is local to the call.
func (c *Client) call(ctx context.Context, op string, viaRelay bool, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if viaRelay {
			if err := c.breaker.Allow(); err != nil {
				return fmt.Errorf("execution.%s: %w", op, err)
			}
			if err := c.limiter.Acquire(ctx); err != nil {
				c.breaker.Release()
				return fmt.Errorf("execution.%s: rate limiter: %w", op, err)
			}
		}

		err := fn(ctx)
		if viaRelay {
			c.breaker.Record(transportFailure(err))
		}
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) || attempt == c.retry.MaxAttempts {
			break
		}
		delay := c.retry.Delay(attempt)
		slog.Debug("execution: retrying",
			"op", op,
			"attempt", attempt,
			"delay", delay,
			"err", err,
		)
		if err := c.clock.Sleep(ctx, delay); err != nil {
			return fmt.Errorf("execution.%s: %w", op, err)
		}
	}
	return fmt.Errorf("execution.%s: %w", op, lastErr)
}

// retryable reports transient failures: network errors and relay error payloads.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, domain.ErrRPC)
}

// transportFailure filters the outcomes that count against the breaker.
// A missing account or a rejected bundle is an answer, not an outage.
func transportFailure(err error) error {
	if err == nil || !retryable(err) {
		return nil
	}
	return err
}

// GetLatestBlockhash reads from the regular endpoint and falls back to the
// relay, extending the relay hash's validity by blockhashValidityBuffer.
func (c *Client) GetLatestBlockhash(ctx context.Context) (domain.Blockhash, error) {
	var bh domain.Blockhash
	err := c.call(ctx, "GetLatestBlockhash", false, func(ctx context.Context) error {
		var err error
		bh, err = c.rpc.GetLatestBlockhash(ctx)
		return err
	})
	if err == nil {
		return bh, nil
	}

	slog.Warn("execution: regular blockhash failed, falling back to relay", "err", err)
	relayErr := c.call(ctx, "GetLatestBlockhash(relay)", true, func(ctx context.Context) error {
		var err error
		bh, err = c.relay.GetLatestBlockhash(ctx)
		return err
	})
	if relayErr != nil {
		return domain.Blockhash{}, errors.Join(err, relayErr)
	}
	bh.LastValidBlockHeight += blockhashValidityBuffer
	return bh, nil
}

func (c *Client) GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	var out uint64
	err := c.call(ctx, "GetBalance", false, func(ctx context.Context) error {
		var err error
		out, err = c.rpc.GetBalance(ctx, account)
		return err
	})
	return out, err
}

func (c *Client) GetTokenBalance(ctx context.Context, tokenAccount solana.PublicKey) (uint64, error) {
	var out uint64
	err := c.call(ctx, "GetTokenBalance", false, func(ctx context.Context) error {
		var err error
		out, err = c.rpc.GetTokenBalance(ctx, tokenAccount)
		return err
	})
	return out, err
}

func (c *Client) GetAccountInfo(ctx context.Context, account solana.PublicKey) (domain.AccountInfo, error) {
	var out domain.AccountInfo
	err := c.call(ctx, "GetAccountInfo", false, func(ctx context.Context) error {
		var err error
		out, err = c.rpc.GetAccountInfo(ctx, account)
		return err
	})
	return out, err
}

func (c *Client) GetMultipleAccounts(ctx context.Context, accounts []solana.PublicKey) ([]*domain.AccountInfo, error) {
	var out []*domain.AccountInfo
	err := c.call(ctx, "GetMultipleAccounts", false, func(ctx context.Context) error {
		var err error
		out, err = c.rpc.GetMultipleAccounts(ctx, accounts)
		return err
	})
	return out, err
}

func (c *Client) GetProgramAccounts(ctx context.Context, program solana.PublicKey, filter ports.ProgramAccountFilter) ([]domain.AccountInfo, error) {
	var out []domain.AccountInfo
	err := c.call(ctx, "GetProgramAccounts", false, func(ctx context.Context) error {
		var err error
		out, err = c.rpc.GetProgramAccounts(ctx, program, filter)
		return err
	})
	return out, err
}

func (c *Client) SimulateTransaction(ctx context.Context, tx *solana.Transaction) (domain.SimulationResult, error) {
	var out domain.SimulationResult
	err := c.call(ctx, "SimulateTransaction", false, func(ctx context.Context) error {
		var err error
		out, err = c.rpc.SimulateTransaction(ctx, tx)
		return err
	})
	return out, err
}

// SendRawTransaction routes through the relay when it exposes a plain-send
// API, otherwise through the regular endpoint.
func (c *Client) SendRawTransaction(ctx context.Context, raw []byte) (solana.Signature, error) {
	var sig solana.Signature
	if c.relay != nil && c.relay.SupportsPlainSend() {
		err := c.call(ctx, "SendRawTransaction(relay)", true, func(ctx context.Context) error {
			var err error
			sig, err = c.relay.SendTransaction(ctx, raw)
			return err
		})
		return sig, err
	}
	err := c.call(ctx, "SendRawTransaction", false, func(ctx context.Context) error {
		var err error
		sig, err = c.rpc.SendRawTransaction(ctx, raw)
		return err
	})
	return sig, err
}

func (c *Client) GetSignatureStatus(ctx context.Context, sig solana.Signature) (*domain.SignatureStatus, error) {
	var out *domain.SignatureStatus
	err := c.call(ctx, "GetSignatureStatus", false, func(ctx context.Context) error {
		var err error
		out, err = c.rpc.GetSignatureStatus(ctx, sig)
		return err
	})
	return out, err
}

// ConfirmTransaction polls the signature status until it is confirmed, fails
// on chain, or timeout elapses.
func (c *Client) ConfirmTransaction(ctx context.Context, sig solana.Signature, timeout time.Duration) error {
	deadline := c.clock.Now().Add(timeout)
	for {
		status, err := c.GetSignatureStatus(ctx, sig)
		switch {
		case err != nil:
			slog.Debug("execution: signature status failed", "sig", sig, "err", err)
		case status == nil:
		case status.Err != nil:
			return fmt.Errorf("execution.ConfirmTransaction: %s: %w: %v", sig, domain.ErrTransaction, status.Err)
		case status.ConfirmationStatus == "confirmed" || status.ConfirmationStatus == "finalized":
			return nil
		}

		if !c.clock.Now().Before(deadline) {
			return fmt.Errorf("execution.ConfirmTransaction: %s not confirmed after %s: %w", sig, timeout, domain.ErrTimeout)
		}
		if err := c.clock.Sleep(ctx, c.poll); err != nil {
			return fmt.Errorf("execution.ConfirmTransaction: %w", err)
		}
	}
}
