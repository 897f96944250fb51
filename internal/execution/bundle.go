package execution

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/alejandrodnm/liquidator/internal/domain"
)

// Relay tip accounts. Every relay-submitted bundle must pay one of them.
var defaultTipAccounts = []string{
	"96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5",
	"HFqU5x63VTqvQss8hp11i4wVV8bD44PvwucfZ2bU7gRe",
	"Cw8CFyM9FkoMi7K7Crf6HNQqf4uEMzpKw6QNghXLvLkY",
	"ADaUMid9yfUytqMBgopwjb2DTLSokTSzL1zt6iGPaS49",
	"DfXygSm4jCyNCybVYYK6DwvWqjKee8pbDmJGcLWNDXjh",
	"ADuUkR4vqLUMWXxW9gh6D6L8pMSawimctcNZ5pGwDcEt",
	"DttWaMuVvTiduZRnguLF7jNxTgiMBZ1hyAumKUiL2KRL",
	"3AVi9Tg9Uo68tJfuvoKvqKNWKkC5wPdSSdeBnizKZ6jT",
}

// DefaultTipAccounts returns the relay's published tip accounts.
func DefaultTipAccounts() []solana.PublicKey {
	out := make([]solana.PublicKey, len(defaultTipAccounts))
	for i, s := range defaultTipAccounts {
		out[i] = solana.MustPublicKeyFromBase58(s)
	}
	return out
}

// RandomTipAccount picks uniformly from the tip allow-list, spreading write
// locks across the tip accounts.
func (c *Client) RandomTipAccount() solana.PublicKey {
	return c.tips[rand.IntN(len(c.tips))]
}

// IsTipAccount reports whether pk is on the allow-list.
func (c *Client) IsTipAccount(pk solana.PublicKey) bool {
	for _, t := range c.tips {
		if t.Equals(pk) {
			return true
		}
	}
	return false
}

// SendBundle submits up to domain.MaxBundleSize signed transactions as one
// atomic relay unit. Oversized or empty bundles are rejected before any call.
func (c *Client) SendBundle(ctx context.Context, txs [][]byte) (string, error) {
	if len(txs) == 0 || len(txs) > domain.MaxBundleSize {
		return "", fmt.Errorf("execution.SendBundle: %d transactions (max %d): %w",
			len(txs), domain.MaxBundleSize, domain.ErrInvalidBundle)
	}
	var id string
	err := c.call(ctx, "SendBundle", true, func(ctx context.Context) error {
		var err error
		id, err = c.relay.SendBundle(ctx, txs)
		return err
	})
	return id, err
}

// GetBundleStatus returns the relay's view of a bundle.
func (c *Client) GetBundleStatus(ctx context.Context, bundleID string) (domain.BundleState, error) {
	var st domain.BundleState
	err := c.call(ctx, "GetBundleStatus", true, func(ctx context.Context) error {
		var err error
		st, err = c.relay.GetBundleStatus(ctx, bundleID)
		return err
	})
	return st, err
}

// WaitForBundle polls once per poll interval until the bundle lands, fails,
// or timeout elapses. Failed returns domain.ErrBundleFailed, the deadline
// returns domain.ErrTimeout. Giving up does not retract the submission.
func (c *Client) WaitForBundle(ctx context.Context, bundleID string, timeout time.Duration) (domain.BundleState, error) {
	deadline := c.clock.Now().Add(timeout)
	polls := 0
	for {
		st, err := c.GetBundleStatus(ctx, bundleID)
		polls++
		if err != nil {
			slog.Debug("execution: bundle status failed", "bundle", bundleID, "poll", polls, "err", err)
		} else {
			switch st.Status {
			case domain.BundleLanded:
				slog.Debug("execution: bundle landed", "bundle", bundleID, "slot", st.LandedSlot, "polls", polls)
				return st, nil
			case domain.BundleFailed:
				return st, fmt.Errorf("execution.WaitForBundle: %s: %w", bundleID, domain.ErrBundleFailed)
			}
		}

		if !c.clock.Now().Before(deadline) {
			return st, fmt.Errorf("execution.WaitForBundle: %s still %q after %s: %w",
				bundleID, st.Status, timeout, domain.ErrTimeout)
		}
		if err := c.clock.Sleep(ctx, c.poll); err != nil {
			return st, fmt.Errorf("execution.WaitForBundle: %w", err)
		}
	}
}
