package ports

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/alejandrodnm/liquidator/internal/domain"
)

// BundleRelay is a private transaction relay that accepts atomic bundles.
type BundleRelay interface {
	SendBundle(ctx context.Context, txs [][]byte) (string, error)

	// GetBundleStatus returns domain.BundleUnknown when the relay has not seen the bundle.
	GetBundleStatus(ctx context.Context, bundleID string) (domain.BundleState, error)

	// SendTransaction submits a single transaction through the relay's plain-send API.
	SendTransaction(ctx context.Context, raw []byte) (solana.Signature, error)

	// SupportsPlainSend reports whether SendTransaction is available.
	SupportsPlainSend() bool

	GetLatestBlockhash(ctx context.Context) (domain.Blockhash, error)
}
