package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/liquidator/internal/domain"
)

// AttemptStore persists liquidation attempts and per-epoch summaries.
type AttemptStore interface {
	SaveAttempt(ctx context.Context, attempt domain.LiquidationAttempt) error

	// RecentAttempts returns attempts started in [from, to], newest first.
	RecentAttempts(ctx context.Context, from, to time.Time) ([]domain.LiquidationAttempt, error)

	SaveEpoch(ctx context.Context, summary domain.EpochSummary) error

	Close() error
}
