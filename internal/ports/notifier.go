package ports

import (
	"context"

	"github.com/alejandrodnm/liquidator/internal/metrics"
)

// Reporter presents the running totals at the end of each epoch.
type Reporter interface {
	Report(ctx context.Context, epoch int, snap metrics.Snapshot) error
}
