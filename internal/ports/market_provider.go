package ports

import (
	"context"

	"github.com/alejandrodnm/liquidator/internal/domain"
)

// MarketProvider fetches lending-market metadata from the config service.
type MarketProvider interface {
	// FetchMarkets returns every market with its static reserve metadata.
	// Reserve Config and State are left zero; they come from chain.
	FetchMarkets(ctx context.Context) ([]domain.Market, error)
}
