package fetcher

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"nft-sale-alerts/internal/model"
)

var (
	// ErrUnauthorized signals invalid or missing marketplace credentials.
	// It cannot self-heal and must terminate the process.
	ErrUnauthorized = errors.New("fetcher: invalid or missing api key")

	// ErrUnavailable signals that the retry budget was exhausted. Callers
	// must treat the result as unknown and retry next cycle, not as zero.
	ErrUnavailable = errors.New("fetcher: no result after retries")
)

// SalesFeed retrieves the most recent sales page from the marketplace.
type SalesFeed interface {
	RecentSales(ctx context.Context) ([]model.RawSale, error)
}

// ItemDataFetcher retrieves per-item enrichment data.
type ItemDataFetcher interface {
	SaleHistory(ctx context.Context, collection, tokenID string) ([]model.SaleEntry, error)
	FloorPrice(ctx context.Context, collection string) (decimal.Decimal, error)
}

// ReferencePriceFetcher retrieves the USD reference price for the native token.
type ReferencePriceFetcher interface {
	ReferencePrice(ctx context.Context) (decimal.Decimal, error)
}

// Sleep waits without blocking the worker; it returns early when ctx is done.
// Shared by the retry loops and the enrichment pipeline's chunk cooldown.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
