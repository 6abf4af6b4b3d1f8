// Package pricecache keeps a single external reference price warm between
// poll cycles so the oracle is not queried on every run.
package pricecache

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// RefreshFunc fetches a fresh reference price.
type RefreshFunc func(ctx context.Context) (decimal.Decimal, error)

// Cache holds the last known reference price with its refresh timestamp.
// Owned by a single pipeline instance; never mutated concurrently.
type Cache struct {
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger

	value       decimal.Decimal
	lastRefresh time.Time
}

// New constructs a cache. nowFn may be nil, in which case time.Now is used.
func New(ttl time.Duration, nowFn func() time.Time, logger zerolog.Logger) *Cache {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Cache{
		ttl:    ttl,
		now:    nowFn,
		logger: logger.With().Str("component", "price_cache").Logger(),
	}
}

// Get returns the cached value when it is still within the TTL, otherwise it
// invokes refresh. A failed refresh keeps both the old value and the old
// timestamp, so the next cycle retries instead of waiting a full TTL.
func (c *Cache) Get(ctx context.Context, refresh RefreshFunc) decimal.Decimal {
	age := c.now().Sub(c.lastRefresh)
	if !c.lastRefresh.IsZero() && age <= c.ttl {
		return c.value
	}

	fresh, err := refresh(ctx)
	if err != nil || fresh.IsZero() {
		c.logger.Warn().Err(err).Msg("reference price refresh failed, keeping previous value")
		return c.value
	}

	c.value = fresh
	c.lastRefresh = c.now()
	c.logger.Debug().Str("price", fresh.String()).Msg("reference price refreshed")
	return c.value
}

// Value returns the current snapshot without triggering a refresh.
func (c *Cache) Value() decimal.Decimal {
	return c.value
}
