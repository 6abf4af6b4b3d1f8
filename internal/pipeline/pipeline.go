// Package pipeline turns a raw feed page into enriched sales ready for
// dispatch: it gates on the dedup ledger, fans candidates out in bounded
// concurrent chunks, and filters out stale or unverifiable history.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"nft-sale-alerts/internal/fetcher"
	"nft-sale-alerts/internal/ledger"
	"nft-sale-alerts/internal/model"
	"nft-sale-alerts/internal/pricecache"
)

// Options tune pipeline behaviour.
type Options struct {
	// ChunkSize caps candidates enriched concurrently; each candidate issues
	// two requests, so outbound load is bounded by 2×ChunkSize.
	ChunkSize int
	// ChunkCooldown is the pause between consecutive chunks.
	ChunkCooldown time.Duration
	// MaxSaleAge drops candidates whose most recent history entry is older.
	// Guards against indexer lag surfacing stale "last sold for" data.
	MaxSaleAge time.Duration
}

// Pipeline enriches new sales with history, floor, and reference price.
type Pipeline struct {
	items  fetcher.ItemDataFetcher
	oracle fetcher.ReferencePriceFetcher
	prices *pricecache.Cache
	opts   Options
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	logger zerolog.Logger
}

// New constructs a pipeline. nowFn may be nil, in which case time.Now is used.
func New(items fetcher.ItemDataFetcher, oracle fetcher.ReferencePriceFetcher, prices *pricecache.Cache, opts Options, nowFn func() time.Time, logger zerolog.Logger) *Pipeline {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 15
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Pipeline{
		items:  items,
		oracle: oracle,
		prices: prices,
		opts:   opts,
		now:    nowFn,
		sleep:  fetcher.Sleep,
		logger: logger.With().Str("component", "pipeline").Logger(),
	}
}

// Enrich processes one feed page against the ledger. It returns nil without
// issuing any upstream call when the head of the feed is already known: the
// feed is a monotonically ordered recent-activity window, so a known head
// means nothing new exists. Errors are returned only for fatal conditions.
func (p *Pipeline) Enrich(ctx context.Context, page []model.RawSale, led *ledger.Ledger) ([]model.EnrichedSale, error) {
	if len(page) == 0 {
		p.logger.Debug().Msg("empty feed page")
		return nil, nil
	}
	if !led.IsNew(page[0].ID) {
		p.logger.Debug().Msg("new sales were not found")
		return nil, nil
	}
	p.logger.Debug().Msg("new sales were found")

	candidates := make([]model.RawSale, 0, len(page))
	for _, raw := range page {
		if !led.IsNew(raw.ID) {
			continue
		}
		if raw.Verification == model.VerificationBlocklisted {
			p.logger.Debug().Str("collection", raw.Collection).Msg("skipping blocklisted collection")
			continue
		}
		candidates = append(candidates, raw)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	refPrice := p.prices.Get(ctx, p.oracle.ReferencePrice)

	enriched := make([]model.EnrichedSale, 0, len(candidates))
	chunks := chunkBy(candidates, p.opts.ChunkSize)
	if len(chunks) > 1 {
		p.logger.Debug().Int("chunks", len(chunks)).Int("chunk_size", p.opts.ChunkSize).
			Msg("splitting enrichment into chunks to respect upstream rate limits")
	}

	for i, chunk := range chunks {
		if i > 0 {
			p.logger.Debug().Msg("waiting between chunks to avoid rate limiting")
			if err := p.sleep(ctx, p.opts.ChunkCooldown); err != nil {
				return nil, err
			}
		}

		results := make([]*model.EnrichedSale, len(chunk))
		errs := make([]error, len(chunk))

		var wg sync.WaitGroup
		for j, cand := range chunk {
			wg.Add(1)
			go func(j int, cand model.RawSale) {
				defer wg.Done()
				results[j], errs[j] = p.enrichOne(ctx, cand, refPrice)
			}(j, cand)
		}
		wg.Wait()

		for j := range chunk {
			if errs[j] != nil {
				return nil, errs[j]
			}
			if results[j] != nil {
				enriched = append(enriched, *results[j])
			}
		}
	}

	return enriched, nil
}

// enrichOne fetches history and floor concurrently for one candidate. A nil
// sale with a nil error means the candidate was dropped for this cycle; it
// stays un-ledgered and is retried implicitly on the next run.
func (p *Pipeline) enrichOne(ctx context.Context, raw model.RawSale, refPrice decimal.Decimal) (*model.EnrichedSale, error) {
	var (
		history []model.SaleEntry
		histErr error
		floor   decimal.Decimal
		florErr error
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		history, histErr = p.items.SaleHistory(ctx, raw.Collection, raw.TokenID)
	}()
	go func() {
		defer wg.Done()
		floor, florErr = p.items.FloorPrice(ctx, raw.Collection)
	}()
	wg.Wait()

	if errors.Is(histErr, fetcher.ErrUnauthorized) || errors.Is(florErr, fetcher.ErrUnauthorized) {
		return nil, fetcher.ErrUnauthorized
	}

	if histErr != nil || len(history) == 0 {
		p.logger.Warn().Str("collection", raw.Collection).Str("token_id", raw.TokenID).
			Msg("sale history unavailable, will try again later")
		return nil, nil
	}

	age := p.now().Sub(time.Unix(history[0].Timestamp, 0))
	if age > p.opts.MaxSaleAge {
		p.logger.Debug().Str("collection", raw.Collection).Str("token_id", raw.TokenID).
			Dur("age", age).Msg("last sale too old, will try again later")
		return nil, nil
	}

	if florErr != nil {
		// Floor is display-only; a missing floor must not hold the sale back.
		p.logger.Warn().Str("collection", raw.Collection).Msg("floor price unavailable, using 0")
		floor = decimal.Decimal{}
	}

	return &model.EnrichedSale{
		Raw:            raw,
		FloorPrice:     floor,
		LastSales:      history,
		ReferencePrice: refPrice,
	}, nil
}

func chunkBy(sales []model.RawSale, size int) [][]model.RawSale {
	chunks := make([][]model.RawSale, 0, (len(sales)+size-1)/size)
	for start := 0; start < len(sales); start += size {
		end := start + size
		if end > len(sales) {
			end = len(sales)
		}
		chunks = append(chunks, sales[start:end])
	}
	return chunks
}
