package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"nft-sale-alerts/internal/config"
	"nft-sale-alerts/internal/dispatch"
	"nft-sale-alerts/internal/fetcher"
	"nft-sale-alerts/internal/ledger"
	"nft-sale-alerts/internal/pipeline"
	"nft-sale-alerts/internal/pricecache"
	"nft-sale-alerts/internal/scheduler"
	"nft-sale-alerts/internal/storage"
)

// MarketplaceClient is the per-cycle upstream session: feed plus item data,
// released at cycle end.
type MarketplaceClient interface {
	fetcher.SalesFeed
	fetcher.ItemDataFetcher
	Close()
}

// ClientFactory opens a fresh marketplace session for one cycle.
type ClientFactory func() MarketplaceClient

// Service orchestrates the sale-detection pipeline: feed fetch, dedup gate,
// enrichment, ordered dispatch, audit, and ledger persistence.
type Service struct {
	scheduler  *scheduler.Scheduler
	newClient  ClientFactory
	oracle     fetcher.ReferencePriceFetcher
	prices     *pricecache.Cache
	dispatcher *dispatch.Dispatcher
	led        *ledger.Ledger
	audit      storage.SaleRecordStore
	logger     zerolog.Logger

	pipelineOpts   pipeline.Options
	ledgerCapacity int
	now            func() time.Time
}

// New constructs the sale monitoring service.
func New(cfg *config.Config, sched *scheduler.Scheduler, newClient ClientFactory, oracle fetcher.ReferencePriceFetcher, prices *pricecache.Cache, dispatcher *dispatch.Dispatcher, led *ledger.Ledger, audit storage.SaleRecordStore, logger zerolog.Logger) *Service {
	return &Service{
		scheduler:  sched,
		newClient:  newClient,
		oracle:     oracle,
		prices:     prices,
		dispatcher: dispatcher,
		led:        led,
		audit:      audit,
		logger:     logger.With().Str("component", "service").Logger(),
		pipelineOpts: pipeline.Options{
			ChunkSize:     cfg.General.ChunkSize,
			ChunkCooldown: cfg.General.ChunkCooldown,
			MaxSaleAge:    cfg.General.OldestSaleToNotify,
		},
		ledgerCapacity: 2 * cfg.General.RecentSalesAmount,
		now:            time.Now,
	}
}

// Run begins the poll loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.RunCycle)
}

// RunCycle executes one poll cycle. Recoverable failures are logged and the
// cycle is abandoned without ledger writes; only fatal conditions (invalid
// credentials) propagate and stop the loop.
func (s *Service) RunCycle(ctx context.Context) error {
	err := s.executeCycle(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fetcher.ErrUnauthorized):
		return err
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return ctx.Err()
	default:
		s.logger.Error().Err(err).Msg("cycle failed horribly, will try to run again soon")
		return nil
	}
}

func (s *Service) executeCycle(ctx context.Context) error {
	client := s.newClient()
	defer client.Close()

	page, err := client.RecentSales(ctx)
	if err != nil {
		return fmt.Errorf("fetch recent sales: %w", err)
	}

	pipe := pipeline.New(client, s.oracle, s.prices, s.pipelineOpts, s.now, s.logger)
	enriched, err := pipe.Enrich(ctx, page, s.led)
	if err != nil {
		return fmt.Errorf("enrich sales: %w", err)
	}
	if len(enriched) == 0 {
		return nil
	}

	results := s.dispatcher.Dispatch(ctx, enriched, s.led)
	s.recordAudit(ctx, results)

	if err := s.led.Persist(s.ledgerCapacity); err != nil {
		return fmt.Errorf("persist ledger: %w", err)
	}

	s.logger.Info().Int("dispatched", len(results)).Msg("cycle complete")
	return nil
}

// recordAudit writes dispatched sales to the optional audit store. Audit
// failures never block dispatch bookkeeping.
func (s *Service) recordAudit(ctx context.Context, results []dispatch.Result) {
	if s.audit == nil {
		return
	}
	for _, res := range results {
		if len(res.Channels) == 0 {
			continue
		}
		record := storage.SaleRecord{
			TxID:        res.Sale.TransactionID(),
			Collection:  res.Sale.Raw.Collection,
			TokenID:     res.Sale.Raw.TokenID,
			Name:        res.Sale.Raw.Name,
			PriceNative: res.Sale.Raw.Price,
			PriceUSD:    res.Sale.PriceUSD(),
			FloorNative: res.Sale.FloorPrice,
			SoldAt:      res.Sale.SoldAt(),
			Channels:    res.Channels,
		}
		if err := s.audit.UpsertSaleRecord(ctx, record); err != nil {
			s.logger.Error().Err(err).Str("tx", record.TxID).Msg("failed to persist sale record")
		}
	}
}
