// Package dispatch orders enriched sales chronologically and fans each one
// out to the registered notification channels.
package dispatch

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"nft-sale-alerts/internal/ledger"
	"nft-sale-alerts/internal/model"
	"nft-sale-alerts/internal/notify"
)

// Result records where a single sale was delivered.
type Result struct {
	Sale     model.EnrichedSale
	Channels []string
}

// Dispatcher delivers sales to all registered channels, best effort.
type Dispatcher struct {
	notifiers []notify.Notifier
	logger    zerolog.Logger
}

// New constructs a dispatcher over a fixed set of channels.
func New(notifiers []notify.Notifier, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		notifiers: notifiers,
		logger:    logger.With().Str("component", "dispatch").Logger(),
	}
}

// Dispatch sends sales oldest-first so subscribers see a chronologically
// coherent stream. Channel failures are logged and isolated; after all
// channels for a sale have been attempted its transaction id is appended to
// the ledger, so one failing channel cannot cause a redelivery storm.
func (d *Dispatcher) Dispatch(ctx context.Context, sales []model.EnrichedSale, led *ledger.Ledger) []Result {
	sorted := append([]model.EnrichedSale(nil), sales...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SortKey() < sorted[j].SortKey()
	})

	results := make([]Result, 0, len(sorted))
	for _, sale := range sorted {
		delivered := make([]string, 0, len(d.notifiers))
		for _, notifier := range d.notifiers {
			if !notifier.ShouldNotify(sale.Raw.Collection, sale.Raw.Price) {
				continue
			}
			d.logger.Info().Str("channel", notifier.Name()).Str("name", sale.Raw.Name).
				Str("tx", sale.TransactionID()).Msg("notifying channel about sale")
			if err := notifier.Notify(ctx, sale); err != nil {
				d.logger.Warn().Err(err).Str("channel", notifier.Name()).
					Str("tx", sale.TransactionID()).Msg("channel delivery failed")
				continue
			}
			delivered = append(delivered, notifier.Name())
		}

		led.Record(sale.TransactionID())
		results = append(results, Result{Sale: sale, Channels: delivered})
	}

	return results
}
