package app

import (
	"context"
	"errors"
	"time"
)

// PruneOptions configure audit-trail retention.
type PruneOptions struct {
	OlderThan time.Duration
}

// Prune deletes audit records whose sale time falls outside the retention
// window.
func (a *App) Prune(ctx context.Context, opts PruneOptions) error {
	if opts.OlderThan <= 0 {
		return errors.New("--older-than must be greater than zero")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot prune")
	}
	if closeStore != nil {
		defer closeStore()
	}

	before, err := store.CountSales(ctx)
	if err != nil {
		return err
	}

	cutoff := time.Now().UTC().Add(-opts.OlderThan)
	if err := store.DeleteSalesBefore(ctx, cutoff); err != nil {
		return err
	}

	after, err := store.CountSales(ctx)
	if err != nil {
		return err
	}

	a.Logger.Info().Time("cutoff", cutoff).Int64("deleted", before-after).Int64("kept", after).Msg("audit trail pruned")
	return nil
}
