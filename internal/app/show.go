package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints recent dispatched sales from the audit trail.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show sales")
	}
	if closeStore != nil {
		defer closeStore()
	}

	records, err := store.ListRecentSales(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no dispatched sales found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Sold (UTC)\tCollection\tToken\tName\tPrice\tUSD\tFloor\tChannels")

	for _, rec := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.SoldAt.UTC().Format(time.RFC3339),
			rec.Collection,
			rec.TokenID,
			sanitizeInline(rec.Name),
			rec.PriceNative.StringFixed(2),
			rec.PriceUSD.StringFixed(2),
			rec.FloorNative.StringFixed(2),
			strings.Join(rec.Channels, ","),
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
