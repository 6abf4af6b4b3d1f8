package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// VerificationBlocklisted marks collections that must never be announced.
const VerificationBlocklisted = "blocklisted"

// RawSale is one entry of the recent-sales feed page. Immutable; lives for a
// single poll cycle.
type RawSale struct {
	ID           string
	Collection   string
	TokenID      string
	Name         string
	ImageURL     string
	Price        decimal.Decimal
	Timestamp    int64
	Verification string
}

// SaleEntry is one historical sale observation for an item, as returned by the
// activity endpoint (index 0 = most recent).
type SaleEntry struct {
	Timestamp int64
	Price     decimal.Decimal
}

// EnrichedSale is a candidate that survived enrichment. Immutable once built;
// consumed by the dispatcher and by notification channels.
type EnrichedSale struct {
	Raw            RawSale
	FloorPrice     decimal.Decimal
	LastSales      []SaleEntry
	ReferencePrice decimal.Decimal
}

// TransactionID returns the dedup key for the sale.
func (s EnrichedSale) TransactionID() string {
	return s.Raw.ID
}

// SortKey orders sales oldest-first for dispatch.
func (s EnrichedSale) SortKey() int64 {
	return s.Raw.Timestamp
}

// SoldAt returns the feed timestamp as a time value.
func (s EnrichedSale) SoldAt() time.Time {
	return time.Unix(s.Raw.Timestamp, 0).UTC()
}

// PriceUSD converts the native sale price using the reference-price snapshot.
// Zero when no reference price was available this cycle.
func (s EnrichedSale) PriceUSD() decimal.Decimal {
	return s.Raw.Price.Mul(s.ReferencePrice)
}

// LastSoldFor reports the most recent prior sale price, if any history exists.
func (s EnrichedSale) LastSoldFor() (decimal.Decimal, bool) {
	if len(s.LastSales) == 0 {
		return decimal.Decimal{}, false
	}
	return s.LastSales[0].Price, true
}
