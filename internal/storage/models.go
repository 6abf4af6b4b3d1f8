package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// SaleRecord captures one dispatched sale notification for auditing.
type SaleRecord struct {
	ID          int64
	TxID        string
	Collection  string
	TokenID     string
	Name        string
	PriceNative decimal.Decimal
	PriceUSD    decimal.Decimal
	FloorNative decimal.Decimal
	SoldAt      time.Time
	Channels    []string
	CreatedAt   time.Time
}
