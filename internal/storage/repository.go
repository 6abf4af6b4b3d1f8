package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertSaleRecordSQL = `INSERT INTO sale_records (
        tx_id,
        collection,
        token_id,
        name,
        price_native,
        price_usd,
        floor_native,
        sold_at,
        channels
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    ON CONFLICT (tx_id) DO UPDATE
    SET
        price_native = EXCLUDED.price_native,
        price_usd    = EXCLUDED.price_usd,
        floor_native = EXCLUDED.floor_native,
        channels     = EXCLUDED.channels;`

	listSalesBetweenSQL = `SELECT
        id,
        tx_id,
        collection,
        token_id,
        name,
        price_native,
        price_usd,
        floor_native,
        sold_at,
        channels,
        created_at
    FROM sale_records
    WHERE sold_at >= $1
      AND sold_at < $2
    ORDER BY sold_at;`

	listRecentSalesSQL = `SELECT
        id,
        tx_id,
        collection,
        token_id,
        name,
        price_native,
        price_usd,
        floor_native,
        sold_at,
        channels,
        created_at
    FROM sale_records
    ORDER BY sold_at DESC
    LIMIT $1;`

	countSalesSQL = `SELECT COUNT(*) FROM sale_records;`

	deleteSalesBeforeSQL = `DELETE FROM sale_records WHERE sold_at < $1;`
)

// SaleRecordStore defines operations for the dispatched-sale audit trail.
type SaleRecordStore interface {
	UpsertSaleRecord(ctx context.Context, record SaleRecord) error
	ListSalesBetween(ctx context.Context, from, to time.Time) ([]SaleRecord, error)
	ListRecentSales(ctx context.Context, limit int) ([]SaleRecord, error)
	CountSales(ctx context.Context) (int64, error)
	DeleteSalesBefore(ctx context.Context, olderThan time.Time) error
}

// Store aggregates access to dispatched sale records.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertSaleRecord persists or updates an audit record keyed by tx id.
func (s *Store) UpsertSaleRecord(ctx context.Context, record SaleRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertSaleRecordSQL,
		record.TxID,
		record.Collection,
		record.TokenID,
		record.Name,
		record.PriceNative.String(),
		record.PriceUSD.String(),
		record.FloorNative.String(),
		record.SoldAt,
		record.Channels,
	)
	if execErr != nil {
		return fmt.Errorf("upsert sale record: %w", execErr)
	}
	return nil
}

// ListSalesBetween lists records within a sale-time window.
func (s *Store) ListSalesBetween(ctx context.Context, from, to time.Time) ([]SaleRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSalesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list sales between: %w", queryErr)
	}
	defer rows.Close()

	return collectSaleRecords(rows, 0)
}

// ListRecentSales lists the most recent records ordered by descending sale time.
func (s *Store) ListRecentSales(ctx context.Context, limit int) ([]SaleRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSalesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent sales: %w", queryErr)
	}
	defer rows.Close()

	return collectSaleRecords(rows, limit)
}

// CountSales counts stored records.
func (s *Store) CountSales(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSalesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count sales: %w", scanErr)
	}
	return count, nil
}

// DeleteSalesBefore deletes historical records.
func (s *Store) DeleteSalesBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteSalesBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete sales before: %w", execErr)
	}
	return nil
}

func collectSaleRecords(rows pgx.Rows, capacity int) ([]SaleRecord, error) {
	records := make([]SaleRecord, 0, capacity)
	for rows.Next() {
		record, scanErr := scanSaleRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, record)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanSaleRecord(rows pgx.Rows) (SaleRecord, error) {
	var (
		rec      SaleRecord
		priceStr string
		usdStr   string
		floorStr string
	)

	if err := rows.Scan(
		&rec.ID,
		&rec.TxID,
		&rec.Collection,
		&rec.TokenID,
		&rec.Name,
		&priceStr,
		&usdStr,
		&floorStr,
		&rec.SoldAt,
		&rec.Channels,
		&rec.CreatedAt,
	); err != nil {
		return SaleRecord{}, err
	}

	var err error
	rec.PriceNative, err = decimal.NewFromString(priceStr)
	if err != nil {
		return SaleRecord{}, fmt.Errorf("parse price: %w", err)
	}
	rec.PriceUSD, err = decimal.NewFromString(usdStr)
	if err != nil {
		return SaleRecord{}, fmt.Errorf("parse usd price: %w", err)
	}
	rec.FloorNative, err = decimal.NewFromString(floorStr)
	if err != nil {
		return SaleRecord{}, fmt.Errorf("parse floor: %w", err)
	}

	return rec, nil
}

var _ SaleRecordStore = (*Store)(nil)
