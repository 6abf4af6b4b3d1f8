package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"nft-sale-alerts/internal/model"
)

const (
	maxFeedPageSize = 100

	defaultAttempts      = 3
	defaultRateLimitWait = 15 * time.Second
	defaultBackoffUnit   = time.Second
)

var dec1e18 = decimal.NewFromInt(1_000_000_000_000_000_000)

// MarketplaceOptions parameterise the marketplace client.
type MarketplaceOptions struct {
	BaseURL   string
	APIKey    string
	Chain     string
	PageSize  int
	Timeout   time.Duration
	UserAgent string

	// Attempts, RateLimitWait, and BackoffUnit override the retry policy.
	// Zero values keep the defaults (3 attempts, 15s, 1s).
	Attempts      int
	RateLimitWait time.Duration
	BackoffUnit   time.Duration
}

// Marketplace fetches the sales feed, per-item history, and floor prices.
// The underlying connection pool is shared across concurrent calls within a
// cycle and released via Close.
type Marketplace struct {
	opts    MarketplaceOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewMarketplace constructs a marketplace client.
func NewMarketplace(opts MarketplaceOptions, logger zerolog.Logger) *Marketplace {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.Attempts <= 0 {
		opts.Attempts = defaultAttempts
	}
	if opts.RateLimitWait <= 0 {
		opts.RateLimitWait = defaultRateLimitWait
	}
	if opts.BackoffUnit <= 0 {
		opts.BackoffUnit = defaultBackoffUnit
	}
	if opts.Chain == "" {
		opts.Chain = "avalanche"
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.joepegs.dev/v3"
	}

	return &Marketplace{
		opts:    opts,
		logger:  logger.With().Str("component", "marketplace_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Close releases idle connections held by the client.
func (m *Marketplace) Close() {
	m.client.CloseIdleConnections()
	m.logger.Debug().Msg("marketplace client closed")
}

// RecentSales retrieves the most recent sales page, newest first.
func (m *Marketplace) RecentSales(ctx context.Context) ([]model.RawSale, error) {
	pageSize := m.opts.PageSize
	if pageSize <= 0 || pageSize > maxFeedPageSize {
		return nil, fmt.Errorf("feed page size %d out of range (1..%d)", pageSize, maxFeedPageSize)
	}

	url := fmt.Sprintf("%s/items?pageSize=%d&chains=%s&pageNum=1&orderBy=recent_sale", m.baseURL, pageSize, m.opts.Chain)
	payload, err := m.getJSON(ctx, url)
	if err != nil {
		return nil, err
	}

	var items []feedItem
	if err := json.Unmarshal(payload, &items); err != nil {
		return nil, fmt.Errorf("decode sales feed: %w", err)
	}

	sales := make([]model.RawSale, 0, len(items))
	for _, item := range items {
		sales = append(sales, item.toRawSale(m.logger))
	}
	return sales, nil
}

// SaleHistory retrieves the most recent prior sales of an item, newest first.
func (m *Marketplace) SaleHistory(ctx context.Context, collection, tokenID string) ([]model.SaleEntry, error) {
	url := fmt.Sprintf("%s/activities/%s/%s/tokens/%s?pageSize=2&pageNum=1&filters=sale", m.baseURL, m.opts.Chain, collection, tokenID)
	payload, err := m.getJSON(ctx, url)
	if err != nil {
		return nil, err
	}

	var activities []activityItem
	if err := json.Unmarshal(payload, &activities); err != nil {
		return nil, fmt.Errorf("decode sale history: %w", err)
	}

	entries := make([]model.SaleEntry, 0, len(activities))
	for _, act := range activities {
		entries = append(entries, model.SaleEntry{
			Timestamp: act.Timestamp,
			Price:     parseAtoms(act.Price, m.logger),
		})
	}
	return entries, nil
}

// FloorPrice retrieves the collection floor, converted from 1e18 fixed point.
func (m *Marketplace) FloorPrice(ctx context.Context, collection string) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/collections/%s/%s", m.baseURL, m.opts.Chain, collection)
	payload, err := m.getJSON(ctx, url)
	if err != nil {
		return decimal.Decimal{}, err
	}

	var coll struct {
		Floor json.Number `json:"floor"`
	}
	if err := json.Unmarshal(payload, &coll); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode collection: %w", err)
	}

	floor := parseAtoms(coll.Floor.String(), m.logger)
	if floor.IsZero() {
		m.logger.Warn().Str("collection", collection).Msg("returning floor price = 0")
	}
	return floor, nil
}

// attemptOutcome is the discriminated result of a single request attempt:
// either a parsed payload or the status code that rejected it.
type attemptOutcome struct {
	payload []byte
	status  int
}

func (o attemptOutcome) success() bool {
	return o.status == http.StatusOK
}

// getJSON issues a GET with the configured retry policy. A 401 aborts
// immediately with ErrUnauthorized, a 429 suspends for the rate-limit
// cooldown, any other failure backs off 1+attempt units. Exhaustion yields
// ErrUnavailable rather than the last transport error.
func (m *Marketplace) getJSON(ctx context.Context, url string) ([]byte, error) {
	for attempt := 0; attempt < m.opts.Attempts; attempt++ {
		out, err := m.attempt(ctx, url)
		if err == nil && out.success() {
			m.logger.Debug().Str("url", url).Msg("url ok")
			return out.payload, nil
		}
		if out.status == http.StatusUnauthorized {
			m.logger.Error().Str("url", url).Msg("invalid or missing api key")
			return nil, ErrUnauthorized
		}

		left := m.opts.Attempts - attempt - 1
		event := m.logger.Debug().Str("url", url).Int("attempts_left", left)
		if err != nil {
			event = event.Err(err)
		} else {
			event = event.Int("status", out.status)
		}
		event.Msg("request attempt failed")

		if left == 0 {
			break
		}

		wait := m.opts.BackoffUnit * time.Duration(1+attempt)
		if out.status == http.StatusTooManyRequests {
			m.logger.Warn().Str("url", url).Msg("api rate limit exceeded, waiting")
			wait = m.opts.RateLimitWait
		}
		if err := Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	m.logger.Warn().Str("url", url).Msg("error during request, giving up until next cycle")
	return nil, ErrUnavailable
}

func (m *Marketplace) attempt(ctx context.Context, url string) (attemptOutcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return attemptOutcome{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-joepegs-api-key", m.opts.APIKey)
	if ua := strings.TrimSpace(m.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return attemptOutcome{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return attemptOutcome{status: resp.StatusCode}, err
	}
	return attemptOutcome{payload: payload, status: resp.StatusCode}, nil
}

type feedItem struct {
	ID           string      `json:"id"`
	Collection   string      `json:"collection"`
	TokenID      json.Number `json:"tokenId"`
	Name         string      `json:"name"`
	Image        string      `json:"image"`
	Price        string      `json:"price"`
	Timestamp    int64       `json:"timestamp"`
	Verification string      `json:"verified"`
}

func (f feedItem) toRawSale(logger zerolog.Logger) model.RawSale {
	return model.RawSale{
		ID:           f.ID,
		Collection:   strings.ToLower(f.Collection),
		TokenID:      f.TokenID.String(),
		Name:         f.Name,
		ImageURL:     f.Image,
		Price:        parseAtoms(f.Price, logger),
		Timestamp:    f.Timestamp,
		Verification: f.Verification,
	}
}

type activityItem struct {
	Timestamp int64  `json:"timestamp"`
	Price     string `json:"price"`
}

// parseAtoms converts a raw 1e18 fixed-point amount into a decimal price,
// rounded to 2 places. Unparseable input yields zero.
func parseAtoms(raw string, logger zerolog.Logger) decimal.Decimal {
	if raw == "" {
		return decimal.Decimal{}
	}
	atoms, err := decimal.NewFromString(raw)
	if err != nil {
		logger.Warn().Str("raw", raw).Msg("unparseable fixed-point amount, using 0")
		return decimal.Decimal{}
	}
	return atoms.Div(dec1e18).Round(2)
}

var _ SalesFeed = (*Marketplace)(nil)
var _ ItemDataFetcher = (*Marketplace)(nil)
