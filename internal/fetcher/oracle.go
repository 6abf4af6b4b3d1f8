package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const bundleQuery = `{ bundles(first: 5) { id avaxPrice } }`

// OracleOptions parameterise the reference-price fetcher.
type OracleOptions struct {
	URL     string
	Timeout time.Duration

	Attempts    int
	BackoffUnit time.Duration
}

// GraphOracle queries the exchange subgraph for the native-token USD price.
// Total failure degrades to ErrUnavailable so a cycle never crashes on a
// missing reference price.
type GraphOracle struct {
	opts   OracleOptions
	logger zerolog.Logger
	client *http.Client
}

// NewGraphOracle constructs a reference-price fetcher.
func NewGraphOracle(opts OracleOptions, logger zerolog.Logger) *GraphOracle {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.Attempts <= 0 {
		opts.Attempts = defaultAttempts
	}
	if opts.BackoffUnit <= 0 {
		opts.BackoffUnit = defaultBackoffUnit
	}
	if opts.URL == "" {
		opts.URL = "https://api.thegraph.com/subgraphs/name/traderjoe-xyz/exchange"
	}

	return &GraphOracle{
		opts:   opts,
		logger: logger.With().Str("component", "oracle_fetcher").Logger(),
		client: &http.Client{Timeout: timeout},
	}
}

// ReferencePrice retrieves the current USD price of the native token.
func (o *GraphOracle) ReferencePrice(ctx context.Context) (decimal.Decimal, error) {
	payload, err := o.postQuery(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}

	var result struct {
		Data struct {
			Bundles []struct {
				AvaxPrice string `json:"avaxPrice"`
			} `json:"bundles"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode oracle response: %w", err)
	}
	if len(result.Data.Bundles) == 0 {
		o.logger.Warn().Msg("oracle returned no bundles")
		return decimal.Decimal{}, ErrUnavailable
	}

	price, err := decimal.NewFromString(result.Data.Bundles[0].AvaxPrice)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse reference price: %w", err)
	}
	return price, nil
}

func (o *GraphOracle) postQuery(ctx context.Context) ([]byte, error) {
	body, err := json.Marshal(map[string]string{"query": bundleQuery})
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < o.opts.Attempts; attempt++ {
		payload, status, attemptErr := o.attempt(ctx, body)
		if attemptErr == nil && status == http.StatusOK {
			o.logger.Debug().Msg("got an answer from the oracle")
			return payload, nil
		}

		left := o.opts.Attempts - attempt - 1
		o.logger.Debug().Int("attempts_left", left).Int("status", status).Msg("oracle attempt failed")
		if left == 0 {
			break
		}
		if err := Sleep(ctx, o.opts.BackoffUnit*time.Duration(1+attempt)); err != nil {
			return nil, err
		}
	}

	o.logger.Warn().Str("url", o.opts.URL).Msg("error during oracle request")
	return nil, ErrUnavailable
}

func (o *GraphOracle) attempt(ctx context.Context, body []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.opts.URL, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("oracle status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	return payload, resp.StatusCode, nil
}

var _ ReferencePriceFetcher = (*GraphOracle)(nil)
