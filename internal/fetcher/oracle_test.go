package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func fastOracleOptions(url string) OracleOptions {
	return OracleOptions{
		URL:         url,
		Timeout:     time.Second,
		BackoffUnit: time.Millisecond,
	}
}

func TestReferencePriceSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("oracle query must POST, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"bundles":[{"id":"1","avaxPrice":"24.35"}]}}`)
	}))
	defer srv.Close()

	o := NewGraphOracle(fastOracleOptions(srv.URL), noopLogger())
	price, err := o.ReferencePrice(context.Background())
	if err != nil {
		t.Fatalf("ReferencePrice: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("24.35")) {
		t.Fatalf("expected 24.35, got %s", price)
	}
}

func TestReferencePriceExhaustionIsUnavailable(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	o := NewGraphOracle(fastOracleOptions(srv.URL), noopLogger())
	_, err := o.ReferencePrice(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if requests.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", requests.Load())
	}
}

func TestReferencePriceEmptyBundles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"bundles":[]}}`)
	}))
	defer srv.Close()

	o := NewGraphOracle(fastOracleOptions(srv.URL), noopLogger())
	if _, err := o.ReferencePrice(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on empty bundles, got %v", err)
	}
}
