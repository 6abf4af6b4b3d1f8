package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"nft-sale-alerts/internal/fetcher"
	"nft-sale-alerts/internal/ledger"
	"nft-sale-alerts/internal/model"
	"nft-sale-alerts/internal/pricecache"
)

var testNow = time.Unix(1_700_001_000, 0)

type fakeItems struct {
	mu      sync.Mutex
	history map[string][]model.SaleEntry
	histErr map[string]error

	calls       atomic.Int64
	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

func (f *fakeItems) track() func() {
	cur := f.inFlight.Add(1)
	for {
		max := f.maxInFlight.Load()
		if cur <= max || f.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}
	return func() { f.inFlight.Add(-1) }
}

func (f *fakeItems) SaleHistory(ctx context.Context, collection, tokenID string) ([]model.SaleEntry, error) {
	defer f.track()()
	f.calls.Add(1)

	f.mu.Lock()
	defer f.mu.Unlock()
	key := collection + "/" + tokenID
	if err, ok := f.histErr[key]; ok {
		return nil, err
	}
	return f.history[key], nil
}

func (f *fakeItems) FloorPrice(ctx context.Context, collection string) (decimal.Decimal, error) {
	defer f.track()()
	f.calls.Add(1)
	return decimal.NewFromInt(2), nil
}

type fakeOracle struct {
	calls atomic.Int64
	price decimal.Decimal
}

func (f *fakeOracle) ReferencePrice(ctx context.Context) (decimal.Decimal, error) {
	f.calls.Add(1)
	return f.price, nil
}

func testLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	return ledger.New(t.TempDir()+"/ledger.json", zerolog.Nop())
}

func freshHistory() []model.SaleEntry {
	return []model.SaleEntry{
		{Timestamp: testNow.Add(-5 * time.Minute).Unix(), Price: decimal.NewFromInt(1)},
		{Timestamp: testNow.Add(-48 * time.Hour).Unix(), Price: decimal.NewFromInt(3)},
	}
}

func rawSale(id, collection, tokenID string) model.RawSale {
	return model.RawSale{
		ID:           id,
		Collection:   collection,
		TokenID:      tokenID,
		Name:         "Item " + tokenID,
		Price:        decimal.NewFromInt(1),
		Timestamp:    testNow.Add(-time.Minute).Unix(),
		Verification: "verified",
	}
}

func newTestPipeline(items *fakeItems, oracle *fakeOracle, opts Options) *Pipeline {
	prices := pricecache.New(time.Hour, func() time.Time { return testNow }, zerolog.Nop())
	return New(items, oracle, prices, opts, func() time.Time { return testNow }, zerolog.Nop())
}

func TestEnrichShortCircuitsOnKnownHead(t *testing.T) {
	items := &fakeItems{}
	oracle := &fakeOracle{price: decimal.NewFromInt(20)}
	led := testLedger(t)
	led.Record("tx1")

	pipe := newTestPipeline(items, oracle, Options{MaxSaleAge: time.Hour})
	enriched, err := pipe.Enrich(context.Background(), []model.RawSale{
		rawSale("tx1", "0xabc", "1"),
		rawSale("tx0", "0xabc", "2"),
	}, led)
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if enriched != nil {
		t.Fatalf("known head must short-circuit, got %d sales", len(enriched))
	}
	if items.calls.Load() != 0 {
		t.Fatalf("short-circuit must issue zero item calls, got %d", items.calls.Load())
	}
	if oracle.calls.Load() != 0 {
		t.Fatal("short-circuit must not query the oracle")
	}
}

func TestEnrichSkipsLedgeredAndBlocklisted(t *testing.T) {
	items := &fakeItems{history: map[string][]model.SaleEntry{
		"0xabc/1": freshHistory(),
	}}
	oracle := &fakeOracle{price: decimal.NewFromInt(20)}
	led := testLedger(t)
	led.Record("tx2")

	blocked := rawSale("tx3", "0xbad", "9")
	blocked.Verification = model.VerificationBlocklisted

	enriched, err := newTestPipeline(items, oracle, Options{MaxSaleAge: time.Hour}).Enrich(context.Background(), []model.RawSale{
		rawSale("tx1", "0xabc", "1"),
		rawSale("tx2", "0xabc", "2"),
		blocked,
	}, led)
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if len(enriched) != 1 {
		t.Fatalf("expected 1 enriched sale, got %d", len(enriched))
	}
	if enriched[0].TransactionID() != "tx1" {
		t.Fatalf("expected tx1, got %s", enriched[0].TransactionID())
	}
	if !enriched[0].ReferencePrice.Equal(decimal.NewFromInt(20)) {
		t.Fatal("reference price snapshot must be stamped on enriched sales")
	}
	if !enriched[0].FloorPrice.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected floor 2, got %s", enriched[0].FloorPrice)
	}
}

func TestEnrichDropsMissingAndStaleHistory(t *testing.T) {
	items := &fakeItems{
		history: map[string][]model.SaleEntry{
			"0xaaa/1": freshHistory(),
			"0xbbb/2": {{Timestamp: testNow.Add(-3 * time.Hour).Unix(), Price: decimal.NewFromInt(1)}},
			"0xccc/3": {},
		},
		histErr: map[string]error{
			"0xddd/4": fetcher.ErrUnavailable,
		},
	}
	oracle := &fakeOracle{price: decimal.NewFromInt(20)}

	enriched, err := newTestPipeline(items, oracle, Options{MaxSaleAge: time.Hour}).Enrich(context.Background(), []model.RawSale{
		rawSale("tx1", "0xaaa", "1"),
		rawSale("tx2", "0xbbb", "2"),
		rawSale("tx3", "0xccc", "3"),
		rawSale("tx4", "0xddd", "4"),
	}, testLedger(t))
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if len(enriched) != 1 {
		t.Fatalf("expected only the fresh-history sale, got %d", len(enriched))
	}
	if enriched[0].TransactionID() != "tx1" {
		t.Fatalf("expected tx1, got %s", enriched[0].TransactionID())
	}
}

func TestEnrichUnauthorizedPropagates(t *testing.T) {
	items := &fakeItems{histErr: map[string]error{
		"0xabc/1": fetcher.ErrUnauthorized,
	}}
	oracle := &fakeOracle{price: decimal.NewFromInt(20)}

	_, err := newTestPipeline(items, oracle, Options{MaxSaleAge: time.Hour}).Enrich(context.Background(), []model.RawSale{
		rawSale("tx1", "0xabc", "1"),
	}, testLedger(t))
	if err == nil {
		t.Fatal("401 during enrichment must propagate")
	}
}

func TestEnrichBoundsConcurrentCalls(t *testing.T) {
	items := &fakeItems{history: map[string][]model.SaleEntry{}}
	for i := 0; i < 10; i++ {
		items.history[fmt.Sprintf("0xabc/%d", i)] = freshHistory()
	}
	oracle := &fakeOracle{price: decimal.NewFromInt(20)}

	page := make([]model.RawSale, 0, 10)
	for i := 0; i < 10; i++ {
		page = append(page, rawSale(fmt.Sprintf("tx%d", i), "0xabc", fmt.Sprintf("%d", i)))
	}

	opts := Options{ChunkSize: 3, MaxSaleAge: time.Hour}
	enriched, err := newTestPipeline(items, oracle, opts).Enrich(context.Background(), page, testLedger(t))
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if len(enriched) != 10 {
		t.Fatalf("expected 10 enriched sales, got %d", len(enriched))
	}
	// Two requests per candidate, so a chunk of 3 caps in-flight calls at 6.
	if max := items.maxInFlight.Load(); max > 6 {
		t.Fatalf("in-flight calls exceeded chunk bound: %d", max)
	}
	if items.calls.Load() != 20 {
		t.Fatalf("expected 20 item calls, got %d", items.calls.Load())
	}
}

func TestEnrichCoolsDownBetweenChunks(t *testing.T) {
	items := &fakeItems{history: map[string][]model.SaleEntry{}}
	for i := 0; i < 10; i++ {
		items.history[fmt.Sprintf("0xabc/%d", i)] = freshHistory()
	}
	oracle := &fakeOracle{price: decimal.NewFromInt(20)}

	page := make([]model.RawSale, 0, 10)
	for i := 0; i < 10; i++ {
		page = append(page, rawSale(fmt.Sprintf("tx%d", i), "0xabc", fmt.Sprintf("%d", i)))
	}

	cooldown := 5 * time.Second
	pipe := newTestPipeline(items, oracle, Options{ChunkSize: 3, ChunkCooldown: cooldown, MaxSaleAge: time.Hour})

	var pauses []time.Duration
	var callsAtPause []int64
	pipe.sleep = func(ctx context.Context, d time.Duration) error {
		if n := items.inFlight.Load(); n != 0 {
			t.Fatalf("cooldown started with %d item calls still in flight", n)
		}
		pauses = append(pauses, d)
		callsAtPause = append(callsAtPause, items.calls.Load())
		return nil
	}

	enriched, err := pipe.Enrich(context.Background(), page, testLedger(t))
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if len(enriched) != 10 {
		t.Fatalf("expected 10 enriched sales, got %d", len(enriched))
	}

	// Chunks of 3 over 10 candidates give 4 groups, so 3 cooldowns.
	if len(pauses) != 3 {
		t.Fatalf("expected 3 cooldowns between 4 chunks, got %d", len(pauses))
	}
	for i, d := range pauses {
		if d != cooldown {
			t.Fatalf("cooldown %d used %s, want %s", i, d, cooldown)
		}
	}
	// Two calls per candidate: each pause must see the previous chunk fully done
	// and the next chunk not yet started.
	want := []int64{6, 12, 18}
	for i, calls := range callsAtPause {
		if calls != want[i] {
			t.Fatalf("pause %d saw %d item calls, want %d", i, calls, want[i])
		}
	}
}

func TestChunkByGroupCount(t *testing.T) {
	sales := make([]model.RawSale, 31)
	chunks := chunkBy(sales, 15)
	if len(chunks) != 3 {
		t.Fatalf("expected ceil(31/15)=3 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != 15 || len(chunks[2]) != 1 {
		t.Fatalf("unexpected chunk sizes: %d, %d", len(chunks[0]), len(chunks[2]))
	}
}
