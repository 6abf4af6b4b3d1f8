package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"nft-sale-alerts/internal/ledger"
	"nft-sale-alerts/internal/model"
	"nft-sale-alerts/internal/notify"
)

type recordingNotifier struct {
	name     string
	filter   notify.Filter
	fail     bool
	notified []string
}

func (r *recordingNotifier) Name() string {
	return r.name
}

func (r *recordingNotifier) ShouldNotify(collection string, price decimal.Decimal) bool {
	return r.filter.Match(collection, price)
}

func (r *recordingNotifier) Notify(ctx context.Context, sale model.EnrichedSale) error {
	if r.fail {
		return errors.New("channel down")
	}
	r.notified = append(r.notified, sale.TransactionID())
	return nil
}

func enrichedSale(id, collection string, price decimal.Decimal, ts int64) model.EnrichedSale {
	return model.EnrichedSale{
		Raw: model.RawSale{
			ID:         id,
			Collection: collection,
			TokenID:    "1",
			Name:       "Item",
			Price:      price,
			Timestamp:  ts,
		},
	}
}

func testLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	return ledger.New(t.TempDir()+"/ledger.json", zerolog.Nop())
}

func TestDispatchOrdersOldestFirst(t *testing.T) {
	ch := &recordingNotifier{name: "all", filter: notify.NewFilter(nil, nil)}
	d := New([]notify.Notifier{ch}, zerolog.Nop())

	base := time.Now().Unix()
	sales := []model.EnrichedSale{
		enrichedSale("tx3", "0xabc", decimal.NewFromInt(1), base+30),
		enrichedSale("tx1", "0xabc", decimal.NewFromInt(1), base+10),
		enrichedSale("tx2", "0xabc", decimal.NewFromInt(1), base+20),
	}

	d.Dispatch(context.Background(), sales, testLedger(t))

	want := []string{"tx1", "tx2", "tx3"}
	if len(ch.notified) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(ch.notified))
	}
	for i, id := range want {
		if ch.notified[i] != id {
			t.Fatalf("expected %v in order, got %v", want, ch.notified)
		}
	}
}

func TestDispatchAppliesSubscriberFilters(t *testing.T) {
	min := decimal.NewFromInt(2)
	ch := &recordingNotifier{name: "filtered", filter: notify.NewFilter([]string{"abc"}, &min)}
	d := New([]notify.Notifier{ch}, zerolog.Nop())

	base := time.Now().Unix()
	sales := []model.EnrichedSale{
		enrichedSale("tx1", "ABC", decimal.RequireFromString("1.5"), base+1),
		enrichedSale("tx2", "ABC", decimal.RequireFromString("2.5"), base+2),
		enrichedSale("tx3", "0xother", decimal.RequireFromString("9.9"), base+3),
	}

	d.Dispatch(context.Background(), sales, testLedger(t))

	if len(ch.notified) != 1 || ch.notified[0] != "tx2" {
		t.Fatalf("expected only tx2 to pass the filter, got %v", ch.notified)
	}
}

func TestDispatchIsolatesChannelFailures(t *testing.T) {
	failing := &recordingNotifier{name: "down", filter: notify.NewFilter(nil, nil), fail: true}
	healthy := &recordingNotifier{name: "up", filter: notify.NewFilter(nil, nil)}
	d := New([]notify.Notifier{failing, healthy}, zerolog.Nop())

	led := testLedger(t)
	results := d.Dispatch(context.Background(), []model.EnrichedSale{
		enrichedSale("tx1", "0xabc", decimal.NewFromInt(1), time.Now().Unix()),
	}, led)

	if len(healthy.notified) != 1 {
		t.Fatal("a failing channel must not block the others")
	}
	if led.IsNew("tx1") {
		t.Fatal("sale must be ledgered after all channels were attempted")
	}
	if len(results) != 1 || len(results[0].Channels) != 1 || results[0].Channels[0] != "up" {
		t.Fatalf("expected only the healthy channel in the result, got %+v", results)
	}
}

func TestDispatchLedgersUnmatchedSales(t *testing.T) {
	ch := &recordingNotifier{name: "narrow", filter: notify.NewFilter([]string{"0xonly"}, nil)}
	d := New([]notify.Notifier{ch}, zerolog.Nop())

	led := testLedger(t)
	d.Dispatch(context.Background(), []model.EnrichedSale{
		enrichedSale("tx1", "0xother", decimal.NewFromInt(1), time.Now().Unix()),
	}, led)

	if len(ch.notified) != 0 {
		t.Fatal("filtered-out sale must not be delivered")
	}
	if led.IsNew("tx1") {
		t.Fatal("processed sale must be marked seen even when no channel matched")
	}
}
