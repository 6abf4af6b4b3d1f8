package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/rs/zerolog"
)

func writeLedgerFile(t *testing.T, ids []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.json")
	raw, err := json.Marshal(ids)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json"), zerolog.Nop()); err == nil {
		t.Fatal("missing ledger file should be a fatal error")
	}
}

func TestLoadCorruptFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := Load(path, zerolog.Nop()); err == nil {
		t.Fatal("corrupt ledger file should be a fatal error")
	}
}

func TestIsNewAndRecord(t *testing.T) {
	led, err := Load(writeLedgerFile(t, []string{"tx1", "tx2"}), zerolog.Nop())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if led.IsNew("tx1") {
		t.Fatal("tx1 is already recorded")
	}
	if !led.IsNew("tx3") {
		t.Fatal("tx3 should be new")
	}

	led.Record("tx3")
	if led.IsNew("tx3") {
		t.Fatal("tx3 should no longer be new after Record")
	}

	led.Record("tx3")
	if led.Len() != 3 {
		t.Fatalf("duplicate Record must not grow the ledger, got %d entries", led.Len())
	}
}

func TestPersistKeepsMostRecentSuffix(t *testing.T) {
	led, err := Load(writeLedgerFile(t, nil), zerolog.Nop())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	for _, id := range []string{"tx1", "tx2", "tx3", "tx4", "tx5"} {
		led.Record(id)
	}

	if err := led.Persist(3); err != nil {
		t.Fatalf("persist: %v", err)
	}

	want := []string{"tx3", "tx4", "tx5"}
	if got := led.Entries(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected suffix %v, got %v", want, got)
	}
	if !led.IsNew("tx1") {
		t.Fatal("truncated entries must become new again")
	}
	if led.IsNew("tx5") {
		t.Fatal("retained entries must stay known")
	}
}

func TestPersistRoundTrip(t *testing.T) {
	path := writeLedgerFile(t, []string{"tx1"})

	led, err := Load(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	led.Record("tx2")
	if err := led.Persist(10); err != nil {
		t.Fatalf("persist: %v", err)
	}

	reloaded, err := Load(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	want := []string{"tx1", "tx2"}
	if got := reloaded.Entries(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v after reload, got %v", want, got)
	}
}
