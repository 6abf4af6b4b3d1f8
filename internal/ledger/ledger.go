// Package ledger persists the set of already-announced transaction ids. It is
// the authoritative source of "already notified": a sale absent from the
// ledger is redelivered on the next cycle.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Ledger is a bounded, ordered sequence of announced transaction ids.
// Mutated only by the single in-flight cycle; no locking required.
type Ledger struct {
	path   string
	logger zerolog.Logger

	ids  []string
	seen map[string]struct{}
}

// New returns an empty ledger backed by path. Used when no prior state
// should be read, e.g. simulations.
func New(path string, logger zerolog.Logger) *Ledger {
	return &Ledger{
		path:   path,
		logger: logger.With().Str("component", "ledger").Logger(),
		seen:   make(map[string]struct{}),
	}
}

// Load reads the persisted ledger. A missing or corrupt file is a fatal
// configuration error, not a recoverable runtime condition.
func Load(path string, logger zerolog.Logger) (*Ledger, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", path, err)
	}

	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("corrupt ledger %s: %w", path, err)
	}

	led := &Ledger{
		path:   path,
		logger: logger.With().Str("component", "ledger").Logger(),
		ids:    ids,
		seen:   make(map[string]struct{}, len(ids)),
	}
	for _, id := range ids {
		led.seen[id] = struct{}{}
	}
	led.logger.Debug().Int("entries", len(ids)).Msg("ledger loaded")
	return led, nil
}

// IsNew reports whether id has not been announced yet.
func (l *Ledger) IsNew(id string) bool {
	_, ok := l.seen[id]
	return !ok
}

// Record appends an announced transaction id.
func (l *Ledger) Record(id string) {
	if _, ok := l.seen[id]; ok {
		return
	}
	l.ids = append(l.ids, id)
	l.seen[id] = struct{}{}
}

// Len returns the number of recorded ids.
func (l *Ledger) Len() int {
	return len(l.ids)
}

// Persist truncates the ledger to the most recent capacity entries and writes
// it out atomically. Called exactly once per successful cycle, after dispatch.
func (l *Ledger) Persist(capacity int) error {
	if capacity > 0 && len(l.ids) > capacity {
		dropped := l.ids[:len(l.ids)-capacity]
		l.ids = append([]string(nil), l.ids[len(l.ids)-capacity:]...)
		for _, id := range dropped {
			delete(l.seen, id)
		}
	}

	raw, err := json.Marshal(l.ids)
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	// Write-then-rename so an interrupted persist never leaves a torn file.
	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".ledger-*")
	if err != nil {
		return fmt.Errorf("create ledger temp file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close ledger temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace ledger: %w", err)
	}

	l.logger.Debug().Int("entries", len(l.ids)).Msg("ledger persisted")
	return nil
}

// Entries returns a copy of the recorded ids, oldest first.
func (l *Ledger) Entries() []string {
	return append([]string(nil), l.ids...)
}
