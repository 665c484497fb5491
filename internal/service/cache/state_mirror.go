package cache

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"QuoteFlow/internal/domain/models"
	drepo "QuoteFlow/internal/domain/repository"
)

// StateMirror keeps the latest snapshot and ledger of one symbol in a BytesCache.
// The ledger key has no TTL so a restart can pick the position back up.
type StateMirror struct {
	cache       BytesCache
	prefix      string
	snapshotTTL time.Duration
}

// NewStateMirror creates a mirror under keys "<prefix>:<symbol>:...".
func NewStateMirror(c BytesCache, prefix, symbol string, snapshotTTL time.Duration) *StateMirror {
	if prefix == "" {
		prefix = "quoteflow"
	}
	return &StateMirror{cache: c, prefix: prefix + ":" + symbol, snapshotTTL: snapshotTTL}
}

var _ drepo.StateMirror = (*StateMirror)(nil)

func (m *StateMirror) snapshotKey() string { return m.prefix + ":snapshot" }
func (m *StateMirror) ledgerKey() string   { return m.prefix + ":ledger" }

func (m *StateMirror) SaveSnapshot(ctx context.Context, s models.SignalSnapshot) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return m.cache.SetBytes(ctx, m.snapshotKey(), b, m.snapshotTTL)
}

// LoadSnapshot returns the mirrored snapshot, if any.
func (m *StateMirror) LoadSnapshot(ctx context.Context) (models.SignalSnapshot, bool, error) {
	var s models.SignalSnapshot
	ok, err := m.load(ctx, m.snapshotKey(), &s)
	return s, ok, err
}

func (m *StateMirror) SaveLedger(ctx context.Context, l models.LedgerState) error {
	b, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}
	return m.cache.SetBytes(ctx, m.ledgerKey(), b, 0)
}

func (m *StateMirror) LoadLedger(ctx context.Context) (models.LedgerState, bool, error) {
	var l models.LedgerState
	ok, err := m.load(ctx, m.ledgerKey(), &l)
	return l, ok, err
}

func (m *StateMirror) load(ctx context.Context, key string, dest interface{}) (bool, error) {
	b, ok, err := m.cache.GetBytes(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(b, dest); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}
