package cache

import (
	"context"
	"testing"
	"time"

	"QuoteFlow/internal/domain/models"
)

func TestStateMirrorRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewStateMirror(NewTTLCache(), "", "BTC", time.Minute)

	if _, ok, err := m.LoadLedger(ctx); ok || err != nil {
		t.Fatalf("expected empty mirror, ok=%v err=%v", ok, err)
	}

	l := models.LedgerState{NetPosition: -1.5, AvgEntryPrice: 101.25, MaxLongLimit: 5, MaxShortLimit: 5, RealizedPnL: 3, Fills: 4}
	if err := m.SaveLedger(ctx, l); err != nil {
		t.Fatalf("save ledger: %v", err)
	}
	got, ok, err := m.LoadLedger(ctx)
	if err != nil || !ok {
		t.Fatalf("load ledger: ok=%v err=%v", ok, err)
	}
	if got.NetPosition != l.NetPosition || got.AvgEntryPrice != l.AvgEntryPrice || got.Fills != 4 {
		t.Fatalf("ledger mismatch %+v", got)
	}

	s := models.SignalSnapshot{TWAP: 100, Volatility: 0.01, State: models.DataReady, MeanReversion: models.MeanReversionNeutral}
	if err := m.SaveSnapshot(ctx, s); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	gs, ok, err := m.LoadSnapshot(ctx)
	if err != nil || !ok || gs.TWAP != 100 || gs.State != models.DataReady {
		t.Fatalf("snapshot mismatch %+v ok=%v err=%v", gs, ok, err)
	}
}

func TestStateMirrorCorruptValue(t *testing.T) {
	ctx := context.Background()
	c := NewTTLCache()
	m := NewStateMirror(c, "qf", "ETH", 0)
	_ = c.SetBytes(ctx, "qf:ETH:ledger", []byte("{not json"), 0)
	if _, ok, err := m.LoadLedger(ctx); ok || err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestTTLCacheExpiry(t *testing.T) {
	c := NewTTLCache()
	c.Set("k", []byte("v"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if _, ok, _ := c.GetBytes(context.Background(), "k"); ok {
		t.Fatalf("expected expired key")
	}
}
