package logger

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type capturePublisher struct {
	mu      sync.Mutex
	topic   string
	key     string
	batches []AlertBatch
}

func (p *capturePublisher) PublishJSON(_ context.Context, topic string, key []byte, v interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.key = string(key)
	p.batches = append(p.batches, v.(AlertBatch))
	return nil
}

func TestFieldsAreWritten(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, zerolog.DebugLevel).With(String("component", "signal"))
	l.Info("snapshot",
		Float64("twap", 100.25),
		Bool("aggressive", true),
		Int("trades", 3),
		Error(nil),
		Strings("topics", []string{"events", "fills"}),
	)

	out := buf.String()
	for _, want := range []string{
		`"component":"signal"`, `"twap":100.25`, `"aggressive":true`, `"trades":3`,
		`"topics":"events,fills"`, `"message":"snapshot"`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %s", want, out)
		}
	}
	if strings.Contains(out, `"error"`) {
		t.Fatalf("nil error was written: %s", out)
	}
}

func TestAlertsDeduplicateIntoOneBatch(t *testing.T) {
	pub := &capturePublisher{}
	l := NewWriter(&bytes.Buffer{}, zerolog.DebugLevel)
	l.EnableAlerts(&AlertConfig{Topic: "quoteflow.alerts", Symbol: "BTC", Interval: time.Hour, MaxDistinct: 100, Publisher: pub})
	child := l.With(String("component", "feed"))

	for i := 0; i < 5; i++ {
		child.Error("feed read failed", Error(errors.New("eof")))
	}
	child.Warn("event queue full", String("source", "kafka"))
	child.Info("not collected")

	if got := l.alerts.Pending(); got != 2 {
		t.Fatalf("expected 2 distinct alerts, got %d", got)
	}
	l.CloseAlerts()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if pub.topic != "quoteflow.alerts" || pub.key != "BTC" || len(pub.batches) != 1 {
		t.Fatalf("unexpected publish topic=%q key=%q batches=%d", pub.topic, pub.key, len(pub.batches))
	}
	b := pub.batches[0]
	if b.Symbol != "BTC" || b.Errors != 5 || b.Warnings != 1 || len(b.Alerts) != 2 {
		t.Fatalf("unexpected batch %+v", b)
	}
	if b.From.After(b.To) {
		t.Fatalf("window inverted: %v > %v", b.From, b.To)
	}
	first := b.Alerts[0]
	if first.Message != "feed read failed" || first.Count != 5 || first.Fields["error"] != "eof" {
		t.Fatalf("unexpected first alert %+v", first)
	}
	if !strings.HasPrefix(first.Caller, "logger/logger_test.go:") {
		t.Fatalf("unexpected caller %q", first.Caller)
	}
}

func TestAlertsFlushAtMaxDistinct(t *testing.T) {
	pub := &capturePublisher{}
	c := NewAlertCollector(&AlertConfig{Interval: time.Hour, MaxDistinct: 2, Publisher: pub})
	c.Add("error", "a", nil, "x.go:1")
	c.Add("warn", "b", nil, "x.go:2")
	if c.Pending() != 0 {
		t.Fatalf("expected early flush")
	}
	c.Close()
	c.Close()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.batches) != 1 || len(pub.batches[0].Alerts) != 2 {
		t.Fatalf("unexpected batches %+v", pub.batches)
	}
}
