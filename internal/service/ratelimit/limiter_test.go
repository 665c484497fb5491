package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterBurstAndRefill(t *testing.T) {
	now := time.Unix(0, 0)
	l := NewWithClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		if !l.Allow("BTC", 3, 2) {
			t.Fatalf("burst token %d denied", i)
		}
	}
	if l.Allow("BTC", 3, 2) {
		t.Fatalf("expected bucket to be empty")
	}
	if !l.Allow("ETH", 3, 2) {
		t.Fatalf("keys must not share a bucket")
	}

	now = now.Add(500 * time.Millisecond)
	if !l.Allow("BTC", 3, 2) {
		t.Fatalf("expected one refilled token")
	}
	if l.Allow("BTC", 3, 2) {
		t.Fatalf("expected bucket empty again")
	}

	now = now.Add(time.Hour)
	for i := 0; i < 3; i++ {
		if !l.Allow("BTC", 3, 2) {
			t.Fatalf("refill should cap at capacity, token %d denied", i)
		}
	}
	if l.Allow("BTC", 3, 2) {
		t.Fatalf("capacity exceeded")
	}
}
