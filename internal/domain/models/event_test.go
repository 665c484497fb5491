package models

import (
	"strings"
	"testing"

	json "github.com/goccy/go-json"
)

func TestRejectedInvalidProposalSerializes(t *testing.T) {
	b, err := json.Marshal(Reject(QuoteProposal{}, ReasonInvalidProposal))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"side":"unknown"`) {
		t.Fatalf("expected unknown side, got %s", b)
	}
}

func TestSideTextRoundTrip(t *testing.T) {
	for _, s := range []Side{SideBuy, SideSell} {
		b, err := s.MarshalText()
		if err != nil {
			t.Fatalf("marshal %v: %v", s, err)
		}
		var got Side
		if err := got.UnmarshalText(b); err != nil || got != s {
			t.Fatalf("round trip %s: got %v err %v", b, got, err)
		}
	}
	var s Side
	if err := s.UnmarshalText([]byte("hold")); err == nil {
		t.Fatalf("expected unknown side to be rejected")
	}
}
