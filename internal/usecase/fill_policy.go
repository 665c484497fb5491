package usecase

import (
	"fmt"
	"time"

	"QuoteFlow/internal/domain/models"
)

// FillPolicy decides which published legs turn into fills without outside feedback.
type FillPolicy interface {
	Name() string
	Fills(set models.QuoteSet, at time.Time) []models.Fill
}

const (
	FillPolicyInstant  = "instant"
	FillPolicyExternal = "external"
)

// ParseFillPolicy maps a config value to a policy.
func ParseFillPolicy(name string) (FillPolicy, error) {
	switch name {
	case FillPolicyInstant:
		return InstantFill{}, nil
	case FillPolicyExternal, "":
		return ExternalFill{}, nil
	}
	return nil, fmt.Errorf("unknown fill policy %q", name)
}

// InstantFill assumes every published leg is filled in full at its quoted price.
type InstantFill struct{}

func (InstantFill) Name() string { return FillPolicyInstant }

func (InstantFill) Fills(set models.QuoteSet, at time.Time) []models.Fill {
	legs := set.Legs()
	out := make([]models.Fill, 0, len(legs))
	for _, p := range legs {
		out = append(out, models.Fill{Side: p.Side, Price: p.Price, Size: p.Size, Timestamp: at, ProposalID: p.ID})
	}
	return out
}

// ExternalFill waits for fills reported over Kafka or HTTP.
type ExternalFill struct{}

func (ExternalFill) Name() string { return FillPolicyExternal }

func (ExternalFill) Fills(models.QuoteSet, time.Time) []models.Fill { return nil }
