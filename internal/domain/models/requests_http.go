package models

// Requests for the market maker HTTP endpoints. Defined in domain for consistency and reuse.

type FillRequest struct {
	Side       string  `json:"side" validate:"required,oneof=buy sell b s a bid ask B S A"`
	Price      float64 `json:"price" validate:"finite,gt=0"`
	Size       float64 `json:"size" validate:"finite,gt=0"`
	ProposalID string  `json:"proposal_id"`
}

type JournalRequest struct {
	Kind  string `query:"kind" json:"kind" default:"decision" validate:"oneof=decision snapshot"`
	Limit int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=5000"`
}

type KillSwitchRequest struct {
	Enabled bool `json:"enabled"`
}
