package model

import "time"

// DealSnapshot is the read model served to the dashboard.
type DealSnapshot struct {
	DealID      string       `json:"deal_id"`
	CurrentGate Gate         `json:"current_gate"`
	EnteredAt   time.Time    `json:"entered_at"`
	Terminal    bool         `json:"terminal"`
	Artifacts   Completeness `json:"artifacts"`
	VoteOutcome Outcome      `json:"vote_outcome"`
	Votes       []*Vote      `json:"votes"`
	LastSeq     int64        `json:"last_seq"`
	CanAdvance  bool         `json:"can_advance"`
	NextGate    Gate         `json:"next_gate,omitempty"`
}
