package model

import (
	"fmt"
	"strings"
	"time"
)

// VoteChoice is an IC member's decision on a gate.
type VoteChoice string

const (
	ChoiceApprove VoteChoice = "approve"
	ChoiceReject  VoteChoice = "reject"
	ChoiceAbstain VoteChoice = "abstain"
)

// IsValid checks whether the choice is a known value.
func (c VoteChoice) IsValid() bool {
	switch c {
	case ChoiceApprove, ChoiceReject, ChoiceAbstain:
		return true
	}
	return false
}

// ParseVoteChoice parses a choice case-insensitively.
func ParseVoteChoice(s string) (VoteChoice, error) {
	c := VoteChoice(strings.ToLower(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("unknown vote choice %q", s)
	}
	return c, nil
}

// Vote is the latest choice of one member for one (deal, gate).
type Vote struct {
	DealID   string     `json:"deal_id"`
	Gate     Gate       `json:"gate"`
	MemberID string     `json:"member_id"`
	Choice   VoteChoice `json:"choice"`
	CastBy   string     `json:"cast_by"`
	CastAt   time.Time  `json:"cast_at"`
}

// Clone returns a copy of the vote.
func (v *Vote) Clone() *Vote {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// ICMember is one investment-committee roster entry.
type ICMember struct {
	ID     string `json:"id" toml:"id" yaml:"id"`
	Name   string `json:"name,omitempty" toml:"name" yaml:"name"`
	Role   string `json:"role,omitempty" toml:"role" yaml:"role"`
	Active bool   `json:"active" toml:"active" yaml:"active"`
}

// QuorumPolicy is the decision rule for one gate.
type QuorumPolicy struct {
	Gate                Gate    `json:"gate" toml:"gate" yaml:"gate"`
	MinParticipants     int     `json:"min_participants" toml:"min_participants" yaml:"min_participants"`
	MinApprovalFraction float64 `json:"min_approval_fraction" toml:"min_approval_fraction" yaml:"min_approval_fraction"`
}

// OutcomeStatus is the binary-plus-pending result of a gate vote.
type OutcomeStatus string

const (
	OutcomePending  OutcomeStatus = "pending"
	OutcomeApproved OutcomeStatus = "approved"
	OutcomeRejected OutcomeStatus = "rejected"
)

// Outcome is the tally of the votes cast on a gate.
type Outcome struct {
	Status              OutcomeStatus `json:"status"`
	Participating       int           `json:"participating"`
	Approvals           int           `json:"approvals"`
	Rejections          int           `json:"rejections"`
	Abstentions         int           `json:"abstentions"`
	Eligible            int           `json:"eligible"`
	ApprovalFraction    float64       `json:"approval_fraction"`
	MinParticipants     int           `json:"min_participants"`
	MinApprovalFraction float64       `json:"min_approval_fraction"`
}

// QuorumMet reports whether enough non-abstaining votes were cast.
func (o Outcome) QuorumMet() bool {
	return o.Participating > 0 && o.Participating >= o.MinParticipants
}
