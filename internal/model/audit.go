package model

import (
	"encoding/json"
	"slices"
	"time"
)

// ActionKind identifies the state-affecting action an audit entry records.
type ActionKind string

const (
	ActionDealCreated         ActionKind = "DealCreated"
	ActionArtifactSubmitted   ActionKind = "ArtifactSubmitted"
	ActionArtifactInvalidated ActionKind = "ArtifactInvalidated"
	ActionVoteCast            ActionKind = "VoteCast"
	ActionGateAdvanced        ActionKind = "GateAdvanced"
)

// AllActionKinds lists every known action kind.
var AllActionKinds = []ActionKind{
	ActionDealCreated,
	ActionArtifactSubmitted,
	ActionArtifactInvalidated,
	ActionVoteCast,
	ActionGateAdvanced,
}

// IsValid checks whether the kind is a known value.
func (k ActionKind) IsValid() bool {
	return slices.Contains(AllActionKinds, k)
}

// AuditEntry is one immutable line of a deal's history. ID is global and
// assigned by the store; Seq is strictly increasing per deal.
type AuditEntry struct {
	ID          int64           `json:"id"`
	Seq         int64           `json:"seq"`
	DealID      string          `json:"deal_id"`
	Kind        ActionKind      `json:"kind"`
	Gate        Gate            `json:"gate"`
	Actor       string          `json:"actor"`
	ActorRole   string          `json:"actor_role,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	PayloadHash string          `json:"payload_hash"`
	PrevHash    string          `json:"prev_hash"`
	EntryHash   string          `json:"entry_hash"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Clone returns a deep copy of the entry.
func (e *AuditEntry) Clone() *AuditEntry {
	if e == nil {
		return nil
	}
	c := *e
	c.Payload = slices.Clone(e.Payload)
	return &c
}

// AuditFilter narrows a history query. Zero values mean "no constraint".
type AuditFilter struct {
	SinceSeq int64        `json:"since_seq,omitempty"` // exclusive
	From     *time.Time   `json:"from,omitempty"`      // inclusive
	To       *time.Time   `json:"to,omitempty"`        // exclusive
	Kinds    []ActionKind `json:"kinds,omitempty"`
	Limit    int          `json:"limit,omitempty"`
}

// Matches reports whether e satisfies every constraint except Limit.
func (f AuditFilter) Matches(e *AuditEntry) bool {
	if e.Seq <= f.SinceSeq {
		return false
	}
	if f.From != nil && e.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !e.CreatedAt.Before(*f.To) {
		return false
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, e.Kind) {
		return false
	}
	return true
}

// Audit payloads, one per action kind.

type DealCreatedPayload struct {
	Name string `json:"name,omitempty"`
	Gate Gate   `json:"gate"`
}

type ArtifactSubmittedPayload struct {
	ArtifactType string `json:"artifact_type"`
	ReferenceID  string `json:"reference_id"`
	Supersedes   string `json:"supersedes,omitempty"`
}

type ArtifactInvalidatedPayload struct {
	ArtifactType string `json:"artifact_type"`
	ReferenceID  string `json:"reference_id"`
	Reason       string `json:"reason"`
}

type VoteCastPayload struct {
	MemberID string     `json:"member_id"`
	Choice   VoteChoice `json:"choice"`
	Previous VoteChoice `json:"previous,omitempty"`
}

type GateAdvancedPayload struct {
	From             Gate     `json:"from"`
	To               Gate     `json:"to"`
	Artifacts        []string `json:"artifacts"`
	Participating    int      `json:"participating"`
	ApprovalFraction float64  `json:"approval_fraction"`
}
