package audit

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/alfredjeanlab/icgate/internal/model"
)

// State is the live state of a deal rebuilt from its history: the current
// gate and the artifacts and votes recorded against it.
type State struct {
	DealID      string
	Name        string
	CurrentGate model.Gate
	EnteredAt   time.Time
	Terminal    bool
	CreatedAt   time.Time
	CreatedBy   string
	UpdatedAt   time.Time
	Artifacts   []*model.ArtifactSubmission // current gate, sorted by type
	Votes       []*model.Vote               // current gate, sorted by member
	LastSeq     int64
}

// Replay folds a deal's complete history into its live state. Entries must
// be in sequence order and start with DealCreated.
func Replay(entries []*model.AuditEntry) (*State, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("replay: empty history")
	}
	if entries[0].Kind != model.ActionDealCreated {
		return nil, fmt.Errorf("replay: history starts with %s, want %s", entries[0].Kind, model.ActionDealCreated)
	}

	st := &State{DealID: entries[0].DealID}
	artifacts := map[string]*model.ArtifactSubmission{}
	votes := map[string]*model.Vote{}

	for _, e := range entries {
		if e.DealID != st.DealID {
			return nil, fmt.Errorf("replay: seq %d belongs to deal %s", e.Seq, e.DealID)
		}
		if e.Seq <= st.LastSeq {
			return nil, fmt.Errorf("replay: seq %d out of order after %d", e.Seq, st.LastSeq)
		}
		st.LastSeq = e.Seq
		st.UpdatedAt = e.CreatedAt

		switch e.Kind {
		case model.ActionDealCreated:
			var p model.DealCreatedPayload
			if err := decode(e, &p); err != nil {
				return nil, err
			}
			st.Name = p.Name
			st.CurrentGate = p.Gate
			st.EnteredAt = e.CreatedAt
			st.CreatedAt = e.CreatedAt
			st.CreatedBy = e.Actor

		case model.ActionArtifactSubmitted:
			var p model.ArtifactSubmittedPayload
			if err := decode(e, &p); err != nil {
				return nil, err
			}
			if e.Gate != st.CurrentGate {
				continue
			}
			artifacts[p.ArtifactType] = &model.ArtifactSubmission{
				DealID:       e.DealID,
				Gate:         e.Gate,
				ArtifactType: p.ArtifactType,
				ReferenceID:  p.ReferenceID,
				SubmittedBy:  e.Actor,
				SubmittedAt:  e.CreatedAt,
				Valid:        true,
			}

		case model.ActionArtifactInvalidated:
			var p model.ArtifactInvalidatedPayload
			if err := decode(e, &p); err != nil {
				return nil, err
			}
			a, ok := artifacts[p.ArtifactType]
			if e.Gate != st.CurrentGate || !ok {
				continue
			}
			at := e.CreatedAt
			a.Valid = false
			a.InvalidReason = p.Reason
			a.InvalidatedBy = e.Actor
			a.InvalidatedAt = &at

		case model.ActionVoteCast:
			var p model.VoteCastPayload
			if err := decode(e, &p); err != nil {
				return nil, err
			}
			if e.Gate != st.CurrentGate {
				continue
			}
			votes[p.MemberID] = &model.Vote{
				DealID:   e.DealID,
				Gate:     e.Gate,
				MemberID: p.MemberID,
				Choice:   p.Choice,
				CastBy:   e.Actor,
				CastAt:   e.CreatedAt,
			}

		case model.ActionGateAdvanced:
			var p model.GateAdvancedPayload
			if err := decode(e, &p); err != nil {
				return nil, err
			}
			if p.From != st.CurrentGate {
				return nil, fmt.Errorf("replay: seq %d advances from %s but deal is at %s", e.Seq, p.From, st.CurrentGate)
			}
			st.CurrentGate = p.To
			st.EnteredAt = e.CreatedAt
			st.Terminal = p.To.IsTerminal()
			clear(artifacts)
			clear(votes)

		default:
			return nil, fmt.Errorf("replay: seq %d has unknown kind %q", e.Seq, e.Kind)
		}
	}

	st.Artifacts = slices.Collect(maps.Values(artifacts))
	sort.Slice(st.Artifacts, func(i, j int) bool { return st.Artifacts[i].ArtifactType < st.Artifacts[j].ArtifactType })
	st.Votes = slices.Collect(maps.Values(votes))
	sort.Slice(st.Votes, func(i, j int) bool { return st.Votes[i].MemberID < st.Votes[j].MemberID })
	return st, nil
}

func decode(e *model.AuditEntry, v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("replay: seq %d %s payload: %w", e.Seq, e.Kind, err)
	}
	return nil
}
