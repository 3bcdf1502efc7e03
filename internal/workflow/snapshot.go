package workflow

import (
	"context"
	"errors"

	"github.com/alfredjeanlab/icgate/internal/artifact"
	"github.com/alfredjeanlab/icgate/internal/audit"
	"github.com/alfredjeanlab/icgate/internal/catalog"
	"github.com/alfredjeanlab/icgate/internal/model"
	"github.com/alfredjeanlab/icgate/internal/quorum"
	"github.com/alfredjeanlab/icgate/internal/store"
)

// stateRetries bounds how often a lock-free State read is retried when a
// commit lands between its reads, before falling back to a locked read.
const stateRetries = 3

// readState loads the live rows of a deal from db. The audit head is read
// last, so a caller comparing it against an earlier read detects any commit
// that landed in between.
func readState(ctx context.Context, db store.Store, dealID string) (*audit.State, error) {
	deal, err := db.GetDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	st := &audit.State{
		DealID:      deal.ID,
		Name:        deal.Name,
		CurrentGate: deal.CurrentGate,
		EnteredAt:   deal.EnteredAt,
		Terminal:    deal.Terminal,
		CreatedAt:   deal.CreatedAt,
		CreatedBy:   deal.CreatedBy,
		UpdatedAt:   deal.UpdatedAt,
	}
	if st.Artifacts, err = db.ListArtifacts(ctx, dealID, deal.CurrentGate); err != nil {
		return nil, err
	}
	if st.Votes, err = db.ListVotes(ctx, dealID, deal.CurrentGate); err != nil {
		return nil, err
	}
	if st.LastSeq, err = lastSeq(ctx, db, dealID); err != nil {
		return nil, err
	}
	return st, nil
}

func lastSeq(ctx context.Context, db store.Store, dealID string) (int64, error) {
	last, err := db.LastAudit(ctx, dealID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return last.Seq, nil
}

// buildSnapshot derives the dashboard read model from a deal's live state.
func buildSnapshot(cat *catalog.Catalog, st *audit.State) *model.DealSnapshot {
	completeness := artifact.Evaluate(cat.RequiredTypes(st.CurrentGate), st.Artifacts)
	outcome := quorum.Tally(st.Votes, cat.Policy(st.CurrentGate), cat.Roster())

	votes := st.Votes
	if votes == nil {
		votes = []*model.Vote{}
	}
	snap := &model.DealSnapshot{
		DealID:      st.DealID,
		CurrentGate: st.CurrentGate,
		EnteredAt:   st.EnteredAt,
		Terminal:    st.Terminal,
		Artifacts:   completeness,
		VoteOutcome: outcome,
		Votes:       votes,
		LastSeq:     st.LastSeq,
	}
	if !st.Terminal {
		if next, ok := st.CurrentGate.Next(); ok {
			snap.NextGate = next
			snap.CanAdvance = completeness.Complete && outcome.Status == model.OutcomeApproved
		}
	}
	return snap
}
