package quorum

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/alfredjeanlab/icgate/internal/audit"
	"github.com/alfredjeanlab/icgate/internal/catalog"
	"github.com/alfredjeanlab/icgate/internal/model"
	"github.com/alfredjeanlab/icgate/internal/store"
)

// Result reports a recorded vote. Seq is 0 when the vote repeated the
// member's current choice and nothing was written.
type Result struct {
	Vote     *model.Vote
	Previous model.VoteChoice
	Seq      int64
}

// Ledger records votes and computes outcomes.
type Ledger struct {
	db      store.Store
	log     *audit.Log
	catalog catalog.Provider
	now     func() time.Time
}

// NewLedger creates a Ledger reading and writing through db.
func NewLedger(db store.Store, log *audit.Log, cat catalog.Provider) *Ledger {
	return &Ledger{db: db, log: log, catalog: cat, now: time.Now}
}

// WithTx returns a copy of the ledger bound to a deal transaction.
func (l *Ledger) WithTx(tx store.Store) *Ledger {
	c := *l
	c.db = tx
	return &c
}

// WithClock returns a copy of the ledger using now as its time source.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	c := *l
	c.now = now
	return &c
}

// CastVote records memberID's choice on the deal's open gate, replacing
// any earlier choice by the same member. A vote on an earlier gate that the
// member already voted on is a DuplicateFinalVote; any other vote on a gate
// that is not open is GateClosed.
func (l *Ledger) CastVote(ctx context.Context, dealID string, gate model.Gate, memberID string, choice model.VoteChoice, actor model.Actor) (Result, error) {
	memberID = strings.TrimSpace(memberID)
	switch {
	case memberID == "":
		return Result{}, model.InvalidArgumentError("member_id is required")
	case !choice.IsValid():
		return Result{}, model.InvalidArgumentError("unknown vote choice %q", choice)
	case !gate.IsValid():
		return Result{}, model.InvalidArgumentError("unknown gate %q", gate)
	}

	deal, err := l.db.GetDeal(ctx, dealID)
	if errors.Is(err, store.ErrNotFound) {
		return Result{}, model.NotFoundError("deal", dealID)
	}
	if err != nil {
		return Result{}, err
	}
	if deal.Terminal {
		return Result{}, model.DealTerminalError(dealID)
	}

	prev, err := l.memberVote(ctx, dealID, gate, memberID)
	if err != nil {
		return Result{}, err
	}
	if gate != deal.CurrentGate {
		if gate.Before(deal.CurrentGate) && prev != nil {
			return Result{}, model.DuplicateFinalVoteError(dealID, deal.CurrentGate, gate, memberID)
		}
		return Result{}, model.GateClosedError(dealID, deal.CurrentGate, gate)
	}
	if _, ok := l.catalog.Current().ActiveMember(memberID); !ok {
		return Result{}, model.UnknownMemberError(dealID, memberID)
	}
	if prev != nil && prev.Choice == choice {
		return Result{Vote: prev, Previous: prev.Choice}, nil
	}

	now := audit.Timestamp(l.now())
	v := &model.Vote{
		DealID:   dealID,
		Gate:     gate,
		MemberID: memberID,
		Choice:   choice,
		CastBy:   actor.ID,
		CastAt:   now,
	}
	res := Result{Vote: v}
	if prev != nil {
		res.Previous = prev.Choice
	}

	if err := l.db.UpsertVote(ctx, v); err != nil {
		return Result{}, err
	}
	res.Seq, err = l.log.Append(ctx, l.db, &model.AuditEntry{
		DealID:    dealID,
		Kind:      model.ActionVoteCast,
		Gate:      gate,
		Actor:     actor.ID,
		ActorRole: actor.Role,
		CreatedAt: now,
	}, model.VoteCastPayload{MemberID: memberID, Choice: choice, Previous: res.Previous})
	if err != nil {
		return Result{}, err
	}
	deal.UpdatedAt = now
	if err := l.db.UpdateDeal(ctx, deal); err != nil {
		return Result{}, err
	}
	return res, nil
}

// Outcome tallies the votes recorded for a deal's gate against the
// gate's current policy and roster.
func (l *Ledger) Outcome(ctx context.Context, dealID string, gate model.Gate) (model.Outcome, error) {
	votes, err := l.Votes(ctx, dealID, gate)
	if err != nil {
		return model.Outcome{}, err
	}
	cat := l.catalog.Current()
	return Tally(votes, cat.Policy(gate), cat.Roster()), nil
}

// Votes returns the votes recorded for a deal's gate, ordered by member.
func (l *Ledger) Votes(ctx context.Context, dealID string, gate model.Gate) ([]*model.Vote, error) {
	if _, err := l.db.GetDeal(ctx, dealID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, model.NotFoundError("deal", dealID)
		}
		return nil, err
	}
	return l.db.ListVotes(ctx, dealID, gate)
}

func (l *Ledger) memberVote(ctx context.Context, dealID string, gate model.Gate, memberID string) (*model.Vote, error) {
	votes, err := l.db.ListVotes(ctx, dealID, gate)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(votes, func(v *model.Vote) bool { return v.MemberID == memberID })
	if i < 0 {
		return nil, nil
	}
	return votes[i], nil
}
