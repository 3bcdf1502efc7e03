// Package gate holds the authoritative current gate of each deal and the
// only transition that moves it.
package gate

import (
	"context"
	"errors"
	"time"

	"github.com/alfredjeanlab/icgate/internal/artifact"
	"github.com/alfredjeanlab/icgate/internal/audit"
	"github.com/alfredjeanlab/icgate/internal/model"
	"github.com/alfredjeanlab/icgate/internal/quorum"
	"github.com/alfredjeanlab/icgate/internal/store"
)

// AdvanceResult describes a successful advance. AlreadyAtGate is set when
// the deal was already at the requested gate through an earlier advance;
// nothing was written in that case and Seq is 0.
type AdvanceResult struct {
	DealID        string        `json:"deal_id"`
	From          model.Gate    `json:"from"`
	To            model.Gate    `json:"to"`
	AlreadyAtGate bool          `json:"already_at_gate"`
	Terminal      bool          `json:"terminal"`
	Outcome       model.Outcome `json:"outcome"`
	Seq           int64         `json:"seq,omitempty"`
}

// Machine enforces the gate order and authorizes transitions using the
// artifact registry and the vote ledger.
type Machine struct {
	db        store.Store
	log       *audit.Log
	artifacts *artifact.Registry
	ledger    *quorum.Ledger
	now       func() time.Time
}

// NewMachine creates a Machine reading and writing through db.
func NewMachine(db store.Store, log *audit.Log, artifacts *artifact.Registry, ledger *quorum.Ledger) *Machine {
	return &Machine{db: db, log: log, artifacts: artifacts, ledger: ledger, now: time.Now}
}

// WithTx returns a copy of the machine, and of the components it consults,
// bound to a deal transaction.
func (m *Machine) WithTx(tx store.Store) *Machine {
	c := *m
	c.db = tx
	c.artifacts = m.artifacts.WithTx(tx)
	c.ledger = m.ledger.WithTx(tx)
	return &c
}

// WithClock returns a copy of the machine using now as its time source.
func (m *Machine) WithClock(now func() time.Time) *Machine {
	c := *m
	c.now = now
	return &c
}

// CurrentGate returns the gate the deal is at.
func (m *Machine) CurrentGate(ctx context.Context, dealID string) (model.Gate, error) {
	deal, err := m.deal(ctx, dealID)
	if err != nil {
		return "", err
	}
	return deal.CurrentGate, nil
}

// AttemptAdvance moves the deal to target if target is the immediate
// successor of its current gate, the current gate's artifacts are complete
// and its vote outcome is Approved. Checks run in that order and the first
// failure is returned. The deal row and the GateAdvanced audit entry are
// written through the same store, so callers must run this inside the
// deal's transaction.
func (m *Machine) AttemptAdvance(ctx context.Context, dealID string, target model.Gate, actor model.Actor) (AdvanceResult, error) {
	if !target.IsValid() {
		return AdvanceResult{}, model.InvalidArgumentError("unknown gate %q", target)
	}
	deal, err := m.deal(ctx, dealID)
	if err != nil {
		return AdvanceResult{}, err
	}
	current := deal.CurrentGate

	// A retry of the advance that brought the deal here.
	if target == current {
		if prev, ok := current.Prev(); ok {
			return AdvanceResult{DealID: dealID, From: prev, To: current, AlreadyAtGate: true, Terminal: deal.Terminal}, nil
		}
	}
	if deal.Terminal {
		return AdvanceResult{}, model.DealTerminalError(dealID)
	}
	if next, ok := current.Next(); !ok || target != next {
		return AdvanceResult{}, model.OutOfOrderError(dealID, current, target)
	}

	completeness, err := m.artifacts.IsComplete(ctx, dealID, current)
	if err != nil {
		return AdvanceResult{}, err
	}
	if !completeness.Complete {
		return AdvanceResult{}, model.ArtifactsIncompleteError(dealID, current, completeness.Missing)
	}

	outcome, err := m.ledger.Outcome(ctx, dealID, current)
	if err != nil {
		return AdvanceResult{}, err
	}
	if !outcome.QuorumMet() {
		return AdvanceResult{}, model.QuorumNotMetError(dealID, current, outcome)
	}
	if outcome.Status != model.OutcomeApproved {
		return AdvanceResult{}, model.ApprovalBelowThresholdError(dealID, current, outcome)
	}

	now := audit.Timestamp(m.now())
	deal.CurrentGate = target
	deal.EnteredAt = now
	deal.Terminal = target.IsTerminal()
	deal.UpdatedAt = now
	if err := m.db.UpdateDeal(ctx, deal); err != nil {
		return AdvanceResult{}, err
	}

	refs := make([]string, 0, len(completeness.Artifacts))
	for _, a := range completeness.Artifacts {
		refs = append(refs, a.Type+"="+a.ReferenceID)
	}
	seq, err := m.log.Append(ctx, m.db, &model.AuditEntry{
		DealID:    dealID,
		Kind:      model.ActionGateAdvanced,
		Gate:      current,
		Actor:     actor.ID,
		ActorRole: actor.Role,
		CreatedAt: now,
	}, model.GateAdvancedPayload{
		From:             current,
		To:               target,
		Artifacts:        refs,
		Participating:    outcome.Participating,
		ApprovalFraction: outcome.ApprovalFraction,
	})
	if err != nil {
		return AdvanceResult{}, err
	}

	return AdvanceResult{
		DealID:   dealID,
		From:     current,
		To:       target,
		Terminal: deal.Terminal,
		Outcome:  outcome,
		Seq:      seq,
	}, nil
}

func (m *Machine) deal(ctx context.Context, dealID string) (*model.Deal, error) {
	deal, err := m.db.GetDeal(ctx, dealID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, model.NotFoundError("deal", dealID)
	}
	return deal, err
}
