package gate

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/alfredjeanlab/icgate/internal/artifact"
	"github.com/alfredjeanlab/icgate/internal/audit"
	"github.com/alfredjeanlab/icgate/internal/catalog"
	"github.com/alfredjeanlab/icgate/internal/model"
	"github.com/alfredjeanlab/icgate/internal/quorum"
	"github.com/alfredjeanlab/icgate/internal/store"
	"github.com/alfredjeanlab/icgate/internal/store/memory"
)

var chair = model.Actor{ID: "ic-chair", Role: "chair"}

// testCatalog has one artifact and a three-member roster per gate.
func testCatalog() *catalog.Catalog {
	c := &catalog.Catalog{
		Members: []model.ICMember{
			{ID: "m1", Active: true},
			{ID: "m2", Active: true},
			{ID: "m3", Active: true},
		},
	}
	for _, g := range model.AllGates {
		if g.IsTerminal() {
			continue
		}
		c.Requirements = append(c.Requirements, model.ArtifactRequirement{Gate: g, Types: []string{string(g) + "-doc"}})
		c.Policies = append(c.Policies, model.QuorumPolicy{Gate: g, MinParticipants: 3, MinApprovalFraction: 0.6})
	}
	return c
}

type fixture struct {
	ctx     context.Context
	store   *memory.Store
	machine *Machine
	reg     *artifact.Registry
	ledger  *quorum.Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()
	if err := s.CreateDeal(ctx, &model.Deal{ID: "deal-1", CurrentGate: model.GateScreen, EnteredAt: now, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatal(err)
	}
	log := audit.New(s)
	cat := catalog.Static{Catalog: testCatalog()}
	reg := artifact.NewRegistry(s, log, cat)
	ledger := quorum.NewLedger(s, log, cat)
	return &fixture{ctx: ctx, store: s, machine: NewMachine(s, log, reg, ledger), reg: reg, ledger: ledger}
}

func (f *fixture) tx(t *testing.T, fn func(tx store.Store) error) error {
	t.Helper()
	return f.store.RunInDealTransaction(f.ctx, "deal-1", fn)
}

func (f *fixture) satisfy(t *testing.T, gate model.Gate, choices ...model.VoteChoice) {
	t.Helper()
	err := f.tx(t, func(tx store.Store) error {
		if _, err := f.reg.WithTx(tx).Submit(f.ctx, "deal-1", gate, string(gate)+"-doc", "ref-"+string(gate), chair); err != nil {
			return err
		}
		for i, c := range choices {
			member := []string{"m1", "m2", "m3"}[i]
			if _, err := f.ledger.WithTx(tx).CastVote(f.ctx, "deal-1", gate, member, c, chair); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("satisfy %s: %v", gate, err)
	}
}

func (f *fixture) advance(t *testing.T, target model.Gate) (AdvanceResult, error) {
	t.Helper()
	var res AdvanceResult
	err := f.tx(t, func(tx store.Store) error {
		var err error
		res, err = f.machine.WithTx(tx).AttemptAdvance(f.ctx, "deal-1", target, chair)
		return err
	})
	return res, err
}

func (f *fixture) countKind(t *testing.T, kind model.ActionKind) int {
	t.Helper()
	entries, err := f.store.ListAudit(f.ctx, "deal-1", model.AuditFilter{Kinds: []model.ActionKind{kind}})
	if err != nil {
		t.Fatal(err)
	}
	return len(entries)
}

func TestAttemptAdvance_PreconditionOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.advance(t, model.GateLOI)
	if !errors.Is(err, model.ErrOutOfOrderTransition) {
		t.Fatalf("skip: err = %v, want OutOfOrderTransition", err)
	}

	_, err = f.advance(t, model.GateIOI)
	var we *model.WorkflowError
	if !errors.As(err, &we) || we.Reason != model.ReasonArtifactsIncomplete {
		t.Fatalf("no artifacts: err = %v", err)
	}
	if !slices.Equal(we.Detail.Missing, []string{"screen-doc"}) {
		t.Errorf("missing = %v", we.Detail.Missing)
	}

	f.satisfy(t, model.GateScreen, model.ChoiceApprove, model.ChoiceApprove)
	_, err = f.advance(t, model.GateIOI)
	if !errors.As(err, &we) || we.Reason != model.ReasonQuorumNotMet {
		t.Fatalf("two votes: err = %v", err)
	}
	if we.Detail.Participating != 2 || we.Detail.RequiredParticipants != 3 {
		t.Errorf("detail = %+v", we.Detail)
	}

	err = f.tx(t, func(tx store.Store) error {
		_, err := f.ledger.WithTx(tx).CastVote(f.ctx, "deal-1", model.GateScreen, "m3", model.ChoiceReject, chair)
		if err != nil {
			return err
		}
		_, err = f.ledger.WithTx(tx).CastVote(f.ctx, "deal-1", model.GateScreen, "m2", model.ChoiceReject, chair)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = f.advance(t, model.GateIOI)
	if !errors.As(err, &we) || we.Reason != model.ReasonApprovalBelowThreshold {
		t.Fatalf("1/3 approve: err = %v", err)
	}
	if we.Detail.RequiredFraction != 0.6 {
		t.Errorf("detail = %+v", we.Detail)
	}

	if g, _ := f.machine.CurrentGate(f.ctx, "deal-1"); g != model.GateScreen {
		t.Errorf("gate moved on failure: %s", g)
	}
	if n := f.countKind(t, model.ActionGateAdvanced); n != 0 {
		t.Errorf("GateAdvanced entries = %d after failures", n)
	}
}

func TestAttemptAdvance_SuccessAndIdempotentRetry(t *testing.T) {
	f := newFixture(t)
	f.satisfy(t, model.GateScreen, model.ChoiceApprove, model.ChoiceApprove, model.ChoiceReject)

	res, err := f.advance(t, model.GateIOI)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if res.From != model.GateScreen || res.To != model.GateIOI || res.AlreadyAtGate || res.Seq == 0 {
		t.Errorf("result = %+v", res)
	}
	if res.Outcome.Status != model.OutcomeApproved {
		t.Errorf("outcome = %+v", res.Outcome)
	}

	retry, err := f.advance(t, model.GateIOI)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !retry.AlreadyAtGate || retry.From != model.GateScreen || retry.Seq != 0 {
		t.Errorf("retry = %+v", retry)
	}
	if n := f.countKind(t, model.ActionGateAdvanced); n != 1 {
		t.Errorf("GateAdvanced entries = %d, want 1", n)
	}

	// The new gate opens with an empty window.
	c, _ := f.reg.IsComplete(f.ctx, "deal-1", model.GateIOI)
	o, _ := f.ledger.Outcome(f.ctx, "deal-1", model.GateIOI)
	if c.Complete || o.Participating != 0 {
		t.Errorf("IOI window not empty: %+v %+v", c, o)
	}

	// Backward moves are out of order.
	if _, err := f.advance(t, model.GateScreen); !errors.Is(err, model.ErrOutOfOrderTransition) {
		t.Errorf("backward: err = %v", err)
	}
}

func TestAttemptAdvance_ScreenRetryIsOutOfOrder(t *testing.T) {
	f := newFixture(t)
	if _, err := f.advance(t, model.GateScreen); !errors.Is(err, model.ErrOutOfOrderTransition) {
		t.Fatalf("err = %v, want OutOfOrderTransition", err)
	}
}

func TestAttemptAdvance_FullLifecycle(t *testing.T) {
	f := newFixture(t)
	prev := model.GateScreen
	for _, g := range model.AllGates[1:] {
		f.satisfy(t, prev, model.ChoiceApprove, model.ChoiceApprove, model.ChoiceApprove)
		res, err := f.advance(t, g)
		if err != nil {
			t.Fatalf("advance to %s: %v", g, err)
		}
		if res.Terminal != g.IsTerminal() {
			t.Errorf("terminal at %s = %v", g, res.Terminal)
		}
		prev = g
	}

	// Close is final: a retry is idempotent, anything else is DealTerminal.
	if res, err := f.advance(t, model.GateClose); err != nil || !res.AlreadyAtGate {
		t.Errorf("retry Close = %+v, %v", res, err)
	}
	if _, err := f.advance(t, model.GateIC2); !errors.Is(err, model.ErrDealTerminal) {
		t.Errorf("after close: err = %v", err)
	}
	if n := f.countKind(t, model.ActionGateAdvanced); n != 5 {
		t.Errorf("GateAdvanced entries = %d, want 5", n)
	}
}

func TestAttemptAdvance_UnknownDealAndGate(t *testing.T) {
	f := newFixture(t)
	if _, err := f.machine.CurrentGate(f.ctx, "nope"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("CurrentGate(unknown) = %v", err)
	}
	if _, err := f.advance(t, "phase-2"); !errors.Is(err, model.ErrInvalidArgument) {
		t.Errorf("bad gate: err = %v", err)
	}
}
