package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/icgate/internal/catalog"
	"github.com/alfredjeanlab/icgate/internal/events"
	"github.com/alfredjeanlab/icgate/internal/model"
	"github.com/alfredjeanlab/icgate/internal/store/memory"
)

var (
	analyst = model.Actor{ID: "analyst", Role: "deal-team"}
	chair   = model.Actor{ID: "ic-chair", Role: "chair"}
)

// scenarioCatalog: Screen needs one artifact and a simple majority of a
// three-member roster; every later gate needs one artifact and 3 at 0.6.
func scenarioCatalog() *catalog.Catalog {
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
		typ := string(g) + "-doc"
		p := model.QuorumPolicy{Gate: g, MinParticipants: 3, MinApprovalFraction: 0.6}
		if g == model.GateScreen {
			typ = "market-analysis-summary"
			p = model.QuorumPolicy{Gate: g, MinParticipants: 2, MinApprovalFraction: 0.5}
		}
		c.Requirements = append(c.Requirements, model.ArtifactRequirement{Gate: g, Types: []string{typ}})
		c.Policies = append(c.Policies, p)
	}
	return c
}

type fixture struct {
	ctx   context.Context
	store *memory.Store
	rec   *events.Recorder
	o     *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memory.New()
	rec := events.NewRecorder()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	o := New(s, catalog.Static{Catalog: scenarioCatalog()},
		WithPublisher(rec), WithLogger(logger), WithAuditPageSize(4))
	return &fixture{ctx: context.Background(), store: s, rec: rec, o: o}
}

func (f *fixture) create(t *testing.T, id string) {
	t.Helper()
	if _, err := f.o.CreateDeal(f.ctx, id, "Project "+id, analyst); err != nil {
		t.Fatalf("CreateDeal(%s): %v", id, err)
	}
}

func (f *fixture) pass(t *testing.T, dealID string, g model.Gate) {
	t.Helper()
	typ := string(g) + "-doc"
	if g == model.GateScreen {
		typ = "market-analysis-summary"
	}
	if _, err := f.o.SubmitArtifact(f.ctx, dealID, g, typ, "ref-"+string(g), analyst); err != nil {
		t.Fatalf("submit %s: %v", g, err)
	}
	for _, m := range []string{"m1", "m2", "m3"} {
		if _, err := f.o.CastVote(f.ctx, dealID, g, m, model.ChoiceApprove, model.Actor{ID: m}); err != nil {
			t.Fatalf("vote %s/%s: %v", g, m, err)
		}
	}
}

func (f *fixture) audit(t *testing.T, dealID string) []*model.AuditEntry {
	t.Helper()
	var out []*model.AuditEntry
	for e, err := range f.o.History(f.ctx, dealID, model.AuditFilter{}) {
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, e)
	}
	return out
}

func countKind(entries []*model.AuditEntry, kind model.ActionKind) int {
	n := 0
	for _, e := range entries {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func TestEndToEnd_ScreenToIOI(t *testing.T) {
	f := newFixture(t)
	f.create(t, "deal-1")

	if _, err := f.o.SubmitArtifact(f.ctx, "deal-1", model.GateScreen, "market-analysis-summary", "doc-42", analyst); err != nil {
		t.Fatal(err)
	}
	snap, err := f.o.State(f.ctx, "deal-1")
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Artifacts.Complete {
		t.Fatalf("artifacts = %+v, want complete", snap.Artifacts)
	}

	for _, m := range []string{"m1", "m2", "m3"} {
		if _, err := f.o.CastVote(f.ctx, "deal-1", model.GateScreen, m, model.ChoiceApprove, model.Actor{ID: m}); err != nil {
			t.Fatal(err)
		}
	}
	snap, _ = f.o.State(f.ctx, "deal-1")
	if snap.VoteOutcome.Status != model.OutcomeApproved || !snap.CanAdvance || snap.NextGate != model.GateIOI {
		t.Fatalf("snapshot = %+v", snap)
	}

	before := countKind(f.audit(t, "deal-1"), model.ActionGateAdvanced)
	res, err := f.o.Advance(f.ctx, "deal-1", model.GateIOI, chair)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if res.To != model.GateIOI {
		t.Errorf("result = %+v", res)
	}
	if g, _ := f.o.CurrentGate(f.ctx, "deal-1"); g != model.GateIOI {
		t.Errorf("CurrentGate = %s, want ioi", g)
	}
	if after := countKind(f.audit(t, "deal-1"), model.ActionGateAdvanced); after != before+1 {
		t.Errorf("GateAdvanced entries %d -> %d", before, after)
	}

	_, err = f.o.CastVote(f.ctx, "deal-1", model.GateScreen, "m1", model.ChoiceReject, model.Actor{ID: "m1"})
	if !errors.Is(err, model.ErrGateClosed) {
		t.Fatalf("vote on closed Screen: err = %v, want GateClosed", err)
	}

	want := []string{
		events.TopicDealCreated,
		events.TopicArtifactSubmitted,
		events.TopicVoteCast, events.TopicVoteCast, events.TopicVoteCast,
		events.TopicGateAdvanced,
	}
	if got := f.rec.Topics(); !slices.Equal(got, want) {
		t.Errorf("published %v, want %v", got, want)
	}
}

func TestAdvance_IdempotentRetry(t *testing.T) {
	f := newFixture(t)
	f.create(t, "deal-1")
	f.pass(t, "deal-1", model.GateScreen)

	if _, err := f.o.Advance(f.ctx, "deal-1", model.GateIOI, chair); err != nil {
		t.Fatal(err)
	}
	published := len(f.rec.Topics())

	res, err := f.o.Advance(f.ctx, "deal-1", model.GateIOI, chair)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !res.AlreadyAtGate {
		t.Errorf("retry = %+v, want AlreadyAtGate", res)
	}
	if n := countKind(f.audit(t, "deal-1"), model.ActionGateAdvanced); n != 1 {
		t.Errorf("GateAdvanced entries = %d, want 1", n)
	}
	if len(f.rec.Topics()) != published {
		t.Error("retry published an event")
	}
}

func TestZeroVotesIsPending(t *testing.T) {
	f := newFixture(t)
	f.create(t, "deal-1")
	snap, err := f.o.State(f.ctx, "deal-1")
	if err != nil {
		t.Fatal(err)
	}
	if snap.VoteOutcome.Status != model.OutcomePending || snap.CanAdvance {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Votes == nil || snap.Artifacts.Missing == nil {
		t.Error("empty collections should be non-nil")
	}
}

func TestUnknownArtifactTypeLeavesCompletenessUnchanged(t *testing.T) {
	f := newFixture(t)
	f.create(t, "deal-1")
	before, _ := f.o.State(f.ctx, "deal-1")

	_, err := f.o.SubmitArtifact(f.ctx, "deal-1", model.GateScreen, "term-sheet", "doc-1", analyst)
	var we *model.WorkflowError
	if !errors.As(err, &we) || we.Reason != model.ReasonUnknownArtifactType || we.Detail.ArtifactType != "term-sheet" {
		t.Fatalf("err = %v", err)
	}

	after, _ := f.o.State(f.ctx, "deal-1")
	if !reflect.DeepEqual(before.Artifacts, after.Artifacts) || before.LastSeq != after.LastSeq {
		t.Errorf("state changed: %+v -> %+v", before, after)
	}
}

func TestGateNeverDecreasesOrSkips(t *testing.T) {
	f := newFixture(t)
	f.create(t, "deal-1")

	observed := []model.Gate{model.GateScreen}
	attempts := []model.Gate{model.GateLOI, model.GateClose, model.GateScreen}
	for _, target := range model.AllGates[1:] {
		for _, bad := range attempts {
			_, _ = f.o.Advance(f.ctx, "deal-1", bad, chair)
			g, _ := f.o.CurrentGate(f.ctx, "deal-1")
			observed = append(observed, g)
		}
		prev, _ := target.Prev()
		f.pass(t, "deal-1", prev)
		if _, err := f.o.Advance(f.ctx, "deal-1", target, chair); err != nil {
			t.Fatalf("advance to %s: %v", target, err)
		}
		g, _ := f.o.CurrentGate(f.ctx, "deal-1")
		observed = append(observed, g)
	}

	for i := 1; i < len(observed); i++ {
		d := observed[i].Index() - observed[i-1].Index()
		if d < 0 || d > 1 {
			t.Fatalf("gate moved %s -> %s", observed[i-1], observed[i])
		}
	}

	snap, _ := f.o.State(f.ctx, "deal-1")
	if !snap.Terminal || snap.CurrentGate != model.GateClose || snap.NextGate != "" {
		t.Errorf("final snapshot = %+v", snap)
	}
	if _, err := f.o.SubmitArtifact(f.ctx, "deal-1", model.GateClose, "x", "y", analyst); !errors.Is(err, model.ErrDealTerminal) {
		t.Errorf("submit after Close: err = %v", err)
	}
}

func TestReplayReconstructsState(t *testing.T) {
	f := newFixture(t)
	f.create(t, "deal-1")
	f.pass(t, "deal-1", model.GateScreen)
	if _, err := f.o.Advance(f.ctx, "deal-1", model.GateIOI, chair); err != nil {
		t.Fatal(err)
	}
	if _, err := f.o.SubmitArtifact(f.ctx, "deal-1", model.GateIOI, "ioi-doc", "v1", analyst); err != nil {
		t.Fatal(err)
	}
	if _, err := f.o.InvalidateArtifact(f.ctx, "deal-1", model.GateIOI, "ioi-doc", "unsigned", chair); err != nil {
		t.Fatal(err)
	}
	if _, err := f.o.CastVote(f.ctx, "deal-1", model.GateIOI, "m2", model.ChoiceReject, model.Actor{ID: "m2"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.o.CastVote(f.ctx, "deal-1", model.GateIOI, "m2", model.ChoiceAbstain, model.Actor{ID: "m2"}); err != nil {
		t.Fatal(err)
	}

	entries := f.audit(t, "deal-1")
	for i, e := range entries {
		if e.Seq != int64(i+1) {
			t.Fatalf("seq %d at position %d", e.Seq, i)
		}
	}

	live, err := f.o.State(f.ctx, "deal-1")
	if err != nil {
		t.Fatal(err)
	}
	replayed, err := f.o.Rebuild(f.ctx, "deal-1")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(live, replayed) {
		t.Errorf("replayed snapshot differs\nlive:     %+v\nreplayed: %+v", live, replayed)
	}

	r, err := f.o.Verify(f.ctx, "deal-1")
	if err != nil || !r.Valid || r.Entries != len(entries) {
		t.Errorf("Verify = %+v, %v", r, err)
	}
}

func TestHistoryFilters(t *testing.T) {
	f := newFixture(t)
	f.create(t, "deal-1")
	f.pass(t, "deal-1", model.GateScreen)

	var kinds []model.ActionKind
	for e, err := range f.o.History(f.ctx, "deal-1", model.AuditFilter{SinceSeq: 1, Kinds: []model.ActionKind{model.ActionVoteCast}}) {
		if err != nil {
			t.Fatal(err)
		}
		kinds = append(kinds, e.Kind)
	}
	if len(kinds) != 3 {
		t.Errorf("vote entries = %v", kinds)
	}

	for _, err := range f.o.History(f.ctx, "nope", model.AuditFilter{}) {
		if !errors.Is(err, model.ErrNotFound) {
			t.Errorf("unknown deal: err = %v", err)
		}
	}
}

func TestCreateDeal(t *testing.T) {
	f := newFixture(t)

	d, err := f.o.CreateDeal(f.ctx, "", "Generated", analyst)
	if err != nil {
		t.Fatal(err)
	}
	if d.CurrentGate != model.GateScreen || len(d.ID) == 0 {
		t.Errorf("deal = %+v", d)
	}

	f.create(t, "deal-1")
	if _, err := f.o.CreateDeal(f.ctx, "deal-1", "again", analyst); !errors.Is(err, model.ErrInvalidArgument) {
		t.Errorf("duplicate: err = %v", err)
	}
	if _, err := f.o.CreateDeal(f.ctx, "bad id!", "", analyst); !errors.Is(err, model.ErrInvalidArgument) {
		t.Errorf("bad id: err = %v", err)
	}
	if _, err := f.o.CreateDeal(f.ctx, "deal-2", "", model.Actor{}); !errors.Is(err, model.ErrInvalidArgument) {
		t.Errorf("no actor: err = %v", err)
	}

	deals, err := f.o.ListDeals(f.ctx, model.DealFilter{})
	if err != nil || len(deals) != 2 {
		t.Errorf("ListDeals = %d, %v", len(deals), err)
	}
	if _, err := f.o.ListDeals(f.ctx, model.DealFilter{Gates: []model.Gate{"nope"}}); !errors.Is(err, model.ErrInvalidArgument) {
		t.Errorf("bad gate filter: err = %v", err)
	}
}

func TestUnknownDeal(t *testing.T) {
	f := newFixture(t)
	checks := map[string]error{}
	_, checks["advance"] = f.o.Advance(f.ctx, "nope", model.GateIOI, chair)
	_, checks["submit"] = f.o.SubmitArtifact(f.ctx, "nope", model.GateScreen, "market-analysis-summary", "x", analyst)
	_, checks["vote"] = f.o.CastVote(f.ctx, "nope", model.GateScreen, "m1", model.ChoiceApprove, chair)
	_, checks["state"] = f.o.State(f.ctx, "nope")
	_, checks["verify"] = f.o.Verify(f.ctx, "nope")
	_, checks["rebuild"] = f.o.Rebuild(f.ctx, "nope")
	for op, err := range checks {
		if !errors.Is(err, model.ErrNotFound) {
			t.Errorf("%s: err = %v, want NotFound", op, err)
		}
	}
}

func TestStoreUnavailableIsRetriable(t *testing.T) {
	f := newFixture(t)
	f.create(t, "deal-1")
	_ = f.store.Close()

	_, err := f.o.CastVote(f.ctx, "deal-1", model.GateScreen, "m1", model.ChoiceApprove, chair)
	we, ok := model.AsWorkflowError(err)
	if !ok || we.Reason != model.ReasonStoreUnavailable || !we.Retriable() {
		t.Fatalf("err = %v, want retriable StoreUnavailable", err)
	}
	if err := f.o.Ping(f.ctx); !errors.Is(err, model.ErrStoreUnavailable) {
		t.Errorf("Ping = %v", err)
	}
}

func TestConcurrentVotesAndAdvance(t *testing.T) {
	f := newFixture(t)
	const deals = 8
	for i := range deals {
		id := fmt.Sprintf("deal-%d", i)
		f.create(t, id)
		if _, err := f.o.SubmitArtifact(f.ctx, id, model.GateScreen, "market-analysis-summary", "doc", analyst); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	for i := range deals {
		id := fmt.Sprintf("deal-%d", i)
		for _, m := range []string{"m1", "m2", "m3"} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 5 {
					_, _ = f.o.CastVote(f.ctx, id, model.GateScreen, m, model.ChoiceReject, model.Actor{ID: m})
					_, _ = f.o.CastVote(f.ctx, id, model.GateScreen, m, model.ChoiceApprove, model.Actor{ID: m})
				}
			}()
		}
		for range 3 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 10 {
					_, _ = f.o.Advance(f.ctx, id, model.GateIOI, chair)
					_, _ = f.o.State(f.ctx, id)
				}
			}()
		}
	}
	wg.Wait()

	for i := range deals {
		id := fmt.Sprintf("deal-%d", i)
		// Finish any deal whose advance lost every race.
		if _, err := f.o.Advance(f.ctx, id, model.GateIOI, chair); err != nil {
			t.Fatalf("%s final advance: %v", id, err)
		}
		entries := f.audit(t, id)
		if n := countKind(entries, model.ActionGateAdvanced); n != 1 {
			t.Errorf("%s GateAdvanced entries = %d, want 1", id, n)
		}
		for j, e := range entries {
			if e.Seq != int64(j+1) {
				t.Fatalf("%s seq %d at position %d", id, e.Seq, j)
			}
		}
		if r, _ := f.o.Verify(f.ctx, id); !r.Valid {
			t.Errorf("%s chain broken: %+v", id, r)
		}
	}
	if n := f.o.locks.size(); n != 0 {
		t.Errorf("lock table holds %d keys after all work finished", n)
	}
}

func TestStateAtFixedClock(t *testing.T) {
	at := time.Date(2026, 5, 4, 10, 30, 0, 999, time.UTC)
	s := memory.New()
	o := New(s, catalog.Static{Catalog: scenarioCatalog()}, WithClock(func() time.Time { return at }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if _, err := o.CreateDeal(context.Background(), "deal-1", "", analyst); err != nil {
		t.Fatal(err)
	}
	snap, err := o.State(context.Background(), "deal-1")
	if err != nil {
		t.Fatal(err)
	}
	if !snap.EnteredAt.Equal(at.Truncate(time.Microsecond)) {
		t.Errorf("EnteredAt = %v", snap.EnteredAt)
	}
}
