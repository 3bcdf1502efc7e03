package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/icgate/internal/model"
	"github.com/alfredjeanlab/icgate/internal/store"
)

func newDeal(id string) *model.Deal {
	now := time.Now().UTC()
	return &model.Deal{ID: id, CurrentGate: model.GateScreen, EnteredAt: now, CreatedAt: now, UpdatedAt: now}
}

func TestCreateAndGetDeal(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.GetDeal(ctx, "deal-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetDeal(missing) = %v, want ErrNotFound", err)
	}
	if err := s.CreateDeal(ctx, newDeal("deal-1")); err != nil {
		t.Fatalf("CreateDeal: %v", err)
	}
	if err := s.CreateDeal(ctx, newDeal("deal-1")); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("duplicate CreateDeal = %v, want ErrConflict", err)
	}
	d, err := s.GetDeal(ctx, "deal-1")
	if err != nil {
		t.Fatalf("GetDeal: %v", err)
	}
	if d.CurrentGate != model.GateScreen {
		t.Errorf("CurrentGate = %q, want screen", d.CurrentGate)
	}

	// Mutating the returned copy must not leak into the store.
	d.CurrentGate = model.GateClose
	again, _ := s.GetDeal(ctx, "deal-1")
	if again.CurrentGate != model.GateScreen {
		t.Error("GetDeal returned a shared pointer")
	}
}

func TestUpsertArtifactAndVote(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.CreateDeal(ctx, newDeal("deal-1")); err != nil {
		t.Fatal(err)
	}

	for _, ref := range []string{"doc-1", "doc-2"} {
		if err := s.UpsertArtifact(ctx, &model.ArtifactSubmission{
			DealID: "deal-1", Gate: model.GateScreen, ArtifactType: "market-analysis-summary", ReferenceID: ref, Valid: true,
		}); err != nil {
			t.Fatal(err)
		}
	}
	arts, err := s.ListArtifacts(ctx, "deal-1", model.GateScreen)
	if err != nil {
		t.Fatal(err)
	}
	if len(arts) != 1 || arts[0].ReferenceID != "doc-2" {
		t.Fatalf("artifacts = %+v, want single doc-2", arts)
	}

	for _, c := range []model.VoteChoice{model.ChoiceReject, model.ChoiceApprove} {
		if err := s.UpsertVote(ctx, &model.Vote{DealID: "deal-1", Gate: model.GateScreen, MemberID: "m1", Choice: c}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.UpsertVote(ctx, &model.Vote{DealID: "deal-1", Gate: model.GateIOI, MemberID: "m1", Choice: model.ChoiceReject}); err != nil {
		t.Fatal(err)
	}
	votes, _ := s.ListVotes(ctx, "deal-1", model.GateScreen)
	if len(votes) != 1 || votes[0].Choice != model.ChoiceApprove {
		t.Fatalf("screen votes = %+v, want single approve", votes)
	}
}

func TestTransaction_RollbackDiscardsWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.CreateDeal(ctx, newDeal("deal-1")); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	err := s.RunInDealTransaction(ctx, "deal-1", func(tx store.Store) error {
		d, err := tx.GetDeal(ctx, "deal-1")
		if err != nil {
			return err
		}
		d.CurrentGate = model.GateIOI
		if err := tx.UpdateDeal(ctx, d); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, &model.AuditEntry{DealID: "deal-1", Seq: 1, Kind: model.ActionGateAdvanced}); err != nil {
			return err
		}
		// Inside the transaction the write is visible.
		inTx, _ := tx.GetDeal(ctx, "deal-1")
		if inTx.CurrentGate != model.GateIOI {
			t.Errorf("in-tx gate = %q, want ioi", inTx.CurrentGate)
		}
		// Outside it is not.
		outside, _ := s.GetDeal(ctx, "deal-1")
		if outside.CurrentGate != model.GateScreen {
			t.Errorf("dirty read: gate = %q", outside.CurrentGate)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunInDealTransaction = %v, want boom", err)
	}

	d, _ := s.GetDeal(ctx, "deal-1")
	if d.CurrentGate != model.GateScreen {
		t.Errorf("rolled back gate = %q, want screen", d.CurrentGate)
	}
	if _, err := s.LastAudit(ctx, "deal-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("LastAudit after rollback = %v, want ErrNotFound", err)
	}
}

func TestTransaction_RejectsOtherDeal(t *testing.T) {
	s := New()
	ctx := context.Background()
	err := s.RunInDealTransaction(ctx, "deal-1", func(tx store.Store) error {
		return tx.CreateDeal(ctx, newDeal("deal-2"))
	})
	if err == nil {
		t.Fatal("expected error writing another deal inside a deal transaction")
	}
}

func TestAppendAudit_SeqMustIncrease(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.CreateDeal(ctx, newDeal("deal-1")); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendAudit(ctx, &model.AuditEntry{DealID: "deal-1", Seq: 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendAudit(ctx, &model.AuditEntry{DealID: "deal-1", Seq: 1}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("duplicate seq = %v, want ErrConflict", err)
	}
	if err := s.AppendAudit(ctx, &model.AuditEntry{DealID: "deal-1", Seq: 2}); err != nil {
		t.Fatal(err)
	}

	last, err := s.LastAudit(ctx, "deal-1")
	if err != nil || last.Seq != 2 {
		t.Fatalf("LastAudit = %+v, %v", last, err)
	}
	entries, _ := s.ListAudit(ctx, "deal-1", model.AuditFilter{SinceSeq: 1})
	if len(entries) != 1 || entries[0].Seq != 2 {
		t.Fatalf("ListAudit(since 1) = %+v", entries)
	}
	if entries[0].ID <= 0 {
		t.Errorf("audit ID not assigned: %d", entries[0].ID)
	}
}

func TestListDeals_Filter(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i := range 5 {
		d := newDeal(fmt.Sprintf("deal-%d", i))
		if i%2 == 1 {
			d.CurrentGate = model.GateIOI
		}
		if err := s.CreateDeal(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	all, _ := s.ListDeals(ctx, model.DealFilter{})
	if len(all) != 5 || all[0].ID != "deal-0" {
		t.Fatalf("ListDeals = %d deals, first %q", len(all), all[0].ID)
	}
	ioi, _ := s.ListDeals(ctx, model.DealFilter{Gates: []model.Gate{model.GateIOI}})
	if len(ioi) != 2 {
		t.Errorf("ioi deals = %d, want 2", len(ioi))
	}
	page, _ := s.ListDeals(ctx, model.DealFilter{Offset: 3, Limit: 5})
	if len(page) != 2 || page[0].ID != "deal-3" {
		t.Errorf("page = %+v", page)
	}
}

func TestConcurrentTransactions_SerializePerDeal(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.CreateDeal(ctx, newDeal("deal-1")); err != nil {
		t.Fatal(err)
	}

	const n = 50
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.RunInDealTransaction(ctx, "deal-1", func(tx store.Store) error {
				var next int64 = 1
				if last, err := tx.LastAudit(ctx, "deal-1"); err == nil {
					next = last.Seq + 1
				}
				return tx.AppendAudit(ctx, &model.AuditEntry{DealID: "deal-1", Seq: next})
			})
			if err != nil {
				t.Errorf("transaction: %v", err)
			}
		}()
	}
	wg.Wait()

	entries, _ := s.ListAudit(ctx, "deal-1", model.AuditFilter{})
	if len(entries) != n {
		t.Fatalf("entries = %d, want %d", len(entries), n)
	}
	for i, e := range entries {
		if e.Seq != int64(i+1) {
			t.Fatalf("entry %d seq = %d", i, e.Seq)
		}
	}
}

func TestClose_FailsUnavailable(t *testing.T) {
	s := New()
	_ = s.Close()
	if err := s.Ping(context.Background()); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("Ping after Close = %v, want ErrUnavailable", err)
	}
	if err := s.CreateDeal(context.Background(), newDeal("deal-1")); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("CreateDeal after Close = %v, want ErrUnavailable", err)
	}
}
