// Package workflow is the single entry point for commands and queries on
// deals. It serializes mutations per deal, commits each one atomically with
// its audit entry and announces committed changes.
package workflow

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/alfredjeanlab/icgate/internal/artifact"
	"github.com/alfredjeanlab/icgate/internal/audit"
	"github.com/alfredjeanlab/icgate/internal/catalog"
	"github.com/alfredjeanlab/icgate/internal/events"
	"github.com/alfredjeanlab/icgate/internal/gate"
	"github.com/alfredjeanlab/icgate/internal/idgen"
	"github.com/alfredjeanlab/icgate/internal/model"
	"github.com/alfredjeanlab/icgate/internal/quorum"
	"github.com/alfredjeanlab/icgate/internal/store"
)

// Orchestrator coordinates the artifact registry, vote ledger, gate machine
// and audit log. Every error it returns is a *model.WorkflowError.
type Orchestrator struct {
	store     store.Store
	catalog   catalog.Provider
	log       *audit.Log
	artifacts *artifact.Registry
	ledger    *quorum.Ledger
	machine   *gate.Machine
	publisher events.Publisher
	logger    *slog.Logger
	locks     *keyedMutex
	now       func() time.Time
	pageSize  int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPublisher sets where committed changes are announced.
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithAuditPageSize sets how many audit entries History fetches per page.
func WithAuditPageSize(n int) Option {
	return func(o *Orchestrator) { o.pageSize = n }
}

// New wires an Orchestrator over s using the reference data from cat.
func New(s store.Store, cat catalog.Provider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     s,
		catalog:   cat,
		publisher: &events.NoopPublisher{},
		logger:    slog.Default(),
		locks:     newKeyedMutex(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = audit.New(s, audit.WithClock(o.now), audit.WithPageSize(o.pageSize))
	o.artifacts = artifact.NewRegistry(s, o.log, cat).WithClock(o.now)
	o.ledger = quorum.NewLedger(s, o.log, cat).WithClock(o.now)
	o.machine = gate.NewMachine(s, o.log, o.artifacts, o.ledger).WithClock(o.now)
	return o
}

// Catalog returns the reference data currently in force.
func (o *Orchestrator) Catalog() *catalog.Catalog {
	return o.catalog.Current()
}

// Ping checks the durable store.
func (o *Orchestrator) Ping(ctx context.Context) error {
	if err := o.store.Ping(ctx); err != nil {
		return model.StoreUnavailableError("", err)
	}
	return nil
}

// CreateDeal opens a new deal at Screen. An empty id gets a generated one.
func (o *Orchestrator) CreateDeal(ctx context.Context, id, name string, actor model.Actor) (*model.Deal, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		var err error
		if id, err = idgen.NewDealID(); err != nil {
			return nil, model.StoreUnavailableError("", err)
		}
	}
	if !idgen.Valid(id) {
		return nil, model.InvalidArgumentError("invalid deal id %q", id)
	}

	now := audit.Timestamp(o.now())
	deal := &model.Deal{
		ID:          id,
		Name:        strings.TrimSpace(name),
		CurrentGate: model.GateScreen,
		EnteredAt:   now,
		CreatedAt:   now,
		CreatedBy:   actor.ID,
		UpdatedAt:   now,
	}
	var seq int64
	err := o.mutate(ctx, "create_deal", id, actor, func(tx store.Store) error {
		if err := tx.CreateDeal(ctx, deal); err != nil {
			if errors.Is(err, store.ErrConflict) {
				we := model.InvalidArgumentError("deal %s already exists", id)
				we.Detail.DealID = id
				return we
			}
			return err
		}
		var err error
		seq, err = o.log.Append(ctx, tx, &model.AuditEntry{
			DealID:    id,
			Kind:      model.ActionDealCreated,
			Gate:      model.GateScreen,
			Actor:     actor.ID,
			ActorRole: actor.Role,
			CreatedAt: now,
		}, model.DealCreatedPayload{Name: deal.Name, Gate: model.GateScreen})
		return err
	})
	if err != nil {
		return nil, err
	}
	o.publish(ctx, events.TopicDealCreated, events.DealCreated{Deal: deal, Seq: seq})
	return deal, nil
}

// Advance moves a deal to target, its immediate successor gate. This is
// the only operation that changes a deal's gate.
func (o *Orchestrator) Advance(ctx context.Context, dealID string, target model.Gate, actor model.Actor) (gate.AdvanceResult, error) {
	var res gate.AdvanceResult
	err := o.mutate(ctx, "advance", dealID, actor, func(tx store.Store) error {
		var err error
		res, err = o.machine.WithTx(tx).AttemptAdvance(ctx, dealID, target, actor)
		return err
	})
	if err != nil {
		return gate.AdvanceResult{}, err
	}
	if res.Seq > 0 {
		o.publish(ctx, events.TopicGateAdvanced, events.GateAdvanced{
			DealID: dealID, From: res.From, To: res.To, Actor: actor.ID, Seq: res.Seq,
		})
	}
	return res, nil
}

// SubmitArtifact records an artifact against the deal's open gate.
func (o *Orchestrator) SubmitArtifact(ctx context.Context, dealID string, g model.Gate, artifactType, referenceID string, actor model.Actor) (artifact.Result, error) {
	var res artifact.Result
	err := o.mutate(ctx, "submit_artifact", dealID, actor, func(tx store.Store) error {
		var err error
		res, err = o.artifacts.WithTx(tx).Submit(ctx, dealID, g, artifactType, referenceID, actor)
		return err
	})
	if err != nil {
		return artifact.Result{}, err
	}
	if res.Seq > 0 {
		o.publish(ctx, events.TopicArtifactSubmitted, events.ArtifactSubmitted{
			Submission: res.Submission, Supersedes: res.Supersedes, Seq: res.Seq,
		})
	}
	return res, nil
}

// InvalidateArtifact marks the current submission of a type invalid.
func (o *Orchestrator) InvalidateArtifact(ctx context.Context, dealID string, g model.Gate, artifactType, reason string, actor model.Actor) (artifact.Result, error) {
	var res artifact.Result
	err := o.mutate(ctx, "invalidate_artifact", dealID, actor, func(tx store.Store) error {
		var err error
		res, err = o.artifacts.WithTx(tx).Invalidate(ctx, dealID, g, artifactType, reason, actor)
		return err
	})
	if err != nil {
		return artifact.Result{}, err
	}
	if res.Seq > 0 {
		o.publish(ctx, events.TopicArtifactInvalidated, events.ArtifactInvalidated{Submission: res.Submission, Seq: res.Seq})
	}
	return res, nil
}

// CastVote records an IC member's vote on the deal's open gate.
func (o *Orchestrator) CastVote(ctx context.Context, dealID string, g model.Gate, memberID string, choice model.VoteChoice, actor model.Actor) (quorum.Result, error) {
	var (
		res     quorum.Result
		outcome model.Outcome
	)
	err := o.mutate(ctx, "cast_vote", dealID, actor, func(tx store.Store) error {
		ledger := o.ledger.WithTx(tx)
		var err error
		if res, err = ledger.CastVote(ctx, dealID, g, memberID, choice, actor); err != nil {
			return err
		}
		outcome, err = ledger.Outcome(ctx, dealID, g)
		return err
	})
	if err != nil {
		return quorum.Result{}, err
	}
	if res.Seq > 0 {
		o.publish(ctx, events.TopicVoteCast, events.VoteCast{Vote: res.Vote, Previous: res.Previous, Outcome: outcome, Seq: res.Seq})
	}
	return res, nil
}

// State returns the read model of a deal from the latest committed state.
// It reads without taking the deal's lock. Every commit appends to the
// audit log, so the rows are accepted only when the last sequence number
// read before them still holds after them; otherwise the read is retried.
func (o *Orchestrator) State(ctx context.Context, dealID string) (*model.DealSnapshot, error) {
	cat := o.catalog.Current()
	for range stateRetries {
		before, err := lastSeq(ctx, o.store, dealID)
		if err != nil {
			return nil, o.wrap(dealID, err)
		}
		st, err := readState(ctx, o.store, dealID)
		if err != nil {
			return nil, o.wrap(dealID, err)
		}
		if st.LastSeq == before {
			return buildSnapshot(cat, st), nil
		}
	}

	var st *audit.State
	err := o.store.RunInDealTransaction(ctx, dealID, func(tx store.Store) error {
		var err error
		st, err = readState(ctx, tx, dealID)
		return err
	})
	if err != nil {
		return nil, o.wrap(dealID, err)
	}
	return buildSnapshot(cat, st), nil
}

// Rebuild derives the read model of a deal purely from its audit history.
func (o *Orchestrator) Rebuild(ctx context.Context, dealID string) (*model.DealSnapshot, error) {
	entries, err := o.log.Entries(ctx, dealID, model.AuditFilter{})
	if err != nil {
		return nil, o.wrap(dealID, err)
	}
	if len(entries) == 0 {
		return nil, model.NotFoundError("deal", dealID)
	}
	st, err := audit.Replay(entries)
	if err != nil {
		return nil, model.StoreUnavailableError(dealID, err)
	}
	return buildSnapshot(o.catalog.Current(), st), nil
}

// CurrentGate returns the gate a deal is at.
func (o *Orchestrator) CurrentGate(ctx context.Context, dealID string) (model.Gate, error) {
	g, err := o.machine.CurrentGate(ctx, dealID)
	return g, o.wrap(dealID, err)
}

// History streams a deal's audit entries in sequence order.
func (o *Orchestrator) History(ctx context.Context, dealID string, filter model.AuditFilter) iter.Seq2[*model.AuditEntry, error] {
	return func(yield func(*model.AuditEntry, error) bool) {
		if _, err := o.store.GetDeal(ctx, dealID); err != nil {
			yield(nil, o.wrap(dealID, err))
			return
		}
		for e, err := range o.log.History(ctx, dealID, filter) {
			if err != nil {
				yield(nil, o.wrap(dealID, err))
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

// Verify checks the hash chain of a deal's audit history.
func (o *Orchestrator) Verify(ctx context.Context, dealID string) (audit.Report, error) {
	if _, err := o.store.GetDeal(ctx, dealID); err != nil {
		return audit.Report{}, o.wrap(dealID, err)
	}
	r, err := o.log.VerifyDeal(ctx, dealID)
	if err != nil {
		return audit.Report{}, o.wrap(dealID, err)
	}
	if !r.Valid {
		o.logger.Error("audit chain broken", "deal_id", dealID, "seq", r.BrokenSeq, "problem", r.Problem)
	}
	return r, nil
}

// ListDeals returns deals matching filter, ordered by id.
func (o *Orchestrator) ListDeals(ctx context.Context, filter model.DealFilter) ([]*model.Deal, error) {
	for _, g := range filter.Gates {
		if !g.IsValid() {
			return nil, model.InvalidArgumentError("unknown gate %q", g)
		}
	}
	deals, err := o.store.ListDeals(ctx, filter)
	if err != nil {
		return nil, model.StoreUnavailableError("", err)
	}
	return deals, nil
}

// mutate runs fn inside the deal's critical section: the in-process lock
// for the deal, then the store's deal transaction.
func (o *Orchestrator) mutate(ctx context.Context, op, dealID string, actor model.Actor, fn func(tx store.Store) error) error {
	var err error
	switch {
	case strings.TrimSpace(dealID) == "":
		err = model.InvalidArgumentError("deal_id is required")
	case strings.TrimSpace(actor.ID) == "":
		err = model.InvalidArgumentError("actor is required")
	default:
		unlock := o.locks.Lock(dealID)
		err = o.wrap(dealID, o.store.RunInDealTransaction(ctx, dealID, fn))
		unlock()
	}
	o.logResult(op, dealID, actor, err)
	return err
}

// wrap converts store and component errors into the workflow envelope.
func (o *Orchestrator) wrap(dealID string, err error) error {
	if err == nil {
		return nil
	}
	if we, ok := model.AsWorkflowError(err); ok {
		return we
	}
	if errors.Is(err, store.ErrNotFound) {
		return model.NotFoundError("deal", dealID)
	}
	return model.StoreUnavailableError(dealID, err)
}

func (o *Orchestrator) logResult(op, dealID string, actor model.Actor, err error) {
	attrs := []any{"op", op, "deal_id", dealID, "actor", actor.ID}
	if err == nil {
		o.logger.Info("workflow command applied", attrs...)
		return
	}
	we, _ := model.AsWorkflowError(err)
	attrs = append(attrs, "reason", we.Reason, "error", err)
	switch we.Class() {
	case model.ClassCompleteness:
		o.logger.Debug("gate not ready", attrs...)
	case model.ClassStorage:
		o.logger.Error("workflow command failed", attrs...)
	default:
		o.logger.Info("workflow command rejected", attrs...)
	}
}

// publish announces a committed change. Delivery is best effort; the
// change is already durable.
func (o *Orchestrator) publish(ctx context.Context, topic string, event any) {
	if err := o.publisher.Publish(context.WithoutCancel(ctx), topic, event); err != nil {
		o.logger.Warn("failed to publish event", "topic", topic, "error", err)
	}
}
