// Package artifact tracks the artifacts required and supplied per deal and gate.
package artifact

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

// Result reports a registry mutation. Seq is the audit sequence number of
// the recorded action, or 0 when the call changed nothing.
type Result struct {
	Submission *model.ArtifactSubmission
	Supersedes string
	Seq        int64
}

// Registry records artifact submissions and decides completeness.
type Registry struct {
	db      store.Store
	log     *audit.Log
	catalog catalog.Provider
	now     func() time.Time
}

// NewRegistry creates a Registry reading and writing through db.
func NewRegistry(db store.Store, log *audit.Log, cat catalog.Provider) *Registry {
	return &Registry{db: db, log: log, catalog: cat, now: time.Now}
}

// WithTx returns a copy of the registry bound to a deal transaction.
func (r *Registry) WithTx(tx store.Store) *Registry {
	c := *r
	c.db = tx
	return &c
}

// WithClock returns a copy of the registry using now as its time source.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	c := *r
	c.now = now
	return &c
}

// Submit records referenceID as the current submission of artifactType for
// the deal's open gate, superseding any earlier one. Resubmitting the
// reference that is already current and valid is a no-op.
func (r *Registry) Submit(ctx context.Context, dealID string, gate model.Gate, artifactType, referenceID string, actor model.Actor) (Result, error) {
	artifactType = strings.TrimSpace(artifactType)
	referenceID = strings.TrimSpace(referenceID)
	switch {
	case artifactType == "":
		return Result{}, model.InvalidArgumentError("artifact_type is required")
	case referenceID == "":
		return Result{}, model.InvalidArgumentError("reference_id is required")
	}

	deal, err := openGate(ctx, r.db, dealID, gate)
	if err != nil {
		return Result{}, err
	}
	if !r.catalog.Current().Requires(gate, artifactType) {
		return Result{}, model.UnknownArtifactTypeError(dealID, gate, artifactType)
	}

	prev, err := r.current(ctx, dealID, gate, artifactType)
	if err != nil {
		return Result{}, err
	}
	if prev != nil && prev.Valid && prev.ReferenceID == referenceID {
		return Result{Submission: prev}, nil
	}

	now := audit.Timestamp(r.now())
	sub := &model.ArtifactSubmission{
		DealID:       dealID,
		Gate:         gate,
		ArtifactType: artifactType,
		ReferenceID:  referenceID,
		SubmittedBy:  actor.ID,
		SubmittedAt:  now,
		Valid:        true,
	}
	res := Result{Submission: sub}
	if prev != nil {
		res.Supersedes = prev.ReferenceID
	}

	if err := r.db.UpsertArtifact(ctx, sub); err != nil {
		return Result{}, err
	}
	res.Seq, err = r.log.Append(ctx, r.db, &model.AuditEntry{
		DealID:    dealID,
		Kind:      model.ActionArtifactSubmitted,
		Gate:      gate,
		Actor:     actor.ID,
		ActorRole: actor.Role,
		CreatedAt: now,
	}, model.ArtifactSubmittedPayload{ArtifactType: artifactType, ReferenceID: referenceID, Supersedes: res.Supersedes})
	if err != nil {
		return Result{}, err
	}
	if err := touch(ctx, r.db, deal, now); err != nil {
		return Result{}, err
	}
	return res, nil
}

// Invalidate marks the current submission of artifactType invalid. A
// submission that is already invalid is left as is.
func (r *Registry) Invalidate(ctx context.Context, dealID string, gate model.Gate, artifactType, reason string, actor model.Actor) (Result, error) {
	artifactType = strings.TrimSpace(artifactType)
	reason = strings.TrimSpace(reason)
	switch {
	case artifactType == "":
		return Result{}, model.InvalidArgumentError("artifact_type is required")
	case reason == "":
		return Result{}, model.InvalidArgumentError("reason is required")
	}

	deal, err := openGate(ctx, r.db, dealID, gate)
	if err != nil {
		return Result{}, err
	}
	if !r.catalog.Current().Requires(gate, artifactType) {
		return Result{}, model.UnknownArtifactTypeError(dealID, gate, artifactType)
	}

	sub, err := r.current(ctx, dealID, gate, artifactType)
	if err != nil {
		return Result{}, err
	}
	if sub == nil {
		we := model.NotFoundError("submission of "+artifactType+" for deal", dealID)
		we.Detail.CurrentGate = gate
		we.Detail.ArtifactType = artifactType
		return Result{}, we
	}
	if !sub.Valid {
		return Result{Submission: sub}, nil
	}

	now := audit.Timestamp(r.now())
	sub.Valid = false
	sub.InvalidReason = reason
	sub.InvalidatedBy = actor.ID
	sub.InvalidatedAt = &now

	if err := r.db.UpsertArtifact(ctx, sub); err != nil {
		return Result{}, err
	}
	seq, err := r.log.Append(ctx, r.db, &model.AuditEntry{
		DealID:    dealID,
		Kind:      model.ActionArtifactInvalidated,
		Gate:      gate,
		Actor:     actor.ID,
		ActorRole: actor.Role,
		CreatedAt: now,
	}, model.ArtifactInvalidatedPayload{ArtifactType: artifactType, ReferenceID: sub.ReferenceID, Reason: reason})
	if err != nil {
		return Result{}, err
	}
	if err := touch(ctx, r.db, deal, now); err != nil {
		return Result{}, err
	}
	return Result{Submission: sub, Seq: seq}, nil
}

// IsComplete reports whether every artifact type required at gate has a
// valid submission for the deal.
func (r *Registry) IsComplete(ctx context.Context, dealID string, gate model.Gate) (model.Completeness, error) {
	if _, err := loadDeal(ctx, r.db, dealID); err != nil {
		return model.Completeness{}, err
	}
	subs, err := r.db.ListArtifacts(ctx, dealID, gate)
	if err != nil {
		return model.Completeness{}, err
	}
	return Evaluate(r.catalog.Current().RequiredTypes(gate), subs), nil
}

// List returns the current submission per artifact type for a gate.
func (r *Registry) List(ctx context.Context, dealID string, gate model.Gate) ([]*model.ArtifactSubmission, error) {
	if _, err := loadDeal(ctx, r.db, dealID); err != nil {
		return nil, err
	}
	return r.db.ListArtifacts(ctx, dealID, gate)
}

// Evaluate compares the required types against the current submissions.
// Submissions of types that are no longer required are ignored.
func Evaluate(required []string, subs []*model.ArtifactSubmission) model.Completeness {
	byType := make(map[string]*model.ArtifactSubmission, len(subs))
	for _, s := range subs {
		byType[s.ArtifactType] = s
	}

	c := model.Completeness{Missing: []string{}, Artifacts: make([]model.ArtifactStatus, 0, len(required))}
	for _, t := range required {
		st := model.ArtifactStatus{Type: t}
		if s, ok := byType[t]; ok {
			st.Submitted = true
			st.ReferenceID = s.ReferenceID
			st.Valid = s.Valid
		}
		if !st.Valid {
			c.Missing = append(c.Missing, t)
		}
		c.Artifacts = append(c.Artifacts, st)
	}
	c.Complete = len(c.Missing) == 0
	return c
}

func (r *Registry) current(ctx context.Context, dealID string, gate model.Gate, artifactType string) (*model.ArtifactSubmission, error) {
	subs, err := r.db.ListArtifacts(ctx, dealID, gate)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(subs, func(s *model.ArtifactSubmission) bool { return s.ArtifactType == artifactType })
	if i < 0 {
		return nil, nil
	}
	return subs[i], nil
}

func loadDeal(ctx context.Context, db store.Store, dealID string) (*model.Deal, error) {
	deal, err := db.GetDeal(ctx, dealID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, model.NotFoundError("deal", dealID)
	}
	return deal, err
}

// openGate loads the deal and checks that gate is the one accepting input.
func openGate(ctx context.Context, db store.Store, dealID string, gate model.Gate) (*model.Deal, error) {
	if !gate.IsValid() {
		return nil, model.InvalidArgumentError("unknown gate %q", gate)
	}
	deal, err := loadDeal(ctx, db, dealID)
	if err != nil {
		return nil, err
	}
	if deal.Terminal {
		return nil, model.DealTerminalError(dealID)
	}
	if gate != deal.CurrentGate {
		return nil, model.GateClosedError(dealID, deal.CurrentGate, gate)
	}
	return deal, nil
}

func touch(ctx context.Context, db store.Store, deal *model.Deal, at time.Time) error {
	deal.UpdatedAt = at
	return db.UpdateDeal(ctx, deal)
}
