package store

import (
	"context"
	"errors"

	"github.com/alfredjeanlab/icgate/internal/model"
)

var (
	// ErrNotFound is returned when an addressed row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable wraps failures of the durable store itself.
	ErrUnavailable = errors.New("store unavailable")
	// ErrConflict is returned when a write collides with an existing row
	// that must not be replaced (deal ids, audit sequence numbers).
	ErrConflict = errors.New("conflict")
)

// Store defines the persistence interface for the gate workflow.
type Store interface {
	// Deals (deal_gate_state)
	CreateDeal(ctx context.Context, deal *model.Deal) error
	GetDeal(ctx context.Context, id string) (*model.Deal, error)
	ListDeals(ctx context.Context, filter model.DealFilter) ([]*model.Deal, error)
	UpdateDeal(ctx context.Context, deal *model.Deal) error

	// Artifacts (artifact_submissions), upsert by (deal, gate, type).
	UpsertArtifact(ctx context.Context, a *model.ArtifactSubmission) error
	ListArtifacts(ctx context.Context, dealID string, gate model.Gate) ([]*model.ArtifactSubmission, error)

	// Votes (votes), upsert by (deal, gate, member).
	UpsertVote(ctx context.Context, v *model.Vote) error
	ListVotes(ctx context.Context, dealID string, gate model.Gate) ([]*model.Vote, error)

	// Audit (audit_log), append-only. AppendAudit assigns entry.ID; the
	// caller assigns entry.Seq and a duplicate (deal, seq) is ErrConflict.
	AppendAudit(ctx context.Context, entry *model.AuditEntry) error
	ListAudit(ctx context.Context, dealID string, filter model.AuditFilter) ([]*model.AuditEntry, error)
	LastAudit(ctx context.Context, dealID string) (*model.AuditEntry, error)

	// RunInDealTransaction runs fn inside the per-deal critical section.
	// Writes made through tx become visible to other readers only when fn
	// returns nil; any error discards them all.
	RunInDealTransaction(ctx context.Context, dealID string, fn func(tx Store) error) error

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}
