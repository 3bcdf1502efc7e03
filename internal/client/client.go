// Package client provides a transport-agnostic interface for the icgate
// service with HTTP/JSON and gRPC implementations.
package client

import (
	"context"
	"time"

	"github.com/alfredjeanlab/icgate/internal/audit"
	"github.com/alfredjeanlab/icgate/internal/catalog"
	"github.com/alfredjeanlab/icgate/internal/gate"
	"github.com/alfredjeanlab/icgate/internal/model"
)

// Client is the interface the icgate CLI uses to talk to the server.
// Workflow rejections come back as *model.WorkflowError.
type Client interface {
	CreateDeal(ctx context.Context, req *CreateDealRequest) (*model.Deal, error)
	ListDeals(ctx context.Context, req *ListDealsRequest) ([]*model.Deal, error)

	Advance(ctx context.Context, req *AdvanceRequest) (*gate.AdvanceResult, error)
	SubmitArtifact(ctx context.Context, req *SubmitArtifactRequest) (*ArtifactResult, error)
	InvalidateArtifact(ctx context.Context, req *InvalidateArtifactRequest) (*ArtifactResult, error)
	CastVote(ctx context.Context, req *CastVoteRequest) (*VoteResult, error)

	GetState(ctx context.Context, dealID string) (*model.DealSnapshot, error)
	AuditHistory(ctx context.Context, req *AuditRequest) (*AuditPage, error)
	VerifyAudit(ctx context.Context, dealID string) (*audit.Report, error)
	GetCatalog(ctx context.Context) (*catalog.Catalog, error)

	Health(ctx context.Context) (string, error)
	Close() error
}

// Actor identifies who issues a command.
type Actor struct {
	Actor     string `json:"actor"`
	ActorRole string `json:"actor_role,omitempty"`
}

// CreateDealRequest holds parameters for opening a deal. An empty ID lets
// the server generate one.
type CreateDealRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Actor
}

// ListDealsRequest holds parameters for listing deals.
type ListDealsRequest struct {
	Gates    []string `json:"gates,omitempty"`
	Terminal *bool    `json:"terminal,omitempty"`
	Limit    int      `json:"limit,omitempty"`
	Offset   int      `json:"offset,omitempty"`
}

// AdvanceRequest asks to move a deal to Target.
type AdvanceRequest struct {
	DealID string `json:"deal_id"`
	Target string `json:"target"`
	Actor
}

// SubmitArtifactRequest records an artifact reference against a gate.
type SubmitArtifactRequest struct {
	DealID       string `json:"deal_id"`
	Gate         string `json:"gate"`
	ArtifactType string `json:"artifact_type"`
	ReferenceID  string `json:"reference_id"`
	Actor
}

// InvalidateArtifactRequest marks the current submission of a type invalid.
type InvalidateArtifactRequest struct {
	DealID       string `json:"deal_id"`
	Gate         string `json:"gate"`
	ArtifactType string `json:"artifact_type"`
	Reason       string `json:"reason"`
	Actor
}

// CastVoteRequest records an IC member's choice.
type CastVoteRequest struct {
	DealID   string `json:"deal_id"`
	Gate     string `json:"gate"`
	MemberID string `json:"member_id"`
	Choice   string `json:"choice"`
	Actor
}

// AuditRequest selects one page of a deal's history.
type AuditRequest struct {
	DealID string     `json:"deal_id"`
	Since  int64      `json:"since,omitempty"`
	Kinds  []string   `json:"kinds,omitempty"`
	From   *time.Time `json:"from,omitempty"`
	To     *time.Time `json:"to,omitempty"`
	Limit  int        `json:"limit,omitempty"`
}

// ArtifactResult is the response to a submit or invalidate. Changed is
// false when the call was an idempotent repeat.
type ArtifactResult struct {
	Submission *model.ArtifactSubmission `json:"submission"`
	Supersedes string                    `json:"supersedes,omitempty"`
	Seq        int64                     `json:"seq"`
	Changed    bool                      `json:"changed"`
}

// VoteResult is the response to a cast vote.
type VoteResult struct {
	Vote     *model.Vote      `json:"vote"`
	Previous model.VoteChoice `json:"previous,omitempty"`
	Seq      int64            `json:"seq"`
	Changed  bool             `json:"changed"`
}

// AuditPage is one page of history. Pass NextSince as Since to continue.
type AuditPage struct {
	DealID    string              `json:"deal_id"`
	Entries   []*model.AuditEntry `json:"entries"`
	NextSince int64               `json:"next_since"`
	More      bool                `json:"more"`
}

type dealList struct {
	Deals []*model.Deal `json:"deals"`
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
