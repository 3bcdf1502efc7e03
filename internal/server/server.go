// Package server exposes the workflow orchestrator over HTTP (JSON and
// server-sent events) and gRPC.
package server

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/alfredjeanlab/icgate/internal/audit"
	"github.com/alfredjeanlab/icgate/internal/catalog"
	"github.com/alfredjeanlab/icgate/internal/gate"
	"github.com/alfredjeanlab/icgate/internal/model"
	"github.com/alfredjeanlab/icgate/internal/workflow"
)

// defaultAuditLimit is the page size of an audit query without a limit.
const defaultAuditLimit = 500

// Server translates transport requests into orchestrator calls. Both the
// HTTP and gRPC surfaces go through the same request types and methods.
type Server struct {
	wf       *workflow.Orchestrator
	hub      *Hub
	validate *validator.Validate
}

// New returns a Server over wf. hub may be nil, in which case the event
// stream endpoint reports that streaming is unavailable.
func New(wf *workflow.Orchestrator, hub *Hub) *Server {
	return &Server{wf: wf, hub: hub, validate: newValidator()}
}

// Response bodies that are not already model types.

type dealList struct {
	Deals []*model.Deal `json:"deals"`
}

type artifactResponse struct {
	Submission *model.ArtifactSubmission `json:"submission"`
	Supersedes string                    `json:"supersedes,omitempty"`
	Seq        int64                     `json:"seq"`
	Changed    bool                      `json:"changed"`
}

type voteResponse struct {
	Vote     *model.Vote      `json:"vote"`
	Previous model.VoteChoice `json:"previous,omitempty"`
	Seq      int64            `json:"seq"`
	Changed  bool             `json:"changed"`
}

type auditPage struct {
	DealID    string              `json:"deal_id"`
	Entries   []*model.AuditEntry `json:"entries"`
	NextSince int64               `json:"next_since"`
	More      bool                `json:"more"`
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) createDeal(ctx context.Context, req *createDealRequest) (*model.Deal, error) {
	return s.wf.CreateDeal(ctx, req.ID, req.Name, req.actor())
}

func (s *Server) listDeals(ctx context.Context, req *listDealsRequest) (*dealList, error) {
	filter := model.DealFilter{Terminal: req.Terminal, Limit: req.Limit, Offset: req.Offset}
	for _, g := range req.Gates {
		filter.Gates = append(filter.Gates, mustGate(g))
	}
	deals, err := s.wf.ListDeals(ctx, filter)
	if err != nil {
		return nil, err
	}
	if deals == nil {
		deals = []*model.Deal{}
	}
	return &dealList{Deals: deals}, nil
}

func (s *Server) advance(ctx context.Context, req *advanceRequest) (gate.AdvanceResult, error) {
	return s.wf.Advance(ctx, req.DealID, mustGate(req.Target), req.actor())
}

func (s *Server) submitArtifact(ctx context.Context, req *submitArtifactRequest) (*artifactResponse, error) {
	res, err := s.wf.SubmitArtifact(ctx, req.DealID, mustGate(req.Gate), req.ArtifactType, req.ReferenceID, req.actor())
	if err != nil {
		return nil, err
	}
	return &artifactResponse{Submission: res.Submission, Supersedes: res.Supersedes, Seq: res.Seq, Changed: res.Seq > 0}, nil
}

func (s *Server) invalidateArtifact(ctx context.Context, req *invalidateArtifactRequest) (*artifactResponse, error) {
	res, err := s.wf.InvalidateArtifact(ctx, req.DealID, mustGate(req.Gate), req.ArtifactType, req.Reason, req.actor())
	if err != nil {
		return nil, err
	}
	return &artifactResponse{Submission: res.Submission, Seq: res.Seq, Changed: res.Seq > 0}, nil
}

func (s *Server) castVote(ctx context.Context, req *castVoteRequest) (*voteResponse, error) {
	choice, _ := model.ParseVoteChoice(req.Choice)
	res, err := s.wf.CastVote(ctx, req.DealID, mustGate(req.Gate), req.MemberID, choice, req.actor())
	if err != nil {
		return nil, err
	}
	return &voteResponse{Vote: res.Vote, Previous: res.Previous, Seq: res.Seq, Changed: res.Seq > 0}, nil
}

func (s *Server) state(ctx context.Context, req *dealRequest) (*model.DealSnapshot, error) {
	return s.wf.State(ctx, req.DealID)
}

// auditHistory returns one page of a deal's history. Callers page by
// passing next_since back as since.
func (s *Server) auditHistory(ctx context.Context, req *auditRequest) (*auditPage, error) {
	limit := req.Limit
	if limit == 0 {
		limit = defaultAuditLimit
	}
	filter := model.AuditFilter{SinceSeq: req.Since, From: req.From, To: req.To, Limit: limit + 1}
	for _, k := range req.Kinds {
		filter.Kinds = append(filter.Kinds, model.ActionKind(k))
	}

	page := &auditPage{DealID: req.DealID, Entries: []*model.AuditEntry{}, NextSince: req.Since}
	for e, err := range s.wf.History(ctx, req.DealID, filter) {
		if err != nil {
			return nil, err
		}
		if len(page.Entries) == limit {
			page.More = true
			break
		}
		page.Entries = append(page.Entries, e)
		page.NextSince = e.Seq
	}
	return page, nil
}

func (s *Server) verifyAudit(ctx context.Context, req *dealRequest) (audit.Report, error) {
	return s.wf.Verify(ctx, req.DealID)
}

func (s *Server) getCatalog(context.Context, *emptyRequest) (*catalog.Catalog, error) {
	return s.wf.Catalog(), nil
}

func (s *Server) health(ctx context.Context, _ *emptyRequest) (*healthResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.wf.Ping(ctx); err != nil {
		return &healthResponse{Status: "unavailable", Error: err.Error()}, err
	}
	return &healthResponse{Status: "ok"}, nil
}

// mustGate converts a gate name that already passed validation.
func mustGate(s string) model.Gate {
	g, _ := model.ParseGate(s)
	return g
}
