package client

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alfredjeanlab/icgate/internal/audit"
	"github.com/alfredjeanlab/icgate/internal/catalog"
	"github.com/alfredjeanlab/icgate/internal/gate"
	"github.com/alfredjeanlab/icgate/internal/model"
	"github.com/alfredjeanlab/icgate/internal/server"
)

// GRPCClient implements Client using the gRPC transport.
type GRPCClient struct {
	conn  *grpc.ClientConn
	token string
}

var _ Client = (*GRPCClient)(nil)

// NewGRPCClient connects to the given gRPC address and returns a client.
func NewGRPCClient(addr, token string, opts ...grpc.DialOption) (*GRPCClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return &GRPCClient{conn: conn, token: token}, nil
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func (c *GRPCClient) CreateDeal(ctx context.Context, req *CreateDealRequest) (*model.Deal, error) {
	var deal model.Deal
	if err := c.invoke(ctx, server.MethodCreateDeal, req, &deal); err != nil {
		return nil, err
	}
	return &deal, nil
}

func (c *GRPCClient) ListDeals(ctx context.Context, req *ListDealsRequest) ([]*model.Deal, error) {
	var resp dealList
	if err := c.invoke(ctx, server.MethodListDeals, req, &resp); err != nil {
		return nil, err
	}
	return resp.Deals, nil
}

func (c *GRPCClient) Advance(ctx context.Context, req *AdvanceRequest) (*gate.AdvanceResult, error) {
	var res gate.AdvanceResult
	if err := c.invoke(ctx, server.MethodAdvance, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *GRPCClient) SubmitArtifact(ctx context.Context, req *SubmitArtifactRequest) (*ArtifactResult, error) {
	var res ArtifactResult
	if err := c.invoke(ctx, server.MethodSubmitArtifact, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *GRPCClient) InvalidateArtifact(ctx context.Context, req *InvalidateArtifactRequest) (*ArtifactResult, error) {
	var res ArtifactResult
	if err := c.invoke(ctx, server.MethodInvalidateArtifact, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *GRPCClient) CastVote(ctx context.Context, req *CastVoteRequest) (*VoteResult, error) {
	var res VoteResult
	if err := c.invoke(ctx, server.MethodCastVote, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *GRPCClient) GetState(ctx context.Context, dealID string) (*model.DealSnapshot, error) {
	var snap model.DealSnapshot
	if err := c.invoke(ctx, server.MethodGetState, map[string]string{"deal_id": dealID}, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *GRPCClient) AuditHistory(ctx context.Context, req *AuditRequest) (*AuditPage, error) {
	var page AuditPage
	if err := c.invoke(ctx, server.MethodAuditHistory, req, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *GRPCClient) VerifyAudit(ctx context.Context, dealID string) (*audit.Report, error) {
	var r audit.Report
	if err := c.invoke(ctx, server.MethodVerifyAudit, map[string]string{"deal_id": dealID}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *GRPCClient) GetCatalog(ctx context.Context) (*catalog.Catalog, error) {
	var cat catalog.Catalog
	if err := c.invoke(ctx, server.MethodGetCatalog, struct{}{}, &cat); err != nil {
		return nil, err
	}
	return &cat, nil
}

func (c *GRPCClient) Health(ctx context.Context) (string, error) {
	var resp healthResponse
	if err := c.invoke(ctx, server.MethodHealth, struct{}{}, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// invoke sends req as a Struct and decodes the Struct reply into result.
// Failed calls are rebuilt into workflow errors from the status trailers.
func (c *GRPCClient) invoke(ctx context.Context, method string, req, result any) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	in := new(structpb.Struct)
	if err := in.UnmarshalJSON(raw); err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}

	out := new(structpb.Struct)
	var trailer metadata.MD
	if err := c.conn.Invoke(ctx, server.FullMethod(method), in, out, grpc.Trailer(&trailer)); err != nil {
		return server.ErrorFromStatus(err, trailer)
	}

	body, err := out.MarshalJSON()
	if err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
