package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/icgate/internal/audit"
	"github.com/alfredjeanlab/icgate/internal/catalog"
	"github.com/alfredjeanlab/icgate/internal/gate"
	"github.com/alfredjeanlab/icgate/internal/model"
)

// HTTPClient implements Client using the HTTP/JSON API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

func (c *HTTPClient) CreateDeal(ctx context.Context, req *CreateDealRequest) (*model.Deal, error) {
	var deal model.Deal
	if err := c.doJSON(ctx, http.MethodPost, "/v1/deals", req, &deal); err != nil {
		return nil, err
	}
	return &deal, nil
}

func (c *HTTPClient) ListDeals(ctx context.Context, req *ListDealsRequest) ([]*model.Deal, error) {
	q := url.Values{}
	if len(req.Gates) > 0 {
		q.Set("gate", strings.Join(req.Gates, ","))
	}
	if req.Terminal != nil {
		q.Set("terminal", strconv.FormatBool(*req.Terminal))
	}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	if req.Offset > 0 {
		q.Set("offset", strconv.Itoa(req.Offset))
	}
	var resp dealList
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/v1/deals", q), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Deals, nil
}

func (c *HTTPClient) Advance(ctx context.Context, req *AdvanceRequest) (*gate.AdvanceResult, error) {
	var res gate.AdvanceResult
	if err := c.doJSON(ctx, http.MethodPost, "/v1/advance", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *HTTPClient) SubmitArtifact(ctx context.Context, req *SubmitArtifactRequest) (*ArtifactResult, error) {
	var res ArtifactResult
	if err := c.doJSON(ctx, http.MethodPost, "/v1/artifacts/submit", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *HTTPClient) InvalidateArtifact(ctx context.Context, req *InvalidateArtifactRequest) (*ArtifactResult, error) {
	var res ArtifactResult
	if err := c.doJSON(ctx, http.MethodPost, "/v1/artifacts/invalidate", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *HTTPClient) CastVote(ctx context.Context, req *CastVoteRequest) (*VoteResult, error) {
	var res VoteResult
	if err := c.doJSON(ctx, http.MethodPost, "/v1/votes/cast", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *HTTPClient) GetState(ctx context.Context, dealID string) (*model.DealSnapshot, error) {
	var snap model.DealSnapshot
	if err := c.doJSON(ctx, http.MethodGet, "/v1/deals/"+url.PathEscape(dealID)+"/state", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *HTTPClient) AuditHistory(ctx context.Context, req *AuditRequest) (*AuditPage, error) {
	q := url.Values{}
	if req.Since > 0 {
		q.Set("since", strconv.FormatInt(req.Since, 10))
	}
	if len(req.Kinds) > 0 {
		q.Set("kind", strings.Join(req.Kinds, ","))
	}
	if req.From != nil {
		q.Set("from", req.From.Format(time.RFC3339Nano))
	}
	if req.To != nil {
		q.Set("to", req.To.Format(time.RFC3339Nano))
	}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	var page AuditPage
	path := withQuery("/v1/deals/"+url.PathEscape(req.DealID)+"/audit", q)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *HTTPClient) VerifyAudit(ctx context.Context, dealID string) (*audit.Report, error) {
	var r audit.Report
	if err := c.doJSON(ctx, http.MethodGet, "/v1/deals/"+url.PathEscape(dealID)+"/audit/verify", nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *HTTPClient) GetCatalog(ctx context.Context) (*catalog.Catalog, error) {
	var cat catalog.Catalog
	if err := c.doJSON(ctx, http.MethodGet, "/v1/catalog", nil, &cat); err != nil {
		return nil, err
	}
	return &cat, nil
}

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp healthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// --- internal helpers ---

// APIError represents an error response outside the workflow envelope,
// such as an authentication failure.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

// doJSON performs an HTTP request with optional JSON body and decodes the
// JSON response into result.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.StoreUnavailableError("", fmt.Errorf("performing request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var we model.WorkflowError
		if json.Unmarshal(respBody, &we) == nil && we.Reason != "" {
			return &we
		}
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
