package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/icgate/internal/model"
)

const maxBodyBytes = 1 << 20

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health) must include
// a valid Authorization: Bearer <token> header.
func (s *Server) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/deals", handleBody(s, s.createDeal))
	mux.HandleFunc("GET /v1/deals", s.handleListDeals)
	mux.HandleFunc("GET /v1/deals/{id}/state", s.handleState)
	mux.HandleFunc("GET /v1/deals/{id}/audit", s.handleAudit)
	mux.HandleFunc("GET /v1/deals/{id}/audit/verify", s.handleVerify)
	mux.HandleFunc("POST /v1/advance", handleBody(s, s.advance))
	mux.HandleFunc("POST /v1/artifacts/submit", handleBody(s, s.submitArtifact))
	mux.HandleFunc("POST /v1/artifacts/invalidate", handleBody(s, s.invalidateArtifact))
	mux.HandleFunc("POST /v1/votes/cast", handleBody(s, s.castVote))
	mux.HandleFunc("GET /v1/catalog", s.handleCatalog)
	mux.HandleFunc("GET /v1/events/stream", s.handleEventStream)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	return LogRequests(AuthMiddleware(authToken, mux))
}

// handleBody decodes and validates a JSON command body, then runs fn.
func handleBody[Req, Resp any](s *Server, fn func(context.Context, *Req) (Resp, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Req
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeWorkflowError(w, model.InvalidArgumentError("invalid JSON body: %v", err))
			return
		}
		respond(r.Context(), w, s, &req, fn)
	}
}

func respond[Req, Resp any](ctx context.Context, w http.ResponseWriter, s *Server, req *Req, fn func(context.Context, *Req) (Resp, error)) {
	if err := s.check(req); err != nil {
		writeWorkflowError(w, err)
		return
	}
	resp, err := fn(ctx, req)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleListDeals handles GET /v1/deals?gate=ioi,loi&terminal=false&limit=&offset=.
func (s *Server) handleListDeals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := &listDealsRequest{Gates: splitList(q.Get("gate"))}
	var err error
	if v := q.Get("terminal"); v != "" {
		b, perr := strconv.ParseBool(v)
		if perr != nil {
			writeWorkflowError(w, model.InvalidArgumentError("terminal: %v", perr))
			return
		}
		req.Terminal = &b
	}
	if req.Limit, err = queryInt(q.Get("limit"), "limit"); err != nil {
		writeWorkflowError(w, err)
		return
	}
	if req.Offset, err = queryInt(q.Get("offset"), "offset"); err != nil {
		writeWorkflowError(w, err)
		return
	}
	respond(r.Context(), w, s, req, s.listDeals)
}

// handleState handles GET /v1/deals/{id}/state.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	respond(r.Context(), w, s, &dealRequest{DealID: r.PathValue("id")}, s.state)
}

// handleVerify handles GET /v1/deals/{id}/audit/verify.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	respond(r.Context(), w, s, &dealRequest{DealID: r.PathValue("id")}, s.verifyAudit)
}

// handleAudit handles GET /v1/deals/{id}/audit?since=&kind=&from=&to=&limit=.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := &auditRequest{DealID: r.PathValue("id"), Kinds: splitList(q.Get("kind"))}
	var err error
	if v := q.Get("since"); v != "" {
		if req.Since, err = strconv.ParseInt(v, 10, 64); err != nil {
			writeWorkflowError(w, model.InvalidArgumentError("since must be an integer"))
			return
		}
	}
	if req.Limit, err = queryInt(q.Get("limit"), "limit"); err != nil {
		writeWorkflowError(w, err)
		return
	}
	if req.From, err = queryTime(q.Get("from"), "from"); err != nil {
		writeWorkflowError(w, err)
		return
	}
	if req.To, err = queryTime(q.Get("to"), "to"); err != nil {
		writeWorkflowError(w, err)
		return
	}
	respond(r.Context(), w, s, req, s.auditHistory)
}

// handleCatalog handles GET /v1/catalog.
func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	respond(r.Context(), w, s, &emptyRequest{}, s.getCatalog)
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp, err := s.health(r.Context(), nil)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func queryInt(v, name string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, model.InvalidArgumentError("%s must be an integer", name)
	}
	return n, nil
}

func queryTime(v, name string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, model.InvalidArgumentError("%s must be an RFC 3339 timestamp", name)
	}
	return &t, nil
}

// statusFor maps a workflow failure to its HTTP status.
func statusFor(we *model.WorkflowError) int {
	switch we.Reason {
	case model.ReasonNotFound:
		return http.StatusNotFound
	case model.ReasonInvalidArgument:
		return http.StatusBadRequest
	case model.ReasonStoreUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusConflict
}

// writeWorkflowError writes the error envelope. Storage causes are not
// echoed to clients.
func writeWorkflowError(w http.ResponseWriter, err error) {
	we, ok := model.AsWorkflowError(err)
	if !ok {
		we = model.StoreUnavailableError("", err)
	}
	body := *we
	body.Err = nil
	writeJSON(w, statusFor(we), &body)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a plain JSON error response for failures outside the
// workflow envelope (auth, streaming).
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
