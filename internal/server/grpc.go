package server

import (
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alfredjeanlab/icgate/internal/model"
)

// ServiceName is the fully qualified gRPC service name. Requests and
// responses are google.protobuf.Struct messages carrying the same JSON
// documents as the HTTP API.
const ServiceName = "icgate.v1.WorkflowService"

// Trailer keys carrying the workflow error envelope on failed calls.
const (
	TrailerReason = "icgate-reason"
	TrailerDetail = "icgate-detail"
)

// RPC method names.
const (
	MethodCreateDeal         = "CreateDeal"
	MethodListDeals          = "ListDeals"
	MethodAdvance            = "Advance"
	MethodSubmitArtifact     = "SubmitArtifact"
	MethodInvalidateArtifact = "InvalidateArtifact"
	MethodCastVote           = "CastVote"
	MethodGetState           = "GetState"
	MethodAuditHistory       = "AuditHistory"
	MethodVerifyAudit        = "VerifyAudit"
	MethodGetCatalog         = "GetCatalog"
	MethodHealth             = "Health"
)

// FullMethod returns the gRPC path of method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// WorkflowService is the handler type registered for ServiceName.
type WorkflowService interface {
	Invoke(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error)
}

var _ WorkflowService = (*Server)(nil)

type rpcHandler func(s *Server, ctx context.Context, in *structpb.Struct) (any, error)

var rpcHandlers = map[string]rpcHandler{
	MethodCreateDeal:         rpc((*Server).createDeal),
	MethodListDeals:          rpc((*Server).listDeals),
	MethodAdvance:            rpc((*Server).advance),
	MethodSubmitArtifact:     rpc((*Server).submitArtifact),
	MethodInvalidateArtifact: rpc((*Server).invalidateArtifact),
	MethodCastVote:           rpc((*Server).castVote),
	MethodGetState:           rpc((*Server).state),
	MethodAuditHistory:       rpc((*Server).auditHistory),
	MethodVerifyAudit:        rpc((*Server).verifyAudit),
	MethodGetCatalog:         rpc((*Server).getCatalog),
	MethodHealth:             rpc((*Server).health),
}

// rpc adapts a server method to a Struct-in handler.
func rpc[Req, Resp any](fn func(*Server, context.Context, *Req) (Resp, error)) rpcHandler {
	return func(s *Server, ctx context.Context, in *structpb.Struct) (any, error) {
		var req Req
		if err := fromStruct(in, &req); err != nil {
			return nil, model.InvalidArgumentError("invalid request: %v", err)
		}
		if err := s.check(&req); err != nil {
			return nil, err
		}
		return fn(s, ctx, &req)
	}
}

// Invoke runs method with in and returns the encoded response. Workflow
// failures become gRPC statuses with the envelope in trailers.
func (s *Server) Invoke(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
	h, ok := rpcHandlers[method]
	if !ok {
		return nil, status.Errorf(codes.Unimplemented, "unknown method %s", method)
	}
	resp, err := h(s, ctx, in)
	if err != nil {
		return nil, grpcError(ctx, err)
	}
	out, err := toStruct(resp)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func serviceDesc() *grpc.ServiceDesc {
	desc := &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*WorkflowService)(nil),
		Metadata:    "icgate/v1/workflow.proto",
	}
	for name := range rpcHandlers {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: name,
			Handler:    methodHandler(name),
		})
	}
	return desc
}

func methodHandler(method string) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		call := func(ctx context.Context, req any) (any, error) {
			return srv.(WorkflowService).Invoke(ctx, method, req.(*structpb.Struct))
		}
		if interceptor == nil {
			return call(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
		return interceptor(ctx, in, info, call)
	}
}

// NewGRPCServer creates a gRPC server with standard interceptors,
// registers the workflow service and reflection.
func NewGRPCServer(s *Server, authToken string) *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor,
			LoggingInterceptor,
			AuthInterceptor(authToken),
		),
	)
	srv.RegisterService(serviceDesc(), s)
	reflection.Register(srv)
	return srv
}

// grpcError converts a workflow error to a status and attaches the reason
// and detail as trailers.
func grpcError(ctx context.Context, err error) error {
	we, ok := model.AsWorkflowError(err)
	if !ok {
		we = model.StoreUnavailableError("", err)
	}
	md := metadata.Pairs(TrailerReason, string(we.Reason))
	if detail, jerr := json.Marshal(we.Detail); jerr == nil {
		md.Append(TrailerDetail, string(detail))
	}
	_ = grpc.SetTrailer(ctx, md)
	return status.Error(codeFor(we), we.Message)
}

func codeFor(we *model.WorkflowError) codes.Code {
	switch we.Class() {
	case model.ClassStorage:
		return codes.Unavailable
	case model.ClassInput:
		return codes.InvalidArgument
	}
	if we.Reason == model.ReasonNotFound {
		return codes.NotFound
	}
	return codes.FailedPrecondition
}

// ErrorFromStatus rebuilds a workflow error from a failed call's status and
// trailers. Errors without a reason trailer map by status code.
func ErrorFromStatus(err error, trailer metadata.MD) *model.WorkflowError {
	st, _ := status.FromError(err)
	we := &model.WorkflowError{Message: st.Message()}
	if vals := trailer.Get(TrailerReason); len(vals) > 0 {
		we.Reason = model.Reason(vals[0])
		if d := trailer.Get(TrailerDetail); len(d) > 0 {
			_ = json.Unmarshal([]byte(d[0]), &we.Detail)
		}
		return we
	}
	switch st.Code() {
	case codes.InvalidArgument, codes.Unauthenticated, codes.Unimplemented:
		we.Reason = model.ReasonInvalidArgument
	case codes.NotFound:
		we.Reason = model.ReasonNotFound
	default:
		we.Reason = model.ReasonStoreUnavailable
		we.Err = errors.New(st.Code().String())
	}
	return we
}

func fromStruct(in *structpb.Struct, dst any) error {
	if in == nil {
		return nil
	}
	raw, err := in.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := out.UnmarshalJSON(raw); err != nil {
		return nil, err
	}
	return out, nil
}
