package model

import (
	"errors"
	"fmt"
	"strings"
)

// Reason is the stable, machine-readable code of a workflow failure.
type Reason string

const (
	ReasonOutOfOrderTransition   Reason = "OutOfOrderTransition"
	ReasonDealTerminal           Reason = "DealTerminal"
	ReasonGateClosed             Reason = "GateClosed"
	ReasonDuplicateFinalVote     Reason = "DuplicateFinalVote"
	ReasonArtifactsIncomplete    Reason = "ArtifactsIncomplete"
	ReasonQuorumNotMet           Reason = "QuorumNotMet"
	ReasonApprovalBelowThreshold Reason = "ApprovalBelowThreshold"
	ReasonNotFound               Reason = "NotFound"
	ReasonUnknownArtifactType    Reason = "UnknownArtifactType"
	ReasonUnknownMember          Reason = "UnknownMember"
	ReasonInvalidArgument        Reason = "InvalidArgument"
	ReasonStoreUnavailable       Reason = "StoreUnavailable"
)

// ErrorClass groups reasons by how a caller should react to them.
type ErrorClass string

const (
	// ClassSequencing: the request does not fit the deal's current position.
	ClassSequencing ErrorClass = "sequencing"
	// ClassCompleteness: the gate is still in progress; needs human action.
	ClassCompleteness ErrorClass = "completeness"
	// ClassReferential: unknown deal, member or artifact type.
	ClassReferential ErrorClass = "referential"
	// ClassStorage: the durable store failed; the caller may retry.
	ClassStorage ErrorClass = "storage"
	// ClassInput: malformed request.
	ClassInput ErrorClass = "input"
)

var reasonClass = map[Reason]ErrorClass{
	ReasonOutOfOrderTransition:   ClassSequencing,
	ReasonDealTerminal:           ClassSequencing,
	ReasonGateClosed:             ClassSequencing,
	ReasonDuplicateFinalVote:     ClassSequencing,
	ReasonArtifactsIncomplete:    ClassCompleteness,
	ReasonQuorumNotMet:           ClassCompleteness,
	ReasonApprovalBelowThreshold: ClassCompleteness,
	ReasonNotFound:               ClassReferential,
	ReasonUnknownArtifactType:    ClassReferential,
	ReasonUnknownMember:          ClassReferential,
	ReasonInvalidArgument:        ClassInput,
	ReasonStoreUnavailable:       ClassStorage,
}

// ErrorDetail carries everything a caller needs to resolve a failure
// without re-querying. Fields irrelevant to a reason stay zero.
type ErrorDetail struct {
	DealID               string   `json:"deal_id,omitempty"`
	CurrentGate          Gate     `json:"current_gate,omitempty"`
	RequestedGate        Gate     `json:"requested_gate,omitempty"`
	Missing              []string `json:"missing,omitempty"`
	Participating        int      `json:"participating,omitempty"`
	RequiredParticipants int      `json:"required_participants,omitempty"`
	ApprovalFraction     float64  `json:"approval_fraction,omitempty"`
	RequiredFraction     float64  `json:"required_fraction,omitempty"`
	ArtifactType         string   `json:"artifact_type,omitempty"`
	MemberID             string   `json:"member_id,omitempty"`
}

// WorkflowError is the uniform error envelope returned by the engine.
type WorkflowError struct {
	Reason  Reason      `json:"reason"`
	Message string      `json:"message"`
	Detail  ErrorDetail `json:"detail"`
	Err     error       `json:"-"`
}

// Sentinels for errors.Is matching; only the Reason is compared.
var (
	ErrOutOfOrderTransition   = &WorkflowError{Reason: ReasonOutOfOrderTransition}
	ErrDealTerminal           = &WorkflowError{Reason: ReasonDealTerminal}
	ErrGateClosed             = &WorkflowError{Reason: ReasonGateClosed}
	ErrDuplicateFinalVote     = &WorkflowError{Reason: ReasonDuplicateFinalVote}
	ErrArtifactsIncomplete    = &WorkflowError{Reason: ReasonArtifactsIncomplete}
	ErrQuorumNotMet           = &WorkflowError{Reason: ReasonQuorumNotMet}
	ErrApprovalBelowThreshold = &WorkflowError{Reason: ReasonApprovalBelowThreshold}
	ErrNotFound               = &WorkflowError{Reason: ReasonNotFound}
	ErrUnknownArtifactType    = &WorkflowError{Reason: ReasonUnknownArtifactType}
	ErrUnknownMember          = &WorkflowError{Reason: ReasonUnknownMember}
	ErrInvalidArgument        = &WorkflowError{Reason: ReasonInvalidArgument}
	ErrStoreUnavailable       = &WorkflowError{Reason: ReasonStoreUnavailable}
)

func (e *WorkflowError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Reason))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *WorkflowError) Unwrap() error { return e.Err }

// Is matches on Reason. A DuplicateFinalVote is also a GateClosed error.
func (e *WorkflowError) Is(target error) bool {
	t, ok := target.(*WorkflowError)
	if !ok {
		return false
	}
	if t.Reason == e.Reason {
		return true
	}
	return e.Reason == ReasonDuplicateFinalVote && t.Reason == ReasonGateClosed
}

// Class returns the taxonomy group of the error.
func (e *WorkflowError) Class() ErrorClass {
	if c, ok := reasonClass[e.Reason]; ok {
		return c
	}
	return ClassStorage
}

// Retriable reports whether repeating the identical request may succeed
// without the caller changing anything.
func (e *WorkflowError) Retriable() bool {
	return e.Reason == ReasonStoreUnavailable
}

// AsWorkflowError unwraps err into a *WorkflowError.
func AsWorkflowError(err error) (*WorkflowError, bool) {
	var we *WorkflowError
	if errors.As(err, &we) {
		return we, true
	}
	return nil, false
}

// ReasonOf returns the reason of err, or "" if err is not a workflow error.
func ReasonOf(err error) Reason {
	if we, ok := AsWorkflowError(err); ok {
		return we.Reason
	}
	return ""
}

func newError(reason Reason, detail ErrorDetail, format string, args ...any) *WorkflowError {
	return &WorkflowError{Reason: reason, Message: fmt.Sprintf(format, args...), Detail: detail}
}

// OutOfOrderError reports a transition that is not to the immediate successor.
func OutOfOrderError(dealID string, current, requested Gate) *WorkflowError {
	return newError(ReasonOutOfOrderTransition,
		ErrorDetail{DealID: dealID, CurrentGate: current, RequestedGate: requested},
		"deal %s is at %s; cannot move to %s", dealID, current.DisplayName(), requested.DisplayName())
}

// DealTerminalError reports a mutation attempted on a closed deal.
func DealTerminalError(dealID string) *WorkflowError {
	return newError(ReasonDealTerminal, ErrorDetail{DealID: dealID, CurrentGate: GateClose},
		"deal %s has reached Close", dealID)
}

// GateClosedError reports a submission or vote against a gate that is not open.
func GateClosedError(dealID string, current, requested Gate) *WorkflowError {
	return newError(ReasonGateClosed,
		ErrorDetail{DealID: dealID, CurrentGate: current, RequestedGate: requested},
		"gate %s is not open for deal %s (current gate %s)", requested.DisplayName(), dealID, current.DisplayName())
}

// DuplicateFinalVoteError reports a re-vote on a gate that already closed.
func DuplicateFinalVoteError(dealID string, current, requested Gate, memberID string) *WorkflowError {
	return newError(ReasonDuplicateFinalVote,
		ErrorDetail{DealID: dealID, CurrentGate: current, RequestedGate: requested, MemberID: memberID},
		"member %s already cast a final vote on closed gate %s", memberID, requested.DisplayName())
}

// ArtifactsIncompleteError lists the artifact types still missing or invalid.
func ArtifactsIncompleteError(dealID string, gate Gate, missing []string) *WorkflowError {
	return newError(ReasonArtifactsIncomplete,
		ErrorDetail{DealID: dealID, CurrentGate: gate, Missing: missing},
		"gate %s is missing valid artifacts: %s", gate.DisplayName(), strings.Join(missing, ", "))
}

// QuorumNotMetError reports the participating count against the requirement.
func QuorumNotMetError(dealID string, gate Gate, o Outcome) *WorkflowError {
	return newError(ReasonQuorumNotMet,
		ErrorDetail{DealID: dealID, CurrentGate: gate, Participating: o.Participating, RequiredParticipants: o.MinParticipants},
		"gate %s has %d participating votes, %d required", gate.DisplayName(), o.Participating, o.MinParticipants)
}

// ApprovalBelowThresholdError reports the approval fraction against the requirement.
func ApprovalBelowThresholdError(dealID string, gate Gate, o Outcome) *WorkflowError {
	return newError(ReasonApprovalBelowThreshold,
		ErrorDetail{
			DealID: dealID, CurrentGate: gate,
			Participating: o.Participating, RequiredParticipants: o.MinParticipants,
			ApprovalFraction: o.ApprovalFraction, RequiredFraction: o.MinApprovalFraction,
		},
		"gate %s approval fraction %.3f is below %.3f", gate.DisplayName(), o.ApprovalFraction, o.MinApprovalFraction)
}

// NotFoundError reports an unknown deal (or other addressed record).
func NotFoundError(what, id string) *WorkflowError {
	return newError(ReasonNotFound, ErrorDetail{DealID: id}, "%s %s not found", what, id)
}

// UnknownArtifactTypeError reports a type outside the gate's requirement set.
func UnknownArtifactTypeError(dealID string, gate Gate, artifactType string) *WorkflowError {
	return newError(ReasonUnknownArtifactType,
		ErrorDetail{DealID: dealID, CurrentGate: gate, ArtifactType: artifactType},
		"artifact type %q is not required at gate %s", artifactType, gate.DisplayName())
}

// UnknownMemberError reports a member missing from the active roster.
func UnknownMemberError(dealID, memberID string) *WorkflowError {
	return newError(ReasonUnknownMember, ErrorDetail{DealID: dealID, MemberID: memberID},
		"member %q is not on the active IC roster", memberID)
}

// InvalidArgumentError reports malformed input.
func InvalidArgumentError(format string, args ...any) *WorkflowError {
	return newError(ReasonInvalidArgument, ErrorDetail{}, format, args...)
}

// StoreUnavailableError wraps an infrastructure failure.
func StoreUnavailableError(dealID string, err error) *WorkflowError {
	return &WorkflowError{
		Reason:  ReasonStoreUnavailable,
		Message: "durable store unavailable",
		Detail:  ErrorDetail{DealID: dealID},
		Err:     err,
	}
}
