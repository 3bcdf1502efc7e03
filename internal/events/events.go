package events

import (
	"context"
	"errors"

	"github.com/alfredjeanlab/icgate/internal/model"
)

// Event topic constants
const (
	TopicDealCreated         = "icgate.deal.created"
	TopicArtifactSubmitted   = "icgate.artifact.submitted"
	TopicArtifactInvalidated = "icgate.artifact.invalidated"
	TopicVoteCast            = "icgate.vote.cast"
	TopicGateAdvanced        = "icgate.gate.advanced"

	// TopicAll subscribes to every workflow topic.
	TopicAll = "icgate.>"
)

// TopicFor maps an audit action kind to the topic it is announced on.
func TopicFor(kind model.ActionKind) string {
	switch kind {
	case model.ActionDealCreated:
		return TopicDealCreated
	case model.ActionArtifactSubmitted:
		return TopicArtifactSubmitted
	case model.ActionArtifactInvalidated:
		return TopicArtifactInvalidated
	case model.ActionVoteCast:
		return TopicVoteCast
	case model.ActionGateAdvanced:
		return TopicGateAdvanced
	}
	return ""
}

// Event types. Every event carries the deal id and the audit sequence
// number of the committed action, so consumers can deduplicate and resume.

type DealCreated struct {
	Deal *model.Deal `json:"deal"`
	Seq  int64       `json:"seq"`
}

type ArtifactSubmitted struct {
	Submission *model.ArtifactSubmission `json:"submission"`
	Supersedes string                    `json:"supersedes,omitempty"`
	Seq        int64                     `json:"seq"`
}

type ArtifactInvalidated struct {
	Submission *model.ArtifactSubmission `json:"submission"`
	Seq        int64                     `json:"seq"`
}

type VoteCast struct {
	Vote     *model.Vote      `json:"vote"`
	Previous model.VoteChoice `json:"previous,omitempty"`
	Outcome  model.Outcome    `json:"outcome"`
	Seq      int64            `json:"seq"`
}

type GateAdvanced struct {
	DealID string     `json:"deal_id"`
	From   model.Gate `json:"from"`
	To     model.Gate `json:"to"`
	Actor  string     `json:"actor"`
	Seq    int64      `json:"seq"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// Multi fans an event out to several publishers. Every publisher is
// attempted; the returned error joins the individual failures.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, topic string, event any) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, topic, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
