package server

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/alfredjeanlab/icgate/internal/idgen"
	"github.com/alfredjeanlab/icgate/internal/model"
)

// actorFields identifies who issued a command. Authentication happens
// upstream; the identity is taken as given.
type actorFields struct {
	Actor     string `json:"actor" validate:"required,max=128"`
	ActorRole string `json:"actor_role,omitempty" validate:"max=64"`
}

func (a actorFields) actor() model.Actor {
	return model.Actor{ID: strings.TrimSpace(a.Actor), Role: strings.TrimSpace(a.ActorRole)}
}

type emptyRequest struct{}

type dealRequest struct {
	DealID string `json:"deal_id" validate:"required,deal_id"`
}

type createDealRequest struct {
	ID   string `json:"id,omitempty" validate:"omitempty,deal_id"`
	Name string `json:"name,omitempty" validate:"max=256"`
	actorFields
}

type listDealsRequest struct {
	Gates    []string `json:"gates,omitempty" validate:"dive,gate"`
	Terminal *bool    `json:"terminal,omitempty"`
	Limit    int      `json:"limit,omitempty" validate:"min=0,max=1000"`
	Offset   int      `json:"offset,omitempty" validate:"min=0"`
}

type advanceRequest struct {
	DealID string `json:"deal_id" validate:"required,deal_id"`
	Target string `json:"target" validate:"required,gate"`
	actorFields
}

type submitArtifactRequest struct {
	DealID       string `json:"deal_id" validate:"required,deal_id"`
	Gate         string `json:"gate" validate:"required,gate"`
	ArtifactType string `json:"artifact_type" validate:"required,max=128"`
	ReferenceID  string `json:"reference_id" validate:"required,max=512"`
	actorFields
}

type invalidateArtifactRequest struct {
	DealID       string `json:"deal_id" validate:"required,deal_id"`
	Gate         string `json:"gate" validate:"required,gate"`
	ArtifactType string `json:"artifact_type" validate:"required,max=128"`
	Reason       string `json:"reason" validate:"required,max=1024"`
	actorFields
}

type castVoteRequest struct {
	DealID   string `json:"deal_id" validate:"required,deal_id"`
	Gate     string `json:"gate" validate:"required,gate"`
	MemberID string `json:"member_id" validate:"required,max=128"`
	Choice   string `json:"choice" validate:"required,vote_choice"`
	actorFields
}

type auditRequest struct {
	DealID string     `json:"deal_id" validate:"required,deal_id"`
	Since  int64      `json:"since,omitempty" validate:"min=0"`
	Kinds  []string   `json:"kinds,omitempty" validate:"dive,action_kind"`
	From   *time.Time `json:"from,omitempty"`
	To     *time.Time `json:"to,omitempty"`
	Limit  int        `json:"limit,omitempty" validate:"min=0,max=1000"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("gate", func(fl validator.FieldLevel) bool {
		_, err := model.ParseGate(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("vote_choice", func(fl validator.FieldLevel) bool {
		_, err := model.ParseVoteChoice(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("action_kind", func(fl validator.FieldLevel) bool {
		return model.ActionKind(fl.Field().String()).IsValid()
	})
	_ = v.RegisterValidation("deal_id", func(fl validator.FieldLevel) bool {
		return idgen.Valid(fl.Field().String())
	})
	return v
}

// check validates req and reports the first problem as an InvalidArgument
// workflow error.
func (s *Server) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return model.InvalidArgumentError("%v", err)
	}
	return model.InvalidArgumentError("%s", describe(verrs[0]))
}

func describe(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "gate":
		return fmt.Sprintf("%s: unknown gate %q", field, fe.Value())
	case "vote_choice":
		return fmt.Sprintf("%s: unknown vote choice %q", field, fe.Value())
	case "action_kind":
		return fmt.Sprintf("%s: unknown action kind %q", field, fe.Value())
	case "deal_id":
		return fmt.Sprintf("%s: invalid deal id %q", field, fe.Value())
	}
	return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
}
