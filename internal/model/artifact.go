package model

import "time"

// ArtifactRequirement lists the artifact types that must be supplied and
// valid before a gate can be left.
type ArtifactRequirement struct {
	Gate  Gate     `json:"gate" toml:"gate" yaml:"gate"`
	Types []string `json:"types" toml:"types" yaml:"types"`
}

// ArtifactSubmission is the current submission for one (deal, gate, type).
// A resubmission replaces the previous row; earlier versions live in the
// audit log.
type ArtifactSubmission struct {
	DealID        string     `json:"deal_id"`
	Gate          Gate       `json:"gate"`
	ArtifactType  string     `json:"artifact_type"`
	ReferenceID   string     `json:"reference_id"`
	SubmittedBy   string     `json:"submitted_by"`
	SubmittedAt   time.Time  `json:"submitted_at"`
	Valid         bool       `json:"valid"`
	InvalidReason string     `json:"invalid_reason,omitempty"`
	InvalidatedBy string     `json:"invalidated_by,omitempty"`
	InvalidatedAt *time.Time `json:"invalidated_at,omitempty"`
}

// Clone returns a deep copy of the submission.
func (a *ArtifactSubmission) Clone() *ArtifactSubmission {
	if a == nil {
		return nil
	}
	c := *a
	if a.InvalidatedAt != nil {
		t := *a.InvalidatedAt
		c.InvalidatedAt = &t
	}
	return &c
}

// ArtifactStatus is the per-type view used in snapshots.
type ArtifactStatus struct {
	Type        string `json:"type"`
	ReferenceID string `json:"reference_id,omitempty"`
	Submitted   bool   `json:"submitted"`
	Valid       bool   `json:"valid"`
}

// Completeness reports whether every required type for a gate is valid.
type Completeness struct {
	Complete  bool             `json:"complete"`
	Missing   []string         `json:"missing"`
	Artifacts []ArtifactStatus `json:"artifacts"`
}
