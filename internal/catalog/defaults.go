package catalog

import "github.com/alfredjeanlab/icgate/internal/model"

// Default returns the builtin catalog used when no catalog file is
// configured.
func Default() *Catalog {
	return &Catalog{
		Requirements: []model.ArtifactRequirement{
			{Gate: model.GateScreen, Types: []string{"market-analysis-summary"}},
			{Gate: model.GateIOI, Types: []string{"indicative-valuation", "ioi-letter"}},
			{Gate: model.GateLOI, Types: []string{"executed-loi-document", "financial-model"}},
			{Gate: model.GateIC1, Types: []string{"commercial-diligence-report", "ic1-memo"}},
			{Gate: model.GateIC2, Types: []string{"financing-commitment", "ic2-memo", "legal-diligence-report"}},
		},
		Policies: []model.QuorumPolicy{
			{Gate: model.GateScreen, MinParticipants: 2, MinApprovalFraction: 0.5},
			{Gate: model.GateIOI, MinParticipants: 2, MinApprovalFraction: 0.5},
			{Gate: model.GateLOI, MinParticipants: 3, MinApprovalFraction: 0.6},
			{Gate: model.GateIC1, MinParticipants: 3, MinApprovalFraction: 0.6},
			{Gate: model.GateIC2, MinParticipants: 4, MinApprovalFraction: 0.75},
		},
		Members: []model.ICMember{
			{ID: "ic-chair", Name: "IC Chair", Role: "chair", Active: true},
			{ID: "ic-cio", Name: "Chief Investment Officer", Role: "voting", Active: true},
			{ID: "ic-partner-1", Name: "Partner", Role: "voting", Active: true},
			{ID: "ic-partner-2", Name: "Partner", Role: "voting", Active: true},
			{ID: "ic-risk", Name: "Head of Risk", Role: "voting", Active: true},
		},
	}
}
