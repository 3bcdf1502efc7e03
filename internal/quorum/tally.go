// Package quorum collects IC votes per gate and decides gate outcomes.
package quorum

import "github.com/alfredjeanlab/icgate/internal/model"

// epsilon absorbs float rounding when comparing fractions against a threshold.
const epsilon = 1e-9

// Tally computes the outcome of votes under policy. Only members active on
// roster count; a vote by anyone else is ignored. Abstentions do not
// participate, but an abstaining member may still change their vote while
// the gate is open and therefore counts as remaining.
func Tally(votes []*model.Vote, policy model.QuorumPolicy, roster []model.ICMember) model.Outcome {
	active := make(map[string]bool, len(roster))
	for _, m := range roster {
		if m.Active {
			active[m.ID] = true
		}
	}

	o := model.Outcome{
		Status:              model.OutcomePending,
		Eligible:            len(active),
		MinParticipants:     policy.MinParticipants,
		MinApprovalFraction: policy.MinApprovalFraction,
	}
	seen := make(map[string]bool, len(votes))
	for _, v := range votes {
		if !active[v.MemberID] || seen[v.MemberID] {
			continue
		}
		seen[v.MemberID] = true
		switch v.Choice {
		case model.ChoiceApprove:
			o.Approvals++
		case model.ChoiceReject:
			o.Rejections++
		case model.ChoiceAbstain:
			o.Abstentions++
		}
	}
	o.Participating = o.Approvals + o.Rejections
	if o.Participating > 0 {
		o.ApprovalFraction = float64(o.Approvals) / float64(o.Participating)
	}

	if !o.QuorumMet() {
		return o
	}
	if o.ApprovalFraction+epsilon >= policy.MinApprovalFraction {
		o.Status = model.OutcomeApproved
		return o
	}

	remaining := o.Eligible - o.Participating
	best := float64(o.Approvals+remaining) / float64(o.Participating+remaining)
	if best+epsilon < policy.MinApprovalFraction {
		o.Status = model.OutcomeRejected
	}
	return o
}
