package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/icgate/internal/audit"
	"github.com/alfredjeanlab/icgate/internal/catalog"
	"github.com/alfredjeanlab/icgate/internal/client"
	"github.com/alfredjeanlab/icgate/internal/model"
	"github.com/alfredjeanlab/icgate/internal/ui"
)

const timeLayout = "2006-01-02 15:04:05"

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

func printDeal(w io.Writer, d *model.Deal) {
	fmt.Fprintf(w, "ID:         %s\n", d.ID)
	if d.Name != "" {
		fmt.Fprintf(w, "Name:       %s\n", d.Name)
	}
	fmt.Fprintf(w, "Gate:       %s\n", ui.RenderGateTrack(d.CurrentGate))
	fmt.Fprintf(w, "Entered:    %s\n", formatTime(d.EnteredAt))
	if d.CreatedBy != "" {
		fmt.Fprintf(w, "Created By: %s\n", d.CreatedBy)
	}
}

func printDealTable(w io.Writer, deals []*model.Deal) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tGATE\tENTERED\tNAME")
	for _, d := range deals {
		name := d.Name
		if len(name) > 50 {
			name = name[:47] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.ID, d.CurrentGate.DisplayName(), formatTime(d.EnteredAt), name)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d deals\n", len(deals))
}

func printSnapshot(w io.Writer, s *model.DealSnapshot) {
	fmt.Fprintf(w, "Deal:      %s\n", s.DealID)
	fmt.Fprintf(w, "Gate:      %s\n", ui.RenderGateTrack(s.CurrentGate))
	fmt.Fprintf(w, "Entered:   %s\n", formatTime(s.EnteredAt))
	fmt.Fprintf(w, "Audit seq: %d\n", s.LastSeq)
	if s.Terminal {
		fmt.Fprintln(w, "\nClosed. No further actions are accepted.")
		return
	}

	fmt.Fprintf(w, "\nArtifacts %s\n", ui.RenderCheck(s.Artifacts.Complete))
	for _, a := range s.Artifacts.Artifacts {
		state := ui.RenderMuted("missing")
		switch {
		case a.Valid:
			state = a.ReferenceID
		case a.Submitted:
			state = a.ReferenceID + " " + ui.RenderMuted("(invalid)")
		}
		fmt.Fprintf(w, "  %s %-32s %s\n", ui.RenderCheck(a.Valid), a.Type, state)
	}

	o := s.VoteOutcome
	fmt.Fprintf(w, "\nVote %s  %d approve / %d reject / %d abstain of %d eligible\n",
		ui.RenderOutcome(o.Status), o.Approvals, o.Rejections, o.Abstentions, o.Eligible)
	fmt.Fprintf(w, "  quorum %d/%d, approval %.0f%% (needs %.0f%%)\n",
		o.Participating, o.MinParticipants, o.ApprovalFraction*100, o.MinApprovalFraction*100)
	for _, v := range s.Votes {
		fmt.Fprintf(w, "  %-16s %s\n", v.MemberID, ui.RenderChoice(v.Choice))
	}

	if s.CanAdvance {
		fmt.Fprintf(w, "\nReady to advance to %s.\n", s.NextGate.DisplayName())
	}
}

func printAuditTable(w io.Writer, entries []*model.AuditEntry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTIME\tKIND\tGATE\tACTOR\tDETAIL")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			e.Seq, formatTime(e.CreatedAt), e.Kind, e.Gate.DisplayName(), e.Actor, summarizePayload(e))
	}
	tw.Flush()
}

// summarizePayload renders the interesting payload fields of an entry on
// one line.
func summarizePayload(e *model.AuditEntry) string {
	switch e.Kind {
	case model.ActionArtifactSubmitted:
		var p model.ArtifactSubmittedPayload
		if json.Unmarshal(e.Payload, &p) == nil {
			s := p.ArtifactType + "=" + p.ReferenceID
			if p.Supersedes != "" {
				s += " (was " + p.Supersedes + ")"
			}
			return s
		}
	case model.ActionArtifactInvalidated:
		var p model.ArtifactInvalidatedPayload
		if json.Unmarshal(e.Payload, &p) == nil {
			return p.ArtifactType + ": " + p.Reason
		}
	case model.ActionVoteCast:
		var p model.VoteCastPayload
		if json.Unmarshal(e.Payload, &p) == nil {
			s := p.MemberID + " " + string(p.Choice)
			if p.Previous != "" {
				s += " (was " + string(p.Previous) + ")"
			}
			return s
		}
	case model.ActionGateAdvanced:
		var p model.GateAdvancedPayload
		if json.Unmarshal(e.Payload, &p) == nil {
			return fmt.Sprintf("%s -> %s, %d voting, %.0f%% approve",
				p.From.DisplayName(), p.To.DisplayName(), p.Participating, p.ApprovalFraction*100)
		}
	case model.ActionDealCreated:
		var p model.DealCreatedPayload
		if json.Unmarshal(e.Payload, &p) == nil {
			return p.Name
		}
	}
	return ""
}

func printReport(w io.Writer, r *audit.Report) {
	if r.Valid {
		fmt.Fprintf(w, "%s chain intact: %d entries, head %s\n", ui.RenderCheck(true), r.Entries, shortHash(r.HeadHash))
		return
	}
	fmt.Fprintf(w, "%s chain broken at seq %d: %s\n", ui.RenderCheck(false), r.BrokenSeq, r.Problem)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func printCatalog(w io.Writer, c *catalog.Catalog) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "GATE\tQUORUM\tAPPROVAL\tREQUIRED ARTIFACTS")
	for _, g := range model.AllGates {
		p := c.Policy(g)
		types := c.RequiredTypes(g)
		req := "-"
		if len(types) > 0 {
			req = strings.Join(types, ", ")
		}
		fmt.Fprintf(tw, "%s\t%d\t%.0f%%\t%s\n", g.DisplayName(), p.MinParticipants, p.MinApprovalFraction*100, req)
	}
	tw.Flush()

	fmt.Fprintln(w, "\nRoster:")
	for _, m := range c.Roster() {
		status := ""
		if !m.Active {
			status = ui.RenderMuted(" (inactive)")
		}
		fmt.Fprintf(w, "  %-16s %-24s %s%s\n", m.ID, m.Name, m.Role, status)
	}
}

func printArtifactResult(w io.Writer, verb string, r *client.ArtifactResult) {
	if !r.Changed {
		fmt.Fprintf(w, "%s %s already %s on %s (no change)\n", r.Submission.ArtifactType, r.Submission.ReferenceID, verb, r.Submission.DealID)
		return
	}
	fmt.Fprintf(w, "%s %s %s on %s at %s (seq %d)\n", verb, r.Submission.ArtifactType, r.Submission.ReferenceID,
		r.Submission.DealID, r.Submission.Gate.DisplayName(), r.Seq)
	if r.Supersedes != "" {
		fmt.Fprintf(w, "  supersedes %s\n", r.Supersedes)
	}
}

// printError writes a workflow rejection with the detail a caller needs to
// fix it; other errors print as-is.
func printError(w io.Writer, err error) {
	var we *model.WorkflowError
	if !errors.As(err, &we) {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(w, "Error: %s\n", we.Error())
	d := we.Detail
	switch we.Reason {
	case model.ReasonArtifactsIncomplete:
		fmt.Fprintf(w, "  missing: %s\n", strings.Join(d.Missing, ", "))
	case model.ReasonQuorumNotMet:
		fmt.Fprintf(w, "  participating %d, required %d\n", d.Participating, d.RequiredParticipants)
	case model.ReasonApprovalBelowThreshold:
		fmt.Fprintf(w, "  approval %.0f%%, required %.0f%%\n", d.ApprovalFraction*100, d.RequiredFraction*100)
	case model.ReasonOutOfOrderTransition:
		fmt.Fprintf(w, "  current %s, requested %s\n", d.CurrentGate.DisplayName(), d.RequestedGate.DisplayName())
	}
	if we.Retriable() {
		fmt.Fprintln(w, "  the request can be retried unchanged")
	}
}
