package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/icgate/internal/client"
	"github.com/alfredjeanlab/icgate/internal/ui"
)

var submitCmd = &cobra.Command{
	Use:     "submit <deal-id> <gate> <artifact-type> <reference-id>",
	Short:   "Record an artifact reference against a gate",
	GroupID: "gates",
	Args:    cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := icClient.SubmitArtifact(context.Background(), &client.SubmitArtifactRequest{
			DealID:       args[0],
			Gate:         args[1],
			ArtifactType: args[2],
			ReferenceID:  args[3],
			Actor:        who(),
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), res)
		}
		printArtifactResult(cmd.OutOrStdout(), "submitted", res)
		return nil
	},
}

var invalidateCmd = &cobra.Command{
	Use:     "invalidate <deal-id> <gate> <artifact-type>",
	Short:   "Mark the current submission of an artifact type invalid",
	GroupID: "gates",
	Args:    cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		res, err := icClient.InvalidateArtifact(context.Background(), &client.InvalidateArtifactRequest{
			DealID:       args[0],
			Gate:         args[1],
			ArtifactType: args[2],
			Reason:       reason,
			Actor:        who(),
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), res)
		}
		printArtifactResult(cmd.OutOrStdout(), "invalidated", res)
		return nil
	},
}

var voteCmd = &cobra.Command{
	Use:     "vote <deal-id> <gate> <approve|reject|abstain>",
	Short:   "Cast or change an IC member's vote",
	GroupID: "gates",
	Args:    cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		member, _ := cmd.Flags().GetString("member")
		if member == "" {
			member = actor
		}
		res, err := icClient.CastVote(context.Background(), &client.CastVoteRequest{
			DealID:   args[0],
			Gate:     args[1],
			MemberID: member,
			Choice:   args[2],
			Actor:    who(),
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), res)
		}
		w := cmd.OutOrStdout()
		switch {
		case !res.Changed:
			fmt.Fprintf(w, "%s already voted %s (no change)\n", res.Vote.MemberID, ui.RenderChoice(res.Vote.Choice))
		case res.Previous != "":
			fmt.Fprintf(w, "%s changed vote %s -> %s (seq %d)\n", res.Vote.MemberID, res.Previous, ui.RenderChoice(res.Vote.Choice), res.Seq)
		default:
			fmt.Fprintf(w, "%s voted %s (seq %d)\n", res.Vote.MemberID, ui.RenderChoice(res.Vote.Choice), res.Seq)
		}
		return nil
	},
}

var advanceCmd = &cobra.Command{
	Use:     "advance <deal-id> <target-gate>",
	Short:   "Move a deal to the next gate",
	GroupID: "gates",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := icClient.Advance(context.Background(), &client.AdvanceRequest{
			DealID: args[0],
			Target: args[1],
			Actor:  who(),
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), res)
		}
		w := cmd.OutOrStdout()
		if res.AlreadyAtGate {
			fmt.Fprintf(w, "%s is already at %s\n", res.DealID, res.To.DisplayName())
			return nil
		}
		fmt.Fprintf(w, "%s advanced %s -> %s (seq %d)\n", res.DealID, res.From.DisplayName(), res.To.DisplayName(), res.Seq)
		fmt.Fprintln(w, ui.RenderGateTrack(res.To))
		return nil
	},
}

func init() {
	invalidateCmd.Flags().String("reason", "", "why the submission is no longer valid (required)")
	_ = invalidateCmd.MarkFlagRequired("reason")
	voteCmd.Flags().String("member", "", "IC member id (defaults to --actor)")
}
