package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/icgate/internal/client"
)

var dealCmd = &cobra.Command{
	Use:     "deal",
	Short:   "Create and list deals",
	GroupID: "deals",
}

var dealCreateCmd = &cobra.Command{
	Use:   "create [id]",
	Short: "Open a deal at Screen",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		req := &client.CreateDealRequest{Name: name, Actor: who()}
		if len(args) == 1 {
			req.ID = args[0]
		}
		deal, err := icClient.CreateDeal(context.Background(), req)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), deal)
		}
		printDeal(cmd.OutOrStdout(), deal)
		return nil
	},
}

var dealListCmd = &cobra.Command{
	Use:   "list",
	Short: "List deals",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		gates, _ := cmd.Flags().GetStringSlice("gate")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		req := &client.ListDealsRequest{Gates: gates, Limit: limit, Offset: offset}
		if cmd.Flags().Changed("closed") {
			closed, _ := cmd.Flags().GetBool("closed")
			req.Terminal = &closed
		}

		deals, err := icClient.ListDeals(context.Background(), req)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), deals)
		}
		if len(deals) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no deals")
			return nil
		}
		printDealTable(cmd.OutOrStdout(), deals)
		return nil
	},
}

var stateCmd = &cobra.Command{
	Use:     "state <deal-id>",
	Short:   "Show a deal's gate, artifacts and vote outcome",
	GroupID: "deals",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := icClient.GetState(context.Background(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), snap)
		}
		printSnapshot(cmd.OutOrStdout(), snap)
		return nil
	},
}

func init() {
	dealCreateCmd.Flags().String("name", "", "display name of the deal")

	dealListCmd.Flags().StringSlice("gate", nil, "only deals at these gates")
	dealListCmd.Flags().Bool("closed", false, "only closed deals (--closed=false for open ones)")
	dealListCmd.Flags().Int("limit", 0, "maximum number of deals")
	dealListCmd.Flags().Int("offset", 0, "number of deals to skip")

	dealCmd.AddCommand(dealCreateCmd)
	dealCmd.AddCommand(dealListCmd)
}
