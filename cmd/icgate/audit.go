package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/icgate/internal/client"
	"github.com/alfredjeanlab/icgate/internal/model"
)

var auditCmd = &cobra.Command{
	Use:     "audit <deal-id>",
	Short:   "Show or verify a deal's audit history",
	GroupID: "views",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		w := cmd.OutOrStdout()

		if verify, _ := cmd.Flags().GetBool("verify"); verify {
			r, err := icClient.VerifyAudit(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				if err := printJSON(w, r); err != nil {
					return err
				}
			} else {
				printReport(w, r)
			}
			if !r.Valid {
				return fmt.Errorf("audit chain of %s is broken at seq %d", args[0], r.BrokenSeq)
			}
			return nil
		}

		req, err := auditRequestFromFlags(cmd, args[0])
		if err != nil {
			return err
		}
		all, _ := cmd.Flags().GetBool("all")
		entries, err := fetchAudit(ctx, icClient, req, all)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(w, entries)
		}
		if len(entries) == 0 {
			fmt.Fprintln(w, "no entries")
			return nil
		}
		printAuditTable(w, entries)
		return nil
	},
}

func auditRequestFromFlags(cmd *cobra.Command, dealID string) (*client.AuditRequest, error) {
	since, _ := cmd.Flags().GetInt64("since")
	kinds, _ := cmd.Flags().GetStringSlice("kind")
	limit, _ := cmd.Flags().GetInt("limit")
	req := &client.AuditRequest{DealID: dealID, Since: since, Kinds: kinds, Limit: limit}

	for _, k := range kinds {
		if !model.ActionKind(k).IsValid() {
			return nil, fmt.Errorf("unknown action kind %q", k)
		}
	}
	for name, dst := range map[string]**time.Time{"from": &req.From, "to": &req.To} {
		s, _ := cmd.Flags().GetString(name)
		if s == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("--%s: %w", name, err)
		}
		*dst = &t
	}
	return req, nil
}

// fetchAudit reads one page, or every page when all is set.
func fetchAudit(ctx context.Context, c client.Client, req *client.AuditRequest, all bool) ([]*model.AuditEntry, error) {
	var out []*model.AuditEntry
	for {
		page, err := c.AuditHistory(ctx, req)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Entries...)
		if !all || !page.More {
			return out, nil
		}
		next := *req
		next.Since = page.NextSince
		req = &next
	}
}

var catalogCmd = &cobra.Command{
	Use:     "catalog",
	Short:   "Show required artifacts, quorum policies and the IC roster",
	GroupID: "views",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := icClient.GetCatalog(context.Background())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), cat)
		}
		printCatalog(cmd.OutOrStdout(), cat)
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the health of the icgate service",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := icClient.Health(context.Background())
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}
		if jsonOutput {
			if err := printJSON(cmd.OutOrStdout(), map[string]string{"status": status}); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Health: %s\n", status)
		}
		if status != "ok" {
			return fmt.Errorf("unhealthy: %s", status)
		}
		return nil
	},
}

func init() {
	auditCmd.Flags().Bool("verify", false, "recompute the hash chain instead of listing entries")
	auditCmd.Flags().Int64("since", 0, "only entries after this sequence number")
	auditCmd.Flags().StringSlice("kind", nil, "only these action kinds (e.g. VoteCast,GateAdvanced)")
	auditCmd.Flags().String("from", "", "only entries at or after this RFC3339 time")
	auditCmd.Flags().String("to", "", "only entries before this RFC3339 time")
	auditCmd.Flags().Int("limit", 0, "page size (server default when 0)")
	auditCmd.Flags().Bool("all", false, "follow pages until the end of the history")
}
