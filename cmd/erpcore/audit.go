package erpcore

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"erp-core/internal/audit"
	"erp-core/internal/platform/config"
	"erp-core/internal/platform/database"
)

var auditCmd = &cobra.Command{
	Use:     "audit <orders|inventory|finance> <resource-type> <resource-id>",
	Short:   "Print the audit trail of one resource",
	Example: "  erpcore audit finance invoice 5c1f...\n  erpcore audit orders order o-42 --limit 20",
	Args: cobra.MatchAll(cobra.ExactArgs(3), func(cmd *cobra.Command, args []string) error {
		return cobra.OnlyValidArgs(cmd, args[:1])
	}),
	ValidArgs: services,
	RunE:      runAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.Flags().Int("limit", 100, "Maximum number of entries")
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadTool(args[0])
	if err != nil {
		return err
	}
	db, err := database.Open(cmd.Context(), cfg.DatabaseURL, cfg.DatabaseReplicaURL)
	if err != nil {
		return err
	}
	defer db.Close()
	limit, _ := cmd.Flags().GetInt("limit")
	return printTrail(cmd, audit.NewRepository(db.Primary, db.Reader), args[1], args[2], limit)
}

func printTrail(cmd *cobra.Command, trail audit.Trail, resourceType, resourceID string, limit int) error {
	entries, err := trail.Trail(cmd.Context(), resourceType, resourceID, limit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintf(out, "no audit entries for %s %s\n", resourceType, resourceID)
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tACTOR\tROLE\tACTION\tCORRELATION\tMETADATA")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", e.CreatedAt.UTC().Format(time.RFC3339), e.Actor, e.Role,
			e.Action, e.CorrelationID, string(e.Metadata))
	}
	return tw.Flush()
}
