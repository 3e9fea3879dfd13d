package erpcore

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	eventingpg "erp-core/internal/eventing/infrastructure/postgres"
	"erp-core/internal/platform/config"
	"erp-core/internal/platform/database"
)

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Inspect and recover the event outbox",
}

var outboxDLQCmd = &cobra.Command{
	Use:       "dlq <orders|inventory|finance>",
	Short:     "List events the relay gave up on",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: services,
	RunE:      runOutboxDLQ,
}

var outboxRequeueCmd = &cobra.Command{
	Use:   "requeue <orders|inventory|finance> <event-id>...",
	Short: "Hand dead events back to the relay",
	Long: `requeue resets dead outbox records to pending with a fresh attempt budget
and removes their dead letters. The running service relays them on its next
tick.`,
	Args: cobra.MatchAll(cobra.MinimumNArgs(2), func(cmd *cobra.Command, args []string) error {
		return cobra.OnlyValidArgs(cmd, args[:1])
	}),
	ValidArgs: services,
	RunE:      runOutboxRequeue,
}

func init() {
	rootCmd.AddCommand(outboxCmd)
	outboxCmd.AddCommand(outboxDLQCmd, outboxRequeueCmd)
	outboxDLQCmd.Flags().Int("limit", 50, "Maximum number of dead letters to print")
}

type deadLetterStore interface {
	List(ctx context.Context, limit int) ([]eventingpg.DeadLetter, error)
	Requeue(ctx context.Context, eventID string) (bool, error)
}

func openDLQ(cmd *cobra.Command, service string) (*eventingpg.DLQStore, func(), error) {
	cfg, err := config.LoadTool(service)
	if err != nil {
		return nil, nil, err
	}
	db, err := database.Open(cmd.Context(), cfg.DatabaseURL, "")
	if err != nil {
		return nil, nil, err
	}
	return eventingpg.NewDLQStore(db.Primary), func() { _ = db.Close() }, nil
}

func runOutboxDLQ(cmd *cobra.Command, args []string) error {
	store, closeDB, err := openDLQ(cmd, args[0])
	if err != nil {
		return err
	}
	defer closeDB()
	limit, _ := cmd.Flags().GetInt("limit")
	return printDeadLetters(cmd, store, limit)
}

func runOutboxRequeue(cmd *cobra.Command, args []string) error {
	store, closeDB, err := openDLQ(cmd, args[0])
	if err != nil {
		return err
	}
	defer closeDB()
	return requeueEvents(cmd, store, args[1:])
}

func printDeadLetters(cmd *cobra.Command, store deadLetterStore, limit int) error {
	letters, err := store.List(cmd.Context(), limit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(letters) == 0 {
		fmt.Fprintln(out, "no dead letters")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EVENT ID\tTYPE\tATTEMPTS\tLAST SEEN\tERROR")
	for _, d := range letters {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", d.EventID, d.EventType, d.Attempts,
			d.LastSeenAt.UTC().Format(time.RFC3339), d.Error)
	}
	return tw.Flush()
}

func requeueEvents(cmd *cobra.Command, store deadLetterStore, eventIDs []string) error {
	missing := 0
	for _, id := range eventIDs {
		ok, err := store.Requeue(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("requeue %s: %w", id, err)
		}
		if !ok {
			missing++
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: no dead outbox record\n", id)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: requeued\n", id)
	}
	if missing > 0 {
		return fmt.Errorf("%d event(s) not requeued", missing)
	}
	return nil
}
