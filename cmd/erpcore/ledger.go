package erpcore

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"erp-core/internal/eventing"
	financeapp "erp-core/internal/finance/application"
	financepg "erp-core/internal/finance/infrastructure/postgres"
	"erp-core/internal/platform/config"
	"erp-core/internal/platform/database"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Ledger maintenance",
}

var ledgerVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Compare every stored account balance with the replay of its postings",
	Long: `verify recomputes each account balance as the sum of its income postings
minus the sum of its expense postings and reports every account whose
stored balance differs. It exits non-zero when drift is found unless
--report-only is set.`,
	Args: cobra.NoArgs,
	RunE: runLedgerVerify,
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerVerifyCmd)
	ledgerVerifyCmd.Flags().Bool("report-only", false, "Print drift without failing")
}

// errDrift is returned when at least one account balance drifted.
type errDrift struct{ count int }

func (e errDrift) Error() string {
	return fmt.Sprintf("%d account balance(s) drifted from their postings", e.count)
}

func runLedgerVerify(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadTool(config.ServiceFinance)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	db, err := database.Open(cmd.Context(), cfg.DatabaseURL, cfg.DatabaseReplicaURL)
	if err != nil {
		return err
	}
	defer db.Close()

	publisher := eventing.NewPublisher(nil, cfg.TenantID)
	ledger, err := financepg.NewLedger(db.Primary, publisher, logger)
	if err != nil {
		return err
	}
	mutator, err := financeapp.NewBalanceMutator(ledger, logger)
	if err != nil {
		return err
	}
	accounts, err := financeapp.NewAccountService(financepg.NewRepository(db.Primary, db.Reader, publisher), mutator,
		financeapp.SystemCategories{}, cfg.DefaultCurrency, logger)
	if err != nil {
		return err
	}
	reportOnly, _ := cmd.Flags().GetBool("report-only")
	return verifyLedger(cmd, accounts, reportOnly, logger)
}

type balanceVerifier interface {
	Verify(ctx context.Context) ([]financeapp.Drift, int, error)
}

func verifyLedger(cmd *cobra.Command, accounts balanceVerifier, reportOnly bool, logger *zap.Logger) error {
	drifts, checked, err := accounts.Verify(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(drifts) == 0 {
		fmt.Fprintf(out, "ledger consistent: %d account(s) checked\n", checked)
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tNAME\tCURRENCY\tSTORED\tREPLAYED\tDIFFERENCE\tPOSTINGS")
	for _, d := range drifts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n", d.AccountID, d.Name, d.Currency,
			d.Stored.StringFixed(2), d.Replayed.StringFixed(2), d.Difference.StringFixed(2), d.Postings)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	logger.Warn("ledger drift detected", zap.Int("accounts", len(drifts)), zap.Int("checked", checked))
	if reportOnly {
		return nil
	}
	return errDrift{count: len(drifts)}
}
