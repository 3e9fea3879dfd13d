// Package erpcore is the erpcore command line: it serves the orders,
// inventory and finance services and runs their maintenance tasks.
package erpcore

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"erp-core/internal/platform/config"
	"erp-core/internal/platform/logging"
)

// Set with -ldflags "-X erp-core/cmd/erpcore.version=...".
var (
	version = "dev"
	commit  = "none"
)

var services = []string{config.ServiceOrders, config.ServiceInventory, config.ServiceFinance}

var rootCmd = &cobra.Command{
	Use:   "erpcore",
	Short: "Order fulfillment and ledger services",
	Long: `erpcore runs the orders, inventory and finance services.

Each service owns its PostgreSQL schema and relays its domain events
through a transactional outbox. Configuration is read from .env, the
environment and an optional YAML file named by ERP_CONFIG.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "erpcore: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	return logging.New("erp-"+cfg.Service, cfg.LogLevel, cfg.LogFormat)
}
