package erpcore

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"erp-core/internal/auth"
	"erp-core/internal/platform/config"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a signed bearer token",
	Long: `token signs a JWT with AUTH_JWT_SECRET. Use it to provision service
credentials, for example the INVENTORY_SERVICE_TOKEN the orders service
presents to the inventory service.`,
	Example: "  erpcore token --subject orders-service --role clerk --ttl 720h",
	Args:    cobra.NoArgs,
	RunE:    runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().String("subject", "", "Subject recorded as the actor (required)")
	tokenCmd.Flags().String("role", string(auth.RoleClerk), "viewer, clerk, accountant or admin")
	tokenCmd.Flags().String("tenant", "", "Tenant id (defaults to TENANT_ID)")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("subject")
}

func runToken(cmd *cobra.Command, _ []string) error {
	secret, tenantID, err := config.LoadSecret()
	if err != nil {
		return err
	}
	return mintToken(cmd, []byte(secret), tenantID, time.Now())
}

func mintToken(cmd *cobra.Command, secret []byte, defaultTenant string, now time.Time) error {
	subject, _ := cmd.Flags().GetString("subject")
	role, _ := cmd.Flags().GetString("role")
	tenantID, _ := cmd.Flags().GetString("tenant")
	ttl, _ := cmd.Flags().GetDuration("ttl")
	if tenantID == "" {
		tenantID = defaultTenant
	}
	parsed, ok := auth.ParseRole(role)
	if !ok {
		return fmt.Errorf("unknown role %q", role)
	}
	token, err := auth.IssueToken(secret, auth.Identity{TenantID: tenantID, Role: parsed, Subject: subject}, ttl, now)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
