package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/orders")
	t.Setenv("AUTH_JWT_SECRET", "secret")
	t.Setenv("INVENTORY_SERVICE_URL", "http://inventory:8082")
	t.Setenv("INVENTORY_TIMEOUT", "750ms")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load(ServiceOrders)
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, 750*time.Millisecond, cfg.Inventory.Timeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "UAH", cfg.DefaultCurrency)
	assert.Equal(t, "migrations/orders", cfg.MigrationsPath())
	assert.Equal(t, "Transfer Out", cfg.Categories.TransferOut)
}

func TestLoadYAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "erp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
inventory:
  timeout: 2s
  retry_max: 5
categories:
  transfer_out: "Outgoing Transfer"
`), 0o600))

	t.Setenv("ERP_CONFIG", path)
	t.Setenv("DATABASE_URL", "postgres://localhost/orders")
	t.Setenv("AUTH_DISABLED", "true")
	t.Setenv("INVENTORY_SERVICE_URL", "http://inventory:8082")

	cfg, err := Load(ServiceOrders)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Inventory.Timeout)
	assert.Equal(t, 5, cfg.Inventory.RetryMax)
	assert.Equal(t, "Outgoing Transfer", cfg.Categories.TransferOut)
	assert.Equal(t, "Transfer In", cfg.Categories.TransferIn)
}

func TestValidate(t *testing.T) {
	base := Config{
		Service:     ServiceFinance,
		DatabaseURL: "postgres://localhost/finance",
		JWTSecret:   "secret",
		Inventory:   InventoryConfig{Timeout: time.Second},
		Outbox:      OutboxConfig{BatchSize: 10},
	}
	require.NoError(t, base.Validate())

	missingDB := base
	missingDB.DatabaseURL = ""
	assert.Error(t, missingDB.Validate())

	ordersWithoutInventory := base
	ordersWithoutInventory.Service = ServiceOrders
	assert.Error(t, ordersWithoutInventory.Validate())

	noSecret := base
	noSecret.JWTSecret = ""
	assert.Error(t, noSecret.Validate())
	noSecret.AuthDisabled = true
	assert.NoError(t, noSecret.Validate())

	unknown := base
	unknown.Service = "crm"
	assert.Error(t, unknown.Validate())
}

func TestLoadToolNeedsOnlyDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/orders")
	t.Setenv("AUTH_JWT_SECRET", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("INVENTORY_SERVICE_URL", "")

	_, err := Load(ServiceOrders)
	require.Error(t, err)

	cfg, err := LoadTool(ServiceOrders)
	require.NoError(t, err)
	assert.Equal(t, "migrations/orders", cfg.MigrationsPath())

	_, err = LoadTool("crm")
	assert.Error(t, err)
}

func TestLedgerCheckSettings(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/finance")
	t.Setenv("AUTH_DISABLED", "true")
	t.Setenv("LEDGER_CHECK_AT", "03:15")
	t.Setenv("LEDGER_DRIFT_THRESHOLD", "2.5")
	t.Setenv("LEDGER_ALERT_WEBHOOK", "http://hooks.local/ledger")

	cfg, err := Load(ServiceFinance)
	require.NoError(t, err)
	assert.Equal(t, "03:15", cfg.LedgerCheck.DailyAt)
	assert.Equal(t, 2.5, cfg.LedgerCheck.DriftThreshold)
	assert.Equal(t, "http://hooks.local/ledger", cfg.LedgerCheck.WebhookURL)

	t.Setenv("LEDGER_CHECK_AT", "3pm")
	_, err = Load(ServiceFinance)
	assert.Error(t, err)
}
