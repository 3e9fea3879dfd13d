// Package config loads service configuration from a .env file, the process
// environment and an optional YAML overlay.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Service names accepted by Load.
const (
	ServiceOrders    = "orders"
	ServiceInventory = "inventory"
	ServiceFinance   = "finance"
)

// Config is the full runtime configuration of one service process.
type Config struct {
	Service            string          `yaml:"-"`
	DatabaseURL        string          `yaml:"database_url"`
	DatabaseReplicaURL string          `yaml:"database_replica_url"`
	HTTPAddr           string          `yaml:"http_addr"`
	TenantID           string          `yaml:"tenant_id"`
	JWTSecret          string          `yaml:"-"`
	AuthDisabled       bool            `yaml:"auth_disabled"`
	LogLevel           string          `yaml:"log_level"`
	LogFormat          string          `yaml:"log_format"`
	RedisAddr          string          `yaml:"redis_addr"`
	IdempotencyTTL     time.Duration   `yaml:"idempotency_ttl"`
	OTLPEndpoint       string          `yaml:"otlp_endpoint"`
	MigrationsDir      string          `yaml:"migrations_dir"`
	DefaultCurrency    string          `yaml:"default_currency"`
	Kafka              KafkaConfig     `yaml:"kafka"`
	Outbox             OutboxConfig    `yaml:"outbox"`
	Inventory          InventoryConfig `yaml:"inventory"`
	Categories         CategoryNames   `yaml:"categories"`
	LedgerCheck        LedgerCheck     `yaml:"ledger_check"`
}

// KafkaConfig configures the outbox relay sink.
type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	TopicPrefix string   `yaml:"topic_prefix"`
}

// OutboxConfig configures the relay loop.
type OutboxConfig struct {
	Interval    time.Duration `yaml:"interval"`
	BatchSize   int           `yaml:"batch_size"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// InventoryConfig configures the reservation client used by the orders service.
type InventoryConfig struct {
	BaseURL          string        `yaml:"base_url"`
	Token            string        `yaml:"-"`
	Timeout          time.Duration `yaml:"timeout"`
	RetryMax         int           `yaml:"retry_max"`
	RetryInitial     time.Duration `yaml:"retry_initial"`
	BreakerFailures  uint32        `yaml:"breaker_failures"`
	BreakerOpenFor   time.Duration `yaml:"breaker_open_for"`
	BreakerHalfOpens uint32        `yaml:"breaker_half_open_requests"`
}

// LedgerCheck schedules the daily balance drift check of the finance
// service. An empty DailyAt disables it.
type LedgerCheck struct {
	DailyAt        string  `yaml:"daily_at"`
	WebhookURL     string  `yaml:"webhook_url"`
	DriftThreshold float64 `yaml:"drift_threshold"`
}

// CategoryNames are the system categories bootstrapped by the finance service.
type CategoryNames struct {
	InitialBalance string `yaml:"initial_balance"`
	TransferOut    string `yaml:"transfer_out"`
	TransferIn     string `yaml:"transfer_in"`
	InvoicePayment string `yaml:"invoice_payment"`
}

// Load reads configuration for the named service and validates it for
// serving traffic.
func Load(service string) (Config, error) {
	cfg, err := load(service)
	if err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadTool reads configuration for maintenance commands, which only need the
// database settings of the service.
func LoadTool(service string) (Config, error) {
	cfg, err := load(service)
	if err != nil {
		return cfg, err
	}
	switch service {
	case ServiceOrders, ServiceInventory, ServiceFinance:
	default:
		return cfg, fmt.Errorf("config: unknown service %q", service)
	}
	if cfg.DatabaseURL == "" {
		return cfg, errors.New("config: DATABASE_URL or PG_DSN is required")
	}
	return cfg, nil
}

// LoadSecret returns the JWT signing secret and default tenant for commands
// that mint tokens.
func LoadSecret() (secret, tenantID string, err error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", "", fmt.Errorf("config: load .env: %w", err)
	}
	secret = getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", ""))
	if secret == "" {
		return "", "", errors.New("config: AUTH_JWT_SECRET is required")
	}
	return secret, getenvDefault("TENANT_ID", "tenant-default"), nil
}

func load(service string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := Config{
		Service:            service,
		DatabaseURL:        getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		DatabaseReplicaURL: getenvDefault("DATABASE_REPLICA_URL", ""),
		HTTPAddr:           getenvDefault("HTTP_ADDR", defaultAddr(service)),
		TenantID:           getenvDefault("TENANT_ID", "tenant-default"),
		JWTSecret:          getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		AuthDisabled:       getenvBool("AUTH_DISABLED", false),
		LogLevel:           getenvDefault("LOG_LEVEL", "info"),
		LogFormat:          getenvDefault("LOG_FORMAT", "json"),
		RedisAddr:          getenvDefault("REDIS_ADDR", ""),
		IdempotencyTTL:     getenvDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		OTLPEndpoint:       getenvDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		MigrationsDir:      getenvDefault("MIGRATIONS_DIR", "migrations"),
		DefaultCurrency:    getenvDefault("DEFAULT_CURRENCY", "UAH"),
		Kafka: KafkaConfig{
			Brokers:     splitCSV(getenvDefault("KAFKA_BROKERS", "")),
			TopicPrefix: getenvDefault("KAFKA_TOPIC_PREFIX", "erp"),
		},
		Outbox: OutboxConfig{
			Interval:    getenvDuration("OUTBOX_INTERVAL", 2*time.Second),
			BatchSize:   getenvIntDefault("OUTBOX_BATCH_SIZE", 50),
			MaxAttempts: getenvIntDefault("OUTBOX_MAX_ATTEMPTS", 10),
		},
		Inventory: InventoryConfig{
			BaseURL:          getenvDefault("INVENTORY_SERVICE_URL", ""),
			Token:            getenvDefault("INVENTORY_SERVICE_TOKEN", ""),
			Timeout:          getenvDuration("INVENTORY_TIMEOUT", 5*time.Second),
			RetryMax:         getenvIntDefault("INVENTORY_RETRY_MAX", 3),
			RetryInitial:     getenvDuration("INVENTORY_RETRY_INITIAL", 200*time.Millisecond),
			BreakerFailures:  uint32(getenvIntDefault("INVENTORY_BREAKER_FAILURES", 5)),
			BreakerOpenFor:   getenvDuration("INVENTORY_BREAKER_OPEN_FOR", 30*time.Second),
			BreakerHalfOpens: uint32(getenvIntDefault("INVENTORY_BREAKER_HALF_OPEN_REQUESTS", 1)),
		},
		Categories: CategoryNames{
			InitialBalance: "Initial Balance",
			TransferOut:    "Transfer Out",
			TransferIn:     "Transfer In",
			InvoicePayment: "Invoice Payment",
		},
		LedgerCheck: LedgerCheck{
			DailyAt:        getenvDefault("LEDGER_CHECK_AT", ""),
			WebhookURL:     getenvDefault("LEDGER_ALERT_WEBHOOK", ""),
			DriftThreshold: getenvFloat("LEDGER_DRIFT_THRESHOLD", 0.01),
		},
	}

	if path := os.Getenv("ERP_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Validate checks required settings for the configured service.
func (c Config) Validate() error {
	switch c.Service {
	case ServiceOrders, ServiceInventory, ServiceFinance:
	default:
		return fmt.Errorf("config: unknown service %q", c.Service)
	}
	if c.DatabaseURL == "" {
		return errors.New("config: DATABASE_URL or PG_DSN is required")
	}
	if !c.AuthDisabled && c.JWTSecret == "" {
		return errors.New("config: AUTH_JWT_SECRET is required unless AUTH_DISABLED=true")
	}
	if c.Service == ServiceOrders && c.Inventory.BaseURL == "" {
		return errors.New("config: INVENTORY_SERVICE_URL is required for the orders service")
	}
	if c.Inventory.Timeout <= 0 {
		return errors.New("config: inventory timeout must be positive")
	}
	if c.Outbox.BatchSize <= 0 {
		return errors.New("config: outbox batch size must be positive")
	}
	if c.LedgerCheck.DailyAt != "" {
		if _, err := time.Parse("15:04", c.LedgerCheck.DailyAt); err != nil {
			return fmt.Errorf("config: LEDGER_CHECK_AT must be HH:MM: %w", err)
		}
	}
	if c.LedgerCheck.DriftThreshold < 0 {
		return errors.New("config: ledger drift threshold must not be negative")
	}
	return nil
}

// MigrationsPath returns the migrations directory of the configured service.
func (c Config) MigrationsPath() string {
	return strings.TrimRight(c.MigrationsDir, "/") + "/" + c.Service
}

func defaultAddr(service string) string {
	switch service {
	case ServiceInventory:
		return ":8082"
	case ServiceFinance:
		return ":8083"
	default:
		return ":8081"
	}
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
