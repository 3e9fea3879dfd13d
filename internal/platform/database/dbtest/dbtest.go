// Package dbtest provides migrated PostgreSQL databases for integration
// tests. Tests use PG_DSN when it is set and otherwise start a disposable
// container when ERP_TESTCONTAINERS=1; without either they are skipped.
package dbtest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"erp-core/internal/platform/database"
)

// Open returns a handle on a database migrated with the schema of service.
// The tables listed in truncate are emptied before the test runs.
func Open(t *testing.T, service string, truncate ...string) *database.Handle {
	t.Helper()
	dsn := dataSource(t)

	ctx := context.Background()
	db, err := database.Open(ctx, dsn, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	dir := filepath.Join(moduleRoot(t), "migrations", service)
	require.NoError(t, database.Migrate(db.Primary, dir, nil))

	for _, table := range truncate {
		_, err := db.Primary.ExecContext(ctx, fmt.Sprintf("TRUNCATE %s CASCADE", table))
		require.NoError(t, err)
	}
	return db
}

var (
	containerOnce sync.Once
	containerDSN  string
	containerErr  error
)

func dataSource(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("PG_DSN"); dsn != "" {
		return dsn
	}
	if os.Getenv("ERP_TESTCONTAINERS") != "1" {
		t.Skip("PG_DSN not set and ERP_TESTCONTAINERS!=1")
	}
	// One container serves every test of the package; it is reaped by the
	// testcontainers sidecar when the test binary exits.
	containerOnce.Do(func() {
		ctx := context.Background()
		container, err := tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("erp"),
			tcpostgres.WithUsername("erp"),
			tcpostgres.WithPassword("erp"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			containerErr = err
			return
		}
		containerDSN, containerErr = container.ConnectionString(ctx, "sslmode=disable")
	})
	require.NoError(t, containerErr)
	return containerDSN
}

func moduleRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	require.NoError(t, err)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("dbtest: go.mod not found")
		}
		dir = parent
	}
}
