// Package database opens the PostgreSQL pool and applies schema migrations.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bxcodec/dbresolver/v2"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxLifetime = 30 * time.Minute
)

// Queryer is the read-only subset shared by *sql.DB, *sql.Tx and the
// replica resolver.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Execer is implemented by *sql.DB and *sql.Tx.
type Execer interface {
	Queryer
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Handle holds the primary pool and the reader used for list queries.
type Handle struct {
	Primary *sql.DB
	Reader  Queryer

	resolver dbresolver.DB
	replica  *sql.DB
}

// Open connects to the primary and, when replicaURL is set, routes reads
// through a round-robin resolver over the replica.
func Open(ctx context.Context, primaryURL, replicaURL string) (*Handle, error) {
	primary, err := openPool(ctx, primaryURL)
	if err != nil {
		return nil, fmt.Errorf("database: primary: %w", err)
	}
	h := &Handle{Primary: primary, Reader: primary}
	if replicaURL == "" {
		return h, nil
	}

	replica, err := openPool(ctx, replicaURL)
	if err != nil {
		_ = primary.Close()
		return nil, fmt.Errorf("database: replica: %w", err)
	}
	h.replica = replica
	h.resolver = dbresolver.New(
		dbresolver.WithPrimaryDBs(primary),
		dbresolver.WithReplicaDBs(replica),
		dbresolver.WithLoadBalancer(dbresolver.RoundRobinLB),
	)
	h.Reader = h.resolver
	return h, nil
}

// Close releases every pool.
func (h *Handle) Close() error {
	if h == nil {
		return nil
	}
	var errs error
	if h.replica != nil {
		errs = errors.Join(errs, h.replica.Close())
	}
	if h.Primary != nil {
		errs = errors.Join(errs, h.Primary.Close())
	}
	return errs
}

func openPool(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("empty dsn")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies every pending up migration found in dir. Versions are
// tracked per directory so services may share one database.
func Migrate(db *sql.DB, dir string, logger *zap.Logger) error {
	if db == nil {
		return errors.New("database: nil db")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{
		SchemaName:      "public",
		MigrationsTable: MigrationsTable(dir),
	})
	if err != nil {
		return fmt.Errorf("database: migrate driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return fmt.Errorf("database: migrate source %s: %w", dir, err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("no new migrations", zap.String("dir", dir))
			return nil
		}
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("no migration files found", zap.String("dir", dir))
			return nil
		}
		var dirty migrate.ErrDirty
		if errors.As(err, &dirty) {
			return fmt.Errorf("database: dirty migration version %d", dirty.Version)
		}
		return fmt.Errorf("database: migrate: %w", err)
	}
	version, _, _ := m.Version()
	logger.Info("migrations applied", zap.String("dir", dir), zap.Uint("version", version))
	return nil
}

// MigrationsTable is the version table used for the migrations in dir.
func MigrationsTable(dir string) string {
	name := filepath.Base(filepath.Clean(dir))
	if name == "." || name == string(filepath.Separator) {
		return postgres.DefaultMigrationsTable
	}
	return postgres.DefaultMigrationsTable + "_" + name
}

// IsUniqueViolation reports whether err is a PostgreSQL unique_violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// IsSerializationFailure reports whether err is a serialization or deadlock
// failure that may succeed on retry.
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
