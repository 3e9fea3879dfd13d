package audit

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"erp-core/internal/platform/database"
)

const (
	insertEntrySQL = `
INSERT INTO audit_logs (
	id, tenant_id, actor, role, action, resource_type, resource_id,
	metadata, payload_digest, ip, user_agent, correlation_id, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	trailSQL = `
SELECT id, tenant_id, actor, role, action, resource_type, resource_id,
	metadata, payload_digest, ip, user_agent, correlation_id, created_at
FROM audit_logs
WHERE resource_type = $1 AND resource_id = $2
ORDER BY created_at DESC, id
LIMIT $3`
)

// Repository keeps audit entries in audit_logs.
type Repository struct {
	db     *sql.DB
	reader database.Queryer
}

// NewRepository constructs an audit repository. Trails are read through
// reader, or db when reader is nil.
func NewRepository(db *sql.DB, reader database.Queryer) *Repository {
	if db == nil {
		return nil
	}
	if reader == nil {
		reader = db
	}
	return &Repository{db: db, reader: reader}
}

// Log writes an audit entry.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit repo: nil db")
	}
	return Insert(ctx, r.db, entry)
}

// Insert writes entry through exec, so callers can audit inside their own
// transaction.
func Insert(ctx context.Context, exec database.Execer, entry Entry) error {
	if exec == nil {
		return errors.New("audit repo: nil execer")
	}
	entry.fillDefaults(time.Now().UTC())
	_, err := exec.ExecContext(ctx, insertEntrySQL,
		entry.ID, entry.TenantID, entry.Actor, entry.Role, entry.Action, entry.ResourceType, entry.ResourceID,
		nullableJSON(entry.Metadata), entry.PayloadDigest, entry.IP, entry.UserAgent, entry.CorrelationID, entry.CreatedAt)
	return err
}

// Trail lists the entries of one resource, newest first.
func (r *Repository) Trail(ctx context.Context, resourceType, resourceID string, limit int) ([]Entry, error) {
	if r == nil || r.reader == nil {
		return nil, errors.New("audit repo: nil db")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.reader.QueryContext(ctx, trailSQL, resourceType, resourceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var metadata []byte
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Actor, &e.Role, &e.Action, &e.ResourceType, &e.ResourceID,
			&metadata, &e.PayloadDigest, &e.IP, &e.UserAgent, &e.CorrelationID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Metadata = metadata
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
