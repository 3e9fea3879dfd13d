// Package postgres stores the transactional outbox and its dead letters in
// the service database.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"erp-core/internal/eventing"
	"erp-core/internal/platform/database"
)

const (
	insertOutboxSQL = `
INSERT INTO event_outbox (id, event_id, event_type, aggregate_type, aggregate_id, payload, status, attempts, created_at)
VALUES ($1, $2, $3, $4, $5, $6, 'pending', 0, $7)
ON CONFLICT (event_id) DO NOTHING`

	// Records under the attempt cap are retried oldest first.
	pendingOutboxSQL = `
SELECT id, attempts, payload
FROM event_outbox
WHERE status IN ('pending', 'failed')
  AND ($2 <= 0 OR attempts < $2)
ORDER BY created_at, id
LIMIT $1`

	markSentSQL   = `UPDATE event_outbox SET status = 'sent', sent_at = $2 WHERE id = $1`
	markFailedSQL = `UPDATE event_outbox SET status = 'failed', attempts = attempts + 1, last_error = $2 WHERE id = $1`
	markDeadSQL   = `UPDATE event_outbox SET status = 'dead', attempts = attempts + 1 WHERE id = $1`
)

// OutboxStore keeps outbox records in event_outbox.
type OutboxStore struct {
	db *sql.DB
}

// NewOutboxStore constructs an outbox store.
func NewOutboxStore(db *sql.DB) *OutboxStore {
	return &OutboxStore{db: db}
}

// InsertTx writes env through exec, normally the transaction that changed
// the aggregate. A replayed event id is ignored.
func (s *OutboxStore) InsertTx(ctx context.Context, exec database.Execer, env eventing.Envelope) (string, error) {
	if exec == nil {
		return "", errors.New("outbox store: nil execer")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	id := eventing.NewEventID()
	if _, err := exec.ExecContext(ctx, insertOutboxSQL, id, env.EventID, env.EventType,
		env.AggregateType, env.AggregateID, payload, time.Now().UTC()); err != nil {
		return "", err
	}
	return id, nil
}

// ListPending returns up to limit records waiting for delivery.
func (s *OutboxStore) ListPending(ctx context.Context, limit, maxAttempts int) ([]eventing.OutboxRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("outbox store: nil db")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, pendingOutboxSQL, limit, maxAttempts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []eventing.OutboxRecord
	for rows.Next() {
		var rec eventing.OutboxRecord
		var payload []byte
		if err := rows.Scan(&rec.ID, &rec.Attempts, &payload); err != nil {
			return nil, err
		}
		if rec.Envelope, err = eventing.DecodeEnvelope(payload); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// MarkSent records a successful delivery.
func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	return s.exec(ctx, markSentSQL, id, time.Now().UTC())
}

// MarkFailed records a failed attempt that will be retried.
func (s *OutboxStore) MarkFailed(ctx context.Context, id, reason string) error {
	return s.exec(ctx, markFailedSQL, id, reason)
}

// MarkDead stops relaying the record.
func (s *OutboxStore) MarkDead(ctx context.Context, id string) error {
	return s.exec(ctx, markDeadSQL, id)
}

func (s *OutboxStore) exec(ctx context.Context, query string, args ...any) error {
	if s == nil || s.db == nil {
		return errors.New("outbox store: nil db")
	}
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}
