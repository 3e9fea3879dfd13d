package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"erp-core/internal/eventing"
)

const (
	recordDLQSQL = `
INSERT INTO event_dlq (event_id, event_type, payload, error, first_seen_at, last_seen_at, attempts)
VALUES ($1, $2, $3, $4, $5, $5, 1)
ON CONFLICT (event_id) DO UPDATE SET
	event_type = EXCLUDED.event_type,
	payload = EXCLUDED.payload,
	error = EXCLUDED.error,
	last_seen_at = EXCLUDED.last_seen_at,
	attempts = event_dlq.attempts + 1`

	listDLQSQL = `
SELECT event_id, event_type, error, first_seen_at, last_seen_at, attempts
FROM event_dlq
ORDER BY last_seen_at DESC, event_id
LIMIT $1`

	requeueOutboxSQL = `
UPDATE event_outbox
SET status = 'pending', attempts = 0, last_error = NULL
WHERE event_id = $1 AND status = 'dead'`

	deleteDLQSQL = `DELETE FROM event_dlq WHERE event_id = $1`
)

// DeadLetter is an event the relay gave up on.
type DeadLetter struct {
	EventID     string
	EventType   string
	Error       string
	FirstSeenAt time.Time
	LastSeenAt  time.Time
	Attempts    int
}

// DLQStore keeps dead letters in event_dlq.
type DLQStore struct {
	db *sql.DB
}

// NewDLQStore constructs a DLQ store.
func NewDLQStore(db *sql.DB) *DLQStore {
	return &DLQStore{db: db}
}

// RecordFailure inserts the dead letter or bumps its attempts.
func (s *DLQStore) RecordFailure(ctx context.Context, env eventing.Envelope, cause error) error {
	if s == nil || s.db == nil {
		return errors.New("dlq store: nil db")
	}
	if env.EventID == "" {
		return errors.New("dlq store: empty event id")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	_, err = s.db.ExecContext(ctx, recordDLQSQL, env.EventID, env.EventType, payload, message, time.Now().UTC())
	return err
}

// List returns the most recent dead letters.
func (s *DLQStore) List(ctx context.Context, limit int) ([]DeadLetter, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("dlq store: nil db")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, listDLQSQL, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var letters []DeadLetter
	for rows.Next() {
		var d DeadLetter
		var message sql.NullString
		if err := rows.Scan(&d.EventID, &d.EventType, &message, &d.FirstSeenAt, &d.LastSeenAt, &d.Attempts); err != nil {
			return nil, err
		}
		d.Error = message.String
		letters = append(letters, d)
	}
	return letters, rows.Err()
}

// Requeue hands a dead event back to the relay with a fresh attempt budget
// and removes its dead letter. It reports false when no dead outbox record
// carries eventID.
func (s *DLQStore) Requeue(ctx context.Context, eventID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("dlq store: nil db")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, requeueOutboxSQL, eventID)
	if err != nil {
		return false, fmt.Errorf("requeue outbox: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, deleteDLQSQL, eventID); err != nil {
		return false, fmt.Errorf("delete dlq: %w", err)
	}
	return true, tx.Commit()
}
