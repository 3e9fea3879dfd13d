package eventing

import (
	"context"
	"sync"

	"erp-core/internal/platform/database"
)

// MemoryOutbox is an in-memory OutboxWriter and OutboxStore.
type MemoryOutbox struct {
	mu      sync.Mutex
	records []*memoryRecord
}

type memoryRecord struct {
	OutboxRecord
	status string
	reason string
}

// NewMemoryOutbox constructs an empty MemoryOutbox.
func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{}
}

// InsertTx stores env. The execer is ignored.
func (o *MemoryOutbox) InsertTx(_ context.Context, _ database.Execer, env Envelope) (string, error) {
	return o.Append(env), nil
}

// Append stores env and returns its outbox id.
func (o *MemoryOutbox) Append(env Envelope) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := NewEventID()
	o.records = append(o.records, &memoryRecord{OutboxRecord: OutboxRecord{ID: id, Envelope: env}, status: "pending"})
	return id
}

// ListPending returns records not yet sent or dead.
func (o *MemoryOutbox) ListPending(_ context.Context, limit, maxAttempts int) ([]OutboxRecord, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []OutboxRecord
	for _, rec := range o.records {
		if rec.status != "pending" && rec.status != "failed" {
			continue
		}
		if maxAttempts > 0 && rec.Attempts >= maxAttempts {
			continue
		}
		out = append(out, rec.OutboxRecord)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// MarkSent marks id as sent.
func (o *MemoryOutbox) MarkSent(_ context.Context, id string) error {
	o.set(id, "sent", "")
	return nil
}

// MarkFailed records a failed attempt.
func (o *MemoryOutbox) MarkFailed(_ context.Context, id, reason string) error {
	o.set(id, "failed", reason)
	return nil
}

// MarkDead stops retrying id.
func (o *MemoryOutbox) MarkDead(_ context.Context, id string) error {
	o.set(id, "dead", "")
	return nil
}

func (o *MemoryOutbox) set(id, status, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, rec := range o.records {
		if rec.ID != id {
			continue
		}
		rec.status = status
		if status == "failed" {
			rec.Attempts++
			rec.reason = reason
		}
		return
	}
}

// Envelopes returns every stored envelope in insertion order.
func (o *MemoryOutbox) Envelopes() []Envelope {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Envelope, 0, len(o.records))
	for _, rec := range o.records {
		out = append(out, rec.Envelope)
	}
	return out
}

// EventTypes returns the event type of every stored envelope.
func (o *MemoryOutbox) EventTypes() []string {
	envs := o.Envelopes()
	out := make([]string, 0, len(envs))
	for _, env := range envs {
		out = append(out, env.EventType)
	}
	return out
}

// Status returns the delivery status of id.
func (o *MemoryOutbox) Status(id string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, rec := range o.records {
		if rec.ID == id {
			return rec.status
		}
	}
	return ""
}
