package audit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryLogger keeps entries in memory.
type MemoryLogger struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryLogger constructs an empty MemoryLogger.
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

// Log records entry.
func (l *MemoryLogger) Log(_ context.Context, entry Entry) error {
	entry.fillDefaults(time.Now().UTC())
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

// Entries returns a copy of the recorded entries in insertion order.
func (l *MemoryLogger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Trail lists the entries of one resource, newest first.
func (l *MemoryLogger) Trail(_ context.Context, resourceType, resourceID string, limit int) ([]Entry, error) {
	l.mu.Lock()
	var out []Entry
	for _, e := range l.entries {
		if e.ResourceType == resourceType && e.ResourceID == resourceID {
			out = append(out, e)
		}
	}
	l.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
