// Package events keeps a bounded in-memory record of raw webhook deliveries
// for diagnostic polling. It is read-only from the API's point of view and
// carries no orchestration state.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is one raw webhook delivery as received from the provider.
type Record struct {
	ID         string          `json:"id"`
	EventType  string          `json:"event_type"`
	LegID      string          `json:"leg_id,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
	Raw        json.RawMessage `json:"raw"`
}

// Buffer is a fixed-capacity ring of webhook records; the oldest entry is
// dropped when full.
type Buffer struct {
	mu   sync.RWMutex
	ring []Record
	next int
	size int
}

// NewBuffer creates a buffer holding up to capacity records.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 256
	}
	return &Buffer{ring: make([]Record, capacity)}
}

// Add records a webhook delivery and returns its assigned id.
func (b *Buffer) Add(eventType, legID string, raw json.RawMessage) string {
	rec := Record{
		ID:         uuid.NewString(),
		EventType:  eventType,
		LegID:      legID,
		ReceivedAt: time.Now(),
		Raw:        raw,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.ring[b.next] = rec
	b.next = (b.next + 1) % len(b.ring)
	if b.size < len(b.ring) {
		b.size++
	}
	return rec.ID
}

// Get returns the record with the given id, if it is still in the ring.
func (b *Buffer) Get(id string) (Record, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for i := 0; i < b.size; i++ {
		if b.ring[i].ID == id {
			return b.ring[i], true
		}
	}
	return Record{}, false
}

// List returns up to limit records, newest first.
func (b *Buffer) List(limit int) []Record {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if limit <= 0 || limit > b.size {
		limit = b.size
	}
	out := make([]Record, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (b.next - i + len(b.ring)) % len(b.ring)
		out = append(out, b.ring[idx])
	}
	return out
}

// Len returns the number of records currently held.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}
