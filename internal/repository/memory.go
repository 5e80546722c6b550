package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/RelayVoiceAI/relay-call-service/internal/domain"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// MemoryManager keeps call history and transcripts in process memory. It is
// the fallback when no database DSN is configured; transcripts are bounded
// per conference with the oldest lines dropped.
type MemoryManager struct {
	mu              sync.RWMutex
	records         map[string]*domain.CallRecord // keyed by leg id
	order           []string                      // leg ids, insertion order
	transcripts     map[string][]*domain.TranscriptEntry
	transcriptLimit int
}

// NewMemoryManager creates an in-memory manager. transcriptLimit bounds the
// number of lines kept per conference.
func NewMemoryManager(transcriptLimit int) *MemoryManager {
	if transcriptLimit <= 0 {
		transcriptLimit = 500
	}
	return &MemoryManager{
		records:         make(map[string]*domain.CallRecord),
		transcripts:     make(map[string][]*domain.TranscriptEntry),
		transcriptLimit: transcriptLimit,
	}
}

func (m *MemoryManager) CallHistory() CallHistoryRepository { return (*memoryHistory)(m) }
func (m *MemoryManager) Transcripts() TranscriptRepository  { return (*memoryTranscripts)(m) }
func (m *MemoryManager) Ping(context.Context) error         { return nil }
func (m *MemoryManager) Close() error                       { return nil }

type memoryHistory MemoryManager

func (m *memoryHistory) RecordInitiated(_ context.Context, rec *domain.CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[rec.LegID]; !exists {
		m.order = append(m.order, rec.LegID)
	}
	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	m.records[rec.LegID] = rec
	return nil
}

func (m *memoryHistory) MarkConnected(_ context.Context, legID, conferenceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[legID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	rec.Status = domain.CallStatusConnected
	rec.ConferenceID = conferenceID
	rec.AnsweredAt = &now
	rec.UpdatedAt = now
	return nil
}

func (m *memoryHistory) MarkCompleted(_ context.Context, legID, hangupCause string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[legID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	rec.Status = domain.CallStatusCompleted
	rec.HangupCause = hangupCause
	rec.EndedAt = &now
	rec.DurationSeconds = int(now.Sub(rec.StartedAt).Seconds())
	rec.UpdatedAt = now
	return nil
}

func (m *memoryHistory) GetByLegID(_ context.Context, legID string) (*domain.CallRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[legID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memoryHistory) List(_ context.Context, limit, offset int) ([]*domain.CallRecord, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := len(m.order)
	if limit <= 0 {
		limit = 50
	}

	// Newest first.
	out := make([]*domain.CallRecord, 0, limit)
	for i := total - 1 - offset; i >= 0 && len(out) < limit; i-- {
		cp := *m.records[m.order[i]]
		out = append(out, &cp)
	}
	return out, total, nil
}

type memoryTranscripts MemoryManager

func (m *memoryTranscripts) Append(_ context.Context, entry *domain.TranscriptEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := append(m.transcripts[entry.ConferenceID], entry)
	if len(lines) > m.transcriptLimit {
		lines = lines[len(lines)-m.transcriptLimit:]
	}
	m.transcripts[entry.ConferenceID] = lines
	return nil
}

func (m *memoryTranscripts) ListByConference(_ context.Context, conferenceID string) ([]*domain.TranscriptEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lines := m.transcripts[conferenceID]
	out := make([]*domain.TranscriptEntry, len(lines))
	copy(out, lines)
	return out, nil
}
