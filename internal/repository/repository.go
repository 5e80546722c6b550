// Package repository persists call history and transcripts for display.
// Orchestration never reads these tables to make decisions; they only observe
// the state machine's transitions.
package repository

import (
	"context"

	"github.com/RelayVoiceAI/relay-call-service/internal/domain"
)

// CallHistoryRepository records the status transitions of a call.
type CallHistoryRepository interface {
	RecordInitiated(ctx context.Context, rec *domain.CallRecord) error
	MarkConnected(ctx context.Context, legID, conferenceID string) error
	MarkCompleted(ctx context.Context, legID, hangupCause string) error
	GetByLegID(ctx context.Context, legID string) (*domain.CallRecord, error)
	List(ctx context.Context, limit, offset int) ([]*domain.CallRecord, int, error)
}

// TranscriptRepository stores finalized transcript lines per conference.
type TranscriptRepository interface {
	Append(ctx context.Context, entry *domain.TranscriptEntry) error
	ListByConference(ctx context.Context, conferenceID string) ([]*domain.TranscriptEntry, error)
}

// Manager bundles the repositories behind one handle.
type Manager interface {
	CallHistory() CallHistoryRepository
	Transcripts() TranscriptRepository
	Ping(ctx context.Context) error
	Close() error
}
