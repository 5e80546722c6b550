package domain

import (
	"time"
)

// CallDirection represents the direction of a call leg as reported by the
// call-control provider.
type CallDirection string

const (
	DirectionInbound  CallDirection = "inbound"
	DirectionOutbound CallDirection = "outbound"
)

// LegRole identifies the role a leg plays inside a bridged conversation.
type LegRole string

const (
	RoleCaller  LegRole = "caller"  // PSTN caller on an inbound flow
	RoleContact LegRole = "contact" // human contact dialed by an outbound flow
	RoleAI      LegRole = "ai"      // AI agent leg over the SIP trunk
	RoleHuman   LegRole = "human"   // human takeover leg
)

// CallStatus constants for call history records.
const (
	CallStatusInitiated  = "initiated"
	CallStatusInProgress = "in_progress"
	CallStatusConnected  = "connected"
	CallStatusCompleted  = "completed"
)

// CallLeg describes one provider-tracked media endpoint.
type CallLeg struct {
	ID        string        `json:"id"`
	Direction CallDirection `json:"direction"`
	From      string        `json:"from"`
	To        string        `json:"to"`
	Role      LegRole       `json:"role,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
}

// CallRecord is the append-only call history entry kept for display. It is
// not consulted by orchestration decisions.
type CallRecord struct {
	ID              string        `json:"id" gorm:"column:id;primaryKey"`
	LegID           string        `json:"leg_id" gorm:"column:leg_id;index"`
	ConferenceID    string        `json:"conference_id,omitempty" gorm:"column:conference_id;index"`
	Direction       CallDirection `json:"direction" gorm:"column:direction"`
	From            string        `json:"from" gorm:"column:from_number"`
	To              string        `json:"to" gorm:"column:to_number"`
	Status          string        `json:"status" gorm:"column:status"`
	HangupCause     string        `json:"hangup_cause,omitempty" gorm:"column:hangup_cause"`
	StartedAt       time.Time     `json:"started_at" gorm:"column:started_at"`
	AnsweredAt      *time.Time    `json:"answered_at,omitempty" gorm:"column:answered_at"`
	EndedAt         *time.Time    `json:"ended_at,omitempty" gorm:"column:ended_at"`
	DurationSeconds int           `json:"duration_seconds" gorm:"column:duration_seconds"`
	CreatedAt       time.Time     `json:"created_at" gorm:"column:created_at"`
	UpdatedAt       time.Time     `json:"updated_at" gorm:"column:updated_at"`
}

func (CallRecord) TableName() string {
	return "call_records"
}

// TranscriptEntry is a single finalized utterance attributed to a speaker.
type TranscriptEntry struct {
	ID           string    `json:"id" gorm:"column:id;primaryKey"`
	ConferenceID string    `json:"conference_id" gorm:"column:conference_id;index"`
	Speaker      string    `json:"speaker" gorm:"column:speaker"` // "agent" or "user"
	Text         string    `json:"text" gorm:"column:text"`
	CreatedAt    time.Time `json:"created_at" gorm:"column:created_at"`
}

func (TranscriptEntry) TableName() string {
	return "call_transcripts"
}
