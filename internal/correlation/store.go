// Package correlation holds the keyed tables that tie loosely-correlated
// webhook legs back to the orchestration context that is waiting for them.
package correlation

import (
	"context"
	"time"

	"github.com/RelayVoiceAI/relay-call-service/internal/domain"
)

// PendingCall tracks a caller leg that has been answered but whose conference
// is not yet created. Consumed exactly once by the matching answered event.
type PendingCall struct {
	LegID        string    `json:"leg_id"`
	CallerNumber string    `json:"caller_number"`
	AgentNumber  string    `json:"agent_number"`
	AgentID      string    `json:"agent_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// Conversation is an active conference bridging up to three legs. It is keyed
// by the leg that triggered its creation (the anchor leg).
type Conversation struct {
	AnchorLegID  string               `json:"anchor_leg_id"`
	ConferenceID string               `json:"conference_id"`
	Direction    domain.CallDirection `json:"direction"`
	CallerLegID  string               `json:"caller_leg_id,omitempty"`
	AILegID      string               `json:"ai_leg_id,omitempty"`
	HumanLegID   string               `json:"human_leg_id,omitempty"`
	HumanJoined  bool                 `json:"human_joined"`
	AgentID      string               `json:"agent_id,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
}

// ExpectedCallback is a provisional record that lets the service recognize an
// inbound leg as the continuation of an outbound action it initiated itself.
// Entries expire after a fixed TTL and are silently dropped.
type ExpectedCallback struct {
	Key           string    `json:"key"` // leg id or address pair
	ContactNumber string    `json:"contact_number,omitempty"`
	AgentID       string    `json:"agent_id,omitempty"`
	ConferenceID  string    `json:"conference_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// CallbackKey derives the address-pair key used when no leg id or token is
// available to correlate a callback.
func CallbackKey(from, to string) string {
	return from + "|" + to
}

// Store is the set of keyed tables backing the orchestration state machine.
// Take operations are atomic: no two concurrent callers may both observe a
// present entry and both proceed as if they owned it. Lookup misses are
// ordinary outcomes, not errors; a backend failure is handled inside the
// implementation (logged, reported as a miss) so orchestration never has to
// distinguish the two.
type Store interface {
	PutPending(ctx context.Context, p *PendingCall)
	TakePending(ctx context.Context, legID string) (*PendingCall, bool)

	PutConversation(ctx context.Context, c *Conversation)
	GetConversationByAnchor(ctx context.Context, anchorLegID string) (*Conversation, bool)
	FindConversationByConferenceID(ctx context.Context, conferenceID string) (*Conversation, bool)
	FindConversationByParticipant(ctx context.Context, legID string) (*Conversation, bool)
	UpdateConversation(ctx context.Context, anchorLegID string, mutate func(*Conversation)) (*Conversation, bool)
	DeleteConversation(ctx context.Context, anchorLegID string) (*Conversation, bool)

	PutExpectedCallback(ctx context.Context, cb *ExpectedCallback)
	TakeExpectedCallback(ctx context.Context, key string) (*ExpectedCallback, bool)
	SweepExpired(ctx context.Context, ttl time.Duration) int
}
