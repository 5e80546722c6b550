// Package bridge implements the call orchestration state machine. It consumes
// normalized call-control webhook events and drives each multi-leg
// conversation through answer, conference creation, AI dial, bridging and
// teardown, issuing each external side effect at most once despite duplicate and
// out-of-order deliveries.
package bridge

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RelayVoiceAI/relay-call-service/internal/adapters/aiagent"
	"github.com/RelayVoiceAI/relay-call-service/internal/adapters/callcontrol"
	"github.com/RelayVoiceAI/relay-call-service/internal/adapters/notify"
	"github.com/RelayVoiceAI/relay-call-service/internal/clientstate"
	"github.com/RelayVoiceAI/relay-call-service/internal/config"
	"github.com/RelayVoiceAI/relay-call-service/internal/correlation"
	"github.com/RelayVoiceAI/relay-call-service/internal/domain"
	"github.com/RelayVoiceAI/relay-call-service/internal/repository"
	"github.com/RelayVoiceAI/relay-call-service/pkg/logger"
)

// Event is a normalized call-control webhook event.
type Event struct {
	Type         string // "initiated", "answered", "hangup", "transcription"
	LegID        string
	Direction    domain.CallDirection
	From         string
	To           string
	ClientState  string
	HangupCause  string
	ConferenceID string
	Transcript   string
	IsFinal      bool
}

// Event types after normalization.
const (
	EventInitiated     = "initiated"
	EventAnswered      = "answered"
	EventHangup        = "hangup"
	EventTranscription = "transcription"
)

// Service is the orchestration state machine. All per-conversation state
// lives in the correlation store; the service itself only holds collaborators
// and is safe for concurrent dispatch.
type Service struct {
	cfg      *config.Config
	store    correlation.Store
	control  callcontrol.API
	agents   aiagent.Resolver
	notifier notify.Notifier
	repo     repository.Manager

	sweepCancel context.CancelFunc
}

// NewService wires the state machine to its collaborators.
func NewService(cfg *config.Config, store correlation.Store, control callcontrol.API, agents aiagent.Resolver, notifier notify.Notifier, repo repository.Manager) *Service {
	return &Service{
		cfg:      cfg,
		store:    store,
		control:  control,
		agents:   agents,
		notifier: notifier,
		repo:     repo,
	}
}

// Dispatch routes a normalized event to its handler. Unmatched events are
// expected noise and never errors; nothing here escalates past the handler.
func (s *Service) Dispatch(ctx context.Context, ev Event) {
	switch ev.Type {
	case EventInitiated:
		s.OnInitiated(ctx, ev)
	case EventAnswered:
		s.OnAnswered(ctx, ev)
	case EventHangup:
		s.OnHangup(ctx, ev)
	case EventTranscription:
		s.OnTranscription(ctx, ev)
	}
}

// OnInitiated handles a leg being created on the provider side.
//
// An inbound leg matching an expected callback (the AI trunk calling back
// through the public number) is answered with a token naming the waiting
// conference. Otherwise an inbound leg dialing a configured agent number gets
// answered and a pending-call record so its answered event can resume the flow.
// An outbound leg this service placed toward a plain destination gets
// fallback tracking for providers that do not echo client_state everywhere.
func (s *Service) OnInitiated(ctx context.Context, ev Event) {
	if ev.Direction == domain.DirectionInbound {
		// Address-pair tracking is checked first: the AI trunk calls back
		// through the public number, which is itself an agent number.
		if cb, ok := s.store.TakeExpectedCallback(ctx, correlation.CallbackKey(ev.From, ev.To)); ok {
			s.answerCallbackLeg(ctx, ev, cb)
			return
		}
		if mapping, ok := s.cfg.AgentForNumber(ev.To); ok {
			s.answerInbound(ctx, ev, mapping)
			return
		}
		return
	}

	// Outbound leg toward a plain (non-SIP) destination: make sure the
	// initiated-to-answered fallback can find it even if the provider drops the
	// token from later events.
	if ev.Direction == domain.DirectionOutbound && !isSIPAddress(ev.To) {
		payload, hasToken := clientstate.Decode(ev.ClientState)
		if hasToken && payload.Kind != clientstate.KindOutboundLeg {
			return // AI or takeover leg, token-correlated end to end
		}
		cb, tracked := s.store.TakeExpectedCallback(ctx, ev.LegID)
		if !tracked {
			cb = &correlation.ExpectedCallback{
				Key:           ev.LegID,
				ContactNumber: ev.To,
				CreatedAt:     time.Now(),
			}
			if hasToken {
				cb.AgentID = payload.AgentID
			}
		}
		s.store.PutExpectedCallback(ctx, cb)
	}
}

func (s *Service) answerInbound(ctx context.Context, ev Event, mapping config.AgentMapping) {
	s.store.PutPending(ctx, &correlation.PendingCall{
		LegID:        ev.LegID,
		CallerNumber: ev.From,
		AgentNumber:  ev.To,
		AgentID:      mapping.AgentID,
		CreatedAt:    time.Now(),
	})

	s.recordInitiated(ctx, ev)

	if err := s.control.Answer(ctx, ev.LegID, ""); err != nil {
		// Roll back and abandon; the caller hears dead air briefly and the
		// provider times the leg out. No retry.
		s.store.TakePending(ctx, ev.LegID)
		logger.Base().Warn("abandoning inbound call, answer failed",
			zap.String("leg_id", ev.LegID), zap.Error(err))
		return
	}

	logger.Base().Info("inbound call answered",
		zap.String("leg_id", ev.LegID),
		zap.String("caller", ev.From),
		zap.String("agent_number", ev.To))
}

// answerCallbackLeg answers an inbound leg recognized as the continuation of
// an outbound action. The answer carries an AI-leg token so the leg's own
// answered event joins it to the waiting conference.
func (s *Service) answerCallbackLeg(ctx context.Context, ev Event, cb *correlation.ExpectedCallback) {
	token := clientstate.Encode(clientstate.Payload{
		Kind:         clientstate.KindAILeg,
		ConferenceID: cb.ConferenceID,
		Counterpart:  cb.ContactNumber,
		AgentID:      cb.AgentID,
	})
	if err := s.control.Answer(ctx, ev.LegID, token); err != nil {
		logger.Base().Warn("abandoning callback leg, answer failed",
			zap.String("leg_id", ev.LegID), zap.Error(err))
		return
	}
	logger.Base().Info("expected callback answered",
		zap.String("leg_id", ev.LegID),
		zap.String("conference_id", cb.ConferenceID))
}

// OnAnswered dispatches by evidence, strongest first: an echoed correlation
// token, then a pending call matching the leg id, then a tracked outbound
// attempt. A leg matching none of them is expected noise and ignored.
func (s *Service) OnAnswered(ctx context.Context, ev Event) {
	if payload, ok := clientstate.Decode(ev.ClientState); ok {
		switch payload.Kind {
		case clientstate.KindAILeg:
			s.joinAILeg(ctx, ev.LegID, payload.ConferenceID, payload.Counterpart)
			return
		case clientstate.KindHumanLeg:
			s.joinHumanLeg(ctx, ev.LegID, payload.ConferenceID)
			return
		case clientstate.KindOutboundLeg:
			if _, exists := s.store.GetConversationByAnchor(ctx, ev.LegID); exists {
				return // duplicate delivery, the contact leg is already bridged
			}
			s.store.TakeExpectedCallback(ctx, ev.LegID) // consumed, token won
			s.startConversation(ctx, ev.LegID, payload.Counterpart, payload.AgentID, domain.DirectionOutbound)
			return
		}
	}

	if pending, ok := s.store.TakePending(ctx, ev.LegID); ok {
		s.startInboundConversation(ctx, pending)
		return
	}

	if cb, ok := s.store.TakeExpectedCallback(ctx, ev.LegID); ok {
		s.startConversation(ctx, ev.LegID, cb.ContactNumber, cb.AgentID, domain.DirectionOutbound)
		return
	}

	// No token, no pending call, no tracked attempt: a leg we do not own.
}

// startInboundConversation runs the conference-create then AI-dial sequence for
// an answered caller leg. The AI leg's own answered event completes bridging.
func (s *Service) startInboundConversation(ctx context.Context, pending *correlation.PendingCall) {
	s.createConferenceAndDialAI(ctx, conversationSeed{
		anchorLegID: pending.LegID,
		counterpart: pending.CallerNumber,
		fromNumber:  pending.AgentNumber,
		agentID:     pending.AgentID,
		direction:   domain.DirectionInbound,
	})
}

// startConversation runs the same sequence for a freshly-answered
// outbound-contact leg, anchored on the contact leg.
func (s *Service) startConversation(ctx context.Context, legID, contactNumber, agentID string, direction domain.CallDirection) {
	s.createConferenceAndDialAI(ctx, conversationSeed{
		anchorLegID: legID,
		counterpart: contactNumber,
		fromNumber:  s.cfg.FromNumber,
		agentID:     agentID,
		direction:   direction,
	})
}

type conversationSeed struct {
	anchorLegID string
	counterpart string
	fromNumber  string
	agentID     string
	direction   domain.CallDirection
}

func (s *Service) createConferenceAndDialAI(ctx context.Context, seed conversationSeed) {
	name := "bridge-" + uuid.NewString()
	conferenceID, err := s.control.CreateConference(ctx, name, seed.anchorLegID)
	if err != nil {
		logger.Base().Warn("abandoning conversation, conference create failed",
			zap.String("leg_id", seed.anchorLegID), zap.Error(err))
		return
	}

	s.store.PutConversation(ctx, &correlation.Conversation{
		AnchorLegID:  seed.anchorLegID,
		ConferenceID: conferenceID,
		Direction:    seed.direction,
		CallerLegID:  seed.anchorLegID,
		AgentID:      seed.agentID,
		CreatedAt:    time.Now(),
	})

	sipURI, err := s.agents.SIPEndpoint(ctx, seed.agentID, conferenceID, seed.counterpart)
	if err != nil {
		logger.Base().Warn("AI endpoint unavailable, conversation left unbridged",
			zap.String("conference_id", conferenceID), zap.Error(err))
		return
	}

	token := clientstate.Encode(clientstate.Payload{
		Kind:         clientstate.KindAILeg,
		ConferenceID: conferenceID,
		Counterpart:  seed.counterpart,
		AgentID:      seed.agentID,
	})

	aiLegID, err := s.control.Dial(ctx, sipURI, seed.fromNumber, token)
	if err != nil {
		// Completed steps stay completed: the conference and conversation
		// record remain until the anchor leg hangs up.
		logger.Base().Warn("AI dial failed, conversation left unbridged",
			zap.String("conference_id", conferenceID), zap.Error(err))
		return
	}

	// The AI platform sometimes abandons the dialed leg and calls back
	// through the public number instead. Track the address pair so that
	// inbound leg can be recognized and joined to this conference.
	s.store.PutExpectedCallback(ctx, &correlation.ExpectedCallback{
		Key:           correlation.CallbackKey(sipURI, seed.fromNumber),
		ContactNumber: seed.counterpart,
		AgentID:       seed.agentID,
		ConferenceID:  conferenceID,
		CreatedAt:     time.Now(),
	})

	// Outbound PSTN-side transcription can start before the AI joins.
	if seed.direction == domain.DirectionOutbound && s.cfg.Transcribe {
		_ = s.control.StartTranscription(ctx, conferenceID)
	}

	logger.Base().Info("AI dial placed",
		zap.String("conference_id", conferenceID),
		zap.String("anchor_leg_id", seed.anchorLegID),
		zap.String("ai_leg_id", aiLegID))
}

// joinAILeg bridges an answered AI leg into its conference. The participant
// slot is claimed under the store lock before the join call goes out, so a
// duplicate delivery joins at most once.
func (s *Service) joinAILeg(ctx context.Context, legID, conferenceID, counterpart string) {
	conv, ok := s.store.FindConversationByConferenceID(ctx, conferenceID)
	if !ok {
		return // conversation already gone, expected noise
	}

	claimed := false
	_, ok = s.store.UpdateConversation(ctx, conv.AnchorLegID, func(c *correlation.Conversation) {
		if c.AILegID == "" {
			c.AILegID = legID
			claimed = true
		}
	})
	if !ok || !claimed {
		return // duplicate delivery or a second AI leg; the table is unchanged
	}

	if err := s.control.JoinConference(ctx, conferenceID, legID); err != nil {
		logger.Base().Warn("AI join failed",
			zap.String("conference_id", conferenceID),
			zap.String("leg_id", legID),
			zap.Error(err))
		return
	}

	// The AI join is the point the conversation counts as connected.
	if s.repo != nil {
		_ = s.repo.CallHistory().MarkConnected(ctx, conv.AnchorLegID, conferenceID)
	}
	if conv.Direction == domain.DirectionInbound && s.cfg.Transcribe {
		_ = s.control.StartTranscription(ctx, conferenceID)
	}
	if conv.Direction == domain.DirectionOutbound {
		s.notifier.OutboundConnected(conferenceID, conv.AnchorLegID, counterpart)
	}

	logger.Base().Info("AI leg bridged",
		zap.String("conference_id", conferenceID),
		zap.String("ai_leg_id", legID))
}

// joinHumanLeg bridges a human-takeover leg into the named conference.
func (s *Service) joinHumanLeg(ctx context.Context, legID, conferenceID string) {
	conv, ok := s.store.FindConversationByConferenceID(ctx, conferenceID)
	if !ok {
		return
	}

	claimed := false
	_, ok = s.store.UpdateConversation(ctx, conv.AnchorLegID, func(c *correlation.Conversation) {
		if c.HumanLegID == "" {
			c.HumanLegID = legID
			c.HumanJoined = true
			claimed = true
		}
	})
	if !ok || !claimed {
		return
	}

	if err := s.control.JoinConference(ctx, conferenceID, legID); err != nil {
		logger.Base().Warn("human takeover join failed",
			zap.String("conference_id", conferenceID),
			zap.String("leg_id", legID),
			zap.Error(err))
		return
	}

	s.notifier.UserJoined(conferenceID, legID)
	logger.Base().Info("human takeover bridged",
		zap.String("conference_id", conferenceID),
		zap.String("leg_id", legID))
}

// OnHangup resolves the leg against every table it could live in. The anchor
// leg hanging up deletes its conversation; any other participant hanging up
// only clears that slot so the remaining parties keep talking.
func (s *Service) OnHangup(ctx context.Context, ev Event) {
	matched := false

	if _, ok := s.store.TakePending(ctx, ev.LegID); ok {
		// Caller gave up before setup completed.
		matched = true
	}

	if conv, ok := s.store.DeleteConversation(ctx, ev.LegID); ok {
		matched = true
		s.notifier.CallEnded(conv.ConferenceID, ev.LegID, ev.HangupCause)
	} else if conv, ok := s.store.FindConversationByParticipant(ctx, ev.LegID); ok {
		matched = true
		s.store.UpdateConversation(ctx, conv.AnchorLegID, func(c *correlation.Conversation) {
			switch ev.LegID {
			case c.AILegID:
				c.AILegID = ""
			case c.HumanLegID:
				c.HumanLegID = ""
				c.HumanJoined = false
			case c.CallerLegID:
				c.CallerLegID = ""
			}
		})
		s.notifier.CallEnded(conv.ConferenceID, ev.LegID, ev.HangupCause)
	}

	// Drop any fallback tracking still waiting on this leg.
	s.store.TakeExpectedCallback(ctx, ev.LegID)

	if s.repo != nil {
		if err := s.repo.CallHistory().MarkCompleted(ctx, ev.LegID, ev.HangupCause); err == nil {
			matched = true
		}
	}

	if matched {
		logger.Base().Info("leg hung up",
			zap.String("leg_id", ev.LegID),
			zap.String("cause", ev.HangupCause))
	}
}

// OnTranscription attributes a finalized transcript fragment to a speaker and
// forwards it asynchronously. Interim fragments and unknown conferences are
// dropped.
func (s *Service) OnTranscription(ctx context.Context, ev Event) {
	if !ev.IsFinal || ev.Transcript == "" {
		return
	}
	conv, ok := s.store.FindConversationByConferenceID(ctx, ev.ConferenceID)
	if !ok {
		return
	}

	speaker := "user"
	if ev.LegID != "" && ev.LegID == conv.AILegID {
		speaker = "agent"
	}

	entry := &domain.TranscriptEntry{
		ID:           uuid.NewString(),
		ConferenceID: ev.ConferenceID,
		Speaker:      speaker,
		Text:         ev.Transcript,
		CreatedAt:    time.Now(),
	}

	if s.repo != nil {
		go func() {
			if err := s.repo.Transcripts().Append(context.Background(), entry); err != nil {
				logger.Base().Warn("transcript append failed",
					zap.String("conference_id", ev.ConferenceID), zap.Error(err))
			}
		}()
	}
}

// OutboundRequest asks the service to call a human contact and bridge the AI
// agent in once they answer.
type OutboundRequest struct {
	To      string `json:"to"`
	AgentID string `json:"agent_id,omitempty"`
}

// StartOutbound places the contact-leg dial. The rest of the flow is driven
// by the leg's own webhook events.
func (s *Service) StartOutbound(ctx context.Context, req OutboundRequest) (string, error) {
	token := clientstate.Encode(clientstate.Payload{
		Kind:        clientstate.KindOutboundLeg,
		Counterpart: req.To,
		AgentID:     req.AgentID,
	})

	legID, err := s.control.Dial(ctx, req.To, s.cfg.FromNumber, token)
	if err != nil {
		return "", err
	}

	// Fallback tracking in case the provider drops the token from the
	// answered event.
	s.store.PutExpectedCallback(ctx, &correlation.ExpectedCallback{
		Key:           legID,
		ContactNumber: req.To,
		AgentID:       req.AgentID,
		CreatedAt:     time.Now(),
	})

	if s.repo != nil {
		_ = s.repo.CallHistory().RecordInitiated(ctx, &domain.CallRecord{
			ID:        uuid.NewString(),
			LegID:     legID,
			Direction: domain.DirectionOutbound,
			From:      s.cfg.FromNumber,
			To:        req.To,
			Status:    domain.CallStatusInitiated,
			StartedAt: time.Now(),
		})
	}

	logger.Base().Info("outbound call placed",
		zap.String("leg_id", legID),
		zap.String("to", req.To),
		zap.String("agent_id", req.AgentID))
	return legID, nil
}

func (s *Service) recordInitiated(ctx context.Context, ev Event) {
	if s.repo == nil {
		return
	}
	_ = s.repo.CallHistory().RecordInitiated(ctx, &domain.CallRecord{
		ID:        uuid.NewString(),
		LegID:     ev.LegID,
		Direction: ev.Direction,
		From:      ev.From,
		To:        ev.To,
		Status:    domain.CallStatusInitiated,
		StartedAt: time.Now(),
	})
}

// Start launches the expected-callback sweep loop.
func (s *Service) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.sweepCancel = cancel

	go func() {
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := s.store.SweepExpired(ctx, s.cfg.CallbackTTL); removed > 0 {
					logger.Base().Debug("swept expired callbacks", zap.Int("removed", removed))
				}
			}
		}
	}()
}

// Stop halts the sweep loop.
func (s *Service) Stop() {
	if s.sweepCancel != nil {
		s.sweepCancel()
	}
}

// isSIPAddress reports whether an address targets a SIP endpoint rather than
// the PSTN.
func isSIPAddress(addr string) bool {
	return len(addr) > 4 && (addr[:4] == "sip:" || (len(addr) > 5 && addr[:5] == "sips:"))
}
