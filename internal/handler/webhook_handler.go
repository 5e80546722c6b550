package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/RelayVoiceAI/relay-call-service/internal/domain"
	"github.com/RelayVoiceAI/relay-call-service/internal/events"
	"github.com/RelayVoiceAI/relay-call-service/internal/services/bridge"
	"github.com/RelayVoiceAI/relay-call-service/pkg/logger"
)

// WebhookHandler receives call-control provider webhooks, normalizes them and
// feeds the orchestration state machine. Every delivery is acknowledged with
// 200 so the provider never retries; orchestration failures are internal.
type WebhookHandler struct {
	service *bridge.Service
	buffer  *events.Buffer
}

// NewWebhookHandler creates a new call-control webhook handler
func NewWebhookHandler(service *bridge.Service, buffer *events.Buffer) *WebhookHandler {
	return &WebhookHandler{service: service, buffer: buffer}
}

// webhookEnvelope is the provider's outer webhook wrapper.
type webhookEnvelope struct {
	Data struct {
		EventType string          `json:"event_type"`
		ID        string          `json:"id"`
		Payload   json.RawMessage `json:"payload"`
	} `json:"data"`
}

// webhookPayload covers the fields used by all handled event types. Unknown
// fields are ignored.
type webhookPayload struct {
	CallControlID     string `json:"call_control_id"`
	ConnectionID      string `json:"connection_id"`
	ConferenceID      string `json:"conference_id"`
	Direction         string `json:"direction"`
	From              string `json:"from"`
	To                string `json:"to"`
	ClientState       string `json:"client_state"`
	HangupCause       string `json:"hangup_cause"`
	TranscriptionData struct {
		Transcript string `json:"transcript"`
		IsFinal    bool   `json:"is_final"`
	} `json:"transcription_data"`
}

// SetupWebhookRoutes sets up the call-control webhook route
func (h *WebhookHandler) SetupWebhookRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks/call-control", h.HandleCallControlWebhook).Methods("POST")
	logger.Base().Info("call-control webhook route registered")
}

// HandleCallControlWebhook processes one webhook delivery.
func (h *WebhookHandler) HandleCallControlWebhook(w http.ResponseWriter, r *http.Request) {
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Base().Error("failed to read webhook body", zap.Error(err))
		h.sendOKResponse(w)
		return
	}
	defer r.Body.Close()

	var envelope webhookEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		logger.Base().Warn("unparseable webhook delivery", zap.Error(err))
		h.sendOKResponse(w)
		return
	}

	var payload webhookPayload
	if len(envelope.Data.Payload) > 0 {
		if err := json.Unmarshal(envelope.Data.Payload, &payload); err != nil {
			logger.Base().Warn("unparseable webhook payload",
				zap.String("event_type", envelope.Data.EventType), zap.Error(err))
			h.sendOKResponse(w)
			return
		}
	}

	h.buffer.Add(envelope.Data.EventType, payload.CallControlID, json.RawMessage(bodyBytes))

	ev, handled := normalizeEvent(envelope.Data.EventType, payload)
	if !handled {
		// Conference lifecycle, machine-detection and other event families
		// are recorded for diagnostics only.
		h.sendOKResponse(w)
		return
	}

	logger.Base().Info("webhook event",
		zap.String("event_type", envelope.Data.EventType),
		zap.String("leg_id", ev.LegID),
		zap.String("direction", string(ev.Direction)),
	)

	h.service.Dispatch(r.Context(), ev)
	h.sendOKResponse(w)
}

// normalizeEvent maps a provider event onto the state machine's vocabulary.
// Unhandled event types report handled=false.
func normalizeEvent(eventType string, p webhookPayload) (bridge.Event, bool) {
	ev := bridge.Event{
		LegID:        p.CallControlID,
		Direction:    normalizeDirection(p.Direction),
		From:         p.From,
		To:           p.To,
		ClientState:  p.ClientState,
		HangupCause:  p.HangupCause,
		ConferenceID: p.ConferenceID,
	}

	switch eventType {
	case "call.initiated":
		ev.Type = bridge.EventInitiated
	case "call.answered":
		ev.Type = bridge.EventAnswered
	case "call.hangup":
		ev.Type = bridge.EventHangup
	case "call.transcription", "conference.transcription":
		ev.Type = bridge.EventTranscription
		ev.Transcript = p.TranscriptionData.Transcript
		ev.IsFinal = p.TranscriptionData.IsFinal
	default:
		return bridge.Event{}, false
	}
	return ev, true
}

// normalizeDirection maps the provider's direction strings. Telnyx reports
// "incoming"/"outgoing"; both spellings are accepted.
func normalizeDirection(direction string) domain.CallDirection {
	switch direction {
	case "incoming", "inbound":
		return domain.DirectionInbound
	case "outgoing", "outbound":
		return domain.DirectionOutbound
	default:
		return domain.CallDirection(direction)
	}
}

// sendOKResponse sends a standard OK response
func (h *WebhookHandler) sendOKResponse(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "ok"}`))
}
