package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/RelayVoiceAI/relay-call-service/internal/events"
	"github.com/RelayVoiceAI/relay-call-service/internal/repository"
	"github.com/RelayVoiceAI/relay-call-service/internal/services/bridge"
	"github.com/RelayVoiceAI/relay-call-service/pkg/logger"
)

// APIHandler serves the read API: recent webhook events, call history,
// transcripts and manual outbound dialing.
type APIHandler struct {
	service     *bridge.Service
	buffer      *events.Buffer
	repoManager repository.Manager
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(service *bridge.Service, buffer *events.Buffer, repoManager repository.Manager) *APIHandler {
	return &APIHandler{service: service, buffer: buffer, repoManager: repoManager}
}

// SetupAPIRoutes sets up all read API routes
func (h *APIHandler) SetupAPIRoutes(router *mux.Router) {
	router.HandleFunc("/events", h.HandleListEvents).Methods("GET")
	router.HandleFunc("/events/{id}", h.HandleGetEvent).Methods("GET")
	router.HandleFunc("/calls", h.HandleListCalls).Methods("GET")
	router.HandleFunc("/calls/outbound", h.HandleStartOutbound).Methods("POST")
	router.HandleFunc("/calls/{legID}", h.HandleGetCall).Methods("GET")
	router.HandleFunc("/conferences/{conferenceID}/transcript", h.HandleGetTranscript).Methods("GET")
}

// HandleListEvents returns recent webhook deliveries, newest first.
func (h *APIHandler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	records := h.buffer.List(limit)

	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"events": records,
		"count":  len(records),
	})
}

// HandleGetEvent returns one buffered webhook delivery by id.
func (h *APIHandler) HandleGetEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	record, ok := h.buffer.Get(id)
	if !ok {
		http.Error(w, "Event not found", http.StatusNotFound)
		return
	}

	h.sendJSON(w, http.StatusOK, record)
}

// HandleListCalls returns paginated call history, newest first.
func (h *APIHandler) HandleListCalls(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	records, total, err := h.repoManager.CallHistory().List(r.Context(), limit, offset)
	if err != nil {
		logger.Base().Error("failed to list call history", zap.Error(err))
		http.Error(w, "Failed to list calls", http.StatusInternalServerError)
		return
	}

	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"calls":  records,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// HandleGetCall returns one call history record by leg id.
func (h *APIHandler) HandleGetCall(w http.ResponseWriter, r *http.Request) {
	legID := mux.Vars(r)["legID"]

	record, err := h.repoManager.CallHistory().GetByLegID(r.Context(), legID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "Call not found", http.StatusNotFound)
			return
		}
		logger.Base().Error("failed to get call record", zap.String("leg_id", legID), zap.Error(err))
		http.Error(w, "Failed to get call", http.StatusInternalServerError)
		return
	}

	h.sendJSON(w, http.StatusOK, record)
}

// HandleGetTranscript returns the finalized transcript lines of a conference.
func (h *APIHandler) HandleGetTranscript(w http.ResponseWriter, r *http.Request) {
	conferenceID := mux.Vars(r)["conferenceID"]

	entries, err := h.repoManager.Transcripts().ListByConference(r.Context(), conferenceID)
	if err != nil {
		logger.Base().Error("failed to list transcript", zap.String("conference_id", conferenceID), zap.Error(err))
		http.Error(w, "Failed to get transcript", http.StatusInternalServerError)
		return
	}

	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"conference_id": conferenceID,
		"transcript":    entries,
		"count":         len(entries),
	})
}

// HandleStartOutbound dials a human contact and bridges the AI agent in once
// they answer.
func (h *APIHandler) HandleStartOutbound(w http.ResponseWriter, r *http.Request) {
	var req bridge.OutboundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.To == "" {
		http.Error(w, "to is required", http.StatusBadRequest)
		return
	}

	legID, err := h.service.StartOutbound(r.Context(), req)
	if err != nil {
		logger.Base().Error("outbound dial failed", zap.String("to", req.To), zap.Error(err))
		http.Error(w, "Failed to place outbound call", http.StatusBadGateway)
		return
	}

	h.sendJSON(w, http.StatusCreated, map[string]interface{}{
		"leg_id": legID,
		"status": "initiated",
	})
}

func (h *APIHandler) sendJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Base().Error("failed to encode response", zap.Error(err))
	}
}

func queryInt(r *http.Request, key string, defaultValue int) int {
	if value := r.URL.Query().Get(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n >= 0 {
			return n
		}
	}
	return defaultValue
}
