package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RelayVoiceAI/relay-call-service/internal/domain"
)

func newAPIRouter(f *webhookFixture) *mux.Router {
	router := mux.NewRouter()
	apiRouter := router.PathPrefix("/api").Subrouter()
	NewAPIHandler(f.svc, f.buffer, f.repo).SetupAPIRoutes(apiRouter)
	return router
}

func TestListEventsNewestFirst(t *testing.T) {
	f := newWebhookFixture(t)
	f.buffer.Add("call.initiated", "L1", json.RawMessage(`{"n":1}`))
	f.buffer.Add("call.answered", "L1", json.RawMessage(`{"n":2}`))

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	rec := httptest.NewRecorder()
	newAPIRouter(f).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Events []struct {
			EventType string `json:"event_type"`
		} `json:"events"`
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, "call.answered", resp.Events[0].EventType)
}

func TestGetEventByID(t *testing.T) {
	f := newWebhookFixture(t)
	id := f.buffer.Add("call.hangup", "L1", json.RawMessage(`{}`))

	req := httptest.NewRequest(http.MethodGet, "/api/events/"+id, nil)
	rec := httptest.NewRecorder()
	newAPIRouter(f).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/events/missing", nil)
	rec = httptest.NewRecorder()
	newAPIRouter(f).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListCallsPaginated(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	for _, legID := range []string{"L1", "L2", "L3"} {
		require.NoError(t, f.repo.CallHistory().RecordInitiated(ctx, &domain.CallRecord{
			ID: legID + "-rec", LegID: legID, Direction: domain.DirectionInbound,
			Status: domain.CallStatusInitiated, StartedAt: time.Now(),
		}))
	}

	req := httptest.NewRequest(http.MethodGet, "/api/calls?limit=2", nil)
	rec := httptest.NewRecorder()
	newAPIRouter(f).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Calls []struct {
			LegID string `json:"leg_id"`
		} `json:"calls"`
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Total)
	require.Len(t, resp.Calls, 2)
	assert.Equal(t, "L3", resp.Calls[0].LegID)
}

func TestGetCallByLegID(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repo.CallHistory().RecordInitiated(ctx, &domain.CallRecord{
		ID: "rec-1", LegID: "L1", Direction: domain.DirectionInbound,
		Status: domain.CallStatusInitiated, StartedAt: time.Now(),
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/calls/L1", nil)
	rec := httptest.NewRecorder()
	newAPIRouter(f).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/calls/unknown", nil)
	rec = httptest.NewRecorder()
	newAPIRouter(f).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTranscript(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repo.Transcripts().Append(ctx, &domain.TranscriptEntry{
		ID: "t1", ConferenceID: "C1", Speaker: "agent", Text: "hello", CreatedAt: time.Now(),
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/conferences/C1/transcript", nil)
	rec := httptest.NewRecorder()
	newAPIRouter(f).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Transcript []struct {
			Speaker string `json:"speaker"`
			Text    string `json:"text"`
		} `json:"transcript"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Transcript, 1)
	assert.Equal(t, "agent", resp.Transcript[0].Speaker)
}

func TestStartOutboundEndpoint(t *testing.T) {
	f := newWebhookFixture(t)

	body, _ := json.Marshal(map[string]string{"to": "+15557654321", "agent_id": "agent-1"})
	req := httptest.NewRequest(http.MethodPost, "/api/calls/outbound", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	newAPIRouter(f).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		LegID  string `json:"leg_id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.LegID)
	assert.Equal(t, "initiated", resp.Status)
	assert.Equal(t, 1, f.control.dials)
}

func TestStartOutboundRequiresDestination(t *testing.T) {
	f := newWebhookFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/calls/outbound", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	newAPIRouter(f).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, f.control.dials)
}

func TestAPIKeyMiddleware(t *testing.T) {
	secret := "test-secret"
	protected := APIKeyMiddleware(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Missing key rejected.
	req := httptest.NewRequest(http.MethodGet, "/api/calls", nil)
	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Garbage key rejected.
	req = httptest.NewRequest(http.MethodGet, "/api/calls", nil)
	req.Header.Set("X-API-Key", "not-a-jwt")
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Properly signed token accepted.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "ops"})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/api/calls", nil)
	req.Header.Set("X-API-Key", signed)
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// No secret configured means no auth.
	open := APIKeyMiddleware("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req = httptest.NewRequest(http.MethodGet, "/api/calls", nil)
	rec = httptest.NewRecorder()
	open.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
