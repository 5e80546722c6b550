// Package notify sends best-effort notifications to the supervisory system.
// Deliveries run detached from orchestration: a failure is logged and
// dropped, it never blocks or reopens call-control progression.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RelayVoiceAI/relay-call-service/pkg/logger"
)

// Notifier is the fire-and-forget outbound surface. Calls return immediately;
// delivery happens on a detached goroutine.
type Notifier interface {
	CallEnded(conferenceID, legID, cause string)
	UserJoined(conferenceID, legID string)
	OutboundConnected(conferenceID, legID, contactNumber string)
}

// Supervisor posts notifications to the supervisory system's webhook.
type Supervisor struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewSupervisor creates a notifier for the given base URL. An empty base URL
// yields a notifier that silently drops everything.
func NewSupervisor(baseURL string) *Supervisor {
	return &Supervisor{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	}
}

type notification struct {
	ID           string `json:"id"`
	Event        string `json:"event"`
	ConferenceID string `json:"conference_id,omitempty"`
	LegID        string `json:"leg_id,omitempty"`
	Cause        string `json:"cause,omitempty"`
	Contact      string `json:"contact,omitempty"`
	SentAt       string `json:"sent_at"`
}

func (s *Supervisor) CallEnded(conferenceID, legID, cause string) {
	s.dispatch(notification{Event: "call-ended", ConferenceID: conferenceID, LegID: legID, Cause: cause})
}

func (s *Supervisor) UserJoined(conferenceID, legID string) {
	s.dispatch(notification{Event: "user-joined", ConferenceID: conferenceID, LegID: legID})
}

func (s *Supervisor) OutboundConnected(conferenceID, legID, contactNumber string) {
	s.dispatch(notification{Event: "outbound-connected", ConferenceID: conferenceID, LegID: legID, Contact: contactNumber})
}

func (s *Supervisor) dispatch(n notification) {
	if s.BaseURL == "" {
		return
	}
	n.ID = uuid.NewString()
	n.SentAt = time.Now().UTC().Format(time.RFC3339)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		payload, err := json.Marshal(n)
		if err != nil {
			logger.Base().Error("notification marshal failed", zap.String("event", n.Event), zap.Error(err))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/events/"+n.Event, bytes.NewReader(payload))
		if err != nil {
			logger.Base().Error("notification request failed", zap.String("event", n.Event), zap.Error(err))
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.HTTPClient.Do(req)
		if err != nil {
			logger.Base().Warn("notification delivery failed",
				zap.String("event", n.Event),
				zap.String("conference_id", n.ConferenceID),
				zap.Error(err))
			return
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			logger.Base().Warn("supervisor rejected notification",
				zap.String("event", n.Event),
				zap.Int("status", resp.StatusCode))
		}
	}()
}
