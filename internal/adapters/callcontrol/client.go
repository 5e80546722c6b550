// Package callcontrol wraps the call-control provider's REST API. The client
// is intentionally stateless: every method is a single idempotent-intent
// request whose failure is reported to the caller, never escalated.
package callcontrol

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/RelayVoiceAI/relay-call-service/pkg/logger"
)

// ErrNoCredential is returned by every operation when the API key is absent.
// It is detected locally, before any network round trip.
var ErrNoCredential = errors.New("call-control API key not configured")

// API is the surface the orchestration layer depends on.
type API interface {
	Answer(ctx context.Context, legID, clientState string) error
	CreateConference(ctx context.Context, name, legID string) (string, error)
	JoinConference(ctx context.Context, conferenceID, legID string) error
	Dial(ctx context.Context, to, from, clientState string) (string, error)
	StartTranscription(ctx context.Context, conferenceID string) error
	Hangup(ctx context.Context, legID string) error
}

// Client talks to a Telnyx-style call-control REST API.
type Client struct {
	BaseURL      string
	APIKey       string
	ConnectionID string
	HTTPClient   *http.Client

	limiter *rate.Limiter
}

// NewClient creates a call-control client. The limiter smooths request bursts
// below the provider's rate limit; pass nil to disable.
func NewClient(baseURL, apiKey, connectionID string, limiter *rate.Limiter) *Client {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(20), 40)
	}
	return &Client{
		BaseURL:      baseURL,
		APIKey:       apiKey,
		ConnectionID: connectionID,
		HTTPClient:   &http.Client{Timeout: 15 * time.Second},
		limiter:      limiter,
	}
}

// providerError is the errors[] entry carried in non-2xx responses.
type providerError struct {
	Code   string `json:"code"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

type providerResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []providerError `json:"errors"`
}

func (c *Client) post(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	if c.APIKey == "" {
		return nil, ErrNoCredential
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call-control request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var parsed providerResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil && resp.StatusCode < 400 {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}
	if len(parsed.Errors) > 0 {
		first := parsed.Errors[0]
		return nil, fmt.Errorf("provider error %s: %s - %s", first.Code, first.Title, first.Detail)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("provider error (status %d): %s", resp.StatusCode, string(raw))
	}
	return parsed.Data, nil
}

// Answer picks up an inbound leg. The clientState token is echoed back on the
// leg's subsequent webhooks.
func (c *Client) Answer(ctx context.Context, legID, clientState string) error {
	body := map[string]interface{}{}
	if clientState != "" {
		body["client_state"] = clientState
	}
	_, err := c.post(ctx, "/calls/"+legID+"/actions/answer", body)
	if err != nil {
		logger.Base().Warn("answer failed", zap.String("leg_id", legID), zap.Error(err))
	}
	return err
}

// CreateConference creates a conference with the given leg as its first
// participant and returns the provider-assigned conference id.
func (c *Client) CreateConference(ctx context.Context, name, legID string) (string, error) {
	data, err := c.post(ctx, "/conferences", map[string]interface{}{
		"name":            name,
		"call_control_id": legID,
	})
	if err != nil {
		logger.Base().Warn("create conference failed", zap.String("leg_id", legID), zap.Error(err))
		return "", err
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("decode conference response: %w", err)
	}
	if result.ID == "" {
		return "", errors.New("provider returned no conference id")
	}
	return result.ID, nil
}

// JoinConference bridges a leg into an existing conference.
func (c *Client) JoinConference(ctx context.Context, conferenceID, legID string) error {
	_, err := c.post(ctx, "/conferences/"+conferenceID+"/actions/join", map[string]interface{}{
		"call_control_id": legID,
	})
	if err != nil {
		logger.Base().Warn("join conference failed",
			zap.String("conference_id", conferenceID),
			zap.String("leg_id", legID),
			zap.Error(err))
	}
	return err
}

// Dial places an outbound call and returns the new leg id. The clientState
// token is echoed back on the resulting callbacks where the provider supports
// it.
func (c *Client) Dial(ctx context.Context, to, from, clientState string) (string, error) {
	body := map[string]interface{}{
		"connection_id": c.ConnectionID,
		"to":            to,
		"from":          from,
	}
	if clientState != "" {
		body["client_state"] = clientState
	}

	data, err := c.post(ctx, "/calls", body)
	if err != nil {
		logger.Base().Warn("dial failed", zap.String("to", to), zap.Error(err))
		return "", err
	}

	var result struct {
		CallControlID string `json:"call_control_id"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("decode dial response: %w", err)
	}
	if result.CallControlID == "" {
		return "", errors.New("provider returned no call_control_id")
	}
	return result.CallControlID, nil
}

// StartTranscription enables real-time transcription on a conference.
func (c *Client) StartTranscription(ctx context.Context, conferenceID string) error {
	_, err := c.post(ctx, "/conferences/"+conferenceID+"/actions/transcription_start", map[string]interface{}{
		"language": "en",
	})
	if err != nil {
		logger.Base().Warn("start transcription failed", zap.String("conference_id", conferenceID), zap.Error(err))
	}
	return err
}

// Hangup terminates a leg.
func (c *Client) Hangup(ctx context.Context, legID string) error {
	_, err := c.post(ctx, "/calls/"+legID+"/actions/hangup", map[string]interface{}{})
	if err != nil {
		logger.Base().Warn("hangup failed", zap.String("leg_id", legID), zap.Error(err))
	}
	return err
}
