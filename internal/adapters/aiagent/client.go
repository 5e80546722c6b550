// Package aiagent talks to the conversational-AI platform's outbound-call
// API. The agent itself is an opaque remote party: the only thing this client
// produces is the SIP endpoint the call-control provider should dial so the
// agent lands in the right conversation.
package aiagent

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

	"github.com/RelayVoiceAI/relay-call-service/pkg/logger"
)

// ErrNotConfigured is returned when neither the platform API nor a static SIP
// trunk is configured.
var ErrNotConfigured = errors.New("AI agent platform not configured")

// Resolver resolves the SIP endpoint for an agent joining a conversation.
type Resolver interface {
	SIPEndpoint(ctx context.Context, agentID, conferenceID, callerNumber string) (string, error)
}

// Client registers upcoming calls with the AI platform and resolves per-call
// SIP URIs. When the platform credential is absent it degrades to the static
// trunk URI so a partially configured deployment still bridges calls.
type Client struct {
	BaseURL    string
	APIKey     string
	TrunkURI   string
	HTTPClient *http.Client
}

// NewClient creates an AI-agent platform client.
func NewClient(baseURL, apiKey, trunkURI string) *Client {
	return &Client{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		TrunkURI:   trunkURI,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type registerCallRequest struct {
	AgentID        string `json:"agent_id"`
	ConversationID string `json:"conversation_id"`
	CallerNumber   string `json:"caller_number,omitempty"`
}

type registerCallResponse struct {
	SIPURI string `json:"sip_uri"`
	Error  string `json:"error,omitempty"`
}

// SIPEndpoint registers the upcoming call and returns the SIP URI to dial.
// A platform failure falls back to the static trunk when one is configured;
// with no trunk either, the failure is reported to the caller.
func (c *Client) SIPEndpoint(ctx context.Context, agentID, conferenceID, callerNumber string) (string, error) {
	if c.BaseURL == "" || c.APIKey == "" || agentID == "" {
		if c.TrunkURI != "" {
			return c.TrunkURI, nil
		}
		return "", ErrNotConfigured
	}

	uri, err := c.registerCall(ctx, agentID, conferenceID, callerNumber)
	if err != nil {
		logger.Base().Warn("AI platform call registration failed, falling back to static trunk",
			zap.String("agent_id", agentID), zap.Error(err))
		if c.TrunkURI != "" {
			return c.TrunkURI, nil
		}
		return "", err
	}
	return uri, nil
}

func (c *Client) registerCall(ctx context.Context, agentID, conferenceID, callerNumber string) (string, error) {
	payload, err := json.Marshal(registerCallRequest{
		AgentID:        agentID,
		ConversationID: conferenceID,
		CallerNumber:   callerNumber,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/calls/sip", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("AI platform request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("AI platform error (status %d): %s", resp.StatusCode, string(raw))
	}

	var parsed registerCallResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if parsed.SIPURI == "" {
		return "", errors.New("AI platform returned no SIP URI")
	}
	return parsed.SIPURI, nil
}
