package aiagent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSIPEndpointFromPlatform(t *testing.T) {
	var gotReq registerCallRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/calls/sip", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(`{"sip_uri":"sip:conv-1@agents.example.com"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key", "sip:fallback@trunk.example.com")
	uri, err := client.SIPEndpoint(context.Background(), "agent-a", "conf-1", "+15550001")
	require.NoError(t, err)
	assert.Equal(t, "sip:conv-1@agents.example.com", uri)
	assert.Equal(t, "agent-a", gotReq.AgentID)
	assert.Equal(t, "conf-1", gotReq.ConversationID)
}

func TestSIPEndpointFallsBackToTrunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key", "sip:fallback@trunk.example.com")
	uri, err := client.SIPEndpoint(context.Background(), "agent-a", "conf-1", "")
	require.NoError(t, err)
	assert.Equal(t, "sip:fallback@trunk.example.com", uri)
}

func TestSIPEndpointNoCredentialUsesTrunk(t *testing.T) {
	client := NewClient("", "", "sip:fallback@trunk.example.com")
	uri, err := client.SIPEndpoint(context.Background(), "agent-a", "conf-1", "")
	require.NoError(t, err)
	assert.Equal(t, "sip:fallback@trunk.example.com", uri)
}

func TestSIPEndpointNothingConfigured(t *testing.T) {
	client := NewClient("", "", "")
	_, err := client.SIPEndpoint(context.Background(), "agent-a", "conf-1", "")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
