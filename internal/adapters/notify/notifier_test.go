package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisorPostsEvent(t *testing.T) {
	received := make(chan notification, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events/call-ended", r.URL.Path)
		var n notification
		require.NoError(t, json.NewDecoder(r.Body).Decode(&n))
		received <- n
	}))
	defer srv.Close()

	s := NewSupervisor(srv.URL)
	s.CallEnded("C1", "L1", "normal_clearing")

	select {
	case n := <-received:
		assert.Equal(t, "call-ended", n.Event)
		assert.Equal(t, "C1", n.ConferenceID)
		assert.Equal(t, "L1", n.LegID)
		assert.Equal(t, "normal_clearing", n.Cause)
		assert.NotEmpty(t, n.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("notification was not delivered")
	}
}

func TestSupervisorFailureDoesNotBlockCaller(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewSupervisor(srv.URL)

	done := make(chan struct{})
	go func() {
		s.UserJoined("C1", "L3")
		s.OutboundConnected("C1", "L4", "+15550002")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("notifier blocked the caller")
	}
}

func TestSupervisorEmptyBaseURLDrops(t *testing.T) {
	s := NewSupervisor("")
	// Must not panic or block.
	s.CallEnded("C1", "L1", "normal_clearing")
}
