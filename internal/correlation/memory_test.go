package correlation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RelayVoiceAI/relay-call-service/internal/domain"
)

func TestTakePendingConsumesExactlyOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.PutPending(ctx, &PendingCall{LegID: "L1", CallerNumber: "+15550001", CreatedAt: time.Now()})

	p, ok := store.TakePending(ctx, "L1")
	require.True(t, ok)
	assert.Equal(t, "+15550001", p.CallerNumber)

	_, ok = store.TakePending(ctx, "L1")
	assert.False(t, ok)
}

func TestTakePendingConcurrentWinnersAtMostOne(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	store.PutPending(ctx, &PendingCall{LegID: "L1", CreatedAt: time.Now()})

	const workers = 32
	var wins int64
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if _, ok := store.TakePending(ctx, "L1"); ok {
				atomic.AddInt64(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins)
}

func TestConversationLookups(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.PutConversation(ctx, &Conversation{
		AnchorLegID:  "L1",
		ConferenceID: "C1",
		Direction:    domain.DirectionInbound,
		CallerLegID:  "L1",
		CreatedAt:    time.Now(),
	})

	c, ok := store.GetConversationByAnchor(ctx, "L1")
	require.True(t, ok)
	assert.Equal(t, "C1", c.ConferenceID)

	c, ok = store.FindConversationByConferenceID(ctx, "C1")
	require.True(t, ok)
	assert.Equal(t, "L1", c.AnchorLegID)

	_, ok = store.FindConversationByConferenceID(ctx, "nope")
	assert.False(t, ok)

	updated, ok := store.UpdateConversation(ctx, "L1", func(c *Conversation) {
		c.AILegID = "L2"
	})
	require.True(t, ok)
	assert.Equal(t, "L2", updated.AILegID)

	c, ok = store.FindConversationByParticipant(ctx, "L2")
	require.True(t, ok)
	assert.Equal(t, "L1", c.AnchorLegID)

	deleted, ok := store.DeleteConversation(ctx, "L1")
	require.True(t, ok)
	assert.Equal(t, "C1", deleted.ConferenceID)

	_, ok = store.GetConversationByAnchor(ctx, "L1")
	assert.False(t, ok)
}

func TestUpdateConversationMissingAnchor(t *testing.T) {
	store := NewMemoryStore()
	_, ok := store.UpdateConversation(context.Background(), "ghost", func(c *Conversation) {
		c.HumanJoined = true
	})
	assert.False(t, ok)
}

func TestSweepExpiredDropsOnlyStaleCallbacks(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.PutExpectedCallback(ctx, &ExpectedCallback{
		Key:       CallbackKey("+15550001", "+15550002"),
		CreatedAt: time.Now().Add(-2 * time.Minute),
	})
	store.PutExpectedCallback(ctx, &ExpectedCallback{
		Key:       "fresh",
		CreatedAt: time.Now(),
	})

	removed := store.SweepExpired(ctx, time.Minute)
	assert.Equal(t, 1, removed)

	_, ok := store.TakeExpectedCallback(ctx, CallbackKey("+15550001", "+15550002"))
	assert.False(t, ok, "stale entry must be unreachable after sweep")

	cb, ok := store.TakeExpectedCallback(ctx, "fresh")
	require.True(t, ok)
	assert.Equal(t, "fresh", cb.Key)
}

func TestTakeExpectedCallbackConsumes(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.PutExpectedCallback(ctx, &ExpectedCallback{Key: "k", ContactNumber: "+15550009", CreatedAt: time.Now()})

	cb, ok := store.TakeExpectedCallback(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "+15550009", cb.ContactNumber)

	_, ok = store.TakeExpectedCallback(ctx, "k")
	assert.False(t, ok)
}
