package correlation

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the default in-process Store. Each table has its own lock so
// pending-call traffic never contends with conversation traffic; within a
// table, take semantics are a delete under the lock.
type MemoryStore struct {
	pendingMu sync.Mutex
	pending   map[string]*PendingCall

	convMu        sync.Mutex
	conversations map[string]*Conversation

	callbackMu sync.Mutex
	callbacks  map[string]*ExpectedCallback
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pending:       make(map[string]*PendingCall),
		conversations: make(map[string]*Conversation),
		callbacks:     make(map[string]*ExpectedCallback),
	}
}

func (s *MemoryStore) PutPending(_ context.Context, p *PendingCall) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	s.pending[p.LegID] = p
}

func (s *MemoryStore) TakePending(_ context.Context, legID string) (*PendingCall, bool) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	p, ok := s.pending[legID]
	if ok {
		delete(s.pending, legID)
	}
	return p, ok
}

func (s *MemoryStore) PutConversation(_ context.Context, c *Conversation) {
	s.convMu.Lock()
	defer s.convMu.Unlock()
	s.conversations[c.AnchorLegID] = c
}

func (s *MemoryStore) GetConversationByAnchor(_ context.Context, anchorLegID string) (*Conversation, bool) {
	s.convMu.Lock()
	defer s.convMu.Unlock()
	c, ok := s.conversations[anchorLegID]
	if !ok {
		return nil, false
	}
	cp := *c
	return &cp, true
}

// FindConversationByConferenceID scans the table. Conversation counts are
// small and short-lived, so a linear scan is fine here.
func (s *MemoryStore) FindConversationByConferenceID(_ context.Context, conferenceID string) (*Conversation, bool) {
	s.convMu.Lock()
	defer s.convMu.Unlock()
	for _, c := range s.conversations {
		if c.ConferenceID == conferenceID {
			cp := *c
			return &cp, true
		}
	}
	return nil, false
}

func (s *MemoryStore) FindConversationByParticipant(_ context.Context, legID string) (*Conversation, bool) {
	s.convMu.Lock()
	defer s.convMu.Unlock()
	for _, c := range s.conversations {
		if c.AnchorLegID == legID || c.CallerLegID == legID || c.AILegID == legID || c.HumanLegID == legID {
			cp := *c
			return &cp, true
		}
	}
	return nil, false
}

func (s *MemoryStore) UpdateConversation(_ context.Context, anchorLegID string, mutate func(*Conversation)) (*Conversation, bool) {
	s.convMu.Lock()
	defer s.convMu.Unlock()
	c, ok := s.conversations[anchorLegID]
	if !ok {
		return nil, false
	}
	mutate(c)
	cp := *c
	return &cp, true
}

func (s *MemoryStore) DeleteConversation(_ context.Context, anchorLegID string) (*Conversation, bool) {
	s.convMu.Lock()
	defer s.convMu.Unlock()
	c, ok := s.conversations[anchorLegID]
	if !ok {
		return nil, false
	}
	delete(s.conversations, anchorLegID)
	return c, true
}

func (s *MemoryStore) PutExpectedCallback(_ context.Context, cb *ExpectedCallback) {
	s.callbackMu.Lock()
	defer s.callbackMu.Unlock()
	s.callbacks[cb.Key] = cb
}

func (s *MemoryStore) TakeExpectedCallback(_ context.Context, key string) (*ExpectedCallback, bool) {
	s.callbackMu.Lock()
	defer s.callbackMu.Unlock()
	cb, ok := s.callbacks[key]
	if ok {
		delete(s.callbacks, key)
	}
	return cb, ok
}

// SweepExpired removes expected callbacks older than the TTL. It holds the
// same lock as TakeExpectedCallback so the sweep never races a handler that
// is resolving the same key.
func (s *MemoryStore) SweepExpired(_ context.Context, ttl time.Duration) int {
	s.callbackMu.Lock()
	defer s.callbackMu.Unlock()
	cutoff := time.Now().Add(-ttl)
	removed := 0
	for key, cb := range s.callbacks {
		if cb.CreatedAt.Before(cutoff) {
			delete(s.callbacks, key)
			removed++
		}
	}
	return removed
}
