package correlation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/RelayVoiceAI/relay-call-service/pkg/logger"
)

const (
	redisPendingPrefix  = "relay_pending:"
	redisConvPrefix     = "relay_conv:"
	redisConfIdxPrefix  = "relay_conv_conf:"
	redisLegIdxPrefix   = "relay_conv_leg:"
	redisCallbackPrefix = "relay_callback:"

	// Conversations are short-lived; the TTL is a backstop against pods that
	// die mid-call and leave entries behind.
	redisConvTTL = 4 * time.Hour
)

// RedisStore implements Store on Redis so several pods can share correlation
// state. Takes use GETDEL for the same atomicity the memory store gets from
// its lock; expected-callback expiry maps to native key TTLs, which makes
// SweepExpired a no-op here. Backend failures are logged and reported as
// misses so the state machine keeps serving events.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration // expected-callback TTL
}

// NewRedisStore creates a Redis-backed store. The callbackTTL governs
// expected-callback keys.
func NewRedisStore(client *redis.Client, callbackTTL time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: callbackTTL}
}

func (s *RedisStore) setJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		logger.Base().Error("correlation store marshal failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		logger.Base().Error("correlation store write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *RedisStore) getJSON(ctx context.Context, key string, v interface{}) bool {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Base().Error("correlation store read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

func (s *RedisStore) takeJSON(ctx context.Context, key string, v interface{}) bool {
	raw, err := s.client.GetDel(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Base().Error("correlation store take failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

func (s *RedisStore) PutPending(ctx context.Context, p *PendingCall) {
	s.setJSON(ctx, redisPendingPrefix+p.LegID, p, redisConvTTL)
}

func (s *RedisStore) TakePending(ctx context.Context, legID string) (*PendingCall, bool) {
	var p PendingCall
	if !s.takeJSON(ctx, redisPendingPrefix+legID, &p) {
		return nil, false
	}
	return &p, true
}

func (s *RedisStore) PutConversation(ctx context.Context, c *Conversation) {
	s.setJSON(ctx, redisConvPrefix+c.AnchorLegID, c, redisConvTTL)
	s.indexConversation(ctx, c)
}

// indexConversation keeps the secondary lookups (conference id, participant
// leg ids) pointed at the anchor key.
func (s *RedisStore) indexConversation(ctx context.Context, c *Conversation) {
	if c.ConferenceID != "" {
		s.client.Set(ctx, redisConfIdxPrefix+c.ConferenceID, c.AnchorLegID, redisConvTTL)
	}
	for _, legID := range []string{c.CallerLegID, c.AILegID, c.HumanLegID} {
		if legID != "" {
			s.client.Set(ctx, redisLegIdxPrefix+legID, c.AnchorLegID, redisConvTTL)
		}
	}
}

func (s *RedisStore) GetConversationByAnchor(ctx context.Context, anchorLegID string) (*Conversation, bool) {
	var c Conversation
	if !s.getJSON(ctx, redisConvPrefix+anchorLegID, &c) {
		return nil, false
	}
	return &c, true
}

func (s *RedisStore) FindConversationByConferenceID(ctx context.Context, conferenceID string) (*Conversation, bool) {
	anchor, err := s.client.Get(ctx, redisConfIdxPrefix+conferenceID).Result()
	if err != nil {
		return nil, false
	}
	return s.GetConversationByAnchor(ctx, anchor)
}

func (s *RedisStore) FindConversationByParticipant(ctx context.Context, legID string) (*Conversation, bool) {
	if c, ok := s.GetConversationByAnchor(ctx, legID); ok {
		return c, true
	}
	anchor, err := s.client.Get(ctx, redisLegIdxPrefix+legID).Result()
	if err != nil {
		return nil, false
	}
	return s.GetConversationByAnchor(ctx, anchor)
}

func (s *RedisStore) UpdateConversation(ctx context.Context, anchorLegID string, mutate func(*Conversation)) (*Conversation, bool) {
	key := redisConvPrefix + anchorLegID

	// Optimistic transaction so two pods mutating the same conversation do
	// not clobber each other's slots.
	var updated *Conversation
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		var c Conversation
		if err := json.Unmarshal(raw, &c); err != nil {
			return err
		}
		mutate(&c)
		out, err := json.Marshal(&c)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, redisConvTTL)
			return nil
		})
		if err != nil {
			return err
		}
		updated = &c
		return nil
	}, key)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Base().Error("correlation store update failed", zap.String("anchor", anchorLegID), zap.Error(err))
		}
		return nil, false
	}
	s.indexConversation(ctx, updated)
	return updated, true
}

func (s *RedisStore) DeleteConversation(ctx context.Context, anchorLegID string) (*Conversation, bool) {
	var c Conversation
	if !s.takeJSON(ctx, redisConvPrefix+anchorLegID, &c) {
		return nil, false
	}
	if c.ConferenceID != "" {
		s.client.Del(ctx, redisConfIdxPrefix+c.ConferenceID)
	}
	for _, legID := range []string{c.CallerLegID, c.AILegID, c.HumanLegID} {
		if legID != "" {
			s.client.Del(ctx, redisLegIdxPrefix+legID)
		}
	}
	return &c, true
}

func (s *RedisStore) PutExpectedCallback(ctx context.Context, cb *ExpectedCallback) {
	s.setJSON(ctx, redisCallbackPrefix+cb.Key, cb, s.ttl)
}

func (s *RedisStore) TakeExpectedCallback(ctx context.Context, key string) (*ExpectedCallback, bool) {
	var cb ExpectedCallback
	if !s.takeJSON(ctx, redisCallbackPrefix+key, &cb) {
		return nil, false
	}
	return &cb, true
}

// SweepExpired is a no-op: expected-callback keys carry a native Redis TTL.
func (s *RedisStore) SweepExpired(context.Context, time.Duration) int {
	return 0
}

// Ping verifies the Redis connection during startup.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
