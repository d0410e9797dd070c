// Package store provides storage backends for NutriNest.
//
// This file implements a Redis-backed store for deployments that already
// run Redis for session data.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/NutriNest/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultKeyPrefix namespaces all keys written by RedisStore.
	DefaultKeyPrefix = "nutrinest"
	// DedupTTL bounds how long inbound message ids are remembered.
	DedupTTL = 7 * 24 * time.Hour
)

type RedisStore struct {
	rdb    *redis.Client
	prefix string
	limit  int
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to the redis:// URL given as DSN.
func NewRedisStore(opts ...Option) (*RedisStore, error) {
	cfg := applyOptions(opts)
	if cfg.DSN == "" {
		slog.Error("RedisStore URL not set")
		return nil, fmt.Errorf("redis URL not set")
	}
	ropts, err := redis.ParseURL(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	rdb := redis.NewClient(ropts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		slog.Error("Redis ping failed", "error", err)
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	slog.Debug("RedisStore.NewRedisStore: connected", "addr", ropts.Addr, "prefix", prefix)
	return newRedisStoreWithClient(rdb, prefix, cfg.ConversationLimit), nil
}

func newRedisStoreWithClient(rdb *redis.Client, prefix string, limit int) *RedisStore {
	if limit <= 0 {
		limit = MaxConversationMessages
	}
	return &RedisStore{rdb: rdb, prefix: prefix, limit: limit}
}

func (s *RedisStore) key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (s *RedisStore) GetProfile(ctx context.Context, phone, babyID string) (*models.BabyProfile, error) {
	if babyID == "" {
		id, err := s.rdb.Get(ctx, s.key("index", phone)).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve default baby for %s: %w", phone, err)
		}
		babyID = id
	}
	data, err := s.rdb.Get(ctx, s.key("profile", phone, babyID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		slog.Error("RedisStore GetProfile failed", "error", err, "phone", phone, "babyID", babyID)
		return nil, fmt.Errorf("failed to get profile for %s: %w", phone, err)
	}
	return decodeProfile(data)
}

func (s *RedisStore) SaveProfile(ctx context.Context, phone string, p *models.BabyProfile) error {
	c, err := prepareProfile(phone, p)
	if err != nil {
		return err
	}
	data, err := encodeProfile(c)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key("profile", phone, c.BabyID), data, 0)
		pipe.Set(ctx, s.key("index", phone), c.BabyID, 0)
		return nil
	})
	if err != nil {
		slog.Error("RedisStore SaveProfile failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to save profile for %s: %w", phone, err)
	}
	return nil
}

func (s *RedisStore) GetConversation(ctx context.Context, phone string) ([]models.ConversationMessage, error) {
	raw, err := s.rdb.LRange(ctx, s.key("conversation", phone), int64(-s.limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation for %s: %w", phone, err)
	}
	msgs := make([]models.ConversationMessage, 0, len(raw))
	for _, item := range raw {
		var m models.ConversationMessage
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			slog.Warn("RedisStore GetConversation: skipping malformed entry", "phone", phone, "error", err)
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (s *RedisStore) AppendConversation(ctx context.Context, phone, role, content string) error {
	b, err := json.Marshal(models.ConversationMessage{Role: role, Content: content, Timestamp: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal conversation entry: %w", err)
	}
	k := s.key("conversation", phone)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, k, b)
		pipe.LTrim(ctx, k, int64(-s.limit), -1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append conversation for %s: %w", phone, err)
	}
	return nil
}

func (s *RedisStore) SaveFlowState(ctx context.Context, state models.FlowState) error {
	now := time.Now().UTC()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = now
	}
	state.UpdatedAt = now
	b, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal flow state: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key("flow", state.Phone, string(state.FlowType)), b, 0).Err(); err != nil {
		slog.Error("RedisStore SaveFlowState failed", "error", err, "phone", state.Phone)
		return fmt.Errorf("failed to save flow state: %w", err)
	}
	return nil
}

func (s *RedisStore) GetFlowState(ctx context.Context, phone string, flowType models.FlowType) (*models.FlowState, error) {
	b, err := s.rdb.Get(ctx, s.key("flow", phone, string(flowType))).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get flow state: %w", err)
	}
	var st models.FlowState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal flow state: %w", err)
	}
	if st.StateData == nil {
		st.StateData = make(map[models.DataKey]string)
	}
	return &st, nil
}

func (s *RedisStore) DeleteFlowState(ctx context.Context, phone string, flowType models.FlowType) error {
	if err := s.rdb.Del(ctx, s.key("flow", phone, string(flowType))).Err(); err != nil {
		return fmt.Errorf("failed to delete flow state: %w", err)
	}
	return nil
}

func (s *RedisStore) IsDuplicate(ctx context.Context, messageID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.key("dedup", messageID)).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) RecordInbound(ctx context.Context, messageID, phone string) (bool, error) {
	b, err := json.Marshal(DedupRecord{MessageID: messageID, Phone: phone, ReceivedAt: time.Now()})
	if err != nil {
		return false, fmt.Errorf("failed to marshal dedup record: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, s.key("dedup", messageID), b, DedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) MarkProcessed(ctx context.Context, messageID string) error {
	k := s.key("dedup", messageID)
	b, err := s.rdb.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	var rec DedupRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	now := time.Now()
	rec.ProcessedAt = &now
	if b, err = json.Marshal(rec); err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	if err := s.rdb.Set(ctx, k, b, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
