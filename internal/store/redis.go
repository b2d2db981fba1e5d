// Package store provides storage backends for FlowPilot.
//
// This file implements a Redis-backed store suited to short-lived sessions.
// Records are JSON values with an optional TTL. Sorted sets scored by update
// time index them for listing and pruning, and per channel address.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/FlowPilot/internal/models"
	"github.com/redis/go-redis/v9"
)

// Redis key layout.
const (
	redisKeyPrefix        = "flowpilot:"
	redisConversationKey  = redisKeyPrefix + "conversation:"
	redisAddressKey       = redisKeyPrefix + "address:"
	redisConversationsSet = redisKeyPrefix + "conversations"
	redisInboundKey       = redisKeyPrefix + "inbound:"
	// DefaultInboundTTL is how long an inbound message id is remembered
	DefaultInboundTTL = 72 * time.Hour
	// DefaultRedisTimeout bounds every Redis round trip
	DefaultRedisTimeout = 5 * time.Second
)

// RedisStore stores conversations and inbound message ids in Redis.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis. The address may be host:port or a redis:// URL.
func NewRedisStore(opts ...Option) (*RedisStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewRedisStore invoked", "addr_set", cfg.RedisAddr != "", "db", cfg.RedisDB, "ttl", cfg.RedisTTL)
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("redis address not set")
	}

	var ropts *redis.Options
	if hasAnyPrefix(cfg.RedisAddr, "redis://", "rediss://") {
		parsed, err := redis.ParseURL(cfg.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		ropts = parsed
	} else {
		ropts = &redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB}
	}
	client := redis.NewClient(ropts)

	ctx, cancel := context.WithTimeout(context.Background(), DefaultRedisTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Error("Redis ping failed", "error", err)
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: client, ttl: cfg.RedisTTL}, nil
}

func (s *RedisStore) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), DefaultRedisTimeout)
}

// SaveConversation stores or updates a conversation record.
func (s *RedisStore) SaveConversation(rec models.ConversationRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode conversation %s: %w", rec.ID, err)
	}
	ctx, cancel := s.ctx()
	defer cancel()

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisConversationKey+rec.ID, data, s.ttl)
		score := float64(rec.UpdatedAt.UnixMilli())
		pipe.ZAdd(ctx, redisConversationsSet, redis.Z{Score: score, Member: rec.ID})
		if rec.Address != "" {
			addrKey := redisAddressKey + rec.Address
			pipe.ZAdd(ctx, addrKey, redis.Z{Score: score, Member: rec.ID})
			if s.ttl > 0 {
				pipe.Expire(ctx, addrKey, s.ttl)
			}
		}
		return nil
	})
	if err != nil {
		slog.Error("RedisStore SaveConversation failed", "error", err, "id", rec.ID)
		return fmt.Errorf("failed to save conversation %s: %w", rec.ID, err)
	}
	slog.Debug("RedisStore SaveConversation succeeded", "id", rec.ID, "flow", rec.FlowType, "step", rec.CurrentStep)
	return nil
}

// GetConversation retrieves a conversation record by id.
func (s *RedisStore) GetConversation(id string) (*models.ConversationRecord, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.get(ctx, id)
}

func (s *RedisStore) get(ctx context.Context, id string) (*models.ConversationRecord, error) {
	data, err := s.client.Get(ctx, redisConversationKey+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		slog.Error("RedisStore GetConversation failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}
	var rec models.ConversationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode conversation %s: %w", id, err)
	}
	if rec.Context.FlowData == nil {
		rec.Context.FlowData = map[string]string{}
	}
	return &rec, nil
}

// GetConversationByAddress retrieves the most recently updated conversation
// for a channel address.
func (s *RedisStore) GetConversationByAddress(address string) (*models.ConversationRecord, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	addrKey := redisAddressKey + address
	ids, err := s.client.ZRevRange(ctx, addrKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to look up conversation for %s: %w", address, err)
	}
	for _, id := range ids {
		rec, err := s.get(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec != nil && rec.Address == address {
			return rec, nil
		}
		// expired, or re-saved under another address
		s.client.ZRem(ctx, addrKey, id)
	}
	return nil, nil
}

// ListConversations returns all live records ordered by creation time.
func (s *RedisStore) ListConversations() ([]models.ConversationRecord, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	ids, err := s.client.ZRange(ctx, redisConversationsSet, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	out := make([]models.ConversationRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.get(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			// expired by TTL; drop the stale index entry
			s.client.ZRem(ctx, redisConversationsSet, id)
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// DeleteConversation removes a conversation record and its index entries.
func (s *RedisStore) DeleteConversation(id string) error {
	ctx, cancel := s.ctx()
	defer cancel()
	rec, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, redisConversationKey+id)
		pipe.ZRem(ctx, redisConversationsSet, id)
		if rec != nil && rec.Address != "" {
			pipe.ZRem(ctx, redisAddressKey+rec.Address, id)
		}
		return nil
	})
	if err != nil {
		slog.Error("RedisStore DeleteConversation failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete conversation %s: %w", id, err)
	}
	return nil
}

// PruneConversations removes records not updated since cutoff.
func (s *RedisStore) PruneConversations(cutoff time.Time) (int, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	ids, err := s.client.ZRangeByScore(ctx, redisConversationsSet, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to find stale conversations: %w", err)
	}
	for _, id := range ids {
		if err := s.DeleteConversation(id); err != nil {
			return 0, err
		}
	}
	if len(ids) > 0 {
		slog.Info("RedisStore pruned conversations", "count", len(ids), "ids", strings.Join(ids, ","))
	}
	return len(ids), nil
}

// RecordInbound records messageID for DefaultInboundTTL, returning false if
// it was already present.
func (s *RedisStore) RecordInbound(messageID, address string) (bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	key := redisInboundKey + messageID
	fresh, err := s.client.HSetNX(ctx, key, "address", address).Result()
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	if !fresh {
		return false, nil
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "received_at", time.Now().UTC().Format(time.RFC3339Nano))
		pipe.Expire(ctx, key, DefaultInboundTTL)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	return true, nil
}

// MarkProcessed stamps the first processing of a recorded message.
func (s *RedisStore) MarkProcessed(messageID string) error {
	ctx, cancel := s.ctx()
	defer cancel()
	key := redisInboundKey + messageID
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	if n == 0 {
		return nil
	}
	if err := s.client.HSetNX(ctx, key, "processed_at", time.Now().UTC().Format(time.RFC3339Nano)).Err(); err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
