package store

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedisStore(t *testing.T, opts ...Option) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(server.Close)

	s, err := NewRedisStore(append([]Option{WithRedisAddr(server.Addr())}, opts...)...)
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, server
}

func TestRedisStore(t *testing.T) {
	s, _ := newTestRedisStore(t)
	exerciseStore(t, s)
}

func TestRedisStore_TTLExpiresConversations(t *testing.T) {
	s, server := newTestRedisStore(t, WithRedisTTL(time.Minute))

	if err := s.SaveConversation(newRecord("conv-ttl", "15550001111", time.Now())); err != nil {
		t.Fatalf("SaveConversation failed: %v", err)
	}
	if ttl := server.TTL(redisConversationKey + "conv-ttl"); ttl != time.Minute {
		t.Errorf("expected TTL of 1m, got %v", ttl)
	}

	server.FastForward(2 * time.Minute)

	got, err := s.GetConversation("conv-ttl")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got != nil {
		t.Error("expected conversation to expire")
	}
	all, err := s.ListConversations()
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("expected expired conversation to be skipped, got %d", len(all))
	}
}

func TestRedisStore_URLAddress(t *testing.T) {
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer server.Close()

	s, err := New(WithRedisAddr("redis://" + server.Addr() + "/0"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*RedisStore); !ok {
		t.Errorf("expected *RedisStore, got %T", s)
	}
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	if _, err := NewRedisStore(WithRedisAddr("127.0.0.1:1")); err == nil {
		t.Error("expected error connecting to an unreachable redis")
	}
}
