// Package store provides storage backends for FlowPilot conversations.
//
// It includes an in-memory store plus SQLite, PostgreSQL and Redis backends
// selected from the configured DSN.
package store

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/FlowPilot/internal/models"
)

// Store persists conversation records between turns.
// Get methods return (nil, nil) when the record does not exist.
type Store interface {
	SaveConversation(rec models.ConversationRecord) error
	GetConversation(id string) (*models.ConversationRecord, error)
	GetConversationByAddress(address string) (*models.ConversationRecord, error)
	ListConversations() ([]models.ConversationRecord, error)
	DeleteConversation(id string) error
	// PruneConversations removes records not updated since cutoff and reports how many were removed.
	// Inbound message records older than cutoff are dropped as well.
	PruneConversations(cutoff time.Time) (int, error)
	DedupRepo
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN       string
	RedisAddr string
	RedisDB   int
	RedisTTL  time.Duration
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithRedisAddr sets the Redis server address.
func WithRedisAddr(addr string) Option {
	return func(o *Opts) { o.RedisAddr = addr }
}

// WithRedisDB selects the Redis logical database.
func WithRedisDB(db int) Option {
	return func(o *Opts) { o.RedisDB = db }
}

// WithRedisTTL sets the expiry applied to conversation keys.
func WithRedisTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.RedisTTL = ttl }
}

// DetectDSNType classifies a DSN as "postgres", "redis" or "sqlite".
func DetectDSNType(dsn string) string {
	switch {
	case hasAnyPrefix(dsn, "postgres://", "postgresql://") || containsAll(dsn, "host=", "dbname="):
		return "postgres"
	case hasAnyPrefix(dsn, "redis://", "rediss://"):
		return "redis"
	default:
		return "sqlite"
	}
}

// New opens the backend matching the configured DSN or Redis address, falling
// back to an in-memory store when neither is set.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.RedisAddr != "" {
		return NewRedisStore(opts...)
	}
	if cfg.DSN == "" {
		slog.Warn("No database DSN provided, conversations will not survive a restart")
		return NewInMemoryStore(), nil
	}
	switch DetectDSNType(cfg.DSN) {
	case "postgres":
		return NewPostgresStore(opts...)
	case "redis":
		return NewRedisStore(append(opts, WithRedisAddr(cfg.DSN))...)
	default:
		return NewSQLiteStore(opts...)
	}
}

// InMemoryStore is a simple in-memory store for conversations.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]models.ConversationRecord
	inbound       map[string]InboundRecord
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]models.ConversationRecord),
		inbound:       make(map[string]InboundRecord),
	}
}

// SaveConversation stores or replaces a conversation record.
func (s *InMemoryStore) SaveConversation(rec models.ConversationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Context = rec.Context.Clone()
	s.conversations[rec.ID] = rec
	return nil
}

// GetConversation retrieves a conversation record by id.
func (s *InMemoryStore) GetConversation(id string) (*models.ConversationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.conversations[id]
	if !ok {
		return nil, nil
	}
	rec.Context = rec.Context.Clone()
	return &rec, nil
}

// GetConversationByAddress retrieves the most recently updated conversation for a channel address.
func (s *InMemoryStore) GetConversationByAddress(address string) (*models.ConversationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *models.ConversationRecord
	for _, rec := range s.conversations {
		if rec.Address != address {
			continue
		}
		if found == nil || rec.UpdatedAt.After(found.UpdatedAt) {
			r := rec
			r.Context = rec.Context.Clone()
			found = &r
		}
	}
	return found, nil
}

// ListConversations returns all records ordered by creation time.
func (s *InMemoryStore) ListConversations() ([]models.ConversationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ConversationRecord, 0, len(s.conversations))
	for _, rec := range s.conversations {
		rec.Context = rec.Context.Clone()
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// DeleteConversation removes a record; deleting a missing record is not an error.
func (s *InMemoryStore) DeleteConversation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, id)
	return nil
}

// PruneConversations removes records not updated since cutoff.
func (s *InMemoryStore) PruneConversations(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, rec := range s.conversations {
		if rec.UpdatedAt.Before(cutoff) {
			delete(s.conversations, id)
			removed++
		}
	}
	for id, in := range s.inbound {
		if in.ReceivedAt.Before(cutoff) {
			delete(s.inbound, id)
		}
	}
	return removed, nil
}

// RecordInbound records messageID, returning false if it was already present.
func (s *InMemoryStore) RecordInbound(messageID, address string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inbound[messageID]; ok {
		return false, nil
	}
	s.inbound[messageID] = InboundRecord{MessageID: messageID, Address: address, ReceivedAt: time.Now()}
	return true, nil
}

// MarkProcessed stamps a recorded message as processed.
func (s *InMemoryStore) MarkProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.inbound[messageID]
	if !ok || rec.ProcessedAt != nil {
		return nil
	}
	now := time.Now()
	rec.ProcessedAt = &now
	s.inbound[messageID] = rec
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
