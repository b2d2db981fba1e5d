// Package store provides storage backends for FlowPilot.
//
// This file implements a PostgreSQL-backed store for conversation records.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/FlowPilot/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// SaveConversation stores or updates a conversation record.
func (s *PostgresStore) SaveConversation(rec models.ConversationRecord) error {
	contextJSON, err := json.Marshal(rec.Context)
	if err != nil {
		slog.Error("PostgresStore SaveConversation JSON marshal failed", "error", err, "id", rec.ID)
		return fmt.Errorf("failed to encode context for %s: %w", rec.ID, err)
	}
	query := `
		INSERT INTO conversations (id, address, flow_type, current_step, status, context, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id)
		DO UPDATE SET
			address = EXCLUDED.address,
			flow_type = EXCLUDED.flow_type,
			current_step = EXCLUDED.current_step,
			status = EXCLUDED.status,
			context = EXCLUDED.context,
			updated_at = EXCLUDED.updated_at`
	_, err = s.db.Exec(query, rec.ID, nilIfEmpty(rec.Address), nilIfEmpty(string(rec.FlowType)),
		nilIfEmpty(rec.CurrentStep), rec.Status, contextJSON, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveConversation failed", "error", err, "id", rec.ID)
		return fmt.Errorf("failed to save conversation %s: %w", rec.ID, err)
	}
	slog.Debug("PostgresStore SaveConversation succeeded", "id", rec.ID, "flow", rec.FlowType, "step", rec.CurrentStep)
	return nil
}

// GetConversation retrieves a conversation record by id.
func (s *PostgresStore) GetConversation(id string) (*models.ConversationRecord, error) {
	row := s.db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	rec, err := scanConversation(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetConversation not found", "id", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversation failed", "error", err, "id", id)
		return nil, err
	}
	return &rec, nil
}

// GetConversationByAddress retrieves the most recently updated conversation for a channel address.
func (s *PostgresStore) GetConversationByAddress(address string) (*models.ConversationRecord, error) {
	row := s.db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE address = $1 ORDER BY updated_at DESC LIMIT 1`, address)
	rec, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversationByAddress failed", "error", err, "address", address)
		return nil, err
	}
	return &rec, nil
}

// ListConversations returns all records ordered by creation time.
func (s *PostgresStore) ListConversations() ([]models.ConversationRecord, error) {
	rows, err := s.db.Query(`SELECT ` + conversationColumns + ` FROM conversations ORDER BY created_at`)
	if err != nil {
		slog.Error("PostgresStore ListConversations failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	var out []models.ConversationRecord
	for rows.Next() {
		rec, err := scanConversation(rows)
		if err != nil {
			slog.Error("PostgresStore ListConversations scan failed", "error", err)
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteConversation removes a conversation record.
func (s *PostgresStore) DeleteConversation(id string) error {
	if _, err := s.db.Exec(`DELETE FROM conversations WHERE id = $1`, id); err != nil {
		slog.Error("PostgresStore DeleteConversation failed", "error", err, "id", id)
		return err
	}
	slog.Debug("PostgresStore DeleteConversation succeeded", "id", id)
	return nil
}

// PruneConversations removes records not updated since cutoff.
func (s *PostgresStore) PruneConversations(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM conversations WHERE updated_at < $1`, cutoff)
	if err != nil {
		slog.Error("PostgresStore PruneConversations failed", "error", err)
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if _, err := s.db.Exec(`DELETE FROM inbound_dedup WHERE received_at < $1`, cutoff); err != nil {
		slog.Error("PostgresStore PruneConversations inbound cleanup failed", "error", err)
		return int(n), fmt.Errorf("failed to prune inbound records: %w", err)
	}
	return int(n), nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	return s.db.Close()
}
