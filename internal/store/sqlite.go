// Package store provides storage backends for FlowPilot.
//
// This file implements an SQLite-backed store for conversation records.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/FlowPilot/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// A single writer avoids SQLITE_BUSY under concurrent turns.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "path", dsn)

	return &SQLiteStore{db: db}, nil
}

// SaveConversation stores or updates a conversation record.
func (s *SQLiteStore) SaveConversation(rec models.ConversationRecord) error {
	contextJSON, err := json.Marshal(rec.Context)
	if err != nil {
		slog.Error("SQLiteStore SaveConversation JSON marshal failed", "error", err, "id", rec.ID)
		return fmt.Errorf("failed to encode context for %s: %w", rec.ID, err)
	}
	query := `
		INSERT INTO conversations (id, address, flow_type, current_step, status, context, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			address = excluded.address,
			flow_type = excluded.flow_type,
			current_step = excluded.current_step,
			status = excluded.status,
			context = excluded.context,
			updated_at = excluded.updated_at`
	_, err = s.db.Exec(query, rec.ID, nilIfEmpty(rec.Address), nilIfEmpty(string(rec.FlowType)),
		nilIfEmpty(rec.CurrentStep), rec.Status, string(contextJSON), rec.CreatedAt.UTC(), rec.UpdatedAt.UTC())
	if err != nil {
		slog.Error("SQLiteStore SaveConversation failed", "error", err, "id", rec.ID)
		return fmt.Errorf("failed to save conversation %s: %w", rec.ID, err)
	}
	slog.Debug("SQLiteStore SaveConversation succeeded", "id", rec.ID, "flow", rec.FlowType, "step", rec.CurrentStep)
	return nil
}

// GetConversation retrieves a conversation record by id.
func (s *SQLiteStore) GetConversation(id string) (*models.ConversationRecord, error) {
	row := s.db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	rec, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversation failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}
	return &rec, nil
}

// GetConversationByAddress retrieves the most recently updated conversation for a channel address.
func (s *SQLiteStore) GetConversationByAddress(address string) (*models.ConversationRecord, error) {
	row := s.db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE address = ? ORDER BY updated_at DESC LIMIT 1`, address)
	rec, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversationByAddress failed", "error", err, "address", address)
		return nil, fmt.Errorf("failed to get conversation for %s: %w", address, err)
	}
	return &rec, nil
}

// ListConversations returns all records ordered by creation time.
func (s *SQLiteStore) ListConversations() ([]models.ConversationRecord, error) {
	rows, err := s.db.Query(`SELECT ` + conversationColumns + ` FROM conversations ORDER BY created_at`)
	if err != nil {
		slog.Error("SQLiteStore ListConversations query failed", "error", err)
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var out []models.ConversationRecord
	for rows.Next() {
		rec, err := scanConversation(rows)
		if err != nil {
			slog.Error("SQLiteStore ListConversations scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversation rows: %w", err)
	}
	return out, nil
}

// DeleteConversation removes a conversation record.
func (s *SQLiteStore) DeleteConversation(id string) error {
	if _, err := s.db.Exec(`DELETE FROM conversations WHERE id = ?`, id); err != nil {
		slog.Error("SQLiteStore DeleteConversation failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete conversation %s: %w", id, err)
	}
	slog.Debug("SQLiteStore DeleteConversation succeeded", "id", id)
	return nil
}

// PruneConversations removes records not updated since cutoff.
func (s *SQLiteStore) PruneConversations(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM conversations WHERE updated_at < ?`, cutoff.UTC())
	if err != nil {
		slog.Error("SQLiteStore PruneConversations failed", "error", err)
		return 0, fmt.Errorf("failed to prune conversations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if _, err := s.db.Exec(`DELETE FROM inbound_dedup WHERE received_at < ?`, cutoff.UTC()); err != nil {
		slog.Error("SQLiteStore PruneConversations inbound cleanup failed", "error", err)
		return int(n), fmt.Errorf("failed to prune inbound records: %w", err)
	}
	return int(n), nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
