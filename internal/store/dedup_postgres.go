package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var _ DedupRepo = (*PostgresStore)(nil)

// RecordInbound inserts messageID and reports whether this call created the
// row. A conflicting insert returns no row, which marks a redelivery.
func (s *PostgresStore) RecordInbound(messageID, address string) (bool, error) {
	var recorded string
	err := s.db.QueryRow(
		`INSERT INTO inbound_dedup (message_id, address, received_at) VALUES ($1, $2, $3)
		 ON CONFLICT (message_id) DO NOTHING
		 RETURNING message_id`,
		messageID, address, time.Now().UTC(),
	).Scan(&recorded)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("PostgresStore RecordInbound saw a redelivery", "id", messageID, "address", address)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("record inbound %s failed: %w", messageID, err)
	}
	return true, nil
}

// MarkProcessed stamps the first successful processing of messageID. Unknown
// ids and already processed messages are left untouched.
func (s *PostgresStore) MarkProcessed(messageID string) error {
	if _, err := s.db.Exec(
		`UPDATE inbound_dedup SET processed_at = $1 WHERE message_id = $2 AND processed_at IS NULL`,
		time.Now().UTC(), messageID,
	); err != nil {
		return fmt.Errorf("mark processed %s failed: %w", messageID, err)
	}
	return nil
}
