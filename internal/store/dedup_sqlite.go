package store

import (
	"fmt"
	"time"
)

var _ DedupRepo = (*SQLiteStore)(nil)

// RecordInbound inserts messageID unless it is already present.
func (s *SQLiteStore) RecordInbound(messageID, address string) (bool, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO inbound_dedup (message_id, address, received_at) VALUES (?, ?, ?)`,
		messageID, address, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup rows affected check failed: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed stamps the first successful processing of messageID.
func (s *SQLiteStore) MarkProcessed(messageID string) error {
	_, err := s.db.Exec(
		`UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ? AND processed_at IS NULL`,
		time.Now().UTC(), messageID,
	)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}
