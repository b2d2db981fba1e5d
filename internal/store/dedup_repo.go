package store

import (
	"time"
)

// InboundRecord tracks one channel message by its provider message id. It
// mirrors a row of the inbound_dedup table.
type InboundRecord struct {
	MessageID   string     `json:"message_id"`
	Address     string     `json:"address"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// DedupRepo records inbound message ids so provider redeliveries are dropped.
// Recording is the duplicate check: it is a single atomic insert.
type DedupRepo interface {
	// RecordInbound inserts a new inbound record. It returns false if the
	// message was already recorded.
	RecordInbound(messageID, address string) (bool, error)

	// MarkProcessed sets the processed timestamp for a message.
	MarkProcessed(messageID string) error
}
