// Package models defines state management structures for FlowPilot flows.
package models

import "time"

// ConversationStatus represents the lifecycle of a stored conversation.
type ConversationStatus string

const (
	ConversationStatusIdle      ConversationStatus = "idle"
	ConversationStatusActive    ConversationStatus = "active"
	ConversationStatusCompleted ConversationStatus = "completed"
)

// ConversationRecord is what the service persists between turns. The engine
// never sees it; it only receives CurrentStep and Context.
type ConversationRecord struct {
	ID          string              `json:"id"`
	Address     string              `json:"address,omitempty"` // channel address such as an E.164 phone number
	FlowType    FlowType            `json:"flow_type,omitempty"`
	CurrentStep string              `json:"current_step,omitempty"`
	Status      ConversationStatus  `json:"status"`
	Context     ConversationContext `json:"context"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}
