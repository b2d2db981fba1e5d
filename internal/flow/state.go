// Package flow defines state management interfaces for persisted conversations.
package flow

import (
	"context"
	"errors"

	"github.com/BTreeMap/FlowPilot/internal/models"
)

// ErrConversationNotFound is returned when a conversation id has no stored record.
var ErrConversationNotFound = errors.New("conversation not found")

// StateManager defines the interface for managing conversation state between turns.
type StateManager interface {
	// CreateConversation stores a new idle conversation with the given context.
	CreateConversation(ctx context.Context, id, address string, cctx models.ConversationContext) (models.ConversationRecord, error)

	// GetConversation retrieves a conversation or ErrConversationNotFound.
	GetConversation(ctx context.Context, id string) (models.ConversationRecord, error)

	// GetOrCreateByAddress returns the conversation bound to a channel address,
	// creating one with a default context when none exists.
	GetOrCreateByAddress(ctx context.Context, id, address, userName string) (models.ConversationRecord, error)

	// ApplyResponse folds an engine response into the record and persists it.
	ApplyResponse(ctx context.Context, rec models.ConversationRecord, resp models.FlowResponse) (models.ConversationRecord, error)

	// ReplaceContext swaps the caller-owned memory fields, keeping flow progress.
	ReplaceContext(ctx context.Context, id string, cctx models.ConversationContext) (models.ConversationRecord, error)

	// ResetConversation removes all stored state for a conversation.
	ResetConversation(ctx context.Context, id string) error
}
