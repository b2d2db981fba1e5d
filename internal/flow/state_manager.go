// Package flow provides concrete implementations of state management.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/FlowPilot/internal/models"
	"github.com/BTreeMap/FlowPilot/internal/store"
)

// StoreBasedStateManager implements StateManager using a Store backend.
type StoreBasedStateManager struct {
	store store.Store
	now   func() time.Time
}

// NewStoreBasedStateManager creates a new StateManager backed by a Store.
func NewStoreBasedStateManager(st store.Store) *StoreBasedStateManager {
	slog.Debug("Creating StoreBasedStateManager")
	return &StoreBasedStateManager{store: st, now: time.Now}
}

// CreateConversation stores a new idle conversation.
func (sm *StoreBasedStateManager) CreateConversation(ctx context.Context, id, address string, cctx models.ConversationContext) (models.ConversationRecord, error) {
	if err := models.ValidateConversationID(id); err != nil {
		return models.ConversationRecord{}, err
	}
	if err := cctx.Validate(); err != nil {
		return models.ConversationRecord{}, err
	}
	now := sm.now()
	rec := models.ConversationRecord{
		ID:        id,
		Address:   address,
		Status:    models.ConversationStatusIdle,
		Context:   cctx.WithFlowData(cctx.FlowData),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := sm.store.SaveConversation(rec); err != nil {
		slog.Error("StateManager CreateConversation save error", "error", err, "id", id)
		return models.ConversationRecord{}, fmt.Errorf("failed to create conversation: %w", err)
	}
	slog.Info("StateManager CreateConversation succeeded", "id", id, "address_set", address != "")
	return rec, nil
}

// GetConversation retrieves a conversation by id.
func (sm *StoreBasedStateManager) GetConversation(ctx context.Context, id string) (models.ConversationRecord, error) {
	rec, err := sm.store.GetConversation(id)
	if err != nil {
		slog.Error("StateManager GetConversation error", "error", err, "id", id)
		return models.ConversationRecord{}, err
	}
	if rec == nil {
		return models.ConversationRecord{}, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	return *rec, nil
}

// GetOrCreateByAddress returns the conversation last used by a channel address.
func (sm *StoreBasedStateManager) GetOrCreateByAddress(ctx context.Context, id, address, userName string) (models.ConversationRecord, error) {
	rec, err := sm.store.GetConversationByAddress(address)
	if err != nil {
		slog.Error("StateManager GetOrCreateByAddress lookup error", "error", err, "address", address)
		return models.ConversationRecord{}, err
	}
	if rec != nil {
		return *rec, nil
	}
	slog.Debug("StateManager GetOrCreateByAddress creating conversation", "address", address, "id", id)
	return sm.CreateConversation(ctx, id, address, models.NewConversationContext(userName))
}

// ApplyResponse folds an engine response into the record and saves it.
func (sm *StoreBasedStateManager) ApplyResponse(ctx context.Context, rec models.ConversationRecord, resp models.FlowResponse) (models.ConversationRecord, error) {
	updated := ApplyResponse(rec, resp, sm.now())
	if err := sm.store.SaveConversation(updated); err != nil {
		slog.Error("StateManager ApplyResponse save error", "error", err, "id", rec.ID)
		return rec, fmt.Errorf("failed to save conversation %s: %w", rec.ID, err)
	}
	slog.Debug("StateManager ApplyResponse succeeded", "id", updated.ID, "flow", updated.FlowType, "step", updated.CurrentStep, "status", updated.Status)
	return updated, nil
}

// ReplaceContext swaps the caller-owned memory fields of a conversation. The
// flow progress (flowData and the active flow) is preserved.
func (sm *StoreBasedStateManager) ReplaceContext(ctx context.Context, id string, cctx models.ConversationContext) (models.ConversationRecord, error) {
	if err := cctx.Validate(); err != nil {
		return models.ConversationRecord{}, err
	}
	rec, err := sm.GetConversation(ctx, id)
	if err != nil {
		return models.ConversationRecord{}, err
	}
	next := cctx.WithFlowData(rec.Context.FlowData)
	next.ActiveFlow = rec.Context.ActiveFlow
	rec.Context = next
	rec.UpdatedAt = sm.now()
	if err := sm.store.SaveConversation(rec); err != nil {
		slog.Error("StateManager ReplaceContext save error", "error", err, "id", id)
		return models.ConversationRecord{}, fmt.Errorf("failed to save conversation %s: %w", id, err)
	}
	return rec, nil
}

// ResetConversation removes all stored state for a conversation.
func (sm *StoreBasedStateManager) ResetConversation(ctx context.Context, id string) error {
	slog.Debug("StateManager ResetConversation", "id", id)
	if err := sm.store.DeleteConversation(id); err != nil {
		slog.Error("StateManager ResetConversation error", "error", err, "id", id)
		return err
	}
	slog.Info("StateManager ResetConversation succeeded", "id", id)
	return nil
}

// TurnInput returns the step and context to hand to the engine for the next
// turn. A completed conversation starts over with empty flowData.
func TurnInput(rec models.ConversationRecord) (string, models.ConversationContext) {
	if rec.Status == models.ConversationStatusCompleted {
		cctx := rec.Context.WithFlowData(nil)
		cctx.ActiveFlow = models.FlowTypeNone
		return "", cctx
	}
	return rec.CurrentStep, rec.Context.Clone()
}

// ApplyResponse returns a copy of rec advanced by resp. A confirmation
// response keeps its step on screen but persists the step that follows it.
func ApplyResponse(rec models.ConversationRecord, resp models.FlowResponse, now time.Time) models.ConversationRecord {
	out := rec
	cctx := rec.Context
	if resp.FlowData != nil {
		cctx = cctx.WithFlowData(resp.FlowData)
	} else {
		cctx = cctx.Clone()
	}

	switch {
	case resp.FlowActive:
		if rec.Status != models.ConversationStatusActive && resp.FlowType == models.FlowTypeQuoteCollection {
			cctx = cctx.WithTopic(models.TopicQuote)
		}
		cctx.ActiveFlow = resp.FlowType
		out.FlowType = resp.FlowType
		out.Status = models.ConversationStatusActive
		out.CurrentStep = resp.CurrentStep
		if resp.RequiresConfirmation && resp.NextStep != "" {
			out.CurrentStep = resp.NextStep
		}
	case resp.FlowCompleted:
		cctx = cctx.WithTopic(models.TopicCompleted)
		cctx.ActiveFlow = models.FlowTypeNone
		out.FlowType = resp.FlowType
		out.Status = models.ConversationStatusCompleted
		out.CurrentStep = ""
	default:
		cctx.ActiveFlow = models.FlowTypeNone
		out.Status = models.ConversationStatusIdle
		out.CurrentStep = ""
	}

	out.Context = cctx
	out.UpdatedAt = now
	return out
}
