package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/FlowPilot/internal/models"
	"github.com/BTreeMap/FlowPilot/internal/store"
)

func TestStoreBasedStateManager_CreateAndGet(t *testing.T) {
	st := store.NewInMemoryStore()
	sm := NewStoreBasedStateManager(st)
	ctx := context.Background()

	if _, err := sm.GetConversation(ctx, "missing"); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}

	rec, err := sm.CreateConversation(ctx, "conv-1", "+15551234567", models.NewConversationContext("Alex"))
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	if rec.Status != models.ConversationStatusIdle || rec.CurrentStep != "" {
		t.Errorf("new conversation should be idle, got %+v", rec)
	}

	got, err := sm.GetConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.Context.UserProfile.UserName != "Alex" || got.Address != "+15551234567" {
		t.Errorf("unexpected record: %+v", got)
	}
}

func TestStoreBasedStateManager_CreateRejectsBadInput(t *testing.T) {
	sm := NewStoreBasedStateManager(store.NewInMemoryStore())
	ctx := context.Background()

	if _, err := sm.CreateConversation(ctx, "", "", models.NewConversationContext("")); !errors.Is(err, models.ErrEmptyConversationID) {
		t.Errorf("expected ErrEmptyConversationID, got %v", err)
	}
	bad := models.NewConversationContext("")
	bad.UrgencyLevel.Level = ""
	if _, err := sm.CreateConversation(ctx, "c1", "", bad); !errors.Is(err, models.ErrMissingUrgencyLevel) {
		t.Errorf("expected ErrMissingUrgencyLevel, got %v", err)
	}
}

func TestStoreBasedStateManager_GetOrCreateByAddress(t *testing.T) {
	sm := NewStoreBasedStateManager(store.NewInMemoryStore())
	ctx := context.Background()

	first, err := sm.GetOrCreateByAddress(ctx, "conv-a", "+15550001111", "")
	if err != nil {
		t.Fatalf("GetOrCreateByAddress failed: %v", err)
	}
	second, err := sm.GetOrCreateByAddress(ctx, "conv-b", "+15550001111", "")
	if err != nil {
		t.Fatalf("GetOrCreateByAddress failed: %v", err)
	}
	if first.ID != "conv-a" || second.ID != "conv-a" {
		t.Errorf("expected the same conversation for one address, got %s and %s", first.ID, second.ID)
	}
	if second.Context.UrgencyLevel.Level != models.UrgencyNormal {
		t.Errorf("default context should have normal urgency, got %q", second.Context.UrgencyLevel.Level)
	}
}

func TestApplyResponse_Transitions(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	base := models.ConversationRecord{
		ID:      "c1",
		Status:  models.ConversationStatusIdle,
		Context: models.NewConversationContext(""),
	}

	started := ApplyResponse(base, models.FlowResponse{
		FlowActive:  true,
		FlowType:    models.FlowTypeQuoteCollection,
		CurrentStep: "project_type",
		FlowData:    map[string]string{},
	}, now)
	if started.Status != models.ConversationStatusActive || started.CurrentStep != "project_type" {
		t.Errorf("unexpected started record: %+v", started)
	}
	if started.Context.ActiveFlow != models.FlowTypeQuoteCollection || !started.Context.HasTopic(models.TopicQuote) {
		t.Errorf("quote start should record the active flow and topic: %+v", started.Context)
	}
	if !started.UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt not stamped: %v", started.UpdatedAt)
	}
	if base.Context.HasTopic(models.TopicQuote) || base.Status != models.ConversationStatusIdle {
		t.Error("ApplyResponse mutated its input record")
	}

	confirming := ApplyResponse(started, models.FlowResponse{
		FlowActive:           true,
		FlowType:             models.FlowTypeConsultationScheduling,
		CurrentStep:          "consultation_confirmation",
		NextStep:             StepCompletion,
		RequiresConfirmation: true,
		FlowData:             map[string]string{"contact_details": "x"},
	}, now)
	if confirming.CurrentStep != StepCompletion {
		t.Errorf("confirmation should persist the next step, got %q", confirming.CurrentStep)
	}
	if confirming.Context.FlowData["contact_details"] != "x" {
		t.Errorf("flowData not merged: %v", confirming.Context.FlowData)
	}

	done := ApplyResponse(confirming, models.FlowResponse{
		FlowCompleted: true,
		FlowType:      models.FlowTypeConsultationScheduling,
		FlowData:      map[string]string{"contact_details": "x"},
	}, now)
	if done.Status != models.ConversationStatusCompleted || done.CurrentStep != "" {
		t.Errorf("unexpected completed record: %+v", done)
	}
	if done.Context.ActiveFlow != models.FlowTypeNone || !done.Context.HasTopic(models.TopicCompleted) {
		t.Errorf("completion should clear the active flow and add the completed topic: %+v", done.Context)
	}

	menu := ApplyResponse(base, models.FlowResponse{Response: "Hello!"}, now)
	if menu.Status != models.ConversationStatusIdle || menu.CurrentStep != "" {
		t.Errorf("initiation should leave the conversation idle: %+v", menu)
	}
}

func TestTurnInput_RestartsCompletedConversations(t *testing.T) {
	rec := models.ConversationRecord{
		ID:          "c1",
		Status:      models.ConversationStatusCompleted,
		CurrentStep: "",
		Context:     models.NewConversationContext(""),
	}
	rec.Context.FlowData["project_type"] = "Other"
	rec.Context.ActiveFlow = models.FlowTypeQuoteCollection

	step, cctx := TurnInput(rec)
	if step != "" || len(cctx.FlowData) != 0 || cctx.ActiveFlow != models.FlowTypeNone {
		t.Errorf("completed conversation should restart clean, got step=%q ctx=%+v", step, cctx)
	}
	if rec.Context.FlowData["project_type"] != "Other" {
		t.Error("TurnInput mutated the stored record")
	}

	rec.Status = models.ConversationStatusActive
	rec.CurrentStep = "timeline"
	if step, _ := TurnInput(rec); step != "timeline" {
		t.Errorf("active conversation should resume at its step, got %q", step)
	}
}

func TestStoreBasedStateManager_ReplaceContextKeepsProgress(t *testing.T) {
	sm := NewStoreBasedStateManager(store.NewInMemoryStore())
	ctx := context.Background()

	rec, err := sm.CreateConversation(ctx, "c1", "", models.NewConversationContext(""))
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	rec, err = sm.ApplyResponse(ctx, rec, models.FlowResponse{
		FlowActive:  true,
		FlowType:    models.FlowTypeQuoteCollection,
		CurrentStep: "location_details",
		FlowData:    map[string]string{"project_type": "Other"},
	})
	if err != nil {
		t.Fatalf("ApplyResponse failed: %v", err)
	}

	replacement := models.NewConversationContext("Jordan")
	replacement.UrgencyLevel.Level = models.UrgencyHigh
	replacement.FlowData["project_type"] = "ignored"
	updated, err := sm.ReplaceContext(ctx, "c1", replacement)
	if err != nil {
		t.Fatalf("ReplaceContext failed: %v", err)
	}
	if updated.Context.UrgencyLevel.Level != models.UrgencyHigh || updated.Context.UserProfile.UserName != "Jordan" {
		t.Errorf("memory fields not replaced: %+v", updated.Context)
	}
	if updated.Context.FlowData["project_type"] != "Other" || updated.Context.ActiveFlow != models.FlowTypeQuoteCollection {
		t.Errorf("flow progress lost: %+v", updated.Context)
	}
	if updated.CurrentStep != "location_details" {
		t.Errorf("current step changed: %q", updated.CurrentStep)
	}

	if _, err := sm.ReplaceContext(ctx, "missing", replacement); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestStoreBasedStateManager_Reset(t *testing.T) {
	sm := NewStoreBasedStateManager(store.NewInMemoryStore())
	ctx := context.Background()
	if _, err := sm.CreateConversation(ctx, "c1", "", models.NewConversationContext("")); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	if err := sm.ResetConversation(ctx, "c1"); err != nil {
		t.Fatalf("ResetConversation failed: %v", err)
	}
	if _, err := sm.GetConversation(ctx, "c1"); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("expected conversation to be gone, got %v", err)
	}
}
