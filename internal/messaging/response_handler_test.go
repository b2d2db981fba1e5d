package messaging

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/FlowPilot/internal/events"
	"github.com/BTreeMap/FlowPilot/internal/flow"
	"github.com/BTreeMap/FlowPilot/internal/models"
	"github.com/BTreeMap/FlowPilot/internal/store"
	"github.com/BTreeMap/FlowPilot/internal/twiliosms"
)

type handlerFixture struct {
	handler  *ResponseHandler
	store    *store.InMemoryStore
	states   *flow.StoreBasedStateManager
	mock     *twiliosms.MockClient
	recorder *events.Recorder
}

func newHandlerFixture(t *testing.T, opts ...HandlerOption) handlerFixture {
	t.Helper()
	st := store.NewInMemoryStore()
	states := flow.NewStoreBasedStateManager(st)
	mock := twiliosms.NewMockClient()
	recorder := events.NewRecorder()
	base := []HandlerOption{
		WithMessagingService(NewTwilioService(mock)),
		WithPublisher(recorder),
		WithOnCallNumber("+1 (555) 000-9999"),
		WithIDGenerator(func() string { return "inbound-1" }),
	}
	rh := NewResponseHandler(flow.NewEngine(), states, append(base, opts...)...)
	return handlerFixture{handler: rh, store: st, states: states, mock: mock, recorder: recorder}
}

// seedEmergency stores a conversation waiting on the callback number.
func (f handlerFixture) seedEmergency(t *testing.T, id string) {
	t.Helper()
	cctx := models.NewConversationContext("")
	cctx.ActiveFlow = models.FlowTypeEmergencyAssessment
	cctx.FlowData = map[string]string{
		"emergency_type":    "Gas Leak",
		"urgency_level":     "Life-threatening emergency (call 911 first)",
		"damage_assessment": "Strong smell of gas in the kitchen",
		"location_access":   "12 Elm Street, side door",
	}
	now := time.Now()
	err := f.store.SaveConversation(models.ConversationRecord{
		ID:          id,
		FlowType:    models.FlowTypeEmergencyAssessment,
		CurrentStep: "contact_phone",
		Status:      models.ConversationStatusActive,
		Context:     cctx,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		t.Fatalf("SaveConversation failed: %v", err)
	}
}

func TestProcessTurn_StartsFlowAndPersists(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()
	if _, err := f.states.CreateConversation(ctx, "conv-1", "", models.NewConversationContext("")); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	resp, err := f.handler.ProcessTurn(ctx, "conv-1", "I need a quote for a kitchen renovation")
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}
	if resp.FlowType != models.FlowTypeQuoteCollection || resp.CurrentStep != "project_type" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	rec, err := f.states.GetConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if rec.Status != models.ConversationStatusActive || rec.CurrentStep != "project_type" {
		t.Errorf("record not advanced: %+v", rec)
	}
	if !rec.Context.HasTopic("quote") {
		t.Errorf("expected quote topic, got %v", rec.Context.ShortTermMemory.RecentTopics)
	}
	if got := f.recorder.Types(); !slices.Equal(got, []events.Type{events.TypeFlowStarted}) {
		t.Errorf("unexpected events: %v", got)
	}

	resp, err = f.handler.ProcessTurn(ctx, "conv-1", "Kitchen Renovation")
	if err != nil {
		t.Fatalf("second ProcessTurn failed: %v", err)
	}
	if resp.CurrentStep != "location_details" || resp.FlowData["project_type"] != "Kitchen Renovation" {
		t.Errorf("unexpected second response: %+v", resp)
	}
	if len(f.recorder.Events()) != 1 {
		t.Errorf("continuing a flow should not publish, got %v", f.recorder.Types())
	}
}

func TestProcessTurn_Errors(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	if _, err := f.handler.ProcessTurn(ctx, "missing", "hello"); !errors.Is(err, flow.ErrConversationNotFound) {
		t.Errorf("expected ErrConversationNotFound, got %v", err)
	}
	long := strings.Repeat("x", models.MaxUserInputLength+1)
	if _, err := f.handler.ProcessTurn(ctx, "missing", long); !errors.Is(err, models.ErrUserInputTooLong) {
		t.Errorf("expected ErrUserInputTooLong, got %v", err)
	}
}

func TestProcessTurn_DispatchNotifiesOnCall(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()
	f.seedEmergency(t, "conv-911")

	resp, err := f.handler.ProcessTurn(ctx, "conv-911", "(555) 123-4567")
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}
	if !resp.Urgent || !resp.FlowCompleted {
		t.Fatalf("expected urgent completion, got %+v", resp)
	}

	sent := f.mock.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected one on-call alert, got %d", len(sent))
	}
	if sent[0].To != "15550009999" {
		t.Errorf("alert sent to %q", sent[0].To)
	}
	for _, want := range []string{"conv-911", "Gas Leak", "12 Elm Street", "(555) 123-4567"} {
		if !strings.Contains(sent[0].Body, want) {
			t.Errorf("alert missing %q: %q", want, sent[0].Body)
		}
	}

	want := []events.Type{events.TypeDispatchInitiated, events.TypeFlowCompleted}
	if got := f.recorder.Types(); !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}

	rec, _ := f.states.GetConversation(ctx, "conv-911")
	if rec.Status != models.ConversationStatusCompleted || rec.CurrentStep != "" {
		t.Errorf("expected completed record, got %+v", rec)
	}
	if !rec.Context.HasTopic("completed") {
		t.Errorf("expected completed topic, got %v", rec.Context.ShortTermMemory.RecentTopics)
	}
}

func TestProcessTurn_CompletedConversationRestarts(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()
	f.seedEmergency(t, "conv-again")

	if _, err := f.handler.ProcessTurn(ctx, "conv-again", "555-123-4567"); err != nil {
		t.Fatalf("dispatch turn failed: %v", err)
	}
	resp, err := f.handler.ProcessTurn(ctx, "conv-again", "Can I get an estimate for a new roof?")
	if err != nil {
		t.Fatalf("restart turn failed: %v", err)
	}
	if resp.FlowType != models.FlowTypeQuoteCollection || resp.CurrentStep != "project_type" {
		t.Fatalf("expected a fresh quote flow, got %+v", resp)
	}
	if len(resp.FlowData) != 0 {
		t.Errorf("restarted flow should not carry old answers: %v", resp.FlowData)
	}
	types := f.recorder.Types()
	if types[len(types)-1] != events.TypeFlowStarted {
		t.Errorf("expected flow_started last, got %v", types)
	}
}

func TestProcessTurn_WithoutOnCallSkipsAlert(t *testing.T) {
	f := newHandlerFixture(t, WithOnCallNumber(""))
	f.seedEmergency(t, "conv-quiet")

	if _, err := f.handler.ProcessTurn(context.Background(), "conv-quiet", "555-123-4567"); err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}
	if n := len(f.mock.Sent()); n != 0 {
		t.Errorf("expected no alert, got %d messages", n)
	}
}

type failingPublisher struct{ calls int }

func (p *failingPublisher) Publish(context.Context, events.Event) error {
	p.calls++
	return errors.New("broker down")
}

func (p *failingPublisher) Close() error { return nil }

func TestProcessTurn_PublishFailureDoesNotFailTurn(t *testing.T) {
	pub := &failingPublisher{}
	f := newHandlerFixture(t, WithPublisher(pub))
	ctx := context.Background()
	if _, err := f.states.CreateConversation(ctx, "conv-pub", "", models.NewConversationContext("")); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	if _, err := f.handler.ProcessTurn(ctx, "conv-pub", "I need a quote"); err != nil {
		t.Fatalf("ProcessTurn should succeed when publishing fails: %v", err)
	}
	if pub.calls != 1 {
		t.Errorf("expected one publish attempt, got %d", pub.calls)
	}
}

func TestProcessTurn_UnresolvedStepPublishesUnresolved(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()
	cctx := models.NewConversationContext("")
	cctx.ActiveFlow = models.FlowTypeQuoteCollection
	now := time.Now()
	if err := f.store.SaveConversation(models.ConversationRecord{
		ID: "conv-lost", CurrentStep: "no_such_step", Status: models.ConversationStatusActive,
		Context: cctx, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("SaveConversation failed: %v", err)
	}

	resp, err := f.handler.ProcessTurn(ctx, "conv-lost", "anything")
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}
	if !resp.FlowCompleted {
		t.Fatalf("expected completion, got %+v", resp)
	}
	if got := f.recorder.Types(); !slices.Equal(got, []events.Type{events.TypeFlowUnresolved}) {
		t.Errorf("unexpected events: %v", got)
	}
}

func TestProcessInbound_RepliesAndReusesConversation(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	err := f.handler.ProcessInbound(ctx, models.InboundMessage{From: "whatsapp:+15551234567", Body: "I'd like a quote"})
	if err != nil {
		t.Fatalf("ProcessInbound failed: %v", err)
	}
	sent := f.mock.Sent()
	if len(sent) != 1 || sent[0].To != "15551234567" {
		t.Fatalf("unexpected replies: %+v", sent)
	}
	if !strings.Contains(sent[0].Body, "What type of project are you planning?") {
		t.Errorf("reply missing first question: %q", sent[0].Body)
	}

	rec, err := f.store.GetConversationByAddress("15551234567")
	if err != nil || rec == nil {
		t.Fatalf("conversation not bound to address: %v %v", rec, err)
	}
	if rec.ID != "inbound-1" {
		t.Errorf("expected generated id, got %q", rec.ID)
	}

	if err := f.handler.ProcessInbound(ctx, models.InboundMessage{From: "+1 555 123 4567", Body: "2"}); err != nil {
		t.Fatalf("second ProcessInbound failed: %v", err)
	}
	rec, _ = f.store.GetConversationByAddress("15551234567")
	if rec.CurrentStep != "location_details" || rec.Context.FlowData["project_type"] != "Bathroom Remodel" {
		t.Errorf("conversation not advanced: %+v", rec)
	}
	if list, _ := f.store.ListConversations(); len(list) != 1 {
		t.Errorf("expected a single conversation, got %d", len(list))
	}
}

func TestProcessInbound_DropsRedelivery(t *testing.T) {
	f := newHandlerFixture(t)
	rh := NewResponseHandler(flow.NewEngine(), f.states,
		WithMessagingService(NewTwilioService(f.mock)),
		WithDeduper(f.store),
		WithIDGenerator(func() string { return "inbound-1" }),
	)
	ctx := context.Background()
	msg := models.InboundMessage{ID: "SM1", From: "15551234567", Body: "I'd like a quote"}

	for i := 0; i < 2; i++ {
		if err := rh.ProcessInbound(ctx, msg); err != nil {
			t.Fatalf("ProcessInbound #%d failed: %v", i+1, err)
		}
	}
	if sent := f.mock.Sent(); len(sent) != 1 {
		t.Fatalf("expected one reply for a redelivered message, got %d", len(sent))
	}
	rec, _ := f.store.GetConversationByAddress("15551234567")
	if rec == nil || rec.CurrentStep != "project_type" {
		t.Errorf("expected the conversation to wait on project_type, got %+v", rec)
	}

	if err := rh.ProcessInbound(ctx, models.InboundMessage{From: "15551234567", Body: "2"}); err != nil {
		t.Fatalf("ProcessInbound without id failed: %v", err)
	}
	if sent := f.mock.Sent(); len(sent) != 2 {
		t.Errorf("messages without an id must not be deduplicated, got %d replies", len(sent))
	}
}

func TestProcessInbound_InvalidSender(t *testing.T) {
	f := newHandlerFixture(t)
	if err := f.handler.ProcessInbound(context.Background(), models.InboundMessage{From: "12345", Body: "hi"}); err == nil {
		t.Fatal("expected error for short sender")
	}
	if len(f.mock.Sent()) != 0 {
		t.Error("nothing should be sent to an invalid sender")
	}
}

func TestProcessInbound_TurnFailureSendsApology(t *testing.T) {
	f := newHandlerFixture(t)
	bad := models.NewConversationContext("")
	bad.UrgencyLevel.Level = ""
	now := time.Now()
	if err := f.store.SaveConversation(models.ConversationRecord{
		ID: "conv-bad", Address: "15551230000", Status: models.ConversationStatusIdle,
		Context: bad, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("SaveConversation failed: %v", err)
	}

	err := f.handler.ProcessInbound(context.Background(), models.InboundMessage{From: "15551230000", Body: "hello"})
	if !errors.Is(err, models.ErrMissingUrgencyLevel) {
		t.Fatalf("expected ErrMissingUrgencyLevel, got %v", err)
	}
	sent := f.mock.Sent()
	if len(sent) != 1 || sent[0].Body != errorReply {
		t.Errorf("expected apology reply, got %+v", sent)
	}
}

func TestProcessInbound_NoService(t *testing.T) {
	rh := NewResponseHandler(flow.NewEngine(), flow.NewStoreBasedStateManager(store.NewInMemoryStore()))
	if err := rh.ProcessInbound(context.Background(), models.InboundMessage{From: "15551234567", Body: "hi"}); err == nil {
		t.Error("expected error without a messaging service")
	}
}

func TestDispatchAlert_FillsUnknowns(t *testing.T) {
	got := DispatchAlert("c1", map[string]string{"emergency_type": "Storm Damage"})
	if !strings.Contains(got, "Type: Storm Damage") {
		t.Errorf("missing type: %q", got)
	}
	if !strings.Contains(got, "Callback: unknown") {
		t.Errorf("missing placeholder: %q", got)
	}
}
