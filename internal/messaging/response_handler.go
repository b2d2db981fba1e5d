// Package messaging provides the turn service that drives persisted conversations.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/FlowPilot/internal/events"
	"github.com/BTreeMap/FlowPilot/internal/flow"
	"github.com/BTreeMap/FlowPilot/internal/models"
)

// errorReply is sent to a channel user when their turn could not be processed.
const errorReply = "We encountered an issue processing your message. Please try again, or call our 24/7 line at " + flow.EmergencyLine + "."

// HandlerOption configures a ResponseHandler.
type HandlerOption func(*ResponseHandler)

// WithMessagingService sets the channel used for replies and on-call alerts.
func WithMessagingService(svc Service) HandlerOption {
	return func(rh *ResponseHandler) { rh.msgService = svc }
}

// WithPublisher sets the flow event publisher.
func WithPublisher(p events.Publisher) HandlerOption {
	return func(rh *ResponseHandler) { rh.publisher = p }
}

// WithOnCallNumber sets the number alerted when an emergency crew is dispatched.
func WithOnCallNumber(number string) HandlerOption {
	return func(rh *ResponseHandler) { rh.onCall = number }
}

// Deduper remembers inbound message ids so provider redeliveries run once.
type Deduper interface {
	RecordInbound(messageID, address string) (bool, error)
	MarkProcessed(messageID string) error
}

// WithDeduper drops inbound messages whose id was already recorded.
func WithDeduper(d Deduper) HandlerOption {
	return func(rh *ResponseHandler) { rh.dedup = d }
}

// WithIDGenerator overrides how ids for channel-initiated conversations are made.
func WithIDGenerator(fn func() string) HandlerOption {
	return func(rh *ResponseHandler) { rh.newID = fn }
}

// ResponseHandler runs conversation turns: it loads the stored state, calls the
// engine, persists the result, publishes flow events and sends replies.
// Turns for one conversation are applied one at a time, in arrival order.
type ResponseHandler struct {
	engine     *flow.Engine
	states     flow.StateManager
	msgService Service
	publisher  events.Publisher
	onCall     string
	dedup      Deduper
	newID      func() string
	locks      keyedMutex
}

// NewResponseHandler creates a ResponseHandler.
func NewResponseHandler(engine *flow.Engine, states flow.StateManager, opts ...HandlerOption) *ResponseHandler {
	rh := &ResponseHandler{
		engine:    engine,
		states:    states,
		publisher: events.NoopPublisher{},
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(rh)
	}
	return rh
}

// Engine returns the engine turns are routed through.
func (rh *ResponseHandler) Engine() *flow.Engine {
	return rh.engine
}

// ProcessTurn applies one user turn to a stored conversation.
func (rh *ResponseHandler) ProcessTurn(ctx context.Context, conversationID, input string) (models.FlowResponse, error) {
	if len(input) > models.MaxUserInputLength {
		return models.FlowResponse{}, models.ErrUserInputTooLong
	}
	unlock := rh.locks.Lock(conversationID)
	defer unlock()

	rec, err := rh.states.GetConversation(ctx, conversationID)
	if err != nil {
		return models.FlowResponse{}, err
	}
	return rh.turn(ctx, rec, input)
}

// ReplaceContext swaps a conversation's caller-owned context between turns.
func (rh *ResponseHandler) ReplaceContext(ctx context.Context, conversationID string, cctx models.ConversationContext) (models.ConversationRecord, error) {
	unlock := rh.locks.Lock(conversationID)
	defer unlock()
	return rh.states.ReplaceContext(ctx, conversationID, cctx)
}

// Reset deletes a conversation once no turn is running for it.
func (rh *ResponseHandler) Reset(ctx context.Context, conversationID string) error {
	unlock := rh.locks.Lock(conversationID)
	defer unlock()
	return rh.states.ResetConversation(ctx, conversationID)
}

// ProcessInbound runs a channel message through the conversation bound to the
// sender's address and replies on the same channel.
func (rh *ResponseHandler) ProcessInbound(ctx context.Context, msg models.InboundMessage) error {
	if rh.msgService == nil {
		return fmt.Errorf("no messaging service configured")
	}
	from, err := rh.msgService.ValidateAndCanonicalizeRecipient(msg.From)
	if err != nil {
		slog.Error("ResponseHandler ProcessInbound validation failed", "error", err, "from", msg.From)
		return fmt.Errorf("invalid sender: %w", err)
	}
	slog.Debug("ResponseHandler processing inbound message", "from", from, "id", msg.ID, "body_length", len(msg.Body))

	if rh.dedup != nil && msg.ID != "" {
		fresh, err := rh.dedup.RecordInbound(msg.ID, from)
		if err != nil {
			slog.Error("ResponseHandler dedup check failed, processing anyway", "error", err, "id", msg.ID)
		} else if !fresh {
			slog.Info("ResponseHandler dropped redelivered message", "id", msg.ID, "from", from)
			return nil
		}
	}

	unlockAddr := rh.locks.Lock("address:" + from)
	defer unlockAddr()

	rec, err := rh.states.GetOrCreateByAddress(ctx, rh.newID(), from, "")
	if err != nil {
		return fmt.Errorf("failed to load conversation for %s: %w", from, err)
	}

	unlock := rh.locks.Lock(rec.ID)
	resp, err := rh.turn(ctx, rec, msg.Body)
	unlock()
	if err != nil {
		slog.Error("ResponseHandler turn failed", "error", err, "from", from, "conversationID", rec.ID)
		if sendErr := rh.msgService.SendMessage(ctx, from, errorReply); sendErr != nil {
			slog.Error("ResponseHandler failed to send error message", "error", sendErr, "from", from)
		}
		return fmt.Errorf("turn failed: %w", err)
	}

	if err := rh.msgService.SendMessage(ctx, from, resp.Response); err != nil {
		slog.Error("ResponseHandler failed to send reply", "error", err, "from", from)
		return fmt.Errorf("failed to send reply: %w", err)
	}
	slog.Info("ResponseHandler replied", "from", from, "conversationID", rec.ID, "flow", resp.FlowType, "step", resp.CurrentStep)
	if rh.dedup != nil && msg.ID != "" {
		if err := rh.dedup.MarkProcessed(msg.ID); err != nil {
			slog.Warn("ResponseHandler failed to mark message processed", "error", err, "id", msg.ID)
		}
	}
	return nil
}

// Start consumes inbound messages from the messaging service until ctx ends
// or the channel closes.
func (rh *ResponseHandler) Start(ctx context.Context) {
	if rh.msgService == nil {
		slog.Debug("ResponseHandler has no messaging service, not starting")
		return
	}
	slog.Info("ResponseHandler starting inbound processing")

	go func() {
		defer slog.Info("ResponseHandler stopped inbound processing")
		for {
			select {
			case msg, ok := <-rh.msgService.Responses():
				if !ok {
					slog.Debug("ResponseHandler inbound channel closed")
					return
				}
				if err := rh.ProcessInbound(ctx, msg); err != nil {
					slog.Error("ResponseHandler failed to process inbound message", "error", err, "from", msg.From)
				}
			case <-ctx.Done():
				slog.Debug("ResponseHandler stopping due to context cancellation")
				return
			}
		}
	}()
}

// turn runs the engine for rec. The caller holds the conversation lock.
func (rh *ResponseHandler) turn(ctx context.Context, rec models.ConversationRecord, input string) (models.FlowResponse, error) {
	step, cctx := flow.TurnInput(rec)
	resp, err := rh.engine.HandleTurn(rec.ID, step, input, cctx)
	if err != nil {
		return models.FlowResponse{}, err
	}

	updated, err := rh.states.ApplyResponse(ctx, rec, resp)
	if err != nil {
		return models.FlowResponse{}, err
	}

	rh.publishOutcome(ctx, rec.Status, updated, resp)
	if resp.Urgent {
		rh.notifyOnCall(ctx, updated.ID, resp)
	}
	return resp, nil
}

func (rh *ResponseHandler) publishOutcome(ctx context.Context, prev models.ConversationStatus, rec models.ConversationRecord, resp models.FlowResponse) {
	now := time.Now().UTC()
	var out []events.Event
	if resp.FlowActive && prev != models.ConversationStatusActive {
		out = append(out, events.Event{Type: events.TypeFlowStarted, ConversationID: rec.ID, FlowType: resp.FlowType, Step: resp.CurrentStep, Timestamp: now})
	}
	if resp.Urgent {
		out = append(out, events.Event{Type: events.TypeDispatchInitiated, ConversationID: rec.ID, FlowType: resp.FlowType, Urgent: true, FlowData: resp.FlowData, Timestamp: now})
	}
	if resp.FlowCompleted {
		typ := events.TypeFlowCompleted
		if resp.Unresolved {
			typ = events.TypeFlowUnresolved
		}
		out = append(out, events.Event{Type: typ, ConversationID: rec.ID, FlowType: resp.FlowType, FlowData: resp.FlowData, Timestamp: now})
	}
	for _, ev := range out {
		if err := rh.publisher.Publish(ctx, ev); err != nil {
			slog.Error("ResponseHandler failed to publish event", "error", err, "type", ev.Type, "conversationID", ev.ConversationID)
		}
	}
}

// notifyOnCall texts the dispatch summary to the on-call number.
func (rh *ResponseHandler) notifyOnCall(ctx context.Context, conversationID string, resp models.FlowResponse) {
	if rh.msgService == nil || rh.onCall == "" {
		slog.Debug("ResponseHandler on-call notification skipped", "conversationID", conversationID)
		return
	}
	if err := rh.msgService.SendMessage(ctx, rh.onCall, DispatchAlert(conversationID, resp.FlowData)); err != nil {
		slog.Error("ResponseHandler failed to notify on-call", "error", err, "conversationID", conversationID)
		return
	}
	slog.Info("ResponseHandler notified on-call crew", "conversationID", conversationID)
}

// DispatchAlert renders the text sent to the on-call crew.
func DispatchAlert(conversationID string, flowData map[string]string) string {
	field := func(key string) string {
		if v := strings.TrimSpace(flowData[key]); v != "" {
			return v
		}
		return "unknown"
	}
	return fmt.Sprintf("EMERGENCY DISPATCH %s\nType: %s\nUrgency: %s\nDamage: %s\nLocation: %s\nCallback: %s",
		conversationID, field("emergency_type"), field("urgency_level"), field("damage_assessment"),
		field("location_access"), field("contact_phone"))
}
