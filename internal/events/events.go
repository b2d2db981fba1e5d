// Package events publishes flow outcome events to downstream consumers.
//
// The turn service emits an event when a flow starts, completes, ends on an
// unresolvable step, or dispatches an emergency crew. Events are keyed by
// conversation id so a partitioned broker keeps each conversation in order.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/BTreeMap/FlowPilot/internal/models"
)

// Type names a flow outcome.
type Type string

const (
	TypeFlowStarted       Type = "flow_started"
	TypeFlowCompleted     Type = "flow_completed"
	TypeFlowUnresolved    Type = "flow_unresolved"
	TypeDispatchInitiated Type = "dispatch_initiated"
)

// Event is one flow outcome.
type Event struct {
	Type           Type              `json:"type"`
	ConversationID string            `json:"conversationId"`
	FlowType       models.FlowType   `json:"flowType,omitempty"`
	Step           string            `json:"step,omitempty"`
	Urgent         bool              `json:"urgent,omitempty"`
	FlowData       map[string]string `json:"flowData,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// NoopPublisher discards every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
func (NoopPublisher) Close() error                         { return nil }

// Recorder keeps published events in memory. It backs the tests and the
// operator CLI, which has no broker.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Publish appends the event.
func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the published event types in order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func (r *Recorder) Close() error { return nil }
