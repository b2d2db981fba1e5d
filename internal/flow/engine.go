// Package flow implements the guided conversation flow engine.
//
// The engine is a pure function of (conversationID, currentStep, userInput,
// context) plus the static flow catalog. It holds no per-conversation state
// and is safe for concurrent use.
package flow

import (
	"fmt"
	"log/slog"
	"maps"
	"sync/atomic"

	"github.com/BTreeMap/FlowPilot/internal/models"
)

// Opts holds configuration options for the Engine.
type Opts struct {
	Catalog *Catalog
}

// Option defines a configuration option for the Engine.
type Option func(*Opts)

// WithCatalog replaces the built-in flow catalog.
func WithCatalog(c *Catalog) Option {
	return func(o *Opts) { o.Catalog = c }
}

// Stats is a snapshot of the engine counters.
type Stats struct {
	Turns              int64 `json:"turns"`
	Initiations        int64 `json:"initiations"`
	Started            int64 `json:"started"`
	Completed          int64 `json:"completed"`
	Dispatched         int64 `json:"dispatched"`
	Unresolved         int64 `json:"unresolved"`
	ValidationFailures int64 `json:"validation_failures"`
}

type counters struct {
	turns              atomic.Int64
	initiations        atomic.Int64
	started            atomic.Int64
	completed          atomic.Int64
	dispatched         atomic.Int64
	unresolved         atomic.Int64
	validationFailures atomic.Int64
}

// Engine routes conversation turns through the flow catalog.
type Engine struct {
	catalog *Catalog
	stats   counters
}

// NewEngine creates an Engine backed by the default catalog unless overridden.
func NewEngine(opts ...Option) *Engine {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Catalog == nil {
		cfg.Catalog = DefaultCatalog()
	}
	slog.Debug("Creating flow Engine", "flows", len(cfg.Catalog.order))
	return &Engine{catalog: cfg.Catalog}
}

// Catalog returns the catalog the engine routes through.
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Turns:              e.stats.turns.Load(),
		Initiations:        e.stats.initiations.Load(),
		Started:            e.stats.started.Load(),
		Completed:          e.stats.completed.Load(),
		Dispatched:         e.stats.dispatched.Load(),
		Unresolved:         e.stats.unresolved.Load(),
		ValidationFailures: e.stats.validationFailures.Load(),
	}
}

// HandleTurn processes one user turn. An empty currentStep means no flow is in
// progress. The returned response carries the complete flowData for the
// conversation; the context passed in is never modified.
func (e *Engine) HandleTurn(conversationID, currentStep, userInput string, cctx models.ConversationContext) (models.FlowResponse, error) {
	if err := models.ValidateConversationID(conversationID); err != nil {
		return models.FlowResponse{}, err
	}
	if err := cctx.Validate(); err != nil {
		slog.Error("Engine.HandleTurn: malformed context", "conversationID", conversationID, "error", err)
		return models.FlowResponse{}, fmt.Errorf("conversation %s: %w", conversationID, err)
	}
	e.stats.turns.Add(1)
	cctx = cctx.Clone()

	slog.Debug("Engine.HandleTurn", "conversationID", conversationID, "currentStep", currentStep, "activeFlow", cctx.ActiveFlow)

	if currentStep == "" {
		selected := SelectFlow(cctx, userInput)
		if selected == models.FlowTypeNone {
			return e.initiate(conversationID, cctx), nil
		}
		f, ok := e.catalog.Get(selected)
		if !ok {
			return models.FlowResponse{}, fmt.Errorf("%w: %s", models.ErrUnknownFlowType, selected)
		}
		return e.start(conversationID, f, cctx), nil
	}

	f := e.resolveFlow(cctx, currentStep, userInput)
	if f == nil {
		slog.Info("Engine.HandleTurn: no flow for step, showing menu", "conversationID", conversationID, "currentStep", currentStep)
		return e.initiate(conversationID, cctx), nil
	}

	t := turn{conversationID: conversationID, flow: f, input: userInput, cctx: cctx}
	step, index, ok := f.Step(currentStep)
	if !ok {
		return e.unresolved(t, currentStep), nil
	}
	t.step = step
	t.index = index
	return e.process(t), nil
}

// StartFlow opens the named flow at its first step regardless of the
// selection rules. It is the entry point for callers that already know which
// flow the user picked.
func (e *Engine) StartFlow(conversationID string, ft models.FlowType, cctx models.ConversationContext) (models.FlowResponse, error) {
	if err := models.ValidateConversationID(conversationID); err != nil {
		return models.FlowResponse{}, err
	}
	if err := cctx.Validate(); err != nil {
		return models.FlowResponse{}, fmt.Errorf("conversation %s: %w", conversationID, err)
	}
	f, ok := e.catalog.Get(ft)
	if !ok {
		return models.FlowResponse{}, fmt.Errorf("%w: %s", models.ErrUnknownFlowType, ft)
	}
	e.stats.turns.Add(1)
	return e.start(conversationID, f, cctx.Clone()), nil
}

// resolveFlow decides which flow a non-empty currentStep belongs to: the
// caller's hint, then the selector's choice when it holds the step, then the
// first catalog flow holding the step, then the selector's choice regardless.
func (e *Engine) resolveFlow(cctx models.ConversationContext, currentStep, userInput string) *FlowDefinition {
	if cctx.ActiveFlow != models.FlowTypeNone {
		if f, ok := e.catalog.Get(cctx.ActiveFlow); ok {
			return f
		}
	}
	selected := SelectFlow(cctx, userInput)
	if f, ok := e.catalog.Get(selected); ok && f.HasStep(currentStep) {
		return f
	}
	if f, ok := e.catalog.FindByStep(currentStep); ok {
		return f
	}
	if f, ok := e.catalog.Get(selected); ok {
		return f
	}
	return nil
}

// start opens a freshly selected flow at its first step.
func (e *Engine) start(conversationID string, f *FlowDefinition, cctx models.ConversationContext) models.FlowResponse {
	e.stats.started.Add(1)
	slog.Info("Engine: flow started", "conversationID", conversationID, "flow", f.Type)

	first := f.First()
	intro := StartMessage(f, cctx.UserProfile.UserName)
	if !first.Type.IsInteractive() {
		return e.process(turn{conversationID: conversationID, flow: f, step: first, index: 0, cctx: cctx, prefix: intro})
	}
	return models.FlowResponse{
		FlowActive:    true,
		FlowType:      f.Type,
		CurrentStep:   first.ID,
		Response:      intro + "\n\n" + FormatQuestion(first),
		FlowData:      maps.Clone(cctx.FlowData),
		Progress:      FormatProgress(1, f.VisibleStepCount()),
		RequiresInput: first.Type != models.StepTypeSelection,
	}
}

// initiate lists the available flows when none is active.
func (e *Engine) initiate(conversationID string, cctx models.ConversationContext) models.FlowResponse {
	e.stats.initiations.Add(1)
	slog.Debug("Engine: no flow selected", "conversationID", conversationID)
	return models.FlowResponse{
		FlowActive:     false,
		Response:       InitiationMessage(e.catalog, cctx.UserProfile.UserName),
		SuggestedFlows: SuggestFlows(e.catalog, cctx),
	}
}
