package flow

import (
	"log/slog"
	"maps"
	"strconv"
	"strings"

	"github.com/BTreeMap/FlowPilot/internal/models"
)

// turn carries everything a step processor needs. The context's flowData is
// never written in place; successful answers produce a new mapping.
type turn struct {
	conversationID string
	flow           *FlowDefinition
	step           StepDefinition
	index          int
	input          string
	cctx           models.ConversationContext
	prefix         string // text emitted by earlier steps of the same turn
	depth          int
}

func (t turn) userName() string {
	return t.cctx.UserProfile.UserName
}

// withPrefix joins text produced earlier in the turn with this step's text.
func (t turn) withPrefix(text string) string {
	if t.prefix == "" {
		return text
	}
	return t.prefix + "\n\n" + text
}

// process dispatches on the step type.
func (e *Engine) process(t turn) models.FlowResponse {
	slog.Debug("Engine.process", "conversationID", t.conversationID, "flow", t.flow.Type, "step", t.step.ID, "type", t.step.Type)

	switch t.step.Type {
	case models.StepTypeSelection:
		return e.processSelection(t)
	case models.StepTypeText, models.StepTypeTextarea:
		return e.processText(t)
	case models.StepTypeContactForm:
		return e.processValidated(t, contactReprompt())
	case models.StepTypePhone:
		return e.processValidated(t, phoneReprompt())
	case models.StepTypeSummary:
		return e.processSummary(t)
	case models.StepTypeCompletion:
		return e.complete(t.flow, t.cctx, t.prefix, false)
	case models.StepTypeSafetyMessage:
		return e.processSafetyMessage(t)
	case models.StepTypeDispatch:
		return e.processDispatch(t)
	case models.StepTypeConfirmation:
		return e.processConfirmation(t)
	default:
		return e.processDefault(t)
	}
}

func (e *Engine) processSelection(t turn) models.FlowResponse {
	answer := resolveOption(t.step, t.input)
	if !t.step.Valid(answer) {
		return e.reprompt(t, selectionReprompt(t.step))
	}
	return e.advance(t, answer)
}

func (e *Engine) processText(t turn) models.FlowResponse {
	if !t.step.Valid(t.input) {
		return e.reprompt(t, textReprompt(t.step))
	}
	return e.advance(t, strings.TrimSpace(t.input))
}

// processValidated handles contact_form and phone steps: on success they take
// the text-step path, on failure they re-prompt with an example.
func (e *Engine) processValidated(t turn, failure string) models.FlowResponse {
	if !t.step.Valid(t.input) {
		return e.reprompt(t, failure)
	}
	return e.processText(t)
}

func (e *Engine) processSummary(t turn) models.FlowResponse {
	return e.continueAt(t, t.step.Next("", t.cctx))
}

func (e *Engine) processSafetyMessage(t turn) models.FlowResponse {
	nextID := t.step.Next("", t.cctx)
	if nextID == EndOfFlow {
		nextID = StepDamageAssessment
	}
	next, _, ok := t.flow.Step(nextID)
	if !ok {
		return e.unresolved(t, nextID)
	}
	return models.FlowResponse{
		FlowActive:    true,
		FlowType:      t.flow.Type,
		CurrentStep:   next.ID,
		Response:      t.withPrefix(SafetyMessage(t.userName()) + "\n\n" + FormatQuestion(next)),
		FlowData:      maps.Clone(t.cctx.FlowData),
		Progress:      FormatProgress(t.index+2, t.flow.VisibleStepCount()),
		RequiresInput: true,
	}
}

func (e *Engine) processDispatch(t turn) models.FlowResponse {
	e.stats.dispatched.Add(1)
	e.stats.completed.Add(1)
	slog.Info("Engine: emergency dispatch initiated", "conversationID", t.conversationID, "flow", t.flow.Type)
	return models.FlowResponse{
		FlowActive:    false,
		FlowCompleted: true,
		FlowType:      t.flow.Type,
		Response:      t.withPrefix(DispatchMessage(t.cctx.FlowData, t.userName())),
		FlowData:      maps.Clone(t.cctx.FlowData),
		Urgent:        true,
	}
}

func (e *Engine) processConfirmation(t turn) models.FlowResponse {
	return models.FlowResponse{
		FlowActive:           true,
		FlowType:             t.flow.Type,
		CurrentStep:          t.step.ID,
		NextStep:             t.step.Next("", t.cctx),
		Response:             t.withPrefix(ConfirmationMessage(t.cctx.FlowData, t.userName())),
		FlowData:             maps.Clone(t.cctx.FlowData),
		RequiresConfirmation: true,
	}
}

func (e *Engine) processDefault(t turn) models.FlowResponse {
	return models.FlowResponse{
		FlowActive:    true,
		FlowType:      t.flow.Type,
		CurrentStep:   t.step.ID,
		Response:      t.withPrefix(defaultPrompt(t.step)),
		FlowData:      maps.Clone(t.cctx.FlowData),
		RequiresInput: true,
	}
}

// reprompt keeps the conversation on the same step without touching flowData.
func (e *Engine) reprompt(t turn, text string) models.FlowResponse {
	e.stats.validationFailures.Add(1)
	slog.Debug("Engine: validation failed, re-prompting", "conversationID", t.conversationID, "flow", t.flow.Type, "step", t.step.ID)
	return models.FlowResponse{
		FlowActive:    true,
		FlowType:      t.flow.Type,
		CurrentStep:   t.step.ID,
		Response:      text,
		FlowData:      maps.Clone(t.cctx.FlowData),
		RequiresInput: true,
	}
}

// advance records a validated answer and moves to the successor step.
func (e *Engine) advance(t turn, answer string) models.FlowResponse {
	flowData := maps.Clone(t.cctx.FlowData)
	if flowData == nil {
		flowData = make(map[string]string, 1)
	}
	flowData[t.step.ID] = answer
	t.cctx = t.cctx.WithFlowData(flowData)
	t.prefix = Acknowledgment(t.step.ID, answer, t.userName())
	return e.continueAt(t, t.step.Next(answer, t.cctx))
}

// continueAt renders the step named nextID. Interactive steps are asked;
// non-interactive ones are processed within the same turn.
func (e *Engine) continueAt(t turn, nextID string) models.FlowResponse {
	if nextID == EndOfFlow {
		return e.complete(t.flow, t.cctx, t.prefix, false)
	}
	next, nextIndex, ok := t.flow.Step(nextID)
	if !ok {
		return e.unresolved(t, nextID)
	}

	if !next.Type.IsInteractive() {
		if t.depth >= len(t.flow.Steps) {
			slog.Warn("Engine: non-interactive step chain did not terminate", "conversationID", t.conversationID, "flow", t.flow.Type, "step", next.ID)
			return e.unresolved(t, next.ID)
		}
		return e.process(turn{
			conversationID: t.conversationID,
			flow:           t.flow,
			step:           next,
			index:          nextIndex,
			cctx:           t.cctx,
			prefix:         t.prefix,
			depth:          t.depth + 1,
		})
	}

	return models.FlowResponse{
		FlowActive:    true,
		FlowType:      t.flow.Type,
		CurrentStep:   next.ID,
		Response:      t.withPrefix(FormatQuestion(next)),
		FlowData:      maps.Clone(t.cctx.FlowData),
		Progress:      FormatProgress(t.index+2, t.flow.VisibleStepCount()),
		RequiresInput: next.Type != models.StepTypeSelection,
	}
}

// complete renders the flow's completion message and ends the flow.
func (e *Engine) complete(f *FlowDefinition, cctx models.ConversationContext, prefix string, unresolved bool) models.FlowResponse {
	if unresolved {
		e.stats.unresolved.Add(1)
	} else {
		e.stats.completed.Add(1)
	}
	text := CompletionMessage(f.Type, cctx.UserProfile.UserName)
	if prefix != "" {
		text = prefix + "\n\n" + text
	}
	return models.FlowResponse{
		FlowActive:    false,
		FlowCompleted: true,
		FlowType:      f.Type,
		Response:      text,
		FlowData:      maps.Clone(cctx.FlowData),
		Unresolved:    unresolved,
	}
}

// unresolved treats a step id missing from the flow as the end of the flow.
// It is logged and counted separately from genuine completions.
func (e *Engine) unresolved(t turn, stepID string) models.FlowResponse {
	slog.Warn("Engine: step not found in flow, treating as completion",
		"conversationID", t.conversationID, "flow", t.flow.Type, "step", stepID)
	return e.complete(t.flow, t.cctx, t.prefix, true)
}

// resolveOption maps a numeric choice or a case-insensitive option label to
// the canonical option; anything else is returned trimmed.
func resolveOption(step StepDefinition, input string) string {
	trimmed := strings.TrimSpace(input)
	if n, err := strconv.Atoi(strings.TrimSuffix(trimmed, ".")); err == nil && n >= 1 && n <= len(step.Options) {
		return step.Options[n-1]
	}
	for _, opt := range step.Options {
		if strings.EqualFold(opt, trimmed) {
			return opt
		}
	}
	return trimmed
}
