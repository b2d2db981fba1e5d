package flow

import "github.com/BTreeMap/FlowPilot/internal/models"

// EndOfFlow is returned by a NextStepFunc to signal that the flow is complete.
const EndOfFlow = ""

// ValidateFunc reports whether the input satisfies a step's rule.
type ValidateFunc func(input string) bool

// NextStepFunc computes the successor step id, or EndOfFlow.
type NextStepFunc func(input string, cctx models.ConversationContext) string

// StepDefinition is one unit of interaction within a flow.
type StepDefinition struct {
	ID       string
	Question string
	Type     models.StepType
	Options  []string
	Validate ValidateFunc
	NextStep NextStepFunc
}

// Valid applies the step's validator; steps without one accept anything.
func (s StepDefinition) Valid(input string) bool {
	if s.Validate == nil {
		return true
	}
	return s.Validate(input)
}

// Next applies the step's transition; steps without one end the flow.
func (s StepDefinition) Next(input string, cctx models.ConversationContext) string {
	if s.NextStep == nil {
		return EndOfFlow
	}
	return s.NextStep(input, cctx)
}

// FlowDefinition is a named, ordered dialogue procedure.
type FlowDefinition struct {
	Type    models.FlowType
	Purpose string
	Steps   []StepDefinition
}

// Step looks up a step by id.
func (f *FlowDefinition) Step(id string) (StepDefinition, int, bool) {
	for i, s := range f.Steps {
		if s.ID == id {
			return s, i, true
		}
	}
	return StepDefinition{}, -1, false
}

// HasStep reports whether the flow contains the step id.
func (f *FlowDefinition) HasStep(id string) bool {
	_, _, ok := f.Step(id)
	return ok
}

// First returns the entry step of the flow.
func (f *FlowDefinition) First() StepDefinition {
	return f.Steps[0]
}

// VisibleStepCount excludes the terminal completion step from progress counts.
func (f *FlowDefinition) VisibleStepCount() int {
	return len(f.Steps) - 1
}

// goTo returns a NextStepFunc that always routes to id.
func goTo(id string) NextStepFunc {
	return func(string, models.ConversationContext) string { return id }
}

// branchOn routes to ifMatch when the input contains any keyword, else to otherwise.
func branchOn(keywords KeywordSet, ifMatch, otherwise string) NextStepFunc {
	return func(input string, _ models.ConversationContext) string {
		if keywords.MatchesAny(input) {
			return ifMatch
		}
		return otherwise
	}
}

// skipIfKnown routes past a question whose answer long-term memory already holds.
func skipIfKnown(known func(models.ConversationContext) bool, ifKnown, otherwise string) NextStepFunc {
	return func(_ string, cctx models.ConversationContext) string {
		if known(cctx) {
			return ifKnown
		}
		return otherwise
	}
}
