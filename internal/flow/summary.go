package flow

import "github.com/BTreeMap/FlowPilot/internal/models"

// StepSummary is the serializable shape of a step.
type StepSummary struct {
	ID       string          `json:"id" yaml:"id"`
	Type     models.StepType `json:"type" yaml:"type"`
	Question string          `json:"question,omitempty" yaml:"question,omitempty"`
	Options  []string        `json:"options,omitempty" yaml:"options,omitempty"`
}

// FlowSummary is the serializable shape of a flow definition.
type FlowSummary struct {
	Type    models.FlowType `json:"type" yaml:"type"`
	Purpose string          `json:"purpose" yaml:"purpose"`
	Steps   []StepSummary   `json:"steps" yaml:"steps"`
}

// Summaries describes every flow in catalog order. Transitions and validators
// are code and are left out.
func (c *Catalog) Summaries() []FlowSummary {
	out := make([]FlowSummary, 0, len(c.order))
	for _, f := range c.Flows() {
		fs := FlowSummary{Type: f.Type, Purpose: f.Purpose, Steps: make([]StepSummary, 0, len(f.Steps))}
		for _, s := range f.Steps {
			fs.Steps = append(fs.Steps, StepSummary{ID: s.ID, Type: s.Type, Question: s.Question, Options: s.Options})
		}
		out = append(out, fs)
	}
	return out
}
