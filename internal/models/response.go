package models

// SuggestedFlow is one entry of the ranked suggestions shown when no flow is active.
type SuggestedFlow struct {
	Name        FlowType `json:"name"`
	Description string   `json:"description"`
}

// FlowResponse is the result of a single engine turn. Optional fields are
// populated only on the paths that produce them.
type FlowResponse struct {
	FlowActive           bool              `json:"flowActive"`
	FlowCompleted        bool              `json:"flowCompleted,omitempty"`
	FlowType             FlowType          `json:"flowType,omitempty"`
	CurrentStep          string            `json:"currentStep,omitempty"`
	NextStep             string            `json:"nextStep,omitempty"`
	Response             string            `json:"response"`
	FlowData             map[string]string `json:"flowData,omitempty"`
	Progress             string            `json:"progress,omitempty"`
	RequiresInput        bool              `json:"requiresInput,omitempty"`
	RequiresConfirmation bool              `json:"requiresConfirmation,omitempty"`
	Urgent               bool              `json:"urgent,omitempty"`
	SuggestedFlows       []SuggestedFlow   `json:"suggestedFlows,omitempty"`

	// Unresolved marks a completion produced because a step id could not be
	// found in the active flow. It is not serialized.
	Unresolved bool `json:"-"`
}
