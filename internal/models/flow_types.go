// Package models defines flow type definitions to avoid circular imports.
package models

// FlowType identifies one of the guided conversation flows.
type FlowType string

// StepType determines which step processor handles a step.
type StepType string

// UrgencyLevel is the externally computed urgency signal carried in the context.
type UrgencyLevel string

// Intent is the opaque upstream intent label recorded in short-term memory.
type Intent string

// Flow type constants.
const (
	FlowTypeNone                   FlowType = ""
	FlowTypeQuoteCollection        FlowType = "quote_collection"
	FlowTypeEmergencyAssessment    FlowType = "emergency_assessment"
	FlowTypeConsultationScheduling FlowType = "consultation_scheduling"
	FlowTypeProjectPlanning        FlowType = "project_planning"
)

// AllFlowTypes lists the flow types in catalog order.
var AllFlowTypes = []FlowType{
	FlowTypeQuoteCollection,
	FlowTypeEmergencyAssessment,
	FlowTypeConsultationScheduling,
	FlowTypeProjectPlanning,
}

// IsValidFlowType checks if the given flow type is part of the catalog.
func IsValidFlowType(ft FlowType) bool {
	switch ft {
	case FlowTypeQuoteCollection, FlowTypeEmergencyAssessment, FlowTypeConsultationScheduling, FlowTypeProjectPlanning:
		return true
	default:
		return false
	}
}

// Step type constants.
const (
	StepTypeSelection     StepType = "selection"
	StepTypeText          StepType = "text"
	StepTypeTextarea      StepType = "textarea"
	StepTypeContactForm   StepType = "contact_form"
	StepTypePhone         StepType = "phone"
	StepTypeSummary       StepType = "summary"
	StepTypeCompletion    StepType = "completion"
	StepTypeSafetyMessage StepType = "safety_message"
	StepTypeDispatch      StepType = "dispatch"
	StepTypeConfirmation  StepType = "confirmation"
)

// IsInteractive reports whether a step of this type waits for user input.
func (st StepType) IsInteractive() bool {
	switch st {
	case StepTypeSummary, StepTypeCompletion, StepTypeSafetyMessage, StepTypeDispatch, StepTypeConfirmation:
		return false
	default:
		return true
	}
}

// Urgency level constants.
const (
	UrgencyLow      UrgencyLevel = "low"
	UrgencyNormal   UrgencyLevel = "normal"
	UrgencyHigh     UrgencyLevel = "high"
	UrgencyCritical UrgencyLevel = "critical"
)

// IsValidUrgencyLevel checks if the given urgency level is known.
func IsValidUrgencyLevel(level UrgencyLevel) bool {
	switch level {
	case UrgencyLow, UrgencyNormal, UrgencyHigh, UrgencyCritical:
		return true
	default:
		return false
	}
}

// Intent constants consulted by flow selection.
const (
	IntentProjectQuote        Intent = "project_quote"
	IntentProjectConsultation Intent = "project_consultation"
)

// Topic tokens maintained in short-term memory.
const (
	TopicQuote     = "quote"
	TopicCompleted = "completed"
)
