package flow

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/FlowPilot/internal/models"
)

// Formatting constants
const (
	// OptionFormat is the format string for a numbered option line
	OptionFormat = "\n%d. %s"
	// ProgressFormat is the format string for the progress indicator
	ProgressFormat = "Step %d of %d"
	// ContactExample is shown when contact details fail validation
	ContactExample = "jane@example.com, (555) 123-4567"
	// PhoneExample is shown when a phone number fails validation
	PhoneExample = "(555) 123-4567"
	// EmergencyLine is the number given out in dispatch messages
	EmergencyLine = "1-800-555-0199"
	// GenericAcknowledgment is used for steps without a dedicated phrase
	GenericAcknowledgment = "Thank you for that information."
	// notProvided fills read-back fields that have no recorded answer
	notProvided = "Not provided"
)

// acknowledgments maps step ids to the phrase used after a valid answer.
// A %s verb receives the lowercased answer.
var acknowledgments = map[string]string{
	"project_type":       "I understand you're planning %s.",
	"damage_description": "Thanks for describing the damage.",
	"location_details":   "Got it, I've noted the project location.",
	"project_scope":      "Thanks, that gives us a clear picture of the scope.",
	"budget_range":       "Thanks, I've noted your budget range.",
	"timeline":           "Great, I've noted your preferred timeline.",
	"emergency_type":     "I'm sorry you're dealing with %s.",
	"urgency_level":      "Understood. We'll prioritize your situation accordingly.",
	"damage_assessment":  "Thank you, that helps our crew prepare.",
	"location_access":    "Got it, I've recorded the address and access details.",
	"consultation_type":  "Great, I've noted your preference for %s.",
	"project_interest":   "That sounds like an exciting project.",
	"preferred_timing":   "Perfect, %s work well for us.",
	"project_category":   "Wonderful, %s projects are our specialty.",
	"project_vision":     "That's a great vision to build from.",
	"requirements":       "Thanks, I've captured your requirements.",
	"budget_planning":    "Thanks, I've noted your planning budget.",
	"timeline_planning":  "Good to know your timeline.",
	"design_preferences": "Thanks for sharing your design preferences.",
}

// completionTemplates holds one message per flow type. %s receives the
// personalization suffix (", Name" or "").
var completionTemplates = map[models.FlowType]string{
	models.FlowTypeQuoteCollection:        "Thank you%s! I have everything I need to prepare your quote. Our estimating team will review your project details and reach out within 1-2 business days.",
	models.FlowTypeEmergencyAssessment:    "Thank you%s. Your emergency report is complete and our response team has your details. Stay safe, and call 911 if conditions get worse.",
	models.FlowTypeConsultationScheduling: "You're all set%s! Your consultation request has been received and a specialist will confirm your appointment shortly.",
	models.FlowTypeProjectPlanning:        "Thank you%s! Your project plan has been captured. Our design team will prepare an initial planning package and follow up with next steps.",
}

const genericCompletionTemplate = "Thank you%s! We've received your information and will be in touch soon."

// flowTitles are the menu labels shown by the initiation message.
var flowTitles = map[models.FlowType]string{
	models.FlowTypeQuoteCollection:        "Getting a project quote",
	models.FlowTypeEmergencyAssessment:    "Emergency repair assessment",
	models.FlowTypeConsultationScheduling: "Scheduling a consultation",
	models.FlowTypeProjectPlanning:        "Planning a new project",
}

func nameSuffix(userName string) string {
	if name := strings.TrimSpace(userName); name != "" {
		return ", " + name
	}
	return ""
}

// FormatQuestion renders a step's question followed by its numbered options.
func FormatQuestion(step StepDefinition) string {
	var sb strings.Builder
	sb.WriteString(step.Question)
	if step.Type == models.StepTypeSelection {
		for i, opt := range step.Options {
			fmt.Fprintf(&sb, OptionFormat, i+1, opt)
		}
	}
	return sb.String()
}

// FormatProgress renders the progress indicator.
func FormatProgress(step, total int) string {
	return fmt.Sprintf(ProgressFormat, step, total)
}

// Acknowledgment returns the phrase used after a valid answer at stepID,
// addressed to userName when one is known.
func Acknowledgment(stepID, answer, userName string) string {
	tmpl, ok := acknowledgments[stepID]
	if !ok {
		if suffix := nameSuffix(userName); suffix != "" {
			return "Thank you" + suffix + "."
		}
		return GenericAcknowledgment
	}
	// The name goes at the end of the first sentence of the phrase.
	head, tail := tmpl, ""
	if i := strings.IndexAny(tmpl, ".!"); i >= 0 {
		head, tail = tmpl[:i], tmpl[i:]
	}
	if strings.Contains(head, "%s") {
		head = fmt.Sprintf(head, strings.ToLower(strings.TrimSpace(answer)))
	}
	return head + nameSuffix(userName) + tail
}

// CompletionMessage returns the flow-specific completion text.
func CompletionMessage(ft models.FlowType, userName string) string {
	tmpl, ok := completionTemplates[ft]
	if !ok {
		tmpl = genericCompletionTemplate
	}
	return fmt.Sprintf(tmpl, nameSuffix(userName))
}

// StartMessage introduces a freshly selected flow.
func StartMessage(f *FlowDefinition, userName string) string {
	return fmt.Sprintf("Happy to help%s! Let's get started. We'll %s.",
		nameSuffix(userName), lowerFirst(f.Purpose))
}

// InitiationMessage lists the available flows when none is active.
func InitiationMessage(catalog *Catalog, userName string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Hello%s! I can help you with:\n", nameSuffix(userName))
	for i, f := range catalog.Flows() {
		title, ok := flowTitles[f.Type]
		if !ok {
			title = f.Purpose
		}
		fmt.Fprintf(&sb, OptionFormat, i+1, title)
	}
	sb.WriteString("\n\nWhat would you like to do today?")
	return sb.String()
}

// SafetyMessage is the fixed banner shown before an emergency assessment continues.
func SafetyMessage(userName string) string {
	return fmt.Sprintf("SAFETY FIRST%s: If anyone is in immediate danger or the situation is life-threatening, "+
		"call 911 now. Leave the building if it is unsafe, and stay away from standing water, smoke, "+
		"gas odors, and exposed wiring.", nameSuffix(userName))
}

// DispatchMessage confirms that an emergency crew has been dispatched.
func DispatchMessage(flowData map[string]string, userName string) string {
	priority := "HIGH"
	if LifeThreatKeywords.MatchesAny(flowData["urgency_level"]) {
		priority = "CRITICAL"
	}
	callback := flowData["contact_phone"]
	if callback == "" {
		callback = "the number on file"
	}
	return fmt.Sprintf("Emergency dispatch initiated%s.\n\n"+
		"Priority: %s\n"+
		"Estimated arrival: 60-90 minutes\n"+
		"Our crew lead will call you at %s before arriving.\n"+
		"24/7 emergency line: %s",
		nameSuffix(userName), priority, strings.TrimSpace(callback), EmergencyLine)
}

// ConfirmationMessage reads the consultation answers back to the user.
func ConfirmationMessage(flowData map[string]string, userName string) string {
	field := func(key string) string {
		if v := strings.TrimSpace(flowData[key]); v != "" {
			return v
		}
		return notProvided
	}
	return fmt.Sprintf("Let me confirm your consultation details%s:\n\n"+
		"- Consultation type: %s\n"+
		"- Preferred timing: %s\n"+
		"- Contact: %s\n\n"+
		"Is this information correct?",
		nameSuffix(userName), field("consultation_type"), field("preferred_timing"), field("contact_details"))
}

// Re-prompt messages for failed validation.

func selectionReprompt(step StepDefinition) string {
	return "Please choose one of the options below.\n\n" + FormatQuestion(step)
}

func textReprompt(step StepDefinition) string {
	return "Could you provide a bit more detail? " + step.Question
}

func contactReprompt() string {
	return "I need both an email address and a phone number to continue. Please use this format: " + ContactExample
}

func phoneReprompt() string {
	return "Please enter a valid phone number including the area code, for example: " + PhoneExample
}

func defaultPrompt(step StepDefinition) string {
	if step.Question != "" {
		return step.Question
	}
	return "Could you please provide more information?"
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
