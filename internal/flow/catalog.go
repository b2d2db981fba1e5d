package flow

import (
	"fmt"
	"sync"

	"github.com/BTreeMap/FlowPilot/internal/models"
)

// Step ids referenced outside the catalog literal.
const (
	StepCompletion       = "completion"
	StepDamageAssessment = "damage_assessment"
)

var budgetOptions = []string{
	"Under $10,000",
	"$10,000 - $25,000",
	"$25,000 - $50,000",
	"$50,000 - $100,000",
	"Over $100,000",
	"Not sure yet",
}

func budgetKnown(cctx models.ConversationContext) bool {
	return cctx.LongTermMemory.BudgetRange != ""
}

func interestsKnown(cctx models.ConversationContext) bool {
	return len(cctx.LongTermMemory.PrimaryInterests) > 0
}

func completionStep() StepDefinition {
	return StepDefinition{
		ID:       StepCompletion,
		Type:     models.StepTypeCompletion,
		NextStep: goTo(EndOfFlow),
	}
}

func quoteCollectionFlow() *FlowDefinition {
	return &FlowDefinition{
		Type:    models.FlowTypeQuoteCollection,
		Purpose: "Collect the details we need to prepare an accurate project quote",
		Steps: []StepDefinition{
			{
				ID:       "project_type",
				Question: "What type of project are you planning?",
				Type:     models.StepTypeSelection,
				Options: []string{
					"Kitchen Renovation",
					"Bathroom Remodel",
					"Home Addition",
					"Roofing or Exterior",
					"Emergency Repair",
					"Other",
				},
				Validate: nonEmpty,
				NextStep: branchOn(RepairKeywords, "damage_description", "location_details"),
			},
			{
				ID:       "damage_description",
				Question: "Please describe the damage or issue that needs repair.",
				Type:     models.StepTypeTextarea,
				Validate: minLength(5),
				NextStep: goTo("location_details"),
			},
			{
				ID:       "location_details",
				Question: "Where is the project located? Please share the address or city.",
				Type:     models.StepTypeText,
				Validate: minLength(3),
				NextStep: goTo("project_scope"),
			},
			{
				ID:       "project_scope",
				Question: "Tell me about the scope of work. What would you like done?",
				Type:     models.StepTypeTextarea,
				Validate: minLength(5),
				NextStep: skipIfKnown(budgetKnown, "timeline", "budget_range"),
			},
			{
				ID:       "budget_range",
				Question: "What budget range are you considering?",
				Type:     models.StepTypeSelection,
				Options:  budgetOptions,
				Validate: nonEmpty,
				NextStep: goTo("timeline"),
			},
			{
				ID:       "timeline",
				Question: "When would you like the project to start?",
				Type:     models.StepTypeSelection,
				Options: []string{
					"As soon as possible",
					"Within 1 month",
					"1-3 months",
					"3-6 months",
					"Just exploring options",
				},
				Validate: nonEmpty,
				NextStep: goTo("contact_info"),
			},
			{
				ID:       "contact_info",
				Question: "What's the best way to reach you with your quote? Please share your email and phone number.",
				Type:     models.StepTypeContactForm,
				Validate: IsValidContact,
				NextStep: goTo("quote_summary"),
			},
			{
				ID:       "quote_summary",
				Type:     models.StepTypeSummary,
				NextStep: goTo(StepCompletion),
			},
			completionStep(),
		},
	}
}

func emergencyAssessmentFlow() *FlowDefinition {
	return &FlowDefinition{
		Type:    models.FlowTypeEmergencyAssessment,
		Purpose: "Assess an emergency quickly and dispatch a response crew",
		Steps: []StepDefinition{
			{
				ID:       "emergency_type",
				Question: "What kind of emergency are you dealing with?",
				Type:     models.StepTypeSelection,
				Options: []string{
					"Water Damage / Flooding",
					"Fire or Smoke Damage",
					"Structural Damage",
					"Electrical Hazard",
					"Gas Leak",
					"Storm Damage",
					"Other",
				},
				Validate: nonEmpty,
				NextStep: goTo("urgency_level"),
			},
			{
				ID:       "urgency_level",
				Question: "How urgent is the situation?",
				Type:     models.StepTypeSelection,
				Options: []string{
					"Life-threatening emergency (call 911 first)",
					"Urgent - needs attention within hours",
					"Serious - needs attention within 24 hours",
					"Can wait a few days",
				},
				Validate: nonEmpty,
				NextStep: branchOn(LifeThreatKeywords, "safety_first", StepDamageAssessment),
			},
			{
				ID:       "safety_first",
				Type:     models.StepTypeSafetyMessage,
				NextStep: goTo(StepDamageAssessment),
			},
			{
				ID:       StepDamageAssessment,
				Question: "Please describe the damage you can see and any areas that are unsafe to enter.",
				Type:     models.StepTypeTextarea,
				Validate: minLength(5),
				NextStep: goTo("location_access"),
			},
			{
				ID:       "location_access",
				Question: "What is the property address, and how can our crew access it?",
				Type:     models.StepTypeText,
				Validate: minLength(3),
				NextStep: goTo("contact_phone"),
			},
			{
				ID:       "contact_phone",
				Question: "What phone number can our emergency crew reach you at?",
				Type:     models.StepTypePhone,
				Validate: IsValidPhone,
				NextStep: goTo("emergency_dispatch"),
			},
			{
				ID:       "emergency_dispatch",
				Type:     models.StepTypeDispatch,
				NextStep: goTo(StepCompletion),
			},
			completionStep(),
		},
	}
}

func consultationSchedulingFlow() *FlowDefinition {
	return &FlowDefinition{
		Type:    models.FlowTypeConsultationScheduling,
		Purpose: "Schedule a consultation with one of our project specialists",
		Steps: []StepDefinition{
			{
				ID:       "consultation_type",
				Question: "What kind of consultation would you prefer?",
				Type:     models.StepTypeSelection,
				Options: []string{
					"In-Home Consultation",
					"Virtual Video Call",
					"Showroom Visit",
					"Phone Consultation",
				},
				Validate: nonEmpty,
				NextStep: skipIfKnown(interestsKnown, "preferred_timing", "project_interest"),
			},
			{
				ID:       "project_interest",
				Question: "What project would you like to discuss during the consultation?",
				Type:     models.StepTypeTextarea,
				Validate: minLength(3),
				NextStep: goTo("preferred_timing"),
			},
			{
				ID:       "preferred_timing",
				Question: "When works best for you?",
				Type:     models.StepTypeSelection,
				Options: []string{
					"Weekday mornings",
					"Weekday afternoons",
					"Weekday evenings",
					"Weekends",
				},
				Validate: nonEmpty,
				NextStep: goTo("contact_details"),
			},
			{
				ID:       "contact_details",
				Question: "Please share your email and phone number so we can confirm the appointment.",
				Type:     models.StepTypeContactForm,
				Validate: IsValidContact,
				NextStep: goTo("consultation_confirmation"),
			},
			{
				ID:       "consultation_confirmation",
				Type:     models.StepTypeConfirmation,
				NextStep: goTo(StepCompletion),
			},
			completionStep(),
		},
	}
}

func projectPlanningFlow() *FlowDefinition {
	return &FlowDefinition{
		Type:    models.FlowTypeProjectPlanning,
		Purpose: "Plan a project from vision and requirements through budget and timeline",
		Steps: []StepDefinition{
			{
				ID:       "project_category",
				Question: "What kind of project are you planning?",
				Type:     models.StepTypeSelection,
				Options: []string{
					"New Construction",
					"Major Renovation",
					"Addition or Expansion",
					"Outdoor Living / Landscaping",
					"Commercial Build-out",
				},
				Validate: nonEmpty,
				NextStep: goTo("project_vision"),
			},
			{
				ID:       "project_vision",
				Question: "Describe your vision for the finished project.",
				Type:     models.StepTypeTextarea,
				Validate: minLength(5),
				NextStep: goTo("requirements"),
			},
			{
				ID:       "requirements",
				Question: "What are your must-have requirements (rooms, features, materials)?",
				Type:     models.StepTypeTextarea,
				Validate: minLength(3),
				NextStep: skipIfKnown(budgetKnown, "timeline_planning", "budget_planning"),
			},
			{
				ID:       "budget_planning",
				Question: "What overall budget are you planning for?",
				Type:     models.StepTypeSelection,
				Options:  budgetOptions,
				Validate: nonEmpty,
				NextStep: goTo("timeline_planning"),
			},
			{
				ID:       "timeline_planning",
				Question: "What timeline do you have in mind for completion?",
				Type:     models.StepTypeSelection,
				Options: []string{
					"Within 3 months",
					"3-6 months",
					"6-12 months",
					"More than a year",
				},
				Validate: nonEmpty,
				NextStep: goTo("design_preferences"),
			},
			{
				ID:       "design_preferences",
				Question: "Do you have any design styles or inspiration to share? (optional)",
				Type:     models.StepTypeTextarea,
				Validate: optional,
				NextStep: goTo("planning_contact"),
			},
			{
				ID:       "planning_contact",
				Question: "How can our planning team reach you? Please share your email and phone number.",
				Type:     models.StepTypeContactForm,
				Validate: IsValidContact,
				NextStep: goTo("planning_summary"),
			},
			{
				ID:       "planning_summary",
				Type:     models.StepTypeSummary,
				NextStep: goTo(StepCompletion),
			},
			completionStep(),
		},
	}
}

// Catalog is the immutable registry of flows.
type Catalog struct {
	order []models.FlowType
	flows map[models.FlowType]*FlowDefinition
}

// NewCatalog builds a catalog from the given flows, keeping their order.
func NewCatalog(flows ...*FlowDefinition) (*Catalog, error) {
	c := &Catalog{flows: make(map[models.FlowType]*FlowDefinition, len(flows))}
	for _, f := range flows {
		if len(f.Steps) == 0 {
			return nil, fmt.Errorf("flow %s has no steps", f.Type)
		}
		if _, dup := c.flows[f.Type]; dup {
			return nil, fmt.Errorf("flow %s registered twice", f.Type)
		}
		seen := make(map[string]bool, len(f.Steps))
		for _, s := range f.Steps {
			if seen[s.ID] {
				return nil, fmt.Errorf("flow %s has duplicate step id %q", f.Type, s.ID)
			}
			seen[s.ID] = true
			if s.Type == models.StepTypeSelection && len(s.Options) == 0 {
				return nil, fmt.Errorf("flow %s selection step %q has no options", f.Type, s.ID)
			}
		}
		c.order = append(c.order, f.Type)
		c.flows[f.Type] = f
	}
	return c, nil
}

var (
	defaultCatalog     *Catalog
	defaultCatalogOnce sync.Once
)

// DefaultCatalog returns the process-wide catalog, building it on first use.
func DefaultCatalog() *Catalog {
	defaultCatalogOnce.Do(func() {
		c, err := NewCatalog(
			quoteCollectionFlow(),
			emergencyAssessmentFlow(),
			consultationSchedulingFlow(),
			projectPlanningFlow(),
		)
		if err != nil {
			panic(fmt.Sprintf("invalid built-in flow catalog: %v", err))
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// Get returns the flow of the given type.
func (c *Catalog) Get(ft models.FlowType) (*FlowDefinition, bool) {
	f, ok := c.flows[ft]
	return f, ok
}

// Flows returns the flows in catalog order.
func (c *Catalog) Flows() []*FlowDefinition {
	out := make([]*FlowDefinition, 0, len(c.order))
	for _, ft := range c.order {
		out = append(out, c.flows[ft])
	}
	return out
}

// FindByStep returns the first flow, in catalog order, that contains the step id.
func (c *Catalog) FindByStep(stepID string) (*FlowDefinition, bool) {
	for _, ft := range c.order {
		if f := c.flows[ft]; f.HasStep(stepID) {
			return f, true
		}
	}
	return nil, false
}
