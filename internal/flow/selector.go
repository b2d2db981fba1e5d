package flow

import "github.com/BTreeMap/FlowPilot/internal/models"

// SelectFlow decides which flow should be active when none is in progress.
// Rules are evaluated in priority order and the first match wins; the result
// depends only on its arguments.
func SelectFlow(cctx models.ConversationContext, userInput string) models.FlowType {
	tokens := Tokenize(userInput)
	intent, _ := cctx.LatestIntent()

	switch {
	case cctx.UrgencyLevel.Level == models.UrgencyCritical || EmergencyKeywords.MatchesTokens(tokens):
		return models.FlowTypeEmergencyAssessment
	case intent == models.IntentProjectQuote || QuoteKeywords.MatchesTokens(tokens):
		return models.FlowTypeQuoteCollection
	case intent == models.IntentProjectConsultation || ConsultationKeywords.MatchesTokens(tokens):
		return models.FlowTypeConsultationScheduling
	case PlanningKeywords.MatchesTokens(tokens):
		return models.FlowTypeProjectPlanning
	case cctx.HasTopic(models.TopicQuote) && !cctx.HasTopic(models.TopicCompleted):
		return models.FlowTypeQuoteCollection
	default:
		return models.FlowTypeNone
	}
}

// SuggestFlows ranks the flows offered when no flow is active: urgency-driven
// first, interest-driven second, then the two always-offered defaults.
func SuggestFlows(catalog *Catalog, cctx models.ConversationContext) []models.SuggestedFlow {
	var ranked []models.FlowType
	if cctx.UrgencyLevel.Level != models.UrgencyNormal {
		ranked = append(ranked, models.FlowTypeEmergencyAssessment)
	}
	if cctx.HasInterest(models.TopicQuote) {
		ranked = append(ranked, models.FlowTypeQuoteCollection)
	}
	ranked = append(ranked, models.FlowTypeConsultationScheduling, models.FlowTypeProjectPlanning)

	out := make([]models.SuggestedFlow, 0, len(ranked))
	for _, ft := range ranked {
		f, ok := catalog.Get(ft)
		if !ok {
			continue
		}
		out = append(out, models.SuggestedFlow{Name: ft, Description: f.Purpose})
	}
	return out
}
