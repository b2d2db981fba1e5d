package flow

import (
	"strings"
	"unicode"
)

// KeywordSet is a named set of keywords matched against normalized input.
// A keyword may be a phrase; it matches when its tokens appear contiguously.
type KeywordSet struct {
	Name    string
	phrases [][]string
}

// NewKeywordSet builds a set from raw keywords.
func NewKeywordSet(name string, keywords ...string) KeywordSet {
	ks := KeywordSet{Name: name}
	for _, k := range keywords {
		if toks := Tokenize(k); len(toks) > 0 {
			ks.phrases = append(ks.phrases, toks)
		}
	}
	return ks
}

// Keywords returns the set's phrases joined back into strings.
func (ks KeywordSet) Keywords() []string {
	out := make([]string, 0, len(ks.phrases))
	for _, p := range ks.phrases {
		out = append(out, strings.Join(p, " "))
	}
	return out
}

// MatchesAny reports whether the input contains any keyword of the set.
func (ks KeywordSet) MatchesAny(input string) bool {
	return ks.MatchesTokens(Tokenize(input))
}

// MatchesTokens is MatchesAny over pre-tokenized input.
func (ks KeywordSet) MatchesTokens(tokens []string) bool {
	for _, phrase := range ks.phrases {
		if containsPhrase(tokens, phrase) {
			return true
		}
	}
	return false
}

// Tokenize lowercases the input and splits it on anything that is not a letter or digit.
func Tokenize(input string) []string {
	return strings.FieldsFunc(strings.ToLower(input), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func containsPhrase(tokens, phrase []string) bool {
	if len(phrase) == 0 || len(phrase) > len(tokens) {
		return false
	}
outer:
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		for j, p := range phrase {
			if tokens[i+j] != p {
				continue outer
			}
		}
		return true
	}
	return false
}

// Keyword sets used by flow selection and step transitions.
var (
	EmergencyKeywords    = NewKeywordSet("emergency", "emergency", "emergencies")
	QuoteKeywords        = NewKeywordSet("quote", "quote", "quotes", "estimate", "estimates")
	ConsultationKeywords = NewKeywordSet("consultation", "consultation", "consultations", "meeting", "meetings")
	PlanningKeywords     = NewKeywordSet("planning", "planning", "design", "requirements")
	RepairKeywords       = NewKeywordSet("repair", "emergency", "repair", "repairs")
	LifeThreatKeywords   = NewKeywordSet("life_threat", "life threatening", "911")
)
