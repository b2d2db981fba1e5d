package models

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// IntentRecord is one entry of the recent-intents history.
type IntentRecord struct {
	PrimaryIntent Intent  `json:"primaryIntent"`
	Confidence    float64 `json:"confidence,omitempty"`
}

// ShortTermMemory holds per-session conversational signals.
type ShortTermMemory struct {
	RecentIntents []IntentRecord `json:"recentIntents,omitempty"`
	RecentTopics  []string       `json:"recentTopics,omitempty"`
}

// LongTermMemory holds durable facts about the user.
type LongTermMemory struct {
	BudgetRange      string   `json:"budgetRange,omitempty"`
	PrimaryInterests []string `json:"primaryInterests,omitempty"`
}

// Urgency wraps the urgency signal computed upstream.
type Urgency struct {
	Level UrgencyLevel `json:"level"`
}

// UserProfile carries the fields used for personalization.
type UserProfile struct {
	UserName string `json:"userName,omitempty"`
}

// ConversationContext is the caller-owned bundle read and extended by the engine.
// ActiveFlow is an optional hint naming the flow the caller believes is in
// progress; the engine re-derives flow identity on every turn and only uses it
// to disambiguate step ids shared between flows.
type ConversationContext struct {
	ShortTermMemory ShortTermMemory   `json:"shortTermMemory"`
	LongTermMemory  LongTermMemory    `json:"longTermMemory"`
	UrgencyLevel    Urgency           `json:"urgencyLevel"`
	UserProfile     UserProfile       `json:"userProfile"`
	FlowData        map[string]string `json:"flowData,omitempty"`
	ActiveFlow      FlowType          `json:"activeFlow,omitempty"`
}

// NewConversationContext returns a well-formed context with normal urgency.
func NewConversationContext(userName string) ConversationContext {
	return ConversationContext{
		UrgencyLevel: Urgency{Level: UrgencyNormal},
		UserProfile:  UserProfile{UserName: userName},
		FlowData:     map[string]string{},
	}
}

// Validate fails fast on a context the engine cannot route safely.
func (c ConversationContext) Validate() error {
	if c.UrgencyLevel.Level == "" {
		return ErrMissingUrgencyLevel
	}
	if !IsValidUrgencyLevel(c.UrgencyLevel.Level) {
		return fmt.Errorf("%w: %q", ErrUnknownUrgencyLevel, c.UrgencyLevel.Level)
	}
	if c.ActiveFlow != FlowTypeNone && !IsValidFlowType(c.ActiveFlow) {
		return fmt.Errorf("%w: %q", ErrUnknownFlowType, c.ActiveFlow)
	}
	return nil
}

// LatestIntent returns the most recent recorded intent, if any.
func (c ConversationContext) LatestIntent() (Intent, bool) {
	n := len(c.ShortTermMemory.RecentIntents)
	if n == 0 {
		return "", false
	}
	return c.ShortTermMemory.RecentIntents[n-1].PrimaryIntent, true
}

// HasTopic reports whether the recent topics contain the token.
func (c ConversationContext) HasTopic(topic string) bool {
	for _, t := range c.ShortTermMemory.RecentTopics {
		if strings.EqualFold(t, topic) {
			return true
		}
	}
	return false
}

// HasInterest reports whether any long-term interest mentions the token.
func (c ConversationContext) HasInterest(token string) bool {
	token = strings.ToLower(token)
	for _, interest := range c.LongTermMemory.PrimaryInterests {
		if strings.Contains(strings.ToLower(interest), token) {
			return true
		}
	}
	return false
}

// Answer returns the recorded answer for a step id.
func (c ConversationContext) Answer(stepID string) (string, bool) {
	v, ok := c.FlowData[stepID]
	return v, ok
}

// WithFlowData returns a copy of the context whose flowData is the given
// mapping. The receiver and its maps are left untouched.
func (c ConversationContext) WithFlowData(flowData map[string]string) ConversationContext {
	out := c.Clone()
	out.FlowData = maps.Clone(flowData)
	if out.FlowData == nil {
		out.FlowData = map[string]string{}
	}
	return out
}

// WithTopic returns a copy of the context with the topic appended unless present.
func (c ConversationContext) WithTopic(topic string) ConversationContext {
	out := c.Clone()
	if !c.HasTopic(topic) {
		out.ShortTermMemory.RecentTopics = append(out.ShortTermMemory.RecentTopics, topic)
	}
	return out
}

// Clone deep-copies the slices and maps so the copy can be extended freely.
func (c ConversationContext) Clone() ConversationContext {
	out := c
	out.ShortTermMemory.RecentIntents = slices.Clone(c.ShortTermMemory.RecentIntents)
	out.ShortTermMemory.RecentTopics = slices.Clone(c.ShortTermMemory.RecentTopics)
	out.LongTermMemory.PrimaryInterests = slices.Clone(c.LongTermMemory.PrimaryInterests)
	out.FlowData = maps.Clone(c.FlowData)
	return out
}
