// Package models defines the core data structures for FlowPilot.
//
// It includes the conversation context consumed by the flow engine, the
// response returned for every turn, and the JSON envelopes used by the API.
package models

import (
	"encoding/json"
	"errors"
	"strings"
)

// Validation constants for input validation
const (
	// MaxUserInputLength defines the maximum accepted length of a single user turn
	MaxUserInputLength = 4096
	// MaxConversationIDLength defines the maximum accepted length of a conversation identifier
	MaxConversationIDLength = 128
)

// Error variables for better error handling and testability
var (
	ErrMissingUrgencyLevel   = errors.New("context is missing urgencyLevel.level")
	ErrUnknownUrgencyLevel   = errors.New("context has unknown urgency level")
	ErrUnknownFlowType       = errors.New("unknown flow type")
	ErrEmptyConversationID   = errors.New("conversation id cannot be empty")
	ErrConversationIDTooLong = errors.New("conversation id exceeds maximum length")
	ErrUserInputTooLong      = errors.New("user input exceeds maximum length")
	ErrMalformedContext      = errors.New("malformed conversation context")
)

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// API Response types for consistent JSON responses

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with the given message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// TurnRequest is the body of POST /conversations/{id}/turns.
type TurnRequest struct {
	Input string `json:"input"`
}

// Validate checks the turn request.
func (r *TurnRequest) Validate() error {
	if len(r.Input) > MaxUserInputLength {
		return ErrUserInputTooLong
	}
	return nil
}

// EngineTurnRequest is the stateless form of a turn: the caller supplies
// every input the engine needs and persists the result itself.
type EngineTurnRequest struct {
	ConversationID string              `json:"conversationId"`
	CurrentStep    string              `json:"currentStep,omitempty"`
	UserInput      string              `json:"userInput"`
	Context        ConversationContext `json:"context"`
}

// Validate checks the stateless turn request.
func (r *EngineTurnRequest) Validate() error {
	if err := ValidateConversationID(r.ConversationID); err != nil {
		return err
	}
	if len(r.UserInput) > MaxUserInputLength {
		return ErrUserInputTooLong
	}
	return r.Context.Validate()
}

// CreateConversationRequest is the body of POST /conversations. Context is
// kept raw so it can be checked with ValidateContextJSON before decoding.
type CreateConversationRequest struct {
	Address  string          `json:"address,omitempty"`
	UserName string          `json:"userName,omitempty"`
	Context  json.RawMessage `json:"context,omitempty"`
}

// ValidateConversationID checks a caller-supplied conversation id.
func ValidateConversationID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrEmptyConversationID
	}
	if len(id) > MaxConversationIDLength {
		return ErrConversationIDTooLong
	}
	return nil
}
