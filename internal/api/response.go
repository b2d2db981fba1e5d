package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/FlowPilot/internal/flow"
	"github.com/BTreeMap/FlowPilot/internal/models"
)

// Pre-marshaled fallback responses to avoid runtime JSON encoding failures
var (
	fallbackErrorResponse []byte
)

// init validates that our fallback responses can be marshaled
func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// errorStatus maps a turn or storage error to an HTTP status and client message.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, flow.ErrConversationNotFound):
		return http.StatusNotFound, "Conversation not found"
	case errors.Is(err, models.ErrUserInputTooLong):
		return http.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, models.ErrMalformedContext),
		errors.Is(err, models.ErrMissingUrgencyLevel),
		errors.Is(err, models.ErrUnknownUrgencyLevel),
		errors.Is(err, models.ErrUnknownFlowType),
		errors.Is(err, models.ErrEmptyConversationID),
		errors.Is(err, models.ErrConversationIDTooLong):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// writeError writes the JSON error envelope matching err.
func writeError(w http.ResponseWriter, err error) {
	status, msg := errorStatus(err)
	writeJSONResponse(w, status, models.Error(msg))
}

// writeJSONResponse writes a JSON response to the http.ResponseWriter with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	// Marshal the response to JSON first to catch encoding errors before writing headers
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		// Use pre-marshaled fallback response - if this fails, we have bigger problems
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	// Write headers and response only after successful JSON marshaling
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}
