// Package testutil provides common test utilities and helpers for FlowPilot tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BTreeMap/FlowPilot/internal/api"
	"github.com/BTreeMap/FlowPilot/internal/events"
	"github.com/BTreeMap/FlowPilot/internal/flow"
	"github.com/BTreeMap/FlowPilot/internal/messaging"
	"github.com/BTreeMap/FlowPilot/internal/models"
	"github.com/BTreeMap/FlowPilot/internal/store"
	"github.com/BTreeMap/FlowPilot/internal/twiliosms"
)

// Stack is an API server wired to in-memory dependencies.
type Stack struct {
	Server   *api.Server
	Handler  http.Handler
	Store    *store.InMemoryStore
	SMS      *twiliosms.MockClient
	Events   *events.Recorder
	Turns    *messaging.ResponseHandler
	Messages *messaging.TwilioService
}

// NewTestStack creates a test API server with in-memory dependencies and a
// mock SMS client. onCall may be empty.
func NewTestStack(t *testing.T, onCall string) *Stack {
	t.Helper()
	st := store.NewInMemoryStore()
	t.Cleanup(func() { st.Close() })

	sms := twiliosms.NewMockClient()
	svc := messaging.NewTwilioService(sms)
	rec := events.NewRecorder()
	states := flow.NewStoreBasedStateManager(st)
	turns := messaging.NewResponseHandler(flow.NewEngine(), states,
		messaging.WithMessagingService(svc),
		messaging.WithPublisher(rec),
		messaging.WithOnCallNumber(onCall),
		messaging.WithDeduper(st),
	)
	server := api.NewServer(turns, states, api.WithTwilioService(svc))
	return &Stack{Server: server, Handler: server.Handler(), Store: st, SMS: sms, Events: rec, Turns: turns, Messages: svc}
}

// Do serves req against the stack's handler.
func (s *Stack) Do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.Handler.ServeHTTP(rr, req)
	return rr
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes the API envelope, checks its status field and
// decodes the result into out when out is non-nil.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus models.APIStatus, out interface{}) models.APIResponse {
	t.Helper()
	var envelope struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&envelope); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	if envelope.Status != string(expectedStatus) {
		t.Errorf("expected status '%s', got '%s' (message %q)", expectedStatus, envelope.Status, envelope.Message)
	}
	if out != nil && len(envelope.Result) > 0 {
		MustUnmarshalJSON(t, envelope.Result, out)
	}
	return models.APIResponse{Status: envelope.Status, Message: envelope.Message}
}

// CreateJSONRequest creates an HTTP request with an optional JSON body.
func CreateJSONRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	} else {
		reqBody = bytes.NewBuffer(nil)
	}
	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req
}

// SeedConversations stores n idle conversations named conv-0..conv-(n-1),
// each updated age ago.
func SeedConversations(t *testing.T, st store.Store, n int, age time.Duration) []models.ConversationRecord {
	t.Helper()
	ts := time.Now().Add(-age)
	out := make([]models.ConversationRecord, 0, n)
	for i := 0; i < n; i++ {
		rec := models.ConversationRecord{
			ID:        fmt.Sprintf("conv-%d", i),
			Status:    models.ConversationStatusIdle,
			Context:   models.NewConversationContext(""),
			CreatedAt: ts,
			UpdatedAt: ts,
		}
		if err := st.SaveConversation(rec); err != nil {
			t.Fatalf("failed to seed conversation %s: %v", rec.ID, err)
		}
		out = append(out, rec)
	}
	return out
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
