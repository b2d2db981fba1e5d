package testutil

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/FlowPilot/internal/events"
	"github.com/BTreeMap/FlowPilot/internal/models"
)

func TestNewTestStack_ServesConversations(t *testing.T) {
	stack := NewTestStack(t, "")

	rr := stack.Do(CreateJSONRequest(t, http.MethodPost, "/conversations", models.CreateConversationRequest{UserName: "Ana"}))
	AssertHTTPStatus(t, http.StatusCreated, rr.Code, "create")
	var rec models.ConversationRecord
	AssertJSONResponse(t, rr, models.APIStatusOK, &rec)
	if rec.ID == "" || rec.Context.UserProfile.UserName != "Ana" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	rr = stack.Do(CreateJSONRequest(t, http.MethodPost, "/conversations/"+rec.ID+"/turns", models.TurnRequest{Input: "help me plan a design"}))
	AssertHTTPStatus(t, http.StatusOK, rr.Code, "turn")
	var resp models.FlowResponse
	AssertJSONResponse(t, rr, models.APIStatusOK, &resp)
	if resp.FlowType != models.FlowTypeProjectPlanning {
		t.Errorf("expected project planning flow, got %q", resp.FlowType)
	}
	if got := stack.Events.Types(); len(got) != 1 || got[0] != events.TypeFlowStarted {
		t.Errorf("unexpected events: %v", got)
	}
}

func TestAssertJSONResponse_ErrorEnvelope(t *testing.T) {
	stack := NewTestStack(t, "")
	rr := stack.Do(CreateJSONRequest(t, http.MethodGet, "/conversations/missing", nil))
	AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "get missing")
	env := AssertJSONResponse(t, rr, models.APIStatusError, nil)
	if !strings.Contains(env.Message, "not found") {
		t.Errorf("unexpected message %q", env.Message)
	}
}

func TestCreateJSONRequest(t *testing.T) {
	req := CreateJSONRequest(t, http.MethodPut, "/x", map[string]string{"a": "b"})
	if req.Method != http.MethodPut || req.Header.Get("Content-Type") != "application/json" {
		t.Errorf("unexpected request: %s %v", req.Method, req.Header)
	}
	var body map[string]string
	raw, err := io.ReadAll(req.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	MustUnmarshalJSON(t, raw, &body)
	if body["a"] != "b" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestSeedConversations(t *testing.T) {
	stack := NewTestStack(t, "")
	seeded := SeedConversations(t, stack.Store, 3, 48*time.Hour)
	if len(seeded) != 3 {
		t.Fatalf("expected 3 seeded, got %d", len(seeded))
	}
	list, err := stack.Store.ListConversations()
	if err != nil || len(list) != 3 {
		t.Fatalf("ListConversations = %d, %v", len(list), err)
	}
	n, err := stack.Store.PruneConversations(time.Now().Add(-24 * time.Hour))
	if err != nil || n != 3 {
		t.Errorf("PruneConversations = %d, %v", n, err)
	}
}
