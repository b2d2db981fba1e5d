package api_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/FlowPilot/internal/events"
	"github.com/BTreeMap/FlowPilot/internal/models"
	"github.com/BTreeMap/FlowPilot/internal/scheduler"
	"github.com/BTreeMap/FlowPilot/internal/testutil"
	"github.com/BTreeMap/FlowPilot/internal/twiliosms"
)

func postSMS(t *testing.T, stack *testutil.Stack, sid, from, body string) {
	t.Helper()
	form := url.Values{"MessageSid": {sid}, "From": {from}, "Body": {body}}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/sms", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	testutil.AssertHTTPStatus(t, http.StatusOK, stack.Do(req).Code, "webhook "+sid)
}

func waitForSent(t *testing.T, sms *twiliosms.MockClient, n int) []twiliosms.SentMessage {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if sent := sms.Sent(); len(sent) >= n {
			return sent
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d messages, got %d", n, len(sms.Sent()))
	return nil
}

func TestSMSEmergencyJourney(t *testing.T) {
	stack := testutil.NewTestStack(t, "+1 555 000 9999")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stack.Turns.Start(ctx)

	from := "+15551234567"
	messages := []string{
		"We have an emergency",
		"Gas Leak",
		"Can wait a few days",
		"Smell of gas near the water heater",
		"12 Main St, side door",
		"(555) 123-4567",
	}
	for i, body := range messages {
		postSMS(t, stack, fmt.Sprintf("SM%d", i), from, body)
		if i == 0 {
			postSMS(t, stack, "SM0", from, body)
		}
	}

	// one reply per distinct message plus the on-call alert
	sent := waitForSent(t, stack.SMS, len(messages)+1)
	time.Sleep(50 * time.Millisecond)
	if extra := stack.SMS.Sent(); len(extra) != len(messages)+1 {
		t.Fatalf("expected redelivered message to be dropped, got %d sends", len(extra))
	}

	if !strings.Contains(sent[0].Body, "What kind of emergency") {
		t.Errorf("first reply should ask for the emergency type: %q", sent[0].Body)
	}
	var alert *twiliosms.SentMessage
	for i := range sent {
		if sent[i].To == "15550009999" {
			alert = &sent[i]
		}
	}
	if alert == nil {
		t.Fatalf("no on-call alert among %+v", sent)
	}
	if !strings.Contains(alert.Body, "Type: Gas Leak") || !strings.Contains(alert.Body, "Callback: (555) 123-4567") {
		t.Errorf("unexpected alert body: %q", alert.Body)
	}

	rec, err := stack.Store.GetConversationByAddress("15551234567")
	if err != nil || rec == nil {
		t.Fatalf("conversation not stored: %v %v", rec, err)
	}
	if rec.Status != models.ConversationStatusCompleted {
		t.Errorf("expected completed conversation, got %s", rec.Status)
	}
	want := []events.Type{events.TypeFlowStarted, events.TypeDispatchInitiated, events.TypeFlowCompleted}
	if got := stack.Events.Types(); !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestConversationAPI_WithRetention(t *testing.T) {
	stack := testutil.NewTestStack(t, "")
	testutil.SeedConversations(t, stack.Store, 3, 60*24*time.Hour)

	req := testutil.CreateJSONRequest(t, http.MethodPost, "/conversations", map[string]string{"userName": "Robin"})
	rr := stack.Do(req)
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "create")
	var created models.ConversationRecord
	testutil.AssertJSONResponse(t, rr, models.APIStatusOK, &created)

	removed, err := scheduler.NewRetentionJob(stack.Store, 30*24*time.Hour).Run()
	if err != nil {
		t.Fatalf("retention run failed: %v", err)
	}
	if removed != 3 {
		t.Errorf("expected 3 stale conversations removed, got %d", removed)
	}

	rr = stack.Do(testutil.CreateJSONRequest(t, http.MethodGet, "/conversations/"+created.ID, nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "get fresh")
	rr = stack.Do(testutil.CreateJSONRequest(t, http.MethodGet, "/conversations/conv-0", nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "get pruned")
	testutil.AssertJSONResponse(t, rr, models.APIStatusError, nil)
}
