package twiliosms

import (
	"context"
	"errors"
	"testing"
)

func TestMockClient_SendMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	if err := mock.SendMessage(ctx, "15551234567", "Hello Test"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := mock.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sent))
	}
	if sent[0].Body != "Hello Test" || sent[0].To != "15551234567" {
		t.Errorf("unexpected message: %+v", sent[0])
	}

	mock.Err = errors.New("rate limited")
	if err := mock.SendMessage(ctx, "15551234567", "again"); err == nil {
		t.Error("expected configured error")
	}
	if len(mock.Sent()) != 1 {
		t.Error("failed sends should not be recorded")
	}
}

func TestAddress(t *testing.T) {
	tests := []struct {
		number   string
		whatsApp bool
		want     string
	}{
		{"15551234567", false, "+15551234567"},
		{"+15551234567", false, "+15551234567"},
		{"15551234567", true, "whatsapp:+15551234567"},
		{"whatsapp:+15551234567", true, "whatsapp:+15551234567"},
		{"whatsapp:15551234567", false, "+15551234567"},
	}
	for _, tt := range tests {
		if got := Address(tt.number, tt.whatsApp); got != tt.want {
			t.Errorf("Address(%q, %v) = %q, want %q", tt.number, tt.whatsApp, got, tt.want)
		}
	}
}

func TestNewClient_Validation(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewClient(); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("tok")); err == nil {
		t.Error("expected error without a from number")
	}

	c, err := NewClient(WithAccountSID("AC123"), WithAuthToken("tok"), WithFrom("whatsapp:+15550000000"))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if !c.whatsApp || c.from != "whatsapp:+15550000000" {
		t.Errorf("whatsapp prefix not detected: from=%q whatsapp=%v", c.from, c.whatsApp)
	}

	t.Setenv("TWILIO_ACCOUNT_SID", "ACenv")
	t.Setenv("TWILIO_AUTH_TOKEN", "envtok")
	t.Setenv("TWILIO_FROM_NUMBER", "15550000000")
	c, err = NewClient()
	if err != nil {
		t.Fatalf("NewClient from env failed: %v", err)
	}
	if c.whatsApp || c.from != "+15550000000" {
		t.Errorf("unexpected env client: from=%q whatsapp=%v", c.from, c.whatsApp)
	}
}
