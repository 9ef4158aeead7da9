package messaging

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestNewTwilioServiceRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewTwilioService(); err == nil {
		t.Fatal("expected error without credentials")
	}
	if _, err := NewTwilioService(WithAccountSID("AC123"), WithAuthToken("tok")); err == nil {
		t.Fatal("expected error without from number")
	}
	if _, err := NewTwilioService(WithAccountSID("AC123"), WithAuthToken("tok"), WithFromNumber("whatsapp:+15550001111")); err != nil {
		t.Fatalf("expected service with full credentials, got %v", err)
	}
}

func newWebhookService(t *testing.T) *TwilioService {
	t.Helper()
	svc, err := NewTwilioService(
		WithAccountSID("AC123"),
		WithAuthToken("tok"),
		WithFromNumber("whatsapp:+15550001111"),
	)
	if err != nil {
		t.Fatalf("NewTwilioService failed: %v", err)
	}
	return svc
}

func TestWebhookHandlerEmitsResponse(t *testing.T) {
	svc := newWebhookService(t)

	form := url.Values{}
	form.Set("From", "whatsapp:+5551234567")
	form.Set("Body", "I need a quote")
	form.Set("MessageSid", "SM123")

	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()

	svc.WebhookHandler(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	select {
	case resp := <-svc.Responses():
		if resp.ID != "SM123" {
			t.Errorf("expected MessageSid as response id, got %q", resp.ID)
		}
		if resp.From != "whatsapp:+5551234567" || resp.Body != "I need a quote" {
			t.Errorf("unexpected response: %+v", resp)
		}
	default:
		t.Fatal("expected a response on the channel")
	}
}

func TestWebhookHandlerRejectsMissingFields(t *testing.T) {
	svc := newWebhookService(t)

	form := url.Values{}
	form.Set("From", "whatsapp:+5551234567")

	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()

	svc.WebhookHandler(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing body, got %d", rr.Code)
	}
}
