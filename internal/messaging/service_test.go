package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/Macxim/secondself/internal/twiliosms"
)

// fakeMessengerAPI records calls made through the MessengerAPI interface.
type fakeMessengerAPI struct {
	sent   []string
	typing []bool
}

func (f *fakeMessengerAPI) SendMessageWithSplit(ctx context.Context, to string, body string) error {
	f.sent = append(f.sent, body)
	return nil
}

func (f *fakeMessengerAPI) SendTypingIndicator(ctx context.Context, to string, typing bool) {
	f.typing = append(f.typing, typing)
}

func TestMessengerServiceValidatesPSID(t *testing.T) {
	s := NewMessengerService(&fakeMessengerAPI{}, "token")

	if _, err := s.ValidateAndCanonicalizeRecipient(""); err == nil {
		t.Error("expected error for empty recipient")
	}
	if _, err := s.ValidateAndCanonicalizeRecipient("abc123"); err == nil {
		t.Error("expected error for non-numeric PSID")
	}
	got, err := s.ValidateAndCanonicalizeRecipient("  123456789  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "123456789" {
		t.Errorf("expected trimmed PSID, got %q", got)
	}
}

func TestMessengerServiceSendAfterStop(t *testing.T) {
	s := NewMessengerService(&fakeMessengerAPI{}, "token")
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := s.SendMessage(context.Background(), "12345", "hi"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

func TestMessengerWebhookVerification(t *testing.T) {
	s := NewMessengerService(&fakeMessengerAPI{}, "secret-token")

	q := url.Values{}
	q.Set("hub.mode", "subscribe")
	q.Set("hub.verify_token", "secret-token")
	q.Set("hub.challenge", "challenge-123")
	r := httptest.NewRequest(http.MethodGet, "/webhook?"+q.Encode(), nil)
	w := httptest.NewRecorder()
	s.WebhookHandler(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "challenge-123" {
		t.Errorf("expected challenge echoed back, got %q", w.Body.String())
	}

	// Wrong token is rejected
	q.Set("hub.verify_token", "wrong")
	r = httptest.NewRequest(http.MethodGet, "/webhook?"+q.Encode(), nil)
	w = httptest.NewRecorder()
	s.WebhookHandler(w, r)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for wrong token, got %d", w.Code)
	}
}

func TestMessengerWebhookEmitsInboundMessage(t *testing.T) {
	s := NewMessengerService(&fakeMessengerAPI{}, "token")

	payload := `{"object":"page","entry":[{"messaging":[{"sender":{"id":"555"},"message":{"text":"hey!"}}]}]}`
	r := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload))
	w := httptest.NewRecorder()
	s.WebhookHandler(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	select {
	case msg := <-s.Responses():
		if msg.From != "555" || msg.Body != "hey!" {
			t.Errorf("unexpected inbound message: %+v", msg)
		}
	default:
		t.Fatal("expected an inbound message on the responses channel")
	}
}

func TestMessengerWebhookIgnoresEchoes(t *testing.T) {
	s := NewMessengerService(&fakeMessengerAPI{}, "token")

	payload := `{"object":"page","entry":[{"messaging":[{"sender":{"id":"555"},"message":{"text":"echo","is_echo":true}}]}]}`
	r := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload))
	w := httptest.NewRecorder()
	s.WebhookHandler(w, r)

	select {
	case msg := <-s.Responses():
		t.Errorf("echo events must not be emitted, got %+v", msg)
	default:
	}
}

func TestTwilioServiceCanonicalizesPhoneNumbers(t *testing.T) {
	s := NewTwilioService(&twiliosms.MockClient{})

	got, err := s.ValidateAndCanonicalizeRecipient("+1 (555) 123-4567")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "15551234567" {
		t.Errorf("expected digits only, got %q", got)
	}

	if _, err := s.ValidateAndCanonicalizeRecipient("123"); err == nil {
		t.Error("expected error for too-short number")
	}
	if _, err := s.ValidateAndCanonicalizeRecipient("no digits"); err == nil {
		t.Error("expected error for number without digits")
	}
}

func TestTwilioServiceSendMessage(t *testing.T) {
	mock := &twiliosms.MockClient{}
	s := NewTwilioService(mock)

	if err := s.SendMessage(context.Background(), "+1 555 123 4567", "hello"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if len(mock.Sent) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(mock.Sent))
	}
	if mock.Sent[0].To != "+15551234567" {
		t.Errorf("expected E.164 recipient, got %q", mock.Sent[0].To)
	}
}

func TestTwilioWebhookEmitsInboundMessage(t *testing.T) {
	s := NewTwilioService(&twiliosms.MockClient{})

	form := url.Values{}
	form.Set("From", "+15551234567")
	form.Set("Body", "just paid!")
	r := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.WebhookHandler(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	select {
	case msg := <-s.Responses():
		if msg.From != "+15551234567" || msg.Body != "just paid!" {
			t.Errorf("unexpected inbound message: %+v", msg)
		}
	default:
		t.Fatal("expected an inbound message on the responses channel")
	}
}
