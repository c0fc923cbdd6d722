package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Macxim/secondself/internal/models"
)

// MessengerAPI is the subset of the messenger client used by the service.
type MessengerAPI interface {
	SendMessageWithSplit(ctx context.Context, to string, body string) error
	SendTypingIndicator(ctx context.Context, to string, typing bool)
}

// MessengerService implements the Service interface on top of the Facebook
// Messenger Send API. Inbound messages arrive through the page webhook.
type MessengerService struct {
	client      MessengerAPI
	verifyToken string
	responses   chan models.InboundMessage
	done        chan struct{}
	mu          sync.RWMutex
	stopped     bool
}

// NewMessengerService creates a MessengerService. The verify token falls
// back to the FACEBOOK_VERIFY_TOKEN environment variable when empty.
func NewMessengerService(client MessengerAPI, verifyToken string) *MessengerService {
	if verifyToken == "" {
		verifyToken = os.Getenv("FACEBOOK_VERIFY_TOKEN")
	}
	return &MessengerService{
		client:      client,
		verifyToken: verifyToken,
		responses:   make(chan models.InboundMessage, DefaultChannelBufferSize),
		done:        make(chan struct{}),
	}
}

// ValidateAndCanonicalizeRecipient validates a page-scoped user ID.
// PSIDs are numeric strings, so anything with non-digits is rejected.
func (s *MessengerService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical := strings.TrimSpace(recipient)
	if canonical == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	if phoneNumberRegex.MatchString(canonical) {
		return "", fmt.Errorf("invalid PSID: %q contains non-numeric characters", recipient)
	}
	if canonical != recipient {
		slog.Debug("MessengerService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Start is a no-op; inbound traffic arrives via the webhook.
func (s *MessengerService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service.
func (s *MessengerService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.responses)
	}()

	return nil
}

// SendMessage delivers a message via the Send API, splitting long texts.
func (s *MessengerService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("MessengerService SendMessage validation error", "error", err, "to", to)
		return err
	}

	return s.client.SendMessageWithSplit(ctx, canonicalTo, body)
}

// SendTypingIndicator toggles the typing indicator for a recipient.
func (s *MessengerService) SendTypingIndicator(ctx context.Context, to string, typing bool) {
	s.client.SendTypingIndicator(ctx, to, typing)
}

// Responses returns the channel of inbound Messenger messages.
func (s *MessengerService) Responses() <-chan models.InboundMessage {
	return s.responses
}

func (s *MessengerService) safeEmitResponse(msg models.InboundMessage) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return
	}

	select {
	case s.responses <- msg:
		slog.Debug("MessengerService emitted inbound message", "from", msg.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("MessengerService responses channel blocked, dropping message", "from", msg.From, "timeout", DefaultChannelTimeout)
	}
}

// webhookEnvelope mirrors the page webhook payload shape.
type webhookEnvelope struct {
	Object string `json:"object"`
	Entry  []struct {
		Messaging []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			Message *struct {
				Text   string `json:"text"`
				IsEcho bool   `json:"is_echo"`
			} `json:"message"`
		} `json:"messaging"`
	} `json:"entry"`
}

// WebhookHandler handles both webhook verification (GET) and inbound page
// events (POST) from Facebook.
func (s *MessengerService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleVerification(w, r)
	case http.MethodPost:
		s.handleEvents(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *MessengerService) handleVerification(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token != "" && token == s.verifyToken {
		slog.Info("MessengerService webhook verified")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, challenge)
		return
	}
	slog.Warn("MessengerService webhook verification failed", "mode", mode)
	http.Error(w, "Forbidden", http.StatusForbidden)
}

func (s *MessengerService) handleEvents(w http.ResponseWriter, r *http.Request) {
	var envelope webhookEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		slog.Error("MessengerService failed to decode webhook payload", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if envelope.Object != "page" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	for _, entry := range envelope.Entry {
		for _, event := range entry.Messaging {
			if event.Message == nil || event.Message.Text == "" || event.Message.IsEcho {
				continue
			}
			slog.Info("MessengerService inbound message", "from", event.Sender.ID)
			s.safeEmitResponse(models.InboundMessage{
				From: event.Sender.ID,
				Body: event.Message.Text,
				Time: time.Now().Unix(),
			})
		}
	}

	// Facebook expects a 200 promptly or it retries the delivery.
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "EVENT_RECEIVED")
}
