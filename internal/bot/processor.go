package bot

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"

	"github.com/Macxim/secondself/internal/funnel"
	"github.com/Macxim/secondself/internal/genai"
	"github.com/Macxim/secondself/internal/models"
)

// Reply pacing parameters. A reply is held back long enough to look like a
// human typed it.
const (
	// MinReplyDelay is the floor for the simulated typing delay.
	MinReplyDelay = 14 * time.Second
	// MaxReplyDelay is the ceiling for the simulated typing delay.
	MaxReplyDelay = 20 * time.Second
	// DelayPerWord simulates typing speed.
	DelayPerWord = 160 * time.Millisecond
	// DelayVariation is the maximum random jitter added on top.
	DelayVariation = 3 * time.Second

	// maxHistoryTurns caps the rolling conversation history per user.
	maxHistoryTurns = 10

	// apologyReply is sent when the generative fallback itself fails.
	apologyReply = "Sorry, I'm having trouble responding right now. Please try again in a moment."
)

// basePrompt carries the formatting rules every generated reply must follow.
const basePrompt = `You are responding to messages on behalf of someone. Keep responses natural and conversational.

CRITICAL FORMATTING RULES:
- DO NOT use markdown formatting (*bold*, **bold**, _italic_, etc)
- DO NOT use special characters like asterisks for emphasis
- Write in plain text only
- Use natural emphasis through word choice, not formatting
- Keep messages concise (under 300 characters when possible)
- If you need to list things, use simple numbers or dashes, not bullets with markdown`

type chatTurn struct {
	role    string
	content string
}

// typingIndicator is implemented by delivery channels that support a
// visible typing state.
type typingIndicator interface {
	SendTypingIndicator(ctx context.Context, to string, typing bool)
}

// Processor turns inbound messages into replies. Scripted funnel rules run
// first; anything they do not cover falls through to the generative layer.
type Processor struct {
	manager    *funnel.Manager
	controller *Controller
	styles     *StyleManager
	ai         genai.ClientInterface
	sender     funnel.Sender

	mu            sync.Mutex
	conversations map[string][]chatTurn
	userNames     map[string]string

	// resolver fetches a display name for users seen for the first time.
	resolver func(ctx context.Context, userID string) (string, error)
	rand     *rand.Rand
}

// NewProcessor creates a Processor wired to the funnel manager, reply
// controller, style manager, generative client and outbound sender.
func NewProcessor(manager *funnel.Manager, controller *Controller, styles *StyleManager, ai genai.ClientInterface, sender funnel.Sender) *Processor {
	return &Processor{
		manager:       manager,
		controller:    controller,
		styles:        styles,
		ai:            ai,
		sender:        sender,
		conversations: make(map[string][]chatTurn),
		userNames:     make(map[string]string),
		rand:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetNameResolver installs a lookup used to fetch a first name for unknown
// users, typically backed by the Messenger profile API.
func (p *Processor) SetNameResolver(resolver func(ctx context.Context, userID string) (string, error)) {
	p.resolver = resolver
}

// SetUserName records a user's first name for prompt personalization.
func (p *Processor) SetUserName(userID, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userNames[userID] = name
}

// HandleMessage processes one inbound message and returns the reply text,
// or the empty string when the bot stays silent. The reply is already
// delivered through the sender when the returned error is nil.
func (p *Processor) HandleMessage(ctx context.Context, userID, text string) (string, error) {
	reply, err := p.ComposeReply(ctx, userID, text)
	if err != nil || reply == "" {
		return "", err
	}
	if err := p.deliver(ctx, userID, reply); err != nil {
		return "", err
	}
	return reply, nil
}

// ComposeReply runs the rule engine and generative fallback for one inbound
// message without sending anything. Stage transitions are still applied.
func (p *Processor) ComposeReply(ctx context.Context, userID, text string) (string, error) {
	// The inbound turn is recorded even when the bot stays silent, so a
	// human taking over in manual mode sees the full conversation.
	p.appendTurn(userID, "user", text)

	if !p.controller.ShouldRespond(userID) {
		slog.Debug("Processor skipping message, bot muted", "user_id", userID)
		return "", nil
	}

	reply, err := p.scriptedReply(ctx, userID, text)
	if err != nil {
		return "", err
	}
	if reply == "" {
		reply = p.generativeReply(ctx, userID)
	}
	return reply, nil
}

func (p *Processor) deliver(ctx context.Context, userID, reply string) error {
	if err := p.sender.SendMessage(ctx, userID, reply); err != nil {
		slog.Error("Processor failed to deliver reply", "user_id", userID, "error", err)
		return fmt.Errorf("failed to deliver reply to %s: %w", userID, err)
	}
	p.appendTurn(userID, "assistant", reply)
	return nil
}

// scriptedReply runs the stage rule engine against the user's flow. Silent
// actions advance the stage and re-evaluate, so flows parked on legacy
// intermediate stages catch up in a single pass.
func (p *Processor) scriptedReply(ctx context.Context, userID, text string) (string, error) {
	flow, ok := p.manager.Get(userID)
	if !ok {
		return "", nil
	}

	for attempt := 0; attempt < 2; attempt++ {
		action := funnel.Evaluate(flow, text)
		if action == nil {
			return "", nil
		}

		if action.Silent {
			// A silent advance is still a real stage change, so the
			// follow-up counter starts over.
			updated, err := p.manager.Transition(userID, action.NextStage, "Silent stage advance", true)
			if err != nil {
				return "", fmt.Errorf("failed to apply silent advance for %s: %w", userID, err)
			}
			if updated == nil {
				return "", nil
			}
			flow = *updated
			continue
		}

		if action.NextStage != flow.Stage {
			notes := fmt.Sprintf("Scripted reply, advanced to %s", action.NextStage)
			if _, err := p.manager.Transition(userID, action.NextStage, notes, true); err != nil {
				return "", fmt.Errorf("failed to transition %s: %w", userID, err)
			}
		}
		slog.Info("Processor scripted reply", "user_id", userID, "stage", flow.Stage, "next_stage", action.NextStage)
		return action.ReplyText, nil
	}
	return "", nil
}

// generativeReply builds the prompt from the style profile and rolling
// history and asks the model for a reply. Failures degrade to an apology.
func (p *Processor) generativeReply(ctx context.Context, userID string) string {
	system := basePrompt
	if profile, err := p.styles.Load(); err != nil {
		slog.Warn("Processor could not load style profile", "error", err)
	} else if profile != "" {
		system = strings.Replace(basePrompt, "Keep responses natural and conversational.",
			fmt.Sprintf("Their communication style: %s. Match their tone, vocabulary, and style exactly. Keep responses natural and conversational.", profile), 1)
	}
	if name := p.userName(userID); name != "" {
		system += fmt.Sprintf("\n\nIMPORTANT: The person you're talking to is named %s. Use their name naturally in conversation, especially when greeting them.", name)
	}

	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(system)}
	for _, turn := range p.history(userID) {
		if turn.role == "assistant" {
			messages = append(messages, openai.AssistantMessage(turn.content))
		} else {
			messages = append(messages, openai.UserMessage(turn.content))
		}
	}

	reply, err := p.ai.GenerateWithMessages(ctx, messages)
	if err != nil {
		slog.Error("Processor generative reply failed", "user_id", userID, "error", err)
		return apologyReply
	}
	return reply
}

func (p *Processor) appendTurn(userID, role, content string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	turns := append(p.conversations[userID], chatTurn{role: role, content: content})
	if len(turns) > maxHistoryTurns {
		turns = turns[len(turns)-maxHistoryTurns:]
	}
	p.conversations[userID] = turns
}

func (p *Processor) history(userID string) []chatTurn {
	p.mu.Lock()
	defer p.mu.Unlock()
	turns := p.conversations[userID]
	out := make([]chatTurn, len(turns))
	copy(out, turns)
	return out
}

// Conversation returns the rolling history for a user as role and content
// pairs, oldest first.
func (p *Processor) Conversation(userID string) []models.ChatMessage {
	turns := p.history(userID)
	out := make([]models.ChatMessage, 0, len(turns))
	for _, turn := range turns {
		out = append(out, models.ChatMessage{Role: turn.role, Content: turn.content})
	}
	return out
}

// ClearConversation drops the rolling history for a user.
func (p *Processor) ClearConversation(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.conversations, userID)
	slog.Debug("Processor cleared conversation", "user_id", userID)
}

func (p *Processor) userName(userID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userNames[userID]
}

// ReplyDelay computes how long to appear to be typing before a reply goes
// out, based on its word count plus random jitter.
func (p *Processor) ReplyDelay(body string) time.Duration {
	words := len(strings.Fields(body))
	delay := time.Duration(words) * DelayPerWord
	if delay < MinReplyDelay {
		delay = MinReplyDelay
	}
	if delay > MaxReplyDelay {
		delay = MaxReplyDelay
	}
	p.mu.Lock()
	jitter := time.Duration(p.rand.Int63n(int64(DelayVariation)))
	p.mu.Unlock()
	return delay + jitter
}

// Run consumes inbound messages until the channel closes or the context is
// canceled. Each reply is preceded by a typing indicator and a human-like
// pause when the sender supports it.
func (p *Processor) Run(ctx context.Context, inbound <-chan models.InboundMessage) {
	typer, canType := p.sender.(typingIndicator)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			if p.resolver != nil && p.userName(msg.From) == "" {
				if name, err := p.resolver(ctx, msg.From); err == nil && name != "" {
					p.SetUserName(msg.From, name)
				}
			}
			reply, err := p.ComposeReply(ctx, msg.From, msg.Body)
			if err != nil {
				slog.Error("Processor failed to handle message", "from", msg.From, "error", err)
				continue
			}
			if reply == "" {
				continue
			}
			if canType {
				typer.SendTypingIndicator(ctx, msg.From, true)
			}
			select {
			case <-time.After(p.ReplyDelay(reply)):
			case <-ctx.Done():
				return
			}
			if err := p.deliver(ctx, msg.From, reply); err != nil {
				slog.Error("Processor failed to deliver reply", "from", msg.From, "error", err)
			}
			if canType {
				typer.SendTypingIndicator(ctx, msg.From, false)
			}
		}
	}
}
