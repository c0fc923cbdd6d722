// Package genai integrates OpenAI for generating conversational replies in secondself.
//
// It covers two temperatures of work: high-temperature chat replies that fill
// the gaps between scripted funnel stages, and low-temperature analysis used
// to build a writing style profile from message samples.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Generation parameters for chat replies.
const (
	// ChatTemperature keeps replies varied and human-sounding.
	ChatTemperature = 0.9
	// ChatMaxTokens keeps replies short enough for a chat bubble.
	ChatMaxTokens = 200
	// AnalysisTemperature keeps style analysis consistent across runs.
	AnalysisTemperature = 0.3
)

// ClientInterface abstracts the OpenAI calls used by the bot, so tests can
// substitute a canned implementation.
type ClientInterface interface {
	// GenerateWithMessages produces a reply for a full conversation history.
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)
	// AnalyzeStyle produces a writing style profile from message samples.
	AnalyzeStyle(ctx context.Context, samples []string) (string, error)
}

// Opts holds configuration options for the OpenAI client.
type Opts struct {
	APIKey string
	Model  string
}

// Option defines a configuration option for the OpenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// Client wraps the OpenAI API client.
type Client struct {
	client openai.Client
	model  string
}

// NewClient creates an OpenAI client, falling back to the OPENAI_API_KEY
// environment variable when no key is provided.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	key := cfg.APIKey
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	model := cfg.Model
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	slog.Debug("GenAI client initialized", "model", model)
	return &Client{client: openai.NewClient(option.WithAPIKey(key)), model: model}, nil
}

// GenerateWithMessages sends the conversation to the chat completions API
// and returns the assistant reply.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       c.model,
		Messages:    messages,
		Temperature: openai.Float(ChatTemperature),
		MaxTokens:   openai.Int(ChatMaxTokens),
	})
	if err != nil {
		slog.Error("GenAI chat completion failed", "error", err)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// analysisSystemPrompt frames the model as a style analyst.
const analysisSystemPrompt = "You are an expert at analyzing communication styles and creating detailed style profiles."

// AnalyzeStyle builds a writing style profile from samples of the operator's
// own messages. The result is stored and injected into later chat replies.
func (c *Client) AnalyzeStyle(ctx context.Context, samples []string) (string, error) {
	var sb strings.Builder
	sb.WriteString("Analyze these writing samples and create a detailed communication style profile. Focus on:\n")
	sb.WriteString("- Tone (formal/casual, friendly/professional, energetic/calm)\n")
	sb.WriteString("- Vocabulary level and word choices\n")
	sb.WriteString("- Sentence structure (short/long, simple/complex)\n")
	sb.WriteString("- Punctuation habits (lots of exclamation marks? emojis? proper punctuation?)\n")
	sb.WriteString("- Personality traits that come through\n")
	sb.WriteString("- Common phrases or expressions\n")
	sb.WriteString("- How they greet people and end conversations\n\n")
	sb.WriteString("Writing samples:\n")
	for i, sample := range samples {
		fmt.Fprintf(&sb, "%d. %q\n", i+1, sample)
	}
	sb.WriteString("\nProvide a concise style guide (2-3 paragraphs) that an AI could use to mimic this writing style.")

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(analysisSystemPrompt),
			openai.UserMessage(sb.String()),
		},
		Temperature: openai.Float(AnalysisTemperature),
	})
	if err != nil {
		slog.Error("GenAI style analysis failed", "error", err, "samples", len(samples))
		return "", fmt.Errorf("style analysis failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("style analysis returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
