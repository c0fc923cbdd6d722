// Package messenger wraps the Facebook Messenger Graph API for secondself.
//
// It provides methods for sending page messages, typing indicators, and
// fetching basic user profile fields, with automatic chunking of long
// messages below the platform's 2000 character limit.
package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Constants for Messenger client configuration
const (
	// DefaultAPIVersion is the Graph API version used for all requests.
	DefaultAPIVersion = "v21.0"
	// DefaultBaseURL is the Graph API host.
	DefaultBaseURL = "https://graph.facebook.com"
	// MaxMessageLength is the chunk size used when splitting long messages.
	// Messenger rejects texts above 2000 characters, so chunks stay below that.
	MaxMessageLength = 1900
	// ChunkDelay is the pause between consecutive chunks of a split message.
	ChunkDelay = 500 * time.Millisecond
)

// UserProfile holds the profile fields fetched from the Graph API.
type UserProfile struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	ProfilePic string `json:"profile_pic"`
}

// Opts holds configuration options for the Messenger client.
type Opts struct {
	AccessToken string       // Facebook page access token
	APIVersion  string       // Graph API version, e.g. "v21.0"
	BaseURL     string       // Graph API host, overridable for tests
	HTTPClient  *http.Client // HTTP client, overridable for tests
}

// Option defines a configuration option for the Messenger client.
type Option func(*Opts)

// WithAccessToken sets the Facebook page access token.
func WithAccessToken(token string) Option {
	return func(o *Opts) {
		o.AccessToken = token
	}
}

// WithAPIVersion overrides the Graph API version.
func WithAPIVersion(version string) Option {
	return func(o *Opts) {
		o.APIVersion = version
	}
}

// WithBaseURL overrides the Graph API host. Used in tests.
func WithBaseURL(baseURL string) Option {
	return func(o *Opts) {
		o.BaseURL = baseURL
	}
}

// WithHTTPClient overrides the HTTP client used for Graph API requests.
func WithHTTPClient(client *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = client
	}
}

// Client talks to the Messenger Send API on behalf of a single page.
type Client struct {
	accessToken string
	apiVersion  string
	baseURL     string
	httpClient  *http.Client
	chunkDelay  time.Duration
}

// NewClient creates a new Messenger client, applying any provided options.
// The access token falls back to the FACEBOOK_PAGE_ACCESS_TOKEN environment
// variable when not set explicitly.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Messenger NewClient options set", "AccessToken_set", cfg.AccessToken != "", "APIVersion", cfg.APIVersion, "BaseURL_set", cfg.BaseURL != "")

	token := cfg.AccessToken
	if token == "" {
		token = os.Getenv("FACEBOOK_PAGE_ACCESS_TOKEN")
		slog.Debug("No Messenger access token provided, using environment variable", "env_set", token != "")
	}
	if token == "" {
		return nil, fmt.Errorf("messenger: page access token is required")
	}

	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		accessToken: token,
		apiVersion:  apiVersion,
		baseURL:     baseURL,
		httpClient:  httpClient,
		chunkDelay:  ChunkDelay,
	}, nil
}

type sendRequest struct {
	Recipient    recipient `json:"recipient"`
	Message      *message  `json:"message,omitempty"`
	SenderAction string    `json:"sender_action,omitempty"`
}

type recipient struct {
	ID string `json:"id"`
}

type message struct {
	Text string `json:"text"`
}

func (c *Client) messagesURL() string {
	return fmt.Sprintf("%s/%s/me/messages?access_token=%s", c.baseURL, c.apiVersion, url.QueryEscape(c.accessToken))
}

func (c *Client) post(ctx context.Context, body sendRequest) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal send request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.messagesURL(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call Messenger Send API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("messenger send API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return nil
}

// SendMessage sends a single text message to the given PSID.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	err := c.post(ctx, sendRequest{Recipient: recipient{ID: to}, Message: &message{Text: body}})
	if err != nil {
		slog.Error("Messenger SendMessage failed", "to", to, "error", err)
		return err
	}
	slog.Debug("Messenger SendMessage succeeded", "to", to, "length", len(body))
	return nil
}

// SendTypingIndicator toggles the typing indicator for the given PSID.
// Indicator failures are logged but never fatal.
func (c *Client) SendTypingIndicator(ctx context.Context, to string, typing bool) {
	action := "typing_on"
	if !typing {
		action = "typing_off"
	}
	if err := c.post(ctx, sendRequest{Recipient: recipient{ID: to}, SenderAction: action}); err != nil {
		slog.Warn("Messenger SendTypingIndicator failed", "to", to, "action", action, "error", err)
	}
}

// GetUserProfile fetches first name, last name and profile picture for a PSID.
func (c *Client) GetUserProfile(ctx context.Context, userID string) (*UserProfile, error) {
	endpoint := fmt.Sprintf("%s/%s/%s?fields=first_name,last_name,profile_pic&access_token=%s",
		c.baseURL, c.apiVersion, url.PathEscape(userID), url.QueryEscape(c.accessToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("profile API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var profile UserProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("failed to decode user profile: %w", err)
	}
	return &profile, nil
}

// SplitMessage splits text into chunks of at most maxLength characters,
// preferring paragraph boundaries and falling back to sentence boundaries
// for oversized paragraphs.
func SplitMessage(text string, maxLength int) []string {
	if len(text) <= maxLength {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if trimmed := strings.TrimSpace(current.String()); trimmed != "" {
			chunks = append(chunks, trimmed)
		}
		current.Reset()
	}

	for _, paragraph := range strings.Split(text, "\n\n") {
		if current.Len()+len(paragraph)+2 > maxLength {
			flush()
			if len(paragraph) > maxLength {
				for _, sentence := range strings.Split(paragraph, ". ") {
					if current.Len()+len(sentence)+2 > maxLength {
						flush()
					}
					current.WriteString(sentence)
					current.WriteString(". ")
				}
				continue
			}
		}
		current.WriteString(paragraph)
		current.WriteString("\n\n")
	}
	flush()
	return chunks
}

// SendMessageWithSplit sends a message, splitting it into chunks when it
// exceeds the platform limit, with a short delay between chunks.
func (c *Client) SendMessageWithSplit(ctx context.Context, to string, body string) error {
	chunks := SplitMessage(body, MaxMessageLength)
	for i, chunk := range chunks {
		if i > 0 {
			select {
			case <-time.After(c.chunkDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := c.SendMessage(ctx, to, chunk); err != nil {
			return fmt.Errorf("failed to send chunk %d of %d: %w", i+1, len(chunks), err)
		}
	}
	return nil
}
