// Package testutil provides common test utilities and helpers for secondself tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/openai/openai-go"

	"github.com/Macxim/secondself/internal/api"
	"github.com/Macxim/secondself/internal/bot"
	"github.com/Macxim/secondself/internal/funnel"
	"github.com/Macxim/secondself/internal/messaging"
	"github.com/Macxim/secondself/internal/store"
	"github.com/Macxim/secondself/internal/twiliosms"
)

// StubGenAI is a canned generative client for tests.
type StubGenAI struct {
	Reply        string
	StyleProfile string
	Err          error
}

// GenerateWithMessages returns the canned reply.
func (s *StubGenAI) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	return s.Reply, nil
}

// AnalyzeStyle returns the canned style profile.
func (s *StubGenAI) AnalyzeStyle(ctx context.Context, samples []string) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	return s.StyleProfile, nil
}

// TestDeps exposes the collaborators behind a test server so tests can
// inspect and seed them.
type TestDeps struct {
	Store      *store.FlowStore
	Manager    *funnel.Manager
	Sweeper    *funnel.Sweeper
	MsgClient  *twiliosms.MockClient
	MsgService *messaging.TwilioService
	Controller *bot.Controller
	Processor  *bot.Processor
	Styles     *bot.StyleManager
	GenAI      *StubGenAI
}

// NewTestServer creates a test API server with in-memory dependencies.
// This centralizes the test server creation logic used across test files.
func NewTestServer(t *testing.T) (*api.Server, *TestDeps) {
	t.Helper()
	st, err := store.NewFlowStore(store.NewMemorySnapshotter())
	if err != nil {
		t.Fatalf("failed to create flow store: %v", err)
	}
	manager := funnel.NewManager(st)
	mockClient := &twiliosms.MockClient{}
	msgService := messaging.NewTwilioService(mockClient)
	sweeper := funnel.NewSweeper(manager, msgService)
	ai := &StubGenAI{Reply: "sounds good!"}
	controller := bot.NewController()
	styles := bot.NewStyleManager(filepath.Join(t.TempDir(), "style.json"), ai)
	processor := bot.NewProcessor(manager, controller, styles, ai, msgService)

	deps := &TestDeps{
		Store:      st,
		Manager:    manager,
		Sweeper:    sweeper,
		MsgClient:  mockClient,
		MsgService: msgService,
		Controller: controller,
		Processor:  processor,
		Styles:     styles,
		GenAI:      ai,
	}
	server := api.NewServer(manager, sweeper, msgService, processor, controller, styles, ai, nil, nil)
	return server, deps
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes a JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}
