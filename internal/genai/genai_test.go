package genai

import (
	"testing"

	"github.com/openai/openai-go"
)

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected error when OPENAI_API_KEY is not set")
	}
}

func TestNewClientDefaultsModel(t *testing.T) {
	c, err := NewClient(WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.model != openai.ChatModelGPT4oMini {
		t.Errorf("expected default model %q, got %q", openai.ChatModelGPT4oMini, c.model)
	}
}

func TestNewClientModelOverride(t *testing.T) {
	c, err := NewClient(WithAPIKey("test-key"), WithModel("gpt-4o"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.model != "gpt-4o" {
		t.Errorf("expected model override, got %q", c.model)
	}
}
