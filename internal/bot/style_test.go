package bot

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/openai/openai-go"
)

// fakeAI is a canned genai client for tests.
type fakeAI struct {
	reply        string
	styleProfile string
	err          error
	lastMessages []openai.ChatCompletionMessageParamUnion
}

func (f *fakeAI) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	f.lastMessages = messages
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeAI) AnalyzeStyle(ctx context.Context, samples []string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.styleProfile, nil
}

func TestStyleManagerMissingProfileIsEmpty(t *testing.T) {
	m := NewStyleManager(filepath.Join(t.TempDir(), "style.json"), &fakeAI{})
	profile, err := m.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile != "" {
		t.Errorf("expected empty profile, got %q", profile)
	}
}

func TestStyleManagerSaveLoadDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "style.json")
	m := NewStyleManager(path, &fakeAI{})

	if err := m.Save("casual, upbeat, short sentences"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// A fresh manager reads it back from disk.
	m2 := NewStyleManager(path, &fakeAI{})
	profile, err := m2.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if profile != "casual, upbeat, short sentences" {
		t.Errorf("unexpected profile: %q", profile)
	}

	if err := m2.Delete(); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	profile, err = m2.Load()
	if err != nil {
		t.Fatalf("Load after delete failed: %v", err)
	}
	if profile != "" {
		t.Errorf("expected empty profile after delete, got %q", profile)
	}
}

func TestStyleManagerTrain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "style.json")
	ai := &fakeAI{styleProfile: "friendly and direct"}
	m := NewStyleManager(path, ai)

	profile, err := m.Train(context.Background(), []string{"hey! sounds great", "lets do it!!"})
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if profile != "friendly and direct" {
		t.Errorf("unexpected trained profile: %q", profile)
	}

	// The trained profile is persisted.
	m2 := NewStyleManager(path, ai)
	loaded, err := m2.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != "friendly and direct" {
		t.Errorf("expected trained profile on disk, got %q", loaded)
	}
}

func TestStyleManagerTrainRequiresSamples(t *testing.T) {
	m := NewStyleManager(filepath.Join(t.TempDir(), "style.json"), &fakeAI{})
	if _, err := m.Train(context.Background(), nil); err == nil {
		t.Error("expected error for empty sample list")
	}
}

func TestStyleManagerTrainAnalysisError(t *testing.T) {
	m := NewStyleManager(filepath.Join(t.TempDir(), "style.json"), &fakeAI{err: errors.New("quota")})
	if _, err := m.Train(context.Background(), []string{"sample"}); err == nil {
		t.Error("expected analysis error surfaced")
	}
}
