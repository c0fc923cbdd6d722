package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Macxim/secondself/internal/genai"
)

// DefaultStylePath is where the style profile is stored when no path is given.
const DefaultStylePath = "data/user-style.json"

// styleDocument is the on-disk shape of a saved style profile.
type styleDocument struct {
	StyleProfile string    `json:"styleProfile"`
	CreatedAt    time.Time `json:"createdAt"`
	Version      int       `json:"version"`
}

// StyleManager loads, caches and persists the operator's writing style
// profile, and can retrain it from message samples.
type StyleManager struct {
	path   string
	genai  genai.ClientInterface
	mu     sync.Mutex
	cached *string
}

// NewStyleManager creates a StyleManager storing its profile at path.
// An empty path falls back to DefaultStylePath.
func NewStyleManager(path string, client genai.ClientInterface) *StyleManager {
	if path == "" {
		path = DefaultStylePath
	}
	return &StyleManager{path: path, genai: client}
}

// Load returns the style profile, reading it from disk on first use.
// A missing profile is not an error; it returns the empty string.
func (m *StyleManager) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked()
}

func (m *StyleManager) loadLocked() (string, error) {
	if m.cached != nil {
		return *m.cached, nil
	}

	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		slog.Debug("StyleManager no profile on disk", "path", m.path)
		empty := ""
		m.cached = &empty
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read style profile: %w", err)
	}

	var doc styleDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("failed to parse style profile %s: %w", m.path, err)
	}
	m.cached = &doc.StyleProfile
	slog.Debug("StyleManager profile loaded", "path", m.path, "length", len(doc.StyleProfile))
	return doc.StyleProfile, nil
}

// Save persists a style profile and updates the cache.
func (m *StyleManager) Save(profile string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if dir := filepath.Dir(m.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create style profile directory: %w", err)
		}
	}
	doc := styleDocument{StyleProfile: profile, CreatedAt: time.Now().UTC(), Version: 1}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal style profile: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write style profile: %w", err)
	}
	m.cached = &profile
	slog.Info("StyleManager profile saved", "path", m.path)
	return nil
}

// Delete removes the stored profile. Missing files are not an error.
func (m *StyleManager) Delete() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete style profile: %w", err)
	}
	empty := ""
	m.cached = &empty
	slog.Info("StyleManager profile deleted", "path", m.path)
	return nil
}

// Reload clears the cache so the next Load rereads from disk.
func (m *StyleManager) Reload() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cached = nil
	slog.Debug("StyleManager cache cleared")
}

// Train analyzes writing samples, saves the resulting profile, and returns it.
func (m *StyleManager) Train(ctx context.Context, samples []string) (string, error) {
	if len(samples) == 0 {
		return "", fmt.Errorf("at least one writing sample is required")
	}
	profile, err := m.genai.AnalyzeStyle(ctx, samples)
	if err != nil {
		return "", fmt.Errorf("failed to analyze writing style: %w", err)
	}
	if err := m.Save(profile); err != nil {
		return "", err
	}
	return profile, nil
}
