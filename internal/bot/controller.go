// Package bot contains the conversational brain of secondself: the inbound
// message processor, the reply controller, and the writing style profile.
package bot

import (
	"log/slog"
	"sync"
)

// Controller tracks whether the bot is allowed to reply, globally and per
// conversation. A human operator can take over any conversation at any time.
type Controller struct {
	mu         sync.RWMutex
	enabled    bool
	disabled   map[string]bool
	manualMode map[string]bool
}

// NewController creates a Controller with the bot globally enabled.
func NewController() *Controller {
	return &Controller{
		enabled:    true,
		disabled:   make(map[string]bool),
		manualMode: make(map[string]bool),
	}
}

// ShouldRespond reports whether the bot may reply to the given user.
func (c *Controller) ShouldRespond(userID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.enabled {
		return false
	}
	if c.disabled[userID] || c.manualMode[userID] {
		return false
	}
	return true
}

// SetEnabled toggles the bot globally.
func (c *Controller) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
	slog.Info("Controller global toggle", "enabled", enabled)
}

// Enabled reports the global toggle state.
func (c *Controller) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// DisableConversation stops the bot from replying to one user.
func (c *Controller) DisableConversation(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disabled[userID] = true
	slog.Info("Controller disabled conversation", "user_id", userID)
}

// EnableConversation re-enables replies for one user and clears manual mode.
func (c *Controller) EnableConversation(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.disabled, userID)
	delete(c.manualMode, userID)
	slog.Info("Controller enabled conversation", "user_id", userID)
}

// EnterManualMode hands a conversation over to a human operator.
func (c *Controller) EnterManualMode(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.manualMode[userID] = true
	slog.Info("Controller manual mode on", "user_id", userID)
}

// ExitManualMode returns a conversation to the bot.
func (c *Controller) ExitManualMode(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.manualMode, userID)
	slog.Info("Controller manual mode off", "user_id", userID)
}

// IsManualMode reports whether a conversation is operator-controlled.
func (c *Controller) IsManualMode(userID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.manualMode[userID]
}

// ConversationStates returns the disabled and manual-mode conversation lists.
func (c *Controller) ConversationStates() (disabled []string, manual []string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for id := range c.disabled {
		disabled = append(disabled, id)
	}
	for id := range c.manualMode {
		manual = append(manual, id)
	}
	return disabled, manual
}
