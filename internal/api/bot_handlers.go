// Package api provides bot control and test handlers for secondself endpoints.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Macxim/secondself/internal/models"
)

// botToggleHandler handles POST /bot/toggle.
func (s *Server) botToggleHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		slog.Warn("Server.botToggleHandler: invalid payload", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Expected JSON body with boolean \"enabled\" field"))
		return
	}
	s.controller.SetEnabled(*req.Enabled)
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]bool{"enabled": s.controller.Enabled()}))
}

// botStatusHandler handles GET /bot/status.
func (s *Server) botStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	disabled, manual := s.controller.ConversationStates()
	status := map[string]interface{}{
		"enabled":  s.controller.Enabled(),
		"disabled": disabled,
		"manual":   manual,
	}
	writeJSONResponse(w, http.StatusOK, models.Success(status))
}

// botConversationHandler handles POST /bot/conversation/{userId}/{action}
// where action is one of enable, disable, manual, auto.
func (s *Server) botConversationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/bot/conversation/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Not found"))
		return
	}
	userID, action := parts[0], parts[1]

	switch action {
	case "enable":
		s.controller.EnableConversation(userID)
	case "disable":
		s.controller.DisableConversation(userID)
	case "manual":
		s.controller.EnterManualMode(userID)
	case "auto":
		s.controller.ExitManualMode(userID)
	default:
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Unknown action "+action))
		return
	}
	slog.Info("Server.botConversationHandler: conversation state changed", "user_id", userID, "action", action)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Conversation "+action+"d", nil))
}

// testMessageHandler handles POST /test/message, feeding a message through
// the full processing pipeline without the reply delay.
func (s *Server) testMessageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		UserID  string `json:"user_id"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.UserID == "" || req.Message == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("user_id and message are required"))
		return
	}

	reply, err := s.processor.HandleMessage(r.Context(), req.UserID, req.Message)
	if err != nil {
		slog.Error("Server.testMessageHandler: processing failed", "error", err, "user_id", req.UserID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"reply": reply}))
}

// conversationHandler handles GET and DELETE /test/conversation/{userId}.
func (s *Server) conversationHandler(w http.ResponseWriter, r *http.Request) {
	userID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/test/conversation/"), "/")
	if userID == "" || strings.Contains(userID, "/") {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Not found"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSONResponse(w, http.StatusOK, models.Success(s.processor.Conversation(userID)))
	case http.MethodDelete:
		s.processor.ClearConversation(userID)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Conversation cleared", nil))
	default:
		w.Header().Set("Allow", "GET, DELETE")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
