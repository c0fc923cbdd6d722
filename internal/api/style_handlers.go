// Package api provides style profile handlers for secondself endpoints.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/openai/openai-go"

	"github.com/Macxim/secondself/internal/models"
)

// styleHandler handles GET and DELETE /style.
func (s *Server) styleHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		profile, err := s.styles.Load()
		if err != nil {
			slog.Error("Server.styleHandler: load failed", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load style profile"))
			return
		}
		if profile == "" {
			writeJSONResponse(w, http.StatusNotFound, models.Error("No style profile trained yet"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"style_profile": profile}))
	case http.MethodDelete:
		if err := s.styles.Delete(); err != nil {
			slog.Error("Server.styleHandler: delete failed", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete style profile"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Style profile deleted", nil))
	default:
		w.Header().Set("Allow", "GET, DELETE")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// styleTrainHandler handles POST /style/train.
func (s *Server) styleTrainHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Samples []string `json:"samples"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if len(req.Samples) == 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("At least one writing sample is required"))
		return
	}

	profile, err := s.styles.Train(r.Context(), req.Samples)
	if err != nil {
		slog.Error("Server.styleTrainHandler: training failed", "error", err, "samples", len(req.Samples))
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to train style profile"))
		return
	}
	slog.Info("Server.styleTrainHandler: profile trained", "samples", len(req.Samples))
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Style profile trained", map[string]string{"style_profile": profile}))
}

// styleTestHandler handles POST /style/test, generating a one-off reply in
// the trained style without touching any conversation history.
func (s *Server) styleTestHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Expected JSON body with \"message\" field"))
		return
	}

	profile, err := s.styles.Load()
	if err != nil {
		slog.Error("Server.styleTestHandler: load failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load style profile"))
		return
	}
	system := "You are a helpful assistant responding to messages. Keep responses natural, friendly, and conversational."
	if profile != "" {
		system = fmt.Sprintf("You are responding to messages on behalf of someone. Their communication style: %s. Match their tone, vocabulary, and style exactly.", profile)
	}

	reply, err := s.ai.GenerateWithMessages(r.Context(), []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(system),
		openai.UserMessage(req.Message),
	})
	if err != nil {
		slog.Error("Server.styleTestHandler: generation failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to generate test reply"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"reply": reply}))
}

// styleReloadHandler handles POST /style/reload, clearing the in-memory cache.
func (s *Server) styleReloadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.styles.Reload()
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Style profile cache cleared", nil))
}
