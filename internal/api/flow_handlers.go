// Package api provides flow lifecycle handlers for secondself endpoints.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Macxim/secondself/internal/funnel"
	"github.com/Macxim/secondself/internal/models"
)

// startFlowHandler handles POST /flow/start. It initializes the flow,
// returns the composed initial DM immediately, and delivers it in the
// background before advancing the stage.
func (s *Server) startFlowHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.startFlowHandler: processing start request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.startFlowHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.FlowStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.startFlowHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.startFlowHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	canonicalID, err := s.msgService.ValidateAndCanonicalizeRecipient(req.UserID)
	if err != nil {
		slog.Warn("Server.startFlowHandler: recipient validation failed", "error", err, "user_id", req.UserID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	req.UserID = canonicalID

	rec, err := s.manager.Initialize(req.UserID, req.EntryType, req.DisplayName, req.Metadata)
	if err != nil {
		slog.Error("Server.startFlowHandler: failed to initialize flow", "error", err, "user_id", req.UserID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to initialize flow"))
		return
	}

	dm := funnel.InitialMessage(rec.EntryType, rec.DisplayName, rec.Metadata)

	// Deliver in the background so a slow channel never blocks the caller.
	go func() {
		ctx := context.Background()
		if err := s.msgService.SendMessage(ctx, rec.UserID, dm); err != nil {
			slog.Error("Server.startFlowHandler: initial DM delivery failed", "error", err, "user_id", rec.UserID)
			return
		}
		if _, err := s.manager.Transition(rec.UserID, models.StageWaitingInitialReply, "Initial DM sent", true); err != nil {
			slog.Error("Server.startFlowHandler: transition after DM failed", "error", err, "user_id", rec.UserID)
		}
	}()

	slog.Info("Server.startFlowHandler: flow started", "user_id", rec.UserID, "entry_type", rec.EntryType)
	writeJSONResponse(w, http.StatusAccepted, models.Queued(dm, rec))
}

// flowHandler dispatches GET /flow/{userId} and POST /flow/{userId}/stage.
func (s *Server) flowHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/flow/"), "/")
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		s.getFlowHandler(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "stage":
		s.updateStageHandler(w, r, parts[0])
	default:
		writeJSONResponse(w, http.StatusNotFound, models.Error("Not found"))
	}
}

func (s *Server) getFlowHandler(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rec, ok := s.manager.Get(userID)
	if !ok {
		writeJSONResponse(w, http.StatusNotFound, models.Error("No flow for user "+userID))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(rec))
}

func (s *Server) updateStageHandler(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req models.StageUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.updateStageHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.updateStageHandler: validation failed", "error", err, "user_id", userID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	notes := req.Notes
	if notes == "" {
		notes = "Manual stage update"
	}
	rec, err := s.manager.Transition(userID, req.Stage, notes, true)
	if err != nil {
		slog.Error("Server.updateStageHandler: transition failed", "error", err, "user_id", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update stage"))
		return
	}
	if rec == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("No flow for user "+userID))
		return
	}
	slog.Info("Server.updateStageHandler: stage updated", "user_id", userID, "stage", req.Stage)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Stage updated", rec))
}

// listFlowsHandler handles GET /flows.
func (s *Server) listFlowsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flows := s.manager.All()
	writeJSONResponse(w, http.StatusOK, models.Success(flows))
}

// flowConfigHandler handles GET /flow/config, describing the funnel shape.
func (s *Server) flowConfigHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	config := map[string]interface{}{
		"stages": []models.Stage{
			models.StageInitialDM, models.StageWaitingInitialReply,
			models.StageSentDoc, models.StageWaitingDocReply,
			models.StageSentLink, models.StageWaitingPayment,
			models.StageWaitingBooking, models.StagePaid, models.StageBooked,
			models.StageCompleted, models.StageClosed,
		},
		"entry_types": []models.EntryType{
			models.EntryProfileEngager, models.EntryGroupMember, models.EntryEventAttendee,
		},
		"followup_schedule": s.followUpSchedule,
	}
	writeJSONResponse(w, http.StatusOK, models.Success(config))
}

// processFollowUpsHandler handles POST /flow/process-followups, the manual
// trigger for the follow-up sweep.
func (s *Server) processFollowUpsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	n := s.sweeper.Sweep(r.Context())
	slog.Info("Server.processFollowUpsHandler: sweep completed", "attempted", n)
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]int{"processed": n}))
}
