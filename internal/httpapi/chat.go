package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/runcoach/internal/coach"
	"github.com/ent0n29/runcoach/internal/plan"
	"github.com/ent0n29/runcoach/internal/policy"
	"github.com/ent0n29/runcoach/internal/session"
	"github.com/ent0n29/runcoach/internal/store"
)

const (
	clientIDHeader      = "X-Client-ID"
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

type chatRequest struct {
	ClientID string `json:"client_id"`
	Message  string `json:"message"`
}

type planResponse struct {
	ClientID  string         `json:"client_id,omitempty"`
	Plan      *plan.Document `json:"plan"`
	Version   int            `json:"version,omitempty"`
	IsCurrent bool           `json:"is_current,omitempty"`
	CreatedAt string         `json:"created_at,omitempty"`
}

func toPlanResponse(v store.PlanVersion) planResponse {
	doc := v.Plan
	return planResponse{
		ClientID:  v.ClientID,
		Plan:      &doc,
		Version:   v.Version,
		IsCurrent: v.IsCurrent,
		CreatedAt: v.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.deps.Turns == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "chat not configured")
		return
	}
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	clientID, ok := resolveClientID(w, req.ClientID, r.Header.Get(clientIDHeader))
	if !ok {
		return
	}

	res, err := s.deps.Turns.HandleTurn(r.Context(), clientID, req.Message)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, res)
	case errors.Is(err, coach.ErrEmptyMessage):
		respondError(w, http.StatusBadRequest, "missing_message", err.Error())
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to write.
	default:
		s.log.Error().Err(err).Str("client_id", clientID).Msg("chat turn failed")
		respondError(w, http.StatusInternalServerError, "turn_failed", "Sorry, I encountered an error processing your request. Please try again.")
	}
}

func (s *Server) handleCurrentPlan(w http.ResponseWriter, r *http.Request) {
	clientID, ok := resolveClientID(w, r.URL.Query().Get("client_id"), r.Header.Get(clientIDHeader))
	if !ok {
		return
	}
	if s.deps.Plans == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "plans not configured")
		return
	}

	v, found, err := s.deps.Plans.GetCurrent(r.Context(), clientID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "plan_lookup_failed", err.Error())
		return
	}
	if !found {
		respondJSON(w, http.StatusOK, planResponse{ClientID: clientID})
		return
	}
	respondJSON(w, http.StatusOK, toPlanResponse(v))
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	clientID, ok := resolveClientID(w, chi.URLParam(r, "client"))
	if !ok {
		return
	}
	if s.deps.Plans == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "plans not configured")
		return
	}
	limit, err := limitParam(r, defaultHistoryLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_limit", err.Error())
		return
	}

	versions, err := s.deps.Plans.History(r.Context(), clientID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "plan_lookup_failed", err.Error())
		return
	}
	out := make([]planResponse, 0, len(versions))
	for _, v := range versions {
		out = append(out, toPlanResponse(v))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"client_id": clientID,
		"versions":  out,
	})
}

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	clientID, ok := resolveClientID(w, chi.URLParam(r, "client"))
	if !ok {
		return
	}
	version, ok := versionParam(w, r)
	if !ok {
		return
	}
	if s.deps.Plans == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "plans not configured")
		return
	}

	v, found, err := s.deps.Plans.GetVersion(r.Context(), clientID, version)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "plan_lookup_failed", err.Error())
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "version_not_found", "plan version not found")
		return
	}
	respondJSON(w, http.StatusOK, toPlanResponse(v))
}

func (s *Server) handleExportVersion(w http.ResponseWriter, r *http.Request) {
	clientID, ok := resolveClientID(w, chi.URLParam(r, "client"))
	if !ok {
		return
	}
	version, ok := versionParam(w, r)
	if !ok {
		return
	}
	if s.deps.Exporter == nil {
		respondError(w, http.StatusNotImplemented, "archive_disabled", "plan archive is not configured")
		return
	}
	if s.deps.Plans != nil {
		if _, found, err := s.deps.Plans.GetVersion(r.Context(), clientID, version); err != nil || !found {
			respondError(w, http.StatusNotFound, "version_not_found", "plan version not found")
			return
		}
	}

	link, err := s.deps.Exporter.ExportURL(r.Context(), clientID, version, 0)
	if err != nil {
		respondError(w, http.StatusBadGateway, "export_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"client_id": clientID,
		"version":   version,
		"url":       link,
	})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	clientID, ok := resolveClientID(w, chi.URLParam(r, "client"))
	if !ok {
		return
	}
	if s.deps.Backend == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "store not configured")
		return
	}
	msgs, err := s.deps.Backend.ListMessages(r.Context(), clientID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "messages_lookup_failed", err.Error())
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"client_id": clientID,
		"messages":  msgs,
	})
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	clientID, ok := resolveClientID(w, chi.URLParam(r, "client"))
	if !ok {
		return
	}
	if s.deps.Sessions == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "sessions not configured")
		return
	}
	res, err := s.deps.Sessions.Reset(r.Context(), clientID)
	if err != nil {
		if errors.Is(err, session.ErrInvalidClient) {
			respondError(w, http.StatusBadRequest, "missing_client_id", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "reset_failed", "Failed to reset session: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"message":          "Session reset successfully",
		"client_id":        res.ClientID,
		"messages_deleted": res.MessagesDeleted,
		"plans_deleted":    res.PlansDeleted,
		"reset_at":         res.ResetAt,
	})
}

func resolveClientID(w http.ResponseWriter, candidates ...string) (string, bool) {
	id, err := policy.NormalizeClientID(candidates...)
	switch {
	case err == nil:
		return id, true
	case errors.Is(err, policy.ErrClientIDRequired):
		respondError(w, http.StatusBadRequest, "missing_client_id", err.Error())
	default:
		respondError(w, http.StatusBadRequest, "invalid_client_id", err.Error())
	}
	return "", false
}

func versionParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || n < 1 {
		respondError(w, http.StatusBadRequest, "invalid_version", "version must be a positive integer")
		return 0, false
	}
	return n, true
}

func limitParam(r *http.Request, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(n, maxHistoryLimit), nil
}
