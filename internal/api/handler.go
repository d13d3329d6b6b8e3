// Package api provides HTTP handlers for the engine's control plane.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/poiselabs/poise/internal/domain"
	"github.com/poiselabs/poise/internal/session"
	"github.com/poiselabs/poise/internal/store"
)

// Handler serves the session control-plane endpoints.
type Handler struct {
	controller *session.Controller
	repo       store.Repository
}

// NewHandler creates a new Handler.
func NewHandler(controller *session.Controller, repo store.Repository) *Handler {
	return &Handler{controller: controller, repo: repo}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes mounts the control-plane routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/session", func(r chi.Router) {
		r.Post("/start", h.StartSession)
		r.Post("/end", h.EndSession)
		r.Get("/status", h.SessionStatus)
	})
	r.Get("/api/records/unsynced", h.UnsyncedRecords)
}

type startRequest struct {
	FocusAreas    []domain.FocusArea `json:"focus_areas"`
	DisableCamera bool               `json:"disable_camera"`
	DisableMic    bool               `json:"disable_mic"`
}

// StartSession starts a new coaching session. Only pre-start failures
// (quota, capture, already-active) surface as actionable errors.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	// An empty body means defaults; anything else malformed is a bad request.
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sessionID, err := h.controller.Start(r.Context(), session.Config{
		FocusAreas:    req.FocusAreas,
		DisableCamera: req.DisableCamera,
		DisableMic:    req.DisableMic,
	})
	if err != nil {
		status, message := startErrorStatus(err)
		Error(w, status, message)
		return
	}

	JSON(w, http.StatusCreated, map[string]string{"session_id": sessionID})
}

func startErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrQuotaExceeded):
		return http.StatusPaymentRequired, "no sessions remaining"
	case errors.Is(err, domain.ErrAlreadyActive):
		return http.StatusConflict, "a session is already active"
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden, "camera or microphone permission denied"
	case errors.Is(err, domain.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable, "no capture device available"
	default:
		return http.StatusInternalServerError, "failed to start session"
	}
}

// EndSession ends the active session and returns the finalized record.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	record, err := h.controller.End(r.Context())
	if err != nil {
		Error(w, http.StatusConflict, "no active session")
		return
	}
	JSON(w, http.StatusOK, record)
}

// SessionStatus returns the live session snapshot.
func (h *Handler) SessionStatus(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.controller.Status())
}

// UnsyncedRecords lists records still queued for sync.
func (h *Handler) UnsyncedRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.repo.UnsyncedRecords(r.Context())
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	if records == nil {
		records = []*domain.SessionRecord{}
	}
	JSON(w, http.StatusOK, records)
}
