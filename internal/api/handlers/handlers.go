// Package handlers implements the HTTP handlers for the quest assistant.
// Every handler takes the owner from the authenticated identity; request
// bodies can never name a different owner.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/izik-adio/zik-back-sub000/internal/errs"
	"github.com/izik-adio/zik-back-sub000/internal/generation"
	pkgmw "github.com/izik-adio/zik-back-sub000/pkg/middleware"
	"github.com/izik-adio/zik-back-sub000/pkg/models"
	"github.com/rs/zerolog/log"
)

// maxBodyBytes bounds every request body.
const maxBodyBytes = 1 << 20

// ChatService runs chat turns.
type ChatService interface {
	SubmitTurn(ctx context.Context, owner, text string) (*models.ChatResponse, error)
}

// TaskService changes task status outside a chat turn.
type TaskService interface {
	UpdateTaskStatus(ctx context.Context, owner, taskID string, status models.TaskStatus) (*models.Task, error)
}

// RoadmapService installs and reads epic roadmaps.
type RoadmapService interface {
	InstallRoadmap(ctx context.Context, owner, goalID string, drafts []models.MilestoneDraft) ([]models.Milestone, error)
	Roadmap(ctx context.Context, owner, goalID string) ([]models.Milestone, error)
}

// Pinger reports backing-store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds all handler dependencies.
type Handlers struct {
	Chat     ChatService
	Tasks    TaskService
	Roadmaps RoadmapService
	Store    Pinger
	Version  string

	// PipelineSecret verifies roadmap callbacks. Empty disables the callback.
	PipelineSecret string
}

// ── Chat ────────────────────────────────────────────────────

// SubmitChat handles POST /api/v1/chat.
func (h *Handlers) SubmitChat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	resp, err := h.Chat.SubmitTurn(r.Context(), pkgmw.Owner(r.Context()), req.Message)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// ── Tasks ───────────────────────────────────────────────────

type taskStatusRequest struct {
	Status models.TaskStatus `json:"status"`
}

// UpdateTaskStatus handles PATCH /api/v1/tasks/{taskId}/status.
func (h *Handlers) UpdateTaskStatus(w http.ResponseWriter, r *http.Request) {
	var req taskStatusRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	task, err := h.Tasks.UpdateTaskStatus(r.Context(), pkgmw.Owner(r.Context()), chi.URLParam(r, "taskId"), req.Status)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

// ── Roadmaps ────────────────────────────────────────────────

// roadmapCallback is the generation pipeline's roadmap delivery.
type roadmapCallback struct {
	Owner      string                  `json:"owner"`
	EpicID     string                  `json:"epic_id"`
	JobID      string                  `json:"job_id,omitempty"`
	Milestones []models.MilestoneDraft `json:"milestones"`
}

// InstallRoadmap handles POST /api/v1/epics/{epicId}/roadmap. The caller is
// the generation pipeline, authenticated by an HMAC signature of the body
// rather than a user token.
func (h *Handlers) InstallRoadmap(w http.ResponseWriter, r *http.Request) {
	if h.PipelineSecret == "" {
		respondError(w, http.StatusForbidden, "callback_disabled", "Roadmap callbacks are not configured")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if !generation.Verify(h.PipelineSecret, body, r.Header.Get(generation.SignatureHeader)) {
		log.Warn().Str("epic", chi.URLParam(r, "epicId")).Msg("🛡️ Roadmap callback with bad signature")
		respondError(w, http.StatusUnauthorized, "bad_signature", "Signature verification failed")
		return
	}

	var cb roadmapCallback
	if err := json.Unmarshal(body, &cb); err != nil || cb.Owner == "" || cb.EpicID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "Callback must carry owner, epic_id and milestones")
		return
	}
	// The signature covers the body only, so the epic it names must match the path.
	epicID := chi.URLParam(r, "epicId")
	if cb.EpicID != epicID {
		log.Warn().Str("epic", epicID).Str("signed_epic", cb.EpicID).Msg("🛡️ Roadmap callback for a different epic")
		respondError(w, http.StatusBadRequest, "epic_mismatch", "Callback epic_id does not match the path")
		return
	}

	milestones, err := h.Roadmaps.InstallRoadmap(r.Context(), cb.Owner, epicID, cb.Milestones)
	if err != nil {
		respondErr(w, err)
		return
	}
	log.Info().Str("epic", epicID).Str("job", cb.JobID).Int("milestones", len(milestones)).Msg("Roadmap callback accepted")
	respondJSON(w, http.StatusCreated, milestones)
}

// ListMilestones handles GET /api/v1/epics/{epicId}/milestones.
func (h *Handlers) ListMilestones(w http.ResponseWriter, r *http.Request) {
	milestones, err := h.Roadmaps.Roadmap(r.Context(), pkgmw.Owner(r.Context()), chi.URLParam(r, "epicId"))
	if err != nil {
		respondErr(w, err)
		return
	}
	if milestones == nil {
		milestones = []models.Milestone{}
	}
	respondJSON(w, http.StatusOK, milestones)
}

// ── Health ──────────────────────────────────────────────────

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if h.Store != nil {
		if err := h.Store.Ping(r.Context()); err != nil {
			log.Error().Err(err).Msg("Health check failed")
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "service": "questd"})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "questd"})
}

// VersionInfo handles GET /version.
func (h *Handlers) VersionInfo(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"version": h.Version, "service": "questd"})
}

// ── Helpers ─────────────────────────────────────────────────

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after JSON body")
	}
	return nil
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindAuth:
		return http.StatusUnauthorized
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindRateLimited:
		return http.StatusTooManyRequests
	case errs.KindInference:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondErr(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= 500 {
		log.Error().Err(err).Int("status", status).Msg("Request failed")
	}
	msg := errs.Message(err)
	if msg == "internal error" {
		msg = defaultMessages[errs.KindOf(err)]
	}
	respondError(w, status, errs.KindOf(err).String(), msg)
}

var defaultMessages = map[errs.Kind]string{
	errs.KindValidation:  "The request is invalid",
	errs.KindAuth:        "Authentication required",
	errs.KindNotFound:    "Not found",
	errs.KindRateLimited: "Too many requests",
	errs.KindInference:   "The assistant is temporarily unavailable, please try again",
	errs.KindPersistence: "Storage is temporarily unavailable, please try again",
	errs.KindUnknown:     "Internal error",
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]string{"error": code, "message": message})
}
