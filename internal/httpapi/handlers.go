// Package httpapi is the thin HTTP façade in front of the Orchestrator:
// it decodes requests, enforces nothing the orchestrator
// doesn't already enforce, and translates its errors into status codes.
// Every project handler is a direct call-through to one Orchestrator
// method (Assets resolves through the Artifact Store, Health answers
// directly); there is no business logic here.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/arcframe/reelforge/internal/models"
	"github.com/arcframe/reelforge/internal/orchestrator"
	"github.com/arcframe/reelforge/internal/store"
)

// Handler holds the one Orchestrator every request is routed through, the
// same one-dependency-struct shape common across the pack's API handlers.
type Handler struct {
	Orchestrator *orchestrator.Orchestrator
	Artifacts    *store.ArtifactStore
}

func NewHandler(o *orchestrator.Orchestrator, artifacts *store.ArtifactStore) *Handler {
	return &Handler{Orchestrator: o, Artifacts: artifacts}
}

type planRequest struct {
	ProjectID string        `json:"project_id"`
	Brief     string        `json:"brief"`
	Config    models.Config `json:"config"`
}

// Plan handles POST /plan. The brief text, when present, seeds
// Config.Topic so a caller can send either a free-text brief or a fully
// populated config.
func (h *Handler) Plan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProjectID == "" {
		req.ProjectID = newProjectID()
	}
	if req.Config.Topic == "" && req.Brief != "" {
		req.Config.Topic = req.Brief
	}

	state, err := h.Orchestrator.Plan(r.Context(), req.ProjectID, req.Config, now())
	if err != nil {
		respondOrchestratorError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

type projectIDRequest struct {
	ProjectID string `json:"project_id"`
}

// GenerateImages handles POST /generate/images, the gate-1 Approve action.
func (h *Handler) GenerateImages(w http.ResponseWriter, r *http.Request) {
	var req projectIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	state, err := h.Orchestrator.StartImageStage(r.Context(), req.ProjectID)
	if err != nil {
		respondOrchestratorError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, state)
}

// GenerateVideos handles POST /generate/videos, the gate-2 Approve action.
func (h *Handler) GenerateVideos(w http.ResponseWriter, r *http.Request) {
	var req projectIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	state, err := h.Orchestrator.StartMotionStage(r.Context(), req.ProjectID)
	if err != nil {
		respondOrchestratorError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, state)
}

// GenerateAssemble handles POST /generate/assemble, the gate-3 Approve action.
func (h *Handler) GenerateAssemble(w http.ResponseWriter, r *http.Request) {
	var req projectIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	state, err := h.Orchestrator.StartAssemble(r.Context(), req.ProjectID)
	if err != nil {
		respondOrchestratorError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, state)
}

type remixRequest struct {
	ProjectID string                   `json:"project_id"`
	Script    *models.Script           `json:"script"`
	Options   orchestrator.RemixOptions `json:"options"`
}

// Remix handles POST /remix.
func (h *Handler) Remix(w http.ResponseWriter, r *http.Request) {
	var req remixRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Script == nil {
		respondError(w, http.StatusBadRequest, "script is required")
		return
	}
	state, err := h.Orchestrator.Remix(r.Context(), req.ProjectID, req.Script, req.Options)
	if err != nil {
		respondOrchestratorError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, state)
}

// Status handles GET /status/{project_id}.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	state, err := h.Orchestrator.GetStatus(projectID)
	if err != nil {
		respondError(w, http.StatusNotFound, "project not found")
		return
	}
	respondJSON(w, http.StatusOK, state)
}

// Cancel handles POST /cancel/{project_id}, stopping whatever stage is
// currently in flight for the project.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	if err := h.Orchestrator.Cancel(projectID); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// Reset handles POST /reset/{project_id}.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	state, err := h.Orchestrator.Reset(projectID)
	if err != nil {
		respondError(w, http.StatusNotFound, "project not found")
		return
	}
	respondJSON(w, http.StatusOK, state)
}

// Assets handles GET /assets/{path}, streaming an artifact straight off
// disk. path is resolved against the Artifact Store's project root before
// anything touches the filesystem, so a caller can never walk outside it
// (e.g. with a "../../etc/passwd" path or another project's directory).
func (h *Handler) Assets(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	if path == "" {
		respondError(w, http.StatusBadRequest, "missing asset path")
		return
	}
	full, err := h.Artifacts.ResolveAssetPath(path)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid asset path")
		return
	}
	if _, err := os.Stat(full); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			respondError(w, http.StatusNotFound, "asset not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "cannot stat asset")
		return
	}
	http.ServeFile(w, r, full)
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondOrchestratorError(w http.ResponseWriter, err error) {
	var transErr *models.TransitionError
	if errors.As(err, &transErr) {
		respondError(w, http.StatusConflict, transErr.Error())
		return
	}
	var projErr *models.ProjectError
	if errors.As(err, &projErr) && projErr.Kind == "invalid_input" {
		respondError(w, http.StatusBadRequest, projErr.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
