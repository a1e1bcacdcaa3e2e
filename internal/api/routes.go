package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clipforge/clipforge/internal/render"
	"github.com/clipforge/clipforge/internal/timeline"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Post("/timelines", buildTimelineHandler(cfg))
		r.Post("/renders", submitRenderHandler(cfg))
		r.Get("/renders", listRendersHandler(cfg))
		r.Get("/renders/{id}", getRenderHandler(cfg))
		r.Get("/renders/{id}/artifact", artifactHandler(cfg))
		r.Post("/renders/{id}/cancel", cancelRenderHandler(cfg))

		r.Post("/exports", publishHandler(cfg))
		r.Get("/exports/{id}", getExportHandler(cfg))
		r.Post("/exports/{id}/targets/{platform}/retry", retryTargetHandler(cfg))
		r.Get("/exports/{id}/targets/{platform}/stats", targetStatsHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: uptime,
		})
	}
}

// buildTimeline decodes the request and runs the timeline builder,
// translating validation failures into a structured 400.
func buildTimeline(w http.ResponseWriter, r *http.Request) (*timeline.Timeline, bool) {
	var req BuildTimelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
		return nil, false
	}

	tl, err := timeline.Build(req.Scenes, req.Narration, req.Cues)
	if err != nil {
		var verr *timeline.ValidationError
		if errors.As(err, &verr) {
			resp := ValidationErrorResponse{
				Error: verr.Error(),
				Code:  "VALIDATION_ERROR",
				Field: verr.Field,
			}
			if verr.SceneIndex >= 0 {
				idx := verr.SceneIndex
				resp.SceneIndex = &idx
			}
			if verr.CueIndex >= 0 {
				idx := verr.CueIndex
				resp.CueIndex = &idx
			}
			WriteJSON(w, http.StatusBadRequest, resp)
			return nil, false
		}
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
		return nil, false
	}
	return tl, true
}

func buildTimelineHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tl, ok := buildTimeline(w, r)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, tl)
	}
}

func submitRenderHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tl, ok := buildTimeline(w, r)
		if !ok {
			return
		}

		job, err := cfg.Manager.Submit(r.Context(), tl)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusAccepted, RenderJobToResponse(job))
	}
}

func listRendersHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := cfg.Repository.ListJobs(r.Context(), 50)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list render jobs", "INTERNAL_ERROR")
			return
		}

		resp := RenderJobsResponse{Jobs: make([]RenderJobResponse, len(jobs))}
		for i, j := range jobs {
			resp.Jobs[i] = RenderJobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getRenderHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		job, err := cfg.Manager.Get(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if job == nil {
			WriteError(w, http.StatusNotFound, "render job not found", "NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, RenderJobToResponse(job))
	}
}

func artifactHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		job, err := cfg.Manager.Get(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if job == nil {
			WriteError(w, http.StatusNotFound, "render job not found", "NOT_FOUND")
			return
		}
		if job.Status != render.StatusSucceeded || job.Artifact == nil {
			WriteError(w, http.StatusConflict, "render has no artifact", "NO_ARTIFACT")
			return
		}

		if err := cfg.Artifacts.ServeArtifact(w, r, job.Artifact.Path); err != nil {
			cfg.Logger.Error("artifact serve error", "error", err, "job_id", id)
		}
	}
}

func cancelRenderHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		job, err := cfg.Manager.Cancel(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if job == nil {
			WriteError(w, http.StatusNotFound, "render job not found", "NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, RenderJobToResponse(job))
	}
}
