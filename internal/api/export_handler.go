package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clipforge/clipforge/internal/export"
	"github.com/clipforge/clipforge/internal/render"
)

func publishHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PublishRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.RenderJobID == "" {
			WriteError(w, http.StatusBadRequest, "render_job_id is required", "BAD_REQUEST")
			return
		}

		targets := make([]export.TargetRequest, len(req.Targets))
		for i, t := range req.Targets {
			targets[i] = export.TargetRequest{
				Platform:   t.Platform,
				Metadata:   t.Metadata,
				Credential: t.Credential,
			}
		}

		job, err := cfg.Coordinator.Publish(r.Context(), req.RenderJobID, req.ArtifactURL, targets)
		if err != nil {
			switch {
			case errors.Is(err, render.ErrNotFound):
				WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
			case errors.Is(err, export.ErrRenderNotSucceeded):
				WriteError(w, http.StatusConflict, err.Error(), "RENDER_NOT_SUCCEEDED")
			default:
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			}
			return
		}

		created, createdTargets, _, err := cfg.Coordinator.Status(r.Context(), job.ID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusAccepted, ExportToResponse(created, createdTargets))
	}
}

func getExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		job, targets, _, err := cfg.Coordinator.Status(r.Context(), id)
		if err != nil {
			if errors.Is(err, export.ErrNotFound) {
				WriteError(w, http.StatusNotFound, "export not found", "NOT_FOUND")
				return
			}
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, ExportToResponse(job, targets))
	}
}

func retryTargetHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		platformName := chi.URLParam(r, "platform")

		var req RetryTargetRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
				return
			}
		}

		target, err := cfg.Coordinator.RetryTarget(r.Context(), id, platformName, req.Credential)
		if err != nil {
			switch {
			case errors.Is(err, export.ErrNotFound):
				WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
			case errors.Is(err, export.ErrTargetNotRetryable):
				WriteError(w, http.StatusConflict, err.Error(), "NOT_RETRYABLE")
			default:
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			}
			return
		}
		WriteJSON(w, http.StatusAccepted, TargetToResponse(target))
	}
}

func targetStatsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		platformName := chi.URLParam(r, "platform")

		stats, err := cfg.Coordinator.FetchStats(r.Context(), id, platformName)
		if err != nil {
			if errors.Is(err, export.ErrNotFound) {
				WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
				return
			}
			WriteError(w, http.StatusBadGateway, err.Error(), "UPSTREAM_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, stats)
	}
}
