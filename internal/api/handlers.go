package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/spherical/ocr-bench/internal/cache"
	"github.com/spherical/ocr-bench/internal/domain"
	"github.com/spherical/ocr-bench/internal/observability"
	"github.com/spherical/ocr-bench/internal/orchestrator"
)

// Handler implements the API endpoints.
type Handler struct {
	deps   Deps
	logger *observability.Logger
}

const redacted = "********"

// redact hides credentials before configuration leaves the process.
func redact(cfg domain.Configuration) domain.Configuration {
	out := make(domain.Configuration, len(cfg))
	for name, pc := range cfg {
		if pc.APIKey != "" {
			pc.APIKey = redacted
		}
		if pc.ServiceAccountJSON != "" {
			pc.ServiceAccountJSON = redacted
		}
		out[name] = pc
	}
	return out
}

// GetConfig handles GET /api/config.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.deps.Config.Load(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, redact(cfg))
}

// PutConfig handles PUT /api/config. Redacted secrets in the body keep the
// stored value.
func (h *Handler) PutConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var cfg domain.Configuration
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	known := map[string]bool{}
	for _, name := range h.deps.Registry.Names() {
		known[name] = true
	}

	current, err := h.deps.Config.Load(ctx)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	var problems []string
	for name, pc := range cfg {
		if !known[name] {
			problems = append(problems, "unknown provider "+name)
			continue
		}
		if pc.APIKey == redacted {
			pc.APIKey = current[name].APIKey
		}
		if pc.ServiceAccountJSON == redacted {
			pc.ServiceAccountJSON = current[name].ServiceAccountJSON
		}
		cfg[name] = pc
		if pc.Enabled {
			if err := h.deps.Registry.Validate(name, pc); err != nil {
				problems = append(problems, err.Error())
			}
		}
	}
	if len(problems) > 0 {
		h.writeError(w, http.StatusBadRequest, "invalid configuration", strings.Join(problems, "; "))
		return
	}

	if err := h.deps.Config.Save(ctx, cfg); err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.logger.Info().Int("providers", len(cfg)).Msg("configuration saved")
	h.writeJSON(w, http.StatusOK, redact(cfg))
}

// SubmitRunRequest is the body of POST /api/runs.
type SubmitRunRequest struct {
	DocumentPath string   `json:"document_path"`
	DocumentName string   `json:"document_name,omitempty"`
	Providers    []string `json:"providers,omitempty"`
}

// RunStatusResponse is the polled view of a run.
type RunStatusResponse struct {
	RunID    string                   `json:"run_id"`
	Status   domain.RunStatus         `json:"status"`
	Progress int                      `json:"progress"`
	Outcome  *orchestrator.RunOutcome `json:"outcome,omitempty"`
}

// SubmitRun handles POST /api/runs.
func (h *Handler) SubmitRun(w http.ResponseWriter, r *http.Request) {
	var req SubmitRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.DocumentPath == "" {
		h.writeError(w, http.StatusBadRequest, "document_path is required", "")
		return
	}

	job := h.deps.Jobs.Submit(r.Context(), orchestrator.RunRequest{
		DocumentPath: req.DocumentPath,
		DocumentName: req.DocumentName,
		Providers:    req.Providers,
	})

	h.logger.Info().Str("run_id", job.ID()).Str("document", req.DocumentPath).Msg("run submitted")
	h.writeJSON(w, http.StatusAccepted, RunStatusResponse{
		RunID:    job.ID(),
		Status:   job.Status(),
		Progress: job.Progress(),
	})
}

// GetRun handles GET /api/runs/{runID}. Live jobs answer from memory; runs
// from before a restart answer from the task store.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	if job, ok := h.deps.Jobs.Get(runID); ok {
		resp := RunStatusResponse{RunID: runID, Status: job.Status(), Progress: job.Progress()}
		if out, _ := job.Outcome(); out != nil {
			resp.Status = out.Status
			resp.Outcome = out
		}
		h.writeJSON(w, http.StatusOK, resp)
		return
	}

	rec, err := h.deps.Tasks.Get(r.Context(), runID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	resp := RunStatusResponse{RunID: rec.RunID, Status: rec.Status, Progress: rec.Progress}
	if len(rec.Payload) > 0 {
		var out orchestrator.RunOutcome
		if err := json.Unmarshal(rec.Payload, &out); err == nil {
			resp.Outcome = &out
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// CancelRun handles DELETE /api/runs/{runID}.
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	job, ok := h.deps.Jobs.Get(runID)
	if !ok {
		h.writeError(w, http.StatusNotFound, "run not found", runID)
		return
	}
	if job.Status().Terminal() {
		h.writeError(w, http.StatusConflict, "run already finished", string(job.Status()))
		return
	}
	job.Cancel()
	h.writeJSON(w, http.StatusAccepted, RunStatusResponse{RunID: runID, Status: job.Status(), Progress: job.Progress()})
}

// GetRunStatistics handles GET /api/runs/{runID}/statistics. It prefers the
// short-lived cache and falls back to history.
func (h *Handler) GetRunStatistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := chi.URLParam(r, "runID")

	if h.deps.Cache != nil {
		var latest map[string]domain.RunStatistics
		err := cache.GetJSON(ctx, h.deps.Cache, cache.LatestStatsKey(runID), &latest)
		if err == nil {
			h.writeJSON(w, http.StatusOK, latest)
			return
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			h.logger.Warn().Err(err).Str("run_id", runID).Msg("cache read failed")
		}
	}

	rec, err := h.deps.History.Get(ctx, runID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec.Statistics)
}

// GetStatistics handles GET /api/statistics.
func (h *Handler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	aggs, err := h.deps.Statistics.GetAll(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, aggs)
}

// RecomputeStatistics handles POST /api/statistics/recompute.
func (h *Handler) RecomputeStatistics(w http.ResponseWriter, r *http.Request) {
	aggs, err := h.deps.Orchestrator.RecomputeAggregates(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, aggs)
}

// HistorySummary is one row of GET /api/history.
type HistorySummary struct {
	RunID        string                          `json:"run_id"`
	DocumentName string                          `json:"document_name"`
	Providers    []string                        `json:"providers"`
	Statistics   map[string]domain.RunStatistics `json:"statistics"`
	CreatedAt    string                          `json:"created_at"`
}

// ListHistory handles GET /api/history. Page results are omitted; fetch one
// run for those.
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.deps.History.ListAll(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	out := make([]HistorySummary, 0, len(history))
	for _, rec := range history {
		out = append(out, HistorySummary{
			RunID:        rec.RunID,
			DocumentName: rec.DocumentName,
			Providers:    rec.Providers,
			Statistics:   rec.Statistics,
			CreatedAt:    rec.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	h.writeJSON(w, http.StatusOK, out)
}

// GetHistory handles GET /api/history/{runID}.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	rec, err := h.deps.History.Get(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// writeDomainError maps the error taxonomy onto HTTP status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var de *domain.DomainError
	message := "internal error"
	if errors.As(err, &de) {
		message = de.Message
		switch de.Type {
		case domain.ErrorTypeNotFound:
			status = http.StatusNotFound
		case domain.ErrorTypeValidation:
			status = http.StatusBadRequest
		case domain.ErrorTypeConfiguration:
			status = http.StatusUnprocessableEntity
		}
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Msg("request failed")
	}
	h.writeError(w, status, message, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn().Err(err).Msg("failed to encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := map[string]string{
		"error":   message,
		"message": message,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	json.NewEncoder(w).Encode(resp)
}
