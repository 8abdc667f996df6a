// StarSync - GitHub Stars Mirroring and Sync Engine
// Copyright 2026 awillheartwu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/awillheartwu/starsync

package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/awillheartwu/starsync/internal/engine"
	"github.com/awillheartwu/starsync/internal/logging"
	"github.com/awillheartwu/starsync/internal/models"
	"github.com/awillheartwu/starsync/internal/queue"
	"github.com/awillheartwu/starsync/internal/store"
)

// maxBodyBytes bounds request bodies; trigger payloads are tiny.
const maxBodyBytes = 64 * 1024

// Handler holds the dependencies for all HTTP endpoints.
type Handler struct {
	store    *store.Store
	queue    *queue.Queue
	stateKey string
}

// NewHandler creates a handler. stateKey identifies the sync stream the
// status endpoints report on.
func NewHandler(st *store.Store, q *queue.Queue, stateKey string) *Handler {
	return &Handler{store: st, queue: q, stateKey: stateKey}
}

// Health reports liveness: the process is up and the database answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(); err != nil {
		respondError(w, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "database not reachable", err)
		return
	}
	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status:    "ok",
		Data:      map[string]string{"status": "healthy"},
		Timestamp: time.Now(),
	})
}

// triggerSyncRequest is the manual run trigger body. All fields optional.
type triggerSyncRequest struct {
	Mode                string `json:"mode"`
	PerPage             int    `json:"perPage"`
	MaxPages            int    `json:"maxPages"`
	SoftDeleteUnstarred *bool  `json:"softDeleteUnstarred"`
}

// TriggerSync submits a manual sync job. Returns 202 with the job id, or
// 409 when an equivalent job is already queued or running.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	var req triggerSyncRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", err)
		return
	}

	mode := models.RunMode(req.Mode)
	if req.Mode == "" {
		mode = models.RunModeIncremental
	}
	if !mode.Valid() {
		respondError(w, http.StatusBadRequest, "BAD_MODE", "mode must be \"full\" or \"incremental\"", nil)
		return
	}
	if req.PerPage < 0 || req.PerPage > 100 {
		respondError(w, http.StatusBadRequest, "BAD_PER_PAGE", "perPage must be between 1 and 100", nil)
		return
	}

	opts := models.RunOptions{
		Mode:                mode,
		PerPage:             req.PerPage,
		MaxPages:            req.MaxPages,
		SoftDeleteUnstarred: req.SoftDeleteUnstarred,
	}

	jobID, err := h.queue.EnqueueManualSync(r.Context(), opts)
	var conflict *queue.ConflictError
	if errors.As(err, &conflict) {
		respondJSON(w, http.StatusConflict, &models.APIResponse{
			Status: "conflict",
			Data: map[string]string{
				"jobId": conflict.JobID,
				"state": string(conflict.State),
			},
			Timestamp: time.Now(),
			Error:     &models.APIError{Code: "JOB_EXISTS", Message: conflict.Error()},
		})
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "ENQUEUE_FAILED", "failed to enqueue sync", err)
		return
	}

	respondJSON(w, http.StatusAccepted, &models.APIResponse{
		Status:    "accepted",
		Data:      map[string]string{"jobId": jobID},
		Timestamp: time.Now(),
	})
}

// SyncStatus reports the live sync state row plus the mirror size.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.store.GetSyncState(r.Context(), engine.Source, h.stateKey)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "NO_STATE", "no sync has run yet", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STATE_FAILED", "failed to load sync state", err)
		return
	}

	count, err := h.store.CountProjects(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "COUNT_FAILED", "failed to count projects", err)
		return
	}

	status := models.SyncStatus{
		Source:        st.Source,
		Key:           st.Key,
		Cursor:        st.Cursor,
		Etag:          st.Etag,
		LastRunAt:     st.LastRunAt,
		LastSuccessAt: st.LastSuccessAt,
		LastErrorAt:   st.LastErrorAt,
		LastError:     st.LastError,
		Projects:      count,
	}
	if st.StatsJSON != nil && *st.StatsJSON != "" {
		var stats models.RunStats
		if err := json.Unmarshal([]byte(*st.StatsJSON), &stats); err == nil {
			status.LastStats = &stats
		} else {
			logging.Debug().Err(err).Msg("Failed to decode stored run stats")
		}
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status:    "ok",
		Data:      status,
		Timestamp: time.Now(),
	})
}

// SyncHistory returns recent run outcomes, newest first.
func (h *Handler) SyncHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	rows, err := h.store.ListSyncStateHistory(r.Context(), engine.Source, h.stateKey, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "HISTORY_FAILED", "failed to load history", err)
		return
	}
	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status:    "ok",
		Data:      rows,
		Timestamp: time.Now(),
	})
}

// QueueCounts reports per-state job counts.
func (h *Handler) QueueCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.queue.Counts(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "COUNTS_FAILED", "failed to read queue counts", err)
		return
	}
	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status:    "ok",
		Data:      counts,
		Timestamp: time.Now(),
	})
}

// triggerMaintenanceRequest is the manual maintenance trigger body.
type triggerMaintenanceRequest struct {
	DryRun    bool `json:"dryRun"`
	BatchSize int  `json:"batchSize"`
}

// TriggerMaintenance submits a manual maintenance job.
func (h *Handler) TriggerMaintenance(w http.ResponseWriter, r *http.Request) {
	var req triggerMaintenanceRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", err)
		return
	}
	if req.BatchSize < 0 {
		respondError(w, http.StatusBadRequest, "BAD_BATCH_SIZE", "batchSize must be positive", nil)
		return
	}

	jobID, err := h.queue.EnqueueMaintenance(r.Context(), models.MaintenanceOptions{
		DryRun:    req.DryRun,
		BatchSize: req.BatchSize,
	}, false)
	var conflict *queue.ConflictError
	if errors.As(err, &conflict) {
		respondJSON(w, http.StatusConflict, &models.APIResponse{
			Status: "conflict",
			Data: map[string]string{
				"jobId": conflict.JobID,
				"state": string(conflict.State),
			},
			Timestamp: time.Now(),
			Error:     &models.APIError{Code: "JOB_EXISTS", Message: conflict.Error()},
		})
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "ENQUEUE_FAILED", "failed to enqueue maintenance", err)
		return
	}

	respondJSON(w, http.StatusAccepted, &models.APIResponse{
		Status:    "accepted",
		Data:      map[string]string{"jobId": jobID},
		Timestamp: time.Now(),
	})
}

// ArchivedProjects lists archive snapshots, newest first.
func (h *Handler) ArchivedProjects(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	rows, err := h.store.ListArchivedProjects(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "ARCHIVE_FAILED", "failed to list archive", err)
		return
	}
	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status:    "ok",
		Data:      rows,
		Timestamp: time.Now(),
	})
}

// decodeBody parses an optional JSON body. An empty body is valid.
func decodeBody(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// respondJSON sends a JSON response with proper headers
func respondJSON(w http.ResponseWriter, status int, response *models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	if err != nil {
		logging.Error().Str("code", code).Err(err).Msg("API error")
	}
	respondJSON(w, status, &models.APIResponse{
		Status:    "error",
		Data:      nil,
		Timestamp: time.Now(),
		Error:     &models.APIError{Code: code, Message: message},
	})
}
