// Package api exposes the sync control plane over HTTP: batch session
// lifecycle, one-shot runs and a status snapshot.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"zoho-image-sync/internal/batch"
	"zoho-image-sync/internal/models"
	"zoho-image-sync/internal/repository"
	"zoho-image-sync/internal/service"
)

// SessionStore is the slice of the session repository the handlers need.
type SessionStore interface {
	Create(ctx context.Context, session *models.BatchSyncSession) error
	GetByID(ctx context.Context, sessionID string) (*models.BatchSyncSession, error)
	Recent(ctx context.Context, limit int) ([]models.BatchSyncSession, error)
	SetStatus(ctx context.Context, sessionID, status string) error
	SetEstimatedTotal(ctx context.Context, sessionID string, total int) error
}

type RunStore interface {
	Start(ctx context.Context) (string, error)
	GetByID(ctx context.Context, runID string) (*models.SyncRun, error)
	Recent(ctx context.Context, limit int) ([]models.SyncRun, error)
}

type ImageStore interface {
	RecentlySynced(ctx context.Context, limit int) ([]models.SyncedImage, error)
	Count(ctx context.Context) (total int64, processed int64, err error)
}

// BatchRunner drives batch sessions in the background.
type BatchRunner interface {
	RunBatchSync(ctx context.Context, sessionID string) error
	EstimateTotalRecords(ctx context.Context, dateFrom *time.Time) (int, error)
}

// OneShotRunner drives non-batched full-report syncs.
type OneShotRunner interface {
	Run(ctx context.Context, runID string, maxRecords int) (service.Stats, error)
}

type Handler struct {
	sessions SessionStore
	runs     RunStore
	images   ImageStore
	batch    BatchRunner
	sync     OneShotRunner
	signals  *batch.SignalTable
	log      *slog.Logger

	// Guards against overlapping one-shot runs; batch sessions have their
	// own single-active invariant in the repository.
	syncInFlight atomic.Bool
}

func NewHandler(sessions SessionStore, runs RunStore, images ImageStore, batchRunner BatchRunner, syncRunner OneShotRunner, signals *batch.SignalTable, log *slog.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		runs:     runs,
		images:   images,
		batch:    batchRunner,
		sync:     syncRunner,
		signals:  signals,
		log:      log,
	}
}

// Batch sessions

type createBatchSessionRequest struct {
	BatchSize           int    `json:"batch_size"`
	DelayBetweenBatches int    `json:"delay_between_batches"`
	DateFrom            string `json:"date_from"`
	DateTo              string `json:"date_to"`
	DryRun              bool   `json:"dry_run"`
}

func (h *Handler) CreateBatchSession(w http.ResponseWriter, r *http.Request) {
	var req createBatchSessionRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.BatchSize < 0 || req.DelayBetweenBatches < 0 {
		http.Error(w, "batch_size and delay_between_batches must be non-negative", http.StatusBadRequest)
		return
	}

	dateFrom, err := parseDate(req.DateFrom)
	if err != nil {
		http.Error(w, "invalid date_from", http.StatusBadRequest)
		return
	}
	dateTo, err := parseDate(req.DateTo)
	if err != nil {
		http.Error(w, "invalid date_to", http.StatusBadRequest)
		return
	}

	session := &models.BatchSyncSession{
		BatchSize:           req.BatchSize,
		DelayBetweenBatches: req.DelayBetweenBatches,
		DateFrom:            dateFrom,
		DateTo:              dateTo,
		DryRun:              req.DryRun,
	}
	if err := h.sessions.Create(r.Context(), session); err != nil {
		if errors.Is(err, repository.ErrActiveSessionExists) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, session)
}

// StartBatchSession launches (or resumes) the session in the background and
// returns immediately.
func (h *Handler) StartBatchSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	session, err := h.sessions.GetByID(r.Context(), sessionID)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	if session.Status == models.BatchStatusRunning {
		http.Error(w, "session is already running", http.StatusConflict)
		return
	}
	if session.IsTerminal() {
		http.Error(w, fmt.Sprintf("session is %s and cannot be started", session.Status), http.StatusConflict)
		return
	}

	// The session outlives the request; detach from the request context.
	go func() {
		ctx := context.Background()
		if session.EstimatedTotalRecords == nil {
			if total, err := h.batch.EstimateTotalRecords(ctx, session.DateFrom); err != nil {
				h.log.Warn("failed to estimate total records", "session_id", sessionID, "error", err)
			} else if err := h.sessions.SetEstimatedTotal(ctx, sessionID, total); err != nil {
				h.log.Warn("failed to store estimated total", "session_id", sessionID, "error", err)
			}
		}
		if err := h.batch.RunBatchSync(ctx, sessionID); err != nil {
			h.log.Error("batch sync run ended with error", "session_id", sessionID, "error", err)
		}
	}()

	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]string{"session_id": sessionID, "status": models.BatchStatusRunning})
}

// PauseBatchSession requests a pause; the session parks at the next batch
// boundary, not immediately.
func (h *Handler) PauseBatchSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	session, err := h.sessions.GetByID(r.Context(), sessionID)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	if session.Status != models.BatchStatusRunning {
		http.Error(w, fmt.Sprintf("session is %s, only a running session can be paused", session.Status), http.StatusConflict)
		return
	}

	h.signals.RequestPause(sessionID)
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]string{"session_id": sessionID, "status": "pause_requested"})
}

// CancelBatchSession cancels the session. A running session stops at the next
// batch boundary; a pending or paused one is cancelled in place.
func (h *Handler) CancelBatchSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	session, err := h.sessions.GetByID(r.Context(), sessionID)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	if session.IsTerminal() {
		http.Error(w, fmt.Sprintf("session is already %s", session.Status), http.StatusConflict)
		return
	}

	if session.Status == models.BatchStatusRunning {
		h.signals.RequestCancel(sessionID)
		w.WriteHeader(http.StatusAccepted)
		writeJSON(w, map[string]string{"session_id": sessionID, "status": "cancel_requested"})
		return
	}

	// No loop is polling signals for a pending or paused session.
	if err := h.sessions.SetStatus(r.Context(), sessionID, models.BatchStatusCancelled); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"session_id": sessionID, "status": models.BatchStatusCancelled})
}

func (h *Handler) GetBatchSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, session)
}

func (h *Handler) ListBatchSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.Recent(r.Context(), 20)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, sessions)
}

// One-shot runs

type startSyncRequest struct {
	MaxRecords int `json:"max_records"`
}

func (h *Handler) StartSync(w http.ResponseWriter, r *http.Request) {
	req := startSyncRequest{}
	if r.ContentLength > 0 {
		if err := decodeJSONStrict(r, &req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
	}
	if req.MaxRecords < 0 {
		http.Error(w, "max_records must be non-negative", http.StatusBadRequest)
		return
	}

	if !h.syncInFlight.CompareAndSwap(false, true) {
		http.Error(w, "a sync run is already in progress", http.StatusConflict)
		return
	}

	runID, err := h.runs.Start(r.Context())
	if err != nil {
		h.syncInFlight.Store(false)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	go func() {
		defer h.syncInFlight.Store(false)
		if _, err := h.sync.Run(context.Background(), runID, req.MaxRecords); err != nil {
			h.log.Error("sync run ended with error", "run_id", runID, "error", err)
		}
	}()

	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]string{"run_id": runID, "status": models.RunStatusRunning})
}

func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, repository.ErrRunNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, run)
}

// Status reports a snapshot: image counts, the latest synced images and the
// most recent runs.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	total, processed, err := h.images.Count(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	recent, err := h.images.RecentlySynced(ctx, 10)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	runs, err := h.runs.Recent(ctx, 5)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"total_images":     total,
		"processed_images": processed,
		"recent_images":    recent,
		"recent_runs":      runs,
	})
}

func writeSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, repository.ErrSessionNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

var dateLayouts = []string{time.RFC3339, "2006-01-02"}

// parseDate accepts RFC3339 timestamps and bare dates; "" means unset.
func parseDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized date %q", value)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSONStrict(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
