package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"zoho-image-sync/internal/models"
)

var (
	ErrSessionNotFound     = errors.New("batch sync session not found")
	ErrActiveSessionExists = errors.New("another batch sync session is already active")
)

type BatchSessionRepository struct {
	db *gorm.DB
}

func NewBatchSessionRepository(db *gorm.DB) *BatchSessionRepository {
	return &BatchSessionRepository{db: db}
}

// SessionProgress carries the fields persisted after every completed batch.
type SessionProgress struct {
	CurrentOffset        int
	BatchesCompleted     int
	RecordsProcessed     int
	ImagesSynced         int
	ImagesSkipped        int
	Errors               int
	LastBatchCompletedAt time.Time
}

// Create inserts a new session in "pending" state. Fails with
// ErrActiveSessionExists if any session is still pending, running or paused.
func (r *BatchSessionRepository) Create(ctx context.Context, session *models.BatchSyncSession) error {
	active, err := r.Active(ctx)
	if err != nil {
		return err
	}
	if active != nil {
		return ErrActiveSessionExists
	}

	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	session.Status = models.BatchStatusPending
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now

	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("failed to create batch session: %w", err)
	}
	return nil
}

// GetByID retrieves a session by id
func (r *BatchSessionRepository) GetByID(ctx context.Context, sessionID string) (*models.BatchSyncSession, error) {
	var session models.BatchSyncSession
	result := r.db.WithContext(ctx).First(&session, "id = ?", sessionID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get batch session: %w", result.Error)
	}
	return &session, nil
}

// Active returns the most recent session in {pending, running, paused}, or nil
// when none exists. By invariant at most one should ever match.
func (r *BatchSessionRepository) Active(ctx context.Context) (*models.BatchSyncSession, error) {
	var session models.BatchSyncSession
	result := r.db.WithContext(ctx).
		Where("status IN ?", models.ActiveBatchStatuses).
		Order("created_at DESC").
		First(&session)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query active session: %w", result.Error)
	}
	return &session, nil
}

// Recent retrieves the most recent sessions, newest first
func (r *BatchSessionRepository) Recent(ctx context.Context, limit int) ([]models.BatchSyncSession, error) {
	var sessions []models.BatchSyncSession
	result := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&sessions)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query batch sessions: %w", result.Error)
	}
	return sessions, nil
}

// SetStatus updates the session status
func (r *BatchSessionRepository) SetStatus(ctx context.Context, sessionID, status string) error {
	result := r.db.WithContext(ctx).Model(&models.BatchSyncSession{}).
		Where("id = ?", sessionID).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to set session status: %w", result.Error)
	}
	return nil
}

// SetEstimatedTotal records the estimated record count for progress reporting
func (r *BatchSessionRepository) SetEstimatedTotal(ctx context.Context, sessionID string, total int) error {
	result := r.db.WithContext(ctx).Model(&models.BatchSyncSession{}).
		Where("id = ?", sessionID).
		Updates(map[string]interface{}{
			"estimated_total_records": total,
			"updated_at":              time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to set estimated total: %w", result.Error)
	}
	return nil
}

// MarkBatchStarted stamps the start of the batch currently in flight
func (r *BatchSessionRepository) MarkBatchStarted(ctx context.Context, sessionID string, startedAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.BatchSyncSession{}).
		Where("id = ?", sessionID).
		Updates(map[string]interface{}{
			"current_batch_started_at": startedAt,
			"updated_at":               time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark batch started: %w", result.Error)
	}
	return nil
}

// UpdateProgress persists the resume cursor and counters after a batch
func (r *BatchSessionRepository) UpdateProgress(ctx context.Context, sessionID string, p SessionProgress) error {
	result := r.db.WithContext(ctx).Model(&models.BatchSyncSession{}).
		Where("id = ?", sessionID).
		Updates(map[string]interface{}{
			"current_offset":          p.CurrentOffset,
			"batches_completed":       p.BatchesCompleted,
			"records_processed":       p.RecordsProcessed,
			"images_synced":           p.ImagesSynced,
			"images_skipped":          p.ImagesSkipped,
			"errors":                  p.Errors,
			"last_batch_completed_at": p.LastBatchCompletedAt,
			"updated_at":              time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update session progress: %w", result.Error)
	}
	return nil
}

// AppendErrors appends entries to the session's error log, keeping only the
// most recent MaxErrorLogEntries (oldest dropped first).
func (r *BatchSessionRepository) AppendErrors(ctx context.Context, sessionID string, entries []models.ErrorEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.BatchSyncSession
		if err := tx.First(&session, "id = ?", sessionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			return fmt.Errorf("failed to load session error log: %w", err)
		}

		log := models.AppendCapped(session.ErrorLog, entries, models.MaxErrorLogEntries)
		result := tx.Model(&models.BatchSyncSession{}).
			Where("id = ?", sessionID).
			Updates(map[string]interface{}{
				"error_log":  log,
				"updated_at": time.Now().UTC(),
			})
		if result.Error != nil {
			return fmt.Errorf("failed to append session errors: %w", result.Error)
		}
		return nil
	})
}
