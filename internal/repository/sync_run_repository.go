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

var ErrRunNotFound = errors.New("sync run not found")

type SyncRunRepository struct {
	db *gorm.DB
}

func NewSyncRunRepository(db *gorm.DB) *SyncRunRepository {
	return &SyncRunRepository{db: db}
}

// Start creates a new run in "running" state and returns its id
func (r *SyncRunRepository) Start(ctx context.Context) (string, error) {
	run := models.SyncRun{
		ID:        uuid.New().String(),
		Status:    models.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&run).Error; err != nil {
		return "", fmt.Errorf("failed to create sync run: %w", err)
	}
	return run.ID, nil
}

// GetByID retrieves a run by id
func (r *SyncRunRepository) GetByID(ctx context.Context, runID string) (*models.SyncRun, error) {
	var run models.SyncRun
	result := r.db.WithContext(ctx).First(&run, "id = ?", runID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get sync run: %w", result.Error)
	}
	return &run, nil
}

// UpdateProgress updates the run's counters
func (r *SyncRunRepository) UpdateProgress(ctx context.Context, runID string, recordsProcessed, imagesSynced, imagesSkipped, errorCount int) error {
	result := r.db.WithContext(ctx).Model(&models.SyncRun{}).
		Where("id = ?", runID).
		Updates(map[string]interface{}{
			"records_processed": recordsProcessed,
			"images_synced":     imagesSynced,
			"images_skipped":    imagesSkipped,
			"errors":            errorCount,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update sync run: %w", result.Error)
	}
	return nil
}

// Complete finalizes the run with a terminal status and optional error log
func (r *SyncRunRepository) Complete(ctx context.Context, runID, status string, errorLog models.ErrorLog) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":       status,
		"completed_at": &now,
	}
	if len(errorLog) > 0 {
		updates["error_log"] = errorLog
	}
	result := r.db.WithContext(ctx).Model(&models.SyncRun{}).
		Where("id = ?", runID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to complete sync run: %w", result.Error)
	}
	return nil
}

// Recent retrieves the most recent runs, newest first
func (r *SyncRunRepository) Recent(ctx context.Context, limit int) ([]models.SyncRun, error) {
	var runs []models.SyncRun
	result := r.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", result.Error)
	}
	return runs, nil
}
