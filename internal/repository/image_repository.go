package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"zoho-image-sync/internal/models"
)

type ImageRepository struct {
	db *gorm.DB
}

func NewImageRepository(db *gorm.DB) *ImageRepository {
	return &ImageRepository{db: db}
}

// Exists reports whether an image with this (record id, field name) pair has
// already been synced.
func (r *ImageRepository) Exists(ctx context.Context, zohoRecordID, fieldName string) (bool, error) {
	var count int64
	result := r.db.WithContext(ctx).Model(&models.SyncedImage{}).
		Where("zoho_record_id = ? AND field_name = ?", zohoRecordID, fieldName).
		Count(&count)
	if result.Error != nil {
		return false, fmt.Errorf("failed to check image existence: %w", result.Error)
	}
	return count > 0, nil
}

// Upsert inserts the image row; on conflict with an existing
// (zoho_record_id, field_name) pair the write is a no-op, so re-syncs never
// duplicate or overwrite.
func (r *ImageRepository) Upsert(ctx context.Context, image *models.SyncedImage) error {
	if image.ID == "" {
		image.ID = uuid.New().String()
	}
	if image.SyncedAt.IsZero() {
		image.SyncedAt = time.Now().UTC()
	}

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "zoho_record_id"}, {Name: "field_name"}},
		DoNothing: true,
	}).Create(image)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert image: %w", result.Error)
	}
	return nil
}

// RecentlySynced retrieves the most recently synced images
func (r *ImageRepository) RecentlySynced(ctx context.Context, limit int) ([]models.SyncedImage, error) {
	var images []models.SyncedImage
	result := r.db.WithContext(ctx).
		Order("synced_at DESC").
		Limit(limit).
		Find(&images)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query images: %w", result.Error)
	}
	return images, nil
}

// Count returns total and processed image counts.
func (r *ImageRepository) Count(ctx context.Context) (total int64, processed int64, err error) {
	if err = r.db.WithContext(ctx).Model(&models.SyncedImage{}).Count(&total).Error; err != nil {
		return 0, 0, fmt.Errorf("failed to count images: %w", err)
	}
	if err = r.db.WithContext(ctx).Model(&models.SyncedImage{}).
		Where("was_processed = ?", true).Count(&processed).Error; err != nil {
		return 0, 0, fmt.Errorf("failed to count processed images: %w", err)
	}
	return total, processed, nil
}
