package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"
)

// JSONB type for GORM to handle PostgreSQL JSONB columns
type JSONB map[string]interface{}

// Value implements driver.Valuer for JSONB
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner for JSONB
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, j)
}

// SyncedImage is one mirrored attachment, keyed by (zoho_record_id, field_name).
// Rows are written once on first successful sync and never mutated afterwards.
type SyncedImage struct {
	ID               string         `gorm:"column:id;primaryKey" json:"id"`
	ZohoRecordID     string         `gorm:"column:zoho_record_id;index" json:"zoho_record_id"`
	FieldName        string         `gorm:"column:field_name" json:"field_name"`
	OriginalFilename string         `gorm:"column:original_filename" json:"original_filename"`
	StoragePath      string         `gorm:"column:storage_path" json:"storage_path"`
	FileSizeBytes    int            `gorm:"column:file_size_bytes" json:"file_size_bytes"`
	WasProcessed     bool           `gorm:"column:was_processed" json:"was_processed"`
	Tags             pq.StringArray `gorm:"column:tags;type:text[]" json:"tags"`
	Category         *string        `gorm:"column:category" json:"category"`
	Description      *string        `gorm:"column:description" json:"description"`

	// Flattened categorization fields pulled out of the raw record
	JobCaptainTimesheet *string `gorm:"column:job_captain_timesheet" json:"job_captain_timesheet"`
	ProjectName         *string `gorm:"column:project_name" json:"project_name"`
	Department          *string `gorm:"column:department" json:"department"`

	ZohoMetadata   JSONB      `gorm:"column:zoho_metadata;type:jsonb" json:"zoho_metadata"`
	ZohoCreatedAt  *time.Time `gorm:"column:zoho_created_at" json:"zoho_created_at"`
	ZohoModifiedAt *time.Time `gorm:"column:zoho_modified_at" json:"zoho_modified_at"`
	SyncedAt       time.Time  `gorm:"column:synced_at" json:"synced_at"`
}

// TableName specifies the table name for GORM
func (SyncedImage) TableName() string {
	return "synced_images"
}
