package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Sync run status constants
const (
	RunStatusRunning             = "running"
	RunStatusCompleted           = "completed"
	RunStatusCompletedWithErrors = "completed_with_errors"
	RunStatusFailed              = "failed"
)

// ErrorEntry is one entry in a run's or session's error log.
// Attachment-level entries carry RecordID/Field, fatal entries carry FatalError.
type ErrorEntry struct {
	RecordID   string    `json:"record_id,omitempty"`
	Field      string    `json:"field,omitempty"`
	Error      string    `json:"error,omitempty"`
	FatalError string    `json:"fatal_error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ErrorLog is a JSONB-backed ordered list of error entries.
type ErrorLog []ErrorEntry

// Value implements driver.Valuer for ErrorLog
func (l ErrorLog) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner for ErrorLog
func (l *ErrorLog) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, l)
}

// SyncRun tracks a single one-shot (non-batched) sync invocation.
type SyncRun struct {
	ID               string     `gorm:"column:id;primaryKey" json:"id"`
	Status           string     `gorm:"column:status;index" json:"status"`
	RecordsProcessed int        `gorm:"column:records_processed" json:"records_processed"`
	ImagesSynced     int        `gorm:"column:images_synced" json:"images_synced"`
	ImagesSkipped    int        `gorm:"column:images_skipped" json:"images_skipped"`
	Errors           int        `gorm:"column:errors" json:"errors"`
	ErrorLog         ErrorLog   `gorm:"column:error_log;type:jsonb" json:"error_log"`
	StartedAt        time.Time  `gorm:"column:started_at" json:"started_at"`
	CompletedAt      *time.Time `gorm:"column:completed_at" json:"completed_at"`
}

// TableName specifies the table name for GORM
func (SyncRun) TableName() string {
	return "sync_runs"
}
