package models

import "time"

// Batch sync session status constants
const (
	BatchStatusPending             = "pending"
	BatchStatusRunning             = "running"
	BatchStatusPaused              = "paused"
	BatchStatusCancelled           = "cancelled"
	BatchStatusCompleted           = "completed"
	BatchStatusCompletedWithErrors = "completed_with_errors"
	BatchStatusFailed              = "failed"
)

// ActiveBatchStatuses are the states in which a session still owns the sync;
// at most one session may be in any of them at a time.
var ActiveBatchStatuses = []string{BatchStatusPending, BatchStatusRunning, BatchStatusPaused}

// MaxErrorLogEntries caps a session's persisted error log; oldest entries are
// dropped first once the cap is exceeded.
const MaxErrorLogEntries = 1000

// BatchSyncSession is the resumable state of a batch sync: configuration,
// cursor, cumulative counters and a bounded error log.
type BatchSyncSession struct {
	ID     string `gorm:"column:id;primaryKey" json:"id"`
	Status string `gorm:"column:status;index" json:"status"`

	// Configuration
	BatchSize           int        `gorm:"column:batch_size" json:"batch_size"`
	DelayBetweenBatches int        `gorm:"column:delay_between_batches" json:"delay_between_batches"` // seconds
	DateFrom            *time.Time `gorm:"column:date_from" json:"date_from"`
	DateTo              *time.Time `gorm:"column:date_to" json:"date_to"`
	DryRun              bool       `gorm:"column:dry_run" json:"dry_run"`

	// Resume cursor: number of source records already considered, including
	// skipped and filtered ones.
	CurrentOffset         int  `gorm:"column:current_offset" json:"current_offset"`
	EstimatedTotalRecords *int `gorm:"column:estimated_total_records" json:"estimated_total_records"`

	// Cumulative counters
	BatchesCompleted int `gorm:"column:batches_completed" json:"batches_completed"`
	RecordsProcessed int `gorm:"column:records_processed" json:"records_processed"`
	ImagesSynced     int `gorm:"column:images_synced" json:"images_synced"`
	ImagesSkipped    int `gorm:"column:images_skipped" json:"images_skipped"`
	Errors           int `gorm:"column:errors" json:"errors"`

	ErrorLog ErrorLog `gorm:"column:error_log;type:jsonb" json:"error_log"`

	CurrentBatchStartedAt *time.Time `gorm:"column:current_batch_started_at" json:"current_batch_started_at"`
	LastBatchCompletedAt  *time.Time `gorm:"column:last_batch_completed_at" json:"last_batch_completed_at"`
	CreatedAt             time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt             time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

// TableName specifies the table name for GORM
func (BatchSyncSession) TableName() string {
	return "batch_sync_sessions"
}

// IsTerminal reports whether the session can no longer be started or resumed.
func (s *BatchSyncSession) IsTerminal() bool {
	switch s.Status {
	case BatchStatusCancelled, BatchStatusCompleted, BatchStatusCompletedWithErrors, BatchStatusFailed:
		return true
	}
	return false
}

// AppendCapped appends entries to a log and trims it to the most recent max
// entries, dropping the oldest first.
func AppendCapped(log ErrorLog, entries []ErrorEntry, max int) ErrorLog {
	log = append(log, entries...)
	if len(log) > max {
		log = log[len(log)-max:]
	}
	return log
}
