// Package batch drives resumable, rate-limited batch sync sessions over a
// Zoho Creator report, persisting a resume cursor after every batch.
package batch

import (
	"context"
	"log/slog"
	"time"

	"zoho-image-sync/internal/models"
	"zoho-image-sync/internal/ratelimit"
	"zoho-image-sync/internal/repository"
	"zoho-image-sync/internal/service"
	"zoho-image-sync/internal/zoho"
)

const (
	defaultBatchSize = 100

	// estimateCap bounds how far EstimateTotalRecords scans the report.
	estimateCap = 10000
)

// SessionLedger persists batch session state between batches.
type SessionLedger interface {
	GetByID(ctx context.Context, sessionID string) (*models.BatchSyncSession, error)
	SetStatus(ctx context.Context, sessionID, status string) error
	SetEstimatedTotal(ctx context.Context, sessionID string, total int) error
	MarkBatchStarted(ctx context.Context, sessionID string, startedAt time.Time) error
	UpdateProgress(ctx context.Context, sessionID string, p repository.SessionProgress) error
	AppendErrors(ctx context.Context, sessionID string, entries []models.ErrorEntry) error
}

// RecordProcessor syncs one record's attachments into stats and errLog.
type RecordProcessor interface {
	ProcessRecord(ctx context.Context, record zoho.Record, dryRun bool, stats *service.Stats, errLog *[]models.ErrorEntry) error
}

// Controller runs one batch sync session at a time: records are pulled in
// configured batch sizes, progress is persisted after each batch, and pause
// and cancel signals are honored only at batch boundaries so the persisted
// cursor always lands on a boundary.
type Controller struct {
	// Clock paces the inter-batch delay; swapped out in tests.
	Clock ratelimit.Clock

	source    service.RecordSource
	processor RecordProcessor
	sessions  SessionLedger
	signals   *SignalTable
	report    string
	log       *slog.Logger
}

func NewController(source service.RecordSource, processor RecordProcessor, sessions SessionLedger, signals *SignalTable, report string, log *slog.Logger) *Controller {
	return &Controller{
		Clock:     ratelimit.RealClock{},
		source:    source,
		processor: processor,
		sessions:  sessions,
		signals:   signals,
		report:    report,
		log:       log,
	}
}

// RunBatchSync drives the session until it completes, fails, or parks on a
// pause or cancel request. A paused session resumes by calling RunBatchSync
// again: the scan restarts from record zero and skips everything below the
// persisted offset, which assumes the report returns records in a stable
// order between scans. If upstream ordering shifts, a resume can skip or
// re-examine records; re-examined ones are caught by the dedup check.
func (c *Controller) RunBatchSync(ctx context.Context, sessionID string) error {
	c.signals.Clear(sessionID)
	defer c.signals.Clear(sessionID)

	session, err := c.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}

	batchSize := session.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	delay := time.Duration(session.DelayBetweenBatches) * time.Second

	if err := c.sessions.SetStatus(ctx, sessionID, models.BatchStatusRunning); err != nil {
		return err
	}

	// Counters continue from the persisted session state on resume.
	stats := service.Stats{
		RecordsProcessed: session.RecordsProcessed,
		ImagesSynced:     session.ImagesSynced,
		ImagesSkipped:    session.ImagesSkipped,
		Errors:           session.Errors,
	}
	batchesCompleted := session.BatchesCompleted
	var errLog []models.ErrorEntry

	c.log.Info("starting batch sync",
		"session_id", sessionID,
		"batch_size", batchSize,
		"delay", delay,
		"offset", session.CurrentOffset,
		"dry_run", session.DryRun)

	fatal := func(ferr error) error {
		c.log.Error("batch sync failed", "session_id", sessionID, "error", ferr)
		errLog = append(errLog, models.ErrorEntry{
			FatalError: ferr.Error(),
			Timestamp:  time.Now().UTC(),
		})
		if aerr := c.sessions.AppendErrors(ctx, sessionID, errLog); aerr != nil {
			c.log.Error("failed to persist error log", "session_id", sessionID, "error", aerr)
		}
		if serr := c.sessions.SetStatus(ctx, sessionID, models.BatchStatusFailed); serr != nil {
			c.log.Error("failed to mark session failed", "session_id", sessionID, "error", serr)
		}
		return ferr
	}

	persist := func(recordIndex int) error {
		if err := c.sessions.UpdateProgress(ctx, sessionID, repository.SessionProgress{
			CurrentOffset:        recordIndex,
			BatchesCompleted:     batchesCompleted,
			RecordsProcessed:     stats.RecordsProcessed,
			ImagesSynced:         stats.ImagesSynced,
			ImagesSkipped:        stats.ImagesSkipped,
			Errors:               stats.Errors,
			LastBatchCompletedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		if len(errLog) > 0 {
			if err := c.sessions.AppendErrors(ctx, sessionID, errLog); err != nil {
				return err
			}
			errLog = errLog[:0]
		}
		return nil
	}

	batch := make([]zoho.Record, 0, batchSize)
	recordIndex := 0
	it := c.source.FetchRecords(c.report, session.DateFrom)

	for {
		record, ok, err := it.Next(ctx)
		if err != nil {
			return fatal(err)
		}
		if !ok {
			break
		}

		// Resume: records below the stored offset were already considered.
		if recordIndex < session.CurrentOffset {
			recordIndex++
			continue
		}

		// Records past date_to are filtered out but still advance the
		// cursor, so the offset stays a count of records seen.
		if session.DateTo != nil {
			if modified, ok := zoho.ParseTime(record.StringField("Modified_Time")); ok && modified.After(*session.DateTo) {
				recordIndex++
				continue
			}
		}

		batch = append(batch, record)
		recordIndex++

		if len(batch) < batchSize {
			continue
		}

		c.processBatch(ctx, sessionID, batch, session.DryRun, &stats, &errLog)
		batch = batch[:0]
		batchesCompleted++

		if err := persist(recordIndex); err != nil {
			return fatal(err)
		}

		// Signals are polled only here, after the batch has been persisted,
		// so interrupting never strands a half-recorded batch.
		if c.signals.CancelRequested(sessionID) {
			c.log.Info("batch sync cancelled", "session_id", sessionID, "offset", recordIndex)
			return c.sessions.SetStatus(ctx, sessionID, models.BatchStatusCancelled)
		}
		if c.signals.PauseRequested(sessionID) {
			c.log.Info("batch sync paused", "session_id", sessionID, "offset", recordIndex)
			return c.sessions.SetStatus(ctx, sessionID, models.BatchStatusPaused)
		}

		if delay > 0 {
			if err := c.Clock.Sleep(ctx, delay); err != nil {
				return fatal(err)
			}
		}
	}

	if len(batch) > 0 {
		c.processBatch(ctx, sessionID, batch, session.DryRun, &stats, &errLog)
		batchesCompleted++
		if err := persist(recordIndex); err != nil {
			return fatal(err)
		}
	}

	status := models.BatchStatusCompleted
	if stats.Errors > 0 {
		status = models.BatchStatusCompletedWithErrors
	}
	if err := c.sessions.SetStatus(ctx, sessionID, status); err != nil {
		return fatal(err)
	}

	c.log.Info("batch sync finished",
		"session_id", sessionID,
		"status", status,
		"batches_completed", batchesCompleted,
		"records_processed", stats.RecordsProcessed,
		"images_synced", stats.ImagesSynced,
		"images_skipped", stats.ImagesSkipped,
		"errors", stats.Errors)
	return nil
}

func (c *Controller) processBatch(ctx context.Context, sessionID string, records []zoho.Record, dryRun bool, stats *service.Stats, errLog *[]models.ErrorEntry) {
	if err := c.sessions.MarkBatchStarted(ctx, sessionID, time.Now().UTC()); err != nil {
		c.log.Warn("failed to mark batch started", "session_id", sessionID, "error", err)
	}

	for _, record := range records {
		stats.RecordsProcessed++
		if err := c.processor.ProcessRecord(ctx, record, dryRun, stats, errLog); err != nil {
			stats.Errors++
			*errLog = append(*errLog, models.ErrorEntry{
				RecordID:  record.ID(),
				Error:     err.Error(),
				Timestamp: time.Now().UTC(),
			})
			c.log.Error("error processing record", "record_id", record.ID(), "error", err)
		}
	}
}

// EstimateTotalRecords counts records matching the session's date_from filter,
// stopping at estimateCap to bound the scan. Used for progress reporting only.
func (c *Controller) EstimateTotalRecords(ctx context.Context, dateFrom *time.Time) (int, error) {
	count := 0
	it := c.source.FetchRecords(c.report, dateFrom)
	for count < estimateCap {
		if _, ok, err := it.Next(ctx); err != nil {
			return 0, err
		} else if !ok {
			break
		}
		count++
	}
	return count, nil
}
