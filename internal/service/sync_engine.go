package service

import (
	"context"
	"log/slog"
	"time"

	"zoho-image-sync/internal/models"
	"zoho-image-sync/internal/zoho"
)

// RecordSource streams records from a Zoho Creator report.
type RecordSource interface {
	FetchRecords(report string, modifiedSince *time.Time) zoho.Iterator
}

// RunLedger is the durable record of one-shot sync invocations.
type RunLedger interface {
	UpdateProgress(ctx context.Context, runID string, recordsProcessed, imagesSynced, imagesSkipped, errorCount int) error
	Complete(ctx context.Context, runID, status string, errorLog models.ErrorLog) error
}

// progressFlushEvery is how many records pass between progress writes.
const progressFlushEvery = 50

// SyncEngine drives a one-shot, non-resumable sync over the whole report.
type SyncEngine struct {
	source    RecordSource
	processor *RecordProcessor
	runs      RunLedger
	report    string
	log       *slog.Logger
}

func NewSyncEngine(source RecordSource, processor *RecordProcessor, runs RunLedger, report string, log *slog.Logger) *SyncEngine {
	return &SyncEngine{
		source:    source,
		processor: processor,
		runs:      runs,
		report:    report,
		log:       log,
	}
}

// Run scans the report and syncs every new attachment, stopping after
// maxRecords when it is positive. A record-level failure is logged and
// counted; only a source failure aborts the run, marking it failed.
func (e *SyncEngine) Run(ctx context.Context, runID string, maxRecords int) (Stats, error) {
	var stats Stats
	var errLog []models.ErrorEntry

	e.log.Info("starting sync run", "run_id", runID, "max_records", maxRecords)

	fail := func(ferr error) (Stats, error) {
		e.log.Error("sync run failed", "run_id", runID, "error", ferr)
		errLog = append(errLog, models.ErrorEntry{
			FatalError: ferr.Error(),
			Timestamp:  time.Now().UTC(),
		})
		if cerr := e.runs.Complete(ctx, runID, models.RunStatusFailed, errLog); cerr != nil {
			e.log.Error("failed to finalize failed run", "run_id", runID, "error", cerr)
		}
		return stats, ferr
	}

	it := e.source.FetchRecords(e.report, nil)
	for {
		record, ok, err := it.Next(ctx)
		if err != nil {
			return fail(err)
		}
		if !ok {
			break
		}
		if maxRecords > 0 && stats.RecordsProcessed >= maxRecords {
			break
		}

		stats.RecordsProcessed++
		if err := e.processor.ProcessRecord(ctx, record, false, &stats, &errLog); err != nil {
			stats.Errors++
			errLog = append(errLog, models.ErrorEntry{
				RecordID:  record.ID(),
				Error:     err.Error(),
				Timestamp: time.Now().UTC(),
			})
			e.log.Error("error processing record", "record_id", record.ID(), "error", err)
		}

		if stats.RecordsProcessed%progressFlushEvery == 0 {
			if err := e.runs.UpdateProgress(ctx, runID, stats.RecordsProcessed, stats.ImagesSynced, stats.ImagesSkipped, stats.Errors); err != nil {
				e.log.Warn("failed to flush run progress", "run_id", runID, "error", err)
			}
		}
	}

	status := models.RunStatusCompleted
	if stats.Errors > 0 {
		status = models.RunStatusCompletedWithErrors
	}
	if err := e.runs.UpdateProgress(ctx, runID, stats.RecordsProcessed, stats.ImagesSynced, stats.ImagesSkipped, stats.Errors); err != nil {
		e.log.Warn("failed to flush run progress", "run_id", runID, "error", err)
	}
	if err := e.runs.Complete(ctx, runID, status, errLog); err != nil {
		return fail(err)
	}

	e.log.Info("sync run finished",
		"run_id", runID,
		"status", status,
		"records_processed", stats.RecordsProcessed,
		"images_synced", stats.ImagesSynced,
		"images_skipped", stats.ImagesSkipped,
		"errors", stats.Errors)
	return stats, nil
}
