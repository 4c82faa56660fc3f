package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zoho-image-sync/internal/models"
	"zoho-image-sync/internal/repository"
	"zoho-image-sync/internal/service"
	"zoho-image-sync/internal/zoho"
)

type fakeIterator struct {
	records []zoho.Record
	pos     int
	err     error
	failAt  int
}

func (it *fakeIterator) Next(ctx context.Context) (zoho.Record, bool, error) {
	if it.err != nil && it.pos == it.failAt {
		return nil, false, it.err
	}
	if it.pos >= len(it.records) {
		return nil, false, nil
	}
	rec := it.records[it.pos]
	it.pos++
	return rec, true, nil
}

type fakeSource struct {
	records []zoho.Record
	err     error
	failAt  int
}

func (s *fakeSource) FetchRecords(report string, modifiedSince *time.Time) zoho.Iterator {
	return &fakeIterator{records: s.records, err: s.err, failAt: s.failAt}
}

// fakeProcessor records which record ids it saw and can fail on demand or
// fire a hook per record, used to raise signals mid-run.
type fakeProcessor struct {
	processed []string
	failOn    map[string]bool
	onProcess func(recordID string)
}

func (p *fakeProcessor) ProcessRecord(ctx context.Context, record zoho.Record, dryRun bool, stats *service.Stats, errLog *[]models.ErrorEntry) error {
	id := record.ID()
	p.processed = append(p.processed, id)
	if p.onProcess != nil {
		p.onProcess(id)
	}
	if p.failOn[id] {
		return errors.New("processing blew up")
	}
	stats.ImagesSynced++
	return nil
}

// fakeLedger keeps the session in memory with the repository's capping
// semantics.
type fakeLedger struct {
	mu       sync.Mutex
	session  *models.BatchSyncSession
	statuses []string
}

func newFakeLedger(session *models.BatchSyncSession) *fakeLedger {
	return &fakeLedger{session: session}
}

func (l *fakeLedger) GetByID(ctx context.Context, sessionID string) (*models.BatchSyncSession, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if sessionID != l.session.ID {
		return nil, repository.ErrSessionNotFound
	}
	copied := *l.session
	return &copied, nil
}

func (l *fakeLedger) SetStatus(ctx context.Context, sessionID, status string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.session.Status = status
	l.statuses = append(l.statuses, status)
	return nil
}

func (l *fakeLedger) SetEstimatedTotal(ctx context.Context, sessionID string, total int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.session.EstimatedTotalRecords = &total
	return nil
}

func (l *fakeLedger) MarkBatchStarted(ctx context.Context, sessionID string, startedAt time.Time) error {
	return nil
}

func (l *fakeLedger) UpdateProgress(ctx context.Context, sessionID string, p repository.SessionProgress) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.session.CurrentOffset = p.CurrentOffset
	l.session.BatchesCompleted = p.BatchesCompleted
	l.session.RecordsProcessed = p.RecordsProcessed
	l.session.ImagesSynced = p.ImagesSynced
	l.session.ImagesSkipped = p.ImagesSkipped
	l.session.Errors = p.Errors
	l.session.LastBatchCompletedAt = &p.LastBatchCompletedAt
	return nil
}

func (l *fakeLedger) AppendErrors(ctx context.Context, sessionID string, entries []models.ErrorEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.session.ErrorLog = models.AppendCapped(l.session.ErrorLog, entries, models.MaxErrorLogEntries)
	return nil
}

func testRecords(n int) []zoho.Record {
	records := make([]zoho.Record, n)
	for i := range records {
		records[i] = zoho.Record{"ID": fmt.Sprintf("rec-%d", i)}
	}
	return records
}

func testSession(batchSize int) *models.BatchSyncSession {
	return &models.BatchSyncSession{
		ID:        "sess-1",
		Status:    models.BatchStatusPending,
		BatchSize: batchSize,
	}
}

func newTestController(source *fakeSource, processor *fakeProcessor, ledger *fakeLedger) *Controller {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewController(source, processor, ledger, NewSignalTable(), "All_Records", log)
}

func TestRunBatchSync_CompletesAllBatches(t *testing.T) {
	source := &fakeSource{records: testRecords(5)}
	processor := &fakeProcessor{}
	ledger := newFakeLedger(testSession(2))
	c := newTestController(source, processor, ledger)

	require.NoError(t, c.RunBatchSync(context.Background(), "sess-1"))

	assert.Equal(t, models.BatchStatusCompleted, ledger.session.Status)
	assert.Equal(t, 5, ledger.session.CurrentOffset)
	assert.Equal(t, 3, ledger.session.BatchesCompleted, "two full batches plus the trailing partial one")
	assert.Equal(t, 5, ledger.session.RecordsProcessed)
	assert.Equal(t, 5, ledger.session.ImagesSynced)
	assert.Len(t, processor.processed, 5)
}

func TestRunBatchSync_UnknownSession(t *testing.T) {
	c := newTestController(&fakeSource{}, &fakeProcessor{}, newFakeLedger(testSession(2)))

	err := c.RunBatchSync(context.Background(), "nope")
	assert.ErrorIs(t, err, repository.ErrSessionNotFound)
}

func TestRunBatchSync_PauseParksAtBatchBoundary(t *testing.T) {
	source := &fakeSource{records: testRecords(5)}
	ledger := newFakeLedger(testSession(2))
	processor := &fakeProcessor{}
	c := newTestController(source, processor, ledger)

	// Request the pause while the first batch is in flight; the second record
	// of the batch must still be processed before the session parks.
	processor.onProcess = func(recordID string) {
		if recordID == "rec-0" {
			c.signals.RequestPause("sess-1")
		}
	}

	require.NoError(t, c.RunBatchSync(context.Background(), "sess-1"))

	assert.Equal(t, models.BatchStatusPaused, ledger.session.Status)
	assert.Equal(t, 2, ledger.session.CurrentOffset)
	assert.Equal(t, 1, ledger.session.BatchesCompleted)
	assert.Len(t, processor.processed, 2)
}

func TestRunBatchSync_ResumeSkipsBelowOffset(t *testing.T) {
	source := &fakeSource{records: testRecords(5)}
	session := testSession(2)
	session.Status = models.BatchStatusPaused
	session.CurrentOffset = 2
	session.BatchesCompleted = 1
	session.RecordsProcessed = 2
	session.ImagesSynced = 2
	ledger := newFakeLedger(session)
	processor := &fakeProcessor{}
	c := newTestController(source, processor, ledger)

	require.NoError(t, c.RunBatchSync(context.Background(), "sess-1"))

	assert.Equal(t, models.BatchStatusCompleted, ledger.session.Status)
	assert.Equal(t, []string{"rec-2", "rec-3", "rec-4"}, processor.processed)
	assert.Equal(t, 5, ledger.session.CurrentOffset)
	assert.Equal(t, 5, ledger.session.RecordsProcessed)
	assert.Equal(t, 3, ledger.session.BatchesCompleted)
}

func TestRunBatchSync_CancelStopsAtBatchBoundary(t *testing.T) {
	source := &fakeSource{records: testRecords(6)}
	ledger := newFakeLedger(testSession(2))
	processor := &fakeProcessor{}
	c := newTestController(source, processor, ledger)

	processor.onProcess = func(recordID string) {
		if recordID == "rec-1" {
			c.signals.RequestCancel("sess-1")
		}
	}

	require.NoError(t, c.RunBatchSync(context.Background(), "sess-1"))

	assert.Equal(t, models.BatchStatusCancelled, ledger.session.Status)
	assert.Equal(t, 2, ledger.session.CurrentOffset)
	assert.Len(t, processor.processed, 2)
}

func TestRunBatchSync_RecordErrorsAreLoggedAndCounted(t *testing.T) {
	source := &fakeSource{records: testRecords(3)}
	ledger := newFakeLedger(testSession(2))
	processor := &fakeProcessor{failOn: map[string]bool{"rec-1": true}}
	c := newTestController(source, processor, ledger)

	require.NoError(t, c.RunBatchSync(context.Background(), "sess-1"))

	assert.Equal(t, models.BatchStatusCompletedWithErrors, ledger.session.Status)
	assert.Equal(t, 1, ledger.session.Errors)
	assert.Equal(t, 3, ledger.session.RecordsProcessed)
	require.Len(t, ledger.session.ErrorLog, 1)
	assert.Equal(t, "rec-1", ledger.session.ErrorLog[0].RecordID)
	assert.Empty(t, ledger.session.ErrorLog[0].FatalError)
}

func TestRunBatchSync_SourceFailureMarksSessionFailed(t *testing.T) {
	boom := errors.New("zoho is down")
	source := &fakeSource{records: testRecords(4), err: boom, failAt: 3}
	ledger := newFakeLedger(testSession(2))
	c := newTestController(source, &fakeProcessor{}, ledger)

	err := c.RunBatchSync(context.Background(), "sess-1")
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, models.BatchStatusFailed, ledger.session.Status)
	require.NotEmpty(t, ledger.session.ErrorLog)
	last := ledger.session.ErrorLog[len(ledger.session.ErrorLog)-1]
	assert.Contains(t, last.FatalError, "zoho is down")
	// The batch persisted before the failure keeps its cursor.
	assert.Equal(t, 2, ledger.session.CurrentOffset)
}

func TestRunBatchSync_DateToFilterStillAdvancesCursor(t *testing.T) {
	records := testRecords(3)
	records[0]["Modified_Time"] = "05-Jan-2024 10:00:00"
	records[1]["Modified_Time"] = "05-Jan-2025 10:00:00" // past date_to
	records[2]["Modified_Time"] = "06-Jan-2024 10:00:00"

	dateTo := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	session := testSession(2)
	session.DateTo = &dateTo
	ledger := newFakeLedger(session)
	processor := &fakeProcessor{}
	c := newTestController(&fakeSource{records: records}, processor, ledger)

	require.NoError(t, c.RunBatchSync(context.Background(), "sess-1"))

	assert.Equal(t, []string{"rec-0", "rec-2"}, processor.processed)
	assert.Equal(t, 3, ledger.session.CurrentOffset, "filtered records still count toward the cursor")
	assert.Equal(t, 2, ledger.session.RecordsProcessed)
}

func TestRunBatchSync_ClearsStaleSignals(t *testing.T) {
	source := &fakeSource{records: testRecords(2)}
	ledger := newFakeLedger(testSession(2))
	c := newTestController(source, &fakeProcessor{}, ledger)

	// A leftover cancel from a previous run must not kill the new one.
	c.signals.RequestCancel("sess-1")

	require.NoError(t, c.RunBatchSync(context.Background(), "sess-1"))
	assert.Equal(t, models.BatchStatusCompleted, ledger.session.Status)
}

func TestEstimateTotalRecords(t *testing.T) {
	c := newTestController(&fakeSource{records: testRecords(7)}, &fakeProcessor{}, newFakeLedger(testSession(2)))

	total, err := c.EstimateTotalRecords(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 7, total)
}

func TestSignalTable(t *testing.T) {
	table := NewSignalTable()

	table.RequestPause("a")
	table.RequestCancel("b")

	assert.True(t, table.PauseRequested("a"))
	assert.False(t, table.PauseRequested("b"))
	assert.True(t, table.CancelRequested("b"))

	table.Clear("a")
	table.Clear("b")
	assert.False(t, table.PauseRequested("a"))
	assert.False(t, table.CancelRequested("b"))
}
