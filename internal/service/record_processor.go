package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"zoho-image-sync/internal/images"
	"zoho-image-sync/internal/models"
	"zoho-image-sync/internal/storage"
	"zoho-image-sync/internal/zoho"
)

// Stats accumulates the counters shared by one-shot runs and batch sessions.
type Stats struct {
	RecordsProcessed int
	ImagesSynced     int
	ImagesSkipped    int
	Errors           int
}

// ImageLedger is the metadata store consulted for dedup before download and
// written after each successful upload.
type ImageLedger interface {
	Exists(ctx context.Context, zohoRecordID, fieldName string) (bool, error)
	Upsert(ctx context.Context, image *models.SyncedImage) error
}

// AttachmentDownloader resolves an attachment URL to its raw bytes.
type AttachmentDownloader interface {
	DownloadAttachment(ctx context.Context, url string) ([]byte, error)
}

// FieldMapping names the record fields that feed the derived metadata columns.
type FieldMapping struct {
	TagFields        []string
	CategoryField    string
	DescriptionField string
	JobCaptainField  string
	ProjectField     string
	DepartmentField  string
}

// RecordProcessor syncs the attachments of one record: dedup check, download,
// normalization, upload and metadata write.
type RecordProcessor struct {
	ledger     ImageLedger
	downloader AttachmentDownloader
	store      storage.ObjectStore
	normalizer *images.Normalizer
	fields     FieldMapping
	log        *slog.Logger
}

func NewRecordProcessor(
	ledger ImageLedger,
	downloader AttachmentDownloader,
	store storage.ObjectStore,
	normalizer *images.Normalizer,
	fields FieldMapping,
	log *slog.Logger,
) *RecordProcessor {
	return &RecordProcessor{
		ledger:     ledger,
		downloader: downloader,
		store:      store,
		normalizer: normalizer,
		fields:     fields,
		log:        log,
	}
}

// recordMeta is the metadata derived once per record and shared by all of its
// attachments.
type recordMeta struct {
	tags        []string
	category    *string
	description *string
	jobCaptain  *string
	project     *string
	department  *string
	createdAt   *time.Time
	modifiedAt  *time.Time
}

// ProcessRecord syncs every not-yet-synced attachment on the record. A failed
// attachment is counted in stats, appended to errLog and does not stop its
// siblings. In dry-run mode images that would be synced are counted without
// downloading, uploading or writing anything. The returned error is reserved
// for record-level failures (metadata store unreachable).
func (p *RecordProcessor) ProcessRecord(ctx context.Context, record zoho.Record, dryRun bool, stats *Stats, errLog *[]models.ErrorEntry) error {
	recordID := record.ID()
	meta := p.deriveMeta(record)

	for _, att := range zoho.ExtractAttachments(record) {
		exists, err := p.ledger.Exists(ctx, recordID, att.FieldName)
		if err != nil {
			return fmt.Errorf("failed to check for existing image: %w", err)
		}
		if exists {
			stats.ImagesSkipped++
			continue
		}

		if dryRun {
			p.log.Info("dry run: would sync image",
				"record_id", recordID, "field", att.FieldName, "filename", att.Filename)
			stats.ImagesSynced++
			continue
		}

		if err := p.syncAttachment(ctx, recordID, att, meta, record); err != nil {
			stats.Errors++
			*errLog = append(*errLog, models.ErrorEntry{
				RecordID:  recordID,
				Field:     att.FieldName,
				Error:     err.Error(),
				Timestamp: time.Now().UTC(),
			})
			p.log.Error("failed to sync image",
				"record_id", recordID, "field", att.FieldName, "error", err)
			continue
		}
		stats.ImagesSynced++
	}
	return nil
}

func (p *RecordProcessor) syncAttachment(ctx context.Context, recordID string, att zoho.Attachment, meta recordMeta, record zoho.Record) error {
	if !strings.HasPrefix(att.DownloadURL, "http://") && !strings.HasPrefix(att.DownloadURL, "https://") {
		return fmt.Errorf("invalid download URL %q", att.DownloadURL)
	}

	data, err := p.downloader.DownloadAttachment(ctx, att.DownloadURL)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}

	payload, finalName, wasProcessed := p.normalizer.NormalizeIfNeeded(data, att.Filename)
	path := buildStoragePath(meta.category, meta.createdAt, recordID, finalName)

	if err := p.store.Upload(ctx, path, payload, images.ContentType(finalName, payload)); err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}

	image := &models.SyncedImage{
		ID:                  uuid.New().String(),
		ZohoRecordID:        recordID,
		FieldName:           att.FieldName,
		OriginalFilename:    att.Filename,
		StoragePath:         path,
		FileSizeBytes:       len(payload),
		WasProcessed:        wasProcessed,
		Tags:                meta.tags,
		Category:            meta.category,
		Description:         meta.description,
		JobCaptainTimesheet: meta.jobCaptain,
		ProjectName:         meta.project,
		Department:          meta.department,
		ZohoMetadata:        models.JSONB(record),
		ZohoCreatedAt:       meta.createdAt,
		ZohoModifiedAt:      meta.modifiedAt,
		SyncedAt:            time.Now().UTC(),
	}
	if err := p.ledger.Upsert(ctx, image); err != nil {
		return fmt.Errorf("failed to save image metadata: %w", err)
	}

	p.log.Info("synced image", "record_id", recordID, "field", att.FieldName, "path", path)
	return nil
}

func (p *RecordProcessor) deriveMeta(record zoho.Record) recordMeta {
	return recordMeta{
		tags:        deriveTags(record, p.fields.TagFields),
		category:    optionalField(record, p.fields.CategoryField),
		description: optionalField(record, p.fields.DescriptionField),
		jobCaptain:  optionalField(record, p.fields.JobCaptainField),
		project:     optionalField(record, p.fields.ProjectField),
		department:  optionalField(record, p.fields.DepartmentField),
		createdAt:   p.parseTimestamp(record, "Added_Time"),
		modifiedAt:  p.parseTimestamp(record, "Modified_Time"),
	}
}

// deriveTags collects the values of the configured tag fields; list values
// are flattened, one tag per element.
func deriveTags(record zoho.Record, tagFields []string) []string {
	var tags []string
	for _, field := range tagFields {
		value, ok := record[field]
		if !ok || value == nil {
			continue
		}
		switch v := value.(type) {
		case []interface{}:
			for _, item := range v {
				if s := stringValue(item); s != "" {
					tags = append(tags, s)
				}
			}
		default:
			if s := stringValue(v); s != "" {
				tags = append(tags, s)
			}
		}
	}
	return tags
}

// optionalField reads a record field as a nullable string column value.
func optionalField(record zoho.Record, field string) *string {
	if field == "" {
		return nil
	}
	value, ok := record[field]
	if !ok || value == nil {
		return nil
	}
	s := stringValue(value)
	if s == "" {
		return nil
	}
	return &s
}

// stringValue renders a scalar or lookup value as a string. Zoho lookup
// fields arrive as objects carrying a display_value.
func stringValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case map[string]interface{}:
		if s, ok := v["display_value"].(string); ok {
			return s
		}
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (p *RecordProcessor) parseTimestamp(record zoho.Record, field string) *time.Time {
	raw := record.StringField(field)
	if raw == "" {
		return nil
	}
	t, ok := zoho.ParseTime(raw)
	if !ok {
		p.log.Warn("could not parse record timestamp", "field", field, "value", raw)
		return nil
	}
	return &t
}

// buildStoragePath lays objects out as {category}/{YYYY-MM}/{recordID}_{filename},
// with "uncategorized" and "unknown" standing in for missing parts.
func buildStoragePath(category *string, createdAt *time.Time, recordID, filename string) string {
	categoryFolder := "uncategorized"
	if category != nil && *category != "" {
		categoryFolder = *category
	}
	dateFolder := "unknown"
	if createdAt != nil {
		dateFolder = createdAt.Format("2006-01")
	}
	return fmt.Sprintf("%s/%s/%s_%s", categoryFolder, dateFolder, recordID, filename)
}
