package zoho

import (
	"encoding/base64"
	"testing"
)

func TestExtractAttachments_SkipsSystemAndPlainFields(t *testing.T) {
	rec := Record{
		"ID":            "rec-1",
		"Added_Time":    "05-Jan-2024 10:00:00",
		"Modified_User": "someone",
		"Notes":         "just a description",
		"Count":         float64(3),
	}

	if got := ExtractAttachments(rec); len(got) != 0 {
		t.Errorf("expected no attachments, got %+v", got)
	}
}

func TestExtractAttachments_StringURL(t *testing.T) {
	rec := Record{
		"ID":    "rec-1",
		"Photo": "https://creator.zoho.com/file/download/abc123",
	}

	got := ExtractAttachments(rec)
	if len(got) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(got))
	}
	if got[0].FieldName != "Photo" {
		t.Errorf("expected field Photo, got %q", got[0].FieldName)
	}
	if got[0].DownloadURL != "https://creator.zoho.com/file/download/abc123" {
		t.Errorf("unexpected url %q", got[0].DownloadURL)
	}
	if got[0].Filename != "rec-1_Photo" {
		t.Errorf("expected fallback filename rec-1_Photo, got %q", got[0].Filename)
	}
}

func TestExtractAttachments_FilenameFromCliMsg(t *testing.T) {
	cliMsg := base64.StdEncoding.EncodeToString([]byte(`{"filepath":"IMG_0042.jpg"}`))
	rec := Record{
		"ID":    "rec-1",
		"Photo": "https://creator.zoho.com/previewengine/image?cli-msg=" + cliMsg,
	}

	got := ExtractAttachments(rec)
	if len(got) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(got))
	}
	if got[0].Filename != "IMG_0042.jpg" {
		t.Errorf("expected IMG_0042.jpg, got %q", got[0].Filename)
	}
}

func TestExtractAttachments_ObjectValue(t *testing.T) {
	rec := Record{
		"ID": "rec-2",
		"Site_Photo": map[string]interface{}{
			"download_url": "https://creator.zoho.com/file/download/xyz",
			"filename":     "site.png",
		},
	}

	got := ExtractAttachments(rec)
	if len(got) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(got))
	}
	if got[0].Filename != "site.png" {
		t.Errorf("expected site.png, got %q", got[0].Filename)
	}
	if got[0].DownloadURL != "https://creator.zoho.com/file/download/xyz" {
		t.Errorf("unexpected url %q", got[0].DownloadURL)
	}
}

func TestExtractAttachments_ListValues(t *testing.T) {
	rec := Record{
		"ID": "rec-3",
		"Gallery": []interface{}{
			map[string]interface{}{"url": "https://zoho.com/image/a"},
			map[string]interface{}{"url": "https://zoho.com/image/b", "filename": "b.jpg"},
			"not an attachment",
		},
	}

	got := ExtractAttachments(rec)
	if len(got) != 2 {
		t.Fatalf("expected 2 attachments, got %d", len(got))
	}
	if got[0].FieldName != "Gallery_0" || got[1].FieldName != "Gallery_1" {
		t.Errorf("expected indexed field names, got %q and %q", got[0].FieldName, got[1].FieldName)
	}
	if got[0].Filename != "rec-3_Gallery_0" {
		t.Errorf("expected fallback filename, got %q", got[0].Filename)
	}
	if got[1].Filename != "b.jpg" {
		t.Errorf("expected b.jpg, got %q", got[1].Filename)
	}
}

func TestExtractAttachments_DeterministicOrder(t *testing.T) {
	rec := Record{
		"ID":      "rec-4",
		"Photo_B": "https://zoho.com/image/b",
		"Photo_A": "https://zoho.com/image/a",
	}

	for i := 0; i < 10; i++ {
		got := ExtractAttachments(rec)
		if len(got) != 2 {
			t.Fatalf("expected 2 attachments, got %d", len(got))
		}
		if got[0].FieldName != "Photo_A" || got[1].FieldName != "Photo_B" {
			t.Fatalf("expected sorted field order, got %q then %q", got[0].FieldName, got[1].FieldName)
		}
	}
}

func TestFilenameFromURL_BadPayloads(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"no cli-msg", "https://creator.zoho.com/previewengine/image"},
		{"invalid base64", "https://creator.zoho.com/previewengine/image?cli-msg=%%%"},
		{"non-json payload", "https://creator.zoho.com/previewengine/image?cli-msg=" + base64.StdEncoding.EncodeToString([]byte("hello"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := filenameFromURL(tt.url, "rec-9", "Photo"); got != "rec-9_Photo" {
				t.Errorf("expected fallback, got %q", got)
			}
		})
	}
}
