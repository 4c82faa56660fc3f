package zoho

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Attachment is one downloadable file reference found in a record field.
type Attachment struct {
	FieldName   string
	Filename    string
	DownloadURL string
}

// System fields never hold attachments.
var systemFields = map[string]struct{}{
	"ID":            {},
	"Added_Time":    {},
	"Modified_Time": {},
	"Added_User":    {},
	"Modified_User": {},
}

// URL fragments that mark a string value as a Zoho file reference. Covers
// preview engine URLs, direct download URLs and image/file links.
var attachmentURLPatterns = []string{
	"previewengine",
	"download",
	"zoho.com/image",
	"zoho.com/file",
}

// ExtractAttachments inspects every non-system field of a record and
// classifies string, object and list values as attachments. List elements get
// disambiguated field names of the form "{field}_{index}". Fields are visited
// in sorted order so results are deterministic.
func ExtractAttachments(record Record) []Attachment {
	recordID := record.ID()

	fields := make([]string, 0, len(record))
	for name := range record {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	var attachments []Attachment
	for _, field := range fields {
		if _, ok := systemFields[field]; ok {
			continue
		}

		switch value := record[field].(type) {
		case string:
			if !matchesAttachmentURL(value) {
				continue
			}
			attachments = append(attachments, Attachment{
				FieldName:   field,
				Filename:    filenameFromURL(value, recordID, field),
				DownloadURL: value,
			})

		case map[string]interface{}:
			downloadURL := firstString(value, "download_url", "filepath", "url", "file")
			if downloadURL == "" {
				continue
			}
			filename := firstString(value, "filename", "display_value")
			if filename == "" {
				filename = fmt.Sprintf("%s_%s", recordID, field)
			}
			attachments = append(attachments, Attachment{
				FieldName:   field,
				Filename:    filename,
				DownloadURL: downloadURL,
			})

		case []interface{}:
			for i, item := range value {
				indexed := fmt.Sprintf("%s_%d", field, i)
				switch v := item.(type) {
				case string:
					if !matchesAttachmentURL(v) {
						continue
					}
					attachments = append(attachments, Attachment{
						FieldName:   indexed,
						Filename:    fmt.Sprintf("%s_%s_%d", recordID, field, i),
						DownloadURL: v,
					})
				case map[string]interface{}:
					itemURL := firstString(v, "download_url", "filepath", "url")
					if itemURL == "" {
						continue
					}
					filename := firstString(v, "filename")
					if filename == "" {
						filename = fmt.Sprintf("%s_%s_%d", recordID, field, i)
					}
					attachments = append(attachments, Attachment{
						FieldName:   indexed,
						Filename:    filename,
						DownloadURL: itemURL,
					})
				}
			}
		}
	}
	return attachments
}

func matchesAttachmentURL(value string) bool {
	lower := strings.ToLower(value)
	for _, pattern := range attachmentURLPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// filenameFromURL recovers the original filename from a Zoho preview URL,
// whose "cli-msg" query parameter is a base64-encoded JSON blob with a
// filepath key. Falls back to "{recordID}_{field}".
func filenameFromURL(rawURL, recordID, field string) string {
	fallback := fmt.Sprintf("%s_%s", recordID, field)

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fallback
	}
	cliMsg := parsed.Query().Get("cli-msg")
	if cliMsg == "" {
		return fallback
	}

	decoded, err := base64.StdEncoding.DecodeString(cliMsg)
	if err != nil {
		if decoded, err = base64.RawStdEncoding.DecodeString(cliMsg); err != nil {
			return fallback
		}
	}

	var payload struct {
		Filepath string `json:"filepath"`
	}
	if err := json.Unmarshal(decoded, &payload); err != nil || payload.Filepath == "" {
		return fallback
	}
	return payload.Filepath
}
