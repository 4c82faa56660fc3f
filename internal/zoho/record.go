package zoho

import (
	"fmt"
	"time"
)

// Record is one row from a Zoho Creator report: a field-name to value map.
type Record map[string]interface{}

// ID returns the record's ID field as a string.
func (r Record) ID() string {
	v, ok := r["ID"]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// StringField returns the named field as a string, or "" when absent or not a
// string.
func (r Record) StringField(name string) string {
	if s, ok := r[name].(string); ok {
		return s
	}
	return ""
}

var zohoTimeLayouts = []string{
	"02-Jan-2006 15:04:05",
	"January 2 2006 15:04:05",
	"2006-01-02T15:04:05",
	"02-01-2006 15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTime parses a Zoho timestamp string, trying each known layout in
// order. Reports false when no layout matches; never errors.
func ParseTime(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range zohoTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
