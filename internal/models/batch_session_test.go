package models

import (
	"fmt"
	"testing"
	"time"
)

func TestAppendCapped(t *testing.T) {
	entry := func(i int) ErrorEntry {
		return ErrorEntry{RecordID: fmt.Sprintf("rec-%d", i), Timestamp: time.Now()}
	}

	var log ErrorLog
	for i := 0; i < 3; i++ {
		log = AppendCapped(log, []ErrorEntry{entry(i)}, 5)
	}
	if len(log) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(log))
	}

	// Exceed the cap; the oldest entries must go first.
	log = AppendCapped(log, []ErrorEntry{entry(3), entry(4), entry(5), entry(6)}, 5)
	if len(log) != 5 {
		t.Fatalf("expected log capped at 5, got %d", len(log))
	}
	if log[0].RecordID != "rec-2" {
		t.Errorf("expected oldest surviving entry rec-2, got %s", log[0].RecordID)
	}
	if log[4].RecordID != "rec-6" {
		t.Errorf("expected newest entry rec-6, got %s", log[4].RecordID)
	}
}

func TestAppendCapped_OversizedBatch(t *testing.T) {
	entries := make([]ErrorEntry, 8)
	for i := range entries {
		entries[i] = ErrorEntry{RecordID: fmt.Sprintf("rec-%d", i)}
	}

	log := AppendCapped(nil, entries, 5)
	if len(log) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(log))
	}
	if log[0].RecordID != "rec-3" {
		t.Errorf("expected rec-3 first, got %s", log[0].RecordID)
	}
}

func TestBatchSyncSession_IsTerminal(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{BatchStatusPending, false},
		{BatchStatusRunning, false},
		{BatchStatusPaused, false},
		{BatchStatusCancelled, true},
		{BatchStatusCompleted, true},
		{BatchStatusCompletedWithErrors, true},
		{BatchStatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			s := &BatchSyncSession{Status: tt.status}
			if got := s.IsTerminal(); got != tt.want {
				t.Errorf("IsTerminal(%s) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}
