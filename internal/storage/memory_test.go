package storage

import (
	"context"
	"testing"
)

func TestMemoryStore_CopiesPayload(t *testing.T) {
	store := NewMemoryStore()

	data := []byte("abc")
	if err := store.Upload(context.Background(), "a/b/c.jpg", data, "image/jpeg"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	data[0] = 'x' // mutating the caller's slice must not affect the store

	got, contentType, ok := store.Get("a/b/c.jpg")
	if !ok {
		t.Fatal("expected object to exist")
	}
	if string(got) != "abc" {
		t.Errorf("expected stored copy abc, got %q", got)
	}
	if contentType != "image/jpeg" {
		t.Errorf("expected image/jpeg, got %q", contentType)
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 object, got %d", store.Len())
	}
}
