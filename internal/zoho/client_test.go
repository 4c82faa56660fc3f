package zoho

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type stubTokenProvider struct {
	token string
	err   error
}

func (s *stubTokenProvider) Token(ctx context.Context) (string, error) {
	return s.token, s.err
}

type instantClock struct {
	slept []time.Duration
}

func (c *instantClock) Now() time.Time { return time.Now() }

func (c *instantClock) Sleep(ctx context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(baseURL string) (*Client, *instantClock) {
	clock := &instantClock{}
	c := NewClient(&stubTokenProvider{token: "tok-123"}, "owner", "app", 1000, discardLogger())
	c.BaseURL = baseURL
	c.clock = clock
	return c, clock
}

func drain(t *testing.T, it Iterator) []Record {
	t.Helper()
	var records []Record
	for {
		rec, ok, err := it.Next(context.Background())
		if err != nil {
			t.Fatalf("unexpected iterator error: %v", err)
		}
		if !ok {
			return records
		}
		records = append(records, rec)
	}
}

func TestFetchRecords_PaginatesUntilEmptyPage(t *testing.T) {
	var froms []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Zoho-oauthtoken tok-123" {
			t.Errorf("unexpected auth header %q", got)
		}
		froms = append(froms, r.URL.Query().Get("from"))

		var data []Record
		switch r.URL.Query().Get("from") {
		case "0":
			data = []Record{{"ID": "1"}, {"ID": "2"}}
		case "2":
			data = []Record{{"ID": "3"}}
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL)
	client.PageSize = 2

	records := drain(t, client.FetchRecords("All_Records", nil))
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[2].ID() != "3" {
		t.Errorf("expected record 3 last, got %q", records[2].ID())
	}
	// Page of 1 < PageSize still triggers one more fetch; the empty page ends it.
	if len(froms) != 3 || froms[0] != "0" || froms[1] != "2" || froms[2] != "4" {
		t.Errorf("unexpected from offsets %v", froms)
	}
}

func TestFetchRecords_ModifiedSinceCriteria(t *testing.T) {
	var criteria string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		criteria = r.URL.Query().Get("criteria")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": []Record{}})
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL)
	since := time.Date(2024, time.March, 1, 8, 0, 0, 0, time.UTC)

	drain(t, client.FetchRecords("All_Records", &since))
	want := "Modified_Time >= '01-Mar-2024 08:00:00'"
	if criteria != want {
		t.Errorf("expected criteria %q, got %q", want, criteria)
	}
}

func TestFetchRecords_CoolsDownOn429(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": []Record{{"ID": "1"}}})
	}))
	defer srv.Close()

	client, clock := newTestClient(srv.URL)

	records := drain(t, client.FetchRecords("All_Records", nil))
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	found := false
	for _, d := range clock.slept {
		if d == client.Cooldown {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a cooldown sleep of %v, slept %v", client.Cooldown, clock.slept)
	}
}

func TestFetchRecords_ClientErrorIsNotRetried(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL)

	_, _, err := client.FetchRecords("All_Records", nil).Next(context.Background())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if requests != 1 {
		t.Errorf("expected exactly 1 request, got %d", requests)
	}
}

func TestDownloadAttachment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Zoho-oauthtoken tok-123" {
			t.Errorf("unexpected auth header %q", got)
		}
		_, _ = w.Write([]byte("image-bytes"))
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL)

	data, err := client.DownloadAttachment(context.Background(), srv.URL+"/file")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if string(data) != "image-bytes" {
		t.Errorf("unexpected payload %q", data)
	}
}

func TestDownloadAttachment_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL)

	if _, err := client.DownloadAttachment(context.Background(), srv.URL+"/file"); err == nil {
		t.Fatal("expected error, got nil")
	}
}
