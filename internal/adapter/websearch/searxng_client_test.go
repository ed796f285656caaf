package websearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSearxNGClient_Search(t *testing.T) {
	var gotQuery, gotFormat string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		gotQuery = r.URL.Query().Get("q")
		gotFormat = r.URL.Query().Get("format")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]string{
				{"title": "Gallium - Wikipedia", "content": "Gallium is a metal.", "url": "https://en.wikipedia.org/wiki/Gallium"},
				{"title": "Other", "content": "Other snippet.", "url": "https://example.com"},
			},
		})
	}))
	defer server.Close()

	client := NewSearxNGClient(server.URL, 10, 100)
	results, err := client.Search(context.Background(), "gallium", 5)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotQuery != "gallium" {
		t.Fatalf("unexpected query: %q", gotQuery)
	}
	if gotFormat != "json" {
		t.Fatalf("expected json format param, got %q", gotFormat)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Title != "Gallium - Wikipedia" {
		t.Fatalf("unexpected title: %q", results[0].Title)
	}
	if results[0].Snippet != "Gallium is a metal." {
		t.Fatalf("unexpected snippet: %q", results[0].Snippet)
	}
	if results[0].URL != "https://en.wikipedia.org/wiki/Gallium" {
		t.Fatalf("unexpected url: %q", results[0].URL)
	}
}

func TestSearxNGClient_Search_TruncatesToMaxResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		results := make([]map[string]string, 10)
		for i := range results {
			results[i] = map[string]string{"title": "t", "content": "c", "url": "u"}
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"results": results})
	}))
	defer server.Close()

	client := NewSearxNGClient(server.URL, 10, 100)
	results, err := client.Search(context.Background(), "anything", 3)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
}

func TestSearxNGClient_Search_BadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewSearxNGClient(server.URL, 10, 100)
	_, err := client.Search(context.Background(), "anything", 5)

	if err == nil {
		t.Fatal("expected error for non-200 status")
	}
}

func TestSearxNGClient_Search_CancelledContext(t *testing.T) {
	// Limiter rate 0.0001/s with burst 1: the first call consumes the burst
	// token, the second blocks until the context is cancelled.
	client := NewSearxNGClient("http://unreachable.invalid", 1, 0.0001)
	client.limiter.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Search(ctx, "anything", 5)
	if err == nil {
		t.Fatal("expected error when context is cancelled during rate limit wait")
	}
}
