package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGenerator_Generate(t *testing.T) {
	var gotReq chatRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"message": map[string]string{"content": "  Gallium melts at 30 C.  "},
			"done":    true,
		})
	}))
	defer server.Close()

	gen := NewGenerator(server.URL, "gemma3:4b", 0.7, 10)
	resp, err := gen.Generate(context.Background(), "when does gallium melt?", 800)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "Gallium melts at 30 C." {
		t.Fatalf("expected trimmed answer, got %q", resp.Text)
	}
	if !resp.Done {
		t.Fatal("expected done response")
	}

	if gotReq.Model != "gemma3:4b" {
		t.Fatalf("unexpected model: %s", gotReq.Model)
	}
	if gotReq.Stream {
		t.Fatal("non-streaming call must set stream=false")
	}
	if gotReq.Options["temperature"] != 0.7 {
		t.Fatalf("unexpected temperature: %v", gotReq.Options["temperature"])
	}
	if gotReq.Options["num_predict"] != float64(800) {
		t.Fatalf("unexpected num_predict: %v", gotReq.Options["num_predict"])
	}
	if len(gotReq.Messages) != 1 || gotReq.Messages[0].Role != "user" {
		t.Fatalf("unexpected messages: %+v", gotReq.Messages)
	}
}

func TestGenerator_GenerateStructured_SendsFormat(t *testing.T) {
	var gotReq chatRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"message": map[string]string{"content": `{"query_type":"factual"}`},
			"done":    true,
		})
	}))
	defer server.Close()

	format := map[string]interface{}{
		"type":     "object",
		"required": []string{"query_type"},
	}

	gen := NewGenerator(server.URL, "gemma3:4b", 0.7, 10)
	resp, err := gen.GenerateStructured(context.Background(), "classify this", format, 300)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != `{"query_type":"factual"}` {
		t.Fatalf("unexpected text: %q", resp.Text)
	}
	if gotReq.Format == nil {
		t.Fatal("expected format constraint in request")
	}
	if gotReq.Format["type"] != "object" {
		t.Fatalf("unexpected format type: %v", gotReq.Format["type"])
	}
}

func TestGenerator_Generate_BadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	gen := NewGenerator(server.URL, "missing", 0.7, 10)
	_, err := gen.Generate(context.Background(), "prompt", 100)

	if err == nil {
		t.Fatal("expected error for non-200 status")
	}
}

func TestGenerator_GenerateStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if !req.Stream {
			t.Fatal("streaming call must set stream=true")
		}

		flusher := w.(http.Flusher)
		fragments := []string{
			`{"message":{"content":"Gallium "},"done":false}`,
			`{"message":{"content":"melts."},"done":false}`,
			`{"message":{"content":""},"done":true}`,
		}
		for _, frag := range fragments {
			fmt.Fprintln(w, frag)
			flusher.Flush()
		}
	}))
	defer server.Close()

	gen := NewGenerator(server.URL, "gemma3:4b", 0.7, 10)
	chunkCh, errCh, err := gen.GenerateStream(context.Background(), "prompt", 800)
	if err != nil {
		t.Fatalf("unexpected setup error: %v", err)
	}

	var got string
	var sawDone bool
	timeout := time.After(5 * time.Second)
	for chunkCh != nil || errCh != nil {
		select {
		case chunk, ok := <-chunkCh:
			if !ok {
				chunkCh = nil
				continue
			}
			got += chunk.Response
			if chunk.Done {
				sawDone = true
			}
		case streamErr, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			t.Fatalf("unexpected stream error: %v", streamErr)
		case <-timeout:
			t.Fatal("timed out waiting for stream")
		}
	}

	if got != "Gallium melts." {
		t.Fatalf("expected aggregated content, got %q", got)
	}
	if !sawDone {
		t.Fatal("expected terminal done fragment")
	}
}

func TestGenerator_GenerateStream_MalformedFragment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"ok"},"done":false}`)
		fmt.Fprintln(w, `this is not json`)
	}))
	defer server.Close()

	gen := NewGenerator(server.URL, "gemma3:4b", 0.7, 10)
	chunkCh, errCh, err := gen.GenerateStream(context.Background(), "prompt", 800)
	if err != nil {
		t.Fatalf("unexpected setup error: %v", err)
	}

	var gotErr error
	timeout := time.After(5 * time.Second)
	for chunkCh != nil || errCh != nil {
		select {
		case _, ok := <-chunkCh:
			if !ok {
				chunkCh = nil
			}
		case streamErr, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			gotErr = streamErr
		case <-timeout:
			t.Fatal("timed out waiting for stream")
		}
	}

	if gotErr == nil {
		t.Fatal("expected decode error on malformed fragment")
	}
}

func TestGenerator_Version(t *testing.T) {
	gen := NewGenerator("http://localhost:11434", "gemma3:4b", 0.7, 10)
	if gen.Version() != "gemma3:4b" {
		t.Fatalf("unexpected version: %s", gen.Version())
	}
}
