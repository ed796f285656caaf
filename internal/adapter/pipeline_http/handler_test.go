package pipeline_http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"sourcemind/internal/adapter/pipeline_http"
	"sourcemind/internal/domain"
	"sourcemind/internal/pipeline"
)

type stubDocSearcher struct {
	chunks        []domain.Chunk
	deleteErr     error
	deletedSource string
}

func (s *stubDocSearcher) Search(ctx context.Context, query string, topK int, alpha float64) ([]domain.Chunk, error) {
	out := make([]domain.Chunk, len(s.chunks))
	copy(out, s.chunks)
	return out, nil
}

func (s *stubDocSearcher) Delete(ctx context.Context, sourceName string) error {
	s.deletedSource = sourceName
	return s.deleteErr
}

type stubEncoder struct{}

func (s *stubEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, len(texts)+1)
		vec[i] = 1
		out[i] = vec
	}
	return out, nil
}

func (s *stubEncoder) Version() string { return "stub" }

type stubLLM struct {
	generateText   string
	structuredText string
	streamChunks   []domain.LLMStreamChunk
}

func (s *stubLLM) Generate(ctx context.Context, prompt string, maxTokens int) (*domain.LLMResponse, error) {
	return &domain.LLMResponse{Text: s.generateText, Done: true}, nil
}

func (s *stubLLM) GenerateStructured(ctx context.Context, prompt string, format map[string]interface{}, maxTokens int) (*domain.LLMResponse, error) {
	if s.structuredText == "" {
		return nil, errors.New("no structured response configured")
	}
	return &domain.LLMResponse{Text: s.structuredText, Done: true}, nil
}

func (s *stubLLM) GenerateStream(ctx context.Context, prompt string, maxTokens int) (<-chan domain.LLMStreamChunk, <-chan error, error) {
	chunkCh := make(chan domain.LLMStreamChunk, len(s.streamChunks))
	errCh := make(chan error)
	for _, c := range s.streamChunks {
		chunkCh <- c
	}
	close(chunkCh)
	close(errCh)
	return chunkCh, errCh, nil
}

func (s *stubLLM) Version() string { return "stub" }

type stubConversations struct {
	messages []domain.Message
	getErr   error
}

func (s *stubConversations) AppendMessage(ctx context.Context, conversationID, role, content string, citations []domain.Citation) error {
	return nil
}

func (s *stubConversations) GetMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.messages, nil
}

func (s *stubConversations) SetTitle(ctx context.Context, conversationID, title string, generated bool) error {
	return nil
}

func (s *stubConversations) ListUntitled(ctx context.Context, limit int) ([]domain.Conversation, error) {
	return nil, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func docChunks() []domain.Chunk {
	return []domain.Chunk{
		{ID: "c1", Text: "Gallium melts at 30 C.", SourceName: "metals.pdf", SourceType: domain.SourceTypeDocument, CombinedScore: 0.9},
		{ID: "c2", Text: "Gallium is element 31.", SourceName: "metals.pdf", SourceType: domain.SourceTypeDocument, CombinedScore: 0.8},
		{ID: "c3", Text: "Gallium boils at 2400 C.", SourceName: "metals.pdf", SourceType: domain.SourceTypeDocument, CombinedScore: 0.7},
	}
}

type stubIndexer struct {
	upserted  []domain.StoredChunk
	upsertErr error
}

func (s *stubIndexer) UpsertChunks(ctx context.Context, chunks []domain.StoredChunk) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.upserted = append(s.upserted, chunks...)
	return nil
}

func newTestHandler(docs *stubDocSearcher, llm *stubLLM, convs *stubConversations) *pipeline_http.Handler {
	p := pipeline.New(docs, nil, &stubEncoder{}, llm, convs, nil, pipeline.DefaultConfig(), testLogger())
	return pipeline_http.NewHandler(p, docs, &stubIndexer{}, convs)
}

func TestResolveQuery(t *testing.T) {
	e := echo.New()
	docs := &stubDocSearcher{chunks: docChunks()}
	llm := &stubLLM{
		structuredText: `{"query_type":"factual","search_strategy":"documents","optimized_query":"gallium melting point","search_params":{"top_k":5,"alpha":0.7}}`,
		generateText:   "Gallium melts at about 30 C [1].",
	}
	handler := newTestHandler(docs, llm, &stubConversations{})

	body, _ := json.Marshal(map[string]string{"query": "when does gallium melt?"})
	req := httptest.NewRequest(http.MethodPost, "/v1/query/resolve", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := handler.ResolveQuery(c)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Gallium melts at about 30 C [1].", resp["answer"])
	assert.Equal(t, "factual", resp["query_type"])
	assert.Equal(t, false, resp["used_web_search"])
	assert.NotEmpty(t, resp["conversation_id"])
	citations, ok := resp["citations"].([]interface{})
	assert.True(t, ok)
	assert.Len(t, citations, 1)
	trace, ok := resp["trace"].([]interface{})
	assert.True(t, ok)
	assert.Len(t, trace, 6)
}

func TestResolveQuery_EmptyQuery(t *testing.T) {
	e := echo.New()
	handler := newTestHandler(&stubDocSearcher{}, &stubLLM{}, &stubConversations{})

	body, _ := json.Marshal(map[string]string{"query": "   "})
	req := httptest.NewRequest(http.MethodPost, "/v1/query/resolve", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := handler.ResolveQuery(c)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Error: Empty query provided", resp["answer"])
}

func TestResolveQuery_InvalidBody(t *testing.T) {
	e := echo.New()
	handler := newTestHandler(&stubDocSearcher{}, &stubLLM{}, &stubConversations{})

	req := httptest.NewRequest(http.MethodPost, "/v1/query/resolve", strings.NewReader("{not json"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := handler.ResolveQuery(c)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamQuery_SSE(t *testing.T) {
	e := echo.New()
	docs := &stubDocSearcher{chunks: docChunks()}
	llm := &stubLLM{
		structuredText: `{"query_type":"factual","search_strategy":"documents","optimized_query":"q","search_params":{"top_k":5,"alpha":0.7}}`,
		streamChunks: []domain.LLMStreamChunk{
			{Response: "Gallium melts [1]."},
			{Done: true},
		},
	}
	handler := newTestHandler(docs, llm, &stubConversations{})

	body, _ := json.Marshal(map[string]string{"query": "when does gallium melt?"})
	req := httptest.NewRequest(http.MethodPost, "/v1/query/stream", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := handler.StreamQuery(c)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))

	payload := rec.Body.String()
	assert.Contains(t, payload, "event: start\n")
	assert.Contains(t, payload, "event: status\n")
	assert.Contains(t, payload, `data: "Analyzing query..."`)
	assert.Contains(t, payload, "event: token\n")
	assert.Contains(t, payload, "Gallium melts [1].")
	assert.Contains(t, payload, "event: complete\n")

	// Events end with a blank line separator.
	assert.True(t, strings.HasSuffix(payload, "\n\n"))
}

func TestGetConversationMessages(t *testing.T) {
	e := echo.New()
	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	convs := &stubConversations{messages: []domain.Message{
		{Role: "user", Content: "what is gallium?", CreatedAt: created},
		{Role: "assistant", Content: "A metal.", CreatedAt: created.Add(time.Second)},
	}}
	handler := newTestHandler(&stubDocSearcher{}, &stubLLM{}, convs)

	req := httptest.NewRequest(http.MethodGet, "/v1/conversations/abc/messages", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("abc")

	err := handler.GetConversationMessages(c)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ConversationID string `json:"conversation_id"`
		Messages       []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "abc", resp.ConversationID)
	if assert.Len(t, resp.Messages, 2) {
		assert.Equal(t, "user", resp.Messages[0].Role)
		assert.Equal(t, "assistant", resp.Messages[1].Role)
	}
}

func TestGetConversationMessages_StoreError(t *testing.T) {
	e := echo.New()
	convs := &stubConversations{getErr: errors.New("db down")}
	handler := newTestHandler(&stubDocSearcher{}, &stubLLM{}, convs)

	req := httptest.NewRequest(http.MethodGet, "/v1/conversations/abc/messages", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("abc")

	err := handler.GetConversationMessages(c)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestUpsertIndex(t *testing.T) {
	e := echo.New()
	docs := &stubDocSearcher{}
	indexer := &stubIndexer{}
	p := pipeline.New(docs, nil, &stubEncoder{}, &stubLLM{}, &stubConversations{}, nil, pipeline.DefaultConfig(), testLogger())
	handler := pipeline_http.NewHandler(p, docs, indexer, &stubConversations{})

	page := 4
	body, _ := json.Marshal(map[string]interface{}{
		"chunks": []map[string]interface{}{
			{
				"id":          "c1",
				"source_name": "metals.pdf",
				"page_number": page,
				"content":     "Gallium melts at 30 C.",
				"embedding":   []float32{0.1, 0.2, 0.3},
			},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/internal/index/upsert", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := handler.UpsertIndex(c)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	if assert.Len(t, indexer.upserted, 1) {
		assert.Equal(t, "c1", indexer.upserted[0].ID)
		assert.Equal(t, "metals.pdf", indexer.upserted[0].SourceName)
		if assert.NotNil(t, indexer.upserted[0].PageNumber) {
			assert.Equal(t, 4, *indexer.upserted[0].PageNumber)
		}
		assert.Equal(t, []float32{0.1, 0.2, 0.3}, indexer.upserted[0].Embedding)
	}
}

func TestUpsertIndex_MissingEmbedding(t *testing.T) {
	e := echo.New()
	handler := newTestHandler(&stubDocSearcher{}, &stubLLM{}, &stubConversations{})

	body, _ := json.Marshal(map[string]interface{}{
		"chunks": []map[string]interface{}{
			{"id": "c1", "source_name": "metals.pdf", "content": "text"},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/internal/index/upsert", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := handler.UpsertIndex(c)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpsertIndex_NoChunks(t *testing.T) {
	e := echo.New()
	handler := newTestHandler(&stubDocSearcher{}, &stubLLM{}, &stubConversations{})

	req := httptest.NewRequest(http.MethodPost, "/internal/index/upsert", strings.NewReader(`{"chunks":[]}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := handler.UpsertIndex(c)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteIndex(t *testing.T) {
	e := echo.New()
	docs := &stubDocSearcher{}
	handler := newTestHandler(docs, &stubLLM{}, &stubConversations{})

	body, _ := json.Marshal(map[string]string{"source_name": "metals.pdf"})
	req := httptest.NewRequest(http.MethodPost, "/internal/index/delete", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := handler.DeleteIndex(c)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "metals.pdf", docs.deletedSource)
}

func TestDeleteIndex_MissingSourceName(t *testing.T) {
	e := echo.New()
	handler := newTestHandler(&stubDocSearcher{}, &stubLLM{}, &stubConversations{})

	body, _ := json.Marshal(map[string]string{"source_name": "  "})
	req := httptest.NewRequest(http.MethodPost, "/internal/index/delete", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := handler.DeleteIndex(c)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
