package pipeline_http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"sourcemind/internal/domain"
	"sourcemind/internal/infra/logger"
	"sourcemind/internal/pipeline"
)

type Handler struct {
	pipeline *pipeline.Pipeline
	docs     domain.DocumentSearcher
	indexer  domain.DocumentIndexer
	convs    domain.ConversationRepository
}

func NewHandler(p *pipeline.Pipeline, docs domain.DocumentSearcher, indexer domain.DocumentIndexer, convs domain.ConversationRepository) *Handler {
	return &Handler{
		pipeline: p,
		docs:     docs,
		indexer:  indexer,
		convs:    convs,
	}
}

// RegisterRoutes wires the handler into the echo instance.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/query/resolve", h.ResolveQuery)
	e.POST("/v1/query/stream", h.StreamQuery)
	e.GET("/v1/conversations/:id/messages", h.GetConversationMessages)
	e.POST("/internal/index/upsert", h.UpsertIndex)
	e.POST("/internal/index/delete", h.DeleteIndex)
}

type resolveRequest struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type resolveResponse struct {
	Answer         string            `json:"answer"`
	Citations      []domain.Citation `json:"citations"`
	ConversationID string            `json:"conversation_id"`
	QueryType      string            `json:"query_type"`
	UsedWebSearch  bool              `json:"used_web_search"`
	Trace          []string          `json:"trace"`
}

// Resolve a query through the full pipeline and return the final answer.
// (POST /v1/query/resolve)
func (h *Handler) ResolveQuery(ctx echo.Context) error {
	var req resolveRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	reqCtx := ctx.Request().Context()
	if req.ConversationID != "" {
		reqCtx = logger.WithConversationID(reqCtx, req.ConversationID)
	}

	result, err := h.pipeline.Resolve(reqCtx, req.Query, req.ConversationID)
	if err != nil {
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	citations := result.Citations
	if citations == nil {
		citations = []domain.Citation{}
	}

	return ctx.JSON(http.StatusOK, resolveResponse{
		Answer:         result.Answer,
		Citations:      citations,
		ConversationID: result.ConversationID,
		QueryType:      result.QueryType,
		UsedWebSearch:  result.UsedWebSearch,
		Trace:          result.Trace,
	})
}

// Resolve a query and stream progress and answer tokens as SSE.
// (POST /v1/query/stream)
func (h *Handler) StreamQuery(ctx echo.Context) error {
	var req resolveRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	resp := ctx.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	reqCtx := ctx.Request().Context()
	if req.ConversationID != "" {
		reqCtx = logger.WithConversationID(reqCtx, req.ConversationID)
	}

	events := h.pipeline.Stream(reqCtx, req.Query, req.ConversationID)
	for event := range events {
		if err := writeSSE(resp, event); err != nil {
			// Client went away; the pipeline keeps draining and persists
			// the turn on its own detached context.
			for range events {
			}
			return nil
		}
		resp.Flush()
	}
	return nil
}

func writeSSE(resp *echo.Response, event pipeline.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	_, err = fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", event.Kind, payload)
	return err
}

type messageResponse struct {
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Citations []domain.Citation `json:"citations,omitempty"`
	CreatedAt string            `json:"created_at"`
}

// Return the stored messages of a conversation in chronological order.
// (GET /v1/conversations/:id/messages)
func (h *Handler) GetConversationMessages(ctx echo.Context) error {
	conversationID := ctx.Param("id")
	if strings.TrimSpace(conversationID) == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "conversation id is required"})
	}

	messages, err := h.convs.GetMessages(logger.WithConversationID(ctx.Request().Context(), conversationID), conversationID)
	if err != nil {
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	out := make([]messageResponse, 0, len(messages))
	for _, msg := range messages {
		out = append(out, messageResponse{
			Role:      msg.Role,
			Content:   msg.Content,
			Citations: msg.Citations,
			CreatedAt: msg.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return ctx.JSON(http.StatusOK, map[string]interface{}{
		"conversation_id": conversationID,
		"messages":        out,
	})
}

type upsertChunk struct {
	ID         string    `json:"id"`
	SourceName string    `json:"source_name"`
	PageNumber *int      `json:"page_number"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"embedding"`
}

type upsertIndexRequest struct {
	Chunks []upsertChunk `json:"chunks"`
}

// Load pre-embedded document chunks into the index.
// (POST /internal/index/upsert)
func (h *Handler) UpsertIndex(ctx echo.Context) error {
	var req upsertIndexRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	if len(req.Chunks) == 0 {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "chunks are required"})
	}

	chunks := make([]domain.StoredChunk, 0, len(req.Chunks))
	for i, c := range req.Chunks {
		if c.ID == "" || strings.TrimSpace(c.SourceName) == "" || c.Content == "" || len(c.Embedding) == 0 {
			return ctx.JSON(http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("chunk %d: id, source_name, content and embedding are required", i),
			})
		}
		chunks = append(chunks, domain.StoredChunk{
			ID:         c.ID,
			SourceName: c.SourceName,
			PageNumber: c.PageNumber,
			Content:    c.Content,
			Embedding:  c.Embedding,
		})
	}

	if err := h.indexer.UpsertChunks(ctx.Request().Context(), chunks); err != nil {
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return ctx.JSON(http.StatusOK, map[string]interface{}{"status": "indexed", "count": len(chunks)})
}

type deleteIndexRequest struct {
	SourceName string `json:"source_name"`
}

// Remove all indexed chunks for a source.
// (POST /internal/index/delete)
func (h *Handler) DeleteIndex(ctx echo.Context) error {
	var req deleteIndexRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	if strings.TrimSpace(req.SourceName) == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "source_name is required"})
	}

	if err := h.docs.Delete(ctx.Request().Context(), req.SourceName); err != nil {
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return ctx.JSON(http.StatusOK, map[string]string{"status": "deleted"})
}
