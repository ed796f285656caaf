package logger

import (
	"context"
	"log/slog"
)

type ContextKey string

const (
	// Business context keys, following OpenTelemetry semantic conventions
	// with a 'sourcemind.' prefix.
	ConversationIDKey ContextKey = "sourcemind.conversation.id"
	QueryTypeKey      ContextKey = "sourcemind.query.type"
	PipelineStageKey  ContextKey = "sourcemind.pipeline.stage"
)

// WithConversationID adds the conversation id to context for observability
func WithConversationID(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, ConversationIDKey, conversationID)
}

// WithQueryType adds the classified query type to context for observability
func WithQueryType(ctx context.Context, queryType string) context.Context {
	return context.WithValue(ctx, QueryTypeKey, queryType)
}

// WithPipelineStage adds the current pipeline stage to context for observability
func WithPipelineStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, PipelineStageKey, stage)
}

// contextAttrs extracts the business context values present on ctx.
func contextAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	for _, key := range []ContextKey{ConversationIDKey, QueryTypeKey, PipelineStageKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			attrs = append(attrs, slog.String(string(key), v))
		}
	}
	return attrs
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug", "DEBUG":
		return slog.LevelDebug
	case "warn", "WARN", "warning", "WARNING":
		return slog.LevelWarn
	case "error", "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
