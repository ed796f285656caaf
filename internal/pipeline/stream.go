package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"sourcemind/internal/domain"
)

// EventKind identifies a streaming event.
type EventKind string

const (
	EventKindStart    EventKind = "start"
	EventKindStatus   EventKind = "status"
	EventKindToken    EventKind = "token"
	EventKindComplete EventKind = "complete"
	EventKindError    EventKind = "error"
)

// Event is one element of the ordered stream emitted by Stream: a start event,
// repeated status and token events, then exactly one complete or error event.
type Event struct {
	Kind    EventKind   `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// StartPayload announces the conversation id for the run.
type StartPayload struct {
	ConversationID string `json:"conversation_id"`
}

// CompletePayload is the terminal summary of a successful streamed run.
type CompletePayload struct {
	Citations      []domain.Citation `json:"citations"`
	ConversationID string            `json:"conversation_id"`
	QueryType      string            `json:"query_type"`
	UsedWebSearch  bool              `json:"used_web_search"`
	Trace          []string          `json:"trace"`
}

// Stream runs the pipeline with incremental answer delivery. Stages 1-4 run to
// completion, then generation switches to a token producer. Cancelling ctx
// stops token emission; persistence already issued is allowed to finish.
func (p *Pipeline) Stream(ctx context.Context, query, conversationID string) <-chan Event {
	events := make(chan Event, 4)
	go func() {
		defer close(events)
		p.runStream(ctx, events, query, conversationID)
	}()
	return events
}

func (p *Pipeline) runStream(ctx context.Context, events chan<- Event, query, conversationID string) {
	st := p.newRun(ctx, query, conversationID)
	newConversation := conversationID == ""

	if ok := p.initialize(ctx, st); !ok {
		p.sendEvent(ctx, events, Event{Kind: EventKindError, Payload: st.Answer})
		return
	}

	// The user turn is persisted up front so the conversation exists even if
	// the client disconnects mid-stream. Detached from ctx: cancellation must
	// not roll back an already-issued write.
	p.persistUserMessage(context.WithoutCancel(ctx), st, newConversation)

	if !p.sendEvent(ctx, events, Event{Kind: EventKindStart, Payload: StartPayload{ConversationID: st.ConversationID}}) {
		return
	}

	if !p.sendEvent(ctx, events, Event{Kind: EventKindStatus, Payload: "Analyzing query..."}) {
		return
	}
	p.classify(ctx, st)

	if !p.sendEvent(ctx, events, Event{Kind: EventKindStatus, Payload: "Searching documents..."}) {
		return
	}
	p.fetch(ctx, st)

	if !p.sendEvent(ctx, events, Event{Kind: EventKindStatus, Payload: "Ranking results..."}) {
		return
	}
	p.rank(ctx, st)

	if !p.sendEvent(ctx, events, Event{Kind: EventKindStatus, Payload: "Generating answer..."}) {
		return
	}
	if !p.streamGeneration(ctx, events, st) {
		return
	}

	p.cite(ctx, st)

	if p.conversations != nil {
		saveCtx := context.WithoutCancel(ctx)
		if err := p.conversations.AppendMessage(saveCtx, st.ConversationID, "assistant", st.Answer, st.Citations); err != nil {
			p.logger.Error("failed to save assistant message",
				slog.String("conversation_id", st.ConversationID),
				slog.String("error", err.Error()))
		}
	}

	p.sendEvent(ctx, events, Event{Kind: EventKindComplete, Payload: CompletePayload{
		Citations:      st.Citations,
		ConversationID: st.ConversationID,
		QueryType:      st.QueryType,
		UsedWebSearch:  st.UsedWebSearch,
		Trace:          st.Trace(),
	}})
}

// streamGeneration is the incremental counterpart of generate. The context-free
// paths emit their fixed or short reply as a single token; the grounded path
// forwards model fragments as they arrive. Returns false when the client went
// away and the stream must stop.
func (p *Pipeline) streamGeneration(ctx context.Context, events chan<- Event, st *State) bool {
	st.AppendTrace(StageGeneration)

	if len(st.RerankedChunks) == 0 {
		if isConversational(st.Query) {
			p.generateConversational(ctx, st)
		} else {
			st.Answer = insufficientContextMessage
			st.Reasoning = "No relevant context found"
		}
		return p.sendEvent(ctx, events, Event{Kind: EventKindToken, Payload: st.Answer})
	}

	prompt := buildAnswerPrompt(st.Query, st.RerankedChunks, st.ChatHistory)

	genCtx, cancel := context.WithTimeout(ctx, p.cfg.GenerateTimeout)
	defer cancel()

	chunkCh, errCh, err := p.llm.GenerateStream(genCtx, prompt, answerMaxTokens)
	if err != nil {
		p.logger.ErrorContext(ctx, "streamed generation setup failed",
			slog.String("conversation_id", st.ConversationID),
			slog.String("error", err.Error()))
		st.Answer = generationErrorMessage
		st.Reasoning = "Error: " + err.Error()
		return p.sendEvent(ctx, events, Event{Kind: EventKindToken, Payload: st.Answer})
	}

	var builder strings.Builder
	for chunkCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return false
		case chunk, ok := <-chunkCh:
			if !ok {
				chunkCh = nil
				continue
			}
			if chunk.Response != "" {
				builder.WriteString(chunk.Response)
				if !p.sendEvent(ctx, events, Event{Kind: EventKindToken, Payload: chunk.Response}) {
					return false
				}
			}
			if chunk.Done {
				chunkCh = nil
				errCh = nil
			}
		case streamErr, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			p.logger.ErrorContext(ctx, "streamed generation failed",
				slog.String("conversation_id", st.ConversationID),
				slog.String("error", streamErr.Error()))
			st.Answer = generationErrorMessage
			st.Reasoning = "Error: " + streamErr.Error()
			return p.sendEvent(ctx, events, Event{Kind: EventKindToken, Payload: st.Answer})
		}
	}

	st.Answer = strings.TrimSpace(builder.String())
	st.Reasoning = "Generated answer from retrieved sources"
	return true
}

// persistUserMessage stores the user turn and, for new conversations, a
// provisional title. Failures are logged and swallowed.
func (p *Pipeline) persistUserMessage(ctx context.Context, st *State, newConversation bool) {
	if p.conversations == nil {
		return
	}
	if err := p.conversations.AppendMessage(ctx, st.ConversationID, "user", st.Query, nil); err != nil {
		p.logger.Error("failed to save user message",
			slog.String("conversation_id", st.ConversationID),
			slog.String("error", err.Error()))
		return
	}
	if newConversation {
		if err := p.conversations.SetTitle(ctx, st.ConversationID, placeholderTitle(st.Query), false); err != nil {
			p.logger.Warn("failed to save conversation title",
				slog.String("conversation_id", st.ConversationID),
				slog.String("error", err.Error()))
		}
	}
}

// sendEvent delivers an event unless the consumer is gone.
func (p *Pipeline) sendEvent(ctx context.Context, events chan<- Event, event Event) bool {
	select {
	case <-ctx.Done():
		return false
	case events <- event:
		return true
	}
}
