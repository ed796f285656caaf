package pipeline

import (
	"context"
	"log/slog"
	"strings"
)

const (
	conversationalMaxTokens = 150
	answerMaxTokens         = 800
)

// Fixed user-visible texts. Upstream failures always surface as one of these,
// never as a raw error payload.
const (
	fallbackGreeting           = "Hello! How can I help you today?"
	insufficientContextMessage = "I don't have enough information to answer this question. " +
		"Please try uploading relevant documents or rephrasing your query."
	generationErrorMessage = "I encountered an error while generating the answer. Please try again."
)

var greetingPhrases = map[string]struct{}{
	"hi": {}, "hello": {}, "hey": {}, "thanks": {}, "thank you": {}, "bye": {}, "goodbye": {},
}

var greetingPrefixes = []string{
	"hi ", "hello ", "hey ", "how are you", "what's up",
	"good morning", "good afternoon", "good evening",
}

// isConversational reports whether the query is small talk that needs no
// document context: very short, a known greeting phrase, or a greeting prefix.
func isConversational(query string) bool {
	if len(strings.Fields(query)) <= 3 {
		return true
	}
	lower := strings.ToLower(strings.TrimSpace(query))
	if _, ok := greetingPhrases[lower]; ok {
		return true
	}
	for _, prefix := range greetingPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// generate produces the final answer text. Two context-free paths short-circuit
// before any document context is consulted; otherwise one grounded generation
// call answers strictly from the ranked chunks.
func (p *Pipeline) generate(ctx context.Context, st *State) {
	st.AppendTrace(StageGeneration)

	if len(st.RerankedChunks) == 0 {
		if isConversational(st.Query) {
			p.generateConversational(ctx, st)
			return
		}
		st.Answer = insufficientContextMessage
		st.Reasoning = "No relevant context found"
		p.logger.WarnContext(ctx, "no context available for generation",
			slog.String("conversation_id", st.ConversationID))
		return
	}

	prompt := buildAnswerPrompt(st.Query, st.RerankedChunks, st.ChatHistory)

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.GenerateTimeout)
	defer cancel()

	resp, err := p.llm.Generate(callCtx, prompt, answerMaxTokens)
	if err != nil {
		p.logger.ErrorContext(ctx, "answer generation failed",
			slog.String("conversation_id", st.ConversationID),
			slog.String("error", err.Error()))
		st.Answer = generationErrorMessage
		st.Reasoning = "Error: " + err.Error()
		return
	}

	st.Answer = strings.TrimSpace(resp.Text)
	st.Reasoning = "Generated answer from retrieved sources"

	p.logger.InfoContext(ctx, "answer generated",
		slog.String("conversation_id", st.ConversationID),
		slog.Int("answer_chars", len(st.Answer)),
		slog.Int("context_chunks", len(st.RerankedChunks)))
}

// generateConversational answers small talk with a short friendly reply and no
// retrieved context. Call failures degrade to a fixed greeting.
func (p *Pipeline) generateConversational(ctx context.Context, st *State) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.GenerateTimeout)
	defer cancel()

	resp, err := p.llm.Generate(callCtx, buildConversationalPrompt(st.Query), conversationalMaxTokens)
	if err != nil {
		p.logger.ErrorContext(ctx, "conversational generation failed",
			slog.String("conversation_id", st.ConversationID),
			slog.String("error", err.Error()))
		st.Answer = fallbackGreeting
		st.Reasoning = "Error: " + err.Error()
		return
	}

	st.Answer = strings.TrimSpace(resp.Text)
	st.Reasoning = "Responded to conversational query without document context"
}
