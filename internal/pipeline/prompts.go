package pipeline

import (
	"fmt"
	"strings"

	"sourcemind/internal/domain"
)

const analysisPromptTemplate = `You are a query analysis expert. Analyze the user's query and provide structured information.

%s

User Query: %s

Analyze and provide:
1. Query Type: Classify as "factual", "analytical", or "comparative"
   - factual: Simple fact-based questions (What is X? Who is Y?)
   - analytical: Requires analysis or explanation (How does X work? Why does Y happen?)
   - comparative: Comparing multiple things (X vs Y, differences between A and B)

2. Search Strategy: Determine "documents", "web" or "hybrid"
   - documents: USE THIS FOR ALMOST ALL QUERIES. If the query asks about any topic, concept, definition, process, or entity, assume it might be in the knowledge base.
   - hybrid: Use ONLY if the user EXPLICITLY asks for both internal documentation AND external/current web information (e.g. "Compare our internal process with industry standards").
   - web: Use ONLY for greetings, purely conversational inputs (like "how are you"), or simple thank yous. DO NOT use for informational queries even if they seem general.

3. Optimized Query: Reformulate the query for better retrieval
   - Expand acronyms and add context
   - If this is a follow-up question, incorporate context from previous conversation
   - Resolve pronouns (it, that, this) using conversation context

4. Search Parameters:
   - top_k: Number of chunks to retrieve (5-10)
   - alpha: Hybrid search weight (0.5-0.9, higher for semantic queries)

Respond in this exact JSON format:
{
    "query_type": "factual|analytical|comparative",
    "search_strategy": "documents|web|hybrid",
    "optimized_query": "reformulated query here",
    "search_params": {"top_k": 5, "alpha": 0.7}
}
`

// formatHistory renders up to the last historyTurnLimit turns with per-turn
// content truncation, for use as prompt framing.
func formatHistory(history []domain.Message) string {
	if len(history) == 0 {
		return "No previous conversation context."
	}
	recent := history
	if len(recent) > historyTurnLimit {
		recent = recent[len(recent)-historyTurnLimit:]
	}
	var parts []string
	for _, msg := range recent {
		role := "Assistant"
		if msg.Role == "user" {
			role = "User"
		}
		content := msg.Content
		if len(content) > historyContentChars {
			content = content[:historyContentChars] + "..."
		}
		parts = append(parts, fmt.Sprintf("%s: %s", role, content))
	}
	return "Previous Conversation:\n" + strings.Join(parts, "\n")
}

// buildAnalysisPrompt renders the query-analysis prompt, folding in recent
// conversation turns.
func buildAnalysisPrompt(query string, history []domain.Message) string {
	return fmt.Sprintf(analysisPromptTemplate, formatHistory(history), query)
}

const answerPromptTemplate = `You are an expert assistant. Generate a comprehensive, accurate answer based on the provided context.

%s

User Query: %s

Context from Retrieved Sources:
%s

Instructions:
1. Answer the question directly and comprehensively
2. Use ONLY information from the provided context
3. If this is a follow-up question, maintain coherence with previous conversation
4. If the context is insufficient, acknowledge the limitations
5. Be factual and precise
6. Structure your answer clearly with paragraphs
7. Reference sources using [1], [2], etc. notation where appropriate
8. If comparing items, provide balanced analysis

Generate a well-structured answer:
`

// formatContextBlocks renders each ranked chunk as a numbered, source-labeled
// block. Citation markers in the answer refer back to these 1-based indices.
func formatContextBlocks(chunks []domain.Chunk) string {
	var sb strings.Builder
	for i, chunk := range chunks {
		pageInfo := ""
		if chunk.PageNumber != nil {
			pageInfo = fmt.Sprintf(", page %d", *chunk.PageNumber)
		}
		sb.WriteString(fmt.Sprintf("[%d] From %s%s:\n%s\n\n", i+1, chunk.SourceName, pageInfo, chunk.Text))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// buildAnswerPrompt renders the grounded generation prompt. Conversation
// history is framing only; it never feeds retrieval or ranking.
func buildAnswerPrompt(query string, chunks []domain.Chunk, history []domain.Message) string {
	return fmt.Sprintf(answerPromptTemplate, formatHistory(history), query, formatContextBlocks(chunks))
}

const conversationalPrompt = `You are SourceMind, a helpful and friendly assistant. Respond naturally to greetings and general questions. Keep responses concise and warm.

User: %s
`

func buildConversationalPrompt(query string) string {
	return fmt.Sprintf(conversationalPrompt, query)
}

const titlePromptTemplate = `Write a short title (at most 6 words) summarizing the topic of this question. Output ONLY the title, no quotes, no punctuation at the end.

Question: %s
`

// BuildTitlePrompt renders the conversation-title prompt used by the
// background title worker.
func BuildTitlePrompt(query string) string {
	return fmt.Sprintf(titlePromptTemplate, query)
}
