package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"sourcemind/internal/domain"
)

const excerptChars = 200

var citationMarkerPattern = regexp.MustCompile(`\[(\d+)\]`)

// cite maps bracketed markers in the answer back to ranked chunks. When the
// answer carries no markers at all, every ranked chunk is cited and a
// human-readable source list is appended to the answer text.
func (p *Pipeline) cite(ctx context.Context, st *State) {
	st.AppendTrace(StageCitation)

	if len(st.RerankedChunks) == 0 {
		st.Citations = []domain.Citation{}
		return
	}

	cited := make(map[int]struct{})
	for _, match := range citationMarkerPattern.FindAllStringSubmatch(st.Answer, -1) {
		if n, err := strconv.Atoi(match[1]); err == nil {
			cited[n] = struct{}{}
		}
	}

	citations := make([]domain.Citation, 0, len(st.RerankedChunks))
	for i, chunk := range st.RerankedChunks {
		rank := i + 1
		if len(cited) > 0 {
			if _, ok := cited[rank]; !ok {
				continue // marker indices out of range are ignored implicitly
			}
		}
		citations = append(citations, citationFromChunk(chunk))
	}
	st.Citations = citations

	p.logger.InfoContext(ctx, "citations built",
		slog.String("conversation_id", st.ConversationID),
		slog.Int("markers", len(cited)),
		slog.Int("citations", len(citations)))

	// No markers means the model cited nothing inline; surface the sources
	// explicitly so the answer stays attributable.
	if len(cited) == 0 && len(citations) > 0 {
		st.Answer += formatSourcesBlock(citations)
	}
}

// citationFromChunk copies provenance verbatim from the chunk; nothing is
// re-fetched at citation-build time.
func citationFromChunk(chunk domain.Chunk) domain.Citation {
	excerpt := chunk.Text
	if len(excerpt) > excerptChars {
		excerpt = excerpt[:excerptChars]
	}
	citation := domain.Citation{
		SourceName:     chunk.SourceName,
		PageNumber:     chunk.PageNumber,
		Excerpt:        excerpt,
		RelevanceScore: chunk.Score(),
	}
	if chunk.SourceType == domain.SourceTypeWeb {
		citation.URL = chunk.URL
	}
	return citation
}

func formatSourcesBlock(citations []domain.Citation) string {
	var sb strings.Builder
	sb.WriteString("\n\nSources:\n")
	for i, c := range citations {
		pageInfo := ""
		if c.PageNumber != nil {
			pageInfo = fmt.Sprintf(", page %d", *c.PageNumber)
		}
		sb.WriteString(fmt.Sprintf("[%d] %s%s (relevance: %.2f)\n", i+1, c.SourceName, pageInfo, c.RelevanceScore))
		if c.URL != "" {
			sb.WriteString(fmt.Sprintf("    URL: %s\n", c.URL))
		}
	}
	return sb.String()
}
