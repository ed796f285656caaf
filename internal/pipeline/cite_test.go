package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"sourcemind/internal/domain"
)

func rankedChunk(id, source, text string, rerank float64) domain.Chunk {
	c := docChunk(id, source, text, rerank)
	c.RerankScore = &rerank
	return c
}

func TestCite_MarkersSelectChunks(t *testing.T) {
	p := newTestPipeline(testDeps{})

	st := NewState("q", "conv-1")
	st.Answer = "Gallium melts at 30 C [1] and boils at 2400 C [3]."
	st.RerankedChunks = []domain.Chunk{
		rankedChunk("c1", "a.pdf", "melts at 30", 0.9),
		rankedChunk("c2", "a.pdf", "irrelevant", 0.8),
		rankedChunk("c3", "b.pdf", "boils at 2400", 0.7),
	}

	p.cite(context.Background(), st)

	if assert.Len(t, st.Citations, 2) {
		assert.Equal(t, "a.pdf", st.Citations[0].SourceName)
		assert.Equal(t, "melts at 30", st.Citations[0].Excerpt)
		assert.Equal(t, 0.9, st.Citations[0].RelevanceScore)
		assert.Equal(t, "b.pdf", st.Citations[1].SourceName)
	}
	assert.NotContains(t, st.Answer, "Sources:")
}

func TestCite_RepeatedMarkerCitedOnce(t *testing.T) {
	p := newTestPipeline(testDeps{})

	st := NewState("q", "conv-1")
	st.Answer = "First [1], again [1], and once more [1]."
	st.RerankedChunks = []domain.Chunk{
		rankedChunk("c1", "a.pdf", "text", 0.9),
		rankedChunk("c2", "b.pdf", "text", 0.8),
	}

	p.cite(context.Background(), st)

	assert.Len(t, st.Citations, 1)
}

func TestCite_OutOfRangeMarkersIgnored(t *testing.T) {
	p := newTestPipeline(testDeps{})

	st := NewState("q", "conv-1")
	st.Answer = "Claim [1] and bogus [7] and [0]."
	st.RerankedChunks = []domain.Chunk{
		rankedChunk("c1", "a.pdf", "text", 0.9),
	}

	p.cite(context.Background(), st)

	assert.Len(t, st.Citations, 1)
	assert.Equal(t, "a.pdf", st.Citations[0].SourceName)
}

func TestCite_NoMarkersCitesAllAndAppendsSources(t *testing.T) {
	p := newTestPipeline(testDeps{})

	page := 12
	web := domain.Chunk{
		ID:         "web_0",
		Text:       "web snippet",
		SourceName: "Some Page",
		SourceType: domain.SourceTypeWeb,
		URL:        "http://example.com/page",
	}
	score := 0.45
	web.RerankScore = &score

	st := NewState("q", "conv-1")
	st.Answer = "An answer without any markers."
	docCited := rankedChunk("c1", "a.pdf", "doc text", 0.9)
	docCited.PageNumber = &page
	st.RerankedChunks = []domain.Chunk{docCited, web}

	p.cite(context.Background(), st)

	assert.Len(t, st.Citations, 2)
	assert.Contains(t, st.Answer, "\n\nSources:\n")
	assert.Contains(t, st.Answer, "[1] a.pdf, page 12 (relevance: 0.90)")
	assert.Contains(t, st.Answer, "[2] Some Page (relevance: 0.45)")
	assert.Contains(t, st.Answer, "    URL: http://example.com/page")

	// Web citations carry their URL; document citations do not.
	assert.Empty(t, st.Citations[0].URL)
	assert.Equal(t, "http://example.com/page", st.Citations[1].URL)
}

func TestCite_NoChunks(t *testing.T) {
	p := newTestPipeline(testDeps{})

	st := NewState("q", "conv-1")
	st.Answer = "I don't know [1]."

	p.cite(context.Background(), st)

	assert.NotNil(t, st.Citations)
	assert.Empty(t, st.Citations)
	assert.NotContains(t, st.Answer, "Sources:")
}

func TestCite_ExcerptTruncatedTo200Chars(t *testing.T) {
	p := newTestPipeline(testDeps{})

	long := strings.Repeat("x", 300)
	st := NewState("q", "conv-1")
	st.Answer = "Answer [1]."
	st.RerankedChunks = []domain.Chunk{rankedChunk("c1", "a.pdf", long, 0.9)}

	p.cite(context.Background(), st)

	if assert.Len(t, st.Citations, 1) {
		assert.Len(t, st.Citations[0].Excerpt, 200)
	}
}

func TestCitationFromChunk_UsesRerankScoreWhenPresent(t *testing.T) {
	chunk := docChunk("c1", "a.pdf", "text", 0.8)
	assert.Equal(t, 0.8, citationFromChunk(chunk).RelevanceScore)

	rerank := 0.95
	chunk.RerankScore = &rerank
	assert.Equal(t, 0.95, citationFromChunk(chunk).RelevanceScore)
}
