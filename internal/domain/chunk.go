package domain

// SourceType distinguishes where a retrieved chunk came from.
type SourceType string

const (
	SourceTypeDocument SourceType = "document"
	SourceTypeWeb      SourceType = "web"
)

// Chunk is a retrieved unit of evidence with provenance and score metadata.
// Document chunks carry the scores returned by the document store; web chunks
// carry a fixed default combined score since they have no learned score.
type Chunk struct {
	ID         string
	Text       string
	SourceName string
	PageNumber *int
	SourceType SourceType
	URL        string

	VectorScore   float64
	KeywordScore  float64
	CombinedScore float64
	// RerankScore is set by the reranking stage; nil until then.
	RerankScore *float64
}

// Score returns the best available relevance score for the chunk.
func (c Chunk) Score() float64 {
	if c.RerankScore != nil {
		return *c.RerankScore
	}
	return c.CombinedScore
}

// Citation connects an answer back to the chunk it was derived from.
// Citations live and die with the answer they support.
type Citation struct {
	SourceName     string  `json:"source_name"`
	PageNumber     *int    `json:"page_number,omitempty"`
	Excerpt        string  `json:"excerpt"`
	RelevanceScore float64 `json:"relevance_score"`
	URL            string  `json:"url,omitempty"`
}
