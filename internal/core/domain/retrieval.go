package domain

// Metadata keys checked, in order, when extracting a source authority score
// from a passage. The first key that is present and parseable wins.
var AuthorityMetadataKeys = []string{
	"source_authority_score_base",
	"authority_score_base",
	"v4_authority_score",
}

// DefaultAuthorityScore is the public/general tier, used whenever a passage
// carries no parseable authority metadata.
const DefaultAuthorityScore = 0.3

// Passage is one retrieved unit of unstructured text. Owned by the retrieval
// source and read-only downstream; Score holds the source-defined similarity
// until the reranker replaces it with the blended final score.
type Passage struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Score    float64           `json:"score"`
	Source   string            `json:"source"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Fact is a structured subject-relation-object triple from the knowledge
// graph. Immutable once retrieved.
type Fact struct {
	ID        string            `json:"id"`
	Subject   string            `json:"subject"`
	Relation  string            `json:"relation"`
	Object    string            `json:"object"`
	Score     float64           `json:"score"`
	Authority float64           `json:"authority_score"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// RetrievalResult pairs the passages and facts returned for one query.
type RetrievalResult struct {
	Passages []Passage `json:"passages"`
	Facts    []Fact    `json:"facts"`
}

func (r RetrievalResult) Empty() bool {
	return len(r.Passages) == 0 && len(r.Facts) == 0
}

// FusedResult is the deduplicated union of the retrieval results for every
// query variant of one request. Queries[0] is always the original question.
type FusedResult struct {
	Passages []Passage `json:"passages"`
	Facts    []Fact    `json:"facts"`
	Queries  []string  `json:"queries"`
}

// RankedPassage annotates a passage with the three scores the reranker
// computed for it. Instances are never mutated after creation; rescoring
// produces a new one.
type RankedPassage struct {
	Passage    Passage `json:"passage"`
	Similarity float64 `json:"similarity"`
	Authority  float64 `json:"authority"`
	Final      float64 `json:"final"`
}
