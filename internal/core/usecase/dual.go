package usecase

import (
	"context"
	"log/slog"
	"strings"

	"github.com/acrenaud/trustrag/internal/core/domain"
	"github.com/acrenaud/trustrag/internal/core/ports"
)

type DualRetrieverConfig struct {
	TopKVector int
	TopKKG     int
	// OnSourceFailure is invoked with "vector" or "kg" whenever a source
	// call fails and is absorbed as an empty result. Optional; used for
	// failure accounting.
	OnSourceFailure func(source string)
}

func (c DualRetrieverConfig) normalize() DualRetrieverConfig {
	out := c
	if out.TopKVector <= 0 {
		out.TopKVector = 8
	}
	if out.TopKKG <= 0 {
		out.TopKKG = 8
	}
	return out
}

// DualSourceRetriever issues one logical retrieval against the vector index
// and the knowledge graph. The two sub-calls are independent: a transient
// failure in one contributes empty results for that source only.
type DualSourceRetriever struct {
	cfg    DualRetrieverConfig
	vector ports.VectorIndex
	facts  ports.FactSearcher
	logger *slog.Logger
}

func NewDualSourceRetriever(
	cfg DualRetrieverConfig,
	vector ports.VectorIndex,
	facts ports.FactSearcher,
	logger *slog.Logger,
) *DualSourceRetriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &DualSourceRetriever{
		cfg:    cfg.normalize(),
		vector: vector,
		facts:  facts,
		logger: logger,
	}
}

// Retrieve never fails on a source error; an empty query is an explicit
// early exit with no calls made.
func (r *DualSourceRetriever) Retrieve(ctx context.Context, query string) domain.RetrievalResult {
	query = strings.TrimSpace(query)
	if query == "" {
		return domain.RetrievalResult{}
	}

	passages, err := r.vector.Retrieve(ctx, query, r.cfg.TopKVector)
	if err != nil {
		r.logger.Warn("vector retrieval failed, continuing with zero passages",
			"query", query, "error", err)
		r.noteFailure("vector")
		passages = nil
	}

	facts, err := r.facts.Search(ctx, query, r.cfg.TopKKG)
	if err != nil {
		r.logger.Warn("knowledge graph search failed, continuing with zero facts",
			"query", query, "error", err)
		r.noteFailure("kg")
		facts = nil
	}

	r.logger.Debug("dual retrieval done",
		"query", query, "passages", len(passages), "facts", len(facts))

	return domain.RetrievalResult{Passages: passages, Facts: facts}
}

func (r *DualSourceRetriever) noteFailure(source string) {
	if r.cfg.OnSourceFailure != nil {
		r.cfg.OnSourceFailure(source)
	}
}
