package usecase

import (
	"log/slog"
	"sort"
	"strconv"

	"github.com/acrenaud/trustrag/internal/core/domain"
)

type RerankConfig struct {
	WSimilarity float64
	WAuthority  float64
	// MinAuthority drops passages strictly below it before scoring.
	// Nil disables the hard filter.
	MinAuthority *float64
}

func (c RerankConfig) normalize() RerankConfig {
	out := c
	if out.WSimilarity == 0 && out.WAuthority == 0 {
		out.WSimilarity = 0.6
		out.WAuthority = 0.4
	}
	return out
}

// TrustReranker reorders passages by a blend of retrieval similarity and
// source authority so high-authority sources are not systematically outranked
// by superficially better semantic matches. The weights are taken as given;
// they are not required to sum to 1.
type TrustReranker struct {
	cfg    RerankConfig
	logger *slog.Logger
}

func NewTrustReranker(cfg RerankConfig, logger *slog.Logger) *TrustReranker {
	if logger == nil {
		logger = slog.Default()
	}
	return &TrustReranker{cfg: cfg.normalize(), logger: logger}
}

// Rerank scores and reorders the passages. Ordering is descending final
// score with input order retained on ties, so identical inputs always
// produce identical output. The retrieval similarity survives on the ranked
// passage and in audit metadata; only Passage.Score is replaced.
func (r *TrustReranker) Rerank(passages []domain.Passage) []domain.RankedPassage {
	if len(passages) == 0 {
		return nil
	}

	ranked := make([]domain.RankedPassage, 0, len(passages))
	for _, p := range passages {
		authority := authorityFromMetadata(p.Metadata)
		if r.cfg.MinAuthority != nil && authority < *r.cfg.MinAuthority {
			r.logger.Debug("passage dropped by authority filter",
				"passage_id", p.ID, "authority", authority, "min_authority", *r.cfg.MinAuthority)
			continue
		}

		similarity := p.Score
		final := r.cfg.WSimilarity*similarity + r.cfg.WAuthority*authority

		annotated := p
		annotated.Metadata = cloneMetadata(p.Metadata)
		annotated.Metadata["trust_similarity_score"] = formatScore(similarity)
		annotated.Metadata["trust_authority_score"] = formatScore(authority)
		annotated.Metadata["trust_final_score"] = formatScore(final)
		annotated.Score = final

		ranked = append(ranked, domain.RankedPassage{
			Passage:    annotated,
			Similarity: similarity,
			Authority:  authority,
			Final:      final,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Final > ranked[j].Final
	})

	r.logger.Debug("reranking done", "in", len(passages), "out", len(ranked))
	return ranked
}

// authorityFromMetadata walks the fixed key precedence and falls back to the
// public/general tier. The fallback is deterministic: it directly affects
// ranking fairness, so an unknown source never errors and never floats.
func authorityFromMetadata(md map[string]string) float64 {
	for _, key := range domain.AuthorityMetadataKeys {
		raw, ok := md[key]
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		return v
	}
	return domain.DefaultAuthorityScore
}

func cloneMetadata(md map[string]string) map[string]string {
	out := make(map[string]string, len(md)+3)
	for k, v := range md {
		out[k] = v
	}
	return out
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
