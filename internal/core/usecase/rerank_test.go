package usecase

import (
	"math"
	"testing"

	"github.com/acrenaud/trustrag/internal/core/domain"
)

func TestRerankAuthorityFallbackIsDeterministic(t *testing.T) {
	reranker := NewTrustReranker(RerankConfig{WSimilarity: 0.6, WAuthority: 0.4}, nil)

	ranked := reranker.Rerank([]domain.Passage{{ID: "p1", Score: 0.5}})
	if len(ranked) != 1 {
		t.Fatalf("expected 1 ranked passage, got %d", len(ranked))
	}
	if ranked[0].Authority != domain.DefaultAuthorityScore {
		t.Fatalf("expected fallback authority %.2f, got %.2f", domain.DefaultAuthorityScore, ranked[0].Authority)
	}
}

func TestRerankUnparseableAuthorityFallsThrough(t *testing.T) {
	reranker := NewTrustReranker(RerankConfig{WSimilarity: 0.6, WAuthority: 0.4}, nil)

	ranked := reranker.Rerank([]domain.Passage{{
		ID:    "p1",
		Score: 0.5,
		Metadata: map[string]string{
			"source_authority_score_base": "not-a-number",
			"authority_score_base":        "0.8",
		},
	}})
	if ranked[0].Authority != 0.8 {
		t.Fatalf("expected next parseable key to win, got authority %.2f", ranked[0].Authority)
	}
}

func TestRerankBlendedScoreAndAuditMetadata(t *testing.T) {
	reranker := NewTrustReranker(RerankConfig{WSimilarity: 0.6, WAuthority: 0.4}, nil)

	original := domain.Passage{
		ID:       "p1",
		Score:    0.4,
		Metadata: map[string]string{"source_authority_score_base": "1.0"},
	}
	ranked := reranker.Rerank([]domain.Passage{original})

	want := 0.6*0.4 + 0.4*1.0
	if math.Abs(ranked[0].Final-want) > 1e-9 {
		t.Fatalf("expected final score %.4f, got %.4f", want, ranked[0].Final)
	}
	if ranked[0].Similarity != 0.4 {
		t.Fatalf("expected raw similarity preserved, got %.4f", ranked[0].Similarity)
	}
	if ranked[0].Passage.Score != ranked[0].Final {
		t.Fatalf("expected passage score replaced by final score")
	}
	if ranked[0].Passage.Metadata["trust_similarity_score"] == "" ||
		ranked[0].Passage.Metadata["trust_authority_score"] == "" ||
		ranked[0].Passage.Metadata["trust_final_score"] == "" {
		t.Fatalf("expected audit scores in metadata, got %v", ranked[0].Passage.Metadata)
	}
	if original.Metadata["trust_final_score"] != "" {
		t.Fatalf("input passage metadata must not be mutated")
	}
}

func TestRerankStableOnEqualFinalScores(t *testing.T) {
	reranker := NewTrustReranker(RerankConfig{WSimilarity: 1, WAuthority: 0}, nil)

	ranked := reranker.Rerank([]domain.Passage{
		{ID: "first", Score: 0.5},
		{ID: "second", Score: 0.5},
		{ID: "third", Score: 0.5},
	})
	for i, want := range []string{"first", "second", "third"} {
		if ranked[i].Passage.ID != want {
			t.Fatalf("tie order not stable: position %d = %s, want %s", i, ranked[i].Passage.ID, want)
		}
	}
}

func TestRerankOrdersByFinalScoreDescending(t *testing.T) {
	reranker := NewTrustReranker(RerankConfig{WSimilarity: 0.6, WAuthority: 0.4}, nil)

	ranked := reranker.Rerank([]domain.Passage{
		{ID: "low-auth", Score: 0.9, Metadata: map[string]string{"source_authority_score_base": "0.0"}},
		{ID: "high-auth", Score: 0.4, Metadata: map[string]string{"source_authority_score_base": "1.0"}},
	})
	// 0.54 for the semantic match vs 0.64 for the authoritative one.
	if ranked[0].Passage.ID != "high-auth" {
		t.Fatalf("expected authority-weighted passage first, got %s", ranked[0].Passage.ID)
	}
}

func TestRerankHardFilterDropsStrictlyBelowMinimum(t *testing.T) {
	min := 0.5
	reranker := NewTrustReranker(RerankConfig{WSimilarity: 0.6, WAuthority: 0.4, MinAuthority: &min}, nil)

	ranked := reranker.Rerank([]domain.Passage{
		{ID: "below", Score: 0.9, Metadata: map[string]string{"source_authority_score_base": "0.49"}},
		{ID: "at", Score: 0.2, Metadata: map[string]string{"source_authority_score_base": "0.5"}},
	})
	if len(ranked) != 1 || ranked[0].Passage.ID != "at" {
		t.Fatalf("expected only the passage at the threshold to survive, got %+v", ranked)
	}
}

func TestRerankEmptyInput(t *testing.T) {
	reranker := NewTrustReranker(RerankConfig{}, nil)
	if out := reranker.Rerank(nil); out != nil {
		t.Fatalf("expected nil for empty input, got %v", out)
	}
}
