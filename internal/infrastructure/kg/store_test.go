package kg

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/acrenaud/trustrag/internal/core/domain"
)

func writeTriples(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kg_facts.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write triples: %v", err)
	}
	return path
}

func TestLoadDiscardsLowAuthorityTriples(t *testing.T) {
	path := writeTriples(t, `[
		{"id":"t1","subject":"Apple","relation":"hasLongTermDebt","object":"$10B","authority_score":1.0},
		{"id":"t2","subject":"Apple","relation":"rumoredRevenue","object":"$1B","authority_score":0.1}
	]`)

	store, err := Load(path, 0.5, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 triple after authority floor, got %d", store.Len())
	}

	facts, err := store.Search(context.Background(), "rumored revenue", 8)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(facts) != 0 {
		t.Fatalf("discarded triple must never match, got %v", facts)
	}
}

func TestLoadMissingFileIsConfigurationError(t *testing.T) {
	_, err := Load("/nonexistent/kg_facts.json", 0, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestSearchScoresByOverlapTimesAuthority(t *testing.T) {
	path := writeTriples(t, `[
		{"id":"t1","subject":"Apple","relation":"hasLongTermDebt","object":"ten billion","authority_score":1.0},
		{"id":"t2","subject":"Apple","relation":"hasRevenue","object":"ninety billion","authority_score":0.3}
	]`)

	store, err := Load(path, 0, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	facts, err := store.Search(context.Background(), "apple billion", 8)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(facts) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(facts))
	}
	// Both overlap on 2 tokens; authority 1.0 scores 4.0 vs 2.6.
	if facts[0].ID != "t1" {
		t.Fatalf("expected authoritative triple first, got %s", facts[0].ID)
	}
	if facts[0].Score != 4.0 {
		t.Fatalf("expected score 4.0, got %.2f", facts[0].Score)
	}
}

func TestSearchExcludesZeroOverlap(t *testing.T) {
	store := NewFromTriples([]domain.Fact{
		{ID: "t1", Subject: "Apple", Relation: "hasDebt", Object: "ten billion", Authority: 1.0},
	}, 0, nil)

	facts, err := store.Search(context.Background(), "zebra migration", 8)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(facts) != 0 {
		t.Fatalf("expected no matches without token overlap, got %v", facts)
	}
}

func TestSearchTieBreaksByAuthorityThenOrder(t *testing.T) {
	store := NewFromTriples([]domain.Fact{
		{ID: "low-first", Subject: "apple debt", Authority: 0.3},
		{ID: "high", Subject: "apple debt", Authority: 0.3000001},
		{ID: "low-second", Subject: "apple debt", Authority: 0.3},
	}, 0, nil)

	facts, err := store.Search(context.Background(), "apple debt", 8)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	// Scores differ through authority weighting, so the higher-authority
	// triple wins; equal triples keep load order.
	if facts[0].ID != "high" {
		t.Fatalf("expected higher authority first, got %s", facts[0].ID)
	}
	if facts[1].ID != "low-first" || facts[2].ID != "low-second" {
		t.Fatalf("expected stable load order on ties, got %s then %s", facts[1].ID, facts[2].ID)
	}
}

func TestSearchEmptyQueryReturnsNothing(t *testing.T) {
	store := NewFromTriples([]domain.Fact{{ID: "t1", Subject: "apple"}}, 0, nil)

	facts, err := store.Search(context.Background(), "   ", 8)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(facts) != 0 {
		t.Fatalf("expected empty result for whitespace query, got %v", facts)
	}
}

func TestSearchRespectsTopK(t *testing.T) {
	store := NewFromTriples([]domain.Fact{
		{ID: "t1", Subject: "apple one"},
		{ID: "t2", Subject: "apple two"},
		{ID: "t3", Subject: "apple three"},
	}, 0, nil)

	facts, err := store.Search(context.Background(), "apple", 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(facts) != 2 {
		t.Fatalf("expected topK=2 facts, got %d", len(facts))
	}
}

func TestQueryTokensSplitsOnAlphanumericBoundaries(t *testing.T) {
	got := QueryTokens("Apple's long-term debt, long-term!")
	want := []string{"apple", "s", "long", "term", "debt"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestQueryTokensEmptyInput(t *testing.T) {
	if got := QueryTokens(" ?! "); len(got) != 0 {
		t.Fatalf("expected no tokens, got %v", got)
	}
}
