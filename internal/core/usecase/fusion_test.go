package usecase

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/acrenaud/trustrag/internal/core/domain"
	"github.com/acrenaud/trustrag/internal/core/ports"
)

type fakeChatModel struct {
	response string
	err      error
	calls    int
}

func (f *fakeChatModel) Chat(_ context.Context, _ []ports.ChatMessage, _ float64) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

// queryAwareVectorIndex returns passages keyed by query so fan-out merge
// order can be observed.
type queryAwareVectorIndex struct {
	mu       sync.Mutex
	byQuery  map[string][]domain.Passage
	received []string
}

func (f *queryAwareVectorIndex) Retrieve(_ context.Context, query string, _ int) ([]domain.Passage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, query)
	return f.byQuery[query], nil
}

type emptyFactSearcher struct{}

func (emptyFactSearcher) Search(_ context.Context, _ string, _ int) ([]domain.Fact, error) {
	return nil, nil
}

func newFusionEngine(cfg FusionConfig, vector ports.VectorIndex, facts ports.FactSearcher, model ports.ChatModel) *QueryFusionEngine {
	retriever := NewDualSourceRetriever(DualRetrieverConfig{}, vector, facts, nil)
	return NewQueryFusionEngine(cfg, retriever, model, nil)
}

func TestFusionOriginalQueryAlwaysFirst(t *testing.T) {
	model := &fakeChatModel{response: "variant a\nvariant b\nvariant c"}
	vector := &queryAwareVectorIndex{byQuery: map[string][]domain.Passage{}}
	engine := newFusionEngine(FusionConfig{Enabled: true, NumVariants: 4}, vector, emptyFactSearcher{}, model)

	fused := engine.Retrieve(context.Background(), "original question")
	if len(fused.Queries) != 4 {
		t.Fatalf("expected 4 queries, got %d: %v", len(fused.Queries), fused.Queries)
	}
	if fused.Queries[0] != "original question" {
		t.Fatalf("expected original question first, got %q", fused.Queries[0])
	}
}

func TestFusionDropsDuplicateVariants(t *testing.T) {
	model := &fakeChatModel{response: "same question\nsame question\nfresh variant"}
	vector := &queryAwareVectorIndex{byQuery: map[string][]domain.Passage{}}
	engine := newFusionEngine(FusionConfig{Enabled: true, NumVariants: 4}, vector, emptyFactSearcher{}, model)

	fused := engine.Retrieve(context.Background(), "same question")
	want := []string{"same question", "fresh variant"}
	if !reflect.DeepEqual(fused.Queries, want) {
		t.Fatalf("expected %v, got %v", want, fused.Queries)
	}
}

func TestFusionDegradesOnModelError(t *testing.T) {
	model := &fakeChatModel{err: fmt.Errorf("model down")}
	vector := &queryAwareVectorIndex{byQuery: map[string][]domain.Passage{
		"q": {{ID: "p1", Text: "text"}},
	}}
	engine := newFusionEngine(FusionConfig{Enabled: true, NumVariants: 4}, vector, emptyFactSearcher{}, model)

	fused := engine.Retrieve(context.Background(), "q")
	if len(fused.Queries) != 1 || fused.Queries[0] != "q" {
		t.Fatalf("expected single-query fallback, got %v", fused.Queries)
	}
	if len(fused.Passages) != 1 {
		t.Fatalf("expected retrieval to proceed after degradation, got %d passages", len(fused.Passages))
	}
}

func TestFusionDisabledUsesOnlyOriginal(t *testing.T) {
	model := &fakeChatModel{response: "variant"}
	vector := &queryAwareVectorIndex{byQuery: map[string][]domain.Passage{}}
	engine := newFusionEngine(FusionConfig{Enabled: false}, vector, emptyFactSearcher{}, model)

	fused := engine.Retrieve(context.Background(), "q")
	if len(fused.Queries) != 1 {
		t.Fatalf("expected only the original query, got %v", fused.Queries)
	}
	if model.calls != 0 {
		t.Fatalf("expected no model calls when fusion disabled, got %d", model.calls)
	}
}

func TestFusionNilModelDisablesVariants(t *testing.T) {
	vector := &queryAwareVectorIndex{byQuery: map[string][]domain.Passage{}}
	engine := newFusionEngine(FusionConfig{Enabled: true}, vector, emptyFactSearcher{}, nil)

	fused := engine.Retrieve(context.Background(), "q")
	if len(fused.Queries) != 1 || fused.Queries[0] != "q" {
		t.Fatalf("expected single-query fallback without model, got %v", fused.Queries)
	}
}

func TestFusionDedupIdempotence(t *testing.T) {
	passages := []domain.Passage{
		{ID: "p1", Text: "alpha", Score: 0.9},
		{ID: "p2", Text: "beta", Score: 0.7},
	}
	facts := []domain.Fact{{ID: "f1", Subject: "s", Relation: "r", Object: "o"}}

	single := fuseLists(t, [][]domain.Passage{passages}, [][]domain.Fact{facts})
	twice := fuseLists(t, [][]domain.Passage{passages, passages}, [][]domain.Fact{facts, facts})

	if !reflect.DeepEqual(single.Passages, twice.Passages) {
		t.Fatalf("passage dedup not idempotent: %v vs %v", single.Passages, twice.Passages)
	}
	if !reflect.DeepEqual(single.Facts, twice.Facts) {
		t.Fatalf("fact dedup not idempotent: %v vs %v", single.Facts, twice.Facts)
	}
}

func TestFusionMergePreservesFirstSeenOrder(t *testing.T) {
	model := &fakeChatModel{response: "variant"}
	vector := &queryAwareVectorIndex{byQuery: map[string][]domain.Passage{
		"original": {{ID: "p1", Text: "first"}, {ID: "p2", Text: "second"}},
		"variant":  {{ID: "p2", Text: "second"}, {ID: "p3", Text: "third"}},
	}}
	engine := newFusionEngine(FusionConfig{Enabled: true, NumVariants: 2}, vector, emptyFactSearcher{}, model)

	fused := engine.Retrieve(context.Background(), "original")
	got := make([]string, 0, len(fused.Passages))
	for _, p := range fused.Passages {
		got = append(got, p.ID)
	}
	want := []string{"p1", "p2", "p3"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected first-seen order %v, got %v", want, got)
	}
}

func TestFusionKeepsFactsWithoutIdentifier(t *testing.T) {
	anonymous := domain.Fact{Subject: "s", Relation: "r", Object: "o"}
	facts := dedupeFacts([]domain.Fact{anonymous, anonymous, {ID: "f1"}, {ID: "f1"}})
	if len(facts) != 3 {
		t.Fatalf("expected 3 facts (two anonymous kept, one deduped), got %d", len(facts))
	}
}

func TestFusionVariantPromptAsksForNMinusOne(t *testing.T) {
	var captured string
	model := &captureChatModel{out: "v1\nv2\nv3", captured: &captured}
	vector := &queryAwareVectorIndex{byQuery: map[string][]domain.Passage{}}
	engine := newFusionEngine(FusionConfig{Enabled: true, NumVariants: 4}, vector, emptyFactSearcher{}, model)

	engine.Retrieve(context.Background(), "q")
	if !strings.Contains(captured, "Generate 3 different rephrasings") {
		t.Fatalf("expected prompt to ask for 3 rephrasings, got %q", captured)
	}
}

type captureChatModel struct {
	out      string
	captured *string
}

func (c *captureChatModel) Chat(_ context.Context, messages []ports.ChatMessage, _ float64) (string, error) {
	for _, m := range messages {
		if m.Role == ports.RoleUser {
			*c.captured = m.Content
		}
	}
	return c.out, nil
}

func fuseLists(t *testing.T, passageLists [][]domain.Passage, factLists [][]domain.Fact) domain.FusedResult {
	t.Helper()
	var passages []domain.Passage
	for _, l := range passageLists {
		passages = append(passages, l...)
	}
	var facts []domain.Fact
	for _, l := range factLists {
		facts = append(facts, l...)
	}
	return domain.FusedResult{Passages: dedupePassages(passages), Facts: dedupeFacts(facts)}
}
