package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/acrenaud/trustrag/internal/core/domain"
	"github.com/acrenaud/trustrag/internal/core/ports"
)

type FusionConfig struct {
	Enabled       bool
	NumVariants   int
	Temperature   float64
	FanOutTimeout time.Duration
}

func (c FusionConfig) normalize() FusionConfig {
	out := c
	if out.NumVariants <= 0 {
		out.NumVariants = 4
	}
	if out.Temperature <= 0 {
		out.Temperature = 0.3
	}
	if out.FanOutTimeout <= 0 {
		out.FanOutTimeout = 20 * time.Second
	}
	return out
}

const variantSystemPrompt = `You are an assistant specialized in information retrieval.
Given a user question, propose natural rephrasings that preserve the same meaning,
to improve recall when searching a knowledge base.

Constraints:
- one rephrasing per line
- no numbering
- no surrounding commentary, only the rephrasings`

// QueryFusionEngine broadens recall by rephrasing the question, fanning the
// rephrasings out through the dual retriever, and merging the results with
// first-wins deduplication. Variant generation degrades to the original
// question alone whenever the model is unconfigured or erroring; that is the
// designed fallback, never an error.
type QueryFusionEngine struct {
	cfg       FusionConfig
	retriever *DualSourceRetriever
	model     ports.ChatModel
	logger    *slog.Logger
}

func NewQueryFusionEngine(
	cfg FusionConfig,
	retriever *DualSourceRetriever,
	model ports.ChatModel,
	logger *slog.Logger,
) *QueryFusionEngine {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.normalize()
	if cfg.Enabled && model == nil {
		logger.Warn("query fusion enabled but no chat model configured, variant generation disabled")
		cfg.Enabled = false
	}
	return &QueryFusionEngine{
		cfg:       cfg,
		retriever: retriever,
		model:     model,
		logger:    logger,
	}
}

// Retrieve runs the full fusion sequence for one question. The original
// question is always Queries[0] of the result.
func (e *QueryFusionEngine) Retrieve(ctx context.Context, question string) domain.FusedResult {
	question = strings.TrimSpace(question)
	if question == "" {
		return domain.FusedResult{}
	}

	queries := e.generateVariants(ctx, question)
	e.logger.Debug("fusion queries generated", "queries", queries)

	results := e.fanOut(ctx, queries)

	var passages []domain.Passage
	var facts []domain.Fact
	for _, res := range results {
		passages = append(passages, res.Passages...)
		facts = append(facts, res.Facts...)
	}

	fused := domain.FusedResult{
		Passages: dedupePassages(passages),
		Facts:    dedupeFacts(facts),
		Queries:  queries,
	}

	e.logger.Info("query fusion merged",
		"question", question,
		"queries", len(queries),
		"passages", len(fused.Passages),
		"facts", len(fused.Facts))

	return fused
}

// generateVariants returns the original question first, followed by up to
// NumVariants-1 model rephrasings. Exact duplicates are dropped.
func (e *QueryFusionEngine) generateVariants(ctx context.Context, question string) []string {
	if !e.cfg.Enabled || e.model == nil {
		return []string{question}
	}

	messages := []ports.ChatMessage{
		{Role: ports.RoleSystem, Content: variantSystemPrompt},
		{Role: ports.RoleUser, Content: fmt.Sprintf(
			"User question:\n%s\n\nGenerate %d different rephrasings.",
			question, e.cfg.NumVariants-1,
		)},
	}

	raw, err := e.model.Chat(ctx, messages, e.cfg.Temperature)
	if err != nil {
		e.logger.Warn("variant generation failed, falling back to single query",
			"question", question, "error", err)
		return []string{question}
	}

	all := []string{question}
	for _, line := range strings.Split(raw, "\n") {
		if len(all) >= e.cfg.NumVariants {
			break
		}
		variant := strings.TrimSpace(line)
		if variant == "" {
			continue
		}
		if containsQuery(all, variant) {
			continue
		}
		all = append(all, variant)
	}
	return all
}

// fanOut retrieves every query with bounded parallelism. Slots are indexed by
// query position so the merge order matches the query order regardless of
// completion order; a timed-out call leaves its slot empty.
func (e *QueryFusionEngine) fanOut(ctx context.Context, queries []string) []domain.RetrievalResult {
	results := make([]domain.RetrievalResult, len(queries))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(len(queries))
	for i, query := range queries {
		group.Go(func() error {
			callCtx, cancel := context.WithTimeout(groupCtx, e.cfg.FanOutTimeout)
			defer cancel()
			results[i] = e.retriever.Retrieve(callCtx, query)
			if err := callCtx.Err(); err != nil && results[i].Empty() {
				e.logger.Warn("fan-out call expired", "query", query, "error", err)
			}
			return nil
		})
	}
	_ = group.Wait()

	return results
}

func containsQuery(queries []string, candidate string) bool {
	for _, q := range queries {
		if q == candidate {
			return true
		}
	}
	return false
}

// dedupePassages keeps the first occurrence of each passage identifier,
// preserving order of first appearance.
func dedupePassages(passages []domain.Passage) []domain.Passage {
	if len(passages) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(passages))
	out := make([]domain.Passage, 0, len(passages))
	for _, p := range passages {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out
}

// dedupeFacts applies the same first-wins rule by fact identifier; facts
// without an identifier are never deduplicated against each other.
func dedupeFacts(facts []domain.Fact) []domain.Fact {
	if len(facts) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(facts))
	out := make([]domain.Fact, 0, len(facts))
	for _, f := range facts {
		if f.ID != "" {
			if _, ok := seen[f.ID]; ok {
				continue
			}
			seen[f.ID] = struct{}{}
		}
		out = append(out, f)
	}
	return out
}
