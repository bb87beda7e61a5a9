// Package kg provides the in-memory knowledge-graph fact store, loaded once
// from a JSON export of triples.
package kg

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/acrenaud/trustrag/internal/core/domain"
)

type triple struct {
	ID        string            `json:"id"`
	Subject   string            `json:"subject"`
	Relation  string            `json:"relation"`
	Object    string            `json:"object"`
	Authority float64           `json:"authority_score"`
	Metadata  map[string]string `json:"metadata"`

	tokens map[string]struct{}
}

// Store holds an immutable triple set. Triples below the minimum authority
// are discarded at load time, not filtered per query. Safe for concurrent
// readers once constructed.
type Store struct {
	triples []triple
	logger  *slog.Logger
}

// Load reads the triple file and applies the authority floor. A missing or
// malformed file is a configuration error, surfaced immediately.
func Load(path string, minAuthority float64, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "load knowledge graph", err)
	}

	var triples []triple
	if err := json.Unmarshal(raw, &triples); err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "parse knowledge graph", fmt.Errorf("%s: %w", path, err))
	}

	kept := make([]triple, 0, len(triples))
	for _, t := range triples {
		if t.Authority < minAuthority {
			continue
		}
		t.tokens = tokenize(t.Subject + " " + t.Relation + " " + t.Object)
		kept = append(kept, t)
	}

	logger.Info("knowledge graph loaded",
		"path", path, "triples", len(kept), "min_authority", minAuthority)

	return &Store{triples: kept, logger: logger}, nil
}

// NewFromTriples builds a store from already-decoded facts, applying the same
// authority floor. Used by tests and by the Neo4j snapshot path.
func NewFromTriples(facts []domain.Fact, minAuthority float64, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	kept := make([]triple, 0, len(facts))
	for _, f := range facts {
		if f.Authority < minAuthority {
			continue
		}
		kept = append(kept, triple{
			ID:        f.ID,
			Subject:   f.Subject,
			Relation:  f.Relation,
			Object:    f.Object,
			Authority: f.Authority,
			Metadata:  f.Metadata,
			tokens:    tokenize(f.Subject + " " + f.Relation + " " + f.Object),
		})
	}
	return &Store{triples: kept, logger: logger}
}

// Len reports how many triples survived the load-time authority floor.
func (s *Store) Len() int {
	return len(s.triples)
}

// Search scores triples by token overlap with the query weighted by
// authority: |intersection| * (1 + authority). Zero-overlap triples are
// excluded regardless of authority. Ties break by descending authority,
// then by original triple order.
func (s *Store) Search(_ context.Context, query string, topK int) ([]domain.Fact, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = 8
	}

	queryTokens := tokenize(query)

	type scored struct {
		idx   int
		score float64
	}
	matches := make([]scored, 0, len(s.triples))
	for i, t := range s.triples {
		overlap := 0
		for token := range queryTokens {
			if _, ok := t.tokens[token]; ok {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		matches = append(matches, scored{
			idx:   i,
			score: float64(overlap) * (1 + t.Authority),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return s.triples[matches[i].idx].Authority > s.triples[matches[j].idx].Authority
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}

	out := make([]domain.Fact, 0, len(matches))
	for _, m := range matches {
		t := s.triples[m.idx]
		out = append(out, domain.Fact{
			ID:        t.ID,
			Subject:   t.Subject,
			Relation:  t.Relation,
			Object:    t.Object,
			Score:     m.score,
			Authority: t.Authority,
			Metadata:  t.Metadata,
		})
	}
	return out, nil
}

// QueryTokens splits s into lowercase tokens on alphanumeric boundaries, in
// order of first appearance without duplicates. Every fact-searcher backend
// tokenizes with this so that hyphenated or possessive queries rank the same
// regardless of where the triples live.
func QueryTokens(s string) []string {
	seen := make(map[string]struct{}, 16)
	out := make([]string, 0, 16)
	var b strings.Builder
	flush := func() {
		if b.Len() == 0 {
			return
		}
		token := b.String()
		b.Reset()
		if _, ok := seen[token]; ok {
			return
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		flush()
	}
	flush()
	return out
}

func tokenize(s string) map[string]struct{} {
	tokens := QueryTokens(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}
