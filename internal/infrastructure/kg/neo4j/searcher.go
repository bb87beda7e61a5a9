// Package neo4j backs the fact-searcher port with a Neo4j graph, for
// deployments where the triple set lives in the database instead of a JSON
// export.
package neo4j

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/acrenaud/trustrag/internal/core/domain"
	"github.com/acrenaud/trustrag/internal/infrastructure/kg"
)

type Config struct {
	URI      string
	User     string
	Password string
	// MinAuthority mirrors the JSON store's load-time floor; here it is
	// applied in the query since the triple set is remote.
	MinAuthority float64
}

type Searcher struct {
	driver neo4j.DriverWithContext
	cfg    Config
	logger *slog.Logger
}

func NewSearcher(cfg Config, logger *slog.Logger) (*Searcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "neo4j driver", err)
	}
	return &Searcher{driver: driver, cfg: cfg, logger: logger}, nil
}

func (s *Searcher) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

const searchCypher = `
MATCH (subj:Entity)-[rel:FACT]->(obj:Entity)
WHERE rel.authority_score >= $minAuthority
  AND any(token IN $tokens WHERE
      toLower(subj.name) CONTAINS token
      OR toLower(rel.name) CONTAINS token
      OR toLower(obj.name) CONTAINS token)
RETURN rel.id AS id, subj.name AS subject, rel.name AS relation, obj.name AS object,
       rel.authority_score AS authority,
       size([token IN $tokens WHERE
           toLower(subj.name) CONTAINS token
           OR toLower(rel.name) CONTAINS token
           OR toLower(obj.name) CONTAINS token]) AS overlap
ORDER BY overlap * (1 + rel.authority_score) DESC, rel.authority_score DESC
LIMIT $topK`

// Search mirrors the in-memory store's contract: empty query means empty
// result, transient database failures are temporary errors the dual
// retriever absorbs as zero facts.
func (s *Searcher) Search(ctx context.Context, query string, topK int) ([]domain.Fact, error) {
	tokens := kg.QueryTokens(query)
	if len(tokens) == 0 {
		return nil, nil
	}
	if topK <= 0 {
		topK = 8
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	records, err := neo4j.ExecuteRead(ctx, session,
		func(tx neo4j.ManagedTransaction) ([]*neo4j.Record, error) {
			result, err := tx.Run(ctx, searchCypher, map[string]any{
				"tokens":       tokens,
				"minAuthority": s.cfg.MinAuthority,
				"topK":         topK,
			})
			if err != nil {
				return nil, err
			}
			return result.Collect(ctx)
		})
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "neo4j search", err)
	}

	facts := make([]domain.Fact, 0, len(records))
	for _, record := range records {
		fact, err := factFromRecord(record)
		if err != nil {
			s.logger.Warn("skipping malformed fact record", "error", err)
			continue
		}
		facts = append(facts, fact)
	}
	return facts, nil
}

func factFromRecord(record *neo4j.Record) (domain.Fact, error) {
	id, _ := stringValue(record, "id")
	subject, ok := stringValue(record, "subject")
	if !ok {
		return domain.Fact{}, fmt.Errorf("record missing subject")
	}
	relation, _ := stringValue(record, "relation")
	object, _ := stringValue(record, "object")
	authority, _ := floatValue(record, "authority")
	overlap, _ := floatValue(record, "overlap")

	return domain.Fact{
		ID:        id,
		Subject:   subject,
		Relation:  relation,
		Object:    object,
		Score:     overlap * (1 + authority),
		Authority: authority,
	}, nil
}

func stringValue(record *neo4j.Record, key string) (string, bool) {
	raw, ok := record.Get(key)
	if !ok || raw == nil {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok
}

func floatValue(record *neo4j.Record, key string) (float64, bool) {
	raw, ok := record.Get(key)
	if !ok || raw == nil {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
