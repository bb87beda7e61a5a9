// Package authority maps provenance source identifiers to trust tiers so
// passages retrieved without explicit authority metadata still rank fairly.
package authority

import (
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/acrenaud/trustrag/internal/core/domain"
)

// Tier associates source-id substrings with an authority score in [0,1].
type Tier struct {
	Name     string   `yaml:"name"`
	Score    float64  `yaml:"score"`
	Patterns []string `yaml:"patterns"`
}

type tiersFile struct {
	Tiers []Tier `yaml:"tiers"`
}

// Table resolves a source id to an authority score by first tier match, in
// declaration order. Unknown sources fall back to the public/general tier.
type Table struct {
	tiers []Tier
}

// DefaultTable reflects the built-in trust ladder: regulator filings first,
// peer-reviewed work next, official operational sources, then everything
// else.
func DefaultTable() *Table {
	return &Table{tiers: []Tier{
		{Name: "regulatory_audited", Score: 1.0, Patterns: []string{"sec_edgar", "sec.gov", "insee", "sirene", "amf", ".gouv"}},
		{Name: "academic_peer_reviewed", Score: 0.8, Patterns: []string{"hal", "theses.fr", "pubmed", "doi.org"}},
		{Name: "official_operational", Score: 0.5, Patterns: []string{"who.int", "europa.eu", "official"}},
		{Name: "public_general", Score: domain.DefaultAuthorityScore, Patterns: []string{"financial_news", "news"}},
	}}
}

// LoadTable reads a tier table from YAML. An empty path returns the default
// table; a configured but unreadable file is a configuration error.
func LoadTable(path string, logger *slog.Logger) (*Table, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(path) == "" {
		return DefaultTable(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "load authority tiers", err)
	}

	var parsed tiersFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "parse authority tiers", err)
	}
	if len(parsed.Tiers) == 0 {
		logger.Warn("authority tier file has no tiers, using defaults", "path", path)
		return DefaultTable(), nil
	}

	logger.Info("authority tiers loaded", "path", path, "tiers", len(parsed.Tiers))
	return &Table{tiers: parsed.Tiers}, nil
}

// Score resolves a source id. Matching is case-insensitive substring, first
// match wins, so tier order in the file is significant.
func (t *Table) Score(source string) float64 {
	src := strings.ToLower(strings.TrimSpace(source))
	if src == "" {
		return domain.DefaultAuthorityScore
	}
	for _, tier := range t.tiers {
		for _, pattern := range tier.Patterns {
			if pattern != "" && strings.Contains(src, strings.ToLower(pattern)) {
				return tier.Score
			}
		}
	}
	return domain.DefaultAuthorityScore
}
