package usecase

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/acrenaud/trustrag/internal/core/domain"
)

type GroundingConfig struct {
	MinAuthority       float64
	MinLexicalOverlap  float64
	MaxContextPassages int
	RefusalMessage     string
}

const defaultRefusalMessage = "I cannot reliably answer this question with the trusted sources currently available. I would rather abstain than make something up."

func (c GroundingConfig) normalize() GroundingConfig {
	out := c
	if out.MaxContextPassages <= 0 {
		out.MaxContextPassages = 8
	}
	if strings.TrimSpace(out.RefusalMessage) == "" {
		out.RefusalMessage = defaultRefusalMessage
	}
	return out
}

// GroundingGuardrail decides whether a drafted answer is sufficiently
// supported by the retrieved context. The policy is OR-to-accept: the answer
// is refused only when both the authority signal and the lexical-overlap
// signal fall below their minimums. A single high-authority irrelevant
// passage can therefore force acceptance; that matches the observed behavior
// of the system this replaces and is a policy choice, not a bug.
type GroundingGuardrail struct {
	cfg    GroundingConfig
	logger *slog.Logger
}

func NewGroundingGuardrail(cfg GroundingConfig, logger *slog.Logger) *GroundingGuardrail {
	if logger == nil {
		logger = slog.Default()
	}
	return &GroundingGuardrail{cfg: cfg.normalize(), logger: logger}
}

// Evaluate computes both signals and applies the decision rule. An empty
// context short-circuits to refusal before any signal is computed.
func (g *GroundingGuardrail) Evaluate(answer string, passages []domain.RankedPassage, facts []domain.Fact) domain.GroundingDecision {
	if len(passages) == 0 && len(facts) == 0 {
		return domain.GroundingDecision{
			Accepted:       false,
			Reasons:        []string{"no context provided"},
			MaxAuthority:   0,
			LexicalOverlap: 0,
		}
	}

	maxAuthority := contextMaxAuthority(passages, facts)
	overlap := g.lexicalOverlap(answer, passages, facts)

	failAuthority := maxAuthority < g.cfg.MinAuthority
	failOverlap := overlap < g.cfg.MinLexicalOverlap

	decision := domain.GroundingDecision{
		MaxAuthority:   maxAuthority,
		LexicalOverlap: overlap,
	}

	if failAuthority && failOverlap {
		decision.Accepted = false
		decision.Reasons = []string{
			fmt.Sprintf("max context authority too low: %.2f (minimum %.2f)",
				maxAuthority, g.cfg.MinAuthority),
			fmt.Sprintf("lexical overlap between answer and context too low: %.2f (minimum %.2f)",
				overlap, g.cfg.MinLexicalOverlap),
		}
	} else {
		decision.Accepted = true
		decision.Reasons = []string{
			fmt.Sprintf("answer considered sufficiently grounded (max_authority=%.2f, overlap=%.2f)",
				maxAuthority, overlap),
		}
	}

	g.logger.Info("grounding decision",
		"accepted", decision.Accepted,
		"max_authority", maxAuthority,
		"lexical_overlap", overlap)

	return decision
}

// Decide returns the answer to show the user: the candidate when the
// decision accepts it, the configured refusal message otherwise. The
// decision is returned either way so every outcome can be audited.
func (g *GroundingGuardrail) Decide(answer string, passages []domain.RankedPassage, facts []domain.Fact) (string, domain.GroundingDecision) {
	decision := g.Evaluate(answer, passages, facts)
	if decision.Accepted {
		return answer, decision
	}
	return g.cfg.RefusalMessage, decision
}

// contextMaxAuthority is total over empty inputs, returning 0.
func contextMaxAuthority(passages []domain.RankedPassage, facts []domain.Fact) float64 {
	max := 0.0
	for _, p := range passages {
		if p.Authority > max {
			max = p.Authority
		}
	}
	for _, f := range facts {
		if f.Authority > max {
			max = f.Authority
		}
	}
	return max
}

// lexicalOverlap bounds the passage side of the computation to the first
// MaxContextPassages passages; that accuracy/cost trade-off is deliberate.
func (g *GroundingGuardrail) lexicalOverlap(answer string, passages []domain.RankedPassage, facts []domain.Fact) float64 {
	answerTokens := toTokenSet(answer)
	if len(answerTokens) == 0 {
		return 0
	}

	var context strings.Builder
	limit := g.cfg.MaxContextPassages
	if limit > len(passages) {
		limit = len(passages)
	}
	for _, p := range passages[:limit] {
		context.WriteString(p.Passage.Text)
		context.WriteByte(' ')
	}
	for _, f := range facts {
		context.WriteString(f.Subject)
		context.WriteByte(' ')
		context.WriteString(f.Relation)
		context.WriteByte(' ')
		context.WriteString(f.Object)
		context.WriteByte(' ')
	}

	return tokenOverlap(answerTokens, toTokenSet(context.String()))
}
