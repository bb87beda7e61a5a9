package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/acrenaud/trustrag/internal/core/domain"
	"github.com/acrenaud/trustrag/internal/core/ports"
)

type AnswerConfig struct {
	MaxContextPassages int
	MaxContextChars    int
	MaxFacts           int
	Temperature        float64
	FallbackMessage    string
}

const defaultFallbackMessage = "I could not generate an answer because the model took too long or returned an error. Try a shorter question, or check that the model service is running."

func (c AnswerConfig) normalize() AnswerConfig {
	out := c
	if out.MaxContextPassages <= 0 {
		out.MaxContextPassages = 4
	}
	if out.MaxContextChars <= 0 {
		out.MaxContextChars = 2500
	}
	if out.MaxFacts <= 0 {
		out.MaxFacts = 8
	}
	if out.Temperature <= 0 {
		out.Temperature = 0.2
	}
	if strings.TrimSpace(out.FallbackMessage) == "" {
		out.FallbackMessage = defaultFallbackMessage
	}
	return out
}

const answerSystemPrompt = `You are a reliable assistant answering from retrieved evidence.
You MUST base your answer only on the provided context.
If an information is not present in the context, say so honestly.
Answer in the language of the question.`

// AnswerPipeline composes fusion, reranking, drafting and the grounding
// guardrail into the one call the outside world makes. The user always
// receives either a drafted answer or the configured refusal message, never
// a raw error.
type AnswerPipeline struct {
	cfg       AnswerConfig
	fusion    *QueryFusionEngine
	reranker  *TrustReranker
	guardrail *GroundingGuardrail
	model     ports.ChatModel
	publisher ports.DecisionPublisher
	logger    *slog.Logger
}

func NewAnswerPipeline(
	cfg AnswerConfig,
	fusion *QueryFusionEngine,
	reranker *TrustReranker,
	guardrail *GroundingGuardrail,
	model ports.ChatModel,
	publisher ports.DecisionPublisher,
	logger *slog.Logger,
) *AnswerPipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnswerPipeline{
		cfg:       cfg.normalize(),
		fusion:    fusion,
		reranker:  reranker,
		guardrail: guardrail,
		model:     model,
		publisher: publisher,
		logger:    logger,
	}
}

func (p *AnswerPipeline) Answer(ctx context.Context, question string) (*domain.AnswerResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "answer", fmt.Errorf("question is empty"))
	}

	fused := p.fusion.Retrieve(ctx, question)
	ranked := p.reranker.Rerank(fused.Passages)

	candidate := p.draftAnswer(ctx, question, ranked, fused.Facts)

	finalAnswer, decision := p.guardrail.Decide(candidate, ranked, fused.Facts)

	result := &domain.AnswerResult{
		FinalAnswer:     finalAnswer,
		CandidateAnswer: candidate,
		Decision:        decision,
		Passages:        ranked,
		Facts:           fused.Facts,
		Queries:         fused.Queries,
		ContextSummary:  p.buildContext(headRanked(ranked, 3), headFacts(fused.Facts, 3)),
	}

	p.publishDecision(ctx, question, result)
	return result, nil
}

// draftAnswer asks the chat model for a candidate answer over the truncated
// context. Model absence or failure yields the fallback text; the guardrail
// still judges whatever comes out.
func (p *AnswerPipeline) draftAnswer(ctx context.Context, question string, ranked []domain.RankedPassage, facts []domain.Fact) string {
	ranked = headRanked(ranked, p.cfg.MaxContextPassages)
	facts = headFacts(facts, p.cfg.MaxFacts)

	if p.model == nil {
		p.logger.Warn("no chat model configured, returning fallback answer")
		return p.cfg.FallbackMessage
	}

	messages := []ports.ChatMessage{
		{Role: ports.RoleSystem, Content: answerSystemPrompt},
		{Role: ports.RoleUser, Content: fmt.Sprintf(
			"User question:\n%s\n\nContext (use exclusively):\n%s\n\nTask:\n- Give a structured, clear and concise answer.\n- Do not fabricate any figure that is not present in the context.\n- If the exact answer is not available, explain what is missing.",
			question, p.buildContext(ranked, facts),
		)},
	}

	answer, err := p.model.Chat(ctx, messages, p.cfg.Temperature)
	if err != nil {
		p.logger.Warn("answer drafting failed, returning fallback answer",
			"question", question, "error", err)
		return p.cfg.FallbackMessage
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return p.cfg.FallbackMessage
	}
	return answer
}

// buildContext renders passages and facts into the prompt context block,
// bounded by MaxContextChars across passage snippets.
func (p *AnswerPipeline) buildContext(ranked []domain.RankedPassage, facts []domain.Fact) string {
	var b strings.Builder

	totalChars := 0
	wrote := false
	for i, rp := range ranked {
		text := strings.TrimSpace(rp.Passage.Text)
		if text == "" {
			continue
		}
		if totalChars >= p.cfg.MaxContextChars {
			break
		}
		remaining := p.cfg.MaxContextChars - totalChars
		if len(text) > remaining {
			// Never cut in the middle of a multi-byte rune.
			cut := remaining
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			text = text[:cut]
			if text == "" {
				break
			}
		}
		if !wrote {
			b.WriteString("## Retrieved passages\n")
			wrote = true
		}
		source := rp.Passage.Source
		if source == "" {
			source = "unknown_source"
		}
		fmt.Fprintf(&b, "[DOC #%d | source=%s | score=%.4f]\n%s\n", i, source, rp.Final, text)
		totalChars += len(text)
	}

	if len(facts) > 0 {
		if wrote {
			b.WriteString("\n")
		}
		b.WriteString("## Structured facts (knowledge graph)\n")
		for i, f := range facts {
			fmt.Fprintf(&b, "- FACT #%d: subject=%s, relation=%s, object=%s, authority=%.2f\n",
				i, f.Subject, f.Relation, f.Object, f.Authority)
		}
		wrote = true
	}

	if !wrote {
		return "No reliable context was provided."
	}
	return b.String()
}

// publishDecision emits the audit event. Publishing is best-effort: a queue
// failure is logged and never affects the response.
func (p *AnswerPipeline) publishDecision(ctx context.Context, question string, result *domain.AnswerResult) {
	if p.publisher == nil {
		return
	}

	record := domain.DecisionRecord{
		ID:             uuid.NewString(),
		Question:       question,
		FinalAnswer:    result.FinalAnswer,
		Accepted:       result.Decision.Accepted,
		Reasons:        result.Decision.Reasons,
		MaxAuthority:   result.Decision.MaxAuthority,
		LexicalOverlap: result.Decision.LexicalOverlap,
		CreatedAt:      time.Now().UTC(),
	}
	if err := p.publisher.PublishDecision(ctx, record); err != nil {
		p.logger.Warn("decision audit publish failed", "decision_id", record.ID, "error", err)
	}
}

func headRanked(in []domain.RankedPassage, n int) []domain.RankedPassage {
	if n >= len(in) {
		return in
	}
	return in[:n]
}

func headFacts(in []domain.Fact, n int) []domain.Fact {
	if n >= len(in) {
		return in
	}
	return in[:n]
}
