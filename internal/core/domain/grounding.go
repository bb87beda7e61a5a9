package domain

import "time"

// GroundingDecision is the immutable outcome of one guardrail evaluation.
// Refusal requires both signals below their thresholds; a single strong
// signal is enough to accept.
type GroundingDecision struct {
	Accepted       bool     `json:"accepted"`
	Reasons        []string `json:"reasons"`
	MaxAuthority   float64  `json:"max_authority"`
	LexicalOverlap float64  `json:"lexical_overlap"`
}

// AnswerResult is what the answer pipeline hands back to the user-facing
// layer. FinalAnswer is either the candidate answer or the configured
// refusal message; the decision is always attached for audit.
type AnswerResult struct {
	FinalAnswer     string            `json:"final_answer"`
	CandidateAnswer string            `json:"candidate_answer"`
	Decision        GroundingDecision `json:"grounding_decision"`
	Passages        []RankedPassage   `json:"ranked_passages"`
	Facts           []Fact            `json:"facts"`
	Queries         []string          `json:"queries"`
	ContextSummary  string            `json:"context_summary"`
}

// DecisionRecord is the audit event emitted for every grounding decision.
type DecisionRecord struct {
	ID             string    `json:"id"`
	Question       string    `json:"question"`
	FinalAnswer    string    `json:"final_answer"`
	Accepted       bool      `json:"accepted"`
	Reasons        []string  `json:"reasons"`
	MaxAuthority   float64   `json:"max_authority"`
	LexicalOverlap float64   `json:"lexical_overlap"`
	CreatedAt      time.Time `json:"created_at"`
}
