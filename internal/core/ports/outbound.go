package ports

import (
	"context"

	"github.com/acrenaud/trustrag/internal/core/domain"
)

// VectorIndex is the external nearest-neighbor search surface. A transient
// failure must be treated by callers as zero passages for that query.
type VectorIndex interface {
	Retrieve(ctx context.Context, query string, topK int) ([]domain.Passage, error)
}

// FactSearcher looks up structured facts for a query. Implementations order
// results by relevance and never return more than topK facts.
type FactSearcher interface {
	Search(ctx context.Context, query string, topK int) ([]domain.Fact, error)
}

// ChatRole identifies the author of a chat message.
type ChatRole string

const (
	RoleSystem ChatRole = "system"
	RoleUser   ChatRole = "user"
)

type ChatMessage struct {
	Role    ChatRole
	Content string
}

// ChatModel is the language-model collaborator used for query-variant
// generation and answer drafting. It may be absent at runtime; callers
// degrade rather than fail when it is unconfigured or erroring.
type ChatModel interface {
	Chat(ctx context.Context, messages []ChatMessage, temperature float64) (string, error)
}

// Embedder builds a vector for query text.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// DecisionPublisher emits grounding decision audit events.
type DecisionPublisher interface {
	PublishDecision(ctx context.Context, record domain.DecisionRecord) error
}

// DecisionStore persists grounding decision audit records.
type DecisionStore interface {
	SaveDecision(ctx context.Context, record domain.DecisionRecord) error
}
