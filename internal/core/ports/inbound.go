package ports

import (
	"context"

	"github.com/acrenaud/trustrag/internal/core/domain"
)

// AnswerService is the single inbound contract: one question in, one
// trust-gated answer out.
type AnswerService interface {
	Answer(ctx context.Context, question string) (*domain.AnswerResult, error)
}
