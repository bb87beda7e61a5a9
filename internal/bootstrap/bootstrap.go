package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/acrenaud/trustrag/internal/config"
	"github.com/acrenaud/trustrag/internal/core/ports"
	"github.com/acrenaud/trustrag/internal/core/usecase"
	"github.com/acrenaud/trustrag/internal/infrastructure/authority"
	"github.com/acrenaud/trustrag/internal/infrastructure/kg"
	"github.com/acrenaud/trustrag/internal/infrastructure/kg/neo4j"
	"github.com/acrenaud/trustrag/internal/infrastructure/llm/ollama"
	"github.com/acrenaud/trustrag/internal/infrastructure/queue/nats"
	"github.com/acrenaud/trustrag/internal/infrastructure/repository/postgres"
	"github.com/acrenaud/trustrag/internal/infrastructure/resilience"
	"github.com/acrenaud/trustrag/internal/infrastructure/vector/qdrant"
)

type App struct {
	Config config.Config

	Queue        *nats.Queue
	DecisionRepo *postgres.DecisionRepository
	AnswerUC     ports.AnswerService

	closeFn func()
}

// Option customizes wiring that depends on the calling binary, such as the
// API's metrics instruments.
type Option func(*options)

type options struct {
	retrievalFailureHook func(source string)
}

// WithRetrievalFailureHook routes absorbed retrieval-source failures to the
// caller, typically a metrics counter.
func WithRetrievalFailureHook(hook func(source string)) Option {
	return func(o *options) { o.retrievalFailureHook = hook }
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewDecisionRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSDecisionsSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	ollamaClient := ollama.New(ollama.Config{
		BaseURL:    cfg.OllamaURL,
		ChatModel:  cfg.OllamaGenModel,
		EmbedModel: cfg.OllamaEmbedModel,
		ChatRPS:    cfg.OllamaChatRPS,
		Executor:   executor,
	})

	tiers, err := authority.LoadTable(cfg.AuthorityTiersPath, logger)
	if err != nil {
		return nil, fmt.Errorf("load authority tiers: %w", err)
	}

	factSearcher, closeSearcher, err := newFactSearcher(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init fact searcher: %w", err)
	}

	vectorIndex := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, ollamaClient,
		qdrant.WithExecutor(executor),
		qdrant.WithAuthorityTiers(tiers),
	)

	retriever := usecase.NewDualSourceRetriever(usecase.DualRetrieverConfig{
		TopKVector:      cfg.RetrievalTopKVector,
		TopKKG:          cfg.RetrievalTopKKG,
		OnSourceFailure: o.retrievalFailureHook,
	}, vectorIndex, factSearcher, logger)

	fusion := usecase.NewQueryFusionEngine(usecase.FusionConfig{
		Enabled:       cfg.FusionEnabled,
		NumVariants:   cfg.FusionNumVariants,
		Temperature:   cfg.FusionTemperature,
		FanOutTimeout: time.Duration(cfg.FusionFanOutTimeoutSeconds) * time.Second,
	}, retriever, ollamaClient, logger)

	reranker := usecase.NewTrustReranker(usecase.RerankConfig{
		WSimilarity:  cfg.RerankWSimilarity,
		WAuthority:   cfg.RerankWAuthority,
		MinAuthority: cfg.RerankMinAuthority,
	}, logger)

	guardrail := usecase.NewGroundingGuardrail(usecase.GroundingConfig{
		MinAuthority:       cfg.GroundingMinAuthority,
		MinLexicalOverlap:  cfg.GroundingMinOverlap,
		MaxContextPassages: cfg.GroundingMaxContextPassage,
		RefusalMessage:     cfg.RefusalMessage,
	}, logger)

	answerUC := usecase.NewAnswerPipeline(usecase.AnswerConfig{
		MaxContextPassages: cfg.AnswerMaxContextPassages,
		MaxContextChars:    cfg.AnswerMaxContextChars,
		MaxFacts:           cfg.AnswerMaxFacts,
		Temperature:        cfg.AnswerTemperature,
	}, fusion, reranker, guardrail, ollamaClient, queue, logger)

	return &App{
		Config:       cfg,
		Queue:        queue,
		DecisionRepo: repo,
		AnswerUC:     answerUC,

		closeFn: func() {
			queue.Close()
			if closeSearcher != nil {
				closeSearcher()
			}
			_ = db.Close()
		},
	}, nil
}

// newFactSearcher selects the knowledge graph backend: the in-memory JSON
// triple store by default, Neo4j when configured.
func newFactSearcher(cfg config.Config, logger *slog.Logger) (ports.FactSearcher, func(), error) {
	switch cfg.KGBackend {
	case "neo4j":
		searcher, err := neo4j.NewSearcher(neo4j.Config{
			URI:          cfg.Neo4jURI,
			User:         cfg.Neo4jUser,
			Password:     cfg.Neo4jPassword,
			MinAuthority: cfg.KGMinAuthority,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return searcher, func() { _ = searcher.Close(context.Background()) }, nil
	default:
		store, err := kg.Load(cfg.KGJSONPath, cfg.KGMinAuthority, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	}
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
