// Package ollama adapts a local Ollama server to the chat-model and embedder
// ports. The chat surface is used for query-variant generation and answer
// drafting; both callers treat failures as degradations, so errors out of
// this package are diagnostic, never fatal to a request.
package ollama

import (
	"context"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/acrenaud/trustrag/internal/core/ports"
	"github.com/acrenaud/trustrag/internal/infrastructure/resilience"
)

type Config struct {
	BaseURL    string
	ChatModel  string
	EmbedModel string
	// ChatRPS caps chat-call throughput client-side so a burst of fan-out
	// requests cannot saturate the model server. Zero disables the cap.
	ChatRPS  float64
	Executor *resilience.Executor
}

type Client struct {
	cfg         Config
	transport   *transport
	executor    *resilience.Executor
	chatLimiter *rate.Limiter
}

func New(cfg Config) *Client {
	var limiter *rate.Limiter
	if cfg.ChatRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.ChatRPS), 1)
	}
	return &Client{
		cfg:         cfg,
		transport:   newTransport(cfg.BaseURL, 120*time.Second),
		executor:    cfg.Executor,
		chatLimiter: limiter,
	}
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
}

// Chat sends one chat completion request and returns the trimmed text.
func (c *Client) Chat(ctx context.Context, messages []ports.ChatMessage, temperature float64) (string, error) {
	if c.chatLimiter != nil {
		if err := c.chatLimiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	request := chatRequest{
		Model:    c.cfg.ChatModel,
		Messages: make([]chatMessage, 0, len(messages)),
		Stream:   false,
		Options:  map[string]any{"temperature": temperature},
	}
	for _, m := range messages {
		request.Messages = append(request.Messages, chatMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	var response chatResponse
	call := func(callCtx context.Context) error {
		return c.transport.postJSON(callCtx, "/api/chat", request, &response, "chat")
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "ollama.chat", call, classifyOllamaError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", wrapModelError("chat", err)
	}
	return strings.TrimSpace(response.Message.Content), nil
}

// EmbedQuery builds the query vector used for nearest-neighbor search.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	request := map[string]any{
		"model": c.cfg.EmbedModel,
		"input": []string{text},
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	call := func(callCtx context.Context) error {
		return c.transport.postJSON(callCtx, "/api/embed", request, &response, "embed")
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "ollama.embed", call, classifyOllamaError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, wrapModelError("embed", err)
	}
	if len(response.Embeddings) == 0 {
		return nil, wrapModelError("embed", errEmptyEmbedding)
	}
	return response.Embeddings[0], nil
}
