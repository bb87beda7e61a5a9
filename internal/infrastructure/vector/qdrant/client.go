// Package qdrant adapts a Qdrant collection to the vector-index port. The
// index itself is owned elsewhere; this client only embeds the query and
// searches.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/acrenaud/trustrag/internal/core/domain"
	"github.com/acrenaud/trustrag/internal/core/ports"
	"github.com/acrenaud/trustrag/internal/infrastructure/authority"
	"github.com/acrenaud/trustrag/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
	embedder   ports.Embedder
	tiers      *authority.Table
	executor   *resilience.Executor
}

type Option func(*Client)

func WithExecutor(executor *resilience.Executor) Option {
	return func(c *Client) { c.executor = executor }
}

// WithAuthorityTiers fills in authority metadata from the provenance source
// for payloads indexed without an explicit score.
func WithAuthorityTiers(tiers *authority.Table) Option {
	return func(c *Client) { c.tiers = tiers }
}

func New(baseURL, collection string, embedder ports.Embedder, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		embedder:   embedder,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Retrieve embeds the query and runs a nearest-neighbor search. Any failure
// is wrapped as temporary; the dual retriever turns it into zero passages.
func (c *Client) Retrieve(ctx context.Context, query string, topK int) ([]domain.Passage, error) {
	vector, err := c.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "embed query", err)
	}

	reqBody := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	var searchResp struct {
		Result []struct {
			ID      json.RawMessage `json:"id"`
			Score   float64         `json:"score"`
			Payload map[string]any  `json:"payload"`
		} `json:"result"`
	}

	call := func(callCtx context.Context) error {
		url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
		req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create search request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("qdrant search request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			if m := strings.TrimSpace(string(msg)); m != "" {
				return fmt.Errorf("qdrant search status: %s: %s", resp.Status, m)
			}
			return fmt.Errorf("qdrant search status: %s", resp.Status)
		}
		return json.NewDecoder(resp.Body).Decode(&searchResp)
	}

	if c.executor != nil {
		err = c.executor.Execute(ctx, "qdrant.search", call, classifyQdrantError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "qdrant search", err)
	}

	out := make([]domain.Passage, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		passage := domain.Passage{
			ID:       decodePointID(r.ID),
			Text:     stringPayload(r.Payload, "text"),
			Score:    r.Score,
			Source:   stringPayload(r.Payload, "source"),
			Metadata: metadataPayload(r.Payload),
		}
		c.ensureAuthority(&passage)
		out = append(out, passage)
	}
	return out, nil
}

// ensureAuthority resolves the tier table when no authority key survived
// indexing, so the reranker sees an explicit score instead of guessing.
func (c *Client) ensureAuthority(p *domain.Passage) {
	if c.tiers == nil {
		return
	}
	for _, key := range domain.AuthorityMetadataKeys {
		if _, ok := p.Metadata[key]; ok {
			return
		}
	}
	if p.Metadata == nil {
		p.Metadata = make(map[string]string, 1)
	}
	p.Metadata["source_authority_score_base"] = strconv.FormatFloat(c.tiers.Score(p.Source), 'f', 2, 64)
}

func decodePointID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return string(raw)
}

func stringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// metadataPayload flattens the payload into string metadata, skipping the
// text body which already lives on the passage.
func metadataPayload(payload map[string]any) map[string]string {
	if len(payload) == 0 {
		return nil
	}
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		if k == "text" || v == nil {
			continue
		}
		switch value := v.(type) {
		case string:
			out[k] = value
		case float64:
			out[k] = strconv.FormatFloat(value, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(value)
		default:
			out[k] = fmt.Sprintf("%v", value)
		}
	}
	return out
}

// Search is idempotent, so every failure is safe to retry.
func classifyQdrantError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
}
