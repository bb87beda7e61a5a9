package httpadapter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/acrenaud/trustrag/internal/core/domain"
	"github.com/acrenaud/trustrag/internal/observability/metrics"
)

type fakeAnswerService struct {
	result *domain.AnswerResult
	err    error

	lastQuestion string
}

func (f *fakeAnswerService) Answer(ctx context.Context, question string) (*domain.AnswerResult, error) {
	f.lastQuestion = question
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeDecisionLister struct {
	records []domain.DecisionRecord
	err     error
}

func (f *fakeDecisionLister) ListRecent(ctx context.Context, limit int) ([]domain.DecisionRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.records) {
		return f.records[:limit], nil
	}
	return f.records, nil
}

func TestAnswerEndpointReturnsResult(t *testing.T) {
	svc := &fakeAnswerService{result: &domain.AnswerResult{
		FinalAnswer: "Long-term debt was 2.1B.",
		Decision:    domain.GroundingDecision{Accepted: true, MaxAuthority: 1.0},
	}}
	router := NewRouter("api", svc, nil, nil)
	server := httptest.NewServer(router.Handler())
	defer server.Close()

	resp, err := http.Post(server.URL+"/v1/answers", "application/json",
		strings.NewReader(`{"question":"What is the long-term debt?"}`))
	if err != nil {
		t.Fatalf("POST /v1/answers: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("missing request id header")
	}
	var body domain.AnswerResult
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.FinalAnswer != "Long-term debt was 2.1B." {
		t.Fatalf("final answer = %q", body.FinalAnswer)
	}
	if svc.lastQuestion != "What is the long-term debt?" {
		t.Fatalf("service received %q", svc.lastQuestion)
	}
}

func TestAnswerEndpointRejectsEmptyQuestion(t *testing.T) {
	router := NewRouter("api", &fakeAnswerService{}, nil, nil)
	server := httptest.NewServer(router.Handler())
	defer server.Close()

	resp, err := http.Post(server.URL+"/v1/answers", "application/json",
		strings.NewReader(`{"question":"   "}`))
	if err != nil {
		t.Fatalf("POST /v1/answers: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAnswerEndpointMapsErrorKinds(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", domain.WrapError(domain.ErrInvalidInput, "answer", context.DeadlineExceeded), http.StatusBadRequest},
		{"temporary", domain.WrapError(domain.ErrTemporary, "answer", context.DeadlineExceeded), http.StatusServiceUnavailable},
		{"model down", domain.WrapError(domain.ErrModelUnavailable, "answer", context.DeadlineExceeded), http.StatusServiceUnavailable},
		{"unknown", context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := NewRouter("api", &fakeAnswerService{err: tc.err}, nil, nil)
			server := httptest.NewServer(router.Handler())
			defer server.Close()

			resp, err := http.Post(server.URL+"/v1/answers", "application/json",
				strings.NewReader(`{"question":"q"}`))
			if err != nil {
				t.Fatalf("POST /v1/answers: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestAnswerEndpointRejectsGet(t *testing.T) {
	router := NewRouter("api", &fakeAnswerService{}, nil, nil)
	server := httptest.NewServer(router.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/v1/answers")
	if err != nil {
		t.Fatalf("GET /v1/answers: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}

func TestListDecisionsHonorsLimit(t *testing.T) {
	lister := &fakeDecisionLister{records: []domain.DecisionRecord{
		{ID: "d-1", Accepted: true, CreatedAt: time.Now()},
		{ID: "d-2", Accepted: false, CreatedAt: time.Now()},
	}}
	router := NewRouter("api", &fakeAnswerService{}, lister, nil)
	server := httptest.NewServer(router.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/v1/decisions?limit=1")
	if err != nil {
		t.Fatalf("GET /v1/decisions: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Decisions []domain.DecisionRecord `json:"decisions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Decisions) != 1 || body.Decisions[0].ID != "d-1" {
		t.Fatalf("unexpected decisions: %+v", body.Decisions)
	}
}

func TestListDecisionsWithoutStore(t *testing.T) {
	router := NewRouter("api", &fakeAnswerService{}, nil, nil)
	server := httptest.NewServer(router.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/v1/decisions")
	if err != nil {
		t.Fatalf("GET /v1/decisions: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	router := NewRouter("api", &fakeAnswerService{}, nil, nil)
	server := httptest.NewServer(router.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAnswerEndpointRecordsRetrievalShapeMetrics(t *testing.T) {
	svc := &fakeAnswerService{result: &domain.AnswerResult{
		FinalAnswer: "Long-term debt was 2.1B.",
		Decision:    domain.GroundingDecision{Accepted: true, MaxAuthority: 1.0},
		Passages:    []domain.RankedPassage{{}, {}},
		Queries:     []string{"q", "q variant"},
	}}
	serverMetrics := metrics.NewHTTPServerMetrics("api")
	router := NewRouter("api", svc, nil, serverMetrics)
	server := httptest.NewServer(router.Handler())
	defer server.Close()

	resp, err := http.Post(server.URL+"/v1/answers", "application/json",
		strings.NewReader(`{"question":"What is the long-term debt?"}`))
	if err != nil {
		t.Fatalf("POST /v1/answers: %v", err)
	}
	resp.Body.Close()

	metricsResp, err := http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer metricsResp.Body.Close()
	body, err := io.ReadAll(metricsResp.Body)
	if err != nil {
		t.Fatalf("read metrics body: %v", err)
	}

	exposition := string(body)
	for _, want := range []string{
		`trustrag_answer_requests_total{outcome="accepted",service="api"} 1`,
		`trustrag_fusion_query_variants_count{service="api"} 1`,
		`trustrag_fusion_query_variants_sum{service="api"} 2`,
		`trustrag_retrieval_context_passages_count{service="api"} 1`,
		`trustrag_retrieval_context_passages_sum{service="api"} 2`,
	} {
		if !strings.Contains(exposition, want) {
			t.Fatalf("metrics exposition missing %q:\n%s", want, exposition)
		}
	}
}
