package httpadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/acrenaud/trustrag/internal/core/domain"
	"github.com/acrenaud/trustrag/internal/core/ports"
	"github.com/acrenaud/trustrag/internal/observability/metrics"
)

// decisionLister exposes the persisted audit trail. It is optional: the API
// can run without a database when only answering is needed.
type decisionLister interface {
	ListRecent(ctx context.Context, limit int) ([]domain.DecisionRecord, error)
}

type Router struct {
	service   string
	answerUC  ports.AnswerService
	decisions decisionLister
	metrics   *metrics.HTTPServerMetrics
}

func NewRouter(service string, answerUC ports.AnswerService, decisions decisionLister, m *metrics.HTTPServerMetrics) *Router {
	return &Router{
		service:   service,
		answerUC:  answerUC,
		decisions: decisions,
		metrics:   m,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/answers", rt.answerQuestion)
	mux.HandleFunc("/v1/decisions", rt.listDecisions)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(rt.service, handler)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) answerQuestion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question is required"})
		return
	}

	start := time.Now()
	result, err := rt.answerUC.Answer(r.Context(), req.Question)
	if err != nil {
		rt.recordAnswer("error", start)
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}

	outcome := "accepted"
	if !result.Decision.Accepted {
		outcome = "refused"
		if rt.metrics != nil {
			for _, reason := range result.Decision.Reasons {
				rt.metrics.RecordRefusal(rt.service, reason)
			}
		}
	}
	rt.recordAnswer(outcome, start)
	if rt.metrics != nil {
		rt.metrics.RecordMaxAuthority(rt.service, result.Decision.MaxAuthority)
		rt.metrics.RecordRetrievalShape(rt.service, len(result.Queries), len(result.Passages))
	}

	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) listDecisions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if rt.decisions == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "decision audit store is not configured"})
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	records, err := rt.decisions.ListRecent(r.Context(), limit)
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": records})
}

func (rt *Router) recordAnswer(outcome string, start time.Time) {
	if rt.metrics == nil {
		return
	}
	rt.metrics.RecordAnswer(rt.service, outcome, time.Since(start))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
