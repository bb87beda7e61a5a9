package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	answersTotal           *prometheus.CounterVec
	answerDuration         *prometheus.HistogramVec
	refusalsTotal          *prometheus.CounterVec
	queryVariants          *prometheus.HistogramVec
	contextPassages        *prometheus.HistogramVec
	retrievalFailuresTotal *prometheus.CounterVec
	maxAuthority           *prometheus.HistogramVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustrag",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trustrag",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "trustrag",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	answersTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustrag",
			Subsystem: "answer",
			Name:      "requests_total",
			Help:      "Total answer requests by grounding outcome.",
		},
		[]string{"service", "outcome"},
	)
	answerDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trustrag",
			Subsystem: "answer",
			Name:      "duration_seconds",
			Help:      "Answer pipeline duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)
	refusalsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustrag",
			Subsystem: "answer",
			Name:      "refusals_total",
			Help:      "Total answers replaced by the refusal message, by reason.",
		},
		[]string{"service", "reason"},
	)
	queryVariants := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trustrag",
			Subsystem: "fusion",
			Name:      "query_variants",
			Help:      "Distribution of fan-out queries per answer request.",
			Buckets:   []float64{1, 2, 3, 4, 5, 6},
		},
		[]string{"service"},
	)
	contextPassages := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trustrag",
			Subsystem: "retrieval",
			Name:      "context_passages",
			Help:      "Distribution of reranked passages surviving the trust filter.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service"},
	)
	retrievalFailuresTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustrag",
			Subsystem: "retrieval",
			Name:      "failures_total",
			Help:      "Total retrieval source failures absorbed as empty results.",
		},
		[]string{"service", "source"},
	)
	maxAuthority := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trustrag",
			Subsystem: "grounding",
			Name:      "max_authority",
			Help:      "Distribution of the strongest authority signal per answer.",
			Buckets:   []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		},
		[]string{"service"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		answersTotal,
		answerDuration,
		refusalsTotal,
		queryVariants,
		contextPassages,
		retrievalFailuresTotal,
		maxAuthority,
	)

	return &HTTPServerMetrics{
		registry:               registry,
		requestTotal:           requestTotal,
		requestDuration:        requestDuration,
		requestInFlight:        requestInFlight,
		answersTotal:           answersTotal,
		answerDuration:         answerDuration,
		refusalsTotal:          refusalsTotal,
		queryVariants:          queryVariants,
		contextPassages:        contextPassages,
		retrievalFailuresTotal: retrievalFailuresTotal,
		maxAuthority:           maxAuthority,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := r.URL.Path
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordAnswer observes a completed pipeline run. Outcome is accepted,
// refused or error.
func (m *HTTPServerMetrics) RecordAnswer(service, outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.answersTotal.WithLabelValues(service, outcome).Inc()
	m.answerDuration.WithLabelValues(service).Observe(duration.Seconds())
}

func (m *HTTPServerMetrics) RecordRefusal(service, reason string) {
	if reason == "" {
		reason = "unknown"
	}
	m.refusalsTotal.WithLabelValues(service, reason).Inc()
}

func (m *HTTPServerMetrics) RecordRetrievalShape(service string, queryCount, passageCount int) {
	m.queryVariants.WithLabelValues(service).Observe(float64(queryCount))
	m.contextPassages.WithLabelValues(service).Observe(float64(passageCount))
}

func (m *HTTPServerMetrics) RecordRetrievalFailure(service, source string) {
	if source == "" {
		source = "unknown"
	}
	m.retrievalFailuresTotal.WithLabelValues(service, source).Inc()
}

func (m *HTTPServerMetrics) RecordMaxAuthority(service string, authority float64) {
	m.maxAuthority.WithLabelValues(service).Observe(authority)
}

// statusRecorder captures the response status for the request counters.
// Every endpoint here writes plain JSON, so no streaming interfaces are
// forwarded.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
