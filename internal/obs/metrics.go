package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Domain metrics
var (
	votesCast = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "votes_cast_total",
			Help: "Accepted ballots by kind (authenticated, anonymous).",
		},
		[]string{"kind"},
	)

	voteRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vote_rejections_total",
			Help: "Rejected ballots by reason code.",
		},
		[]string{"reason"},
	)

	electionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "election_transitions_total",
			Help: "Election status transitions by target status.",
		},
		[]string{"to"},
	)

	auditWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_write_failures_total",
		Help: "Audit entries that could not be persisted.",
	})

	emailsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emails_sent_total",
			Help: "Outbound emails by result.",
		},
		[]string{"result"},
	)
)

// Init registers all collectors in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		votesCast, voteRejections, electionTransitions, auditWriteFailures, emailsSent,
	)
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func VoteCast(kind string)         { votesCast.WithLabelValues(kind).Inc() }
func VoteRejected(reason string)   { voteRejections.WithLabelValues(reason).Inc() }
func ElectionTransition(to string) { electionTransitions.WithLabelValues(to).Inc() }
func AuditWriteFailed()            { auditWriteFailures.Inc() }

func EmailSent(ok bool) {
	if ok {
		emailsSent.WithLabelValues("success").Inc()
		return
	}
	emailsSent.WithLabelValues("failure").Inc()
}

// Instrument records RPS, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// collections whose next path segment is an identifier.
var idCollections = map[string]string{
	"users":      ":id",
	"classes":    ":id",
	"elections":  ":id",
	"candidates": ":candidate_id",
	"slots":      ":slot_id",
	"vote":       ":token",
	"ballot":     ":token",
}

// CanonicalPath collapses identifiers so metric label cardinality stays bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" || raw == "/" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	for i := 1; i < len(parts); i++ {
		if placeholder, ok := idCollections[parts[i-1]]; ok && parts[i] != "" {
			parts[i] = placeholder
			i++
		}
	}
	return "/" + strings.Join(parts, "/")
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
