package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Route groups used as metric labels.
const (
	groupDrafts      = "drafts"
	groupAttachments = "attachments"
	groupSystem      = "system"
	groupOther       = "other"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wastedraft_http_requests_total",
		Help: "HTTP requests by route group, method and status class",
	}, []string{"group", "method", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wastedraft_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern",
		Buckets: prometheus.DefBuckets,
	}, []string{"group", "route"})

	uploadBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wastedraft_http_upload_bytes",
		Help:    "Body size of multipart attachment uploads",
		Buckets: prometheus.ExponentialBuckets(16<<10, 4, 8),
	}, []string{"method"})

	inFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wastedraft_http_in_flight_requests",
		Help: "Requests currently being served",
	})

	rateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wastedraft_http_rate_limited_total",
		Help: "Requests rejected by the rate limiter, by route group",
	}, []string{"group"})
)

// routeGroup buckets a request path into the resource it touches.
// Attachment routes nested under a draft count as attachments.
func routeGroup(path string) string {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	switch segs[0] {
	case "attachments":
		return groupAttachments
	case "drafts":
		if len(segs) >= 3 && segs[2] == "attachments" {
			return groupAttachments
		}
		return groupDrafts
	case "healthz", "metrics":
		return groupSystem
	default:
		return groupOther
	}
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

// Metrics counts requests per route group and times them per chi route
// pattern. Multipart uploads also record their declared body size.
func Metrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			group := routeGroup(r.URL.Path)
			if group == groupAttachments && r.ContentLength > 0 &&
				strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
				uploadBytes.WithLabelValues(r.Method).Observe(float64(r.ContentLength))
			}

			inFlight.Inc()
			defer inFlight.Dec()

			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(rec, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			requestsTotal.WithLabelValues(group, r.Method, statusClass(status)).Inc()
			requestDuration.WithLabelValues(group, route).Observe(time.Since(start).Seconds())
		})
	}
}
