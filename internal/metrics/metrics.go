package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Inquiry lifecycle
	inquiriesCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inquiries_created_total",
			Help: "Total number of inquiries submitted by brands",
		},
	)

	inquiryTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inquiry_transitions_total",
			Help: "Inquiry status transitions by outcome",
		},
		[]string{"to", "result"}, // accepted|ignored, ok|rejected
	)

	// Message log
	messagesAppendedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messages_appended_total",
			Help: "Total number of messages appended to conversations",
		},
	)

	messagesRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_rejected_total",
			Help: "Rejected message appends by reason",
		},
		[]string{"reason"},
	)

	// Fanout
	fanoutPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_events_published_total",
			Help: "Events handed to the fanout broker",
		},
		[]string{"kind", "result"},
	)

	fanoutDeliveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_events_delivered_total",
			Help: "Events delivered to local subscribers",
		},
		[]string{"kind"},
	)

	fanoutBackfilledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fanout_backfilled_messages_total",
			Help: "Messages read back from the log to close a delivery gap",
		},
	)

	fanoutDuplicatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fanout_duplicates_dropped_total",
			Help: "Message events dropped because they were already delivered",
		},
	)

	fanoutSlowConsumersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fanout_slow_consumers_total",
			Help: "Subscriptions closed because their buffer overflowed",
		},
	)

	fanoutSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fanout_active_subscriptions",
			Help: "Number of active conversation subscriptions on this instance",
		},
	)

	fanoutTopics = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fanout_active_topics",
			Help: "Number of conversations with at least one local subscriber",
		},
	)
)

// Handler отдаёт /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// PrometheusMiddleware пишет метрики по шаблону маршрута chi, а не по сырому пути.
func PrometheusMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack нужен для апгрейда websocket.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func RecordInquiryCreated() {
	inquiriesCreatedTotal.Inc()
}

func RecordTransition(to string, err error) {
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	inquiryTransitionsTotal.WithLabelValues(to, result).Inc()
}

func RecordMessageAppended() {
	messagesAppendedTotal.Inc()
}

func RecordMessageRejected(reason string) {
	messagesRejectedTotal.WithLabelValues(reason).Inc()
}

func RecordPublish(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	fanoutPublishedTotal.WithLabelValues(kind, result).Inc()
}

func RecordDelivered(kind string) {
	fanoutDeliveredTotal.WithLabelValues(kind).Inc()
}

func RecordBackfilled(n int) {
	fanoutBackfilledTotal.Add(float64(n))
}

func RecordDuplicateDropped() {
	fanoutDuplicatesTotal.Inc()
}

func RecordSlowConsumer() {
	fanoutSlowConsumersTotal.Inc()
}

func SubscriptionOpened() { fanoutSubscriptions.Inc() }
func SubscriptionClosed() { fanoutSubscriptions.Dec() }
func TopicOpened()        { fanoutTopics.Inc() }
func TopicClosed()        { fanoutTopics.Dec() }
