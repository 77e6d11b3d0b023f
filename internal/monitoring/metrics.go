package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	paymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepping_payments_total",
			Help: "Payment operations by provider, operation and resulting status",
		},
		[]string{"provider", "operation", "status"},
	)

	providerLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stepping_provider_request_duration_seconds",
			Help:    "Latency of payment provider API calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "operation"},
	)

	webhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepping_webhooks_total",
			Help: "Webhook deliveries by provider, event type and outcome",
		},
		[]string{"provider", "type", "outcome"},
	)

	wizardNavigations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepping_wizard_navigations_total",
			Help: "Wizard navigation attempts by direction and outcome",
		},
		[]string{"direction", "outcome"},
	)

	ordersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepping_orders_total",
			Help: "Order state transitions",
		},
		[]string{"status"},
	)

	httpRequests = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stepping_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

func TrackPayment(provider, operation, status string) {
	paymentsTotal.WithLabelValues(provider, operation, status).Inc()
}

func ObserveProvider(provider, operation string, started time.Time) {
	providerLatency.WithLabelValues(provider, operation).Observe(time.Since(started).Seconds())
}

func TrackWebhook(provider, eventType, outcome string) {
	webhooksTotal.WithLabelValues(provider, eventType, outcome).Inc()
}

func TrackWizardNavigation(direction, outcome string) {
	wizardNavigations.WithLabelValues(direction, outcome).Inc()
}

func TrackOrder(status string) {
	ordersTotal.WithLabelValues(status).Inc()
}

// Middleware records request latency keyed by the chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}
