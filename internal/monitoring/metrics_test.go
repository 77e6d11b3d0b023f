package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTrackPaymentIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(paymentsTotal.WithLabelValues("square", "create", "success"))
	TrackPayment("square", "create", "success")
	after := testutil.ToFloat64(paymentsTotal.WithLabelValues("square", "create", "success"))
	assert.Equal(t, before+1, after)
}

func TestTrackWebhookIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(webhooksTotal.WithLabelValues("square", "payment.updated", "processed"))
	TrackWebhook("square", "payment.updated", "processed")
	assert.Equal(t, before+1, testutil.ToFloat64(webhooksTotal.WithLabelValues("square", "payment.updated", "processed")))
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/events/{eventId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events/abc", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, 1, testutil.CollectAndCount(httpRequests, "stepping_http_request_duration_seconds"))
	ObserveProvider("paypal", "capture", time.Now())
}
