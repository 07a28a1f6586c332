package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/sessions/{identity}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/v1/sessions/{identity}", "418"))

	for _, id := range []string{"ann@example.com", "bob@example.com"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/"+id, nil))
		assert.Equal(t, http.StatusTeapot, rec.Code)
	}

	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/v1/sessions/{identity}", "418"))
	assert.Equal(t, 2.0, after-before)
}

func TestMiddleware_SkipsMetricsEndpoint(t *testing.T) {
	before := testutil.ToFloat64(HTTPRequestsInFlight)

	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, before, testutil.ToFloat64(HTTPRequestsInFlight))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
}

func TestExternalCall(t *testing.T) {
	before := testutil.CollectAndCount(ExternalCallDuration)
	ExternalCall("metrics-test", 0, nil)
	assert.Equal(t, before+1, testutil.CollectAndCount(ExternalCallDuration))
}
