package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/onnwee/prerender/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RecordsRouteTemplate(t *testing.T) {
	r := mux.NewRouter()
	r.Use(Metrics)
	r.HandleFunc("/render", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}).Methods("GET")

	counter := metrics.APIRequestsTotal.WithLabelValues("/render", "GET", "400")
	before := testutil.ToFloat64(counter)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/render?url=x", nil))

	if got := testutil.ToFloat64(counter); got != before+1 {
		t.Errorf("Expected request counter to increase by 1, got %v -> %v", before, got)
	}
}

func TestStatusRecorder_DefaultsToOK(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder()}
	rec.Write([]byte("hello"))

	if rec.status != http.StatusOK {
		t.Errorf("Expected implicit 200, got %d", rec.status)
	}
	if rec.bytes != 5 {
		t.Errorf("Expected 5 bytes, got %d", rec.bytes)
	}
}

func TestRouteLabel_Unmatched(t *testing.T) {
	if got := routeLabel(httptest.NewRequest("GET", "/nope", nil)); got != "unmatched" {
		t.Errorf("Expected unmatched label, got %q", got)
	}
}
