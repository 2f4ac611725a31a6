package observability

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit_IsIdempotentPerRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg)
	Init(reg)
	Init(prometheus.NewRegistry())
	Init(nil)
}

func TestSessionMetrics_LabelsAndIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg)

	before := testutil.ToFloat64(sessionOperations.WithLabelValues("search", "empty"))
	ObserveOperation("search", "empty")
	if got := testutil.ToFloat64(sessionOperations.WithLabelValues("search", "empty")); got != before+1 {
		t.Fatalf("session_operations_total = %v, want %v", got, before+1)
	}

	ObserveModeTransition("default", "route_pick")
	ObserveModeTransition("default", "default")
	SetSelectionSize("cities", 3)
	ObservePort("store", "search_attribute", 0.002)
	ObserveStoreOp("commit", errors.New("boom"), 0.01)
	ObserveHTTP("POST", "/session/commands", 200, 0.003)

	rr := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	body := rr.Body.String()

	for _, want := range []string{
		`session_mode_transitions_total{from="default",to="route_pick"}`,
		`session_selection_size{layer="cities"} 3`,
		`session_port_duration_seconds_bucket{op="search_attribute",port="store"`,
		`store_operation_errors_total{op="commit"}`,
		`http_requests_total{method="POST",route="/session/commands",status="200"}`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %s in payload:\n%s", want, body)
		}
	}
	if strings.Contains(body, `to="default"`) {
		t.Fatalf("self transition must not be counted:\n%s", body)
	}
}
