package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mohammed-shakir/map-session/internal/core/observability"
)

func assertHasMetricLine(t *testing.T, body, metric string, wantLabels ...string) {
	t.Helper()
	for ln := range strings.SplitSeq(body, "\n") {
		if !strings.HasPrefix(ln, metric+"{") {
			continue
		}
		ok := true
		for _, s := range wantLabels {
			if !strings.Contains(ln, s) {
				ok = false
				break
			}
		}
		if ok && len(ln) > 0 && ln[len(ln)-1] >= '0' && ln[len(ln)-1] <= '9' {
			return
		}
	}
	t.Fatalf("expected a %s line with labels %v; got:\n%s", metric, wantLabels, body)
}

func Test_SessionMetrics_CustomRegistry_Smoke(t *testing.T) {
	p := Init(BuildInfo{Version: "test"})
	observability.Init(p.Registerer())

	start := time.Now()
	observability.ObserveOperation("search", "success")
	observability.ObservePort("store", "search_attribute", time.Since(start).Seconds())
	observability.ObserveModeTransition("default", "route_pick")
	observability.SetSelectionSize("parcels", 7)
	observability.ObserveStoreOp("load", errors.New("boom"), 0.002)
	observability.IncFeatureCache(true)
	observability.IncJournal("dropped")
	observability.ObserveHTTP("POST", "/session/commands", 200, 0.01)

	body := scrape(t, p)
	mustContain := []string{
		`session_port_duration_seconds_bucket`,
		`store_operation_duration_seconds_count`,
		`session_selection_size{layer="parcels"} 7`,
		`store_operation_errors_total{op="load"} `,
		`store_feature_cache_total{result="hit"} `,
		`journal_events_total{result="dropped"} `,
	}
	for _, s := range mustContain {
		if !strings.Contains(body, s) {
			t.Fatalf("expected metrics to contain %q;\n---\n%s", s, body)
		}
	}

	assertHasMetricLine(t, body, "session_operations_total", `op="search"`, `outcome="success"`)
	assertHasMetricLine(t, body, "session_mode_transitions_total", `from="default"`, `to="route_pick"`)
	assertHasMetricLine(t, body, "http_requests_total", `route="/session/commands"`, `status="200"`)
	assertHasMetricLine(t, body, "map_session_build_info", `version="test"`)
}
