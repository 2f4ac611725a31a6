package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func scrape(t *testing.T, p *Provider) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	return rr.Body.String()
}

func TestProvider_RegistersStandardCollectors_AndBuildInfo(t *testing.T) {
	p := Init(BuildInfo{Version: "test", Revision: "r", BuildDate: "now"})

	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "smoke"})
	p.Register(g)
	g.Set(42)
	if n := testutil.CollectAndCount(g); n == 0 {
		t.Fatalf("expected at least 1 sample from test_gauge, got %d", n)
	}

	body := scrape(t, p)
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("expected go_goroutines in payload; got:\n%s", body)
	}
	if !strings.Contains(body, `map_session_build_info{build_date="now",revision="r",version="test"} 1`) {
		t.Fatalf("expected build info in payload; got:\n%s", body)
	}
}

func TestProvider_DefaultsVersion(t *testing.T) {
	body := scrape(t, Init(BuildInfo{}))
	if !strings.Contains(body, `version="dev"`) {
		t.Fatalf("expected dev version; got:\n%s", body)
	}
}
