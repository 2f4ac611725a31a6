package health

import (
	"encoding/json"
	"net/http"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// ReadinessReporter says whether the session can take commands and lists
// the checks that are failing.
type ReadinessReporter interface {
	Readiness() (ready bool, failing []string)
}

type ReadinessFunc func() (bool, []string)

func (f ReadinessFunc) Readiness() (bool, []string) { return f() }

func Readiness(rr ReadinessReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		type resp struct {
			Status  string   `json:"status"`
			Failing []string `json:"failing,omitempty"`
		}
		ready, failing := rr.Readiness()
		out := resp{Status: "ready"}
		if !ready {
			out.Status = "not_ready"
			out.Failing = failing
		}
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
