package server

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// gatheredValue returns the counter value or histogram sample count of the
// series of family name whose labels include all of want.
func gatheredValue(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	series:
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue series
				}
			}
			if h := m.GetHistogram(); h != nil {
				return float64(h.GetSampleCount())
			}
			return m.GetCounter().GetValue()
		}
	}
	t.Fatalf("%s%v not found in gathered metrics", name, want)
	return 0
}

var errNoWorker = errors.New("no worker")

func Test_Metrics_EndpointReturns200(t *testing.T) {
	t.Parallel()
	s, _, _ := newAPITestServer(t, nil)

	w := do(s, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Errorf("want 200, got %d", w.Code)
	}
	ct := w.Header().Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("want text/plain content-type, got %q", ct)
	}
}

func Test_Metrics_RequestsInstrumented(t *testing.T) {
	t.Parallel()
	s, _, reg := newAPITestServer(t, nil)

	do(s, http.MethodPost, "/api/v1/data/process/p1", "")
	do(s, http.MethodPost, "/api/v1/data/process/p1", `{"chunk_size":-1}`)

	if got := gatheredValue(t, reg, "ragindex_http_requests_total",
		map[string]string{"handler": "process", "code": "202"}); got != 1 {
		t.Errorf("202 requests = %v, want 1", got)
	}
	if got := gatheredValue(t, reg, "ragindex_http_requests_total",
		map[string]string{"handler": "process", "code": "400"}); got != 1 {
		t.Errorf("400 requests = %v, want 1", got)
	}
	if got := gatheredValue(t, reg, "ragindex_http_duration_seconds",
		map[string]string{"handler": "process"}); got != 2 {
		t.Errorf("duration samples = %v, want 2", got)
	}
}

func Test_Metrics_SubmissionsCounted(t *testing.T) {
	t.Parallel()
	s, f, reg := newAPITestServer(t, nil)

	do(s, http.MethodPost, "/api/v1/nlp/index/push/p1", "")
	f.submitter.err = errNoWorker
	do(s, http.MethodPost, "/api/v1/nlp/index/push/p1", "")

	if got := gatheredValue(t, reg, "ragindex_api_submissions_total",
		map[string]string{"kind": "index", "outcome": "ok"}); got != 1 {
		t.Errorf("ok submissions = %v, want 1", got)
	}
	if got := gatheredValue(t, reg, "ragindex_api_submissions_total",
		map[string]string{"kind": "index", "outcome": "error"}); got != 1 {
		t.Errorf("failed submissions = %v, want 1", got)
	}
}
