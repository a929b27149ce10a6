package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncJobLaunch("create")
	IncJobLaunchFailure("create")
	IncJobFinished("success", "generic")
	IncPoll("running")
	IncDeleteBlocked()
	ObserveCommand("delete", "success", 1.5)
	ObserveHTTP("GET", "/api/jobs/:id", 200, 0.01)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"hostpanel_job_launches_total":               false,
		"hostpanel_job_launch_failures_total":        false,
		"hostpanel_job_finished_total":               false,
		"hostpanel_job_polls_total":                  false,
		"hostpanel_host_delete_blocked_total":        false,
		"hostpanel_hostctl_command_duration_seconds": false,
		"hostpanel_http_requests_total":              false,
		"hostpanel_http_request_duration_seconds":    false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}

	srv := httptest.NewServer(HandlerFor(reg))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "hostpanel_job_launches_total") {
		t.Fatalf("scrape missing metric: %s", body)
	}
}

func TestRegisterIgnoresAlreadyRegistered(t *testing.T) {
	regOK.Store(false)
	defer regOK.Store(true)
	reg := prometheus.NewRegistry()
	for _, c := range collectors() {
		_ = reg.Register(c)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("register over existing collectors: %v", err)
	}
}
