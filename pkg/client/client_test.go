package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/api", Timeout: 5 * time.Second})
}

func writeBody(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "http://localhost:8080/api", cfg.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Timeout)

	c := New(Config{})
	assert.Equal(t, "http://localhost:8080/api", c.baseURL)
	assert.NotNil(t, c.logger)
}

func TestCreateHostSendsBody(t *testing.T) {
	var got CreateRequest
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/hosts", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		off := int64(0)
		writeBody(w, http.StatusAccepted, ActionResult{
			Type: "pending", Status: "running", Message: "Creating project demo.loc started",
			Project: "demo.loc", JobID: "20260301-120000-abcdef12", Offset: &off,
		})
	}))

	res, err := c.CreateHost(context.Background(), CreateRequest{Name: "demo", Preset: "bitrix", BitrixType: "kernel"})
	require.NoError(t, err)
	assert.Equal(t, "demo", got.Name)
	assert.Equal(t, "bitrix", got.Preset)
	assert.Equal(t, "pending", res.Type)
	assert.Equal(t, "20260301-120000-abcdef12", res.JobID)
	require.NotNil(t, res.Offset)
	assert.Zero(t, *res.Offset)
}

func TestAPIErrorDecoded(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, http.StatusBadRequest, map[string]string{
			"type": "error", "message": "host name outside zone", "error_kind": "foreign_suffix",
		})
	}))

	_, err := c.CreateHost(context.Background(), CreateRequest{Name: "x.com"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "foreign_suffix", apiErr.ErrorKind)
	assert.Contains(t, apiErr.Error(), "foreign_suffix")
	assert.Contains(t, apiErr.Error(), "host name outside zone")
}

func TestAPIErrorWithoutBody(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	_, err := c.Hosts(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Service Unavailable", apiErr.Message)
	assert.Equal(t, "API error 503: Service Unavailable", apiErr.Error())
}

// fakeJob serves a job log in fixed slices and reports done on the last one.
type fakeJob struct {
	mu      sync.Mutex
	log     string
	step    int
	offsets []int64
}

func (f *fakeJob) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	off, _ := strconv.ParseInt(r.URL.Query().Get("offset"), 10, 64)
	f.offsets = append(f.offsets, off)
	f.step++
	end := int64(f.step * 4)
	if end > int64(len(f.log)) {
		end = int64(len(f.log))
	}
	st := JobStatus{Type: "pending", Status: "running", JobID: "j1", Offset: end, Chunk: f.log[off:end]}
	if end == int64(len(f.log)) {
		code := 0
		st.Type, st.Status, st.ExitCode, st.Message = "success", "done", &code, "Project created"
	}
	writeBody(w, http.StatusOK, st)
}

func TestWaitJobThreadsOffsets(t *testing.T) {
	job := &fakeJob{log: "line one\nline two\n"}
	c := newTestClient(t, job)

	var sb strings.Builder
	st, err := c.WaitJob(context.Background(), "j1", WaitOptions{
		Interval: 5 * time.Millisecond,
		OnChunk:  func(s string) { sb.WriteString(s) },
	})
	require.NoError(t, err)
	assert.True(t, st.Done())
	assert.Equal(t, "success", st.Type)
	assert.Equal(t, job.log, sb.String())
	assert.Equal(t, []int64{0, 4, 8, 12, 16}, job.offsets)
}

func TestWaitJobTimeout(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, http.StatusOK, JobStatus{Type: "pending", Status: "running", JobID: "j1"})
	}))
	_, err := c.WaitJob(context.Background(), "j1", WaitOptions{Interval: 5 * time.Millisecond, Timeout: 50 * time.Millisecond})
	assert.ErrorIs(t, err, ErrWaitTimeout)
}

func TestWaitJobCanceled(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, http.StatusOK, JobStatus{Type: "pending", Status: "running", JobID: "j1"})
	}))
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	_, err := c.WaitJob(ctx, "j1", WaitOptions{Interval: 5 * time.Millisecond})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrWaitTimeout))
}

func TestRoutesAndEscaping(t *testing.T) {
	var seen []string
	var mu sync.Mutex
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Method+" "+r.URL.RequestURI())
		mu.Unlock()
		switch {
		case r.URL.Path == "/api/hosts":
			writeBody(w, http.StatusOK, []Host{{Name: "demo.loc", HasDirectory: true}})
		case r.URL.Path == "/api/jobs":
			writeBody(w, http.StatusOK, []Job{{JobID: "j1", Project: "demo.loc"}})
		case r.URL.Path == "/api/audit":
			writeBody(w, http.StatusOK, []AuditRecord{{Action: "delete", Status: "success"}})
		case r.URL.Path == "/api/zone":
			writeBody(w, http.StatusOK, Zone{Suffix: "loc", Valid: true, ServiceDomains: map[string]string{"adminer": "adminer.loc"}})
		case strings.HasSuffix(r.URL.Path, "/delete-check"):
			writeBody(w, http.StatusOK, DeleteDecision{Host: "core.loc", Allowed: false, Blocking: []string{"shop.loc"}})
		default:
			writeBody(w, http.StatusOK, ActionResult{Type: "success", Message: "ok"})
		}
	}))
	ctx := context.Background()

	hosts, err := c.Hosts(ctx)
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	assert.True(t, hosts[0].HasDirectory)

	jobs, err := c.Jobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, "j1", jobs[0].JobID)

	recs, err := c.Audit(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, "delete", recs[0].Action)

	z, err := c.Zone(ctx)
	require.NoError(t, err)
	assert.Equal(t, "adminer.loc", z.ServiceDomains["adminer"])
	assert.True(t, c.IsReachable(ctx))

	dec, err := c.DeleteCheck(ctx, "core.loc")
	require.NoError(t, err)
	assert.Equal(t, []string{"shop.loc"}, dec.Blocking)

	_, err = c.DeleteHost(ctx, "demo.loc")
	require.NoError(t, err)
	_, err = c.Lifecycle(ctx, "restart", "demo.loc")
	require.NoError(t, err)
	_, err = c.PollJob(ctx, "a/b", 3)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"GET /api/hosts",
		"GET /api/jobs",
		"GET /api/audit?limit=10",
		"GET /api/zone",
		"GET /api/zone",
		"GET /api/hosts/core.loc/delete-check",
		"DELETE /api/hosts/demo.loc",
		"POST /api/hosts/demo.loc/restart",
		"GET /api/jobs/a%2Fb?offset=3",
	}, seen)
}

func TestIsReachableFalse(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1/api", Timeout: 200 * time.Millisecond})
	assert.False(t, c.IsReachable(context.Background()))
}

func TestInsecureTLS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, http.StatusOK, Zone{Suffix: "loc", Valid: true})
	}))
	t.Cleanup(srv.Close)

	strict := New(Config{BaseURL: srv.URL + "/api", Timeout: 2 * time.Second})
	_, err := strict.Zone(context.Background())
	require.Error(t, err)

	insecure := New(Config{BaseURL: srv.URL + "/api", Timeout: 2 * time.Second, Insecure: true})
	z, err := insecure.Zone(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "loc", z.Suffix)
}

func TestSetupClientTLSBadCA(t *testing.T) {
	_, err := setupClientTLS(Config{TLS: &TLSClientConfig{Enabled: true, CACert: "/nonexistent/ca.pem"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CA certificate")

	cfg, err := setupClientTLS(Config{TLS: &TLSClientConfig{Enabled: true, ServerName: "panel.loc", SkipVerify: true}})
	require.NoError(t, err)
	assert.Equal(t, "panel.loc", cfg.ServerName)
	assert.True(t, cfg.InsecureSkipVerify)
}
