package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/loykin/hostpanel/pkg/client"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeBody(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestHelpMentionsCommands(t *testing.T) {
	out, err := run(t, "--help")
	if err != nil {
		t.Fatalf("help: %v", err)
	}
	for _, want := range []string{"hostpanel", "create", "delete-check", "migrate-state", "job"} {
		if !strings.Contains(out, want) {
			t.Fatalf("help missing %q:\n%s", want, out)
		}
	}
}

// fakePanel serves a create that finishes after three polls.
func fakePanel(t *testing.T) *httptest.Server {
	t.Helper()
	var polls atomic.Int32
	log := "creating shop.loc\nbuilding images\ndone\n"
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/hosts", func(w http.ResponseWriter, r *http.Request) {
		var req client.CreateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Name == "bad!" {
			writeBody(w, http.StatusBadRequest, map[string]string{"type": "error", "message": "invalid host name", "error_kind": "validation"})
			return
		}
		writeBody(w, http.StatusAccepted, client.ActionResult{Type: "pending", Status: "running", Message: "Creating project shop.loc started", JobID: "j1"})
	})
	mux.HandleFunc("GET /api/jobs/j1", func(w http.ResponseWriter, r *http.Request) {
		off, _ := strconv.ParseInt(r.URL.Query().Get("offset"), 10, 64)
		n := polls.Add(1)
		end := int64(len(log))
		if n < 3 {
			end = off + int64(strings.IndexByte(log[off:], '\n')) + 1
		}
		st := client.JobStatus{Type: "pending", Status: "running", Message: "Creating project...", JobID: "j1", Offset: end, Chunk: log[off:end]}
		if n >= 3 {
			code := 0
			st.Type, st.Status, st.Message, st.ExitCode = "success", "done", "Project created", &code
		}
		writeBody(w, http.StatusOK, st)
	})
	mux.HandleFunc("DELETE /api/hosts/{name}", func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, http.StatusOK, client.ActionResult{Type: "error", Message: "Error: unable to stop containers", Project: r.PathValue("name")})
	})
	mux.HandleFunc("GET /api/hosts/{name}/delete-check", func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, http.StatusOK, client.DeleteDecision{Host: r.PathValue("name"), Allowed: false, Blocking: []string{"shop.loc"}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteCreateWaitStreamsLog(t *testing.T) {
	srv := fakePanel(t)
	out, err := run(t, "--api-url", srv.URL+"/api", "create", "shop", "--wait")
	if err != nil {
		t.Fatalf("create: %v\n%s", err, out)
	}
	want := "Creating project shop.loc started (job j1)\ncreating shop.loc\nbuilding images\ndone\nProject created\n"
	if out != want {
		t.Fatalf("output:\n%q\nwant:\n%q", out, want)
	}
}

func TestRemoteErrors(t *testing.T) {
	srv := fakePanel(t)
	api := srv.URL + "/api"

	if _, err := run(t, "--api-url", api, "create", "bad!"); err == nil || !strings.Contains(err.Error(), "invalid host name") {
		t.Fatalf("expected API error, got %v", err)
	}
	out, err := run(t, "--api-url", api, "delete", "shop.loc")
	if err == nil || err.Error() != "Error: unable to stop containers" {
		t.Fatalf("expected action error, got %v", err)
	}
	if !strings.Contains(out, `"type": "error"`) {
		t.Fatalf("result not printed: %s", out)
	}
	out, err = run(t, "--api-url", api, "delete-check", "core.loc")
	if err != nil || !strings.Contains(out, `"allowed": false`) {
		t.Fatalf("delete-check: %v %s", err, out)
	}
}

const stubHostctl = `#!/bin/sh
case "$1" in
create) echo "creating $2"; echo "done" ;;
delete) echo "Error: project $2 not found"; exit 1 ;;
*) echo "$1 $2" ;;
esac
`

func localConfig(t *testing.T) (cfgPath, projects string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
	dir := t.TempDir()
	projects = filepath.Join(dir, "projects")
	if err := os.MkdirAll(projects, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "hostctl.sh"), []byte(stubHostctl), 0o755); err != nil {
		t.Fatal(err)
	}
	cfgPath = filepath.Join(dir, "config.toml")
	content := `domain_suffix = "loc"
state_dir = "state"
projects_dir = "projects"
hostctl = "hostctl.sh"
shell = "sh"

[log]
level = "error"
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return cfgPath, projects
}

func TestLocalCommands(t *testing.T) {
	cfgPath, _ := localConfig(t)

	out, err := run(t, "--config", cfgPath, "create", "demo", "--sync")
	if err != nil {
		t.Fatalf("create: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Project demo.loc created") {
		t.Fatalf("unexpected create output: %s", out)
	}

	out, err = run(t, "--config", cfgPath, "delete", "demo.loc")
	if err != nil {
		t.Fatalf("delete of a missing host is a warning: %v\n%s", err, out)
	}
	if !strings.Contains(out, "already_missing") && !strings.Contains(out, "already missing") {
		t.Fatalf("unexpected delete output: %s", out)
	}

	out, err = run(t, "--config", cfgPath, "audit", "--limit", "10")
	if err != nil || !strings.Contains(out, `"action": "create"`) || !strings.Contains(out, `"action": "delete"`) {
		t.Fatalf("audit: %v %s", err, out)
	}

	out, err = run(t, "--config", cfgPath, "zone")
	if err != nil || !strings.Contains(out, `"suffix": "loc"`) {
		t.Fatalf("zone: %v %s", err, out)
	}
}

func TestLocalCreateWait(t *testing.T) {
	cfgPath, _ := localConfig(t)
	out, err := run(t, "--config", cfgPath, "create", "demo", "--wait")
	if err != nil {
		t.Fatalf("create --wait: %v\n%s", err, out)
	}
	if !strings.Contains(out, "creating demo.loc\ndone\n") || !strings.HasSuffix(out, "Project created\n") {
		t.Fatalf("unexpected output: %q", out)
	}

	out, err = run(t, "--config", cfgPath, "job", "list")
	if err != nil || !strings.Contains(out, `"project": "demo.loc"`) {
		t.Fatalf("job list: %v %s", err, out)
	}
}

func TestMigrateState(t *testing.T) {
	cfgPath, projects := localConfig(t)
	if err := os.WriteFile(filepath.Join(projects, ".hosts-registry.tsv"), []byte("old.loc\tphp\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, "migrate-state", cfgPath)
	if err != nil {
		t.Fatalf("migrate-state: %v\n%s", err, out)
	}
	if !strings.Contains(out, `"action": "moved"`) {
		t.Fatalf("expected a moved artifact: %s", out)
	}
	if _, err := run(t, "migrate-state"); err == nil {
		t.Fatal("migrate-state without config should fail")
	}
}

func TestServeRequiresConfig(t *testing.T) {
	if _, err := run(t, "serve"); err == nil || !strings.Contains(err.Error(), "config file required") {
		t.Fatalf("expected config error, got %v", err)
	}
}
