package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"genomicore/internal/config"
	"genomicore/pkg/domain"
)

const memoryConfig = `
log:
  level: error
storage:
  driver: memory
blob:
  driver: memory
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "genomicore.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", writeConfig(t, memoryConfig)}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestJobsCommand(t *testing.T) {
	got, err := execute(t, "jobs")
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(got), "\n")
	if len(lines) != 20 || lines[0] != string(domain.JobA1Manifest) {
		t.Fatalf("unexpected jobs output %q", got)
	}
}

func TestRunCommandPrintsSummary(t *testing.T) {
	got, err := execute(t, "run", "create_sample_set", "--cohort", "C1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var summary runSummary
	if err := json.Unmarshal([]byte(got), &summary); err != nil {
		t.Fatalf("decode %q: %v", got, err)
	}
	if summary.Job != domain.JobCreateSampleSet || summary.Result != domain.ResultNoFiles || summary.RunID == "" {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestRunCommandErrors(t *testing.T) {
	if _, err := execute(t, "run", "create_sample_set", "--genome-type", "aou_other"); err == nil {
		t.Fatalf("expected genome type error")
	}
	if _, err := execute(t, "run", "not_a_job"); err == nil || !strings.Contains(err.Error(), "unknown job") {
		t.Fatalf("expected unknown job error, got %v", err)
	}
}

func TestIncidentsAndOverride(t *testing.T) {
	got, err := execute(t, "incidents", "list")
	if err != nil || strings.TrimSpace(got) != "no incidents" {
		t.Fatalf("incidents list = %q %v", got, err)
	}
	if _, err := execute(t, "incidents", "resolve", "missing"); err == nil {
		t.Fatalf("expected not found")
	}
	if _, err := execute(t, "override", "m1", "IGNORE"); err == nil {
		t.Fatalf("reason flag is required")
	}
	if _, err := execute(t, "override", "m1", "IGNORE", "--reason", "dup"); err == nil {
		t.Fatalf("expected missing member error")
	}
}

func TestAppMux(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, memoryConfig))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	ctx := context.Background()
	a, err := newApp(ctx, cfg, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	t.Cleanup(func() { _ = a.Close(ctx) })
	srv := httptest.NewServer(a.mux())
	t.Cleanup(srv.Close)

	for path, want := range map[string]int{"/healthz": http.StatusOK, "/metrics": http.StatusOK} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("%s: status %d", path, resp.StatusCode)
		}
	}
	resp, err := http.Post(srv.URL+"/tasks/reconcile_data_file_index", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("task status %d", resp.StatusCode)
	}
	resp, err = http.Post(srv.URL+"/tasks/bogus", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown task status %d", resp.StatusCode)
	}
}

func TestWatchInboxCoalescesEvents(t *testing.T) {
	dir := t.TempDir()
	w, err := fsnotify.NewWatcher()
	if err != nil {
		t.Fatalf("watcher: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	if err := w.Add(dir); err != nil {
		t.Fatalf("add: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan string, 8)
	done := make(chan error, 1)
	go func() { done <- watchInbox(ctx, w, 20*time.Millisecond, func(name string) { got <- name }) }()

	for _, name := range []string{".tmp-1", "BCM_AoU_SEQ_PKG-1.csv", "BCM_AoU_SEQ_PKG-1.csv.meta", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("a,b\n"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	select {
	case name := <-got:
		if name != "BCM_AoU_SEQ_PKG-1.csv" {
			t.Fatalf("unexpected file %q", name)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no event delivered")
	}
	select {
	case name := <-got:
		t.Fatalf("expected a single delivery, also got %q", name)
	case <-time.After(100 * time.Millisecond):
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("watch: %v", err)
	}
}

func TestWatchable(t *testing.T) {
	cases := map[string]bool{
		"RDR_AoU_CVL_W2_1.csv":      true,
		"RDR_AoU_CVL_W2_1.CSV":      true,
		"RDR_AoU_CVL_W2_1.csv.meta": false,
		".tmp-123":                  false,
		"readme.md":                 false,
	}
	for name, want := range cases {
		if got := watchable(name); got != want {
			t.Fatalf("watchable(%q) = %v, want %v", name, got, want)
		}
	}
}
