package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSnapshotJSONCallsAPI(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/snapshot", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("expected GET, got %s", r.Method)
		}
		_, _ = io.WriteString(w, `{"schema_version":"v1","generated_at":"2026-08-25T00:00:00Z","server":"CFTI HTTP 1.0","jig":{"id":"jig-7","name":"Bench 7","description":""},"scenarios":["smoke","burnin"],"scenario_names":{"smoke":"Smoke test","burnin":"Burn-in"},"scenario_descriptions":{},"scenario":{"id":"smoke","state":"running"},"tests":{"smoke":["t1"]},"test_names":{"t1":"Power rail"},"test_descriptions":{},"results":{"t1":{"state":"pass"}},"current_log_len":2,"previous_log_len":0,"global_log_len":2}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	r := NewRunnerWithClient(srv.URL, srv.Client(), out, errOut)
	if code := r.Run(context.Background(), []string{"snapshot", "-json"}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, errOut.String())
	}
	if !strings.Contains(out.String(), `"scenarios"`) {
		t.Fatalf("expected snapshot JSON output, got: %s", out.String())
	}

	out.Reset()
	if code := r.Run(context.Background(), []string{"snapshot"}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, errOut.String())
	}
	text := out.String()
	if !strings.Contains(text, "scenario\tsmoke\trunning") {
		t.Fatalf("expected scenario line, got: %s", text)
	}
	if !strings.Contains(text, "* smoke\tSmoke test") {
		t.Fatalf("expected active scenario marker, got: %s", text)
	}
	if !strings.Contains(text, "test t1\tpass") {
		t.Fatalf("expected test result line, got: %s", text)
	}
	if !strings.Contains(text, "current=2 previous=0 global=2") {
		t.Fatalf("expected log length line, got: %s", text)
	}
}

func TestLogsBuildsQueryAndRendersEntries(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/logs/current", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("expected GET, got %s", r.Method)
		}
		q := r.URL.Query()
		if q.Get("start") != "1" || q.Get("end") != "3" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		_, _ = io.WriteString(w, `{"schema_version":"v1","generated_at":"2026-08-25T00:00:00Z","sequence":"current","count":1,"entries":[{"class":"info","unit_id":"psu1","unit_type":"psu","timestamp":{"secs":1700000000,"nsecs":5},"message":"rail up"}]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	r := NewRunnerWithClient(srv.URL, srv.Client(), out, errOut)
	if code := r.Run(context.Background(), []string{"logs", "current", "-start", "1", "-end", "3"}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, errOut.String())
	}
	if !strings.Contains(out.String(), "info\tpsu1/psu\trail up") {
		t.Fatalf("expected rendered entry, got: %s", out.String())
	}

	out.Reset()
	if code := r.Run(context.Background(), []string{"logs", "current", "-start", "1", "-end", "3", "-json"}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, errOut.String())
	}
	if !strings.Contains(out.String(), `"entries"`) {
		t.Fatalf("expected raw JSON window, got: %s", out.String())
	}
}

func TestLogsRejectsUnknownSequence(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	r := NewRunnerWithClient("http://example.invalid", &http.Client{}, out, errOut)
	code := r.Run(context.Background(), []string{"logs", "bogus"})
	if code != 2 {
		t.Fatalf("expected validation exit 2, got %d", code)
	}
	if !strings.Contains(errOut.String(), "invalid log sequence") {
		t.Fatalf("expected sequence error, got: %s", errOut.String())
	}
}

func TestSelectSendsCommand(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/commands/select", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if req["id"] != "smoke" {
			t.Fatalf("unexpected request: %+v", req)
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, `{"schema_version":"v1","generated_at":"2026-08-25T00:00:00Z","command":"SCENARIO","line":"SCENARIO smoke"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	r := NewRunnerWithClient(srv.URL, srv.Client(), out, errOut)
	if code := r.Run(context.Background(), []string{"select", "smoke"}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, errOut.String())
	}
	if !strings.Contains(out.String(), "sent SCENARIO smoke") {
		t.Fatalf("unexpected select output: %s", out.String())
	}
}

func TestSelectRequiresScenario(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	r := NewRunnerWithClient("http://example.invalid", &http.Client{}, out, errOut)
	code := r.Run(context.Background(), []string{"select"})
	if code != 2 {
		t.Fatalf("expected validation exit 2, got %d", code)
	}
	if !strings.Contains(errOut.String(), "usage: jigbridge select") {
		t.Fatalf("expected usage message, got: %s", errOut.String())
	}
}

func TestStartWithoutIDSendsNoBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/commands/start", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if len(body) != 0 {
			t.Fatalf("expected empty body, got: %s", body)
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, `{"schema_version":"v1","generated_at":"2026-08-25T00:00:00Z","command":"START","line":"START smoke"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	r := NewRunnerWithClient(srv.URL, srv.Client(), out, errOut)
	if code := r.Run(context.Background(), []string{"start"}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, errOut.String())
	}
	if !strings.Contains(out.String(), "sent START smoke") {
		t.Fatalf("unexpected start output: %s", out.String())
	}
}

func TestBareCommandsPostToNamedRoutes(t *testing.T) {
	var got []string
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/commands/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		got = append(got, r.URL.Path)
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, `{"schema_version":"v1","generated_at":"2026-08-25T00:00:00Z","command":"HELLO","line":"HELLO"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	r := NewRunnerWithClient(srv.URL, srv.Client(), out, errOut)
	for _, name := range []string{"hello", "jig", "scenarios", "tests", "abort"} {
		if code := r.Run(context.Background(), []string{name}); code != 0 {
			t.Fatalf("expected %s exit 0, got %d stderr=%s", name, code, errOut.String())
		}
	}
	want := []string{
		"/v1/commands/hello",
		"/v1/commands/jig",
		"/v1/commands/scenarios",
		"/v1/commands/tests",
		"/v1/commands/abort",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d requests, got %v", len(want), got)
	}
	for i, path := range want {
		if got[i] != path {
			t.Fatalf("request %d: expected %s, got %s", i, path, got[i])
		}
	}
}

func TestLogJoinsMessageWords(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/commands/log", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if req["message"] != "bench ready" {
			t.Fatalf("unexpected request: %+v", req)
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, `{"schema_version":"v1","generated_at":"2026-08-25T00:00:00Z","command":"LOG","line":"LOG bench ready"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	r := NewRunnerWithClient(srv.URL, srv.Client(), out, errOut)
	if code := r.Run(context.Background(), []string{"log", "bench", "ready"}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, errOut.String())
	}
	if !strings.Contains(out.String(), "sent LOG bench ready") {
		t.Fatalf("unexpected log output: %s", out.String())
	}
}

func TestShutdownCarriesOptionalReason(t *testing.T) {
	var bodies []string
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/commands/shutdown", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		bodies = append(bodies, strings.TrimSpace(string(body)))
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, `{"schema_version":"v1","generated_at":"2026-08-25T00:00:00Z","command":"SHUTDOWN","line":"SHUTDOWN"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	r := NewRunnerWithClient(srv.URL, srv.Client(), out, errOut)
	if code := r.Run(context.Background(), []string{"shutdown", "power", "down"}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, errOut.String())
	}
	if code := r.Run(context.Background(), []string{"shutdown"}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, errOut.String())
	}
	if len(bodies) != 2 {
		t.Fatalf("expected 2 requests, got %v", bodies)
	}
	if bodies[0] != `{"reason":"power down"}` {
		t.Fatalf("unexpected reason body: %s", bodies[0])
	}
	if bodies[1] != "" {
		t.Fatalf("expected empty body, got: %s", bodies[1])
	}
}

func TestTruncateLogsAcceptsNoContent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/logs/global/truncate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	r := NewRunnerWithClient(srv.URL, srv.Client(), out, errOut)
	if code := r.Run(context.Background(), []string{"truncate-logs"}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, errOut.String())
	}
	if !strings.Contains(out.String(), "truncated global log") {
		t.Fatalf("unexpected truncate output: %s", out.String())
	}
}

func TestHealthRendersStatusAndSignature(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"schema_version":"v1","generated_at":"2026-08-25T00:00:00Z","status":"ok","signature":"CFTI HTTP 1.0"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	r := NewRunnerWithClient(srv.URL, srv.Client(), out, errOut)
	if code := r.Run(context.Background(), []string{"health"}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, errOut.String())
	}
	if !strings.Contains(out.String(), "ok\tCFTI HTTP 1.0") {
		t.Fatalf("unexpected health output: %s", out.String())
	}
}

func TestAddrFlagSelectsDaemon(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"schema_version":"v1","generated_at":"2026-08-25T00:00:00Z","status":"ok","signature":"CFTI HTTP 1.0"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	r := NewRunnerWithClient("http://example.invalid", srv.Client(), out, errOut)
	addr := strings.TrimPrefix(srv.URL, "http://")
	if code := r.Run(context.Background(), []string{"-addr", addr, "health"}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, errOut.String())
	}
	if !strings.Contains(out.String(), "ok") {
		t.Fatalf("unexpected health output: %s", out.String())
	}
}

func TestDaemonErrorEnvelopeMapsToExitOne(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/commands/start", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"schema_version":"v1","generated_at":"2026-08-25T00:00:00Z","error":{"code":"E_NO_ACTIVE_SCENARIO","message":"no active scenario"}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	r := NewRunnerWithClient(srv.URL, srv.Client(), out, errOut)
	code := r.Run(context.Background(), []string{"start"})
	if code != 1 {
		t.Fatalf("expected exit 1, got %d stdout=%s", code, out.String())
	}
	if !strings.Contains(errOut.String(), "E_NO_ACTIVE_SCENARIO: no active scenario") {
		t.Fatalf("expected daemon error code, got: %s", errOut.String())
	}
}

func TestUnknownCommandPrintsUsage(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	r := NewRunnerWithClient("http://example.invalid", &http.Client{}, out, errOut)
	code := r.Run(context.Background(), []string{"frobnicate"})
	if code != 2 {
		t.Fatalf("expected usage exit 2, got %d", code)
	}
	if !strings.Contains(errOut.String(), "unknown command: frobnicate") {
		t.Fatalf("expected unknown command error, got: %s", errOut.String())
	}
}

func TestVersionPrintsBuildString(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	r := NewRunnerWithClient("http://example.invalid", &http.Client{}, out, errOut)
	if code := r.Run(context.Background(), []string{"version"}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, errOut.String())
	}
	if !strings.Contains(out.String(), "jigbridge "+Version) {
		t.Fatalf("unexpected version output: %s", out.String())
	}
}
