package askdbctl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordedRequest struct {
	Method   string
	Path     string
	Query    string
	APIKey   string
	ClientID string
	Body     map[string]any
}

type fakeAPI struct {
	mu       sync.Mutex
	requests []recordedRequest
	routes   map[string]func(w http.ResponseWriter)
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	api := &fakeAPI{routes: map[string]func(w http.ResponseWriter){}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := recordedRequest{
			Method:   r.Method,
			Path:     r.URL.Path,
			Query:    r.URL.RawQuery,
			APIKey:   r.Header.Get("X-API-Key"),
			ClientID: r.Header.Get("X-Client-ID"),
		}
		raw, _ := io.ReadAll(r.Body)
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &req.Body)
		}
		api.mu.Lock()
		api.requests = append(api.requests, req)
		handler, ok := api.routes[r.Method+" "+r.URL.Path]
		api.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error_code":"SESSION_NOT_FOUND","message":"session not found","retryable":false}`))
			return
		}
		handler(w)
	}))
	t.Cleanup(srv.Close)
	return api, srv
}

func (a *fakeAPI) respond(route string, status int, body string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.routes[route] = func(w http.ResponseWriter) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func (a *fakeAPI) last() recordedRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.requests) == 0 {
		return recordedRequest{}
	}
	return a.requests[len(a.requests)-1]
}

func (a *fakeAPI) all() []recordedRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]recordedRequest(nil), a.requests...)
}

const schemaBody = `{
	"session_id":"s1","database_type":"sqlite","display_name":"SQLite",
	"tables":[
		{"name":"customers","selected":true,"columns":[{"name":"id"},{"name":"name"}]},
		{"name":"orders","selected":false,"columns":[{"name":"id"}]}
	],
	"selected_tables":["customers"]
}`

func runCLI(t *testing.T, baseURL string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), append([]string{"--base-url", baseURL}, args...), Options{
		Stdout:  &stdout,
		Stderr:  &stderr,
		Timeout: 2 * time.Second,
	})
	return code, stdout.String(), stderr.String()
}

func TestRunHealthSendsHeaders(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.respond("GET /v1/health", http.StatusOK, `{"status":"ok"}`)

	code, stdout, stderr := runCLI(t, srv.URL, "--api-key", "k1", "--client-id", "laptop", "health")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr)
	}
	got := api.last()
	if got.Method != http.MethodGet || got.Path != "/v1/health" {
		t.Fatalf("request = %s %s", got.Method, got.Path)
	}
	if got.APIKey != "k1" || got.ClientID != "laptop" {
		t.Fatalf("headers api_key=%q client_id=%q", got.APIKey, got.ClientID)
	}
	if !strings.Contains(stdout, `"status": "ok"`) {
		t.Fatalf("stdout = %q", stdout)
	}
}

func TestRunConnectPostsTargetAndRendersSchema(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.respond("POST /v1/sessions", http.StatusCreated, schemaBody)

	code, stdout, stderr := runCLI(t, srv.URL, "connect", "--type", "sqlite", "--path", "/tmp/shop.db", "--param", "mode=ro")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr)
	}
	body := api.last().Body
	if body["database_type"] != "sqlite" || body["path"] != "/tmp/shop.db" {
		t.Fatalf("body = %#v", body)
	}
	params, _ := body["params"].(map[string]any)
	if params["mode"] != "ro" {
		t.Fatalf("params = %#v", body["params"])
	}
	if _, ok := body["host"]; ok {
		t.Fatalf("empty fields should be omitted: %#v", body)
	}
	if !strings.Contains(stdout, "customers") || !strings.Contains(stdout, "(1 of 2 tables selected)") {
		t.Fatalf("stdout = %q", stdout)
	}
}

func TestRunSelectAll(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.respond("PUT /v1/sessions/s1/selection", http.StatusOK, schemaBody)

	code, _, stderr := runCLI(t, srv.URL, "select", "s1", "--all")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr)
	}
	if api.last().Body["all"] != true {
		t.Fatalf("body = %#v", api.last().Body)
	}
}

func TestRunResolveSuccessRendersRows(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.respond("POST /v1/sessions/s1/resolve", http.StatusOK, `{
		"outcome":"success","sql":"SELECT id, name FROM customers","translated":true,
		"columns":["id","name"],"rows":[[1,"Ada"],[2,null]],"rows_affected":0,"states":[]
	}`)

	code, stdout, stderr := runCLI(t, srv.URL, "resolve", "s1", "list", "all", "customers")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr)
	}
	if api.last().Body["text"] != "list all customers" {
		t.Fatalf("body = %#v", api.last().Body)
	}
	for _, want := range []string{"-- SELECT id, name FROM customers", "Ada", "NULL", "(2 rows)"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("stdout missing %q: %q", want, stdout)
		}
	}
}

func TestRunResolveRejectedExitsOne(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.respond("POST /v1/sessions/s1/resolve", http.StatusOK, `{
		"outcome":"rejected","kind":"unsafe_statement","title":"Forbidden",
		"reason":"forbidden command","detail":"You must not execute this dangerous command: DROP","states":[]
	}`)

	code, stdout, stderr := runCLI(t, srv.URL, "resolve", "s1", "DROP TABLE customers")
	if code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	if stdout != "" {
		t.Fatalf("stdout = %q", stdout)
	}
	if !strings.Contains(stderr, "Forbidden: You must not execute this dangerous command") {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestRunStatementWithoutResultSet(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.respond("POST /v1/sessions/s1/resolve", http.StatusOK, `{"outcome":"success","sql":"UPDATE t SET a = 1","columns":[],"rows":[],"rows_affected":3}`)

	code, stdout, _ := runCLI(t, srv.URL, "resolve", "s1", "UPDATE t SET a = 1")
	if code != 0 || !strings.Contains(stdout, "(3 rows affected)") {
		t.Fatalf("code=%d stdout=%q", code, stdout)
	}
}

func TestRunAPIErrorExitsOne(t *testing.T) {
	_, srv := newFakeAPI(t)

	code, _, stderr := runCLI(t, srv.URL, "schema", "missing")
	if code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stderr, "SESSION_NOT_FOUND") {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestRunSuggestAndRemember(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.respond("GET /v1/sessions/s1/suggestions", http.StatusOK, `{"prefix":"cu","suggestions":["customers","customer"]}`)
	api.respond("POST /v1/sessions/s1/suggestions", http.StatusOK, `{"added":1,"entries":40}`)

	code, stdout, stderr := runCLI(t, srv.URL, "suggest", "s1", "cu", "--limit", "5")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr)
	}
	if got := api.last().Query; got != "limit=5&prefix=cu" {
		t.Fatalf("query = %q", got)
	}
	if !strings.Contains(stdout, "customers") {
		t.Fatalf("stdout = %q", stdout)
	}

	code, stdout, stderr = runCLI(t, srv.URL, "remember", "s1", "SELECT", "1")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr)
	}
	entries, _ := api.last().Body["entries"].([]any)
	if len(entries) != 1 || entries[0] != "SELECT 1" {
		t.Fatalf("body = %#v", api.last().Body)
	}
	if !strings.Contains(stdout, "remembered 1 new entries") {
		t.Fatalf("stdout = %q", stdout)
	}
}

func TestRunUsageErrors(t *testing.T) {
	_, srv := newFakeAPI(t)

	cases := map[string][]string{
		"no command":      nil,
		"unknown command": {"frobnicate"},
		"unknown flag":    {"health", "--nope"},
		"missing type":    {"connect"},
		"missing args":    {"resolve", "s1"},
		"bad format":      {"--format", "yaml", "health"},
		"bad param":       {"connect", "--type", "sqlite", "--param", "novalue"},
		"empty selection": {"select", "s1"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if args != nil {
				args = append([]string{"--base-url", srv.URL}, args...)
			}
			code := Run(context.Background(), args, Options{Stdout: &stdout, Stderr: &stderr})
			if code != 2 {
				t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
			}
			if stderr.Len() == 0 {
				t.Fatal("expected usage on stderr")
			}
		})
	}
}

type scriptedReader struct {
	lines  []string
	closed bool
}

func (r *scriptedReader) Readline() (string, error) {
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return line, nil
}

func (r *scriptedReader) SetPrompt(string) {}

func (r *scriptedReader) Close() error {
	r.closed = true
	return nil
}

func TestShellRunsLinesAndDotCommands(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.respond("GET /v1/sessions/s1/schema", http.StatusOK, schemaBody)
	api.respond("POST /v1/sessions/s1/resolve", http.StatusOK, `{"outcome":"success","sql":"SELECT 1","columns":["x"],"rows":[[1]]}`)
	api.respond("POST /v1/sessions/s1/suggestions", http.StatusOK, `{"added":1,"entries":2}`)

	reader := &scriptedReader{lines: []string{"", ".schema", "SELECT 1", ".copy SELECT 2", ".bogus", ".quit", "SELECT 3"}}
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{"--base-url", srv.URL, "shell", "s1", "--history-file="}, Options{
		Stdout: &stdout,
		Stderr: &stderr,
		NewLineReader: func(cfg LineReaderConfig) (LineReader, error) {
			if cfg.Prompt != shellPrompt || cfg.AutoComplete == nil {
				t.Errorf("unexpected reader config: %#v", cfg)
			}
			return reader, nil
		},
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if !reader.closed {
		t.Fatal("expected reader to be closed")
	}

	var paths []string
	for _, req := range api.all() {
		paths = append(paths, req.Method+" "+req.Path)
	}
	want := []string{
		"GET /v1/sessions/s1/schema",
		"POST /v1/sessions/s1/resolve",
		"POST /v1/sessions/s1/suggestions",
	}
	if strings.Join(paths, ",") != strings.Join(want, ",") {
		t.Fatalf("requests = %v", paths)
	}
	if !strings.Contains(stdout.String(), "(1 rows)") || !strings.Contains(stdout.String(), "remembered") {
		t.Fatalf("stdout = %q", stdout.String())
	}
	if !strings.Contains(stderr.String(), "Unknown command: .bogus") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestCompleterReturnsRemainingText(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.respond("GET /v1/sessions/s1/complete", http.StatusOK, `{"prefix":"SELECT na","completion":"SELECT name FROM customers","found":true}`)

	c := &completer{shell: &shell{
		ctx:       context.Background(),
		client:    &client{baseURL: srv.URL, http: http.DefaultClient},
		sessionID: "s1",
	}}
	line := []rune("SELECT na")
	candidates, length := c.Do(line, len(line))
	if len(candidates) != 1 || string(candidates[0]) != "me FROM customers" || length != len(line) {
		t.Fatalf("candidates=%q length=%d", candidates, length)
	}
	if got := api.last().Query; got != "prefix=SELECT+na" {
		t.Fatalf("query = %q", got)
	}

	if candidates, _ := c.Do([]rune(".sch"), 4); candidates != nil {
		t.Fatalf("dot commands should not be completed: %q", candidates)
	}
}

func TestCompleterIgnoresMisses(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.respond("GET /v1/sessions/s1/complete", http.StatusOK, `{"prefix":"zz","completion":"","found":false}`)

	c := &completer{shell: &shell{ctx: context.Background(), client: &client{baseURL: srv.URL, http: http.DefaultClient}, sessionID: "s1"}}
	if candidates, length := c.Do([]rune("zz"), 2); candidates != nil || length != 0 {
		t.Fatalf("candidates=%q length=%d", candidates, length)
	}
}
