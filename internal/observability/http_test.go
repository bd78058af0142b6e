package observability

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTraceMiddlewarePropagatesTraceID(t *testing.T) {
	for name, incoming := range map[string]string{"caller supplied": "cli-7f3a", "minted": ""} {
		t.Run(name, func(t *testing.T) {
			var seen string
			h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = TraceIDFromContext(r.Context())
				w.WriteHeader(http.StatusNoContent)
			}))
			req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
			if incoming != "" {
				req.Header.Set(traceHeader, incoming)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			echoed := rr.Header().Get(traceHeader)
			if seen == "" || seen != echoed {
				t.Fatalf("context trace id %q, response header %q", seen, echoed)
			}
			if incoming != "" && seen != incoming {
				t.Fatalf("trace id = %q, want %q", seen, incoming)
			}
		})
	}
}

func TestTraceIDFromContextWithoutValue(t *testing.T) {
	if got := TraceIDFromContext(context.Background()); got != "" {
		t.Fatalf("TraceIDFromContext() = %q", got)
	}
	if got := TraceIDFromContext(ContextWithTraceID(context.Background(), "abc123")); got != "abc123" {
		t.Fatalf("TraceIDFromContext() = %q", got)
	}
}

func TestRouteLabelCollapsesSessionID(t *testing.T) {
	cases := map[string]string{
		"/v1/health":                         "/v1/health",
		"/v1/sessions":                       "/v1/sessions",
		"/v1/sessions/abc-123":               "/v1/sessions/{id}",
		"/v1/sessions/abc-123/resolve":       "/v1/sessions/{id}/resolve",
		"/v1/sessions/abc-123/suggestions/x": "/v1/sessions/{id}/suggestions/x",
	}
	for in, want := range cases {
		if got := RouteLabel(in); got != want {
			t.Fatalf("RouteLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWithSessionAddsAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := WithSession(slog.New(slog.NewJSONHandler(&buf, nil)), "s-1", "sqlite")
	logger.Info("hello")
	out := buf.String()
	if !strings.Contains(out, `"session":{"id":"s-1","database_type":"sqlite"}`) {
		t.Fatalf("log output = %s", out)
	}
}

func TestTraceMiddlewareReplacesUnsafeTraceID(t *testing.T) {
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set(traceHeader, "bad id\nforged=1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	got := rr.Header().Get(traceHeader)
	if got == "" || strings.Contains(got, " ") || len(got) != 32 {
		t.Fatalf("trace header = %q", got)
	}
}

func TestLoggingMiddlewareRecordsRouteAndStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "{}")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/sessions/s-9/resolve", nil))

	out := buf.String()
	for _, want := range []string{
		`"level":"WARN"`,
		`"route":"/v1/sessions/{id}/resolve"`,
		`"status":404`,
		`"bytes":2`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output %s missing %s", out, want)
		}
	}
}
