package auth

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStaticAPIKeyValidatorParsing(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:alice:query_runner|ops_admin, k2:bob:query_runner")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}
	identity, ok := validator.Validate(context.Background(), "k1")
	if !ok {
		t.Fatal("expected key to be valid")
	}
	if identity.Subject != "alice" {
		t.Fatalf("Subject = %q", identity.Subject)
	}
	if !identity.HasRole(RoleOpsAdmin) || !identity.HasRole(RoleQueryRunner) {
		t.Fatalf("Roles = %v", identity.Roles)
	}
	bob, ok := validator.Validate(context.Background(), "k2")
	if !ok || bob.HasRole(RoleOpsAdmin) {
		t.Fatalf("k2 identity = %+v, ok = %v", bob, ok)
	}
	if _, ok := validator.Validate(context.Background(), "k3"); ok {
		t.Fatal("unknown key validated")
	}
}

func TestStaticAPIKeyValidatorRejectsBadEntries(t *testing.T) {
	for _, raw := range []string{
		"invalid",
		"k1::query_runner",
		"k1:alice:",
		"k1:alice:analyst",
		"k1:alice:query_runner,k1:bob:query_runner",
	} {
		if _, err := NewStaticAPIKeyValidator(raw); err == nil {
			t.Fatalf("NewStaticAPIKeyValidator(%q) expected error", raw)
		}
	}
}

func TestStaticAPIKeyValidatorNormalizesRoles(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:alice:query_runner| ops_admin |query_runner")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}
	identity, _ := validator.Validate(context.Background(), "k1")
	if len(identity.Roles) != 2 || identity.Roles[0] != RoleOpsAdmin || identity.Roles[1] != RoleQueryRunner {
		t.Fatalf("Roles = %v", identity.Roles)
	}
}

func TestStaticAPIKeyValidatorEmptyConfig(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("  ")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}
	if _, ok := validator.Validate(context.Background(), ""); ok {
		t.Fatal("empty validator accepted a key")
	}
}

func TestMiddlewareRequiresKey(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:alice:query_runner")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(slog.New(slog.NewJSONHandler(io.Discard, nil)), validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/sessions", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if body["error_code"] != "UNAUTHORIZED" || body["message"] != "missing API key" {
		t.Fatalf("body = %v", body)
	}
	if rr.Header().Get("WWW-Authenticate") == "" {
		t.Fatal("missing WWW-Authenticate header")
	}
}

func TestMiddlewareRejectsUnknownKey(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:alice:query_runner")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}
	handler := Middleware(slog.New(slog.NewTextHandler(io.Discard, nil)), validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestMiddlewareInjectsIdentity(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:alice:query_runner")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(nil, validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatal("expected identity in context")
		}
		if identity.Subject != "alice" {
			t.Fatalf("Subject = %q", identity.Subject)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, setKey := range []func(*http.Request){
		func(r *http.Request) { r.Header.Set("X-API-Key", "k1") },
		func(r *http.Request) { r.Header.Set("Authorization", "Bearer k1") },
		func(r *http.Request) { r.Header.Set("Authorization", "bearer  k1") },
	} {
		req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
		setKey(req)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("status = %d", rr.Code)
		}
	}
}
