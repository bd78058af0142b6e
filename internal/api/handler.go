package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/askdb/askdb/internal/backend"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/session"
)

type ReadinessCheck func(ctx context.Context) error

// SessionManager is the session surface the handlers need.
// *session.Manager implements it.
type SessionManager interface {
	Connect(ctx context.Context, req session.ConnectRequest) (*session.Session, error)
	Get(id string) (*session.Session, error)
	Close(ctx context.Context, id string) error
	List() []string
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Sessions          SessionManager
	// Backends lists the registered database engines; defaults to
	// backend.Registered.
	Backends       func() []backend.VariantInfo
	SuggestLimit   int
	MaxRequestBody int64
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	if deps.Backends == nil {
		deps.Backends = backend.Registered
	}
	if deps.SuggestLimit <= 0 {
		deps.SuggestLimit = cfg.Suggest.DefaultLimit
	}
	if deps.MaxRequestBody <= 0 {
		deps.MaxRequestBody = 1 << 20
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/backends", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"backends": deps.Backends()})
	})

	routes := map[string]http.HandlerFunc{
		"GET /v1/sessions":                   func(w http.ResponseWriter, r *http.Request) { handleListSessions(deps, w, r) },
		"POST /v1/sessions":                  func(w http.ResponseWriter, r *http.Request) { handleConnect(deps, w, r) },
		"DELETE /v1/sessions/{id}":           func(w http.ResponseWriter, r *http.Request) { handleDisconnect(deps, w, r) },
		"GET /v1/sessions/{id}/schema":       func(w http.ResponseWriter, r *http.Request) { handleSchema(deps, w, r) },
		"PUT /v1/sessions/{id}/selection":    func(w http.ResponseWriter, r *http.Request) { handleSelection(deps, w, r) },
		"POST /v1/sessions/{id}/resolve":     func(w http.ResponseWriter, r *http.Request) { handleResolve(deps, w, r) },
		"GET /v1/sessions/{id}/suggestions":  func(w http.ResponseWriter, r *http.Request) { handleSuggestions(deps, w, r) },
		"POST /v1/sessions/{id}/suggestions": func(w http.ResponseWriter, r *http.Request) { handleRemember(deps, w, r) },
		"GET /v1/sessions/{id}/complete":     func(w http.ResponseWriter, r *http.Request) { handleComplete(deps, w, r) },
	}

	protected := http.NewServeMux()
	for pattern, handler := range routes {
		protected.HandleFunc(pattern, handler)
	}

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	for pattern := range routes {
		mux.Handle(pattern, protectedHandler)
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

// CheckObjectStore reports the configured bucket as unreachable when ready
// fails. A nil ready function means no object store is configured.
func CheckObjectStore(ready func(ctx context.Context) error) ReadinessCheck {
	if ready == nil {
		return nil
	}
	return func(ctx context.Context) error {
		if err := ready(ctx); err != nil {
			return errors.Join(errors.New("object store is not ready"), err)
		}
		return nil
	}
}

// CheckHistoryStore pings the history database.
func CheckHistoryStore(ping func(ctx context.Context) error) ReadinessCheck {
	if ping == nil {
		return nil
	}
	return func(ctx context.Context) error {
		if err := ping(ctx); err != nil {
			return errors.Join(errors.New("history store is not ready"), err)
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}
