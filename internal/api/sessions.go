package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/backend"
	"github.com/askdb/askdb/internal/catalog"
	"github.com/askdb/askdb/internal/session"
)

type connectRequest struct {
	DatabaseType string            `json:"database_type"`
	DSN          string            `json:"dsn"`
	Host         string            `json:"host"`
	Port         int               `json:"port"`
	Database     string            `json:"database"`
	User         string            `json:"user"`
	Password     string            `json:"password"`
	Path         string            `json:"path"`
	Params       map[string]string `json:"params"`
	Credential   string            `json:"credential"`
}

type tableView struct {
	Name     string       `json:"name"`
	Selected bool         `json:"selected"`
	Columns  []columnView `json:"columns"`
}

type columnView struct {
	Name         string `json:"name"`
	DeclaredType string `json:"declared_type,omitempty"`
}

type schemaResponse struct {
	SessionID      string      `json:"session_id"`
	DatabaseType   string      `json:"database_type"`
	DisplayName    string      `json:"display_name"`
	CreatedAt      time.Time   `json:"created_at"`
	Tables         []tableView `json:"tables"`
	SelectedTables []string    `json:"selected_tables"`
}

type selectionRequest struct {
	Tables []string `json:"tables"`
	All    bool     `json:"all"`
}

func handleListSessions(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !sessionsConfigured(deps, w, r) {
		return
	}
	if err := requireRole(r, auth.RoleOpsAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	ids := deps.Sessions.List()
	items := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		s, err := deps.Sessions.Get(id)
		if err != nil {
			continue
		}
		items = append(items, map[string]any{
			"session_id":    s.ID(),
			"database_type": s.DatabaseType(),
			"owner":         s.Owner(),
			"created_at":    s.CreatedAt(),
			"last_used_at":  s.LastUsed(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": items})
}

func handleConnect(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !sessionsConfigured(deps, w, r) {
		return
	}
	if err := requireRole(r, auth.RoleQueryRunner); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var req connectRequest
	if err := decodeJSON(w, r, deps.MaxRequestBody, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid connect request body", false, map[string]any{"details": err.Error()})
		return
	}
	databaseType, err := catalog.ParseDatabaseType(req.DatabaseType)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_DATABASE_TYPE", err.Error(), false, map[string]any{"supported": catalog.DatabaseTypes()})
		return
	}

	s, err := deps.Sessions.Connect(r.Context(), session.ConnectRequest{
		Target: backend.Target{
			Type:     databaseType,
			DSN:      req.DSN,
			Host:     req.Host,
			Port:     req.Port,
			Database: req.Database,
			User:     req.User,
			Password: req.Password,
			Path:     req.Path,
			Params:   req.Params,
		},
		Credential: req.Credential,
		Owner:      ownerFromRequest(r),
	})
	if err != nil {
		handleSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, buildSchemaResponse(s))
}

func handleDisconnect(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	s, ok := lookupSession(deps, w, r)
	if !ok {
		return
	}
	if err := deps.Sessions.Close(r.Context(), s.ID()); err != nil {
		handleSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": s.ID(), "closed": true})
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	s, ok := lookupSession(deps, w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, buildSchemaResponse(s))
}

func handleSelection(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	s, ok := lookupSession(deps, w, r)
	if !ok {
		return
	}
	var req selectionRequest
	if err := decodeJSON(w, r, deps.MaxRequestBody, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid selection request body", false, map[string]any{"details": err.Error()})
		return
	}
	if err := s.SelectTables(req.All, req.Tables...); err != nil {
		handleSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, buildSchemaResponse(s))
}

func buildSchemaResponse(s *session.Session) schemaResponse {
	cat := s.Catalog()
	tables := cat.Tables()
	views := make([]tableView, 0, len(tables))
	for _, table := range tables {
		columns := make([]columnView, 0, len(table.Columns))
		for _, column := range table.Columns {
			columns = append(columns, columnView{Name: column.Name, DeclaredType: column.DeclaredType})
		}
		views = append(views, tableView{Name: table.Name, Selected: cat.IsSelected(table.Name), Columns: columns})
	}
	return schemaResponse{
		SessionID:      s.ID(),
		DatabaseType:   string(s.DatabaseType()),
		DisplayName:    s.DatabaseType().DisplayName(),
		CreatedAt:      s.CreatedAt(),
		Tables:         views,
		SelectedTables: cat.SelectedTableNames(),
	}
}

func sessionsConfigured(deps Dependencies, w http.ResponseWriter, r *http.Request) bool {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session manager is not configured", false, nil)
		return false
	}
	return true
}

// lookupSession resolves the {id} path value. Sessions owned by another
// caller are reported as not found.
func lookupSession(deps Dependencies, w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	if !sessionsConfigured(deps, w, r) {
		return nil, false
	}
	if err := requireRole(r, auth.RoleQueryRunner); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return nil, false
	}
	id := strings.TrimSpace(r.PathValue("id"))
	s, err := deps.Sessions.Get(id)
	if err != nil {
		handleSessionError(w, r, err)
		return nil, false
	}
	if s.Owner() != ownerFromRequest(r) && !isOpsAdmin(r) {
		handleSessionError(w, r, fmt.Errorf("%w: %s", session.ErrNotFound, id))
		return nil, false
	}
	return s, true
}

func handleSessionError(w http.ResponseWriter, r *http.Request, err error) {
	var connErr *backend.ConnectionError
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(r.Context(), w, http.StatusNotFound, "SESSION_NOT_FOUND", "session was not found", false, nil)
	case errors.Is(err, session.ErrClosed):
		writeError(r.Context(), w, http.StatusGone, "SESSION_CLOSED", "session is closed", false, nil)
	case errors.Is(err, session.ErrLimit):
		writeError(r.Context(), w, http.StatusTooManyRequests, "SESSION_LIMIT", "too many open sessions", true, nil)
	case errors.Is(err, catalog.ErrUnknownTable):
		writeError(r.Context(), w, http.StatusBadRequest, "UNKNOWN_TABLE", err.Error(), false, nil)
	case errors.Is(err, backend.ErrUnsupportedType):
		writeError(r.Context(), w, http.StatusBadRequest, "UNSUPPORTED_DATABASE_TYPE", err.Error(), false, nil)
	case errors.As(err, &connErr):
		writeError(r.Context(), w, http.StatusBadGateway, "CONNECTION_ERROR", "could not connect to the database", true, map[string]any{
			"database_type": connErr.Type,
			"details":       connErr.Err.Error(),
		})
	default:
		writeError(r.Context(), w, http.StatusInternalServerError, "SESSION_ERROR", "session operation failed", true, map[string]any{"details": err.Error()})
	}
}

// ownerFromRequest is the authenticated subject, or the X-Client-ID header
// when auth is disabled.
func ownerFromRequest(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		return identity.Subject
	}
	return strings.TrimSpace(r.Header.Get("X-Client-ID"))
}

func isOpsAdmin(r *http.Request) bool {
	identity, ok := auth.IdentityFromContext(r.Context())
	return ok && identity.HasRole(auth.RoleOpsAdmin)
}

func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.HasRole(role) {
		return nil
	}
	return fmt.Errorf("missing required role %q", role)
}
