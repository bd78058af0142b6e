package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/askdb/askdb/internal/resolver"
)

type resolveRequest struct {
	Text string `json:"text"`
}

type resolveResponse struct {
	Outcome      resolver.Outcome   `json:"outcome"`
	Kind         resolver.ErrorKind `json:"kind,omitempty"`
	SQL          string             `json:"sql,omitempty"`
	Translated   bool               `json:"translated"`
	Columns      []string           `json:"columns"`
	Rows         [][]any            `json:"rows"`
	RowsAffected int64              `json:"rows_affected"`
	Truncated    bool               `json:"truncated"`
	DurationMs   int64              `json:"duration_ms"`
	Title        string             `json:"title,omitempty"`
	Reason       string             `json:"reason,omitempty"`
	Detail       string             `json:"detail,omitempty"`
	States       []resolver.State   `json:"states"`
}

type rememberRequest struct {
	Entries []string `json:"entries"`
}

// handleResolve answers 200 for every engine outcome; rejections and
// failures are reported in the body.
func handleResolve(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	s, ok := lookupSession(deps, w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if err := decodeJSON(w, r, deps.MaxRequestBody, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid resolve request body", false, map[string]any{"details": err.Error()})
		return
	}

	result, err := s.Resolve(r.Context(), req.Text)
	if err != nil {
		handleSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResolveResponse(result))
}

func toResolveResponse(result resolver.Result) resolveResponse {
	response := resolveResponse{
		Outcome:    result.Outcome,
		Kind:       result.Kind,
		SQL:        result.SQL,
		Translated: result.Translated,
		Columns:    []string{},
		Rows:       [][]any{},
		Title:      result.Title,
		Reason:     result.Reason,
		Detail:     result.Detail,
		States:     result.States,
	}
	if result.Succeeded() {
		if result.Table.Columns != nil {
			response.Columns = result.Table.Columns
		}
		if result.Table.Rows != nil {
			response.Rows = result.Table.Rows
		}
		response.RowsAffected = result.Table.RowsAffected
		response.Truncated = result.Table.Truncated
		response.DurationMs = result.Table.Duration.Milliseconds()
	}
	return response
}

func handleSuggestions(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	s, ok := lookupSession(deps, w, r)
	if !ok {
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"), deps.SuggestLimit)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", err.Error(), false, nil)
		return
	}
	prefix := r.URL.Query().Get("prefix")
	suggestions, err := s.Suggest(prefix, limit)
	if err != nil {
		handleSessionError(w, r, err)
		return
	}
	if suggestions == nil {
		suggestions = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"prefix": prefix, "suggestions": suggestions})
}

func handleComplete(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	s, ok := lookupSession(deps, w, r)
	if !ok {
		return
	}
	prefix := r.URL.Query().Get("prefix")
	entry, found, err := s.Complete(prefix)
	if err != nil {
		handleSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prefix": prefix, "completion": entry, "found": found})
}

func handleRemember(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	s, ok := lookupSession(deps, w, r)
	if !ok {
		return
	}
	var req rememberRequest
	if err := decodeJSON(w, r, deps.MaxRequestBody, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid suggestions request body", false, map[string]any{"details": err.Error()})
		return
	}
	if len(req.Entries) == 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "ENTRIES_REQUIRED", "entries are required", false, nil)
		return
	}
	added, err := s.Remember(r.Context(), req.Entries...)
	if err != nil {
		handleSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"added": added, "entries": s.Cache().Len()})
}

func parseLimit(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("limit must be a non-negative integer, got %q", raw)
	}
	return limit, nil
}
