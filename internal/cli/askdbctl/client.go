package askdbctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// APIError is a non-2xx response in the API's error envelope.
type APIError struct {
	Status    int
	Code      string `json:"error_code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	TraceID   string `json:"trace_id"`
	Body      string `json:"-"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("http %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("http %d %s: %s", e.Status, e.Code, e.Message)
}

type client struct {
	baseURL  string
	apiKey   string
	clientID string
	http     *http.Client
}

// do sends payload as JSON when non-nil and returns the raw response body.
func (c *client) do(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	endpoint := strings.TrimRight(c.baseURL, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := strings.TrimSpace(c.apiKey); key != "" {
		req.Header.Set("X-API-Key", key)
	}
	if id := strings.TrimSpace(c.clientID); id != "" {
		req.Header.Set("X-Client-ID", id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		_ = json.Unmarshal(raw, apiErr)
		return nil, apiErr
	}
	return raw, nil
}

func (c *client) doJSON(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	raw, err := c.do(ctx, method, path, query, payload)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func sessionPath(sessionID string, suffix string) string {
	return "/v1/sessions/" + url.PathEscape(sessionID) + suffix
}

type schemaResponse struct {
	SessionID      string   `json:"session_id"`
	DatabaseType   string   `json:"database_type"`
	DisplayName    string   `json:"display_name"`
	SelectedTables []string `json:"selected_tables"`
	Tables         []struct {
		Name     string `json:"name"`
		Selected bool   `json:"selected"`
		Columns  []struct {
			Name         string `json:"name"`
			DeclaredType string `json:"declared_type"`
		} `json:"columns"`
	} `json:"tables"`
}

type resolveResponse struct {
	Outcome      string   `json:"outcome"`
	Kind         string   `json:"kind"`
	SQL          string   `json:"sql"`
	Translated   bool     `json:"translated"`
	Columns      []string `json:"columns"`
	Rows         [][]any  `json:"rows"`
	RowsAffected int64    `json:"rows_affected"`
	Truncated    bool     `json:"truncated"`
	DurationMs   int64    `json:"duration_ms"`
	Title        string   `json:"title"`
	Reason       string   `json:"reason"`
	Detail       string   `json:"detail"`
}

type suggestionsResponse struct {
	Suggestions []string `json:"suggestions"`
}

type completeResponse struct {
	Completion string `json:"completion"`
	Found      bool   `json:"found"`
}

func decodeInto(raw []byte, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
