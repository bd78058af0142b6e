package nl2sql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/catalog"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/sqltext"
)

// LLMTranslator builds prompts for a Completer and classifies its answers.
type LLMTranslator struct {
	completer Completer
	logger    *slog.Logger
}

var _ Translator = (*LLMTranslator)(nil)

func NewLLMTranslator(completer Completer, logger *slog.Logger) *LLMTranslator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LLMTranslator{completer: completer, logger: logger}
}

// New wires the configured provider. It returns a nil Translator when AI is
// disabled.
func New(cfg config.AIConfig, logger *slog.Logger) (Translator, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	var (
		completer Completer
		err       error
	)
	switch cfg.Provider {
	case config.AIProviderOpenAI:
		completer, err = NewOpenAICompleter(OpenAIConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		})
	case config.AIProviderAnthropic:
		completer, err = NewAnthropicCompleter(AnthropicConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unsupported AI provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("configure %s completer: %w", cfg.Provider, err)
	}
	return NewLLMTranslator(completer, logger), nil
}

func (t *LLMTranslator) Translate(ctx context.Context, req TranslateRequest) (result ResolvedQuery, err error) {
	start := time.Now()
	defer func() {
		observability.ObserveTranslation("translate", time.Since(start), err)
	}()

	text := strings.TrimSpace(req.NaturalLanguage)
	if text == "" {
		return ResolvedQuery{}, t.fail("translate", errors.New("natural language request is empty"))
	}
	system, prompt, err := buildTranslatePrompt(req.Dialect, req.Tables, text)
	if err != nil {
		return ResolvedQuery{}, t.fail("translate", err)
	}
	raw, err := t.completer.Complete(ctx, CompletionRequest{Credential: req.Credential, System: system, Prompt: prompt})
	if err != nil {
		return ResolvedQuery{}, t.fail("translate", err)
	}
	result, err = parseResolvedQuery(raw)
	if err != nil {
		return ResolvedQuery{}, t.fail("translate", err)
	}
	t.logger.Debug("translated request",
		"dialect", string(req.Dialect),
		"tables", len(req.Tables),
		"is_sql", result.IsSQL,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

func (t *LLMTranslator) SuggestQueries(ctx context.Context, req SuggestRequest) (queries []string, err error) {
	if req.Count <= 0 {
		return nil, nil
	}
	start := time.Now()
	defer func() {
		observability.ObserveTranslation("suggest", time.Since(start), err)
	}()

	system, prompt := buildSuggestPrompt(req.Dialect, req.Count)
	raw, err := t.completer.Complete(ctx, CompletionRequest{Credential: req.Credential, System: system, Prompt: prompt})
	if err != nil {
		return nil, t.fail("suggest queries", err)
	}
	queries = parseSuggestions(raw, req.Count)
	if len(queries) == 0 {
		return nil, t.fail("suggest queries", errors.New("model returned no queries"))
	}
	return queries, nil
}

func (t *LLMTranslator) fail(op string, err error) error {
	return &Error{Op: op, Provider: t.completer.Provider(), Err: err}
}

func buildTranslatePrompt(dialect catalog.DatabaseType, tables []TableContext, request string) (string, string, error) {
	if tables == nil {
		tables = []TableContext{}
	}
	tablesJSON, err := json.Marshal(tables)
	if err != nil {
		return "", "", fmt.Errorf("marshal table context: %w", err)
	}
	system := fmt.Sprintf("You convert natural language requests into a single %s SQL statement. "+
		"Answer with a JSON object {\"is_sql\": boolean, \"output\": string} and nothing else. "+
		"When the request can be answered with SQL, set is_sql to true and put the statement in output. "+
		"Otherwise set is_sql to false and explain briefly in output why no SQL statement fits.",
		dialectName(dialect))
	prompt := fmt.Sprintf(
		"Schema (JSON):\n%s\n\nUser request:\n%s\n\nRules:\n- Use only the listed tables and columns.\n- Never produce statements that drop, truncate or alter objects.\n- UPDATE and DELETE must have a WHERE clause.",
		string(tablesJSON),
		request,
	)
	return system, prompt, nil
}

func buildSuggestPrompt(dialect catalog.DatabaseType, count int) (string, string) {
	system := fmt.Sprintf("You write example %s SQL queries. Answer with a JSON array of strings and nothing else.", dialectName(dialect))
	prompt := fmt.Sprintf("List %d short, commonly used %s SQL queries a user might type. One statement per entry, no comments.", count, dialectName(dialect))
	return system, prompt
}

func dialectName(dialect catalog.DatabaseType) string {
	if dialect.Valid() {
		return dialect.DisplayName()
	}
	return "ANSI"
}

// sqlLeadingKeywords decides whether free text is SQL when the JSON envelope
// is missing.
var sqlLeadingKeywords = map[string]struct{}{
	"SELECT": {}, "WITH": {}, "INSERT": {}, "UPDATE": {}, "DELETE": {}, "VALUES": {},
	"SHOW": {}, "DESCRIBE": {}, "DESC": {}, "EXPLAIN": {}, "PRAGMA": {}, "FROM": {}, "TABLE": {},
	"REPLACE": {}, "MERGE": {}, "CREATE": {}, "DROP": {}, "ALTER": {}, "TRUNCATE": {},
}

func parseResolvedQuery(raw string) (ResolvedQuery, error) {
	text := stripMarkdownFence(raw)
	if text == "" {
		return ResolvedQuery{}, errors.New("model returned an empty response")
	}

	if object := extractJSONObject(text); object != "" {
		var envelope struct {
			IsSQL  *bool   `json:"is_sql"`
			Output *string `json:"output"`
		}
		if err := json.Unmarshal([]byte(object), &envelope); err == nil && envelope.IsSQL != nil && envelope.Output != nil {
			output := strings.TrimSpace(*envelope.Output)
			if *envelope.IsSQL {
				output = stripMarkdownFence(output)
			}
			if output == "" {
				return ResolvedQuery{}, errors.New("model returned an empty output")
			}
			return ResolvedQuery{IsSQL: *envelope.IsSQL, Output: output}, nil
		}
	}

	if _, ok := sqlLeadingKeywords[sqltext.LeadingKeyword(text)]; ok {
		return ResolvedQuery{IsSQL: true, Output: text}, nil
	}
	return ResolvedQuery{IsSQL: false, Output: text}, nil
}

var listMarker = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])\s+`)

func parseSuggestions(raw string, limit int) []string {
	text := stripMarkdownFence(raw)
	var entries []string
	if start := strings.Index(text, "["); start >= 0 {
		if end := strings.LastIndex(text, "]"); end > start {
			_ = json.Unmarshal([]byte(text[start:end+1]), &entries)
		}
	}
	if entries == nil {
		for _, line := range strings.Split(text, "\n") {
			entries = append(entries, listMarker.ReplaceAllString(line, ""))
		}
	}

	seen := make(map[string]struct{}, len(entries))
	out := make([]string, 0, min(limit, len(entries)))
	for _, entry := range entries {
		entry = strings.TrimSpace(strings.Trim(strings.TrimSpace(entry), "`"))
		if entry == "" {
			continue
		}
		if _, dup := seen[entry]; dup {
			continue
		}
		seen[entry] = struct{}{}
		out = append(out, entry)
		if len(out) == limit {
			break
		}
	}
	return out
}

func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return ""
}

func stripMarkdownFence(value string) string {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if newline := strings.IndexByte(trimmed, '\n'); newline >= 0 && !strings.ContainsAny(trimmed[:newline], " \t{[") {
		trimmed = trimmed[newline+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
