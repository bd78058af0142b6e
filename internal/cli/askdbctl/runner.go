// Package askdbctl is the command line client of the askdb API.
package askdbctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type Options struct {
	BaseURL    string
	APIKey     string
	ClientID   string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdin      io.ReadCloser
	Stdout     io.Writer
	Stderr     io.Writer
	// NewLineReader replaces the readline prompt of the shell command.
	NewLineReader func(cfg LineReaderConfig) (LineReader, error)
}

// errResolveFailed marks a resolution that completed with a rejection or
// failure; the message is already printed.
var errResolveFailed = errors.New("resolution did not succeed")

type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }

// Run executes one askdbctl command and returns the process exit code: 0 on
// success, 1 on request or resolution failure, 2 on usage errors.
func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, "missing command")
		_, _ = fmt.Fprint(stderr, newRootCommand(&defaults).UsageString())
		return 2
	}

	root := newRootCommand(&defaults)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errResolveFailed):
		return 1
	case isUsageError(err):
		_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
		_, _ = fmt.Fprint(stderr, root.UsageString())
		return 2
	default:
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}
}

func isUsageError(err error) bool {
	var usage usageError
	if errors.As(err, &usage) {
		return true
	}
	message := err.Error()
	return strings.HasPrefix(message, "unknown command") ||
		strings.HasPrefix(message, "unknown flag") ||
		strings.HasPrefix(message, "unknown shorthand flag") ||
		strings.Contains(message, "arg(s)")
}

type globalFlags struct {
	baseURL  string
	apiKey   string
	clientID string
	timeout  time.Duration
	format   string
}

func newRootCommand(opts *Options) *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "askdbctl",
		Short:         "Ask questions of your databases through the askdb API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if flags.format != formatTable && flags.format != formatJSON {
				return usageError{fmt.Errorf("invalid --format %q: want table or json", flags.format)}
			}
			return nil
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&flags.baseURL, "base-url", firstNonEmpty(opts.BaseURL, "http://localhost:8080"), "askdb API base URL")
	pf.StringVar(&flags.apiKey, "api-key", opts.APIKey, "API key for authenticated requests")
	pf.StringVar(&flags.clientID, "client-id", opts.ClientID, "client id header (session owner when auth is disabled)")
	pf.DurationVar(&flags.timeout, "timeout", durationOr(opts.Timeout, 90*time.Second), "HTTP timeout (e.g. 30s)")
	pf.StringVarP(&flags.format, "format", "f", formatTable, "output format: table or json")

	newClient := func() *client {
		httpClient := opts.HTTPClient
		if httpClient == nil {
			httpClient = &http.Client{Timeout: flags.timeout}
		}
		return &client{baseURL: flags.baseURL, apiKey: flags.apiKey, clientID: flags.clientID, http: httpClient}
	}

	root.AddCommand(
		rawCommand("health", "Show API health", http.MethodGet, "/v1/health", newClient),
		rawCommand("ready", "Show API readiness", http.MethodGet, "/v1/ready", newClient),
		rawCommand("backends", "List supported database types", http.MethodGet, "/v1/backends", newClient),
		newConnectCommand(flags, newClient),
		newDisconnectCommand(newClient),
		newSchemaCommand(flags, newClient),
		newSelectCommand(flags, newClient),
		newResolveCommand(flags, newClient),
		newSuggestCommand(flags, newClient),
		newRememberCommand(newClient),
		newShellCommand(opts, flags, newClient),
	)
	return root
}

func rawCommand(use, short, method, path string, newClient func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := newClient().do(cmd.Context(), method, path, nil, nil)
			if err != nil {
				return err
			}
			renderRaw(cmd.OutOrStdout(), raw)
			return nil
		},
	}
}

func newConnectCommand(flags *globalFlags, newClient func() *client) *cobra.Command {
	var (
		req    = map[string]any{}
		dbType string
		dsn    string
		host   string
		port   int
		dbName string
		user   string
		pass   string
		path   string
		cred   string
		params []string
	)
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Open a session against a database and print its schema",
		Example: `  askdbctl connect --type sqlite --path ./shop.db
  askdbctl connect --type postgres --host db --database shop --user app --password secret`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(dbType) == "" {
				return usageError{errors.New("--type is required")}
			}
			req["database_type"] = dbType
			setIfNotEmpty(req, "dsn", dsn)
			setIfNotEmpty(req, "host", host)
			setIfNotEmpty(req, "database", dbName)
			setIfNotEmpty(req, "user", user)
			setIfNotEmpty(req, "password", pass)
			setIfNotEmpty(req, "path", path)
			setIfNotEmpty(req, "credential", cred)
			if port > 0 {
				req["port"] = port
			}
			if len(params) > 0 {
				parsed, err := parseParams(params)
				if err != nil {
					return usageError{err}
				}
				req["params"] = parsed
			}

			raw, err := newClient().do(cmd.Context(), http.MethodPost, "/v1/sessions", nil, req)
			if err != nil {
				return err
			}
			return printSchema(cmd, flags, raw)
		},
	}
	f := cmd.Flags()
	f.StringVar(&dbType, "type", "", "database type: sqlserver, mysql, postgresql, sqlite, duckdb")
	f.StringVar(&dsn, "dsn", "", "driver DSN; overrides the structured fields")
	f.StringVar(&host, "host", "", "server host")
	f.IntVar(&port, "port", 0, "server port")
	f.StringVar(&dbName, "database", "", "database name")
	f.StringVar(&user, "user", "", "user name")
	f.StringVar(&pass, "password", "", "password")
	f.StringVar(&path, "path", "", "database file for sqlite and duckdb")
	f.StringVar(&cred, "credential", "", "AI provider key for this session")
	f.StringArrayVar(&params, "param", nil, "driver parameter key=value (repeatable)")
	return cmd
}

func newDisconnectCommand(newClient func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <session>",
		Short: "Close a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := newClient().do(cmd.Context(), http.MethodDelete, sessionPath(args[0], ""), nil, nil); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "session %s closed\n", args[0])
			return nil
		},
	}
}

func newSchemaCommand(flags *globalFlags, newClient func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "schema <session>",
		Short: "Show the tables of a session and which are selected",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := newClient().do(cmd.Context(), http.MethodGet, sessionPath(args[0], "/schema"), nil, nil)
			if err != nil {
				return err
			}
			return printSchema(cmd, flags, raw)
		},
	}
}

func newSelectCommand(flags *globalFlags, newClient func() *client) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "select <session> [table...]",
		Short: "Choose the tables the AI may use",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tables := args[1:]
			if !all && len(tables) == 0 {
				return usageError{errors.New("name at least one table or pass --all")}
			}
			payload := map[string]any{"tables": tables, "all": all}
			raw, err := newClient().do(cmd.Context(), http.MethodPut, sessionPath(args[0], "/selection"), nil, payload)
			if err != nil {
				return err
			}
			return printSchema(cmd, flags, raw)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "select every table")
	return cmd
}

func newResolveCommand(flags *globalFlags, newClient func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <session> <question or SQL...>",
		Short: "Run SQL or a natural language question",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args[1:], " ")
			return resolveAndRender(cmd.Context(), newClient(), flags, cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], text)
		},
	}
}

func resolveAndRender(ctx context.Context, c *client, flags *globalFlags, stdout, stderr io.Writer, sessionID, text string) error {
	raw, err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "/resolve"), nil, map[string]string{"text": text})
	if err != nil {
		return err
	}
	var result resolveResponse
	if err := decodeInto(raw, &result); err != nil {
		return err
	}
	if flags.format == formatJSON {
		renderRaw(stdout, raw)
	} else if !renderResolve(stdout, stderr, result) {
		return errResolveFailed
	}
	if result.Outcome != "success" {
		return errResolveFailed
	}
	return nil
}

func newSuggestCommand(flags *globalFlags, newClient func() *client) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "suggest <session> <prefix...>",
		Short: "List suggestions starting with a prefix",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{"prefix": {strings.Join(args[1:], " ")}}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			raw, err := newClient().do(cmd.Context(), http.MethodGet, sessionPath(args[0], "/suggestions"), query, nil)
			if err != nil {
				return err
			}
			if flags.format == formatJSON {
				renderRaw(cmd.OutOrStdout(), raw)
				return nil
			}
			var out suggestionsResponse
			if err := decodeInto(raw, &out); err != nil {
				return err
			}
			renderList(cmd.OutOrStdout(), out.Suggestions)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum suggestions (server default when 0)")
	return cmd
}

func newRememberCommand(newClient func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "remember <session> <sql...>",
		Short: "Add copied SQL to the session's suggestions",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry := strings.Join(args[1:], " ")
			var out struct {
				Added int `json:"added"`
			}
			if err := newClient().doJSON(cmd.Context(), http.MethodPost, sessionPath(args[0], "/suggestions"), nil, map[string]any{"entries": []string{entry}}, &out); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "remembered %d new entries\n", out.Added)
			return nil
		},
	}
}

func printSchema(cmd *cobra.Command, flags *globalFlags, raw []byte) error {
	if flags.format == formatJSON {
		renderRaw(cmd.OutOrStdout(), raw)
		return nil
	}
	var schema schemaResponse
	if err := decodeInto(raw, &schema); err != nil {
		return err
	}
	renderSchema(cmd.OutOrStdout(), schema)
	return nil
}

func parseParams(values []string) (map[string]string, error) {
	out := make(map[string]string, len(values))
	for _, value := range values {
		key, val, ok := strings.Cut(value, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q: want key=value", value)
		}
		out[key] = val
	}
	return out, nil
}

func setIfNotEmpty(m map[string]any, key, value string) {
	if strings.TrimSpace(value) != "" {
		m[key] = value
	}
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
