package askdbctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

const shellPrompt = "askdb> "

// LineReader is the prompt the shell reads from.
type LineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
	Close() error
}

type LineReaderConfig struct {
	Prompt       string
	HistoryFile  string
	AutoComplete readline.AutoCompleter
	Stdin        io.ReadCloser
	Stdout       io.Writer
	Stderr       io.Writer
}

func newReadline(cfg LineReaderConfig) (LineReader, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          cfg.Prompt,
		HistoryFile:     cfg.HistoryFile,
		AutoComplete:    cfg.AutoComplete,
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
		Stdin:           cfg.Stdin,
		Stdout:          cfg.Stdout,
		Stderr:          cfg.Stderr,
	})
	if err != nil {
		return nil, err
	}
	return rl, nil
}

func newShellCommand(opts *Options, flags *globalFlags, newClient func() *client) *cobra.Command {
	var historyFile string
	cmd := &cobra.Command{
		Use:   "shell <session>",
		Short: "Interactive prompt with completion from the session's suggestions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sh := &shell{
				ctx:       cmd.Context(),
				client:    newClient(),
				sessionID: args[0],
				flags:     flags,
				stdout:    cmd.OutOrStdout(),
				stderr:    cmd.ErrOrStderr(),
			}

			newReader := opts.NewLineReader
			if newReader == nil {
				newReader = newReadline
			}
			rl, err := newReader(LineReaderConfig{
				Prompt:       shellPrompt,
				HistoryFile:  historyFile,
				AutoComplete: &completer{shell: sh},
				Stdin:        opts.Stdin,
				Stdout:       sh.stdout,
				Stderr:       sh.stderr,
			})
			if err != nil {
				return fmt.Errorf("initialize shell: %w", err)
			}
			defer func() { _ = rl.Close() }()
			return sh.loop(rl)
		},
	}
	cmd.Flags().StringVar(&historyFile, "history-file", defaultHistoryFile(), "prompt history file (empty disables)")
	return cmd
}

func defaultHistoryFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".askdb_history")
}

type shell struct {
	ctx       context.Context
	client    *client
	sessionID string
	flags     *globalFlags
	stdout    io.Writer
	stderr    io.Writer
}

func (s *shell) loop(rl LineReader) error {
	_, _ = fmt.Fprintf(s.stdout, "askdb shell (session %s)\n", s.sessionID)
	_, _ = fmt.Fprintln(s.stdout, "Type SQL or a question. .help for commands, .quit to exit")

	for {
		if err := s.ctx.Err(); err != nil {
			return nil
		}
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ".") {
			if quit := s.dotCommand(line); quit {
				return nil
			}
			continue
		}

		err = resolveAndRender(s.ctx, s.client, s.flags, s.stdout, s.stderr, s.sessionID, line)
		if err != nil && !errors.Is(err, errResolveFailed) {
			_, _ = fmt.Fprintf(s.stderr, "Error: %v\n", err)
		}
	}
}

func (s *shell) dotCommand(line string) bool {
	command, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	var err error
	switch strings.ToLower(command) {
	case ".quit", ".exit":
		return true
	case ".help":
		printShellHelp(s.stdout)
	case ".schema":
		err = s.showSchema(http.MethodGet, "/schema", nil)
	case ".select":
		if rest == "" {
			_, _ = fmt.Fprintln(s.stderr, "Usage: .select <table>... | .select *")
			return false
		}
		payload := map[string]any{"tables": []string{}, "all": rest == "*"}
		if rest != "*" {
			payload["tables"] = strings.Fields(strings.ReplaceAll(rest, ",", " "))
		}
		err = s.showSchema(http.MethodPut, "/selection", payload)
	case ".copy":
		if rest == "" {
			_, _ = fmt.Fprintln(s.stderr, "Usage: .copy <sql>")
			return false
		}
		err = s.client.doJSON(s.ctx, http.MethodPost, sessionPath(s.sessionID, "/suggestions"), nil, map[string]any{"entries": []string{rest}}, nil)
		if err == nil {
			_, _ = fmt.Fprintln(s.stdout, "remembered")
		}
	case ".suggest":
		var out suggestionsResponse
		err = s.client.doJSON(s.ctx, http.MethodGet, sessionPath(s.sessionID, "/suggestions"), url.Values{"prefix": {rest}}, nil, &out)
		if err == nil {
			renderList(s.stdout, out.Suggestions)
		}
	default:
		_, _ = fmt.Fprintf(s.stderr, "Unknown command: %s (type .help for commands)\n", command)
	}
	if err != nil {
		_, _ = fmt.Fprintf(s.stderr, "Error: %v\n", err)
	}
	return false
}

func (s *shell) showSchema(method, suffix string, payload any) error {
	raw, err := s.client.do(s.ctx, method, sessionPath(s.sessionID, suffix), nil, payload)
	if err != nil {
		return err
	}
	if s.flags.format == formatJSON {
		renderRaw(s.stdout, raw)
		return nil
	}
	var schema schemaResponse
	if err := decodeInto(raw, &schema); err != nil {
		return err
	}
	renderSchema(s.stdout, schema)
	return nil
}

func printShellHelp(w io.Writer) {
	help := `Commands:
  .help              Show this help message
  .schema            List tables, marking the ones the AI may use
  .select <t>... | * Choose the tables the AI may use
  .copy <sql>        Remember SQL for completion
  .suggest <prefix>  List suggestions for a prefix
  .quit / .exit      Leave the shell

Anything else is run as SQL, or translated when it is not valid SQL.
Tab completes the current line from the session's suggestions.`
	_, _ = fmt.Fprintln(w, help)
}

// completer asks the server to complete the text before the cursor.
type completer struct {
	shell *shell
}

func (c *completer) Do(line []rune, pos int) ([][]rune, int) {
	if pos > len(line) {
		pos = len(line)
	}
	prefix := string(line[:pos])
	if strings.TrimSpace(prefix) == "" || strings.HasPrefix(prefix, ".") {
		return nil, 0
	}

	ctx, cancel := context.WithTimeout(c.shell.ctx, 2*time.Second)
	defer cancel()
	var out completeResponse
	err := c.shell.client.doJSON(ctx, http.MethodGet, sessionPath(c.shell.sessionID, "/complete"), url.Values{"prefix": {prefix}}, nil, &out)
	if err != nil || !out.Found {
		return nil, 0
	}
	completion := []rune(out.Completion)
	if len(completion) <= len([]rune(prefix)) {
		return nil, 0
	}
	return [][]rune{completion[len([]rune(prefix)):]}, len([]rune(prefix))
}
