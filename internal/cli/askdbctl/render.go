package askdbctl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

const (
	formatTable = "table"
	formatJSON  = "json"
)

func renderRaw(w io.Writer, raw []byte) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		_, _ = fmt.Fprintln(w, string(raw))
		return
	}
	formatted, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		_, _ = fmt.Fprintln(w, string(raw))
		return
	}
	_, _ = fmt.Fprintln(w, string(formatted))
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func renderSchema(w io.Writer, schema schemaResponse) {
	_, _ = fmt.Fprintf(w, "session %s (%s)\n", schema.SessionID, firstNonEmpty(schema.DisplayName, schema.DatabaseType))
	if len(schema.Tables) == 0 {
		_, _ = fmt.Fprintln(w, "(no tables)")
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"", "table", "columns"})
	for _, tbl := range schema.Tables {
		mark := ""
		if tbl.Selected {
			mark = "*"
		}
		columns := make([]string, 0, len(tbl.Columns))
		for _, column := range tbl.Columns {
			if column.DeclaredType != "" {
				columns = append(columns, column.Name+" "+column.DeclaredType)
				continue
			}
			columns = append(columns, column.Name)
		}
		t.AppendRow(table.Row{mark, tbl.Name, strings.Join(columns, ", ")})
	}
	t.Render()
	_, _ = fmt.Fprintf(w, "(%d of %d tables selected)\n", len(schema.SelectedTables), len(schema.Tables))
}

// renderResolve prints a successful result as a table and anything else as
// a titled message. It reports whether the resolution succeeded.
func renderResolve(stdout, stderr io.Writer, result resolveResponse) bool {
	if result.Outcome != "success" {
		title := firstNonEmpty(result.Title, "Error")
		message := firstNonEmpty(result.Detail, result.Reason)
		_, _ = fmt.Fprintf(stderr, "%s: %s\n", title, message)
		return false
	}
	if result.Translated && result.SQL != "" {
		_, _ = fmt.Fprintf(stdout, "-- %s\n", result.SQL)
	}
	if len(result.Columns) == 0 {
		_, _ = fmt.Fprintf(stdout, "(%d rows affected)\n", result.RowsAffected)
		return true
	}
	t := newTable(stdout)
	header := make(table.Row, len(result.Columns))
	for i, column := range result.Columns {
		header[i] = column
	}
	t.AppendHeader(header)
	for _, row := range result.Rows {
		cells := make(table.Row, len(row))
		for i, value := range row {
			cells[i] = formatValue(value)
		}
		t.AppendRow(cells)
	}
	t.Render()
	suffix := ""
	if result.Truncated {
		suffix = ", truncated"
	}
	_, _ = fmt.Fprintf(stdout, "(%d rows%s)\n", len(result.Rows), suffix)
	return true
}

func renderList(w io.Writer, items []string) {
	if len(items) == 0 {
		_, _ = fmt.Fprintln(w, "(no suggestions)")
		return
	}
	for _, item := range items {
		_, _ = fmt.Fprintln(w, item)
	}
}

func formatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return "NULL"
	case float64:
		if typed == float64(int64(typed)) {
			return fmt.Sprintf("%d", int64(typed))
		}
		return fmt.Sprintf("%g", typed)
	default:
		return fmt.Sprint(typed)
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
