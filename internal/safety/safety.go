// Package safety decides whether a SQL text may be sent to a live connection.
//
// The classifier is a denylist heuristic over lexed tokens, not a parser. It
// fails closed: empty, malformed or unclassifiable input is unsafe. Text is
// lexed under both standard and MySQL lexical rules and must be safe under
// both, so quoting tricks that hide a statement from one reading are caught
// by the other.
package safety

import (
	"errors"
	"fmt"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/askdb/askdb/internal/sqltext"
)

// Verdict explains a classification. Fingerprint is the libinjection
// fingerprint of the text and is informational only.
type Verdict struct {
	Safe        bool
	Reason      string
	Statements  int
	Fingerprint string
}

// IsSafe reports whether text passed every rule.
func IsSafe(text string) bool {
	return Inspect(text).Safe
}

// Inspect classifies text and reports the first rule that rejected it.
// Input that may still be natural language goes through Inspect.
func Inspect(text string) Verdict {
	return inspect(text, false)
}

// InspectSQL is Inspect for text that must already be SQL, such as a
// translated answer. Every statement must also start with a known verb.
func InspectSQL(text string) Verdict {
	return inspect(text, true)
}

func inspect(text string, knownVerbs bool) Verdict {
	verdict := Verdict{Safe: true}
	if _, fingerprint := libinjection.IsSQLi(text); len(fingerprint) > 0 {
		verdict.Fingerprint = string(fingerprint)
	}

	for _, opts := range []sqltext.Options{sqltext.Standard, sqltext.MySQLRules} {
		count, reason := classify(text, opts, knownVerbs)
		if reason != "" {
			verdict.Safe = false
			verdict.Reason = reason
			verdict.Statements = count
			return verdict
		}
		if count > verdict.Statements {
			verdict.Statements = count
		}
	}
	return verdict
}

func classify(text string, opts sqltext.Options, knownVerbs bool) (int, string) {
	statements, err := sqltext.Statements(text, opts)
	if err != nil {
		return 0, lexReason(err)
	}
	if len(statements) == 0 {
		return 0, "empty statement"
	}
	for i, stmt := range statements {
		if reason := checkStatement(stmt, knownVerbs); reason != "" {
			if len(statements) > 1 {
				reason = fmt.Sprintf("statement %d: %s", i+1, reason)
			}
			return len(statements), reason
		}
	}
	return len(statements), ""
}

func lexReason(err error) string {
	switch {
	case errors.Is(err, sqltext.ErrUnterminatedString):
		return "unterminated string literal"
	case errors.Is(err, sqltext.ErrUnterminatedIdent):
		return "unterminated quoted identifier"
	case errors.Is(err, sqltext.ErrUnterminatedComment):
		return "unterminated comment"
	default:
		return "unreadable statement"
	}
}
