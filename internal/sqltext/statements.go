package sqltext

import "strings"

// Statement is the token run between two top-level semicolons.
type Statement []Token

// Split breaks a token stream into statements. Empty statements produced by
// stray or trailing semicolons are dropped.
func Split(tokens []Token) []Statement {
	var out []Statement
	var current Statement
	for _, token := range tokens {
		if token.Kind == Semicolon {
			if len(current) > 0 {
				out = append(out, current)
			}
			current = nil
			continue
		}
		current = append(current, token)
	}
	if len(current) > 0 {
		out = append(out, current)
	}
	return out
}

// Leading returns the first bare word of the statement, skipping opening
// parentheses, upper-cased. ok is false when the statement does not start
// with a word.
func (s Statement) Leading() (string, bool) {
	for _, token := range s {
		if token.Kind == Symbol && token.Text == "(" {
			continue
		}
		if token.Kind != Word {
			return "", false
		}
		return token.Upper(), true
	}
	return "", false
}

// WordAfter returns the upper-cased bare word following index i, if any.
func (s Statement) WordAfter(i int) (string, bool) {
	if i+1 >= len(s) || s[i+1].Kind != Word {
		return "", false
	}
	return s[i+1].Upper(), true
}

// HasSymbol reports whether the statement contains the given symbol at any depth.
func (s Statement) HasSymbol(symbol string) bool {
	for _, token := range s {
		if token.Kind == Symbol && token.Text == symbol {
			return true
		}
	}
	return false
}

// Statements lexes and splits text in one step.
func Statements(text string, opts Options) ([]Statement, error) {
	tokens, err := Tokenize(text, opts)
	if err != nil {
		return nil, err
	}
	return Split(tokens), nil
}

// LeadingKeyword returns the upper-cased leading keyword of the first
// statement in text under standard lexical rules. It returns "" when the text
// is empty, malformed, or does not start with a word.
func LeadingKeyword(text string) string {
	statements, err := Statements(text, Standard)
	if err != nil || len(statements) == 0 {
		return ""
	}
	keyword, _ := statements[0].Leading()
	return keyword
}

// TrimTrailingSemicolons removes trailing semicolons and whitespace.
func TrimTrailingSemicolons(text string) string {
	trimmed := strings.TrimSpace(text)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}

// returnsRows lists leading keywords of statements that produce a result set.
var returnsRows = map[string]struct{}{
	"SELECT":    {},
	"WITH":      {},
	"VALUES":    {},
	"TABLE":     {},
	"SHOW":      {},
	"DESCRIBE":  {},
	"DESC":      {},
	"EXPLAIN":   {},
	"PRAGMA":    {},
	"SUMMARIZE": {},
	"FROM":      {},
}

// ReturnsRows reports whether a statement starting with keyword is expected
// to produce a result set rather than an affected-row count.
func ReturnsRows(keyword string) bool {
	_, ok := returnsRows[strings.ToUpper(keyword)]
	return ok
}

// HasKeyword reports whether the statement contains keyword as a bare word at
// any depth.
func (s Statement) HasKeyword(keyword string) bool {
	for _, token := range s {
		if token.IsKeyword(keyword) {
			return true
		}
	}
	return false
}
