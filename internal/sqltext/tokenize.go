// Package sqltext is a small dialect-tolerant SQL lexer. It is not a parser:
// it removes comments, recognizes literals and quoted identifiers, tracks
// parenthesis depth and splits batches into statements.
package sqltext

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	ErrUnterminatedString  = errors.New("sqltext: unterminated string literal")
	ErrUnterminatedIdent   = errors.New("sqltext: unterminated quoted identifier")
	ErrUnterminatedComment = errors.New("sqltext: unterminated block comment")
)

type Kind int

const (
	Word Kind = iota
	Number
	String
	QuotedIdent
	Symbol
	Semicolon
)

type Token struct {
	Kind Kind
	Text string
	// Depth is the parenthesis nesting level the token appears at. An opening
	// parenthesis carries the outer depth, its contents the inner one.
	Depth int
}

// Upper returns the token text upper-cased for keyword comparison.
func (t Token) Upper() string {
	return strings.ToUpper(t.Text)
}

// IsKeyword reports whether t is a bare word equal to keyword (case-insensitive).
func (t Token) IsKeyword(keyword string) bool {
	return t.Kind == Word && strings.EqualFold(t.Text, keyword)
}

// Options selects how ambiguous lexical constructs are read. Engines disagree
// on backslash escapes and dollar quoting, so callers that must not be fooled
// lex the same text under both readings.
type Options struct {
	// DollarQuoting enables PostgreSQL $tag$...$tag$ string bodies.
	DollarQuoting bool
	// BracketIdents reads [name] as a quoted identifier (SQL Server, SQLite).
	BracketIdents bool
	// MySQL switches to MySQL's default lexical rules: backslash escapes in
	// '...' and "..." strings, "#" line comments, "--" comments only when
	// followed by whitespace, and /*! ... */ bodies read as code.
	MySQL bool
}

var (
	// Standard reads text the way PostgreSQL, SQLite, DuckDB and SQL Server do.
	Standard = Options{DollarQuoting: true, BracketIdents: true}
	// MySQLRules reads text the way MySQL does by default.
	MySQLRules = Options{MySQL: true}
)

// Tokenize lexes text, dropping comments and whitespace.
func Tokenize(text string, opts Options) ([]Token, error) {
	lx := lexer{src: text, opts: opts}
	return lx.run()
}

type lexer struct {
	src    string
	pos    int
	depth  int
	opts   Options
	tokens []Token
	// execComment is set inside a MySQL /*! ... */ body.
	execComment bool
}

func (l *lexer) run() ([]Token, error) {
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		switch {
		case unicode.IsSpace(r):
			l.pos += size
		case r == '-' && l.peekAt(1) == '-' && l.dashCommentAt():
			l.skipLineComment()
		case r == '#' && l.opts.MySQL:
			l.skipLineComment()
		case r == '*' && l.peekAt(1) == '/' && l.execComment:
			l.execComment = false
			l.pos += 2
		case r == '/' && l.peekAt(1) == '*' && l.opts.MySQL && l.peekAt(2) == '!':
			l.enterExecComment()
		case r == '/' && l.peekAt(1) == '*':
			if err := l.skipBlockComment(); err != nil {
				return nil, err
			}
		case r == '\'':
			if err := l.quoted('\'', String, ErrUnterminatedString, l.opts.MySQL); err != nil {
				return nil, err
			}
		case r == '"' && l.opts.MySQL:
			if err := l.quoted('"', String, ErrUnterminatedString, true); err != nil {
				return nil, err
			}
		case r == '"':
			if err := l.quoted('"', QuotedIdent, ErrUnterminatedIdent, false); err != nil {
				return nil, err
			}
		case r == '`':
			if err := l.quoted('`', QuotedIdent, ErrUnterminatedIdent, false); err != nil {
				return nil, err
			}
		case r == '[' && l.opts.BracketIdents:
			if err := l.quoted(']', QuotedIdent, ErrUnterminatedIdent, false); err != nil {
				return nil, err
			}
		case r == '$' && l.opts.DollarQuoting && l.dollarTag() != "":
			if err := l.dollarString(); err != nil {
				return nil, err
			}
		case isWordStart(r):
			l.word()
		case r >= '0' && r <= '9':
			l.number()
		case r == '(':
			l.emit(Symbol, "(")
			l.depth++
			l.pos++
		case r == ')':
			if l.depth > 0 {
				l.depth--
			}
			l.emit(Symbol, ")")
			l.pos++
		case r == ';':
			l.emit(Semicolon, ";")
			l.pos++
		default:
			l.emit(Symbol, string(r))
			l.pos += size
		}
	}
	if l.execComment {
		return nil, ErrUnterminatedComment
	}
	return l.tokens, nil
}

func (l *lexer) emit(kind Kind, text string) {
	l.tokens = append(l.tokens, Token{Kind: kind, Text: text, Depth: l.depth})
}

func (l *lexer) peekAt(offset int) byte {
	if l.pos+offset >= len(l.src) {
		return 0
	}
	return l.src[l.pos+offset]
}

// dashCommentAt reports whether the "--" at l.pos opens a comment. MySQL
// requires whitespace or end of input after the dashes.
func (l *lexer) dashCommentAt() bool {
	if !l.opts.MySQL {
		return true
	}
	next := l.peekAt(2)
	return next == 0 || next == ' ' || next == '\t' || next == '\n' || next == '\r' || next == '\f' || next == '\v'
}

func (l *lexer) enterExecComment() {
	l.pos += 3
	for l.pos < len(l.src) && l.src[l.pos] >= '0' && l.src[l.pos] <= '9' {
		l.pos++
	}
	l.execComment = true
}

func (l *lexer) skipLineComment() {
	end := strings.IndexByte(l.src[l.pos:], '\n')
	if end < 0 {
		l.pos = len(l.src)
		return
	}
	l.pos += end + 1
}

func (l *lexer) skipBlockComment() error {
	end := strings.Index(l.src[l.pos+2:], "*/")
	if end < 0 {
		return ErrUnterminatedComment
	}
	l.pos += 2 + end + 2
	return nil
}

// quoted consumes a delimited token starting at l.pos. A doubled closing
// delimiter is an escaped delimiter.
func (l *lexer) quoted(closer byte, kind Kind, unterminated error, backslash bool) error {
	start := l.pos
	i := l.pos + 1
	for i < len(l.src) {
		c := l.src[i]
		if backslash && c == '\\' {
			i += 2
			continue
		}
		if c == closer {
			if i+1 < len(l.src) && l.src[i+1] == closer {
				i += 2
				continue
			}
			l.emit(kind, l.src[start:i+1])
			l.pos = i + 1
			return nil
		}
		i++
	}
	return unterminated
}

// dollarTag returns the opening $tag$ at l.pos, or "" when there is none.
func (l *lexer) dollarTag() string {
	rest := l.src[l.pos+1:]
	for i, r := range rest {
		if r == '$' {
			return l.src[l.pos : l.pos+1+i+1]
		}
		if !(r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r))) {
			return ""
		}
	}
	return ""
}

func (l *lexer) dollarString() error {
	tag := l.dollarTag()
	bodyStart := l.pos + len(tag)
	end := strings.Index(l.src[bodyStart:], tag)
	if end < 0 {
		return ErrUnterminatedString
	}
	stop := bodyStart + end + len(tag)
	l.emit(String, l.src[l.pos:stop])
	l.pos = stop
	return nil
}

func (l *lexer) word() {
	start := l.pos
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if !isWordPart(r) {
			break
		}
		l.pos += size
	}
	l.emit(Word, l.src[start:l.pos])
}

func (l *lexer) number() {
	start := l.pos
	if l.src[l.pos] == '0' && (l.peekAt(1) == 'x' || l.peekAt(1) == 'X') {
		l.pos += 2
		for l.pos < len(l.src) && isHexDigit(l.src[l.pos]) {
			l.pos++
		}
		l.emit(Number, l.src[start:l.pos])
		return
	}
	for l.pos < len(l.src) && (isDigit(l.src[l.pos]) || l.src[l.pos] == '.') {
		l.pos++
	}
	if c := l.peekAt(0); c == 'e' || c == 'E' {
		next := l.peekAt(1)
		if next == '+' || next == '-' {
			next = l.peekAt(2)
		}
		if isDigit(next) {
			l.pos++
			if c := l.peekAt(0); c == '+' || c == '-' {
				l.pos++
			}
			for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
				l.pos++
			}
		}
	}
	l.emit(Number, l.src[start:l.pos])
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isHexDigit(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func isWordStart(r rune) bool {
	return r == '_' || r == '@' || r == '#' || unicode.IsLetter(r)
}

func isWordPart(r rune) bool {
	return isWordStart(r) || r == '$' || unicode.IsDigit(r)
}
