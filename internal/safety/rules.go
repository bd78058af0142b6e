package safety

import (
	"fmt"
	"strings"

	"github.com/askdb/askdb/internal/sqltext"
)

type keywordSet map[string]struct{}

func newKeywordSet(words ...string) keywordSet {
	set := make(keywordSet, len(words))
	for _, word := range words {
		set[word] = struct{}{}
	}
	return set
}

func (s keywordSet) has(word string) bool {
	_, ok := s[word]
	return ok
}

// deniedLeading are statement kinds that change schema, permissions, server
// state or the filesystem.
var deniedLeading = newKeywordSet(
	"DROP", "TRUNCATE", "ALTER", "CREATE", "RENAME", "COMMENT",
	"GRANT", "REVOKE", "DENY", "REASSIGN", "SECURITY",
	"SHUTDOWN", "KILL", "FLUSH", "PURGE", "RESET", "DISCARD",
	"ATTACH", "DETACH", "VACUUM", "REINDEX", "CLUSTER", "OPTIMIZE", "REPAIR",
	"BACKUP", "RESTORE", "DBCC",
	"EXEC", "EXECUTE", "CALL", "DO", "PREPARE", "MERGE",
	"LOAD", "COPY", "IMPORT", "EXPORT", "INSTALL",
)

// deniedAnywhere are keywords that are unsafe wherever they appear. SQL
// Server batches need no separator between statements, so a leading-keyword
// check alone is not enough.
var deniedAnywhere = newKeywordSet(
	"DROP", "TRUNCATE", "ALTER", "CREATE", "GRANT", "REVOKE", "SHUTDOWN",
	"EXEC", "EXECUTE", "DBCC",
)

var deniedFunctions = newKeywordSet(
	"PG_TERMINATE_BACKEND", "PG_CANCEL_BACKEND", "PG_RELOAD_CONF", "PG_ROTATE_LOGFILE",
	"PG_READ_FILE", "PG_READ_BINARY_FILE", "PG_LS_DIR", "SET_CONFIG",
	"LO_IMPORT", "LO_EXPORT", "LO_UNLINK", "DBLINK", "DBLINK_EXEC",
	"LOAD_FILE", "LOAD_EXTENSION", "WRITEFILE",
	"XP_CMDSHELL", "SP_CONFIGURE", "SP_EXECUTESQL", "OPENROWSET", "OPENDATASOURCE", "OPENQUERY",
)

var deniedSetScopes = newKeywordSet("GLOBAL", "PERSIST", "PERSIST_ONLY", "PASSWORD")

// statementVerbs end the reach of a DELETE or UPDATE when scanning for its
// WHERE clause.
var statementVerbs = newKeywordSet(
	"SELECT", "INSERT", "UPDATE", "DELETE", "MERGE", "WITH", "DECLARE",
	"EXEC", "EXECUTE", "PRINT", "IF", "BEGIN", "RETURN",
)

var intoVerbs = newKeywordSet("SELECT", "INSERT", "REPLACE", "MERGE", "UPSERT")

// sqlVerbs are the statement kinds a translated answer may start with.
var sqlVerbs = newKeywordSet(
	"SELECT", "WITH", "VALUES", "TABLE", "FROM", "SUMMARIZE",
	"INSERT", "UPDATE", "DELETE", "REPLACE", "UPSERT",
	"SHOW", "DESCRIBE", "DESC", "EXPLAIN", "PRAGMA",
	"SET", "USE", "DECLARE", "PRINT",
	"BEGIN", "START", "COMMIT", "ROLLBACK", "END",
)

// procedurePrefixes mark SQL Server system and extended procedures.
var procedurePrefixes = []string{"SP_", "XP_"}

// checkStatement returns the reason stmt is unsafe, or "". With knownVerbs
// set the statement must also start with one of sqlVerbs.
func checkStatement(stmt sqltext.Statement, knownVerbs bool) string {
	leading, ok := stmt.Leading()
	if !ok {
		return "unrecognized statement"
	}
	if deniedLeading.has(leading) {
		return fmt.Sprintf("%s statements are not allowed", leading)
	}
	if reason := checkProcedureCall(stmt); reason != "" {
		return reason
	}
	if knownVerbs && !sqlVerbs.has(leading) {
		return fmt.Sprintf("%s is not a recognized statement", leading)
	}
	switch leading {
	case "PRAGMA":
		if stmt.HasSymbol("=") {
			return "PRAGMA assignments are not allowed"
		}
	case "SET":
		if scope, ok := stmt.WordAfter(0); ok && deniedSetScopes.has(scope) {
			return fmt.Sprintf("SET %s is not allowed", scope)
		}
	}

	for i, token := range stmt {
		if token.Kind != sqltext.Word {
			continue
		}
		keyword := token.Upper()
		switch {
		case deniedAnywhere.has(keyword):
			return fmt.Sprintf("contains %s", keyword)
		case deniedFunctions.has(keyword):
			return fmt.Sprintf("calls %s", strings.ToLower(keyword))
		case keyword == "DELETE" || keyword == "UPDATE":
			if keyword == "UPDATE" && isLockingClause(stmt, i) {
				continue
			}
			if !hasWhere(stmt, i) {
				return fmt.Sprintf("%s without WHERE clause", keyword)
			}
		case keyword == "INTO":
			if reason := checkInto(stmt, i); reason != "" {
				return reason
			}
		}
	}
	return ""
}

// checkProcedureCall rejects statements SQL Server would run as an implicit
// EXEC: a leading sp_ or xp_ name, or any qualified name such as
// dbo.purge or master..xp_cmdshell.
func checkProcedureCall(stmt sqltext.Statement) string {
	var parts []string
	dotted := false
	for _, token := range stmt {
		switch {
		case token.Kind == sqltext.Symbol && token.Text == "(" && len(parts) == 0 && !dotted:
			continue
		case token.Kind == sqltext.Symbol && token.Text == ".":
			dotted = true
			continue
		case token.Kind == sqltext.Word || token.Kind == sqltext.QuotedIdent:
			if len(parts) == 0 || dotted {
				parts = append(parts, strings.Trim(token.Text, "[]\"`"))
				dotted = false
				continue
			}
		}
		break
	}
	if len(parts) == 0 {
		return ""
	}
	name := strings.ToUpper(parts[len(parts)-1])
	for _, prefix := range procedurePrefixes {
		if strings.HasPrefix(name, prefix) {
			return fmt.Sprintf("procedure call %s is not allowed", strings.ToLower(name))
		}
	}
	if len(parts) > 1 {
		return fmt.Sprintf("procedure call %s is not allowed", strings.Join(parts, "."))
	}
	return ""
}

// isLockingClause matches FOR UPDATE, FOR NO KEY UPDATE and ON DUPLICATE KEY
// UPDATE, where UPDATE is not a statement.
func isLockingClause(stmt sqltext.Statement, i int) bool {
	if i == 0 {
		return false
	}
	prev := stmt[i-1]
	return prev.IsKeyword("FOR") || prev.IsKeyword("KEY")
}

// hasWhere scans forward from the DELETE/UPDATE at index i, within its
// parenthesis group, until the next statement verb.
func hasWhere(stmt sqltext.Statement, i int) bool {
	depth := stmt[i].Depth
	for j := i + 1; j < len(stmt); j++ {
		token := stmt[j]
		if token.Depth < depth {
			return false
		}
		if token.Depth != depth || token.Kind != sqltext.Word {
			continue
		}
		keyword := token.Upper()
		if keyword == "WHERE" {
			return true
		}
		if statementVerbs.has(keyword) {
			return false
		}
	}
	return false
}

// checkInto rejects SELECT ... INTO <table> and INTO OUTFILE/DUMPFILE, and
// allows INSERT INTO and SELECT ... INTO @variable.
func checkInto(stmt sqltext.Statement, i int) string {
	depth := stmt[i].Depth
	verb := ""
	for j := i - 1; j >= 0; j-- {
		token := stmt[j]
		if token.Depth != depth || token.Kind != sqltext.Word {
			continue
		}
		if intoVerbs.has(token.Upper()) {
			verb = token.Upper()
			break
		}
	}
	if verb != "" && verb != "SELECT" {
		return ""
	}

	if i+1 >= len(stmt) {
		return "dangling INTO"
	}
	next := stmt[i+1]
	if next.Kind == sqltext.Word {
		switch {
		case next.IsKeyword("OUTFILE"), next.IsKeyword("DUMPFILE"):
			return fmt.Sprintf("INTO %s is not allowed", next.Upper())
		case strings.HasPrefix(next.Text, "@"):
			return ""
		}
	}
	if next.Kind == sqltext.Symbol && next.Text == ":" {
		return ""
	}
	return "SELECT ... INTO creates a table"
}
