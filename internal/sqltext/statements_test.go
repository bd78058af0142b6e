package sqltext

import "testing"

func TestSplitDropsEmptyStatements(t *testing.T) {
	statements, err := Statements(";; SELECT 1; ; SELECT 'a;b';", Standard)
	if err != nil {
		t.Fatalf("Statements() error = %v", err)
	}
	if len(statements) != 2 {
		t.Fatalf("len(statements) = %d, want 2", len(statements))
	}
}

func TestLeadingKeyword(t *testing.T) {
	cases := map[string]string{
		"  select * from t":           "SELECT",
		"-- hi\n/* x */ Delete from":  "DELETE",
		"(SELECT 1) UNION SELECT 2":   "SELECT",
		"with x as (select 1) select": "WITH",
		"":                            "",
		"   ":                         "",
		"'abc'":                       "",
		"SELECT 'open":                "",
	}
	for in, want := range cases {
		if got := LeadingKeyword(in); got != want {
			t.Fatalf("LeadingKeyword(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTrimTrailingSemicolons(t *testing.T) {
	if got := TrimTrailingSemicolons("SELECT 1 ; ;\n"); got != "SELECT 1" {
		t.Fatalf("TrimTrailingSemicolons() = %q", got)
	}
}

func TestReturnsRows(t *testing.T) {
	for _, keyword := range []string{"select", "WITH", "show", "PRAGMA", "explain"} {
		if !ReturnsRows(keyword) {
			t.Fatalf("ReturnsRows(%q) = false", keyword)
		}
	}
	for _, keyword := range []string{"INSERT", "UPDATE", "DELETE", "CREATE"} {
		if ReturnsRows(keyword) {
			t.Fatalf("ReturnsRows(%q) = true", keyword)
		}
	}
}

func TestStatementHelpers(t *testing.T) {
	statements, err := Statements("INSERT INTO t (a) VALUES (1) RETURNING id", Standard)
	if err != nil {
		t.Fatalf("Statements() error = %v", err)
	}
	stmt := statements[0]
	if !stmt.HasKeyword("returning") {
		t.Fatal("HasKeyword(returning) = false")
	}
	if !stmt.HasSymbol("(") {
		t.Fatal("HasSymbol(() = false")
	}
	if next, ok := stmt.WordAfter(0); !ok || next != "INTO" {
		t.Fatalf("WordAfter(0) = %q, %v", next, ok)
	}
}
