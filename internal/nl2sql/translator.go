package nl2sql

import (
	"context"

	"github.com/askdb/askdb/internal/catalog"
)

// TableContext is the schema the model may reference: one selected table and
// its column names.
type TableContext struct {
	TableName string   `json:"table_name"`
	Columns   []string `json:"columns"`
}

type TranslateRequest struct {
	// Credential overrides the configured provider key when set.
	Credential      string
	NaturalLanguage string
	Dialect         catalog.DatabaseType
	Tables          []TableContext
}

type SuggestRequest struct {
	Credential string
	Dialect    catalog.DatabaseType
	Count      int
}

// ResolvedQuery is the classified model answer. Output is SQL when IsSQL is
// true and an explanation for the user otherwise.
type ResolvedQuery struct {
	IsSQL  bool   `json:"is_sql"`
	Output string `json:"output"`
}

type Translator interface {
	Translate(ctx context.Context, req TranslateRequest) (ResolvedQuery, error)
	SuggestQueries(ctx context.Context, req SuggestRequest) ([]string, error)
}

// TablesFromCatalog builds translation context from catalog tables,
// normally Catalog.SelectedTables.
func TablesFromCatalog(tables []catalog.Table) []TableContext {
	out := make([]TableContext, 0, len(tables))
	for _, table := range tables {
		out = append(out, TableContext{TableName: table.Name, Columns: table.ColumnNames()})
	}
	return out
}
