package repository

import (
	_ "embed"
	"strings"
)

//go:embed schema/schema.sql
var schemaSQL string

// SchemaStatements returns the idempotent DDL statements for the Postgres backends
func SchemaStatements() []string {
	var stmts []string
	for _, part := range strings.Split(schemaSQL, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}
