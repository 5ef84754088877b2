// Package migrations holds the audit schema of the SQL backends and applies it.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed postgres/*.sql clickhouse/*.sql
var files embed.FS

// Dialect selects a schema directory.
type Dialect string

// Supported dialects.
const (
	Postgres   Dialect = "postgres"
	Clickhouse Dialect = "clickhouse"
)

// Migration is one versioned schema file. Version is the file name.
type Migration struct {
	Version    string
	Statements []string
}

// Load returns the dialect's migrations ordered by version.
// A Postgres file runs as one batch. ClickHouse files are split into single
// statements because the native protocol executes one statement per call.
func Load(d Dialect) ([]Migration, error) {
	entries, err := fs.ReadDir(files, string(d))
	if err != nil {
		return nil, fmt.Errorf("read embedded %s migrations: %w", d, err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(files, string(d)+"/"+name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		sql := string(data)
		if strings.TrimSpace(sql) == "" {
			continue
		}

		m := Migration{Version: name}
		switch d {
		case Clickhouse:
			if err := validateNoSemicolonInStrings(sql); err != nil {
				return nil, fmt.Errorf("validate migration %s: %w", name, err)
			}
			m.Statements = splitStatements(sql)
		default:
			m.Statements = []string{sql}
		}
		out = append(out, m)
	}
	return out, nil
}

// splitStatements splits on semicolons after dropping "--" comment lines.
// It does not understand quoting, so migrations must keep semicolons out of
// string literals; validateNoSemicolonInStrings enforces that.
func splitStatements(input string) []string {
	var kept []string
	for _, line := range strings.Split(input, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		kept = append(kept, line)
	}

	var stmts []string
	for _, part := range strings.Split(strings.Join(kept, "\n"), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// validateNoSemicolonInStrings rejects SQL with a semicolon inside a
// single-quoted literal. Doubled quotes are an escaped quote.
func validateNoSemicolonInStrings(sql string) error {
	inString := false
	for i := 0; i < len(sql); i++ {
		switch sql[i] {
		case '\'':
			if inString && i+1 < len(sql) && sql[i+1] == '\'' {
				i++
				continue
			}
			inString = !inString
		case ';':
			if inString {
				return fmt.Errorf("semicolon inside string literal at offset %d", i)
			}
		}
	}
	return nil
}
