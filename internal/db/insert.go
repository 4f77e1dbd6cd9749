package db

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// InsertConfig describes a multi-row INSERT ... ON CONFLICT DO NOTHING.
type InsertConfig struct {
	Table        string   // target table, optionally schema-qualified
	Columns      []string // columns supplied per row
	ConflictKeys []string // unique constraint columns
	Returning    []string // optional RETURNING columns
}

// InsertIgnoreSQL builds a single INSERT statement for rows rows whose
// conflicting entries are skipped. Placeholders are numbered row-major.
func InsertIgnoreSQL(cfg InsertConfig, rows int) (string, error) {
	if len(cfg.Columns) == 0 {
		return "", eris.New("db: insert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return "", eris.New("db: insert: no conflict keys specified")
	}
	if rows <= 0 {
		return "", eris.New("db: insert: no rows")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", sanitizeTable(cfg.Table), quoteAndJoin(cfg.Columns))

	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range cfg.Columns {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", n)
			n++
		}
		b.WriteByte(')')
	}

	fmt.Fprintf(&b, " ON CONFLICT (%s) DO NOTHING", quoteAndJoin(cfg.ConflictKeys))
	if len(cfg.Returning) > 0 {
		fmt.Fprintf(&b, " RETURNING %s", quoteAndJoin(cfg.Returning))
	}
	return b.String(), nil
}

// sanitizeTable handles schema-qualified table names like "public.leads".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
