package sqlite

import (
	"fmt"
	"strings"

	"tabsnap/internal/registry"
)

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func quoteAll(idents []string) []string {
	out := make([]string, len(idents))
	for i, id := range idents {
		out[i] = quote(id)
	}
	return out
}

func columnType(k registry.Kind) string {
	switch k {
	case registry.Int, registry.Bool:
		return "INTEGER"
	case registry.Float:
		return "REAL"
	default:
		// Times are RFC3339Nano text, JSON values are encoded documents.
		return "TEXT"
	}
}

func createTableSQL(reg *registry.Registry, t *registry.Table) string {
	var defs []string
	for _, f := range t.Fields {
		def := quote(f.Name) + " " + columnType(f.Kind)
		if !f.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", quote(t.PrimaryKey)))
	for _, f := range t.Fields {
		if f.Ref == "" {
			continue
		}
		parent, ok := reg.Lookup(f.Ref)
		if !ok {
			continue
		}
		defs = append(defs, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
			quote(f.Name), quote(parent.Name), quote(parent.PrimaryKey)))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)", quote(t.Name), strings.Join(defs, ",\n    "))
}

func upsertSQL(t *registry.Table) string {
	cols := quoteAll(t.FieldNames())
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	var sets []string
	for _, f := range t.Fields {
		if f.Name == t.PrimaryKey {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", quote(f.Name), quote(f.Name)))
	}

	conflict := "DO NOTHING"
	if len(sets) > 0 {
		conflict = "DO UPDATE SET " + strings.Join(sets, ", ")
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s",
		quote(t.Name), strings.Join(cols, ", "), placeholders, quote(t.PrimaryKey), conflict)
}
