package sqlite

import (
	"fmt"
	"strings"

	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/storage"
)

func buildInsertSQL(table string, columns []string, rows [][]any, conflictColumns []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlTable(table))
	b.WriteString(" (")
	b.WriteString(joinIdentList("", columns))
	b.WriteString(") VALUES ")
	args := writeValues(&b, columns, rows)

	if len(conflictColumns) > 0 {
		b.WriteString(" ON CONFLICT (")
		b.WriteString(joinIdentList("", conflictColumns))
		b.WriteString(") DO NOTHING")
	}
	return b.String(), args
}

// buildUpsertSQL only rewrites rows where some non-key column changed.
// IS NOT is SQLite's null-safe inequality.
func buildUpsertSQL(table string, keyColumns []string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlTable(table))
	b.WriteString(" AS cur (")
	b.WriteString(joinIdentList("", columns))
	b.WriteString(") VALUES ")
	args := writeValues(&b, columns, rows)

	b.WriteString(" ON CONFLICT (")
	b.WriteString(joinIdentList("", keyColumns))
	b.WriteString(")")

	rest := nonKeyColumns(columns, keyColumns)
	if len(rest) == 0 {
		b.WriteString(" DO NOTHING")
		return b.String(), args
	}

	b.WriteString(" DO UPDATE SET ")
	for i, c := range rest {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s = excluded.%s", sqlIdent(c), sqlIdent(c))
	}
	b.WriteString(" WHERE ")
	for i, c := range rest {
		if i > 0 {
			b.WriteString(" OR ")
		}
		fmt.Fprintf(&b, "cur.%s IS NOT excluded.%s", sqlIdent(c), sqlIdent(c))
	}
	return b.String(), args
}

func buildUpdateSQL(table string, keyColumn string, key any, columns []string, values []any) (string, []any) {
	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(sqlTable(table))
	b.WriteString(" SET ")
	args := make([]any, 0, len(values)+1)
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
		b.WriteString(" = ?")
		args = append(args, bindValue(values[i]))
	}
	fmt.Fprintf(&b, " WHERE %s = ?", sqlIdent(keyColumn))
	args = append(args, bindValue(key))
	return b.String(), args
}

func buildDimensionSelectSQL(row storage.DimensionRow) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE ", sqlIdent(row.KeyColumn), sqlTable(row.Table))
	args := make([]any, 0, len(row.Values))
	for i, c := range row.ValueColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString(sqlIdent(c))
		b.WriteString(" = ?")
		args = append(args, bindValue(row.Values[i]))
	}
	return b.String(), args
}

func buildDimensionInsertSQL(row storage.DimensionRow) (string, []any) {
	cols := append(append([]string(nil), row.ValueColumns...), row.StampColumns...)
	vals := append([]any(nil), row.Values...)
	for range row.StampColumns {
		vals = append(vals, row.Stamp)
	}
	q, args := buildInsertSQL(row.Table, cols, [][]any{vals}, row.ValueColumns)
	return q + " RETURNING " + sqlIdent(row.KeyColumn), args
}

func buildSelectSQL(table string, columns []string, orderBy string) string {
	q := "SELECT " + joinIdentList("", columns) + " FROM " + sqlTable(table)
	if orderBy = strings.TrimSpace(orderBy); orderBy != "" {
		q += " ORDER BY " + sqlIdent(orderBy)
	}
	return q
}

// buildCreateSQL renders a CREATE TABLE IF NOT EXISTS statement.
func buildCreateSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}

	cols := make([]string, 0, len(t.Columns)+len(t.Constraints)+1)
	if t.PrimaryKey != nil {
		pk := strings.TrimSpace(t.PrimaryKey.Name)
		pkType := strings.TrimSpace(t.PrimaryKey.Type)
		if pk == "" || pkType == "" {
			return "", fmt.Errorf("table %s: primary_key.name and primary_key.type are required", t.Name)
		}
		if strings.EqualFold(pkType, storage.TypeSerial) {
			// Only INTEGER PRIMARY KEY aliases the rowid.
			cols = append(cols, fmt.Sprintf(`%s INTEGER PRIMARY KEY AUTOINCREMENT`, sqlIdent(pk)))
		} else {
			cols = append(cols, fmt.Sprintf(`%s %s PRIMARY KEY`, sqlIdent(pk), sqliteType(pkType)))
		}
	}

	for _, c := range t.Columns {
		name := strings.TrimSpace(c.Name)
		typ := strings.TrimSpace(c.Type)
		if name == "" || typ == "" {
			return "", fmt.Errorf("table %s: column name/type must be set", t.Name)
		}
		def := sqlIdent(name) + " " + sqliteType(typ)
		if c.Nullable == nil || !*c.Nullable {
			def += " NOT NULL"
		}
		if ref := strings.TrimSpace(c.References); ref != "" {
			def += " REFERENCES " + ref
		}
		cols = append(cols, def)
	}
	if len(cols) == 0 {
		return "", fmt.Errorf("table %s: no columns", t.Name)
	}

	for _, c := range t.Constraints {
		if !strings.EqualFold(strings.TrimSpace(c.Kind), "unique") {
			return "", fmt.Errorf("table %s: unsupported constraint kind %q", t.Name, c.Kind)
		}
		if len(c.Columns) == 0 {
			return "", fmt.Errorf("table %s: unique constraint requires columns", t.Name)
		}
		cols = append(cols, "UNIQUE ("+joinIdentList("", c.Columns)+")")
	}

	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s);`, sqlTable(t.Name), strings.Join(cols, ", ")), nil
}

// sqliteType maps logical types onto SQLite type affinities.
func sqliteType(logical string) string {
	switch strings.ToLower(strings.TrimSpace(logical)) {
	case storage.TypeSerial, storage.TypeBigInt, storage.TypeBool:
		return "INTEGER"
	case storage.TypeNumeric:
		return "NUMERIC"
	case storage.TypeText, storage.TypeTimestamp, storage.TypeDate, storage.TypeJSON:
		return "TEXT"
	case storage.TypeBytes:
		return "BLOB"
	default:
		return logical
	}
}

func joinIdentList(prefix string, columns []string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = prefix + sqlIdent(c)
	}
	return strings.Join(parts, ", ")
}

func writeValues(b *strings.Builder, columns []string, rows [][]any) []any {
	args := make([]any, 0, len(rows)*len(columns))
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholder)
		for j := range columns {
			args = append(args, bindValue(row[j]))
		}
	}
	return args
}

func nonKeyColumns(columns, keyColumns []string) []string {
	keys := make(map[string]bool, len(keyColumns))
	for _, k := range keyColumns {
		keys[k] = true
	}
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		if !keys[c] {
			out = append(out, c)
		}
	}
	return out
}
