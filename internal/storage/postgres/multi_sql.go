package postgres

import (
	"fmt"
	"strings"

	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/storage"
)

// SQL builders are kept free of any connection so they can be unit-tested
// without a database.

// buildInsertSQL builds a multi-row INSERT with $N placeholders.
//
// When conflictColumns is non-empty the statement ends with
// ON CONFLICT (...) DO NOTHING.
func buildInsertSQL(table string, columns []string, rows [][]any, conflictColumns []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgTable(table))
	b.WriteString(" (")
	writeIdentList(&b, "", columns)
	b.WriteString(") VALUES ")

	args := writeValues(&b, columns, rows)

	if len(conflictColumns) > 0 {
		b.WriteString(" ON CONFLICT (")
		writeIdentList(&b, "", conflictColumns)
		b.WriteString(") DO NOTHING")
	}
	return b.String(), args
}

// buildUpsertSQL builds an INSERT ... ON CONFLICT (keys) DO UPDATE that only
// rewrites rows whose non-key values differ, so RowsAffected counts real changes.
func buildUpsertSQL(table string, keyColumns []string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgTable(table))
	b.WriteString(" AS cur (")
	writeIdentList(&b, "", columns)
	b.WriteString(") VALUES ")

	args := writeValues(&b, columns, rows)

	b.WriteString(" ON CONFLICT (")
	writeIdentList(&b, "", keyColumns)
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
		fmt.Fprintf(&b, "%s = EXCLUDED.%s", pgIdent(c), pgIdent(c))
	}
	b.WriteString(" WHERE (")
	writeIdentList(&b, "cur.", rest)
	b.WriteString(") IS DISTINCT FROM (")
	writeIdentList(&b, "EXCLUDED.", rest)
	b.WriteString(")")

	return b.String(), args
}

// buildUpdateSQL builds UPDATE t SET c1 = $1, ... WHERE key = $N.
func buildUpdateSQL(table string, keyColumn string, key any, columns []string, values []any) (string, []any) {
	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(pgTable(table))
	b.WriteString(" SET ")
	args := make([]any, 0, len(values)+1)
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s = $%d", pgIdent(c), i+1)
		args = append(args, values[i])
	}
	fmt.Fprintf(&b, " WHERE %s = $%d", pgIdent(keyColumn), len(columns)+1)
	args = append(args, key)
	return b.String(), args
}

// buildDimensionSelectSQL looks up a dimension key by its value columns.
func buildDimensionSelectSQL(row storage.DimensionRow) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE ", pgIdent(row.KeyColumn), pgTable(row.Table))
	for i, c := range row.ValueColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		fmt.Fprintf(&b, "%s = $%d", pgIdent(c), i+1)
	}
	args := append([]any(nil), row.Values...)
	return b.String(), args
}

// buildDimensionInsertSQL inserts a dimension row, yielding no row when the
// UNIQUE constraint on the value columns already holds that combination.
func buildDimensionInsertSQL(row storage.DimensionRow) (string, []any) {
	cols := append(append([]string(nil), row.ValueColumns...), row.StampColumns...)
	vals := append([]any(nil), row.Values...)
	for range row.StampColumns {
		vals = append(vals, row.Stamp)
	}

	sql, args := buildInsertSQL(row.Table, cols, [][]any{vals}, row.ValueColumns)
	return sql + " RETURNING " + pgIdent(row.KeyColumn), args
}

// buildSelectSQL projects columns from table, optionally ordered.
func buildSelectSQL(table string, columns []string, orderBy string) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	writeIdentList(&b, "", columns)
	b.WriteString(" FROM ")
	b.WriteString(pgTable(table))
	if orderBy = strings.TrimSpace(orderBy); orderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(pgIdent(orderBy))
	}
	return b.String()
}

// buildCreateSQL renders CREATE SCHEMA / CREATE TABLE statements for t.
func buildCreateSQL(t storage.TableSpec) (schemaSQL, baseSQL string, err error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", "", fmt.Errorf("table name is empty")
	}

	if schema, _ := splitQualifiedName(t.Name); schema != "" {
		schemaSQL = fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s;`, pgIdent(schema))
	}

	cols, err := buildColumnDefs(t)
	if err != nil {
		return "", "", err
	}
	constraints, err := buildBaseConstraints(t)
	if err != nil {
		return "", "", err
	}
	cols = append(cols, constraints...)

	baseSQL = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s);`, pgTable(t.Name), strings.Join(cols, ", "))
	return schemaSQL, baseSQL, nil
}

// buildColumnDefs returns the "<col> <type> ..." definitions for t.
//
// The primary key, when present, comes first with an inline PRIMARY KEY.
func buildColumnDefs(t storage.TableSpec) ([]string, error) {
	cols := make([]string, 0, len(t.Columns)+1)

	if t.PrimaryKey != nil {
		pk := strings.TrimSpace(t.PrimaryKey.Name)
		pkType := strings.TrimSpace(t.PrimaryKey.Type)
		if pk == "" || pkType == "" {
			return nil, fmt.Errorf("table %s: primary_key.name and primary_key.type are required", t.Name)
		}
		cols = append(cols, fmt.Sprintf(`%s %s PRIMARY KEY`, pgIdent(pk), pgType(pkType)))
	}

	for _, c := range t.Columns {
		def, err := buildColumnDef(c)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", t.Name, err)
		}
		cols = append(cols, def)
	}

	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s: no columns", t.Name)
	}
	return cols, nil
}

// buildColumnDef renders a single column definition.
//
// Nullable semantics:
//   - nullable == nil  => NOT NULL
//   - nullable == true => NULL (no NOT NULL clause)
//   - nullable == false=> NOT NULL
func buildColumnDef(c storage.ColumnSpec) (string, error) {
	name := strings.TrimSpace(c.Name)
	typ := strings.TrimSpace(c.Type)
	if name == "" || typ == "" {
		return "", fmt.Errorf("column name/type must be set")
	}

	var b strings.Builder
	b.WriteString(pgIdent(name))
	b.WriteString(" ")
	b.WriteString(pgType(typ))

	if c.Nullable == nil || !*c.Nullable {
		b.WriteString(" NOT NULL")
	}
	if ref := strings.TrimSpace(c.References); ref != "" {
		b.WriteString(" REFERENCES ")
		b.WriteString(pgReference(ref))
	}
	return b.String(), nil
}

// buildBaseConstraints renders table-level UNIQUE constraints.
func buildBaseConstraints(t storage.TableSpec) ([]string, error) {
	if len(t.Constraints) == 0 {
		return nil, nil
	}

	out := make([]string, 0, len(t.Constraints))
	for _, c := range t.Constraints {
		switch strings.ToLower(strings.TrimSpace(c.Kind)) {
		case "unique":
			if len(c.Columns) == 0 {
				return nil, fmt.Errorf("table %s: unique constraint requires columns", t.Name)
			}
			var b strings.Builder
			b.WriteString("UNIQUE (")
			writeIdentList(&b, "", c.Columns)
			b.WriteString(")")
			out = append(out, b.String())
		default:
			return nil, fmt.Errorf("table %s: unsupported constraint kind %q", t.Name, c.Kind)
		}
	}
	return out, nil
}

// pgType maps a logical column type to Postgres DDL. Unknown types pass through.
func pgType(logical string) string {
	switch strings.ToLower(strings.TrimSpace(logical)) {
	case storage.TypeSerial:
		return "BIGSERIAL"
	case storage.TypeText:
		return "TEXT"
	case storage.TypeBigInt:
		return "BIGINT"
	case storage.TypeNumeric:
		return "NUMERIC"
	case storage.TypeBool:
		return "BOOLEAN"
	case storage.TypeTimestamp:
		return "TIMESTAMPTZ"
	case storage.TypeDate:
		return "DATE"
	case storage.TypeJSON:
		return "JSONB"
	case storage.TypeBytes:
		return "BYTEA"
	default:
		return logical
	}
}

// pgReference renders "table(column)" with both parts quoted.
func pgReference(ref string) string {
	open := strings.Index(ref, "(")
	if open < 0 || !strings.HasSuffix(ref, ")") {
		return pgTable(ref)
	}
	return pgTable(ref[:open]) + "(" + pgIdent(ref[open+1:len(ref)-1]) + ")"
}

func writeIdentList(b *strings.Builder, prefix string, cols []string) {
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(prefix)
		b.WriteString(pgIdent(c))
	}
}

func writeValues(b *strings.Builder, columns []string, rows [][]any) []any {
	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
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
