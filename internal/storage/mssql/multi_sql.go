package mssql

import (
	"fmt"
	"strings"

	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/storage"
)

// buildCreateSQL builds idempotent CREATE TABLE SQL guarded by OBJECT_ID.
func buildCreateSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("mssql: table name is empty")
	}

	var parts []string
	if t.PrimaryKey != nil {
		pkDef, err := mssqlPrimaryKeyDef(*t.PrimaryKey)
		if err != nil {
			return "", err
		}
		parts = append(parts, pkDef)
	}
	for _, c := range t.Columns {
		def, err := mssqlColumnDef(c)
		if err != nil {
			return "", err
		}
		parts = append(parts, def)
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("mssql: %s has no columns", t.Name)
	}

	for _, con := range t.Constraints {
		if !strings.EqualFold(con.Kind, "unique") {
			return "", fmt.Errorf("mssql: %s unsupported constraint kind: %s", t.Name, con.Kind)
		}
		if len(con.Columns) == 0 {
			return "", fmt.Errorf("mssql: %s unique constraint has no columns", t.Name)
		}
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", joinIdents("", con.Columns)))
	}

	return wrapCreateIfMissing(t.Name, strings.Join(parts, ", ")), nil
}

// wrapCreateIfMissing wraps a CREATE TABLE statement in an OBJECT_ID guard.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		strings.ReplaceAll(tableName, "'", "''"),
		mssqlTableIdent(tableName),
		innerDefs,
	)
}

// mssqlPrimaryKeyDef returns a column definition for the primary key.
//
// "serial" becomes BIGINT IDENTITY(1,1); other types map through mssqlType.
func mssqlPrimaryKeyDef(pk storage.PrimaryKeySpec) (string, error) {
	if strings.TrimSpace(pk.Name) == "" || strings.TrimSpace(pk.Type) == "" {
		return "", fmt.Errorf("mssql: primary key name and type are required")
	}
	return fmt.Sprintf("%s %s PRIMARY KEY", mssqlIdent(pk.Name), mssqlType(pk.Type)), nil
}

// mssqlColumnDef builds a SQL Server column definition from storage.ColumnSpec.
//
// A nil Nullable means NOT NULL, same as the other backends.
func mssqlColumnDef(c storage.ColumnSpec) (string, error) {
	if strings.TrimSpace(c.Name) == "" {
		return "", fmt.Errorf("mssql: column name is empty")
	}
	if strings.TrimSpace(c.Type) == "" {
		return "", fmt.Errorf("mssql: column %s type is empty", c.Name)
	}

	var b strings.Builder
	b.WriteString(mssqlIdent(c.Name))
	b.WriteString(" ")
	b.WriteString(mssqlType(c.Type))
	if c.Nullable != nil && *c.Nullable {
		b.WriteString(" NULL")
	} else {
		b.WriteString(" NOT NULL")
	}
	if strings.TrimSpace(c.References) != "" {
		b.WriteString(" REFERENCES ")
		b.WriteString(c.References)
	}
	return b.String(), nil
}

// mssqlType maps logical types to SQL Server types.
//
// Text is NVARCHAR(4000) rather than MAX so it can take part in UNIQUE
// constraints on dimension tables.
func mssqlType(logical string) string {
	switch strings.ToLower(strings.TrimSpace(logical)) {
	case storage.TypeSerial:
		return "BIGINT IDENTITY(1,1)"
	case storage.TypeText:
		return "NVARCHAR(4000)"
	case storage.TypeBigInt:
		return "BIGINT"
	case storage.TypeNumeric:
		return "DECIMAL(38, 10)"
	case storage.TypeBool:
		return "BIT"
	case storage.TypeTimestamp:
		return "DATETIMEOFFSET"
	case storage.TypeDate:
		return "DATE"
	case storage.TypeJSON:
		return "NVARCHAR(MAX)"
	case storage.TypeBytes:
		return "VARBINARY(MAX)"
	default:
		return logical
	}
}

// buildBulkInsertSQL builds a single INSERT ... VALUES statement for all rows.
func buildBulkInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdents("", columns))
	b.WriteString(") VALUES ")
	args := writeValues(&b, columns, rows, 1)
	return b.String(), args
}

// buildMergeSQL upserts rows by key. The EXISTS (... EXCEPT ...) guard is a
// null-safe "any column differs" test, so unchanged rows are not counted.
func buildMergeSQL(table string, keyColumns []string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("MERGE ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" WITH (HOLDLOCK) AS cur USING (VALUES ")
	args := writeValues(&b, columns, rows, 1)
	b.WriteString(") AS src (")
	b.WriteString(joinIdents("", columns))
	b.WriteString(") ON ")
	for i, k := range keyColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		fmt.Fprintf(&b, "cur.%s = src.%s", mssqlIdent(k), mssqlIdent(k))
	}

	rest := nonKeyColumns(columns, keyColumns)
	if len(rest) > 0 {
		fmt.Fprintf(&b, " WHEN MATCHED AND EXISTS (SELECT %s EXCEPT SELECT %s) THEN UPDATE SET ",
			joinIdents("cur.", rest), joinIdents("src.", rest))
		for i, c := range rest {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s = src.%s", mssqlIdent(c), mssqlIdent(c))
		}
	}
	fmt.Fprintf(&b, " WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s);", joinIdents("", columns), joinIdents("src.", columns))
	return b.String(), args
}

func buildUpdateSQL(table string, keyColumn string, key any, columns []string, values []any) (string, []any) {
	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" SET ")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s = @p%d", mssqlIdent(c), i+1)
	}
	fmt.Fprintf(&b, " WHERE %s = @p%d", mssqlIdent(keyColumn), len(columns)+1)
	args := append(append([]any(nil), values...), key)
	return b.String(), args
}

// buildDimensionSelectSQL looks a dimension row up by value. With lock set,
// the read takes UPDLOCK + HOLDLOCK so the range stays locked until commit.
func buildDimensionSelectSQL(row storage.DimensionRow, lock bool) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", mssqlIdent(row.KeyColumn), mssqlTableIdent(row.Table))
	if lock {
		b.WriteString(" WITH (UPDLOCK, HOLDLOCK)")
	}
	b.WriteString(" WHERE ")
	for i, c := range row.ValueColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		fmt.Fprintf(&b, "%s = @p%d", mssqlIdent(c), i+1)
	}
	return b.String(), append([]any(nil), row.Values...)
}

func buildDimensionInsertSQL(row storage.DimensionRow) (string, []any) {
	cols := append(append([]string(nil), row.ValueColumns...), row.StampColumns...)
	vals := append([]any(nil), row.Values...)
	for range row.StampColumns {
		vals = append(vals, row.Stamp)
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(row.Table))
	b.WriteString(" (")
	b.WriteString(joinIdents("", cols))
	fmt.Fprintf(&b, ") OUTPUT INSERTED.%s VALUES ", mssqlIdent(row.KeyColumn))
	args := writeValues(&b, cols, [][]any{vals}, 1)
	return b.String(), args
}

func buildSelectSQL(table string, columns []string, orderBy string) string {
	q := "SELECT " + joinIdents("", columns) + " FROM " + mssqlTableIdent(table)
	if orderBy = strings.TrimSpace(orderBy); orderBy != "" {
		q += " ORDER BY " + mssqlIdent(orderBy)
	}
	return q
}

func writeValues(b *strings.Builder, columns []string, rows [][]any, start int) []any {
	args := make([]any, 0, len(rows)*len(columns))
	p := start
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return args
}

func joinIdents(prefix string, cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = prefix + mssqlIdent(c)
	}
	return strings.Join(out, ", ")
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

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(strings.TrimSpace(name), "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
//
// Example:
//
//	"dbo.tbl_customers" -> [dbo].[tbl_customers]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(parts[i])
	}
	return strings.Join(parts, ".")
}
