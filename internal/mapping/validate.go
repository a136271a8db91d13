package mapping

import (
	"fmt"
	"strings"
)

// Issue severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Issue is one problem found by Validate. Path is a dotted location such as
// "collections[3].unique_key".
type Issue struct {
	Severity string
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate checks the registry for structural mistakes. It never stops at the
// first problem.
func (r Registry) Validate() []Issue {
	var issues []Issue
	add := func(sev, path, format string, args ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if len(r.Collections) == 0 {
		add(SeverityError, "collections", "no collections defined")
	}

	names := map[string]bool{}
	tables := map[string]string{}
	for i, c := range r.Collections {
		p := fmt.Sprintf("collections[%d]", i)

		switch {
		case strings.TrimSpace(c.Name) == "":
			add(SeverityError, p+".name", "required")
		case names[c.Name]:
			add(SeverityError, p+".name", "duplicate collection %q", c.Name)
		}
		names[c.Name] = true

		if strings.TrimSpace(c.Table) == "" {
			add(SeverityError, p+".table", "required")
		} else if other, dup := tables[c.Table]; dup {
			add(SeverityError, p+".table", "table %q already used by %q", c.Table, other)
		} else {
			tables[c.Table] = c.Name
		}

		if strings.TrimSpace(c.UniqueKey) == "" {
			add(SeverityError, p+".unique_key", "required")
		} else if _, ok := c.ColumnType(c.UniqueKey); !ok {
			add(SeverityError, p+".unique_key", "key %q is not a mapped column", c.UniqueKey)
		}

		cols := map[string]bool{}
		for j, col := range c.Columns {
			cp := fmt.Sprintf("%s.columns[%d]", p, j)
			if col.Name == "" {
				add(SeverityError, cp+".name", "required")
				continue
			}
			if cols[col.Name] {
				add(SeverityError, cp+".name", "duplicate column %q", col.Name)
			}
			if col.Name == AddedAt || col.Name == ModifiedAt {
				add(SeverityError, cp+".name", "%q is managed by the pipeline", col.Name)
			}
			if col.Type == "" {
				add(SeverityError, cp+".type", "required")
			}
			cols[col.Name] = true
		}

		for _, f := range c.DateFields {
			if contains(c.NestedFields, f) || contains(c.StructuredFields, f) {
				add(SeverityError, p+".date_fields", "%q is both a date and a nested field", f)
			}
			if !cols[f] {
				add(SeverityWarning, p+".date_fields", "%q is not a mapped column", f)
			}
		}
		for _, f := range c.Encoded() {
			if !cols[f] {
				add(SeverityError, p+".nested_fields", "%q is not a mapped column", f)
			}
			if f == c.UniqueKey {
				add(SeverityError, p+".nested_fields", "unique key %q cannot be nested", f)
			}
		}
	}

	targets := map[string]bool{}
	for i, n := range r.Normalizations {
		p := fmt.Sprintf("normalizations[%d]", i)

		src, ok := r.Lookup(n.Source)
		if !ok {
			add(SeverityError, p+".source", "unknown collection %q", n.Source)
		}
		if n.Target == "" {
			add(SeverityError, p+".target", "required")
		} else if targets[n.Target] {
			add(SeverityError, p+".target", "duplicate target %q", n.Target)
		} else if _, clash := tables[n.Target]; clash {
			add(SeverityError, p+".target", "target %q is a collection table", n.Target)
		}
		targets[n.Target] = true

		if n.KeyColumn == "" {
			add(SeverityError, p+".key_column", "required")
		} else if ok && n.KeyColumn != src.UniqueKey {
			add(SeverityError, p+".key_column", "want source key %q, got %q", src.UniqueKey, n.KeyColumn)
		}
		if ok {
			for _, c := range n.CarryColumns {
				if !src.HasColumn(c) {
					add(SeverityError, p+".carry_columns", "%q is not a column of %q", c, n.Source)
				}
			}
		}

		if len(n.Dimensions) == 0 {
			add(SeverityWarning, p+".dimensions", "no dimensions; target is a plain copy")
		}
		for j, d := range n.Dimensions {
			dp := fmt.Sprintf("%s.dimensions[%d]", p, j)
			if ok && !contains(src.NestedFields, d.Field) {
				add(SeverityError, dp+".field", "%q is not a nested field of %q", d.Field, n.Source)
			}
			if d.Table == "" || d.KeyColumn == "" {
				add(SeverityError, dp, "table and key_column are required")
			}
			if len(d.ValueColumns) == 0 {
				add(SeverityError, dp+".value_columns", "at least one value column is required")
			}
			if coll, backed := r.collectionByTable(d.Table); backed && coll.UniqueKey != d.KeyColumn {
				add(SeverityError, dp+".key_column", "table %q is keyed by %q", d.Table, coll.UniqueKey)
			}
		}
	}
	return issues
}

func (r Registry) collectionByTable(table string) (Collection, bool) {
	for _, c := range r.Collections {
		if c.Table == table {
			return c, true
		}
	}
	return Collection{}, false
}
