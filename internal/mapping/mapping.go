// Package mapping is the schema-mapping registry: which collections exist,
// their business keys and sink tables, which fields are dates, which are
// nested sub-documents, and how nested fields decompose into dimensions.
//
// The registry is pure data. Components receive it at construction.
package mapping

import (
	"fmt"
	"strings"
)

// Provenance columns present on every sink table.
const (
	AddedAt    = "added_at"
	ModifiedAt = "modified_at"
)

// Column is one flattened document field and its logical sink type
// (storage.Type* constants).
type Column struct {
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"type" json:"type"`
}

// Collection describes one source collection and its denormalized sink table.
type Collection struct {
	Name      string `yaml:"name" json:"name"`
	UniqueKey string `yaml:"unique_key" json:"unique_key"`
	Table     string `yaml:"table" json:"table"`

	// DateFields are normalized to the fixed-offset civil form before load.
	DateFields []string `yaml:"date_fields" json:"date_fields"`

	// NestedFields are decomposed into dimensions by the normalization pass.
	// In the denormalized table they are stored as structured columns.
	NestedFields []string `yaml:"nested_fields" json:"nested_fields"`

	// StructuredFields are nested values stored as structured columns only.
	StructuredFields []string `yaml:"structured_fields" json:"structured_fields"`

	// Columns lists every flattened field, the unique key included, in sink
	// column order. added_at and modified_at are implied.
	Columns []Column `yaml:"columns" json:"columns"`
}

// Dimension maps one nested field onto a deduplicated lookup table.
type Dimension struct {
	Field        string   `yaml:"field" json:"field"`
	Table        string   `yaml:"table" json:"table"`
	KeyColumn    string   `yaml:"key_column" json:"key_column"`
	ValueColumns []Column `yaml:"value_columns" json:"value_columns"`
}

// ValueColumnNames returns the dimension's value column names in order.
func (d Dimension) ValueColumnNames() []string {
	out := make([]string, len(d.ValueColumns))
	for i, c := range d.ValueColumns {
		out[i] = c.Name
	}
	return out
}

// Normalization re-materializes a denormalized table into a normalized fact
// table whose nested fields are replaced by dimension foreign keys.
type Normalization struct {
	// Source is the collection whose sink table is read.
	Source string `yaml:"source" json:"source"`
	// Target is the normalized fact table, keyed by KeyColumn.
	Target    string `yaml:"target" json:"target"`
	KeyColumn string `yaml:"key_column" json:"key_column"`
	// CarryColumns are copied from the source row unchanged.
	CarryColumns []string    `yaml:"carry_columns" json:"carry_columns"`
	Dimensions   []Dimension `yaml:"dimensions" json:"dimensions"`
}

// TargetColumns returns the normalized table's columns in write order: key,
// carried columns, then one foreign key per dimension.
func (n Normalization) TargetColumns() []string {
	cols := make([]string, 0, 1+len(n.CarryColumns)+len(n.Dimensions))
	cols = append(cols, n.KeyColumn)
	cols = append(cols, n.CarryColumns...)
	for _, d := range n.Dimensions {
		cols = append(cols, d.KeyColumn)
	}
	return cols
}

// Registry is the ordered set of collections plus their normalizations.
type Registry struct {
	Collections    []Collection    `yaml:"collections" json:"collections"`
	Normalizations []Normalization `yaml:"normalizations" json:"normalizations"`
}

// Lookup finds a collection by name.
func (r Registry) Lookup(name string) (Collection, bool) {
	for _, c := range r.Collections {
		if c.Name == name {
			return c, true
		}
	}
	return Collection{}, false
}

// MustLookup is Lookup that fails with an error naming the known collections.
func (r Registry) MustLookup(name string) (Collection, error) {
	if c, ok := r.Lookup(name); ok {
		return c, nil
	}
	return Collection{}, fmt.Errorf("unknown collection %q (known: %s)", name, strings.Join(r.Names(), ", "))
}

// Names lists collection names in load order.
func (r Registry) Names() []string {
	out := make([]string, len(r.Collections))
	for i, c := range r.Collections {
		out[i] = c.Name
	}
	return out
}

// NormalizationsFor returns the normalizations fed by collection.
func (r Registry) NormalizationsFor(collection string) []Normalization {
	var out []Normalization
	for _, n := range r.Normalizations {
		if n.Source == collection {
			out = append(out, n)
		}
	}
	return out
}

// Encoded returns every field stored as a structured column: nested fields
// first, then structured-only fields.
func (c Collection) Encoded() []string {
	out := make([]string, 0, len(c.NestedFields)+len(c.StructuredFields))
	out = append(out, c.NestedFields...)
	return append(out, c.StructuredFields...)
}

// LoadColumns returns the sink column list used by bulk loads.
func (c Collection) LoadColumns() []string {
	cols := make([]string, 0, len(c.Columns)+2)
	for _, col := range c.Columns {
		cols = append(cols, col.Name)
	}
	return append(cols, AddedAt, ModifiedAt)
}

// HasColumn reports whether name is a mapped column of c.
func (c Collection) HasColumn(name string) bool {
	if name == AddedAt || name == ModifiedAt {
		return true
	}
	for _, col := range c.Columns {
		if col.Name == name {
			return true
		}
	}
	return false
}

// ColumnType returns the logical type of a mapped column.
func (c Collection) ColumnType(name string) (string, bool) {
	for _, col := range c.Columns {
		if col.Name == name {
			return col.Type, true
		}
	}
	return "", false
}

// IsDate reports whether field is one of c's date fields.
func (c Collection) IsDate(field string) bool {
	return contains(c.DateFields, field)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
