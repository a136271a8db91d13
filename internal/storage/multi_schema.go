// TableSpec types live here so both the mapping registry and the backend
// packages can import them without circular deps.
package storage

type TableSpec struct {
	Name            string           `json:"name" yaml:"name"`
	AutoCreateTable bool             `json:"auto_create_table" yaml:"auto_create_table"`
	PrimaryKey      *PrimaryKeySpec  `json:"primary_key,omitempty" yaml:"primary_key,omitempty"`
	Columns         []ColumnSpec     `json:"columns" yaml:"columns"`
	Constraints     []ConstraintSpec `json:"constraints,omitempty" yaml:"constraints,omitempty"`
}

type PrimaryKeySpec struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"` // e.g. serial / int identity, etc
}

type ColumnSpec struct {
	Name       string `json:"name" yaml:"name"`
	Type       string `json:"type" yaml:"type"`
	References string `json:"references,omitempty" yaml:"references,omitempty"`
	Nullable   *bool  `json:"nullable,omitempty" yaml:"nullable,omitempty"`
}

type ConstraintSpec struct {
	Kind    string   `json:"kind" yaml:"kind"` // "unique"
	Columns []string `json:"columns" yaml:"columns"`
}

// Logical column types used by the mapping registry. Each backend maps them
// onto its own DDL types; any other string is passed through verbatim.
// TypeSerial is only valid for PrimaryKeySpec.Type.
const (
	TypeSerial    = "serial"
	TypeText      = "text"
	TypeBigInt    = "bigint"
	TypeNumeric   = "numeric"
	TypeBool      = "boolean"
	TypeTimestamp = "timestamptz"
	TypeDate      = "date"
	TypeJSON      = "jsonb"
	TypeBytes     = "bytea"
)
