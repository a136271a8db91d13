package mapping

import "github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/storage"

func notNull() *bool { f := false; return &f }

// TableSpecs derives the sink DDL for the registry: every collection table,
// every dimension table not already backed by a collection, then every
// normalized fact table. Dimensions come before the facts that reference them.
//
// A collection whose table doubles as a dimension table keeps the dimension's
// shape (generated key, NOT NULL value columns, UNIQUE over them), so rows
// loaded with explicit keys and rows created by the resolver share one table.
func (r Registry) TableSpecs() []storage.TableSpec {
	dims := r.dimensionsByTable()

	var out []storage.TableSpec
	seen := map[string]bool{}
	for _, c := range r.Collections {
		if d, ok := dims[c.Table]; ok {
			out = append(out, dimensionSpec(d, c.Columns))
		} else {
			out = append(out, collectionSpec(c))
		}
		seen[c.Table] = true
	}

	for _, n := range r.Normalizations {
		for _, d := range n.Dimensions {
			if seen[d.Table] {
				continue
			}
			out = append(out, dimensionSpec(d, nil))
			seen[d.Table] = true
		}
	}

	for _, n := range r.Normalizations {
		if seen[n.Target] {
			continue
		}
		src, _ := r.Lookup(n.Source)
		out = append(out, normalizedSpec(n, src))
		seen[n.Target] = true
	}
	return out
}

func (r Registry) dimensionsByTable() map[string]Dimension {
	out := map[string]Dimension{}
	for _, n := range r.Normalizations {
		for _, d := range n.Dimensions {
			if _, ok := out[d.Table]; !ok {
				out[d.Table] = d
			}
		}
	}
	return out
}

func stampColumns() []storage.ColumnSpec {
	return []storage.ColumnSpec{
		{Name: AddedAt, Type: storage.TypeTimestamp},
		{Name: ModifiedAt, Type: storage.TypeTimestamp},
	}
}

func collectionSpec(c Collection) storage.TableSpec {
	keyType := storage.TypeBigInt
	cols := make([]storage.ColumnSpec, 0, len(c.Columns)+2)
	for _, col := range c.Columns {
		if col.Name == c.UniqueKey {
			keyType = col.Type
			continue
		}
		cols = append(cols, storage.ColumnSpec{Name: col.Name, Type: col.Type})
	}
	return storage.TableSpec{
		Name:            c.Table,
		AutoCreateTable: true,
		PrimaryKey:      &storage.PrimaryKeySpec{Name: c.UniqueKey, Type: keyType},
		Columns:         append(cols, stampColumns()...),
	}
}

// dimensionSpec builds a dimension table. extra lists collection columns that
// share the table; any that are not value columns are added as nullable.
func dimensionSpec(d Dimension, extra []Column) storage.TableSpec {
	cols := make([]storage.ColumnSpec, 0, len(d.ValueColumns)+len(extra)+2)
	for _, v := range d.ValueColumns {
		cols = append(cols, storage.ColumnSpec{Name: v.Name, Type: v.Type, Nullable: notNull()})
	}
	for _, e := range extra {
		if e.Name == d.KeyColumn || contains(d.ValueColumnNames(), e.Name) {
			continue
		}
		cols = append(cols, storage.ColumnSpec{Name: e.Name, Type: e.Type})
	}
	return storage.TableSpec{
		Name:            d.Table,
		AutoCreateTable: true,
		PrimaryKey:      &storage.PrimaryKeySpec{Name: d.KeyColumn, Type: storage.TypeSerial},
		Columns:         append(cols, stampColumns()...),
		Constraints:     []storage.ConstraintSpec{{Kind: "unique", Columns: d.ValueColumnNames()}},
	}
}

func normalizedSpec(n Normalization, src Collection) storage.TableSpec {
	keyType, ok := src.ColumnType(n.KeyColumn)
	if !ok {
		keyType = storage.TypeBigInt
	}

	cols := make([]storage.ColumnSpec, 0, len(n.CarryColumns)+len(n.Dimensions))
	for _, c := range n.CarryColumns {
		typ, ok := src.ColumnType(c)
		if !ok {
			typ = storage.TypeTimestamp // added_at / modified_at
		}
		cols = append(cols, storage.ColumnSpec{Name: c, Type: typ})
	}
	for _, d := range n.Dimensions {
		cols = append(cols, storage.ColumnSpec{
			Name:       d.KeyColumn,
			Type:       storage.TypeBigInt,
			References: d.Table + "(" + d.KeyColumn + ")",
		})
	}
	return storage.TableSpec{
		Name:            n.Target,
		AutoCreateTable: true,
		PrimaryKey:      &storage.PrimaryKeySpec{Name: n.KeyColumn, Type: keyType},
		Columns:         cols,
	}
}

// DimensionFor returns the dimension whose table is table, if any.
func (r Registry) DimensionFor(table string) (Dimension, bool) {
	d, ok := r.dimensionsByTable()[table]
	return d, ok
}
