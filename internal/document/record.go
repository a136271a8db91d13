package document

import "sort"

// Record is one document keyed by field name.
type Record map[string]Value

// Get returns the field value. Missing fields and Null both report ok=false.
func (r Record) Get(field string) (Value, bool) {
	v, ok := r[field]
	if !ok || IsNull(v) {
		return nil, false
	}
	return v, true
}

// SortedKeys returns field names in byte order.
func (r Record) SortedKeys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy; nested objects and arrays are not shared.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

// Merge returns a copy of r with every field of fields replacing (or adding)
// the same-named field. Fields not named in fields are untouched.
func (r Record) Merge(fields Record) Record {
	out := r.Clone()
	if out == nil {
		out = make(Record, len(fields))
	}
	for k, v := range fields {
		out[k] = cloneValue(v)
	}
	return out
}

// Without returns a copy of r minus the named fields.
func (r Record) Without(fields ...string) Record {
	out := r.Clone()
	for _, f := range fields {
		delete(out, f)
	}
	return out
}

func cloneValue(v Value) Value {
	switch t := v.(type) {
	case Object:
		o := make(Object, len(t))
		for k, e := range t {
			o[k] = cloneValue(e)
		}
		return o
	case Array:
		a := make(Array, len(t))
		for i, e := range t {
			a[i] = cloneValue(e)
		}
		return a
	default:
		return v
	}
}
