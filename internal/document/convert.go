package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// FromAny converts a decoded Go value into a Value.
//
// Accepted inputs are the shapes produced by encoding/json (with UseNumber),
// database drivers and the document-store adapters after they have unwrapped
// their own types: nil, bool, string, []byte, json.Number, signed/unsigned
// integers, float32/float64, time.Time, map[string]any, []any, and Values.
// Anything else is an error.
func FromAny(v any) (Value, error) {
	switch t := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return t, nil
	case Record:
		return Object(t), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case []byte:
		return String(string(t)), nil
	case json.Number:
		return numberValue(t)
	case int:
		return Int(t), nil
	case int8:
		return Int(t), nil
	case int16:
		return Int(t), nil
	case int32:
		return Int(t), nil
	case int64:
		return Int(t), nil
	case uint8:
		return Int(t), nil
	case uint16:
		return Int(t), nil
	case uint32:
		return Int(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return nil, fmt.Errorf("document: uint64 %d overflows int64", t)
		}
		return Int(t), nil
	case float32:
		return Float(t), nil
	case float64:
		return Float(t), nil
	case time.Time:
		return TimeOf(t), nil
	case map[string]any:
		obj := make(Object, len(t))
		for k, elem := range t {
			ev, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			obj[k] = ev
		}
		return obj, nil
	case []any:
		arr := make(Array, len(t))
		for i, elem := range t {
			ev, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = ev
		}
		return arr, nil
	case []map[string]any:
		arr := make(Array, len(t))
		for i, elem := range t {
			ev, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = ev
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("document: unsupported type %T", v)
	}
}

func numberValue(n json.Number) (Value, error) {
	s := string(n)
	if !strings.ContainsAny(s, ".eE") {
		if i, err := n.Int64(); err == nil {
			return Int(i), nil
		}
	}
	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("document: invalid number %q: %w", s, err)
	}
	return Float(f), nil
}

// ToAny converts v back into plain Go values: nil, string, int64, float64,
// bool, time.Time, map[string]any and []any.
func ToAny(v Value) any {
	switch t := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(t)
	case Int:
		return int64(t)
	case Float:
		return float64(t)
	case Bool:
		return bool(t)
	case Time:
		return t.Time
	case Object:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = ToAny(e)
		}
		return m
	case Array:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = ToAny(e)
		}
		return out
	default:
		return nil
	}
}

// ToSQL returns a driver bind value for a scalar v. Object and Array are not
// bindable; callers encode them into a structured column first.
func ToSQL(v Value) (any, error) {
	switch t := v.(type) {
	case Object, Array:
		return nil, fmt.Errorf("document: %T is not a scalar column value", t)
	default:
		return ToAny(v), nil
	}
}

// RecordFromMap converts a decoded document into a Record. The field named
// dropField (typically the store identifier "_id") is omitted.
func RecordFromMap(m map[string]any, dropField string) (Record, error) {
	rec := make(Record, len(m))
	for k, raw := range m {
		if dropField != "" && k == dropField {
			continue
		}
		v, err := FromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		rec[k] = v
	}
	return rec, nil
}

// ParseJSON decodes one JSON object into a Record. Integral numbers become
// Int, other numbers Float.
func ParseJSON(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("document: decode: %w", err)
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("document: want JSON object, got %T", raw)
	}
	return RecordFromMap(m, "")
}

// ParseValueJSON decodes any JSON value (used for structured sink columns).
func ParseValueJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("document: decode: %w", err)
	}
	return FromAny(raw)
}
