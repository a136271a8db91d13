// Package document holds the tagged-variant value model for source documents.
//
// A Record is one document after the store-internal identifier has been
// dropped. Field values are Values: a sealed set of scalar, timestamp, nested
// object and sequence variants. Nothing outside this package can add a variant,
// so every switch over a Value can be exhaustive.
package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// Value is a sealed interface. Only Null, String, Int, Float, Bool, Time,
// Object and Array implement it.
type Value interface {
	value()
}

// Null is the explicit "absent" marker. It is written to the sink as SQL NULL.
type Null struct{}

// String is a text value.
type String string

// Int is an integral number.
type Int int64

// Float is a non-integral number.
type Float float64

// Bool is a boolean value.
type Bool bool

// Time is a timezone-aware instant.
type Time struct {
	time.Time
}

// Object is a nested sub-document.
type Object map[string]Value

// Array is a sequence of values.
type Array []Value

func (Null) value()   {}
func (String) value() {}
func (Int) value()    {}
func (Float) value()  {}
func (Bool) value()   {}
func (Time) value()   {}
func (Object) value() {}
func (Array) value()  {}

// TimeOf wraps t as a Time value.
func TimeOf(t time.Time) Time { return Time{Time: t} }

// IsNull reports whether v is missing or the Null marker.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// MarshalJSON implements json.Marshaler.
func (Null) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// MarshalJSON implements json.Marshaler.
func (f Float) MarshalJSON() ([]byte, error) {
	x := float64(f)
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return nil, fmt.Errorf("document: float %v has no JSON form", x)
	}
	return []byte(strconv.FormatFloat(x, 'f', -1, 64)), nil
}

// MarshalJSON implements json.Marshaler. Times keep their own zone offset.
func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// MarshalJSON writes keys in sorted order so equal objects encode equally.
func (o Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.SortedKeys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := marshalValue(o[k])
		if err != nil {
			return nil, fmt.Errorf("marshal %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON implements json.Marshaler.
func (a Array) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, v := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		vb, err := marshalValue(v)
		if err != nil {
			return nil, fmt.Errorf("marshal [%d]: %w", i, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// SortedKeys returns the object's keys in byte order.
func (o Object) SortedKeys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func marshalValue(v Value) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

// MarshalCanonical returns the canonical JSON form of v: sorted object keys,
// shortest float form, RFC3339Nano times.
func MarshalCanonical(v Value) ([]byte, error) {
	return marshalValue(v)
}

// Equal reports whether a and b have the same canonical encoding.
// Int(5) and Float(5) are different values.
func Equal(a, b Value) bool {
	if IsNull(a) || IsNull(b) {
		return IsNull(a) && IsNull(b)
	}
	if fmt.Sprintf("%T", a) != fmt.Sprintf("%T", b) {
		return false
	}
	ab, err := MarshalCanonical(a)
	if err != nil {
		return false
	}
	bb, err := MarshalCanonical(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

// KeyString renders a business-key value as text for logs, reports and
// journal entries.
func KeyString(v Value) string {
	switch t := v.(type) {
	case nil, Null:
		return ""
	case String:
		return string(t)
	case Int:
		return strconv.FormatInt(int64(t), 10)
	case Float:
		return strconv.FormatFloat(float64(t), 'f', -1, 64)
	case Bool:
		return strconv.FormatBool(bool(t))
	case Time:
		return t.Time.Format(time.RFC3339Nano)
	default:
		b, err := MarshalCanonical(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}
