// Package timestamp converts date fields to the pipeline's fixed-offset civil
// form (+05:30, no DST) and back.
//
// A date D normalizes to midnight UTC of D, viewed in the +05:30 zone, which
// reads as "D 05:30:00 +05:30".
package timestamp

import (
	"fmt"
	"strings"
	"time"

	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/document"
)

// Offset is the fixed UTC offset of every stored civil timestamp.
const Offset = 5*time.Hour + 30*time.Minute

// Zone is the fixed +05:30 location. It never consults tz tables.
var Zone = time.FixedZone("IST", int(Offset/time.Second))

// DisplayLayout is the denormalized calendar form.
const DisplayLayout = "2006-01-02 15:04:05"

// Accepted string layouts, most specific first.
var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	DisplayLayout,
	"2006-01-02",
}

// Normalize returns a copy of rec with every present, non-null date field
// converted to the civil timestamp form. Absent and null fields pass through.
func Normalize(rec document.Record, dateFields []string) (document.Record, error) {
	out := rec.Clone()
	for _, f := range dateFields {
		v, ok := out.Get(f)
		if !ok {
			continue
		}
		nv, err := NormalizeValue(v)
		if err != nil {
			return nil, fmt.Errorf("normalize %s: %w", f, err)
		}
		out[f] = nv
	}
	return out, nil
}

// NormalizeValue converts one date value. Already-normalized values come back
// unchanged.
func NormalizeValue(v document.Value) (document.Value, error) {
	switch t := v.(type) {
	case nil, document.Null:
		return document.Null{}, nil
	case document.Time:
		return document.TimeOf(civil(t.Time)), nil
	case document.String:
		ts, err := Parse(string(t))
		if err != nil {
			return nil, err
		}
		return document.TimeOf(civil(ts)), nil
	default:
		return nil, fmt.Errorf("unsupported date value %T", v)
	}
}

// Parse reads a date or timestamp string. Strings without an offset are read
// as UTC.
func Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range layouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

// civil takes the calendar date of t in t's own offset and returns midnight
// UTC of that date, expressed in Zone.
func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).In(Zone)
}

// Denormalize renders t in Zone as "2006-01-02 15:04:05".
func Denormalize(t time.Time) string {
	return t.In(Zone).Format(DisplayLayout)
}

// ReferenceInstant is the frozen stamp used by bulk bootstrap runs:
// 2024-10-27 normalized, i.e. 2024-10-27 05:30:00 +05:30.
func ReferenceInstant() time.Time {
	return civil(time.Date(2024, 10, 27, 0, 0, 0, 0, time.UTC))
}

// IsSentinel reports whether v is a "no date" placeholder left behind by
// tabular conversion.
func IsSentinel(v document.Value) bool {
	switch t := v.(type) {
	case document.String:
		switch strings.ToLower(strings.TrimSpace(string(t))) {
		case "", "nat", "null", "none", "nan":
			return true
		}
	case document.Time:
		return t.Time.IsZero()
	}
	return false
}

// ReplaceSentinels swaps date-field placeholders for document.Null in place
// and returns how many were replaced.
func ReplaceSentinels(records []document.Record, dateFields []string) int {
	n := 0
	for _, rec := range records {
		for _, f := range dateFields {
			v, ok := rec[f]
			if ok && IsSentinel(v) {
				rec[f] = document.Null{}
				n++
			}
		}
	}
	return n
}

// Clock supplies the current instant. Live operations use System; bulk runs
// and tests use Fixed.
type Clock func() time.Time

// System reads the wall clock.
var System Clock = time.Now

// Fixed always returns t.
func Fixed(t time.Time) Clock {
	return func() time.Time { return t }
}

// Now returns the clock's instant in Zone, truncated to microseconds so it
// survives a round trip through Postgres timestamptz unchanged.
func (c Clock) Now() time.Time {
	if c == nil {
		c = System
	}
	return c().In(Zone).Truncate(time.Microsecond)
}
