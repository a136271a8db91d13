package loader

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/golang/snappy"

	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/document"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/storage"
)

// Encoding is the on-disk form of structured (nested) columns.
type Encoding string

const (
	EncodingJSON       Encoding = "json"
	EncodingJSONSnappy Encoding = "json+snappy"
)

func ParseEncoding(s string) (Encoding, error) {
	switch e := Encoding(strings.ToLower(strings.TrimSpace(s))); e {
	case "", EncodingJSON:
		return EncodingJSON, nil
	case EncodingJSONSnappy:
		return EncodingJSONSnappy, nil
	default:
		return "", fmt.Errorf("loader: unknown structured encoding %q (want json|json+snappy)", s)
	}
}

// ColumnType is the logical sink type of a structured column.
func (e Encoding) ColumnType() string {
	if e == EncodingJSONSnappy {
		return storage.TypeBytes
	}
	return storage.TypeJSON
}

// Encode returns the bind value of a structured column. Null stays NULL.
func (e Encoding) Encode(v document.Value) (any, error) {
	if document.IsNull(v) {
		return nil, nil
	}
	b, err := document.MarshalCanonical(v)
	if err != nil {
		return nil, err
	}
	if e == EncodingJSONSnappy {
		return snappy.Encode(nil, b), nil
	}
	return string(b), nil
}

// Decode reverses Encode for a value read back from the sink. It accepts what
// the drivers return: JSON text, snappy bytes, or an already decoded jsonb
// value (pgx).
func (e Encoding) Decode(raw any) (document.Value, error) {
	switch t := raw.(type) {
	case nil:
		return document.Null{}, nil
	case string:
		return document.ParseValueJSON([]byte(t))
	case []byte:
		if e == EncodingJSONSnappy {
			if plain, err := snappy.Decode(nil, t); err == nil {
				return document.ParseValueJSON(plain)
			}
		}
		return document.ParseValueJSON(t)
	case map[string]any, []any:
		// Round trip through encoding/json to get json.Number semantics.
		b, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		return document.ParseValueJSON(b)
	default:
		return document.FromAny(t)
	}
}

// AdaptSpecs rewrites structured (jsonb) columns to the encoding's column type.
func AdaptSpecs(specs []storage.TableSpec, e Encoding) []storage.TableSpec {
	if e.ColumnType() == storage.TypeJSON {
		return specs
	}
	out := make([]storage.TableSpec, len(specs))
	for i, s := range specs {
		cols := make([]storage.ColumnSpec, len(s.Columns))
		for j, c := range s.Columns {
			if c.Type == storage.TypeJSON {
				c.Type = e.ColumnType()
			}
			cols[j] = c
		}
		s.Columns = cols
		out[i] = s
	}
	return out
}
