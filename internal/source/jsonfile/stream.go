package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/document"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/source"
)

// StreamDocuments decodes a collection export from r and calls emit once per
// document, without buffering the whole input.
//
// Accepted shapes:
//   - a root array of objects,
//   - an envelope object whose first array-valued field holds the documents
//     (remaining fields are skipped),
//   - a single root object, which is one document,
//
// each optionally followed by further objects, one per line (JSONL).
// The store identifier field is dropped from every document.
func StreamDocuments(ctx context.Context, r io.Reader, emit func(document.Record) error) (int, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	n := 0
	emitObject := func(obj map[string]any) error {
		n++
		rec, err := document.RecordFromMap(obj, source.StoreIDField)
		if err != nil {
			return fmt.Errorf("json: document %d: %w", n, err)
		}
		return emit(rec)
	}

	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return 0, nil
		}
		return 0, fmt.Errorf("json: read first token: %w", err)
	}

	d, ok := tok.(json.Delim)
	if !ok {
		return 0, fmt.Errorf("json: unsupported root token %T (want object or array)", tok)
	}

	switch d {
	case '[':
		if err := streamArrayOfObjects(ctx, dec, emitObject); err != nil {
			return n, err
		}
		if err := expectDelim(dec, ']'); err != nil {
			return n, err
		}

	case '{':
		streamed, single, err := streamEnvelopeOrSingle(ctx, dec, emitObject)
		if err != nil {
			return n, err
		}
		if err := expectDelim(dec, '}'); err != nil {
			return n, err
		}
		if !streamed {
			if err := emitObject(single); err != nil {
				return n, err
			}
		}

	default:
		return 0, fmt.Errorf("json: unsupported root delimiter %q", d)
	}

	return n, streamTrailingObjects(ctx, dec, emitObject)
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	end, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: read %q: %w", want, err)
	}
	if end != want {
		return fmt.Errorf("json: expected %q, got %v", want, end)
	}
	return nil
}

func streamTrailingObjects(ctx context.Context, dec *json.Decoder, emit func(map[string]any) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("json: decode trailing object: %w", err)
		}
		if obj == nil {
			continue
		}
		if err := emit(obj); err != nil {
			return err
		}
	}
}

// streamArrayOfObjects streams the elements of the current array ('[' already
// consumed). null elements are skipped; any other non-object is an error.
func streamArrayOfObjects(ctx context.Context, dec *json.Decoder, emit func(map[string]any) error) error {
	for dec.More() {
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("json: decode array element: %w", err)
		}
		if raw == nil {
			continue
		}
		obj, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("json: array element not an object (got %T)", raw)
		}
		if err := emit(obj); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

// streamEnvelopeOrSingle walks a root object ('{' already consumed). The
// first array-valued field is streamed as the document list and the rest of
// the object is skipped. With no such field the object itself is returned.
func streamEnvelopeOrSingle(ctx context.Context, dec *json.Decoder, emit func(map[string]any) error) (bool, map[string]any, error) {
	single := make(map[string]any)

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return false, nil, fmt.Errorf("json: read object key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return false, nil, fmt.Errorf("json: object key not a string (got %T)", keyTok)
		}

		valTok, err := dec.Token()
		if err != nil {
			return false, nil, fmt.Errorf("json: read object value token: %w", err)
		}

		if delim, ok := valTok.(json.Delim); ok && delim == '[' {
			if err := streamArrayOfObjects(ctx, dec, emit); err != nil {
				return false, nil, err
			}
			if err := expectDelim(dec, ']'); err != nil {
				return false, nil, err
			}
			for dec.More() {
				if _, err := dec.Token(); err != nil {
					return true, nil, fmt.Errorf("json: skip envelope key: %w", err)
				}
				if err := skipNextValue(dec); err != nil {
					return true, nil, err
				}
			}
			return true, nil, nil
		}

		val, err := materialize(dec, valTok)
		if err != nil {
			return false, nil, err
		}
		single[key] = val
	}
	return false, single, nil
}

func skipNextValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: skip value token: %w", err)
	}
	d, ok := tok.(json.Delim)
	if !ok {
		return nil
	}
	switch d {
	case '{':
		for dec.More() {
			if _, err := dec.Token(); err != nil {
				return fmt.Errorf("json: skip object key: %w", err)
			}
			if err := skipNextValue(dec); err != nil {
				return err
			}
		}
		return expectDelim(dec, '}')
	case '[':
		for dec.More() {
			if err := skipNextValue(dec); err != nil {
				return err
			}
		}
		return expectDelim(dec, ']')
	default:
		return fmt.Errorf("json: unexpected delimiter %q", d)
	}
}

// materialize builds the Go value whose first token has already been read.
func materialize(dec *json.Decoder, tok any) (any, error) {
	d, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch d {
	case '{':
		m := make(map[string]any)
		for dec.More() {
			kt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read nested object key: %w", err)
			}
			k, ok := kt.(string)
			if !ok {
				return nil, fmt.Errorf("json: nested object key not string (got %T)", kt)
			}
			vt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read nested value: %w", err)
			}
			v, err := materialize(dec, vt)
			if err != nil {
				return nil, err
			}
			m[k] = v
		}
		return m, expectDelim(dec, '}')
	case '[':
		arr := []any{}
		for dec.More() {
			vt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read nested array value: %w", err)
			}
			v, err := materialize(dec, vt)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		return arr, expectDelim(dec, ']')
	default:
		return nil, fmt.Errorf("json: unexpected delimiter %q", d)
	}
}
