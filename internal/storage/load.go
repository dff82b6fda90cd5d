package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/tidwall/gjson"

	"github.com/dreamware/gtgather/internal/variant"
)

const loadBatchSize = 1000

// ReadJSONLines parses one JSON object per line:
//
//	{"row": 0, "begin": 100, "end": 100, "attributes": {"REF": "A", "PL": [0, 3, 30]}}
//
// Blank lines are skipped.
func ReadJSONLines(r io.Reader) ([]gjson.Result, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 64*1024*1024)

	var lines []gjson.Result
	for n := 1; sc.Scan(); n++ {
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		if !gjson.ValidBytes(raw) {
			return nil, fmt.Errorf("line %d: invalid JSON", n)
		}
		res := gjson.ParseBytes(raw)
		if !res.IsObject() {
			return nil, fmt.Errorf("line %d: expected an object", n)
		}
		// ParseBytes may alias the scanner buffer
		lines = append(lines, gjson.Parse(res.Raw))
	}
	return lines, sc.Err()
}

// kindOf infers the attribute kind of a JSON value. Nulls and empty lists
// carry no kind.
func kindOf(val gjson.Result) (variant.Kind, bool) {
	switch {
	case val.Type == gjson.String:
		return variant.KindString, true
	case val.Type == gjson.Number:
		return variant.KindFloat, true
	case val.IsArray():
		elems := val.Array()
		if len(elems) == 0 {
			return 0, false
		}
		switch elems[0].Type {
		case gjson.String:
			return variant.KindStrings, true
		case gjson.Number:
			return variant.KindInts, true
		}
	}
	return 0, false
}

// InferSchema derives the attributes of array from the values in lines,
// in order of first appearance. kinds fixes the kind of named attributes;
// it is required for attributes whose kind cannot be inferred.
func InferSchema(array string, lines []gjson.Result, kinds map[string]variant.Kind) (Schema, error) {
	schema := Schema{Array: array}
	found := make(map[string]variant.Kind)
	var order []string

	for n, line := range lines {
		var err error
		line.Get("attributes").ForEach(func(key, val gjson.Result) bool {
			name := key.String()
			if _, seen := found[name]; !seen {
				found[name] = 0
				order = append(order, name)
			}
			if _, fixed := kinds[name]; fixed {
				return true
			}
			k, ok := kindOf(val)
			if !ok {
				return true
			}
			if prev := found[name]; prev != 0 && prev != k {
				err = fmt.Errorf("%w: attribute %q is %s on one line and %s on line %d", ErrSchemaMismatch, name, prev, k, n+1)
				return false
			}
			found[name] = k
			return true
		})
		if err != nil {
			return Schema{}, err
		}
	}

	for _, name := range order {
		k := found[name]
		if fixed, ok := kinds[name]; ok {
			k = fixed
		}
		if k == 0 {
			return Schema{}, fmt.Errorf("%w: cannot infer the kind of %q, declare it", ErrSchemaMismatch, name)
		}
		schema.Attributes = append(schema.Attributes, Attribute{Name: name, Kind: k})
	}
	return schema, nil
}

// lineVariant converts a parsed line using schema. Null attributes are
// omitted.
func lineVariant(line gjson.Result, schema *Schema) (variant.Variant, error) {
	var v variant.Variant
	coords := []struct {
		key string
		dst *uint64
	}{{"row", &v.Row}, {"begin", &v.ColumnBegin}, {"end", &v.ColumnEnd}}
	for _, c := range coords {
		res := line.Get(c.key)
		if res.Type != gjson.Number || res.Num < 0 {
			return v, fmt.Errorf("%q must be a non-negative number", c.key)
		}
		*c.dst = res.Uint()
	}
	if v.ColumnEnd < v.ColumnBegin {
		return v, fmt.Errorf("end %d is before begin %d", v.ColumnEnd, v.ColumnBegin)
	}

	var err error
	line.Get("attributes").ForEach(func(key, val gjson.Result) bool {
		if val.Type == gjson.Null {
			return true
		}
		a, ok := schema.Lookup(key.String())
		if !ok {
			err = fmt.Errorf("%w: unknown attribute %q", ErrSchemaMismatch, key.String())
			return false
		}
		var value variant.Value
		if value, err = ParseValue(a.Kind, json.RawMessage(val.Raw)); err != nil {
			err = fmt.Errorf("attribute %s: %w", a.Name, err)
			return false
		}
		v.Fields = append(v.Fields, variant.Field{Name: a.Name, Value: value})
		return true
	})
	return v, err
}

// LoadJSONLines imports r into a new array of workspace and returns the
// number of variants stored.
func LoadJSONLines(ctx context.Context, workspace, array string, r io.Reader, kinds map[string]variant.Kind) (int, error) {
	lines, err := ReadJSONLines(r)
	if err != nil {
		return 0, err
	}
	schema, err := InferSchema(array, lines, kinds)
	if err != nil {
		return 0, err
	}
	store, err := Create(ctx, workspace, schema)
	if err != nil {
		return 0, err
	}
	defer store.Close()

	batch := make([]variant.Variant, 0, loadBatchSize)
	for n, line := range lines {
		v, err := lineVariant(line, store.schema)
		if err != nil {
			return n, fmt.Errorf("line %d: %w", n+1, err)
		}
		batch = append(batch, v)
		if len(batch) == loadBatchSize {
			if err := store.PutBatch(ctx, batch); err != nil {
				return n + 1 - len(batch), err
			}
			batch = batch[:0]
		}
	}
	if err := store.PutBatch(ctx, batch); err != nil {
		return len(lines) - len(batch), err
	}
	return len(lines), nil
}
