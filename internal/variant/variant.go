package variant

import (
	"fmt"
)

// Kind identifies how an attribute value is typed and encoded.
type Kind uint8

const (
	// KindString is a single string value, e.g. REF
	KindString Kind = iota + 1
	// KindStrings is a list of strings, e.g. ALT
	KindStrings
	// KindFloat is a single float64, e.g. BaseQRankSum
	KindFloat
	// KindInts is a list of int64 values, e.g. AD or PL
	KindInts
)

// String returns the schema name of the kind.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindStrings:
		return "strings"
	case KindFloat:
		return "float"
	case KindInts:
		return "ints"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind converts a schema name back into a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "string":
		return KindString, nil
	case "strings":
		return KindStrings, nil
	case "float":
		return KindFloat, nil
	case "ints":
		return KindInts, nil
	default:
		return 0, fmt.Errorf("unknown attribute kind %q", s)
	}
}

// Value holds one attribute value. Only the member matching Kind is meaningful.
type Value struct {
	Str   string
	Strs  []string
	Ints  []int64
	Float float64
	Kind  Kind
}

// StringValue builds a KindString value.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// StringsValue builds a KindStrings value.
func StringsValue(s ...string) Value { return Value{Kind: KindStrings, Strs: s} }

// FloatValue builds a KindFloat value.
func FloatValue(f float64) Value { return Value{Kind: KindFloat, Float: f} }

// IntsValue builds a KindInts value.
func IntsValue(v ...int64) Value { return Value{Kind: KindInts, Ints: v} }

// Interface returns the value as a plain Go value suitable for JSON encoding.
func (v Value) Interface() any {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindStrings:
		if v.Strs == nil {
			return []string{}
		}
		return v.Strs
	case KindFloat:
		return v.Float
	case KindInts:
		if v.Ints == nil {
			return []int64{}
		}
		return v.Ints
	default:
		return nil
	}
}

// Field is a named attribute value attached to a Variant.
type Field struct {
	Name  string
	Value Value
}

// Variant is one row of query output: a sample row located on a column
// interval, carrying the attributes that were requested by the query.
type Variant struct {
	Fields      []Field
	Row         uint64
	ColumnBegin uint64
	ColumnEnd   uint64
}

// Field returns the named attribute and whether it was present.
func (v *Variant) Field(name string) (Value, bool) {
	for _, f := range v.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Overlaps reports whether the variant's column interval intersects [begin, end].
func (v *Variant) Overlaps(begin, end uint64) bool {
	return v.ColumnBegin <= end && v.ColumnEnd >= begin
}
