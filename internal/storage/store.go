package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dreamware/gtgather/internal/variant"
)

var (
	// ErrWorkspaceNotFound is returned when the workspace directory is missing
	ErrWorkspaceNotFound = errors.New("workspace not found")

	// ErrArrayNotFound is returned when the workspace holds no such array
	ErrArrayNotFound = errors.New("array not found")

	// ErrSchemaMismatch is returned when a variant does not fit the array schema
	ErrSchemaMismatch = errors.New("variant does not match schema")
)

// Attribute is one named, typed column of an array.
type Attribute struct {
	Name string
	Kind variant.Kind
}

// Schema describes the attributes stored in an array.
type Schema struct {
	Array      string
	Attributes []Attribute
}

// Lookup returns the attribute with the given name.
func (s *Schema) Lookup(name string) (Attribute, bool) {
	for _, a := range s.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// check verifies that every field of v is declared with the same kind.
func (s *Schema) check(v *variant.Variant) error {
	for _, f := range v.Fields {
		a, ok := s.Lookup(f.Name)
		if !ok {
			return fmt.Errorf("%w: unknown attribute %q", ErrSchemaMismatch, f.Name)
		}
		if a.Kind != f.Value.Kind {
			return fmt.Errorf("%w: attribute %q is %s, got %s", ErrSchemaMismatch, f.Name, a.Kind, f.Value.Kind)
		}
	}
	return nil
}

// Store defines the interface for an array of variants
// All implementations must be safe for concurrent use
type Store interface {
	// Schema returns the array schema
	Schema(ctx context.Context) (*Schema, error)

	// Put stores a variant, replacing any variant with the same row and
	// column begin
	Put(ctx context.Context, v variant.Variant) error

	// Scan returns the variants whose column interval overlaps [begin, end],
	// ordered by column begin then row, carrying only the named attributes
	// in the order given
	Scan(ctx context.Context, begin, end uint64, attributes []string) ([]variant.Variant, error)

	// Count returns the number of stored variants
	Count(ctx context.Context) (int, error)

	Close() error
}

type cellKey struct {
	row   uint64
	begin uint64
}

// MemoryStore implements Store with an in-memory map
// Uses sync.RWMutex for thread-safe concurrent access
type MemoryStore struct {
	data   map[cellKey]variant.Variant
	schema Schema
	mu     sync.RWMutex
}

// NewMemoryStore creates an empty in-memory array with the given schema
func NewMemoryStore(schema Schema) *MemoryStore {
	schema.Attributes = append([]Attribute(nil), schema.Attributes...)
	return &MemoryStore{
		schema: schema,
		data:   make(map[cellKey]variant.Variant),
	}
}

func (m *MemoryStore) Schema(_ context.Context) (*Schema, error) {
	s := m.schema
	s.Attributes = append([]Attribute(nil), m.schema.Attributes...)
	return &s, nil
}

// Put stores a copy of v so later changes by the caller are not visible
func (m *MemoryStore) Put(_ context.Context, v variant.Variant) error {
	if err := m.schema.check(&v); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[cellKey{row: v.Row, begin: v.ColumnBegin}] = cloneVariant(v, nil)
	return nil
}

func (m *MemoryStore) Scan(ctx context.Context, begin, end uint64, attributes []string) ([]variant.Variant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []variant.Variant
	for _, v := range m.data {
		if v.Overlaps(begin, end) {
			out = append(out, cloneVariant(v, attributes))
		}
	}
	sortVariants(out)
	return out, nil
}

func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data), nil
}

func (m *MemoryStore) Close() error { return nil }

func sortVariants(vs []variant.Variant) {
	sort.Slice(vs, func(i, j int) bool {
		if vs[i].ColumnBegin != vs[j].ColumnBegin {
			return vs[i].ColumnBegin < vs[j].ColumnBegin
		}
		return vs[i].Row < vs[j].Row
	})
}

// cloneVariant deep-copies v. With a non-nil attributes list only those
// fields are kept, in that order.
func cloneVariant(v variant.Variant, attributes []string) variant.Variant {
	out := variant.Variant{Row: v.Row, ColumnBegin: v.ColumnBegin, ColumnEnd: v.ColumnEnd}
	if attributes == nil {
		for _, f := range v.Fields {
			out.Fields = append(out.Fields, cloneField(f))
		}
		return out
	}
	for _, name := range attributes {
		if val, ok := v.Field(name); ok {
			out.Fields = append(out.Fields, cloneField(variant.Field{Name: name, Value: val}))
		}
	}
	return out
}

func cloneField(f variant.Field) variant.Field {
	val := f.Value
	if val.Strs != nil {
		val.Strs = append([]string(nil), val.Strs...)
	}
	if val.Ints != nil {
		val.Ints = append([]int64(nil), val.Ints...)
	}
	return variant.Field{Name: f.Name, Value: val}
}
