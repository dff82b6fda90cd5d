package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/dreamware/gtgather/internal/variant"
)

// ArrayExt is the file extension of an array inside a workspace.
const ArrayExt = ".db"

const createTables = `
CREATE TABLE IF NOT EXISTS array_schema (
	name     TEXT PRIMARY KEY,
	kind     TEXT NOT NULL,
	position INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS variants (
	sample_row   INTEGER NOT NULL,
	column_begin INTEGER NOT NULL,
	column_end   INTEGER NOT NULL,
	attributes   TEXT NOT NULL,
	PRIMARY KEY (sample_row, column_begin)
);
CREATE INDEX IF NOT EXISTS idx_variants_interval ON variants (column_begin, column_end);
`

// SQLiteStore is a Store backed by one SQLite file per array.
type SQLiteStore struct {
	db     *sql.DB
	stbl   sq.StatementBuilderType
	schema *Schema
}

var _ Store = (*SQLiteStore)(nil)

// ArrayPath returns the file holding array inside workspace.
func ArrayPath(workspace, array string) string {
	return filepath.Join(workspace, array+ArrayExt)
}

// Open opens an existing array in a workspace directory.
func Open(ctx context.Context, workspace, array string) (*SQLiteStore, error) {
	info, err := os.Stat(workspace)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrWorkspaceNotFound, workspace)
	}
	path := ArrayPath(workspace, array)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s in %s", ErrArrayNotFound, array, workspace)
	}

	s, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	if s.schema, err = s.loadSchema(ctx, array); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Create creates (or reopens) an array file in workspace with the given
// attributes. The workspace directory is created if needed.
func Create(ctx context.Context, workspace string, schema Schema) (*SQLiteStore, error) {
	if err := os.MkdirAll(workspace, 0o750); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	s, err := openSQLite(ArrayPath(workspace, schema.Array))
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, createTables); err != nil {
		s.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	for i, a := range schema.Attributes {
		_, err := s.stbl.Insert("array_schema").
			Options("OR REPLACE").
			Columns("name", "kind", "position").
			Values(a.Name, a.Kind.String(), i).
			ExecContext(ctx)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("write schema: %w", err)
		}
	}
	if s.schema, err = s.loadSchema(ctx, schema.Array); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// prepareDSN appends the pragmas every connection needs.
func prepareDSN(path string) string {
	query := url.Values{}
	query.Add("_pragma", "busy_timeout(5000)")
	query.Add("_pragma", "journal_mode(WAL)")
	return path + "?" + query.Encode()
}

func openSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", prepareDSN(path))
	if err != nil {
		return nil, fmt.Errorf("initialize sqlite connection: %w", err)
	}
	return &SQLiteStore{
		db:   db,
		stbl: sq.StatementBuilder.RunWith(db),
	}, nil
}

func (s *SQLiteStore) loadSchema(ctx context.Context, array string) (*Schema, error) {
	rows, err := s.stbl.Select("name", "kind").
		From("array_schema").
		OrderBy("position").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("read schema of %s: %w", array, err)
	}
	defer rows.Close()

	schema := &Schema{Array: array}
	for rows.Next() {
		var name, kind string
		if err := rows.Scan(&name, &kind); err != nil {
			return nil, err
		}
		k, err := variant.ParseKind(kind)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", name, err)
		}
		schema.Attributes = append(schema.Attributes, Attribute{Name: name, Kind: k})
	}
	return schema, rows.Err()
}

func (s *SQLiteStore) Schema(_ context.Context) (*Schema, error) {
	out := *s.schema
	out.Attributes = append([]Attribute(nil), s.schema.Attributes...)
	return &out, nil
}

func (s *SQLiteStore) Put(ctx context.Context, v variant.Variant) error {
	return s.PutBatch(ctx, []variant.Variant{v})
}

// PutBatch stores variants in a single transaction.
func (s *SQLiteStore) PutBatch(ctx context.Context, vs []variant.Variant) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stbl := sq.StatementBuilder.RunWith(tx)
	for i := range vs {
		v := &vs[i]
		if err := s.schema.check(v); err != nil {
			return err
		}
		if v.Row > math.MaxInt64 || v.ColumnBegin > math.MaxInt64 || v.ColumnEnd > math.MaxInt64 {
			return fmt.Errorf("%w: coordinates beyond int64", ErrSchemaMismatch)
		}
		attrs, err := encodeAttributes(v.Fields)
		if err != nil {
			return err
		}
		_, err = stbl.Insert("variants").
			Options("OR REPLACE").
			Columns("sample_row", "column_begin", "column_end", "attributes").
			Values(int64(v.Row), int64(v.ColumnBegin), int64(v.ColumnEnd), attrs).
			ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("insert variant: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Scan(ctx context.Context, begin, end uint64, attributes []string) ([]variant.Variant, error) {
	if begin > math.MaxInt64 {
		return nil, nil
	}
	if end > math.MaxInt64 {
		end = math.MaxInt64
	}
	rows, err := s.stbl.Select("sample_row", "column_begin", "column_end", "attributes").
		From("variants").
		Where(sq.LtOrEq{"column_begin": int64(end)}).
		Where(sq.GtOrEq{"column_end": int64(begin)}).
		OrderBy("column_begin", "sample_row").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan [%d, %d]: %w", begin, end, err)
	}
	defer rows.Close()

	var out []variant.Variant
	for rows.Next() {
		var row, b, e int64
		var attrs string
		if err := rows.Scan(&row, &b, &e, &attrs); err != nil {
			return nil, err
		}
		fields, err := s.decodeAttributes(attrs, attributes)
		if err != nil {
			return nil, fmt.Errorf("row %d column %d: %w", row, b, err)
		}
		out = append(out, variant.Variant{
			Row:         uint64(row),
			ColumnBegin: uint64(b),
			ColumnEnd:   uint64(e),
			Fields:      fields,
		})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.stbl.Select("COUNT(*)").From("variants").QueryRowContext(ctx).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func encodeAttributes(fields []variant.Field) (string, error) {
	m := make(map[string]any, len(fields))
	for _, f := range fields {
		m[f.Name] = f.Value.Interface()
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode attributes: %w", err)
	}
	return string(b), nil
}

// decodeAttributes projects the stored JSON object onto the requested
// attributes, typing each value by the schema. A nil list keeps every
// schema attribute present in the row.
func (s *SQLiteStore) decodeAttributes(raw string, attributes []string) ([]variant.Field, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	if attributes == nil {
		for _, a := range s.schema.Attributes {
			attributes = append(attributes, a.Name)
		}
	}

	var fields []variant.Field
	for _, name := range attributes {
		msg, ok := m[name]
		if !ok {
			continue
		}
		a, ok := s.schema.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown attribute %q", ErrSchemaMismatch, name)
		}
		val, err := ParseValue(a.Kind, msg)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", name, err)
		}
		fields = append(fields, variant.Field{Name: name, Value: val})
	}
	return fields, nil
}

// ParseValue decodes a JSON value of the given kind.
func ParseValue(kind variant.Kind, msg json.RawMessage) (variant.Value, error) {
	val := variant.Value{Kind: kind}
	var err error
	switch kind {
	case variant.KindString:
		err = json.Unmarshal(msg, &val.Str)
	case variant.KindStrings:
		err = json.Unmarshal(msg, &val.Strs)
	case variant.KindFloat:
		err = json.Unmarshal(msg, &val.Float)
	case variant.KindInts:
		err = json.Unmarshal(msg, &val.Ints)
	default:
		err = errors.New("unsupported kind " + kind.String())
	}
	if err != nil {
		return variant.Value{}, fmt.Errorf("%w: %s", ErrSchemaMismatch, strings.TrimSpace(err.Error()))
	}
	return val, nil
}
