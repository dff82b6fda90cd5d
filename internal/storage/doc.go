// Package storage holds the arrays of variants that participants query.
//
// # Overview
//
// An array is a two-dimensional collection of variants: rows are samples and
// columns are genomic positions. Every variant covers an inclusive column
// interval [ColumnBegin, ColumnEnd] within one row and carries a set of typed
// attributes declared by the array schema.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│        query.Processor              │
//	└─────────────────────────────────────┘
//	                 │
//	                 ▼
//	┌─────────────────────────────────────┐
//	│        Store interface              │
//	│  Schema, Put, Scan, Count, Close    │
//	└─────────────────────────────────────┘
//	         │                  │
//	         ▼                  ▼
//	┌────────────────┐  ┌────────────────┐
//	│  MemoryStore   │  │  SQLiteStore   │
//	│  map + RWMutex │  │ <ws>/<a>.db    │
//	└────────────────┘  └────────────────┘
//
// # Workspaces
//
// A workspace is a directory. Each array in it is one SQLite file named
// after the array with the ArrayExt suffix. Open fails with
// ErrWorkspaceNotFound or ErrArrayNotFound before touching the database, so
// callers can report a missing workspace as a usage problem.
//
// The file holds two tables:
//
//	array_schema (name, kind, position)
//	variants     (sample_row, column_begin, column_end, attributes)
//
// Attribute values are stored as a JSON object and typed on the way out by
// the schema.
//
// # Scans
//
// Scan returns every variant whose interval overlaps [begin, end], ordered by
// column begin and then row. Only the requested attributes are returned, in
// the order requested; attributes a variant does not carry are omitted.
//
// # Loading
//
// LoadJSONLines imports one JSON object per line into a new array. The
// schema is inferred from the first non-null value of each attribute:
// strings, lists of strings, numbers and lists of numbers. Attributes whose
// kind cannot be inferred must be declared by the caller.
//
// # Concurrency
//
// Both implementations are safe for concurrent use. MemoryStore copies
// variants on the way in and on the way out so callers never share slices
// with the store.
package storage
