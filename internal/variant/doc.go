// Package variant defines the Variant record produced by queries and its
// self-delimiting binary encoding.
//
// # Encoding
//
// Every record starts with a 4-byte little-endian length of the body that
// follows, so a decoder positioned at any record boundary can tell how many
// bytes the record occupies without looking further:
//
//	┌──────────┬───────┬──────────────┬────────────┬─────────┬──────────┐
//	│ body len │ row   │ column begin │ column end │ nfields │ fields…  │
//	│ u32      │ u64   │ u64          │ u64        │ u16     │          │
//	└──────────┴───────┴──────────────┴────────────┴─────────┴──────────┘
//
// A field is a u16 name length, the name, a one-byte Kind, and a
// kind-specific payload (u32-prefixed strings and lists, raw float64 bits).
//
// Buffer accumulates encoded records. It starts at a capacity hint and grows
// with slices.Grow, which preserves bytes already written. Decode parses a
// single record at an offset and returns the offset just past it.
package variant
