package variant

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/slices"
)

// DefaultCapacityHint is the initial allocation of a serialization buffer.
// Buffers grow past it on demand.
const DefaultCapacityHint = 1_000_000

// headerSize is the length prefix in front of every encoded variant.
const headerSize = 4

var (
	// ErrTruncated is returned when the bytes at an offset cannot hold a
	// complete encoded variant.
	ErrTruncated = errors.New("variant: truncated record")

	// ErrMalformed is returned when a record's framing is intact but its
	// contents do not parse, or when a variant cannot be encoded.
	ErrMalformed = errors.New("variant: malformed record")
)

// Buffer is a growable serialization buffer. Len is the logical length of
// encoded data and is tracked independently of the allocated capacity.
type Buffer struct {
	data []byte
}

// NewBuffer allocates a buffer with the given capacity hint. A non-positive
// hint selects DefaultCapacityHint.
func NewBuffer(hint int) *Buffer {
	if hint <= 0 {
		hint = DefaultCapacityHint
	}
	return &Buffer{data: make([]byte, 0, hint)}
}

// Len returns the number of encoded bytes.
func (b *Buffer) Len() int { return len(b.data) }

// Cap returns the allocated capacity.
func (b *Buffer) Cap() int { return cap(b.data) }

// Bytes returns the encoded bytes [0, Len). The slice aliases the buffer.
func (b *Buffer) Bytes() []byte { return b.data }

// Reset drops the encoded content but keeps the allocation.
func (b *Buffer) Reset() { b.data = b.data[:0] }

// Append encodes v at the end of the buffer, growing it if needed.
// On error the buffer is left unchanged.
func (b *Buffer) Append(v *Variant) error {
	size, err := encodedSize(v)
	if err != nil {
		return err
	}
	b.data = slices.Grow(b.data, size)

	out := binary.LittleEndian.AppendUint32(b.data, uint32(size-headerSize))
	out = binary.LittleEndian.AppendUint64(out, v.Row)
	out = binary.LittleEndian.AppendUint64(out, v.ColumnBegin)
	out = binary.LittleEndian.AppendUint64(out, v.ColumnEnd)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(v.Fields)))
	for _, f := range v.Fields {
		out = binary.LittleEndian.AppendUint16(out, uint16(len(f.Name)))
		out = append(out, f.Name...)
		out = append(out, byte(f.Value.Kind))
		out = appendValue(out, f.Value)
	}
	b.data = out
	return nil
}

// Encode serializes variants in order into a fresh buffer.
func Encode(variants []Variant, hint int) (*Buffer, error) {
	buf := NewBuffer(hint)
	for i := range variants {
		if err := buf.Append(&variants[i]); err != nil {
			return nil, fmt.Errorf("encode variant %d: %w", i, err)
		}
	}
	return buf, nil
}

func appendValue(out []byte, v Value) []byte {
	switch v.Kind {
	case KindString:
		out = binary.LittleEndian.AppendUint32(out, uint32(len(v.Str)))
		out = append(out, v.Str...)
	case KindStrings:
		out = binary.LittleEndian.AppendUint32(out, uint32(len(v.Strs)))
		for _, s := range v.Strs {
			out = binary.LittleEndian.AppendUint32(out, uint32(len(s)))
			out = append(out, s...)
		}
	case KindFloat:
		out = binary.LittleEndian.AppendUint64(out, math.Float64bits(v.Float))
	case KindInts:
		out = binary.LittleEndian.AppendUint32(out, uint32(len(v.Ints)))
		for _, n := range v.Ints {
			out = binary.LittleEndian.AppendUint64(out, uint64(n))
		}
	}
	return out
}

// encodedSize returns the full size of v including the length prefix.
func encodedSize(v *Variant) (int, error) {
	if len(v.Fields) > math.MaxUint16 {
		return 0, fmt.Errorf("%w: %d fields", ErrMalformed, len(v.Fields))
	}
	size := headerSize + 8 + 8 + 8 + 2
	for _, f := range v.Fields {
		if len(f.Name) > math.MaxUint16 {
			return 0, fmt.Errorf("%w: field name of %d bytes", ErrMalformed, len(f.Name))
		}
		size += 2 + len(f.Name) + 1
		switch f.Value.Kind {
		case KindString:
			size += 4 + len(f.Value.Str)
		case KindStrings:
			size += 4
			for _, s := range f.Value.Strs {
				size += 4 + len(s)
			}
		case KindFloat:
			size += 8
		case KindInts:
			size += 4 + 8*len(f.Value.Ints)
		default:
			return 0, fmt.Errorf("%w: field %q has %s", ErrMalformed, f.Name, f.Value.Kind)
		}
	}
	if uint64(size-headerSize) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: record of %d bytes", ErrMalformed, size)
	}
	return size, nil
}

// Decode parses exactly one variant starting at offset and returns the offset
// just past it. Only buf[offset:] is examined; the caller bounds buf.
func Decode(buf []byte, offset uint64) (Variant, uint64, error) {
	n := uint64(len(buf))
	if offset > n || n-offset < headerSize {
		return Variant{}, offset, fmt.Errorf("%w: header at offset %d of %d", ErrTruncated, offset, n)
	}
	bodyLen := uint64(binary.LittleEndian.Uint32(buf[offset:]))
	end := offset + headerSize + bodyLen
	if end > n {
		return Variant{}, offset, fmt.Errorf("%w: record at offset %d needs %d bytes, %d available",
			ErrTruncated, offset, headerSize+bodyLen, n-offset)
	}

	r := reader{b: buf[offset+headerSize : end]}
	var v Variant
	v.Row = r.u64()
	v.ColumnBegin = r.u64()
	v.ColumnEnd = r.u64()
	count := int(r.u16())
	if r.err == nil && count > 0 {
		v.Fields = make([]Field, 0, count)
	}
	for i := 0; i < count && r.err == nil; i++ {
		var f Field
		f.Name = string(r.take(int(r.u16())))
		f.Value = r.value(Kind(r.u8()))
		v.Fields = append(v.Fields, f)
	}
	if r.err != nil {
		return Variant{}, offset, fmt.Errorf("%w at offset %d: %v", ErrMalformed, offset, r.err)
	}
	if r.off != len(r.b) {
		return Variant{}, offset, fmt.Errorf("%w at offset %d: %d trailing bytes", ErrMalformed, offset, len(r.b)-r.off)
	}
	return v, end, nil
}

// reader walks a record body. The first failure sticks in err and makes
// every later read return zero values.
type reader struct {
	err error
	b   []byte
	off int
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.b)-r.off < n {
		r.err = fmt.Errorf("need %d bytes at %d, have %d", n, r.off, len(r.b)-r.off)
		return nil
	}
	p := r.b[r.off : r.off+n]
	r.off += n
	return p
}

func (r *reader) u8() uint8 {
	p := r.take(1)
	if p == nil {
		return 0
	}
	return p[0]
}

func (r *reader) u16() uint16 {
	p := r.take(2)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(p)
}

func (r *reader) u32() uint32 {
	p := r.take(4)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(p)
}

func (r *reader) u64() uint64 {
	p := r.take(8)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(p)
}

// count reads a u32 element count and rejects counts that cannot fit in the
// remaining bytes, so a corrupt count never drives a huge allocation.
func (r *reader) count(elemSize int) int {
	n := int(r.u32())
	if r.err == nil && n > (len(r.b)-r.off)/elemSize {
		r.err = fmt.Errorf("count %d exceeds remaining %d bytes", n, len(r.b)-r.off)
		return 0
	}
	return n
}

func (r *reader) value(k Kind) Value {
	v := Value{Kind: k}
	switch k {
	case KindString:
		v.Str = string(r.take(int(r.u32())))
	case KindStrings:
		n := r.count(4)
		v.Strs = make([]string, 0, n)
		for i := 0; i < n && r.err == nil; i++ {
			v.Strs = append(v.Strs, string(r.take(int(r.u32()))))
		}
	case KindFloat:
		v.Float = math.Float64frombits(r.u64())
	case KindInts:
		n := r.count(8)
		v.Ints = make([]int64, 0, n)
		for i := 0; i < n && r.err == nil; i++ {
			v.Ints = append(v.Ints, int64(r.u64()))
		}
	default:
		if r.err == nil {
			r.err = fmt.Errorf("unknown kind %d", uint8(k))
		}
	}
	return v
}
