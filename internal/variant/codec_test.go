package variant

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleVariant(row uint64) Variant {
	return Variant{
		Row:         row,
		ColumnBegin: 1000 + row,
		ColumnEnd:   1000 + row + 2,
		Fields: []Field{
			{Name: "REF", Value: StringValue("A")},
			{Name: "ALT", Value: StringsValue("T", "&")},
			{Name: "BaseQRankSum", Value: FloatValue(-1.25)},
			{Name: "AD", Value: IntsValue(12, 7)},
			{Name: "PL", Value: IntsValue(0, 30, 300)},
		},
	}
}

// TestEncodeDecodeRoundTrip verifies that decoding a buffer from offset 0
// yields the encoded sequence in order and ends exactly at Len.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		variants []Variant
	}{
		{name: "empty", variants: nil},
		{name: "single", variants: []Variant{sampleVariant(0)}},
		{name: "many", variants: []Variant{sampleVariant(0), sampleVariant(1), sampleVariant(2), sampleVariant(3)}},
		{name: "no fields", variants: []Variant{{Row: 9, ColumnBegin: 1, ColumnEnd: 1}}},
		{name: "empty lists", variants: []Variant{{Fields: []Field{
			{Name: "ALT", Value: StringsValue()},
			{Name: "PL", Value: IntsValue()},
			{Name: "REF", Value: StringValue("")},
		}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := Encode(tt.variants, 64)
			require.NoError(t, err)

			var got []Variant
			offset := uint64(0)
			for offset < uint64(buf.Len()) {
				v, next, err := Decode(buf.Bytes(), offset)
				require.NoError(t, err)
				require.Greater(t, next, offset)
				got = append(got, v)
				offset = next
			}
			assert.Equal(t, uint64(buf.Len()), offset)
			if diff := cmp.Diff(tt.variants, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("decoded sequence mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// TestBufferGrowthPreservesBytes checks that growing past the capacity hint
// never corrupts bytes that were already written.
func TestBufferGrowthPreservesBytes(t *testing.T) {
	buf := NewBuffer(8)
	assert.Equal(t, 0, buf.Len())
	assert.Equal(t, 8, buf.Cap())

	v0 := sampleVariant(0)
	require.NoError(t, buf.Append(&v0))
	first := append([]byte(nil), buf.Bytes()...)
	require.Greater(t, buf.Cap(), 8)

	for i := 1; i < 200; i++ {
		v := sampleVariant(uint64(i))
		require.NoError(t, buf.Append(&v))
	}
	assert.Equal(t, first, buf.Bytes()[:len(first)])
	assert.LessOrEqual(t, buf.Len(), buf.Cap())

	got, _, err := Decode(buf.Bytes(), 0)
	require.NoError(t, err)
	assert.Equal(t, v0.Row, got.Row)
}

func TestNewBufferDefaultHint(t *testing.T) {
	buf := NewBuffer(0)
	assert.Equal(t, DefaultCapacityHint, buf.Cap())
	assert.Empty(t, buf.Bytes())

	v := sampleVariant(1)
	require.NoError(t, buf.Append(&v))
	buf.Reset()
	assert.Equal(t, 0, buf.Len())
	assert.Equal(t, DefaultCapacityHint, buf.Cap())
}

func TestAppendRejectsUnknownKind(t *testing.T) {
	buf := NewBuffer(16)
	v := Variant{Fields: []Field{{Name: "X", Value: Value{Kind: Kind(42)}}}}
	err := buf.Append(&v)
	require.ErrorIs(t, err, ErrMalformed)
	assert.Equal(t, 0, buf.Len(), "failed append must not write")
}

func TestDecodeErrors(t *testing.T) {
	good, err := Encode([]Variant{sampleVariant(5)}, 0)
	require.NoError(t, err)
	full := good.Bytes()

	t.Run("offset past end", func(t *testing.T) {
		_, next, err := Decode(full, uint64(len(full))+3)
		require.ErrorIs(t, err, ErrTruncated)
		assert.Equal(t, uint64(len(full))+3, next)
	})

	t.Run("partial header", func(t *testing.T) {
		_, _, err := Decode(full[:3], 0)
		require.ErrorIs(t, err, ErrTruncated)
	})

	t.Run("body cut short", func(t *testing.T) {
		_, _, err := Decode(full[:len(full)-1], 0)
		require.ErrorIs(t, err, ErrTruncated)
	})

	t.Run("length prefix too small", func(t *testing.T) {
		bad := append([]byte(nil), full...)
		binary.LittleEndian.PutUint32(bad, 10)
		_, _, err := Decode(bad, 0)
		require.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("trailing bytes inside record", func(t *testing.T) {
		v := Variant{Row: 1}
		enc, err := Encode([]Variant{v}, 0)
		require.NoError(t, err)
		bad := append([]byte(nil), enc.Bytes()...)
		bad = append(bad, 0xff)
		binary.LittleEndian.PutUint32(bad, binary.LittleEndian.Uint32(bad)+1)
		_, _, err = Decode(bad, 0)
		require.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("huge list count", func(t *testing.T) {
		v := Variant{Fields: []Field{{Name: "PL", Value: IntsValue(1)}}}
		enc, err := Encode([]Variant{v}, 0)
		require.NoError(t, err)
		bad := append([]byte(nil), enc.Bytes()...)
		// count sits after header(4) + 24 + nfields(2) + name len(2) + "PL" + kind(1)
		binary.LittleEndian.PutUint32(bad[4+24+2+2+2+1:], 1<<30)
		_, _, err = Decode(bad, 0)
		require.ErrorIs(t, err, ErrMalformed)
	})
}

func TestKindNames(t *testing.T) {
	for _, k := range []Kind{KindString, KindStrings, KindFloat, KindInts} {
		t.Run(k.String(), func(t *testing.T) {
			parsed, err := ParseKind(k.String())
			require.NoError(t, err)
			assert.Equal(t, k, parsed)
		})
	}
	_, err := ParseKind("blob")
	assert.Error(t, err)
	assert.Equal(t, fmt.Sprintf("kind(%d)", 9), Kind(9).String())
}

func TestVariantHelpers(t *testing.T) {
	v := sampleVariant(0)
	ref, ok := v.Field("REF")
	require.True(t, ok)
	assert.Equal(t, "A", ref.Interface())

	_, ok = v.Field("DP")
	assert.False(t, ok)

	assert.True(t, v.Overlaps(0, 1000))
	assert.True(t, v.Overlaps(1002, 5000))
	assert.False(t, v.Overlaps(1003, 5000))
	assert.Equal(t, []int64{}, IntsValue().Interface())
}
