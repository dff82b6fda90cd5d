package gather

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/gtgather/internal/variant"
)

func TestPlanScenario(t *testing.T) {
	layout, err := Plan([]uint64{100, 250, 0}, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{100, 250, 0}, layout.Counts)
	assert.Equal(t, []int{0, 100, 350}, layout.Displacements)
	assert.Equal(t, uint64(350), layout.Total)
	require.NoError(t, layout.Verify())
}

// TestPlanOffsets checks the prefix-sum and partition properties over
// random length vectors.
func TestPlanOffsets(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 200; iter++ {
		lengths := make([]uint64, 1+rng.Intn(16))
		for i := range lengths {
			if rng.Intn(4) > 0 {
				lengths[i] = uint64(rng.Intn(10_000))
			}
		}

		layout, err := Plan(lengths, 0)
		require.NoError(t, err)

		var want uint64
		covered := make([]int, layout.Total)
		for i, n := range lengths {
			require.Equal(t, int(want), layout.Displacements[i], "offset[%d]", i)
			require.LessOrEqual(t, uint64(layout.Displacements[i]+layout.Counts[i]), layout.Total)
			for b := layout.Displacements[i]; b < layout.Displacements[i]+layout.Counts[i]; b++ {
				covered[b]++
			}
			want += n
		}
		require.Equal(t, want, layout.Total)
		for b, c := range covered {
			require.Equal(t, 1, c, "byte %d covered %d times", b, c)
		}
		require.NoError(t, layout.Verify())
	}
}

func TestPlanOverflow(t *testing.T) {
	tests := []struct {
		name    string
		lengths []uint64
		limit   uint64
	}{
		{name: "sum above limit", lengths: []uint64{600, 500}, limit: 1000},
		{name: "single length above limit", lengths: []uint64{0, 1001}, limit: 1000},
		{name: "wraparound", lengths: []uint64{^uint64(0), 2}, limit: 1000},
		{name: "default limit", lengths: []uint64{DefaultTransferLimit, 1}, limit: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			layout, err := Plan(tt.lengths, tt.limit)
			require.ErrorIs(t, err, ErrOverflow)
			assert.Nil(t, layout)

			var oerr *OverflowError
			require.True(t, errors.As(err, &oerr))
			assert.Greater(t, oerr.Total, oerr.Limit)
		})
	}

	layout, err := Plan([]uint64{500, 500}, 1000)
	require.NoError(t, err, "a total equal to the limit fits")
	assert.Equal(t, uint64(1000), layout.Total)
}

func TestLayoutVerifyRejectsGaps(t *testing.T) {
	bad := &Layout{Counts: []int{10, 5}, Displacements: []int{0, 11}, Total: 16}
	assert.Error(t, bad.Verify())

	short := &Layout{Counts: []int{10}, Displacements: []int{0}, Total: 11}
	assert.Error(t, short.Verify())

	mismatched := &Layout{Counts: []int{1}, Displacements: nil}
	assert.Error(t, mismatched.Verify())
}

func makeVariants(rank, n int) []variant.Variant {
	out := make([]variant.Variant, n)
	for i := range out {
		out[i] = variant.Variant{
			Row:         uint64(rank),
			ColumnBegin: uint64(i * 10),
			ColumnEnd:   uint64(i*10 + rank),
			Fields: []variant.Field{
				{Name: "REF", Value: variant.StringValue("G")},
				{Name: "PL", Value: variant.IntsValue(make([]int64, i)...)},
			},
		}
	}
	return out
}

// TestDecodeRoundTrip concatenates per-rank encodings at their planned
// displacements and checks that decoding yields the rank-ordered concatenation.
func TestDecodeRoundTrip(t *testing.T) {
	counts := []int{3, 0, 5, 1, 0}
	var want []variant.Variant
	var bufs [][]byte
	var lengths []uint64
	for rank, n := range counts {
		vs := makeVariants(rank, n)
		want = append(want, vs...)
		enc, err := variant.Encode(vs, 16)
		require.NoError(t, err)
		bufs = append(bufs, enc.Bytes())
		lengths = append(lengths, uint64(enc.Len()))
	}

	layout, err := Plan(lengths, 0)
	require.NoError(t, err)
	agg := make([]byte, layout.Total)
	for i, b := range bufs {
		copy(agg[layout.Displacements[i]:], b)
	}

	got, err := Decode(agg, layout.Total, variant.Decode)
	require.NoError(t, err)
	assert.Len(t, got, 9)
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("decoded mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeEmpty(t *testing.T) {
	got, err := Decode(nil, 0, variant.Decode)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecodeCorruption(t *testing.T) {
	enc, err := variant.Encode(makeVariants(1, 2), 0)
	require.NoError(t, err)
	full := enc.Bytes()

	t.Run("trailing fragment", func(t *testing.T) {
		buf := append(append([]byte(nil), full...), 0x01, 0x02)
		_, err := Decode(buf, uint64(len(buf)), variant.Decode)
		require.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("total cuts a record", func(t *testing.T) {
		_, err := Decode(full, uint64(len(full)-3), variant.Decode)
		require.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("total beyond buffer", func(t *testing.T) {
		_, err := Decode(full, uint64(len(full)+1), variant.Decode)
		require.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("decoder overruns total", func(t *testing.T) {
		overrun := func(buf []byte, offset uint64) (variant.Variant, uint64, error) {
			return variant.Variant{}, offset + 1000, nil
		}
		_, err := Decode(full, uint64(len(full)), overrun)
		require.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("decoder stalls", func(t *testing.T) {
		stall := func(buf []byte, offset uint64) (variant.Variant, uint64, error) {
			return variant.Variant{}, offset, nil
		}
		_, err := Decode(full, uint64(len(full)), stall)
		require.ErrorIs(t, err, ErrCorrupt)
	})
}
