package query

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/gtgather/internal/config"
	"github.com/dreamware/gtgather/internal/storage"
	"github.com/dreamware/gtgather/internal/variant"
)

func testStore(t *testing.T) *storage.MemoryStore {
	t.Helper()
	store := storage.NewMemoryStore(storage.Schema{
		Array: "calls",
		Attributes: []storage.Attribute{
			{Name: "REF", Kind: variant.KindString},
			{Name: "ALT", Kind: variant.KindStrings},
			{Name: "PL", Kind: variant.KindInts},
		},
	})
	ctx := context.Background()
	for _, begin := range []uint64{10, 20, 30, 40} {
		for row := uint64(0); row < 2; row++ {
			require.NoError(t, store.Put(ctx, variant.Variant{
				Row:         row,
				ColumnBegin: begin,
				ColumnEnd:   begin + 1,
				Fields: []variant.Field{
					{Name: "REF", Value: variant.StringValue("A")},
					{Name: "ALT", Value: variant.StringsValue("T")},
					{Name: "PL", Value: variant.IntsValue(0, 10, 20)},
				},
			}))
		}
	}
	return store
}

func TestBookkeeping(t *testing.T) {
	p, err := NewProcessor(context.Background(), testStore(t), nil)
	require.NoError(t, err)
	assert.Equal(t, "calls", p.Schema().Array)

	ok := &config.QueryConfig{Attributes: []string{"REF", "PL"}, ColumnIntervals: []config.Interval{{Begin: 0, End: 5}}}
	assert.NoError(t, p.Bookkeeping(ok))

	unknown := &config.QueryConfig{Attributes: []string{"REF", "DP"}}
	err = p.Bookkeeping(unknown)
	assert.True(t, config.IsArgumentError(err), "unknown attribute: %v", err)

	reversed := &config.QueryConfig{Attributes: []string{"REF"}, ColumnIntervals: []config.Interval{{Begin: 9, End: 1}}}
	assert.True(t, config.IsArgumentError(p.Bookkeeping(reversed)))
}

func TestQueryInterval(t *testing.T) {
	ctx := context.Background()
	p, err := NewProcessor(ctx, testStore(t), nil)
	require.NoError(t, err)
	defer p.Close()

	cfg := &config.QueryConfig{
		Attributes: []string{"PL", "REF"},
		ColumnIntervals: []config.Interval{
			{Begin: 30, End: 100},
			{Begin: 0, End: 11},
			{Begin: 1000, End: 2000},
		},
	}
	require.NoError(t, p.Bookkeeping(cfg))

	var stats Stats
	var acc []variant.Variant
	for i := range cfg.ColumnIntervals {
		acc, err = p.QueryInterval(ctx, cfg, i, acc, &stats)
		require.NoError(t, err)
	}

	// Query order is preserved across intervals
	require.Len(t, acc, 6)
	begins := make([]uint64, len(acc))
	for i, v := range acc {
		begins[i] = v.ColumnBegin
		assert.Len(t, v.Fields, 2)
		assert.Equal(t, "PL", v.Fields[0].Name)
	}
	assert.Equal(t, []uint64{30, 30, 40, 40, 10, 10}, begins)
	assert.Equal(t, Stats{Intervals: 3, Records: 6, Cells: 12}, stats)

	_, err = p.QueryInterval(ctx, cfg, 3, acc, nil)
	assert.Error(t, err)
}

func TestDecodeMatchesEncoding(t *testing.T) {
	ctx := context.Background()
	p, err := NewProcessor(ctx, testStore(t), nil)
	require.NoError(t, err)

	cfg := &config.QueryConfig{Attributes: []string{"ALT"}, ColumnIntervals: []config.Interval{{Begin: 0, End: 100}}}
	found, err := p.QueryInterval(ctx, cfg, 0, nil, nil)
	require.NoError(t, err)

	buf, err := variant.Encode(found, 0)
	require.NoError(t, err)

	var offset uint64
	for i := range found {
		var v variant.Variant
		v, offset, err = p.Decode(buf.Bytes(), offset)
		require.NoError(t, err)
		assert.Equal(t, found[i].ColumnBegin, v.ColumnBegin)
		assert.Equal(t, []string{"T"}, v.Fields[0].Value.Strs)
	}
	assert.Equal(t, uint64(buf.Len()), offset)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	_, err := Open(ctx, filepath.Join(dir, "nope"), "calls", nil)
	assert.True(t, config.IsArgumentError(err))

	_, err = Open(ctx, dir, "calls", nil)
	assert.True(t, config.IsArgumentError(err))

	store, err := storage.Create(ctx, dir, storage.Schema{
		Array:      "calls",
		Attributes: []storage.Attribute{{Name: "REF", Kind: variant.KindString}},
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	p, err := Open(ctx, dir, "calls", nil)
	require.NoError(t, err)
	assert.Equal(t, "REF", p.Schema().Attributes[0].Name)
	require.NoError(t, p.Close())
}
