package collective

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
)

// runGroup runs fn once per channel concurrently and returns the per-rank errors.
func runGroup(chans []Channel, fn func(ch Channel) error) []error {
	errs := make([]error, len(chans))
	var g errgroup.Group
	for i, ch := range chans {
		g.Go(func() error {
			errs[i] = fn(ch)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func TestLocalGatherScalarRankOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	group := NewLocalGroup(4)
	var got []uint64
	errs := runGroup(group.Channels(), func(ch Channel) error {
		// higher ranks arrive first
		time.Sleep(time.Duration(ch.Size()-ch.Rank()) * 5 * time.Millisecond)
		res, err := ch.GatherScalar(context.Background(), uint64(100*ch.Rank()+7))
		if ch.Rank() == 0 {
			got = res
		} else if res != nil {
			return fmt.Errorf("worker %d received a result", ch.Rank())
		}
		return err
	})
	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, []uint64{7, 107, 207, 307}, got)
}

func TestLocalGatherVaryingPlacement(t *testing.T) {
	defer goleak.VerifyNone(t)

	contributions := [][]byte{[]byte("aa"), []byte("bbbb"), nil}
	counts := []int{2, 4, 0}
	displs := []int{0, 2, 6}

	group := NewLocalGroup(3)
	var got []byte
	errs := runGroup(group.Channels(), func(ch Channel) error {
		if ch.Rank() != 0 {
			_, err := ch.GatherVarying(context.Background(), contributions[ch.Rank()], nil, nil)
			return err
		}
		var err error
		got, err = ch.GatherVarying(context.Background(), contributions[0], counts, displs)
		return err
	})
	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, []byte("aabbbb"), got)
}

func TestLocalGatherVector(t *testing.T) {
	defer goleak.VerifyNone(t)

	group := NewLocalGroup(2)
	var got [][]float64
	errs := runGroup(group.Channels(), func(ch Channel) error {
		res, err := ch.GatherVector(context.Background(), []float64{float64(ch.Rank()), 0.5})
		if ch.Rank() == 0 {
			got = res
		}
		return err
	})
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, [][]float64{{0, 0.5}, {1, 0.5}}, got)
}

func TestLocalGatherVectorLengthMismatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	group := NewLocalGroup(2)
	errs := runGroup(group.Channels(), func(ch Channel) error {
		values := []float64{1}
		if ch.Rank() == 1 {
			values = []float64{1, 2}
		}
		_, err := ch.GatherVector(context.Background(), values)
		return err
	})
	var cerr *Error
	require.ErrorAs(t, errs[0], &cerr)
	assert.Equal(t, OpVector, cerr.Op)
	require.NoError(t, errs[1])
}

func TestLocalMismatchedOps(t *testing.T) {
	defer goleak.VerifyNone(t)

	group := NewLocalGroup(2)
	errs := runGroup(group.Channels(), func(ch Channel) error {
		if ch.Rank() == 0 {
			_, err := ch.GatherScalar(context.Background(), 1)
			if err != nil {
				ch.Abort(context.Background(), err)
			}
			return err
		}
		_, err := ch.GatherVarying(context.Background(), []byte("x"), nil, nil)
		return err
	})
	var cerr *Error
	require.ErrorAs(t, errs[0], &cerr)
	assert.Contains(t, cerr.Error(), "rank 1 issued varying")
}

func TestLocalAbortUnblocksEveryone(t *testing.T) {
	defer goleak.VerifyNone(t)

	group := NewLocalGroup(3)
	reason := errors.New("overflow")
	errs := runGroup(group.Channels(), func(ch Channel) error {
		if ch.Rank() == 0 {
			ch.Abort(context.Background(), reason)
			return nil
		}
		_, err := ch.GatherVarying(context.Background(), []byte("payload"), nil, nil)
		return err
	})
	require.NoError(t, errs[0])
	for _, err := range errs[1:] {
		require.ErrorIs(t, err, ErrAborted)
		assert.Contains(t, err.Error(), "overflow")
	}

	aborted, why := group.Aborted()
	assert.True(t, aborted)
	assert.Equal(t, "overflow", why)

	// operations after an abort fail immediately
	_, err := group.Channels()[0].GatherScalar(context.Background(), 0)
	require.ErrorIs(t, err, ErrAborted)
}

func TestLocalContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	group := NewLocalGroup(2)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := group.Channels()[0].GatherScalar(ctx, 1)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSingleParticipantGroup(t *testing.T) {
	ch := NewLocalGroup(1).Channels()[0]
	lengths, err := ch.GatherScalar(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, []uint64{42}, lengths)

	out, err := ch.GatherVarying(context.Background(), []byte("abc"), []int{3}, []int{0})
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), out)
}

func TestGatherVaryingLayoutValidation(t *testing.T) {
	tests := []struct {
		name   string
		buf    []byte
		counts []int
		displs []int
		want   string
	}{
		{name: "wrong table size", buf: nil, counts: []int{0}, displs: []int{0, 0}, want: "layout has"},
		{name: "negative count", buf: nil, counts: []int{0, -1}, displs: []int{0, 0}, want: "negative"},
		{name: "beyond limit", buf: nil, counts: []int{0, 10}, displs: []int{0, MaxCount - 5}, want: "exceeds"},
		{name: "own count mismatch", buf: []byte("xy"), counts: []int{3, 0}, displs: []int{0, 3}, want: "recvCounts[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			group := NewLocalGroup(2)
			ch := group.Channels()[0]
			_, err := ch.GatherVarying(context.Background(), tt.buf, tt.counts, tt.displs)
			var cerr *Error
			require.ErrorAs(t, err, &cerr)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestGatherVaryingCountMismatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	group := NewLocalGroup(2)
	errs := runGroup(group.Channels(), func(ch Channel) error {
		if ch.Rank() == 0 {
			_, err := ch.GatherVarying(context.Background(), nil, []int{0, 5}, []int{0, 0})
			return err
		}
		_, err := ch.GatherVarying(context.Background(), []byte("abc"), nil, nil)
		return err
	})
	var cerr *Error
	require.ErrorAs(t, errs[0], &cerr)
	assert.Contains(t, cerr.Error(), "rank 1 sent 3 bytes")
}
