package gather

import (
	"errors"
	"fmt"

	"github.com/dreamware/gtgather/internal/collective"
)

// DefaultTransferLimit is the largest aggregated payload a single gather may
// carry: the transport's 32-bit count ceiling.
const DefaultTransferLimit uint64 = collective.MaxCount

// ErrOverflow reports that the aggregated payload would not fit in one transfer.
var ErrOverflow = errors.New("gather: serialized size beyond transfer limit")

// OverflowError carries the sizes behind an ErrOverflow.
type OverflowError struct {
	Total uint64
	Limit uint64
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("%v: %d bytes, limit %d", ErrOverflow, e.Total, e.Limit)
}

func (e *OverflowError) Unwrap() error { return ErrOverflow }

// Layout describes where each rank's contribution lands in the aggregated
// buffer. Counts and Displacements are indexed by rank.
type Layout struct {
	Counts        []int
	Displacements []int
	Total         uint64
}

// Plan computes the receive layout for the given per-rank lengths. It fails
// with an *OverflowError when the total exceeds limit; a zero limit selects
// DefaultTransferLimit.
func Plan(lengths []uint64, limit uint64) (*Layout, error) {
	if limit == 0 || limit > DefaultTransferLimit {
		limit = DefaultTransferLimit
	}

	var total uint64
	for _, n := range lengths {
		// each length is at most limit once checked, so the sum cannot wrap
		if n > limit || total+n > limit {
			return nil, &OverflowError{Total: sum(lengths), Limit: limit}
		}
		total += n
	}

	l := &Layout{
		Counts:        make([]int, len(lengths)),
		Displacements: make([]int, len(lengths)),
		Total:         total,
	}
	var displ uint64
	for i, n := range lengths {
		l.Counts[i] = int(n)
		l.Displacements[i] = int(displ)
		displ += n
	}
	return l, nil
}

// Verify checks that the layout partitions [0, Total) in rank order with no
// gaps or overlaps.
func (l *Layout) Verify() error {
	if len(l.Counts) != len(l.Displacements) {
		return fmt.Errorf("layout has %d counts and %d displacements", len(l.Counts), len(l.Displacements))
	}
	var next uint64
	for i := range l.Counts {
		if l.Counts[i] < 0 || uint64(l.Displacements[i]) != next {
			return fmt.Errorf("rank %d placed at %d, expected %d", i, l.Displacements[i], next)
		}
		next += uint64(l.Counts[i])
	}
	if next != l.Total {
		return fmt.Errorf("layout covers %d bytes, total is %d", next, l.Total)
	}
	return nil
}

// sum adds lengths, saturating instead of wrapping, for error reporting.
func sum(lengths []uint64) uint64 {
	var s uint64
	for _, n := range lengths {
		if s+n < s {
			return ^uint64(0)
		}
		s += n
	}
	return s
}
