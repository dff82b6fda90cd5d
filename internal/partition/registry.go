// Package partition spreads a shared list of column intervals across the
// participants of a group so that each rank queries a different subset.
//
// Every participant computes its share from the same list and group size,
// so no coordination is needed: interval i goes to rank i % size.
package partition

import (
	"errors"
	"fmt"

	"github.com/dreamware/gtgather/internal/config"
)

// Owner returns the rank that queries the interval at index in a group of
// size participants.
func Owner(index, size int) int {
	return index % size
}

// Split returns the intervals of the shared list that rank queries, in list
// order. Ranks beyond the list length get an empty share.
func Split(intervals []config.Interval, size, rank int) ([]config.Interval, error) {
	if size <= 0 {
		return nil, errors.New("cannot partition across an empty group")
	}
	if rank < 0 || rank >= size {
		return nil, fmt.Errorf("invalid rank %d, must be in range [0, %d)", rank, size)
	}

	var share []config.Interval
	for i, iv := range intervals {
		if Owner(i, size) == rank {
			share = append(share, iv)
		}
	}
	return share, nil
}
