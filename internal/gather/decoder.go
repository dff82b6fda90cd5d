package gather

import (
	"errors"
	"fmt"

	"github.com/dreamware/gtgather/internal/variant"
)

// ErrCorrupt reports that the aggregated buffer could not be consumed as an
// exact sequence of records: sender and receiver disagree on framing.
var ErrCorrupt = errors.New("gather: corrupt aggregated buffer")

// DecodeFunc parses one record at offset and returns the offset just past it.
type DecodeFunc func(buf []byte, offset uint64) (variant.Variant, uint64, error)

// Decode walks buf[:total] from offset 0, decoding one record at a time until
// the cursor lands exactly on total. Records are returned in buffer order.
func Decode(buf []byte, total uint64, decode DecodeFunc) ([]variant.Variant, error) {
	if total > uint64(len(buf)) {
		return nil, fmt.Errorf("%w: total %d exceeds buffer of %d bytes", ErrCorrupt, total, len(buf))
	}
	bounded := buf[:total]

	var out []variant.Variant
	var offset uint64
	for offset < total {
		v, next, err := decode(bounded, offset)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d at offset %d of %d: %v", ErrCorrupt, len(out), offset, total, err)
		}
		if next <= offset || next > total {
			return nil, fmt.Errorf("%w: record %d at offset %d advanced cursor to %d of %d", ErrCorrupt, len(out), offset, next, total)
		}
		out = append(out, v)
		offset = next
	}
	return out, nil
}
