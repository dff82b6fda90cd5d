package collective

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// MaxCount is the per-call numeric limit of the transport. Every count,
// displacement and the end of every placed contribution must fit in it.
const MaxCount = math.MaxInt32

// Op names a collective operation. Every participant must issue the same
// sequence of ops.
type Op string

const (
	OpScalar  Op = "scalar"
	OpVector  Op = "vector"
	OpVarying Op = "varying"
)

// ErrAborted is returned by every pending or later operation once any
// participant has aborted the group.
var ErrAborted = errors.New("collective: group aborted")

// Error reports a failure of the communication substrate or a protocol
// violation (mismatched ops, bad counts) during one collective operation.
type Error struct {
	Err  error
	Op   Op
	Rank int
}

func (e *Error) Error() string {
	return fmt.Sprintf("collective %s at rank %d: %v", e.Op, e.Rank, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Channel is the group-wide communication capability used by the
// orchestrator. Every call is a blocking barrier: all participants invoke
// the same operation in the same order. Results are only returned at rank 0.
type Channel interface {
	Rank() int
	Size() int

	// GatherScalar collects one value per participant at rank 0, indexed by rank.
	GatherScalar(ctx context.Context, value uint64) ([]uint64, error)

	// GatherVector collects a fixed-size numeric vector per participant at rank 0.
	GatherVector(ctx context.Context, values []float64) ([][]float64, error)

	// GatherVarying places each participant's buffer at displacements[rank] of
	// the buffer returned at rank 0. Only rank 0 supplies recvCounts and
	// displacements; workers pass nil.
	GatherVarying(ctx context.Context, buf []byte, recvCounts, displacements []int) ([]byte, error)

	// Abort terminates the group. It never blocks on other participants.
	Abort(ctx context.Context, reason error)
}

// Transport moves raw payloads to rank 0. It is the piece that differs
// between an in-process group and a networked one.
type Transport interface {
	Rank() int
	Size() int

	// Gather delivers payload to rank 0. Rank 0 receives every payload
	// indexed by rank; other ranks receive nil.
	Gather(ctx context.Context, op Op, payload []byte) ([][]byte, error)

	Abort(ctx context.Context, reason error)
}

// Comm implements Channel on top of a Transport.
type Comm struct {
	t Transport
}

var _ Channel = (*Comm)(nil)

// NewComm wraps a transport.
func NewComm(t Transport) *Comm {
	return &Comm{t: t}
}

func (c *Comm) Rank() int { return c.t.Rank() }
func (c *Comm) Size() int { return c.t.Size() }

func (c *Comm) Abort(ctx context.Context, reason error) { c.t.Abort(ctx, reason) }

func (c *Comm) fail(op Op, format string, args ...any) error {
	return &Error{Op: op, Rank: c.t.Rank(), Err: fmt.Errorf(format, args...)}
}

func (c *Comm) GatherScalar(ctx context.Context, value uint64) ([]uint64, error) {
	parts, err := c.t.Gather(ctx, OpScalar, binary.BigEndian.AppendUint64(nil, value))
	if err != nil || c.t.Rank() != 0 {
		return nil, err
	}
	out := make([]uint64, len(parts))
	for i, p := range parts {
		if len(p) != 8 {
			return nil, c.fail(OpScalar, "rank %d sent %d bytes, want 8", i, len(p))
		}
		out[i] = binary.BigEndian.Uint64(p)
	}
	return out, nil
}

func (c *Comm) GatherVector(ctx context.Context, values []float64) ([][]float64, error) {
	payload := make([]byte, 0, 8*len(values))
	for _, v := range values {
		payload = binary.BigEndian.AppendUint64(payload, math.Float64bits(v))
	}
	parts, err := c.t.Gather(ctx, OpVector, payload)
	if err != nil || c.t.Rank() != 0 {
		return nil, err
	}
	out := make([][]float64, len(parts))
	for i, p := range parts {
		if len(p) != len(payload) {
			return nil, c.fail(OpVector, "rank %d sent %d values, want %d", i, len(p)/8, len(values))
		}
		vec := make([]float64, len(values))
		for j := range vec {
			vec[j] = math.Float64frombits(binary.BigEndian.Uint64(p[8*j:]))
		}
		out[i] = vec
	}
	return out, nil
}

func (c *Comm) GatherVarying(ctx context.Context, buf []byte, recvCounts, displacements []int) ([]byte, error) {
	if len(buf) > MaxCount {
		return nil, c.fail(OpVarying, "send count %d exceeds %d", len(buf), MaxCount)
	}
	total := 0
	if c.t.Rank() == 0 {
		var err error
		if total, err = checkPlacement(c.t.Size(), recvCounts, displacements); err != nil {
			return nil, &Error{Op: OpVarying, Rank: 0, Err: err}
		}
		if len(buf) != recvCounts[0] {
			return nil, c.fail(OpVarying, "rank 0 sends %d bytes, recvCounts[0] is %d", len(buf), recvCounts[0])
		}
	}

	parts, err := c.t.Gather(ctx, OpVarying, buf)
	if err != nil || c.t.Rank() != 0 {
		return nil, err
	}

	out := make([]byte, total)
	for i, p := range parts {
		if len(p) != recvCounts[i] {
			return nil, c.fail(OpVarying, "rank %d sent %d bytes, recvCounts is %d", i, len(p), recvCounts[i])
		}
		copy(out[displacements[i]:], p)
	}
	return out, nil
}

// checkPlacement validates the receive layout and returns the size of the
// buffer it describes.
func checkPlacement(size int, counts, displs []int) (int, error) {
	if len(counts) != size || len(displs) != size {
		return 0, fmt.Errorf("layout has %d counts and %d displacements for %d ranks", len(counts), len(displs), size)
	}
	total := 0
	for i := range counts {
		if counts[i] < 0 || displs[i] < 0 {
			return 0, fmt.Errorf("rank %d: negative count %d or displacement %d", i, counts[i], displs[i])
		}
		end := int64(displs[i]) + int64(counts[i])
		if end > MaxCount {
			return 0, fmt.Errorf("rank %d: displacement %d + count %d exceeds %d", i, displs[i], counts[i], MaxCount)
		}
		if int(end) > total {
			total = int(end)
		}
	}
	return total, nil
}

func abortedErr(reason string) error {
	if reason == "" {
		return ErrAborted
	}
	return fmt.Errorf("%w: %s", ErrAborted, reason)
}
