package collective

import (
	"context"
	"fmt"
	"sync"
)

// LocalGroup simulates a group of participants inside one process. Each
// worker rank owns an unbuffered inbox that rank 0 drains in rank order, so
// a worker's send completes only when the coordinator has taken it.
type LocalGroup struct {
	aborted chan struct{}
	reason  string
	inbox   []chan envelope
	size    int
	once    sync.Once
}

type envelope struct {
	op      Op
	payload []byte
}

// NewLocalGroup creates a group of size participants.
func NewLocalGroup(size int) *LocalGroup {
	if size < 1 {
		size = 1
	}
	g := &LocalGroup{
		size:    size,
		inbox:   make([]chan envelope, size),
		aborted: make(chan struct{}),
	}
	for i := range g.inbox {
		g.inbox[i] = make(chan envelope)
	}
	return g
}

// Size returns the number of participants.
func (g *LocalGroup) Size() int { return g.size }

// Channels returns one Channel per rank.
func (g *LocalGroup) Channels() []Channel {
	out := make([]Channel, g.size)
	for i := range out {
		out[i] = NewComm(g.Transport(i))
	}
	return out
}

// Transport returns the transport of the given rank.
func (g *LocalGroup) Transport(rank int) Transport {
	return &localTransport{group: g, rank: rank}
}

// Aborted reports whether the group was aborted, and why.
func (g *LocalGroup) Aborted() (bool, string) {
	select {
	case <-g.aborted:
		return true, g.reason
	default:
		return false, ""
	}
}

func (g *LocalGroup) abort(reason error) {
	g.once.Do(func() {
		if reason != nil {
			g.reason = reason.Error()
		}
		close(g.aborted)
	})
}

type localTransport struct {
	group *LocalGroup
	rank  int
}

func (t *localTransport) Rank() int { return t.rank }
func (t *localTransport) Size() int { return t.group.size }

func (t *localTransport) Abort(_ context.Context, reason error) { t.group.abort(reason) }

func (t *localTransport) Gather(ctx context.Context, op Op, payload []byte) ([][]byte, error) {
	g := t.group
	if ok, reason := g.Aborted(); ok {
		return nil, abortedErr(reason)
	}

	if t.rank != 0 {
		env := envelope{op: op, payload: append([]byte(nil), payload...)}
		select {
		case g.inbox[t.rank] <- env:
			return nil, nil
		case <-g.aborted:
			return nil, abortedErr(g.reason)
		case <-ctx.Done():
			return nil, &Error{Op: op, Rank: t.rank, Err: ctx.Err()}
		}
	}

	parts := make([][]byte, g.size)
	parts[0] = payload
	for r := 1; r < g.size; r++ {
		select {
		case env := <-g.inbox[r]:
			if env.op != op {
				return nil, &Error{Op: op, Rank: 0, Err: fmt.Errorf("rank %d issued %s", r, env.op)}
			}
			parts[r] = env.payload
		case <-g.aborted:
			return nil, abortedErr(g.reason)
		case <-ctx.Done():
			return nil, &Error{Op: op, Rank: 0, Err: ctx.Err()}
		}
	}
	return parts, nil
}
