package collective

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dreamware/gtgather/internal/cluster"
	"github.com/dreamware/gtgather/internal/logger"
)

// HTTPCoordinator is the rank 0 side of the networked transport. Workers
// post one contribution per round; a round only accepts bytes once rank 0
// has entered the matching operation, so nothing moves ahead of planning.
type HTTPCoordinator struct {
	logger    logger.Logger
	rounds    map[uint64]*round
	sessions  map[int]string
	aborted   chan struct{}
	reason    string
	size      int
	seq       uint64
	completed uint64
	mu        sync.Mutex
	once      sync.Once
}

type round struct {
	open    chan struct{}
	done    chan struct{}
	op      Op
	parts   [][]byte
	have    []bool
	pending int
}

var _ Transport = (*HTTPCoordinator)(nil)

// NewHTTPCoordinator creates the coordinator side of a group of size participants.
func NewHTTPCoordinator(size int, log logger.Logger) *HTTPCoordinator {
	return &HTTPCoordinator{
		logger:   log,
		size:     size,
		rounds:   make(map[uint64]*round),
		sessions: make(map[int]string),
		aborted:  make(chan struct{}),
	}
}

// Register adds the collective endpoints and /health to mux.
func (c *HTTPCoordinator) Register(mux *http.ServeMux) {
	mux.HandleFunc(cluster.PathHealth, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc(cluster.PathAbort, c.handleAbort)
	mux.HandleFunc(cluster.PathCollective, c.handleContribution)
}

func (c *HTTPCoordinator) Rank() int { return 0 }
func (c *HTTPCoordinator) Size() int { return c.size }

func (c *HTTPCoordinator) Abort(_ context.Context, reason error) {
	msg := "aborted by coordinator"
	if reason != nil {
		msg = reason.Error()
	}
	c.abort(msg)
}

func (c *HTTPCoordinator) abort(reason string) {
	c.once.Do(func() {
		c.reason = reason
		close(c.aborted)
		c.logger.Error("group aborted", zap.String("reason", reason))
	})
}

func (c *HTTPCoordinator) isAborted() bool {
	select {
	case <-c.aborted:
		return true
	default:
		return false
	}
}

// roundLocked returns the round for seq, creating it on first use by either
// side. c.mu must be held.
func (c *HTTPCoordinator) roundLocked(seq uint64, op Op) (*round, error) {
	if seq <= c.completed {
		return nil, fmt.Errorf("round %d already completed", seq)
	}
	rd, ok := c.rounds[seq]
	if !ok {
		rd = &round{
			op:      op,
			open:    make(chan struct{}),
			done:    make(chan struct{}),
			parts:   make([][]byte, c.size),
			have:    make([]bool, c.size),
			pending: c.size - 1,
		}
		if rd.pending == 0 {
			close(rd.done)
		}
		c.rounds[seq] = rd
		return rd, nil
	}
	if rd.op != op {
		return nil, fmt.Errorf("round %d is %s, got %s", seq, rd.op, op)
	}
	return rd, nil
}

func (c *HTTPCoordinator) Gather(ctx context.Context, op Op, payload []byte) ([][]byte, error) {
	if c.isAborted() {
		return nil, abortedErr(c.reason)
	}

	c.mu.Lock()
	c.seq++
	seq := c.seq
	rd, err := c.roundLocked(seq, op)
	if err != nil {
		c.mu.Unlock()
		return nil, &Error{Op: op, Rank: 0, Err: err}
	}
	rd.parts[0] = payload
	rd.have[0] = true
	close(rd.open)
	c.mu.Unlock()

	select {
	case <-rd.done:
	case <-c.aborted:
		return nil, abortedErr(c.reason)
	case <-ctx.Done():
		return nil, &Error{Op: op, Rank: 0, Err: ctx.Err()}
	}

	c.mu.Lock()
	delete(c.rounds, seq)
	c.completed = seq
	c.mu.Unlock()
	return rd.parts, nil
}

func (c *HTTPCoordinator) handleContribution(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	seq, err := strconv.ParseUint(strings.TrimPrefix(r.URL.Path, cluster.PathCollective), 10, 64)
	if err != nil || seq == 0 {
		http.Error(w, "invalid round", http.StatusBadRequest)
		return
	}
	rank, err := strconv.Atoi(r.Header.Get(cluster.HeaderRank))
	if err != nil || rank < 1 || rank >= c.size {
		http.Error(w, "invalid rank", http.StatusBadRequest)
		return
	}
	op := Op(r.Header.Get(cluster.HeaderOp))
	if op != OpScalar && op != OpVector && op != OpVarying {
		http.Error(w, "invalid op", http.StatusBadRequest)
		return
	}
	session := r.Header.Get(cluster.HeaderSession)

	c.mu.Lock()
	if pinned, ok := c.sessions[rank]; ok && pinned != session {
		c.mu.Unlock()
		http.Error(w, fmt.Sprintf("rank %d already held by another session", rank), http.StatusConflict)
		return
	}
	c.sessions[rank] = session
	rd, err := c.roundLocked(seq, op)
	c.mu.Unlock()
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	select {
	case <-rd.open:
	case <-c.aborted:
	case <-r.Context().Done():
		return
	}
	if c.isAborted() {
		http.Error(w, c.reason, http.StatusGone)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxCount))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if rd.have[rank] {
		http.Error(w, fmt.Sprintf("duplicate contribution from rank %d", rank), http.StatusConflict)
		return
	}
	rd.parts[rank] = body
	rd.have[rank] = true
	rd.pending--
	if rd.pending == 0 {
		close(rd.done)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *HTTPCoordinator) handleAbort(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cluster.AbortRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	c.abort(fmt.Sprintf("rank %d: %s", req.Rank, req.Reason))
	w.WriteHeader(http.StatusNoContent)
}

// HTTPWorker is the transport of a rank > 0 participant.
type HTTPWorker struct {
	logger  logger.Logger
	client  *http.Client
	base    string
	session string
	rank    int
	size    int
	seq     uint64
}

var _ Transport = (*HTTPWorker)(nil)

// NewHTTPWorker creates a worker transport posting to the coordinator at base.
// timeout bounds each round trip, including waiting for rank 0 to open it.
func NewHTTPWorker(base string, rank, size int, timeout time.Duration, log logger.Logger) *HTTPWorker {
	return &HTTPWorker{
		logger:  log,
		client:  cluster.NewHTTPClient(timeout),
		base:    strings.TrimRight(base, "/"),
		session: uuid.NewString(),
		rank:    rank,
		size:    size,
	}
}

func (w *HTTPWorker) Rank() int { return w.rank }
func (w *HTTPWorker) Size() int { return w.size }

// WaitReady polls the coordinator's health endpoint with exponential backoff
// until it answers or maxElapsed passes.
func (w *HTTPWorker) WaitReady(ctx context.Context, maxElapsed time.Duration) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxElapsedTime = maxElapsed
	attempt := 1
	err := backoff.Retry(func() error {
		err := cluster.CheckHealth(ctx, w.client, w.base)
		if err != nil {
			w.logger.Info("waiting for the coordinator", zap.Int("attempt", attempt), zap.Error(err))
			attempt++
		}
		return err
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return &Error{Op: "connect", Rank: w.rank, Err: err}
	}
	return nil
}

func (w *HTTPWorker) Gather(ctx context.Context, op Op, payload []byte) ([][]byte, error) {
	w.seq++
	header := http.Header{}
	header.Set(cluster.HeaderRank, strconv.Itoa(w.rank))
	header.Set(cluster.HeaderOp, string(op))
	header.Set(cluster.HeaderSession, w.session)

	status, msg, err := cluster.PostBytes(ctx, w.client, cluster.ContributionURL(w.base, w.seq), header, payload)
	if err != nil {
		return nil, &Error{Op: op, Rank: w.rank, Err: err}
	}
	switch status {
	case http.StatusNoContent, http.StatusOK:
		return nil, nil
	case http.StatusGone:
		return nil, abortedErr(string(msg))
	default:
		return nil, &Error{Op: op, Rank: w.rank, Err: fmt.Errorf("coordinator answered %d: %s", status, msg)}
	}
}

// Abort tells the coordinator to abort the group. Delivery is best effort:
// a worker that cannot reach rank 0 still fails locally.
func (w *HTTPWorker) Abort(ctx context.Context, reason error) {
	msg := "aborted by worker"
	if reason != nil {
		msg = reason.Error()
	}
	body, err := json.Marshal(cluster.AbortRequest{Rank: w.rank, Reason: msg})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.base+cluster.PathAbort, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Warn("abort not delivered", zap.Error(err))
		return
	}
	resp.Body.Close()
}
