package cluster

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/gtgather/internal/logger"
)

// Health states of a monitored peer.
const (
	StatusUnknown   = "unknown"
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// PeerHealth tracks the health status of one peer of the group.
// Thread-safe: Protected by HealthMonitor's mutex when accessed.
type PeerHealth struct {
	LastCheck        time.Time // Timestamp of the last health check attempt
	LastHealthy      time.Time // Timestamp of the last successful health check
	Status           string    // StatusUnknown, StatusHealthy or StatusUnhealthy
	Rank             int       // Rank of the peer
	ConsecutiveFails int       // Number of consecutive failed health checks
}

// HealthMonitor periodically checks the /health endpoint of a set of peers.
// A worker uses it to watch rank 0: a blocked collective round has no other
// way of noticing that the coordinator process is gone.
// Thread-safe: All methods are safe for concurrent access.
type HealthMonitor struct {
	peers       map[int]*PeerHealth                          // Current health status per rank
	httpClient  *http.Client                                 // HTTP client for health checks
	checkFunc   func(ctx context.Context, addr string) error // Function to perform health check
	onUnhealthy func(peer Member)                            // Callback when a peer becomes unhealthy
	logger      logger.Logger
	ctx         context.Context                              // Context for cancellation
	cancel      context.CancelFunc                           // Cancel function for shutdown
	interval    time.Duration                                // How often to check peer health
	mu          sync.RWMutex                                 // Protects peers map
	wg          sync.WaitGroup                               // Wait group for graceful shutdown
	maxFailures int                                          // Failures before marking unhealthy
}

// NewHealthMonitor creates a health monitor that checks every interval and
// marks a peer unhealthy after 3 consecutive failures.
//
// Example:
//
//	monitor := NewHealthMonitor(2*time.Second, log)
//	monitor.SetOnUnhealthy(func(peer Member) { cancel() })
//	go monitor.Start(ctx, func() []Member { return []Member{{Rank: 0, Addr: base}} })
//	defer monitor.Stop()
func NewHealthMonitor(interval time.Duration, log logger.Logger) *HealthMonitor {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())

	h := &HealthMonitor{
		interval:    interval,
		maxFailures: 3,
		peers:       make(map[int]*PeerHealth),
		httpClient:  NewHTTPClient(2 * time.Second),
		logger:      log,
		ctx:         ctx,
		cancel:      cancel,
	}
	h.checkFunc = func(ctx context.Context, addr string) error {
		return CheckHealth(ctx, h.httpClient, addr)
	}
	return h
}

// SetOnUnhealthy sets the callback invoked once when a peer turns unhealthy.
func (h *HealthMonitor) SetOnUnhealthy(callback func(peer Member)) {
	h.onUnhealthy = callback
}

// SetCheckFunction overrides the HTTP health check.
func (h *HealthMonitor) SetCheckFunction(checkFunc func(ctx context.Context, addr string) error) {
	h.checkFunc = checkFunc
}

// Start checks the peers returned by peerProvider immediately and then on
// every tick. It blocks until ctx is canceled or Stop is called.
func (h *HealthMonitor) Start(ctx context.Context, peerProvider func() []Member) {
	h.wg.Add(1)
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.logger.Debug("health monitor started", zap.Duration("interval", h.interval))
	h.checkAll(ctx, peerProvider())

	for {
		select {
		case <-ticker.C:
			h.checkAll(ctx, peerProvider())
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return
		}
	}
}

// Stop cancels the monitoring loop and waits for it to return.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
}

// checkAll checks every peer and forgets peers no longer provided.
func (h *HealthMonitor) checkAll(ctx context.Context, peers []Member) {
	current := make(map[int]bool, len(peers))
	for _, peer := range peers {
		current[peer.Rank] = true
		h.checkPeer(ctx, peer)
	}

	h.mu.Lock()
	for rank := range h.peers {
		if !current[rank] {
			delete(h.peers, rank)
		}
	}
	h.mu.Unlock()
}

func (h *HealthMonitor) checkPeer(ctx context.Context, peer Member) {
	h.mu.Lock()
	health, exists := h.peers[peer.Rank]
	if !exists {
		now := time.Now()
		health = &PeerHealth{
			Rank:        peer.Rank,
			Status:      StatusUnknown,
			LastCheck:   now,
			LastHealthy: now,
		}
		h.peers[peer.Rank] = health
	}
	h.mu.Unlock()

	err := h.checkFunc(ctx, peer.Addr)
	if ctx.Err() != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	health.LastCheck = time.Now()
	if err == nil {
		if health.Status == StatusUnhealthy {
			h.logger.Info("peer recovered", zap.Int("peer", peer.Rank))
		}
		health.Status = StatusHealthy
		health.ConsecutiveFails = 0
		health.LastHealthy = health.LastCheck
		return
	}

	health.ConsecutiveFails++
	h.logger.Warn("health check failed",
		zap.Int("peer", peer.Rank),
		zap.Int("attempt", health.ConsecutiveFails),
		zap.Int("max_failures", h.maxFailures),
		zap.Error(err))

	if health.ConsecutiveFails >= h.maxFailures && health.Status != StatusUnhealthy {
		health.Status = StatusUnhealthy
		h.logger.Error("peer marked unhealthy", zap.Int("peer", peer.Rank), zap.String("addr", peer.Addr))
		if h.onUnhealthy != nil {
			// Call callback without holding the lock
			go h.onUnhealthy(peer)
		}
	}
}

// Health returns a copy of the health record of rank.
func (h *HealthMonitor) Health(rank int) (PeerHealth, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, ok := h.peers[rank]
	if !ok {
		return PeerHealth{}, false
	}
	return *health, true
}
