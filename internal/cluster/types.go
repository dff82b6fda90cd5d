package cluster

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Headers carried by every contribution a worker posts to the coordinator.
const (
	HeaderRank    = "X-Gather-Rank"
	HeaderOp      = "X-Gather-Op"
	HeaderSession = "X-Gather-Session"
)

// Paths served by the coordinator.
const (
	PathHealth     = "/health"
	PathMetrics    = "/metrics"
	PathCollective = "/collective/"
	PathAbort      = "/collective/abort"
)

// Member identifies one participant of the group.
type Member struct {
	Addr string `json:"addr"`
	Rank int    `json:"rank"`
}

// AbortRequest is the body of POST /collective/abort.
type AbortRequest struct {
	Reason string `json:"reason"`
	Rank   int    `json:"rank"`
}

// NewHTTPClient returns a client whose timeout bounds one collective round
// trip, including the time the request waits for the coordinator to open it.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// ContributionURL builds the URL a worker posts round seq to.
func ContributionURL(base string, seq uint64) string {
	return base + PathCollective + strconv.FormatUint(seq, 10)
}

// PostBytes posts a binary body and returns the status code together with the
// (small) response body. Transport failures are returned as errors; non-2xx
// statuses are not, so callers can tell an aborted group from a broken link.
func PostBytes(ctx context.Context, client *http.Client, url string, header http.Header, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	msg, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, bytes.TrimSpace(msg), nil
}

// CheckHealth issues GET {base}/health and fails unless it returns 200.
func CheckHealth(ctx context.Context, client *http.Client, base string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+PathHealth, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %s: %d", base+PathHealth, resp.StatusCode)
	}
	return nil
}
