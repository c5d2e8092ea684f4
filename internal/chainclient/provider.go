package chainclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// rpcEndpoint is one entry of a chain's ordered fallback provider list
// (§4.1 "a failed provider must not disqualify the chain until the whole
// fallback chain exhausts"). It mirrors the teacher's
// rpc.RPCHealthTracker/EndpointHealth shape, adapted to track a fixed list
// of URLs per chain instead of a registry of named provider types.
type rpcEndpoint struct {
	url string

	mu              sync.Mutex
	totalCalls      int64
	successfulCalls int64
	failedCalls     int64
	totalLatency    time.Duration
	lastSuccess     time.Time
	lastFailure     time.Time
}

func (e *rpcEndpoint) recordSuccess(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.totalCalls++
	e.successfulCalls++
	e.totalLatency += d
	e.lastSuccess = time.Now()
}

func (e *rpcEndpoint) recordFailure() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.totalCalls++
	e.failedCalls++
	e.lastFailure = time.Now()
}

func (e *rpcEndpoint) avgLatency() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.successfulCalls == 0 {
		return 0
	}
	return e.totalLatency / time.Duration(e.successfulCalls)
}

// providerFallbackList tries each configured RPC URL in order (biased
// towards whichever has the lowest observed average latency among
// currently-untried endpoints) and only reports the whole chain unavailable
// once every endpoint has failed for the current call (§4.1, §9 "Provider
// fallback").
type providerFallbackList struct {
	chainID   int
	endpoints []*rpcEndpoint
	log       *zap.Logger
}

func newProviderFallbackList(chainID int, urls []string, log *zap.Logger) *providerFallbackList {
	endpoints := make([]*rpcEndpoint, len(urls))
	for i, u := range urls {
		endpoints[i] = &rpcEndpoint{url: u}
	}
	return &providerFallbackList{chainID: chainID, endpoints: endpoints, log: log}
}

// orderedForAttempt returns the endpoint list ordered by ascending average
// latency, keeping the original configured order as the tie-break so a
// freshly-started process (no latency samples yet) still respects the
// operator's declared preference order.
func (p *providerFallbackList) orderedForAttempt() []*rpcEndpoint {
	ordered := make([]*rpcEndpoint, len(p.endpoints))
	copy(ordered, p.endpoints)
	for i := 1; i < len(ordered); i++ {
		j := i
		for j > 0 && ordered[j-1].avgLatency() > ordered[j].avgLatency() && ordered[j].avgLatency() > 0 {
			ordered[j-1], ordered[j] = ordered[j], ordered[j-1]
			j--
		}
	}
	return ordered
}

// do runs fn against each endpoint in turn until one succeeds or all have
// been tried. A failed provider only disqualifies itself for this call; the
// next call re-tries the whole list.
func (p *providerFallbackList) do(ctx context.Context, fn func(ctx context.Context, url string) error) error {
	var lastErr error
	for _, ep := range p.orderedForAttempt() {
		start := time.Now()
		err := fn(ctx, ep.url)
		if err == nil {
			ep.recordSuccess(time.Since(start))
			return nil
		}
		ep.recordFailure()
		if p.log != nil {
			p.log.Warn("rpc provider call failed, trying next fallback",
				zap.Int("chain", p.chainID), zap.String("url", ep.url), zap.Error(err))
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("chain %d: all %d providers exhausted: %w", p.chainID, len(p.endpoints), lastErr)
}
