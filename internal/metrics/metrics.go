// Package metrics is grounded on the teacher's src/chainadapter/metrics
// package (the ChainMetrics interface, its RPC/Build/Sign/Broadcast
// counters, and its NoOpMetrics escape hatch) and on
// rpc.NewMetricsRPCClient's transparent-wrapper pattern. It is widened here
// from chain-adapter-only metrics into the recorder the rest of the poller
// needs: RPC call metrics (still consumed by internal/chainclient's
// decorator) plus the purchase/rebalance outcome counters SPEC_FULL.md's
// ambient-stack section calls for.
package metrics

import (
	"fmt"
	"sync"
	"time"
)

// Recorder is the full metrics surface the poller records against. It
// keeps the teacher's RPC-call recording contract unchanged and adds the
// purchase/rebalance/gas-alert recorders the two loops need.
type Recorder interface {
	RecordRPCCall(method string, duration time.Duration, success bool)

	RecordPossibleInvoiceSeen(ticker string)
	RecordInvoiceRejected(ticker, reason string)
	RecordSuccessfulPurchase(ticker string, chain int)
	RecordInvoicePurchaseDuration(ticker string, d time.Duration)
	UpdateRewards(ticker string, amount float64)

	RecordRebalanceOperation(bridgeKind string, success bool)
	RecordCallbackPending(bridgeKind string)
	RecordGasThresholdBreach(chain int, asset string, balance, threshold float64)

	GetHealthStatus() HealthStatus
	Export() string
	Reset()
}

// counterKey identifies one (name, labels) time series in the in-memory
// recorder below.
type counterKey struct {
	name   string
	labels string
}

// InMemoryRecorder is a dependency-free Recorder: counts and running
// duration sums keyed by label tuple, exported in Prometheus text exposition
// format. It plays the role the teacher's PrometheusMetrics plays, minus an
// actual prometheus/client_golang registry — admin HTTP / push-gateway
// wiring is an explicit non-goal (§1), so there's nothing to register
// against.
type InMemoryRecorder struct {
	mu                 sync.Mutex
	counters           map[counterKey]int64
	durationTotals     map[counterKey]time.Duration
	lastSuccessfulCall time.Time
	totalCalls         int64
	successfulCalls    int64
}

func NewInMemoryRecorder() *InMemoryRecorder {
	return &InMemoryRecorder{
		counters:       make(map[counterKey]int64),
		durationTotals: make(map[counterKey]time.Duration),
	}
}

func (r *InMemoryRecorder) incr(name, labels string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[counterKey{name, labels}]++
}

func (r *InMemoryRecorder) RecordRPCCall(method string, duration time.Duration, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status := "success"
	if !success {
		status = "failure"
	} else {
		r.successfulCalls++
		r.lastSuccessfulCall = time.Now()
	}
	r.totalCalls++
	key := counterKey{"rpc_calls_total", fmt.Sprintf("method=%q,status=%q", method, status)}
	r.counters[key]++
	r.durationTotals[key] += duration
}

func (r *InMemoryRecorder) RecordPossibleInvoiceSeen(ticker string) {
	r.incr("possible_invoice_seen_total", fmt.Sprintf("ticker=%q", ticker))
}

func (r *InMemoryRecorder) RecordInvoiceRejected(ticker, reason string) {
	r.incr("invoice_rejected_total", fmt.Sprintf("ticker=%q,reason=%q", ticker, reason))
}

func (r *InMemoryRecorder) RecordSuccessfulPurchase(ticker string, chain int) {
	r.incr("successful_purchase_total", fmt.Sprintf("ticker=%q,chain=%d", ticker, chain))
}

func (r *InMemoryRecorder) RecordInvoicePurchaseDuration(ticker string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := counterKey{"invoice_purchase_duration_seconds_total", fmt.Sprintf("ticker=%q", ticker)}
	r.counters[key]++
	r.durationTotals[key] += d
}

func (r *InMemoryRecorder) UpdateRewards(ticker string, amount float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := counterKey{"rewards_total_micros", fmt.Sprintf("ticker=%q", ticker)}
	r.counters[key] += int64(amount * 1_000_000)
}

func (r *InMemoryRecorder) RecordRebalanceOperation(bridgeKind string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	r.incr("rebalance_operation_total", fmt.Sprintf("bridge=%q,status=%q", bridgeKind, status))
}

func (r *InMemoryRecorder) RecordCallbackPending(bridgeKind string) {
	r.incr("callback_pending_total", fmt.Sprintf("bridge=%q", bridgeKind))
}

func (r *InMemoryRecorder) RecordGasThresholdBreach(chain int, asset string, balance, threshold float64) {
	r.incr("gas_threshold_breach_total", fmt.Sprintf("chain=%d,asset=%q,balance=%.4f,threshold=%.4f", chain, asset, balance, threshold))
}

// HealthStatus mirrors the teacher's HealthStatus shape (§ metrics.go),
// degraded/down criteria unchanged: success rate under 90%, or no
// successful RPC call in the last 5 minutes.
type HealthStatus struct {
	Status          string
	Message         string
	CheckedAt       time.Time
	LowSuccessRate  bool
	NoRecentSuccess bool
}

func (h HealthStatus) IsHealthy() bool { return h.Status == "OK" }

func (r *InMemoryRecorder) GetHealthStatus() HealthStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	lowSuccessRate := r.totalCalls > 0 && float64(r.successfulCalls)/float64(r.totalCalls) < 0.9
	noRecentSuccess := !r.lastSuccessfulCall.IsZero() && now.Sub(r.lastSuccessfulCall) > 5*time.Minute

	status := "OK"
	msg := "healthy"
	switch {
	case noRecentSuccess:
		status, msg = "Down", "no successful RPC call in the last 5 minutes"
	case lowSuccessRate:
		status, msg = "Degraded", "RPC success rate below 90%"
	}
	return HealthStatus{Status: status, Message: msg, CheckedAt: now, LowSuccessRate: lowSuccessRate, NoRecentSuccess: noRecentSuccess}
}

func (r *InMemoryRecorder) Export() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := ""
	for key, count := range r.counters {
		out += fmt.Sprintf("crossrail_%s{%s} %d\n", key.name, key.labels, count)
	}
	return out
}

func (r *InMemoryRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters = make(map[counterKey]int64)
	r.durationTotals = make(map[counterKey]time.Duration)
	r.totalCalls, r.successfulCalls = 0, 0
	r.lastSuccessfulCall = time.Time{}
}

// NoOp is a Recorder that does nothing, for tests and metrics-disabled runs.
type NoOp struct{}

func (NoOp) RecordRPCCall(string, time.Duration, bool)                 {}
func (NoOp) RecordPossibleInvoiceSeen(string)                          {}
func (NoOp) RecordInvoiceRejected(string, string)                      {}
func (NoOp) RecordSuccessfulPurchase(string, int)                      {}
func (NoOp) RecordInvoicePurchaseDuration(string, time.Duration)       {}
func (NoOp) UpdateRewards(string, float64)                             {}
func (NoOp) RecordRebalanceOperation(string, bool)                     {}
func (NoOp) RecordCallbackPending(string)                              {}
func (NoOp) RecordGasThresholdBreach(int, string, float64, float64)    {}
func (NoOp) GetHealthStatus() HealthStatus                             { return HealthStatus{Status: "OK", Message: "metrics disabled", CheckedAt: time.Now()} }
func (NoOp) Export() string                                            { return "" }
func (NoOp) Reset()                                                    {}

var (
	_ Recorder = (*InMemoryRecorder)(nil)
	_ Recorder = NoOp{}
)
