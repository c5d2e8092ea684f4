package chainclient

import (
	"context"
	"math/big"
	"time"

	"github.com/arcsign/crossrail/internal/metrics"
)

// MetricsClient wraps a ChainClient and records every call's latency and
// success through a metrics.Recorder, transparently (callers see the same
// ChainClient interface). Grounded on the teacher's rpc.MetricsRPCClient
// wrapper — same shape, widened from "one RPC call" to "any ChainClient
// method" since the poller's metrics care about balance/submit/receipt
// calls, not raw JSON-RPC methods.
type MetricsClient struct {
	inner   ChainClient
	metrics metrics.Recorder
}

func NewMetricsClient(inner ChainClient, recorder metrics.Recorder) *MetricsClient {
	return &MetricsClient{inner: inner, metrics: recorder}
}

func (m *MetricsClient) ChainID() int { return m.inner.ChainID() }

func (m *MetricsClient) record(method string, start time.Time, err error) {
	m.metrics.RecordRPCCall(method, time.Since(start), err == nil)
}

func (m *MetricsClient) GetNativeBalance(ctx context.Context, address string) (*big.Int, error) {
	start := time.Now()
	v, err := m.inner.GetNativeBalance(ctx, address)
	m.record("getNativeBalance", start, err)
	return v, err
}

func (m *MetricsClient) GetTokenBalance(ctx context.Context, asset, address string) (*big.Int, error) {
	start := time.Now()
	v, err := m.inner.GetTokenBalance(ctx, asset, address)
	m.record("getTokenBalance", start, err)
	return v, err
}

func (m *MetricsClient) GetAllowance(ctx context.Context, asset, owner, spender string) (*big.Int, error) {
	start := time.Now()
	v, err := m.inner.GetAllowance(ctx, asset, owner, spender)
	m.record("getAllowance", start, err)
	return v, err
}

func (m *MetricsClient) NextNonce(ctx context.Context, address string) (uint64, error) {
	start := time.Now()
	v, err := m.inner.NextNonce(ctx, address)
	m.record("nextNonce", start, err)
	return v, err
}

func (m *MetricsClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	start := time.Now()
	v, err := m.inner.SuggestGasPrice(ctx)
	m.record("suggestGasPrice", start, err)
	return v, err
}

func (m *MetricsClient) EstimateGas(ctx context.Context, from string, tx Tx) (uint64, error) {
	start := time.Now()
	v, err := m.inner.EstimateGas(ctx, from, tx)
	m.record("estimateGas", start, err)
	return v, err
}

func (m *MetricsClient) SubmitAndMonitor(ctx context.Context, tx Tx) (*Receipt, error) {
	start := time.Now()
	v, err := m.inner.SubmitAndMonitor(ctx, tx)
	m.record("submitAndMonitor", start, err)
	return v, err
}

func (m *MetricsClient) GetTransactionReceipt(ctx context.Context, hash string) (*Receipt, error) {
	start := time.Now()
	v, err := m.inner.GetTransactionReceipt(ctx, hash)
	m.record("getTransactionReceipt", start, err)
	return v, err
}

func (m *MetricsClient) CallView(ctx context.Context, target string, data []byte) ([]byte, error) {
	start := time.Now()
	v, err := m.inner.CallView(ctx, target, data)
	m.record("callView", start, err)
	return v, err
}

func (m *MetricsClient) RawReceipt(ctx context.Context, hash string) (map[string]interface{}, error) {
	start := time.Now()
	v, err := m.inner.RawReceipt(ctx, hash)
	m.record("rawReceipt", start, err)
	return v, err
}

var _ ChainClient = (*MetricsClient)(nil)
