package rebalance

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arcsign/crossrail/internal/bridge"
	"github.com/arcsign/crossrail/internal/chainclient"
	"github.com/arcsign/crossrail/internal/config"
	"github.com/arcsign/crossrail/internal/domain"
	"github.com/arcsign/crossrail/internal/metrics"
	"github.com/arcsign/crossrail/internal/oracle"
	"github.com/arcsign/crossrail/internal/signer"
	"github.com/arcsign/crossrail/internal/store"
)

type fakeAdapter struct {
	ready        bool
	readyErr     error
	callbackTx   *bridge.MemoizedTx
	callbackErr  error
	quoteOut     *big.Int
}

func (a *fakeAdapter) Kind() bridge.Tag { return "fake" }
func (a *fakeAdapter) Quote(ctx context.Context, amount *big.Int, route bridge.Route) (*big.Int, error) {
	return a.quoteOut, nil
}
func (a *fakeAdapter) Minimum(ctx context.Context, route bridge.Route) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (a *fakeAdapter) Send(ctx context.Context, sender, recipient string, amount *big.Int, route bridge.Route) ([]bridge.MemoizedTx, error) {
	return []bridge.MemoizedTx{{Memo: bridge.MemoRebalance, Chain: route.OriginChain, To: "0xdest"}}, nil
}
func (a *fakeAdapter) ReadyOnDestination(ctx context.Context, amount *big.Int, route bridge.Route, origin bridge.OriginReceipt) (bool, error) {
	return a.ready, a.readyErr
}
func (a *fakeAdapter) DestinationCallback(ctx context.Context, amount *big.Int, route bridge.Route, origin bridge.OriginReceipt) (*bridge.MemoizedTx, error) {
	return a.callbackTx, a.callbackErr
}
func (a *fakeAdapter) IsCallbackComplete(ctx context.Context, route bridge.Route, origin bridge.OriginReceipt) (bool, error) {
	return true, nil
}
func (a *fakeAdapter) HeadroomDbps() int64 { return 0 }

type fakeSigner struct{ addr string }

// Sign returns a fixed-length dummy signature (not cryptographically valid,
// but 65 bytes like crypto.Sign's output) so callers that assemble a real
// go-ethereum transaction around it don't choke on signature length.
func (s *fakeSigner) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	sig := make([]byte, 65)
	copy(sig, payload)
	return sig, nil
}
func (s *fakeSigner) GetAddress() string { return s.addr }
func (s *fakeSigner) Kind() signer.Kind  { return signer.KindEOA }
func (s *fakeSigner) ResolveHash(ctx context.Context, proposalID string) (string, error) {
	return proposalID, nil
}

type fakeChainClient struct{ chain int }

func (c *fakeChainClient) ChainID() int { return c.chain }
func (c *fakeChainClient) GetNativeBalance(ctx context.Context, address string) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (c *fakeChainClient) GetTokenBalance(ctx context.Context, asset, address string) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (c *fakeChainClient) GetAllowance(ctx context.Context, asset, owner, spender string) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (c *fakeChainClient) NextNonce(ctx context.Context, address string) (uint64, error) {
	return 0, nil
}
func (c *fakeChainClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}
func (c *fakeChainClient) EstimateGas(ctx context.Context, from string, tx chainclient.Tx) (uint64, error) {
	return 21000, nil
}
func (c *fakeChainClient) SubmitAndMonitor(ctx context.Context, tx chainclient.Tx) (*chainclient.Receipt, error) {
	return &chainclient.Receipt{TxHash: "0xcallback", Chain: tx.Chain, Status: true}, nil
}
func (c *fakeChainClient) GetTransactionReceipt(ctx context.Context, hash string) (*chainclient.Receipt, error) {
	return &chainclient.Receipt{TxHash: hash}, nil
}
func (c *fakeChainClient) CallView(ctx context.Context, target string, data []byte) ([]byte, error) {
	return nil, nil
}
func (c *fakeChainClient) RawReceipt(ctx context.Context, hash string) (map[string]interface{}, error) {
	return nil, nil
}

type fakeClients struct{}

func (fakeClients) ChainClient(chainID int) (chainclient.ChainClient, error) {
	return &fakeChainClient{chain: chainID}, nil
}

type fakeStore struct {
	store.Store
	ops     []*domain.RebalanceOperation
	updated []*domain.RebalanceOperation
	created []*domain.RebalanceOperation
}

func (s *fakeStore) GetRebalanceOperations(ctx context.Context, statuses []domain.OperationStatus) ([]*domain.RebalanceOperation, error) {
	return s.ops, nil
}
func (s *fakeStore) UpdateRebalanceOperation(ctx context.Context, op *domain.RebalanceOperation) error {
	s.updated = append(s.updated, op)
	return nil
}
func (s *fakeStore) CreateRebalanceOperation(ctx context.Context, op *domain.RebalanceOperation) error {
	s.created = append(s.created, op)
	return nil
}
func (s *fakeStore) UpdateEarmarkStatus(ctx context.Context, earmarkID string, status domain.EarmarkStatus, details map[string]interface{}) error {
	return nil
}

func newTestLoopWithAdapter(a bridge.Adapter) (*Loop, *fakeStore) {
	reg := bridge.NewRegistry()
	reg.Register("fake", a)
	signers := signer.NewRegistry()
	signers.Register(1, &fakeSigner{addr: "0xorigin"})
	signers.Register(2, &fakeSigner{addr: "0xdest"})

	st := &fakeStore{}
	cfg := &config.Config{
		Chains: map[int]config.ChainConfig{
			1: {ChainID: 1, GasThreshold: "1000000000000000000"},
			2: {ChainID: 2},
		},
		Routes: []config.RouteConfig{
			{Origin: 1, Destination: 2, Asset: "usdc", Preferences: []string{"fake"}, SlippagesDbps: []int64{500}, Maximum: "500000000000000000000"},
		},
	}
	return New(cfg, fakeClients{}, reg, signers, st, metrics.NewInMemoryRecorder(), zap.NewNop()), st
}

func TestPhaseAAdvancesPendingToAwaitingCallback(t *testing.T) {
	adapter := &fakeAdapter{ready: true}
	loop, st := newTestLoopWithAdapter(adapter)
	st.ops = []*domain.RebalanceOperation{{
		ID: "op1", OriginChain: 1, DestinationChain: 2, Ticker: "usdc",
		Amount: big.NewInt(10), BridgeKind: "fake", Status: domain.OperationPending, Legs: map[int]domain.LegInfo{},
	}}

	err := loop.phaseA(context.Background(), zap.NewNop())
	require.NoError(t, err)
	require.Len(t, st.updated, 1)
	require.Equal(t, domain.OperationAwaitingCallback, st.updated[0].Status)
}

func TestPhaseACompletesWithoutCallback(t *testing.T) {
	adapter := &fakeAdapter{callbackTx: nil}
	loop, st := newTestLoopWithAdapter(adapter)
	st.ops = []*domain.RebalanceOperation{{
		ID: "op1", OriginChain: 1, DestinationChain: 2, Ticker: "usdc",
		Amount: big.NewInt(10), BridgeKind: "fake", Status: domain.OperationAwaitingCallback, Legs: map[int]domain.LegInfo{},
	}}

	err := loop.phaseA(context.Background(), zap.NewNop())
	require.NoError(t, err)
	require.Len(t, st.updated, 1)
	require.Equal(t, domain.OperationCompleted, st.updated[0].Status)
}

func TestPhaseASubmitsCallbackTransaction(t *testing.T) {
	adapter := &fakeAdapter{callbackTx: &bridge.MemoizedTx{Memo: bridge.MemoCallback, Chain: 2, To: "0xhub"}}
	loop, st := newTestLoopWithAdapter(adapter)
	st.ops = []*domain.RebalanceOperation{{
		ID: "op1", OriginChain: 1, DestinationChain: 2, Ticker: "usdc",
		Amount: big.NewInt(10), BridgeKind: "fake", Status: domain.OperationAwaitingCallback, Legs: map[int]domain.LegInfo{},
	}}

	err := loop.phaseA(context.Background(), zap.NewNop())
	require.NoError(t, err)
	require.Len(t, st.updated, 1)
	require.Equal(t, domain.OperationCompleted, st.updated[0].Status)
	require.Equal(t, "0xcallback", st.updated[0].Legs[2].Hash)
}

func TestPhaseBOpensTopUpWhenOverMaximum(t *testing.T) {
	oneToken := big.NewInt(1_000_000_000_000_000_000)
	// excess over the 500e18 maximum is 500e18; a 499e18 quote is 200 dbps of slippage, within the 500 dbps budget.
	adapter := &fakeAdapter{quoteOut: new(big.Int).Mul(big.NewInt(499), oneToken)}
	loop, st := newTestLoopWithAdapter(adapter)

	snap := &oracle.Snapshot{
		Balances:    map[string]map[int]*big.Int{"usdc": {1: new(big.Int).Mul(big.NewInt(1_000), oneToken)}},
		GasBalances: map[int]*big.Int{},
	}
	loop.phaseB(context.Background(), snap, zap.NewNop())
	require.Len(t, st.created, 1)
	require.Equal(t, domain.OperationPending, st.created[0].Status)
}

func TestMonitorGasEmitsAlertBelowThreshold(t *testing.T) {
	adapter := &fakeAdapter{}
	loop, _ := newTestLoopWithAdapter(adapter)
	rec := metrics.NewInMemoryRecorder()
	loop.metrics = rec

	snap := &oracle.Snapshot{GasBalances: map[int]*big.Int{1: big.NewInt(1)}}
	loop.monitorGas(snap, zap.NewNop())

	require.Contains(t, rec.Export(), "gas_threshold_breach_total")
}
