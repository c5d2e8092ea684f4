package purchase

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arcsign/crossrail/internal/bridge"
	"github.com/arcsign/crossrail/internal/config"
	"github.com/arcsign/crossrail/internal/domain"
	"github.com/arcsign/crossrail/internal/hub"
	"github.com/arcsign/crossrail/internal/metrics"
	"github.com/arcsign/crossrail/internal/oracle"
	"github.com/arcsign/crossrail/internal/planner"
	"github.com/arcsign/crossrail/internal/signer"
	"github.com/arcsign/crossrail/internal/store"
)

type stubFeed struct {
	invoices []domain.Invoice
	err      error
}

func (s *stubFeed) ListQueued(ctx context.Context) ([]domain.Invoice, error) {
	return s.invoices, s.err
}

type stubHub struct {
	pending     *big.Int
	supported   bool
	statusByID  map[string]hub.IntentStatus
}

func (s *stubHub) PendingInboundAmount(ctx context.Context, domainChain int, tickerHash string) (*big.Int, error) {
	if s.pending == nil {
		return big.NewInt(0), nil
	}
	return s.pending, nil
}

func (s *stubHub) IsXERC20Supported(ctx context.Context, domainChain int, tickerHash string) (bool, error) {
	return s.supported, nil
}

func (s *stubHub) IntentStatusOf(ctx context.Context, chain int, intentID string) (hub.IntentStatus, error) {
	if st, ok := s.statusByID[intentID]; ok {
		return st, nil
	}
	return hub.IntentPending, nil
}

type stubOracle struct {
	snap *oracle.Snapshot
	err  error
}

func (s *stubOracle) Tick(ctx context.Context) (*oracle.Snapshot, error) {
	return s.snap, s.err
}

type stubSubmitter struct {
	submitted int
}

func (s *stubSubmitter) SubmitPurchase(ctx context.Context, chain int, params map[string]interface{}) (string, string, error) {
	s.submitted++
	return "0xhash", "on-chain", nil
}

func (s *stubSubmitter) SubmitAllowance(ctx context.Context, chain int, asset, spender string, amount *big.Int) error {
	return nil
}

type stubStore struct {
	store.Store
	created []*domain.Earmark
	updated []*domain.RebalanceOperation
}

func (s *stubStore) CreateEarmark(ctx context.Context, e *domain.Earmark, ops []*domain.RebalanceOperation) error {
	s.created = append(s.created, e)
	return nil
}

func (s *stubStore) UpdateRebalanceOperation(ctx context.Context, op *domain.RebalanceOperation) error {
	s.updated = append(s.updated, op)
	return nil
}

func (s *stubStore) UpdateEarmarkStatus(ctx context.Context, earmarkID string, status domain.EarmarkStatus, details map[string]interface{}) error {
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		InvoiceAge: 0,
		Chains: map[int]config.ChainConfig{
			1: {ChainID: 1, Assets: []config.AssetConfig{{Symbol: "usdc", TickerHash: "0xabc", Decimals: 18, BalanceThreshold: "0"}}},
			2: {ChainID: 2, Assets: []config.AssetConfig{{Symbol: "usdc", TickerHash: "0xabc", Decimals: 18, BalanceThreshold: "0"}}},
		},
		Routes: []config.RouteConfig{
			{Origin: 1, Destination: 2, Asset: "usdc", Preferences: []string{"test-bridge"}, SlippagesDbps: []int64{100}, Maximum: "1000000000000000000000", Reserve: "0"},
		},
	}
}

func newTestLoop(t *testing.T, feed InvoiceFeed, h HubClient, orc Oracle, sub Submitter, st store.Store) *Loop {
	reg := bridge.NewRegistry()
	reg.Register("test-bridge", &stubAdapter{})
	p := planner.New(reg, []int{1, 2}, 4)

	signers := signer.NewRegistry()
	signers.Register(1, &stubSigner{addr: "0xoperator"})

	return New(testConfig(), feed, h, orc, map[string]*planner.Planner{"usdc": p}, st, sub, signers, metrics.NewInMemoryRecorder(), zap.NewNop())
}

type stubAdapter struct{}

func (a *stubAdapter) Kind() bridge.Tag { return "test-bridge" }
func (a *stubAdapter) Quote(ctx context.Context, amount *big.Int, route bridge.Route) (*big.Int, error) {
	return amount, nil
}
func (a *stubAdapter) Minimum(ctx context.Context, route bridge.Route) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (a *stubAdapter) Send(ctx context.Context, sender, recipient string, amount *big.Int, route bridge.Route) ([]bridge.MemoizedTx, error) {
	return []bridge.MemoizedTx{{Memo: bridge.MemoRebalance, Chain: route.OriginChain}}, nil
}
func (a *stubAdapter) ReadyOnDestination(ctx context.Context, amount *big.Int, route bridge.Route, origin bridge.OriginReceipt) (bool, error) {
	return true, nil
}
func (a *stubAdapter) DestinationCallback(ctx context.Context, amount *big.Int, route bridge.Route, origin bridge.OriginReceipt) (*bridge.MemoizedTx, error) {
	return nil, nil
}
func (a *stubAdapter) IsCallbackComplete(ctx context.Context, route bridge.Route, origin bridge.OriginReceipt) (bool, error) {
	return true, nil
}
func (a *stubAdapter) HeadroomDbps() int64 { return 0 }

type stubSigner struct{ addr string }

func (s *stubSigner) Sign(ctx context.Context, payload []byte) ([]byte, error) { return payload, nil }
func (s *stubSigner) GetAddress() string                                      { return s.addr }
func (s *stubSigner) Kind() signer.Kind                                       { return signer.KindEOA }
func (s *stubSigner) ResolveHash(ctx context.Context, proposalID string) (string, error) {
	return proposalID, nil
}

func TestTickSkipsInvoiceBelowInvoiceAge(t *testing.T) {
	cfg := testConfig()
	cfg.InvoiceAge = 3600

	feed := &stubFeed{invoices: []domain.Invoice{{
		IntentID: "i1", TickerHash: "usdc", Owner: "0xsomeone",
		DestinationChains: []int{2}, Amount: big.NewInt(1_000_000_000_000_000_000),
		QueuedAt: time.Now(),
	}}}
	h := &stubHub{supported: true}
	orc := &stubOracle{snap: &oracle.Snapshot{
		Balances:  map[string]map[int]*big.Int{"usdc": {1: big.NewInt(2_000_000_000_000_000_000)}},
		Custodied: map[string]map[int]*big.Int{"usdc": {2: big.NewInt(0)}},
	}}
	sub := &stubSubmitter{}
	st := &stubStore{}

	l := newTestLoop(t, feed, h, orc, sub, st)
	l.cfg = cfg

	err := l.Tick(context.Background(), "req-1", time.Now())
	require.NoError(t, err)
	require.Empty(t, st.created, "invoice younger than InvoiceAge must not be served")
	require.Zero(t, sub.submitted)
}

func TestTickPlansAndSubmitsViableInvoice(t *testing.T) {
	feed := &stubFeed{invoices: []domain.Invoice{{
		IntentID: "i1", TickerHash: "usdc", Owner: "0xsomeone",
		DestinationChains: []int{1}, Amount: big.NewInt(1_000_000_000_000_000_000),
		QueuedAt: time.Now().Add(-time.Hour),
	}}}
	h := &stubHub{supported: true}
	orc := &stubOracle{snap: &oracle.Snapshot{
		Balances:  map[string]map[int]*big.Int{"usdc": {1: big.NewInt(2_000_000_000_000_000_000)}},
		Custodied: map[string]map[int]*big.Int{"usdc": {2: big.NewInt(1_000_000_000_000_000_000)}},
	}}
	sub := &stubSubmitter{}
	st := &stubStore{}

	l := newTestLoop(t, feed, h, orc, sub, st)

	err := l.Tick(context.Background(), "req-1", time.Now())
	require.NoError(t, err)
	require.Len(t, st.created, 1)
	require.Equal(t, "i1", st.created[0].InvoiceID)
	require.NotZero(t, sub.submitted)
}

func TestTickRejectsOwnedByOperator(t *testing.T) {
	feed := &stubFeed{invoices: []domain.Invoice{{
		IntentID: "i1", TickerHash: "usdc", Owner: "0xoperator",
		DestinationChains: []int{2}, Amount: big.NewInt(1_000_000_000_000_000_000),
		QueuedAt: time.Now().Add(-time.Hour),
	}}}
	h := &stubHub{supported: true}
	orc := &stubOracle{snap: &oracle.Snapshot{
		Balances:  map[string]map[int]*big.Int{"usdc": {1: big.NewInt(2_000_000_000_000_000_000)}},
		Custodied: map[string]map[int]*big.Int{"usdc": {2: big.NewInt(0)}},
	}}
	sub := &stubSubmitter{}
	st := &stubStore{}

	l := newTestLoop(t, feed, h, orc, sub, st)
	err := l.Tick(context.Background(), "req-1", time.Now())
	require.NoError(t, err)
	require.Empty(t, st.created)
}
