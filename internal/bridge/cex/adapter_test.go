package cex

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arcsign/crossrail/internal/bridge"
)

func TestOrderIDIsDeterministic(t *testing.T) {
	route := bridge.Route{OriginChain: 1, DestinationChain: 10, Asset: "USDC"}

	first := OrderID(route, "0xabc123")
	second := OrderID(route, "0xabc123")
	require.Equal(t, first, second)

	different := OrderID(route, "0xdef456")
	require.NotEqual(t, first, different)
}

func newTestAdapter(t *testing.T, handler http.HandlerFunc, mapping AssetMapping) (*Adapter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	a := New(srv.URL, "key", map[int]string{1: "0xdeposit"}, 10, time.Hour, func(ctx context.Context) (map[string]AssetMapping, error) {
		return map[string]AssetMapping{"weth": mapping}, nil
	})
	return a, srv
}

func TestDestinationCallbackReturnsWrapLegWhenNativeDelivered(t *testing.T) {
	var posted bool
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/deposits":
			w.Write([]byte(`{"confirmed":true}`))
		case r.Method == http.MethodPost && r.URL.Path == "/withdrawals":
			posted = true
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}, AssetMapping{Symbol: "ETH", NetworkCode: "ETH", WithdrawWrapped: false})

	route := bridge.Route{OriginChain: 1, DestinationChain: 10, Asset: "weth"}
	origin := bridge.OriginReceipt{TxHash: "0xabc", Chain: 1}

	tx, err := a.DestinationCallback(context.Background(), big.NewInt(500), route, origin)
	require.NoError(t, err)
	require.True(t, posted, "withdrawal request must be POSTed to the exchange")
	require.NotNil(t, tx)
	require.Equal(t, bridge.MemoWrap, tx.Memo)
	require.Equal(t, big.NewInt(500), tx.Value)
}

func TestDestinationCallbackReturnsNilWhenWrappedDelivered(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/deposits":
			w.Write([]byte(`{"confirmed":true}`))
		case r.Method == http.MethodPost && r.URL.Path == "/withdrawals":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}, AssetMapping{Symbol: "WETH", NetworkCode: "ETH", WithdrawWrapped: true})

	route := bridge.Route{OriginChain: 1, DestinationChain: 10, Asset: "weth"}
	origin := bridge.OriginReceipt{TxHash: "0xabc", Chain: 1}

	tx, err := a.DestinationCallback(context.Background(), big.NewInt(500), route, origin)
	require.NoError(t, err)
	require.Nil(t, tx)
}

func TestDestinationCallbackNotReadyWhenDepositUnconfirmed(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"confirmed":false}`))
	}, AssetMapping{Symbol: "ETH", NetworkCode: "ETH"})

	route := bridge.Route{OriginChain: 1, DestinationChain: 10, Asset: "weth"}
	origin := bridge.OriginReceipt{TxHash: "0xabc", Chain: 1}

	_, err := a.DestinationCallback(context.Background(), big.NewInt(500), route, origin)
	require.Error(t, err)
}
