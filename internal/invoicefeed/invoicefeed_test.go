package invoicefeed

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListQueuedParsesWireInvoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/invoices", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{
			"intentId": "intent-1",
			"tickerHash": "0xabc",
			"owner": "0xowner",
			"originChain": 1,
			"destinationChains": [10, 137],
			"amount": "1000000000000000000",
			"discountBps": 25,
			"queuedAt": 1700000000,
			"hubStatus": "pending"
		}]`))
	}))
	defer srv.Close()

	feed := NewHTTPFeed(srv.URL)
	invoices, err := feed.ListQueued(t.Context())
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	require.Equal(t, "intent-1", invoices[0].IntentID)
	require.Equal(t, []int{10, 137}, invoices[0].DestinationChains)
	require.Equal(t, int64(25), invoices[0].DiscountBps)
}

func TestListQueuedErrorsOnNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	feed := NewHTTPFeed(srv.URL)
	_, err := feed.ListQueued(t.Context())
	require.Error(t, err)
}
