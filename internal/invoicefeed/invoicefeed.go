// Package invoicefeed consumes the external invoice queue the Purchase
// Loop reads from (§1 "it does not itself decide which invoices exist; it
// consumes a feed"). Grounded on the teacher's provider.BlockchainProvider
// HTTP client shape (internal/provider/alchemy): a plain net/http.Client
// with a fixed timeout, JSON request/response bodies, and per-call context
// propagation, here pointed at a REST collaborator instead of a JSON-RPC
// one.
package invoicefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/arcsign/crossrail/internal/domain"
)

// Feed is the Purchase Loop's view of the invoice queue (§4.7 step 3).
type Feed interface {
	ListQueued(ctx context.Context) ([]domain.Invoice, error)
}

// HTTPFeed is a Feed backed by a REST invoice service.
type HTTPFeed struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPFeed returns a Feed pointed at baseURL. A 15s timeout matches the
// CEX adapter's HTTP client.
func NewHTTPFeed(baseURL string) *HTTPFeed {
	return &HTTPFeed{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type wireInvoice struct {
	IntentID          string   `json:"intentId"`
	TickerHash        string   `json:"tickerHash"`
	Owner             string   `json:"owner"`
	OriginChain       int      `json:"originChain"`
	DestinationChains []int    `json:"destinationChains"`
	Amount            string   `json:"amount"`
	DiscountBps       int64    `json:"discountBps"`
	QueuedAt          int64    `json:"queuedAt"` // unix seconds
	HubStatus         string   `json:"hubStatus"`
}

// ListQueued fetches the current invoice queue.
func (f *HTTPFeed) ListQueued(ctx context.Context) ([]domain.Invoice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/invoices", nil)
	if err != nil {
		return nil, fmt.Errorf("invoicefeed: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("invoicefeed: list queued: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("invoicefeed: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("invoicefeed: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var wire []wireInvoice
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("invoicefeed: parse response: %w", err)
	}

	out := make([]domain.Invoice, 0, len(wire))
	for _, w := range wire {
		amount, ok := new(big.Int).SetString(w.Amount, 10)
		if !ok {
			return nil, fmt.Errorf("invoicefeed: malformed amount %q on invoice %s", w.Amount, w.IntentID)
		}
		out = append(out, domain.Invoice{
			IntentID:          w.IntentID,
			TickerHash:        w.TickerHash,
			Owner:             w.Owner,
			OriginChain:       w.OriginChain,
			DestinationChains: w.DestinationChains,
			Amount:            amount,
			DiscountBps:       w.DiscountBps,
			QueuedAt:          time.Unix(w.QueuedAt, 0).UTC(),
			HubStatus:         w.HubStatus,
		})
	}
	return out, nil
}

var _ Feed = (*HTTPFeed)(nil)
