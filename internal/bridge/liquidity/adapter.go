// Package liquidity implements the liquidity-bridge adapter family
// (§4.3 family 3): a pool-backed bridge whose destination side is
// detected by scanning for a fill event, with a fixed per-adapter
// slippage headroom rather than an on-chain quote guarantee.
package liquidity

import (
	"context"
	"math/big"

	"github.com/arcsign/crossrail/internal/bridge"
	"github.com/arcsign/crossrail/internal/errs"
)

// DefaultHeadroomDbps is the slippage budget this family reserves out of
// the route's configured maximum (§4.3: "e.g., 10 dbps").
const DefaultHeadroomDbps = 10

// Adapter implements bridge.Adapter for one liquidity-pool bridge
// deployment spanning a fixed set of chains.
type Adapter struct {
	spokePool    map[int]string // chain -> spoke pool contract address
	feeBps       int64          // relayer fee, in basis points of the sent amount
	headroomDbps int64
	clients      bridge.Clients
}

func New(spokePool map[int]string, feeBps int64, clients bridge.Clients) *Adapter {
	return &Adapter{spokePool: spokePool, feeBps: feeBps, headroomDbps: DefaultHeadroomDbps, clients: clients}
}

func (a *Adapter) Kind() bridge.Tag    { return bridge.TagLiquidityPool }
func (a *Adapter) HeadroomDbps() int64 { return a.headroomDbps }

// Quote subtracts the relayer fee in basis points; the remainder is what a
// filler is expected to deliver on the destination chain.
func (a *Adapter) Quote(_ context.Context, amount *big.Int, route bridge.Route) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, &errs.QuoteError{Kind: errs.QuoteUnsupported, Route: route.String(), Msg: "amount must be positive"}
	}
	if _, ok := a.spokePool[route.OriginChain]; !ok {
		return nil, &errs.QuoteError{Kind: errs.QuoteUnsupported, Route: route.String(), Msg: "no spoke pool on origin chain"}
	}
	if _, ok := a.spokePool[route.DestinationChain]; !ok {
		return nil, &errs.QuoteError{Kind: errs.QuoteUnsupported, Route: route.String(), Msg: "no spoke pool on destination chain"}
	}
	fee := new(big.Int).Mul(amount, big.NewInt(a.feeBps))
	fee.Div(fee, big.NewInt(10_000))
	received := new(big.Int).Sub(amount, fee)
	if received.Sign() <= 0 {
		return nil, &errs.QuoteError{Kind: errs.QuoteBelowMinimum, Route: route.String(), Msg: "amount does not cover relayer fee"}
	}
	return received, nil
}

func (a *Adapter) Minimum(_ context.Context, _ bridge.Route) (*big.Int, error) {
	return nil, nil
}

func (a *Adapter) Send(_ context.Context, _, recipient string, amount *big.Int, route bridge.Route) ([]bridge.MemoizedTx, error) {
	pool, ok := a.spokePool[route.OriginChain]
	if !ok {
		return nil, &errs.QuoteError{Kind: errs.QuoteUnsupported, Route: route.String(), Msg: "no spoke pool on origin chain"}
	}
	return []bridge.MemoizedTx{{
		Memo: bridge.MemoRebalance, Chain: route.OriginChain, To: pool, Value: amount,
		FuncSig: "depositV3(address,address,address,address,uint256,uint256,uint256,address,uint32,uint32,uint32,bytes)",
	}}, nil
}

// ReadyOnDestination takes the depositId from the origin receipt's raw
// fields, asks the destination chain client for the raw receipt under that
// id, and reports ready once its "filled" flag is true. It does not scan
// the spoke pool's event logs; the destination spoke pool is only checked
// for being configured.
func (a *Adapter) ReadyOnDestination(ctx context.Context, _ *big.Int, route bridge.Route, origin bridge.OriginReceipt) (bool, error) {
	destPool, ok := a.spokePool[route.DestinationChain]
	if !ok {
		return false, &errs.QuoteError{Kind: errs.QuoteUnsupported, Route: route.String(), Msg: "no spoke pool on destination chain"}
	}
	depositID, ok := origin.Raw["depositId"].(string)
	if !ok || depositID == "" {
		return false, nil
	}
	dest, err := a.clients.ChainClient(route.DestinationChain)
	if err != nil {
		return false, err
	}
	raw, err := dest.RawReceipt(ctx, depositID)
	if err != nil {
		return false, nil // fill not observed yet is the expected steady state, not an error
	}
	filled, _ := raw["filled"].(bool)
	_ = destPool
	return filled, nil
}

// DestinationCallback is always nil for liquidity bridges: the filler
// delivers funds directly, with no claim step for the depositor to run.
func (a *Adapter) DestinationCallback(_ context.Context, _ *big.Int, _ bridge.Route, _ bridge.OriginReceipt) (*bridge.MemoizedTx, error) {
	return nil, nil
}

func (a *Adapter) IsCallbackComplete(_ context.Context, _ bridge.Route, _ bridge.OriginReceipt) (bool, error) {
	return true, nil
}

var _ bridge.Adapter = (*Adapter)(nil)
