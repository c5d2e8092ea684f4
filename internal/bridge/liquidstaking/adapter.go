// Package liquidstaking implements the liquid-staking + native-bridge
// composite adapter family (§4.3 family 5): e.g. ETH -> mETH -> L2, built
// by sequencing Unwrap, Stake, an optional Approval, and a Deposit leg
// onto an underlying native bridge adapter rather than reimplementing
// bridge mechanics itself.
package liquidstaking

import (
	"context"
	"fmt"
	"math/big"

	"github.com/arcsign/crossrail/internal/bridge"
	"github.com/arcsign/crossrail/internal/errs"
)

// StakingPool quotes and builds the unwrap+stake legs for one liquid
// staking protocol; kept separate from bridge.Adapter because staking
// itself is not a cross-chain operation.
type StakingPool interface {
	// ExchangeRate returns how much staked-asset is minted per unit of
	// underlying deposited, scaled by 1e18.
	ExchangeRate(ctx context.Context) (*big.Int, error)
	UnwrapTx(amount *big.Int) bridge.MemoizedTx
	StakeTx(amount *big.Int) bridge.MemoizedTx
	StakedAssetAddress() string
	Chain() int
}

// Adapter composes a StakingPool with an underlying native bridge adapter
// that moves the staked asset onward. Quote and the destination-side
// methods delegate entirely to the underlying bridge once the staked
// amount is known; Send prepends the staking legs.
type Adapter struct {
	pool     StakingPool
	underlying bridge.Adapter
	needsApproval bool
}

func New(pool StakingPool, underlying bridge.Adapter, needsApproval bool) *Adapter {
	return &Adapter{pool: pool, underlying: underlying, needsApproval: needsApproval}
}

func (a *Adapter) Kind() bridge.Tag    { return bridge.TagLiquidStaking }
func (a *Adapter) HeadroomDbps() int64 { return a.underlying.HeadroomDbps() }

// Quote converts amount into the staked asset via the pool's exchange
// rate, then delegates to the underlying bridge to quote the onward leg.
func (a *Adapter) Quote(ctx context.Context, amount *big.Int, route bridge.Route) (*big.Int, error) {
	staked, err := a.stakedAmount(ctx, amount)
	if err != nil {
		return nil, err
	}
	stakedRoute := route
	stakedRoute.Asset = a.pool.StakedAssetAddress()
	return a.underlying.Quote(ctx, staked, stakedRoute)
}

func (a *Adapter) stakedAmount(ctx context.Context, amount *big.Int) (*big.Int, error) {
	rate, err := a.pool.ExchangeRate(ctx)
	if err != nil {
		return nil, &errs.QuoteError{Kind: errs.QuoteTransientUpstream, Msg: "staking exchange rate lookup failed", Cause: err}
	}
	if rate == nil || rate.Sign() <= 0 {
		return nil, &errs.QuoteError{Kind: errs.QuoteUnsupported, Msg: "staking pool returned a non-positive exchange rate"}
	}
	staked := new(big.Int).Mul(amount, rate)
	staked.Div(staked, big.NewInt(1_000_000_000_000_000_000))
	return staked, nil
}

func (a *Adapter) Minimum(ctx context.Context, route bridge.Route) (*big.Int, error) {
	return a.underlying.Minimum(ctx, route)
}

// Send returns [Unwrap, Stake, optional Approval, Deposit] as required by
// §4.3 family 5.
func (a *Adapter) Send(ctx context.Context, sender, recipient string, amount *big.Int, route bridge.Route) ([]bridge.MemoizedTx, error) {
	staked, err := a.stakedAmount(ctx, amount)
	if err != nil {
		return nil, err
	}

	txs := []bridge.MemoizedTx{
		a.pool.UnwrapTx(amount),
		a.pool.StakeTx(amount),
	}

	stakedRoute := route
	stakedRoute.Asset = a.pool.StakedAssetAddress()
	deposit, err := a.underlying.Send(ctx, sender, recipient, staked, stakedRoute)
	if err != nil {
		return nil, fmt.Errorf("liquidstaking: underlying send: %w", err)
	}
	if a.needsApproval {
		txs = append(txs, bridge.MemoizedTx{
			Memo: bridge.MemoApproval, Chain: a.pool.Chain(), To: a.pool.StakedAssetAddress(),
			FuncSig: "approve(address,uint256)",
		})
	}
	txs = append(txs, deposit...)

	if len(txs) == 0 || txs[len(txs)-1].Memo != bridge.MemoRebalance {
		return nil, fmt.Errorf("liquidstaking: underlying adapter did not terminate its plan with a Rebalance leg")
	}
	return txs, nil
}

func (a *Adapter) ReadyOnDestination(ctx context.Context, amount *big.Int, route bridge.Route, origin bridge.OriginReceipt) (bool, error) {
	return a.underlying.ReadyOnDestination(ctx, amount, route, origin)
}

func (a *Adapter) DestinationCallback(ctx context.Context, amount *big.Int, route bridge.Route, origin bridge.OriginReceipt) (*bridge.MemoizedTx, error) {
	return a.underlying.DestinationCallback(ctx, amount, route, origin)
}

func (a *Adapter) IsCallbackComplete(ctx context.Context, route bridge.Route, origin bridge.OriginReceipt) (bool, error) {
	return a.underlying.IsCallbackComplete(ctx, route, origin)
}

var _ bridge.Adapter = (*Adapter)(nil)
