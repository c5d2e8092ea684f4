// Package bridge implements C3: the uniform BridgeAdapter contract every
// concrete transfer mechanism (optimistic rollup, zk-rollup, liquidity
// network, CEX, liquid-staking composite) must satisfy, plus a registry
// that looks adapters up by Tag. It is grounded on the capability-style
// interfaces the teacher's src/chainadapter package uses throughout
// (ChainAdapter, Signer, BlockchainProvider) and on the LayerZero bridge
// type shapes from the pack's other bridging example, adapted from a
// single-mechanism OFT client into a family of interchangeable adapters.
package bridge

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/arcsign/crossrail/internal/chainclient"
)

// Tag is the constant identity of one bridge mechanism (§4.3 kind()).
type Tag string

const (
	TagOptimismNative Tag = "optimism_native"
	TagZKRollupNative Tag = "zkrollup_native"
	TagLiquidityPool  Tag = "liquidity_pool"
	TagCEXWithdrawal  Tag = "cex_withdrawal"
	TagLiquidStaking  Tag = "liquid_staking_composite"
)

// Memo classifies one leg of a send() plan so the purchase/rebalance loops
// know what each memoized transaction is for without inspecting its data.
type Memo string

const (
	MemoApproval  Memo = "Approval"
	MemoUnwrap    Memo = "Unwrap"
	MemoWrap      Memo = "Wrap"
	MemoStake     Memo = "Stake"
	MemoRebalance Memo = "Rebalance"
	MemoCallback  Memo = "Callback"
)

// MemoizedTx is one leg of a plan returned by send() or destinationCallback().
// The core submits these in order through a Signer+ChainClient pair; it
// never builds calldata itself (§9 "memoized transaction chains").
type MemoizedTx struct {
	Memo    Memo
	Chain   int
	To      string
	Value   *big.Int
	Data    []byte
	FuncSig string
}

// Route identifies one origin/destination/asset combination a quote or
// send refers to.
type Route struct {
	OriginChain      int
	DestinationChain int
	Asset            string
	DestinationAsset string
}

// String renders a Route for logs and error messages.
func (r Route) String() string {
	return fmt.Sprintf("%d->%d:%s->%s", r.OriginChain, r.DestinationChain, r.Asset, r.DestinationAsset)
}

// OriginReceipt is the chain-agnostic record of the send() transaction that
// moved funds off the origin chain; adapters reach into RawReceipt when
// they need mechanism-specific fields (§9 "Cross-chain receipt opacity").
type OriginReceipt struct {
	TxHash      string
	Chain       int
	BlockNumber uint64
	Raw         map[string]interface{}
}

// Adapter is the uniform contract every bridge family implements (§4.3).
// All amounts are *big.Int in the acting chain's native decimals unless
// documented otherwise; canonicalization to 18-dp happens in the caller
// (the Route Planner), not here.
type Adapter interface {
	Kind() Tag

	// Quote returns the amount the destination will receive, in the
	// destination asset's native decimals, after fees and slippage.
	// Deterministic for a given (amount, route, external state) triple.
	// Fails with *errs.QuoteError (BelowMinimum, Unsupported, or
	// TransientUpstream).
	Quote(ctx context.Context, amount *big.Int, route Route) (*big.Int, error)

	// Minimum returns the adapter's intrinsic floor for this route, or nil
	// if it has none.
	Minimum(ctx context.Context, route Route) (*big.Int, error)

	// Send builds the ordered list of memoized transactions that move
	// amount from sender to recipient along route. The final entry's Memo
	// is always MemoRebalance.
	Send(ctx context.Context, sender, recipient string, amount *big.Int, route Route) ([]MemoizedTx, error)

	// ReadyOnDestination reports whether the destination side already has
	// the funds available, or — for withdrawal-style bridges — is in a
	// state where the next callback would succeed.
	ReadyOnDestination(ctx context.Context, amount *big.Int, route Route, origin OriginReceipt) (bool, error)

	// DestinationCallback returns the finalize/claim/wrap transaction that
	// completes the transfer, or nil if no callback is required for this
	// mechanism. amount is the amount that moved on the origin leg, needed
	// by mechanisms (e.g. a CEX withdrawal delivering a native asset) whose
	// callback leg's value depends on it.
	DestinationCallback(ctx context.Context, amount *big.Int, route Route, origin OriginReceipt) (*MemoizedTx, error)

	// IsCallbackComplete reports whether the callback has already executed,
	// used to recover in-flight state after a restart.
	IsCallbackComplete(ctx context.Context, route Route, origin OriginReceipt) (bool, error)

	// HeadroomDbps is the slippage budget this adapter reserves out of the
	// route's configured maximum: VerifySlippage accepts at most the
	// maximum minus this value (§4.3 "Slippage semantics"). Most
	// direct-quote adapters return 0; liquidity-pool style adapters return
	// their fixed headroom constant.
	HeadroomDbps() int64
}

// Registry looks adapters up by Tag. It holds adapters built by the caller
// and installed with Register; it constructs none itself.
type Registry struct {
	mu       sync.Mutex
	adapters map[Tag]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[Tag]Adapter)}
}

func (r *Registry) Register(tag Tag, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[tag] = a
}

func (r *Registry) Get(tag Tag) (Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.adapters[tag]
	if !ok {
		return nil, fmt.Errorf("bridge: no adapter registered for %s", tag)
	}
	return a, nil
}

// Clients resolves a ChainClient for a given chain ID; adapters are handed
// one of these rather than constructing their own, so they stay agnostic
// to provider configuration and fallback policy.
type Clients interface {
	ChainClient(chainID int) (chainclient.ChainClient, error)
}
