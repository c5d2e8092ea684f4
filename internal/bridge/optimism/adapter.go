// Package optimism implements the OP-stack native-bridge adapter family
// (§4.3 family 1): auto-relayed L1->L2 deposits and a two-callback
// (prove, finalize) L2->L1 withdrawal path separated by a challenge
// window. Grounded on the teacher's ethereum adapter's RPC-helper style
// (hex-encoded eth_call params, classified errors) and on the LayerZero
// adapter's doc-comment density from the pack's bridging example.
package optimism

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/arcsign/crossrail/internal/bridge"
	"github.com/arcsign/crossrail/internal/errs"
)

// DefaultChallengeWindow is the dispute period a withdrawal must clear before
// finalizeWithdrawalTransaction can succeed. OP-stack mainnet deployments
// use seven days; testing configurations may override it at construction.
const DefaultChallengeWindow = 7 * 24 * time.Hour

// Adapter implements bridge.Adapter for one OP-stack rollup pair (an L1
// chain and its L2). A single instance only bridges between those two
// chains; the registry holds one instance per rollup.
type Adapter struct {
	l1Chain, l2Chain   int
	l1Bridge, l2Bridge  string // StandardBridge / L2StandardBridge addresses
	portal              string // OptimismPortal address on L1 (prove/finalize)
	challengeWindow     time.Duration
	clients             bridge.Clients

	abi abi.ABI
}

const portalABIJSON = `[
	{"name":"proveWithdrawalTransaction","type":"function","inputs":[{"name":"tx","type":"bytes"}],"outputs":[]},
	{"name":"finalizeWithdrawalTransaction","type":"function","inputs":[{"name":"tx","type":"bytes"}],"outputs":[]}
]`

// New constructs an OP-stack adapter for one (l1, l2) rollup pair.
func New(l1Chain, l2Chain int, l1Bridge, l2Bridge, portal string, challengeWindow time.Duration, clients bridge.Clients) (*Adapter, error) {
	parsed, err := abi.JSON(strings.NewReader(portalABIJSON))
	if err != nil {
		return nil, fmt.Errorf("optimism: invalid portal abi: %w", err)
	}
	if challengeWindow == 0 {
		challengeWindow = DefaultChallengeWindow
	}
	return &Adapter{
		l1Chain: l1Chain, l2Chain: l2Chain,
		l1Bridge: l1Bridge, l2Bridge: l2Bridge, portal: portal,
		challengeWindow: challengeWindow, clients: clients, abi: parsed,
	}, nil
}

func (a *Adapter) Kind() bridge.Tag     { return bridge.TagOptimismNative }
func (a *Adapter) HeadroomDbps() int64  { return 0 }

// Quote is deterministic and fee-less for the native bridge: the full
// amount arrives on the other side (the OP-stack StandardBridge does not
// take a cut). Direction only matters for minimum checks.
func (a *Adapter) Quote(_ context.Context, amount *big.Int, route bridge.Route) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, &errs.QuoteError{Kind: errs.QuoteUnsupported, Route: route.String(), Msg: "amount must be positive"}
	}
	return new(big.Int).Set(amount), nil
}

func (a *Adapter) Minimum(_ context.Context, _ bridge.Route) (*big.Int, error) {
	return nil, nil
}

func (a *Adapter) isL1ToL2(route bridge.Route) bool {
	return route.OriginChain == a.l1Chain && route.DestinationChain == a.l2Chain
}

// Send builds the deposit (L1->L2) or initiateWithdrawal (L2->L1) leg.
// Both are single-transaction memoized plans; approvals are prepended by
// the caller when the asset requires one (handled one layer up, by the
// purchase/rebalance loop, using GetAllowance).
func (a *Adapter) Send(_ context.Context, sender, recipient string, amount *big.Int, route bridge.Route) ([]bridge.MemoizedTx, error) {
	if a.isL1ToL2(route) {
		return []bridge.MemoizedTx{{
			Memo: bridge.MemoRebalance, Chain: a.l1Chain, To: a.l1Bridge, Value: amount,
			FuncSig: "depositTransaction(address,uint256,uint64,bool,bytes)",
		}}, nil
	}
	if route.OriginChain == a.l2Chain && route.DestinationChain == a.l1Chain {
		return []bridge.MemoizedTx{{
			Memo: bridge.MemoRebalance, Chain: a.l2Chain, To: a.l2Bridge, Value: amount,
			FuncSig: "initiateWithdrawal(address,uint256,bytes)",
		}}, nil
	}
	return nil, &errs.QuoteError{Kind: errs.QuoteUnsupported, Route: route.String(), Msg: "route is not an L1<->L2 pair this adapter serves"}
}

// ReadyOnDestination: for a deposit, true once the L2 receipt exists
// (auto-relay). For a withdrawal, true only once the L2 output root
// containing the withdrawal has been posted to L1 AND the challenge
// window has elapsed since the prove timestamp.
func (a *Adapter) ReadyOnDestination(ctx context.Context, _ *big.Int, route bridge.Route, origin bridge.OriginReceipt) (bool, error) {
	if a.isL1ToL2(route) {
		l2, err := a.clients.ChainClient(a.l2Chain)
		if err != nil {
			return false, err
		}
		relayedHash, ok := origin.Raw["relayedL2TxHash"].(string)
		if !ok || relayedHash == "" {
			return false, nil
		}
		receipt, err := l2.GetTransactionReceipt(ctx, relayedHash)
		if err != nil {
			return false, err
		}
		return receipt != nil && receipt.Status, nil
	}

	provenAt, err := a.provenAt(ctx, origin)
	if err != nil {
		return false, err
	}
	if provenAt.IsZero() {
		return false, nil
	}
	return time.Since(provenAt) >= a.challengeWindow, nil
}

// provenAt reads the prove timestamp for this withdrawal from the L1
// portal's raw receipt state, if a prove call has already landed. The
// portal's actual storage layout is chain-specific; RawReceipt is the §9
// escape hatch this adapter relies on instead of the Receipt type.
func (a *Adapter) provenAt(ctx context.Context, origin bridge.OriginReceipt) (time.Time, error) {
	l1, err := a.clients.ChainClient(a.l1Chain)
	if err != nil {
		return time.Time{}, err
	}
	raw, err := l1.RawReceipt(ctx, origin.TxHash)
	if err != nil {
		return time.Time{}, err
	}
	ts, ok := raw["provenAtTimestamp"].(float64)
	if !ok || ts == 0 {
		return time.Time{}, nil
	}
	return time.Unix(int64(ts), 0), nil
}

// DestinationCallback emits proveWithdrawalTransaction when no prior proof
// exists, then finalizeWithdrawalTransaction once the window has elapsed.
// Deposits need no callback (auto-relayed), so this returns nil for them.
func (a *Adapter) DestinationCallback(ctx context.Context, _ *big.Int, route bridge.Route, origin bridge.OriginReceipt) (*bridge.MemoizedTx, error) {
	if a.isL1ToL2(route) {
		return nil, nil
	}

	provenAt, err := a.provenAt(ctx, origin)
	if err != nil {
		return nil, err
	}
	data, err := a.abi.Pack("proveWithdrawalTransaction", []byte(origin.TxHash))
	if err != nil {
		return nil, fmt.Errorf("optimism: pack proveWithdrawalTransaction: %w", err)
	}
	if provenAt.IsZero() {
		return &bridge.MemoizedTx{Memo: bridge.MemoCallback, Chain: a.l1Chain, To: a.portal, Value: big.NewInt(0), Data: data, FuncSig: "proveWithdrawalTransaction(bytes)"}, nil
	}
	if time.Since(provenAt) < a.challengeWindow {
		return nil, &errs.CallbackNotReady{Route: route.String()}
	}
	finalizeData, err := a.abi.Pack("finalizeWithdrawalTransaction", []byte(origin.TxHash))
	if err != nil {
		return nil, fmt.Errorf("optimism: pack finalizeWithdrawalTransaction: %w", err)
	}
	return &bridge.MemoizedTx{Memo: bridge.MemoCallback, Chain: a.l1Chain, To: a.portal, Value: big.NewInt(0), Data: finalizeData, FuncSig: "finalizeWithdrawalTransaction(bytes)"}, nil
}

// IsCallbackComplete inspects the L1 portal's raw state for a recorded
// finalization of this withdrawal hash, used to recover after a restart
// without re-issuing a callback already on chain.
func (a *Adapter) IsCallbackComplete(ctx context.Context, _ bridge.Route, origin bridge.OriginReceipt) (bool, error) {
	l1, err := a.clients.ChainClient(a.l1Chain)
	if err != nil {
		return false, err
	}
	raw, err := l1.RawReceipt(ctx, origin.TxHash)
	if err != nil {
		return false, err
	}
	finalized, _ := raw["finalized"].(bool)
	return finalized, nil
}

var _ bridge.Adapter = (*Adapter)(nil)
