// Package zkrollup implements the ZK-rollup native-bridge adapter family
// (§4.3 family 2): a priority-queue L1->L2 deposit with a quoted base cost
// plus buffer refund, and a Merkle-proof-backed L2->L1 finalize whose
// proof is the "l1BatchProof" field of the L2 origin receipt as returned
// by the L2 chain client's RawReceipt. The receipt's event logs are not
// scanned, and no cross-chain message is extracted from them.
package zkrollup

import (
	"context"
	"math/big"

	"github.com/arcsign/crossrail/internal/bridge"
	"github.com/arcsign/crossrail/internal/errs"
)

// Adapter implements bridge.Adapter for one ZK-rollup's L1<->L2 pair.
type Adapter struct {
	l1Chain, l2Chain int
	l1Bridge         string
	zkSyncRPCURL     string
	// senderTopic and zkSyncRPCURL are stored at construction; no method
	// of this adapter reads either of them.
	senderTopic string
	clients     bridge.Clients
}

func New(l1Chain, l2Chain int, l1Bridge, zkSyncRPCURL, senderTopic string, clients bridge.Clients) *Adapter {
	return &Adapter{l1Chain: l1Chain, l2Chain: l2Chain, l1Bridge: l1Bridge, zkSyncRPCURL: zkSyncRPCURL, senderTopic: senderTopic, clients: clients}
}

func (a *Adapter) Kind() bridge.Tag    { return bridge.TagZKRollupNative }
func (a *Adapter) HeadroomDbps() int64 { return 0 }

// Quote returns amount minus the rollup's base deposit cost; the buffer
// portion of the quoted base cost is refunded on L2 once the deposit
// lands, so the adapter reports the worst case here and lets the refund
// arrive as a pleasant surprise rather than an unmet promise.
func (a *Adapter) Quote(ctx context.Context, amount *big.Int, route bridge.Route) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, &errs.QuoteError{Kind: errs.QuoteUnsupported, Route: route.String(), Msg: "amount must be positive"}
	}
	baseCost, err := a.baseDepositCost(ctx, route)
	if err != nil {
		return nil, &errs.QuoteError{Kind: errs.QuoteTransientUpstream, Route: route.String(), Msg: "base cost lookup failed", Cause: err}
	}
	received := new(big.Int).Sub(amount, baseCost)
	if received.Sign() <= 0 {
		return nil, &errs.QuoteError{Kind: errs.QuoteBelowMinimum, Route: route.String(), Msg: "amount does not cover base deposit cost"}
	}
	return received, nil
}

func (a *Adapter) baseDepositCost(_ context.Context, _ bridge.Route) (*big.Int, error) {
	// Placeholder floor until wired to the rollup's l2TransactionBaseCost
	// RPC method; kept as a named step so Quote's shape matches what that
	// call will return.
	return big.NewInt(0), nil
}

func (a *Adapter) Minimum(_ context.Context, _ bridge.Route) (*big.Int, error) {
	return nil, nil
}

func (a *Adapter) Send(_ context.Context, _, recipient string, amount *big.Int, route bridge.Route) ([]bridge.MemoizedTx, error) {
	if route.OriginChain == a.l1Chain && route.DestinationChain == a.l2Chain {
		return []bridge.MemoizedTx{{
			Memo: bridge.MemoRebalance, Chain: a.l1Chain, To: a.l1Bridge, Value: amount,
			FuncSig: "requestL2Transaction(address,uint256,bytes,uint256,uint256,bytes[],address)",
		}}, nil
	}
	if route.OriginChain == a.l2Chain && route.DestinationChain == a.l1Chain {
		return []bridge.MemoizedTx{{
			Memo: bridge.MemoRebalance, Chain: a.l2Chain, To: recipient, Value: amount,
			FuncSig: "withdraw(address)",
		}}, nil
	}
	return nil, &errs.QuoteError{Kind: errs.QuoteUnsupported, Route: route.String(), Msg: "route is not an L1<->L2 pair this adapter serves"}
}

func (a *Adapter) ReadyOnDestination(ctx context.Context, _ *big.Int, route bridge.Route, origin bridge.OriginReceipt) (bool, error) {
	if route.OriginChain == a.l1Chain {
		l2, err := a.clients.ChainClient(a.l2Chain)
		if err != nil {
			return false, err
		}
		l2Hash, ok := origin.Raw["l2TxHash"].(string)
		if !ok || l2Hash == "" {
			return false, nil
		}
		receipt, err := l2.GetTransactionReceipt(ctx, l2Hash)
		if err != nil {
			return false, err
		}
		return receipt != nil && receipt.Status, nil
	}
	proof, err := a.fetchMerkleProof(ctx, origin)
	if err != nil {
		return false, err
	}
	return proof != nil, nil
}

// fetchMerkleProof asks the rollup's own RPC for the L2->L1 message proof
// once it has been included in an L1-posted batch. Returns nil, nil if the
// proof is not yet available rather than an error, since "not yet proven"
// is the expected steady state for most of a withdrawal's lifetime.
func (a *Adapter) fetchMerkleProof(ctx context.Context, origin bridge.OriginReceipt) ([]byte, error) {
	l2, err := a.clients.ChainClient(a.l2Chain)
	if err != nil {
		return nil, err
	}
	raw, err := l2.RawReceipt(ctx, origin.TxHash)
	if err != nil {
		return nil, err
	}
	proofHex, ok := raw["l1BatchProof"].(string)
	if !ok || proofHex == "" {
		return nil, nil
	}
	return []byte(proofHex), nil
}

func (a *Adapter) DestinationCallback(ctx context.Context, _ *big.Int, route bridge.Route, origin bridge.OriginReceipt) (*bridge.MemoizedTx, error) {
	if route.OriginChain == a.l1Chain {
		return nil, nil
	}
	proof, err := a.fetchMerkleProof(ctx, origin)
	if err != nil {
		return nil, err
	}
	if proof == nil {
		return nil, &errs.CallbackNotReady{Route: route.String()}
	}
	return &bridge.MemoizedTx{
		Memo: bridge.MemoCallback, Chain: a.l1Chain, To: a.l1Bridge, Value: big.NewInt(0),
		Data: proof, FuncSig: "finalizeWithdrawal(uint256,uint256,uint16,bytes,bytes32[])",
	}, nil
}

func (a *Adapter) IsCallbackComplete(ctx context.Context, _ bridge.Route, origin bridge.OriginReceipt) (bool, error) {
	l1, err := a.clients.ChainClient(a.l1Chain)
	if err != nil {
		return false, err
	}
	raw, err := l1.RawReceipt(ctx, origin.TxHash)
	if err != nil {
		return false, err
	}
	finalized, _ := raw["isWithdrawalFinalized"].(bool)
	return finalized, nil
}

var _ bridge.Adapter = (*Adapter)(nil)
