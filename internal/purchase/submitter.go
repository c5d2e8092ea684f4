package purchase

import (
	"context"
	"fmt"
	"math/big"

	"github.com/arcsign/crossrail/internal/bridge"
	"github.com/arcsign/crossrail/internal/chainclient"
	"github.com/arcsign/crossrail/internal/signer"
)

// Clients resolves a ChainClient for a chain ID, the same seam interface
// internal/bridge, internal/oracle, and internal/rebalance use.
type Clients interface {
	ChainClient(chainID int) (chainclient.ChainClient, error)
}

// ChainSubmitter is the production Submitter: it resolves the bridge
// adapter named in the params, builds the ordered memoized transaction
// chain via Send, and submits each leg sequentially through the
// Signer+ChainClient pair for the origin chain — an allowance leg, if
// the adapter's Send includes one, lands before the main transfer leg
// simply by virtue of ordering (§4.7 step 7, §5 "Ordering guarantees").
type ChainSubmitter struct {
	bridges *bridge.Registry
	signers *signer.Registry
	clients Clients
}

func NewChainSubmitter(bridges *bridge.Registry, signers *signer.Registry, clients Clients) *ChainSubmitter {
	return &ChainSubmitter{bridges: bridges, signers: signers, clients: clients}
}

func (s *ChainSubmitter) SubmitPurchase(ctx context.Context, chain int, params map[string]interface{}) (string, string, error) {
	tag, _ := params["bridge"].(string)
	destChain, _ := params["destinationChain"].(int)
	ticker, _ := params["ticker"].(string)
	amountStr, _ := params["amount"].(string)

	amount, ok := new(big.Int).SetString(amountStr, 10)
	if !ok {
		return "", "", fmt.Errorf("purchase: invalid amount %q for submission", amountStr)
	}

	adapter, err := s.bridges.Get(bridge.Tag(tag))
	if err != nil {
		return "", "", err
	}
	signerImpl, err := s.signers.Get(chain)
	if err != nil {
		return "", "", err
	}
	client, err := s.clients.ChainClient(chain)
	if err != nil {
		return "", "", err
	}

	sender := signerImpl.GetAddress()
	route := bridge.Route{OriginChain: chain, DestinationChain: destChain, Asset: ticker}
	legs, err := adapter.Send(ctx, sender, sender, amount, route)
	if err != nil {
		return "", "", err
	}

	var lastHash string
	for _, leg := range legs {
		hash, err := s.submitLeg(ctx, signerImpl, client, leg)
		if err != nil {
			return "", "", err
		}
		lastHash = hash
	}

	kind := "on-chain"
	if signerImpl.Kind() == signer.KindSafeProposer {
		kind = "multisig-proposal"
	}
	return lastHash, kind, nil
}

// submitLeg signs and submits one memoized transaction leg. An EOA signer
// produces a raw signed transaction that goes straight to the chain; a
// safe-proposer signer instead posts a proposal and the real hash is only
// known once ResolveHash reports the proposal executed (§4.2).
func (s *ChainSubmitter) submitLeg(ctx context.Context, signerImpl signer.Signer, client chainclient.ChainClient, leg bridge.MemoizedTx) (string, error) {
	tx := chainclient.Tx{Chain: leg.Chain, To: leg.To, Value: leg.Value, Data: leg.Data, FuncSig: leg.FuncSig}

	if signerImpl.Kind() == signer.KindSafeProposer {
		proposalID, err := signerImpl.Sign(ctx, leg.Data)
		if err != nil {
			return "", fmt.Errorf("purchase: propose leg %s: %w", leg.Memo, err)
		}
		return signerImpl.ResolveHash(ctx, string(proposalID))
	}

	signed, err := chainclient.SignAndAssemble(ctx, client, signerImpl, tx)
	if err != nil {
		return "", fmt.Errorf("purchase: sign leg %s: %w", leg.Memo, err)
	}
	receipt, err := client.SubmitAndMonitor(ctx, signed)
	if err != nil {
		return "", err
	}
	return receipt.TxHash, nil
}

// SubmitAllowance issues an approve(spender, amount) call on asset when the
// signer's current allowance falls short, the allowance leg §4.7 step 7
// requires before a transfer that moves more than the spender already holds.
func (s *ChainSubmitter) SubmitAllowance(ctx context.Context, chain int, asset, spender string, amount *big.Int) error {
	signerImpl, err := s.signers.Get(chain)
	if err != nil {
		return err
	}
	client, err := s.clients.ChainClient(chain)
	if err != nil {
		return err
	}
	allowance, err := client.GetAllowance(ctx, asset, signerImpl.GetAddress(), spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) >= 0 {
		return nil
	}

	data, err := chainclient.PackApprove(spender, amount)
	if err != nil {
		return err
	}
	tx := chainclient.Tx{Chain: chain, To: asset, Data: data, FuncSig: "approve(address,uint256)"}

	if signerImpl.Kind() == signer.KindSafeProposer {
		proposalID, err := signerImpl.Sign(ctx, data)
		if err != nil {
			return err
		}
		_, err = signerImpl.ResolveHash(ctx, string(proposalID))
		return err
	}

	signed, err := chainclient.SignAndAssemble(ctx, client, signerImpl, tx)
	if err != nil {
		return err
	}
	_, err = client.SubmitAndMonitor(ctx, signed)
	return err
}

var _ Submitter = (*ChainSubmitter)(nil)
