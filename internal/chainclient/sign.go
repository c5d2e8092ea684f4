package chainclient

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/arcsign/crossrail/internal/signer"
)

// SignAndAssemble turns an unsigned Tx into one with Data carrying the
// RLP-encoded, already-signed payload SubmitAndMonitor requires (its doc
// comment: "the Signer produced it; the ChainClient never signs"). It
// fetches nonce, gas price, and gas limit from client, builds a legacy
// go-ethereum transaction, and hands signerImpl the 32-byte signing hash —
// never the raw calldata, which is what EOASigner.Sign actually expects.
//
// Only EOA signers reach this path. A safe-proposer signer has no raw
// transaction to broadcast; callers branch on signerImpl.Kind() and route
// KindSafeProposer through Sign+ResolveHash directly instead.
func SignAndAssemble(ctx context.Context, client ChainClient, signerImpl signer.Signer, tx Tx) (Tx, error) {
	from := signerImpl.GetAddress()

	nonce, err := client.NextNonce(ctx, from)
	if err != nil {
		return Tx{}, fmt.Errorf("chainclient: fetch nonce: %w", err)
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return Tx{}, fmt.Errorf("chainclient: fetch gas price: %w", err)
	}
	gasLimit, err := client.EstimateGas(ctx, from, tx)
	if err != nil {
		return Tx{}, fmt.Errorf("chainclient: estimate gas: %w", err)
	}

	value := tx.Value
	if value == nil {
		value = big.NewInt(0)
	}
	var to *common.Address
	if tx.To != "" {
		addr := common.HexToAddress(tx.To)
		to = &addr
	}

	unsigned := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       to,
		Value:    value,
		Data:     tx.Data,
	})

	ethSigner := types.NewEIP155Signer(big.NewInt(int64(client.ChainID())))
	hash := ethSigner.Hash(unsigned)

	sig, err := signerImpl.Sign(ctx, hash.Bytes())
	if err != nil {
		return Tx{}, fmt.Errorf("chainclient: sign tx hash: %w", err)
	}
	signedTx, err := unsigned.WithSignature(ethSigner, sig)
	if err != nil {
		return Tx{}, fmt.Errorf("chainclient: attach signature: %w", err)
	}
	raw, err := signedTx.MarshalBinary()
	if err != nil {
		return Tx{}, fmt.Errorf("chainclient: encode signed tx: %w", err)
	}

	out := tx
	out.Data = raw
	return out, nil
}
