// Package chainclient implements C1: per-chain capability to read balances
// and allowances, submit and monitor transactions, and read receipts. It is
// grounded on the teacher's src/chainadapter.ChainAdapter contract, narrowed
// to the operations the poller actually needs (no Build/Sign — signing is
// delegated to internal/signer) and extended with the raw-receipt escape
// hatch and view-call capability §4.1 and §9 require.
package chainclient

import (
	"context"
	"math/big"
)

// Tx is a fully-formed, unsigned call the poller wants executed. Adapters
// produce these (§4.3's memoized transactions); the Signer turns one into a
// signed payload and the ChainClient submits it.
type Tx struct {
	Chain    int
	To       string
	Value    *big.Int
	Data     []byte
	FuncSig  string
}

// Receipt is the chain-agnostic view of a confirmed transaction. Fields a
// specific bridge family needs but that aren't universal (l1BatchNumber,
// l2ToL1Logs, ...) are reached through RawReceipt instead of being added
// here (§9 "Cross-chain receipt opacity").
type Receipt struct {
	TxHash        string
	Chain         int
	BlockNumber   uint64
	Status        bool // true == success
	Confirmations uint64
	Logs          []Log
}

// Log is a minimal EVM event log; adapters that need more decode RawReceipt.
type Log struct {
	Address string
	Topics  []string
	Data    []byte
}

// ChainClient is the per-chain capability set (§4.1).
type ChainClient interface {
	ChainID() int

	GetNativeBalance(ctx context.Context, address string) (*big.Int, error)
	GetTokenBalance(ctx context.Context, asset, address string) (*big.Int, error)
	GetAllowance(ctx context.Context, asset, owner, spender string) (*big.Int, error)

	// NextNonce, SuggestGasPrice, and EstimateGas supply the inputs needed
	// to build an unsigned transaction before it is handed to a Signer
	// (§4.2): the ChainClient reads chain state, the Signer never does.
	NextNonce(ctx context.Context, address string) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, from string, tx Tx) (uint64, error)

	// SubmitAndMonitor is the only operation that may block for long
	// periods: it blocks until the configured confirmation count is
	// reached or the submit timeout elapses, and fails with a
	// *errs.SubmitError on nonce conflict, revert, timeout, or a fully
	// exhausted provider fallback chain.
	SubmitAndMonitor(ctx context.Context, tx Tx) (*Receipt, error)

	GetTransactionReceipt(ctx context.Context, hash string) (*Receipt, error)
	CallView(ctx context.Context, target string, encodedInput []byte) ([]byte, error)

	// RawReceipt returns the provider's raw JSON receipt for adapters that
	// declare they need chain-specific fields the Receipt type doesn't
	// expose (§9).
	RawReceipt(ctx context.Context, hash string) (map[string]interface{}, error)
}
