// Package signer implements C2: producing signed payloads for the chains
// the poller operates on. It is grounded directly on the teacher's
// src/chainadapter.Signer contract (one Sign/GetAddress interface shared by
// every key-material flavor) but adds the safe-proposer variant §4.2
// requires, where "signing" means submitting a proposal to an off-chain
// co-signing service rather than producing a signature locally.
package signer

import "context"

// WalletType mirrors internal/config.WalletType; kept distinct here so the
// signer package has no import-time dependency on config.
type WalletType string

const (
	WalletEOA   WalletType = "EOA"
	WalletSafe  WalletType = "Zodiac"
)

// Signer abstracts transaction signing for one (chain, wallet) pair.
// Implementations MUST verify that the signing identity matches the
// configured address before returning.
type Signer interface {
	// Sign signs the given payload (a transaction hash, or an encoded
	// transaction the implementation hashes itself) and returns raw,
	// chain-specific signature bytes ready to attach for EOA signers, or a
	// proposal identifier for safe-proposer signers. Callers branch on Kind:
	// an EOA signature is attached to a transaction before submission, a
	// proposal identifier is passed to ResolveHash (§4.2).
	//
	// Contract:
	// - MUST NOT leak private key material to the caller or to logs.
	// - MUST return an error if the signer does not control GetAddress().
	Sign(ctx context.Context, payload []byte) ([]byte, error)

	// GetAddress returns the address this signer controls: the EOA address
	// for an EOA signer, or the Safe/module address for a proposer.
	GetAddress() string

	// Kind reports which variant this is so the rebalance loop knows
	// whether a returned "hash" is final or needs resolving through
	// ResolveHash.
	Kind() Kind

	// ResolveHash turns a proposal identifier into the real on-chain
	// transaction hash once the co-signers have acted. For an EOA signer
	// this is a no-op: the final hash comes from ChainClient.SubmitAndMonitor.
	// For a safe-proposer, it polls the proposal service; callers get
	// *errs.CallbackNotReady until the proposal has enough signatures and
	// has been executed on-chain (§4.2, §4.8 readiness polling).
	ResolveHash(ctx context.Context, proposalID string) (string, error)
}

// Kind distinguishes the two signer flavors §4.2 names.
type Kind string

const (
	KindEOA          Kind = "eoa"
	KindSafeProposer Kind = "safe_proposer"
)
