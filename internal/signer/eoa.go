package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"runtime"

	"github.com/ethereum/go-ethereum/crypto"
)

// EOASigner holds a reconstructed private key in memory only for the
// lifetime of the process and signs directly, the way the teacher's
// mnemonic/hardware KeySource implementations derive and use key material
// on demand rather than persisting it. The private key arrives already
// reconstructed from its two shards (internal/secret) by the caller; this
// type never sees the shards themselves.
type EOASigner struct {
	key     *ecdsa.PrivateKey
	address string
}

// NewEOASigner builds an EOASigner from a hex-encoded secp256k1 private key
// (the output of internal/secret.Reconstruct for a chain wired as EOA).
func NewEOASigner(hexPrivateKey string) (*EOASigner, error) {
	key, err := crypto.HexToECDSA(hexPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("signer: invalid EOA private key: %w", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()
	return &EOASigner{key: key, address: addr}, nil
}

func (s *EOASigner) GetAddress() string { return s.address }

func (s *EOASigner) Kind() Kind { return KindEOA }

// Sign signs a 32-byte hash with the held key using the standard
// Ethereum recoverable-signature format (65 bytes: r || s || v).
func (s *EOASigner) Sign(_ context.Context, payload []byte) ([]byte, error) {
	if len(payload) != 32 {
		return nil, fmt.Errorf("signer: EOA sign expects a 32-byte hash, got %d bytes", len(payload))
	}
	sig, err := crypto.Sign(payload, s.key)
	if err != nil {
		return nil, fmt.Errorf("signer: eoa sign: %w", err)
	}
	return sig, nil
}

// ResolveHash is a no-op for an EOA signer: the caller already has the
// final on-chain hash from ChainClient.SubmitAndMonitor.
func (s *EOASigner) ResolveHash(_ context.Context, proposalID string) (string, error) {
	return proposalID, nil
}

// Destroy zeroes the in-memory key material, the same zeroing discipline
// internal/secret applies to reconstructed shards.
func (s *EOASigner) Destroy() {
	if s.key == nil {
		return
	}
	d := s.key.D.Bits()
	for i := range d {
		d[i] = 0
	}
	runtime.KeepAlive(s.key)
}

var _ Signer = (*EOASigner)(nil)
