package chainclient

import (
	"context"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// SolanaReader reads balances on a non-EVM settlement domain. It is
// intentionally narrower than ChainClient — the poller never submits a
// Solana transaction itself, it only needs to see what's sitting at a
// liquidity venue's deposit address for the oracle snapshot (§4.4).
type SolanaReader struct {
	rpc *rpc.Client
}

func NewSolanaReader(endpoint string) *SolanaReader {
	return &SolanaReader{rpc: rpc.New(endpoint)}
}

// GetNativeBalance returns the lamport balance of a base58-encoded account.
func (s *SolanaReader) GetNativeBalance(ctx context.Context, address string) (*big.Int, error) {
	pub, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("solana: invalid address %q: %w", address, err)
	}
	out, err := s.rpc.GetBalance(ctx, pub, rpc.CommitmentFinalized)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetUint64(out.Value), nil
}

// GetTokenBalance returns the raw (pre-decimals) balance of the SPL token
// account at the given base58 address.
func (s *SolanaReader) GetTokenBalance(ctx context.Context, tokenAccount string) (*big.Int, error) {
	pub, err := solana.PublicKeyFromBase58(tokenAccount)
	if err != nil {
		return nil, fmt.Errorf("solana: invalid token account %q: %w", tokenAccount, err)
	}
	out, err := s.rpc.GetTokenAccountBalance(ctx, pub, rpc.CommitmentFinalized)
	if err != nil {
		return nil, err
	}
	amount, ok := new(big.Int).SetString(out.Value.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("solana: unparsable token amount %q", out.Value.Amount)
	}
	return amount, nil
}
