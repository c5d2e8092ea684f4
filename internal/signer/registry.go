package signer

import (
	"fmt"
	"sync"
)

// Registry holds one Signer per chain. It constructs none itself; callers
// install pre-built signers with Register.
type Registry struct {
	mu      sync.Mutex
	signers map[int]Signer
}

func NewRegistry() *Registry {
	return &Registry{signers: make(map[int]Signer)}
}

// Register installs a pre-built signer for a chain. Callers build the
// concrete EOA or safe-proposer signer from config + reconstructed secret
// shards once at startup and register it here.
func (r *Registry) Register(chainID int, s Signer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signers[chainID] = s
}

func (r *Registry) Get(chainID int) (Signer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.signers[chainID]
	if !ok {
		return nil, fmt.Errorf("signer: no signer registered for chain %d", chainID)
	}
	return s, nil
}
