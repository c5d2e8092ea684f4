package chainclient

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/arcsign/crossrail/internal/config"
	"github.com/arcsign/crossrail/internal/metrics"
)

// Registry caches one ChainClient per chain, constructed lazily from the
// operational config the first time it's requested (internal/signer.Registry
// and internal/bridge.Registry, by contrast, only hold instances built and
// registered by their callers). Every client it hands out is wrapped in a
// MetricsClient so RPC call metrics are recorded uniformly regardless of
// caller.
type Registry struct {
	mu               sync.Mutex
	cfg              *config.Config
	metrics          metrics.Recorder
	log              *zap.Logger
	minConfirmations uint64
	clients          map[int]ChainClient
}

func NewRegistry(cfg *config.Config, rec metrics.Recorder, minConfirmations uint64, log *zap.Logger) *Registry {
	return &Registry{cfg: cfg, metrics: rec, minConfirmations: minConfirmations, log: log, clients: make(map[int]ChainClient)}
}

// ChainClient resolves (constructing and caching, if necessary) the
// ChainClient for chainID. Every chain in the operational config is
// currently backed by the EVM implementation; a non-EVM chain would
// register its own constructor here.
func (r *Registry) ChainClient(chainID int) (ChainClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[chainID]; ok {
		return c, nil
	}

	chainCfg, ok := r.cfg.Chains[chainID]
	if !ok {
		return nil, fmt.Errorf("chainclient: no configuration for chain %d", chainID)
	}

	evm, err := NewEVMClient(chainID, chainCfg.Providers, r.minConfirmations, r.log)
	if err != nil {
		return nil, err
	}

	wrapped := NewMetricsClient(evm, r.metrics)
	r.clients[chainID] = wrapped
	return wrapped, nil
}
