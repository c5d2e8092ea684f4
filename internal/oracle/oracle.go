// Package oracle implements C4: the Balance Oracle. On each tick it fans
// out reads across every configured (ticker, chain) pair and produces the
// three maps the planner and loops consume — balances, gas balances, and
// hub-custodied amounts. Balances and custodied amounts are normalized to
// canonical 18-decimal units; gas balances stay in native units.
// Grounded on the teacher's provider registry fan-out style
// (src/chainadapter/provider/registry.go's per-provider health probing)
// adapted from "probe every provider" to "read every (ticker, chain)
// pair", with per-entry failure degrading to zero rather than aborting
// the tick (§4.4).
package oracle

import (
	"context"
	"fmt"
	"sync"

	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"github.com/arcsign/crossrail/internal/chainclient"
	"github.com/arcsign/crossrail/internal/config"
	"github.com/arcsign/crossrail/internal/decimals"
	"math/big"
)

// Snapshot is the output of one oracle tick (§4.4).
type Snapshot struct {
	Balances    map[string]map[int]*big.Int // ticker -> chain -> 18-dp amount
	GasBalances map[int]*big.Int            // chain -> native amount
	Custodied   map[string]map[int]*big.Int // ticker -> chain -> 18-dp hub-custodied amount
}

// HubReader reads the hub contract's custodiedAssets(assetHash) view. It is
// a narrow seam so the oracle doesn't need to know ABI encoding details for
// a contract that lives outside this repo's scope.
type HubReader interface {
	CustodiedAssets(ctx context.Context, chain int, tickerHash string) (*big.Int, error)
}

// Clients resolves a ChainClient for a chain ID; the same seam interface
// internal/bridge uses, so both packages share one wiring path in
// cmd/poller/main.go.
type Clients interface {
	ChainClient(chainID int) (chainclient.ChainClient, error)
}

// Oracle produces a fresh Snapshot on each Tick call.
type Oracle struct {
	cfg     *config.Config
	clients Clients
	hub     HubReader
	// walletAddress resolves the address whose balance should be read for
	// a chain: the raw EOA, or — when Zodiac wiring is configured — the
	// module owner address that substitutes for it (§4.4).
	walletAddress func(chainID int) string
	// nonEVMAddress resolves a base58-encoded address (e.g. Solana) for
	// chains that use a non-hex address format.
	nonEVMAddress func(chainID int) (string, bool)
	// solana reads balances directly for chains resolved via nonEVMAddress,
	// bypassing the EVM-shaped ChainClient entirely.
	solana *chainclient.SolanaReader
	log    *zap.Logger
}

func New(cfg *config.Config, clients Clients, hub HubReader, walletAddress func(int) string, nonEVMAddress func(int) (string, bool), log *zap.Logger) *Oracle {
	return &Oracle{cfg: cfg, clients: clients, hub: hub, walletAddress: walletAddress, nonEVMAddress: nonEVMAddress, log: log}
}

// WithSolanaReader attaches the non-EVM balance reader; chains without a
// nonEVMAddress resolution never touch it.
func (o *Oracle) WithSolanaReader(r *chainclient.SolanaReader) *Oracle {
	o.solana = r
	return o
}

// Tick fans reads out across every configured asset/chain pair. A failure
// on any single entry logs a warning and records a zero for that entry;
// it never aborts the rest of the snapshot (§4.4 "fan-out with per-entry
// failure => zero").
func (o *Oracle) Tick(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		Balances:    make(map[string]map[int]*big.Int),
		GasBalances: make(map[int]*big.Int),
		Custodied:   make(map[string]map[int]*big.Int),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	for chainID, chainCfg := range o.cfg.Chains {
		chainID, chainCfg := chainID, chainCfg

		wg.Add(1)
		go func() {
			defer wg.Done()
			gas := o.readGasBalance(ctx, chainID)
			mu.Lock()
			snap.GasBalances[chainID] = gas
			mu.Unlock()
		}()

		for _, asset := range chainCfg.Assets {
			asset := asset
			wg.Add(1)
			go func() {
				defer wg.Done()
				bal := o.readAssetBalance(ctx, chainID, asset)
				mu.Lock()
				if snap.Balances[asset.Symbol] == nil {
					snap.Balances[asset.Symbol] = make(map[int]*big.Int)
				}
				snap.Balances[asset.Symbol][chainID] = bal
				mu.Unlock()
			}()

			if o.hub != nil {
				wg.Add(1)
				go func() {
					defer wg.Done()
					custodied := o.readCustodied(ctx, chainID, asset)
					mu.Lock()
					if snap.Custodied[asset.Symbol] == nil {
						snap.Custodied[asset.Symbol] = make(map[int]*big.Int)
					}
					snap.Custodied[asset.Symbol][chainID] = custodied
					mu.Unlock()
				}()
			}
		}
	}

	wg.Wait()
	return snap, nil
}

func (o *Oracle) readGasBalance(ctx context.Context, chainID int) *big.Int {
	addr, isNonEVM, ok := o.resolveAddress(chainID)
	if !ok {
		return big.NewInt(0)
	}
	if isNonEVM {
		bal, err := o.solana.GetNativeBalance(ctx, addr)
		if err != nil {
			o.warnZero("gas balance", chainID, "", err)
			return big.NewInt(0)
		}
		return bal
	}

	client, err := o.clients.ChainClient(chainID)
	if err != nil {
		o.warnZero("gas balance", chainID, "", err)
		return big.NewInt(0)
	}
	bal, err := client.GetNativeBalance(ctx, addr)
	if err != nil {
		o.warnZero("gas balance", chainID, "", err)
		return big.NewInt(0)
	}
	return bal
}

func (o *Oracle) readAssetBalance(ctx context.Context, chainID int, asset config.AssetConfig) *big.Int {
	addr, isNonEVM, ok := o.resolveAddress(chainID)
	if !ok {
		return big.NewInt(0)
	}

	var native *big.Int
	var err error
	if isNonEVM {
		native, err = o.solana.GetTokenBalance(ctx, asset.Address)
	} else {
		client, clientErr := o.clients.ChainClient(chainID)
		if clientErr != nil {
			o.warnZero("balance", chainID, asset.Symbol, clientErr)
			return big.NewInt(0)
		}
		if asset.IsNative {
			native, err = client.GetNativeBalance(ctx, addr)
		} else {
			native, err = client.GetTokenBalance(ctx, asset.Address, addr)
		}
	}
	if err != nil {
		o.warnZero("balance", chainID, asset.Symbol, err)
		return big.NewInt(0)
	}
	return decimals.ToCanonical(native, asset.Decimals)
}

func (o *Oracle) readCustodied(ctx context.Context, chainID int, asset config.AssetConfig) *big.Int {
	amount, err := o.hub.CustodiedAssets(ctx, chainID, asset.TickerHash)
	if err != nil {
		o.warnZero("custodied", chainID, asset.Symbol, err)
		return big.NewInt(0)
	}
	return decimals.ToCanonical(amount, asset.Decimals)
}

// resolveAddress picks the base58 non-EVM path when configured for this
// chain, otherwise the hex wallet address (raw EOA or Zodiac module owner
// per the walletAddress resolver). The second return value reports whether
// the address is non-EVM (and so must be read through solana, not clients).
func (o *Oracle) resolveAddress(chainID int) (string, bool, bool) {
	if o.nonEVMAddress != nil {
		if addr, ok := o.nonEVMAddress(chainID); ok {
			if _, err := base58.Decode(addr); err != nil {
				o.warnZero("address decode", chainID, "", err)
				return "", false, false
			}
			if o.solana == nil {
				o.warnZero("address decode", chainID, "", fmt.Errorf("no solana reader configured"))
				return "", false, false
			}
			return addr, true, true
		}
	}
	addr := o.walletAddress(chainID)
	if addr == "" {
		return "", false, false
	}
	return addr, false, true
}

func (o *Oracle) warnZero(what string, chainID int, asset string, err error) {
	if o.log == nil {
		return
	}
	o.log.Warn("oracle entry failed, recording zero",
		zap.String("what", what), zap.Int("chain", chainID), zap.String("asset", asset), zap.Error(err))
}
