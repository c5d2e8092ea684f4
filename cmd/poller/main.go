// Command poller runs the two periodic loops that keep chain inventory
// positioned to settle invoices: the Purchase Loop (C7) and the Rebalance
// Loop (C8). It is the composition root — every component built elsewhere
// in this repo is wired together here and nowhere else, the way the
// teacher's cmd/arcsign entrypoint composes its CLI app from
// internal/services rather than reaching into them from deep call sites.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arcsign/crossrail/internal/bridge"
	"github.com/arcsign/crossrail/internal/bridge/liquidity"
	"github.com/arcsign/crossrail/internal/bridge/optimism"
	"github.com/arcsign/crossrail/internal/bridge/zkrollup"
	"github.com/arcsign/crossrail/internal/chainclient"
	"github.com/arcsign/crossrail/internal/config"
	"github.com/arcsign/crossrail/internal/hub"
	"github.com/arcsign/crossrail/internal/invoicefeed"
	"github.com/arcsign/crossrail/internal/logging"
	"github.com/arcsign/crossrail/internal/metrics"
	"github.com/arcsign/crossrail/internal/oracle"
	"github.com/arcsign/crossrail/internal/planner"
	"github.com/arcsign/crossrail/internal/purchase"
	"github.com/arcsign/crossrail/internal/rebalance"
	"github.com/arcsign/crossrail/internal/secret"
	"github.com/arcsign/crossrail/internal/signer"
	"github.com/arcsign/crossrail/internal/store"
)

func main() {
	log, err := logging.New(os.Getenv("POLLER_ENV"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "poller: logger init: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(log); err != nil {
		log.Fatal("poller: fatal startup or run error", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	cfgPath := os.Getenv("POLLER_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	rec := metrics.NewInMemoryRecorder()
	clients := chainclient.NewRegistry(cfg, rec, 1, log)

	signers, err := buildSigners(cfg, log)
	if err != nil {
		return fmt.Errorf("build signers: %w", err)
	}

	bridges := buildBridges(cfg, clients, log)

	hubContracts := make(map[int]string, len(cfg.Chains))
	for chainID, chainCfg := range cfg.Chains {
		hubContracts[chainID] = chainCfg.Deployments.Everclear
	}
	hubClient := hub.New(hubContracts, clients)

	walletAddress := func(chainID int) string {
		s, err := signers.Get(chainID)
		if err != nil {
			return ""
		}
		return s.GetAddress()
	}
	var orc *oracle.Oracle
	if solanaRPC := os.Getenv("POLLER_SOLANA_RPC_URL"); solanaRPC != "" {
		nonEVMAddress := func(chainID int) (string, bool) {
			addr, ok := cfg.SolanaDepositAddresses[chainID]
			return addr, ok
		}
		orc = oracle.New(cfg, clients, hubClient, walletAddress, nonEVMAddress, log).
			WithSolanaReader(chainclient.NewSolanaReader(solanaRPC))
	} else {
		orc = oracle.New(cfg, clients, hubClient, walletAddress, nil, log)
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	feedURL := os.Getenv("POLLER_INVOICE_FEED_URL")
	feed := invoicefeed.NewHTTPFeed(feedURL)

	planners := make(map[string]*planner.Planner, len(cfg.SupportedAssets))
	for _, ticker := range cfg.SupportedAssets {
		planners[ticker] = planner.New(bridges, cfg.SupportedSettlementDomains, len(cfg.SupportedSettlementDomains))
	}

	submitter := purchase.NewChainSubmitter(bridges, signers, clients)
	purchaseLoop := purchase.New(cfg, feed, hubClient, orc, planners, st, submitter, signers, rec, log)
	rebalanceLoop := rebalance.New(cfg, clients, bridges, signers, st, rec, log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return runLoops(ctx, purchaseLoop, rebalanceLoop, orc, log)
}

// runLoops ticks the purchase and rebalance loops on independent
// intervals until ctx is cancelled, in the spirit of the teacher's
// worker-entrypoint shutdown handling (drain in-flight work, don't start
// new work after cancellation).
func runLoops(ctx context.Context, purchaseLoop *purchase.Loop, rebalanceLoop *rebalance.Loop, orc *oracle.Oracle, log *zap.Logger) error {
	purchaseInterval := envDuration("POLLER_PURCHASE_INTERVAL", 15*time.Second)
	rebalanceInterval := envDuration("POLLER_REBALANCE_INTERVAL", 30*time.Second)

	purchaseTicker := time.NewTicker(purchaseInterval)
	rebalanceTicker := time.NewTicker(rebalanceInterval)
	defer purchaseTicker.Stop()
	defer rebalanceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("poller: shutdown signal received, draining in-flight work")
			return nil
		case <-purchaseTicker.C:
			requestID := uuid.NewString()
			tickCtx, cancel := context.WithTimeout(ctx, purchaseInterval)
			if err := purchaseLoop.Tick(tickCtx, requestID, time.Now()); err != nil {
				log.Error("poller: purchase loop tick failed", zap.String("requestId", requestID), zap.Error(err))
			}
			cancel()
		case <-rebalanceTicker.C:
			requestID := uuid.NewString()
			tickCtx, cancel := context.WithTimeout(ctx, rebalanceInterval)
			snap, err := orc.Tick(tickCtx)
			if err != nil {
				log.Error("poller: rebalance loop oracle snapshot failed", zap.String("requestId", requestID), zap.Error(err))
			} else if err := rebalanceLoop.Tick(tickCtx, requestID, snap); err != nil {
				log.Error("poller: rebalance loop tick failed", zap.String("requestId", requestID), zap.Error(err))
			}
			cancel()
		}
	}
}

// buildSigners reconstructs one Signer per configured wallet from its two
// secret shards (§6 "Runtime environment / secrets") and registers it.
func buildSigners(cfg *config.Config, log *zap.Logger) (*signer.Registry, error) {
	registry := signer.NewRegistry()
	for chainID, wallet := range cfg.Wallets {
		switch wallet.WalletType {
		case config.WalletTypeEOA:
			shard1 := os.Getenv(fmt.Sprintf("POLLER_SIGNER_SHARD1_%d", chainID))
			shard2 := os.Getenv(fmt.Sprintf("POLLER_SIGNER_SHARD2_%d", chainID))
			method := secret.Method(envOr("POLLER_SECRET_METHOD", string(secret.MethodShamir)))
			key, err := secret.Reconstruct(method, shard1, shard2)
			if err != nil {
				return nil, fmt.Errorf("reconstruct signer key for chain %d: %w", chainID, err)
			}
			eoa, err := signer.NewEOASigner(key)
			if err != nil {
				return nil, fmt.Errorf("build EOA signer for chain %d: %w", chainID, err)
			}
			registry.Register(chainID, eoa)
		case config.WalletTypeZodiac:
			serviceURL := os.Getenv("POLLER_SAFE_TX_SERVICE_URL")
			registry.Register(chainID, signer.NewSafeProposerSigner(wallet.SafeAddress, wallet.ModuleAddress, wallet.RoleKey, serviceURL))
		default:
			log.Warn("poller: unknown wallet type, chain has no signer", zap.Int("chain", chainID), zap.String("walletType", string(wallet.WalletType)))
		}
	}
	return registry, nil
}

// buildBridges constructs one adapter instance per distinct bridge tag
// referenced by the route table, reusing each chain's Everclear deployment
// address as the native-bridge contract address — the operational config
// (§6) enumerates one deployment table per chain, not one per bridge
// family, so native-bridge-specific contract addresses collapse onto it.
// CEX and liquid-staking composites need exchange credentials and a
// staking-pool implementation this config surface doesn't carry; routes
// naming those tags are logged and left unregistered rather than guessed.
func buildBridges(cfg *config.Config, clients *chainclient.Registry, log *zap.Logger) *bridge.Registry {
	registry := bridge.NewRegistry()
	seen := make(map[bridge.Tag]bool)

	for _, route := range cfg.Routes {
		for _, tag := range append(append([]string{}, route.Preferences...), route.SwapPreferences...) {
			t := bridge.Tag(tag)
			if seen[t] {
				continue
			}
			seen[t] = true

			switch t {
			case bridge.TagOptimismNative:
				l1Bridge := cfg.Chains[route.Origin].Deployments.Everclear
				l2Bridge := cfg.Chains[route.Destination].Deployments.Everclear
				portal := cfg.Chains[route.Origin].Deployments.Multicall3
				adapter, err := optimism.New(route.Origin, route.Destination, l1Bridge, l2Bridge, portal, optimism.DefaultChallengeWindow, clients)
				if err != nil {
					log.Warn("poller: failed to construct optimism adapter", zap.Error(err))
					continue
				}
				registry.Register(t, adapter)
			case bridge.TagZKRollupNative:
				l1Bridge := cfg.Chains[route.Origin].Deployments.Everclear
				rpcURL := firstOrEmpty(cfg.Chains[route.Destination].Providers)
				registry.Register(t, zkrollup.New(route.Origin, route.Destination, l1Bridge, rpcURL, "", clients))
			case bridge.TagLiquidityPool:
				spokePool := make(map[int]string, len(cfg.Chains))
				for chainID, chainCfg := range cfg.Chains {
					spokePool[chainID] = chainCfg.Deployments.Everclear
				}
				registry.Register(t, liquidity.New(spokePool, 0, clients))
			default:
				log.Warn("poller: bridge tag has no production wiring in this config surface, skipping", zap.String("tag", tag))
			}
		}
	}
	return registry
}

func openStore() (*store.PostgresStore, error) {
	dsn := os.Getenv("POLLER_DATABASE_DSN")
	if dsn == "" {
		return nil, fmt.Errorf("POLLER_DATABASE_DSN is required")
	}
	return store.Open(dsn)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	seconds, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

func firstOrEmpty(xs []string) string {
	if len(xs) == 0 {
		return ""
	}
	return xs[0]
}
