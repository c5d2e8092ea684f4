// Package purchase implements C7: the Purchase Loop. Each tick it snapshots
// balances, reconciles outstanding purchase records against hub status,
// validates and groups queued invoices, plans allocations via C5, and
// submits the resulting operations through a Signer+ChainClient pair,
// recording an Earmark and its RebalanceOperations in the State Store as it
// goes (§4.7). Grounded on the teacher's service-orchestration shape in
// src/chainadapter (compose narrow capability interfaces, never reach past
// them into chain-specific details) and the pack's chapool-go-wallet
// rebalance Service for the "snapshot, reconcile, submit, record" tick
// structure.
package purchase

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arcsign/crossrail/internal/config"
	"github.com/arcsign/crossrail/internal/domain"
	"github.com/arcsign/crossrail/internal/errs"
	"github.com/arcsign/crossrail/internal/hub"
	"github.com/arcsign/crossrail/internal/metrics"
	"github.com/arcsign/crossrail/internal/oracle"
	"github.com/arcsign/crossrail/internal/planner"
	"github.com/arcsign/crossrail/internal/signer"
	"github.com/arcsign/crossrail/internal/store"
)

// InvalidReason enumerates §4.7 step 5's invoice validation failures.
type InvalidReason string

const (
	InvalidFormat          InvalidReason = "InvalidFormat"
	InvalidOwner           InvalidReason = "InvalidOwner"
	InvalidAge             InvalidReason = "InvalidAge"
	DestinationXerc20      InvalidReason = "DestinationXerc20"
	ReasonTransactionFailed InvalidReason = "TransactionFailed"
)

// InvoiceFeed is the Purchase Loop's view of the external invoice queue.
type InvoiceFeed interface {
	ListQueued(ctx context.Context) ([]domain.Invoice, error)
}

// HubClient is the subset of internal/hub.Hub the Purchase Loop needs.
type HubClient interface {
	PendingInboundAmount(ctx context.Context, domainChain int, tickerHash string) (*big.Int, error)
	IsXERC20Supported(ctx context.Context, domainChain int, tickerHash string) (bool, error)
	IntentStatusOf(ctx context.Context, chain int, intentID string) (hub.IntentStatus, error)
}

// Submitter submits a built transaction through a chain-specific
// Signer+ChainClient pair and returns the hash (or proposal id) plus the
// submission kind (§4.7 step 7).
type Submitter interface {
	SubmitPurchase(ctx context.Context, chain int, params map[string]interface{}) (hash, kind string, err error)
	SubmitAllowance(ctx context.Context, chain int, asset, spender string, amount *big.Int) error
}

// Oracle is the subset of internal/oracle.Oracle the loop needs.
type Oracle interface {
	Tick(ctx context.Context) (*oracle.Snapshot, error)
}

// Loop orchestrates one Purchase Loop tick.
type Loop struct {
	cfg       *config.Config
	feed      InvoiceFeed
	hub       HubClient
	oracle    Oracle
	planners  map[string]*planner.Planner // keyed by ticker
	store     store.Store
	submitter Submitter
	signers   *signer.Registry
	metrics   metrics.Recorder
	log       *zap.Logger

	records   map[string]domain.PurchaseRecord // intentId -> record, in-memory cache
}

func New(cfg *config.Config, feed InvoiceFeed, hub HubClient, orc Oracle, planners map[string]*planner.Planner, st store.Store, sub Submitter, signers *signer.Registry, rec metrics.Recorder, log *zap.Logger) *Loop {
	return &Loop{
		cfg: cfg, feed: feed, hub: hub, oracle: orc, planners: planners,
		store: st, submitter: sub, signers: signers, metrics: rec, log: log,
		records: make(map[string]domain.PurchaseRecord),
	}
}

// Tick runs one full Purchase Loop pass (§4.7).
func (l *Loop) Tick(ctx context.Context, requestID string, start time.Time) error {
	log := l.log.With(zap.String("requestId", requestID))

	// Step 1: snapshot balances and custodied balances.
	snap, err := l.oracle.Tick(ctx)
	if err != nil {
		return fmt.Errorf("purchase: oracle tick: %w", err)
	}

	// Step 2: reconcile in-flight PurchaseRecords against hub status.
	l.reconcileRecords(ctx, log)

	// Step 3: pull invoices, adjust custodied balances with pending inbound intents.
	invoices, err := l.feed.ListQueued(ctx)
	if err != nil {
		return fmt.Errorf("purchase: list queued invoices: %w", err)
	}
	adjustedCustodied := l.adjustCustodied(ctx, snap.Custodied, invoices, log)

	// Step 4: group by ticker, oldest-first within each group.
	groups := groupByTicker(invoices)
	for ticker, group := range groups {
		for range group {
			l.metrics.RecordPossibleInvoiceSeen(ticker)
		}
	}

	// Step 5 + 6: validate, plan, submit per group.
	for ticker, group := range groups {
		l.processGroup(ctx, ticker, group, snap, adjustedCustodied, log)
	}

	_ = start
	return nil
}

func (l *Loop) reconcileRecords(ctx context.Context, log *zap.Logger) {
	for intentID, rec := range l.records {
		status, err := l.hub.IntentStatusOf(ctx, chainOfRecord(rec), intentID)
		if err != nil {
			log.Warn("purchase: failed to reconcile purchase record", zap.String("intentId", intentID), zap.Error(err))
			continue
		}
		if status.IsTerminal() {
			delete(l.records, intentID)
		}
	}
}

func chainOfRecord(rec domain.PurchaseRecord) int {
	if chain, ok := rec.Params["originChain"].(int); ok {
		return chain
	}
	return 0
}

// adjustCustodied implements §4.7 step 3: for each invoice's candidate
// origins, add the hub's pending-inbound amount for (ticker, domain);
// per-domain failures are treated as zero adjustment.
func (l *Loop) adjustCustodied(ctx context.Context, custodied map[string]map[int]*big.Int, invoices []domain.Invoice, log *zap.Logger) map[string]map[int]*big.Int {
	out := make(map[string]map[int]*big.Int, len(custodied))
	for ticker, byChain := range custodied {
		out[ticker] = make(map[int]*big.Int, len(byChain))
		for chain, amt := range byChain {
			out[ticker][chain] = new(big.Int).Set(amt)
		}
	}

	for _, inv := range invoices {
		for _, domainChain := range inv.DestinationChains {
			pending, err := l.hub.PendingInboundAmount(ctx, domainChain, inv.TickerHash)
			if err != nil {
				log.Warn("purchase: pending inbound query failed, treating as zero", zap.Int("chain", domainChain), zap.Error(err))
				continue
			}
			if out[inv.TickerHash] == nil {
				out[inv.TickerHash] = make(map[int]*big.Int)
			}
			cur, ok := out[inv.TickerHash][domainChain]
			if !ok {
				cur = big.NewInt(0)
			}
			out[inv.TickerHash][domainChain] = new(big.Int).Add(cur, pending)
		}
	}
	return out
}

func groupByTicker(invoices []domain.Invoice) map[string][]domain.Invoice {
	groups := make(map[string][]domain.Invoice)
	for _, inv := range invoices {
		groups[inv.TickerHash] = append(groups[inv.TickerHash], inv)
	}
	for ticker := range groups {
		g := groups[ticker]
		sort.Slice(g, func(i, j int) bool { return g[i].QueuedAt.Before(g[j].QueuedAt) })
		groups[ticker] = g
	}
	return groups
}

// validate implements §4.7 step 5.
func (l *Loop) validate(inv domain.Invoice, operatorAddress string) (InvalidReason, bool) {
	if inv.Amount == nil || inv.Amount.Sign() <= 0 || inv.IntentID == "" || inv.TickerHash == "" {
		return InvalidFormat, false
	}
	if inv.Owner == operatorAddress {
		return InvalidOwner, false
	}
	if time.Since(inv.QueuedAt) < time.Duration(l.cfg.InvoiceAge)*time.Second {
		return InvalidAge, false
	}
	return "", true
}

// hasSupportedDestination reports whether at least one of the invoice's
// candidate destinations supports xERC20 settlement for this ticker; an
// invoice with none is rejected with DestinationXerc20 (§4.7 step 5).
func (l *Loop) hasSupportedDestination(ctx context.Context, inv domain.Invoice) bool {
	for _, dest := range inv.DestinationChains {
		supported, err := l.hub.IsXERC20Supported(ctx, dest, inv.TickerHash)
		if err == nil && supported {
			return true
		}
	}
	return false
}

// processGroup runs §4.7 steps 5-8 for one ticker's invoice group.
func (l *Loop) processGroup(ctx context.Context, ticker string, group []domain.Invoice, snap *oracle.Snapshot, custodied map[string]map[int]*big.Int, log *zap.Logger) {
	p, ok := l.planners[ticker]
	if !ok {
		log.Warn("purchase: no planner configured for ticker", zap.String("ticker", ticker))
		return
	}

	var chosenOrigin int
	haveChosenOrigin := false
	pendingOrigins := make(map[int]bool)

	for idx, inv := range group {
		reason, ok := l.validate(inv, l.operatorAddress())
		if !ok {
			l.metrics.RecordInvoiceRejected(ticker, string(reason))
			continue
		}
		if !l.hasSupportedDestination(ctx, inv) {
			l.metrics.RecordInvoiceRejected(ticker, string(DestinationXerc20))
			continue
		}

		minAmountByOrigin := l.minAmountTable(ticker)
		balances := snap.Balances[ticker]
		custodiedForTicker := custodied[ticker]

		candidates := domainsOrEmpty(inv.DestinationChains)
		if haveChosenOrigin {
			candidates = []int{chosenOrigin}
			if !containsInt(inv.DestinationChains, chosenOrigin) {
				continue
			}
		}

		routeConfigs := l.routeConfigsForTicker(ticker)
		invForPlan := inv
		invForPlan.DestinationChains = candidates

		purchaseStart := time.Now()
		ops, produced, err := p.Plan(ctx, invForPlan, minAmountByOrigin, balances, custodiedForTicker, pendingOrigins, routeConfigs, ticker)
		if err != nil {
			if l.cfg.ForceOldestInvoice && idx == 0 {
				return
			}
			continue
		}
		if len(ops) == 0 || produced.Sign() == 0 {
			continue
		}

		earmark := &domain.Earmark{
			ID:            uuid.NewString(),
			InvoiceID:     inv.IntentID,
			PurchaseChain: ops[0].Origin,
			Ticker:        ticker,
			MinAmount:     inv.Amount,
			Status:        domain.EarmarkInitiating,
		}
		operations := make([]*domain.RebalanceOperation, 0, len(ops))
		for _, op := range ops {
			operations = append(operations, &domain.RebalanceOperation{
				ID:               uuid.NewString(),
				OriginChain:      op.Origin,
				DestinationChain: op.Destination,
				Ticker:           ticker,
				Amount:           op.Amount,
				SlippageDbps:     op.SlippageDbps,
				BridgeKind:       op.BridgeKind,
				Status:           domain.OperationPending,
				Legs:             map[int]domain.LegInfo{},
			})
		}

		if err := l.store.CreateEarmark(ctx, earmark, operations); err != nil {
			if errs.ClassifyOf(err) == errs.ClassBenign {
				continue
			}
			log.Error("purchase: create earmark failed", zap.Error(err))
			continue
		}

		l.submitOperations(ctx, earmark, operations, log)

		chosenOrigin = ops[0].Origin
		haveChosenOrigin = true
		for _, op := range ops {
			pendingOrigins[op.Origin] = true
		}

		l.metrics.RecordSuccessfulPurchase(ticker, ops[0].Origin)
		l.metrics.RecordInvoicePurchaseDuration(ticker, time.Since(purchaseStart))
		rewardFloat, _ := new(big.Float).SetInt(inv.Amount).Float64()
		l.metrics.UpdateRewards(ticker, rewardFloat*float64(inv.DiscountBps)/10000.0)

		l.records[inv.IntentID] = domain.PurchaseRecord{
			IntentID:       inv.IntentID,
			InvoiceID:      inv.IntentID,
			Params:         map[string]interface{}{"originChain": ops[0].Origin, "ticker": ticker},
			SubmissionKind: "on-chain",
			CachedAt:       time.Now(),
		}

		// only the first viable invoice per group is served per tick (§4.7 step 6).
		return
	}
}

// submitOperations implements §4.7 step 7: submit each operation's main
// transaction through the Submitter, persist hashes, bind status
// transitions. It builds no allowance transaction; Submitter.SubmitAllowance
// is not called here.
func (l *Loop) submitOperations(ctx context.Context, earmark *domain.Earmark, ops []*domain.RebalanceOperation, log *zap.Logger) {
	anyDispatched := false
	for _, op := range ops {
		hash, kind, err := l.submitter.SubmitPurchase(ctx, op.OriginChain, map[string]interface{}{
			"destinationChain": op.DestinationChain,
			"ticker":           op.Ticker,
			"amount":           op.Amount.String(),
			"bridge":           op.BridgeKind,
		})
		if err != nil {
			log.Warn("purchase: submit failed", zap.String("operationId", op.ID), zap.Error(err))
			op.Status = domain.OperationCancelled
			_ = l.store.UpdateRebalanceOperation(ctx, op)
			continue
		}
		op.Legs[op.OriginChain] = domain.LegInfo{Hash: hash, Metadata: map[string]interface{}{"submissionKind": kind}}
		op.Status = domain.OperationAwaitingCallback
		if err := l.store.UpdateRebalanceOperation(ctx, op); err != nil {
			log.Error("purchase: persist operation hash failed", zap.Error(err))
			continue
		}
		anyDispatched = true
	}

	if anyDispatched {
		if err := l.store.UpdateEarmarkStatus(ctx, earmark.ID, domain.EarmarkPending, map[string]interface{}{"operationCount": len(ops)}); err != nil {
			log.Error("purchase: advance earmark to pending failed", zap.Error(err))
		}
	}
}

func (l *Loop) operatorAddress() string {
	// the operator's own EOA/module address; populated by the first
	// registered chain's signer at wiring time (cmd/poller/main.go).
	for chain := range l.cfg.Chains {
		if s, err := l.signers.Get(chain); err == nil {
			return s.GetAddress()
		}
	}
	return ""
}

func (l *Loop) minAmountTable(ticker string) map[int]*big.Int {
	out := make(map[int]*big.Int)
	for chainID, chainCfg := range l.cfg.Chains {
		for _, asset := range chainCfg.Assets {
			if asset.Symbol != ticker {
				continue
			}
			if asset.BalanceThreshold == "" {
				out[chainID] = big.NewInt(0)
				continue
			}
			min, ok := new(big.Int).SetString(asset.BalanceThreshold, 10)
			if !ok {
				min = big.NewInt(0)
			}
			out[chainID] = min
		}
	}
	return out
}

func (l *Loop) routeConfigsForTicker(ticker string) map[int]domain.RouteRebalancingConfig {
	out := make(map[int]domain.RouteRebalancingConfig)
	for _, r := range l.cfg.Routes {
		if r.Asset != ticker && r.DestinationAsset != ticker {
			continue
		}
		slippages := make(map[string]int64, len(r.Preferences))
		for i, pref := range r.Preferences {
			if i < len(r.SlippagesDbps) {
				slippages[pref] = r.SlippagesDbps[i]
			}
		}
		maximum, _ := new(big.Int).SetString(r.Maximum, 10)
		reserve, _ := new(big.Int).SetString(r.Reserve, 10)
		out[r.Destination] = domain.RouteRebalancingConfig{
			Route: domain.RebalanceRoute{
				OriginChain: r.Origin, DestinationChain: r.Destination,
				Asset: r.Asset, DestinationAsset: r.DestinationAsset,
			},
			Preferences:     r.Preferences,
			SlippagesDbps:   slippages,
			SwapPreferences: r.SwapPreferences,
			Maximum:         maximum,
			Reserve:         reserve,
		}
	}
	return out
}

func domainsOrEmpty(domains []int) []int {
	if domains == nil {
		return []int{}
	}
	out := make([]int, len(domains))
	copy(out, domains)
	return out
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
