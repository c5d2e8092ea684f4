// Package rebalance implements C8: the Rebalance Loop. Each tick runs two
// independent phases — driving in-flight operations through their
// callback lifecycle (Phase A) and opening new top-up operations on
// routes that have drifted over their configured maximum (Phase B) —
// plus an independent gas/bandwidth/energy threshold check. Grounded on
// the teacher's periodic-reconciliation shape (src/chainadapter's health
// probing loop) widened from "probe and record" into "probe, transition,
// submit" against the State Store's operation rows (§4.8).
package rebalance

import (
	"context"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"github.com/arcsign/crossrail/internal/bridge"
	"github.com/arcsign/crossrail/internal/chainclient"
	"github.com/arcsign/crossrail/internal/config"
	"github.com/arcsign/crossrail/internal/decimals"
	"github.com/arcsign/crossrail/internal/domain"
	"github.com/arcsign/crossrail/internal/errs"
	"github.com/arcsign/crossrail/internal/metrics"
	"github.com/arcsign/crossrail/internal/oracle"
	"github.com/arcsign/crossrail/internal/signer"
	"github.com/arcsign/crossrail/internal/store"
)

// Clients resolves a ChainClient for a chain ID; the same seam interface
// internal/bridge and internal/oracle use.
type Clients interface {
	ChainClient(chainID int) (chainclient.ChainClient, error)
}

// CancelledError is reported by an adapter (via an explicit error kind on
// its DestinationCallback/ReadyOnDestination return) to mean the bridge
// mechanism itself has permanently failed this transfer, distinct from a
// transient *errs.SubmitError (§4.8 "Unrecoverable errors").
type CancelledError struct {
	Reason string
}

func (e *CancelledError) Error() string { return fmt.Sprintf("bridge reports cancelled: %s", e.Reason) }

// Loop orchestrates one Rebalance Loop tick.
type Loop struct {
	cfg     *config.Config
	clients Clients
	bridges *bridge.Registry
	signers *signer.Registry
	store   store.Store
	metrics metrics.Recorder
	log     *zap.Logger
}

func New(cfg *config.Config, clients Clients, bridges *bridge.Registry, signers *signer.Registry, st store.Store, rec metrics.Recorder, log *zap.Logger) *Loop {
	return &Loop{cfg: cfg, clients: clients, bridges: bridges, signers: signers, store: st, metrics: rec, log: log}
}

// Tick runs Phase A, Phase B, and gas monitoring in sequence.
func (l *Loop) Tick(ctx context.Context, requestID string, snap *oracle.Snapshot) error {
	log := l.log.With(zap.String("requestId", requestID))

	if err := l.phaseA(ctx, log); err != nil {
		return fmt.Errorf("rebalance: phase A: %w", err)
	}
	l.phaseB(ctx, snap, log)
	l.monitorGas(snap, log)
	return nil
}

// phaseA drives every {pending, awaiting_callback} operation one step
// through its lifecycle (§4.8 Phase A).
func (l *Loop) phaseA(ctx context.Context, log *zap.Logger) error {
	ops, err := l.store.GetRebalanceOperations(ctx, []domain.OperationStatus{domain.OperationPending, domain.OperationAwaitingCallback})
	if err != nil {
		return err
	}

	for _, op := range ops {
		adapter, err := l.bridges.Get(bridge.Tag(op.BridgeKind))
		if err != nil {
			log.Warn("rebalance: no adapter for operation's bridge kind", zap.String("operationId", op.ID), zap.String("bridge", op.BridgeKind), zap.Error(err))
			continue
		}
		origin := originReceiptOf(op)
		route := bridge.Route{OriginChain: op.OriginChain, DestinationChain: op.DestinationChain, Asset: op.Ticker}

		switch op.Status {
		case domain.OperationPending:
			l.advancePending(ctx, op, adapter, route, origin, log)
		case domain.OperationAwaitingCallback:
			l.advanceAwaitingCallback(ctx, op, adapter, route, origin, log)
		}
	}
	return nil
}

func originReceiptOf(op *domain.RebalanceOperation) bridge.OriginReceipt {
	leg, ok := op.Legs[op.OriginChain]
	if !ok {
		return bridge.OriginReceipt{Chain: op.OriginChain}
	}
	return bridge.OriginReceipt{TxHash: leg.Hash, Chain: op.OriginChain, Raw: leg.Receipt}
}

func (l *Loop) advancePending(ctx context.Context, op *domain.RebalanceOperation, adapter bridge.Adapter, route bridge.Route, origin bridge.OriginReceipt, log *zap.Logger) {
	ready, err := adapter.ReadyOnDestination(ctx, op.Amount, route, origin)
	if err != nil {
		if cancelled, ok := err.(*CancelledError); ok {
			l.cancelRebalanceOperation(ctx, op, cancelled, log)
			return
		}
		if errs.ClassifyOf(err) != errs.ClassBenign {
			log.Warn("rebalance: readyOnDestination failed, retrying next tick", zap.String("operationId", op.ID), zap.Error(err))
		}
		return
	}
	if !ready {
		return
	}
	op.Status = domain.OperationAwaitingCallback
	if err := l.store.UpdateRebalanceOperation(ctx, op); err != nil {
		log.Error("rebalance: advance to awaiting_callback failed", zap.String("operationId", op.ID), zap.Error(err))
	}
	l.metrics.RecordCallbackPending(op.BridgeKind)
}

func (l *Loop) advanceAwaitingCallback(ctx context.Context, op *domain.RebalanceOperation, adapter bridge.Adapter, route bridge.Route, origin bridge.OriginReceipt, log *zap.Logger) {
	callbackTx, err := adapter.DestinationCallback(ctx, op.Amount, route, origin)
	if err != nil {
		if cancelled, ok := err.(*CancelledError); ok {
			l.cancelRebalanceOperation(ctx, op, cancelled, log)
			return
		}
		log.Warn("rebalance: destinationCallback failed, retrying next tick", zap.String("operationId", op.ID), zap.Error(err))
		l.metrics.RecordRebalanceOperation(op.BridgeKind, false)
		return
	}

	if callbackTx == nil {
		op.Status = domain.OperationCompleted
		if err := l.store.UpdateRebalanceOperation(ctx, op); err != nil {
			log.Error("rebalance: finalize without callback failed", zap.String("operationId", op.ID), zap.Error(err))
			return
		}
		l.metrics.RecordRebalanceOperation(op.BridgeKind, true)
		return
	}

	signerImpl, err := l.signers.Get(op.DestinationChain)
	if err != nil {
		log.Error("rebalance: no signer for destination chain", zap.Int("chain", op.DestinationChain), zap.Error(err))
		return
	}
	client, err := l.clients.ChainClient(op.DestinationChain)
	if err != nil {
		log.Error("rebalance: no chain client for destination chain", zap.Int("chain", op.DestinationChain), zap.Error(err))
		return
	}

	hash, err := submitMemoizedTx(ctx, signerImpl, client, *callbackTx)
	if err != nil {
		log.Warn("rebalance: callback submission failed, retrying next tick", zap.String("operationId", op.ID), zap.Error(err))
		l.metrics.RecordRebalanceOperation(op.BridgeKind, false)
		return
	}

	leg := op.Legs[op.DestinationChain]
	leg.Hash = hash
	op.Legs[op.DestinationChain] = leg
	op.Status = domain.OperationCompleted
	if err := l.store.UpdateRebalanceOperation(ctx, op); err != nil {
		log.Error("rebalance: persist completed callback failed", zap.String("operationId", op.ID), zap.Error(err))
		return
	}
	l.metrics.RecordRebalanceOperation(op.BridgeKind, true)
}

// cancelRebalanceOperation flips the row to cancelled, flags it orphaned
// when it has a parent earmark, and marks that earmark failed, so the
// planner can reuse the funds once received (§4.8 "Unrecoverable errors").
func (l *Loop) cancelRebalanceOperation(ctx context.Context, op *domain.RebalanceOperation, cause *CancelledError, log *zap.Logger) {
	op.Status = domain.OperationCancelled
	op.IsOrphaned = op.EarmarkID != ""
	if err := l.store.UpdateRebalanceOperation(ctx, op); err != nil {
		log.Error("rebalance: cancel operation failed", zap.String("operationId", op.ID), zap.Error(err))
		return
	}
	if op.EarmarkID != "" {
		if err := l.store.UpdateEarmarkStatus(ctx, op.EarmarkID, domain.EarmarkFailed, map[string]interface{}{"reason": cause.Reason, "operationId": op.ID}); err != nil {
			log.Error("rebalance: mark earmark failed after cancel", zap.String("earmarkId", op.EarmarkID), zap.Error(err))
		}
	}
	l.metrics.RecordRebalanceOperation(op.BridgeKind, false)
}

// phaseB opens top-up operations on any configured route whose origin
// balance has drifted past its maximum (§4.8 Phase B).
func (l *Loop) phaseB(ctx context.Context, snap *oracle.Snapshot, log *zap.Logger) {
	if snap == nil {
		return
	}
	for _, route := range l.cfg.Routes {
		balances, ok := snap.Balances[route.Asset]
		if !ok {
			continue
		}
		balance, ok := balances[route.Origin]
		if !ok {
			continue
		}
		maximum, ok := new(big.Int).SetString(route.Maximum, 10)
		if !ok || balance.Cmp(maximum) <= 0 {
			continue
		}

		excess := new(big.Int).Sub(balance, maximum)
		if !l.tryPreferences(ctx, route, excess, log) {
			log.Warn("rebalance: top-up exhausted all preferences", zap.Int("origin", route.Origin), zap.Int("destination", route.Destination), zap.String("asset", route.Asset))
		}
	}
}

func (l *Loop) tryPreferences(ctx context.Context, route config.RouteConfig, excess *big.Int, log *zap.Logger) bool {
	for i, tag := range route.Preferences {
		adapter, err := l.bridges.Get(bridge.Tag(tag))
		if err != nil {
			continue
		}
		maxSlippage := int64(0)
		if i < len(route.SlippagesDbps) {
			maxSlippage = route.SlippagesDbps[i]
		}
		bridgeRoute := bridge.Route{OriginChain: route.Origin, DestinationChain: route.Destination, Asset: route.Asset, DestinationAsset: route.DestinationAsset}

		received, err := adapter.Quote(ctx, excess, bridgeRoute)
		if err != nil {
			continue
		}
		if err := bridge.VerifySlippage(bridgeRoute, excess, received, maxSlippage, adapter.HeadroomDbps()); err != nil {
			continue
		}

		if l.submitTopUp(ctx, route, tag, adapter, bridgeRoute, excess, received, log) {
			return true
		}
	}
	return false
}

func (l *Loop) submitTopUp(ctx context.Context, route config.RouteConfig, tag string, adapter bridge.Adapter, bridgeRoute bridge.Route, sendAmount, receivedAmount *big.Int, log *zap.Logger) bool {
	signerImpl, err := l.signers.Get(route.Origin)
	if err != nil {
		log.Error("rebalance: no signer for top-up origin", zap.Int("chain", route.Origin), zap.Error(err))
		return false
	}
	client, err := l.clients.ChainClient(route.Origin)
	if err != nil {
		log.Error("rebalance: no chain client for top-up origin", zap.Int("chain", route.Origin), zap.Error(err))
		return false
	}

	sender := signerImpl.GetAddress()
	txs, err := adapter.Send(ctx, sender, sender, sendAmount, bridgeRoute)
	if err != nil {
		log.Warn("rebalance: top-up send build failed", zap.String("bridge", tag), zap.Error(err))
		return false
	}

	op := &domain.RebalanceOperation{
		OriginChain:      route.Origin,
		DestinationChain: route.Destination,
		Ticker:           route.Asset,
		Amount:           sendAmount,
		SlippageDbps:     decimals.SlippageDbps(sendAmount, receivedAmount),
		BridgeKind:       tag,
		Status:           domain.OperationPending,
		Legs:             map[int]domain.LegInfo{},
	}

	for _, tx := range txs {
		hash, err := submitMemoizedTx(ctx, signerImpl, client, tx)
		if err != nil {
			log.Warn("rebalance: top-up leg submission failed", zap.String("bridge", tag), zap.Error(err))
			return false
		}
		op.Legs[tx.Chain] = domain.LegInfo{Hash: hash}
	}

	if err := l.store.CreateRebalanceOperation(ctx, op); err != nil {
		log.Error("rebalance: persist top-up operation failed", zap.Error(err))
		return false
	}
	l.metrics.RecordRebalanceOperation(tag, true)
	return true
}

// submitMemoizedTx signs and submits one bridge-emitted transaction leg,
// blocking until SubmitAndMonitor confirms it — legs within one operation
// are strictly sequential (§5 "Ordering guarantees").
func submitMemoizedTx(ctx context.Context, s signer.Signer, client chainclient.ChainClient, tx bridge.MemoizedTx) (string, error) {
	payload := chainclient.Tx{Chain: tx.Chain, To: tx.To, Value: tx.Value, Data: tx.Data, FuncSig: tx.FuncSig}

	if s.Kind() == signer.KindSafeProposer {
		proposalID, err := s.Sign(ctx, tx.Data)
		if err != nil {
			return "", fmt.Errorf("rebalance: propose leg: %w", err)
		}
		return s.ResolveHash(ctx, string(proposalID))
	}

	signed, err := chainclient.SignAndAssemble(ctx, client, s, payload)
	if err != nil {
		return "", fmt.Errorf("rebalance: sign leg: %w", err)
	}
	receipt, err := client.SubmitAndMonitor(ctx, signed)
	if err != nil {
		return "", err
	}
	return receipt.TxHash, nil
}

// monitorGas independently compares each chain's native balance against
// its configured gas/bandwidth/energy thresholds and emits alerts; never
// fatal to the loop (§4.8 "Gas monitoring").
func (l *Loop) monitorGas(snap *oracle.Snapshot, log *zap.Logger) {
	if snap == nil {
		return
	}
	for chainID, chainCfg := range l.cfg.Chains {
		balance, ok := snap.GasBalances[chainID]
		if !ok {
			continue
		}
		threshold, ok := new(big.Int).SetString(chainCfg.GasThreshold, 10)
		if !ok || threshold.Sign() == 0 {
			continue
		}
		if balance.Cmp(threshold) < 0 {
			balF, _ := new(big.Float).SetInt(balance).Float64()
			threshF, _ := new(big.Float).SetInt(threshold).Float64()
			log.Warn("rebalance: gas balance below threshold", zap.Int("chain", chainID), zap.String("balance", balance.String()), zap.String("threshold", chainCfg.GasThreshold))
			l.metrics.RecordGasThresholdBreach(chainID, "native", balF, threshF)
		}
	}
}
