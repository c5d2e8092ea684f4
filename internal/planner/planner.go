// Package planner implements C5: the Route Planner. Given an invoice's
// demand, the live balance/custodied snapshot, and the declarative
// per-route rebalancing config, it produces an ordered list of
// PlannedRebalanceOperations plus the total 18-dp amount they would
// produce (§4.5). This is the most algorithmically dense component in
// the repo; it is grounded on the same "quote, verify, rescale" shape the
// pack's LayerZero bridge example applies to a single mechanism, widened
// here into a multi-route, multi-leg search.
package planner

import (
	"context"
	"fmt"
	"math/big"

	"github.com/arcsign/crossrail/internal/bridge"
	"github.com/arcsign/crossrail/internal/decimals"
	"github.com/arcsign/crossrail/internal/domain"
)

// dbpsScale is the decibasis-points full scale: 100000 = 100% (§4.3).
const dbpsScale = 100_000

// Planner holds the dependencies the allocation and quoting steps need.
type Planner struct {
	bridges    *bridge.Registry
	domainList []int // configured domain iteration order, used for both allocation and tie-breaking
	topNCap    int
}

func New(bridges *bridge.Registry, domainList []int, topNCap int) *Planner {
	return &Planner{bridges: bridges, domainList: domainList, topNCap: topNCap}
}

// allocation is one candidate origin's plan: which domains it draws
// custodied balance from and how much.
type allocation struct {
	origin          int
	draws           map[int]*big.Int // domain -> amount drawn, 18-dp
	totalAllocated  *big.Int
}

// CandidateOrigins returns invoice destinations where the wallet's balance
// on that chain meets its minAmount, excluding origins already claimed by
// a pending purchase (§4.5 step 1).
func CandidateOrigins(destinations []int, balances map[int]*big.Int, minAmountByOrigin map[int]*big.Int, pendingOrigins map[int]bool) []int {
	var out []int
	for _, chain := range destinations {
		if pendingOrigins[chain] {
			continue
		}
		min, ok := minAmountByOrigin[chain]
		if !ok {
			continue
		}
		bal, ok := balances[chain]
		if !ok {
			bal = big.NewInt(0)
		}
		if bal.Cmp(min) >= 0 {
			out = append(out, chain)
		}
	}
	return out
}

// allocateForOrigin walks p.domainList in order, consuming
// min(custodied[domain], remainingNeeded) from each domain != origin until
// totalAllocated >= totalNeeded or the top-N cap on distinct domains is
// reached. If the cap was hit before totalNeeded is met, it retries once
// over the full domain list unconstrained by the cap (§4.5 step 2).
func (p *Planner) allocateForOrigin(origin int, totalNeeded *big.Int, custodied map[int]*big.Int) allocation {
	alloc := p.walkDomains(origin, totalNeeded, custodied, p.topNCap)
	if alloc.totalAllocated.Cmp(totalNeeded) < 0 && p.topNCap > 0 && p.topNCap < len(p.domainList) {
		alloc = p.walkDomains(origin, totalNeeded, custodied, len(p.domainList))
	}
	return alloc
}

func (p *Planner) walkDomains(origin int, totalNeeded *big.Int, custodied map[int]*big.Int, cap int) allocation {
	alloc := allocation{origin: origin, draws: make(map[int]*big.Int), totalAllocated: big.NewInt(0)}
	remaining := new(big.Int).Set(totalNeeded)
	domainsUsed := 0

	for _, d := range p.domainList {
		if d == origin {
			continue
		}
		if remaining.Sign() <= 0 {
			break
		}
		if domainsUsed >= cap {
			break
		}
		available, ok := custodied[d]
		if !ok || available.Sign() <= 0 {
			continue
		}
		draw := new(big.Int).Set(available)
		if draw.Cmp(remaining) > 0 {
			draw = new(big.Int).Set(remaining)
		}
		alloc.draws[d] = draw
		alloc.totalAllocated.Add(alloc.totalAllocated, draw)
		remaining.Sub(remaining, draw)
		domainsUsed++
	}
	return alloc
}

// bestAllocation picks the allocation maximizing totalAllocated across all
// candidate origins, breaking ties by domain-list (here: candidate-origin)
// order (§4.5 step 3).
func (p *Planner) bestAllocation(origins []int, totalNeeded *big.Int, custodied map[int]*big.Int) (allocation, bool) {
	// candidate origins are iterated in the order they were supplied,
	// which is the invoice's destination-chain order — the same "first
	// wins ties" rule the domain-list walk uses.
	var best allocation
	found := false
	for _, origin := range origins {
		alloc := p.allocateForOrigin(origin, totalNeeded, custodied)
		if !found || alloc.totalAllocated.Cmp(best.totalAllocated) > 0 {
			best = alloc
			found = true
		}
	}
	return best, found
}

// Plan runs the full §4.5 algorithm for one invoice and returns the
// ordered operations plus total 18-dp produced amount.
func (p *Planner) Plan(
	ctx context.Context,
	invoice domain.Invoice,
	minAmountByOrigin map[int]*big.Int,
	balances map[int]*big.Int,
	custodied map[int]*big.Int,
	pendingOrigins map[int]bool,
	routeConfigs map[int]domain.RouteRebalancingConfig, // keyed by destination (domain) chain
	asset string,
) ([]domain.PlannedRebalanceOperation, *big.Int, error) {
	candidates := CandidateOrigins(invoice.DestinationChains, balances, minAmountByOrigin, pendingOrigins)
	if len(candidates) == 0 {
		return nil, big.NewInt(0), fmt.Errorf("planner: no candidate origin meets minAmount for invoice %s", invoice.IntentID)
	}

	best, found := p.bestAllocation(candidates, invoice.Amount, custodied)
	if !found || best.totalAllocated.Sign() == 0 {
		return nil, big.NewInt(0), fmt.Errorf("planner: no allocation could be built for invoice %s", invoice.IntentID)
	}

	// domain-list order gives a deterministic emission order regardless of
	// map iteration order.
	var domains []int
	for _, d := range p.domainList {
		if _, ok := best.draws[d]; ok {
			domains = append(domains, d)
		}
	}

	var ops []domain.PlannedRebalanceOperation
	produced := big.NewInt(0)

	for _, destChain := range domains {
		amountNeeded := best.draws[destChain]
		cfg, ok := routeConfigs[destChain]
		if !ok {
			continue
		}
		availableOnOrigin := new(big.Int).Set(amountNeeded) // the planner already capped draws by custodied availability

		classification := classifyRoute(best.origin, destChain, asset, cfg.Route.DestinationAsset)

		var planned []domain.PlannedRebalanceOperation
		var err error
		switch classification {
		case domain.ClassificationSameChainSwap:
			planned, err = p.planSameChainSwap(ctx, best.origin, amountNeeded, availableOnOrigin, cfg)
		case domain.ClassificationDirectBridge:
			planned, err = p.planDirectBridge(ctx, best.origin, destChain, amountNeeded, availableOnOrigin, asset, cfg)
		case domain.ClassificationSwapAndBridge:
			planned, err = p.planSwapAndBridge(ctx, best.origin, destChain, amountNeeded, availableOnOrigin, asset, cfg)
		default:
			err = fmt.Errorf("planner: unclassifiable route %d->%d", best.origin, destChain)
		}
		if err != nil {
			// a single domain's leg failing degrades the produced total
			// rather than aborting the whole invoice; the purchase loop
			// decides whether the reduced amount still clears minAmount.
			continue
		}
		for _, op := range planned {
			produced.Add(produced, op.ExpectedOutputAmount)
		}
		ops = append(ops, planned...)
	}

	return ops, produced, nil
}

// classifyRoute implements §4.5 step 4's route classification.
func classifyRoute(origin, destination int, asset, destinationAsset string) domain.RouteClassification {
	sameChain := origin == destination
	sameAsset := destinationAsset == "" || destinationAsset == asset
	switch {
	case sameChain && !sameAsset:
		return domain.ClassificationSameChainSwap
	case !sameChain && sameAsset:
		return domain.ClassificationDirectBridge
	case !sameChain && !sameAsset:
		return domain.ClassificationSwapAndBridge
	default:
		return domain.ClassificationUnknown
	}
}

// estimatedSendAmount computes the slippage-adjusted send size needed to
// produce `remaining` after up-to-maxSlippageDbps of slippage, capped by
// availableOnOrigin (§4.5 step 4: "estimated = remaining × 10^5 /
// (10^5 − maxSlippage)").
func estimatedSendAmount(remaining *big.Int, maxSlippageDbps int64, availableOnOrigin *big.Int) *big.Int {
	denom := big.NewInt(dbpsScale - maxSlippageDbps)
	if denom.Sign() <= 0 {
		denom = big.NewInt(1)
	}
	estimated := new(big.Int).Mul(remaining, big.NewInt(dbpsScale))
	estimated.Div(estimated, denom)
	if estimated.Cmp(availableOnOrigin) > 0 {
		estimated = new(big.Int).Set(availableOnOrigin)
	}
	return estimated
}

func (p *Planner) planDirectBridge(ctx context.Context, origin, destination int, remainingNeeded, availableOnOrigin *big.Int, asset string, cfg domain.RouteRebalancingConfig) ([]domain.PlannedRebalanceOperation, error) {
	var lastErr error
	for _, tag := range cfg.Preferences {
		adapter, err := p.bridges.Get(bridge.Tag(tag))
		if err != nil {
			lastErr = err
			continue
		}
		maxSlippage := cfg.SlippagesDbps[tag]
		route := bridge.Route{OriginChain: origin, DestinationChain: destination, Asset: asset}

		sendAmount := estimatedSendAmount(remainingNeeded, maxSlippage, availableOnOrigin)
		received, err := adapter.Quote(ctx, sendAmount, route)
		if err != nil {
			lastErr = err
			continue
		}

		sentIn18 := sendAmount // already 18-dp by planner convention (callers pass 18-dp custodied amounts)
		if err := bridge.VerifySlippage(route, sentIn18, received, maxSlippage, adapter.HeadroomDbps()); err != nil {
			lastErr = err
			continue
		}

		finalSend, finalReceived := sendAmount, received
		if received.Cmp(remainingNeeded) > 0 {
			// the quote over-produces: re-quote a scaled-down amount
			// buffered by the adapter headroom to confirm the rate holds,
			// then keep whichever of the two valid quotes is smaller.
			scaled := scaleDownForHeadroom(sendAmount, remainingNeeded, received, adapter.HeadroomDbps())
			confirmReceived, confirmErr := adapter.Quote(ctx, scaled, route)
			if confirmErr == nil && confirmReceived.Sign() > 0 {
				if confirmReceived.Cmp(received) < 0 {
					finalSend, finalReceived = scaled, confirmReceived
				}
			}
		}

		return []domain.PlannedRebalanceOperation{{
			Origin: origin, Destination: destination, Asset: asset, DestinationAsset: asset,
			Amount: finalSend, ExpectedOutputAmount: finalReceived, SlippageDbps: decimals.SlippageDbps(finalSend, finalReceived),
			BridgeKind: tag, Classification: domain.ClassificationDirectBridge,
		}}, nil
	}
	return nil, fmt.Errorf("planner: all preferences exhausted for direct bridge %d->%d: %w", origin, destination, lastErr)
}

// planSameChainSwap sizes a single-chain swap with one scaling retry if
// the adapter's first quote falls short of remainingNeeded (§4.5 step 4).
func (p *Planner) planSameChainSwap(ctx context.Context, chain int, remainingNeeded, availableOnOrigin *big.Int, cfg domain.RouteRebalancingConfig) ([]domain.PlannedRebalanceOperation, error) {
	var lastErr error
	for _, tag := range cfg.SwapPreferences {
		adapter, err := p.bridges.Get(bridge.Tag(tag))
		if err != nil {
			lastErr = err
			continue
		}
		maxSlippage := cfg.SlippagesDbps[tag]
		route := bridge.Route{OriginChain: chain, DestinationChain: chain, Asset: cfg.Route.Asset, DestinationAsset: cfg.Route.DestinationAsset}

		sendAmount := estimatedSendAmount(remainingNeeded, maxSlippage, availableOnOrigin)
		received, err := adapter.Quote(ctx, sendAmount, route)
		if err != nil {
			lastErr = err
			continue
		}
		if received.Cmp(remainingNeeded) < 0 {
			// single scaling retry: bump the send amount proportionally to
			// the shortfall and re-quote once.
			retrySend := rescaleForShortfall(sendAmount, received, remainingNeeded, availableOnOrigin)
			if retrySend.Cmp(sendAmount) > 0 {
				retryReceived, retryErr := adapter.Quote(ctx, retrySend, route)
				if retryErr == nil {
					sendAmount, received = retrySend, retryReceived
				}
			}
		}
		if err := bridge.VerifySlippage(route, sendAmount, received, maxSlippage, adapter.HeadroomDbps()); err != nil {
			lastErr = err
			continue
		}

		return []domain.PlannedRebalanceOperation{{
			Origin: chain, Destination: chain, Asset: cfg.Route.Asset, DestinationAsset: cfg.Route.DestinationAsset,
			Amount: sendAmount, ExpectedOutputAmount: received, SlippageDbps: decimals.SlippageDbps(sendAmount, received),
			BridgeKind: tag, Classification: domain.ClassificationSameChainSwap,
		}}, nil
	}
	return nil, fmt.Errorf("planner: all swap preferences exhausted on chain %d: %w", chain, lastErr)
}

// planSwapAndBridge works backwards from the final destination need
// through the bridge leg's slippage to size the swap leg, plans both legs,
// then proportionally rescales them so the final 18-dp output matches the
// invoice requirement (§4.5 step 4, adjustSwapBridgeAmounts).
func (p *Planner) planSwapAndBridge(ctx context.Context, origin, destination int, remainingNeeded, availableOnOrigin *big.Int, asset string, cfg domain.RouteRebalancingConfig) ([]domain.PlannedRebalanceOperation, error) {
	if len(cfg.Preferences) == 0 || len(cfg.SwapPreferences) == 0 {
		return nil, fmt.Errorf("planner: swap+bridge route %d->%d has no preferences configured", origin, destination)
	}
	bridgeTag := cfg.Preferences[0]
	bridgeAdapter, err := p.bridges.Get(bridge.Tag(bridgeTag))
	if err != nil {
		return nil, err
	}
	bridgeSlippage := cfg.SlippagesDbps[bridgeTag]

	// neededAfterSwap: the swap output required so that, after the
	// bridge's own slippage, the final destination amount still meets
	// remainingNeeded.
	neededAfterSwap := estimatedSendAmount(remainingNeeded, bridgeSlippage, availableOnOrigin)

	swapTag := cfg.SwapPreferences[0]
	swapAdapter, err := p.bridges.Get(bridge.Tag(swapTag))
	if err != nil {
		return nil, err
	}
	swapSlippage := cfg.SlippagesDbps[swapTag]
	swapRoute := bridge.Route{OriginChain: origin, DestinationChain: origin, Asset: asset, DestinationAsset: cfg.Route.DestinationAsset}

	swapSend := estimatedSendAmount(neededAfterSwap, swapSlippage, availableOnOrigin)
	swapReceived, err := swapAdapter.Quote(ctx, swapSend, swapRoute)
	if err != nil {
		return nil, fmt.Errorf("planner: swap leg quote failed for %d->%d: %w", origin, destination, err)
	}

	bridgeRoute := bridge.Route{OriginChain: origin, DestinationChain: destination, Asset: cfg.Route.DestinationAsset}
	bridgeReceived, err := bridgeAdapter.Quote(ctx, swapReceived, bridgeRoute)
	if err != nil {
		return nil, fmt.Errorf("planner: bridge leg quote failed for %d->%d: %w", origin, destination, err)
	}

	swapSend, swapReceived, bridgeReceived = adjustSwapBridgeAmounts(swapSend, swapReceived, bridgeReceived, remainingNeeded, availableOnOrigin)

	if err := bridge.VerifySlippage(swapRoute, swapSend, swapReceived, swapSlippage, swapAdapter.HeadroomDbps()); err != nil {
		return nil, err
	}
	if err := bridge.VerifySlippage(bridgeRoute, swapReceived, bridgeReceived, bridgeSlippage, bridgeAdapter.HeadroomDbps()); err != nil {
		return nil, err
	}

	return []domain.PlannedRebalanceOperation{
		{
			Origin: origin, Destination: origin, Asset: asset, DestinationAsset: cfg.Route.DestinationAsset,
			Amount: swapSend, ExpectedOutputAmount: swapReceived, SlippageDbps: decimals.SlippageDbps(swapSend, swapReceived),
			BridgeKind: swapTag, Classification: domain.ClassificationSwapAndBridge,
		},
		{
			Origin: origin, Destination: destination, Asset: cfg.Route.DestinationAsset, DestinationAsset: cfg.Route.DestinationAsset,
			Amount: swapReceived, ExpectedOutputAmount: bridgeReceived, SlippageDbps: decimals.SlippageDbps(swapReceived, bridgeReceived),
			BridgeKind: bridgeTag, Classification: domain.ClassificationSwapAndBridge,
		},
	}, nil
}

// adjustSwapBridgeAmounts proportionally rescales the swap send amount and
// both legs' output so the bridge leg's final output equals target,
// capped so the swap send never exceeds availableOnOrigin.
func adjustSwapBridgeAmounts(swapSend, swapReceived, bridgeReceived, target, availableOnOrigin *big.Int) (*big.Int, *big.Int, *big.Int) {
	if bridgeReceived.Sign() == 0 {
		return swapSend, swapReceived, bridgeReceived
	}
	scaledSwapSend := new(big.Int).Mul(swapSend, target)
	scaledSwapSend.Div(scaledSwapSend, bridgeReceived)
	if scaledSwapSend.Cmp(availableOnOrigin) > 0 {
		scaledSwapSend = new(big.Int).Set(availableOnOrigin)
	}

	scaledSwapReceived := new(big.Int).Mul(swapReceived, target)
	scaledSwapReceived.Div(scaledSwapReceived, bridgeReceived)

	scaledBridgeReceived := new(big.Int).Set(target)
	return scaledSwapSend, scaledSwapReceived, scaledBridgeReceived
}

// scaleDownForHeadroom shrinks sendAmount proportionally so the quote is
// expected to land near remainingNeeded, buffered by the adapter's
// headroom so the re-confirmed rate still clears verification.
func scaleDownForHeadroom(sendAmount, remainingNeeded, received *big.Int, headroomDbps int64) *big.Int {
	if received.Sign() == 0 {
		return sendAmount
	}
	scaled := new(big.Int).Mul(sendAmount, remainingNeeded)
	scaled.Div(scaled, received)
	buffer := new(big.Int).Mul(scaled, big.NewInt(dbpsScale+headroomDbps))
	buffer.Div(buffer, big.NewInt(dbpsScale))
	return buffer
}

// rescaleForShortfall bumps sendAmount proportionally to the ratio between
// remainingNeeded and the amount the first quote actually produced,
// capped by availableOnOrigin.
func rescaleForShortfall(sendAmount, received, remainingNeeded, availableOnOrigin *big.Int) *big.Int {
	if received.Sign() == 0 {
		return sendAmount
	}
	scaled := new(big.Int).Mul(sendAmount, remainingNeeded)
	scaled.Div(scaled, received)
	if scaled.Cmp(availableOnOrigin) > 0 {
		scaled = new(big.Int).Set(availableOnOrigin)
	}
	return scaled
}
