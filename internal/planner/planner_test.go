package planner

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEstimatedSendAmountCapsAtAvailable(t *testing.T) {
	remaining := big.NewInt(1_000_000)
	available := big.NewInt(1_000_010) // less than the 1_000_500 a 50 dbps budget calls for
	got := estimatedSendAmount(remaining, 50, available)
	require.True(t, got.Cmp(available) <= 0)
}

func TestEstimatedSendAmountGrowsWithSlippageBudget(t *testing.T) {
	remaining := big.NewInt(1_000_000)
	available := big.NewInt(10_000_000)
	low := estimatedSendAmount(remaining, 10, available)
	high := estimatedSendAmount(remaining, 1000, available)
	require.True(t, high.Cmp(low) > 0, "a larger slippage budget should require sending more to net the same remaining amount")
}

func TestAdjustSwapBridgeAmountsHitsTargetExactly(t *testing.T) {
	swapSend := big.NewInt(1_000_000)
	swapReceived := big.NewInt(990_000)
	bridgeReceived := big.NewInt(980_000)
	target := big.NewInt(490_000)
	available := big.NewInt(2_000_000)

	_, _, scaledBridgeReceived := adjustSwapBridgeAmounts(swapSend, swapReceived, bridgeReceived, target, available)
	require.Equal(t, target, scaledBridgeReceived)
}

func TestAdjustSwapBridgeAmountsCapsSwapSendAtAvailable(t *testing.T) {
	swapSend := big.NewInt(1_000_000)
	swapReceived := big.NewInt(100_000)
	bridgeReceived := big.NewInt(50_000) // small bridgeReceived forces a big rescale factor
	target := big.NewInt(10_000_000)
	available := big.NewInt(1_500_000)

	scaledSwapSend, _, _ := adjustSwapBridgeAmounts(swapSend, swapReceived, bridgeReceived, target, available)
	require.Equal(t, available, scaledSwapSend)
}

func TestCandidateOriginsExcludesPendingAndUnderfunded(t *testing.T) {
	destinations := []int{1, 10, 137}
	balances := map[int]*big.Int{1: big.NewInt(500), 10: big.NewInt(50), 137: big.NewInt(500)}
	minAmounts := map[int]*big.Int{1: big.NewInt(100), 10: big.NewInt(100), 137: big.NewInt(100)}
	pending := map[int]bool{137: true}

	got := CandidateOrigins(destinations, balances, minAmounts, pending)
	require.Equal(t, []int{1}, got)
}

func TestAllocateForOriginStopsAtTopNCapThenRetriesFullList(t *testing.T) {
	p := New(nil, []int{2, 3, 4, 5}, 1) // top-N cap of 1 domain
	custodied := map[int]*big.Int{2: big.NewInt(10), 3: big.NewInt(10), 4: big.NewInt(10), 5: big.NewInt(10)}

	alloc := p.allocateForOrigin(1, big.NewInt(25), custodied)
	require.Equal(t, big.NewInt(25), alloc.totalAllocated, "retry over the full domain list should meet totalNeeded even though the capped pass could not")
}
