package decimals

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTripAllPrecisions(t *testing.T) {
	amounts := []*big.Int{
		big.NewInt(0),
		big.NewInt(1),
		big.NewInt(123456789),
		new(big.Int).Lsh(big.NewInt(1), 190),
	}

	for assetDecimals := uint8(0); assetDecimals <= Canonical; assetDecimals++ {
		for _, amount := range amounts {
			canonical := ToCanonical(amount, assetDecimals)
			back := FromCanonical(canonical, assetDecimals)
			require.Equal(t, amount.String(), back.String(),
				"round trip failed at decimals=%d for %s", assetDecimals, amount.String())
		}
	}
}

func TestSlippageDbpsAndApplyAreInverse(t *testing.T) {
	sent := big.NewInt(1_000000000000000000) // 1e18
	for _, dbps := range []int64{0, 10, 990, 1000, 5000} {
		received := ApplySlippageDbps(sent, dbps)
		got := SlippageDbps(sent, received)
		require.InDelta(t, float64(dbps), float64(got), 1.0)
	}
}

func TestEstimateSentForTargetRoundTrips(t *testing.T) {
	target := big.NewInt(995_000000000000000) // 0.995e18
	sent := EstimateSentForTarget(target, 1000)
	received := ApplySlippageDbps(sent, 1000)
	diff := new(big.Int).Sub(received, target)
	require.LessOrEqual(t, diff.Abs(diff).Int64(), int64(2))
}
