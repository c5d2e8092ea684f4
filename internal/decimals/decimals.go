// Package decimals converts between a chain's native token precision and the
// canonical 18-decimal representation used for all cross-chain comparisons.
package decimals

import (
	"math/big"

	"github.com/holiman/uint256"
)

// Canonical is the decimal precision every balance, threshold, and planner
// quantity is normalized to before it is compared or summed across chains.
const Canonical = 18

var pow10Cache = map[uint8]*big.Int{}

func pow10(n uint8) *big.Int {
	if v, ok := pow10Cache[n]; ok {
		return v
	}
	v := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
	pow10Cache[n] = v
	return v
}

// ToCanonical scales a native-precision amount up to 18 decimals.
// decimals must be in [0, 18]; amounts above that precision never occur
// on the chains this core supports.
func ToCanonical(native *big.Int, assetDecimals uint8) *big.Int {
	if assetDecimals >= Canonical {
		return new(big.Int).Set(native)
	}
	scale := pow10(Canonical - assetDecimals)
	return new(big.Int).Mul(native, scale)
}

// FromCanonical scales an 18-decimal amount down to a chain's native precision.
// Values that don't divide evenly are truncated, matching on-chain integer
// division semantics (never round up past what the chain can hold).
func FromCanonical(canonical *big.Int, assetDecimals uint8) *big.Int {
	if assetDecimals >= Canonical {
		return new(big.Int).Set(canonical)
	}
	scale := pow10(Canonical - assetDecimals)
	out := new(big.Int).Quo(canonical, scale)
	return out
}

// ToUint256 converts a big.Int known to be non-negative and representable in
// 256 bits into a uint256.Int. No package in this module calls it.
func ToUint256(v *big.Int) (*uint256.Int, bool) {
	return uint256.FromBig(v)
}

// ApplySlippageDbps computes received = sent * (100000 - slippageDbps) / 100000,
// the canonical down-conversion used throughout the planner and the bridge
// adapters' quote() contracts. slippageDbps is in decibasis points (§3/§4.3):
// 100000 dbp == 100%.
func ApplySlippageDbps(sentIn18 *big.Int, slippageDbps int64) *big.Int {
	const dbpDenominator = 100000
	num := new(big.Int).Mul(sentIn18, big.NewInt(dbpDenominator-slippageDbps))
	return num.Quo(num, big.NewInt(dbpDenominator))
}

// SlippageDbps computes the decibasis-point slippage incurred between a sent
// and a received amount, both already in 18-dp canonical units:
//
//	slippageDbps = (sentIn18 - receivedIn18) * 100000 / sentIn18
func SlippageDbps(sentIn18, receivedIn18 *big.Int) int64 {
	if sentIn18.Sign() == 0 {
		return 0
	}
	diff := new(big.Int).Sub(sentIn18, receivedIn18)
	diff.Mul(diff, big.NewInt(100000))
	diff.Quo(diff, sentIn18)
	return diff.Int64()
}

// EstimateSentForTarget inverts ApplySlippageDbps: given a desired received
// amount and a slippage budget, returns the sent amount that should produce
// at least that much after the quoted slippage (§4.5 step 4, "estimated").
func EstimateSentForTarget(targetReceivedIn18 *big.Int, slippageDbps int64) *big.Int {
	const dbpDenominator = 100000
	num := new(big.Int).Mul(targetReceivedIn18, big.NewInt(dbpDenominator))
	return num.Quo(num, big.NewInt(dbpDenominator-slippageDbps))
}
