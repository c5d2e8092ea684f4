package bridge

import (
	"math/big"

	"github.com/arcsign/crossrail/internal/decimals"
	"github.com/arcsign/crossrail/internal/errs"
)

// VerifySlippage checks a quote's computed slippage against the route's
// configured maximum minus the adapter's headroom, per §4.3's "Slippage
// semantics". sentIn18/receivedIn18 are both already in canonical 18-dp.
func VerifySlippage(route Route, sentIn18, receivedIn18 *big.Int, maxSlippageDbps int64, headroomDbps int64) error {
	computed := decimals.SlippageDbps(sentIn18, receivedIn18)
	allowed := maxSlippageDbps - headroomDbps
	if computed > allowed {
		return &errs.SlippageExceeded{Route: route.String(), ComputedDbps: computed, AllowedMaxDbps: allowed}
	}
	return nil
}
