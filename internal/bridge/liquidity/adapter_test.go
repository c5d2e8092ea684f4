package liquidity

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcsign/crossrail/internal/bridge"
)

func TestQuoteAppliesFeeBps(t *testing.T) {
	a := New(map[int]string{1: "0xpoolA", 10: "0xpoolB"}, 5, nil) // 5 bps fee
	amount := big.NewInt(1_000_000)

	out, err := a.Quote(context.Background(), amount, bridge.Route{OriginChain: 1, DestinationChain: 10})
	require.NoError(t, err)
	require.Equal(t, big.NewInt(999_500), out)
}

func TestQuoteRejectsUnknownChain(t *testing.T) {
	a := New(map[int]string{1: "0xpoolA"}, 5, nil)
	_, err := a.Quote(context.Background(), big.NewInt(1000), bridge.Route{OriginChain: 1, DestinationChain: 999})
	require.Error(t, err)
}
