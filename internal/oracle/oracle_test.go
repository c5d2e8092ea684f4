package oracle

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcsign/crossrail/internal/chainclient"
	"github.com/arcsign/crossrail/internal/config"
)

type stubClient struct {
	chainID int
	fail    bool
}

func (s *stubClient) ChainID() int { return s.chainID }
func (s *stubClient) GetNativeBalance(ctx context.Context, address string) (*big.Int, error) {
	if s.fail {
		return nil, errors.New("rpc down")
	}
	return big.NewInt(42), nil
}
func (s *stubClient) GetTokenBalance(ctx context.Context, asset, address string) (*big.Int, error) {
	if s.fail {
		return nil, errors.New("rpc down")
	}
	return big.NewInt(1_000_000), nil
}
func (s *stubClient) GetAllowance(ctx context.Context, asset, owner, spender string) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (s *stubClient) NextNonce(ctx context.Context, address string) (uint64, error) {
	return 0, nil
}
func (s *stubClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}
func (s *stubClient) EstimateGas(ctx context.Context, from string, tx chainclient.Tx) (uint64, error) {
	return 21000, nil
}
func (s *stubClient) SubmitAndMonitor(ctx context.Context, tx chainclient.Tx) (*chainclient.Receipt, error) {
	return nil, nil
}
func (s *stubClient) GetTransactionReceipt(ctx context.Context, hash string) (*chainclient.Receipt, error) {
	return nil, nil
}
func (s *stubClient) CallView(ctx context.Context, target string, data []byte) ([]byte, error) {
	return nil, nil
}
func (s *stubClient) RawReceipt(ctx context.Context, hash string) (map[string]interface{}, error) {
	return nil, nil
}

type stubClients struct{ clients map[int]*stubClient }

func (c *stubClients) ChainClient(chainID int) (chainclient.ChainClient, error) {
	cl, ok := c.clients[chainID]
	if !ok {
		return nil, errors.New("no client")
	}
	return cl, nil
}

func TestTickZeroesFailedEntriesWithoutAborting(t *testing.T) {
	cfg := &config.Config{
		Chains: map[int]config.ChainConfig{
			1:  {ChainID: 1, Assets: []config.AssetConfig{{Symbol: "USDC", Address: "0xusdc", Decimals: 6}}},
			10: {ChainID: 10, Assets: []config.AssetConfig{{Symbol: "USDC", Address: "0xusdc", Decimals: 6}}},
		},
	}
	clients := &stubClients{clients: map[int]*stubClient{
		1:  {chainID: 1, fail: false},
		10: {chainID: 10, fail: true},
	}}

	o := New(cfg, clients, nil, func(int) string { return "0xwallet" }, nil, nil)
	snap, err := o.Tick(context.Background())
	require.NoError(t, err)

	require.Equal(t, 0, snap.Balances["USDC"][10].Sign())
	require.Equal(t, 1, snap.Balances["USDC"][1].Sign())
}
