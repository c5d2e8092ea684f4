package hub

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcsign/crossrail/internal/chainclient"
)

type stubClient struct {
	chainID int
	view    func(target string, data []byte) ([]byte, error)
}

func (s *stubClient) ChainID() int { return s.chainID }
func (s *stubClient) GetNativeBalance(ctx context.Context, address string) (*big.Int, error) {
	return nil, nil
}
func (s *stubClient) GetTokenBalance(ctx context.Context, asset, address string) (*big.Int, error) {
	return nil, nil
}
func (s *stubClient) GetAllowance(ctx context.Context, asset, owner, spender string) (*big.Int, error) {
	return nil, nil
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
	return s.view(target, data)
}
func (s *stubClient) RawReceipt(ctx context.Context, hash string) (map[string]interface{}, error) {
	return nil, nil
}

type stubClients struct{ c *stubClient }

func (sc *stubClients) ChainClient(chainID int) (chainclient.ChainClient, error) {
	if sc.c.chainID != chainID {
		return nil, errors.New("no client for chain")
	}
	return sc.c, nil
}

func TestCustodiedAssetsUnpacksEncodedUint256(t *testing.T) {
	want := big.NewInt(123_456)
	client := &stubClient{chainID: 1, view: func(target string, data []byte) ([]byte, error) {
		encoded, err := hubABI.Methods["custodiedAssets"].Outputs.Pack(want)
		require.NoError(t, err)
		return encoded, nil
	}}
	h := New(map[int]string{1: "0xhub"}, &stubClients{c: client})

	got, err := h.CustodiedAssets(context.Background(), 1, "0xabc")
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestCustodiedAssetsErrorsWithoutContractConfigured(t *testing.T) {
	h := New(map[int]string{}, &stubClients{c: &stubClient{chainID: 1}})
	_, err := h.CustodiedAssets(context.Background(), 1, "0xabc")
	require.Error(t, err)
}

func TestIsXERC20SupportedUnpacksBool(t *testing.T) {
	client := &stubClient{chainID: 10, view: func(target string, data []byte) ([]byte, error) {
		encoded, err := hubABI.Methods["isXERC20Supported"].Outputs.Pack(true)
		require.NoError(t, err)
		return encoded, nil
	}}
	h := New(map[int]string{10: "0xhub"}, &stubClients{c: client})

	got, err := h.IsXERC20Supported(context.Background(), 10, "0xabc")
	require.NoError(t, err)
	require.True(t, got)
}

func TestIntentStatusOfMapsOrdinalToTerminalStatus(t *testing.T) {
	client := &stubClient{chainID: 1, view: func(target string, data []byte) ([]byte, error) {
		encoded, err := intentStatusABI.Methods["intentStatus"].Outputs.Pack(uint8(1))
		require.NoError(t, err)
		return encoded, nil
	}}
	h := New(map[int]string{1: "0xhub"}, &stubClients{c: client})

	status, err := h.IntentStatusOf(context.Background(), 1, "0xintent")
	require.NoError(t, err)
	require.Equal(t, IntentSettled, status)
	require.True(t, status.IsTerminal())
}
