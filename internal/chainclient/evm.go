package chainclient

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/arcsign/crossrail/internal/errs"
)

const (
	defaultReadTimeout   = 10 * time.Second
	defaultSubmitTimeout = 45 * time.Second
)

var erc20ABI abi.ABI

func init() {
	const erc20JSON = `[
		{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
		{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"},
		{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"}
	]`
	parsed, err := abi.JSON(strings.NewReader(erc20JSON))
	if err != nil {
		panic(fmt.Sprintf("chainclient: invalid embedded ERC-20 ABI: %v", err))
	}
	erc20ABI = parsed
}

// EVMClient is the ChainClient implementation for EVM-compatible chains
// (§4.1). It talks raw JSON-RPC over a fallback-ordered provider list, the
// way the teacher's ethereum.RPCHelper does, but packs/unpacks calldata
// with go-ethereum's accounts/abi instead of hand-rolled hex math.
type EVMClient struct {
	chainID          int
	providers        *providerFallbackList
	rpc              *httpJSONRPC
	minConfirmations uint64
	log              *zap.Logger
}

// NewEVMClient constructs an EVMClient for one chain from its ordered
// fallback provider list (§4.1 "Clients are cached per chain and constructed
// lazily from a fallback-ordered provider list").
func NewEVMClient(chainID int, providerURLs []string, minConfirmations uint64, log *zap.Logger) (*EVMClient, error) {
	if len(providerURLs) == 0 {
		return nil, &errs.ConfigError{Field: fmt.Sprintf("chains[%d].providers", chainID), Msg: "at least one RPC provider required"}
	}
	return &EVMClient{
		chainID:          chainID,
		providers:        newProviderFallbackList(chainID, providerURLs, log),
		rpc:              newHTTPJSONRPC(defaultReadTimeout, log),
		minConfirmations: minConfirmations,
		log:              log,
	}, nil
}

func (c *EVMClient) ChainID() int { return c.chainID }

func (c *EVMClient) call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	var result json.RawMessage
	err := c.providers.do(ctx, func(ctx context.Context, url string) error {
		res, err := c.rpc.call(ctx, url, method, params)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	return result, err
}

func (c *EVMClient) GetNativeBalance(ctx context.Context, address string) (*big.Int, error) {
	var hexBal string
	raw, err := c.call(ctx, "eth_getBalance", address, "latest")
	if err != nil {
		return nil, &errs.SubmitError{Kind: errs.SubmitProviderDown, Chain: c.chainID, Cause: err}
	}
	if err := json.Unmarshal(raw, &hexBal); err != nil {
		return nil, fmt.Errorf("chainclient: decode eth_getBalance: %w", err)
	}
	return hexutil.DecodeBig(hexBal)
}

func (c *EVMClient) GetTokenBalance(ctx context.Context, asset, address string) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", common.HexToAddress(address))
	if err != nil {
		return nil, fmt.Errorf("chainclient: pack balanceOf: %w", err)
	}
	out, err := c.CallView(ctx, asset, data)
	if err != nil {
		return nil, err
	}
	var result *big.Int
	if err := erc20ABI.UnpackIntoInterface(&result, "balanceOf", out); err != nil {
		return nil, fmt.Errorf("chainclient: unpack balanceOf: %w", err)
	}
	return result, nil
}

func (c *EVMClient) GetAllowance(ctx context.Context, asset, owner, spender string) (*big.Int, error) {
	data, err := erc20ABI.Pack("allowance", common.HexToAddress(owner), common.HexToAddress(spender))
	if err != nil {
		return nil, fmt.Errorf("chainclient: pack allowance: %w", err)
	}
	out, err := c.CallView(ctx, asset, data)
	if err != nil {
		return nil, err
	}
	var result *big.Int
	if err := erc20ABI.UnpackIntoInterface(&result, "allowance", out); err != nil {
		return nil, fmt.Errorf("chainclient: unpack allowance: %w", err)
	}
	return result, nil
}

// PackApprove ABI-encodes an ERC-20 approve(spender, amount) call, the way
// GetTokenBalance/GetAllowance pack their own calls against the same
// embedded ABI, so the purchase submitter never hand-builds calldata.
func PackApprove(spender string, amount *big.Int) ([]byte, error) {
	data, err := erc20ABI.Pack("approve", common.HexToAddress(spender), amount)
	if err != nil {
		return nil, fmt.Errorf("chainclient: pack approve: %w", err)
	}
	return data, nil
}

// NextNonce reads the pending-inclusive transaction count for address, the
// nonce an about-to-be-signed transaction must use.
func (c *EVMClient) NextNonce(ctx context.Context, address string) (uint64, error) {
	raw, err := c.call(ctx, "eth_getTransactionCount", address, "pending")
	if err != nil {
		return 0, err
	}
	var hexNonce string
	if err := json.Unmarshal(raw, &hexNonce); err != nil {
		return 0, fmt.Errorf("chainclient: decode eth_getTransactionCount: %w", err)
	}
	return hexutil.DecodeUint64(hexNonce)
}

// SuggestGasPrice reads the provider's current gas price suggestion.
func (c *EVMClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	raw, err := c.call(ctx, "eth_gasPrice")
	if err != nil {
		return nil, err
	}
	var hexPrice string
	if err := json.Unmarshal(raw, &hexPrice); err != nil {
		return nil, fmt.Errorf("chainclient: decode eth_gasPrice: %w", err)
	}
	return hexutil.DecodeBig(hexPrice)
}

// EstimateGas estimates the gas limit tx would consume if sent from from.
func (c *EVMClient) EstimateGas(ctx context.Context, from string, tx Tx) (uint64, error) {
	callObj := map[string]interface{}{
		"from": from,
		"to":   tx.To,
		"data": hexutil.Encode(tx.Data),
	}
	if tx.Value != nil && tx.Value.Sign() > 0 {
		callObj["value"] = hexutil.EncodeBig(tx.Value)
	}
	raw, err := c.call(ctx, "eth_estimateGas", callObj)
	if err != nil {
		return 0, err
	}
	var hexGas string
	if err := json.Unmarshal(raw, &hexGas); err != nil {
		return 0, fmt.Errorf("chainclient: decode eth_estimateGas: %w", err)
	}
	return hexutil.DecodeUint64(hexGas)
}

func (c *EVMClient) CallView(ctx context.Context, target string, encodedInput []byte) ([]byte, error) {
	callObj := map[string]interface{}{
		"to":   target,
		"data": hexutil.Encode(encodedInput),
	}
	var hexOut string
	raw, err := c.call(ctx, "eth_call", callObj, "latest")
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &hexOut); err != nil {
		return nil, fmt.Errorf("chainclient: decode eth_call: %w", err)
	}
	return hexutil.Decode(hexOut)
}

// submitRaw broadcasts a raw signed transaction with
// eth_sendRawTransaction and returns its hash; SubmitAndMonitor does the
// receipt polling.
func (c *EVMClient) submitRaw(ctx context.Context, rawSignedTx []byte) (string, error) {
	var hash string
	raw, err := c.call(ctx, "eth_sendRawTransaction", hexutil.Encode(rawSignedTx))
	if err != nil {
		return "", classifySubmitError(c.chainID, err)
	}
	if err := json.Unmarshal(raw, &hash); err != nil {
		return "", fmt.Errorf("chainclient: decode eth_sendRawTransaction: %w", err)
	}
	return hash, nil
}

// SubmitAndMonitor accepts a pre-signed transaction carried in Tx.Data as
// the RLP-encoded, already-signed payload (the Signer produced it; the
// ChainClient never signs). It blocks until confirmed or timed out (§4.1).
func (c *EVMClient) SubmitAndMonitor(ctx context.Context, tx Tx) (*Receipt, error) {
	submitCtx, cancel := context.WithTimeout(ctx, defaultSubmitTimeout)
	defer cancel()

	hash, err := c.submitRaw(submitCtx, tx.Data)
	if err != nil {
		return nil, err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.Multiplier = 2
	policy.RandomizationFactor = 0.1

	var receipt *Receipt
	operation := func() error {
		r, err := c.GetTransactionReceipt(submitCtx, hash)
		if err != nil {
			return err
		}
		if r == nil {
			return fmt.Errorf("chainclient: receipt for %s not yet available", hash)
		}
		if !r.Status {
			return backoff.Permanent(&errs.SubmitError{Kind: errs.SubmitRevert, Chain: c.chainID, TxHash: hash})
		}
		if r.Confirmations < c.minConfirmations {
			return fmt.Errorf("chainclient: %d/%d confirmations for %s", r.Confirmations, c.minConfirmations, hash)
		}
		receipt = r
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, submitCtx)); err != nil {
		if submitCtx.Err() != nil {
			return nil, &errs.SubmitError{Kind: errs.SubmitTimeout, Chain: c.chainID, TxHash: hash, Cause: submitCtx.Err()}
		}
		return nil, err
	}
	return receipt, nil
}

func (c *EVMClient) GetTransactionReceipt(ctx context.Context, hash string) (*Receipt, error) {
	raw, err := c.call(ctx, "eth_getTransactionReceipt", hash)
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" || len(raw) == 0 {
		return nil, nil
	}

	var parsed struct {
		BlockNumber string `json:"blockNumber"`
		Status      string `json:"status"`
		Logs        []struct {
			Address string   `json:"address"`
			Topics  []string `json:"topics"`
			Data    string   `json:"data"`
		} `json:"logs"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("chainclient: decode receipt: %w", err)
	}

	blockNumber, err := hexutil.DecodeUint64(parsed.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("chainclient: decode receipt blockNumber: %w", err)
	}
	status := parsed.Status == "0x1"

	latest, err := c.latestBlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	var confirmations uint64
	if latest >= blockNumber {
		confirmations = latest - blockNumber + 1
	}

	logs := make([]Log, 0, len(parsed.Logs))
	for _, l := range parsed.Logs {
		data, err := hexutil.Decode(l.Data)
		if err != nil {
			continue
		}
		logs = append(logs, Log{Address: l.Address, Topics: l.Topics, Data: data})
	}

	return &Receipt{
		TxHash:        hash,
		Chain:         c.chainID,
		BlockNumber:   blockNumber,
		Status:        status,
		Confirmations: confirmations,
		Logs:          logs,
	}, nil
}

func (c *EVMClient) latestBlockNumber(ctx context.Context) (uint64, error) {
	raw, err := c.call(ctx, "eth_blockNumber")
	if err != nil {
		return 0, err
	}
	var hexNum string
	if err := json.Unmarshal(raw, &hexNum); err != nil {
		return 0, fmt.Errorf("chainclient: decode eth_blockNumber: %w", err)
	}
	return hexutil.DecodeUint64(hexNum)
}

// RawReceipt exposes the provider's untyped receipt JSON for adapters that
// declare they need chain-specific fields (§9 "Cross-chain receipt opacity").
// The core itself never interprets the returned map.
func (c *EVMClient) RawReceipt(ctx context.Context, hash string) (map[string]interface{}, error) {
	raw, err := c.call(ctx, "eth_getTransactionReceipt", hash)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("chainclient: decode raw receipt: %w", err)
	}
	return out, nil
}

func classifySubmitError(chainID int, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "nonce too low") || strings.Contains(msg, "nonce"):
		return &errs.SubmitError{Kind: errs.SubmitNonceConflict, Chain: chainID, Cause: err}
	case strings.Contains(msg, "revert"):
		return &errs.SubmitError{Kind: errs.SubmitRevert, Chain: chainID, Cause: err}
	case strings.Contains(msg, "timeout"):
		return &errs.SubmitError{Kind: errs.SubmitTimeout, Chain: chainID, Cause: err}
	default:
		return &errs.SubmitError{Kind: errs.SubmitProviderDown, Chain: chainID, Cause: err}
	}
}

var _ ChainClient = (*EVMClient)(nil)
