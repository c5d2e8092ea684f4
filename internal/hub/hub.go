// Package hub reads the on-chain hub contract the poller custodies assets
// against: the `custodiedAssets` view C4 aggregates into the Balance
// Oracle's snapshot, the "economy" pending-incoming-intents view the
// Purchase Loop uses to adjust candidate-origin custodied balances
// (§4.7 step 3), and the xERC20-support check the Purchase Loop's invoice
// validation uses (§4.7 step 5). Grounded on internal/chainclient's
// CallView + go-ethereum's accounts/abi package, the same ABI-encode/call/
// ABI-decode path internal/bridge/* use to talk to bridge contracts.
package hub

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/arcsign/crossrail/internal/chainclient"
)

const hubABIJSON = `[
	{"name":"custodiedAssets","type":"function","stateMutability":"view",
	 "inputs":[{"name":"assetHash","type":"bytes32"}],
	 "outputs":[{"name":"amount","type":"uint256"}]},
	{"name":"pendingInboundAmount","type":"function","stateMutability":"view",
	 "inputs":[{"name":"tickerHash","type":"bytes32"},{"name":"domain","type":"uint32"}],
	 "outputs":[{"name":"amount","type":"uint256"}]},
	{"name":"isXERC20Supported","type":"function","stateMutability":"view",
	 "inputs":[{"name":"tickerHash","type":"bytes32"},{"name":"domain","type":"uint32"}],
	 "outputs":[{"name":"supported","type":"bool"}]}
]`

var hubABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(hubABIJSON))
	if err != nil {
		panic(fmt.Sprintf("hub: invalid embedded ABI: %v", err))
	}
	hubABI = parsed
}

// Clients resolves a ChainClient by chain id, the same seam
// internal/bridge.Clients and internal/oracle.Clients use.
type Clients interface {
	ChainClient(chainID int) (chainclient.ChainClient, error)
}

// Hub reads one deployment of the hub contract per chain.
type Hub struct {
	contracts map[int]string // chain -> hub contract address
	clients   Clients
}

func New(contracts map[int]string, clients Clients) *Hub {
	return &Hub{contracts: contracts, clients: clients}
}

func (h *Hub) contractFor(chain int) (string, chainclient.ChainClient, error) {
	addr, ok := h.contracts[chain]
	if !ok {
		return "", nil, fmt.Errorf("hub: no contract configured for chain %d", chain)
	}
	cl, err := h.clients.ChainClient(chain)
	if err != nil {
		return "", nil, fmt.Errorf("hub: chain client for %d: %w", chain, err)
	}
	return addr, cl, nil
}

func tickerHashBytes(tickerHash string) [32]byte {
	var out [32]byte
	copy(out[:], common.FromHex(tickerHash))
	return out
}

// CustodiedAssets reads the hub's custodied balance for tickerHash on
// chain, in the asset's native decimals (the Balance Oracle normalizes to
// 18-dp). Satisfies internal/oracle.HubReader.
func (h *Hub) CustodiedAssets(ctx context.Context, chain int, tickerHash string) (*big.Int, error) {
	addr, cl, err := h.contractFor(chain)
	if err != nil {
		return nil, err
	}
	input, err := hubABI.Pack("custodiedAssets", tickerHashBytes(tickerHash))
	if err != nil {
		return nil, fmt.Errorf("hub: pack custodiedAssets: %w", err)
	}
	out, err := cl.CallView(ctx, addr, input)
	if err != nil {
		return nil, fmt.Errorf("hub: call custodiedAssets on chain %d: %w", chain, err)
	}
	vals, err := hubABI.Unpack("custodiedAssets", out)
	if err != nil {
		return nil, fmt.Errorf("hub: unpack custodiedAssets: %w", err)
	}
	return vals[0].(*big.Int), nil
}

// PendingInboundAmount is the hub's "economy" query: intents already
// dispatched toward (tickerHash, domain) but not yet settled, which the
// Purchase Loop adds to that domain's custodied balance before planning
// (§4.7 step 3: "failures per domain are treated as zero adjustment").
func (h *Hub) PendingInboundAmount(ctx context.Context, domain int, tickerHash string) (*big.Int, error) {
	addr, cl, err := h.contractFor(domain)
	if err != nil {
		return big.NewInt(0), err
	}
	input, err := hubABI.Pack("pendingInboundAmount", tickerHashBytes(tickerHash), uint32(domain))
	if err != nil {
		return big.NewInt(0), fmt.Errorf("hub: pack pendingInboundAmount: %w", err)
	}
	out, err := cl.CallView(ctx, addr, input)
	if err != nil {
		return big.NewInt(0), fmt.Errorf("hub: call pendingInboundAmount on chain %d: %w", domain, err)
	}
	vals, err := hubABI.Unpack("pendingInboundAmount", out)
	if err != nil {
		return big.NewInt(0), fmt.Errorf("hub: unpack pendingInboundAmount: %w", err)
	}
	return vals[0].(*big.Int), nil
}

// IsXERC20Supported reports whether tickerHash settles via an xERC20 lockbox
// on domain. The Purchase Loop rejects invoices whose destinations include
// an xERC20-supported domain (DestinationXerc20, §4.7 step 5) because those
// settle without the poller's liquidity.
func (h *Hub) IsXERC20Supported(ctx context.Context, domain int, tickerHash string) (bool, error) {
	addr, cl, err := h.contractFor(domain)
	if err != nil {
		return false, err
	}
	input, err := hubABI.Pack("isXERC20Supported", tickerHashBytes(tickerHash), uint32(domain))
	if err != nil {
		return false, fmt.Errorf("hub: pack isXERC20Supported: %w", err)
	}
	out, err := cl.CallView(ctx, addr, input)
	if err != nil {
		return false, fmt.Errorf("hub: call isXERC20Supported on chain %d: %w", domain, err)
	}
	vals, err := hubABI.Unpack("isXERC20Supported", out)
	if err != nil {
		return false, fmt.Errorf("hub: unpack isXERC20Supported: %w", err)
	}
	return vals[0].(bool), nil
}

// IntentStatus is the terminal-state classification PurchaseRecord
// reconciliation checks against (§4.7 step 2, §3 "evicted when the
// associated intent reaches a terminal hub status").
type IntentStatus string

const (
	IntentSettled               IntentStatus = "settled"
	IntentDispatchedUnsupported IntentStatus = "dispatched-unsupported"
	IntentPending               IntentStatus = "pending"
)

// IsTerminal reports whether status releases a cached PurchaseRecord.
func (s IntentStatus) IsTerminal() bool {
	return s == IntentSettled || s == IntentDispatchedUnsupported
}

const intentStatusABIJSON = `[
	{"name":"intentStatus","type":"function","stateMutability":"view",
	 "inputs":[{"name":"intentId","type":"bytes32"}],
	 "outputs":[{"name":"status","type":"uint8"}]}
]`

var intentStatusABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(intentStatusABIJSON))
	if err != nil {
		panic(fmt.Sprintf("hub: invalid embedded intent-status ABI: %v", err))
	}
	intentStatusABI = parsed
}

var intentStatusByOrdinal = []IntentStatus{IntentPending, IntentSettled, IntentDispatchedUnsupported}

// IntentStatusOf reads the hub's recorded status for a submitted purchase
// intent, on the chain the purchase was submitted on.
func (h *Hub) IntentStatusOf(ctx context.Context, chain int, intentID string) (IntentStatus, error) {
	addr, cl, err := h.contractFor(chain)
	if err != nil {
		return "", err
	}
	input, err := intentStatusABI.Pack("intentStatus", tickerHashBytes(intentID))
	if err != nil {
		return "", fmt.Errorf("hub: pack intentStatus: %w", err)
	}
	out, err := cl.CallView(ctx, addr, input)
	if err != nil {
		return "", fmt.Errorf("hub: call intentStatus on chain %d: %w", chain, err)
	}
	vals, err := intentStatusABI.Unpack("intentStatus", out)
	if err != nil {
		return "", fmt.Errorf("hub: unpack intentStatus: %w", err)
	}
	ordinal := vals[0].(uint8)
	if int(ordinal) >= len(intentStatusByOrdinal) {
		return "", fmt.Errorf("hub: unknown intent status ordinal %d", ordinal)
	}
	return intentStatusByOrdinal[ordinal], nil
}
