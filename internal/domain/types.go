// Package domain holds the entities shared across the planner, the state
// store, and both loops (§3). Keeping them in one leaf package, the way
// the teacher keeps its wire-format types in internal/models, avoids an
// import cycle between internal/store, internal/planner,
// internal/purchase, and internal/rebalance — all four need the same
// Earmark/RebalanceOperation shapes.
package domain

import (
	"math/big"
	"time"
)

// Invoice is read-only from the core's perspective; it arrives from the
// external invoice feed (§3).
type Invoice struct {
	IntentID         string
	TickerHash       string
	Owner            string
	OriginChain      int
	DestinationChains []int
	Amount           *big.Int // 18-dp canonical
	DiscountBps      int64
	QueuedAt         time.Time
	HubStatus        string
}

// RebalanceRoute identifies one origin/destination/asset combination a
// rebalancing config applies to (§3).
type RebalanceRoute struct {
	OriginChain      int
	DestinationChain int
	Asset            string
	DestinationAsset string // empty means same as Asset (a top-up route)
}

// RouteRebalancingConfig is the declarative policy for one route (§3).
type RouteRebalancingConfig struct {
	Route           RebalanceRoute
	Preferences     []string // bridge tags, in priority order
	SlippagesDbps   map[string]int64 // bridge tag -> configured max slippage
	SwapPreferences []string
	Maximum         *big.Int
	Reserve         *big.Int
}

// EarmarkStatus enumerates an Earmark's lifecycle states (§3).
type EarmarkStatus string

const (
	EarmarkInitiating EarmarkStatus = "initiating"
	EarmarkPending    EarmarkStatus = "pending"
	EarmarkReady      EarmarkStatus = "ready"
	EarmarkCompleted  EarmarkStatus = "completed"
	EarmarkCancelled  EarmarkStatus = "cancelled"
	EarmarkFailed     EarmarkStatus = "failed"
	EarmarkExpired    EarmarkStatus = "expired"
)

// IsTerminal reports whether this status releases the unique-active-earmark
// constraint for its invoice (§3 "Transitions to a terminal state release
// the uniqueness constraint").
func (s EarmarkStatus) IsTerminal() bool {
	switch s {
	case EarmarkCompleted, EarmarkCancelled, EarmarkFailed, EarmarkExpired:
		return true
	default:
		return false
	}
}

// Earmark is a claim on in-flight rebalances to satisfy one invoice (§3).
type Earmark struct {
	ID               string
	InvoiceID        string
	PurchaseChain    int
	Ticker           string
	MinAmount        *big.Int // 18-dp
	Status           EarmarkStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// OperationStatus enumerates a RebalanceOperation's lifecycle states (§3).
type OperationStatus string

const (
	OperationPending          OperationStatus = "pending"
	OperationAwaitingCallback OperationStatus = "awaiting_callback"
	OperationCompleted        OperationStatus = "completed"
	OperationExpired          OperationStatus = "expired"
	OperationCancelled        OperationStatus = "cancelled"
)

// LegInfo records one chain's transaction within a RebalanceOperation.
type LegInfo struct {
	Hash     string
	Receipt  map[string]interface{}
	Metadata map[string]interface{}
}

// RebalanceOperation is a single bridge/exchange transfer (§3).
type RebalanceOperation struct {
	ID               string
	EarmarkID        string // empty if not bound to an earmark (free-pool top-up)
	OriginChain      int
	DestinationChain int
	Ticker           string
	Amount           *big.Int // origin native decimals
	SlippageDbps     int64
	BridgeKind       string
	Legs             map[int]LegInfo // chain -> leg
	Status           OperationStatus
	IsOrphaned       bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PurchaseRecord is a cached record of a submitted purchase intent (§3).
type PurchaseRecord struct {
	IntentID         string
	InvoiceID        string
	Params           map[string]interface{}
	SubmissionHash   string
	SubmissionKind   string // "on-chain" | "multisig-proposal"
	CachedAt         time.Time
}

// AuditLogEntry is an append-only record of one earmark state transition
// (§3).
type AuditLogEntry struct {
	ID             string
	EarmarkID      string
	Operation      string
	PreviousStatus string
	NewStatus      string
	Details        map[string]interface{}
	CreatedAt      time.Time
}

// PlannedRebalanceOperation is the Route Planner's output: an operation
// not yet submitted (§4.5 "Per-operation guarantees").
type PlannedRebalanceOperation struct {
	Origin               int
	Destination          int
	Asset                string
	DestinationAsset     string
	Amount               *big.Int // origin native decimals
	ExpectedOutputAmount *big.Int // 18-dp, always > 0
	SlippageDbps         int64
	BridgeKind           string
	Classification       RouteClassification
}

// RouteClassification orders tie-breaking among candidate plans (§4.5
// step 4: "same-chain-swap (0) < direct (1) < swap+bridge (2) < unknown (3)").
type RouteClassification int

const (
	ClassificationSameChainSwap RouteClassification = 0
	ClassificationDirectBridge  RouteClassification = 1
	ClassificationSwapAndBridge RouteClassification = 2
	ClassificationUnknown       RouteClassification = 3
)
