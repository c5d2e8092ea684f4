// Package config declares the operational configuration the core consumes
// (§6). Loading it from disk/env is an external collaborator — Load here is
// a thin viper-backed convenience, not a requirement; anything that can
// produce a *Config satisfies the core's needs.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/arcsign/crossrail/internal/errs"
)

// WalletType selects which Signer flavor (§4.2) backs a chain's submissions.
type WalletType string

const (
	WalletTypeEOA    WalletType = "EOA"
	WalletTypeZodiac WalletType = "Zodiac"
)

// AssetConfig maps one (ticker, chain) pair to its on-chain identity.
type AssetConfig struct {
	Symbol           string
	Address          string
	Decimals         uint8
	TickerHash       string
	IsNative         bool
	BalanceThreshold string // 18-dp string, alarm floor
}

// Deployments names the well-known contract addresses a chain needs.
type Deployments struct {
	Everclear string
	Permit2   string
	Multicall3 string
}

// ChainConfig is the per-chain slice of the operational config (§6).
type ChainConfig struct {
	ChainID            int
	Providers          []string // ordered fallback RPC URLs
	Assets             []AssetConfig
	GasThreshold       string
	BandwidthThreshold string
	EnergyThreshold    string
	Deployments        Deployments
	SafeTxService      string // optional
}

// RouteConfig is one entry of the declarative rebalancing table (§3, §6).
type RouteConfig struct {
	Origin            int
	Destination       int
	Asset             string
	DestinationAsset  string // optional; empty means same as Asset
	Preferences       []string
	SwapPreferences   []string
	SlippagesDbps     []int64
	Maximum           string // 18-dp high-water mark
	Reserve           string // 18-dp
}

// WalletConfig selects the signer flavor for a chain (§6).
type WalletConfig struct {
	WalletType    WalletType
	SafeAddress   string
	ModuleAddress string
	RoleKey       string
}

// Config is the full operational configuration consumed by the core.
type Config struct {
	InvoiceAge                 int64 // seconds
	SupportedSettlementDomains []int
	SupportedAssets            []string
	Chains                     map[int]ChainConfig
	Routes                     []RouteConfig
	Wallets                    map[int]WalletConfig
	ForceOldestInvoice         bool
	// SolanaDepositAddresses maps a configured chain ID to the base58
	// deposit address the oracle should read for that domain, for the
	// small set of non-EVM liquidity destinations this core settles
	// against. Absent for every purely-EVM deployment.
	SolanaDepositAddresses map[int]string
}

// Validate performs the startup checks that, if they fail, are a ConfigError
// per §7 — never recovered in a running loop.
func (c *Config) Validate() error {
	if len(c.SupportedSettlementDomains) == 0 {
		return &errs.ConfigError{Field: "supportedSettlementDomains", Msg: "must not be empty"}
	}
	for _, chainID := range c.SupportedSettlementDomains {
		if _, ok := c.Chains[chainID]; !ok {
			return &errs.ConfigError{Field: "supportedSettlementDomains", Msg: fmt.Sprintf("settlement domain %d has no chain config", chainID)}
		}
	}
	for _, route := range c.Routes {
		if len(route.Preferences) == 0 {
			return &errs.ConfigError{Field: "routes", Msg: fmt.Sprintf("route %d->%d has no bridge preferences", route.Origin, route.Destination)}
		}
		if len(route.SlippagesDbps) != len(route.Preferences) {
			return &errs.ConfigError{Field: "routes", Msg: fmt.Sprintf("route %d->%d slippagesDbps length must match preferences", route.Origin, route.Destination)}
		}
	}
	return nil
}

// Load reads the operational config from a YAML/env source via viper. The
// core treats this purely as a convenience constructor for *Config — the
// Lambda/CLI entrypoints that exclude this from the spec's core are free to
// build a *Config any other way.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("POLLER")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
