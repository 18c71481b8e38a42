// Package config loads the daemon's YAML configuration: global settings
// plus one entry per leader/follower pair, each with its own risk block.
// Generalizes the teacher's env.go/config.go defaulting idiom (typed
// struct, getEnv*-style fallbacks) to a nested YAML document, since this
// daemon's configuration is inherently hierarchical rather than the
// teacher's single flat product config.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment selects the Hyperliquid deployment this daemon talks to.
type Environment string

const (
	Mainnet Environment = "mainnet"
	Testnet Environment = "testnet"
)

// Risk is the per-pair risk block (spec §6's Configuration section). The
// optional fields default when absent, mirroring spec.md's note that two
// historically distinct risk-config shapes share a compatible subset.
type Risk struct {
	CopyRatio                 float64  `yaml:"copyRatio"`
	MaxLeverage               int      `yaml:"maxLeverage"`
	MaxNotionalUsd            float64  `yaml:"maxNotionalUsd"`
	MaxSlippageBps            float64  `yaml:"maxSlippageBps"`
	Inverse                   bool     `yaml:"inverse"`
	MaxPositionDeviationPct   *float64 `yaml:"maxPositionDeviationPercent,omitempty"`
	MarketOrderSlippage       *float64 `yaml:"marketOrderSlippage,omitempty"`
	BoostPriceThreshold       *float64 `yaml:"boostPriceThreshold,omitempty"`
	TrendOffsetMultiplier     *float64 `yaml:"trendOffsetMultiplier,omitempty"`
	ReduceOrderTimeoutMs      *int     `yaml:"reduceOrderTimeoutMs,omitempty"`
}

// Defaults applied when the corresponding field is absent from YAML,
// exactly as spec.md §4.5/§4.6 name them.
const (
	DefaultBoostPriceThreshold  = 0.0005
	DefaultMarketOrderSlippage  = 0.05
	LegacySlippageFloor         = 0.03
	DefaultReconciliationMs     = 60_000
	UpgradedReconciliationMs    = 300_000
	DefaultReduceOrderTimeoutMs = 180_000
	DefaultRefreshAccountMs     = 5_000
)

// EffectiveMarketOrderSlippage resolves slippage per spec §4.5.6: prefer
// marketOrderSlippage, else maxSlippageBps/10000, else the default, with
// a floor of 0.03 applied only to the legacy bps-derived path.
func (r Risk) EffectiveMarketOrderSlippage() float64 {
	if r.MarketOrderSlippage != nil {
		return *r.MarketOrderSlippage
	}
	if r.MaxSlippageBps > 0 {
		s := r.MaxSlippageBps / 10000
		if s < LegacySlippageFloor {
			s = LegacySlippageFloor
		}
		return s
	}
	return DefaultMarketOrderSlippage
}

// EffectiveBoostPriceThreshold resolves the favorability threshold.
func (r Risk) EffectiveBoostPriceThreshold() float64 {
	if r.BoostPriceThreshold != nil {
		return *r.BoostPriceThreshold
	}
	return DefaultBoostPriceThreshold
}

// EffectiveReduceOrderTimeoutMs resolves the stale-reduce-order timeout;
// 0 disables the check.
func (r Risk) EffectiveReduceOrderTimeoutMs() int {
	if r.ReduceOrderTimeoutMs != nil {
		return *r.ReduceOrderTimeoutMs
	}
	return DefaultReduceOrderTimeoutMs
}

// Pair is one leader/follower mirroring configuration.
type Pair struct {
	ID                   string `yaml:"id"`
	LeaderAddress        string `yaml:"leaderAddress"`
	FollowerPrivateKey   string `yaml:"followerPrivateKey"`
	FollowerAddress      string `yaml:"followerAddress,omitempty"`
	FollowerVaultAddress string `yaml:"followerVaultAddress,omitempty"`
	Risk                 Risk   `yaml:"risk"`
	MinOrderNotionalUsd  float64 `yaml:"minOrderNotionalUsd"`
	SyncDebounceMs       int    `yaml:"syncDebounceMs"`
	Enabled              bool   `yaml:"enabled"`
	EnableSmartOrder     bool   `yaml:"enableSmartOrder"`
	SyncLeverage         bool   `yaml:"syncLeverage"`
}

// Config is the full daemon configuration document.
type Config struct {
	Environment              Environment `yaml:"environment"`
	LogLevel                 string      `yaml:"logLevel"`
	ReconciliationIntervalMs int         `yaml:"reconciliationIntervalMs"`
	RefreshAccountIntervalMs int         `yaml:"refreshAccountIntervalMs"`
	WebsocketAggregateFills  bool        `yaml:"websocketAggregateFills"`
	StateDir                 string      `yaml:"stateDir"`
	EnableTradeLog           bool        `yaml:"enableTradeLog"`
	Pairs                    []Pair      `yaml:"pairs"`
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// substituteEnv replaces every ${VAR} occurrence with os.Getenv(VAR),
// leaving unset variables as an empty string, matching the teacher's
// philosophy of never silently failing on a missing optional value.
func substituteEnv(raw []byte) []byte {
	return envVarPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Load reads and validates a configuration document from path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	raw = substituteEnv(raw)

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = Mainnet
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.ReconciliationIntervalMs <= 0 {
		cfg.ReconciliationIntervalMs = DefaultReconciliationMs
	}
	if cfg.RefreshAccountIntervalMs <= 0 {
		cfg.RefreshAccountIntervalMs = DefaultRefreshAccountMs
	}
	if cfg.StateDir == "" {
		cfg.StateDir = "./state"
	}
	for i := range cfg.Pairs {
		if cfg.Pairs[i].Risk.CopyRatio <= 0 {
			cfg.Pairs[i].Risk.CopyRatio = 1
		}
	}
}

// validate implements the "Configuration invalid → fatal at startup"
// policy of spec §7: every field a running engine cannot safely default
// is checked here, once, before any engine starts.
func validate(cfg *Config) error {
	if cfg.Environment != Mainnet && cfg.Environment != Testnet {
		return fmt.Errorf("environment must be %q or %q, got %q", Mainnet, Testnet, cfg.Environment)
	}
	if len(cfg.Pairs) == 0 {
		return fmt.Errorf("no pairs configured")
	}
	seen := make(map[string]bool, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("pair missing id")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate pair id %q", p.ID)
		}
		seen[p.ID] = true
		if strings.TrimSpace(p.LeaderAddress) == "" {
			return fmt.Errorf("pair %q missing leaderAddress", p.ID)
		}
		if strings.TrimSpace(p.FollowerPrivateKey) == "" {
			return fmt.Errorf("pair %q missing followerPrivateKey", p.ID)
		}
	}
	return nil
}

// BaseURL returns the REST base for the configured environment.
func (c *Config) BaseURL() string {
	if c.Environment == Testnet {
		return "https://api.hyperliquid-testnet.xyz"
	}
	return "https://api.hyperliquid.xyz"
}

// WSURL returns the websocket base for the configured environment.
func (c *Config) WSURL() string {
	if c.Environment == Testnet {
		return "wss://api.hyperliquid-testnet.xyz/ws"
	}
	return "wss://api.hyperliquid.xyz/ws"
}
