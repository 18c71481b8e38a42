package signal

import (
	"context"
	"math"
	"sync"

	"github.com/chidi150c/hyperliquid-copytrader/internal/botlog"
	"github.com/chidi150c/hyperliquid-copytrader/internal/exchange"
	"github.com/chidi150c/hyperliquid-copytrader/internal/state"
)

// leverageCacheEntry remembers the last leverage written for a coin, to
// avoid redundant updateLeverage calls (spec §4.5.5).
type leverageCacheEntry struct {
	leverage int
	typ      state.LeverageType
}

// leverageSyncer applies spec §4.5.5: before every new position, if
// enabled and the leader reports a positive leverage, mirror
// floor(leaderLeverage) and the leader's margin mode onto the follower's
// asset. Failures are logged at warn and never block the trade.
type leverageSyncer struct {
	mu          sync.Mutex
	cache       map[string]leverageCacheEntry
	exec        exchange.ExecutionClient
	enabled     bool
	maxLeverage int
	log         *botlog.Logger
}

func newLeverageSyncer(exec exchange.ExecutionClient, enabled bool, maxLeverage int, log *botlog.Logger) *leverageSyncer {
	return &leverageSyncer{cache: make(map[string]leverageCacheEntry), exec: exec, enabled: enabled, maxLeverage: maxLeverage, log: log}
}

func (s *leverageSyncer) syncIfNeeded(ctx context.Context, coin string, assetID int, leaderLeverage float64, leaderType state.LeverageType) {
	if !s.enabled || leaderLeverage <= 0 {
		return
	}
	leverage := int(math.Floor(leaderLeverage))
	if s.maxLeverage > 0 && leverage > s.maxLeverage {
		leverage = s.maxLeverage
	}
	target := leverageCacheEntry{leverage: leverage, typ: leaderType}

	s.mu.Lock()
	if cached, ok := s.cache[coin]; ok && cached == target {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	isCross := leaderType != state.LeverageIsolated
	if err := s.exec.UpdateLeverage(ctx, assetID, isCross, target.leverage); err != nil {
		s.log.Warnw("signal: leverage sync failed, trade proceeds anyway", "coin", coin, "error", err)
		return
	}

	s.mu.Lock()
	s.cache[coin] = target
	s.mu.Unlock()
}
