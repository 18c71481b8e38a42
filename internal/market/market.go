// Package market is the shared metadata cache (spec §4.2): per-coin
// asset id, size decimals, max leverage, margin table id, and mark/mid
// prices. Generalized from the teacher's best-effort candle refresh in
// broker_bridge.go (failures logged, never propagated, last-known value
// retained) to a mark/mid price cache.
package market

import (
	"context"
	"fmt"
	"sync"

	"github.com/chidi150c/hyperliquid-copytrader/internal/botlog"
	"github.com/chidi150c/hyperliquid-copytrader/internal/exchange"
	"github.com/chidi150c/hyperliquid-copytrader/internal/numeric"
)

// CoinMeta is one coin's cached metadata.
type CoinMeta struct {
	AssetID       int
	SizeDecimals  int
	MaxLeverage   int
	MarginTableID int
	MarkPx        string
	MidPx         string
}

// Cache is the read-mostly metadata cache shared by every engine under
// one orchestrator. Safe for concurrent use; writes only occur inside
// ensure_loaded/refresh_* and replace whole entries.
type Cache struct {
	info exchange.InfoClient
	log  *botlog.Logger

	mu     sync.RWMutex
	loaded bool
	byCoin map[string]CoinMeta
}

// New returns a Cache backed by info.
func New(info exchange.InfoClient, log *botlog.Logger) *Cache {
	return &Cache{info: info, log: log, byCoin: make(map[string]CoinMeta)}
}

// EnsureLoaded fetches the universe and per-asset contexts exactly once.
// Subsequent calls are no-ops. A failure here is fatal to the caller
// (spec §7: "Metadata fetch fails at startup → Fatal").
func (c *Cache) EnsureLoaded(ctx context.Context) error {
	c.mu.RLock()
	if c.loaded {
		c.mu.RUnlock()
		return nil
	}
	c.mu.RUnlock()

	u, err := c.info.MetaAndAssetCtxs(ctx)
	if err != nil {
		return fmt.Errorf("market: ensure_loaded: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return nil
	}
	for i, a := range u.Assets {
		meta := CoinMeta{
			AssetID:       a.AssetID,
			SizeDecimals:  a.SizeDecimals,
			MaxLeverage:   a.MaxLeverage,
			MarginTableID: a.MarginTableID,
		}
		if i < len(u.Contexts) {
			meta.MarkPx = u.Contexts[i].MarkPx
		}
		c.byCoin[a.Name] = meta
	}
	c.loaded = true
	return nil
}

// RefreshMarkPrices is a best-effort refresh: errors are logged and
// swallowed, last-known values survive untouched.
func (c *Cache) RefreshMarkPrices(ctx context.Context) {
	u, err := c.info.MetaAndAssetCtxs(ctx)
	if err != nil {
		c.log.Warnw("market: refresh_mark_prices failed, keeping last known", "error", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, a := range u.Assets {
		if i >= len(u.Contexts) {
			continue
		}
		meta, ok := c.byCoin[a.Name]
		if !ok {
			// sizeDecimals must never change after first load; a coin
			// appearing after ensure_loaded is adopted as-is.
			meta = CoinMeta{AssetID: a.AssetID, SizeDecimals: a.SizeDecimals, MaxLeverage: a.MaxLeverage, MarginTableID: a.MarginTableID}
		}
		meta.MarkPx = u.Contexts[i].MarkPx
		c.byCoin[a.Name] = meta
	}
}

// RefreshMidPrices is a best-effort refresh of best-bid/ask midpoints via
// allMids; same failure posture as RefreshMarkPrices.
func (c *Cache) RefreshMidPrices(ctx context.Context) {
	mids, err := c.info.AllMids(ctx)
	if err != nil {
		c.log.Warnw("market: refresh_mid_prices failed, keeping last known", "error", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for coin, px := range mids {
		meta, ok := c.byCoin[coin]
		if !ok {
			continue
		}
		meta.MidPx = px
		c.byCoin[coin] = meta
	}
}

// Meta returns the cached metadata for coin.
func (c *Cache) Meta(coin string) (CoinMeta, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.byCoin[coin]
	return m, ok
}

// ExecutionPrice returns the mid price if known, else the mark price, and
// reports whether either was available. Callers must abort order
// construction on false.
func (c *Cache) ExecutionPrice(coin string) (float64, bool) {
	m, ok := c.Meta(coin)
	if !ok {
		return 0, false
	}
	if m.MidPx != "" {
		if v, err := numeric.ParseFloat(m.MidPx); err == nil {
			return v, true
		}
	}
	if m.MarkPx != "" {
		if v, err := numeric.ParseFloat(m.MarkPx); err == nil {
			return v, true
		}
	}
	return 0, false
}

// RoundPrice formats price to the precision implied by coin's cached mark
// price string, per spec §4.2's round_price contract.
func (c *Cache) RoundPrice(coin string, price float64) string {
	m, ok := c.Meta(coin)
	if !ok {
		return numeric.RoundToReference(price, "")
	}
	return numeric.RoundToReference(price, m.MarkPx)
}
