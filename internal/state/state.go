// Package state holds the Trader State Store (spec §4.1): a per-account
// view of perpetual positions plus account metrics, updated either by a
// full clearinghouse snapshot or by a single incremental fill.
//
// Two instances of Store exist per pair — one for the leader, one for the
// follower — each owned exclusively by that pair's engine.
package state

import (
	"fmt"
	"sync"

	"github.com/chidi150c/hyperliquid-copytrader/internal/numeric"
)

// LeverageType mirrors Hyperliquid's margin mode for a position.
type LeverageType string

const (
	LeverageCross    LeverageType = "cross"
	LeverageIsolated LeverageType = "isolated"
)

// PositionSnapshot is one coin's position, per spec §3.
type PositionSnapshot struct {
	Coin              string
	Size              float64 // signed: positive long, negative short
	EntryPrice        float64
	PositionValueUsd  float64
	Leverage          float64
	LeverageType      LeverageType
	MarginUsedUsd     float64
	LiquidationPrice  *float64
	LastUpdatedMs     int64
}

// AccountMetrics is the account-level view, per spec §3.
type AccountMetrics struct {
	AccountValueUsd    float64
	TotalNotionalUsd   float64
	TotalMarginUsedUsd float64
	WithdrawableUsd    float64
	LastUpdatedMs      int64
}

// RawPosition is the subset of a clearinghouseState assetPosition this
// store consumes. Field names mirror spec §6's wire contract; IsHedged
// indicates the position is reported in hedge (two-way) mode and must be
// dropped per spec §4.1.
type RawPosition struct {
	Coin             string
	Szi              string
	EntryPx          string
	PositionValue    string
	LeverageValue    string
	LeverageType     string
	MarginUsed       string
	LiquidationPx    string
	IsHedged         bool
}

// RawSnapshot is the subset of clearinghouseState this store consumes.
type RawSnapshot struct {
	AccountValue    string
	TotalNtlPos     string
	TotalMarginUsed string
	Withdrawable    string
	Positions       []RawPosition
	TimestampMs     int64
}

// Fill is one incremental trade execution, the unit apply_fill consumes.
type Fill struct {
	Coin      string
	IsBuy     bool
	Size      float64 // absolute
	Price     float64
	TimestampMs int64
}

// Store is a Trader State Store: positions keyed by coin, plus account
// metrics. Not safe for concurrent use across goroutines without external
// synchronization beyond the internal mutex used here only to protect
// reads from concurrent writes within a single pair's own engine.
type Store struct {
	mu        sync.RWMutex
	positions map[string]PositionSnapshot
	metrics   AccountMetrics
}

// New returns an empty Store.
func New() *Store {
	return &Store{positions: make(map[string]PositionSnapshot)}
}

// Position returns the stored snapshot for coin, if any.
func (s *Store) Position(coin string) (PositionSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[coin]
	return p, ok
}

// Size returns the signed size for coin, or 0 if absent.
func (s *Store) Size(coin string) float64 {
	p, ok := s.Position(coin)
	if !ok {
		return 0
	}
	return p.Size
}

// Positions returns a copy of all stored positions.
func (s *Store) Positions() map[string]PositionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]PositionSnapshot, len(s.positions))
	for k, v := range s.positions {
		out[k] = v
	}
	return out
}

// Metrics returns the stored account metrics.
func (s *Store) Metrics() AccountMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}

// ApplySnapshot replaces positions and metrics atomically from a
// clearinghouse-state document (spec §4.1). Hedge-mode positions are
// silently dropped; |size|<epsilon positions are elided. Required numeric
// fields must parse or the call fails and the store is left unchanged.
func (s *Store) ApplySnapshot(raw RawSnapshot) error {
	accountValue, err := numeric.ParseFloat(raw.AccountValue)
	if err != nil {
		return fmt.Errorf("state: parse accountValue: %w", err)
	}
	totalNtl, err := numeric.ParseFloat(raw.TotalNtlPos)
	if err != nil {
		return fmt.Errorf("state: parse totalNtlPos: %w", err)
	}
	totalMargin, err := numeric.ParseFloat(raw.TotalMarginUsed)
	if err != nil {
		return fmt.Errorf("state: parse totalMarginUsed: %w", err)
	}
	withdrawable, err := numeric.ParseFloat(raw.Withdrawable)
	if err != nil {
		return fmt.Errorf("state: parse withdrawable: %w", err)
	}

	positions := make(map[string]PositionSnapshot, len(raw.Positions))
	for _, rp := range raw.Positions {
		if rp.IsHedged {
			continue
		}
		size, err := numeric.ParseFloat(rp.Szi)
		if err != nil {
			return fmt.Errorf("state: parse szi for %s: %w", rp.Coin, err)
		}
		if numeric.IsDust(size) {
			continue
		}
		entry, err := numeric.ParseFloat(rp.EntryPx)
		if err != nil {
			return fmt.Errorf("state: parse entryPx for %s: %w", rp.Coin, err)
		}
		posValue := numeric.ParseFloatOr(rp.PositionValue, 0)
		leverage := numeric.ParseFloatOr(rp.LeverageValue, 0)
		marginUsed := numeric.ParseFloatOr(rp.MarginUsed, 0)

		var liq *float64
		if v, err := numeric.ParseFloat(rp.LiquidationPx); err == nil {
			liq = &v
		}

		lt := LeverageType(rp.LeverageType)
		if lt != LeverageIsolated {
			lt = LeverageCross
		}

		positions[rp.Coin] = PositionSnapshot{
			Coin:             rp.Coin,
			Size:             size,
			EntryPrice:       entry,
			PositionValueUsd: posValue,
			Leverage:         leverage,
			LeverageType:     lt,
			MarginUsedUsd:    marginUsed,
			LiquidationPrice: liq,
			LastUpdatedMs:    raw.TimestampMs,
		}
	}

	s.mu.Lock()
	s.positions = positions
	s.metrics = AccountMetrics{
		AccountValueUsd:    accountValue,
		TotalNotionalUsd:   totalNtl,
		TotalMarginUsedUsd: totalMargin,
		WithdrawableUsd:    withdrawable,
		LastUpdatedMs:      raw.TimestampMs,
	}
	s.mu.Unlock()
	return nil
}

// ApplyFill incrementally updates one coin's position from a single trade.
// It never fails: a missing or dust prior position is treated as blank.
func (s *Store) ApplyFill(f Fill) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prior, hasPrior := s.positions[f.Coin]
	oldSize := 0.0
	if hasPrior {
		oldSize = prior.Size
	}

	signedFill := numeric.SignOf(f.IsBuy) * f.Size
	newSize := oldSize + signedFill

	if numeric.IsDust(newSize) {
		delete(s.positions, f.Coin)
		return
	}

	entryPrice := recomputeEntryPrice(prior, hasPrior, oldSize, signedFill, f.Size, f.Price)

	next := PositionSnapshot{
		Coin:             f.Coin,
		Size:             newSize,
		EntryPrice:       entryPrice,
		PositionValueUsd: abs(newSize) * f.Price,
		MarginUsedUsd:    abs(newSize) * f.Price,
		LastUpdatedMs:    f.TimestampMs,
	}
	if hasPrior {
		next.Leverage = prior.Leverage
		next.LeverageType = prior.LeverageType
		next.LiquidationPrice = prior.LiquidationPrice
	} else {
		next.LeverageType = LeverageCross
	}
	s.positions[f.Coin] = next
}

// recomputeEntryPrice implements spec §4.1's four authoritative rules, in
// order: no prior -> fill price; same direction (adding) -> weighted
// average; opposite direction pure reduction -> keep old; opposite
// direction flip -> fill price.
func recomputeEntryPrice(prior PositionSnapshot, hasPrior bool, oldSize, signedFill, fillSize, fillPrice float64) float64 {
	if !hasPrior || numeric.IsDust(oldSize) {
		return fillPrice
	}

	sameDirection := (oldSize > 0 && signedFill > 0) || (oldSize < 0 && signedFill < 0)
	if sameDirection {
		oldAbs := abs(oldSize)
		newAbs := oldAbs + fillSize
		if numeric.IsDust(newAbs) {
			return fillPrice
		}
		return (oldAbs*prior.EntryPrice + fillSize*fillPrice) / newAbs
	}

	// Opposite direction: reduction or flip.
	if fillSize <= abs(oldSize) {
		return prior.EntryPrice
	}
	return fillPrice
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
