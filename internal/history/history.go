// Package history implements the historical-position tracker (spec
// §4.3): the startup-snapshot exclusion set that keeps pre-existing
// leader positions from being dragged onto the follower. There is no
// teacher equivalent; structured the way the teacher co-locates small
// state with the rules that read it (Trader fields next to step() in
// trader.go/step.go).
package history

import (
	"sync"

	"github.com/chidi150c/hyperliquid-copytrader/internal/botlog"
	"github.com/chidi150c/hyperliquid-copytrader/internal/numeric"
)

// ClearReason explains why a coin left the historical set.
type ClearReason string

const (
	ReasonClosed   ClearReason = "closed"
	ReasonFlipped  ClearReason = "flipped"
	ReasonReopened ClearReason = "reopened"
)

// ClearEvent is emitted by can_copy/initialize whenever a coin's
// historical marker is dropped, for the caller to persist as audit.
type ClearEvent struct {
	Coin   string
	Reason ClearReason
}

// PersistedHistorical is the on-disk record of one historical coin
// (spec §3 PersistedPairState.historicalPositions entry).
type PersistedHistorical struct {
	Coin        string
	Direction   float64 // sign only matters: >0 long, <0 short
	Size        float64
	RecordedAtMs int64
}

// Tracker is the historical-position oracle for one pair.
type Tracker struct {
	mu sync.Mutex

	initialized      bool
	historicalCoins  map[string]float64 // coin -> persisted direction sign
	lastSeenLeaderSz map[string]float64

	log *botlog.Logger
}

// New returns an uninitialized Tracker; can_copy refuses until
// Initialize is called, per spec §4.3's fail-safe.
func New(log *botlog.Logger) *Tracker {
	return &Tracker{
		historicalCoins:  make(map[string]float64),
		lastSeenLeaderSz: make(map[string]float64),
		log:              log,
	}
}

// Initialize seeds the tracker from leaderPositions (coin -> signed
// size) and persisted historical records. alreadyInitialized reports
// whether the persisted `initializedSnapshot` flag was already true
// (i.e. this is a restart, not a fresh start). It returns the clear
// events produced during restart reconciliation, and the set of coins
// that must be persisted as newly-historical on a fresh start.
func (t *Tracker) Initialize(leaderPositions map[string]float64, persisted []PersistedHistorical, alreadyInitialized bool) (newlyHistorical []string, clears []ClearEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !alreadyInitialized {
		for coin, size := range leaderPositions {
			if numeric.IsDust(size) {
				continue
			}
			t.historicalCoins[coin] = sign(size)
			newlyHistorical = append(newlyHistorical, coin)
		}
	} else {
		for _, ph := range persisted {
			currentSize, stillHeld := leaderPositions[ph.Coin]
			switch {
			case !stillHeld || numeric.IsDust(currentSize):
				clears = append(clears, ClearEvent{Coin: ph.Coin, Reason: ReasonClosed})
			case sign(currentSize) != sign(ph.Direction):
				clears = append(clears, ClearEvent{Coin: ph.Coin, Reason: ReasonFlipped})
			default:
				t.historicalCoins[ph.Coin] = sign(ph.Direction)
			}
		}
	}

	for coin, size := range leaderPositions {
		t.lastSeenLeaderSz[coin] = size
	}
	t.initialized = true
	return newlyHistorical, clears
}

// CanCopy implements spec §4.3's ordered rule list. The caller is
// responsible for persisting any returned ClearEvent.
func (t *Tracker) CanCopy(coin string, leaderSize float64) (bool, *ClearEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.initialized {
		t.log.Warnw("history: can_copy called before initialize, refusing", "coin", coin)
		return false, nil
	}

	dir, isHistorical := t.historicalCoins[coin]
	defer func() { t.lastSeenLeaderSz[coin] = leaderSize }()

	if !isHistorical {
		return true, nil
	}

	if numeric.IsDust(leaderSize) {
		delete(t.historicalCoins, coin)
		return false, &ClearEvent{Coin: coin, Reason: ReasonClosed}
	}

	prevSize, hadPrev := t.lastSeenLeaderSz[coin]
	if hadPrev && numeric.IsDust(prevSize) {
		delete(t.historicalCoins, coin)
		return true, &ClearEvent{Coin: coin, Reason: ReasonReopened}
	}

	if sign(leaderSize) != dir {
		delete(t.historicalCoins, coin)
		return true, &ClearEvent{Coin: coin, Reason: ReasonFlipped}
	}

	return false, nil
}

// IsHistorical reports whether coin currently carries a historical
// marker, for callers that need a read without mutating last-seen state.
func (t *Tracker) IsHistorical(coin string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.historicalCoins[coin]
	return ok
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
