// Package persistence is the per-pair durable state store (spec §4.4):
// a single JSON document per pair with debounced writes, plus a daily
// JSONL trade audit log. Generalized from the teacher's saveState/
// saveStateFrom/loadState in trader.go — snapshot under a read lock,
// write without holding it, atomic temp-file-then-rename — from a
// flush-on-demand writer into one that coalesces mutations behind a
// single scheduled timer.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chidi150c/hyperliquid-copytrader/internal/botlog"
	"github.com/chidi150c/hyperliquid-copytrader/internal/history"
)

const (
	SchemaVersion      = 1
	debounceQuietTime  = 1 * time.Second
	clearedPositionCap = 100
)

// ClearedPosition is one audit entry in the capped ring.
type ClearedPosition struct {
	Coin       string    `json:"coin"`
	Reason     string    `json:"reason"`
	ClearedAt  time.Time `json:"clearedAt"`
}

// PersistedPairState is the on-disk document, one per pair (spec §3).
type PersistedPairState struct {
	PairID              string                        `json:"pairId"`
	FirstStartedAt      time.Time                      `json:"firstStartedAt"`
	LastRunAt           time.Time                      `json:"lastRunAt"`
	LeaderAddress       string                        `json:"leaderAddress"`
	SchemaVersion       int                           `json:"schemaVersion"`
	InitializedSnapshot bool                          `json:"initializedSnapshot"`
	HistoricalPositions []history.PersistedHistorical `json:"historicalPositions"`
	ClearedPositions    []ClearedPosition             `json:"clearedPositions"`
	CoinRatioCache      map[string]float64            `json:"coinRatioCache,omitempty"`
}

// Store owns one pair's document and its debounce timer.
type Store struct {
	mu   sync.Mutex
	path string
	log  *botlog.Logger

	state PersistedPairState
	dirty bool
	timer *time.Timer
}

// Open loads path if present, performing the three load-time
// validations from spec §4.4; on any validation failure or unreadable
// file it logs and rebuilds initial state for pairID/leaderAddress.
func Open(stateDir, pairID, leaderAddress string, log *botlog.Logger) (*Store, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("persistence: mkdir %s: %w", stateDir, err)
	}
	path := filepath.Join(stateDir, pairID+".json")

	s := &Store{path: path, log: log}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnw("persistence: unreadable state file, rebuilding", "path", path, "error", err)
		}
		s.state = freshState(pairID, leaderAddress)
		return s, nil
	}

	var loaded rawPersistedPairState
	if err := json.Unmarshal(raw, &loaded); err != nil {
		log.Warnw("persistence: corrupt state file, rebuilding", "path", path, "error", err)
		s.state = freshState(pairID, leaderAddress)
		return s, nil
	}

	if loaded.PairID != pairID {
		log.Warnw("persistence: pairId mismatch, rebuilding", "path", path, "want", pairID, "got", loaded.PairID)
		s.state = freshState(pairID, leaderAddress)
		return s, nil
	}
	if !strings.EqualFold(loaded.LeaderAddress, leaderAddress) {
		log.Warnw("persistence: leaderAddress mismatch, rebuilding", "path", path, "want", leaderAddress, "got", loaded.LeaderAddress)
		s.state = freshState(pairID, leaderAddress)
		return s, nil
	}

	st := loaded.toState()
	if !loaded.hasInitializedSnapshot {
		// Missing field in an older schema: the file's existence implies
		// we've run before.
		st.InitializedSnapshot = true
	}
	s.state = st
	return s, nil
}

// rawPersistedPairState distinguishes "field absent" from "field false"
// for InitializedSnapshot during the migration check above.
type rawPersistedPairState struct {
	PersistedPairState
	hasInitializedSnapshot bool
}

func (r *rawPersistedPairState) UnmarshalJSON(b []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	_, r.hasInitializedSnapshot = m["initializedSnapshot"]
	return json.Unmarshal(b, &r.PersistedPairState)
}

func (r rawPersistedPairState) toState() PersistedPairState {
	return r.PersistedPairState
}

func freshState(pairID, leaderAddress string) PersistedPairState {
	now := time.Now().UTC()
	return PersistedPairState{
		PairID:         pairID,
		FirstStartedAt: now,
		LastRunAt:      now,
		LeaderAddress:  leaderAddress,
		SchemaVersion:  SchemaVersion,
	}
}

// Snapshot returns a copy of the current in-memory state.
func (s *Store) Snapshot() PersistedPairState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Mutate applies fn to the in-memory state under lock and schedules a
// debounced write.
func (s *Store) Mutate(fn func(*PersistedPairState)) {
	s.mu.Lock()
	fn(&s.state)
	s.dirty = true
	s.scheduleLocked()
	s.mu.Unlock()
}

// RecordHistoricalClear appends a capped audit entry and removes the
// coin from HistoricalPositions, called when history.Tracker clears a
// coin's historical marker.
func (s *Store) RecordHistoricalClear(coin, reason string) {
	s.Mutate(func(st *PersistedPairState) {
		out := st.HistoricalPositions[:0]
		for _, h := range st.HistoricalPositions {
			if h.Coin != coin {
				out = append(out, h)
			}
		}
		st.HistoricalPositions = out

		st.ClearedPositions = append(st.ClearedPositions, ClearedPosition{
			Coin:      coin,
			Reason:    reason,
			ClearedAt: time.Now().UTC(),
		})
		if len(st.ClearedPositions) > clearedPositionCap {
			st.ClearedPositions = st.ClearedPositions[len(st.ClearedPositions)-clearedPositionCap:]
		}
	})
}

func (s *Store) scheduleLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(debounceQuietTime, func() {
		if err := s.SaveNow(); err != nil {
			s.log.Errorw("persistence: debounced flush failed, will retry", "path", s.path, "error", err)
		}
	})
}

// SaveNow synchronously flushes the current state, regardless of the
// debounce timer. Called on engine stop.
func (s *Store) SaveNow() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	s.state.LastRunAt = time.Now().UTC()
	snapshot := s.state
	s.mu.Unlock()

	bs, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, bs, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}

	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
	return nil
}

// Close cancels the debounce timer and flushes synchronously, per
// spec §5 ("Persistence debounce is cancelled and flushed on stop").
func (s *Store) Close() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
	return s.SaveNow()
}
