package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TradeOutcome is one of the four outcomes spec §7 names for the audit
// trail's user-visible behavior.
type TradeOutcome string

const (
	OutcomeReceived TradeOutcome = "received"
	OutcomeExecuted TradeOutcome = "executed"
	OutcomeSkipped  TradeOutcome = "skipped"
	OutcomeFailed   TradeOutcome = "failed"
)

// TradeRecord is one JSONL line of the trade audit log.
type TradeRecord struct {
	Timestamp time.Time    `json:"timestamp"`
	Coin      string       `json:"coin"`
	Direction string       `json:"direction"`
	Outcome   TradeOutcome `json:"outcome"`
	Reason    string       `json:"reason,omitempty"`
	Side      string       `json:"side,omitempty"`
	Size      float64      `json:"size,omitempty"`
	Price     float64      `json:"price,omitempty"`
}

// TradeLog appends newline-delimited JSON records to
// <stateDir>/trades/<leaderAddress>/<YYYY-MM-DD>.jsonl, rolling to a new
// file at each UTC day boundary. Disabled entirely when enabled=false,
// in which case Record is a no-op (the global enableTradeLog toggle).
type TradeLog struct {
	mu            sync.Mutex
	dir           string
	enabled       bool
	currentDay    string
	currentFile   *os.File
}

// NewTradeLog returns a TradeLog writing under stateDir/trades/leaderAddress.
func NewTradeLog(stateDir, leaderAddress string, enabled bool) *TradeLog {
	return &TradeLog{
		dir:     filepath.Join(stateDir, "trades", leaderAddress),
		enabled: enabled,
	}
}

// Record appends rec as one JSON line, rolling the file if the UTC date
// has changed since the last write.
func (t *TradeLog) Record(rec TradeRecord) error {
	if !t.enabled {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	day := rec.Timestamp.UTC().Format("2006-01-02")
	if day != t.currentDay || t.currentFile == nil {
		if t.currentFile != nil {
			_ = t.currentFile.Close()
		}
		if err := os.MkdirAll(t.dir, 0755); err != nil {
			return fmt.Errorf("tradelog: mkdir: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(t.dir, day+".jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("tradelog: open: %w", err)
		}
		t.currentFile = f
		t.currentDay = day
	}

	bs, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	bs = append(bs, '\n')
	_, err = t.currentFile.Write(bs)
	return err
}

// Close closes the currently open log file, if any.
func (t *TradeLog) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.currentFile == nil {
		return nil
	}
	err := t.currentFile.Close()
	t.currentFile = nil
	return err
}
