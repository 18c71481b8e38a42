package state

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplySnapshotDropsHedgedAndDust(t *testing.T) {
	s := New()
	err := s.ApplySnapshot(RawSnapshot{
		AccountValue:    "1000.5",
		TotalNtlPos:     "500",
		TotalMarginUsed: "100",
		Withdrawable:    "900",
		TimestampMs:     1000,
		Positions: []RawPosition{
			{Coin: "BTC", Szi: "1.5", EntryPx: "60000", LeverageValue: "5", LeverageType: "cross"},
			{Coin: "ETH", Szi: "2", EntryPx: "3000", IsHedged: true},
			{Coin: "DOGE", Szi: "0.0000000001", EntryPx: "0.1"},
		},
	})
	require.NoError(t, err)

	_, ok := s.Position("ETH")
	require.False(t, ok, "hedged position must be dropped")
	_, ok = s.Position("DOGE")
	require.False(t, ok, "dust position must be elided")

	btc, ok := s.Position("BTC")
	require.True(t, ok)
	require.Equal(t, 1.5, btc.Size)
	require.Equal(t, 60000.0, btc.EntryPrice)
	require.Equal(t, LeverageCross, btc.LeverageType)

	m := s.Metrics()
	require.Equal(t, 1000.5, m.AccountValueUsd)
}

func TestApplySnapshotFailsOnUnparsableRequiredField(t *testing.T) {
	s := New()
	err := s.ApplySnapshot(RawSnapshot{
		AccountValue: "not-a-number",
	})
	require.Error(t, err)
}

func TestApplyFillOpensFromBlank(t *testing.T) {
	s := New()
	s.ApplyFill(Fill{Coin: "BTC", IsBuy: true, Size: 1, Price: 50000, TimestampMs: 1})

	p, ok := s.Position("BTC")
	require.True(t, ok)
	require.Equal(t, 1.0, p.Size)
	require.Equal(t, 50000.0, p.EntryPrice)
}

func TestApplyFillWeightedAverageOnAdd(t *testing.T) {
	s := New()
	s.ApplyFill(Fill{Coin: "BTC", IsBuy: true, Size: 1, Price: 50000, TimestampMs: 1})
	s.ApplyFill(Fill{Coin: "BTC", IsBuy: true, Size: 1, Price: 60000, TimestampMs: 2})

	p, ok := s.Position("BTC")
	require.True(t, ok)
	require.Equal(t, 2.0, p.Size)
	require.InDelta(t, 55000.0, p.EntryPrice, 1e-9)
}

func TestApplyFillKeepsEntryOnPartialReduce(t *testing.T) {
	s := New()
	s.ApplyFill(Fill{Coin: "BTC", IsBuy: true, Size: 2, Price: 50000, TimestampMs: 1})
	s.ApplyFill(Fill{Coin: "BTC", IsBuy: false, Size: 1, Price: 70000, TimestampMs: 2})

	p, ok := s.Position("BTC")
	require.True(t, ok)
	require.Equal(t, 1.0, p.Size)
	require.Equal(t, 50000.0, p.EntryPrice, "entry price must not change on a partial reduce")
}

func TestApplyFillResetsEntryOnFlip(t *testing.T) {
	s := New()
	s.ApplyFill(Fill{Coin: "BTC", IsBuy: true, Size: 1, Price: 50000, TimestampMs: 1})
	s.ApplyFill(Fill{Coin: "BTC", IsBuy: false, Size: 3, Price: 70000, TimestampMs: 2})

	p, ok := s.Position("BTC")
	require.True(t, ok)
	require.Equal(t, -2.0, p.Size)
	require.Equal(t, 70000.0, p.EntryPrice, "flipping direction resets entry to the flip fill price")
}

func TestApplyFillClosesToDustRemovesPosition(t *testing.T) {
	s := New()
	s.ApplyFill(Fill{Coin: "BTC", IsBuy: true, Size: 1, Price: 50000, TimestampMs: 1})
	s.ApplyFill(Fill{Coin: "BTC", IsBuy: false, Size: 1, Price: 50000, TimestampMs: 2})

	_, ok := s.Position("BTC")
	require.False(t, ok)
}
