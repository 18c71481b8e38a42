package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chidi150c/hyperliquid-copytrader/internal/botlog"
	"github.com/chidi150c/hyperliquid-copytrader/internal/config"
	"github.com/chidi150c/hyperliquid-copytrader/internal/exchange"
	"github.com/chidi150c/hyperliquid-copytrader/internal/history"
	"github.com/chidi150c/hyperliquid-copytrader/internal/market"
	"github.com/chidi150c/hyperliquid-copytrader/internal/persistence"
	"github.com/chidi150c/hyperliquid-copytrader/internal/state"
)

type stubInfo struct {
	leaderPositions   []exchange.RawAssetPosition
	followerPositions []exchange.RawAssetPosition
	openOrders        []exchange.OpenOrder
}

func (s *stubInfo) MetaAndAssetCtxs(ctx context.Context) (exchange.Universe, error) {
	return exchange.Universe{
		Assets:   []exchange.AssetMeta{{Name: "BTC", AssetID: 0, SizeDecimals: 3}},
		Contexts: []exchange.AssetContext{{MarkPx: "60000"}},
	}, nil
}

func (s *stubInfo) ClearinghouseState(ctx context.Context, user string) (exchange.ClearinghouseState, error) {
	ch := exchange.ClearinghouseState{}
	ch.MarginSummary.AccountValue = "100000"
	ch.MarginSummary.TotalNtlPos = "0"
	ch.MarginSummary.TotalMarginUsed = "0"
	ch.Withdrawable = "0"
	if user == "leader" {
		ch.AssetPositions = s.leaderPositions
	} else {
		ch.AssetPositions = s.followerPositions
	}
	return ch, nil
}

func (s *stubInfo) AllMids(ctx context.Context) (map[string]string, error) { return nil, nil }
func (s *stubInfo) L2Book(ctx context.Context, coin string) (exchange.L2Book, error) {
	return exchange.L2Book{}, nil
}
func (s *stubInfo) OpenOrders(ctx context.Context, user string) ([]exchange.OpenOrder, error) {
	return s.openOrders, nil
}

type stubExec struct {
	placed    []exchange.OrderRequest
	cancelled []exchange.CancelRequest
}

func (s *stubExec) PlaceOrders(ctx context.Context, orders []exchange.OrderRequest) ([]exchange.OrderStatus, error) {
	s.placed = append(s.placed, orders...)
	out := make([]exchange.OrderStatus, len(orders))
	for i := range orders {
		out[i] = exchange.OrderStatus{RestingOID: int64(i + 1)}
	}
	return out, nil
}
func (s *stubExec) CancelOrders(ctx context.Context, cancels []exchange.CancelRequest) error {
	s.cancelled = append(s.cancelled, cancels...)
	return nil
}
func (s *stubExec) UpdateLeverage(ctx context.Context, asset int, isCross bool, leverage int) error {
	return nil
}

func newTestReconciler(t *testing.T, info *stubInfo, exec *stubExec, smart bool) *Reconciler {
	t.Helper()
	log, err := botlog.New("error")
	require.NoError(t, err)
	cache := market.New(info, log)
	require.NoError(t, cache.EnsureLoaded(context.Background()))
	tracker := history.New(log)
	tracker.Initialize(map[string]float64{}, nil, false)
	dir := t.TempDir()

	return New(Deps{
		PairID: "pair-1", LeaderAddress: "leader", FollowerAddress: "follower",
		LeaderStore: state.New(), FollowerStore: state.New(), Tracker: tracker, Cache: cache,
		Info: info, Exec: exec, TradeLog: persistence.NewTradeLog(dir, "leader", false), Log: log,
		Risk: config.Risk{CopyRatio: 1}, EnableSmartOrder: smart, Interval: time.Hour,
	})
}

func TestOrphanCloseSubmitsReduceOnlyIOC(t *testing.T) {
	info := &stubInfo{
		leaderPositions: nil,
		followerPositions: []exchange.RawAssetPosition{
			{Type: "oneWay", Coin: "BTC", Szi: "0.1", EntryPx: "59000", PosValue: "6000"},
		},
	}
	exec := &stubExec{}
	r := newTestReconciler(t, info, exec, false)

	r.Tick(context.Background())

	require.Len(t, exec.placed, 1)
	req := exec.placed[0]
	require.False(t, req.IsBuy, "closing a long must sell")
	require.True(t, req.ReduceOnly)
	require.True(t, req.OrderType.IOC)
}

func TestOrphanCloseSkipsWhenLeaderStillHoldsPosition(t *testing.T) {
	info := &stubInfo{
		leaderPositions: []exchange.RawAssetPosition{
			{Type: "oneWay", Coin: "BTC", Szi: "0.2", EntryPx: "59000", PosValue: "12000"},
		},
		followerPositions: []exchange.RawAssetPosition{
			{Type: "oneWay", Coin: "BTC", Szi: "0.1", EntryPx: "59000", PosValue: "6000"},
		},
	}
	exec := &stubExec{}
	r := newTestReconciler(t, info, exec, false)

	r.Tick(context.Background())

	require.Empty(t, exec.placed)
}

func TestSmartModeCancelsOrphanLimitOrders(t *testing.T) {
	info := &stubInfo{
		openOrders: []exchange.OpenOrder{
			{OID: 7, Coin: "BTC", Side: "B", Sz: "0.1", TimestampMs: time.Now().UnixMilli()},
		},
	}
	exec := &stubExec{}
	r := newTestReconciler(t, info, exec, true)

	r.Tick(context.Background())

	require.Len(t, exec.cancelled, 1)
	require.Equal(t, int64(7), exec.cancelled[0].OID)
}

func TestConcurrentTicksAreElided(t *testing.T) {
	info := &stubInfo{}
	exec := &stubExec{}
	r := newTestReconciler(t, info, exec, false)
	r.running.Store(true)

	r.Tick(context.Background())

	require.Empty(t, exec.placed, "a tick observed while one is already running must be a no-op")
}
