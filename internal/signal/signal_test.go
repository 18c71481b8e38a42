package signal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chidi150c/hyperliquid-copytrader/internal/botlog"
	"github.com/chidi150c/hyperliquid-copytrader/internal/config"
	"github.com/chidi150c/hyperliquid-copytrader/internal/exchange"
	"github.com/chidi150c/hyperliquid-copytrader/internal/history"
	"github.com/chidi150c/hyperliquid-copytrader/internal/market"
	"github.com/chidi150c/hyperliquid-copytrader/internal/numeric"
	"github.com/chidi150c/hyperliquid-copytrader/internal/persistence"
	"github.com/chidi150c/hyperliquid-copytrader/internal/state"
)

type fakeInfo struct {
	leaderEquity, followerEquity string
}

func (f *fakeInfo) MetaAndAssetCtxs(ctx context.Context) (exchange.Universe, error) {
	return exchange.Universe{
		Assets:   []exchange.AssetMeta{{Name: "BTC", AssetID: 0, SizeDecimals: 3, MaxLeverage: 20}},
		Contexts: []exchange.AssetContext{{MarkPx: "60000"}},
	}, nil
}

func (f *fakeInfo) ClearinghouseState(ctx context.Context, user string) (exchange.ClearinghouseState, error) {
	var ch exchange.ClearinghouseState
	if user == "leader" {
		ch.MarginSummary.AccountValue = f.leaderEquity
	} else {
		ch.MarginSummary.AccountValue = f.followerEquity
	}
	ch.MarginSummary.TotalNtlPos = "0"
	ch.MarginSummary.TotalMarginUsed = "0"
	ch.Withdrawable = "0"
	return ch, nil
}

func (f *fakeInfo) AllMids(ctx context.Context) (map[string]string, error) { return nil, nil }
func (f *fakeInfo) L2Book(ctx context.Context, coin string) (exchange.L2Book, error) {
	return exchange.L2Book{}, nil
}
func (f *fakeInfo) OpenOrders(ctx context.Context, user string) ([]exchange.OpenOrder, error) {
	return nil, nil
}

type fakeExec struct {
	placed []exchange.OrderRequest
}

func (f *fakeExec) PlaceOrders(ctx context.Context, orders []exchange.OrderRequest) ([]exchange.OrderStatus, error) {
	f.placed = append(f.placed, orders...)
	out := make([]exchange.OrderStatus, len(orders))
	for i := range orders {
		out[i] = exchange.OrderStatus{RestingOID: int64(i + 1)}
	}
	return out, nil
}
func (f *fakeExec) CancelOrders(ctx context.Context, cancels []exchange.CancelRequest) error { return nil }
func (f *fakeExec) UpdateLeverage(ctx context.Context, asset int, isCross bool, leverage int) error {
	return nil
}

func newTestProcessor(t *testing.T, leaderEquity, followerEquity string) (*Processor, *fakeExec) {
	t.Helper()
	log, err := botlog.New("error")
	require.NoError(t, err)

	info := &fakeInfo{leaderEquity: leaderEquity, followerEquity: followerEquity}
	exec := &fakeExec{}
	cache := market.New(info, log)
	require.NoError(t, cache.EnsureLoaded(context.Background()))

	tracker := history.New(log)
	tracker.Initialize(map[string]float64{}, nil, false)

	dir := t.TempDir()
	store, err := persistence.Open(dir, "pair-1", "leader", log)
	require.NoError(t, err)

	p := New(Deps{
		PairID:              "pair-1",
		LeaderAddress:       "leader",
		FollowerAddress:     "follower",
		LeaderStore:         state.New(),
		FollowerStore:       state.New(),
		Tracker:             tracker,
		Cache:               cache,
		Info:                info,
		Exec:                exec,
		Persist:             store,
		TradeLog:            nil,
		Log:                 log,
		Risk:                config.Risk{CopyRatio: 1},
		MinOrderNotionalUsd: 15,
	})
	return p, exec
}

func TestFreshStartOpensProportionalPosition(t *testing.T) {
	p, exec := newTestProcessor(t, "100000", "1000")

	p.HandleFillEvent(context.Background(), []exchange.Fill{
		{Coin: "BTC", Px: "60000", Sz: "0.5", Side: "B", TimeMs: 1, StartPosition: "0", Dir: "OpenLong", OID: 42},
	})

	require.Len(t, exec.placed, 1)
	req := exec.placed[0]
	require.True(t, req.IsBuy)
	require.False(t, req.ReduceOnly)
	require.True(t, req.OrderType.IOC)

	size, err := numeric.ParseFloat(req.Size)
	require.NoError(t, err)
	require.InDelta(t, 0.005, size, 1e-6)
}

func TestHistoricalExclusionDropsOrder(t *testing.T) {
	log, err := botlog.New("error")
	require.NoError(t, err)
	info := &fakeInfo{leaderEquity: "100000", followerEquity: "1000"}
	exec := &fakeExec{}
	cache := market.New(info, log)
	require.NoError(t, cache.EnsureLoaded(context.Background()))

	tracker := history.New(log)
	tracker.Initialize(map[string]float64{"ETH": 1.0}, nil, false)

	dir := t.TempDir()
	store, err := persistence.Open(dir, "pair-1", "leader", log)
	require.NoError(t, err)

	p := New(Deps{
		PairID: "pair-1", LeaderAddress: "leader", FollowerAddress: "follower",
		LeaderStore: state.New(), FollowerStore: state.New(),
		Tracker: tracker, Cache: cache, Info: info, Exec: exec, Persist: store,
		Log: log, Risk: config.Risk{CopyRatio: 1}, MinOrderNotionalUsd: 15,
	})

	p.HandleFillEvent(context.Background(), []exchange.Fill{
		{Coin: "ETH", Px: "3000", Sz: "0.2", Side: "B", TimeMs: 1, StartPosition: "1.0", Dir: "OpenLong", OID: 1},
	})

	require.Empty(t, exec.placed, "fills against an ongoing historical position must not produce an order")
}

func TestEmptyEventsAreIdempotent(t *testing.T) {
	p, exec := newTestProcessor(t, "100000", "1000")
	p.HandleFillEvent(context.Background(), nil)
	require.Empty(t, exec.placed)
}

func TestSpotFillsAreDropped(t *testing.T) {
	p, exec := newTestProcessor(t, "100000", "1000")
	p.HandleFillEvent(context.Background(), []exchange.Fill{
		{Coin: "@1", Px: "1", Sz: "100", Side: "B", TimeMs: 1, StartPosition: "0", Dir: "OpenLong", OID: 1},
	})
	require.Empty(t, exec.placed)
}

func TestInversePairFlipsOrderSide(t *testing.T) {
	log, err := botlog.New("error")
	require.NoError(t, err)
	info := &fakeInfo{leaderEquity: "100000", followerEquity: "1000"}
	exec := &fakeExec{}
	cache := market.New(info, log)
	require.NoError(t, cache.EnsureLoaded(context.Background()))

	tracker := history.New(log)
	tracker.Initialize(map[string]float64{}, nil, false)

	dir := t.TempDir()
	store, err := persistence.Open(dir, "pair-1", "leader", log)
	require.NoError(t, err)

	p := New(Deps{
		PairID: "pair-1", LeaderAddress: "leader", FollowerAddress: "follower",
		LeaderStore: state.New(), FollowerStore: state.New(),
		Tracker: tracker, Cache: cache, Info: info, Exec: exec, Persist: store,
		Log: log, Risk: config.Risk{CopyRatio: 1, Inverse: true}, MinOrderNotionalUsd: 15,
	})

	p.HandleFillEvent(context.Background(), []exchange.Fill{
		{Coin: "BTC", Px: "60000", Sz: "0.5", Side: "B", TimeMs: 1, StartPosition: "0", Dir: "OpenLong", OID: 42},
	})

	require.Len(t, exec.placed, 1)
	require.False(t, exec.placed[0].IsBuy, "an inverse pair must mirror a leader long as a follower short")
}

func TestMaxNotionalClampsOpeningOrderSize(t *testing.T) {
	log, err := botlog.New("error")
	require.NoError(t, err)
	info := &fakeInfo{leaderEquity: "100000", followerEquity: "1000"}
	exec := &fakeExec{}
	cache := market.New(info, log)
	require.NoError(t, cache.EnsureLoaded(context.Background()))

	tracker := history.New(log)
	tracker.Initialize(map[string]float64{}, nil, false)

	dir := t.TempDir()
	store, err := persistence.Open(dir, "pair-1", "leader", log)
	require.NoError(t, err)

	p := New(Deps{
		PairID: "pair-1", LeaderAddress: "leader", FollowerAddress: "follower",
		LeaderStore: state.New(), FollowerStore: state.New(),
		Tracker: tracker, Cache: cache, Info: info, Exec: exec, Persist: store,
		Log: log, Risk: config.Risk{CopyRatio: 1, MaxNotionalUsd: 60}, MinOrderNotionalUsd: 15,
	})

	p.HandleFillEvent(context.Background(), []exchange.Fill{
		{Coin: "BTC", Px: "60000", Sz: "0.5", Side: "B", TimeMs: 1, StartPosition: "0", Dir: "OpenLong", OID: 42},
	})

	require.Len(t, exec.placed, 1)
	size, err := numeric.ParseFloat(exec.placed[0].Size)
	require.NoError(t, err)
	require.InDelta(t, 0.001, size, 1e-9, "opening size must clamp to maxNotionalUsd/mark")
}

