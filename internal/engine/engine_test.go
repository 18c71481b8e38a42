package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chidi150c/hyperliquid-copytrader/internal/botlog"
	"github.com/chidi150c/hyperliquid-copytrader/internal/config"
	"github.com/chidi150c/hyperliquid-copytrader/internal/exchange"
	"github.com/chidi150c/hyperliquid-copytrader/internal/market"
	"github.com/chidi150c/hyperliquid-copytrader/internal/stream"
)

type fakeInfo struct{}

func (f *fakeInfo) MetaAndAssetCtxs(ctx context.Context) (exchange.Universe, error) {
	return exchange.Universe{
		Assets:   []exchange.AssetMeta{{Name: "BTC", AssetID: 0, SizeDecimals: 3}},
		Contexts: []exchange.AssetContext{{MarkPx: "60000"}},
	}, nil
}
func (f *fakeInfo) ClearinghouseState(ctx context.Context, user string) (exchange.ClearinghouseState, error) {
	ch := exchange.ClearinghouseState{}
	ch.MarginSummary.AccountValue = "1000"
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

type fakeExec struct{}

func (f *fakeExec) PlaceOrders(ctx context.Context, orders []exchange.OrderRequest) ([]exchange.OrderStatus, error) {
	return nil, nil
}
func (f *fakeExec) CancelOrders(ctx context.Context, cancels []exchange.CancelRequest) error {
	return nil
}
func (f *fakeExec) UpdateLeverage(ctx context.Context, asset int, isCross bool, leverage int) error {
	return nil
}

func TestStartThenStopReachesStoppedIdempotently(t *testing.T) {
	log, err := botlog.New("error")
	require.NoError(t, err)
	info := &fakeInfo{}
	cache := market.New(info, log)
	sub := stream.New("ws://unused.invalid", log)

	e, err := New(Deps{
		Pair: config.Pair{
			ID: "pair-1", LeaderAddress: "leader", FollowerAddress: "follower",
			Risk: config.Risk{CopyRatio: 1}, MinOrderNotionalUsd: 15,
		},
		Cache: cache, Info: info, Exec: &fakeExec{}, StreamClient: sub,
		StateDir: t.TempDir(), ReconcileInterval: time.Hour, Log: log,
	})
	require.NoError(t, err)
	require.Equal(t, Created, e.State())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	require.Equal(t, Running, e.State())

	e.Stop()
	require.Equal(t, Stopped, e.State())

	e.Stop()
	require.Equal(t, Stopped, e.State(), "Stop must be idempotent")
}
