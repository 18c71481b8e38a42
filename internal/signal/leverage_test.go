package signal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chidi150c/hyperliquid-copytrader/internal/botlog"
	"github.com/chidi150c/hyperliquid-copytrader/internal/exchange"
	"github.com/chidi150c/hyperliquid-copytrader/internal/state"
)

type leverageCall struct {
	asset    int
	isCross  bool
	leverage int
}

type fakeLeverageExec struct {
	calls []leverageCall
}

func (f *fakeLeverageExec) PlaceOrders(ctx context.Context, orders []exchange.OrderRequest) ([]exchange.OrderStatus, error) {
	return nil, nil
}
func (f *fakeLeverageExec) CancelOrders(ctx context.Context, cancels []exchange.CancelRequest) error {
	return nil
}
func (f *fakeLeverageExec) UpdateLeverage(ctx context.Context, asset int, isCross bool, leverage int) error {
	f.calls = append(f.calls, leverageCall{asset: asset, isCross: isCross, leverage: leverage})
	return nil
}

func TestLeverageSyncClampsToMaxLeverage(t *testing.T) {
	log, err := botlog.New("error")
	require.NoError(t, err)
	exec := &fakeLeverageExec{}

	s := newLeverageSyncer(exec, true, 10, log)
	s.syncIfNeeded(context.Background(), "BTC", 0, 25, state.LeverageCross)

	require.Len(t, exec.calls, 1)
	require.Equal(t, 10, exec.calls[0].leverage)
}

func TestLeverageSyncNoCapWhenMaxLeverageZero(t *testing.T) {
	log, err := botlog.New("error")
	require.NoError(t, err)
	exec := &fakeLeverageExec{}

	s := newLeverageSyncer(exec, true, 0, log)
	s.syncIfNeeded(context.Background(), "BTC", 0, 25, state.LeverageCross)

	require.Len(t, exec.calls, 1)
	require.Equal(t, 25, exec.calls[0].leverage)
}
