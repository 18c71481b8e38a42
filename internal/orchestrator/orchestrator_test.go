package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chidi150c/hyperliquid-copytrader/internal/botlog"
	"github.com/chidi150c/hyperliquid-copytrader/internal/config"
)

func TestNewSkipsDisabledPairsAndErrorsWhenNoneEnabled(t *testing.T) {
	log, err := botlog.New("error")
	require.NoError(t, err)

	cfg := &config.Config{
		Environment: config.Testnet,
		StateDir:    t.TempDir(),
		Pairs: []config.Pair{
			{ID: "p1", LeaderAddress: "l1", FollowerPrivateKey: "k1", Enabled: false},
		},
	}
	_, err = New(cfg, log)
	require.Error(t, err)
}

func TestNewBuildsOneEnginePerEnabledPair(t *testing.T) {
	log, err := botlog.New("error")
	require.NoError(t, err)

	cfg := &config.Config{
		Environment:              config.Testnet,
		StateDir:                 t.TempDir(),
		ReconciliationIntervalMs: 60_000,
		Pairs: []config.Pair{
			{ID: "p1", LeaderAddress: "l1", FollowerPrivateKey: "k1", FollowerAddress: "f1", Enabled: true, Risk: config.Risk{CopyRatio: 1}},
			{ID: "p2", LeaderAddress: "l2", FollowerPrivateKey: "k2", FollowerAddress: "f2", Enabled: false},
		},
	}
	o, err := New(cfg, log)
	require.NoError(t, err)
	require.Len(t, o.engines, 1)
	require.Equal(t, "p1", o.engines[0].PairID())
}

func TestStatusReportsLeaderAndFollowerAddress(t *testing.T) {
	log, err := botlog.New("error")
	require.NoError(t, err)

	cfg := &config.Config{
		Environment:              config.Testnet,
		StateDir:                 t.TempDir(),
		ReconciliationIntervalMs: 60_000,
		Pairs: []config.Pair{
			{ID: "p1", LeaderAddress: "l1", FollowerPrivateKey: "k1", FollowerAddress: "f1", Enabled: true, Risk: config.Risk{CopyRatio: 1}},
		},
	}
	o, err := New(cfg, log)
	require.NoError(t, err)

	statuses := o.Status()
	require.Len(t, statuses, 1)
	require.Equal(t, "l1", statuses[0].LeaderAddress)
	require.Equal(t, "f1", statuses[0].FollowerAddress)
}
