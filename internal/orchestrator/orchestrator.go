// Package orchestrator owns every pair's Engine under one process (spec
// §4.9): a single shared HTTP transport, streaming dialer, and market
// cache, one Engine per enabled pair. Grounded on the teacher's main.go
// wiring (one Trader, one set of shared clients) generalized to the N
// pairs this daemon supports.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chidi150c/hyperliquid-copytrader/internal/botlog"
	"github.com/chidi150c/hyperliquid-copytrader/internal/config"
	"github.com/chidi150c/hyperliquid-copytrader/internal/engine"
	"github.com/chidi150c/hyperliquid-copytrader/internal/exchange"
	"github.com/chidi150c/hyperliquid-copytrader/internal/market"
	"github.com/chidi150c/hyperliquid-copytrader/internal/stream"
)

// PairStatus is one pair's point-in-time status, for the health surface.
type PairStatus struct {
	PairID          string
	State           engine.State
	LeaderAddress   string
	FollowerAddress string
}

// Orchestrator owns the shared transport and the set of per-pair engines.
type Orchestrator struct {
	cfg    *config.Config
	log    *botlog.Logger
	client *exchange.HyperliquidClient
	cache  *market.Cache
	stream *stream.Subscriber

	mu          sync.Mutex
	engines     []*engine.Engine
	refreshStop chan struct{}
	refreshDone chan struct{}
}

// New builds the shared transport/cache/stream and one Engine per enabled
// pair, but does not start any of them.
func New(cfg *config.Config, log *botlog.Logger) (*Orchestrator, error) {
	client := exchange.NewHyperliquidClient(cfg.BaseURL())
	cache := market.New(client, log)
	sub := stream.New(cfg.WSURL(), log)

	o := &Orchestrator{cfg: cfg, log: log, client: client, cache: cache, stream: sub}

	for _, p := range cfg.Pairs {
		if !p.Enabled {
			log.Infow("orchestrator: pair disabled, skipping", "pair", p.ID)
			continue
		}
		e, err := engine.New(engine.Deps{
			Pair:              p,
			Cache:             cache,
			Info:              client,
			Exec:              client,
			StreamClient:      sub,
			StateDir:          cfg.StateDir,
			EnableTradeLog:    cfg.EnableTradeLog,
			ReconcileInterval: time.Duration(cfg.ReconciliationIntervalMs) * time.Millisecond,
			AggregateFills:    cfg.WebsocketAggregateFills,
			Log:               log,
		})
		if err != nil {
			return nil, fmt.Errorf("orchestrator: build engine for pair %s: %w", p.ID, err)
		}
		o.engines = append(o.engines, e)
	}

	if len(o.engines) == 0 {
		return nil, fmt.Errorf("orchestrator: no enabled pairs")
	}
	return o, nil
}

// Start brings up every engine sequentially; one pair's start failure is
// logged and that pair is left Errored, but does not abort the others
// (spec §4.9: "a single pair's startup failure must not prevent the
// remaining pairs from starting").
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	for _, e := range o.engines {
		if err := e.Start(ctx); err != nil {
			o.log.Errorw("orchestrator: pair failed to start", "error", err)
		}
	}
	o.refreshStop = make(chan struct{})
	o.refreshDone = make(chan struct{})
	o.mu.Unlock()

	go o.refreshMarketLoop(ctx)
}

// refreshMarketLoop periodically refreshes the shared market cache's mark
// and mid prices so execution pricing never runs off a frozen startup
// snapshot; interval is refreshAccountIntervalMs.
func (o *Orchestrator) refreshMarketLoop(ctx context.Context) {
	defer close(o.refreshDone)

	interval := time.Duration(o.cfg.RefreshAccountIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.refreshStop:
			return
		case <-ticker.C:
			o.cache.RefreshMarkPrices(ctx)
			o.cache.RefreshMidPrices(ctx)
		}
	}
}

// Stop halts the market refresh loop, then stops every engine in
// parallel. Each engine's Stop cancels its own fill subscription, which
// closes that subscription's websocket connection; the shared Subscriber
// holds no connection of its own to close. Always completes; individual
// engine stop errors are already logged and reflected in that engine's
// State().
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	engines := append([]*engine.Engine(nil), o.engines...)
	refreshStop := o.refreshStop
	refreshDone := o.refreshDone
	o.mu.Unlock()

	if refreshStop != nil {
		close(refreshStop)
		<-refreshDone
	}

	g := new(errgroup.Group)
	for _, e := range engines {
		e := e
		g.Go(func() error {
			e.Stop()
			return nil
		})
	}
	_ = g.Wait()
}

// Status returns a point-in-time snapshot of every pair's lifecycle state.
func (o *Orchestrator) Status() []PairStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]PairStatus, len(o.engines))
	for i, e := range o.engines {
		out[i] = PairStatus{
			PairID:          e.PairID(),
			State:           e.State(),
			LeaderAddress:   e.LeaderAddress(),
			FollowerAddress: e.FollowerAddress(),
		}
	}
	return out
}
