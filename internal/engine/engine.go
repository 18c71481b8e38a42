// Package engine owns one leader/follower pair end to end (spec §4.8):
// wiring its state stores, historical tracker, signal processor, and
// reconciler through a small created->starting->running->stopping->
// stopped/error lifecycle. Grounded on the teacher's Trader.Run/Stop in
// trader.go, generalized from a single strategy loop to this daemon's
// fill-driven pipeline plus a reconciliation timer.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chidi150c/hyperliquid-copytrader/internal/botlog"
	"github.com/chidi150c/hyperliquid-copytrader/internal/config"
	"github.com/chidi150c/hyperliquid-copytrader/internal/exchange"
	"github.com/chidi150c/hyperliquid-copytrader/internal/history"
	"github.com/chidi150c/hyperliquid-copytrader/internal/market"
	"github.com/chidi150c/hyperliquid-copytrader/internal/persistence"
	"github.com/chidi150c/hyperliquid-copytrader/internal/reconcile"
	"github.com/chidi150c/hyperliquid-copytrader/internal/signal"
	"github.com/chidi150c/hyperliquid-copytrader/internal/state"
	"github.com/chidi150c/hyperliquid-copytrader/internal/stream"
)

// State is one of the engine's lifecycle states.
type State string

const (
	Created  State = "created"
	Starting State = "starting"
	Running  State = "running"
	Stopping State = "stopping"
	Stopped  State = "stopped"
	Errored  State = "error"
)

// Engine owns every collaborator scoped to one pair.
type Engine struct {
	pair config.Pair

	leaderStore   *state.Store
	followerStore *state.Store
	tracker       *history.Tracker
	persist       *persistence.Store
	tradeLog      *persistence.TradeLog
	processor     *signal.Processor
	reconciler    *reconcile.Reconciler
	streamClient  *stream.Subscriber
	info          exchange.InfoClient
	cache         *market.Cache
	aggregateFills bool
	log           *botlog.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
}

// Deps bundles the shared (orchestrator-owned) collaborators an Engine
// needs, plus its own pair configuration.
type Deps struct {
	Pair         config.Pair
	Cache        *market.Cache
	Info         exchange.InfoClient
	Exec         exchange.ExecutionClient
	StreamClient *stream.Subscriber
	StateDir     string
	EnableTradeLog bool
	ReconcileInterval time.Duration
	AggregateFills bool
	Log          *botlog.Logger
}

// New builds an Engine in the Created state. Persistence is opened
// eagerly since a corrupt/mismatched file must be detected before Start.
func New(d Deps) (*Engine, error) {
	log := d.Log.With("pair", d.Pair.ID)

	persist, err := persistence.Open(d.StateDir, d.Pair.ID, d.Pair.LeaderAddress, log)
	if err != nil {
		return nil, fmt.Errorf("engine %s: open persistence: %w", d.Pair.ID, err)
	}
	tradeLog := persistence.NewTradeLog(d.StateDir, d.Pair.LeaderAddress, d.EnableTradeLog)

	leaderStore := state.New()
	followerStore := state.New()
	tracker := history.New(log)

	processor := signal.New(signal.Deps{
		PairID:              d.Pair.ID,
		LeaderAddress:       d.Pair.LeaderAddress,
		FollowerAddress:     followerIdentity(d.Pair),
		LeaderStore:         leaderStore,
		FollowerStore:       followerStore,
		Tracker:             tracker,
		Cache:               d.Cache,
		Info:                d.Info,
		Exec:                d.Exec,
		Persist:             persist,
		TradeLog:            tradeLog,
		Log:                 log,
		Risk:                d.Pair.Risk,
		MinOrderNotionalUsd: d.Pair.MinOrderNotionalUsd,
		EnableSmartOrder:    d.Pair.EnableSmartOrder,
		SyncLeverage:        d.Pair.SyncLeverage,
	})

	reconciler := reconcile.New(reconcile.Deps{
		PairID:           d.Pair.ID,
		LeaderAddress:    d.Pair.LeaderAddress,
		FollowerAddress:  followerIdentity(d.Pair),
		LeaderStore:      leaderStore,
		FollowerStore:    followerStore,
		Tracker:          tracker,
		Cache:            d.Cache,
		Info:             d.Info,
		Exec:             d.Exec,
		TradeLog:         tradeLog,
		Log:              log,
		Risk:             d.Pair.Risk,
		EnableSmartOrder: d.Pair.EnableSmartOrder,
		Interval:         d.ReconcileInterval,
	})

	return &Engine{
		pair: d.Pair, leaderStore: leaderStore, followerStore: followerStore,
		tracker: tracker, persist: persist, tradeLog: tradeLog, processor: processor,
		reconciler: reconciler, streamClient: d.StreamClient, info: d.Info, cache: d.Cache,
		aggregateFills: d.AggregateFills, log: log, state: Created,
	}, nil
}

func followerIdentity(p config.Pair) string {
	if p.FollowerVaultAddress != "" {
		return p.FollowerVaultAddress
	}
	return p.FollowerAddress
}

// PairID returns the configured pair identifier.
func (e *Engine) PairID() string { return e.pair.ID }

// LeaderAddress returns the configured leader's address.
func (e *Engine) LeaderAddress() string { return e.pair.LeaderAddress }

// FollowerAddress returns the address the follower side actually trades
// from (vault address when configured, else the wallet address).
func (e *Engine) FollowerAddress() string { return followerIdentity(e.pair) }

// State reports the engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Start runs the pair's start sequence (spec §4.8): load metadata, seed
// the historical tracker and reconciler from a fresh snapshot, then
// subscribe to the leader's fill stream and begin the reconcile timer.
func (e *Engine) Start(ctx context.Context) error {
	e.setState(Starting)

	if err := e.cache.EnsureLoaded(ctx); err != nil {
		e.setState(Errored)
		return fmt.Errorf("engine %s: metadata load: %w", e.pair.ID, err)
	}

	leaderRaw, err := e.info.ClearinghouseState(ctx, e.pair.LeaderAddress)
	if err != nil {
		e.setState(Errored)
		return fmt.Errorf("engine %s: leader snapshot: %w", e.pair.ID, err)
	}
	if err := e.leaderStore.ApplySnapshot(toRawSnapshot(leaderRaw)); err != nil {
		e.setState(Errored)
		return fmt.Errorf("engine %s: apply leader snapshot: %w", e.pair.ID, err)
	}

	followerRaw, err := e.info.ClearinghouseState(ctx, followerIdentity(e.pair))
	if err != nil {
		e.setState(Errored)
		return fmt.Errorf("engine %s: follower snapshot: %w", e.pair.ID, err)
	}
	if err := e.followerStore.ApplySnapshot(toRawSnapshot(followerRaw)); err != nil {
		e.setState(Errored)
		return fmt.Errorf("engine %s: apply follower snapshot: %w", e.pair.ID, err)
	}
	if e.followerStore.Metrics().AccountValueUsd <= 0 {
		e.log.Warnw("engine: follower account value is non-positive at startup", "pair", e.pair.ID)
	}

	e.seedHistory()

	e.reconciler.Start(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	go func() {
		err := e.streamClient.SubscribeUserFills(runCtx, e.pair.LeaderAddress, e.aggregateFills, func(fills []stream.Fill) {
			e.processor.HandleFillEvent(runCtx, toExchangeFills(fills))
		})
		if err != nil && runCtx.Err() == nil {
			e.log.Errorw("engine: fill subscription ended unexpectedly", "pair", e.pair.ID, "error", err)
			e.setState(Errored)
		}
	}()

	e.setState(Running)
	return nil
}

// seedHistory initializes the tracker from the now-populated leader
// store and the persisted document, recording any clears/newly-historical
// coins back to disk, per spec §4.3/§4.4.
func (e *Engine) seedHistory() {
	leaderPositions := make(map[string]float64)
	for coin, pos := range e.leaderStore.Positions() {
		leaderPositions[coin] = pos.Size
	}

	persisted := e.persist.Snapshot()
	newlyHistorical, clears := e.tracker.Initialize(leaderPositions, persisted.HistoricalPositions, persisted.InitializedSnapshot)

	for _, c := range clears {
		e.persist.RecordHistoricalClear(c.Coin, string(c.Reason))
	}

	if len(newlyHistorical) > 0 {
		e.persist.Mutate(func(st *persistence.PersistedPairState) {
			st.InitializedSnapshot = true
			for _, coin := range newlyHistorical {
				size := leaderPositions[coin]
				direction := 1.0
				if size < 0 {
					direction = -1.0
				}
				st.HistoricalPositions = append(st.HistoricalPositions, history.PersistedHistorical{
					Coin: coin, Direction: direction, Size: size, RecordedAtMs: time.Now().UnixMilli(),
				})
			}
		})
	} else {
		e.persist.Mutate(func(st *persistence.PersistedPairState) {
			st.InitializedSnapshot = true
		})
	}
}

// Stop idempotently unwinds the engine: cancels the fill subscription,
// stops the reconcile timer, and flushes persistence synchronously.
// Errors are logged, never returned, per spec §4.8's "stop never fails"
// contract; a failed flush leaves the engine Errored rather than Stopped.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state == Stopped || e.state == Stopping {
		e.mu.Unlock()
		return
	}
	e.state = Stopping
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.reconciler.Stop()

	if err := e.persist.Close(); err != nil {
		e.log.Errorw("engine: persistence flush failed on stop", "pair", e.pair.ID, "error", err)
		e.setState(Errored)
		return
	}
	if err := e.tradeLog.Close(); err != nil {
		e.log.Warnw("engine: trade log close failed", "pair", e.pair.ID, "error", err)
	}
	e.setState(Stopped)
}

func toExchangeFills(fills []stream.Fill) []exchange.Fill {
	out := make([]exchange.Fill, len(fills))
	for i, f := range fills {
		out[i] = exchange.Fill{
			Coin: f.Coin, Px: f.Px, Sz: f.Sz, Side: f.Side, TimeMs: f.Time,
			StartPosition: f.StartPosition, Dir: f.Dir, OID: f.OID, Crossed: f.Crossed,
		}
	}
	return out
}

func toRawSnapshot(ch exchange.ClearinghouseState) state.RawSnapshot {
	raw := state.RawSnapshot{
		AccountValue:    ch.MarginSummary.AccountValue,
		TotalNtlPos:     ch.MarginSummary.TotalNtlPos,
		TotalMarginUsed: ch.MarginSummary.TotalMarginUsed,
		Withdrawable:    ch.Withdrawable,
		TimestampMs:     time.Now().UnixMilli(),
	}
	for _, ap := range ch.AssetPositions {
		raw.Positions = append(raw.Positions, state.RawPosition{
			Coin:          ap.Coin,
			Szi:           ap.Szi,
			EntryPx:       ap.EntryPx,
			PositionValue: ap.PosValue,
			LeverageValue: fmt.Sprintf("%d", ap.Leverage.Value),
			LeverageType:  ap.Leverage.Type,
			MarginUsed:    ap.MarginUsed,
			LiquidationPx: ap.LiquidationPx,
			IsHedged:      ap.Type != "oneWay" && ap.Type != "",
		})
	}
	return raw
}
