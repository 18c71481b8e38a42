// Package reconcile is the periodic full-state sync (spec §4.6): pulls
// authoritative snapshots, closes orphaned follower positions, and in
// smart-order mode cleans up orphaned limit orders and stale reduce
// orders. Concurrency pattern (release locks around I/O, take them back
// only to mutate) grounded on the teacher's top-of-file comment and
// step() in trader.go.
package reconcile

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chidi150c/hyperliquid-copytrader/internal/botlog"
	"github.com/chidi150c/hyperliquid-copytrader/internal/config"
	"github.com/chidi150c/hyperliquid-copytrader/internal/exchange"
	"github.com/chidi150c/hyperliquid-copytrader/internal/history"
	"github.com/chidi150c/hyperliquid-copytrader/internal/market"
	"github.com/chidi150c/hyperliquid-copytrader/internal/numeric"
	"github.com/chidi150c/hyperliquid-copytrader/internal/persistence"
	"github.com/chidi150c/hyperliquid-copytrader/internal/state"
)

// Reconciler drives one pair's timer-based reconciliation loop.
type Reconciler struct {
	pairID          string
	leaderAddress   string
	followerAddress string

	leaderStore   *state.Store
	followerStore *state.Store
	tracker       *history.Tracker
	cache         *market.Cache
	info          exchange.InfoClient
	exec          exchange.ExecutionClient
	tradeLog      *persistence.TradeLog
	log           *botlog.Logger

	risk             config.Risk
	enableSmartOrder bool
	interval         time.Duration
	reduceTimeout    time.Duration

	mu      sync.Mutex
	stopCh  chan struct{}
	running atomic.Bool
}

// Deps bundles Reconciler's collaborators.
type Deps struct {
	PairID           string
	LeaderAddress    string
	FollowerAddress  string
	LeaderStore      *state.Store
	FollowerStore    *state.Store
	Tracker          *history.Tracker
	Cache            *market.Cache
	Info             exchange.InfoClient
	Exec             exchange.ExecutionClient
	TradeLog         *persistence.TradeLog
	Log              *botlog.Logger
	Risk             config.Risk
	EnableSmartOrder bool
	Interval         time.Duration
}

// New builds a Reconciler from deps, defaulting Interval to 60s per
// spec §4.6 when unset.
func New(d Deps) *Reconciler {
	interval := d.Interval
	if interval <= 0 {
		interval = time.Duration(config.DefaultReconciliationMs) * time.Millisecond
	}
	reduceTimeout := time.Duration(d.Risk.EffectiveReduceOrderTimeoutMs()) * time.Millisecond

	return &Reconciler{
		pairID: d.PairID, leaderAddress: d.LeaderAddress, followerAddress: d.FollowerAddress,
		leaderStore: d.LeaderStore, followerStore: d.FollowerStore, tracker: d.Tracker,
		cache: d.Cache, info: d.Info, exec: d.Exec, tradeLog: d.TradeLog, log: d.Log,
		risk: d.Risk, enableSmartOrder: d.EnableSmartOrder,
		interval: interval, reduceTimeout: reduceTimeout,
	}
}

// Start begins the timer loop; Tick runs immediately on Start, matching
// the engine start sequence's "run one reconcile to seed state" (§4.8).
func (r *Reconciler) Start(ctx context.Context) {
	r.stopCh = make(chan struct{})
	r.Tick(ctx)
	go r.loop(ctx)
}

func (r *Reconciler) loop(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-t.C:
			r.Tick(ctx)
		}
	}
}

// Stop idles the timer loop. Idempotent.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopCh != nil {
		select {
		case <-r.stopCh:
		default:
			close(r.stopCh)
		}
	}
}

// Tick runs one reconciliation pass, at-most-one-in-flight (spec §4.6's
// concurrency guarantee: an overlapping tick is elided, not queued).
func (r *Reconciler) Tick(ctx context.Context) {
	if !r.running.CompareAndSwap(false, true) {
		r.log.Debugw("reconcile: tick already in flight, eliding", "pair", r.pairID)
		return
	}
	defer r.running.Store(false)

	if err := r.refreshSnapshots(ctx); err != nil {
		r.log.Errorw("reconcile: snapshot fetch failed, skipping tick", "pair", r.pairID, "error", err)
		return
	}

	r.orphanClose(ctx)

	if r.enableSmartOrder {
		r.cleanupOrphanLimitOrders(ctx)
		if r.reduceTimeout > 0 {
			r.staleReduceOrderTimeout(ctx)
		}
	}
}

func (r *Reconciler) refreshSnapshots(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		raw, err := r.info.ClearinghouseState(gctx, r.leaderAddress)
		if err != nil {
			return err
		}
		return r.leaderStore.ApplySnapshot(rawSnapshotFrom(raw))
	})
	g.Go(func() error {
		raw, err := r.info.ClearinghouseState(gctx, r.followerAddress)
		if err != nil {
			return err
		}
		return r.followerStore.ApplySnapshot(rawSnapshotFrom(raw))
	})
	return g.Wait()
}

// orphanClose implements spec §4.6 step 2.
func (r *Reconciler) orphanClose(ctx context.Context) {
	for coin, pos := range r.followerStore.Positions() {
		if numeric.IsDust(pos.Size) {
			continue
		}
		leaderSize := r.leaderStore.Size(coin)
		if !numeric.IsDust(leaderSize) {
			continue
		}

		meta, ok := r.cache.Meta(coin)
		if !ok {
			continue
		}
		mark, err := numeric.ParseFloat(meta.MarkPx)
		if err != nil {
			continue
		}

		isBuy := pos.Size < 0
		slippage := r.risk.EffectiveMarketOrderSlippage()
		sign := 1.0
		if !isBuy {
			sign = -1.0
		}
		limit := numeric.ClampToExecutionBand(mark*(1+sign*slippage), mark)
		req := exchange.OrderRequest{
			Asset:      meta.AssetID,
			IsBuy:      isBuy,
			LimitPx:    numeric.RoundToReference(limit, meta.MarkPx),
			Size:       numeric.FormatSize(abs(pos.Size), meta.SizeDecimals),
			ReduceOnly: true,
			OrderType:  exchange.OrderType{IOC: true},
		}
		statuses, err := r.exec.PlaceOrders(ctx, []exchange.OrderRequest{req})
		if err != nil {
			r.log.Errorw("reconcile: orphan close submit failed", "pair", r.pairID, "coin", coin, "error", err)
			continue
		}
		for _, st := range statuses {
			if st.Error != "" {
				r.log.Warnw("reconcile: orphan close rejected", "pair", r.pairID, "coin", coin, "error", st.Error)
				continue
			}
			_, _ = r.tracker.CanCopy(coin, 0)
		}
	}
}

// cleanupOrphanLimitOrders implements spec §4.6 step 3 (smart-mode only).
func (r *Reconciler) cleanupOrphanLimitOrders(ctx context.Context) {
	orders, err := r.info.OpenOrders(ctx, r.followerAddress)
	if err != nil {
		r.log.Warnw("reconcile: open orders fetch failed", "pair", r.pairID, "error", err)
		return
	}

	var cancels []exchange.CancelRequest
	for _, o := range orders {
		leaderSize := r.leaderStore.Size(o.Coin)
		if numeric.IsDust(leaderSize) {
			meta, ok := r.cache.Meta(o.Coin)
			if !ok {
				continue
			}
			cancels = append(cancels, exchange.CancelRequest{Asset: meta.AssetID, OID: o.OID})
		}
	}
	if len(cancels) == 0 {
		return
	}
	if err := r.exec.CancelOrders(ctx, cancels); err != nil {
		r.log.Warnw("reconcile: orphan limit order cancel failed", "pair", r.pairID, "error", err)
	}
}

// staleReduceOrderTimeout implements spec §4.6 step 4 (smart-mode only).
func (r *Reconciler) staleReduceOrderTimeout(ctx context.Context) {
	orders, err := r.info.OpenOrders(ctx, r.followerAddress)
	if err != nil {
		r.log.Warnw("reconcile: open orders fetch failed", "pair", r.pairID, "error", err)
		return
	}
	now := time.Now().UnixMilli()

	for _, o := range orders {
		followerPos := r.followerStore.Size(o.Coin)
		isReduceOfCurrent := (followerPos > 0 && o.Side == "A") || (followerPos < 0 && o.Side == "B")
		if !isReduceOfCurrent || !o.ReduceOnly {
			continue
		}
		age := time.Duration(now-o.TimestampMs) * time.Millisecond
		if age < r.reduceTimeout {
			continue
		}

		meta, ok := r.cache.Meta(o.Coin)
		if !ok {
			continue
		}
		if err := r.exec.CancelOrders(ctx, []exchange.CancelRequest{{Asset: meta.AssetID, OID: o.OID}}); err != nil {
			r.log.Warnw("reconcile: stale reduce-order cancel failed", "pair", r.pairID, "coin", o.Coin, "error", err)
			continue
		}

		mark, err := numeric.ParseFloat(meta.MarkPx)
		if err != nil {
			continue
		}
		isBuy := o.Side == "B"
		slippage := r.risk.EffectiveMarketOrderSlippage()
		sign := 1.0
		if !isBuy {
			sign = -1.0
		}
		limit := numeric.ClampToExecutionBand(mark*(1+sign*slippage), mark)
		req := exchange.OrderRequest{
			Asset:      meta.AssetID,
			IsBuy:      isBuy,
			LimitPx:    numeric.RoundToReference(limit, meta.MarkPx),
			Size:       o.Sz,
			ReduceOnly: true,
			OrderType:  exchange.OrderType{IOC: true},
		}
		if _, err := r.exec.PlaceOrders(ctx, []exchange.OrderRequest{req}); err != nil {
			r.log.Warnw("reconcile: stale reduce-order re-submit failed", "pair", r.pairID, "coin", o.Coin, "error", err)
		}
	}
}

func rawSnapshotFrom(ch exchange.ClearinghouseState) state.RawSnapshot {
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
			LeverageValue: strconv.Itoa(ap.Leverage.Value),
			LeverageType:  ap.Leverage.Type,
			MarginUsed:    ap.MarginUsed,
			LiquidationPx: ap.LiquidationPx,
			IsHedged:      ap.Type != "oneWay" && ap.Type != "",
		})
	}
	return raw
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
