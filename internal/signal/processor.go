package signal

import (
	"context"
	"strconv"
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

// Processor is the per-pair signal processor (spec §4.5). One instance
// is owned exclusively by its engine.
type Processor struct {
	pairID          string
	leaderAddress   string
	followerAddress string

	leaderStore   *state.Store
	followerStore *state.Store
	tracker       *history.Tracker
	cache         *market.Cache
	info          exchange.InfoClient
	exec          exchange.ExecutionClient
	persist       *persistence.Store
	tradeLog      *persistence.TradeLog
	leverage      *leverageSyncer
	log           *botlog.Logger

	risk                config.Risk
	minOrderNotionalUsd float64
	enableSmartOrder    bool

	processing atomic.Bool
}

// Deps bundles Processor's collaborators, one instance per pair.
type Deps struct {
	PairID          string
	LeaderAddress   string
	FollowerAddress string
	LeaderStore     *state.Store
	FollowerStore   *state.Store
	Tracker         *history.Tracker
	Cache           *market.Cache
	Info            exchange.InfoClient
	Exec            exchange.ExecutionClient
	Persist         *persistence.Store
	TradeLog        *persistence.TradeLog
	Log             *botlog.Logger
	Risk            config.Risk
	MinOrderNotionalUsd float64
	EnableSmartOrder    bool
	SyncLeverage        bool
}

// New builds a Processor from deps.
func New(d Deps) *Processor {
	return &Processor{
		pairID:              d.PairID,
		leaderAddress:       d.LeaderAddress,
		followerAddress:     d.FollowerAddress,
		leaderStore:         d.LeaderStore,
		followerStore:       d.FollowerStore,
		tracker:             d.Tracker,
		cache:               d.Cache,
		info:                d.Info,
		exec:                d.Exec,
		persist:             d.Persist,
		tradeLog:            d.TradeLog,
		leverage:            newLeverageSyncer(d.Exec, d.SyncLeverage, d.Risk.MaxLeverage, d.Log),
		log:                 d.Log,
		risk:                d.Risk,
		minOrderNotionalUsd: d.MinOrderNotionalUsd,
		enableSmartOrder:    d.EnableSmartOrder,
	}
}

// HandleFillEvent implements spec §4.5's re-entrancy guard and ingestion
// pipeline. It is always called from the stream subscriber's single
// reader goroutine, so overlap can only happen if a caller violates that
// contract — guarded here anyway, matching spec §4.5's explicit flag.
func (p *Processor) HandleFillEvent(ctx context.Context, fills []exchange.Fill) {
	if len(fills) == 0 {
		return
	}
	if !p.processing.CompareAndSwap(false, true) {
		p.log.Debugw("signal: dropping overlapping fill event", "pair", p.pairID)
		mtxFillEventsDropped.WithLabelValues(p.pairID, ReasonReentrant).Inc()
		return
	}
	defer p.processing.Store(false)

	for _, f := range fills {
		size, err := numeric.ParseFloat(f.Sz)
		if err != nil {
			continue
		}
		price, err := numeric.ParseFloat(f.Px)
		if err != nil {
			continue
		}
		p.leaderStore.ApplyFill(state.Fill{
			Coin: f.Coin, IsBuy: f.Side == "B", Size: size, Price: price, TimestampMs: f.TimeMs,
		})
	}

	for _, agg := range aggregateByOrderID(fills) {
		p.processSignal(ctx, agg)
	}
}

func (p *Processor) processSignal(ctx context.Context, agg AggregatedFill) {
	sig := toSignal(agg)
	if p.risk.Inverse {
		sig.Direction = invertDirection(sig.Direction)
	}

	canCopy, cleared := p.tracker.CanCopy(sig.Coin, sig.EndPosition)
	if cleared != nil {
		p.persist.RecordHistoricalClear(cleared.Coin, string(cleared.Reason))
	}
	if !canCopy {
		reason := ReasonOngoingHistorical
		if cleared != nil && cleared.Reason == history.ReasonClosed {
			reason = ReasonCloseOfHistorical
		}
		p.recordSkip(sig, reason)
		return
	}

	leaderEquity, followerEquity, err := p.refreshSnapshots(ctx)
	if err != nil {
		p.log.Errorw("signal: snapshot refresh failed, skipping signal", "pair", p.pairID, "coin", sig.Coin, "error", err)
		p.recordSkip(sig, "snapshot refresh failed")
		return
	}
	if leaderEquity <= 0 || followerEquity <= 0 {
		p.recordSkip(sig, ReasonEquityNonPositive)
		return
	}

	meta, haveMeta := p.cache.Meta(sig.Coin)
	var currentMark float64
	if haveMeta {
		currentMark, _ = numeric.ParseFloat(meta.MarkPx)
	}

	followerPos := p.followerStore.Size(sig.Coin)
	c := sizingContext{
		risk:                p.risk,
		minOrderNotionalUsd: p.minOrderNotionalUsd,
		leaderEquity:        leaderEquity,
		followerEquity:      followerEquity,
		followerCurrentSize: followerPos,
		currentMark:         currentMark,
	}

	baseline := baselineFollowerSize(sig, c)
	addToExisting := isOpeningOnSameSide(sig, followerPos)
	sizedFollower, proceed, reason := applyMinNotionalPolicy(sig, baseline, c, addToExisting)
	if !proceed {
		p.recordSkip(sig, reason)
		return
	}

	action := determineAction(sig, sizedFollower, c)
	if action.skip {
		p.recordSkip(sig, action.reason)
		return
	}
	if !action.order.ReduceOnly {
		action.order.Size = clampToMaxNotional(action.order.Size, currentMark, p.risk.MaxNotionalUsd)
	}

	if numeric.IsDust(followerPos) && isOpeningAction(sig.Direction) {
		if leaderPos, ok := p.leaderStore.Position(sig.Coin); ok && haveMeta {
			p.leverage.syncIfNeeded(ctx, sig.Coin, meta.AssetID, leaderPos.Leverage, leaderPos.LeverageType)
		}
	}

	if !haveMeta {
		p.recordSkip(sig, ReasonExecutionPriceUnknown)
		return
	}

	req, ok := buildOrder(p.cache, meta.AssetID, sig.Coin, action.order.IsBuy, action.order.Size, p.risk, p.enableSmartOrder, action.order, sig)
	if !ok {
		p.recordSkip(sig, ReasonSizeRoundsToZero)
		return
	}

	p.submit(ctx, sig, req)
}

// isOpeningOnSameSide reports whether sig is an OpenLong/OpenShort that
// adds to an already-existing same-direction follower position, as
// opposed to a brand-new position or a flip — the distinction spec
// §4.5.3 draws between "new position or reversal" and "add-to-existing".
func isOpeningOnSameSide(sig TradingSignal, followerPos float64) bool {
	switch sig.Direction {
	case OpenLong:
		return followerPos > 0
	case OpenShort:
		return followerPos < 0
	default:
		return false // LongToShort/ShortToLong are always reversals
	}
}

// refreshSnapshots pulls leader and follower clearinghouse state in
// parallel and applies them, per spec §4.5.3's "Before every action".
func (p *Processor) refreshSnapshots(ctx context.Context) (leaderEquity, followerEquity float64, err error) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		raw, err := p.info.ClearinghouseState(gctx, p.leaderAddress)
		if err != nil {
			return err
		}
		return p.leaderStore.ApplySnapshot(toRawSnapshot(raw))
	})
	g.Go(func() error {
		raw, err := p.info.ClearinghouseState(gctx, p.followerAddress)
		if err != nil {
			return err
		}
		return p.followerStore.ApplySnapshot(toRawSnapshot(raw))
	})

	if err := g.Wait(); err != nil {
		return 0, 0, err
	}
	return p.leaderStore.Metrics().AccountValueUsd, p.followerStore.Metrics().AccountValueUsd, nil
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
		rp := state.RawPosition{
			Coin:          ap.Coin,
			Szi:           ap.Szi,
			EntryPx:       ap.EntryPx,
			PositionValue: ap.PosValue,
			LeverageValue: strconv.Itoa(ap.Leverage.Value),
			LeverageType:  ap.Leverage.Type,
			MarginUsed:    ap.MarginUsed,
			LiquidationPx: ap.LiquidationPx,
		}
		// Only the generic "oneWay" position type (Hyperliquid's default
		// margin mode) is tracked; any other type denotes a hedge-mode
		// account, which this daemon does not mirror.
		rp.IsHedged = ap.Type != "oneWay" && ap.Type != ""
		raw.Positions = append(raw.Positions, rp)
	}
	return raw
}

func (p *Processor) recordSkip(sig TradingSignal, reason string) {
	mtxSkipped.WithLabelValues(p.pairID, reason).Inc()
	p.log.Infow("signal: skipped", "pair", p.pairID, "coin", sig.Coin, "direction", sig.Direction, "reason", reason)
	if p.tradeLog == nil {
		return
	}
	_ = p.tradeLog.Record(persistence.TradeRecord{
		Timestamp: time.Now().UTC(),
		Coin:      sig.Coin,
		Direction: string(sig.Direction),
		Outcome:   persistence.OutcomeSkipped,
		Reason:    reason,
	})
}

func (p *Processor) submit(ctx context.Context, sig TradingSignal, req exchange.OrderRequest) {
	mtxDecisions.WithLabelValues(p.pairID, string(sig.Direction)).Inc()

	statuses, err := p.exec.PlaceOrders(ctx, []exchange.OrderRequest{req})
	if err != nil {
		p.log.Errorw("signal: order submit network error, dropping signal", "pair", p.pairID, "coin", sig.Coin, "error", err)
		mtxOrders.WithLabelValues(p.pairID, sideLabel(req.IsBuy), "network_error").Inc()
		p.logTrade(sig, req, persistence.OutcomeFailed, err.Error())
		return
	}

	for _, st := range statuses {
		switch {
		case st.Error != "":
			if isInsufficientMarginError(st.Error) {
				p.log.Warnw("signal: order rejected, insufficient margin", "pair", p.pairID, "coin", sig.Coin, "error", st.Error)
			} else {
				p.log.Warnw("signal: order rejected", "pair", p.pairID, "coin", sig.Coin, "error", st.Error)
			}
			mtxOrders.WithLabelValues(p.pairID, sideLabel(req.IsBuy), "rejected").Inc()
			p.logTrade(sig, req, persistence.OutcomeFailed, st.Error)
		default:
			mtxOrders.WithLabelValues(p.pairID, sideLabel(req.IsBuy), "success").Inc()
			p.logTrade(sig, req, persistence.OutcomeExecuted, "")
		}
	}
}

func sideLabel(isBuy bool) string {
	if isBuy {
		return "buy"
	}
	return "sell"
}

func (p *Processor) logTrade(sig TradingSignal, req exchange.OrderRequest, outcome persistence.TradeOutcome, reason string) {
	if p.tradeLog == nil {
		return
	}
	price, _ := numeric.ParseFloat(req.LimitPx)
	size, _ := numeric.ParseFloat(req.Size)
	_ = p.tradeLog.Record(persistence.TradeRecord{
		Timestamp: time.Now().UTC(),
		Coin:      sig.Coin,
		Direction: string(sig.Direction),
		Outcome:   outcome,
		Reason:    reason,
		Side:      sideLabel(req.IsBuy),
		Size:      size,
		Price:     price,
	})
}
