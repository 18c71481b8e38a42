package signal

import (
	"github.com/chidi150c/hyperliquid-copytrader/internal/config"
	"github.com/chidi150c/hyperliquid-copytrader/internal/numeric"
)

// sizingContext carries the values sizing/action determination need,
// refreshed once per signal from authoritative snapshots (spec §4.5.3).
type sizingContext struct {
	risk                config.Risk
	minOrderNotionalUsd float64
	leaderEquity        float64
	followerEquity      float64
	followerCurrentSize float64 // signed, in signal.Coin
	currentMark         float64
}

// boostTarget is minOrderNotionalUsd + $1, per spec §4.5.3.
func (c sizingContext) boostTarget() float64 {
	return c.minOrderNotionalUsd + 1
}

// baselineFollowerSize implements spec §4.5.3's baseline formula. The
// pair's inverse toggle is applied to sig.Direction upstream, before this
// runs; sig.Size is already an absolute fill size so no sign flip belongs
// here.
func baselineFollowerSize(sig TradingSignal, c sizingContext) float64 {
	return sig.Size * (c.followerEquity / c.leaderEquity) * c.risk.CopyRatio
}

// applyMinNotionalPolicy implements spec §4.5.3's opening-action gate.
// addToExisting distinguishes "new position or reversal" (always boosts)
// from "add-to-existing" (requires the favorability check). Returns the
// (possibly boosted) size, whether to proceed, and a skip reason.
func applyMinNotionalPolicy(sig TradingSignal, follower float64, c sizingContext, addToExisting bool) (size float64, proceed bool, reason string) {
	if !isOpeningAction(sig.Direction) {
		return follower, true, "" // closing actions have no minimum-notional gate
	}

	notional := follower * sig.AvgPrice
	if notional >= c.minOrderNotionalUsd {
		return follower, true, ""
	}

	if !addToExisting {
		return c.boostTarget() / sig.AvgPrice, true, ""
	}

	priceDiff := (c.currentMark - sig.AvgPrice) / sig.AvgPrice
	threshold := c.risk.EffectiveBoostPriceThreshold()

	var favorable bool
	switch sig.Direction {
	case OpenLong, ShortToLong:
		favorable = priceDiff <= threshold
	case OpenShort, LongToShort:
		favorable = priceDiff >= -threshold
	}
	if !favorable {
		return 0, false, ReasonUnfavorablePrice
	}
	return c.boostTarget() / sig.AvgPrice, true, ""
}

// clampToMaxNotional caps an opening order's size so size*mark never
// exceeds maxNotionalUsd, per spec §1's "risk caps are enforced before
// every order". maxNotionalUsd<=0 or mark<=0 disables the cap.
func clampToMaxNotional(size, mark, maxNotionalUsd float64) float64 {
	if maxNotionalUsd <= 0 || mark <= 0 {
		return size
	}
	maxSize := maxNotionalUsd / mark
	if size > maxSize {
		return maxSize
	}
	return size
}

// reduceRatio implements spec §4.5.4's leaderReduceRatio, defaulting to 1
// when startPosition is dust.
func reduceRatio(sig TradingSignal) float64 {
	if numeric.IsDust(sig.StartPosition) {
		return 1
	}
	return sig.Size / abs(sig.StartPosition)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
