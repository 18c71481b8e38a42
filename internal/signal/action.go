package signal

import "github.com/chidi150c/hyperliquid-copytrader/internal/numeric"

// actionResult carries the outcome of determineAction: either a planned
// order, or a skip reason.
type actionResult struct {
	order  PlannedOrder
	skip   bool
	reason string
}

// determineAction implements spec §4.5.4's full table, mapping direction
// plus the follower's current position to a concrete side/size/reduceOnly.
// followerOpenSize is the freshly-sized follower quantity for opening
// actions and flips, already through applyMinNotionalPolicy.
func determineAction(sig TradingSignal, followerOpenSize float64, c sizingContext) actionResult {
	switch sig.Direction {
	case OpenLong:
		return actionResult{order: PlannedOrder{Coin: sig.Coin, IsBuy: true, Size: followerOpenSize, ReduceOnly: false, IsAddOrReduce: c.followerCurrentSize > 0}}

	case OpenShort:
		return actionResult{order: PlannedOrder{Coin: sig.Coin, IsBuy: false, Size: followerOpenSize, ReduceOnly: false, IsAddOrReduce: c.followerCurrentSize < 0}}

	case CloseLong:
		return determineClose(sig, c, true)

	case CloseShort:
		return determineClose(sig, c, false)

	case LongToShort:
		followerLong := 0.0
		if c.followerCurrentSize > 0 {
			followerLong = c.followerCurrentSize
		}
		size := followerLong + followerOpenSize
		return actionResult{order: PlannedOrder{Coin: sig.Coin, IsBuy: false, Size: size, ReduceOnly: false}}

	case ShortToLong:
		followerShort := 0.0
		if c.followerCurrentSize < 0 {
			followerShort = -c.followerCurrentSize
		}
		size := followerShort + followerOpenSize
		return actionResult{order: PlannedOrder{Coin: sig.Coin, IsBuy: true, Size: size, ReduceOnly: false}}
	}

	return actionResult{skip: true, reason: ReasonSpotOrNonPerp}
}

// determineClose implements CloseLong (closingLong=true) and its
// CloseShort mirror.
func determineClose(sig TradingSignal, c sizingContext, closingLong bool) actionResult {
	followerHasCompatible := (closingLong && c.followerCurrentSize > 0) || (!closingLong && c.followerCurrentSize < 0)

	// Leader fully closed and follower still holds any position at all:
	// force a direction-correcting full close regardless of side match.
	if sig.IsFullClose && !numeric.IsDust(c.followerCurrentSize) {
		isBuy := c.followerCurrentSize < 0
		return actionResult{order: PlannedOrder{
			Coin: sig.Coin, IsBuy: isBuy, Size: abs(c.followerCurrentSize), ReduceOnly: true,
		}}
	}

	if !followerHasCompatible {
		return actionResult{skip: true, reason: ReasonNoFollowerPosition}
	}

	followerAbs := abs(c.followerCurrentSize)
	ratio := reduceRatio(sig)

	var size float64
	if sig.IsFullClose || ratio >= 0.99 {
		size = followerAbs
	} else {
		size = followerAbs * ratio
	}

	notional := size * c.currentMark
	if notional < c.minOrderNotionalUsd && size < followerAbs {
		boostTarget := c.boostTarget()
		if followerAbs*c.currentMark >= boostTarget {
			threshold := c.risk.EffectiveBoostPriceThreshold()
			priceDiff := (c.currentMark - sig.AvgPrice) / sig.AvgPrice
			var favorable bool
			if closingLong {
				favorable = priceDiff >= -threshold // unfavorable iff mark fell more than threshold below leader price
			} else {
				favorable = priceDiff <= threshold // unfavorable iff mark rose more than threshold above leader price
			}
			if !favorable {
				return actionResult{skip: true, reason: ReasonUnfavorablePrice}
			}
			size = boostTarget / c.currentMark
		} else {
			size = followerAbs
		}
	}

	isBuy := !closingLong
	return actionResult{order: PlannedOrder{Coin: sig.Coin, IsBuy: isBuy, Size: size, ReduceOnly: true, IsAddOrReduce: size < followerAbs}}
}
