package signal

import (
	"strings"

	"github.com/chidi150c/hyperliquid-copytrader/internal/exchange"
	"github.com/chidi150c/hyperliquid-copytrader/internal/numeric"
)

// aggregateByOrderID implements spec §4.5.1: drops spot trades, then
// sums same-order-id fills into one synthetic fill, summing size and
// notional, recomputing endPosition, keeping the latest timestamp.
// Order of the returned slice follows first-seen order id.
func aggregateByOrderID(fills []exchange.Fill) []AggregatedFill {
	order := make([]int64, 0, len(fills))
	byOID := make(map[int64]*AggregatedFill, len(fills))
	signedDelta := make(map[int64]float64, len(fills))

	for _, f := range fills {
		if isSpot(f.Coin) {
			continue
		}
		dir := Direction(f.Dir)
		if !isPerpetualDirection(dir) {
			continue
		}
		size, err := numeric.ParseFloat(f.Sz)
		if err != nil {
			continue
		}
		px, err := numeric.ParseFloat(f.Px)
		if err != nil {
			continue
		}

		agg, ok := byOID[f.OID]
		if !ok {
			agg = &AggregatedFill{
				Coin:          f.Coin,
				OrderID:       f.OID,
				Direction:     dir,
				StartPosition: numeric.ParseFloatOr(f.StartPosition, 0),
				Crossed:       f.Crossed,
			}
			byOID[f.OID] = agg
			order = append(order, f.OID)
		}
		agg.Size += size
		agg.Notional += size * px
		if f.TimeMs > agg.TimestampMs {
			agg.TimestampMs = f.TimeMs
		}
		signedDelta[f.OID] += numeric.SignOf(f.Side == "B") * size
	}

	out := make([]AggregatedFill, 0, len(order))
	for _, oid := range order {
		agg := byOID[oid]
		agg.EndPosition = agg.StartPosition + signedDelta[oid]
		out = append(out, *agg)
	}
	return out
}

// isSpot reports whether coin is a spot symbol (prefixed "@") per
// spec §4.5.1 step 4.
func isSpot(coin string) bool {
	return strings.HasPrefix(coin, "@")
}

// toSignal converts an aggregated fill into a TradingSignal, computing
// avgPrice/isNewPosition/isFullClose per spec §4.5.2.
func toSignal(a AggregatedFill) TradingSignal {
	avgPrice := 0.0
	if !numeric.IsDust(a.Size) {
		avgPrice = a.Notional / a.Size
	}
	return TradingSignal{
		Coin:          a.Coin,
		Direction:     a.Direction,
		Size:          a.Size,
		AvgPrice:      avgPrice,
		OrderID:       a.OrderID,
		StartPosition: a.StartPosition,
		EndPosition:   a.EndPosition,
		TimestampMs:   a.TimestampMs,
		Crossed:       a.Crossed,
		IsNewPosition: numeric.IsDust(a.StartPosition),
		IsFullClose:   numeric.IsDust(a.EndPosition),
	}
}
