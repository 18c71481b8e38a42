// Package signal is the copy-trading core (spec §4.5): fill aggregation,
// direction classification, the historical filter, sizing and
// minimum-notional policy, action determination, leverage sync, and
// order construction/submission. Domain logic grounded on
// other_examples' Hyperliquid copy-trading references (signed-size diff
// classification, equity-ratio sizing, proportional reduce ratios); Go
// idiom (mutex-guarded decide step, structured audit logging, metrics
// per outcome) grounded on the teacher's step.go/trader.go/metrics.go.
package signal

// Direction classifies a leader fill's effect on its own position.
type Direction string

const (
	OpenLong    Direction = "OpenLong"
	CloseLong   Direction = "CloseLong"
	OpenShort   Direction = "OpenShort"
	CloseShort  Direction = "CloseShort"
	LongToShort Direction = "LongToShort"
	ShortToLong Direction = "ShortToLong"
)

// perpetualDirections is the set of directions recognized as perpetual
// trading activity; anything else is dropped per spec §4.5.1 step 4.
var perpetualDirections = map[Direction]bool{
	OpenLong: true, CloseLong: true, OpenShort: true,
	CloseShort: true, LongToShort: true, ShortToLong: true,
}

func isPerpetualDirection(d Direction) bool { return perpetualDirections[d] }

// invertDirection flips a direction's side, implementing spec §4.5.3's
// "direction is inverted if the pair is configured inverse": buy legs
// become sell legs and vice versa. LongToShort/ShortToLong swap since
// they name the leader's own transition, which runs the opposite way
// on an inverted follower.
func invertDirection(d Direction) Direction {
	switch d {
	case OpenLong:
		return OpenShort
	case OpenShort:
		return OpenLong
	case CloseLong:
		return CloseShort
	case CloseShort:
		return CloseLong
	case LongToShort:
		return ShortToLong
	case ShortToLong:
		return LongToShort
	default:
		return d
	}
}

// isOpeningAction reports whether d is classified as an opening action
// per spec §4.5.3 (as opposed to a closing action).
func isOpeningAction(d Direction) bool {
	switch d {
	case OpenLong, OpenShort, LongToShort, ShortToLong:
		return true
	default:
		return false
	}
}

// AggregatedFill is the result of aggregating raw exchange fills by
// order id (spec §4.5.1 step 5).
type AggregatedFill struct {
	Coin          string
	OrderID       int64
	Direction     Direction
	Size          float64 // sum of |fill size| across the order
	Notional      float64
	StartPosition float64
	EndPosition   float64
	TimestampMs   int64
	Crossed       bool
}

// TradingSignal is the in-memory record produced from one AggregatedFill
// (spec §3).
type TradingSignal struct {
	Coin          string
	Direction     Direction
	Size          float64
	AvgPrice      float64
	OrderID       int64
	StartPosition float64
	EndPosition   float64
	TimestampMs   int64
	Crossed       bool
	IsNewPosition bool
	IsFullClose   bool
}

// PlannedOrder is the concrete action§4.5.4 produces, before price/size
// formatting.
type PlannedOrder struct {
	Coin        string
	IsBuy       bool
	Size        float64 // absolute follower-side size
	ReduceOnly  bool
	IsAddOrReduce bool // true only for add-to-existing opens and partial-reduce closes
}

// The Reason* constants enumerate the audit reasons this package records;
// values are free text in the trade log but kept as constants here so
// callers and tests share one vocabulary.
const (
	ReasonOngoingHistorical = "ongoing historical"
	ReasonCloseOfHistorical = "close of historical"
	ReasonEquityNonPositive = "equity non-positive"
	ReasonUnfavorablePrice  = "unfavorable price, boost skipped"
	ReasonNoFollowerPosition = "no compatible follower position"
	ReasonExecutionPriceUnknown = "execution price unknown"
	ReasonSizeRoundsToZero  = "size rounds to zero"
	ReasonSpotOrNonPerp     = "spot or non-perpetual direction"
	ReasonReentrant         = "signal processor busy"
)
