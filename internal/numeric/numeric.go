// Package numeric provides the small set of safe-parsing, clamping, and
// precision-rounding helpers shared by every other package in this module.
//
// Hyperliquid's wire format expresses prices and sizes as decimal strings;
// these helpers exist so every caller applies the same epsilon and rounding
// rules instead of re-deriving them at each call site.
package numeric

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Epsilon is the dust threshold: |size| < Epsilon is treated as zero
// everywhere in this module.
const Epsilon = 1e-9

// IsDust reports whether v is within Epsilon of zero.
func IsDust(v float64) bool {
	return math.Abs(v) < Epsilon
}

// ParseFloat parses a decimal string, returning an error on failure. Unlike
// strconv.ParseFloat it trims surrounding whitespace first, since exchange
// payloads occasionally pad numeric fields.
func ParseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// ParseFloatOr parses s, returning def if s is empty or unparsable. Used by
// callers that tolerate missing optional fields (e.g. apply_fill synthesizing
// a blank prior position).
func ParseFloatOr(s string, def float64) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return v
}

// Clamp restricts v to [lo, hi]. If lo > hi the arguments are swapped.
func Clamp(v, lo, hi float64) float64 {
	if lo > hi {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampToExecutionBand clamps a limit price to [0.5*exec, 2*exec], the band
// used for every IOC/reduce-only order this daemon submits.
func ClampToExecutionBand(price, exec float64) float64 {
	return Clamp(price, 0.5*exec, 2*exec)
}

// decimalsOf returns the number of digits after the decimal point in the
// decimal string s, as Hyperliquid's own px/sz strings express it.
func decimalsOf(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		return len(s) - idx - 1
	}
	return 0
}

// RoundToReference formats price to the decimal precision implied by the
// string form of reference (e.g. a mark price fetched from the exchange),
// stripping trailing zeros. An empty result is replaced with "0", per
// spec: round_price must never return an empty string.
func RoundToReference(price float64, reference string) string {
	decimals := decimalsOf(reference)
	s := strconv.FormatFloat(price, 'f', decimals, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimRight(s, ".")
	}
	if s == "" || s == "-" {
		s = "0"
	}
	return s
}

// FormatSize formats size to at most decimals places, dropping trailing
// zeros (and a bare trailing decimal point) the way exchange size fields are
// conventionally presented. A negative decimals is treated as zero.
func FormatSize(size float64, decimals int) string {
	if decimals < 0 {
		decimals = 0
	}
	s := strconv.FormatFloat(size, 'f', decimals, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimRight(s, ".")
	}
	if s == "" || s == "-" {
		s = "0"
	}
	return s
}

// ParsesToZero reports whether formatting size to decimals places collapses
// to zero, used to skip orders whose rounded size vanishes.
func ParsesToZero(size float64, decimals int) bool {
	f, err := strconv.ParseFloat(FormatSize(size, decimals), 64)
	if err != nil {
		return true
	}
	return IsDust(f)
}

// FormatMillis formats a Unix-millisecond timestamp the way persisted
// documents and trade-log lines record times: RFC3339 with millisecond
// precision, UTC.
func FormatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// NowMillis returns the current time as Unix milliseconds, the timestamp
// unit used throughout PositionSnapshot/AccountMetrics.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// SignOf returns +1 for a buy-side fill and -1 otherwise, the convention
// used to turn a fill's absolute size into a signed delta.
func SignOf(isBuy bool) float64 {
	if isBuy {
		return 1
	}
	return -1
}
