package signal

import (
	"strings"

	"github.com/google/uuid"

	"github.com/chidi150c/hyperliquid-copytrader/internal/config"
	"github.com/chidi150c/hyperliquid-copytrader/internal/exchange"
	"github.com/chidi150c/hyperliquid-copytrader/internal/market"
	"github.com/chidi150c/hyperliquid-copytrader/internal/numeric"
)

// buildOrder implements spec §4.5.6: execution-price sourcing, clamping,
// slippage, and the smart-mode GTC-vs-IOC choice. Returns ok=false if
// the execution price is unknown or the rounded size is zero.
func buildOrder(cache *market.Cache, assetID int, coin string, isBuy bool, size float64, risk config.Risk, enableSmartOrder bool, p PlannedOrder, sig TradingSignal) (exchange.OrderRequest, bool) {
	meta, haveMeta := cache.Meta(coin)
	if numeric.ParsesToZero(size, meta.SizeDecimals) {
		return exchange.OrderRequest{}, false
	}

	useGTCAtLeaderPrice := enableSmartOrder && p.IsAddOrReduce

	var limitPriceStr string
	if useGTCAtLeaderPrice {
		limitPriceStr = numeric.RoundToReference(sig.AvgPrice, meta.MarkPx)
	} else {
		exec, ok := cache.ExecutionPrice(coin)
		if !ok {
			return exchange.OrderRequest{}, false
		}
		slippage := risk.EffectiveMarketOrderSlippage()
		sign := 1.0
		if !isBuy {
			sign = -1.0
		}
		limit := exec * (1 + sign*slippage)
		limit = numeric.ClampToExecutionBand(limit, exec)
		limitPriceStr = numeric.RoundToReference(limit, meta.MarkPx)
	}

	sizeStr := numeric.FormatSize(size, meta.SizeDecimals)
	if !haveMeta {
		return exchange.OrderRequest{}, false
	}

	return exchange.OrderRequest{
		Asset:      assetID,
		IsBuy:      isBuy,
		LimitPx:    limitPriceStr,
		Size:       sizeStr,
		ReduceOnly: p.ReduceOnly,
		OrderType:  exchange.OrderType{IOC: !useGTCAtLeaderPrice, GTC: useGTCAtLeaderPrice},
		CLOID:      randomClientOrderID(),
	}, true
}

// randomClientOrderID returns a 32-hex-char, 0x-prefixed client order id,
// matching the teacher's uuid.New().String()-for-order-ids convention
// adapted to the exact format Hyperliquid expects.
func randomClientOrderID() string {
	return "0x" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// isInsufficientMarginError classifies an exchange-reported order error
// per spec §7 ("Order rejected (insufficient margin) → Log warn").
func isInsufficientMarginError(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "margin")
}
