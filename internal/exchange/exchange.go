// Package exchange defines the boundary this daemon consumes (spec §6):
// an information endpoint, an execution endpoint, and a streaming fills
// endpoint. HyperliquidClient is the one concrete adapter of InfoClient and
// ExecutionClient, talking to Hyperliquid's REST "info"/"exchange"
// endpoints. Nothing in this package implements StreamClient; the
// websocket fill feed is handled by internal/stream.
package exchange

import "context"

// AssetMeta is one entry of the universe returned by metaAndAssetCtxs.
type AssetMeta struct {
	Name          string
	AssetID       int
	MaxLeverage   int
	SizeDecimals  int
	MarginTableID int
}

// AssetContext is the parallel per-asset context array, index-aligned
// with the universe per Hyperliquid's own wire contract.
type AssetContext struct {
	MarkPx string
}

// Universe bundles metaAndAssetCtxs' two parallel arrays.
type Universe struct {
	Assets   []AssetMeta
	Contexts []AssetContext
}

// RawAssetPosition is one element of clearinghouseState's assetPositions,
// field names matching the wire document exactly.
type RawAssetPosition struct {
	Type     string
	Coin     string
	Szi      string
	EntryPx  string
	PosValue string
	Leverage struct {
		Value int
		Type  string
	}
	MarginUsed    string
	LiquidationPx string
}

// ClearinghouseState is the decoded response of clearinghouseState(user).
type ClearinghouseState struct {
	MarginSummary struct {
		AccountValue    string
		TotalNtlPos     string
		TotalMarginUsed string
	}
	Withdrawable    string
	AssetPositions  []RawAssetPosition
}

// BookLevel is one price level of an l2Book response.
type BookLevel struct {
	Px string
	Sz string
}

// L2Book is a two-sided order book snapshot.
type L2Book struct {
	TimeMs int64
	Bids   []BookLevel
	Asks   []BookLevel
}

// OpenOrder is one element of openOrders(user).
type OpenOrder struct {
	OID        int64
	Coin       string
	Side       string // "B" or "A"
	LimitPx    string
	Sz         string
	ReduceOnly bool
	TimestampMs int64
	CLOID      string
}

// InfoClient is the read-only information endpoint (spec §6).
type InfoClient interface {
	MetaAndAssetCtxs(ctx context.Context) (Universe, error)
	ClearinghouseState(ctx context.Context, user string) (ClearinghouseState, error)
	AllMids(ctx context.Context) (map[string]string, error)
	L2Book(ctx context.Context, coin string) (L2Book, error)
	OpenOrders(ctx context.Context, user string) ([]OpenOrder, error)
}

// OrderRequest is one order line of an order() batch submission.
type OrderRequest struct {
	Asset      int
	IsBuy      bool
	LimitPx    string
	Size       string
	ReduceOnly bool
	OrderType  OrderType
	CLOID      string
}

// OrderType selects between the two tif variants this daemon submits.
type OrderType struct {
	IOC bool
	GTC bool
}

// OrderStatus is one element of order()'s response.data.statuses.
type OrderStatus struct {
	RestingOID int64
	FilledOID  int64
	Error      string
}

// CancelRequest identifies one resting order to cancel, by asset+oid.
type CancelRequest struct {
	Asset int
	OID   int64
}

// ExecutionClient is the order-placement/cancellation/leverage endpoint.
type ExecutionClient interface {
	PlaceOrders(ctx context.Context, orders []OrderRequest) ([]OrderStatus, error)
	CancelOrders(ctx context.Context, cancels []CancelRequest) error
	UpdateLeverage(ctx context.Context, asset int, isCross bool, leverage int) error
}

// Fill is one element of a userFills streaming event.
type Fill struct {
	Coin          string
	Px            string
	Sz            string
	Side          string // "B" or "A"
	TimeMs        int64
	StartPosition string
	Dir           string
	OID           int64
	Crossed       bool
}

// FillEvent is one userFills websocket message.
type FillEvent struct {
	IsSnapshot bool
	Fills      []Fill
}

// StreamClient subscribes to a leader's fill stream. Subscribe blocks
// until ctx is cancelled or an unrecoverable error occurs, invoking
// onEvent for each decoded message; it is responsible for its own
// reconnect policy (spec §6: infinite).
type StreamClient interface {
	SubscribeUserFills(ctx context.Context, user string, aggregateByTime bool, onEvent func(FillEvent)) error
}
