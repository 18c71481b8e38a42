package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Hyperliquid's two public REST bases, per spec §6's environment option.
const (
	MainnetBaseURL = "https://api.hyperliquid.xyz"
	TestnetBaseURL = "https://api.hyperliquid-testnet.xyz"
)

// HyperliquidClient is the concrete InfoClient/ExecutionClient adapter
// against Hyperliquid's REST "info" and "exchange" endpoints.
type HyperliquidClient struct {
	base string
	hc   *http.Client
}

// NewHyperliquidClient builds a client against baseURL (one of
// MainnetBaseURL/TestnetBaseURL) with a 10s request timeout, per
// SPEC_FULL.md's orchestrator-level shared-transport note.
func NewHyperliquidClient(baseURL string) *HyperliquidClient {
	return &HyperliquidClient{
		base: strings.TrimRight(baseURL, "/"),
		hc:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HyperliquidClient) postInfo(ctx context.Context, body map[string]any, out any) error {
	bs, err := json.Marshal(body)
	if err != nil {
		return err
	}
	u := c.base + "/info"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(bs))
	if err != nil {
		return fmt.Errorf("exchange: newrequest info: %w (url=%s)", err, u)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode >= 300 {
		return fmt.Errorf("exchange: info %d: %s", res.StatusCode, string(b))
	}
	return json.Unmarshal(b, out)
}

func (c *HyperliquidClient) postExchange(ctx context.Context, body map[string]any, out any) error {
	bs, err := json.Marshal(body)
	if err != nil {
		return err
	}
	u := c.base + "/exchange"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(bs))
	if err != nil {
		return fmt.Errorf("exchange: newrequest exchange: %w (url=%s)", err, u)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode >= 300 {
		return fmt.Errorf("exchange: exchange %d: %s", res.StatusCode, string(b))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(b, out)
}

// MetaAndAssetCtxs implements InfoClient.
func (c *HyperliquidClient) MetaAndAssetCtxs(ctx context.Context) (Universe, error) {
	var raw []json.RawMessage
	if err := c.postInfo(ctx, map[string]any{"type": "metaAndAssetCtxs"}, &raw); err != nil {
		return Universe{}, err
	}
	if len(raw) != 2 {
		return Universe{}, fmt.Errorf("exchange: metaAndAssetCtxs: expected 2 elements, got %d", len(raw))
	}

	var meta struct {
		Universe []struct {
			Name          string `json:"name"`
			MaxLeverage   int    `json:"maxLeverage"`
			SzDecimals    int    `json:"szDecimals"`
			MarginTableID int    `json:"marginTableId"`
		} `json:"universe"`
	}
	if err := json.Unmarshal(raw[0], &meta); err != nil {
		return Universe{}, fmt.Errorf("exchange: decode universe: %w", err)
	}

	var contexts []struct {
		MarkPx string `json:"markPx"`
	}
	if err := json.Unmarshal(raw[1], &contexts); err != nil {
		return Universe{}, fmt.Errorf("exchange: decode asset contexts: %w", err)
	}

	u := Universe{
		Assets:   make([]AssetMeta, len(meta.Universe)),
		Contexts: make([]AssetContext, len(contexts)),
	}
	for i, a := range meta.Universe {
		u.Assets[i] = AssetMeta{
			Name:          a.Name,
			AssetID:       i,
			MaxLeverage:   a.MaxLeverage,
			SizeDecimals:  a.SzDecimals,
			MarginTableID: a.MarginTableID,
		}
	}
	for i, ctxRow := range contexts {
		u.Contexts[i] = AssetContext{MarkPx: ctxRow.MarkPx}
	}
	return u, nil
}

// ClearinghouseState implements InfoClient.
func (c *HyperliquidClient) ClearinghouseState(ctx context.Context, user string) (ClearinghouseState, error) {
	var raw struct {
		MarginSummary struct {
			AccountValue    string `json:"accountValue"`
			TotalNtlPos     string `json:"totalNtlPos"`
			TotalMarginUsed string `json:"totalMarginUsed"`
		} `json:"marginSummary"`
		Withdrawable   string `json:"withdrawable"`
		AssetPositions []struct {
			Type     string `json:"type"`
			Position struct {
				Coin     string `json:"coin"`
				Szi      string `json:"szi"`
				EntryPx  string `json:"entryPx"`
				PosValue string `json:"positionValue"`
				Leverage struct {
					Value int    `json:"value"`
					Type  string `json:"type"`
				} `json:"leverage"`
				MarginUsed    string `json:"marginUsed"`
				LiquidationPx string `json:"liquidationPx"`
			} `json:"position"`
		} `json:"assetPositions"`
	}
	body := map[string]any{"type": "clearinghouseState", "user": user}
	if err := c.postInfo(ctx, body, &raw); err != nil {
		return ClearinghouseState{}, err
	}

	out := ClearinghouseState{Withdrawable: raw.Withdrawable}
	out.MarginSummary.AccountValue = raw.MarginSummary.AccountValue
	out.MarginSummary.TotalNtlPos = raw.MarginSummary.TotalNtlPos
	out.MarginSummary.TotalMarginUsed = raw.MarginSummary.TotalMarginUsed
	out.AssetPositions = make([]RawAssetPosition, len(raw.AssetPositions))
	for i, ap := range raw.AssetPositions {
		rp := RawAssetPosition{
			Type:          ap.Type,
			Coin:          ap.Position.Coin,
			Szi:           ap.Position.Szi,
			EntryPx:       ap.Position.EntryPx,
			PosValue:      ap.Position.PosValue,
			MarginUsed:    ap.Position.MarginUsed,
			LiquidationPx: ap.Position.LiquidationPx,
		}
		rp.Leverage.Value = ap.Position.Leverage.Value
		rp.Leverage.Type = ap.Position.Leverage.Type
		out.AssetPositions[i] = rp
	}
	return out, nil
}

// AllMids implements InfoClient.
func (c *HyperliquidClient) AllMids(ctx context.Context) (map[string]string, error) {
	var out map[string]string
	if err := c.postInfo(ctx, map[string]any{"type": "allMids"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// L2Book implements InfoClient.
func (c *HyperliquidClient) L2Book(ctx context.Context, coin string) (L2Book, error) {
	var raw struct {
		Time   int64 `json:"time"`
		Levels [][]struct {
			Px string `json:"px"`
			Sz string `json:"sz"`
		} `json:"levels"`
	}
	body := map[string]any{"type": "l2Book", "coin": coin}
	if err := c.postInfo(ctx, body, &raw); err != nil {
		return L2Book{}, err
	}
	book := L2Book{TimeMs: raw.Time}
	if len(raw.Levels) > 0 {
		for _, l := range raw.Levels[0] {
			book.Bids = append(book.Bids, BookLevel{Px: l.Px, Sz: l.Sz})
		}
	}
	if len(raw.Levels) > 1 {
		for _, l := range raw.Levels[1] {
			book.Asks = append(book.Asks, BookLevel{Px: l.Px, Sz: l.Sz})
		}
	}
	return book, nil
}

// OpenOrders implements InfoClient.
func (c *HyperliquidClient) OpenOrders(ctx context.Context, user string) ([]OpenOrder, error) {
	var raw []struct {
		OID        int64  `json:"oid"`
		Coin       string `json:"coin"`
		Side       string `json:"side"`
		LimitPx    string `json:"limitPx"`
		Sz         string `json:"sz"`
		ReduceOnly bool   `json:"reduceOnly"`
		Timestamp  int64  `json:"timestamp"`
		CLOID      string `json:"cloid"`
	}
	body := map[string]any{"type": "openOrders", "user": user}
	if err := c.postInfo(ctx, body, &raw); err != nil {
		return nil, err
	}
	out := make([]OpenOrder, len(raw))
	for i, o := range raw {
		out[i] = OpenOrder{
			OID:         o.OID,
			Coin:        o.Coin,
			Side:        o.Side,
			LimitPx:     o.LimitPx,
			Sz:          o.Sz,
			ReduceOnly:  o.ReduceOnly,
			TimestampMs: o.Timestamp,
			CLOID:       o.CLOID,
		}
	}
	return out, nil
}

// PlaceOrders implements ExecutionClient.
func (c *HyperliquidClient) PlaceOrders(ctx context.Context, orders []OrderRequest) ([]OrderStatus, error) {
	wireOrders := make([]map[string]any, len(orders))
	for i, o := range orders {
		tif := "Ioc"
		if o.OrderType.GTC {
			tif = "Gtc"
		}
		limit := map[string]any{"tif": tif}
		wire := map[string]any{
			"a": o.Asset,
			"b": o.IsBuy,
			"p": o.LimitPx,
			"s": o.Size,
			"r": o.ReduceOnly,
			"t": map[string]any{"limit": limit},
		}
		if o.CLOID != "" {
			wire["c"] = o.CLOID
		}
		wireOrders[i] = wire
	}

	var raw struct {
		Status   string `json:"status"`
		Response struct {
			Type string `json:"type"`
			Data struct {
				Statuses []map[string]any `json:"statuses"`
			} `json:"data"`
		} `json:"response"`
	}
	body := map[string]any{
		"action": map[string]any{
			"type":     "order",
			"orders":   wireOrders,
			"grouping": "na",
		},
	}
	if err := c.postExchange(ctx, body, &raw); err != nil {
		return nil, err
	}

	out := make([]OrderStatus, len(raw.Response.Data.Statuses))
	for i, st := range raw.Response.Data.Statuses {
		if v, ok := st["error"]; ok {
			if s, ok := v.(string); ok {
				out[i] = OrderStatus{Error: s}
				continue
			}
		}
		if v, ok := st["resting"].(map[string]any); ok {
			if oid, ok := v["oid"].(float64); ok {
				out[i] = OrderStatus{RestingOID: int64(oid)}
				continue
			}
		}
		if v, ok := st["filled"].(map[string]any); ok {
			if oid, ok := v["oid"].(float64); ok {
				out[i] = OrderStatus{FilledOID: int64(oid)}
				continue
			}
		}
	}
	return out, nil
}

// CancelOrders implements ExecutionClient.
func (c *HyperliquidClient) CancelOrders(ctx context.Context, cancels []CancelRequest) error {
	wireCancels := make([]map[string]any, len(cancels))
	for i, cr := range cancels {
		wireCancels[i] = map[string]any{"a": cr.Asset, "o": cr.OID}
	}
	body := map[string]any{
		"action": map[string]any{
			"type":    "cancel",
			"cancels": wireCancels,
		},
	}
	return c.postExchange(ctx, body, nil)
}

// UpdateLeverage implements ExecutionClient.
func (c *HyperliquidClient) UpdateLeverage(ctx context.Context, asset int, isCross bool, leverage int) error {
	body := map[string]any{
		"action": map[string]any{
			"type":     "updateLeverage",
			"asset":    asset,
			"isCross":  isCross,
			"leverage": leverage,
		},
	}
	return c.postExchange(ctx, body, nil)
}
