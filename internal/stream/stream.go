// Package stream subscribes to a leader's userFills websocket feed
// (spec §4.7): it owns the wire connection, drops snapshot-flagged
// batches, and hands every other non-empty batch to a Handler. It does not
// touch leader state: the engine passes each batch to the signal
// processor, which applies the fills to leader state before acting on
// them. Reconnection is infinite, governed by exponential backoff.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/chidi150c/hyperliquid-copytrader/internal/botlog"
)

// Fill is one decoded userFills entry, wire fields named as Hyperliquid
// sends them.
type Fill struct {
	Coin          string `json:"coin"`
	Px            string `json:"px"`
	Sz            string `json:"sz"`
	Side          string `json:"side"`
	Time          int64  `json:"time"`
	StartPosition string `json:"startPosition"`
	Dir           string `json:"dir"`
	OID           int64  `json:"oid"`
	Crossed       bool   `json:"crossed"`
}

type userFillsMessage struct {
	Channel string `json:"channel"`
	Data    struct {
		IsSnapshot bool   `json:"isSnapshot"`
		User       string `json:"user"`
		Fills      []Fill `json:"fills"`
	} `json:"data"`
}

// Handler receives one non-snapshot fill batch after it has passed the
// snapshot-drop filter.
type Handler func(fills []Fill)

// Subscriber dials Hyperliquid's streaming endpoint. One Subscriber may be
// shared by every pair: each SubscribeUserFills call holds its own
// websocket connection and drives it through its own infinite reconnect
// loop.
type Subscriber struct {
	wsURL string
	log   *botlog.Logger
}

// New returns a Subscriber dialing wsURL (e.g. wss://api.hyperliquid.xyz/ws).
func New(wsURL string, log *botlog.Logger) *Subscriber {
	return &Subscriber{wsURL: wsURL, log: log}
}

// SubscribeUserFills blocks until ctx is cancelled, maintaining a
// connection to the userFills channel for user and invoking onFill for
// every non-snapshot batch. A snapshot-flagged batch is logged and
// dropped, never forwarded. Reconnects use exponential backoff with no
// max elapsed time, per spec §6.
func (s *Subscriber) SubscribeUserFills(ctx context.Context, user string, aggregateByTime bool, onFill Handler) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // infinite

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := s.runOnce(ctx, user, aggregateByTime, onFill)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			wait := bo.NextBackOff()
			s.log.Warnw("stream disconnected, reconnecting", "error", err, "backoff", wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		bo.Reset()
	}
}

func (s *Subscriber) runOnce(ctx context.Context, user string, aggregateByTime bool, onFill Handler) error {
	u, err := url.Parse(s.wsURL)
	if err != nil {
		return fmt.Errorf("stream: parse url: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("stream: dial: %w", err)
	}
	defer conn.Close()

	sub := map[string]any{
		"method": "subscribe",
		"subscription": map[string]any{
			"type":            "userFills",
			"user":            user,
			"aggregateByTime": aggregateByTime,
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("stream: subscribe: %w", err)
	}

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		_ = conn.Close()
		close(done)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("stream: read: %w", err)
		}

		var msg userFillsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.log.Warnw("stream: undecodable message, dropping", "error", err)
			continue
		}
		if msg.Channel != "userFills" {
			continue
		}
		if msg.Data.IsSnapshot {
			s.log.Infow("stream: dropping snapshot batch", "user", user, "count", len(msg.Data.Fills))
			continue
		}
		if len(msg.Data.Fills) == 0 {
			continue
		}
		onFill(msg.Data.Fills)
	}
}
