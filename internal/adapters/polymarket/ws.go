package polymarket

// ws.go — real-time price feed over the CLOB market WebSocket.
//
// Subscribe returns a channel fed by a background goroutine that owns the
// connection. On read errors the goroutine reconnects with exponential
// backoff and resubscribes to the full token set; consumers only see a
// pause in updates, never an error. The channel is closed when the
// context is cancelled.

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alejandrodnm/polyarb/internal/ports"
)

const (
	defaultWSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

	wsHandshakeTimeout = 15 * time.Second
	wsWriteWait        = 10 * time.Second
	wsPongWait         = 60 * time.Second
	wsPingPeriod       = (wsPongWait * 9) / 10

	wsReconnectDelay    = 2 * time.Second
	wsMaxReconnectDelay = 60 * time.Second

	// updateBuffer absorbs bursts; a full buffer drops the oldest-style
	// behaviour is not needed because the consumer is a tight loop.
	updateBuffer = 1024
)

// Subscribe opens the market data stream for the given token IDs.
func (f *Feed) Subscribe(ctx context.Context, tokenIDs []string) (<-chan ports.PriceUpdate, error) {
	conn, err := f.dial(ctx, tokenIDs)
	if err != nil {
		return nil, err
	}

	out := make(chan ports.PriceUpdate, updateBuffer)
	go f.run(ctx, conn, tokenIDs, out)
	return out, nil
}

// dial connects and sends the subscription command.
func (f *Feed) dial(ctx context.Context, tokenIDs []string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return nil, err
	}

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	cmd := wsCommand{Type: "market", AssetIDs: tokenIDs}
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(cmd); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// run owns the connection: reads messages, keeps the ping loop alive and
// reconnects on failure. Closes out when ctx is cancelled.
func (f *Feed) run(ctx context.Context, conn *websocket.Conn, tokenIDs []string, out chan<- ports.PriceUpdate) {
	defer close(out)
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	pingDone := startPing(ctx, conn)

	for {
		if ctx.Err() != nil {
			close(pingDone)
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			close(pingDone)
			if ctx.Err() != nil {
				return
			}

			slog.Warn("ws read failed, reconnecting", "err", err)
			conn.Close()
			conn = f.redial(ctx, tokenIDs)
			if conn == nil {
				return // context cancelled during backoff
			}
			pingDone = startPing(ctx, conn)
			continue
		}

		for _, u := range parseUpdates(raw) {
			select {
			case out <- u:
			case <-ctx.Done():
				close(pingDone)
				return
			}
		}
	}
}

// redial reconnects with exponential backoff. Returns nil if the context
// is cancelled while waiting.
func (f *Feed) redial(ctx context.Context, tokenIDs []string) *websocket.Conn {
	delay := wsReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		conn, err := f.dial(ctx, tokenIDs)
		if err == nil {
			slog.Info("ws reconnected", "tokens", len(tokenIDs))
			return conn
		}
		slog.Warn("ws reconnect failed", "err", err, "next_attempt", delay)

		delay *= 2
		if delay > wsMaxReconnectDelay {
			delay = wsMaxReconnectDelay
		}
	}
}

// startPing keeps the connection alive until done is closed or ctx ends.
func startPing(ctx context.Context, conn *websocket.Conn) chan struct{} {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()
	return done
}

// parseUpdates converts a raw WS message into zero or more price updates.
// The market channel can deliver a single object or an array of them.
func parseUpdates(raw []byte) []ports.PriceUpdate {
	if len(raw) > 0 && raw[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(raw, &batch); err != nil {
			return nil
		}
		var all []ports.PriceUpdate
		for _, item := range batch {
			all = append(all, parseOne(item)...)
		}
		return all
	}
	return parseOne(raw)
}

func parseOne(raw []byte) []ports.PriceUpdate {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil
	}

	switch env.EventType {
	case "book":
		var msg wsBookMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil
		}
		u := ports.PriceUpdate{
			TokenID:   msg.AssetID,
			Timestamp: parseMillis(msg.Timestamp),
		}
		if len(msg.Bids) > 0 {
			u.BestBid = parsePrice(msg.Bids[len(msg.Bids)-1].Price)
		}
		if len(msg.Asks) > 0 {
			u.BestAsk = parsePrice(msg.Asks[len(msg.Asks)-1].Price)
		}
		if u.BestBid > 0 && u.BestAsk > 0 {
			u.Price = (u.BestBid + u.BestAsk) / 2
		}
		if u.Price == 0 {
			return nil
		}
		return []ports.PriceUpdate{u}

	case "last_trade_price":
		var msg wsLastTrade
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil
		}
		price := parsePrice(msg.Price)
		if price <= 0 {
			return nil
		}
		return []ports.PriceUpdate{{
			TokenID:   msg.AssetID,
			Price:     price,
			Timestamp: parseMillis(msg.Timestamp),
		}}

	case "price_change":
		var msg wsPriceChange
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil
		}
		price := parsePrice(msg.Price)
		if price <= 0 {
			return nil
		}
		return []ports.PriceUpdate{{
			TokenID:   msg.AssetID,
			Price:     price,
			Timestamp: parseMillis(msg.Timestamp),
		}}
	}
	return nil
}

func parsePrice(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// parseMillis parses the CLOB's millisecond timestamp field, falling back
// to the local clock when absent.
func parseMillis(s string) int64 {
	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ts <= 0 {
		return time.Now().UnixMilli()
	}
	return ts
}
