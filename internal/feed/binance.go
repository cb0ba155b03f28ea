// Package feed streams live best bid/ask quotes from exchange websockets
// into the ticker cache. Each feed owns its connection lifecycle: keep-alive
// pings, read deadlines, and reconnection with exponential backoff.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/pairbot/internal/domain"
)

// DefaultWSURL is the production USDT-M futures stream endpoint.
const DefaultWSURL = "wss://fstream.binance.com"

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// bookTickerMessage is one combined-stream payload from the Binance
// bookTicker stream. Prices arrive as strings.
type bookTickerMessage struct {
	Stream string `json:"stream"`
	Data   struct {
		Symbol string `json:"s"`
		Bid    string `json:"b"`
		Ask    string `json:"a"`
	} `json:"data"`
}

// BinanceFeed subscribes to the Binance combined bookTicker stream for a set
// of symbols and writes every quote into the ticker cache.
type BinanceFeed struct {
	wsURL    string
	exchange string
	symbols  []string
	tickers  domain.TickerCache
	logger   *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewBinanceFeed creates a feed for the given symbols.
//
// wsURL is the combined-stream endpoint; empty means DefaultWSURL.
func NewBinanceFeed(wsURL, exchange string, symbols []string, tickers domain.TickerCache, logger *slog.Logger) *BinanceFeed {
	if wsURL == "" {
		wsURL = DefaultWSURL
	}
	return &BinanceFeed{
		wsURL:    wsURL,
		exchange: exchange,
		symbols:  symbols,
		tickers:  tickers,
		logger:   logger.With(slog.String("component", "binance_feed")),
		done:     make(chan struct{}),
	}
}

// streamURL builds the combined-stream URL: one bookTicker stream per symbol,
// lower-cased per the Binance stream naming rules.
func (f *BinanceFeed) streamURL() string {
	streams := make([]string, 0, len(f.symbols))
	for _, s := range f.symbols {
		streams = append(streams, strings.ToLower(s)+"@bookTicker")
	}
	return f.wsURL + "/stream?streams=" + strings.Join(streams, "/")
}

// Run connects and pumps quotes into the cache until ctx is cancelled or the
// feed is closed. Disconnects reconnect with exponential backoff; the backoff
// resets after a healthy connection.
func (f *BinanceFeed) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		f.logger.Info("no symbols to stream, exiting")
		return nil
	}

	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		started := time.Now()
		err := f.runConnection(ctx)
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}

		if time.Since(started) > time.Minute {
			delay = reconnectDelay
		}
		f.logger.Warn("binance ws disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// runConnection dials, starts the ping loop, and reads until the connection
// drops or ctx is cancelled.
func (f *BinanceFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, f.streamURL(), nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	// Binance pings from the server side; answering keeps the read deadline
	// moving even when the book is quiet.
	conn.SetPingHandler(func(payload string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.PongMessage, []byte(payload))
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go f.pingLoop(conn, pingDone)

	// Close the connection when ctx ends so ReadMessage unblocks.
	go func() {
		select {
		case <-ctx.Done():
		case <-f.done:
		case <-pingDone:
			return
		}
		conn.Close()
	}()

	f.logger.Info("binance ws connected", slog.Int("symbols", len(f.symbols)))

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feed: read: %w", domain.ErrWSDisconnect)
		}
		f.handleMessage(ctx, message)
	}
}

func (f *BinanceFeed) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-f.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses one bookTicker payload and stores the quote.
// Unparseable messages are silently dropped.
func (f *BinanceFeed) handleMessage(ctx context.Context, raw []byte) {
	var msg bookTickerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.Data.Symbol == "" {
		return
	}

	bid, err := strconv.ParseFloat(msg.Data.Bid, 64)
	if err != nil {
		return
	}
	ask, err := strconv.ParseFloat(msg.Data.Ask, 64)
	if err != nil {
		return
	}

	tk := domain.Ticker{
		Exchange:  f.exchange,
		Symbol:    msg.Data.Symbol,
		Bid:       bid,
		Ask:       ask,
		CreatedAt: time.Now().UTC(),
	}
	if err := f.tickers.Set(ctx, tk); err != nil {
		f.logger.Warn("ticker store failed",
			slog.String("symbol", tk.Symbol),
			slog.String("error", err.Error()),
		)
	}
}

// Close stops the feed.
func (f *BinanceFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
