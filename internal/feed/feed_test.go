package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/pairbot/internal/domain"
	"github.com/alanyoungcy/pairbot/internal/ticker"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStreamURL(t *testing.T) {
	f := NewBinanceFeed("wss://example.test", "binance", []string{"BTCUSDT", "ETHUSDT"}, ticker.NewCache(), discardLogger())
	want := "wss://example.test/stream?streams=btcusdt@bookTicker/ethusdt@bookTicker"
	if got := f.streamURL(); got != want {
		t.Fatalf("streamURL() = %q, want %q", got, want)
	}
}

func TestNewBinanceFeedDefaultsURL(t *testing.T) {
	f := NewBinanceFeed("", "binance", []string{"BTCUSDT"}, ticker.NewCache(), discardLogger())
	if f.wsURL != DefaultWSURL {
		t.Fatalf("wsURL = %q, want %q", f.wsURL, DefaultWSURL)
	}
}

func TestHandleMessageStoresTicker(t *testing.T) {
	cache := ticker.NewCache()
	f := NewBinanceFeed("", "binance", []string{"BTCUSDT"}, cache, discardLogger())

	raw := []byte(`{"stream":"btcusdt@bookTicker","data":{"s":"BTCUSDT","b":"97000.10","a":"97000.20"}}`)
	f.handleMessage(context.Background(), raw)

	tk, err := cache.Get(context.Background(), "binance", "BTCUSDT")
	if err != nil {
		t.Fatalf("Get after handleMessage: %v", err)
	}
	if tk.Bid != 97000.10 || tk.Ask != 97000.20 {
		t.Fatalf("stored ticker = bid %v ask %v", tk.Bid, tk.Ask)
	}
	if time.Since(tk.CreatedAt) > time.Minute {
		t.Fatalf("ticker timestamp not fresh: %v", tk.CreatedAt)
	}
}

func TestHandleMessageIgnoresGarbage(t *testing.T) {
	cache := ticker.NewCache()
	f := NewBinanceFeed("", "binance", []string{"BTCUSDT"}, cache, discardLogger())

	for _, raw := range []string{
		`not json`,
		`{"stream":"x","data":{}}`,
		`{"stream":"x","data":{"s":"BTCUSDT","b":"oops","a":"1"}}`,
		`{"stream":"x","data":{"s":"BTCUSDT","b":"1","a":"oops"}}`,
	} {
		f.handleMessage(context.Background(), []byte(raw))
	}

	if _, err := cache.Get(context.Background(), "binance", "BTCUSDT"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("garbage payload reached the cache: %v", err)
	}
}

type recordingUpdater struct {
	exchange string
	symbol   string
	state    string
	options  map[string]string
	calls    int
	err      error
}

func (r *recordingUpdater) Update(_ context.Context, exchange, symbol, state string, options map[string]string) error {
	r.calls++
	r.exchange, r.symbol, r.state, r.options = exchange, symbol, state, options
	return r.err
}

func TestSignalHandleMessage(t *testing.T) {
	up := &recordingUpdater{}
	f := NewSignalFeeder(nil, "signals", up, discardLogger())

	raw := []byte(`{"exchange":" binance ","symbol":"BTCUSDT","state":"long","options":{"market":"true"}}`)
	if err := f.handleMessage(context.Background(), raw); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}
	if up.calls != 1 {
		t.Fatalf("Update called %d times, want 1", up.calls)
	}
	if up.exchange != "binance" || up.symbol != "BTCUSDT" || up.state != "long" {
		t.Fatalf("Update got (%q, %q, %q)", up.exchange, up.symbol, up.state)
	}
	if up.options["market"] != "true" {
		t.Fatalf("options not forwarded: %v", up.options)
	}
}

func TestSignalHandleMessageSkipsIncomplete(t *testing.T) {
	up := &recordingUpdater{}
	f := NewSignalFeeder(nil, "signals", up, discardLogger())

	for _, raw := range []string{
		`{"symbol":"BTCUSDT","state":"long"}`,
		`{"exchange":"binance","state":"long"}`,
		`{"exchange":"  ","symbol":"BTCUSDT","state":"long"}`,
	} {
		if err := f.handleMessage(context.Background(), []byte(raw)); err != nil {
			t.Fatalf("handleMessage(%s): %v", raw, err)
		}
	}
	if up.calls != 0 {
		t.Fatalf("incomplete signals reached the manager: %d calls", up.calls)
	}
}

func TestSignalHandleMessageErrors(t *testing.T) {
	up := &recordingUpdater{err: domain.ErrInvalidState}
	f := NewSignalFeeder(nil, "signals", up, discardLogger())

	if err := f.handleMessage(context.Background(), []byte(`{"bad`)); err == nil {
		t.Fatal("malformed JSON accepted")
	}

	err := f.handleMessage(context.Background(), []byte(`{"exchange":"binance","symbol":"BTCUSDT","state":"sideways"}`))
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("manager error not surfaced: %v", err)
	}
}
