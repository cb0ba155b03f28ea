package ticker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/pairbot/internal/domain"
)

func TestCacheLastWriteWins(t *testing.T) {
	ctx := context.Background()
	c := NewCache()

	first := domain.Ticker{Exchange: "binance", Symbol: "BTCUSDT", Bid: 50000, Ask: 50001, CreatedAt: time.Now()}
	second := first
	second.Bid = 50100

	if err := c.Set(ctx, first); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.Set(ctx, second); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := c.Get(ctx, "binance", "BTCUSDT")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Bid != 50100 {
		t.Errorf("Bid = %v, want 50100", got.Bid)
	}
}

func TestCacheGetMissing(t *testing.T) {
	c := NewCache()
	_, err := c.Get(context.Background(), "binance", "ETHUSDT")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get missing = %v, want ErrNotFound", err)
	}
}

func TestCacheFreshness(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	c := NewCache()
	c.SetClock(func() time.Time { return base })

	tk := domain.Ticker{Exchange: "binance", Symbol: "BTCUSDT", Bid: 50000, Ask: 50001, CreatedAt: base.Add(-5 * time.Second)}
	if err := c.Set(ctx, tk); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if _, err := c.GetIfFresh(ctx, "binance", "BTCUSDT", 10*time.Second); err != nil {
		t.Errorf("GetIfFresh within threshold: %v", err)
	}

	if _, err := c.GetIfFresh(ctx, "binance", "BTCUSDT", 3*time.Second); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetIfFresh stale = %v, want ErrNotFound", err)
	}

	// Stale for the freshness predicate, still reachable via Get.
	if _, err := c.Get(ctx, "binance", "BTCUSDT"); err != nil {
		t.Errorf("Get after staleness: %v", err)
	}
}
