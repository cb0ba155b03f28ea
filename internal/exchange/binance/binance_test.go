package binance

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/alanyoungcy/pairbot/internal/crypto"
	"github.com/alanyoungcy/pairbot/internal/domain"
)

func testAuth() *crypto.HMACAuth {
	return &crypto.HMACAuth{Key: "test-key", Secret: "test-secret"}
}

func TestOrderSendsSignedRequest(t *testing.T) {
	var gotPath string
	var gotQuery url.Values
	var gotAPIKey string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		gotAPIKey = r.Header.Get("X-MBX-APIKEY")
		w.Write([]byte(`{"orderId":12345,"symbol":"BTCUSDT","side":"BUY","type":"LIMIT","price":"97000.1","origQty":"0.5","status":"NEW","time":1700000000000}`))
	}))
	defer srv.Close()

	ex := New("binance", srv.URL, testAuth())
	placed, err := ex.Order(context.Background(), domain.Order{
		Symbol:   "BTCUSDT",
		Side:     domain.SideLong,
		Amount:   0.5,
		Price:    97000.1,
		Kind:     domain.OrderKindLimit,
		PostOnly: true,
	})
	if err != nil {
		t.Fatalf("Order: %v", err)
	}

	if gotPath != "/fapi/v1/order" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAPIKey != "test-key" {
		t.Errorf("api key header = %q", gotAPIKey)
	}
	if gotQuery.Get("side") != "BUY" || gotQuery.Get("type") != "LIMIT" {
		t.Errorf("side/type = %q/%q", gotQuery.Get("side"), gotQuery.Get("type"))
	}
	if gotQuery.Get("timeInForce") != "GTX" {
		t.Errorf("post-only order sent timeInForce %q, want GTX", gotQuery.Get("timeInForce"))
	}
	if gotQuery.Get("signature") == "" || gotQuery.Get("timestamp") == "" {
		t.Error("request missing signature or timestamp")
	}

	if placed.ID != "12345" || placed.Status != domain.OrderStatusOpen || placed.Side != domain.SideLong {
		t.Fatalf("placed = %+v", placed)
	}
}

func TestOrderMarketOmitsPrice(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`{"orderId":1,"symbol":"BTCUSDT","side":"SELL","type":"MARKET","price":"0","origQty":"0.5","status":"FILLED"}`))
	}))
	defer srv.Close()

	ex := New("binance", srv.URL, testAuth())
	placed, err := ex.Order(context.Background(), domain.Order{
		Symbol: "BTCUSDT",
		Side:   domain.SideShort,
		Amount: 0.5,
		Kind:   domain.OrderKindMarket,
	})
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	if gotQuery.Get("type") != "MARKET" || gotQuery.Get("price") != "" {
		t.Fatalf("market query = %v", gotQuery)
	}
	if placed.Status != domain.OrderStatusDone || placed.Side != domain.SideShort {
		t.Fatalf("placed = %+v", placed)
	}
}

func TestFindOrderByIDUnknownID(t *testing.T) {
	ex := New("binance", "http://unused.test", testAuth())
	_, err := ex.FindOrderByID(context.Background(), "never-seen")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCancelOrderMapsUnknownOrderCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2011,"msg":"Unknown order sent."}`))
	}))
	defer srv.Close()

	ex := New("binance", srv.URL, testAuth())
	ex.rememberOrder("77", "BTCUSDT")

	_, err := ex.CancelOrder(context.Background(), "77")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCancelAllReturnsCancelledOrders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/fapi/v1/openOrders":
			w.Write([]byte(`[{"orderId":1,"symbol":"BTCUSDT","side":"BUY","type":"LIMIT","price":"100","origQty":"1","status":"NEW"}]`))
		case r.Method == http.MethodDelete && r.URL.Path == "/fapi/v1/allOpenOrders":
			w.Write([]byte(`{"code":200,"msg":"ok"}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	ex := New("binance", srv.URL, testAuth())
	cancelled, err := ex.CancelAll(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("CancelAll: %v", err)
	}
	if len(cancelled) != 1 || cancelled[0].Status != domain.OrderStatusCancelled {
		t.Fatalf("cancelled = %+v", cancelled)
	}
}

func TestGetPositionsFiltersFlat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"symbol":"BTCUSDT","positionAmt":"0.5","entryPrice":"96000","unRealizedProfit":"480","notional":"48000","updateTime":1700000000000},
			{"symbol":"ETHUSDT","positionAmt":"0","entryPrice":"0","unRealizedProfit":"0","notional":"0","updateTime":0},
			{"symbol":"SOLUSDT","positionAmt":"-10","entryPrice":"150","unRealizedProfit":"-30","notional":"-1500","updateTime":1700000000000}
		]`))
	}))
	defer srv.Close()

	ex := New("binance", srv.URL, testAuth())
	positions, err := ex.GetPositions(context.Background())
	if err != nil {
		t.Fatalf("GetPositions: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("positions = %+v, want the flat symbol dropped", positions)
	}
	if positions[0].Side != domain.SideLong || positions[1].Side != domain.SideShort {
		t.Fatalf("sides = %v/%v", positions[0].Side, positions[1].Side)
	}
	if positions[0].UnrealizedPnLPercent != 1 {
		t.Fatalf("pnl percent = %v, want 1", positions[0].UnrealizedPnLPercent)
	}
}

func TestGetTradableBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"asset":"BNB","availableBalance":"1.5"},{"asset":"USDT","availableBalance":"2500.75"}]`))
	}))
	defer srv.Close()

	ex := New("binance", srv.URL, testAuth())
	balance, err := ex.GetTradableBalance(context.Background())
	if err != nil {
		t.Fatalf("GetTradableBalance: %v", err)
	}
	if balance != 2500.75 {
		t.Fatalf("balance = %v", balance)
	}
}

func TestOrderStatusMapping(t *testing.T) {
	tests := []struct {
		apiStatus  string
		want       domain.OrderStatus
		forceRetry bool
	}{
		{"NEW", domain.OrderStatusOpen, false},
		{"PARTIALLY_FILLED", domain.OrderStatusOpen, false},
		{"FILLED", domain.OrderStatusDone, false},
		{"REJECTED", domain.OrderStatusRejected, false},
		{"CANCELED", domain.OrderStatusCancelled, false},
		{"EXPIRED", domain.OrderStatusCancelled, true},
		{"EXPIRED_IN_MATCH", domain.OrderStatusCancelled, true},
	}

	for _, tt := range tests {
		o := apiOrder{OrderID: 1, Symbol: "BTCUSDT", Side: "BUY", Type: "LIMIT", Status: tt.apiStatus}
		got := o.toDomain()
		if got.Status != tt.want || got.ForceRetry != tt.forceRetry {
			t.Errorf("status %s -> (%s, retry=%v), want (%s, retry=%v)",
				tt.apiStatus, got.Status, got.ForceRetry, tt.want, tt.forceRetry)
		}
	}
}

func TestRoundToStep(t *testing.T) {
	tests := []struct {
		v, step, want float64
	}{
		{97123.456, 0.1, 97123.4},
		{0.123456789, 0.001, 0.123},
		{5, 1, 5},
		{42.7, 0, 42.7}, // no filter loaded, pass through
	}
	for _, tt := range tests {
		if got := roundToStep(tt.v, tt.step); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("roundToStep(%v, %v) = %v, want %v", tt.v, tt.step, got, tt.want)
		}
	}
}

func TestLoadSymbolFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v1/exchangeInfo" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"symbols":[
			{"symbol":"BTCUSDT","filters":[{"filterType":"PRICE_FILTER","tickSize":"0.10"},{"filterType":"LOT_SIZE","stepSize":"0.001"}]},
			{"symbol":"ETHUSDT","filters":[{"filterType":"PRICE_FILTER","tickSize":"0.01"},{"filterType":"LOT_SIZE","stepSize":"0.01"}]}
		]}`))
	}))
	defer srv.Close()

	ex := New("binance", srv.URL, testAuth())
	if err := ex.LoadSymbolFilters(context.Background(), []string{"BTCUSDT"}); err != nil {
		t.Fatalf("LoadSymbolFilters: %v", err)
	}

	if got := ex.CalculatePrice(97000.17, "BTCUSDT"); math.Abs(got-97000.1) > 1e-6 {
		t.Errorf("CalculatePrice = %v, want 97000.1", got)
	}
	if got := ex.CalculateAmount(0.5009, "BTCUSDT"); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("CalculateAmount = %v, want 0.5", got)
	}
	// ETHUSDT was not requested, so it stays unfiltered.
	if got := ex.CalculatePrice(1234.5678, "ETHUSDT"); got != 1234.5678 {
		t.Errorf("unrequested symbol rounded: %v", got)
	}
}
