// Package binance implements the domain.Exchange adapter for the Binance
// USDT-margined futures REST API. Requests are signed with HMAC-SHA256 query
// signatures (see internal/crypto). Post-only limit orders use timeInForce
// GTX; Binance expires such orders immediately when they would cross the
// book, which the adapter reports as a retryable cancellation.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/pairbot/internal/crypto"
	"github.com/alanyoungcy/pairbot/internal/domain"
)

// DefaultBaseURL is the production USDT-M futures REST endpoint.
const DefaultBaseURL = "https://fapi.binance.com"

// Exchange is the Binance futures REST adapter.
type Exchange struct {
	name       string
	baseURL    string
	httpClient *http.Client
	auth       *crypto.HMACAuth

	mu sync.RWMutex
	// symbol filters from exchangeInfo, keyed by symbol
	filters map[string]symbolFilter
	// order id -> symbol, needed because Binance order queries require the
	// symbol alongside the id
	orderSymbols map[string]string
}

type symbolFilter struct {
	tickSize float64
	stepSize float64
}

// New creates the adapter. name is the registry key (normally "binance"),
// baseURL may be empty for the production endpoint.
func New(name, baseURL string, auth *crypto.HMACAuth) *Exchange {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Exchange{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		auth:         auth,
		filters:      make(map[string]symbolFilter),
		orderSymbols: make(map[string]string),
	}
}

// Name implements domain.Exchange.
func (e *Exchange) Name() string { return e.name }

// LoadSymbolFilters fetches exchangeInfo and caches the tick-size and
// lot-size filters for the given symbols. Call once at startup; rounding
// falls back to raw values for symbols without a cached filter.
func (e *Exchange) LoadSymbolFilters(ctx context.Context, symbols []string) error {
	respBody, err := e.doPublicRequest(ctx, "/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return fmt.Errorf("binance: exchange info: %w", err)
	}

	var info struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType string `json:"filterType"`
				TickSize   string `json:"tickSize"`
				StepSize   string `json:"stepSize"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(respBody, &info); err != nil {
		return fmt.Errorf("binance: decode exchange info: %w", err)
	}

	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		wanted[s] = true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range info.Symbols {
		if len(wanted) > 0 && !wanted[s.Symbol] {
			continue
		}
		var f symbolFilter
		for _, flt := range s.Filters {
			switch flt.FilterType {
			case "PRICE_FILTER":
				f.tickSize, _ = strconv.ParseFloat(flt.TickSize, 64)
			case "LOT_SIZE":
				f.stepSize, _ = strconv.ParseFloat(flt.StepSize, 64)
			}
		}
		e.filters[s.Symbol] = f
	}
	return nil
}

// GetPositions implements domain.Exchange. Flat symbols (zero position
// amount) are filtered out.
func (e *Exchange) GetPositions(ctx context.Context) ([]domain.Position, error) {
	respBody, err := e.doSignedRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", nil)
	if err != nil {
		return nil, fmt.Errorf("binance: get positions: %w", err)
	}

	var apiPositions []apiPosition
	if err := json.Unmarshal(respBody, &apiPositions); err != nil {
		return nil, fmt.Errorf("binance: decode positions: %w", err)
	}

	var out []domain.Position
	for _, p := range apiPositions {
		pos := p.toDomain()
		if pos.Amount == 0 {
			continue
		}
		out = append(out, pos)
	}
	return out, nil
}

// GetPositionForSymbol implements domain.Exchange. A nil position with nil
// error means no exposure.
func (e *Exchange) GetPositionForSymbol(ctx context.Context, symbol string) (*domain.Position, error) {
	q := url.Values{"symbol": {symbol}}
	respBody, err := e.doSignedRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", q)
	if err != nil {
		return nil, fmt.Errorf("binance: get position %s: %w", symbol, err)
	}

	var apiPositions []apiPosition
	if err := json.Unmarshal(respBody, &apiPositions); err != nil {
		return nil, fmt.Errorf("binance: decode position: %w", err)
	}
	for _, p := range apiPositions {
		pos := p.toDomain()
		if pos.Symbol == symbol && pos.Amount != 0 {
			return &pos, nil
		}
	}
	return nil, nil
}

// GetOrdersForSymbol implements domain.Exchange, returning live orders only.
func (e *Exchange) GetOrdersForSymbol(ctx context.Context, symbol string) ([]domain.ExchangeOrder, error) {
	q := url.Values{"symbol": {symbol}}
	respBody, err := e.doSignedRequest(ctx, http.MethodGet, "/fapi/v1/openOrders", q)
	if err != nil {
		return nil, fmt.Errorf("binance: open orders %s: %w", symbol, err)
	}

	var apiOrders []apiOrder
	if err := json.Unmarshal(respBody, &apiOrders); err != nil {
		return nil, fmt.Errorf("binance: decode open orders: %w", err)
	}

	out := make([]domain.ExchangeOrder, 0, len(apiOrders))
	for _, o := range apiOrders {
		out = append(out, o.toDomain())
		e.rememberOrder(o.idString(), o.Symbol)
	}
	return out, nil
}

// FindOrderByID implements domain.Exchange. Binance requires the symbol
// alongside the order id, so the adapter only resolves ids it has seen
// itself (placed or listed); unknown ids report domain.ErrNotFound.
func (e *Exchange) FindOrderByID(ctx context.Context, id string) (*domain.ExchangeOrder, error) {
	symbol := e.symbolForOrder(id)
	if symbol == "" {
		return nil, fmt.Errorf("binance: order %s: %w", id, domain.ErrNotFound)
	}

	q := url.Values{"symbol": {symbol}, "orderId": {id}}
	respBody, err := e.doSignedRequest(ctx, http.MethodGet, "/fapi/v1/order", q)
	if err != nil {
		if isUnknownOrder(err) {
			return nil, fmt.Errorf("binance: order %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("binance: get order %s: %w", id, err)
	}

	var o apiOrder
	if err := json.Unmarshal(respBody, &o); err != nil {
		return nil, fmt.Errorf("binance: decode order: %w", err)
	}
	ord := o.toDomain()
	return &ord, nil
}

// Order implements domain.Exchange.
func (e *Exchange) Order(ctx context.Context, order domain.Order) (*domain.ExchangeOrder, error) {
	q := url.Values{
		"symbol":   {order.Symbol},
		"side":     {apiSide(order.Side)},
		"quantity": {formatFloat(e.CalculateAmount(order.Amount, order.Symbol))},
	}
	if order.ClientID != "" {
		q.Set("newClientOrderId", order.ClientID)
	}

	switch order.Kind {
	case domain.OrderKindMarket:
		q.Set("type", "MARKET")
	default:
		q.Set("type", "LIMIT")
		q.Set("price", formatFloat(e.CalculatePrice(order.Price, order.Symbol)))
		if order.PostOnly {
			q.Set("timeInForce", "GTX")
		} else {
			q.Set("timeInForce", "GTC")
		}
	}

	respBody, err := e.doSignedRequest(ctx, http.MethodPost, "/fapi/v1/order", q)
	if err != nil {
		return nil, fmt.Errorf("binance: place order %s %s: %w", order.Symbol, order.Side, err)
	}

	var o apiOrder
	if err := json.Unmarshal(respBody, &o); err != nil {
		return nil, fmt.Errorf("binance: decode order result: %w", err)
	}
	e.rememberOrder(o.idString(), o.Symbol)
	ord := o.toDomain()
	return &ord, nil
}

// UpdateOrder implements domain.Exchange via the order-modify endpoint.
// Binance requires side, quantity, and price on modify, so zero patch fields
// are filled from the live order first.
func (e *Exchange) UpdateOrder(ctx context.Context, id string, patch domain.OrderUpdate) (*domain.ExchangeOrder, error) {
	current, err := e.FindOrderByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("binance: update order %s: %w", id, err)
	}

	price := patch.Price
	if price == 0 {
		price = current.Price
	}
	amount := patch.Amount
	if amount == 0 {
		amount = current.Amount
	}

	q := url.Values{
		"symbol":   {current.Symbol},
		"orderId":  {id},
		"side":     {apiSide(current.Side)},
		"quantity": {formatFloat(e.CalculateAmount(amount, current.Symbol))},
		"price":    {formatFloat(e.CalculatePrice(price, current.Symbol))},
	}
	respBody, err := e.doSignedRequest(ctx, http.MethodPut, "/fapi/v1/order", q)
	if err != nil {
		return nil, fmt.Errorf("binance: modify order %s: %w", id, err)
	}

	var o apiOrder
	if err := json.Unmarshal(respBody, &o); err != nil {
		return nil, fmt.Errorf("binance: decode modify result: %w", err)
	}
	e.rememberOrder(o.idString(), o.Symbol)
	ord := o.toDomain()
	return &ord, nil
}

// CancelOrder implements domain.Exchange. Cancelling an already-gone order
// reports domain.ErrNotFound.
func (e *Exchange) CancelOrder(ctx context.Context, id string) (*domain.ExchangeOrder, error) {
	symbol := e.symbolForOrder(id)
	if symbol == "" {
		return nil, fmt.Errorf("binance: cancel order %s: %w", id, domain.ErrNotFound)
	}

	q := url.Values{"symbol": {symbol}, "orderId": {id}}
	respBody, err := e.doSignedRequest(ctx, http.MethodDelete, "/fapi/v1/order", q)
	if err != nil {
		if isUnknownOrder(err) {
			return nil, fmt.Errorf("binance: cancel order %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("binance: cancel order %s: %w", id, err)
	}

	var o apiOrder
	if err := json.Unmarshal(respBody, &o); err != nil {
		return nil, fmt.Errorf("binance: decode cancel result: %w", err)
	}
	ord := o.toDomain()
	return &ord, nil
}

// CancelAll implements domain.Exchange. The bulk endpoint does not echo the
// cancelled orders, so they are listed first and returned with the
// cancelled status stamped on.
func (e *Exchange) CancelAll(ctx context.Context, symbol string) ([]domain.ExchangeOrder, error) {
	open, err := e.GetOrdersForSymbol(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("binance: cancel all %s: %w", symbol, err)
	}

	q := url.Values{"symbol": {symbol}}
	if _, err := e.doSignedRequest(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", q); err != nil {
		return nil, fmt.Errorf("binance: cancel all %s: %w", symbol, err)
	}

	for i := range open {
		open[i].Status = domain.OrderStatusCancelled
	}
	return open, nil
}

// CalculateAmount implements domain.Exchange, flooring to the lot step.
func (e *Exchange) CalculateAmount(amount float64, symbol string) float64 {
	e.mu.RLock()
	f := e.filters[symbol]
	e.mu.RUnlock()
	return roundToStep(amount, f.stepSize)
}

// CalculatePrice implements domain.Exchange, flooring to the tick size.
func (e *Exchange) CalculatePrice(price float64, symbol string) float64 {
	e.mu.RLock()
	f := e.filters[symbol]
	e.mu.RUnlock()
	return roundToStep(price, f.tickSize)
}

// GetTradableBalance implements domain.TradableBalanceProvider with the
// available USDT futures balance.
func (e *Exchange) GetTradableBalance(ctx context.Context) (float64, error) {
	respBody, err := e.doSignedRequest(ctx, http.MethodGet, "/fapi/v2/balance", nil)
	if err != nil {
		return 0, fmt.Errorf("binance: get balance: %w", err)
	}

	var balances []struct {
		Asset            string `json:"asset"`
		AvailableBalance string `json:"availableBalance"`
	}
	if err := json.Unmarshal(respBody, &balances); err != nil {
		return 0, fmt.Errorf("binance: decode balance: %w", err)
	}
	for _, b := range balances {
		if b.Asset == "USDT" {
			v, err := strconv.ParseFloat(b.AvailableBalance, 64)
			if err != nil {
				return 0, fmt.Errorf("binance: parse balance %q: %w", b.AvailableBalance, err)
			}
			return v, nil
		}
	}
	return 0, fmt.Errorf("binance: get balance: %w", domain.ErrNoBalance)
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (e *Exchange) rememberOrder(id, symbol string) {
	if id == "" {
		return
	}
	e.mu.Lock()
	e.orderSymbols[id] = symbol
	e.mu.Unlock()
}

func (e *Exchange) symbolForOrder(id string) string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.orderSymbols[id]
}

// doSignedRequest signs the query per Binance rules and sends the request.
// Signed futures endpoints take all parameters in the query string, body-free.
func (e *Exchange) doSignedRequest(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	query := ""
	if params != nil {
		query = params.Encode()
	}
	signed := e.auth.SignQuery(query)

	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path+"?"+signed, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range e.auth.Headers() {
		req.Header.Set(k, v)
	}

	return e.do(req)
}

func (e *Exchange) doPublicRequest(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := e.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return e.do(req)
}

func (e *Exchange) do(req *http.Request) ([]byte, error) {
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newAPIError(resp.StatusCode, respBody)
	}
	return respBody, nil
}

// apiError carries the Binance error code so callers can map well-known
// codes onto domain sentinels.
type apiError struct {
	HTTPStatus int
	Code       int    `json:"code"`
	Msg        string `json:"msg"`
}

func newAPIError(status int, body []byte) *apiError {
	e := &apiError{HTTPStatus: status}
	if err := json.Unmarshal(body, e); err != nil {
		e.Msg = string(body)
	}
	return e
}

func (e *apiError) Error() string {
	return fmt.Sprintf("HTTP %d code %d: %s", e.HTTPStatus, e.Code, e.Msg)
}

// isUnknownOrder reports the -2011 "Unknown order sent" and -2013 "Order
// does not exist" API codes.
func isUnknownOrder(err error) bool {
	var api *apiError
	if !errors.As(err, &api) {
		return false
	}
	return api.Code == -2011 || api.Code == -2013
}

func apiSide(s domain.Side) string {
	if s == domain.SideShort {
		return "SELL"
	}
	return "BUY"
}

// roundToStep floors v to a multiple of step. A zero step passes v through.
func roundToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	steps := int64(v / step)
	return float64(steps) * step
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// --------------------------------------------------------------------------
// API payload types
// --------------------------------------------------------------------------

type apiPosition struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	Notional         string `json:"notional"`
	UpdateTime       int64  `json:"updateTime"`
}

func (p apiPosition) toDomain() domain.Position {
	amount, _ := strconv.ParseFloat(p.PositionAmt, 64)
	entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
	pos := domain.NewPosition(p.Symbol, amount, entry, time.UnixMilli(p.UpdateTime).UTC())

	pnl, _ := strconv.ParseFloat(p.UnRealizedProfit, 64)
	notional, _ := strconv.ParseFloat(p.Notional, 64)
	if notional != 0 {
		pos.UnrealizedPnLPercent = pnl / notional * 100
	}
	return pos
}

type apiOrder struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	Status        string `json:"status"`
	Time          int64  `json:"time"`
	UpdateTime    int64  `json:"updateTime"`
}

func (o apiOrder) idString() string {
	return strconv.FormatInt(o.OrderID, 10)
}

func (o apiOrder) toDomain() domain.ExchangeOrder {
	price, _ := strconv.ParseFloat(o.Price, 64)
	amount, _ := strconv.ParseFloat(o.OrigQty, 64)

	side := domain.SideLong
	if o.Side == "SELL" {
		side = domain.SideShort
	}

	kind := domain.OrderKindLimit
	switch o.Type {
	case "MARKET":
		kind = domain.OrderKindMarket
	case "STOP", "STOP_MARKET":
		kind = domain.OrderKindStop
	}

	ord := domain.ExchangeOrder{
		ID:     o.idString(),
		Symbol: o.Symbol,
		Side:   side,
		Price:  price,
		Amount: amount,
		Kind:   kind,
	}

	created := o.Time
	if created == 0 {
		created = o.UpdateTime
	}
	if created != 0 {
		ord.CreatedAt = time.UnixMilli(created).UTC()
	}

	switch o.Status {
	case "NEW", "PARTIALLY_FILLED":
		ord.Status = domain.OrderStatusOpen
	case "FILLED":
		ord.Status = domain.OrderStatusDone
	case "REJECTED":
		ord.Status = domain.OrderStatusRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		// GTX orders that would cross the spread expire on arrival; the
		// engine treats that as a retryable placement failure.
		ord.Status = domain.OrderStatusCancelled
		ord.ForceRetry = true
	default:
		ord.Status = domain.OrderStatusCancelled
	}
	return ord
}

// Compile-time interface checks.
var (
	_ domain.Exchange                = (*Exchange)(nil)
	_ domain.TradableBalanceProvider = (*Exchange)(nil)
)
