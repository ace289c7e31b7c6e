package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"trading-backend/internal/domain"
)

// Gateway is the authenticated Binance USDT-margined futures client. It
// implements domain.ExchangeGateway on top of the signed REST API.
type Gateway struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	public     *Client
}

// BinanceAPIError captures structured error info returned by Binance.
type BinanceAPIError struct {
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"msg"`
	Body       string
}

func (e *BinanceAPIError) Error() string {
	if e == nil {
		return "binance API error"
	}
	if e.Code != 0 || e.Message != "" {
		return fmt.Sprintf("binance API error %d (code=%d): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("binance API error %d: %s", e.StatusCode, e.Body)
}

func parseBinanceAPIError(statusCode int, body []byte) error {
	var parsed struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && (parsed.Code != 0 || parsed.Msg != "") {
		return &BinanceAPIError{StatusCode: statusCode, Code: parsed.Code, Message: parsed.Msg, Body: string(body)}
	}
	return &BinanceAPIError{StatusCode: statusCode, Body: string(body)}
}

// NewGateway creates an authenticated futures gateway.
func NewGateway(apiKey, secretKey string, isTestnet bool) *Gateway {
	baseURL := FapiBaseURL
	if isTestnet {
		baseURL = TestnetBaseURL
	}

	return &Gateway{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		public:     NewClient(baseURL),
	}
}

// TestConnection tests if API credentials are valid.
func (g *Gateway) TestConnection() error {
	_, err := g.FetchBalance()
	return err
}

// FetchBalance retrieves the futures wallet snapshot.
func (g *Gateway) FetchBalance() (*domain.AccountBalance, error) {
	body, err := g.signedRequest("GET", "/fapi/v2/account", nil)
	if err != nil {
		return nil, err
	}

	var acct struct {
		TotalWalletBalance    string `json:"totalWalletBalance"`
		AvailableBalance      string `json:"availableBalance"`
		TotalUnrealizedProfit string `json:"totalUnrealizedProfit"`
	}
	if err := json.Unmarshal(body, &acct); err != nil {
		return nil, err
	}

	total, _ := strconv.ParseFloat(acct.TotalWalletBalance, 64)
	available, _ := strconv.ParseFloat(acct.AvailableBalance, 64)
	unrealized, _ := strconv.ParseFloat(acct.TotalUnrealizedProfit, 64)

	return &domain.AccountBalance{
		TotalBalance:     total,
		AvailableBalance: available,
		UnrealizedPnL:    unrealized,
	}, nil
}

// FetchPositions returns all non-zero positions; empty symbol means all.
func (g *Gateway) FetchPositions(symbol string) ([]domain.Position, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}

	body, err := g.signedRequest("GET", "/fapi/v2/positionRisk", params)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Symbol           string `json:"symbol"`
		PositionSide     string `json:"positionSide"`
		PositionAmt      string `json:"positionAmt"`
		EntryPrice       string `json:"entryPrice"`
		MarkPrice        string `json:"markPrice"`
		LiquidationPrice string `json:"liquidationPrice"`
		UnRealizedProfit string `json:"unRealizedProfit"`
		Notional         string `json:"notional"`
		Leverage         string `json:"leverage"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	positions := make([]domain.Position, 0)
	for _, p := range raw {
		amt, _ := strconv.ParseFloat(p.PositionAmt, 64)
		if amt == 0 {
			continue
		}

		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
		mark, _ := strconv.ParseFloat(p.MarkPrice, 64)
		liq, _ := strconv.ParseFloat(p.LiquidationPrice, 64)
		upl, _ := strconv.ParseFloat(p.UnRealizedProfit, 64)
		notional, _ := strconv.ParseFloat(p.Notional, 64)
		leverage, _ := strconv.Atoi(p.Leverage)

		side := p.PositionSide
		if side == "" || side == "BOTH" {
			side = "LONG"
			if amt < 0 {
				side = "SHORT"
			}
		}
		if amt < 0 {
			amt = -amt
		}
		if notional < 0 {
			notional = -notional
		}

		positions = append(positions, domain.Position{
			Symbol:           p.Symbol,
			Side:             side,
			EntryPrice:       entry,
			MarkPrice:        mark,
			Quantity:         amt,
			Leverage:         leverage,
			Notional:         notional,
			LiquidationPrice: liq,
			UnrealizedPnL:    upl,
		})
	}
	return positions, nil
}

// FetchOpenOrders retrieves resting orders (or for a specific symbol).
func (g *Gateway) FetchOpenOrders(symbol string) ([]domain.OpenOrder, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}

	body, err := g.signedRequest("GET", "/fapi/v1/openOrders", params)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		OrderID   int64  `json:"orderId"`
		Symbol    string `json:"symbol"`
		Side      string `json:"side"`
		Type      string `json:"type"`
		StopPrice string `json:"stopPrice"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	orders := make([]domain.OpenOrder, 0, len(raw))
	for _, o := range raw {
		stop, _ := strconv.ParseFloat(o.StopPrice, 64)
		orders = append(orders, domain.OpenOrder{
			OrderID:   o.OrderID,
			Symbol:    o.Symbol,
			Side:      o.Side,
			Type:      o.Type,
			StopPrice: stop,
		})
	}
	return orders, nil
}

// PlaceOrder maps the abstract order onto Binance futures order types.
// Conditional orders trigger on mark price with price protection.
func (g *Gateway) PlaceOrder(req *domain.OrderRequest) (*domain.OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", req.Side)
	if req.PositionSide != "" {
		params.Set("positionSide", req.PositionSide)
	}

	switch req.Type {
	case domain.OrderMarket:
		params.Set("type", "MARKET")
		params.Set("quantity", fmt.Sprintf("%.8f", req.Quantity))
	case domain.OrderTakeProfit:
		params.Set("type", "TAKE_PROFIT_MARKET")
		params.Set("stopPrice", fmt.Sprintf("%.8f", req.StopPrice))
		params.Set("workingType", "MARK_PRICE")
		params.Set("priceProtect", "true")
	case domain.OrderStop:
		params.Set("type", "STOP_MARKET")
		params.Set("stopPrice", fmt.Sprintf("%.8f", req.StopPrice))
		params.Set("workingType", "MARK_PRICE")
		params.Set("priceProtect", "true")
	case domain.OrderTrailingStop:
		params.Set("type", "TRAILING_STOP_MARKET")
		params.Set("quantity", fmt.Sprintf("%.8f", req.Quantity))
		params.Set("callbackRate", fmt.Sprintf("%.1f", req.CallbackRate))
		params.Set("workingType", "MARK_PRICE")
	default:
		return nil, fmt.Errorf("unsupported order type: %s", req.Type)
	}

	if req.ClosePosition && req.Type != domain.OrderMarket && req.Type != domain.OrderTrailingStop {
		params.Set("closePosition", "true")
		params.Del("quantity")
	} else if req.Type != domain.OrderMarket && req.Quantity > 0 {
		params.Set("quantity", fmt.Sprintf("%.8f", req.Quantity))
	}
	if req.ReduceOnly && !req.ClosePosition && req.PositionSide == "" {
		params.Set("reduceOnly", "true")
	}

	body, err := g.signedRequest("POST", "/fapi/v1/order", params)
	if err != nil {
		// Fallback for One-way mode where positionSide must be BOTH.
		if apiErr, ok := err.(*BinanceAPIError); ok && apiErr.Code == -4061 && req.PositionSide != "BOTH" {
			params.Set("positionSide", "BOTH")
			body, err = g.signedRequest("POST", "/fapi/v1/order", params)
		}
	}
	if err != nil {
		return nil, err
	}

	var resp struct {
		OrderID     int64  `json:"orderId"`
		Status      string `json:"status"`
		ExecutedQty string `json:"executedQty"`
		AvgPrice    string `json:"avgPrice"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	executedQty, _ := strconv.ParseFloat(resp.ExecutedQty, 64)
	avgPrice, _ := strconv.ParseFloat(resp.AvgPrice, 64)

	return &domain.OrderResult{
		OrderID:       resp.OrderID,
		Status:        resp.Status,
		ExecutedQty:   executedQty,
		ExecutedPrice: avgPrice,
	}, nil
}

// CancelOrder cancels an existing order.
func (g *Gateway) CancelOrder(symbol string, orderID int64) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))

	_, err := g.signedRequest("DELETE", "/fapi/v1/order", params)
	return err
}

// SetLeverage sets the leverage for a symbol.
func (g *Gateway) SetLeverage(symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))

	_, err := g.signedRequest("POST", "/fapi/v1/leverage", params)
	return err
}

// SetMarginMode sets CROSSED or ISOLATED margin. Binance rejects a no-op
// change with code -4046; that is success for our purposes.
func (g *Gateway) SetMarginMode(symbol, mode string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("marginType", mode)

	_, err := g.signedRequest("POST", "/fapi/v1/marginType", params)
	if apiErr, ok := err.(*BinanceAPIError); ok && apiErr.Code == -4046 {
		return nil
	}
	return err
}

// MarkPrice delegates to the public client.
func (g *Gateway) MarkPrice(symbol string) (float64, error) {
	return g.public.MarkPrice(symbol)
}

// RoundPrice delegates to the exchangeInfo filters.
func (g *Gateway) RoundPrice(symbol string, price float64) float64 {
	return g.public.RoundPrice(symbol, price)
}

// RoundQuantity delegates to the exchangeInfo filters.
func (g *Gateway) RoundQuantity(symbol string, qty float64) float64 {
	return g.public.RoundQuantity(symbol, qty)
}

// Public exposes the unauthenticated client for kline/volatility sampling.
func (g *Gateway) Public() *Client {
	return g.public
}

// signedRequest makes a signed API request and returns the response body.
func (g *Gateway) signedRequest(method, endpoint string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	params.Set("timestamp", timestamp)

	queryString := params.Encode()
	params.Set("signature", g.sign(queryString))

	fullURL := g.baseURL + endpoint + "?" + params.Encode()

	req, err := http.NewRequest(method, fullURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseBinanceAPIError(resp.StatusCode, body)
	}

	return body, nil
}

// sign creates HMAC SHA256 signature.
func (g *Gateway) sign(message string) string {
	mac := hmac.New(sha256.New, []byte(g.secretKey))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// ListenKey opens a user-data-stream listen key.
func (g *Gateway) ListenKey() (string, error) {
	req, err := http.NewRequest("POST", g.baseURL+"/fapi/v1/listenKey", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-MBX-APIKEY", g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", parseBinanceAPIError(resp.StatusCode, body)
	}

	var parsed struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", err
	}
	return parsed.ListenKey, nil
}

// KeepAliveListenKey extends the listen key's validity.
func (g *Gateway) KeepAliveListenKey() error {
	req, err := http.NewRequest("PUT", g.baseURL+"/fapi/v1/listenKey", nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-MBX-APIKEY", g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		log.Printf("Binance listen key keep-alive failed: %v", parseBinanceAPIError(resp.StatusCode, body))
	}
	return nil
}

// compile-time check
var _ domain.ExchangeGateway = (*Gateway)(nil)
