package binance

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	FapiBaseURL    = "https://fapi.binance.com"
	TestnetBaseURL = "https://testnet.binancefuture.com"
)

// Client handles unauthenticated futures endpoints: mark price, klines and
// the exchangeInfo precision filters used for order rounding.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu      sync.RWMutex
	filters map[string]symbolFilter
}

type symbolFilter struct {
	tickSize float64
	stepSize float64
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = FapiBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		filters:    make(map[string]symbolFilter),
	}
}

// MarkPrice returns the current mark price from the premium index endpoint.
func (c *Client) MarkPrice(symbol string) (float64, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/fapi/v1/premiumIndex?symbol=" + symbol)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("binance API error: %d", resp.StatusCode)
	}

	var idx struct {
		MarkPrice string `json:"markPrice"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&idx); err != nil {
		return 0, err
	}

	price, err := strconv.ParseFloat(idx.MarkPrice, 64)
	if err != nil {
		return 0, err
	}
	return price, nil
}

// GetKlines fetches candles and returns highs, lows and closes oldest-first.
func (c *Client) GetKlines(symbol, interval string, limit int) (highs, lows, closes []float64, err error) {
	url := fmt.Sprintf("%s/fapi/v1/klines?symbol=%s&interval=%s&limit=%d", c.baseURL, symbol, interval, limit)
	resp, err := c.httpClient.Get(url)
	if err != nil {
		return nil, nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, nil, fmt.Errorf("binance API error: %d", resp.StatusCode)
	}

	// Kline rows are heterogeneous arrays: [openTime, open, high, low, close, ...]
	var raw [][]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, nil, nil, err
	}

	for _, k := range raw {
		if len(k) < 5 {
			continue
		}
		h, _ := strconv.ParseFloat(fmt.Sprint(k[2]), 64)
		l, _ := strconv.ParseFloat(fmt.Sprint(k[3]), 64)
		cl, _ := strconv.ParseFloat(fmt.Sprint(k[4]), 64)
		highs = append(highs, h)
		lows = append(lows, l)
		closes = append(closes, cl)
	}
	return highs, lows, closes, nil
}

// RoundPrice floors price to the symbol's tick size.
func (c *Client) RoundPrice(symbol string, price float64) float64 {
	f := c.filter(symbol)
	if f.tickSize <= 0 {
		return price
	}
	return math.Floor(price/f.tickSize) * f.tickSize
}

// RoundQuantity floors qty to the symbol's lot step size.
func (c *Client) RoundQuantity(symbol string, qty float64) float64 {
	f := c.filter(symbol)
	if f.stepSize <= 0 {
		return math.Floor(qty*1000) / 1000 // 0.001 baseline when filters are unavailable
	}
	return math.Floor(qty/f.stepSize) * f.stepSize
}

func (c *Client) filter(symbol string) symbolFilter {
	c.mu.RLock()
	f, ok := c.filters[symbol]
	c.mu.RUnlock()
	if ok {
		return f
	}

	if err := c.loadFilters(); err != nil {
		return symbolFilter{}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filters[symbol]
}

func (c *Client) loadFilters() error {
	resp, err := c.httpClient.Get(c.baseURL + "/fapi/v1/exchangeInfo")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("binance API error: %d", resp.StatusCode)
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
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range info.Symbols {
		var f symbolFilter
		for _, fl := range s.Filters {
			switch fl.FilterType {
			case "PRICE_FILTER":
				f.tickSize, _ = strconv.ParseFloat(fl.TickSize, 64)
			case "LOT_SIZE":
				f.stepSize, _ = strconv.ParseFloat(fl.StepSize, 64)
			}
		}
		c.filters[s.Symbol] = f
	}
	return nil
}
