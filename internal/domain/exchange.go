package domain

import "time"

// OrderType is the abstract order kind the core needs. The gateway maps
// these onto whatever the venue calls them.
type OrderType string

const (
	OrderMarket       OrderType = "MARKET"
	OrderTakeProfit   OrderType = "TAKE_PROFIT"
	OrderStop         OrderType = "STOP"
	OrderTrailingStop OrderType = "TRAILING_STOP"
)

// OrderRequest describes one order to place.
type OrderRequest struct {
	Symbol        string
	Side          string // BUY or SELL
	PositionSide  string // LONG or SHORT (hedge mode)
	Type          OrderType
	Quantity      float64
	StopPrice     float64 // trigger price for TAKE_PROFIT / STOP
	CallbackRate  float64 // percent retrace for TRAILING_STOP
	ReduceOnly    bool
	ClosePosition bool
}

// OrderResult is the gateway's answer to a placed order.
type OrderResult struct {
	OrderID       int64
	Status        string
	ExecutedQty   float64
	ExecutedPrice float64
	Commission    float64
}

// OpenOrder is a resting order as reported by the exchange.
type OpenOrder struct {
	OrderID   int64
	Symbol    string
	Side      string
	Type      string
	StopPrice float64
}

// AccountBalance is the futures wallet snapshot.
type AccountBalance struct {
	TotalBalance     float64
	AvailableBalance float64
	UnrealizedPnL    float64
}

// FillEvent is one fill pushed by the exchange feed. RealizedPnL is zero for
// opens; IsClose mirrors the reduce-only flag on the filled order.
type FillEvent struct {
	OrderID      int64
	Symbol       string
	Side         string // BUY or SELL
	PositionSide string
	OrderType    string
	Quantity     float64
	Price        float64
	Commission   float64
	RealizedPnL  float64
	IsClose      bool
	Time         time.Time
}

// ExchangeGateway is the capability surface the core consumes. Hedge-mode
// position semantics are assumed throughout.
type ExchangeGateway interface {
	FetchBalance() (*AccountBalance, error)
	// FetchPositions returns non-zero positions; empty symbol means all.
	FetchPositions(symbol string) ([]Position, error)
	FetchOpenOrders(symbol string) ([]OpenOrder, error)
	PlaceOrder(req *OrderRequest) (*OrderResult, error)
	CancelOrder(symbol string, orderID int64) error
	SetLeverage(symbol string, leverage int) error
	SetMarginMode(symbol, mode string) error
	MarkPrice(symbol string) (float64, error)
	RoundPrice(symbol string, price float64) float64
	RoundQuantity(symbol string, qty float64) float64
}
