package domain

import "time"

// TradeStatus of a ledger row.
type TradeStatus string

const (
	TradePending TradeStatus = "pending"
	TradeFilled  TradeStatus = "filled"
	TradeFailed  TradeStatus = "failed"
	TradeSkipped TradeStatus = "skipped"
)

// TradeSource distinguishes locally-initiated actions from trades that were
// observed on the exchange but never initiated here (manual intervention).
type TradeSource string

const (
	SourceSystem   TradeSource = "system"
	SourceExternal TradeSource = "external"
)

// TradeRecord is one row of the append-mostly trade ledger. ExchangeOrderID
// is the sole de-duplication key across every code path that might observe
// the same fill (executor, push reconciler, sweep).
type TradeRecord struct {
	ID              string      `json:"id"`
	Symbol          string      `json:"symbol"`
	Side            string      `json:"side"`         // BUY or SELL
	PositionSide    string      `json:"positionSide"` // LONG or SHORT
	Quantity        float64     `json:"quantity"`
	Price           float64     `json:"price"`
	QuoteAmount     float64     `json:"quoteAmount"`
	Commission      float64     `json:"commission"`
	Status          TradeStatus `json:"status"`
	ExchangeOrderID *int64      `json:"exchangeOrderId,omitempty"`
	RealizedPnL     *float64    `json:"realizedPnl,omitempty"`
	Source          TradeSource `json:"source"`
	IsOpen          bool        `json:"isOpen"` // true when the record opened exposure
	Reason          string      `json:"reason"` // audit note: skip reason, trigger reason, gate note
	CreatedAt       time.Time   `json:"createdAt"`
}

// TradeFilter narrows ledger queries for the downstream boundary.
type TradeFilter struct {
	Symbol string
	Status TradeStatus
	From   time.Time
	Limit  int
}

// TradeStatistics summarizes closed trades since a point in time.
type TradeStatistics struct {
	TotalTrades int     `json:"totalTrades"`
	WinRate     float64 `json:"winRate"`
	TotalPnL    float64 `json:"totalPnl"`
	AvgDuration int     `json:"avgDurationSeconds"`
}

// TradeLedger is the durable trade history. Read paths degrade to empty
// results on storage trouble; writes surface their errors.
type TradeLedger interface {
	Insert(rec *TradeRecord) error
	// UpsertByOrderID merges with any prior record carrying the same
	// exchange order id instead of duplicating it.
	UpsertByOrderID(rec *TradeRecord) error
	FindByOrderID(orderID int64) (*TradeRecord, error)
	Query(f TradeFilter) []*TradeRecord
	// RecentClosed returns filled close records for symbol+positionSide,
	// newest first. Empty symbol or positionSide matches everything.
	RecentClosed(symbol, positionSide string, limit int) []*TradeRecord
	// LastOpen returns the newest filled open record for symbol+positionSide
	// that is not yet followed by a close on that side.
	LastOpen(symbol, positionSide string) (*TradeRecord, bool)
	OpenedNotionalSince(from time.Time) float64
	OpenedCountSince(from time.Time) int
	RealizedPnLSince(from time.Time) float64
	Statistics(from time.Time) TradeStatistics
}
