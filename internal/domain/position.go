package domain

import "time"

// Position is a live exchange position in hedge mode: long and short books
// can exist simultaneously on one symbol, at most one per (symbol, side).
type Position struct {
	Symbol           string  `json:"symbol"`
	Side             string  `json:"side"` // LONG or SHORT
	EntryPrice       float64 `json:"entryPrice"`
	MarkPrice        float64 `json:"markPrice"`
	Quantity         float64 `json:"quantity"`
	Leverage         int     `json:"leverage"`
	Notional         float64 `json:"notional"`
	LiquidationPrice float64 `json:"liquidationPrice"`
	UnrealizedPnL    float64 `json:"unrealizedPnl"`
}

// ProfitPct returns the signed leverage-free return relative to entry.
func (p *Position) ProfitPct() float64 {
	if p.EntryPrice <= 0 || p.MarkPrice <= 0 {
		return 0
	}
	pct := (p.MarkPrice - p.EntryPrice) / p.EntryPrice * 100
	if p.Side == "SHORT" {
		return -pct
	}
	return pct
}

// ProtectiveOrderSet tracks the exchange-side conditional orders attached to
// one position. Placement is best effort: any subset of the three order ids
// may be present. PeakPrice and RatchetTier back the local trailing logic.
type ProtectiveOrderSet struct {
	ID              string     `json:"id"`
	Symbol          string     `json:"symbol"`
	Side            string     `json:"side"`
	TPOrderID       *int64     `json:"tpOrderId,omitempty"`
	SLOrderID       *int64     `json:"slOrderId,omitempty"`
	TrailingOrderID *int64     `json:"trailingOrderId,omitempty"`
	Quantity        float64    `json:"quantity"`
	EntryPrice      float64    `json:"entryPrice"`
	TPPct           float64    `json:"tpPct"`
	SLPct           float64    `json:"slPct"`
	Leverage        int        `json:"leverage"`
	PeakPrice       float64    `json:"peakPrice"`
	RatchetTier     int        `json:"ratchetTier"`
	IsActive        bool       `json:"isActive"`
	CreatedAt       time.Time  `json:"createdAt"`
	DeactivatedAt   *time.Time `json:"deactivatedAt,omitempty"`
}

// HasExchangeOrders reports whether any exchange-side protection survived
// placement. Without them the monitor runs the full local fallback.
func (s *ProtectiveOrderSet) HasExchangeOrders() bool {
	return s.TPOrderID != nil || s.SLOrderID != nil || s.TrailingOrderID != nil
}

// OrderIDs returns the present exchange order ids.
func (s *ProtectiveOrderSet) OrderIDs() []int64 {
	var ids []int64
	for _, p := range []*int64{s.TPOrderID, s.SLOrderID, s.TrailingOrderID} {
		if p != nil {
			ids = append(ids, *p)
		}
	}
	return ids
}

// ProtectiveOrderRepository stores protective-order metadata.
type ProtectiveOrderRepository interface {
	Create(set *ProtectiveOrderSet) error
	Update(set *ProtectiveOrderSet) error
	GetActive() []*ProtectiveOrderSet
	GetActiveBySymbolSide(symbol, side string) (*ProtectiveOrderSet, bool)
	// FindByOrderID matches a push fill to the active set that owns the
	// order. Retired sets never match, so replayed fills stay inert.
	FindByOrderID(orderID int64) (*ProtectiveOrderSet, bool)
	Deactivate(id string) error
}
