package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"trading-backend/internal/domain"
)

// TradeHandler exposes the trade ledger read side.
type TradeHandler struct {
	ledger  domain.TradeLedger
	gateway domain.ExchangeGateway
}

func NewTradeHandler(ledger domain.TradeLedger, gateway domain.ExchangeGateway) *TradeHandler {
	return &TradeHandler{ledger: ledger, gateway: gateway}
}

// GetTrades handles GET /api/trades?symbol=&status=&period=1d|7d|30d&limit=
func (h *TradeHandler) GetTrades(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filter := domain.TradeFilter{
		Symbol: r.URL.Query().Get("symbol"),
		Status: domain.TradeStatus(r.URL.Query().Get("status")),
		From:   periodStart(r.URL.Query().Get("period")),
		Limit:  100,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			filter.Limit = n
		}
	}

	trades := h.ledger.Query(filter)
	if trades == nil {
		trades = make([]*domain.TradeRecord, 0)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trades)
}

// GetStatistics handles GET /api/trades/stats?period=1d|7d|30d
func (h *TradeHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := h.ledger.Statistics(periodStart(r.URL.Query().Get("period")))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// GetPositions handles GET /api/positions?symbol=
func (h *TradeHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	positions, err := h.gateway.FetchPositions(r.URL.Query().Get("symbol"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if positions == nil {
		positions = make([]domain.Position, 0)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(positions)
}

func periodStart(period string) time.Time {
	switch period {
	case "1d":
		return time.Now().Add(-24 * time.Hour)
	case "7d":
		return time.Now().Add(-7 * 24 * time.Hour)
	case "30d":
		return time.Now().Add(-30 * 24 * time.Hour)
	default:
		return time.Time{}
	}
}
