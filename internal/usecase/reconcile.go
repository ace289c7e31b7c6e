package usecase

import (
	"fmt"
	"log"

	"github.com/google/uuid"

	"trading-backend/internal/domain"
	"trading-backend/internal/metrics"
	"trading-backend/internal/repository"
)

// Reconciler consumes fill events from the exchange push stream and folds
// them into the ledger. Three paths: a protective order fired, a fill for an
// order this process already recorded, or a trade nobody here initiated.
type Reconciler struct {
	ledger     domain.TradeLedger
	sets       domain.ProtectiveOrderRepository
	protection *ProtectionMonitor
	state      *repository.StateCache
	notifier   *Notifier

	doneChan chan struct{}
}

func NewReconciler(
	ledger domain.TradeLedger,
	sets domain.ProtectiveOrderRepository,
	protection *ProtectionMonitor,
	state *repository.StateCache,
	notifier *Notifier,
) *Reconciler {
	return &Reconciler{
		ledger:     ledger,
		sets:       sets,
		protection: protection,
		state:      state,
		notifier:   notifier,
		doneChan:   make(chan struct{}),
	}
}

// Run drains the event channel until it closes.
func (r *Reconciler) Run(events <-chan domain.FillEvent) {
	defer close(r.doneChan)
	for ev := range events {
		r.handle(ev)
	}
}

// Done reports drain completion after the stream channel closes.
func (r *Reconciler) Done() <-chan struct{} { return r.doneChan }

func (r *Reconciler) handle(ev domain.FillEvent) {
	if set, ok := r.sets.FindByOrderID(ev.OrderID); ok {
		r.protectiveFill(ev, set)
		return
	}

	existing, err := r.ledger.FindByOrderID(ev.OrderID)
	if err != nil {
		log.Printf("Reconciler: WARNING: lookup order %d: %v", ev.OrderID, err)
	}
	if existing != nil {
		r.mergeFill(ev, existing)
		return
	}

	r.externalTrade(ev)
}

// protectiveFill records the exit an exchange-held TP/SL/trailing order
// produced and retires the set. RealizedPnL here is the venue's own number.
func (r *Reconciler) protectiveFill(ev domain.FillEvent, set *domain.ProtectiveOrderSet) {
	trigger := triggerFromOrderType(ev.OrderType)
	realized := ev.RealizedPnL
	rec := &domain.TradeRecord{
		ID:              uuid.NewString(),
		Symbol:          ev.Symbol,
		Side:            ev.Side,
		PositionSide:    ev.PositionSide,
		Quantity:        ev.Quantity,
		Price:           ev.Price,
		QuoteAmount:     ev.Quantity * ev.Price / float64(max(set.Leverage, 1)),
		Commission:      ev.Commission,
		Status:          domain.TradeFilled,
		ExchangeOrderID: &ev.OrderID,
		RealizedPnL:     &realized,
		Source:          domain.SourceSystem,
		IsOpen:          false,
		Reason:          trigger + ": exchange-side trigger",
		CreatedAt:       ev.Time,
	}
	if err := r.ledger.UpsertByOrderID(rec); err != nil {
		log.Printf("Reconciler: WARNING: ledger write for order %d: %v", ev.OrderID, err)
	}
	r.protection.MarkClosed(set, trigger, ev.OrderID)
	metrics.FillEvent("protective")

	r.notifier.Notify(
		fmt.Sprintf("%s %s %s", trigger, ev.PositionSide, ev.Symbol),
		fmt.Sprintf("filled at %.4f, PnL %.2f USDT", ev.Price, ev.RealizedPnL),
		map[string]string{"symbol": ev.Symbol, "side": ev.PositionSide, "kind": "protection_close"},
	)
	log.Printf("Reconciler: ✅ %s fired for %s %s at %.4f pnl=%.2f",
		trigger, ev.PositionSide, ev.Symbol, ev.Price, ev.RealizedPnL)
}

// mergeFill folds authoritative fill numbers into the record the executor
// wrote at placement time. The upsert merge keeps the richer of each field.
func (r *Reconciler) mergeFill(ev domain.FillEvent, existing *domain.TradeRecord) {
	realized := ev.RealizedPnL
	rec := &domain.TradeRecord{
		ID:              existing.ID,
		Symbol:          ev.Symbol,
		Side:            ev.Side,
		PositionSide:    ev.PositionSide,
		Quantity:        ev.Quantity,
		Price:           ev.Price,
		QuoteAmount:     existing.QuoteAmount,
		Commission:      ev.Commission,
		Status:          domain.TradeFilled,
		ExchangeOrderID: &ev.OrderID,
		RealizedPnL:     &realized,
		Source:          existing.Source,
		IsOpen:          existing.IsOpen,
		Reason:          existing.Reason,
		CreatedAt:       existing.CreatedAt,
	}
	if err := r.ledger.UpsertByOrderID(rec); err != nil {
		log.Printf("Reconciler: WARNING: merge fill for order %d: %v", ev.OrderID, err)
	}
	metrics.FillEvent("merge")
}

// externalTrade records a fill this process never initiated so the history
// and the risk checks see manual interventions too.
func (r *Reconciler) externalTrade(ev domain.FillEvent) {
	realized := ev.RealizedPnL
	rec := &domain.TradeRecord{
		ID:              uuid.NewString(),
		Symbol:          ev.Symbol,
		Side:            ev.Side,
		PositionSide:    ev.PositionSide,
		Quantity:        ev.Quantity,
		Price:           ev.Price,
		Commission:      ev.Commission,
		Status:          domain.TradeFilled,
		ExchangeOrderID: &ev.OrderID,
		RealizedPnL:     &realized,
		Source:          domain.SourceExternal,
		IsOpen:          !ev.IsClose,
		Reason:          "EXTERNAL: fill not initiated by this process",
		CreatedAt:       ev.Time,
	}
	if err := r.ledger.UpsertByOrderID(rec); err != nil {
		log.Printf("Reconciler: WARNING: external trade write for order %d: %v", ev.OrderID, err)
	}
	r.state.InvalidatePositions(ev.Symbol)
	metrics.FillEvent("external")

	log.Printf("Reconciler: ⚠️ external %s %s %s qty=%.6f at %.4f order=%d",
		ev.Side, ev.PositionSide, ev.Symbol, ev.Quantity, ev.Price, ev.OrderID)
	r.notifier.Notify(
		"External trade observed",
		fmt.Sprintf("%s %s %s qty %.6f at %.4f", ev.Side, ev.PositionSide, ev.Symbol, ev.Quantity, ev.Price),
		map[string]string{"symbol": ev.Symbol, "kind": "external"},
	)
}

func triggerFromOrderType(orderType string) string {
	switch orderType {
	case "TAKE_PROFIT_MARKET", "TAKE_PROFIT":
		return "TAKE_PROFIT"
	case "STOP_MARKET", "STOP":
		return "STOP_LOSS"
	case "TRAILING_STOP_MARKET":
		return "TRAILING_STOP"
	default:
		return "EXCHANGE_CLOSE"
	}
}
