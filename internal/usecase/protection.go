package usecase

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"trading-backend/internal/domain"
	"trading-backend/internal/metrics"
	"trading-backend/internal/repository"
)

const (
	protectionJobID = "protection-scan"
	sweepJobID      = "ledger-sweep"
)

// ProtectionMonitor attaches exchange-side protective orders to every
// position the executor opens and runs a periodic scan that ratchets stops,
// enforces holding-time limits and falls back to local trigger evaluation
// when the venue rejected the conditional orders.
type ProtectionMonitor struct {
	cfg      domain.Config
	gateway  domain.ExchangeGateway
	ledger   domain.TradeLedger
	sets     domain.ProtectiveOrderRepository
	state    *repository.StateCache
	locks    domain.JobLockRepository
	notifier *Notifier

	holder   string
	stopChan chan struct{}
	doneChan chan struct{}
}

func NewProtectionMonitor(
	cfg domain.Config,
	gateway domain.ExchangeGateway,
	ledger domain.TradeLedger,
	sets domain.ProtectiveOrderRepository,
	state *repository.StateCache,
	locks domain.JobLockRepository,
	notifier *Notifier,
) *ProtectionMonitor {
	return &ProtectionMonitor{
		cfg:      cfg,
		gateway:  gateway,
		ledger:   ledger,
		sets:     sets,
		state:    state,
		locks:    locks,
		notifier: notifier,
		holder:   "protection-" + uuid.NewString()[:8],
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Run drives the scan and sweep loops until Stop. Each cycle takes a
// short-TTL job lock so overlapping instances do not double-fire.
func (m *ProtectionMonitor) Run() {
	defer close(m.doneChan)
	scanTicker := time.NewTicker(m.cfg.ProtectionInterval)
	sweepTicker := time.NewTicker(m.cfg.SweepInterval)
	defer scanTicker.Stop()
	defer sweepTicker.Stop()
	log.Printf("Protection: monitor started, scan every %s, sweep every %s",
		m.cfg.ProtectionInterval, m.cfg.SweepInterval)

	for {
		select {
		case <-m.stopChan:
			return
		case <-scanTicker.C:
			if m.locks.Acquire(protectionJobID, m.holder, m.cfg.JobLockTTL) {
				m.scan()
				m.locks.Release(protectionJobID, m.holder)
			}
		case <-sweepTicker.C:
			if m.locks.Acquire(sweepJobID, m.holder, m.cfg.JobLockTTL) {
				m.sweep()
				m.locks.Release(sweepJobID, m.holder)
			}
		}
	}
}

func (m *ProtectionMonitor) Stop() {
	close(m.stopChan)
	<-m.doneChan
}

// Attach places the TP, SL and trailing orders for a freshly filled position
// and records the set. Each placement is independent; whatever subset the
// venue accepts is kept and the monitor covers the rest locally.
func (m *ProtectionMonitor) Attach(symbol, side string, qty, entryPrice float64) {
	var tpPrice, slPrice float64
	if side == "LONG" {
		tpPrice = entryPrice * (1 + m.cfg.TakeProfitPct/100)
		slPrice = entryPrice * (1 - m.cfg.StopLossPct/100)
	} else {
		tpPrice = entryPrice * (1 - m.cfg.TakeProfitPct/100)
		slPrice = entryPrice * (1 + m.cfg.StopLossPct/100)
	}

	closeSide := "SELL"
	if side == "SHORT" {
		closeSide = "BUY"
	}

	set := &domain.ProtectiveOrderSet{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Side:       side,
		Quantity:   qty,
		EntryPrice: entryPrice,
		TPPct:      m.cfg.TakeProfitPct,
		SLPct:      m.cfg.StopLossPct,
		Leverage:   m.cfg.Leverage,
		PeakPrice:  entryPrice,
		IsActive:   true,
		CreatedAt:  time.Now(),
	}

	if res, err := m.gateway.PlaceOrder(&domain.OrderRequest{
		Symbol:        symbol,
		Side:          closeSide,
		PositionSide:  side,
		Type:          domain.OrderTakeProfit,
		StopPrice:     m.gateway.RoundPrice(symbol, tpPrice),
		ClosePosition: true,
	}); err != nil {
		log.Printf("Protection: WARNING: TP order %s %s: %v", symbol, side, err)
	} else {
		set.TPOrderID = &res.OrderID
		metrics.OrderPlaced("TAKE_PROFIT", "protect")
	}

	if res, err := m.gateway.PlaceOrder(&domain.OrderRequest{
		Symbol:        symbol,
		Side:          closeSide,
		PositionSide:  side,
		Type:          domain.OrderStop,
		StopPrice:     m.gateway.RoundPrice(symbol, slPrice),
		ClosePosition: true,
	}); err != nil {
		log.Printf("Protection: WARNING: SL order %s %s: %v", symbol, side, err)
	} else {
		set.SLOrderID = &res.OrderID
		metrics.OrderPlaced("STOP", "protect")
	}

	if res, err := m.gateway.PlaceOrder(&domain.OrderRequest{
		Symbol:       symbol,
		Side:         closeSide,
		PositionSide: side,
		Type:         domain.OrderTrailingStop,
		Quantity:     m.gateway.RoundQuantity(symbol, qty),
		CallbackRate: m.cfg.TrailingCallbackPct,
		ReduceOnly:   true,
	}); err != nil {
		log.Printf("Protection: WARNING: trailing order %s %s: %v", symbol, side, err)
	} else {
		set.TrailingOrderID = &res.OrderID
		metrics.OrderPlaced("TRAILING_STOP", "protect")
	}

	if !set.HasExchangeOrders() {
		log.Printf("Protection: ⚠️ %s %s has no exchange-side protection, local fallback active", symbol, side)
	}
	if err := m.sets.Create(set); err != nil {
		log.Printf("Protection: CRITICAL: persist protective set %s %s: %v", symbol, side, err)
	}
}

// Detach cancels the resting protective orders for a position something else
// just closed and retires the set.
func (m *ProtectionMonitor) Detach(symbol, side string) {
	set, ok := m.sets.GetActiveBySymbolSide(symbol, side)
	if !ok {
		return
	}
	m.cancelSiblings(set, 0)
	if err := m.sets.Deactivate(set.ID); err != nil {
		log.Printf("Protection: WARNING: deactivate set %s: %v", set.ID, err)
	}
}

// MarkClosed retires the set after an exchange-side protective order filled,
// updating the stop-loss streak from the trigger kind.
func (m *ProtectionMonitor) MarkClosed(set *domain.ProtectiveOrderSet, trigger string, filledOrderID int64) {
	m.cancelSiblings(set, filledOrderID)
	if err := m.sets.Deactivate(set.ID); err != nil {
		log.Printf("Protection: WARNING: deactivate set %s: %v", set.ID, err)
	}
	m.applyStreak(set.Symbol, trigger)
	m.state.InvalidatePositions(set.Symbol)
	metrics.ProtectionClose(trigger)
}

func (m *ProtectionMonitor) scan() {
	positions, err := m.gateway.FetchPositions("")
	if err != nil {
		log.Printf("Protection: WARNING: scan position fetch: %v", err)
		return
	}
	metrics.SetOpenPositions(len(positions))
	metrics.SetRealizedPnLToday(m.ledger.RealizedPnLSince(startOfDay(time.Now())))

	for i := range positions {
		m.evaluate(&positions[i])
	}
}

func (m *ProtectionMonitor) evaluate(pos *domain.Position) {
	set, ok := m.sets.GetActiveBySymbolSide(pos.Symbol, pos.Side)
	if !ok {
		// Position without a set: adopted externally or persistence failed at
		// open. Track it locally so it is never unprotected.
		log.Printf("Protection: ⚠️ adopting untracked %s %s position", pos.Symbol, pos.Side)
		set = &domain.ProtectiveOrderSet{
			ID:         uuid.NewString(),
			Symbol:     pos.Symbol,
			Side:       pos.Side,
			Quantity:   pos.Quantity,
			EntryPrice: pos.EntryPrice,
			TPPct:      m.cfg.TakeProfitPct,
			SLPct:      m.cfg.StopLossPct,
			Leverage:   pos.Leverage,
			PeakPrice:  pos.MarkPrice,
			IsActive:   true,
			CreatedAt:  time.Now(),
		}
		if err := m.sets.Create(set); err != nil {
			log.Printf("Protection: WARNING: persist adopted set: %v", err)
		}
	}

	if m.updatePeak(set, pos.MarkPrice) {
		if err := m.sets.Update(set); err != nil {
			log.Printf("Protection: WARNING: persist peak %s: %v", set.ID, err)
		}
	}

	profit := pos.ProfitPct()
	held := time.Since(set.CreatedAt)

	// Holding-time limits apply in both modes.
	if held > m.cfg.MaxHold && profit <= 0 {
		m.closeWithReason(pos, set, "TIMEOUT",
			fmt.Sprintf("held %s without profit", held.Round(time.Minute)))
		return
	}
	if held > m.cfg.WeakHold && profit > 0 && profit < m.cfg.WeakProfitPct {
		m.closeWithReason(pos, set, "WEAK_TIMEOUT",
			fmt.Sprintf("held %s at %.2f%%, recycling capital", held.Round(time.Minute), profit))
		return
	}

	if set.HasExchangeOrders() {
		m.ratchet(pos, set, profit)
		return
	}
	m.localFallback(pos, set, profit, held)
}

func (m *ProtectionMonitor) updatePeak(set *domain.ProtectiveOrderSet, mark float64) bool {
	if mark <= 0 {
		return false
	}
	if set.Side == "LONG" && mark > set.PeakPrice {
		set.PeakPrice = mark
		return true
	}
	if set.Side == "SHORT" && (set.PeakPrice == 0 || mark < set.PeakPrice) {
		set.PeakPrice = mark
		return true
	}
	return false
}

// ratchetTiers maps profit reached to the stop level it locks in, both in
// percent relative to entry. Walked highest first.
var ratchetTiers = []struct {
	profitPct float64
	stopPct   float64 // positive locks profit, zero is breakeven
}{
	{1.5, 0.8},
	{1.0, 0.0},
}

// ratchet tightens the exchange-side stop as profit accrues. The old stop is
// cancelled only after the replacement is live.
func (m *ProtectionMonitor) ratchet(pos *domain.Position, set *domain.ProtectiveOrderSet, profit float64) {
	for i, tier := range ratchetTiers {
		tierNo := len(ratchetTiers) - i
		if profit < tier.profitPct || set.RatchetTier >= tierNo {
			continue
		}

		stopPrice := set.EntryPrice * (1 + tier.stopPct/100)
		if set.Side == "SHORT" {
			stopPrice = set.EntryPrice * (1 - tier.stopPct/100)
		}
		closeSide := "SELL"
		if set.Side == "SHORT" {
			closeSide = "BUY"
		}

		res, err := m.gateway.PlaceOrder(&domain.OrderRequest{
			Symbol:        set.Symbol,
			Side:          closeSide,
			PositionSide:  set.Side,
			Type:          domain.OrderStop,
			StopPrice:     m.gateway.RoundPrice(set.Symbol, stopPrice),
			ClosePosition: true,
		})
		if err != nil {
			log.Printf("Protection: WARNING: ratchet stop %s %s: %v", set.Symbol, set.Side, err)
			return
		}
		metrics.OrderPlaced("STOP", "ratchet")

		if set.SLOrderID != nil {
			if err := m.gateway.CancelOrder(set.Symbol, *set.SLOrderID); err != nil {
				log.Printf("Protection: WARNING: cancel superseded stop %d: %v", *set.SLOrderID, err)
			}
		}
		set.SLOrderID = &res.OrderID
		set.RatchetTier = tierNo
		if err := m.sets.Update(set); err != nil {
			log.Printf("Protection: WARNING: persist ratchet %s: %v", set.ID, err)
		}
		log.Printf("Protection: 🔒 %s %s ratcheted to tier %d, stop at %.4f (profit %.2f%%)",
			set.Symbol, set.Side, tierNo, stopPrice, profit)
		return
	}
}

// localFallback evaluates the triggers the venue is not holding for us.
// The stop threshold is doubled inside the minimum holding window so entry
// noise does not stop the position out immediately.
func (m *ProtectionMonitor) localFallback(pos *domain.Position, set *domain.ProtectiveOrderSet, profit float64, held time.Duration) {
	if profit >= set.TPPct {
		m.closeWithReason(pos, set, "TAKE_PROFIT", fmt.Sprintf("profit %.2f%%", profit))
		return
	}

	slThreshold := set.SLPct
	if held < m.cfg.MinHold {
		slThreshold *= 2
	}
	if profit <= -slThreshold {
		m.closeWithReason(pos, set, "STOP_LOSS", fmt.Sprintf("loss %.2f%%", profit))
		return
	}

	// Trailing from peak once the position has been meaningfully in profit.
	peakProfit := peakProfitPct(set)
	if peakProfit >= 1.0 {
		callback := m.cfg.TrailingCallbackPct
		if peakProfit >= 2.0 {
			callback = m.cfg.TrailingCallbackPct / 2
		}
		if peakProfit-profit >= callback {
			m.closeWithReason(pos, set, "TRAILING_STOP",
				fmt.Sprintf("retraced %.2f%% from peak %.2f%%", peakProfit-profit, peakProfit))
		}
	}
}

func peakProfitPct(set *domain.ProtectiveOrderSet) float64 {
	if set.EntryPrice <= 0 || set.PeakPrice <= 0 {
		return 0
	}
	pct := (set.PeakPrice - set.EntryPrice) / set.EntryPrice * 100
	if set.Side == "SHORT" {
		return -pct
	}
	return pct
}

// closeWithReason market-closes the position, records the trade, retires the
// set and updates the stop-loss streak.
func (m *ProtectionMonitor) closeWithReason(pos *domain.Position, set *domain.ProtectiveOrderSet, trigger, detail string) {
	closeSide := "SELL"
	if pos.Side == "SHORT" {
		closeSide = "BUY"
	}
	result, err := m.gateway.PlaceOrder(&domain.OrderRequest{
		Symbol:       pos.Symbol,
		Side:         closeSide,
		PositionSide: pos.Side,
		Type:         domain.OrderMarket,
		Quantity:     m.gateway.RoundQuantity(pos.Symbol, pos.Quantity),
		ReduceOnly:   true,
	})
	if err != nil {
		log.Printf("Protection: CRITICAL: %s close %s %s failed: %v", trigger, pos.Symbol, pos.Side, err)
		return
	}
	m.state.InvalidatePositions(pos.Symbol)
	metrics.OrderPlaced("MARKET", "protection")
	metrics.ProtectionClose(trigger)

	fillPrice := result.ExecutedPrice
	if fillPrice <= 0 {
		fillPrice = pos.MarkPrice
	}
	realized := estimateRealized(pos, fillPrice)
	rec := &domain.TradeRecord{
		ID:              uuid.NewString(),
		Symbol:          pos.Symbol,
		Side:            closeSide,
		PositionSide:    pos.Side,
		Quantity:        pos.Quantity,
		Price:           fillPrice,
		QuoteAmount:     pos.Quantity * fillPrice / float64(max(pos.Leverage, 1)),
		Commission:      result.Commission,
		Status:          domain.TradeFilled,
		ExchangeOrderID: &result.OrderID,
		RealizedPnL:     &realized,
		Source:          domain.SourceSystem,
		IsOpen:          false,
		Reason:          trigger + ": " + detail,
		CreatedAt:       time.Now(),
	}
	if err := m.ledger.UpsertByOrderID(rec); err != nil {
		log.Printf("Protection: WARNING: ledger write for order %d: %v", result.OrderID, err)
	}

	m.cancelSiblings(set, 0)
	if err := m.sets.Deactivate(set.ID); err != nil {
		log.Printf("Protection: WARNING: deactivate set %s: %v", set.ID, err)
	}
	m.applyStreak(pos.Symbol, trigger)

	m.notifier.Notify(
		fmt.Sprintf("%s %s %s", trigger, pos.Side, pos.Symbol),
		fmt.Sprintf("%s, est. PnL %.2f USDT", detail, realized),
		map[string]string{"symbol": pos.Symbol, "side": pos.Side, "kind": "protection_close"},
	)
	log.Printf("Protection: ✅ %s closed %s %s at %.4f (%s)", trigger, pos.Side, pos.Symbol, fillPrice, detail)
}

// cancelSiblings cancels every resting order of the set except the one that
// just filled. Cancel failures are logged; the sweep catches leftovers.
func (m *ProtectionMonitor) cancelSiblings(set *domain.ProtectiveOrderSet, filledOrderID int64) {
	for _, id := range set.OrderIDs() {
		if id == filledOrderID {
			continue
		}
		if err := m.gateway.CancelOrder(set.Symbol, id); err != nil {
			log.Printf("Protection: WARNING: cancel order %d on %s: %v", id, set.Symbol, err)
		}
	}
}

func (m *ProtectionMonitor) applyStreak(symbol, trigger string) {
	switch trigger {
	case "STOP_LOSS":
		streak := m.state.RecordStopLoss(symbol, m.cfg.PauseThreshold, m.cfg.PauseDuration)
		if streak.Paused(time.Now()) {
			log.Printf("Protection: ⏸ %s paused until %s after %d stop losses",
				symbol, streak.PauseUntil.Format(time.RFC3339), streak.Count)
			m.notifier.Notify("Symbol paused",
				fmt.Sprintf("%s paused after %d consecutive stop losses", symbol, streak.Count),
				map[string]string{"symbol": symbol, "kind": "pause"})
		}
	case "TAKE_PROFIT", "TRAILING_STOP":
		m.state.ResetStreak(symbol)
	}
}

// sweep reconciles sets whose position vanished without the ledger hearing
// about it: a protective order filled while the push stream was down, or the
// operator closed the position by hand. It backfills an external close
// record and cancels whatever orders are still resting.
func (m *ProtectionMonitor) sweep() {
	active := m.sets.GetActive()
	if len(active) == 0 {
		return
	}
	positions, err := m.gateway.FetchPositions("")
	if err != nil {
		log.Printf("Protection: WARNING: sweep position fetch: %v", err)
		return
	}
	live := make(map[string]bool, len(positions))
	for _, p := range positions {
		live[p.Symbol+"|"+p.Side] = true
	}

	for _, set := range active {
		if live[set.Symbol+"|"+set.Side] {
			continue
		}
		open, stillOpen := m.ledger.LastOpen(set.Symbol, set.Side)
		if !stillOpen {
			// Already closed in the ledger; just tidy the set.
			m.cancelSiblings(set, 0)
			if err := m.sets.Deactivate(set.ID); err != nil {
				log.Printf("Protection: WARNING: deactivate stale set %s: %v", set.ID, err)
			}
			continue
		}

		log.Printf("Protection: ⚠️ %s %s closed outside local flow, backfilling", set.Symbol, set.Side)
		closeSide := "SELL"
		if set.Side == "SHORT" {
			closeSide = "BUY"
		}
		rec := &domain.TradeRecord{
			ID:           uuid.NewString(),
			Symbol:       set.Symbol,
			Side:         closeSide,
			PositionSide: set.Side,
			Quantity:     open.Quantity,
			Status:       domain.TradeFilled,
			Source:       domain.SourceExternal,
			IsOpen:       false,
			Reason:       "SWEEP_BACKFILL: position gone, close not observed",
			CreatedAt:    time.Now(),
		}
		if err := m.ledger.Insert(rec); err != nil {
			log.Printf("Protection: WARNING: backfill write %s %s: %v", set.Symbol, set.Side, err)
		}
		metrics.FillEvent("sweep_backfill")

		m.cancelSiblings(set, 0)
		if err := m.sets.Deactivate(set.ID); err != nil {
			log.Printf("Protection: WARNING: deactivate swept set %s: %v", set.ID, err)
		}
		m.state.InvalidatePositions(set.Symbol)
	}
}
