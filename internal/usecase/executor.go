package usecase

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"trading-backend/internal/domain"
	"trading-backend/internal/metrics"
	"trading-backend/internal/repository"
)

// SignalExecutor turns trading intents into exchange orders. It owns the
// pre-trade policy checks, position sizing and the flip sequence; the risk
// gate supplies the account-level verdict.
type SignalExecutor struct {
	cfg        domain.Config
	gateway    domain.ExchangeGateway
	ledger     domain.TradeLedger
	state      *repository.StateCache
	gate       *RiskGate
	protection *ProtectionMonitor
	notifier   *Notifier
	vol        *VolatilityTracker

	wg sync.WaitGroup
}

func NewSignalExecutor(
	cfg domain.Config,
	gateway domain.ExchangeGateway,
	ledger domain.TradeLedger,
	state *repository.StateCache,
	gate *RiskGate,
	protection *ProtectionMonitor,
	notifier *Notifier,
	vol *VolatilityTracker,
) *SignalExecutor {
	return &SignalExecutor{
		cfg:        cfg,
		gateway:    gateway,
		ledger:     ledger,
		state:      state,
		gate:       gate,
		protection: protection,
		notifier:   notifier,
		vol:        vol,
	}
}

// Execute processes one intent synchronously and returns what happened.
func (e *SignalExecutor) Execute(intent *domain.TradingIntent) *domain.ExecutionOutcome {
	e.wg.Add(1)
	defer e.wg.Done()

	log.Printf("Executor: %s %s confidence=%.0f source=%s",
		intent.Direction, intent.Symbol, intent.Confidence, intent.SourceID)

	var outcome *domain.ExecutionOutcome
	if intent.Direction.IsOpen() {
		outcome = e.executeOpen(intent)
	} else {
		outcome = e.executeClose(intent)
	}

	metrics.IntentProcessed(string(intent.Direction), string(outcome.Status))
	switch outcome.Status {
	case domain.ExecutionSkipped:
		log.Printf("Executor: skipped %s %s: %s", intent.Direction, intent.Symbol, outcome.Reason)
		e.recordAudit(intent, domain.TradeSkipped, outcome.Reason)
	case domain.ExecutionFailed:
		log.Printf("Executor: ❌ failed %s %s: %s", intent.Direction, intent.Symbol, outcome.Reason)
		e.recordAudit(intent, domain.TradeFailed, outcome.Reason)
	}
	return outcome
}

// Wait blocks until in-flight executions finish or the grace period runs out.
func (e *SignalExecutor) Wait(grace time.Duration) {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		log.Printf("Executor: WARNING: shutdown grace expired with executions in flight")
	}
}

func (e *SignalExecutor) executeOpen(intent *domain.TradingIntent) *domain.ExecutionOutcome {
	now := time.Now()
	symbol := intent.Symbol
	side := intent.Direction.Side()

	if !e.cfg.Allowed(symbol) {
		return skipped(fmt.Sprintf("symbol %s not on allow-list", symbol))
	}

	// Gates that need nothing from the venue run first, so a doomed intent
	// makes zero exchange calls.
	threshold := e.effectiveMinConfidence(symbol)
	if intent.Confidence < threshold {
		return skipped(fmt.Sprintf("confidence %.0f below threshold %.0f", intent.Confidence, threshold))
	}

	if reason, blocked := e.cooldownBlocked(symbol, intent.Direction, side, now); blocked {
		return skipped(reason)
	}

	if streak := e.state.Streak(symbol); streak.Paused(now) {
		return skipped(fmt.Sprintf("stop-loss pause until %s after %d stops",
			streak.PauseUntil.Format(time.RFC3339), streak.Count))
	}

	dayStart := startOfDay(now)
	if e.cfg.MaxDailyTrades > 0 && e.ledger.OpenedCountSince(dayStart) >= e.cfg.MaxDailyTrades {
		return skipped(fmt.Sprintf("daily trade count reached %d", e.cfg.MaxDailyTrades))
	}

	balance, err := e.gateway.FetchBalance()
	if err != nil {
		return failed(fmt.Sprintf("balance fetch: %v", err))
	}

	notional := e.baseNotional(balance.AvailableBalance)
	decision := e.gate.Evaluate(&RiskContext{
		Intent:           intent,
		Equity:           balance.TotalBalance,
		ProposedNotional: notional,
		Now:              now,
	})

	confidence := intent.Confidence
	gateNote := ""
	switch decision.Action {
	case domain.RiskHold:
		metrics.RiskVerdict("HOLD")
		return skipped("risk hold: " + decision.Reason)
	case domain.RiskDowngrade:
		metrics.RiskVerdict("DOWNGRADE")
		confidence -= decision.ConfidenceReduction
		gateNote = decision.Reason
		log.Printf("Executor: %s confidence downgraded %.0f -> %.0f (%s)",
			symbol, intent.Confidence, confidence, decision.Reason)
		if confidence < threshold {
			return skipped(fmt.Sprintf("confidence %.0f below threshold %.0f", confidence, threshold))
		}
	default:
		metrics.RiskVerdict("PASS")
	}

	if e.cfg.MaxDailyNotional > 0 {
		spent := e.ledger.OpenedNotionalSince(dayStart)
		if spent+notional > e.cfg.MaxDailyNotional {
			return skipped(fmt.Sprintf("daily notional %.0f+%.0f exceeds cap %.0f",
				spent, notional, e.cfg.MaxDailyNotional))
		}
	}

	positions, err := e.positions(symbol)
	if err != nil {
		return failed(fmt.Sprintf("position fetch: %v", err))
	}

	var sameSide, opposing *domain.Position
	for i := range positions {
		switch positions[i].Side {
		case side:
			sameSide = &positions[i]
		default:
			opposing = &positions[i]
		}
	}

	if sameSide != nil {
		limit := e.positionCap(balance.TotalBalance)
		// Venue positions report leveraged notional; the cap is margin-based
		// like every other sizing number here.
		held := sameSide.Notional / float64(max(sameSide.Leverage, 1))
		if held+notional > limit {
			return skipped(fmt.Sprintf("%s %s exposure %.0f+%.0f exceeds cap %.0f",
				symbol, side, held, notional, limit))
		}
	}

	var closedRec *domain.TradeRecord
	if opposing != nil {
		if intent.Confidence < e.cfg.FlipConfidence {
			return skipped(fmt.Sprintf("opposing %s open, confidence %.0f below flip threshold %.0f",
				opposing.Side, intent.Confidence, e.cfg.FlipConfidence))
		}
		closedRec, err = e.closePosition(opposing, "FLIP to "+side)
		if err != nil {
			// Never open against a position the close failed to remove.
			return failed(fmt.Sprintf("flip close %s %s: %v", symbol, opposing.Side, err))
		}
	}

	rec, err := e.openPosition(intent, side, notional, confidence, gateNote, now)
	if err != nil && closedRec != nil {
		// Flip half-done: one retry, then accept flat and escalate.
		log.Printf("Executor: flip open failed, retrying once: %v", err)
		rec, err = e.openPosition(intent, side, notional, confidence, gateNote, now)
		if err != nil {
			log.Printf("Executor: CRITICAL: flip left %s flat after close: %v", symbol, err)
			e.notifier.Notify("Flip incomplete",
				fmt.Sprintf("%s closed %s but could not open %s: %v", symbol, opposing.Side, side, err),
				map[string]string{"symbol": symbol, "kind": "flip_incomplete"})
			return &domain.ExecutionOutcome{
				Status:       domain.ExecutionFailed,
				Reason:       fmt.Sprintf("flip open after retry: %v", err),
				ClosedRecord: closedRec,
			}
		}
	}
	if err != nil {
		return failed(fmt.Sprintf("order placement: %v", err))
	}

	return &domain.ExecutionOutcome{
		Status:       domain.ExecutionExecuted,
		Record:       rec,
		ClosedRecord: closedRec,
	}
}

func (e *SignalExecutor) executeClose(intent *domain.TradingIntent) *domain.ExecutionOutcome {
	symbol := intent.Symbol
	side := intent.Direction.Side()

	positions, err := e.positions(symbol)
	if err != nil {
		return failed(fmt.Sprintf("position fetch: %v", err))
	}
	var target *domain.Position
	for i := range positions {
		if positions[i].Side == side {
			target = &positions[i]
			break
		}
	}
	if target == nil {
		return skipped(fmt.Sprintf("no %s %s position to close", symbol, side))
	}

	// Minimum holding period, fail-open when the entry time is unknown.
	if open, ok := e.ledger.LastOpen(symbol, side); ok {
		if held := time.Since(open.CreatedAt); held < e.cfg.MinHold {
			return skipped(fmt.Sprintf("held %s, below minimum %s", held.Round(time.Second), e.cfg.MinHold))
		}
	}

	rec, err := e.closePosition(target, "SIGNAL_CLOSE")
	if err != nil {
		return failed(fmt.Sprintf("close order: %v", err))
	}
	return &domain.ExecutionOutcome{Status: domain.ExecutionExecuted, Record: rec}
}

// openPosition sets the account knobs, marks the cooldown, places the market
// order, records the fill and attaches protection. Cooldown is written before
// the order so a concurrent duplicate intent cannot slip in between.
func (e *SignalExecutor) openPosition(intent *domain.TradingIntent, side string, notional, confidence float64, gateNote string, now time.Time) (*domain.TradeRecord, error) {
	symbol := intent.Symbol

	price, err := e.gateway.MarkPrice(symbol)
	if err != nil || price <= 0 {
		return nil, fmt.Errorf("mark price %s: %w", symbol, err)
	}

	sized := notional * e.confidenceMultiplier(confidence) * e.streakMultiplier(symbol)
	qty := e.gateway.RoundQuantity(symbol, sized*float64(e.cfg.Leverage)/price)
	if qty <= 0 {
		return nil, fmt.Errorf("sized quantity for %s rounds to zero", symbol)
	}

	if err := e.gateway.SetLeverage(symbol, e.cfg.Leverage); err != nil {
		log.Printf("Executor: WARNING: set leverage %s: %v", symbol, err)
	}
	if err := e.gateway.SetMarginMode(symbol, e.cfg.MarginMode); err != nil {
		log.Printf("Executor: WARNING: set margin mode %s: %v", symbol, err)
	}

	e.state.SetCooldown(symbol, intent.Direction, now)

	orderSide := "BUY"
	if side == "SHORT" {
		orderSide = "SELL"
	}
	result, err := e.gateway.PlaceOrder(&domain.OrderRequest{
		Symbol:       symbol,
		Side:         orderSide,
		PositionSide: side,
		Type:         domain.OrderMarket,
		Quantity:     qty,
	})
	if err != nil {
		return nil, err
	}
	e.state.InvalidatePositions(symbol)
	metrics.OrderPlaced("MARKET", "open")

	fillPrice := result.ExecutedPrice
	if fillPrice <= 0 {
		fillPrice = price
	}
	fillQty := result.ExecutedQty
	if fillQty <= 0 {
		fillQty = qty
	}

	rec := &domain.TradeRecord{
		ID:              uuid.NewString(),
		Symbol:          symbol,
		Side:            orderSide,
		PositionSide:    side,
		Quantity:        fillQty,
		Price:           fillPrice,
		QuoteAmount:     fillQty * fillPrice / float64(e.cfg.Leverage),
		Commission:      result.Commission,
		Status:          domain.TradeFilled,
		ExchangeOrderID: &result.OrderID,
		Source:          domain.SourceSystem,
		IsOpen:          true,
		Reason:          strings.TrimSpace("OPEN " + gateNote),
		CreatedAt:       now,
	}
	if err := e.ledger.UpsertByOrderID(rec); err != nil {
		log.Printf("Executor: WARNING: ledger write for order %d: %v", result.OrderID, err)
	}

	if e.protection != nil {
		e.protection.Attach(symbol, side, fillQty, fillPrice)
	}

	e.notifier.Notify(
		fmt.Sprintf("Opened %s %s", side, symbol),
		fmt.Sprintf("qty %.6f at %.4f, confidence %.0f", fillQty, fillPrice, confidence),
		map[string]string{"symbol": symbol, "side": side, "kind": "open"},
	)
	log.Printf("Executor: ✅ opened %s %s qty=%.6f price=%.4f order=%d",
		side, symbol, fillQty, fillPrice, result.OrderID)
	return rec, nil
}

// closePosition market-closes an existing position reduce-only, records the
// close and tears down its protective set. Bookkeeping trouble after the
// order filled is logged, never surfaced.
func (e *SignalExecutor) closePosition(pos *domain.Position, reason string) (*domain.TradeRecord, error) {
	orderSide := "SELL"
	if pos.Side == "SHORT" {
		orderSide = "BUY"
	}

	e.state.SetCooldown(pos.Symbol, closeDirection(pos.Side), time.Now())

	result, err := e.gateway.PlaceOrder(&domain.OrderRequest{
		Symbol:       pos.Symbol,
		Side:         orderSide,
		PositionSide: pos.Side,
		Type:         domain.OrderMarket,
		Quantity:     e.gateway.RoundQuantity(pos.Symbol, pos.Quantity),
		ReduceOnly:   true,
	})
	if err != nil {
		return nil, err
	}
	e.state.InvalidatePositions(pos.Symbol)
	metrics.OrderPlaced("MARKET", "close")

	fillPrice := result.ExecutedPrice
	if fillPrice <= 0 {
		fillPrice = pos.MarkPrice
	}
	realized := estimateRealized(pos, fillPrice)

	rec := &domain.TradeRecord{
		ID:              uuid.NewString(),
		Symbol:          pos.Symbol,
		Side:            orderSide,
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
		Reason:          reason,
		CreatedAt:       time.Now(),
	}
	if err := e.ledger.UpsertByOrderID(rec); err != nil {
		log.Printf("Executor: WARNING: ledger write for order %d: %v", result.OrderID, err)
	}

	if e.protection != nil {
		e.protection.Detach(pos.Symbol, pos.Side)
	}

	e.notifier.Notify(
		fmt.Sprintf("Closed %s %s", pos.Side, pos.Symbol),
		fmt.Sprintf("%s, est. PnL %.2f USDT", reason, realized),
		map[string]string{"symbol": pos.Symbol, "side": pos.Side, "kind": "close"},
	)
	log.Printf("Executor: ✅ closed %s %s qty=%.6f price=%.4f reason=%s",
		pos.Side, pos.Symbol, pos.Quantity, fillPrice, reason)
	return rec, nil
}

// EmergencyStopAll market-closes every open position. Used when daily losses
// blow through the hard multiple of the drawdown ceiling.
func (e *SignalExecutor) EmergencyStopAll(reason string) {
	log.Printf("Executor: 🚨 EMERGENCY STOP: %s", reason)
	positions, err := e.gateway.FetchPositions("")
	if err != nil {
		log.Printf("Executor: CRITICAL: emergency stop cannot list positions: %v", err)
		return
	}
	for i := range positions {
		if _, err := e.closePosition(&positions[i], "EMERGENCY_STOP: "+reason); err != nil {
			log.Printf("Executor: CRITICAL: emergency close %s %s: %v",
				positions[i].Symbol, positions[i].Side, err)
		}
	}
	e.notifier.Notify("Emergency stop", reason, map[string]string{"kind": "emergency_stop"})
}

// CheckEmergencyStop fires EmergencyStopAll once losses pass the hard line.
func (e *SignalExecutor) CheckEmergencyStop() {
	balance, err := e.gateway.FetchBalance()
	if err != nil || balance.TotalBalance <= 0 {
		return
	}
	pnl := e.ledger.RealizedPnLSince(startOfDay(time.Now()))
	if pnl >= 0 {
		return
	}
	lossPct := -pnl / balance.TotalBalance * 100
	hardLine := e.cfg.DrawdownCeilingPct * e.cfg.EmergencyStopMultiple
	if lossPct >= hardLine {
		e.EmergencyStopAll(fmt.Sprintf("daily loss %.2f%% past hard line %.2f%%", lossPct, hardLine))
	}
}

// positions serves from the short-lived cache, falling through to the venue.
func (e *SignalExecutor) positions(symbol string) ([]domain.Position, error) {
	if cached, ok := e.state.CachedPositions(symbol); ok {
		return cached, nil
	}
	positions, err := e.gateway.FetchPositions(symbol)
	if err != nil {
		return nil, err
	}
	e.state.StorePositions(symbol, positions)
	return positions, nil
}

func (e *SignalExecutor) baseNotional(available float64) float64 {
	notional := available * e.cfg.BalanceUtilization
	if notional > e.cfg.FixedNotionalCap {
		notional = e.cfg.FixedNotionalCap
	}
	return notional
}

func (e *SignalExecutor) positionCap(equity float64) float64 {
	limit := e.cfg.MaxPositionNotional
	if pct := equity * e.cfg.MaxPositionEquityPct / 100; pct > limit {
		limit = pct
	}
	return limit
}

// confidenceMultiplier steps position size with conviction.
func (e *SignalExecutor) confidenceMultiplier(confidence float64) float64 {
	switch {
	case confidence < 70:
		return 0.5
	case confidence < 80:
		return 0.75
	case confidence < 90:
		return 1.0
	default:
		return 1.2
	}
}

func (e *SignalExecutor) streakMultiplier(symbol string) float64 {
	if e.state.Streak(symbol).Count >= 2 {
		return 0.7
	}
	return 1.0
}

// effectiveMinConfidence shifts the tier threshold by recent accuracy: poor
// outcomes demand more conviction, good ones relax it slightly.
func (e *SignalExecutor) effectiveMinConfidence(symbol string) float64 {
	threshold := e.cfg.MinConfidence(symbol)
	recent := e.ledger.RecentClosed(symbol, "", 10)
	if len(recent) < 5 {
		return threshold
	}
	wins := 0
	for _, rec := range recent {
		if rec.RealizedPnL != nil && *rec.RealizedPnL > 0 {
			wins++
		}
	}
	accuracy := float64(wins) / float64(len(recent))
	switch {
	case accuracy < 0.4:
		return threshold + 10
	case accuracy > 0.6:
		return threshold - 5
	default:
		return threshold
	}
}

// cooldownBlocked applies the per-(symbol, direction) cooldown, stretched
// during volatility spikes and after a stop-loss exit on the same side.
func (e *SignalExecutor) cooldownBlocked(symbol string, direction domain.Direction, side string, now time.Time) (string, bool) {
	last, ok := e.state.LastAction(symbol, direction)
	if !ok {
		return "", false
	}

	window := e.cfg.Cooldown
	if ratio, full := e.vol.SpikeRatio(symbol); full && ratio >= e.cfg.VolSpikeMultiplier {
		window = time.Duration(float64(window) * e.cfg.VolatilityCooldownFactor)
	}
	if closed := e.ledger.RecentClosed(symbol, side, 1); len(closed) == 1 &&
		strings.Contains(closed[0].Reason, "STOP_LOSS") {
		window = time.Duration(float64(window) * e.cfg.StopLossReentryFactor)
	}

	if elapsed := now.Sub(last); elapsed < window {
		return fmt.Sprintf("cooldown: %s since last %s %s, window %s",
			elapsed.Round(time.Second), direction, symbol, window), true
	}
	return "", false
}

// recordAudit writes a skipped or failed row so every attempt survives
// restarts, not just the ones that reached the venue.
func (e *SignalExecutor) recordAudit(intent *domain.TradingIntent, status domain.TradeStatus, reason string) {
	rec := &domain.TradeRecord{
		ID:           uuid.NewString(),
		Symbol:       intent.Symbol,
		Side:         sideToOrderSide(intent.Direction),
		PositionSide: intent.Direction.Side(),
		Status:       status,
		Source:       domain.SourceSystem,
		IsOpen:       intent.Direction.IsOpen(),
		Reason:       reason,
		CreatedAt:    time.Now(),
	}
	if err := e.ledger.Insert(rec); err != nil {
		log.Printf("Executor: WARNING: audit write: %v", err)
	}
}

func sideToOrderSide(d domain.Direction) string {
	switch d {
	case domain.OpenLong, domain.CloseShort:
		return "BUY"
	default:
		return "SELL"
	}
}

func closeDirection(positionSide string) domain.Direction {
	if positionSide == "LONG" {
		return domain.CloseLong
	}
	return domain.CloseShort
}

func estimateRealized(pos *domain.Position, fillPrice float64) float64 {
	diff := fillPrice - pos.EntryPrice
	if pos.Side == "SHORT" {
		diff = -diff
	}
	return diff * pos.Quantity
}

func skipped(reason string) *domain.ExecutionOutcome {
	return &domain.ExecutionOutcome{Status: domain.ExecutionSkipped, Reason: reason}
}

func failed(reason string) *domain.ExecutionOutcome {
	return &domain.ExecutionOutcome{Status: domain.ExecutionFailed, Reason: reason}
}
