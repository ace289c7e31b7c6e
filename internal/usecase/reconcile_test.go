package usecase

import (
	"testing"
	"time"

	"trading-backend/internal/domain"
	"trading-backend/internal/repository"
)

func newTestReconciler(env *testEnv) *Reconciler {
	notifier := NewNotifier(nil, repository.NewTokenRepository())
	return NewReconciler(env.ledger, env.sets, env.protection, env.state, notifier)
}

func TestReconcilerHandlesProtectiveFill(t *testing.T) {
	env := newTestEnv(domain.DefaultConfig())
	rec := newTestReconciler(env)

	slOrder := int64(700)
	tpOrder := int64(701)
	set := &domain.ProtectiveOrderSet{
		ID: "set-r1", Symbol: "BTCUSDT", Side: "LONG", Quantity: 1,
		EntryPrice: 100, TPPct: 2.0, SLPct: 1.2, Leverage: 5, PeakPrice: 100,
		SLOrderID: &slOrder, TPOrderID: &tpOrder,
		IsActive: true, CreatedAt: time.Now().Add(-time.Hour),
	}
	if err := env.sets.Create(set); err != nil {
		t.Fatal(err)
	}

	rec.handle(domain.FillEvent{
		OrderID:      slOrder,
		Symbol:       "BTCUSDT",
		Side:         "SELL",
		PositionSide: "LONG",
		OrderType:    "STOP_MARKET",
		Quantity:     1,
		Price:        98.8,
		RealizedPnL:  -1.2,
		IsClose:      true,
		Time:         time.Now(),
	})

	stored, err := env.ledger.FindByOrderID(slOrder)
	if err != nil {
		t.Fatalf("expected a ledger record for the fill: %v", err)
	}
	if stored.RealizedPnL == nil || *stored.RealizedPnL != -1.2 {
		t.Fatalf("expected the venue's realized pnl, got %+v", stored.RealizedPnL)
	}
	if _, ok := env.sets.GetActiveBySymbolSide("BTCUSDT", "LONG"); ok {
		t.Fatal("set must be retired after its order filled")
	}
	if streak := env.state.Streak("BTCUSDT"); streak.Count != 1 {
		t.Fatalf("stop-loss fill must bump the streak, got %d", streak.Count)
	}

	// The sibling TP must be cancelled, the filled SL must not.
	env.gw.mu.Lock()
	defer env.gw.mu.Unlock()
	if len(env.gw.canceled) != 1 || env.gw.canceled[0] != tpOrder {
		t.Fatalf("expected only the sibling cancelled, got %v", env.gw.canceled)
	}
}

func TestReconcilerMergesKnownOrderFill(t *testing.T) {
	env := newTestEnv(domain.DefaultConfig())
	rec := newTestReconciler(env)

	orderID := int64(800)
	if err := env.ledger.Insert(&domain.TradeRecord{
		ID: "known", Symbol: "BTCUSDT", Side: "BUY", PositionSide: "LONG",
		Quantity: 1, Price: 100, QuoteAmount: 20,
		Status: domain.TradeFilled, ExchangeOrderID: &orderID,
		Source: domain.SourceSystem, IsOpen: true,
		Reason: "OPEN", CreatedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	rec.handle(domain.FillEvent{
		OrderID:      orderID,
		Symbol:       "BTCUSDT",
		Side:         "BUY",
		PositionSide: "LONG",
		OrderType:    "MARKET",
		Quantity:     1,
		Price:        100.2,
		Commission:   0.05,
		Time:         time.Now(),
	})

	stored, err := env.ledger.FindByOrderID(orderID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Commission != 0.05 {
		t.Fatalf("expected commission merged in, got %.4f", stored.Commission)
	}
	// No duplicate row.
	all := env.ledger.Query(domain.TradeFilter{Symbol: "BTCUSDT"})
	if len(all) != 1 {
		t.Fatalf("expected one merged record, got %d", len(all))
	}
}

func TestReconcilerRecordsExternalTrade(t *testing.T) {
	env := newTestEnv(domain.DefaultConfig())
	rec := newTestReconciler(env)

	rec.handle(domain.FillEvent{
		OrderID:      900,
		Symbol:       "ETHUSDT",
		Side:         "SELL",
		PositionSide: "SHORT",
		OrderType:    "MARKET",
		Quantity:     2,
		Price:        3000,
		Time:         time.Now(),
	})

	stored, err := env.ledger.FindByOrderID(900)
	if err != nil {
		t.Fatalf("external trade must be recorded: %v", err)
	}
	if stored.Source != domain.SourceExternal {
		t.Fatalf("expected external source, got %s", stored.Source)
	}
	if !stored.IsOpen {
		t.Fatal("non-reduce-only external fill opens exposure")
	}
}

func TestReconcilerDeduplicatesRepeatedEvent(t *testing.T) {
	env := newTestEnv(domain.DefaultConfig())
	rec := newTestReconciler(env)

	ev := domain.FillEvent{
		OrderID:      901,
		Symbol:       "ETHUSDT",
		Side:         "SELL",
		PositionSide: "SHORT",
		OrderType:    "MARKET",
		Quantity:     2,
		Price:        3000,
		Time:         time.Now(),
	}
	rec.handle(ev)
	rec.handle(ev)

	all := env.ledger.Query(domain.TradeFilter{Symbol: "ETHUSDT"})
	if len(all) != 1 {
		t.Fatalf("replayed event must not duplicate, got %d records", len(all))
	}
}
