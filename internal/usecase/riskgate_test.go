package usecase

import (
	"testing"
	"time"

	"trading-backend/internal/domain"
	"trading-backend/internal/repository"
)

func riskCtx(intent *domain.TradingIntent, equity, notional float64) *RiskContext {
	return &RiskContext{
		Intent:           intent,
		Equity:           equity,
		ProposedNotional: notional,
		Now:              time.Now(),
	}
}

func openLongIntent(symbol string, confidence float64) *domain.TradingIntent {
	return &domain.TradingIntent{
		Symbol:     symbol,
		Direction:  domain.OpenLong,
		Confidence: confidence,
		CreatedAt:  time.Now(),
	}
}

func TestRiskGatePassesOnCleanSlate(t *testing.T) {
	env := newTestEnv(domain.DefaultConfig())

	d := env.gate.Evaluate(riskCtx(openLongIntent("BTCUSDT", 80), 1000, 100))
	if d.Action != domain.RiskPass {
		t.Fatalf("expected PASS, got %s (%s)", d.Action, d.Reason)
	}
}

func TestDrawdownCeilingHolds(t *testing.T) {
	env := newTestEnv(domain.DefaultConfig())

	// 6% of 1000 equity lost today, ceiling is 5%.
	fillClosed(env.ledger, "BTCUSDT", "LONG", -60)

	d := env.gate.Evaluate(riskCtx(openLongIntent("BTCUSDT", 80), 1000, 100))
	if d.Action != domain.RiskHold {
		t.Fatalf("expected HOLD, got %s (%s)", d.Action, d.Reason)
	}
}

func TestDrawdownBelowCeilingPasses(t *testing.T) {
	env := newTestEnv(domain.DefaultConfig())

	fillClosed(env.ledger, "BTCUSDT", "LONG", -30)

	d := env.gate.Evaluate(riskCtx(openLongIntent("BTCUSDT", 80), 1000, 100))
	if d.Action != domain.RiskPass {
		t.Fatalf("expected PASS, got %s (%s)", d.Action, d.Reason)
	}
}

func TestConsecutiveIncorrectHolds(t *testing.T) {
	cfg := domain.DefaultConfig()
	env := newTestEnv(cfg)

	for i := 0; i < cfg.ConsecutiveIncorrectN; i++ {
		fillClosed(env.ledger, "ETHUSDT", "SHORT", -1)
	}

	d := env.gate.Evaluate(riskCtx(openLongIntent("BTCUSDT", 90), 10000, 100))
	if d.Action != domain.RiskHold {
		t.Fatalf("expected HOLD after %d losses, got %s (%s)",
			cfg.ConsecutiveIncorrectN, d.Action, d.Reason)
	}
}

func TestConsecutiveIncorrectBrokenByWin(t *testing.T) {
	cfg := domain.DefaultConfig()
	env := newTestEnv(cfg)

	for i := 0; i < cfg.ConsecutiveIncorrectN-1; i++ {
		fillClosed(env.ledger, "ETHUSDT", "SHORT", -1)
	}
	fillClosed(env.ledger, "ETHUSDT", "SHORT", 5)

	d := env.gate.Evaluate(riskCtx(openLongIntent("BTCUSDT", 90), 10000, 100))
	if d.Action != domain.RiskPass {
		t.Fatalf("expected PASS, got %s (%s)", d.Action, d.Reason)
	}
}

func TestVolatilitySpikeDowngrades(t *testing.T) {
	cfg := domain.DefaultConfig()
	cfg.VolWindow = 5
	env := newTestEnv(cfg)

	for i := 0; i < 4; i++ {
		env.vol.Add("BTCUSDT", 1.0)
	}
	env.vol.Add("BTCUSDT", 5.0) // 5x the mean of the rest

	d := env.gate.Evaluate(riskCtx(openLongIntent("BTCUSDT", 90), 10000, 100))
	if d.Action != domain.RiskDowngrade {
		t.Fatalf("expected DOWNGRADE, got %s (%s)", d.Action, d.Reason)
	}
	if d.ConfidenceReduction != cfg.VolDowngrade {
		t.Fatalf("expected reduction %.0f, got %.0f", cfg.VolDowngrade, d.ConfidenceReduction)
	}
}

func TestVolatilityWarmupNeverDowngrades(t *testing.T) {
	cfg := domain.DefaultConfig()
	cfg.VolWindow = 10
	env := newTestEnv(cfg)

	// Window not full yet: spike-looking samples must not trigger anything.
	env.vol.Add("BTCUSDT", 1.0)
	env.vol.Add("BTCUSDT", 50.0)

	d := env.gate.Evaluate(riskCtx(openLongIntent("BTCUSDT", 90), 10000, 100))
	if d.Action != domain.RiskPass {
		t.Fatalf("expected PASS during warm-up, got %s (%s)", d.Action, d.Reason)
	}
}

func TestCorrelatedExposureDowngrades(t *testing.T) {
	cfg := domain.DefaultConfig()
	env := newTestEnv(cfg)

	// ETH already long with a large notional; BTC long would be the second
	// same-direction cluster member over the equity share.
	open := &domain.TradeRecord{
		ID:           "eth-open",
		Symbol:       "ETHUSDT",
		Side:         "BUY",
		PositionSide: "LONG",
		Quantity:     1,
		Price:        100,
		QuoteAmount:  350,
		Status:       domain.TradeFilled,
		Source:       domain.SourceSystem,
		IsOpen:       true,
		CreatedAt:    time.Now(),
	}
	if err := env.ledger.Insert(open); err != nil {
		t.Fatal(err)
	}

	// Equity 1000, limit 40% = 400; 350 existing + 100 proposed = 450.
	d := env.gate.Evaluate(riskCtx(openLongIntent("BTCUSDT", 90), 1000, 100))
	if d.Action != domain.RiskDowngrade {
		t.Fatalf("expected DOWNGRADE, got %s (%s)", d.Action, d.Reason)
	}
}

func TestCorrelatedExposureOppositeDirectionPasses(t *testing.T) {
	cfg := domain.DefaultConfig()
	env := newTestEnv(cfg)

	open := &domain.TradeRecord{
		ID:           "eth-short",
		Symbol:       "ETHUSDT",
		Side:         "SELL",
		PositionSide: "SHORT",
		Quantity:     1,
		Price:        100,
		QuoteAmount:  350,
		Status:       domain.TradeFilled,
		Source:       domain.SourceSystem,
		IsOpen:       true,
		CreatedAt:    time.Now(),
	}
	if err := env.ledger.Insert(open); err != nil {
		t.Fatal(err)
	}

	d := env.gate.Evaluate(riskCtx(openLongIntent("BTCUSDT", 90), 1000, 100))
	if d.Action != domain.RiskPass {
		t.Fatalf("expected PASS for opposite-direction cluster, got %s (%s)", d.Action, d.Reason)
	}
}

func TestLossStreakTiers(t *testing.T) {
	tests := []struct {
		name       string
		losses     int
		wantAction domain.RiskAction
	}{
		{"below caution", 1, domain.RiskPass},
		{"at caution", 2, domain.RiskDowngrade},
		{"between", 3, domain.RiskDowngrade},
		{"at halt", 5, domain.RiskHold},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := domain.DefaultConfig()
			cfg.ConsecutiveIncorrectN = 100 // keep the global breaker out of the way
			env := newTestEnv(cfg)

			for i := 0; i < tt.losses; i++ {
				fillClosed(env.ledger, "BTCUSDT", "LONG", -1)
			}

			d := env.gate.Evaluate(riskCtx(openLongIntent("BTCUSDT", 90), 100000, 100))
			if d.Action != tt.wantAction {
				t.Fatalf("losses=%d: expected %s, got %s (%s)",
					tt.losses, tt.wantAction, d.Action, d.Reason)
			}
		})
	}
}

func TestLossStreakReductionGrows(t *testing.T) {
	cfg := domain.DefaultConfig()
	cfg.ConsecutiveIncorrectN = 100
	env := newTestEnv(cfg)

	// 3 losses: one step past caution, reduction = 2 * step.
	for i := 0; i < 3; i++ {
		fillClosed(env.ledger, "BTCUSDT", "LONG", -1)
	}

	d := env.gate.Evaluate(riskCtx(openLongIntent("BTCUSDT", 90), 100000, 100))
	if d.Action != domain.RiskDowngrade {
		t.Fatalf("expected DOWNGRADE, got %s (%s)", d.Action, d.Reason)
	}
	want := 2 * cfg.LossStreakStep
	if d.ConfidenceReduction != want {
		t.Fatalf("expected reduction %.0f, got %.0f", want, d.ConfidenceReduction)
	}
}

func TestDowngradesAccumulateCapped(t *testing.T) {
	cfg := domain.DefaultConfig()
	cfg.ConsecutiveIncorrectN = 100
	cfg.VolWindow = 5
	cfg.DowngradeCap = 20
	env := newTestEnv(cfg)

	// Volatility spike plus a loss streak: reductions sum but never pass
	// the cap.
	for i := 0; i < 4; i++ {
		env.vol.Add("BTCUSDT", 1.0)
	}
	env.vol.Add("BTCUSDT", 5.0)
	for i := 0; i < 3; i++ {
		fillClosed(env.ledger, "BTCUSDT", "LONG", -1)
	}

	d := env.gate.Evaluate(riskCtx(openLongIntent("BTCUSDT", 90), 100000, 100))
	if d.Action != domain.RiskDowngrade {
		t.Fatalf("expected DOWNGRADE, got %s (%s)", d.Action, d.Reason)
	}
	if d.ConfidenceReduction != cfg.DowngradeCap {
		t.Fatalf("expected capped reduction %.0f, got %.0f", cfg.DowngradeCap, d.ConfidenceReduction)
	}
}

func TestBrokenCheckDefaultsToPass(t *testing.T) {
	cfg := domain.DefaultConfig()
	gate := NewRiskGate(cfg, repository.NewInMemoryTradeLedger(), NewVolatilityTracker(cfg.VolWindow))
	gate.checks = append(gate.checks, panickyCheck{})

	d := gate.Evaluate(riskCtx(openLongIntent("BTCUSDT", 90), 1000, 100))
	if d.Action != domain.RiskPass {
		t.Fatalf("expected PASS when one check panics, got %s (%s)", d.Action, d.Reason)
	}
}

type panickyCheck struct{}

func (panickyCheck) Name() string { return "panicky" }
func (panickyCheck) Check(*RiskContext) domain.RiskDecision {
	panic("boom")
}
